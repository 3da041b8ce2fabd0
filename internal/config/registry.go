package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/featureboard/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned when a config entry names a provider
// nobody registered a factory for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory builds an LLM provider from its config entry.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// Registry maps provider names to factories. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]LLMFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{llm: make(map[string]LLMFactory)}
}

// RegisterLLM registers factory under name, replacing any earlier one.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// LLMNames returns the registered names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llm))
	for n := range r.llm {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// CreateLLM builds the provider entry names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// BuiltLLM is an instantiated provider entry.
type BuiltLLM struct {
	// Label identifies the provider in logs and breaker status.
	Label    string
	Entry    ProviderEntry
	Provider llm.Provider
}

// LLMSet holds every provider a [ProvidersConfig] describes. Primary is nil
// when no LLM is configured; Fast is nil when classification shares the
// primary tier.
type LLMSet struct {
	Primary   *BuiltLLM
	Fast      *BuiltLLM
	Fallbacks []BuiltLLM
}

// BuildLLMs instantiates the primary provider, its fallbacks and the fast
// tier. Fallback labels are "name#N" counting from 1; the fast tier is
// labelled "name/fast". Without a primary entry nothing is built.
func (r *Registry) BuildLLMs(pc ProvidersConfig) (LLMSet, error) {
	var set LLMSet
	if pc.LLM.Name == "" {
		return set, nil
	}

	p, err := r.CreateLLM(pc.LLM)
	if err != nil {
		return LLMSet{}, fmt.Errorf("providers.llm %q: %w", pc.LLM.Name, err)
	}
	set.Primary = &BuiltLLM{Label: pc.LLM.Name, Entry: pc.LLM, Provider: p}

	for i, e := range pc.LLMFallbacks {
		p, err := r.CreateLLM(e)
		if err != nil {
			return LLMSet{}, fmt.Errorf("providers.llm_fallbacks[%d] %q: %w", i, e.Name, err)
		}
		set.Fallbacks = append(set.Fallbacks, BuiltLLM{Label: fmt.Sprintf("%s#%d", e.Name, i+1), Entry: e, Provider: p})
	}

	if e := pc.LLMFast; e.Name != "" {
		p, err := r.CreateLLM(e)
		if err != nil {
			return LLMSet{}, fmt.Errorf("providers.llm_fast %q: %w", e.Name, err)
		}
		set.Fast = &BuiltLLM{Label: e.Name + "/fast", Entry: e, Provider: p}
	}
	return set, nil
}
