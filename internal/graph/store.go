// Package graph owns the feature/capability graph built from a conversation.
//
// The [Store] is the single writer of that graph. The analysis pipeline and
// imperative UI commands mutate it only through its methods; readers take
// immutable [Snapshot] copies or subscribe to a stream of them. Every
// pipeline write (create with capabilities, merge with new capabilities, add
// one capability) is applied under one lock acquisition, so a failed pass
// never leaves a partially populated feature behind.
//
// Capability positions are assigned by the store through a [layout.Engine]
// while the lock is held, which keeps new nodes clear of every node on the
// canvas even when UI moves race with a pass.
package graph

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MrWong99/featureboard/internal/layout"
)

var (
	// ErrFeatureNotFound is returned when a feature id does not exist.
	ErrFeatureNotFound = errors.New("graph: feature not found")

	// ErrCapabilityNotFound is returned when a capability id does not exist.
	ErrCapabilityNotFound = errors.New("graph: capability not found")

	// ErrEmptyName is returned when a feature would be created or renamed to
	// an empty name.
	ErrEmptyName = errors.New("graph: name must not be empty")
)

// Option configures a [Store].
type Option func(*Store)

// WithLayout sets the engine used to position new capabilities.
func WithLayout(e *layout.Engine) Option {
	return func(s *Store) { s.layout = e }
}

// WithClock overrides time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEntropy overrides the ULID entropy source. Intended for tests.
func WithEntropy(r io.Reader) Option {
	return func(s *Store) { s.entropy = ulid.Monotonic(r, 0) }
}

// Store is the in-memory feature/capability graph. All methods are safe for
// concurrent use.
type Store struct {
	mu sync.RWMutex

	features     map[string]*Feature
	featureOrder []string
	caps         map[string]*Capability
	capOrder     []string
	version      uint64

	subs    map[int]chan Snapshot
	nextSub int

	layout  *layout.Engine
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		features: make(map[string]*Feature),
		caps:     make(map[string]*Capability),
		subs:     make(map[int]chan Snapshot),
		layout:   layout.New(layout.DefaultConfig()),
		now:      time.Now,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ─── Pipeline writes ────────────────────────────────────────────────────────

// CreateFeature inserts a new feature together with its initial
// capabilities, placed around in.Centroid. The conversation history is
// seeded with one entry when in.Transcript is non-empty.
func (s *Store) CreateFeature(in NewFeature) (Feature, []Capability, error) {
	name := strings.TrimSpace(in.Details.Name)
	if name == "" {
		return Feature{}, nil, ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	color := in.Color
	if color == "" {
		color = ColorFor(name, in.Details.Summary, len(s.featureOrder))
	}
	f := &Feature{
		ID:              s.newID(now),
		Name:            name,
		Color:           color,
		Centroid:        in.Centroid,
		Summary:         in.Details.Summary,
		UserValue:       in.Details.UserValue,
		KeyCapabilities: union(nil, in.Details.KeyCapabilities),
		OpenQuestions:   union(nil, in.Details.OpenQuestions),
		RelatedFeatures: union(nil, in.Details.RelatedFeatures),
		CapabilityIDs:   []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.Details.TechnicalApproach != nil {
		mergeDetails(f, Details{TechnicalApproach: in.Details.TechnicalApproach})
	}
	if in.Transcript != "" {
		appendHistory(f, now, in.Transcript, in.Insights)
	}

	s.features[f.ID] = f
	s.featureOrder = append(s.featureOrder, f.ID)
	created := s.addCapabilitiesLocked(f, in.Capabilities, now)

	s.commitLocked()
	return f.clone(), created, nil
}

// MergeFeature folds newly extracted details into an existing feature,
// appends a conversation entry and creates one capability for every
// extracted key capability that is not already known to the feature (see
// [NewCapabilityNames]). It returns the updated feature and the created
// capabilities.
func (s *Store) MergeFeature(id string, m Merge) (Feature, []Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.features[id]
	if !ok {
		return Feature{}, nil, fmt.Errorf("graph: merge %s: %w", id, ErrFeatureNotFound)
	}

	names := NewCapabilityNames(f.KeyCapabilities, s.titlesLocked(f), m.Details.KeyCapabilities)

	now := s.now()
	mergeDetails(f, m.Details)
	appendHistory(f, now, m.Transcript, m.Insights)
	f.UpdatedAt = now

	news := make([]NewCapability, len(names))
	for i, n := range names {
		news[i] = NewCapability{Title: n}
	}
	created := s.addCapabilitiesLocked(f, news, now)

	s.commitLocked()
	return f.clone(), created, nil
}

// AddCapability creates a single capability owned by featureID, adds its
// title to the feature's key capabilities and records the addition in the
// conversation history. It returns the updated feature with the capability.
func (s *Store) AddCapability(featureID string, c NewCapability, transcript, insights string) (Feature, Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.features[featureID]
	if !ok {
		return Feature{}, Capability{}, fmt.Errorf("graph: add capability to %s: %w", featureID, ErrFeatureNotFound)
	}

	now := s.now()
	created := s.addCapabilitiesLocked(f, []NewCapability{c}, now)
	if title := created[0].Title; title != "" {
		f.KeyCapabilities = union(f.KeyCapabilities, []string{title})
	}
	appendHistory(f, now, transcript, insights)
	f.UpdatedAt = now

	s.commitLocked()
	return f.clone(), created[0], nil
}

// addCapabilitiesLocked creates caps for f, placing them around f's centroid
// clear of f's other capabilities. Caller holds s.mu.
func (s *Store) addCapabilitiesLocked(f *Feature, caps []NewCapability, now time.Time) []Capability {
	if len(caps) == 0 {
		return []Capability{}
	}
	w, h := s.layout.Size()
	positions := s.layout.PlaceBatch(s.rectsLocked(f), f.Centroid, len(caps))

	out := make([]Capability, 0, len(caps))
	for i, nc := range caps {
		c := &Capability{
			ID:          s.newID(now),
			Title:       strings.TrimSpace(nc.Title),
			Description: nc.Description,
			FeatureID:   f.ID,
			Position:    positions[i],
			Size:        Size{Width: w, Height: h},
			CreatedAt:   now,
		}
		s.caps[c.ID] = c
		s.capOrder = append(s.capOrder, c.ID)
		f.CapabilityIDs = append(f.CapabilityIDs, c.ID)
		out = append(out, *c)
	}
	return out
}

// ─── UI commands ────────────────────────────────────────────────────────────

// RenameFeature sets a feature's display name.
func (s *Store) RenameFeature(id, name string) (Feature, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Feature{}, ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.features[id]
	if !ok {
		return Feature{}, fmt.Errorf("graph: rename %s: %w", id, ErrFeatureNotFound)
	}
	f.Name = name
	f.UpdatedAt = s.now()
	s.commitLocked()
	return f.clone(), nil
}

// MoveFeature shifts a feature's centroid and all of its capabilities by
// (dx, dy), as when a whole group is dragged.
func (s *Store) MoveFeature(id string, dx, dy float64) (Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.features[id]
	if !ok {
		return Feature{}, fmt.Errorf("graph: move %s: %w", id, ErrFeatureNotFound)
	}
	f.Centroid.X += dx
	f.Centroid.Y += dy
	for _, cid := range f.CapabilityIDs {
		if c, ok := s.caps[cid]; ok {
			c.Position.X += dx
			c.Position.Y += dy
		}
	}
	f.UpdatedAt = s.now()
	s.commitLocked()
	return f.clone(), nil
}

// DeleteFeature removes a feature and every capability it owns.
func (s *Store) DeleteFeature(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.features[id]
	if !ok {
		return fmt.Errorf("graph: delete %s: %w", id, ErrFeatureNotFound)
	}
	owned := make(map[string]struct{}, len(f.CapabilityIDs))
	for _, cid := range f.CapabilityIDs {
		owned[cid] = struct{}{}
		delete(s.caps, cid)
	}
	s.capOrder = removeIDs(s.capOrder, owned)
	delete(s.features, id)
	s.featureOrder = removeIDs(s.featureOrder, map[string]struct{}{id: {}})
	s.commitLocked()
	return nil
}

// CapabilityPatch holds the optional fields of a capability update.
type CapabilityPatch struct {
	Title       *string
	Description *string
	Position    *Point
}

// UpdateCapability applies p to a capability. A manual position is accepted
// as-is; the user owns placement after the initial layout.
func (s *Store) UpdateCapability(id string, p CapabilityPatch) (Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.caps[id]
	if !ok {
		return Capability{}, fmt.Errorf("graph: update capability %s: %w", id, ErrCapabilityNotFound)
	}
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return Capability{}, ErrEmptyName
		}
		c.Title = t
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Position != nil {
		c.Position = *p.Position
	}
	s.commitLocked()
	return *c, nil
}

// DeleteCapability removes a capability and its reference from the owning
// feature. The feature itself stays, even with zero capabilities left.
func (s *Store) DeleteCapability(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.caps[id]
	if !ok {
		return fmt.Errorf("graph: delete capability %s: %w", id, ErrCapabilityNotFound)
	}
	gone := map[string]struct{}{id: {}}
	if f, ok := s.features[c.FeatureID]; ok {
		f.CapabilityIDs = removeIDs(f.CapabilityIDs, gone)
		f.UpdatedAt = s.now()
	}
	delete(s.caps, id)
	s.capOrder = removeIDs(s.capOrder, gone)
	s.commitLocked()
	return nil
}

// Restore replaces the whole graph with snap, typically one loaded from a
// snapshot journal at startup. The version continues from snap.Version.
func (s *Store) Restore(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	features := make(map[string]*Feature, len(snap.Features))
	order := make([]string, 0, len(snap.Features))
	for i := range snap.Features {
		f := snap.Features[i].clone()
		features[f.ID] = &f
		order = append(order, f.ID)
	}
	caps := make(map[string]*Capability, len(snap.Capabilities))
	capOrder := make([]string, 0, len(snap.Capabilities))
	for i := range snap.Capabilities {
		c := snap.Capabilities[i]
		if _, ok := features[c.FeatureID]; !ok {
			return fmt.Errorf("graph: restore capability %s: owner %s: %w", c.ID, c.FeatureID, ErrFeatureNotFound)
		}
		caps[c.ID] = &c
		capOrder = append(capOrder, c.ID)
	}

	s.features, s.featureOrder = features, order
	s.caps, s.capOrder = caps, capOrder
	if snap.Version > s.version {
		s.version = snap.Version
	}
	s.commitLocked()
	return nil
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Snapshot returns a deep copy of the current graph.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Feature returns a copy of the feature with id.
func (s *Store) Feature(id string) (Feature, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.features[id]
	if !ok {
		return Feature{}, false
	}
	return f.clone(), true
}

// Capability returns a copy of the capability with id.
func (s *Store) Capability(id string) (Capability, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.caps[id]
	if !ok {
		return Capability{}, false
	}
	return *c, true
}

// Features returns copies of all features in creation order.
func (s *Store) Features() []Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Feature, 0, len(s.featureOrder))
	for _, id := range s.featureOrder {
		out = append(out, s.features[id].clone())
	}
	return out
}

// Subscribe returns a channel that receives a snapshot after every mutation,
// starting with the current state. Slow readers only ever see the latest
// snapshot. Call cancel to unsubscribe; it closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- s.snapshotLocked()
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// ─── internals ──────────────────────────────────────────────────────────────

func (s *Store) commitLocked() {
	s.version++
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		// Replace any unread snapshot with the latest one.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:      s.version,
		Features:     make([]Feature, 0, len(s.featureOrder)),
		Capabilities: make([]Capability, 0, len(s.capOrder)),
	}
	for _, id := range s.featureOrder {
		snap.Features = append(snap.Features, s.features[id].clone())
	}
	for _, id := range s.capOrder {
		snap.Capabilities = append(snap.Capabilities, *s.caps[id])
	}
	return snap
}

func (s *Store) rectsLocked(f *Feature) []layout.Rect {
	out := make([]layout.Rect, 0, len(f.CapabilityIDs))
	for _, id := range f.CapabilityIDs {
		if c, ok := s.caps[id]; ok {
			out = append(out, c.rect())
		}
	}
	return out
}

func (s *Store) titlesLocked(f *Feature) []string {
	out := make([]string, 0, len(f.CapabilityIDs))
	for _, id := range f.CapabilityIDs {
		if c, ok := s.caps[id]; ok {
			out = append(out, c.Title)
		}
	}
	return out
}

func (s *Store) newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

func removeIDs(ids []string, drop map[string]struct{}) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
