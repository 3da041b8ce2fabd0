package graph

import (
	"time"

	"github.com/MrWong99/featureboard/internal/layout"
)

// Point is a canvas coordinate.
type Point = layout.Point

// Size is a node's width and height on the canvas.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TechnicalApproach lists implementation options discussed for a feature.
type TechnicalApproach struct {
	Options        []string `json:"options"`
	Considerations []string `json:"considerations"`
}

// ConversationEntry records one pass that touched a feature.
type ConversationEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Transcript string    `json:"transcript"`
	Insights   string    `json:"insights"`
}

// Feature is a named grouping of product requirements. It owns zero or more
// capabilities and accumulates context across passes.
type Feature struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	Color               string              `json:"color"`
	Centroid            Point               `json:"centroid"`
	Summary             string              `json:"summary"`
	UserValue           string              `json:"userValue"`
	KeyCapabilities     []string            `json:"keyCapabilities"`
	TechnicalApproach   *TechnicalApproach  `json:"technicalApproach,omitempty"`
	OpenQuestions       []string            `json:"openQuestions"`
	RelatedFeatures     []string            `json:"relatedFeatures"`
	ConversationHistory []ConversationEntry `json:"conversationHistory"`
	CapabilityIDs       []string            `json:"capabilityIds"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

// Capability is a single concrete requirement rendered as a canvas node. It
// always belongs to exactly one feature.
type Capability struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	FeatureID   string    `json:"featureId"`
	Position    Point     `json:"position"`
	Size        Size      `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (c *Capability) rect() layout.Rect {
	return layout.Rect{X: c.Position.X, Y: c.Position.Y, W: c.Size.Width, H: c.Size.Height}
}

// Details is the extracted, mergeable content of a feature.
type Details struct {
	Name              string
	Summary           string
	UserValue         string
	KeyCapabilities   []string
	TechnicalApproach *TechnicalApproach
	OpenQuestions     []string
	RelatedFeatures   []string
}

// NewCapability describes a capability to be created. Position is assigned
// by the store.
type NewCapability struct {
	Title       string
	Description string
}

// NewFeature is the input to [Store.CreateFeature].
type NewFeature struct {
	Details  Details
	Centroid Point

	// Color overrides the palette choice when non-empty.
	Color string

	// Transcript and Insights seed the conversation history.
	Transcript string
	Insights   string

	// Capabilities are created together with the feature.
	Capabilities []NewCapability
}

// Merge is the input to [Store.MergeFeature].
type Merge struct {
	Details    Details
	Transcript string
	Insights   string
}

// Snapshot is an immutable, versioned copy of the whole graph. Features and
// capabilities are in creation order.
type Snapshot struct {
	Version      uint64       `json:"version"`
	Features     []Feature    `json:"features"`
	Capabilities []Capability `json:"capabilities"`
}

// FeatureByID returns the feature with id from the snapshot.
func (s Snapshot) FeatureByID(id string) (Feature, bool) {
	for _, f := range s.Features {
		if f.ID == id {
			return f, true
		}
	}
	return Feature{}, false
}

// CapabilitiesOf returns the capabilities owned by featureID.
func (s Snapshot) CapabilitiesOf(featureID string) []Capability {
	var out []Capability
	for _, c := range s.Capabilities {
		if c.FeatureID == featureID {
			out = append(out, c)
		}
	}
	return out
}

func (f *Feature) clone() Feature {
	out := *f
	out.KeyCapabilities = cloneStrings(f.KeyCapabilities)
	out.OpenQuestions = cloneStrings(f.OpenQuestions)
	out.RelatedFeatures = cloneStrings(f.RelatedFeatures)
	out.CapabilityIDs = cloneStrings(f.CapabilityIDs)
	out.ConversationHistory = append([]ConversationEntry(nil), f.ConversationHistory...)
	if f.TechnicalApproach != nil {
		out.TechnicalApproach = &TechnicalApproach{
			Options:        cloneStrings(f.TechnicalApproach.Options),
			Considerations: cloneStrings(f.TechnicalApproach.Considerations),
		}
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
