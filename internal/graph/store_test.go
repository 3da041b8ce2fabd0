package graph

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/featureboard/internal/layout"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore() *Store {
	return NewStore(WithClock(fixedClock()))
}

func TestCreateFeature_WithCapabilities(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	f, caps, err := s.CreateFeature(NewFeature{
		Details: Details{
			Name:            "User Authentication",
			Summary:         "Let users sign in",
			KeyCapabilities: []string{"Email login", "Password reset"},
		},
		Centroid:   Point{X: 200, Y: 200},
		Transcript: "we need login",
		Insights:   "auth requirement",
		Capabilities: []NewCapability{
			{Title: "Email login"},
			{Title: "Password reset"},
		},
	})
	require.NoError(t, err)
	require.Len(t, caps, 2)

	assert.NotEmpty(t, f.ID)
	assert.Equal(t, "#3b82f6", f.Color)
	assert.Equal(t, []string{caps[0].ID, caps[1].ID}, f.CapabilityIDs)
	require.Len(t, f.ConversationHistory, 1)
	assert.Equal(t, "we need login", f.ConversationHistory[0].Transcript)
	assert.Equal(t, "auth requirement", f.ConversationHistory[0].Insights)

	for _, c := range caps {
		assert.Equal(t, f.ID, c.FeatureID)
		assert.Equal(t, Size{Width: 288, Height: 160}, c.Size)
	}
	assert.False(t, layout.Overlaps(caps[0].rect(), caps[1].rect(), 24))
}

func TestCreateFeature_EmptyName(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	_, _, err := s.CreateFeature(NewFeature{Details: Details{Name: "  "}})
	require.ErrorIs(t, err, ErrEmptyName)
	assert.Empty(t, s.Snapshot().Features)
}

func TestCreateFeature_ZeroCapabilitiesPersists(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	f, caps, err := s.CreateFeature(NewFeature{Details: Details{Name: "Notes"}})
	require.NoError(t, err)
	assert.Empty(t, caps)
	assert.Empty(t, f.CapabilityIDs)
	assert.Len(t, s.Snapshot().Features, 1)
}

func TestMergeFeature_NonDestructive(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	f, _, err := s.CreateFeature(NewFeature{
		Details: Details{
			Name:              "Billing",
			Summary:           "Charge users",
			UserValue:         "Revenue",
			KeyCapabilities:   []string{"Monthly plan"},
			TechnicalApproach: &TechnicalApproach{Options: []string{"Stripe"}},
			OpenQuestions:     []string{"Trial length?"},
		},
		Transcript: "first",
	})
	require.NoError(t, err)

	merged, _, err := s.MergeFeature(f.ID, Merge{
		Details: Details{
			Name:            "Ignored Name",
			Summary:         "",
			UserValue:       "More revenue",
			KeyCapabilities: []string{"Monthly plan", "Annual plan"},
			OpenQuestions:   []string{"Trial length?", "trial length?"},
		},
		Transcript: "second",
		Insights:   "plans",
	})
	require.NoError(t, err)

	assert.Equal(t, "Billing", merged.Name, "merge never renames")
	assert.Equal(t, f.Color, merged.Color)
	assert.Equal(t, "Charge users", merged.Summary, "empty summary keeps old value")
	assert.Equal(t, "More revenue", merged.UserValue)
	require.NotNil(t, merged.TechnicalApproach, "absent approach keeps old value")
	assert.Equal(t, []string{"Stripe"}, merged.TechnicalApproach.Options)
	assert.Equal(t, []string{"Monthly plan", "Annual plan"}, merged.KeyCapabilities)
	// Exact-match dedupe is case-sensitive.
	assert.Equal(t, []string{"Trial length?", "trial length?"}, merged.OpenQuestions)

	require.Len(t, merged.ConversationHistory, 2)
	assert.Equal(t, "second", merged.ConversationHistory[1].Transcript)
	assert.Equal(t, "plans", merged.ConversationHistory[1].Insights)
}

func TestMergeFeature_ReplacesTechnicalApproachWholesale(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	f, _, err := s.CreateFeature(NewFeature{Details: Details{
		Name:              "Search",
		TechnicalApproach: &TechnicalApproach{Options: []string{"Postgres FTS"}, Considerations: []string{"cost"}},
	}})
	require.NoError(t, err)

	merged, _, err := s.MergeFeature(f.ID, Merge{Details: Details{
		TechnicalApproach: &TechnicalApproach{Options: []string{"Elasticsearch"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Elasticsearch"}, merged.TechnicalApproach.Options)
	assert.Empty(t, merged.TechnicalApproach.Considerations)
}

func TestMergeFeature_CreatesOnlyNewCapabilities(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	f, caps, err := s.CreateFeature(NewFeature{
		Details:      Details{Name: "Auth", KeyCapabilities: []string{"Google login"}},
		Capabilities: []NewCapability{{Title: "Google login"}, {Title: "Magic Link"}},
	})
	require.NoError(t, err)
	require.Len(t, caps, 2)

	merged, created, err := s.MergeFeature(f.ID, Merge{Details: Details{
		// "magic link" matches a node title case-insensitively, "Google login"
		// is already a key capability; only "Two-factor" is new.
		KeyCapabilities: []string{"Google login", "magic link", "Two-factor"},
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "Two-factor", created[0].Title)
	assert.Equal(t, append(f.CapabilityIDs, created[0].ID), merged.CapabilityIDs)

	// A second identical merge creates nothing.
	_, created, err = s.MergeFeature(f.ID, Merge{Details: Details{
		KeyCapabilities: []string{"Google login", "magic link", "Two-factor"},
	}})
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Len(t, s.Snapshot().Capabilities, 3)
}

func TestMergeFeature_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	_, _, err := s.MergeFeature("missing", Merge{})
	require.ErrorIs(t, err, ErrFeatureNotFound)
}

func TestAddCapability(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	f, _, err := s.CreateFeature(NewFeature{Details: Details{Name: "Export"}, Centroid: Point{X: 50, Y: 60}})
	require.NoError(t, err)

	updated, c, err := s.AddCapability(f.ID, NewCapability{Title: "PDF export", Description: "Download as PDF"}, "add pdf export", "capability")
	require.NoError(t, err)
	assert.Equal(t, f.ID, c.FeatureID)
	assert.Equal(t, Point{X: 50, Y: 60}, c.Position)
	assert.Equal(t, []string{"PDF export"}, updated.KeyCapabilities)

	got, ok := s.Feature(f.ID)
	require.True(t, ok)
	assert.Equal(t, updated, got)
	assert.Equal(t, []string{c.ID}, got.CapabilityIDs)
	require.Len(t, got.ConversationHistory, 1)
	assert.Equal(t, "add pdf export", got.ConversationHistory[0].Transcript)

	_, _, err = s.AddCapability(f.ID, NewCapability{Title: "PDF export"}, "pdf again", "capability")
	require.NoError(t, err)
	got, _ = s.Feature(f.ID)
	assert.Equal(t, []string{"PDF export"}, got.KeyCapabilities, "key capabilities stay a set")
	assert.Len(t, got.CapabilityIDs, 2)

	_, _, err = s.AddCapability("nope", NewCapability{Title: "x"}, "", "")
	require.ErrorIs(t, err, ErrFeatureNotFound)
}

func TestPlacement_OnlyAvoidsSiblings(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	centroid := Point{X: 400, Y: 300}
	_, aCaps, err := s.CreateFeature(NewFeature{
		Details:      Details{Name: "Search"},
		Centroid:     centroid,
		Capabilities: []NewCapability{{Title: "Full text"}},
	})
	require.NoError(t, err)
	b, bCaps, err := s.CreateFeature(NewFeature{
		Details:      Details{Name: "Filters"},
		Centroid:     centroid,
		Capabilities: []NewCapability{{Title: "By date"}},
	})
	require.NoError(t, err)

	assert.Equal(t, centroid, aCaps[0].Position)
	assert.Equal(t, centroid, bCaps[0].Position, "another feature's nodes are not obstacles")

	_, c, err := s.AddCapability(b.ID, NewCapability{Title: "By owner"}, "filter by owner", "capability")
	require.NoError(t, err)
	assert.False(t, layout.Overlaps(bCaps[0].rect(), c.rect(), 24))
}

func TestDeleteCapability_KeepsFeature(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	f, caps, err := s.CreateFeature(NewFeature{
		Details:      Details{Name: "Reports"},
		Capabilities: []NewCapability{{Title: "CSV"}},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCapability(caps[0].ID))
	got, ok := s.Feature(f.ID)
	require.True(t, ok)
	assert.Empty(t, got.CapabilityIDs)
	assert.Empty(t, s.Snapshot().Capabilities)

	require.ErrorIs(t, s.DeleteCapability(caps[0].ID), ErrCapabilityNotFound)
}

func TestDeleteFeature_RemovesOwnedCapabilities(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	a, _, err := s.CreateFeature(NewFeature{Details: Details{Name: "A"}, Capabilities: []NewCapability{{Title: "a1"}}})
	require.NoError(t, err)
	_, _, err = s.CreateFeature(NewFeature{Details: Details{Name: "B"}, Centroid: Point{X: 1000}, Capabilities: []NewCapability{{Title: "b1"}}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteFeature(a.ID))
	snap := s.Snapshot()
	require.Len(t, snap.Features, 1)
	require.Len(t, snap.Capabilities, 1)
	assert.Equal(t, "b1", snap.Capabilities[0].Title)

	require.True(t, errors.Is(s.DeleteFeature(a.ID), ErrFeatureNotFound))
}

func TestRenameAndMoveFeature(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	f, caps, err := s.CreateFeature(NewFeature{
		Details:      Details{Name: "Old"},
		Centroid:     Point{X: 100, Y: 100},
		Capabilities: []NewCapability{{Title: "one"}},
	})
	require.NoError(t, err)

	renamed, err := s.RenameFeature(f.ID, "New")
	require.NoError(t, err)
	assert.Equal(t, "New", renamed.Name)

	_, err = s.RenameFeature(f.ID, "")
	require.ErrorIs(t, err, ErrEmptyName)

	moved, err := s.MoveFeature(f.ID, 10, -20)
	require.NoError(t, err)
	assert.Equal(t, Point{X: 110, Y: 80}, moved.Centroid)
	c, ok := s.Capability(caps[0].ID)
	require.True(t, ok)
	assert.Equal(t, Point{X: caps[0].Position.X + 10, Y: caps[0].Position.Y - 20}, c.Position)
}

func TestUpdateCapability(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	_, caps, err := s.CreateFeature(NewFeature{Details: Details{Name: "F"}, Capabilities: []NewCapability{{Title: "t"}}})
	require.NoError(t, err)

	title := "Retitled"
	pos := Point{X: 900, Y: 900}
	c, err := s.UpdateCapability(caps[0].ID, CapabilityPatch{Title: &title, Position: &pos})
	require.NoError(t, err)
	assert.Equal(t, "Retitled", c.Title)
	assert.Equal(t, pos, c.Position)

	_, err = s.UpdateCapability("missing", CapabilityPatch{})
	require.ErrorIs(t, err, ErrCapabilityNotFound)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	f, _, err := s.CreateFeature(NewFeature{Details: Details{Name: "F", KeyCapabilities: []string{"x"}}})
	require.NoError(t, err)

	snap := s.Snapshot()
	snap.Features[0].KeyCapabilities[0] = "mutated"

	got, _ := s.Feature(f.ID)
	assert.Equal(t, []string{"x"}, got.KeyCapabilities)
}

func TestSubscribe_ReceivesLatest(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	ch, cancel := s.Subscribe()
	initial := <-ch
	assert.Empty(t, initial.Features)

	_, _, err := s.CreateFeature(NewFeature{Details: Details{Name: "One"}})
	require.NoError(t, err)
	_, _, err = s.CreateFeature(NewFeature{Details: Details{Name: "Two"}})
	require.NoError(t, err)

	// Only the latest snapshot is buffered.
	snap := <-ch
	assert.Len(t, snap.Features, 2)
	assert.Greater(t, snap.Version, initial.Version)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestRestore(t *testing.T) {
	t.Parallel()
	src := newTestStore()
	_, _, err := src.CreateFeature(NewFeature{Details: Details{Name: "F"}, Capabilities: []NewCapability{{Title: "c"}}})
	require.NoError(t, err)
	snap := src.Snapshot()

	dst := newTestStore()
	require.NoError(t, dst.Restore(snap))
	got := dst.Snapshot()
	assert.Equal(t, snap.Features, got.Features)
	assert.Equal(t, snap.Capabilities, got.Capabilities)
	assert.Greater(t, got.Version, snap.Version)

	bad := Snapshot{Capabilities: []Capability{{ID: "c", FeatureID: "ghost"}}}
	require.ErrorIs(t, dst.Restore(bad), ErrFeatureNotFound)
}

func TestConcurrentWrites(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	f, _, err := s.CreateFeature(NewFeature{Details: Details{Name: "Shared"}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.AddCapability(f.ID, NewCapability{Title: string(rune('a' + i))}, "t", "i")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap.Capabilities, 20)
	for i := range snap.Capabilities {
		for j := i + 1; j < len(snap.Capabilities); j++ {
			assert.False(t, layout.Overlaps(snap.Capabilities[i].rect(), snap.Capabilities[j].rect(), 24))
		}
	}
}
