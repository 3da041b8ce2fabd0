// Package transcript holds the live speech transcript between analysis
// passes.
//
// Upstream speech recognition delivers a stream of interim and final events.
// Only final, non-blank text enters the [Buffer]; interim text is kept for
// display only. An analysis pass takes ownership of everything buffered so
// far with [Buffer.Claim], which drains the queue atomically. Segments that
// arrive while the pass runs queue up for the next one. A failed pass hands
// its batch back with [Buffer.Restore] so no speech is lost.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Segment is one final utterance from speech recognition. Segments are
// immutable once appended.
type Segment struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is a raw recognition result as delivered by the capture engine.
type Event struct {
	Text    string    `json:"text"`
	IsFinal bool      `json:"isFinal"`
	At      time.Time `json:"timestamp,omitzero"`
}

// Batch is a claimed run of segments handed to one analysis pass.
type Batch struct {
	Segments []Segment
}

// Text joins the batch's segments with single spaces.
func (b Batch) Text() string {
	return strings.Join(b.Raw(), " ")
}

// Raw returns the segment texts in order.
func (b Batch) Raw() []string {
	out := make([]string, len(b.Segments))
	for i, s := range b.Segments {
		out[i] = s.Text
	}
	return out
}

// Empty reports whether the batch holds no segments.
func (b Batch) Empty() bool { return len(b.Segments) == 0 }

// Buffer queues final segments for analysis and keeps the full session log.
//
// All methods are safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	pending []Segment
	log     []Segment
	interim string
	now     func() time.Time
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{now: time.Now}
}

// Accept filters a recognition event. Interim events replace the displayed
// interim text and are never analysed. Final events with non-blank text are
// appended and returned with ok set.
func (b *Buffer) Accept(ev Event) (Segment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !ev.IsFinal {
		b.interim = strings.TrimSpace(ev.Text)
		return Segment{}, false
	}
	b.interim = ""

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return Segment{}, false
	}
	at := ev.At
	if at.IsZero() {
		at = b.now()
	}
	seg := Segment{Text: text, Timestamp: at}
	b.appendLocked(seg)
	return seg, true
}

// Append queues seg for the next pass. Blank segments are ignored.
func (b *Buffer) Append(seg Segment) {
	if strings.TrimSpace(seg.Text) == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(seg)
}

func (b *Buffer) appendLocked(seg Segment) {
	b.pending = append(b.pending, seg)
	b.log = append(b.log, seg)
}

// Claim drains every pending segment into a batch. ok is false when nothing
// was pending.
func (b *Buffer) Claim() (batch Batch, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return Batch{}, false
	}
	batch = Batch{Segments: b.pending}
	b.pending = nil
	return batch, true
}

// Restore puts a failed batch back ahead of anything appended since it was
// claimed.
func (b *Buffer) Restore(batch Batch) {
	if batch.Empty() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]Segment, 0, len(batch.Segments)+len(b.pending))
	merged = append(merged, batch.Segments...)
	merged = append(merged, b.pending...)
	b.pending = merged
}

// Len returns the number of pending segments.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// PendingText returns the pending segments joined as a pass would see them.
func (b *Buffer) PendingText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Batch{Segments: b.pending}.Text()
}

// Interim returns the latest interim text, empty after a final event.
func (b *Buffer) Interim() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interim
}

// Transcript returns every final segment of the session joined by single
// spaces, regardless of whether it has been analysed.
func (b *Buffer) Transcript() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Batch{Segments: b.log}.Text()
}

// Segments returns a copy of the session log.
func (b *Buffer) Segments() []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Segment(nil), b.log...)
}
