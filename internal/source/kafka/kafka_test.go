package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/featureboard/internal/transcript"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		msg       kafka.Message
		wantID    string
		wantText  string
		wantFinal bool
		wantErr   bool
	}{
		{
			name:      "final",
			msg:       kafka.Message{Value: []byte(`{"eventType":"interaction.transcript.final","interactionId":"call-1","text":"we need sso","timestamp":1700000000000,"confidence":0.93}`)},
			wantID:    "call-1",
			wantText:  "we need sso",
			wantFinal: true,
		},
		{
			name:     "partial",
			msg:      kafka.Message{Value: []byte(`{"eventType":"interaction.transcript.partial","interactionId":"call-1","text":"we ne"}`)},
			wantID:   "call-1",
			wantText: "we ne",
		},
		{
			name:      "short type and key fallback",
			msg:       kafka.Message{Key: []byte("call-9"), Value: []byte(`{"eventType":"FINAL","text":"billing"}`)},
			wantID:    "call-9",
			wantText:  "billing",
			wantFinal: true,
		},
		{
			name:    "unknown type",
			msg:     kafka.Message{Value: []byte(`{"eventType":"interaction.started","interactionId":"call-1"}`)},
			wantErr: true,
		},
		{
			name:    "missing id",
			msg:     kafka.Message{Value: []byte(`{"eventType":"final","text":"x"}`)},
			wantErr: true,
		},
		{
			name:    "not json",
			msg:     kafka.Message{Value: []byte(`hello`)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, ev, err := Decode(tt.msg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantText, ev.Text)
			assert.Equal(t, tt.wantFinal, ev.IsFinal)
		})
	}
}

func TestDecode_Timestamp(t *testing.T) {
	t.Parallel()

	_, ev, err := Decode(kafka.Message{Value: []byte(`{"eventType":"final","interactionId":"a","text":"x","timestamp":1700000000000}`)})
	require.NoError(t, err)
	assert.True(t, ev.At.Equal(time.UnixMilli(1700000000000)))

	_, _, err = Decode(kafka.Message{Value: []byte(`{"eventType":"bogus"}`)})
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type delivery struct {
	id string
	ev transcript.Event
}

type recordingHandler struct {
	mu  sync.Mutex
	got []delivery
	err error
}

func (h *recordingHandler) Deliver(id string, ev transcript.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, delivery{id, ev})
	return h.err
}

func (h *recordingHandler) deliveries() []delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]delivery(nil), h.got...)
}

func TestConsumer_DeliversAndCommits(t *testing.T) {
	t.Parallel()

	r := &fakeReader{
		fetchErrs: []error{errors.New("broker not available")},
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte(`{"eventType":"interaction.transcript.partial","interactionId":"call-1","text":"users sh"}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 3, Value: []byte(`{"eventType":"interaction.transcript.final","interactionId":"call-1","text":"users should sign in with google"}`)},
		},
	}
	h := &recordingHandler{}
	c := NewConsumer(r, h)
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, r.commits(), "malformed messages are committed too")
	got := h.deliveries()
	require.Len(t, got, 2)
	assert.Equal(t, "call-1", got[0].id)
	assert.False(t, got[0].ev.IsFinal)
	assert.True(t, got[1].ev.IsFinal)
	assert.Equal(t, "users should sign in with google", got[1].ev.Text)

	r.mu.Lock()
	assert.True(t, r.closed)
	r.mu.Unlock()
}

func TestConsumer_HandlerErrorStillCommits(t *testing.T) {
	t.Parallel()

	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 7, Value: []byte(`{"eventType":"final","interactionId":"gone","text":"late"}`)},
	}}
	h := &recordingHandler{err: errors.New("session stopped")}
	c := NewConsumer(r, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Len(t, h.deliveries(), 1)
}
