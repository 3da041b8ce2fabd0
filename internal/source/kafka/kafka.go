// Package kafka consumes speech-ingress transcript events from a Kafka topic
// and feeds them into transcript sessions.
//
// Each message carries one TranscriptPartial or TranscriptFinal JSON event.
// The interaction id becomes the session id; partial events only update the
// live interim text. Offsets are committed after the event is handed over,
// and malformed messages are logged and committed so they cannot block the
// partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MrWong99/featureboard/internal/transcript"
)

// ErrUnknownEventType is returned by [Decode] for events that are neither
// partial nor final transcripts.
var ErrUnknownEventType = errors.New("kafka: unknown event type")

// Event is the wire format published by the speech-ingress service. Partial
// events leave Confidence and AudioOffsetMs zero.
type Event struct {
	EventType     string  `json:"eventType"`
	InteractionID string  `json:"interactionId"`
	TenantID      string  `json:"tenantId"`
	Timestamp     int64   `json:"timestamp"`
	SegmentID     string  `json:"segmentId"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	AudioOffsetMs int64   `json:"audioOffsetMs"`
}

// Handler receives decoded events. A *session.Manager satisfies it.
type Handler interface {
	Deliver(sessionID string, ev transcript.Event) error
}

// MessageReader is the subset of *kafka.Reader used by [Consumer].
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures [NewReader].
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewReader returns a consumer-group reader for cfg.
func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

// Decode turns one Kafka message into a session id and a recognition event.
// The interaction id falls back to the message key.
func Decode(msg kafka.Message) (string, transcript.Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		return "", transcript.Event{}, fmt.Errorf("kafka: decode: %w", err)
	}

	var final bool
	switch t := strings.ToLower(e.EventType); {
	case t == "final" || strings.HasSuffix(t, ".final"):
		final = true
	case t == "partial" || strings.HasSuffix(t, ".partial"):
		final = false
	default:
		return "", transcript.Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}

	id := e.InteractionID
	if id == "" {
		id = string(msg.Key)
	}
	if id == "" {
		return "", transcript.Event{}, errors.New("kafka: decode: missing interaction id")
	}

	ev := transcript.Event{Text: e.Text, IsFinal: final}
	if e.Timestamp > 0 {
		ev.At = time.UnixMilli(e.Timestamp)
	}
	return id, ev, nil
}

// Consumer pumps messages from a reader into a handler.
type Consumer struct {
	reader  MessageReader
	handler Handler
	backoff time.Duration
}

// NewConsumer creates a [Consumer]. The consumer owns reader and closes it
// when Run returns.
func NewConsumer(reader MessageReader, handler Handler) *Consumer {
	return &Consumer{reader: reader, handler: handler, backoff: time.Second}
}

// Run consumes until ctx is cancelled, then closes the reader. It returns
// nil on cancellation. Fetch errors are retried after a short pause.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			slog.Warn("kafka reader close failed", "error", err)
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("kafka fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handle(msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("kafka commit failed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(msg kafka.Message) {
	id, ev, err := Decode(msg)
	if err != nil {
		slog.Warn("dropping kafka message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return
	}
	if err := c.handler.Deliver(id, ev); err != nil {
		slog.Warn("transcript event rejected", "session_id", id, "error", err)
	}
}
