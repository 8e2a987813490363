// Package kafkarelay publishes committed ledger events to a Kafka topic.
package kafkarelay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xraph/market/event"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/relay"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin     = (*Relay)(nil)
	_ plugin.OnEvent    = (*Relay)(nil)
	_ plugin.OnShutdown = (*Relay)(nil)
	_ Writer            = (*kafka.Writer)(nil)
)

// Writer is the subset of *kafka.Writer the relay uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Relay is a plugin that writes every committed event to Kafka. Messages are
// keyed by relay.PartitionKey so each product's events land in order on
// one partition.
type Relay struct {
	writer  Writer
	topic   string
	logger  *slog.Logger
	retries int
	backoff time.Duration
	closed  atomic.Bool
}

// DefaultBackoff is the pause before the first retry. Each later retry
// waits one more multiple of it.
const DefaultBackoff = 100 * time.Millisecond

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// WithRetries sets how many extra attempts a failed write gets.
func WithRetries(n int) Option {
	return func(r *Relay) { r.retries = n }
}

// WithBackoff sets the base pause between attempts.
func WithBackoff(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.backoff = d
		}
	}
}

// WithWriter replaces the Kafka writer, mainly for tests.
func WithWriter(w Writer) Option {
	return func(r *Relay) { r.writer = w }
}

// New creates a relay writing to topic on the given brokers.
func New(brokers []string, topic string, opts ...Option) *Relay {
	r := &Relay{
		topic:   topic,
		logger:  slog.Default(),
		retries: 2,
		backoff: DefaultBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.writer == nil {
		r.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
				r.logger.Error(fmt.Sprintf("kafkarelay: "+msg, args...))
			}),
		}
	}
	return r
}

// Name implements plugin.Plugin.
func (r *Relay) Name() string { return "kafka-relay" }

// OnEvent implements plugin.OnEvent.
func (r *Relay) OnEvent(ctx context.Context, e *event.Event) error {
	if r.closed.Load() {
		return fmt.Errorf("kafkarelay: relay closed")
	}

	msg, err := Message(e)
	if err != nil {
		return err
	}

	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			if werr := r.sleep(ctx, time.Duration(attempt)*r.backoff); werr != nil {
				return fmt.Errorf("kafkarelay: publish %s: %w", e.ID, werr)
			}
		}
		if ctx.Err() != nil {
			return fmt.Errorf("kafkarelay: publish %s: %w", e.ID, ctx.Err())
		}
		if err = r.writer.WriteMessages(ctx, msg); err == nil {
			r.logger.Debug("kafkarelay: event published",
				"topic", r.topic,
				"event_id", e.ID.String(),
				"sequence", e.Sequence,
			)
			return nil
		}
		r.logger.Warn("kafkarelay: publish attempt failed",
			"event_id", e.ID.String(),
			"attempt", attempt+1,
			"error", err,
		)
	}
	return fmt.Errorf("kafkarelay: publish %s: %w", e.ID, err)
}

// sleep waits for d or until ctx is done.
func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OnShutdown implements plugin.OnShutdown.
func (r *Relay) OnShutdown(_ context.Context) error {
	return r.Close()
}

// Close flushes and closes the writer. It is safe to call more than once.
func (r *Relay) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.writer.Close()
}

// Message converts e to the Kafka message the relay writes.
func Message(e *event.Event) (kafka.Message, error) {
	value, err := relay.Encode(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(relay.PartitionKey(e)),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
			{Key: "event-sequence", Value: []byte(strconv.FormatInt(e.Sequence, 10))},
			{Key: "content-type", Value: []byte(relay.ContentType)},
		},
	}, nil
}
