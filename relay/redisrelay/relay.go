// Package redisrelay appends committed ledger events to a Redis stream.
package redisrelay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/market/event"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/relay"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "market:events"

// Compile-time interface checks.
var (
	_ plugin.Plugin  = (*Relay)(nil)
	_ plugin.OnEvent = (*Relay)(nil)
	_ StreamAdder    = (*redis.Client)(nil)
)

// StreamAdder is the subset of the go-redis client the relay uses.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Relay is a plugin that XADDs every committed event to a stream. Each
// entry carries the event type, product key and JSON payload.
type Relay struct {
	client StreamAdder
	stream string
	maxLen int64
	logger *slog.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithStream sets the stream key.
func WithStream(stream string) Option {
	return func(r *Relay) { r.stream = stream }
}

// WithMaxLen caps the stream length approximately. Zero keeps every entry.
func WithMaxLen(n int64) Option {
	return func(r *Relay) { r.maxLen = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// New creates a relay on top of an existing client.
func New(client StreamAdder, opts ...Option) *Relay {
	r := &Relay{
		client: client,
		stream: DefaultStream,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial creates a client for addr and wraps it in a relay.
func Dial(addr, password string, db int, opts ...Option) (*Relay, *redis.Client) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return New(client, opts...), client
}

// Name implements plugin.Plugin.
func (r *Relay) Name() string { return "redis-relay" }

// OnEvent implements plugin.OnEvent.
func (r *Relay) OnEvent(ctx context.Context, e *event.Event) error {
	payload, err := relay.Encode(e)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"id":       e.ID.String(),
			"sequence": e.Sequence,
			"type":     string(e.Type),
			"key":      relay.PartitionKey(e),
			"payload":  payload,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	entryID, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("redisrelay: xadd %s: %w", r.stream, err)
	}

	r.logger.Debug("redisrelay: event appended",
		"stream", r.stream,
		"entry_id", entryID,
		"event_id", e.ID.String(),
	)
	return nil
}
