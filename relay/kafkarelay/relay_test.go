package kafkarelay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/market/event"
	"github.com/xraph/market/relay"
	"github.com/xraph/market/types"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fails  int
	closed int
	calls  []time.Time
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, time.Now())
	if w.fails > 0 {
		w.fails--
		return errors.New("leader not available")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed++
	return nil
}

var at = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func TestOnEventPublishes(t *testing.T) {
	w := &fakeWriter{}
	r := New([]string{"localhost:9092"}, "market.events", WithWriter(w))

	e := event.NewProductAdded(3, "alice", "Beets", types.USD(90), 10, at)
	e.Sequence = 1
	require.NoError(t, r.OnEvent(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "product-3", string(msg.Key))
	assert.Equal(t, at, msg.Time)

	back, err := relay.Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, e, back)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "product.added", headers["event-type"])
	assert.Equal(t, "1", headers["event-sequence"])
}

func TestOnEventRetries(t *testing.T) {
	w := &fakeWriter{fails: 2}
	r := New(nil, "market.events", WithWriter(w), WithRetries(2), WithBackoff(10*time.Millisecond))

	require.NoError(t, r.OnEvent(context.Background(), event.NewFeesWithdrawn("owner", types.USD(5), at)))
	assert.Len(t, w.msgs, 1)

	require.Len(t, w.calls, 3)
	assert.GreaterOrEqual(t, w.calls[1].Sub(w.calls[0]), 10*time.Millisecond)
	assert.GreaterOrEqual(t, w.calls[2].Sub(w.calls[1]), 20*time.Millisecond)

	w.fails = 5
	err := r.OnEvent(context.Background(), event.NewFeesWithdrawn("owner", types.USD(5), at))
	assert.ErrorContains(t, err, "leader not available")
}

func TestOnEventCanceled(t *testing.T) {
	w := &fakeWriter{}
	r := New(nil, "market.events", WithWriter(w))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.OnEvent(ctx, event.NewFeesWithdrawn("owner", types.USD(5), at))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.msgs)
}

func TestOnEventBackoffStopsOnCancel(t *testing.T) {
	w := &fakeWriter{fails: 5}
	r := New(nil, "market.events", WithWriter(w), WithRetries(3), WithBackoff(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.OnEvent(ctx, event.NewFeesWithdrawn("owner", types.USD(5), at))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, w.calls, 1)
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	r := New(nil, "market.events", WithWriter(w))

	require.NoError(t, r.OnShutdown(context.Background()))
	require.NoError(t, r.Close())
	assert.Equal(t, 1, w.closed)

	assert.Error(t, r.OnEvent(context.Background(), event.NewFeesWithdrawn("owner", types.USD(5), at)))
	assert.Equal(t, "kafka-relay", r.Name())
}
