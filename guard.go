package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/market/settlement"
	"github.com/xraph/market/store"
)

// exclusiveWeight is the semaphore weight a mutation acquires. Reads take a
// single unit, so up to exclusiveWeight readers may overlap.
const exclusiveWeight int64 = 1 << 30

// guard is the ledger-wide lock. Mutations hold it exclusively from their
// first read until settlement returns.
//
// The context handed to the settlement rail is marked as in flight. A
// mutation arriving with that mark is a reentrant call and fails fast; a
// read arriving with it skips the lock and sees the committed state.
type guard struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

type inFlightKey struct{ g *guard }

func newGuard(timeout time.Duration) *guard {
	return &guard{
		sem:     semaphore.NewWeighted(exclusiveWeight),
		timeout: timeout,
	}
}

// mark returns ctx flagged as running inside this guard's critical section.
func (g *guard) mark(ctx context.Context) context.Context {
	return context.WithValue(ctx, inFlightKey{g}, true)
}

func (g *guard) inFlight(ctx context.Context) bool {
	v, _ := ctx.Value(inFlightKey{g}).(bool)
	return v
}

// lock acquires the guard exclusively.
func (g *guard) lock(ctx context.Context) (func(), error) {
	if g.inFlight(ctx) {
		return nil, ErrReentrancy
	}
	if err := g.acquire(ctx, exclusiveWeight); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(exclusiveWeight) }, nil
}

// rlock acquires the guard shared. Inside the critical section it is a no-op.
func (g *guard) rlock(ctx context.Context) (func(), error) {
	if g.inFlight(ctx) {
		return func() {}, nil
	}
	if err := g.acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

func (g *guard) acquire(ctx context.Context, n int64) error {
	wctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(wctx, n); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLockTimeout
		}
		return err
	}
	return nil
}

// step is one staged store write and the write that reverses it.
type step struct {
	apply func(ctx context.Context, s store.Store) error
	undo  func(ctx context.Context, s store.Store) error
}

// batch collects the effects of a mutation while it is validated under the
// guard. Nothing touches the store until the ledger commits it.
type batch struct {
	steps     []step
	applied   int
	transfers []settlement.Transfer
	publish   []func()
}

// write stages a store write together with its compensation.
func (b *batch) write(apply, undo func(ctx context.Context, s store.Store) error) {
	b.steps = append(b.steps, step{apply: apply, undo: undo})
}

// settle stages rail transfers, paid after the store writes commit.
func (b *batch) settle(ts ...settlement.Transfer) {
	b.transfers = append(b.transfers, ts...)
}

// then queues fn to run once the mutation has settled.
func (b *batch) then(fn func()) {
	b.publish = append(b.publish, fn)
}

// applyTo runs the staged writes against s in order, stopping at the first
// failure.
func (b *batch) applyTo(ctx context.Context, s store.Store) error {
	b.applied = 0
	for _, st := range b.steps {
		if err := st.apply(ctx, s); err != nil {
			return err
		}
		b.applied++
	}
	return nil
}

// undoOn reverses every applied write against s, newest first.
func (b *batch) undoOn(ctx context.Context, s store.Store) error {
	var errs []error
	for i := b.applied - 1; i >= 0; i-- {
		if err := b.steps[i].undo(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	b.applied = 0
	return errors.Join(errs...)
}

// sequencer hands out publish turns in commit order. A mutation takes its
// turn under the guard and waits for it after the guard is released.
type sequencer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	issued uint64
	served uint64
}

func newSequencer() *sequencer {
	s := &sequencer{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *sequencer) take() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.issued
	s.issued++
	return t
}

// wait blocks until every earlier turn is done.
func (s *sequencer) wait(turn uint64) {
	s.mu.Lock()
	for s.served != turn {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

func (s *sequencer) done() {
	s.mu.Lock()
	s.served++
	s.mu.Unlock()
	s.cond.Broadcast()
}
