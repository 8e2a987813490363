// Package memory provides an in-memory Store for tests and single-process
// deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/market"
	"github.com/xraph/market/event"
	"github.com/xraph/market/id"
	"github.com/xraph/market/product"
	"github.com/xraph/market/state"
	"github.com/xraph/market/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store keeps every entity in maps guarded by one RWMutex. Values are cloned
// on the way in and out.
type Store struct {
	mu sync.RWMutex

	products map[int64]*product.Product
	state    *state.State
	events   map[string]*event.Event
	closed   bool
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		products: make(map[int64]*product.Product),
		events:   make(map[string]*event.Event),
	}
}

// ──────────────────────────────────────────────────
// Product Store
// ──────────────────────────────────────────────────

func (s *Store) CreateProduct(_ context.Context, p *product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[p.ID]; exists {
		return fmt.Errorf("%w: product %d", market.ErrAlreadyExists, p.ID)
	}
	s.products[p.ID] = p.Clone()
	return nil
}

func (s *Store) GetProduct(_ context.Context, productID int64) (*product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.products[productID]; ok {
		return p.Clone(), nil
	}
	return nil, market.ErrProductNotFound
}

func (s *Store) UpdateProduct(_ context.Context, p *product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[p.ID]; !exists {
		return market.ErrProductNotFound
	}
	s.products[p.ID] = p.Clone()
	return nil
}

func (s *Store) DeleteProduct(_ context.Context, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[productID]; !exists {
		return market.ErrProductNotFound
	}
	delete(s.products, productID)
	return nil
}

func (s *Store) ListProducts(_ context.Context, opts product.ListOpts) ([]*product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*product.Product, 0, len(s.products))
	for _, p := range s.products {
		if opts.ActiveOnly && !p.Active {
			continue
		}
		if opts.Seller != "" && p.Seller != opts.Seller {
			continue
		}
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return page(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// State Store
// ──────────────────────────────────────────────────

func (s *Store) GetState(_ context.Context) (*state.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, fmt.Errorf("%w: ledger state", market.ErrNotFound)
	}
	return s.state.Clone(), nil
}

func (s *Store) SaveState(_ context.Context, st *state.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = st.Clone()
	return nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

func (s *Store) AppendEvent(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := e.ID.String()
	if _, exists := s.events[key]; exists {
		return fmt.Errorf("%w: event %s", market.ErrAlreadyExists, key)
	}
	s.events[key] = e.Clone()
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, eventID id.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventID.String()
	if _, exists := s.events[key]; !exists {
		return fmt.Errorf("%w: event %s", market.ErrNotFound, key)
	}
	delete(s.events, key)
	return nil
}

func (s *Store) ListEvents(_ context.Context, opts event.QueryOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0)
	for _, e := range s.events {
		if opts.Matches(e) {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Sequence < result[j].Sequence })

	return page(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return market.ErrStoreNotReady
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// page applies limit/offset. A zero limit returns everything after offset.
func page[T any](items []T, limit, offset int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	if start < 0 {
		start = 0
	}
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
