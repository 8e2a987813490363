// Package store defines the unified persistence interface for the market
// ledger. Backends live in subpackages: memory, postgres, sqlite and mongo.
package store

import (
	"context"

	"github.com/xraph/market/event"
	"github.com/xraph/market/product"
	"github.com/xraph/market/state"
)

// Store is the unified storage interface for all ledger entities.
//
// The ledger serialises mutations. Backends that also implement Transactor
// get each mutation's writes in one transaction; for the rest the ledger
// compensates partial failures itself.
type Store interface {
	product.Store
	state.Store
	event.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Transactor is implemented by stores that can group writes atomically.
type Transactor interface {
	// InTx runs fn against a Store bound to one transaction. The
	// transaction commits if fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
