// Package plugin provides an extensible plugin system for the market ledger.
// Plugins hook into lifecycle events that fire only after an operation has
// fully committed and settled, so a plugin can never observe or influence a
// half-applied mutation.
package plugin

import (
	"context"

	"github.com/xraph/market/event"
	"github.com/xraph/market/product"
	"github.com/xraph/market/settlement"
	"github.com/xraph/market/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// Operation names a public ledger operation in rejection hooks.
type Operation string

const (
	OpAddProduct        Operation = "add_product"
	OpBuyProduct        Operation = "buy_product"
	OpWithdrawFees      Operation = "withdraw_fees"
	OpTransferOwnership Operation = "transfer_ownership"
	OpRenounceOwnership Operation = "renounce_ownership"
)

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts. l is the *market.Ledger.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l any) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Marketplace hooks
// ──────────────────────────────────────────────────

// OnProductAdded is called after a listing is committed.
type OnProductAdded interface {
	Plugin
	OnProductAdded(ctx context.Context, p *product.Product, e *event.Event) error
}

// OnProductBought is called after a purchase has committed and settled.
type OnProductBought interface {
	Plugin
	OnProductBought(ctx context.Context, p *product.Product, e *event.Event, transfers []settlement.Transfer) error
}

// OnFeesWithdrawn is called after the owner's fee drain has settled.
type OnFeesWithdrawn interface {
	Plugin
	OnFeesWithdrawn(ctx context.Context, e *event.Event, transfers []settlement.Transfer) error
}

// OnOwnershipTransferred is called after the owner changes or renounces.
type OnOwnershipTransferred interface {
	Plugin
	OnOwnershipTransferred(ctx context.Context, e *event.Event) error
}

// OnEvent receives every committed event in log order. The ledger delivers
// a mutation's hooks only after the previous mutation's hooks have returned
// or timed out. Event relays implement it.
type OnEvent interface {
	Plugin
	OnEvent(ctx context.Context, e *event.Event) error
}

// OnOperationRejected is called when a mutating operation fails, whether
// by validation, a state check or a failed settlement.
type OnOperationRejected interface {
	Plugin
	OnOperationRejected(ctx context.Context, op Operation, caller types.Address, err error) error
}
