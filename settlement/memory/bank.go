// Package memory provides an in-process settlement rail backed by a map of
// balances. It is used by tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/market/settlement"
	"github.com/xraph/market/types"
)

// Compile-time interface check.
var _ settlement.Rail = (*Bank)(nil)

// Hook runs before a batch is applied, outside the bank lock. A non-nil
// error aborts the batch with no leg applied.
type Hook func(ctx context.Context, transfers []settlement.Transfer) error

// Bank holds balances in a single currency and applies transfer batches
// atomically.
type Bank struct {
	mu       sync.Mutex
	currency string
	balances map[types.Address]int64
	history  []settlement.Transfer
	hook     Hook
}

// Option configures a Bank.
type Option func(*Bank)

// WithHook installs a hook that runs before every batch.
func WithHook(h Hook) Option {
	return func(b *Bank) { b.hook = h }
}

// New creates an empty bank for the given currency.
func New(currency string, opts ...Option) *Bank {
	b := &Bank{
		currency: types.Zero(currency).Currency,
		balances: make(map[types.Address]int64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetHook replaces the pre-settlement hook.
func (b *Bank) SetHook(h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = h
}

// Deposit credits an account, e.g. to fund a buyer's wallet.
func (b *Bank) Deposit(account types.Address, amount types.Money) error {
	if err := b.checkCurrency(amount); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit must be positive", settlement.ErrInvalidTransfer)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next, ok := types.New(b.balances[account], b.currency).AddChecked(amount)
	if !ok {
		return fmt.Errorf("%w: deposit overflows balance of %s", settlement.ErrInvalidTransfer, account)
	}
	b.balances[account] = next.Amount
	return nil
}

// Balance returns the current balance of account.
func (b *Bank) Balance(account types.Address) types.Money {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.New(b.balances[account], b.currency)
}

// History returns every leg applied so far, in order.
func (b *Bank) History() []settlement.Transfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]settlement.Transfer, len(b.history))
	copy(out, b.history)
	return out
}

// Settle validates the batch against a copy of the touched balances and
// applies it only if every leg succeeds.
func (b *Bank) Settle(ctx context.Context, transfers []settlement.Transfer) error {
	b.mu.Lock()
	hook := b.hook
	b.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, transfers); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, t := range transfers {
		if err := t.Validate(); err != nil {
			return err
		}
		if err := b.checkCurrency(t.Amount); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	staged := make(map[types.Address]int64, len(transfers)*2)
	balance := func(a types.Address) int64 {
		if v, ok := staged[a]; ok {
			return v
		}
		return b.balances[a]
	}

	for _, t := range transfers {
		from := balance(t.From)
		if from < t.Amount.Amount {
			return fmt.Errorf("%w: %s has %d, needs %d", settlement.ErrInsufficientFunds, t.From, from, t.Amount.Amount)
		}
		to, ok := types.New(balance(t.To), b.currency).AddChecked(t.Amount)
		if !ok {
			return fmt.Errorf("%w: %s: credit overflows %s", settlement.ErrInvalidTransfer, t.ID, t.To)
		}
		staged[t.From] = from - t.Amount.Amount
		staged[t.To] = to.Amount
	}

	for a, v := range staged {
		b.balances[a] = v
	}
	b.history = append(b.history, transfers...)
	return nil
}

func (b *Bank) checkCurrency(m types.Money) error {
	if m.Currency != b.currency {
		return fmt.Errorf("%w: currency %s, bank holds %s", settlement.ErrInvalidTransfer, m.Currency, b.currency)
	}
	return nil
}
