// Package settlement abstracts the value-transfer rail the ledger pays
// through once its own state has committed.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/market/id"
	"github.com/xraph/market/types"
)

var (
	// ErrInsufficientFunds is returned when a transfer would overdraw its source.
	ErrInsufficientFunds = errors.New("settlement: insufficient funds")
	// ErrInvalidTransfer is returned for a malformed transfer leg.
	ErrInvalidTransfer = errors.New("settlement: invalid transfer")
)

// Transfer is a single value movement between two accounts.
type Transfer struct {
	ID     id.TransferID `json:"id"`
	From   types.Address `json:"from"`
	To     types.Address `json:"to"`
	Amount types.Money   `json:"amount"`
	Memo   string        `json:"memo,omitempty"`
}

// NewTransfer builds a transfer leg with a fresh id.
func NewTransfer(from, to types.Address, amount types.Money, memo string) Transfer {
	return Transfer{
		ID:     id.NewTransferID(),
		From:   from,
		To:     to,
		Amount: amount,
		Memo:   memo,
	}
}

// Validate checks the leg is well formed: both endpoints set and distinct,
// and a positive amount.
func (t Transfer) Validate() error {
	switch {
	case t.From.IsZero() || t.To.IsZero():
		return fmt.Errorf("%w: %s: missing endpoint", ErrInvalidTransfer, t.ID)
	case t.From == t.To:
		return fmt.Errorf("%w: %s: source equals destination", ErrInvalidTransfer, t.ID)
	case !t.Amount.IsPositive():
		return fmt.Errorf("%w: %s: amount must be positive", ErrInvalidTransfer, t.ID)
	}
	return nil
}

// Rail settles a batch of transfers. Implementations must apply the batch
// all-or-nothing: on error no leg may have taken effect.
//
// The context passed to Settle carries the ledger's in-flight marker. A rail
// that calls back into the ledger must pass that context, or one derived
// from it, on every callback. Nested mutations on it fail fast with a
// reentrancy error and nested reads see the committed state. A callback made
// on an unrelated context waits for the ledger lock, which Settle is still
// holding, and fails with a lock timeout once the ledger's lock timeout
// elapses.
type Rail interface {
	Settle(ctx context.Context, transfers []Transfer) error
}

// RailFunc adapts a function to the Rail interface.
type RailFunc func(ctx context.Context, transfers []Transfer) error

// Settle calls f.
func (f RailFunc) Settle(ctx context.Context, transfers []Transfer) error {
	return f(ctx, transfers)
}
