// Package state holds the ledger-wide scalar cells: the product counter, the
// accrued platform fees and the owner identity.
package state

import (
	"time"

	"github.com/xraph/market/types"
)

// FeePercent is the platform fee charged on every purchase.
const FeePercent int64 = 2

// State is the single-row ledger record.
type State struct {
	ProductCount int64         `json:"product_count"`
	EventCount   int64         `json:"event_count"`
	AccruedFees  types.Money   `json:"accrued_fees"`
	Owner        types.Address `json:"owner"`
	FeePercent   int64         `json:"fee_percent"`
	Currency     string        `json:"currency"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// New returns the initial state for a fresh ledger.
func New(owner types.Address, currency string, now time.Time) *State {
	return &State{
		AccruedFees: types.Zero(currency),
		Owner:       owner,
		FeePercent:  FeePercent,
		Currency:    types.Zero(currency).Currency,
		UpdatedAt:   now,
	}
}

// Clone returns a copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
