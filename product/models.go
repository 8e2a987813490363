// Package product defines the inventory lot a seller lists on the market.
package product

import (
	"github.com/xraph/market/types"
)

// Product is one seller's inventory lot.
//
// ID, Name, UnitPrice and Seller never change after creation. Quantity only
// decreases, and Active flips to false exactly once, when a purchase drains
// the lot. A drained product never reactivates.
type Product struct {
	types.Entity
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	UnitPrice types.Money   `json:"unit_price"`
	Quantity  int64         `json:"quantity"`
	Seller    types.Address `json:"seller"`
	Active    bool          `json:"active"`
}

// Clone returns a copy of p. Stores hand out clones so callers cannot mutate
// persisted state through a returned pointer.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Available reports whether qty units can be taken from the lot.
func (p *Product) Available(qty int64) bool {
	return p.Active && qty > 0 && qty <= p.Quantity
}
