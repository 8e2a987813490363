// Package event defines the canonical marketplace event log. Events are the
// read model for indexers and profile views; every committed mutation
// appends exactly one.
package event

import (
	"time"

	"github.com/xraph/market/id"
	"github.com/xraph/market/types"
)

// Type names an event kind. Values double as Kafka keys and Redis stream
// field values, so they are stable.
type Type string

const (
	TypeProductAdded         Type = "product.added"
	TypeProductBought        Type = "product.bought"
	TypeFeesWithdrawn        Type = "fees.withdrawn"
	TypeOwnershipTransferred Type = "ownership.transferred"
)

// Event is one entry of the log. Fields that do not apply to a Type are left
// at their zero value.
type Event struct {
	ID        id.EventID `json:"id"`
	Sequence  int64      `json:"sequence"`
	Type      Type       `json:"type"`
	Timestamp time.Time  `json:"timestamp"`

	ProductID     int64         `json:"product_id,omitempty"`
	Name          string        `json:"name,omitempty"`
	Seller        types.Address `json:"seller,omitempty"`
	Buyer         types.Address `json:"buyer,omitempty"`
	Owner         types.Address `json:"owner,omitempty"`
	PreviousOwner types.Address `json:"previous_owner,omitempty"`
	UnitPrice     types.Money   `json:"unit_price"`
	Quantity      int64         `json:"quantity,omitempty"`
	TotalPrice    types.Money   `json:"total_price"`
	PlatformFee   types.Money   `json:"platform_fee"`
	Amount        types.Money   `json:"amount"`
}

// NewProductAdded records a new listing.
func NewProductAdded(productID int64, seller types.Address, name string, unitPrice types.Money, quantity int64, at time.Time) *Event {
	return &Event{
		ID:          id.NewEventID(),
		Type:        TypeProductAdded,
		Timestamp:   at,
		ProductID:   productID,
		Name:        name,
		Seller:      seller,
		UnitPrice:   unitPrice,
		Quantity:    quantity,
		TotalPrice:  types.Zero(unitPrice.Currency),
		PlatformFee: types.Zero(unitPrice.Currency),
		Amount:      types.Zero(unitPrice.Currency),
	}
}

// NewProductBought records a settled purchase.
func NewProductBought(productID int64, buyer, seller types.Address, name string, unitPrice types.Money, quantity int64, total, fee types.Money, at time.Time) *Event {
	return &Event{
		ID:          id.NewEventID(),
		Type:        TypeProductBought,
		Timestamp:   at,
		ProductID:   productID,
		Name:        name,
		Seller:      seller,
		Buyer:       buyer,
		UnitPrice:   unitPrice,
		Quantity:    quantity,
		TotalPrice:  total,
		PlatformFee: fee,
		Amount:      types.Zero(total.Currency),
	}
}

// NewFeesWithdrawn records a fee drain by the owner.
func NewFeesWithdrawn(owner types.Address, amount types.Money, at time.Time) *Event {
	return &Event{
		ID:          id.NewEventID(),
		Type:        TypeFeesWithdrawn,
		Timestamp:   at,
		Owner:       owner,
		UnitPrice:   types.Zero(amount.Currency),
		TotalPrice:  types.Zero(amount.Currency),
		PlatformFee: types.Zero(amount.Currency),
		Amount:      amount,
	}
}

// NewOwnershipTransferred records an owner change. A renounce has an empty
// new owner.
func NewOwnershipTransferred(previous, owner types.Address, currency string, at time.Time) *Event {
	return &Event{
		ID:            id.NewEventID(),
		Type:          TypeOwnershipTransferred,
		Timestamp:     at,
		Owner:         owner,
		PreviousOwner: previous,
		UnitPrice:     types.Zero(currency),
		TotalPrice:    types.Zero(currency),
		PlatformFee:   types.Zero(currency),
		Amount:        types.Zero(currency),
	}
}

// Clone returns a copy of e.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
