package market

import (
	"time"

	"github.com/xraph/market/event"
	"github.com/xraph/market/id"
	"github.com/xraph/market/settlement"
	"github.com/xraph/market/types"
)

// Receipt describes a settled purchase.
type Receipt struct {
	ID             id.ReceiptID          `json:"id"`
	EventID        id.EventID            `json:"event_id"`
	ProductID      int64                 `json:"product_id"`
	Buyer          types.Address         `json:"buyer"`
	Seller         types.Address         `json:"seller"`
	Quantity       int64                 `json:"quantity"`
	UnitPrice      types.Money           `json:"unit_price"`
	TotalPrice     types.Money           `json:"total_price"`
	PlatformFee    types.Money           `json:"platform_fee"`
	SellerProceeds types.Money           `json:"seller_proceeds"`
	Refund         types.Money           `json:"refund"`
	Transfers      []settlement.Transfer `json:"transfers"`
	Timestamp      time.Time             `json:"timestamp"`
}

// newReceipt derives the settlement batch for a purchase: the buyer's value
// moves into custody, the seller is paid and the excess is refunded.
// Zero-amount legs are omitted.
func newReceipt(e *event.Event, value types.Money, vault types.Address) *Receipt {
	proceeds := e.TotalPrice.Subtract(e.PlatformFee)
	refund := value.Subtract(e.TotalPrice)

	r := &Receipt{
		ID:             id.NewReceiptID(),
		EventID:        e.ID,
		ProductID:      e.ProductID,
		Buyer:          e.Buyer,
		Seller:         e.Seller,
		Quantity:       e.Quantity,
		UnitPrice:      e.UnitPrice,
		TotalPrice:     e.TotalPrice,
		PlatformFee:    e.PlatformFee,
		SellerProceeds: proceeds,
		Refund:         refund,
		Timestamp:      e.Timestamp,
	}

	if value.IsPositive() {
		r.Transfers = append(r.Transfers, settlement.NewTransfer(e.Buyer, vault, value, "custody"))
	}
	if proceeds.IsPositive() {
		r.Transfers = append(r.Transfers, settlement.NewTransfer(vault, e.Seller, proceeds, "seller proceeds"))
	}
	if refund.IsPositive() {
		r.Transfers = append(r.Transfers, settlement.NewTransfer(vault, e.Buyer, refund, "refund"))
	}
	return r
}
