package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/market/event"
	"github.com/xraph/market/id"
	"github.com/xraph/market/product"
	"github.com/xraph/market/state"
	"github.com/xraph/market/types"
)

// stateDocID is the _id of the single ledger state document.
const stateDocID = "ledger"

// ==================== Product models ====================

type productModel struct {
	grove.BaseModel `grove:"table:market_products"`

	ID        int64     `grove:"id,pk"      bson:"_id"`
	Name      string    `grove:"name"       bson:"name"`
	UnitPrice int64     `grove:"unit_price" bson:"unit_price"`
	Currency  string    `grove:"currency"   bson:"currency"`
	Quantity  int64     `grove:"quantity"   bson:"quantity"`
	Seller    string    `grove:"seller"     bson:"seller"`
	Active    bool      `grove:"active"     bson:"active"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func toProductModel(p *product.Product) *productModel {
	return &productModel{
		ID:        p.ID,
		Name:      p.Name,
		UnitPrice: p.UnitPrice.Amount,
		Currency:  p.UnitPrice.Currency,
		Quantity:  p.Quantity,
		Seller:    string(p.Seller),
		Active:    p.Active,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func fromProductModel(m *productModel) *product.Product {
	return &product.Product{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        m.ID,
		Name:      m.Name,
		UnitPrice: types.New(m.UnitPrice, m.Currency),
		Quantity:  m.Quantity,
		Seller:    types.Address(m.Seller),
		Active:    m.Active,
	}
}

// ==================== State models ====================

type stateModel struct {
	grove.BaseModel `grove:"table:market_state"`

	ID           string    `grove:"id,pk"         bson:"_id"`
	ProductCount int64     `grove:"product_count" bson:"product_count"`
	EventCount   int64     `grove:"event_count"   bson:"event_count"`
	AccruedFees  int64     `grove:"accrued_fees"  bson:"accrued_fees"`
	Owner        string    `grove:"owner"         bson:"owner"`
	FeePercent   int64     `grove:"fee_percent"   bson:"fee_percent"`
	Currency     string    `grove:"currency"      bson:"currency"`
	UpdatedAt    time.Time `grove:"updated_at"    bson:"updated_at"`
}

func toStateModel(s *state.State) *stateModel {
	return &stateModel{
		ID:           stateDocID,
		ProductCount: s.ProductCount,
		EventCount:   s.EventCount,
		AccruedFees:  s.AccruedFees.Amount,
		Owner:        string(s.Owner),
		FeePercent:   s.FeePercent,
		Currency:     s.Currency,
		UpdatedAt:    s.UpdatedAt,
	}
}

func fromStateModel(m *stateModel) *state.State {
	return &state.State{
		ProductCount: m.ProductCount,
		EventCount:   m.EventCount,
		AccruedFees:  types.New(m.AccruedFees, m.Currency),
		Owner:        types.Address(m.Owner),
		FeePercent:   m.FeePercent,
		Currency:     m.Currency,
		UpdatedAt:    m.UpdatedAt,
	}
}

// ==================== Event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:market_events"`

	ID            string    `grove:"id,pk"          bson:"_id"`
	Sequence      int64     `grove:"sequence"       bson:"sequence"`
	Type          string    `grove:"type"           bson:"type"`
	Timestamp     time.Time `grove:"timestamp"      bson:"timestamp"`
	ProductID     int64     `grove:"product_id"     bson:"product_id,omitempty"`
	Name          string    `grove:"name"           bson:"name,omitempty"`
	Seller        string    `grove:"seller"         bson:"seller,omitempty"`
	Buyer         string    `grove:"buyer"          bson:"buyer,omitempty"`
	Owner         string    `grove:"owner"          bson:"owner,omitempty"`
	PreviousOwner string    `grove:"previous_owner" bson:"previous_owner,omitempty"`
	Currency      string    `grove:"currency"       bson:"currency"`
	UnitPrice     int64     `grove:"unit_price"     bson:"unit_price"`
	Quantity      int64     `grove:"quantity"       bson:"quantity"`
	TotalPrice    int64     `grove:"total_price"    bson:"total_price"`
	PlatformFee   int64     `grove:"platform_fee"   bson:"platform_fee"`
	Amount        int64     `grove:"amount"         bson:"amount"`
}

func toEventModel(e *event.Event) *eventModel {
	return &eventModel{
		ID:            e.ID.String(),
		Sequence:      e.Sequence,
		Type:          string(e.Type),
		Timestamp:     e.Timestamp,
		ProductID:     e.ProductID,
		Name:          e.Name,
		Seller:        string(e.Seller),
		Buyer:         string(e.Buyer),
		Owner:         string(e.Owner),
		PreviousOwner: string(e.PreviousOwner),
		Currency:      e.Amount.Currency,
		UnitPrice:     e.UnitPrice.Amount,
		Quantity:      e.Quantity,
		TotalPrice:    e.TotalPrice.Amount,
		PlatformFee:   e.PlatformFee.Amount,
		Amount:        e.Amount.Amount,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	eventID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	return &event.Event{
		ID:            eventID,
		Sequence:      m.Sequence,
		Type:          event.Type(m.Type),
		Timestamp:     m.Timestamp,
		ProductID:     m.ProductID,
		Name:          m.Name,
		Seller:        types.Address(m.Seller),
		Buyer:         types.Address(m.Buyer),
		Owner:         types.Address(m.Owner),
		PreviousOwner: types.Address(m.PreviousOwner),
		UnitPrice:     types.New(m.UnitPrice, m.Currency),
		Quantity:      m.Quantity,
		TotalPrice:    types.New(m.TotalPrice, m.Currency),
		PlatformFee:   types.New(m.PlatformFee, m.Currency),
		Amount:        types.New(m.Amount, m.Currency),
	}, nil
}
