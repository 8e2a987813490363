package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/market/event"
	"github.com/xraph/market/id"
	"github.com/xraph/market/product"
	"github.com/xraph/market/state"
	"github.com/xraph/market/types"
)

// stateRowID is the primary key of the single ledger state row.
const stateRowID = 1

// ==================== Product models ====================

type productModel struct {
	grove.BaseModel `grove:"table:market_products"`

	ID        int64     `grove:"id,pk"`
	Name      string    `grove:"name"`
	UnitPrice int64     `grove:"unit_price"`
	Currency  string    `grove:"currency"`
	Quantity  int64     `grove:"quantity"`
	Seller    string    `grove:"seller"`
	Active    bool      `grove:"active"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
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

	ID           int       `grove:"id,pk"`
	ProductCount int64     `grove:"product_count"`
	EventCount   int64     `grove:"event_count"`
	AccruedFees  int64     `grove:"accrued_fees"`
	Owner        string    `grove:"owner"`
	FeePercent   int64     `grove:"fee_percent"`
	Currency     string    `grove:"currency"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func toStateModel(s *state.State) *stateModel {
	return &stateModel{
		ID:           stateRowID,
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

	ID            string    `grove:"id,pk"`
	Sequence      int64     `grove:"sequence"`
	Type          string    `grove:"type"`
	Timestamp     time.Time `grove:"timestamp"`
	ProductID     int64     `grove:"product_id"`
	Name          string    `grove:"name"`
	Seller        string    `grove:"seller"`
	Buyer         string    `grove:"buyer"`
	Owner         string    `grove:"owner"`
	PreviousOwner string    `grove:"previous_owner"`
	Currency      string    `grove:"currency"`
	UnitPrice     int64     `grove:"unit_price"`
	Quantity      int64     `grove:"quantity"`
	TotalPrice    int64     `grove:"total_price"`
	PlatformFee   int64     `grove:"platform_fee"`
	Amount        int64     `grove:"amount"`
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
