// Package observability provides a metrics extension for the market ledger
// that records marketplace activity through a pluggable MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/market"
	"github.com/xraph/market/event"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/product"
	"github.com/xraph/market/settlement"
	"github.com/xraph/market/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnProductAdded         = (*MetricsExtension)(nil)
	_ plugin.OnProductBought        = (*MetricsExtension)(nil)
	_ plugin.OnFeesWithdrawn        = (*MetricsExtension)(nil)
	_ plugin.OnOwnershipTransferred = (*MetricsExtension)(nil)
	_ plugin.OnOperationRejected    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records marketplace metrics.
// Register it as a ledger plugin to track listings, sales and fees.
type MetricsExtension struct {
	factory MetricFactory

	// Listing metrics
	ProductsAdded Counter
	UnitsListed   Counter
	ListingPrice  Histogram

	// Sale metrics
	ProductsBought Counter
	UnitsSold      Counter
	SaleTotal      Histogram
	FeesAccrued    Counter
	Refunds        Counter
	SettlementLegs Histogram

	// Owner metrics
	FeesWithdrawn        Counter
	OwnershipTransferred Counter
	OwnershipRenounced   Counter

	// Error metrics
	OperationsRejected Counter
	SettlementFailures Counter
	ReentrancyBlocked  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory for a Prometheus backed factory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		ProductsAdded: factory.Counter("market.product.added"),
		UnitsListed:   factory.Counter("market.product.units_listed"),
		ListingPrice:  factory.Histogram("market.product.unit_price_minor"),

		ProductsBought: factory.Counter("market.product.bought"),
		UnitsSold:      factory.Counter("market.product.units_sold"),
		SaleTotal:      factory.Histogram("market.sale.total_minor"),
		FeesAccrued:    factory.Counter("market.fees.accrued_minor"),
		Refunds:        factory.Counter("market.sale.refunds"),
		SettlementLegs: factory.Histogram("market.settlement.legs"),

		FeesWithdrawn:        factory.Counter("market.fees.withdrawn_minor"),
		OwnershipTransferred: factory.Counter("market.ownership.transferred"),
		OwnershipRenounced:   factory.Counter("market.ownership.renounced"),

		OperationsRejected: factory.Counter("market.operation.rejected"),
		SettlementFailures: factory.Counter("market.settlement.failures"),
		ReentrancyBlocked:  factory.Counter("market.reentrancy.blocked"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// OnProductAdded implements plugin.OnProductAdded.
func (m *MetricsExtension) OnProductAdded(_ context.Context, p *product.Product, _ *event.Event) error {
	m.ProductsAdded.Inc()
	m.UnitsListed.Add(float64(p.Quantity))
	m.ListingPrice.Observe(float64(p.UnitPrice.Amount))
	return nil
}

// OnProductBought implements plugin.OnProductBought.
func (m *MetricsExtension) OnProductBought(_ context.Context, _ *product.Product, e *event.Event, transfers []settlement.Transfer) error {
	m.ProductsBought.Inc()
	m.UnitsSold.Add(float64(e.Quantity))
	m.SaleTotal.Observe(float64(e.TotalPrice.Amount))
	m.FeesAccrued.Add(float64(e.PlatformFee.Amount))
	m.SettlementLegs.Observe(float64(len(transfers)))
	// The third leg only exists when the buyer overpaid.
	if len(transfers) > 2 {
		m.Refunds.Inc()
	}
	return nil
}

// OnFeesWithdrawn implements plugin.OnFeesWithdrawn.
func (m *MetricsExtension) OnFeesWithdrawn(_ context.Context, e *event.Event, _ []settlement.Transfer) error {
	m.FeesWithdrawn.Add(float64(e.Amount.Amount))
	return nil
}

// OnOwnershipTransferred implements plugin.OnOwnershipTransferred.
func (m *MetricsExtension) OnOwnershipTransferred(_ context.Context, e *event.Event) error {
	if e.Owner == types.NoAddress {
		m.OwnershipRenounced.Inc()
		return nil
	}
	m.OwnershipTransferred.Inc()
	return nil
}

// OnOperationRejected implements plugin.OnOperationRejected.
func (m *MetricsExtension) OnOperationRejected(_ context.Context, _ plugin.Operation, _ types.Address, err error) error {
	m.OperationsRejected.Inc()
	switch market.Reason(err) {
	case market.ReasonSettlementFailed:
		m.SettlementFailures.Inc()
	case market.ReasonReentrancy:
		m.ReentrancyBlocked.Inc()
	}
	return nil
}
