package observability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/market"
	"github.com/xraph/market/event"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/product"
	"github.com/xraph/market/settlement"
	"github.com/xraph/market/types"
)

var at = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeCounter struct{ n float64 }

func (c *fakeCounter) Inc()          { c.n++ }
func (c *fakeCounter) Add(v float64) { c.n += v }

type fakeHistogram struct{ obs []float64 }

func (h *fakeHistogram) Observe(v float64) { h.obs = append(h.obs, v) }

type fakeFactory struct {
	counters   map[string]*fakeCounter
	histograms map[string]*fakeHistogram
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		counters:   make(map[string]*fakeCounter),
		histograms: make(map[string]*fakeHistogram),
	}
}

func (f *fakeFactory) Counter(name string) Counter {
	c := &fakeCounter{}
	f.counters[name] = c
	return c
}

func (f *fakeFactory) Histogram(name string) Histogram {
	h := &fakeHistogram{}
	f.histograms[name] = h
	return h
}

func TestMetricsExtensionSales(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	p := &product.Product{ID: 1, Name: "Kale", UnitPrice: types.USD(49), Quantity: 6, Seller: "alice", Active: true}
	require.NoError(t, m.OnProductAdded(ctx, p, event.NewProductAdded(1, "alice", "Kale", types.USD(49), 6, at)))

	e := event.NewProductBought(1, "bob", "alice", "Kale", types.USD(49), 6, types.USD(294), types.USD(5), at)
	legs := []settlement.Transfer{
		settlement.NewTransfer("bob", "market:vault", types.USD(300), "custody"),
		settlement.NewTransfer("market:vault", "alice", types.USD(289), "proceeds"),
		settlement.NewTransfer("market:vault", "bob", types.USD(6), "refund"),
	}
	require.NoError(t, m.OnProductBought(ctx, p, e, legs))

	assert.Equal(t, 1.0, f.counters["market.product.added"].n)
	assert.Equal(t, 6.0, f.counters["market.product.units_listed"].n)
	assert.Equal(t, []float64{49}, f.histograms["market.product.unit_price_minor"].obs)
	assert.Equal(t, 1.0, f.counters["market.product.bought"].n)
	assert.Equal(t, 6.0, f.counters["market.product.units_sold"].n)
	assert.Equal(t, 5.0, f.counters["market.fees.accrued_minor"].n)
	assert.Equal(t, 1.0, f.counters["market.sale.refunds"].n)
	assert.Equal(t, []float64{294}, f.histograms["market.sale.total_minor"].obs)
	assert.Equal(t, []float64{3}, f.histograms["market.settlement.legs"].obs)
}

func TestMetricsExtensionOwner(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	require.NoError(t, m.OnFeesWithdrawn(ctx, event.NewFeesWithdrawn("owner", types.USD(20), at), nil))
	require.NoError(t, m.OnOwnershipTransferred(ctx, event.NewOwnershipTransferred("owner", "carol", "usd", at)))
	require.NoError(t, m.OnOwnershipTransferred(ctx, event.NewOwnershipTransferred("carol", types.NoAddress, "usd", at)))

	assert.Equal(t, 20.0, f.counters["market.fees.withdrawn_minor"].n)
	assert.Equal(t, 1.0, f.counters["market.ownership.transferred"].n)
	assert.Equal(t, 1.0, f.counters["market.ownership.renounced"].n)
}

func TestMetricsExtensionRejections(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	errs := []error{
		market.ErrInsufficientPayment,
		market.ErrReentrancy,
		fmt.Errorf("%w: %w", market.ErrSettlementFailed, settlement.ErrInsufficientFunds),
	}
	for _, err := range errs {
		require.NoError(t, m.OnOperationRejected(ctx, plugin.OpBuyProduct, "bob", err))
	}

	assert.Equal(t, 3.0, f.counters["market.operation.rejected"].n)
	assert.Equal(t, 1.0, f.counters["market.reentrancy.blocked"].n)
	assert.Equal(t, 1.0, f.counters["market.settlement.failures"].n)
}

func TestPrometheusFactory(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := NewPrometheusFactory(reg)

	c := f.Counter("market.product.added")
	c.Inc()
	c.Add(2)

	// Registering the same name again returns the live collector.
	again := f.Counter("market.product.added")
	again.Inc()

	pc, ok := c.(prometheus.Counter)
	require.True(t, ok)
	assert.Equal(t, 4.0, testutil.ToFloat64(pc))

	h := f.Histogram("market.sale.total_minor")
	h.Observe(294)
	ph, ok := h.(prometheus.Histogram)
	require.True(t, ok)
	assert.Equal(t, 1, testutil.CollectAndCount(ph, "market_sale_total_minor"))
}

func TestPrometheusFactoryWithExtension(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsExtension(NewPrometheusFactory(reg, WithBuckets([]float64{10, 100, 1000})))

	e := event.NewFeesWithdrawn("owner", types.USD(42), at)
	require.NoError(t, m.OnFeesWithdrawn(context.Background(), e, nil))

	pc, ok := m.FeesWithdrawn.(prometheus.Counter)
	require.True(t, ok)
	assert.Equal(t, 42.0, testutil.ToFloat64(pc))
	assert.Equal(t, "observability-metrics", m.Name())
}
