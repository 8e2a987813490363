package audithook

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

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

func capture() (*[]*AuditEvent, Recorder) {
	var got []*AuditEvent
	return &got, RecorderFunc(func(_ context.Context, ev *AuditEvent) error {
		got = append(got, ev)
		return nil
	})
}

func TestProductAdded(t *testing.T) {
	got, rec := capture()
	ext := New(rec)

	p := &product.Product{ID: 7, Name: "Okra", UnitPrice: types.USD(120), Quantity: 3, Seller: "alice", Active: true}
	require.NoError(t, ext.OnProductAdded(context.Background(), p, event.NewProductAdded(7, "alice", "Okra", types.USD(120), 3, at)))

	require.Len(t, *got, 1)
	ev := (*got)[0]
	assert.Equal(t, ActionProductAdded, ev.Action)
	assert.Equal(t, ResourceProduct, ev.Resource)
	assert.Equal(t, "7", ev.ResourceID)
	assert.Equal(t, "alice", ev.Actor)
	assert.Equal(t, CategoryCatalog, ev.Category)
	assert.Equal(t, OutcomeSuccess, ev.Outcome)
	assert.Equal(t, "Okra", ev.Metadata["name"])
	assert.Equal(t, int64(3), ev.Metadata["quantity"])
}

func TestProductBoughtWithRefund(t *testing.T) {
	got, rec := capture()
	ext := New(rec)

	p := &product.Product{ID: 1, Name: "Kale", UnitPrice: types.USD(49), Quantity: 0, Seller: "alice"}
	ev := event.NewProductBought(1, "bob", "alice", "Kale", types.USD(49), 6, types.USD(294), types.USD(5), at)
	legs := []settlement.Transfer{
		settlement.NewTransfer("bob", "market:vault", types.USD(300), "custody"),
		settlement.NewTransfer("market:vault", "alice", types.USD(289), "proceeds"),
		settlement.NewTransfer("market:vault", "bob", types.USD(6), "refund"),
	}
	require.NoError(t, ext.OnProductBought(context.Background(), p, ev, legs))

	require.Len(t, *got, 2)
	assert.Equal(t, ActionProductBought, (*got)[0].Action)
	assert.Equal(t, "bob", (*got)[0].Actor)
	assert.Equal(t, false, (*got)[0].Metadata["active"])
	assert.Equal(t, ActionPurchaseRefund, (*got)[1].Action)
	assert.Equal(t, int64(6), (*got)[1].Metadata["amount"])
}

func TestOwnership(t *testing.T) {
	got, rec := capture()
	ext := New(rec)
	ctx := context.Background()

	require.NoError(t, ext.OnOwnershipTransferred(ctx, event.NewOwnershipTransferred("owner", "carol", "usd", at)))
	require.NoError(t, ext.OnOwnershipTransferred(ctx, event.NewOwnershipTransferred("carol", types.NoAddress, "usd", at)))
	require.NoError(t, ext.OnFeesWithdrawn(ctx, event.NewFeesWithdrawn("carol", types.USD(11), at), nil))

	require.Len(t, *got, 3)
	assert.Equal(t, ActionOwnershipTransferred, (*got)[0].Action)
	assert.Equal(t, "carol", (*got)[0].Metadata["new_owner"])
	assert.Equal(t, ActionOwnershipRenounced, (*got)[1].Action)
	assert.Equal(t, SeverityWarning, (*got)[1].Severity)
	assert.Equal(t, ActionFeesWithdrawn, (*got)[2].Action)
}

func TestOperationRejected(t *testing.T) {
	got, rec := capture()
	ext := New(rec)
	ctx := context.Background()

	require.NoError(t, ext.OnOperationRejected(ctx, plugin.OpWithdrawFees, "mallory", market.ErrUnauthorized))
	settleErr := fmt.Errorf("%w: %w", market.ErrSettlementFailed, settlement.ErrInsufficientFunds)
	require.NoError(t, ext.OnOperationRejected(ctx, plugin.OpBuyProduct, "bob", settleErr))

	require.Len(t, *got, 2)
	assert.Equal(t, ActionOperationRejected, (*got)[0].Action)
	assert.Equal(t, OutcomeFailure, (*got)[0].Outcome)
	assert.Equal(t, CategoryPayment, (*got)[0].Category)
	assert.Equal(t, market.ReasonUnauthorized, (*got)[0].Metadata["reason"])
	assert.Equal(t, ActionSettlementFailed, (*got)[1].Action)
	assert.Equal(t, SeverityCritical, (*got)[1].Severity)
	assert.NotEmpty(t, (*got)[1].Reason)
}

func TestActionFiltering(t *testing.T) {
	ctx := context.Background()
	added := event.NewOwnershipTransferred("owner", "carol", "usd", at)

	got, rec := capture()
	ext := New(rec, WithEnabledActions(ActionFeesWithdrawn))
	require.NoError(t, ext.OnOwnershipTransferred(ctx, added))
	assert.Empty(t, *got)

	got, rec = capture()
	ext = New(rec, WithDisabledActions(ActionOwnershipTransferred))
	require.NoError(t, ext.OnOwnershipTransferred(ctx, added))
	require.NoError(t, ext.OnFeesWithdrawn(ctx, event.NewFeesWithdrawn("owner", types.USD(1), at), nil))
	require.Len(t, *got, 1)
	assert.Equal(t, ActionFeesWithdrawn, (*got)[0].Action)
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	ext := New(RecorderFunc(func(context.Context, *AuditEvent) error {
		return errors.New("audit store down")
	}))
	err := ext.OnFeesWithdrawn(context.Background(), event.NewFeesWithdrawn("owner", types.USD(1), at), nil)
	assert.NoError(t, err)
}
