package market_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/market"
	"github.com/xraph/market/event"
	"github.com/xraph/market/id"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/product"
	"github.com/xraph/market/settlement"
	bank "github.com/xraph/market/settlement/memory"
	"github.com/xraph/market/state"
	"github.com/xraph/market/store"
	"github.com/xraph/market/store/memory"
	"github.com/xraph/market/types"
)

const (
	owner  types.Address = "platform"
	seller types.Address = "alice"
	buyer  types.Address = "bob"
	other  types.Address = "carol"
)

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	bank   *bank.Bank
	ledger *market.Ledger
}

func newHarness(t *testing.T, opts ...market.Option) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: memory.New(),
		bank:  bank.New("usd"),
	}
	base := []market.Option{
		market.WithRail(h.bank),
		market.WithOwner(owner),
		market.WithClock(func() time.Time { return epoch }),
	}
	h.ledger = market.New(h.store, append(base, opts...)...)
	require.NoError(t, h.ledger.Start(h.ctx))

	for _, a := range []types.Address{buyer, other} {
		require.NoError(t, h.bank.Deposit(a, types.USD(100_000)))
	}
	return h
}

func (h *harness) list(price, qty int64) int64 {
	h.t.Helper()
	pid, err := h.ledger.AddProduct(h.ctx, seller, "Apples", types.USD(price), qty)
	require.NoError(h.t, err)
	return pid
}

func (h *harness) balance(a types.Address) int64 {
	return h.bank.Balance(a).Amount
}

type snapshot struct {
	products []*product.Product
	state    *state.State
	events   []*event.Event
	balances map[types.Address]int64
}

func (h *harness) snapshot() snapshot {
	h.t.Helper()
	products, err := h.store.ListProducts(h.ctx, product.ListOpts{})
	require.NoError(h.t, err)
	st, err := h.store.GetState(h.ctx)
	require.NoError(h.t, err)
	events, err := h.store.ListEvents(h.ctx, event.QueryOpts{})
	require.NoError(h.t, err)

	balances := make(map[types.Address]int64)
	for _, a := range []types.Address{owner, seller, buyer, other, market.DefaultVault} {
		balances[a] = h.balance(a)
	}
	return snapshot{products: products, state: st, events: events, balances: balances}
}

// ──────────────────────────────────────────────────
// AddProduct
// ──────────────────────────────────────────────────

func TestAddProductAssignsSequentialIDs(t *testing.T) {
	h := newHarness(t)

	var last int64
	for i := 0; i < 5; i++ {
		pid := h.list(100, 10)
		assert.Greater(t, pid, last)

		count, err := h.ledger.GetProductCount(h.ctx)
		require.NoError(t, err)
		assert.Equal(t, pid, count)
		last = pid
	}
	assert.Equal(t, int64(5), last)

	p, err := h.ledger.GetProduct(h.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, seller, p.Seller)
	assert.Equal(t, types.USD(100), p.UnitPrice)
	assert.True(t, p.Active)
	assert.Equal(t, epoch, p.CreatedAt)
}

func TestAddProductNormalizesSeller(t *testing.T) {
	h := newHarness(t)

	pid, err := h.ledger.AddProduct(h.ctx, "  ALICE ", "", types.USD(5), 1)
	require.NoError(t, err)

	p, err := h.ledger.GetProduct(h.ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, seller, p.Seller)
	assert.Empty(t, p.Name)
}

func TestAddProductValidation(t *testing.T) {
	tests := []struct {
		name     string
		caller   types.Address
		price    types.Money
		quantity int64
		field    string
	}{
		{"zero price", seller, types.USD(0), 1, "unit_price"},
		{"negative price", seller, types.USD(-5), 1, "unit_price"},
		{"wrong currency", seller, types.EUR(100), 1, "unit_price"},
		{"zero quantity", seller, types.USD(100), 0, "quantity"},
		{"negative quantity", seller, types.USD(100), -3, "quantity"},
		{"empty caller", "", types.USD(100), 1, "caller"},
		{"vault caller", market.DefaultVault, types.USD(100), 1, "caller"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			before := h.snapshot()

			_, err := h.ledger.AddProduct(h.ctx, tt.caller, "Apples", tt.price, tt.quantity)
			require.ErrorIs(t, err, market.ErrInvalidInput)

			var verr *market.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, market.ReasonInvalidInput, market.Reason(err))
			assert.Equal(t, before, h.snapshot())
		})
	}
}

func TestAddProductMessages(t *testing.T) {
	h := newHarness(t)

	_, err := h.ledger.AddProduct(h.ctx, seller, "Apples", types.USD(0), 1)
	assert.Contains(t, err.Error(), "price must be greater than 0")

	_, err = h.ledger.AddProduct(h.ctx, seller, "Apples", types.USD(1), 0)
	assert.Contains(t, err.Error(), "quantity must be greater than 0")
}

// ──────────────────────────────────────────────────
// BuyProduct
// ──────────────────────────────────────────────────

func TestBuyProductExactPayment(t *testing.T) {
	h := newHarness(t)
	pid := h.list(100, 10)
	buyerBefore := h.balance(buyer)

	r, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 3, types.USD(300))
	require.NoError(t, err)

	assert.Equal(t, types.USD(300), r.TotalPrice)
	assert.Equal(t, types.USD(6), r.PlatformFee)
	assert.Equal(t, types.USD(294), r.SellerProceeds)
	assert.True(t, r.Refund.IsZero())
	assert.Len(t, r.Transfers, 2)
	assert.Equal(t, id.PrefixReceipt, r.ID.Prefix())

	assert.Equal(t, int64(294), h.balance(seller))
	assert.Equal(t, buyerBefore-300, h.balance(buyer))
	assert.Equal(t, int64(6), h.balance(market.DefaultVault))

	fees, err := h.ledger.AccruedFees(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, types.USD(6), fees)

	p, err := h.ledger.GetProduct(h.ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.Quantity)
	assert.True(t, p.Active)
}

func TestBuyProductRefundsOverpayment(t *testing.T) {
	h := newHarness(t)
	pid := h.list(100, 10)
	buyerBefore := h.balance(buyer)

	r, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 3, types.USD(1000))
	require.NoError(t, err)

	assert.Equal(t, types.USD(700), r.Refund)
	assert.Len(t, r.Transfers, 3)
	assert.Equal(t, buyerBefore-300, h.balance(buyer))
	assert.Equal(t, int64(294), h.balance(seller))
}

func TestBuyProductFeeTruncates(t *testing.T) {
	h := newHarness(t)
	pid := h.list(10, 10)

	r, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 3, types.USD(30))
	require.NoError(t, err)

	assert.True(t, r.PlatformFee.IsZero())
	assert.Equal(t, int64(30), h.balance(seller))

	pid = h.list(99, 1)
	r, err = h.ledger.BuyProduct(h.ctx, buyer, pid, 1, types.USD(99))
	require.NoError(t, err)
	assert.Equal(t, types.USD(1), r.PlatformFee)
	assert.Equal(t, types.USD(98), r.SellerProceeds)
}

func TestBuyProductDepletion(t *testing.T) {
	h := newHarness(t)
	pid := h.list(10, 10)

	_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 3, types.USD(30))
	require.NoError(t, err)

	r, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 7, types.USD(1000))
	require.NoError(t, err)
	assert.Equal(t, types.USD(930), r.Refund)

	p, err := h.ledger.GetProduct(h.ctx, pid)
	require.NoError(t, err)
	assert.Zero(t, p.Quantity)
	assert.False(t, p.Active)

	_, err = h.ledger.BuyProduct(h.ctx, other, pid, 1, types.USD(10))
	require.ErrorIs(t, err, market.ErrInactiveProduct)
	assert.Equal(t, market.ReasonInactiveProduct, market.Reason(err))
}

func TestBuyProductCheckOrder(t *testing.T) {
	tests := []struct {
		name   string
		caller types.Address
		pid    func(h *harness) int64
		qty    int64
		value  int64
		want   error
	}{
		{
			name: "missing product", caller: buyer, qty: 1, value: 1000,
			pid:  func(*harness) int64 { return 99 },
			want: market.ErrProductNotFound,
		},
		{
			name: "inactive before self trade", caller: seller, qty: 1, value: 1000,
			pid: func(h *harness) int64 {
				pid := h.list(10, 1)
				_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 1, types.USD(10))
				require.NoError(h.t, err)
				return pid
			},
			want: market.ErrInactiveProduct,
		},
		{
			name: "self trade before inventory", caller: seller, qty: 50, value: 0,
			pid:  func(h *harness) int64 { return h.list(10, 5) },
			want: market.ErrSelfTradeForbidden,
		},
		{
			name: "inventory before payment", caller: buyer, qty: 6, value: 0,
			pid:  func(h *harness) int64 { return h.list(10, 5) },
			want: market.ErrInsufficientInventory,
		},
		{
			name: "underpayment", caller: buyer, qty: 2, value: 19,
			pid:  func(h *harness) int64 { return h.list(10, 5) },
			want: market.ErrInsufficientPayment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			pid := tt.pid(h)
			before := h.snapshot()

			_, err := h.ledger.BuyProduct(h.ctx, tt.caller, pid, tt.qty, types.USD(tt.value))
			require.ErrorIs(t, err, tt.want)
			assert.True(t, market.IsStateError(err))
			assert.Equal(t, before, h.snapshot())
		})
	}
}

func TestBuyProductNotFoundIsNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.ledger.BuyProduct(h.ctx, buyer, 1, 1, types.USD(10))
	require.Error(t, err)
	assert.True(t, market.IsNotFound(err))
	assert.Equal(t, market.ReasonNotFound, market.Reason(err))

	_, err = h.ledger.GetProduct(h.ctx, 42)
	require.ErrorIs(t, err, market.ErrProductNotFound)
}

func TestBuyProductSelfTradeAlwaysFails(t *testing.T) {
	h := newHarness(t)
	pid := h.list(100, 10)
	require.NoError(t, h.bank.Deposit(seller, types.USD(10_000)))
	before := h.snapshot()

	for _, q := range []int64{1, 5, 10} {
		_, err := h.ledger.BuyProduct(h.ctx, seller, pid, q, types.USD(10_000))
		require.ErrorIs(t, err, market.ErrSelfTradeForbidden)
	}
	assert.Equal(t, before, h.snapshot())
}

func TestBuyProductValidation(t *testing.T) {
	h := newHarness(t)
	pid := h.list(10, 5)
	before := h.snapshot()

	tests := []struct {
		name   string
		caller types.Address
		qty    int64
		value  types.Money
		field  string
	}{
		{"zero quantity", buyer, 0, types.USD(10), "quantity"},
		{"negative value", buyer, 1, types.USD(-1), "value"},
		{"wrong currency", buyer, 1, types.EUR(10), "value"},
		{"empty caller", "", 1, types.USD(10), "caller"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ledger.BuyProduct(h.ctx, tt.caller, pid, tt.qty, tt.value)
			var verr *market.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Equal(t, before, h.snapshot())
}

func TestBuyProductOverflow(t *testing.T) {
	h := newHarness(t)
	pid := h.list(math.MaxInt64/2+1, 4)
	before := h.snapshot()

	_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 2, types.USD(math.MaxInt64))
	require.ErrorIs(t, err, market.ErrArithmeticOverflow)
	assert.Equal(t, before, h.snapshot())
}

func TestBuyProductAccruedFeeOverflow(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	st := state.New(owner, "usd", epoch)
	st.AccruedFees = types.USD(math.MaxInt64 - 1)
	require.NoError(t, s.SaveState(ctx, st))

	rail := bank.New("usd")
	require.NoError(t, rail.Deposit(buyer, types.USD(1000)))
	l := market.New(s, market.WithRail(rail))
	require.NoError(t, l.Start(ctx))

	pid, err := l.AddProduct(ctx, seller, "Pears", types.USD(500), 1)
	require.NoError(t, err)

	_, err = l.BuyProduct(ctx, buyer, pid, 1, types.USD(500))
	require.ErrorIs(t, err, market.ErrArithmeticOverflow)

	p, err := l.GetProduct(ctx, pid)
	require.NoError(t, err)
	assert.True(t, p.Active)
	assert.Equal(t, types.USD(1000), rail.Balance(buyer))
}

// ──────────────────────────────────────────────────
// WithdrawFees
// ──────────────────────────────────────────────────

func TestWithdrawFees(t *testing.T) {
	h := newHarness(t)
	pid := h.list(100, 10)
	_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 3, types.USD(300))
	require.NoError(t, err)

	before := h.snapshot()
	_, err = h.ledger.WithdrawFees(h.ctx, buyer)
	require.ErrorIs(t, err, market.ErrUnauthorized)
	assert.Equal(t, before, h.snapshot())

	amount, err := h.ledger.WithdrawFees(h.ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, types.USD(6), amount)
	assert.Equal(t, int64(6), h.balance(owner))
	assert.Zero(t, h.balance(market.DefaultVault))

	fees, err := h.ledger.AccruedFees(h.ctx)
	require.NoError(t, err)
	assert.True(t, fees.IsZero())

	_, err = h.ledger.WithdrawFees(h.ctx, owner)
	require.ErrorIs(t, err, market.ErrNothingToWithdraw)
	assert.Equal(t, market.ReasonNothingToWithdraw, market.Reason(err))
}

func TestWithdrawFeesWithNothingAccrued(t *testing.T) {
	h := newHarness(t)

	_, err := h.ledger.WithdrawFees(h.ctx, owner)
	require.ErrorIs(t, err, market.ErrNothingToWithdraw)
	assert.Contains(t, err.Error(), "no fees to withdraw")
}

// ──────────────────────────────────────────────────
// Ownership
// ──────────────────────────────────────────────────

func TestTransferOwnership(t *testing.T) {
	h := newHarness(t)
	pid := h.list(100, 10)
	_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 1, types.USD(100))
	require.NoError(t, err)

	require.ErrorIs(t, h.ledger.TransferOwnership(h.ctx, buyer, other), market.ErrUnauthorized)

	err = h.ledger.TransferOwnership(h.ctx, owner, "  ")
	var verr *market.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "new_owner", verr.Field)

	require.NoError(t, h.ledger.TransferOwnership(h.ctx, owner, "CAROL"))

	current, err := h.ledger.Owner(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, other, current)

	_, err = h.ledger.WithdrawFees(h.ctx, owner)
	require.ErrorIs(t, err, market.ErrUnauthorized)

	amount, err := h.ledger.WithdrawFees(h.ctx, other)
	require.NoError(t, err)
	assert.Equal(t, types.USD(2), amount)

	events, err := h.ledger.Events(h.ctx, event.QueryOpts{Type: event.TypeOwnershipTransferred})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, owner, events[0].PreviousOwner)
	assert.Equal(t, other, events[0].Owner)
}

func TestTransferOwnershipChecksCallerBeforeTarget(t *testing.T) {
	h := newHarness(t)

	for _, target := range []types.Address{"  ", market.DefaultVault, other} {
		err := h.ledger.TransferOwnership(h.ctx, buyer, target)
		require.ErrorIs(t, err, market.ErrUnauthorized, "target %q", target)
		assert.Equal(t, market.ReasonUnauthorized, market.Reason(err))
	}

	err := h.ledger.TransferOwnership(h.ctx, owner, market.DefaultVault)
	var verr *market.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "new_owner", verr.Field)

	events, err := h.ledger.Events(h.ctx, event.QueryOpts{Type: event.TypeOwnershipTransferred})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRenounceOwnership(t *testing.T) {
	h := newHarness(t)
	pid := h.list(100, 10)
	_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 1, types.USD(100))
	require.NoError(t, err)

	require.ErrorIs(t, h.ledger.RenounceOwnership(h.ctx, buyer), market.ErrUnauthorized)
	require.NoError(t, h.ledger.RenounceOwnership(h.ctx, owner))

	current, err := h.ledger.Owner(h.ctx)
	require.NoError(t, err)
	assert.True(t, current.IsZero())

	for _, caller := range []types.Address{owner, buyer, seller} {
		_, err := h.ledger.WithdrawFees(h.ctx, caller)
		require.ErrorIs(t, err, market.ErrUnauthorized)
	}
	require.ErrorIs(t, h.ledger.RenounceOwnership(h.ctx, owner), market.ErrUnauthorized)
}

// ──────────────────────────────────────────────────
// Reentrancy and settlement failures
// ──────────────────────────────────────────────────

func TestReentrantMutationsAreRejected(t *testing.T) {
	h := newHarness(t)
	pid := h.list(100, 10)
	_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 1, types.USD(100))
	require.NoError(t, err)

	var (
		nestedBuy      error
		nestedWithdraw error
		nestedAdd      error
		seenQuantity   int64
	)
	h.bank.SetHook(func(ctx context.Context, _ []settlement.Transfer) error {
		_, nestedBuy = h.ledger.BuyProduct(ctx, other, pid, 1, types.USD(100))
		_, nestedWithdraw = h.ledger.WithdrawFees(ctx, owner)
		_, nestedAdd = h.ledger.AddProduct(ctx, other, "Plums", types.USD(1), 1)

		p, err := h.ledger.GetProduct(ctx, pid)
		if err != nil {
			return err
		}
		seenQuantity = p.Quantity
		return nil
	})

	_, err = h.ledger.BuyProduct(h.ctx, buyer, pid, 2, types.USD(200))
	require.NoError(t, err)

	require.ErrorIs(t, nestedBuy, market.ErrReentrancy)
	require.ErrorIs(t, nestedWithdraw, market.ErrReentrancy)
	require.ErrorIs(t, nestedAdd, market.ErrReentrancy)
	assert.Equal(t, market.ReasonReentrancy, market.Reason(nestedBuy))
	assert.Equal(t, int64(7), seenQuantity)

	count, err := h.ledger.GetProductCount(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCallbackWithoutInFlightContextTimesOut(t *testing.T) {
	h := newHarness(t, market.WithLockTimeout(50*time.Millisecond))
	pid := h.list(100, 10)

	var (
		nested   error
		waited   time.Duration
		inFlight error
	)
	h.bank.SetHook(func(ctx context.Context, _ []settlement.Transfer) error {
		start := time.Now()
		_, nested = h.ledger.BuyProduct(context.Background(), other, pid, 1, types.USD(100))
		waited = time.Since(start)
		_, inFlight = h.ledger.BuyProduct(ctx, other, pid, 1, types.USD(100))
		return nil
	})

	_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 1, types.USD(100))
	require.NoError(t, err)
	require.ErrorIs(t, nested, market.ErrLockTimeout)
	assert.True(t, market.IsRetryable(nested))
	assert.GreaterOrEqual(t, waited, 50*time.Millisecond)
	require.ErrorIs(t, inFlight, market.ErrReentrancy)
}

func TestSettlementFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	pid := h.list(100, 10)
	_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 1, types.USD(100))
	require.NoError(t, err)

	boom := errors.New("rail offline")
	h.bank.SetHook(func(context.Context, []settlement.Transfer) error { return boom })
	before := h.snapshot()

	_, err = h.ledger.BuyProduct(h.ctx, buyer, pid, 9, types.USD(2000))
	require.ErrorIs(t, err, market.ErrSettlementFailed)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, h.snapshot())

	_, err = h.ledger.WithdrawFees(h.ctx, owner)
	require.ErrorIs(t, err, market.ErrSettlementFailed)
	assert.Equal(t, before, h.snapshot())

	h.bank.SetHook(nil)
	_, err = h.ledger.BuyProduct(h.ctx, buyer, pid, 9, types.USD(2000))
	require.NoError(t, err)
}

func TestUnfundedBuyerLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	pid := h.list(100, 10)
	before := h.snapshot()

	_, err := h.ledger.BuyProduct(h.ctx, "dave", pid, 1, types.USD(100))
	require.ErrorIs(t, err, market.ErrSettlementFailed)
	require.ErrorIs(t, err, settlement.ErrInsufficientFunds)
	assert.True(t, market.IsRetryable(err))
	assert.Equal(t, before, h.snapshot())
}

func TestSettlementTimeout(t *testing.T) {
	h := newHarness(t, market.WithTransferTimeout(30*time.Millisecond))
	pid := h.list(100, 10)
	h.bank.SetHook(func(ctx context.Context, _ []settlement.Transfer) error {
		<-ctx.Done()
		return ctx.Err()
	})
	before := h.snapshot()

	_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 1, types.USD(100))
	require.ErrorIs(t, err, market.ErrSettlementFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, before, h.snapshot())
}

// flakyStore fails the next AppendEvent once armed.
type flakyStore struct {
	*memory.Store
	failAppend bool
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) AppendEvent(ctx context.Context, e *event.Event) error {
	if s.failAppend {
		s.failAppend = false
		return errDiskFull
	}
	return s.Store.AppendEvent(ctx, e)
}

func TestStoreFailureIsCompensated(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{Store: memory.New()}
	rail := bank.New("usd")
	require.NoError(t, rail.Deposit(buyer, types.USD(1000)))

	l := market.New(s, market.WithRail(rail), market.WithOwner(owner))
	require.NoError(t, l.Start(ctx))

	pid, err := l.AddProduct(ctx, seller, "Figs", types.USD(100), 5)
	require.NoError(t, err)

	s.failAppend = true
	_, err = l.BuyProduct(ctx, buyer, pid, 2, types.USD(200))
	require.ErrorIs(t, err, errDiskFull)

	p, err := l.GetProduct(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Quantity)
	fees, err := l.AccruedFees(ctx)
	require.NoError(t, err)
	assert.True(t, fees.IsZero())
	assert.Equal(t, types.USD(1000), rail.Balance(buyer))

	s.failAppend = true
	_, err = l.AddProduct(ctx, seller, "Figs", types.USD(100), 5)
	require.ErrorIs(t, err, errDiskFull)

	count, err := l.GetProductCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	_, err = l.GetProduct(ctx, 2)
	require.ErrorIs(t, err, market.ErrProductNotFound)
}

// txStore is a memory store that reports itself as transactional and
// counts the transactions the ledger opens.
type txStore struct {
	*memory.Store
	mu  sync.Mutex
	txs int
}

func (s *txStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	s.mu.Lock()
	s.txs++
	s.mu.Unlock()
	return fn(ctx, s.Store)
}

func (s *txStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs
}

func TestTransactionalStoreGroupsWrites(t *testing.T) {
	ctx := context.Background()
	s := &txStore{Store: memory.New()}
	rail := bank.New("usd")
	require.NoError(t, rail.Deposit(buyer, types.USD(1000)))

	l := market.New(s, market.WithRail(rail), market.WithOwner(owner))
	require.NoError(t, l.Start(ctx))

	pid, err := l.AddProduct(ctx, seller, "Figs", types.USD(100), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, s.count())

	_, err = l.BuyProduct(ctx, buyer, pid, 1, types.USD(100))
	require.NoError(t, err)
	assert.Equal(t, 2, s.count())

	rail.SetHook(func(context.Context, []settlement.Transfer) error { return errors.New("rail offline") })
	_, err = l.BuyProduct(ctx, buyer, pid, 1, types.USD(100))
	require.ErrorIs(t, err, market.ErrSettlementFailed)
	assert.Equal(t, 4, s.count(), "commit and revert each run in a transaction")

	p, err := l.GetProduct(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.Quantity)

	_, err = l.BuyProduct(ctx, buyer, pid, 9, types.USD(900))
	require.ErrorIs(t, err, market.ErrInsufficientInventory)
	assert.Equal(t, 4, s.count(), "rejected checks open no transaction")
}

// ──────────────────────────────────────────────────
// Reads, events and lifecycle
// ──────────────────────────────────────────────────

func TestListProducts(t *testing.T) {
	h := newHarness(t)
	a := h.list(10, 1)
	b := h.list(10, 5)
	c, err := h.ledger.AddProduct(h.ctx, other, "Kale", types.USD(10), 5)
	require.NoError(t, err)

	_, err = h.ledger.BuyProduct(h.ctx, buyer, a, 1, types.USD(10))
	require.NoError(t, err)

	active, err := h.ledger.ListActiveProducts(h.ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, []int64{b, c}, []int64{active[0].ID, active[1].ID})

	mine, err := h.ledger.ListProductsBySeller(h.ctx, "Alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, a, mine[0].ID)
	assert.False(t, mine[0].Active)

	_, err = h.ledger.ListProductsBySeller(h.ctx, "")
	require.ErrorIs(t, err, market.ErrInvalidInput)
}

func TestEventLog(t *testing.T) {
	h := newHarness(t)
	pid := h.list(100, 10)
	_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 3, types.USD(300))
	require.NoError(t, err)
	_, err = h.ledger.WithdrawFees(h.ctx, owner)
	require.NoError(t, err)

	// A rejected call appends nothing.
	_, err = h.ledger.BuyProduct(h.ctx, seller, pid, 1, types.USD(100))
	require.Error(t, err)

	all, err := h.ledger.Events(h.ctx, event.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, e := range all {
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.Equal(t, id.PrefixEvent, e.ID.Prefix())
	}
	assert.Equal(t, event.TypeProductAdded, all[0].Type)
	assert.Equal(t, event.TypeProductBought, all[1].Type)
	assert.Equal(t, event.TypeFeesWithdrawn, all[2].Type)

	bought := all[1]
	assert.Equal(t, buyer, bought.Buyer)
	assert.Equal(t, seller, bought.Seller)
	assert.Equal(t, "Apples", bought.Name)
	assert.Equal(t, int64(3), bought.Quantity)
	assert.Equal(t, types.USD(300), bought.TotalPrice)
	assert.Equal(t, types.USD(6), bought.PlatformFee)
	assert.Equal(t, types.USD(6), all[2].Amount)

	purchases, err := h.ledger.Events(h.ctx, event.QueryOpts{Buyer: "BOB"})
	require.NoError(t, err)
	assert.Len(t, purchases, 1)

	listings, err := h.ledger.Events(h.ctx, event.QueryOpts{Seller: seller, Type: event.TypeProductAdded})
	require.NoError(t, err)
	assert.Len(t, listings, 1)

	_, err = h.ledger.Events(h.ctx, event.QueryOpts{Limit: -1})
	require.ErrorIs(t, err, market.ErrInvalidInput)
}

func TestFeePercent(t *testing.T) {
	h := newHarness(t)

	pct, err := h.ledger.GetFeePercent(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pct)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	l := market.New(memory.New(), market.WithRail(bank.New("usd")), market.WithOwner(owner))
	_, err := l.AddProduct(ctx, seller, "Apples", types.USD(1), 1)
	require.ErrorIs(t, err, market.ErrNotStarted)
	_, err = l.GetProductCount(ctx)
	require.ErrorIs(t, err, market.ErrNotStarted)

	err = market.New(memory.New(), market.WithOwner(owner)).Start(ctx)
	require.ErrorIs(t, err, market.ErrInvalidInput)

	err = market.New(memory.New(), market.WithRail(bank.New("usd"))).Start(ctx)
	var verr *market.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "owner", verr.Field)

	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Health(ctx))
	require.NoError(t, l.Stop())
	require.ErrorIs(t, l.Health(ctx), market.ErrStoreNotReady)
	_, err = l.AddProduct(ctx, seller, "Apples", types.USD(1), 1)
	require.ErrorIs(t, err, market.ErrNotStarted)
}

// migrateFailStore refuses to migrate.
type migrateFailStore struct {
	*memory.Store
}

func (migrateFailStore) Migrate(context.Context) error {
	return errors.New("migrations locked")
}

func TestAutoMigrate(t *testing.T) {
	ctx := context.Background()
	s := migrateFailStore{Store: memory.New()}

	err := market.New(s, market.WithRail(bank.New("usd")), market.WithOwner(owner)).Start(ctx)
	require.ErrorContains(t, err, "migrations locked")

	l := market.New(s,
		market.WithRail(bank.New("usd")),
		market.WithOwner(owner),
		market.WithAutoMigrate(false),
	)
	require.NoError(t, l.Start(ctx))
	got, err := l.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, got)
}

func TestPersistedStateWinsOnRestart(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rail := bank.New("usd")

	first := market.New(s, market.WithRail(rail), market.WithOwner(owner))
	require.NoError(t, first.Start(ctx))
	_, err := first.AddProduct(ctx, seller, "Apples", types.USD(1), 1)
	require.NoError(t, err)

	second := market.New(s, market.WithRail(rail), market.WithOwner(other))
	require.NoError(t, second.Start(ctx))

	current, err := second.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, current)

	pid, err := second.AddProduct(ctx, seller, "Pears", types.USD(1), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pid)

	err = market.New(s, market.WithRail(rail), market.WithCurrency("eur")).Start(ctx)
	require.ErrorIs(t, err, market.ErrInvalidInput)
}

func TestConcurrentPurchasesNeverOversell(t *testing.T) {
	h := newHarness(t)
	pid := h.list(100, 10)

	const buyers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 1, types.USD(100))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, market.ErrInactiveProduct) || errors.Is(err, market.ErrInsufficientInventory), err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	fees, err := h.ledger.AccruedFees(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, types.USD(20), fees)
	assert.Equal(t, int64(980), h.balance(seller))
}

type observer struct {
	mu       sync.Mutex
	bought   []*event.Event
	rejected []string
}

func (o *observer) Name() string { return "observer" }

func (o *observer) OnProductBought(_ context.Context, _ *product.Product, e *event.Event, _ []settlement.Transfer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bought = append(o.bought, e)
	return nil
}

func (o *observer) OnOperationRejected(_ context.Context, op plugin.Operation, _ types.Address, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, string(op)+":"+market.Reason(err))
	return nil
}

func TestPluginsSeeOnlySettledOperations(t *testing.T) {
	obs := &observer{}
	h := newHarness(t, market.WithPlugin(obs))
	pid := h.list(100, 10)

	h.bank.SetHook(func(context.Context, []settlement.Transfer) error { return errors.New("down") })
	_, err := h.ledger.BuyProduct(h.ctx, buyer, pid, 1, types.USD(100))
	require.Error(t, err)

	h.bank.SetHook(nil)
	_, err = h.ledger.BuyProduct(h.ctx, buyer, pid, 1, types.USD(100))
	require.NoError(t, err)

	require.Len(t, obs.bought, 1)
	assert.Equal(t, int64(1), obs.bought[0].Quantity)
	assert.Equal(t, []string{"buy_product:" + market.ReasonSettlementFailed}, obs.rejected)
}

// orderWatcher holds the first product's hook open and records the order
// in which events reach OnEvent.
type orderWatcher struct {
	entered chan struct{}
	release chan struct{}

	mu   sync.Mutex
	seqs []int64
}

func (w *orderWatcher) Name() string { return "order-watcher" }

func (w *orderWatcher) OnProductAdded(_ context.Context, p *product.Product, _ *event.Event) error {
	if p.ID == 1 {
		close(w.entered)
		<-w.release
	}
	return nil
}

func (w *orderWatcher) OnEvent(_ context.Context, e *event.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seqs = append(w.seqs, e.Sequence)
	return nil
}

func TestPluginsReceiveEventsInCommitOrder(t *testing.T) {
	w := &orderWatcher{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, market.WithPlugin(w))

	var wg sync.WaitGroup
	add := func(name string) {
		defer wg.Done()
		_, err := h.ledger.AddProduct(h.ctx, seller, name, types.USD(1), 1)
		assert.NoError(t, err)
	}

	wg.Add(2)
	go add("Apples")
	<-w.entered
	go add("Pears")

	// The second mutation commits while the first is still publishing.
	require.Eventually(t, func() bool {
		n, err := h.ledger.GetProductCount(h.ctx)
		return err == nil && n == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	close(w.release)
	wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, []int64{1, 2}, w.seqs)
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, market.ReasonOK},
		{market.ErrProductNotFound, market.ReasonNotFound},
		{market.ErrSelfTradeForbidden, market.ReasonSelfTradeForbidden},
		{market.ErrInsufficientInventory, market.ReasonInsufficientInventory},
		{market.ErrInsufficientPayment, market.ReasonInsufficientPayment},
		{market.ErrUnauthorized, market.ReasonUnauthorized},
		{market.ErrArithmeticOverflow, market.ReasonArithmeticOverflow},
		{market.ErrLockTimeout, market.ReasonLockTimeout},
		{&market.ValidationError{Field: "x", Message: "y"}, market.ReasonInvalidInput},
		{errors.New("mystery"), market.ReasonInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, market.Reason(tt.err))
	}
}
