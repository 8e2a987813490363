package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/market/event"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/product"
	"github.com/xraph/market/settlement"
	"github.com/xraph/market/state"
	"github.com/xraph/market/store"
	"github.com/xraph/market/types"
)

// Defaults applied by New.
const (
	DefaultCurrency        = "usd"
	DefaultVault           = types.Address("market:vault")
	DefaultLockTimeout     = 5 * time.Second
	DefaultTransferTimeout = 10 * time.Second
)

// Ledger is the marketplace engine. It owns product inventory, the fee
// balance and the owner identity, and pays out through a settlement rail.
type Ledger struct {
	store   store.Store
	rail    settlement.Rail
	plugins *plugin.Registry
	logger  *slog.Logger
	guard   *guard
	clock   func() time.Time

	published *sequencer

	// Configuration
	owner           types.Address
	currency        string
	vault           types.Address
	lockTimeout     time.Duration
	transferTimeout time.Duration
	autoMigrate     bool

	started atomic.Bool
}

// New creates a new Ledger instance. Call Start before using it.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		clock:           time.Now,
		currency:        DefaultCurrency,
		vault:           DefaultVault,
		lockTimeout:     DefaultLockTimeout,
		transferTimeout: DefaultTransferTimeout,
		autoMigrate:     true,
		published:       newSequencer(),
	}

	for _, opt := range opts {
		opt(l)
	}

	l.guard = newGuard(l.lockTimeout)
	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithRail sets the settlement rail. It is required.
func WithRail(r settlement.Rail) Option {
	return func(l *Ledger) { l.rail = r }
}

// WithOwner sets the owner recorded when the store holds no ledger state
// yet. A persisted owner always wins.
func WithOwner(owner types.Address) Option {
	return func(l *Ledger) { l.owner = types.NormalizeAddress(string(owner)) }
}

// WithCurrency sets the single currency the ledger trades in.
func WithCurrency(currency string) Option {
	return func(l *Ledger) { l.currency = types.Zero(currency).Currency }
}

// WithVault sets the account that holds buyer funds in custody and
// accrued fees between purchase and withdrawal.
func WithVault(vault types.Address) Option {
	return func(l *Ledger) { l.vault = types.NormalizeAddress(string(vault)) }
}

// WithLockTimeout bounds how long an operation waits for the ledger lock.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.lockTimeout = d
		}
	}
}

// WithTransferTimeout bounds a single settlement rail call.
func WithTransferTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.transferTimeout = d
		}
	}
}

// WithAutoMigrate controls whether Start migrates the store. It is on by
// default.
func WithAutoMigrate(enabled bool) Option {
	return func(l *Ledger) { l.autoMigrate = enabled }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.clock = now
		}
	}
}

// Start migrates the store, bootstraps the ledger state on first use and
// initialises plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if l.rail == nil {
		return invalid("rail", "a settlement rail is required")
	}
	if err := l.vault.Validate(); err != nil {
		return invalid("vault", err.Error())
	}

	if l.autoMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return err
		}
	}

	st, err := l.bootstrap(ctx)
	if err != nil {
		return err
	}

	l.started.Store(true)
	l.plugins.EmitInit(ctx, l)

	l.logger.Info("market ledger started",
		"owner", st.Owner,
		"currency", st.Currency,
		"product_count", st.ProductCount,
		"lock_timeout", l.lockTimeout,
		"transfer_timeout", l.transferTimeout,
	)

	return nil
}

func (l *Ledger) bootstrap(ctx context.Context) (*state.State, error) {
	st, err := l.store.GetState(ctx)
	if err == nil {
		if st.Currency != l.currency {
			return nil, invalid("currency", fmt.Sprintf("store holds %s, ledger configured for %s", st.Currency, l.currency))
		}
		return st, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	owner, perr := types.ParseAddress(string(l.owner))
	if perr != nil {
		return nil, invalid("owner", "an owner is required to initialise a new ledger")
	}
	if owner == l.vault {
		return nil, invalid("owner", "owner cannot be the vault account")
	}

	st = state.New(owner, l.currency, l.now())
	if err := l.store.SaveState(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Stop shuts down the Ledger and closes its store.
func (l *Ledger) Stop() error {
	l.started.Store(false)

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// Health pings the underlying store.
func (l *Ledger) Health(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Currency returns the ledger currency.
func (l *Ledger) Currency() string { return l.currency }

// Vault returns the custody account.
func (l *Ledger) Vault() types.Address { return l.vault }

// ──────────────────────────────────────────────────
// Mutations
// ──────────────────────────────────────────────────

// AddProduct lists a new inventory lot owned by caller and returns its id.
func (l *Ledger) AddProduct(ctx context.Context, caller types.Address, name string, unitPrice types.Money, quantity int64) (int64, error) {
	seller, err := l.checkCaller(caller)
	if err == nil {
		err = l.checkListing(unitPrice, quantity)
	}
	if err != nil {
		return 0, l.rejected(ctx, plugin.OpAddProduct, caller, err)
	}

	var added *product.Product
	err = l.exclusive(ctx, func(ctx context.Context, b *batch) error {
		st, err := l.store.GetState(ctx)
		if err != nil {
			return err
		}
		if st.ProductCount == math.MaxInt64 || st.EventCount == math.MaxInt64 {
			return ErrArithmeticOverflow
		}

		now := l.now()
		next := st.Clone()
		next.ProductCount++
		next.EventCount++
		next.UpdatedAt = now

		added = &product.Product{
			Entity:    types.NewEntityAt(now),
			ID:        next.ProductCount,
			Name:      name,
			UnitPrice: unitPrice,
			Quantity:  quantity,
			Seller:    seller,
			Active:    true,
		}
		ev := event.NewProductAdded(added.ID, seller, name, unitPrice, quantity, now)
		ev.Sequence = next.EventCount

		b.write(
			func(ctx context.Context, s store.Store) error { return s.CreateProduct(ctx, added) },
			func(ctx context.Context, s store.Store) error { return s.DeleteProduct(ctx, added.ID) },
		)
		appendEvent(b, ev)
		saveState(b, st, next)

		b.then(func() {
			l.logger.Info("product added",
				"product_id", added.ID,
				"seller", seller,
				"unit_price", unitPrice.String(),
				"quantity", quantity,
			)
			l.plugins.EmitProductAdded(ctx, added, ev)
		})
		return nil
	})
	if err != nil {
		return 0, l.rejected(ctx, plugin.OpAddProduct, seller, err)
	}
	return added.ID, nil
}

// BuyProduct purchases quantity units of a product on behalf of caller,
// who attaches value. The seller is paid the total price less the platform
// fee, the fee accrues to the ledger and any excess value is refunded.
//
// Checks run in a fixed order: the product exists, it is active, caller is
// not the seller, enough units remain, and value covers the total price.
func (l *Ledger) BuyProduct(ctx context.Context, caller types.Address, productID, quantity int64, value types.Money) (*Receipt, error) {
	buyer, err := l.checkCaller(caller)
	if err == nil {
		err = l.checkPurchase(quantity, value)
	}
	if err != nil {
		return nil, l.rejected(ctx, plugin.OpBuyProduct, caller, err)
	}

	var receipt *Receipt
	err = l.exclusive(ctx, func(ctx context.Context, b *batch) error {
		p, err := l.store.GetProduct(ctx, productID)
		if err != nil {
			if IsNotFound(err) {
				return fmt.Errorf("%w: %d", ErrProductNotFound, productID)
			}
			return err
		}
		switch {
		case !p.Active:
			return ErrInactiveProduct
		case p.Seller == buyer:
			return ErrSelfTradeForbidden
		case quantity > p.Quantity:
			return ErrInsufficientInventory
		}

		total, ok := p.UnitPrice.MultiplyChecked(quantity)
		if !ok {
			return fmt.Errorf("%w: %d x %s", ErrArithmeticOverflow, quantity, p.UnitPrice)
		}
		if value.LessThan(total) {
			return ErrInsufficientPayment
		}

		st, err := l.store.GetState(ctx)
		if err != nil {
			return err
		}
		fee := total.PercentFloor(st.FeePercent)
		accrued, ok := st.AccruedFees.AddChecked(fee)
		if !ok || st.EventCount == math.MaxInt64 {
			return fmt.Errorf("%w: accrued fees", ErrArithmeticOverflow)
		}

		now := l.now()
		sold := p.Clone()
		sold.Quantity -= quantity
		if sold.Quantity == 0 {
			sold.Active = false
		}
		sold.TouchAt(now)

		next := st.Clone()
		next.AccruedFees = accrued
		next.EventCount++
		next.UpdatedAt = now

		ev := event.NewProductBought(p.ID, buyer, p.Seller, p.Name, p.UnitPrice, quantity, total, fee, now)
		ev.Sequence = next.EventCount

		receipt = newReceipt(ev, value, l.vault)

		// Effects first, interaction last.
		b.write(
			func(ctx context.Context, s store.Store) error { return s.UpdateProduct(ctx, sold) },
			func(ctx context.Context, s store.Store) error { return s.UpdateProduct(ctx, p) },
		)
		saveState(b, st, next)
		appendEvent(b, ev)
		b.settle(receipt.Transfers...)

		b.then(func() {
			l.logger.Info("product bought",
				"product_id", sold.ID,
				"buyer", buyer,
				"seller", sold.Seller,
				"quantity", quantity,
				"total_price", receipt.TotalPrice.String(),
				"platform_fee", receipt.PlatformFee.String(),
				"refund", receipt.Refund.String(),
			)
			l.plugins.EmitProductBought(ctx, sold, ev, receipt.Transfers)
		})
		return nil
	})
	if err != nil {
		return nil, l.rejected(ctx, plugin.OpBuyProduct, buyer, err)
	}
	return receipt, nil
}

// WithdrawFees pays every accrued fee to the owner and returns the amount.
func (l *Ledger) WithdrawFees(ctx context.Context, caller types.Address) (types.Money, error) {
	owner, err := l.checkCaller(caller)
	if err != nil {
		return types.Money{}, l.rejected(ctx, plugin.OpWithdrawFees, caller, err)
	}

	var amount types.Money
	err = l.exclusive(ctx, func(ctx context.Context, b *batch) error {
		st, err := l.store.GetState(ctx)
		if err != nil {
			return err
		}
		if st.Owner.IsZero() || st.Owner != owner {
			return ErrUnauthorized
		}
		if !st.AccruedFees.IsPositive() {
			return ErrNothingToWithdraw
		}
		if st.EventCount == math.MaxInt64 {
			return ErrArithmeticOverflow
		}

		now := l.now()
		amount = st.AccruedFees
		next := st.Clone()
		next.AccruedFees = types.Zero(st.Currency)
		next.EventCount++
		next.UpdatedAt = now

		ev := event.NewFeesWithdrawn(owner, amount, now)
		ev.Sequence = next.EventCount
		transfers := []settlement.Transfer{settlement.NewTransfer(l.vault, owner, amount, "fee withdrawal")}

		saveState(b, st, next)
		appendEvent(b, ev)
		b.settle(transfers...)

		b.then(func() {
			l.logger.Info("fees withdrawn",
				"owner", owner,
				"amount", amount.String(),
			)
			l.plugins.EmitFeesWithdrawn(ctx, ev, transfers)
		})
		return nil
	})
	if err != nil {
		return types.Money{}, l.rejected(ctx, plugin.OpWithdrawFees, owner, err)
	}
	return amount, nil
}

// TransferOwnership hands the owner role to newOwner. Only the current
// owner may call it; newOwner is checked after that.
func (l *Ledger) TransferOwnership(ctx context.Context, caller, newOwner types.Address) error {
	from, err := l.checkCaller(caller)
	if err != nil {
		return l.rejected(ctx, plugin.OpTransferOwnership, caller, err)
	}
	return l.changeOwner(ctx, plugin.OpTransferOwnership, from, func() (types.Address, error) {
		to, err := types.ParseAddress(string(newOwner))
		if err != nil {
			return types.NoAddress, invalid("new_owner", "new owner is the zero address")
		}
		if to == l.vault {
			return types.NoAddress, invalid("new_owner", "owner cannot be the vault account")
		}
		return to, nil
	})
}

// RenounceOwnership leaves the ledger without an owner. Accrued fees can no
// longer be withdrawn afterwards.
func (l *Ledger) RenounceOwnership(ctx context.Context, caller types.Address) error {
	from, err := l.checkCaller(caller)
	if err != nil {
		return l.rejected(ctx, plugin.OpRenounceOwnership, caller, err)
	}
	return l.changeOwner(ctx, plugin.OpRenounceOwnership, from, func() (types.Address, error) {
		return types.NoAddress, nil
	})
}

// changeOwner replaces the owner with the address target resolves, once
// caller is confirmed as the current owner.
func (l *Ledger) changeOwner(ctx context.Context, op plugin.Operation, caller types.Address, target func() (types.Address, error)) error {
	err := l.exclusive(ctx, func(ctx context.Context, b *batch) error {
		st, err := l.store.GetState(ctx)
		if err != nil {
			return err
		}
		if st.Owner.IsZero() || st.Owner != caller {
			return ErrUnauthorized
		}
		to, err := target()
		if err != nil {
			return err
		}
		if st.EventCount == math.MaxInt64 {
			return ErrArithmeticOverflow
		}

		now := l.now()
		next := st.Clone()
		next.Owner = to
		next.EventCount++
		next.UpdatedAt = now

		ev := event.NewOwnershipTransferred(st.Owner, to, st.Currency, now)
		ev.Sequence = next.EventCount

		saveState(b, st, next)
		appendEvent(b, ev)

		b.then(func() {
			l.logger.Info("ownership transferred",
				"previous_owner", ev.PreviousOwner,
				"owner", ev.Owner,
			)
			l.plugins.EmitOwnershipTransferred(ctx, ev)
		})
		return nil
	})
	if err != nil {
		return l.rejected(ctx, op, caller, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// GetProduct returns a product by id.
func (l *Ledger) GetProduct(ctx context.Context, productID int64) (*product.Product, error) {
	var p *product.Product
	err := l.shared(ctx, func(ctx context.Context) error {
		var err error
		p, err = l.store.GetProduct(ctx, productID)
		if err != nil && IsNotFound(err) {
			return fmt.Errorf("%w: %d", ErrProductNotFound, productID)
		}
		return err
	})
	return p, err
}

// GetProductCount returns the number of products ever listed.
func (l *Ledger) GetProductCount(ctx context.Context) (int64, error) {
	st, err := l.readState(ctx)
	if err != nil {
		return 0, err
	}
	return st.ProductCount, nil
}

// GetFeePercent returns the platform fee percentage.
func (l *Ledger) GetFeePercent(ctx context.Context) (int64, error) {
	st, err := l.readState(ctx)
	if err != nil {
		return 0, err
	}
	return st.FeePercent, nil
}

// AccruedFees returns the fees collected since the last withdrawal.
func (l *Ledger) AccruedFees(ctx context.Context) (types.Money, error) {
	st, err := l.readState(ctx)
	if err != nil {
		return types.Money{}, err
	}
	return st.AccruedFees, nil
}

// Owner returns the current owner, or NoAddress after a renounce.
func (l *Ledger) Owner(ctx context.Context) (types.Address, error) {
	st, err := l.readState(ctx)
	if err != nil {
		return types.NoAddress, err
	}
	return st.Owner, nil
}

// ListActiveProducts returns every product that can still be bought.
func (l *Ledger) ListActiveProducts(ctx context.Context) ([]*product.Product, error) {
	return l.listProducts(ctx, product.ListOpts{ActiveOnly: true})
}

// ListProductsBySeller returns every product listed by seller, sold out or not.
func (l *Ledger) ListProductsBySeller(ctx context.Context, seller types.Address) ([]*product.Product, error) {
	addr, err := types.ParseAddress(string(seller))
	if err != nil {
		return nil, invalid("seller", err.Error())
	}
	return l.listProducts(ctx, product.ListOpts{Seller: addr})
}

// Events queries the event log.
func (l *Ledger) Events(ctx context.Context, opts event.QueryOpts) ([]*event.Event, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, invalid("limit", "limit and offset must not be negative")
	}
	opts.Seller = types.NormalizeAddress(string(opts.Seller))
	opts.Buyer = types.NormalizeAddress(string(opts.Buyer))

	var out []*event.Event
	err := l.shared(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.store.ListEvents(ctx, opts)
		return err
	})
	return out, err
}

func (l *Ledger) listProducts(ctx context.Context, opts product.ListOpts) ([]*product.Product, error) {
	var out []*product.Product
	err := l.shared(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.store.ListProducts(ctx, opts)
		return err
	})
	return out, err
}

func (l *Ledger) readState(ctx context.Context) (*state.State, error) {
	var st *state.State
	err := l.shared(ctx, func(ctx context.Context) error {
		var err error
		st, err = l.store.GetState(ctx)
		return err
	})
	return st, err
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

func (l *Ledger) ready() error {
	if !l.started.Load() {
		return ErrNotStarted
	}
	return nil
}

// exclusive runs fn under the write lock. fn validates against the
// committed state and stages its effects on b. The staged writes are then
// committed and the staged transfers settled; a settlement failure reverts
// the writes before the lock is released. Queued publish callbacks run
// after the lock is released, in commit order across mutations.
func (l *Ledger) exclusive(ctx context.Context, fn func(ctx context.Context, b *batch) error) error {
	if err := l.ready(); err != nil {
		return err
	}
	release, err := l.guard.lock(ctx)
	if err != nil {
		return err
	}
	unlock := sync.OnceFunc(release)
	defer unlock()

	b := &batch{}
	if err := fn(ctx, b); err != nil {
		return err
	}
	if err := l.commit(ctx, b); err != nil {
		return err
	}
	if err := l.settle(ctx, b.transfers); err != nil {
		if rbErr := l.revert(context.WithoutCancel(ctx), b); rbErr != nil {
			return l.compensationFailed(err, rbErr)
		}
		return err
	}

	turn := l.published.take()
	unlock()

	l.published.wait(turn)
	defer l.published.done()
	for _, publish := range b.publish {
		publish()
	}
	return nil
}

// commit applies the staged writes. A Transactor store applies them in one
// transaction; otherwise applied writes are compensated on failure.
func (l *Ledger) commit(ctx context.Context, b *batch) error {
	if tx, ok := l.store.(store.Transactor); ok {
		return tx.InTx(ctx, b.applyTo)
	}
	if err := b.applyTo(ctx, l.store); err != nil {
		if rbErr := b.undoOn(context.WithoutCancel(ctx), l.store); rbErr != nil {
			return l.compensationFailed(err, rbErr)
		}
		return err
	}
	return nil
}

// revert undoes committed writes after a failed settlement.
func (l *Ledger) revert(ctx context.Context, b *batch) error {
	if tx, ok := l.store.(store.Transactor); ok {
		return tx.InTx(ctx, b.undoOn)
	}
	return b.undoOn(ctx, l.store)
}

func (l *Ledger) compensationFailed(err, rbErr error) error {
	l.logger.Error("compensation failed, ledger state may be inconsistent",
		"error", err,
		"rollback_error", rbErr,
	)
	return errors.Join(err, rbErr)
}

func (l *Ledger) shared(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.ready(); err != nil {
		return err
	}
	release, err := l.guard.rlock(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func saveState(b *batch, prev, next *state.State) {
	b.write(
		func(ctx context.Context, s store.Store) error { return s.SaveState(ctx, next) },
		func(ctx context.Context, s store.Store) error { return s.SaveState(ctx, prev) },
	)
}

func appendEvent(b *batch, e *event.Event) {
	b.write(
		func(ctx context.Context, s store.Store) error { return s.AppendEvent(ctx, e) },
		func(ctx context.Context, s store.Store) error { return s.DeleteEvent(ctx, e.ID) },
	)
}

// settle pays out through the rail with the in-flight mark set.
func (l *Ledger) settle(ctx context.Context, transfers []settlement.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	sctx, cancel := context.WithTimeout(l.guard.mark(ctx), l.transferTimeout)
	defer cancel()

	if err := l.rail.Settle(sctx, transfers); err != nil {
		return fmt.Errorf("%w: %w", ErrSettlementFailed, err)
	}
	return nil
}

func (l *Ledger) rejected(ctx context.Context, op plugin.Operation, caller types.Address, err error) error {
	l.logger.Warn("operation rejected",
		"operation", string(op),
		"caller", caller,
		"reason", Reason(err),
		"error", err,
	)
	l.plugins.EmitOperationRejected(ctx, op, caller, err)
	return err
}

func (l *Ledger) checkCaller(caller types.Address) (types.Address, error) {
	addr, err := types.ParseAddress(string(caller))
	if err != nil {
		return types.NoAddress, invalid("caller", err.Error())
	}
	if addr == l.vault {
		return types.NoAddress, invalid("caller", "the vault account cannot trade")
	}
	return addr, nil
}

func (l *Ledger) checkListing(unitPrice types.Money, quantity int64) error {
	if unitPrice.Currency != l.currency {
		return invalid("unit_price", "price must be in "+l.currency)
	}
	if !unitPrice.IsPositive() {
		return invalid("unit_price", "price must be greater than 0")
	}
	if quantity <= 0 {
		return invalid("quantity", "quantity must be greater than 0")
	}
	return nil
}

func (l *Ledger) checkPurchase(quantity int64, value types.Money) error {
	if quantity <= 0 {
		return invalid("quantity", "quantity must be greater than 0")
	}
	if value.Currency != l.currency {
		return invalid("value", "value must be in "+l.currency)
	}
	if value.IsNegative() {
		return invalid("value", "value must not be negative")
	}
	return nil
}

func (l *Ledger) now() time.Time {
	return l.clock().UTC()
}
