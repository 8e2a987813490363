// Package sqlite implements store.Store on SQLite through the grove ORM. It
// suits single-node deployments and tests that need real SQL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/market"
	"github.com/xraph/market/event"
	"github.com/xraph/market/id"
	"github.com/xraph/market/product"
	"github.com/xraph/market/state"
	marketstore "github.com/xraph/market/store"
)

// compile-time interface checks
var (
	_ marketstore.Store      = (*Store)(nil)
	_ marketstore.Transactor = (*Store)(nil)
)

// querier is the query-builder surface shared by the database handle and
// an open transaction.
type querier interface {
	NewSelect(model ...any) *sqlitedriver.SelectQuery
	NewInsert(model any) *sqlitedriver.InsertQuery
	NewUpdate(model any) *sqlitedriver.UpdateQuery
	NewDelete(model any) *sqlitedriver.DeleteQuery
}

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db   *grove.DB
	sdb  *sqlitedriver.SqliteDB
	q    querier
	inTx bool
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	sdb := sqlitedriver.Unwrap(db)
	return &Store{
		db:  db,
		sdb: sdb,
		q:   sdb,
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("market/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("market/sqlite: migration failed: %w", err)
	}
	return nil
}

// InTx runs fn against a store bound to a single SQLite transaction. The
// transaction commits when fn returns nil and rolls back otherwise. Calling
// InTx on a store that is already inside a transaction reuses it.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx marketstore.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return fmt.Errorf("market/sqlite: begin tx: %w", err)
	}
	if err := fn(ctx, &Store{db: s.db, sdb: s.sdb, q: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("market/sqlite: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("market/sqlite: commit: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", market.ErrStoreNotReady, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Product Store ====================

func (s *Store) CreateProduct(ctx context.Context, p *product.Product) error {
	_, err := s.q.NewInsert(toProductModel(p)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("market/sqlite: create product %d: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID int64) (*product.Product, error) {
	m := new(productModel)
	err := s.q.NewSelect(m).
		Where("id = ?", productID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, market.ErrProductNotFound
		}
		return nil, err
	}
	return fromProductModel(m), nil
}

func (s *Store) UpdateProduct(ctx context.Context, p *product.Product) error {
	res, err := s.q.NewUpdate(toProductModel(p)).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("market/sqlite: update product %d: %w", p.ID, err)
	}
	return expectRow(res, market.ErrProductNotFound)
}

func (s *Store) DeleteProduct(ctx context.Context, productID int64) error {
	res, err := s.q.NewDelete((*productModel)(nil)).
		Where("id = ?", productID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, market.ErrProductNotFound)
}

func (s *Store) ListProducts(ctx context.Context, opts product.ListOpts) ([]*product.Product, error) {
	var models []productModel
	q := s.q.NewSelect(&models)

	if opts.Seller != "" {
		q = q.Where("seller = ?", string(opts.Seller))
	}
	if opts.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*product.Product, len(models))
	for i := range models {
		result[i] = fromProductModel(&models[i])
	}
	return result, nil
}

// ==================== State Store ====================

func (s *Store) GetState(ctx context.Context) (*state.State, error) {
	m := new(stateModel)
	err := s.q.NewSelect(m).
		Where("id = ?", stateRowID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: ledger state", market.ErrNotFound)
		}
		return nil, err
	}
	return fromStateModel(m), nil
}

func (s *Store) SaveState(ctx context.Context, st *state.State) error {
	_, err := s.q.NewInsert(toStateModel(st)).
		OnConflict("(id) DO UPDATE").
		Set("product_count = EXCLUDED.product_count").
		Set("event_count = EXCLUDED.event_count").
		Set("accrued_fees = EXCLUDED.accrued_fees").
		Set("owner = EXCLUDED.owner").
		Set("fee_percent = EXCLUDED.fee_percent").
		Set("currency = EXCLUDED.currency").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("market/sqlite: save state: %w", err)
	}
	return nil
}

// ==================== Event Store ====================

func (s *Store) AppendEvent(ctx context.Context, e *event.Event) error {
	_, err := s.q.NewInsert(toEventModel(e)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("market/sqlite: append event %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, eventID id.EventID) error {
	res, err := s.q.NewDelete((*eventModel)(nil)).
		Where("id = ?", eventID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, market.ErrNotFound)
}

func (s *Store) ListEvents(ctx context.Context, opts event.QueryOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.q.NewSelect(&models)

	where := func(col string, v any) {
		q = q.Where(col+" ?", v)
	}
	if opts.Type != "" {
		where("type =", string(opts.Type))
	}
	if opts.ProductID != 0 {
		where("product_id =", opts.ProductID)
	}
	if opts.Seller != "" {
		where("seller =", string(opts.Seller))
	}
	if opts.Buyer != "" {
		where("buyer =", string(opts.Buyer))
	}
	if !opts.Since.IsZero() {
		where("timestamp >=", opts.Since.UTC())
	}
	if !opts.Until.IsZero() {
		where("timestamp <", opts.Until.UTC())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("sequence ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		e, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Helpers ====================

// rowsResult is the part of a grove exec result the store inspects.
type rowsResult interface {
	RowsAffected() (int64, error)
}

// expectRow maps a zero-row result to notFound.
func expectRow(res rowsResult, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
