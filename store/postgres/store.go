// Package postgres implements store.Store on PostgreSQL through the grove ORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate"
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
	NewSelect(model ...any) *pgdriver.SelectQuery
	NewInsert(model any) *pgdriver.InsertQuery
	NewUpdate(model any) *pgdriver.UpdateQuery
	NewDelete(model any) *pgdriver.DeleteQuery
}

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db   *grove.DB
	pg   *pgdriver.PgDB
	q    querier
	inTx bool
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	pg := pgdriver.Unwrap(db)
	return &Store{
		db: db,
		pg: pg,
		q:  pg,
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("market/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("market/postgres: migration failed: %w", err)
	}
	return nil
}

// InTx runs fn against a store bound to a single PostgreSQL transaction.
// Commit happens when fn returns nil, rollback otherwise. Nested calls reuse
// the open transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx marketstore.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	tx, err := s.pg.BeginTxQuery(ctx, nil)
	if err != nil {
		return fmt.Errorf("market/postgres: begin tx: %w", err)
	}
	if err := fn(ctx, &Store{db: s.db, pg: s.pg, q: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("market/postgres: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("market/postgres: commit: %w", err)
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
		return fmt.Errorf("market/postgres: create product %d: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID int64) (*product.Product, error) {
	m := new(productModel)
	err := s.q.NewSelect(m).
		Where("id = $1", productID).
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
		return fmt.Errorf("market/postgres: update product %d: %w", p.ID, err)
	}
	return expectRow(res, market.ErrProductNotFound)
}

func (s *Store) DeleteProduct(ctx context.Context, productID int64) error {
	res, err := s.q.NewDelete((*productModel)(nil)).
		Where("id = $1", productID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, market.ErrProductNotFound)
}

func (s *Store) ListProducts(ctx context.Context, opts product.ListOpts) ([]*product.Product, error) {
	var models []productModel
	q := s.q.NewSelect(&models)

	argIdx := 0
	if opts.Seller != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("seller = $%d", argIdx), string(opts.Seller))
	}
	if opts.ActiveOnly {
		argIdx++
		q = q.Where(fmt.Sprintf("active = $%d", argIdx), true)
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
		Where("id = $1", stateRowID).
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
		return fmt.Errorf("market/postgres: save state: %w", err)
	}
	return nil
}

// ==================== Event Store ====================

func (s *Store) AppendEvent(ctx context.Context, e *event.Event) error {
	_, err := s.q.NewInsert(toEventModel(e)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("market/postgres: append event %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, eventID id.EventID) error {
	res, err := s.q.NewDelete((*eventModel)(nil)).
		Where("id = $1", eventID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, market.ErrNotFound)
}

func (s *Store) ListEvents(ctx context.Context, opts event.QueryOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.q.NewSelect(&models)

	argIdx := 0
	where := func(col string, v any) {
		argIdx++
		q = q.Where(fmt.Sprintf("%s $%d", col, argIdx), v)
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
