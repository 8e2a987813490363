// Package mongo implements store.Store on MongoDB through the grove ORM.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/market"
	"github.com/xraph/market/event"
	"github.com/xraph/market/id"
	"github.com/xraph/market/product"
	"github.com/xraph/market/state"
	marketstore "github.com/xraph/market/store"
)

// Collection name constants.
const (
	colProducts = "market_products"
	colState    = "market_state"
	colEvents   = "market_events"
)

// compile-time interface check
var _ marketstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all market collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("market/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(toProductModel(p)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: product %d", market.ErrAlreadyExists, p.ID)
		}
		return fmt.Errorf("market/mongo: create product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID int64) (*product.Product, error) {
	var m productModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": productID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, market.ErrProductNotFound
		}
		return nil, fmt.Errorf("market/mongo: get product: %w", err)
	}
	return fromProductModel(&m), nil
}

func (s *Store) UpdateProduct(ctx context.Context, p *product.Product) error {
	m := toProductModel(p)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("market/mongo: update product: %w", err)
	}
	if res.MatchedCount() == 0 {
		return market.ErrProductNotFound
	}
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, productID int64) error {
	res, err := s.mdb.NewDelete((*productModel)(nil)).
		Filter(bson.M{"_id": productID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("market/mongo: delete product: %w", err)
	}
	if res.DeletedCount() == 0 {
		return market.ErrProductNotFound
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, opts product.ListOpts) ([]*product.Product, error) {
	var models []productModel

	filter := bson.M{}
	if opts.Seller != "" {
		filter["seller"] = string(opts.Seller)
	}
	if opts.ActiveOnly {
		filter["active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("market/mongo: list products: %w", err)
	}

	result := make([]*product.Product, len(models))
	for i := range models {
		result[i] = fromProductModel(&models[i])
	}
	return result, nil
}

// ==================== State Store ====================

func (s *Store) GetState(ctx context.Context) (*state.State, error) {
	var m stateModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": stateDocID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: ledger state", market.ErrNotFound)
		}
		return nil, fmt.Errorf("market/mongo: get state: %w", err)
	}
	return fromStateModel(&m), nil
}

func (s *Store) SaveState(ctx context.Context, st *state.State) error {
	m := toStateModel(st)

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{"$set": bson.M{
			"product_count": m.ProductCount,
			"event_count":   m.EventCount,
			"accrued_fees":  m.AccruedFees,
			"owner":         m.Owner,
			"fee_percent":   m.FeePercent,
			"currency":      m.Currency,
			"updated_at":    m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("market/mongo: save state: %w", err)
	}
	return nil
}

// ==================== Event Store ====================

func (s *Store) AppendEvent(ctx context.Context, e *event.Event) error {
	_, err := s.mdb.NewInsert(toEventModel(e)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: event %s", market.ErrAlreadyExists, e.ID)
		}
		return fmt.Errorf("market/mongo: append event: %w", err)
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, eventID id.EventID) error {
	res, err := s.mdb.NewDelete((*eventModel)(nil)).
		Filter(bson.M{"_id": eventID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("market/mongo: delete event: %w", err)
	}
	if res.DeletedCount() == 0 {
		return market.ErrNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, opts event.QueryOpts) ([]*event.Event, error) {
	var models []eventModel

	q := s.mdb.NewFind(&models).
		Filter(eventFilter(opts)).
		Sort(bson.D{{Key: "sequence", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("market/mongo: list events: %w", err)
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

func eventFilter(opts event.QueryOpts) bson.M {
	filter := bson.M{}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.ProductID != 0 {
		filter["product_id"] = opts.ProductID
	}
	if opts.Seller != "" {
		filter["seller"] = string(opts.Seller)
	}
	if opts.Buyer != "" {
		filter["buyer"] = string(opts.Buyer)
	}
	window := bson.M{}
	if !opts.Since.IsZero() {
		window["$gte"] = opts.Since.UTC()
	}
	if !opts.Until.IsZero() {
		window["$lt"] = opts.Until.UTC()
	}
	if len(window) > 0 {
		filter["timestamp"] = window
	}
	return filter
}

// ==================== Helpers ====================

// isNoDocuments checks for the mongo no-documents sentinel.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all market collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colProducts: {
			{Keys: bson.D{{Key: "seller", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "_id", Value: 1}}},
		},
		colState: {},
		colEvents: {
			{
				Keys:    bson.D{{Key: "sequence", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "sequence", Value: 1}}},
			{Keys: bson.D{{Key: "product_id", Value: 1}, {Key: "sequence", Value: 1}}},
			{Keys: bson.D{{Key: "seller", Value: 1}, {Key: "sequence", Value: 1}}},
			{Keys: bson.D{{Key: "buyer", Value: 1}, {Key: "sequence", Value: 1}}},
		},
	}
}
