package product

import (
	"context"

	"github.com/xraph/market/types"
)

// Store persists products keyed by their sequential id.
type Store interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, productID int64) (*Product, error)
	UpdateProduct(ctx context.Context, p *Product) error
	// DeleteProduct exists only to compensate a failed AddProduct; products
	// are never removed from the public surface.
	DeleteProduct(ctx context.Context, productID int64) error
	ListProducts(ctx context.Context, opts ListOpts) ([]*Product, error)
}

// ListOpts filters and pages ListProducts. Results are ordered by id.
type ListOpts struct {
	Seller     types.Address
	ActiveOnly bool
	Limit      int
	Offset     int
}
