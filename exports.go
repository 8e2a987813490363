package market

import (
	"github.com/xraph/market/event"
	"github.com/xraph/market/product"
	"github.com/xraph/market/types"
)

// Re-export common types for convenience so users don't have to import the
// subpackages for everyday calls.

// Money is re-exported from types package.
type Money = types.Money

// Address is re-exported from types package.
type Address = types.Address

// Product is re-exported from product package.
type Product = product.Product

// Event is re-exported from event package.
type Event = event.Event

// Re-export Money and Address constructors
var (
	USD          = types.USD
	EUR          = types.EUR
	GBP          = types.GBP
	JPY          = types.JPY
	Zero         = types.Zero
	ParseMoney   = types.ParseMoney
	ParseAddress = types.ParseAddress
)

// NoAddress is the zero address.
const NoAddress = types.NoAddress
