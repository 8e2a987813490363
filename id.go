package market

import "github.com/xraph/market/id"

// ID is the TypeID identifier used for events, receipts and transfers.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
