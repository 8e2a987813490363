package event

import (
	"context"
	"time"

	"github.com/xraph/market/id"
	"github.com/xraph/market/types"
)

// Store is the append-only event log.
type Store interface {
	AppendEvent(ctx context.Context, e *Event) error
	// DeleteEvent exists only to compensate a failed mutation.
	DeleteEvent(ctx context.Context, eventID id.EventID) error
	ListEvents(ctx context.Context, opts QueryOpts) ([]*Event, error)
}

// QueryOpts filters ListEvents. Zero-valued fields do not filter. Results
// are ordered by Sequence ascending.
type QueryOpts struct {
	Type      Type
	ProductID int64
	Seller    types.Address
	Buyer     types.Address
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// Matches reports whether e passes every filter in o. Backends that cannot
// push a filter down use it to post-filter.
func (o QueryOpts) Matches(e *Event) bool {
	if o.Type != "" && e.Type != o.Type {
		return false
	}
	if o.ProductID != 0 && e.ProductID != o.ProductID {
		return false
	}
	if o.Seller != "" && e.Seller != o.Seller {
		return false
	}
	if o.Buyer != "" && e.Buyer != o.Buyer {
		return false
	}
	if !o.Since.IsZero() && e.Timestamp.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && !e.Timestamp.Before(o.Until) {
		return false
	}
	return true
}
