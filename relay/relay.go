// Package relay holds the wire format shared by the event relays. Relays are
// plugins that republish every committed ledger event to an external stream
// so indexers can rebuild product and profile views without querying the
// ledger.
package relay

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/xraph/market/event"
)

// ContentType is the media type of encoded events.
const ContentType = "application/json"

// Encode returns the JSON payload of e.
func Encode(e *event.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("relay: encode event %s: %w", e.ID, err)
	}
	return data, nil
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (*event.Event, error) {
	var e event.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("relay: decode event: %w", err)
	}
	return &e, nil
}

// PartitionKey keys product events by product so a product's history stays
// ordered within one partition. Owner events share a single key.
func PartitionKey(e *event.Event) string {
	if e.ProductID != 0 {
		return "product-" + strconv.FormatInt(e.ProductID, 10)
	}
	return "ledger"
}
