package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/market/event"
	"github.com/xraph/market/types"
)

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := event.NewProductBought(4, "bob", "alice", "Yams", types.USD(75), 2, types.USD(150), types.USD(3), at)
	e.Sequence = 9

	data, err := Encode(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"product.bought"`)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, e, back)

	_, err = Decode([]byte("{"))
	assert.Error(t, err)
}

func TestPartitionKey(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "product-4", PartitionKey(event.NewProductAdded(4, "alice", "Yams", types.USD(75), 2, at)))
	assert.Equal(t, "ledger", PartitionKey(event.NewFeesWithdrawn("owner", types.USD(3), at)))
}
