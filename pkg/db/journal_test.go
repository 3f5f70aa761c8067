package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aadilkhann/QuantX/internal/reconcile"
	"github.com/aadilkhann/QuantX/pkg/broker"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestOrderRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	o := broker.Order{
		ID: "ord-1", Symbol: "AAPL", Side: broker.SideBuy,
		Type: broker.OrderTypeLimit, Quantity: 10, LimitPrice: 99.5,
		Status: broker.StatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, j.UpsertOrder(o))

	// Status advances on upsert.
	o.Status = broker.StatusFilled
	o.FilledQty = 10
	o.AvgFillPrice = 99.4
	require.NoError(t, j.UpsertOrder(o))

	orders, err := j.Orders(10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, broker.StatusFilled, orders[0].Status)
	assert.Equal(t, int64(10), orders[0].FilledQty)
	assert.InDelta(t, 99.4, orders[0].AvgFillPrice, 1e-9)
}

func TestFillReplayIgnored(t *testing.T) {
	j := openTestJournal(t)

	f := broker.Fill{
		ID: "fill-1", OrderID: "ord-1", Symbol: "AAPL",
		Quantity: 5, Price: 100.0, Commission: 0.5, Timestamp: time.Now(),
	}
	require.NoError(t, j.RecordFill(f))
	require.NoError(t, j.RecordFill(f))

	fills, err := j.Fills("ord-1")
	require.NoError(t, err)
	assert.Len(t, fills, 1)
}

func TestPositionDeletedWhenFlat(t *testing.T) {
	j := openTestJournal(t)

	p := broker.Position{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100, UpdatedAt: time.Now()}
	require.NoError(t, j.UpsertPosition(p))

	p.Quantity = 0
	require.NoError(t, j.UpsertPosition(p))

	var count int
	require.NoError(t, j.DB.QueryRow(`SELECT COUNT(*) FROM positions`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestDiscrepancyAudit(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.RecordDiscrepancy(reconcile.Discrepancy{
		Symbol: "AAPL", Type: reconcile.QuantityMismatch,
		LocalQty: 10, BrokerQty: 7, Action: "overwrote", Time: time.Now(),
	}))

	var count int
	require.NoError(t, j.DB.QueryRow(`SELECT COUNT(*) FROM discrepancies`).Scan(&count))
	assert.Equal(t, 1, count)
}
