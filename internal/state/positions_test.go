package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aadilkhann/QuantX/pkg/broker"
)

func fill(symbol string, qty int64, price, commission float64) broker.Fill {
	return broker.Fill{
		ID: "f", Symbol: symbol, Quantity: qty, Price: price,
		Commission: commission, Timestamp: time.Now(),
	}
}

func TestOpenLong(t *testing.T) {
	b := NewBook()
	p := b.ApplyFill(fill("AAPL", 10, 100, 0))
	assert.Equal(t, int64(10), p.Quantity)
	assert.Equal(t, 100.0, p.AvgEntryPrice)
	assert.Equal(t, 0.0, p.RealizedPnL)
}

func TestAddMovesWeightedAverage(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fill("AAPL", 10, 100, 0))
	p := b.ApplyFill(fill("AAPL", 10, 110, 0))
	assert.Equal(t, int64(20), p.Quantity)
	assert.InDelta(t, 105.0, p.AvgEntryPrice, 1e-9)
}

func TestReduceRealizesAgainstAverage(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fill("AAPL", 10, 100, 0))
	p := b.ApplyFill(fill("AAPL", -4, 110, 0))
	assert.Equal(t, int64(6), p.Quantity)
	assert.InDelta(t, 100.0, p.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 40.0, p.RealizedPnL, 1e-9)
}

func TestCloseZeroesAverageEntry(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fill("AAPL", 10, 100, 0))
	p := b.ApplyFill(fill("AAPL", -10, 90, 0))
	assert.Equal(t, int64(0), p.Quantity)
	assert.Equal(t, 0.0, p.AvgEntryPrice)
	assert.InDelta(t, -100.0, p.RealizedPnL, 1e-9)
	assert.True(t, p.Flat())
}

func TestShortSideRealization(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fill("AAPL", -10, 100, 0))
	p := b.ApplyFill(fill("AAPL", 10, 90, 0))
	assert.Equal(t, int64(0), p.Quantity)
	assert.InDelta(t, 100.0, p.RealizedPnL, 1e-9)
}

func TestFlipThroughZero(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fill("AAPL", 10, 100, 0))
	p := b.ApplyFill(fill("AAPL", -15, 110, 0))
	assert.Equal(t, int64(-5), p.Quantity)
	// New short leg opens at the fill price.
	assert.InDelta(t, 110.0, p.AvgEntryPrice, 1e-9)
	// Only the closed 10 shares realize.
	assert.InDelta(t, 100.0, p.RealizedPnL, 1e-9)
}

func TestCommissionReducesRealized(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fill("AAPL", 10, 100, 1.5))
	p := b.ApplyFill(fill("AAPL", -10, 100, 1.5))
	assert.InDelta(t, -3.0, p.RealizedPnL, 1e-9)
}

func TestSetOverwritesForReconciliation(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fill("AAPL", 10, 100, 0))
	b.Set(broker.Position{Symbol: "AAPL", Quantity: 7, AvgEntryPrice: 101})

	p, ok := b.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(7), p.Quantity)
	assert.Equal(t, 101.0, p.AvgEntryPrice)
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestSnapshotIsACopy(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fill("AAPL", 10, 100, 0))
	snap := b.Snapshot()
	snap["AAPL"] = broker.Position{Symbol: "AAPL", Quantity: 999}

	p, _ := b.Get("AAPL")
	assert.Equal(t, int64(10), p.Quantity)
}

func TestOpenCountSkipsFlat(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fill("AAPL", 10, 100, 0))
	b.ApplyFill(fill("MSFT", 5, 300, 0))
	assert.Equal(t, 2, b.OpenCount())

	b.ApplyFill(fill("MSFT", -5, 310, 0))
	assert.Equal(t, 1, b.OpenCount())

	b.Remove("AAPL")
	assert.Equal(t, 0, b.OpenCount())
}
