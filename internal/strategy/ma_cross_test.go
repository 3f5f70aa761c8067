package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aadilkhann/QuantX/internal/events"
	"github.com/aadilkhann/QuantX/pkg/broker"
)

func collectSignals(bus *events.Bus) *[]Signal {
	out := &[]Signal{}
	bus.Subscribe(events.KindSignal, func(e events.Event) {
		*out = append(*out, e.Payload.(Signal))
	})
	return out
}

func tick(symbol string, price float64) broker.Tick {
	return broker.Tick{Symbol: symbol, LastPrice: price, Timestamp: time.Now()}
}

func TestCreateUnknownStrategy(t *testing.T) {
	_, err := Create("nope", nil)
	assert.Error(t, err)
}

func TestCreateValidatesParams(t *testing.T) {
	_, err := Create("ma_cross", map[string]any{})
	assert.Error(t, err)

	_, err = Create("ma_cross", map[string]any{"symbols": []string{"AAPL"}, "fast": 30, "slow": 10})
	assert.Error(t, err)
}

func TestCrossAboveEmitsBuy(t *testing.T) {
	s, err := Create("ma_cross", map[string]any{
		"symbols": []string{"AAPL"}, "fast": 2, "slow": 3, "quantity": 5,
	})
	require.NoError(t, err)

	bus := events.NewBus()
	signals := collectSignals(bus)
	bus.Start()
	defer bus.Stop()

	ctx := NewContext(s.Name(), bus)
	require.NoError(t, s.OnStart(ctx))

	// Declining prices keep fast below slow, then a sharp rise crosses it.
	for _, p := range []float64{110, 105, 100, 95} {
		s.OnTick(ctx, tick("AAPL", p))
	}
	s.OnTick(ctx, tick("AAPL", 130))
	s.OnTick(ctx, tick("AAPL", 140))

	require.Eventually(t, func() bool { return len(*signals) >= 1 }, time.Second, 5*time.Millisecond)
	sig := (*signals)[0]
	assert.Equal(t, broker.SideBuy, sig.Side)
	assert.Equal(t, "AAPL", sig.Symbol)
	assert.Equal(t, int64(5), sig.Quantity)
	assert.Equal(t, "ma_cross", sig.Strategy)
}

func TestCrossBelowSellsOnlyWhenHolding(t *testing.T) {
	s, err := Create("ma_cross", map[string]any{
		"symbols": []string{"AAPL"}, "fast": 2, "slow": 3, "quantity": 5,
	})
	require.NoError(t, err)

	bus := events.NewBus()
	signals := collectSignals(bus)
	bus.Start()
	defer bus.Stop()

	ctx := NewContext(s.Name(), bus)
	require.NoError(t, s.OnStart(ctx))

	for _, p := range []float64{110, 105, 100, 95} {
		s.OnTick(ctx, tick("AAPL", p))
	}
	s.OnTick(ctx, tick("AAPL", 130))
	s.OnTick(ctx, tick("AAPL", 140))
	require.Eventually(t, func() bool { return len(*signals) == 1 }, time.Second, 5*time.Millisecond)

	// Simulate the buy filling, then prices falling back down.
	s.OnFill(ctx, broker.Fill{Symbol: "AAPL", Quantity: 5, Price: 140})
	for _, p := range []float64{90, 80, 70} {
		s.OnTick(ctx, tick("AAPL", p))
	}

	require.Eventually(t, func() bool { return len(*signals) == 2 }, time.Second, 5*time.Millisecond)
	sig := (*signals)[1]
	assert.Equal(t, broker.SideSell, sig.Side)
	assert.Equal(t, int64(5), sig.Quantity)
}

func TestIgnoresForeignSymbols(t *testing.T) {
	s, err := Create("ma_cross", map[string]any{
		"symbols": []string{"AAPL"}, "fast": 2, "slow": 3,
	})
	require.NoError(t, err)

	bus := events.NewBus()
	signals := collectSignals(bus)
	bus.Start()
	defer bus.Stop()

	ctx := NewContext(s.Name(), bus)
	require.NoError(t, s.OnStart(ctx))

	for _, p := range []float64{100, 90, 80, 120, 140, 160} {
		s.OnTick(ctx, tick("MSFT", p))
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, *signals)
}
