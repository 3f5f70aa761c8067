package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aadilkhann/QuantX/pkg/broker"
	"github.com/aadilkhann/QuantX/pkg/cache"
)

func newTestBroker(t *testing.T, cfg Config) *Broker {
	t.Helper()
	quotes := cache.NewQuoteCache()
	b := New(cfg, quotes)
	require.NoError(t, b.Connect(context.Background()))
	return b
}

func TestMarketOrderFillsImmediately(t *testing.T) {
	b := newTestBroker(t, Config{InitialCapital: 100_000})
	b.MarkPrice("AAPL", 150.0)

	var fills []broker.Fill
	b.OnFill(func(f broker.Fill) { fills = append(fills, f) })

	id, err := b.SubmitOrder(context.Background(), broker.Order{
		ID: "ord-1", Symbol: "AAPL", Side: broker.SideBuy,
		Type: broker.OrderTypeMarket, Quantity: 10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, fills, 1)
	assert.Equal(t, int64(10), fills[0].Quantity)
	assert.Equal(t, 150.0, fills[0].Price)
	assert.NotEmpty(t, fills[0].ID)

	positions, err := b.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].Quantity)

	acct, err := b.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100_000-1500, acct.Cash, 1e-9)
	assert.InDelta(t, 100_000, acct.Equity, 1e-9)
}

func TestSlippageMovesAgainstTrader(t *testing.T) {
	b := newTestBroker(t, Config{InitialCapital: 100_000, SlippageBps: 10})
	b.MarkPrice("AAPL", 100.0)

	var fills []broker.Fill
	b.OnFill(func(f broker.Fill) { fills = append(fills, f) })

	_, err := b.SubmitOrder(context.Background(), broker.Order{
		ID: "ord-1", Symbol: "AAPL", Side: broker.SideBuy,
		Type: broker.OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.InDelta(t, 100.10, fills[0].Price, 1e-9)

	_, err = b.SubmitOrder(context.Background(), broker.Order{
		ID: "ord-2", Symbol: "AAPL", Side: broker.SideSell,
		Type: broker.OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.InDelta(t, 99.90, fills[1].Price, 1e-9)
	assert.Equal(t, int64(-1), fills[1].Quantity)
}

func TestCommissionCharged(t *testing.T) {
	b := newTestBroker(t, Config{InitialCapital: 10_000, CommissionFlat: 1.0, CommissionPS: 0.01})
	b.MarkPrice("MSFT", 100.0)

	var fills []broker.Fill
	b.OnFill(func(f broker.Fill) { fills = append(fills, f) })

	_, err := b.SubmitOrder(context.Background(), broker.Order{
		ID: "ord-1", Symbol: "MSFT", Side: broker.SideBuy,
		Type: broker.OrderTypeMarket, Quantity: 50,
	})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.InDelta(t, 1.5, fills[0].Commission, 1e-9)

	acct, err := b.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10_000-5000-1.5, acct.Cash, 1e-9)
}

func TestLimitOrderRestsUntilCrossed(t *testing.T) {
	b := newTestBroker(t, Config{InitialCapital: 100_000})
	b.MarkPrice("TSLA", 200.0)

	var fills []broker.Fill
	b.OnFill(func(f broker.Fill) { fills = append(fills, f) })

	_, err := b.SubmitOrder(context.Background(), broker.Order{
		ID: "ord-1", Symbol: "TSLA", Side: broker.SideBuy,
		Type: broker.OrderTypeLimit, LimitPrice: 195.0, Quantity: 5,
	})
	require.NoError(t, err)
	assert.Empty(t, fills)

	b.MarkPrice("TSLA", 198.0)
	assert.Empty(t, fills)

	b.MarkPrice("TSLA", 194.5)
	require.Len(t, fills, 1)
	assert.Equal(t, 195.0, fills[0].Price)
	assert.Equal(t, int64(5), fills[0].Quantity)
}

func TestCancelRestingOrder(t *testing.T) {
	b := newTestBroker(t, Config{InitialCapital: 100_000})
	b.MarkPrice("TSLA", 200.0)

	id, err := b.SubmitOrder(context.Background(), broker.Order{
		ID: "ord-1", Symbol: "TSLA", Side: broker.SideBuy,
		Type: broker.OrderTypeLimit, LimitPrice: 190.0, Quantity: 5,
	})
	require.NoError(t, err)

	var confirmed []string
	b.OnCancel(func(brokerOrderID string) { confirmed = append(confirmed, brokerOrderID) })

	require.NoError(t, b.CancelOrder(context.Background(), id))
	assert.Equal(t, []string{id}, confirmed)
	assert.ErrorIs(t, b.CancelOrder(context.Background(), id), broker.ErrOrderNotFound)

	var fills []broker.Fill
	b.OnFill(func(f broker.Fill) { fills = append(fills, f) })
	b.MarkPrice("TSLA", 185.0)
	assert.Empty(t, fills)
}

func TestInsufficientFundsRejected(t *testing.T) {
	b := newTestBroker(t, Config{InitialCapital: 100})
	b.MarkPrice("AAPL", 150.0)

	_, err := b.SubmitOrder(context.Background(), broker.Order{
		ID: "ord-1", Symbol: "AAPL", Side: broker.SideBuy,
		Type: broker.OrderTypeMarket, Quantity: 10,
	})
	require.Error(t, err)
	assert.True(t, broker.IsValidationError(err))
}

func TestRejectsWhenDisconnected(t *testing.T) {
	quotes := cache.NewQuoteCache()
	b := New(Config{}, quotes)

	_, err := b.SubmitOrder(context.Background(), broker.Order{
		ID: "ord-1", Symbol: "AAPL", Side: broker.SideBuy,
		Type: broker.OrderTypeMarket, Quantity: 1,
	})
	assert.ErrorIs(t, err, broker.ErrNotConnected)
}

func TestValidationRules(t *testing.T) {
	b := newTestBroker(t, Config{InitialCapital: 100_000})
	b.MarkPrice("AAPL", 150.0)

	cases := []struct {
		name  string
		order broker.Order
	}{
		{"zero quantity", broker.Order{ID: "o", Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeMarket, Quantity: 0}},
		{"negative quantity", broker.Order{ID: "o", Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeMarket, Quantity: -5}},
		{"limit without price", broker.Order{ID: "o", Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeLimit, Quantity: 1}},
		{"stop without price", broker.Order{ID: "o", Symbol: "AAPL", Side: broker.SideSell, Type: broker.OrderTypeStop, Quantity: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.SubmitOrder(context.Background(), tc.order)
			assert.True(t, broker.IsValidationError(err))
		})
	}
}

func TestRoundTripRealizesCashDelta(t *testing.T) {
	b := newTestBroker(t, Config{InitialCapital: 10_000})
	b.MarkPrice("NVDA", 100.0)

	_, err := b.SubmitOrder(context.Background(), broker.Order{
		ID: "buy", Symbol: "NVDA", Side: broker.SideBuy,
		Type: broker.OrderTypeMarket, Quantity: 10,
	})
	require.NoError(t, err)

	b.MarkPrice("NVDA", 110.0)
	_, err = b.SubmitOrder(context.Background(), broker.Order{
		ID: "sell", Symbol: "NVDA", Side: broker.SideSell,
		Type: broker.OrderTypeMarket, Quantity: 10,
	})
	require.NoError(t, err)

	positions, err := b.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)

	acct, err := b.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10_100, acct.Cash, 1e-9)
}
