package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aadilkhann/QuantX/internal/events"
	"github.com/aadilkhann/QuantX/internal/risk"
	"github.com/aadilkhann/QuantX/internal/state"
	"github.com/aadilkhann/QuantX/pkg/broker"
	paperbroker "github.com/aadilkhann/QuantX/pkg/broker/paper"
	"github.com/aadilkhann/QuantX/pkg/cache"
)

// stubVenue records submissions and lets tests force errors.
type stubVenue struct {
	submitted []broker.Order
	cancelled []string
	submitErr error
	cancelErr error
	nextID    int
}

func (s *stubVenue) Connect(ctx context.Context) error { return nil }
func (s *stubVenue) Disconnect() error                 { return nil }
func (s *stubVenue) IsConnected() bool                 { return true }
func (s *stubVenue) OnFill(broker.FillHandler)         {}
func (s *stubVenue) OnCancel(broker.CancelHandler)     {}

func (s *stubVenue) SubmitOrder(ctx context.Context, o broker.Order) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.nextID++
	s.submitted = append(s.submitted, o)
	return "venue-1", nil
}

func (s *stubVenue) CancelOrder(ctx context.Context, id string) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, id)
	return nil
}

func (s *stubVenue) GetPositions(ctx context.Context) ([]broker.Position, error) {
	return nil, nil
}
func (s *stubVenue) GetAccount(ctx context.Context) (broker.Account, error) {
	return broker.Account{Equity: 100_000}, nil
}
func (s *stubVenue) GetQuote(ctx context.Context, symbol string) (broker.Quote, error) {
	return broker.Quote{}, nil
}

func newTestManager(t *testing.T, venue broker.Broker, limits risk.Limits) (*Manager, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	book := state.NewBook()
	quotes := cache.NewQuoteCache()
	quotes.SetLast("AAPL", 100.0)
	rm := risk.NewManager(limits, book, bus)
	m := NewManager(venue, rm, book, bus, quotes, func() float64 { return 100_000 })
	return m, bus
}

func marketBuy(qty int64) broker.Order {
	return broker.Order{Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeMarket, Quantity: qty}
}

func TestSubmitHappyPath(t *testing.T) {
	venue := &stubVenue{}
	m, _ := newTestManager(t, venue, risk.Limits{})

	o, err := m.Submit(context.Background(), marketBuy(10))
	require.NoError(t, err)
	assert.Equal(t, broker.StatusPending, o.Status)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "venue-1", o.BrokerOrderID)
	require.Len(t, venue.submitted, 1)

	got, ok := m.Get(o.ID)
	require.True(t, ok)
	assert.Equal(t, broker.StatusPending, got.Status)
}

func TestRiskRejectionNeverReachesVenue(t *testing.T) {
	venue := &stubVenue{}
	m, _ := newTestManager(t, venue, risk.Limits{MaxPositionSizePct: 0.01})

	// 1000 shares at 100 is 100k notional against a 1k cap.
	o, err := m.Submit(context.Background(), marketBuy(1000))
	require.NoError(t, err)
	assert.Equal(t, broker.StatusRejected, o.Status)
	assert.Contains(t, o.Reason, "exceed")
	assert.Empty(t, venue.submitted)
}

func TestConnectionErrorRejectsWithReason(t *testing.T) {
	venue := &stubVenue{submitErr: &broker.ConnectionError{Op: "submit", Err: errors.New("dial tcp: timeout")}}
	m, _ := newTestManager(t, venue, risk.Limits{})

	o, err := m.Submit(context.Background(), marketBuy(10))
	require.Error(t, err)
	assert.Equal(t, broker.StatusRejected, o.Status)
	assert.Equal(t, "connection_error", o.Reason)
}

func TestValidationErrorsBeforeAnything(t *testing.T) {
	venue := &stubVenue{}
	m, _ := newTestManager(t, venue, risk.Limits{})

	cases := []broker.Order{
		{Side: broker.SideBuy, Type: broker.OrderTypeMarket, Quantity: 1},
		{Symbol: "AAPL", Type: broker.OrderTypeMarket, Quantity: 1},
		{Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeMarket, Quantity: 0},
		{Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeLimit, Quantity: 1},
		{Symbol: "AAPL", Side: broker.SideBuy, Type: "ICEBERG", Quantity: 1},
	}
	for _, c := range cases {
		_, err := m.Submit(context.Background(), c)
		assert.True(t, broker.IsValidationError(err), "order %+v", c)
	}
	assert.Empty(t, venue.submitted)
}

func TestFillsAdvanceLifecycle(t *testing.T) {
	venue := &stubVenue{}
	m, _ := newTestManager(t, venue, risk.Limits{})

	o, err := m.Submit(context.Background(), marketBuy(10))
	require.NoError(t, err)

	m.ProcessFill(broker.Fill{
		ID: "f1", OrderID: o.ID, BrokerOrderID: o.BrokerOrderID,
		Symbol: "AAPL", Quantity: 4, Price: 100.0, Timestamp: time.Now(),
	})
	got, _ := m.Get(o.ID)
	assert.Equal(t, broker.StatusPartiallyFilled, got.Status)
	assert.Equal(t, int64(4), got.FilledQty)

	m.ProcessFill(broker.Fill{
		ID: "f2", OrderID: o.ID, BrokerOrderID: o.BrokerOrderID,
		Symbol: "AAPL", Quantity: 6, Price: 101.0, Timestamp: time.Now(),
	})
	got, _ = m.Get(o.ID)
	assert.Equal(t, broker.StatusFilled, got.Status)
	assert.Equal(t, int64(10), got.FilledQty)
	assert.InDelta(t, 100.6, got.AvgFillPrice, 1e-9)
	assert.Empty(t, m.Open())
}

func TestFillMatchedByVenueID(t *testing.T) {
	venue := &stubVenue{}
	m, _ := newTestManager(t, venue, risk.Limits{})

	o, err := m.Submit(context.Background(), marketBuy(5))
	require.NoError(t, err)

	m.ProcessFill(broker.Fill{
		ID: "f1", BrokerOrderID: o.BrokerOrderID,
		Symbol: "AAPL", Quantity: 5, Price: 100.0, Timestamp: time.Now(),
	})
	got, _ := m.Get(o.ID)
	assert.Equal(t, broker.StatusFilled, got.Status)
}

func TestCancelOnlyWhileOpen(t *testing.T) {
	venue := &stubVenue{}
	m, _ := newTestManager(t, venue, risk.Limits{})

	o, err := m.Submit(context.Background(), marketBuy(10))
	require.NoError(t, err)

	require.NoError(t, m.Cancel(context.Background(), o.ID))
	assert.Equal(t, []string{o.BrokerOrderID}, venue.cancelled)

	// Cancel is request-only; status stays PENDING until the venue confirms.
	got, _ := m.Get(o.ID)
	assert.Equal(t, broker.StatusPending, got.Status)

	m.ProcessCancelled(o.BrokerOrderID)
	got, _ = m.Get(o.ID)
	assert.Equal(t, broker.StatusCancelled, got.Status)

	var ise *InvalidStateError
	err = m.Cancel(context.Background(), o.ID)
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, broker.StatusCancelled, ise.Status)
}

func TestCancelUnknownOrder(t *testing.T) {
	venue := &stubVenue{}
	m, _ := newTestManager(t, venue, risk.Limits{})
	assert.ErrorIs(t, m.Cancel(context.Background(), "nope"), broker.ErrOrderNotFound)
}

func TestFillUpdatesPositionBook(t *testing.T) {
	venue := &stubVenue{}
	m, bus := newTestManager(t, venue, risk.Limits{})

	var published []events.Event
	bus.Subscribe(events.KindPositionUpdated, func(e events.Event) {
		published = append(published, e)
	})
	bus.Start()
	defer bus.Stop()

	o, err := m.Submit(context.Background(), marketBuy(10))
	require.NoError(t, err)
	m.ProcessFill(broker.Fill{
		ID: "f1", OrderID: o.ID, Symbol: "AAPL", Quantity: 10, Price: 100.0, Timestamp: time.Now(),
	})

	require.Eventually(t, func() bool { return len(published) == 1 }, time.Second, 5*time.Millisecond)
	pos := published[0].Payload.(broker.Position)
	assert.Equal(t, int64(10), pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgEntryPrice)
}

// The paper venue delivers market-order fills inside SubmitOrder, so the
// manager must already be tracking the order when they arrive.
func TestMarketOrderFillsOnSimulatedVenue(t *testing.T) {
	bus := events.NewBus()
	book := state.NewBook()
	quotes := cache.NewQuoteCache()
	quotes.SetLast("AAPL", 50.0)

	venue := paperbroker.New(paperbroker.Config{InitialCapital: 100_000}, quotes)
	require.NoError(t, venue.Connect(context.Background()))

	rm := risk.NewManager(risk.Limits{}, book, bus)
	m := NewManager(venue, rm, book, bus, quotes, func() float64 { return 100_000 })
	venue.OnFill(m.ProcessFill)
	venue.OnCancel(m.ProcessCancelled)

	o, err := m.Submit(context.Background(), marketBuy(100))
	require.NoError(t, err)

	assert.Equal(t, broker.StatusFilled, o.Status)
	assert.Equal(t, int64(100), o.FilledQty)
	assert.NotEmpty(t, o.BrokerOrderID)

	got, ok := m.Get(o.ID)
	require.True(t, ok)
	assert.Equal(t, broker.StatusFilled, got.Status)
	assert.Empty(t, m.Open())

	pos, ok := book.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(100), pos.Quantity)
	assert.Equal(t, 50.0, pos.AvgEntryPrice)
}

func TestCancelConfirmationAfterTerminalIgnored(t *testing.T) {
	venue := &stubVenue{}
	m, bus := newTestManager(t, venue, risk.Limits{})

	o, err := m.Submit(context.Background(), marketBuy(10))
	require.NoError(t, err)
	m.ProcessFill(broker.Fill{
		ID: "f1", OrderID: o.ID, Symbol: "AAPL", Quantity: 10, Price: 100.0, Timestamp: time.Now(),
	})

	depth := bus.GetStats().QueueDepth
	m.ProcessCancelled(o.BrokerOrderID)

	got, _ := m.Get(o.ID)
	assert.Equal(t, broker.StatusFilled, got.Status)
	// No lifecycle event for a no-op confirmation.
	assert.Equal(t, depth, bus.GetStats().QueueDepth)
}
