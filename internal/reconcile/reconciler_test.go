package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aadilkhann/QuantX/internal/state"
	"github.com/aadilkhann/QuantX/pkg/broker"
)

type stubVenue struct {
	positions []broker.Position
	err       error
}

func (s *stubVenue) Connect(ctx context.Context) error { return nil }
func (s *stubVenue) Disconnect() error                 { return nil }
func (s *stubVenue) IsConnected() bool                 { return true }
func (s *stubVenue) OnFill(broker.FillHandler)         {}
func (s *stubVenue) OnCancel(broker.CancelHandler)     {}
func (s *stubVenue) SubmitOrder(ctx context.Context, o broker.Order) (string, error) {
	return "", nil
}
func (s *stubVenue) CancelOrder(ctx context.Context, id string) error { return nil }
func (s *stubVenue) GetAccount(ctx context.Context) (broker.Account, error) {
	return broker.Account{}, nil
}
func (s *stubVenue) GetQuote(ctx context.Context, symbol string) (broker.Quote, error) {
	return broker.Quote{}, nil
}
func (s *stubVenue) GetPositions(ctx context.Context) ([]broker.Position, error) {
	return s.positions, s.err
}

type memRecorder struct {
	recorded []Discrepancy
}

func (m *memRecorder) RecordDiscrepancy(d Discrepancy) error {
	m.recorded = append(m.recorded, d)
	return nil
}

func TestCleanWhenInSync(t *testing.T) {
	book := state.NewBook()
	book.Set(broker.Position{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100})
	venue := &stubVenue{positions: []broker.Position{
		{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100},
	}}

	r := New(venue, book, nil, nil, time.Minute)
	report := r.Run(context.Background())
	assert.True(t, report.Clean())
	assert.Equal(t, 1, report.Checked)
}

func TestQuantityMismatchVenueWins(t *testing.T) {
	book := state.NewBook()
	book.Set(broker.Position{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100})
	venue := &stubVenue{positions: []broker.Position{
		{Symbol: "AAPL", Quantity: 7, AvgEntryPrice: 100},
	}}

	rec := &memRecorder{}
	r := New(venue, book, nil, rec, time.Minute)
	report := r.Run(context.Background())

	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, QuantityMismatch, d.Type)
	assert.Equal(t, int64(10), d.LocalQty)
	assert.Equal(t, int64(7), d.BrokerQty)

	p, ok := book.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(7), p.Quantity)
	assert.Len(t, rec.recorded, 1)
}

func TestMissingLocalAdopted(t *testing.T) {
	book := state.NewBook()
	venue := &stubVenue{positions: []broker.Position{
		{Symbol: "TSLA", Quantity: 3, AvgEntryPrice: 200},
	}}

	r := New(venue, book, nil, nil, time.Minute)
	report := r.Run(context.Background())

	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, MissingLocal, report.Discrepancies[0].Type)

	p, ok := book.Get("TSLA")
	require.True(t, ok)
	assert.Equal(t, int64(3), p.Quantity)
	assert.Equal(t, 200.0, p.AvgEntryPrice)
}

func TestMissingBrokerRemoved(t *testing.T) {
	book := state.NewBook()
	book.Set(broker.Position{Symbol: "NVDA", Quantity: 5, AvgEntryPrice: 400})
	venue := &stubVenue{}

	r := New(venue, book, nil, nil, time.Minute)
	report := r.Run(context.Background())

	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, MissingBroker, report.Discrepancies[0].Type)
	_, ok := book.Get("NVDA")
	assert.False(t, ok)
}

func TestClosedRoundTripIsNotADiscrepancy(t *testing.T) {
	book := state.NewBook()
	now := time.Now()
	book.ApplyFill(broker.Fill{ID: "f1", Symbol: "AAPL", Quantity: 10, Price: 100, Timestamp: now})
	book.ApplyFill(broker.Fill{ID: "f2", Symbol: "AAPL", Quantity: -10, Price: 101, Timestamp: now})

	// Flat locally, nothing at the venue: same truth, no discrepancy.
	rec := &memRecorder{}
	r := New(&stubVenue{}, book, nil, rec, time.Minute)
	report := r.Run(context.Background())

	assert.True(t, report.Clean())
	assert.Empty(t, rec.recorded)

	// The stale flat entry is dropped from the book.
	_, ok := book.Get("AAPL")
	assert.False(t, ok)
}

func TestSecondPassIsClean(t *testing.T) {
	book := state.NewBook()
	book.Set(broker.Position{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100})
	book.Set(broker.Position{Symbol: "NVDA", Quantity: 5, AvgEntryPrice: 400})
	venue := &stubVenue{positions: []broker.Position{
		{Symbol: "AAPL", Quantity: 7, AvgEntryPrice: 100},
		{Symbol: "TSLA", Quantity: 3, AvgEntryPrice: 200},
	}}

	r := New(venue, book, nil, nil, time.Minute)
	first := r.Run(context.Background())
	assert.Len(t, first.Discrepancies, 3)

	second := r.Run(context.Background())
	assert.True(t, second.Clean(), "state already corrected, expected clean pass")
}

func TestVenueErrorReported(t *testing.T) {
	book := state.NewBook()
	book.Set(broker.Position{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100})
	venue := &stubVenue{err: errors.New("gateway timeout")}

	r := New(venue, book, nil, nil, time.Minute)
	report := r.Run(context.Background())
	assert.False(t, report.Clean())
	assert.Contains(t, report.Err, "gateway timeout")

	// Local state untouched on fetch failure.
	p, ok := book.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(10), p.Quantity)
}

func TestLastReportStored(t *testing.T) {
	book := state.NewBook()
	venue := &stubVenue{}
	r := New(venue, book, nil, nil, time.Minute)

	assert.True(t, r.LastReport().RanAt.IsZero())
	report := r.Run(context.Background())
	assert.Equal(t, report.RanAt, r.LastReport().RanAt)
}
