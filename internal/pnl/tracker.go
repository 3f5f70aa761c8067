// Package pnl tracks realized and unrealized profit and loss. Realized
// P&L accumulates from position updates, unrealized is marked to the
// latest price.
package pnl

import (
	"sync"
	"time"

	"github.com/aadilkhann/QuantX/internal/state"
	"github.com/aadilkhann/QuantX/pkg/broker"
)

// Snapshot is a point-in-time P&L view.
type Snapshot struct {
	Realized    float64   `json:"realized"`
	Unrealized  float64   `json:"unrealized"`
	Total       float64   `json:"total"`
	DailyPnL    float64   `json:"daily_pnl"`
	Equity      float64   `json:"equity"`
	PeakEquity  float64   `json:"peak_equity"`
	DrawdownPct float64   `json:"drawdown_pct"`
	Commission  float64   `json:"commission"`
	Fills       int64     `json:"fills"`
	Time        time.Time `json:"time"`
}

// DailySummary is one closed trading day.
type DailySummary struct {
	Date       string  `json:"date"`
	Realized   float64 `json:"realized"`
	Commission float64 `json:"commission"`
	Fills      int64   `json:"fills"`
}

// Tracker maintains running P&L against the position book. Realized P&L
// comes from per-symbol deltas of the book's running totals, which are
// already net of commission.
type Tracker struct {
	book *state.Book

	mu           sync.RWMutex
	startCash    float64
	realized     float64
	commission   float64
	fills        int64
	peakEquity   float64
	marks        map[string]float64
	lastRealized map[string]float64
	dayKey       string
	dayRealized  float64
	dayComm      float64
	dayFills     int64
	history      []DailySummary
}

// NewTracker creates a tracker. startCash seeds equity before any fills.
func NewTracker(book *state.Book, startCash float64) *Tracker {
	return &Tracker{
		book:         book,
		startCash:    startCash,
		peakEquity:   startCash,
		marks:        make(map[string]float64),
		lastRealized: make(map[string]float64),
		dayKey:       dayOf(time.Now()),
	}
}

// OnFill counts a fill and its commission for reporting.
func (t *Tracker) OnFill(f broker.Fill) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDayLocked(f.Timestamp)
	t.commission += f.Commission
	t.fills++
	t.dayComm += f.Commission
	t.dayFills++
}

// OnPosition folds a position update's realized P&L delta into the totals.
func (t *Tracker) OnPosition(p broker.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDayLocked(p.UpdatedAt)
	delta := p.RealizedPnL - t.lastRealized[p.Symbol]
	t.lastRealized[p.Symbol] = p.RealizedPnL
	t.realized += delta
	t.dayRealized += delta
}

// Mark updates the price used for unrealized P&L on symbol.
func (t *Tracker) Mark(symbol string, price float64) {
	t.mu.Lock()
	t.marks[symbol] = price
	t.mu.Unlock()
}

// Snapshot computes the current P&L picture and advances the equity
// high-water mark.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDayLocked(time.Now())

	unrealized := 0.0
	for sym, p := range t.book.Snapshot() {
		mark, ok := t.marks[sym]
		if !ok {
			continue
		}
		unrealized += (mark - p.AvgEntryPrice) * float64(p.Quantity)
	}

	equity := t.startCash + t.realized + unrealized
	if equity > t.peakEquity {
		t.peakEquity = equity
	}
	drawdown := 0.0
	if t.peakEquity > 0 {
		drawdown = (t.peakEquity - equity) / t.peakEquity * 100
	}

	return Snapshot{
		Realized:    t.realized,
		Unrealized:  unrealized,
		Total:       t.realized + unrealized,
		DailyPnL:    t.dayRealized + unrealized,
		Equity:      equity,
		PeakEquity:  t.peakEquity,
		DrawdownPct: drawdown,
		Commission:  t.commission,
		Fills:       t.fills,
		Time:        time.Now(),
	}
}

// History returns closed daily summaries, oldest first.
func (t *Tracker) History() []DailySummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]DailySummary, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) rollDayLocked(now time.Time) {
	if now.IsZero() {
		return
	}
	key := dayOf(now)
	if key == t.dayKey {
		return
	}
	t.history = append(t.history, DailySummary{
		Date:       t.dayKey,
		Realized:   t.dayRealized,
		Commission: t.dayComm,
		Fills:      t.dayFills,
	})
	t.dayKey = key
	t.dayRealized = 0
	t.dayComm = 0
	t.dayFills = 0
}

func dayOf(t time.Time) string { return t.Format("2006-01-02") }
