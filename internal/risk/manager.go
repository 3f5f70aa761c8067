// Package risk gates every order before it reaches the venue and watches
// portfolio drawdown. The kill switch, once tripped, blocks all new orders
// until an operator resets it.
package risk

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aadilkhann/QuantX/internal/events"
	"github.com/aadilkhann/QuantX/internal/state"
	"github.com/aadilkhann/QuantX/pkg/broker"
)

// Severity ranks violations.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Limits are the configured risk boundaries. Zero values disable the
// corresponding check. Pct limits are fractions: 0.10 means 10%.
type Limits struct {
	MaxPositionSizePct float64 `yaml:"max_position_size_pct"`
	MaxDailyLoss       float64 `yaml:"max_daily_loss"`
	MaxDrawdownPct     float64 `yaml:"max_drawdown_pct"`
	MaxOpenPositions   int     `yaml:"max_open_positions"`
}

// Violation describes a failed check.
type Violation struct {
	Rule     string    `json:"rule"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Result is the outcome of a pre-trade check. A rejected order never
// reaches the venue.
type Result struct {
	Approved  bool       `json:"approved"`
	Violation *Violation `json:"violation,omitempty"`
}

// Manager runs pre-trade checks and the portfolio sweep.
type Manager struct {
	limits Limits
	book   *state.Book
	bus    *events.Bus

	mu         sync.RWMutex
	killSwitch bool
	killReason string
	dailyPnL   float64
	dayStart   time.Time
	peakEquity float64
	violations []Violation
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits Limits, book *state.Book, bus *events.Bus) *Manager {
	return &Manager{
		limits:   limits,
		book:     book,
		bus:      bus,
		dayStart: time.Now(),
	}
}

// CheckOrder evaluates the order against every limit in sequence and stops
// at the first violation. Price is the current mark used for notional
// sizing, equity the account equity.
func (m *Manager) CheckOrder(order broker.Order, price, equity float64) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killSwitch {
		return m.reject("kill_switch", SeverityCritical,
			fmt.Sprintf("kill switch active: %s", m.killReason))
	}

	if m.limits.MaxPositionSizePct > 0 && equity > 0 {
		// The gate sizes the position the order would leave behind, so an
		// order reducing or closing a holding always passes this check.
		var existing int64
		if p, ok := m.book.Get(order.Symbol); ok {
			existing = p.Quantity
		}
		projected := absf(existing+order.SignedQuantity()) * price
		maxNotional := equity * m.limits.MaxPositionSizePct
		if projected > maxNotional {
			return m.reject("max_position_size", SeverityWarning,
				fmt.Sprintf("resulting position %.2f would exceed %.1f%% of equity (%.2f)",
					projected, m.limits.MaxPositionSizePct*100, maxNotional))
		}
	}

	if m.limits.MaxDailyLoss > 0 && m.dailyPnL <= -m.limits.MaxDailyLoss {
		return m.reject("max_daily_loss", SeverityCritical,
			fmt.Sprintf("daily loss %.2f beyond limit %.2f", m.dailyPnL, m.limits.MaxDailyLoss))
	}

	if m.limits.MaxOpenPositions > 0 {
		if _, held := m.book.Get(order.Symbol); !held && m.book.OpenCount() >= m.limits.MaxOpenPositions {
			return m.reject("max_open_positions", SeverityWarning,
				fmt.Sprintf("already holding %d positions, limit %d",
					m.book.OpenCount(), m.limits.MaxOpenPositions))
		}
	}

	return Result{Approved: true}
}

// CheckPortfolio updates the equity high-water mark and trips the kill
// switch when drawdown breaches the limit. Called on every equity update.
func (m *Manager) CheckPortfolio(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.limits.MaxDrawdownPct <= 0 || m.peakEquity <= 0 {
		return
	}
	drawdown := (m.peakEquity - equity) / m.peakEquity
	if drawdown >= m.limits.MaxDrawdownPct && !m.killSwitch {
		reason := fmt.Sprintf("drawdown %.2f%% breached limit %.2f%% (peak %.2f, equity %.2f)",
			drawdown*100, m.limits.MaxDrawdownPct*100, m.peakEquity, equity)
		m.tripLocked(reason)
	}
}

// RecordPnL accumulates realized plus unrealized P&L for the daily loss
// check. The day rolls over at local midnight.
func (m *Manager) RecordPnL(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if now.YearDay() != m.dayStart.YearDay() || now.Year() != m.dayStart.Year() {
		m.dailyPnL = 0
		m.dayStart = now
	}
	m.dailyPnL = pnl
}

// TripKillSwitch halts all new orders. Open positions are untouched.
func (m *Manager) TripKillSwitch(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.killSwitch {
		return
	}
	m.tripLocked(reason)
}

// ResetKillSwitch re-enables trading. Only an explicit operator action
// calls this; no automatic reset exists.
func (m *Manager) ResetKillSwitch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.killSwitch {
		return
	}
	m.killSwitch = false
	m.killReason = ""
	log.Printf("risk: kill switch reset")
}

// KillSwitchActive reports whether trading is halted, with the reason.
func (m *Manager) KillSwitchActive() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.killSwitch, m.killReason
}

// Violations returns recorded violations, newest last.
func (m *Manager) Violations() []Violation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

// Limits returns the configured limits.
func (m *Manager) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

func (m *Manager) tripLocked(reason string) {
	m.killSwitch = true
	m.killReason = reason
	v := Violation{Rule: "kill_switch", Severity: SeverityCritical, Message: reason, Time: time.Now()}
	m.violations = append(m.violations, v)
	log.Printf("risk: KILL SWITCH TRIPPED: %s", reason)
	if m.bus != nil {
		m.bus.Publish(events.New(events.PriorityRisk, events.KindRiskViolation, "risk", v))
	}
}

func (m *Manager) reject(rule string, sev Severity, msg string) Result {
	v := Violation{Rule: rule, Severity: sev, Message: msg, Time: time.Now()}
	m.violations = append(m.violations, v)
	if len(m.violations) > 1000 {
		m.violations = m.violations[len(m.violations)-1000:]
	}
	log.Printf("risk: order rejected (%s): %s", rule, msg)
	if m.bus != nil {
		m.bus.Publish(events.New(events.PriorityRisk, events.KindRiskViolation, "risk", v))
	}
	return Result{Approved: false, Violation: &v}
}

func absf(v int64) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}
