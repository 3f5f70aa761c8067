// Package engine owns the live trading lifecycle. It wires the event bus,
// venue, order manager, risk manager, reconciler and strategy together
// and drives them through an explicit state machine.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aadilkhann/QuantX/internal/events"
	"github.com/aadilkhann/QuantX/internal/market"
	"github.com/aadilkhann/QuantX/internal/monitor"
	"github.com/aadilkhann/QuantX/internal/order"
	"github.com/aadilkhann/QuantX/internal/pnl"
	"github.com/aadilkhann/QuantX/internal/reconcile"
	"github.com/aadilkhann/QuantX/internal/risk"
	"github.com/aadilkhann/QuantX/internal/state"
	"github.com/aadilkhann/QuantX/internal/strategy"
	"github.com/aadilkhann/QuantX/pkg/broker"
)

// Config holds engine timing knobs.
type Config struct {
	ReconcileInterval time.Duration
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
}

func (c *Config) defaults() {
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}

// Stats is a point-in-time engine summary.
type Stats struct {
	State         State            `json:"state"`
	StartedAt     time.Time        `json:"started_at,omitempty"`
	Uptime        string           `json:"uptime,omitempty"`
	SignalsSeen   int64            `json:"signals_seen"`
	OrdersPlaced  int64            `json:"orders_placed"`
	FillsApplied  int64            `json:"fills_applied"`
	Bus           events.Stats     `json:"bus"`
	LastReconcile reconcile.Report `json:"last_reconcile"`
}

// Engine is the live trading core.
type Engine struct {
	cfg     Config
	bus     *events.Bus
	venue   broker.Broker
	orders  *order.Manager
	riskMgr *risk.Manager
	recon   *reconcile.Reconciler
	tracker *pnl.Tracker
	book    *state.Book
	feed    market.Feed
	strat   strategy.Strategy
	metrics *monitor.Metrics

	mu         sync.RWMutex
	state      State
	startedAt  time.Time
	signals    int64
	placed     int64
	fills      int64
	hbCancel   context.CancelFunc
	hbDone     chan struct{}
	stratCtx   *strategy.Context
	subscribed bool
	// dispatched already reflected in the counter metric. Survives restarts
	// so the counter never double counts the bus total.
	dispatchedSeen uint64
}

// New assembles an engine. metrics may be nil.
func New(cfg Config, bus *events.Bus, venue broker.Broker, orders *order.Manager, riskMgr *risk.Manager, recon *reconcile.Reconciler, tracker *pnl.Tracker, book *state.Book, feed market.Feed, strat strategy.Strategy, metrics *monitor.Metrics) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:     cfg,
		bus:     bus,
		venue:   venue,
		orders:  orders,
		riskMgr: riskMgr,
		recon:   recon,
		tracker: tracker,
		book:    book,
		feed:    feed,
		strat:   strat,
		metrics: metrics,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == "" {
		return StateCreated
	}
	return e.state
}

// Start brings the engine up: venue connection, an initial position sync,
// the event bus, background loops, the market feed, then the strategy.
// A failure at any step rolls back to ERROR.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.transition(StateStarting, "start"); err != nil {
		return err
	}

	if err := e.venue.Connect(ctx); err != nil {
		e.fail(fmt.Errorf("venue connect: %w", err))
		return fmt.Errorf("engine: venue connect: %w", err)
	}

	if report := e.recon.Run(ctx); report.Err != "" {
		e.venue.Disconnect()
		err := fmt.Errorf("engine: initial position sync: %s", report.Err)
		e.fail(err)
		return err
	}

	e.bus.Start()
	e.subscribe()
	e.venue.OnFill(e.orders.ProcessFill)
	e.venue.OnCancel(e.orders.ProcessCancelled)

	e.recon.Start()
	hbCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.hbCancel = cancel
	e.hbDone = make(chan struct{})
	e.stratCtx = strategy.NewContext(e.strat.Name(), e.bus)
	e.startedAt = time.Now()
	hbDone := e.hbDone
	e.mu.Unlock()
	go e.heartbeatLoop(hbCtx, hbDone)

	if e.feed != nil {
		// The feed outlives the caller's context (an API request on restart);
		// teardown stops it explicitly.
		e.feed.Start(context.Background())
	}

	if err := e.strat.OnStart(e.stratCtx); err != nil {
		e.teardown(context.Background(), false)
		err = fmt.Errorf("engine: strategy start: %w", err)
		e.fail(err)
		return err
	}

	e.setState(StateRunning)
	e.bus.Publish(events.New(events.PrioritySystem, events.KindSystemStart, "engine", nil))
	log.Printf("engine: running with strategy %s", e.strat.Name())
	return nil
}

// Stop shuts the engine down. Each teardown step runs even when an
// earlier one fails; the first error is returned. When closePositions is
// true every open position is flattened with market orders before the
// venue disconnects.
func (e *Engine) Stop(ctx context.Context, closePositions bool) error {
	if err := e.transition(StateStopping, "stop"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()

	e.bus.Publish(events.New(events.PrioritySystem, events.KindSystemStop, "engine", nil))
	err := e.teardown(ctx, closePositions)
	e.setState(StateStopped)
	log.Printf("engine: stopped")
	return err
}

// Pause suspends signal handling. Market data, fills and reconciliation
// keep flowing so state stays current.
func (e *Engine) Pause() error {
	if err := e.transition(StatePaused, "pause"); err != nil {
		return err
	}
	log.Printf("engine: paused")
	return nil
}

// Resume re-enables signal handling.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.state != StatePaused {
		from := e.state
		e.mu.Unlock()
		return &InvalidStateError{From: from, Op: "resume"}
	}
	e.state = StateRunning
	e.mu.Unlock()
	log.Printf("engine: resumed")
	return nil
}

// Stats returns the current engine summary.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Stats{
		State:        e.state,
		StartedAt:    e.startedAt,
		SignalsSeen:  e.signals,
		OrdersPlaced: e.placed,
		FillsApplied: e.fills,
		Bus:          e.bus.GetStats(),
	}
	if s.State == "" {
		s.State = StateCreated
	}
	if !e.startedAt.IsZero() {
		s.Uptime = time.Since(e.startedAt).Round(time.Second).String()
	}
	if e.recon != nil {
		s.LastReconcile = e.recon.LastReport()
	}
	return s
}

// subscribe wires the engine's bus handlers once. The bus keeps handlers
// across restarts, so a second Start must not register them again.
func (e *Engine) subscribe() {
	e.mu.Lock()
	already := e.subscribed
	e.subscribed = true
	e.mu.Unlock()
	if already {
		return
	}

	e.bus.Subscribe(events.KindSignal, e.onSignal)
	e.bus.Subscribe(events.KindTick, e.onTick)
	e.bus.Subscribe(events.KindFill, e.onFill)
	e.bus.Subscribe(events.KindPositionUpdated, e.onPosition)
	if e.metrics != nil {
		e.bus.Subscribe(events.KindRiskViolation, func(ev events.Event) {
			if v, ok := ev.Payload.(risk.Violation); ok {
				e.metrics.RiskViolations.WithLabelValues(v.Rule).Inc()
			}
		})
		e.bus.Subscribe(events.KindReconciliation, func(ev events.Event) {
			if d, ok := ev.Payload.(reconcile.Discrepancy); ok {
				e.metrics.Discrepancies.WithLabelValues(string(d.Type)).Inc()
			}
		})
	}
}

func (e *Engine) onSignal(ev events.Event) {
	sig, ok := ev.Payload.(strategy.Signal)
	if !ok {
		return
	}
	e.mu.Lock()
	e.signals++
	paused := e.state != StateRunning
	e.mu.Unlock()
	if paused {
		log.Printf("engine: dropping signal %s %s while %s", sig.Side, sig.Symbol, e.State())
		return
	}

	started := time.Now()
	o, err := e.orders.Submit(context.Background(), broker.Order{
		Symbol:   sig.Symbol,
		Side:     sig.Side,
		Type:     broker.OrderTypeMarket,
		Quantity: sig.Quantity,
	})
	if e.metrics != nil {
		e.metrics.SubmitLatency.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		log.Printf("engine: signal order failed: %v", err)
		if e.metrics != nil {
			e.metrics.OrdersRejected.WithLabelValues("error").Inc()
		}
		return
	}
	if o.Status == broker.StatusRejected {
		if e.metrics != nil {
			e.metrics.OrdersRejected.WithLabelValues("risk").Inc()
		}
		return
	}
	e.mu.Lock()
	e.placed++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.OrdersSubmitted.WithLabelValues(string(o.Side)).Inc()
	}
}

func (e *Engine) onTick(ev events.Event) {
	t, ok := ev.Payload.(broker.Tick)
	if !ok {
		return
	}
	e.tracker.Mark(t.Symbol, t.LastPrice)

	snap := e.tracker.Snapshot()
	e.riskMgr.RecordPnL(snap.DailyPnL)
	e.riskMgr.CheckPortfolio(snap.Equity)
	if e.metrics != nil {
		e.metrics.Equity.Set(snap.Equity)
		e.metrics.DailyPnL.Set(snap.DailyPnL)
		e.metrics.OpenPositions.Set(float64(e.book.OpenCount()))
	}

	e.mu.RLock()
	ctx := e.stratCtx
	running := e.state == StateRunning
	e.mu.RUnlock()
	if running && ctx != nil {
		e.strat.OnTick(ctx, t)
	}
}

func (e *Engine) onFill(ev events.Event) {
	f, ok := ev.Payload.(broker.Fill)
	if !ok {
		return
	}
	e.mu.Lock()
	e.fills++
	ctx := e.stratCtx
	e.mu.Unlock()

	e.tracker.OnFill(f)
	if e.metrics != nil {
		e.metrics.Fills.Inc()
	}
	if ctx != nil {
		e.strat.OnFill(ctx, f)
	}
}

func (e *Engine) onPosition(ev events.Event) {
	if p, ok := ev.Payload.(broker.Position); ok {
		e.tracker.OnPosition(p)
	}
}

func (e *Engine) heartbeatLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.bus.Publish(events.New(events.PriorityHeartbeat, events.KindHeartbeat, "engine", e.Stats()))
			if e.metrics != nil {
				bs := e.bus.GetStats()
				e.metrics.EventQueueDepth.Set(float64(bs.QueueDepth))
				e.mu.Lock()
				if bs.Dispatched > e.dispatchedSeen {
					e.metrics.EventsDispatched.Add(float64(bs.Dispatched - e.dispatchedSeen))
					e.dispatchedSeen = bs.Dispatched
				}
				e.mu.Unlock()
			}
		}
	}
}

func (e *Engine) teardown(ctx context.Context, closePositions bool) error {
	var first error
	keep := func(err error) {
		if err != nil {
			log.Printf("engine: teardown: %v", err)
			if first == nil {
				first = err
			}
		}
	}

	e.mu.Lock()
	stratCtx := e.stratCtx
	hbCancel, hbDone := e.hbCancel, e.hbDone
	e.hbCancel, e.hbDone = nil, nil
	e.mu.Unlock()

	if stratCtx != nil {
		e.strat.OnStop(stratCtx)
	}
	if e.feed != nil {
		e.feed.Stop()
	}
	if hbCancel != nil {
		hbCancel()
		<-hbDone
	}
	e.recon.Stop()

	if closePositions {
		keep(e.flatten(ctx))
	}

	keep(e.venue.Disconnect())
	e.bus.Stop()
	return first
}

// flatten closes every open position with market orders, bypassing the
// risk gate so a tripped kill switch cannot block an orderly exit.
func (e *Engine) flatten(ctx context.Context) error {
	var first error
	for sym, p := range e.book.Snapshot() {
		if p.Quantity == 0 {
			continue
		}
		side := broker.SideSell
		qty := p.Quantity
		if qty < 0 {
			side = broker.SideBuy
			qty = -qty
		}
		_, err := e.venue.SubmitOrder(ctx, broker.Order{
			Symbol:   sym,
			Side:     side,
			Type:     broker.OrderTypeMarket,
			Quantity: qty,
		})
		if err != nil {
			log.Printf("engine: close %s failed: %v", sym, err)
			if first == nil {
				first = err
			}
			continue
		}
		log.Printf("engine: closing %s %d on shutdown", sym, p.Quantity)
	}
	return first
}

func (e *Engine) transition(to State, op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	from := e.state
	if from == "" {
		from = StateCreated
	}
	if !canTransition(from, to) {
		return &InvalidStateError{From: from, Op: op}
	}
	e.state = to
	return nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) fail(err error) {
	e.setState(StateError)
	e.bus.Publish(events.New(events.PrioritySystem, events.KindSystemError, "engine", err.Error()))
}
