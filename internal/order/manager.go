// Package order tracks the full lifecycle of every order the system
// creates. Status only advances on venue responses and fills, never on
// local guesses.
package order

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aadilkhann/QuantX/internal/events"
	"github.com/aadilkhann/QuantX/internal/risk"
	"github.com/aadilkhann/QuantX/internal/state"
	"github.com/aadilkhann/QuantX/pkg/broker"
	"github.com/aadilkhann/QuantX/pkg/cache"
)

// InvalidStateError reports a lifecycle operation attempted in the wrong
// status, such as cancelling a filled order.
type InvalidStateError struct {
	OrderID string
	Status  broker.OrderStatus
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order %s: cannot %s in status %s", e.OrderID, e.Op, e.Status)
}

// Manager owns order records and routes approved orders to the venue.
type Manager struct {
	venue  broker.Broker
	riskMg *risk.Manager
	book   *state.Book
	bus    *events.Bus
	quotes *cache.QuoteCache

	mu       sync.RWMutex
	orders   map[string]*broker.Order
	byBroker map[string]string // venue order id -> local id
	equityFn func() float64
}

// NewManager wires the order manager. equityFn supplies current account
// equity for position sizing checks.
func NewManager(venue broker.Broker, riskMg *risk.Manager, book *state.Book, bus *events.Bus, quotes *cache.QuoteCache, equityFn func() float64) *Manager {
	return &Manager{
		venue:    venue,
		riskMg:   riskMg,
		book:     book,
		bus:      bus,
		quotes:   quotes,
		orders:   make(map[string]*broker.Order),
		byBroker: make(map[string]string),
		equityFn: equityFn,
	}
}

// Submit validates the order, runs the risk gate and forwards it to the
// venue. The returned order carries the assigned id and current status.
// Risk rejections come back as a REJECTED order with a nil error; only
// malformed orders and transport failures return an error.
func (m *Manager) Submit(ctx context.Context, req broker.Order) (broker.Order, error) {
	if err := validate(req); err != nil {
		return broker.Order{}, err
	}

	req.ID = uuid.NewString()
	req.Status = broker.StatusCreated
	req.CreatedAt = time.Now()

	price := req.LimitPrice
	if last, ok := m.quotes.Last(req.Symbol); ok {
		price = last
	}

	res := m.riskMg.CheckOrder(req, price, m.equityFn())
	if !res.Approved {
		req.Status = broker.StatusRejected
		req.Reason = res.Violation.Message
		req.ClosedAt = time.Now()
		m.track(&req)
		m.publish(events.KindOrderRejected, req)
		return req, nil
	}

	// Track before the venue call. Synchronous venues deliver fills inside
	// SubmitOrder, and ProcessFill must already find the order then.
	req.Status = broker.StatusPending
	req.SubmittedAt = time.Now()
	m.track(&req)
	m.publish(events.KindOrderSubmitted, req)

	brokerID, err := m.venue.SubmitOrder(ctx, req)
	if err != nil {
		m.mu.Lock()
		o := m.orders[req.ID]
		o.Status = broker.StatusRejected
		o.ClosedAt = time.Now()
		if broker.IsConnectionError(err) {
			o.Reason = "connection_error"
		} else {
			o.Reason = err.Error()
		}
		out := *o
		m.mu.Unlock()
		m.publish(events.KindOrderRejected, out)
		return out, err
	}

	// Fills may have advanced the status already; only attach the venue id.
	m.mu.Lock()
	o := m.orders[req.ID]
	o.BrokerOrderID = brokerID
	m.byBroker[brokerID] = o.ID
	out := *o
	m.mu.Unlock()
	m.publish(events.KindOrderAccepted, out)
	log.Printf("order: submitted %s %s %d %s (venue id %s)", req.Side, req.Symbol, req.Quantity, req.Type, brokerID)
	return out, nil
}

// Cancel requests cancellation at the venue. Only pending and partially
// filled orders can be cancelled; the status does not change until the
// venue confirms.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	m.mu.RLock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.RUnlock()
		return broker.ErrOrderNotFound
	}
	status, brokerID := o.Status, o.BrokerOrderID
	m.mu.RUnlock()

	if status != broker.StatusPending && status != broker.StatusPartiallyFilled {
		return &InvalidStateError{OrderID: orderID, Status: status, Op: "cancel"}
	}
	return m.venue.CancelOrder(ctx, brokerID)
}

// ProcessFill applies a venue fill to the matching order and the position
// book, then republishes it for downstream consumers. Unknown order ids
// are logged and the position still updated; the venue is authoritative.
func (m *Manager) ProcessFill(f broker.Fill) {
	m.mu.Lock()
	id := f.OrderID
	if id == "" {
		id = m.byBroker[f.BrokerOrderID]
	}
	o, ok := m.orders[id]
	if ok {
		o.FilledQty += absq(f.Quantity)
		total := o.AvgFillPrice*float64(o.FilledQty-absq(f.Quantity)) + f.Price*float64(absq(f.Quantity))
		o.AvgFillPrice = total / float64(o.FilledQty)
		if o.FilledQty >= o.Quantity {
			o.Status = broker.StatusFilled
			o.ClosedAt = f.Timestamp
		} else {
			o.Status = broker.StatusPartiallyFilled
		}
	} else {
		log.Printf("order: fill for unknown order %q (venue id %s)", f.OrderID, f.BrokerOrderID)
	}
	m.mu.Unlock()

	pos := m.book.ApplyFill(f)
	m.bus.Publish(events.New(events.PriorityFill, events.KindFill, "order", f))
	m.bus.Publish(events.New(events.PriorityFill, events.KindPositionUpdated, "order", pos))
}

// ProcessCancelled marks an order cancelled after venue confirmation.
// Confirmations for orders already terminal are ignored.
func (m *Manager) ProcessCancelled(brokerOrderID string) {
	m.mu.Lock()
	id := m.byBroker[brokerOrderID]
	o, ok := m.orders[id]
	var out broker.Order
	if ok = ok && !o.Status.Terminal(); ok {
		o.Status = broker.StatusCancelled
		o.ClosedAt = time.Now()
		out = *o
	}
	m.mu.Unlock()
	if ok {
		m.publish(events.KindOrderCancelled, out)
	}
}

// Get returns a copy of the order.
func (m *Manager) Get(orderID string) (broker.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return broker.Order{}, false
	}
	return *o, true
}

// Open returns all orders still working at the venue.
func (m *Manager) Open() []broker.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []broker.Order
	for _, o := range m.orders {
		if o.Status.Open() {
			out = append(out, *o)
		}
	}
	return out
}

// All returns a copy of every tracked order.
func (m *Manager) All() []broker.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]broker.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out
}

func (m *Manager) track(o *broker.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	if o.BrokerOrderID != "" {
		m.byBroker[o.BrokerOrderID] = o.ID
	}
}

func (m *Manager) publish(kind events.Kind, o broker.Order) {
	m.bus.Publish(events.New(events.PriorityOrder, kind, "order", o))
}

func validate(o broker.Order) error {
	if o.Symbol == "" {
		return &broker.ValidationError{Field: "symbol", Reason: "required"}
	}
	if o.Side != broker.SideBuy && o.Side != broker.SideSell {
		return &broker.ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	if o.Quantity <= 0 {
		return &broker.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	switch o.Type {
	case broker.OrderTypeMarket:
	case broker.OrderTypeLimit:
		if o.LimitPrice <= 0 {
			return &broker.ValidationError{Field: "limit_price", Reason: "required for LIMIT orders"}
		}
	case broker.OrderTypeStop:
		if o.StopPrice <= 0 {
			return &broker.ValidationError{Field: "stop_price", Reason: "required for STOP orders"}
		}
	case broker.OrderTypeStopLimit:
		if o.LimitPrice <= 0 || o.StopPrice <= 0 {
			return &broker.ValidationError{Field: "price", Reason: "limit and stop prices required for STOP_LIMIT orders"}
		}
	default:
		return &broker.ValidationError{Field: "type", Reason: "unknown order type " + string(o.Type)}
	}
	return nil
}

func absq(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
