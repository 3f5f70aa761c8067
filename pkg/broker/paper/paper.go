// Package paper implements a simulated trading venue. Market orders fill
// immediately at the cached quote moved by configured slippage against the
// trader; limit and stop orders rest until a price update crosses them.
package paper

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aadilkhann/QuantX/pkg/broker"
	"github.com/aadilkhann/QuantX/pkg/cache"
)

// Config controls the simulation.
type Config struct {
	InitialCapital float64
	SlippageBps    float64 // adverse price movement on fills, basis points
	CommissionFlat float64 // flat commission per fill
	CommissionPS   float64 // commission per share
	// PartialFillChance is the probability a marketable order fills in two
	// legs instead of one. Zero disables partial fills.
	PartialFillChance float64
}

// Broker is the paper venue.
type Broker struct {
	cfg    Config
	quotes *cache.QuoteCache

	mu        sync.Mutex
	connected bool
	cash      float64
	positions map[string]*broker.Position
	orders    map[string]*restingOrder
	onFill    broker.FillHandler
	onCancel  broker.CancelHandler
	nextID    uint64
	rng       *rand.Rand
	entropy   *ulid.MonotonicEntropy
}

type restingOrder struct {
	order     broker.Order
	remaining int64
}

// New creates a paper venue backed by the given quote cache.
func New(cfg Config, quotes *cache.QuoteCache) *Broker {
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = 100_000
	}
	seed := time.Now().UnixNano()
	return &Broker{
		cfg:       cfg,
		quotes:    quotes,
		cash:      cfg.InitialCapital,
		positions: make(map[string]*broker.Position),
		orders:    make(map[string]*restingOrder),
		rng:       rand.New(rand.NewSource(seed)),
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}
}

// Factory adapts New to the registry signature.
func Factory(quotes *cache.QuoteCache) broker.Factory {
	return func(cfg map[string]any) (broker.Broker, error) {
		c := Config{}
		if v, ok := cfg["initial_capital"].(float64); ok {
			c.InitialCapital = v
		}
		if v, ok := cfg["slippage_bps"].(float64); ok {
			c.SlippageBps = v
		}
		if v, ok := cfg["commission_flat"].(float64); ok {
			c.CommissionFlat = v
		}
		if v, ok := cfg["commission_per_share"].(float64); ok {
			c.CommissionPS = v
		}
		return New(c, quotes), nil
	}
}

func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	log.Printf("paper: connected (capital=%.2f slippage=%.1fbps)", b.cfg.InitialCapital, b.cfg.SlippageBps)
	return nil
}

func (b *Broker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Broker) OnFill(h broker.FillHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFill = h
}

func (b *Broker) OnCancel(h broker.CancelHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCancel = h
}

// SubmitOrder accepts the order and, for marketable orders, fills it
// synchronously before returning. Fill callbacks run without the venue lock
// held so handlers may call back into the venue.
func (b *Broker) SubmitOrder(ctx context.Context, order broker.Order) (string, error) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return "", broker.ErrNotConnected
	}
	if err := validate(order); err != nil {
		b.mu.Unlock()
		return "", err
	}

	b.nextID++
	brokerID := fmt.Sprintf("paper-%d", b.nextID)
	order.BrokerOrderID = brokerID

	quote, ok := b.quotes.Quote(order.Symbol)
	if !ok {
		b.mu.Unlock()
		return "", &broker.ValidationError{Field: "symbol", Reason: "no market data for " + order.Symbol}
	}

	var fills []broker.Fill
	if order.Type == broker.OrderTypeMarket {
		var err error
		fills, err = b.executeLocked(order, quote.Last, order.Quantity)
		if err != nil {
			b.mu.Unlock()
			return "", err
		}
	} else {
		// Resting order: filled by subsequent MarkPrice calls.
		b.orders[brokerID] = &restingOrder{order: order, remaining: order.Quantity}
	}
	handler := b.onFill
	b.mu.Unlock()

	deliver(handler, fills)
	return brokerID, nil
}

// CancelOrder removes a resting order. Marketable orders are already filled
// and cannot be cancelled.
func (b *Broker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return broker.ErrNotConnected
	}
	if _, ok := b.orders[brokerOrderID]; !ok {
		b.mu.Unlock()
		return broker.ErrOrderNotFound
	}
	delete(b.orders, brokerOrderID)
	handler := b.onCancel
	b.mu.Unlock()

	if handler != nil {
		handler(brokerOrderID)
	}
	return nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, broker.ErrNotConnected
	}
	out := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (b *Broker) GetAccount(ctx context.Context) (broker.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return broker.Account{}, broker.ErrNotConnected
	}
	var value, unrealized float64
	for sym, p := range b.positions {
		last, ok := b.quotes.Last(sym)
		if !ok {
			last = p.AvgEntryPrice
		}
		value += float64(p.Quantity) * last
		unrealized += (last - p.AvgEntryPrice) * float64(p.Quantity)
	}
	return broker.Account{
		Cash:          b.cash,
		Equity:        b.cash + value,
		BuyingPower:   b.cash,
		UnrealizedPnL: unrealized,
	}, nil
}

func (b *Broker) GetQuote(ctx context.Context, symbol string) (broker.Quote, error) {
	if !b.IsConnected() {
		return broker.Quote{}, broker.ErrNotConnected
	}
	q, ok := b.quotes.Quote(symbol)
	if !ok {
		return broker.Quote{}, fmt.Errorf("paper: no quote for %s", symbol)
	}
	return q, nil
}

// MarkPrice updates the simulated market and triggers any resting orders the
// new price crosses. The feed adapter calls this on every tick.
func (b *Broker) MarkPrice(symbol string, price float64) {
	b.quotes.SetLast(symbol, price)

	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	var fills []broker.Fill
	for id, ro := range b.orders {
		if ro.order.Symbol != symbol || !crossed(ro.order, price) {
			continue
		}
		execPrice := price
		if ro.order.Type == broker.OrderTypeLimit {
			execPrice = ro.order.LimitPrice
		}
		got, err := b.executeLocked(ro.order, execPrice, ro.remaining)
		if err != nil {
			log.Printf("paper: resting order %s rejected on trigger: %v", id, err)
			delete(b.orders, id)
			continue
		}
		fills = append(fills, got...)
		delete(b.orders, id)
	}
	handler := b.onFill
	b.mu.Unlock()

	deliver(handler, fills)
}

// executeLocked produces one or two fills for qty at the reference price
// moved by slippage. Caller holds b.mu.
func (b *Broker) executeLocked(order broker.Order, refPrice float64, qty int64) ([]broker.Fill, error) {
	price := b.slip(refPrice, order.Side)

	if order.Side == broker.SideBuy {
		cost := float64(qty)*price + b.commission(qty)
		if cost > b.cash {
			return nil, &broker.ValidationError{Field: "quantity", Reason: fmt.Sprintf("insufficient funds: need %.2f, have %.2f", cost, b.cash)}
		}
	}

	legs := []int64{qty}
	if b.cfg.PartialFillChance > 0 && qty > 1 && b.rng.Float64() < b.cfg.PartialFillChance {
		first := qty / 2
		legs = []int64{first, qty - first}
	}

	fills := make([]broker.Fill, 0, len(legs))
	for _, leg := range legs {
		f := broker.Fill{
			ID:            ulid.MustNew(ulid.Timestamp(time.Now()), b.entropy).String(),
			OrderID:       order.ID,
			BrokerOrderID: order.BrokerOrderID,
			Symbol:        order.Symbol,
			Quantity:      leg,
			Price:         price,
			Commission:    b.commission(leg),
			Timestamp:     time.Now(),
		}
		if order.Side == broker.SideSell {
			f.Quantity = -leg
		}
		b.applyFillLocked(f)
		fills = append(fills, f)
	}
	return fills, nil
}

func (b *Broker) applyFillLocked(f broker.Fill) {
	p, ok := b.positions[f.Symbol]
	if !ok {
		p = &broker.Position{Symbol: f.Symbol}
		b.positions[f.Symbol] = p
	}

	oldQty := p.Quantity
	newQty := oldQty + f.Quantity
	if oldQty == 0 || (oldQty > 0) == (f.Quantity > 0) {
		total := p.AvgEntryPrice*absf(oldQty) + f.Price*absf(f.Quantity)
		if newQty != 0 {
			p.AvgEntryPrice = total / absf(newQty)
		}
	} else if newQty != 0 && (oldQty > 0) != (newQty > 0) {
		p.AvgEntryPrice = f.Price
	}
	p.Quantity = newQty
	p.UpdatedAt = f.Timestamp
	if p.Quantity == 0 {
		delete(b.positions, f.Symbol)
	}

	b.cash -= float64(f.Quantity)*f.Price + f.Commission
}

func (b *Broker) slip(price float64, side broker.Side) float64 {
	frac := b.cfg.SlippageBps / 10_000
	if side == broker.SideBuy {
		return price * (1 + frac)
	}
	return price * (1 - frac)
}

func (b *Broker) commission(qty int64) float64 {
	return b.cfg.CommissionFlat + b.cfg.CommissionPS*float64(qty)
}

func deliver(h broker.FillHandler, fills []broker.Fill) {
	if h == nil {
		return
	}
	for _, f := range fills {
		h(f)
	}
}

func crossed(o broker.Order, price float64) bool {
	switch o.Type {
	case broker.OrderTypeLimit:
		if o.Side == broker.SideBuy {
			return price <= o.LimitPrice
		}
		return price >= o.LimitPrice
	case broker.OrderTypeStop, broker.OrderTypeStopLimit:
		if o.Side == broker.SideBuy {
			return price >= o.StopPrice
		}
		return price <= o.StopPrice
	}
	return false
}

func validate(o broker.Order) error {
	if o.Quantity <= 0 {
		return &broker.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if o.Type == broker.OrderTypeLimit && o.LimitPrice <= 0 {
		return &broker.ValidationError{Field: "limit_price", Reason: "required for LIMIT orders"}
	}
	if (o.Type == broker.OrderTypeStop || o.Type == broker.OrderTypeStopLimit) && o.StopPrice <= 0 {
		return &broker.ValidationError{Field: "stop_price", Reason: "required for STOP orders"}
	}
	return nil
}

func absf(v int64) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}
