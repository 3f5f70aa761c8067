// Package strategy defines the trading strategy contract and the signals
// strategies emit. Strategies never talk to the venue directly; they
// publish signals and the engine routes approved ones into orders.
package strategy

import (
	"fmt"

	"github.com/aadilkhann/QuantX/internal/events"
	"github.com/aadilkhann/QuantX/pkg/broker"
)

// Signal is a strategy's request to trade.
type Signal struct {
	Strategy string      `json:"strategy"`
	Symbol   string      `json:"symbol"`
	Side     broker.Side `json:"side"`
	Quantity int64       `json:"quantity"`
	Reason   string      `json:"reason"`
}

// Context is handed to every strategy callback. It carries the emit path
// back to the engine.
type Context struct {
	name string
	bus  *events.Bus
}

// NewContext builds a strategy context bound to the bus.
func NewContext(name string, bus *events.Bus) *Context {
	return &Context{name: name, bus: bus}
}

// Buy emits a buy signal.
func (c *Context) Buy(symbol string, quantity int64, reason string) {
	c.emit(Signal{Strategy: c.name, Symbol: symbol, Side: broker.SideBuy, Quantity: quantity, Reason: reason})
}

// Sell emits a sell signal.
func (c *Context) Sell(symbol string, quantity int64, reason string) {
	c.emit(Signal{Strategy: c.name, Symbol: symbol, Side: broker.SideSell, Quantity: quantity, Reason: reason})
}

func (c *Context) emit(s Signal) {
	c.bus.Publish(events.New(events.PrioritySignal, events.KindSignal, c.name, s))
}

// Strategy is the lifecycle contract. Callbacks run on the bus dispatch
// goroutine, so implementations need no locking of their own state.
type Strategy interface {
	Name() string
	Symbols() []string
	OnStart(ctx *Context) error
	OnTick(ctx *Context, t broker.Tick)
	OnFill(ctx *Context, f broker.Fill)
	OnStop(ctx *Context)
}

// Factory builds a strategy from config parameters.
type Factory func(params map[string]any) (Strategy, error)

// factories is the compile-time strategy catalog.
var factories = map[string]Factory{
	"ma_cross": newMACross,
	"noop":     newNoop,
}

// Create instantiates a named strategy.
func Create(name string, params map[string]any) (Strategy, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q", name)
	}
	return f(params)
}

// Names lists available strategies.
func Names() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	return out
}

// noop subscribes to nothing and trades nothing. Useful for running the
// platform with manual orders only.
type noop struct{}

func newNoop(map[string]any) (Strategy, error) { return noop{}, nil }

func (noop) Name() string               { return "noop" }
func (noop) Symbols() []string          { return nil }
func (noop) OnStart(*Context) error     { return nil }
func (noop) OnTick(*Context, broker.Tick) {}
func (noop) OnFill(*Context, broker.Fill) {}
func (noop) OnStop(*Context)            {}
