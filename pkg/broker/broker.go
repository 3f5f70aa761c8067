// Package broker defines the uniform contract over external trading venues.
// Implementations live in subpackages (paper simulation, live brokerages);
// everything above this layer depends only on the Broker interface.
package broker

import (
	"context"
	"fmt"
	"sort"
)

// Broker abstracts a trading venue.
//
// SubmitOrder returns the venue-assigned order id; fills arrive later through
// the FillHandler registered with OnFill. SubmitOrder must fail with
// ErrNotConnected when called before Connect, *ValidationError when the venue
// rejects the order shape, and *ConnectionError on transport failure. No
// failure is ever swallowed.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	SubmitOrder(ctx context.Context, order Order) (brokerOrderID string, err error)
	// CancelOrder is request-only: the order stays in its prior status until
	// the venue confirms the cancel through a fill/status update.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	GetPositions(ctx context.Context) ([]Position, error)
	GetAccount(ctx context.Context) (Account, error)
	GetQuote(ctx context.Context, symbol string) (Quote, error)

	// OnFill registers the single consumer of execution reports. Venues must
	// deliver fills for the same order in venue sequence.
	OnFill(handler FillHandler)
	// OnCancel registers the consumer of cancel confirmations, keyed by the
	// venue order id.
	OnCancel(handler CancelHandler)
}

// FillHandler consumes execution reports from a venue.
type FillHandler func(Fill)

// CancelHandler consumes venue cancel confirmations.
type CancelHandler func(brokerOrderID string)

// Factory constructs a venue from its config map. Venues are registered in an
// explicit map at startup, not at init time.
type Factory func(cfg map[string]any) (Broker, error)

// Registry is an explicit venue name -> factory lookup constructed by the
// process entry point.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a venue factory. Re-registering a name replaces the factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Create builds the named venue.
func (r *Registry) Create(name string, cfg map[string]any) (Broker, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown broker %q (available: %v)", name, r.Names())
	}
	return f(cfg)
}

// Names lists registered venues, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
