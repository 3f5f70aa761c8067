// Package market streams prices into the event bus and the quote cache.
package market

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aadilkhann/QuantX/internal/events"
	"github.com/aadilkhann/QuantX/pkg/broker"
	"github.com/aadilkhann/QuantX/pkg/cache"
)

// Feed is a price source.
type Feed interface {
	Start(ctx context.Context)
	Stop()
}

// MockFeed simulates prices with a random walk per symbol. Used for paper
// trading and local development.
type MockFeed struct {
	bus      *events.Bus
	quotes   *cache.QuoteCache
	symbols  []string
	interval time.Duration
	// OnTick, when set, runs for every generated tick. The paper venue
	// hooks its resting order trigger here.
	OnTick func(broker.Tick)

	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMockFeed creates a random walk feed. startPrices seeds each symbol;
// symbols absent from the map start at 100.
func NewMockFeed(bus *events.Bus, quotes *cache.QuoteCache, symbols []string, startPrices map[string]float64, interval time.Duration) *MockFeed {
	if interval <= 0 {
		interval = time.Second
	}
	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		p := startPrices[sym]
		if p <= 0 {
			p = 100
		}
		prices[sym] = p
	}
	return &MockFeed{
		bus:      bus,
		quotes:   quotes,
		symbols:  symbols,
		interval: interval,
		prices:   prices,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (f *MockFeed) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.loop(ctx, f.done)
	log.Printf("market: mock feed started for %v", f.symbols)
}

func (f *MockFeed) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (f *MockFeed) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.step()
		}
	}
}

func (f *MockFeed) step() {
	f.mu.Lock()
	onTick := f.OnTick
	ticks := make([]broker.Tick, 0, len(f.symbols))
	for _, sym := range f.symbols {
		p := f.prices[sym]
		// Walk within roughly +-0.2% per step.
		p *= 1 + (f.rng.Float64()-0.5)*0.004
		f.prices[sym] = p
		ticks = append(ticks, broker.Tick{
			Symbol:    sym,
			LastPrice: p,
			Bid:       p * 0.9999,
			Ask:       p * 1.0001,
			Volume:    int64(f.rng.Intn(1000) + 1),
			Timestamp: time.Now(),
		})
	}
	f.mu.Unlock()

	for _, t := range ticks {
		f.publish(t, onTick)
	}
}

func (f *MockFeed) publish(t broker.Tick, onTick func(broker.Tick)) {
	f.quotes.SetQuote(broker.Quote{Symbol: t.Symbol, Last: t.LastPrice, Bid: t.Bid, Ask: t.Ask})
	if onTick != nil {
		onTick(t)
	}
	f.bus.Publish(events.New(events.PriorityMarketData, events.KindTick, "market", t))
}

// WSFeed consumes ticks from a websocket market data endpoint delivering
// JSON frames. It reconnects with backoff until stopped.
type WSFeed struct {
	bus     *events.Bus
	quotes  *cache.QuoteCache
	url     string
	symbols []string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type wireTick struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Volume    int64   `json:"volume"`
}

// NewWSFeed creates a websocket feed for the given endpoint.
func NewWSFeed(bus *events.Bus, quotes *cache.QuoteCache, url string, symbols []string) *WSFeed {
	return &WSFeed{bus: bus, quotes: quotes, url: url, symbols: symbols}
}

func (f *WSFeed) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.run(ctx, f.done)
}

func (f *WSFeed) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (f *WSFeed) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := time.Second
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("market: ws feed dropped: %v, reconnecting in %s", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *WSFeed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{"action": "subscribe", "symbols": f.symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var wt wireTick
		if err := json.Unmarshal(data, &wt); err != nil || wt.Symbol == "" {
			continue
		}
		t := broker.Tick{
			Symbol:    wt.Symbol,
			LastPrice: wt.LastPrice,
			Bid:       wt.Bid,
			Ask:       wt.Ask,
			Volume:    wt.Volume,
			Timestamp: time.Now(),
		}
		f.quotes.SetQuote(broker.Quote{Symbol: t.Symbol, Last: t.LastPrice, Bid: t.Bid, Ask: t.Ask})
		f.bus.Publish(events.New(events.PriorityMarketData, events.KindTick, "market", t))
	}
}
