// Package cache provides a sharded last-quote cache shared by the paper
// venue (fill pricing) and the P&L tracker (mark-to-market).
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/aadilkhann/QuantX/pkg/broker"
)

const numShards = 16

// QuoteCache is a sharded symbol -> last-quote map.
type QuoteCache struct {
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]quoteEntry
}

type quoteEntry struct {
	quote     broker.Quote
	updatedAt time.Time
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	c := &QuoteCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{items: make(map[string]quoteEntry)}
	}
	return c
}

func (c *QuoteCache) getShard(symbol string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// SetQuote stores a full quote.
func (c *QuoteCache) SetQuote(q broker.Quote) {
	shard := c.getShard(q.Symbol)
	shard.mu.Lock()
	shard.items[q.Symbol] = quoteEntry{quote: q, updatedAt: time.Now()}
	shard.mu.Unlock()
}

// SetLast stores a last price, synthesizing bid/ask from a narrow spread
// when the feed carries none.
func (c *QuoteCache) SetLast(symbol string, last float64) {
	spread := last * 0.0001
	c.SetQuote(broker.Quote{
		Symbol: symbol,
		Last:   last,
		Bid:    last - spread/2,
		Ask:    last + spread/2,
	})
}

// Quote returns the cached quote for a symbol.
func (c *QuoteCache) Quote(symbol string) (broker.Quote, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.quote, ok
}

// Last returns the cached last price for a symbol.
func (c *QuoteCache) Last(symbol string) (float64, bool) {
	q, ok := c.Quote(symbol)
	return q.Last, ok
}

// Age returns how stale the cached quote is.
func (c *QuoteCache) Age(symbol string) (time.Duration, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return time.Since(entry.updatedAt), true
}

// Len returns the number of cached symbols.
func (c *QuoteCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes quotes older than maxAge and returns how many were
// dropped.
func (c *QuoteCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// All returns a snapshot of every cached last price.
func (c *QuoteCache) All() map[string]float64 {
	result := make(map[string]float64)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for sym, entry := range shard.items {
			result[sym] = entry.quote.Last
		}
		shard.mu.RUnlock()
	}
	return result
}
