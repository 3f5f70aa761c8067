// Package state holds the locally-derived position book. It is the one
// contended map in the core: the order manager mutates it by applying fills,
// the reconciler overwrites it toward broker truth, and everyone else reads
// point-in-time snapshots. Both mutators go through the same mutex.
package state

import (
	"sync"
	"time"

	"github.com/aadilkhann/QuantX/pkg/broker"
)

// Book is the in-memory position book.
type Book struct {
	mu        sync.RWMutex
	positions map[string]broker.Position
}

// NewBook creates an empty position book.
func NewBook() *Book {
	return &Book{positions: make(map[string]broker.Position)}
}

// ApplyFill mutates the position for the fill's symbol. Fills must be applied
// in broker sequence; the caller (order manager) guarantees that by applying
// them on the dispatch goroutine.
//
// Buying into or adding to a same-sign position moves the volume-weighted
// average entry. Reducing or closing realizes P&L against the average entry.
// Crossing through zero closes the old position and opens the remainder at
// the fill price.
func (b *Book) ApplyFill(f broker.Fill) broker.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.positions[f.Symbol]
	p.Symbol = f.Symbol

	oldQty := p.Quantity
	newQty := oldQty + f.Quantity

	switch {
	case oldQty == 0:
		p.AvgEntryPrice = f.Price
	case sameSign(oldQty, f.Quantity):
		// Adding to the position: weighted average entry.
		p.AvgEntryPrice = (p.AvgEntryPrice*abs(oldQty) + f.Price*abs(f.Quantity)) / abs(newQty)
	default:
		// Reducing, closing, or flipping.
		closed := min64(abs(oldQty), abs(f.Quantity))
		if oldQty > 0 {
			p.RealizedPnL += (f.Price - p.AvgEntryPrice) * closed
		} else {
			p.RealizedPnL += (p.AvgEntryPrice - f.Price) * closed
		}
		if newQty != 0 && !sameSign(oldQty, newQty) {
			// Flipped through flat: remainder opens at the fill price.
			p.AvgEntryPrice = f.Price
		}
	}
	p.RealizedPnL -= f.Commission
	p.Quantity = newQty
	if p.Quantity == 0 {
		// Average entry is undefined while flat.
		p.AvgEntryPrice = 0
	}
	p.UpdatedAt = f.Timestamp

	b.positions[f.Symbol] = p
	return p
}

// Set overwrites a position. Used by the reconciler when broker truth
// disagrees with local state.
func (b *Book) Set(p broker.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	if p.Quantity == 0 {
		p.AvgEntryPrice = 0
	}
	b.positions[p.Symbol] = p
}

// Remove deletes a symbol from the book.
func (b *Book) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, symbol)
}

// Get returns the position for a symbol (zero value when untracked).
func (b *Book) Get(symbol string) (broker.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[symbol]
	return p, ok
}

// Snapshot returns a point-in-time copy of all positions. Safe to iterate
// while fills keep arriving.
func (b *Book) Snapshot() map[string]broker.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]broker.Position, len(b.positions))
	for sym, p := range b.positions {
		out[sym] = p
	}
	return out
}

// OpenCount returns the number of non-flat positions.
func (b *Book) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, p := range b.positions {
		if p.Quantity != 0 {
			n++
		}
	}
	return n
}

func sameSign(a, b int64) bool { return (a > 0) == (b > 0) }

func abs(v int64) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
