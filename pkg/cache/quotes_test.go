package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aadilkhann/QuantX/pkg/broker"
)

func TestSetAndGetQuote(t *testing.T) {
	c := NewQuoteCache()
	c.SetQuote(broker.Quote{Symbol: "AAPL", Last: 150, Bid: 149.9, Ask: 150.1})

	q, ok := c.Quote("AAPL")
	require.True(t, ok)
	assert.Equal(t, 150.0, q.Last)
	assert.Equal(t, 149.9, q.Bid)

	_, ok = c.Quote("MSFT")
	assert.False(t, ok)
}

func TestSetLastSynthesizesSpread(t *testing.T) {
	c := NewQuoteCache()
	c.SetLast("AAPL", 100)

	q, ok := c.Quote("AAPL")
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Last)
	assert.Less(t, q.Bid, 100.0)
	assert.Greater(t, q.Ask, 100.0)
	assert.InDelta(t, 0.01, q.Ask-q.Bid, 1e-9)
}

func TestLenAndAll(t *testing.T) {
	c := NewQuoteCache()
	for i := 0; i < 50; i++ {
		c.SetLast(fmt.Sprintf("SYM%d", i), float64(i))
	}
	assert.Equal(t, 50, c.Len())
	all := c.All()
	assert.Len(t, all, 50)
	assert.Equal(t, 7.0, all["SYM7"])
}

func TestCleanupDropsStale(t *testing.T) {
	c := NewQuoteCache()
	c.SetLast("OLD", 1)
	time.Sleep(20 * time.Millisecond)
	c.SetLast("NEW", 2)

	removed := c.Cleanup(10 * time.Millisecond)
	assert.Equal(t, 1, removed)
	_, ok := c.Quote("OLD")
	assert.False(t, ok)
	_, ok = c.Quote("NEW")
	assert.True(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := NewQuoteCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%d", n%4)
			for j := 0; j < 1000; j++ {
				c.SetLast(sym, float64(j))
				c.Last(sym)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 4, c.Len())
}
