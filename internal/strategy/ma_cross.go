package strategy

import (
	"fmt"
	"log"

	"github.com/aadilkhann/QuantX/internal/indicators"
	"github.com/aadilkhann/QuantX/pkg/broker"
)

// maCross goes long when the fast average crosses above the slow one and
// flat when it crosses back below. One position per symbol, long only.
type maCross struct {
	symbols  []string
	fastLen  int
	slowLen  int
	quantity int64

	fast    map[string]*indicators.SMA
	slow    map[string]*indicators.SMA
	above   map[string]bool
	holding map[string]int64
}

func newMACross(params map[string]any) (Strategy, error) {
	s := &maCross{
		fastLen:  10,
		slowLen:  30,
		quantity: 1,
		fast:     make(map[string]*indicators.SMA),
		slow:     make(map[string]*indicators.SMA),
		above:    make(map[string]bool),
		holding:  make(map[string]int64),
	}
	if v, ok := params["symbols"].([]string); ok {
		s.symbols = v
	} else if v, ok := params["symbols"].([]any); ok {
		for _, sym := range v {
			if str, ok := sym.(string); ok {
				s.symbols = append(s.symbols, str)
			}
		}
	}
	if v, ok := params["fast"].(int); ok {
		s.fastLen = v
	}
	if v, ok := params["slow"].(int); ok {
		s.slowLen = v
	}
	if v, ok := params["quantity"].(int); ok {
		s.quantity = int64(v)
	}
	if len(s.symbols) == 0 {
		return nil, fmt.Errorf("strategy: ma_cross requires symbols")
	}
	if s.fastLen >= s.slowLen {
		return nil, fmt.Errorf("strategy: ma_cross fast period %d must be below slow %d", s.fastLen, s.slowLen)
	}
	return s, nil
}

func (s *maCross) Name() string      { return "ma_cross" }
func (s *maCross) Symbols() []string { return s.symbols }

func (s *maCross) OnStart(ctx *Context) error {
	for _, sym := range s.symbols {
		s.fast[sym] = indicators.NewSMA(s.fastLen)
		s.slow[sym] = indicators.NewSMA(s.slowLen)
	}
	log.Printf("ma_cross: watching %v (fast=%d slow=%d qty=%d)", s.symbols, s.fastLen, s.slowLen, s.quantity)
	return nil
}

func (s *maCross) OnTick(ctx *Context, t broker.Tick) {
	fast, ok := s.fast[t.Symbol]
	if !ok {
		return
	}
	slow := s.slow[t.Symbol]
	fast.Update(t.LastPrice)
	slow.Update(t.LastPrice)
	if !slow.Ready() {
		return
	}

	above := fast.Value() > slow.Value()
	was, seen := s.above[t.Symbol]
	s.above[t.Symbol] = above
	if !seen || above == was {
		return
	}

	if above && s.holding[t.Symbol] == 0 {
		ctx.Buy(t.Symbol, s.quantity, fmt.Sprintf("fast %.2f crossed above slow %.2f", fast.Value(), slow.Value()))
	} else if !above && s.holding[t.Symbol] > 0 {
		ctx.Sell(t.Symbol, s.holding[t.Symbol], fmt.Sprintf("fast %.2f crossed below slow %.2f", fast.Value(), slow.Value()))
	}
}

func (s *maCross) OnFill(ctx *Context, f broker.Fill) {
	if _, ok := s.fast[f.Symbol]; !ok {
		return
	}
	s.holding[f.Symbol] += f.Quantity
}

func (s *maCross) OnStop(ctx *Context) {
	for sym, ind := range s.fast {
		ind.Reset()
		s.slow[sym].Reset()
	}
}
