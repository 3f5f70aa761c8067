// Package indicators provides streaming price indicators for strategies.
package indicators

import "fmt"

// SMA is a streaming simple moving average over the last period prices.
type SMA struct {
	period int
	prices []float64
}

// NewSMA creates a simple moving average with the given period.
func NewSMA(period int) *SMA {
	if period <= 0 {
		panic("SMA period must be > 0")
	}
	return &SMA{period: period, prices: make([]float64, 0, period)}
}

func (s *SMA) Name() string { return fmt.Sprintf("SMA(%d)", s.period) }

func (s *SMA) Update(price float64) {
	s.prices = append(s.prices, price)
	if len(s.prices) > s.period {
		s.prices = s.prices[1:]
	}
}

func (s *SMA) Ready() bool { return len(s.prices) >= s.period }

func (s *SMA) Value() float64 {
	if !s.Ready() {
		return 0
	}
	sum := 0.0
	for _, p := range s.prices {
		sum += p
	}
	return sum / float64(len(s.prices))
}

func (s *SMA) Reset() { s.prices = s.prices[:0] }

// EMA is a streaming exponential moving average seeded with the first
// price.
type EMA struct {
	period int
	alpha  float64
	seen   int
	value  float64
}

// NewEMA creates an exponential moving average with the given period.
func NewEMA(period int) *EMA {
	if period <= 0 {
		panic("EMA period must be > 0")
	}
	return &EMA{period: period, alpha: 2.0 / float64(period+1)}
}

func (e *EMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }

func (e *EMA) Update(price float64) {
	e.seen++
	if e.seen == 1 {
		e.value = price
		return
	}
	e.value = e.alpha*price + (1.0-e.alpha)*e.value
}

func (e *EMA) Ready() bool { return e.seen >= e.period }

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.value
}

func (e *EMA) Reset() {
	e.seen = 0
	e.value = 0
}
