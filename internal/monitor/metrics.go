// Package monitor exposes operational metrics and health checks.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the platform's Prometheus collectors.
type Metrics struct {
	OrdersSubmitted  *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	Fills            prometheus.Counter
	RiskViolations   *prometheus.CounterVec
	Discrepancies    *prometheus.CounterVec
	SubmitLatency    prometheus.Histogram
	EventQueueDepth  prometheus.Gauge
	EventsDispatched prometheus.Counter
	OpenPositions    prometheus.Gauge
	Equity           prometheus.Gauge
	DailyPnL         prometheus.Gauge
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantx_orders_submitted_total",
			Help: "Orders accepted by the venue, by side.",
		}, []string{"side"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantx_orders_rejected_total",
			Help: "Orders rejected before or at the venue, by reason class.",
		}, []string{"reason"}),
		Fills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quantx_fills_total",
			Help: "Fills received from the venue.",
		}),
		RiskViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantx_risk_violations_total",
			Help: "Risk check violations, by rule.",
		}, []string{"rule"}),
		Discrepancies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantx_reconcile_discrepancies_total",
			Help: "Position discrepancies found during reconciliation, by type.",
		}, []string{"type"}),
		SubmitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quantx_order_submit_seconds",
			Help:    "Venue order submission round trip latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		EventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quantx_event_queue_depth",
			Help: "Events waiting in the bus queue.",
		}),
		EventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quantx_events_dispatched_total",
			Help: "Events dispatched by the bus since start.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quantx_open_positions",
			Help: "Non flat positions currently held.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quantx_equity",
			Help: "Current account equity.",
		}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quantx_daily_pnl",
			Help: "Profit and loss for the current trading day.",
		}),
	}
	reg.MustRegister(
		m.OrdersSubmitted, m.OrdersRejected, m.Fills, m.RiskViolations,
		m.Discrepancies, m.SubmitLatency, m.EventQueueDepth,
		m.EventsDispatched, m.OpenPositions, m.Equity, m.DailyPnL,
	)
	return m
}
