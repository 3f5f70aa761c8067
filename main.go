package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aadilkhann/QuantX/internal/api"
	"github.com/aadilkhann/QuantX/internal/engine"
	"github.com/aadilkhann/QuantX/internal/events"
	"github.com/aadilkhann/QuantX/internal/market"
	"github.com/aadilkhann/QuantX/internal/monitor"
	"github.com/aadilkhann/QuantX/internal/order"
	"github.com/aadilkhann/QuantX/internal/pnl"
	"github.com/aadilkhann/QuantX/internal/reconcile"
	"github.com/aadilkhann/QuantX/internal/risk"
	"github.com/aadilkhann/QuantX/internal/state"
	"github.com/aadilkhann/QuantX/internal/strategy"
	"github.com/aadilkhann/QuantX/pkg/broker"
	paperbroker "github.com/aadilkhann/QuantX/pkg/broker/paper"
	"github.com/aadilkhann/QuantX/pkg/broker/zerodha"
	"github.com/aadilkhann/QuantX/pkg/cache"
	"github.com/aadilkhann/QuantX/pkg/config"
	"github.com/aadilkhann/QuantX/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	limits, err := config.LoadLimits(cfg.RiskLimitsPath)
	if err != nil {
		log.Fatalf("risk limits: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	journal, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("journal: %v", err)
	}
	defer journal.Close()

	bus := events.NewBus()
	quotes := cache.NewQuoteCache()
	book := state.NewBook()

	registry := broker.NewRegistry()
	registry.Register("paper", paperbroker.Factory(quotes))
	registry.Register("zerodha", zerodha.Factory)

	venue, err := registry.Create(cfg.Broker, brokerConfig(cfg))
	if err != nil {
		log.Fatalf("broker %s: %v", cfg.Broker, err)
	}

	riskMgr := risk.NewManager(limits, book, bus)
	recon := reconcile.New(venue, book, bus, journal, cfg.ReconcileInterval)
	tracker := pnl.NewTracker(book, cfg.InitialCapital)

	equityFn := func() float64 { return tracker.Snapshot().Equity }
	orders := order.NewManager(venue, riskMgr, book, bus, quotes, equityFn)
	journal.Attach(bus)

	promRegistry := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(promRegistry)

	strat, err := strategy.Create(cfg.Strategy, cfg.StrategyParams)
	if err != nil {
		log.Fatalf("strategy: %v", err)
	}

	var feed market.Feed
	if cfg.UseMockFeed {
		mock := market.NewMockFeed(bus, quotes, cfg.Symbols, nil, cfg.TickInterval)
		if pb, ok := venue.(*paperbroker.Broker); ok {
			mock.OnTick = func(t broker.Tick) { pb.MarkPrice(t.Symbol, t.LastPrice) }
		}
		feed = mock
	} else if cfg.FeedURL != "" {
		feed = market.NewWSFeed(bus, quotes, cfg.FeedURL, cfg.Symbols)
	}

	eng := engine.New(engine.Config{
		ReconcileInterval: cfg.ReconcileInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}, bus, venue, orders, riskMgr, recon, tracker, book, feed, strat, metrics)

	health := monitor.NewHealth()
	health.Register("venue", func() (monitor.Status, string) {
		if venue.IsConnected() {
			return monitor.Healthy, ""
		}
		return monitor.Unhealthy, "venue disconnected"
	})
	health.Register("engine", func() (monitor.Status, string) {
		switch eng.State() {
		case engine.StateRunning:
			return monitor.Healthy, ""
		case engine.StatePaused, engine.StateStarting, engine.StateStopping:
			return monitor.Degraded, string(eng.State())
		default:
			return monitor.Unhealthy, string(eng.State())
		}
	})
	health.Register("event_bus", func() (monitor.Status, string) {
		stats := bus.GetStats()
		if !stats.Running {
			return monitor.Unhealthy, "bus stopped"
		}
		if stats.QueueDepth > 10_000 {
			return monitor.Degraded, "queue backlog"
		}
		return monitor.Healthy, ""
	})

	server := &api.Server{
		Engine:    eng,
		Orders:    orders,
		Book:      book,
		RiskMgr:   riskMgr,
		Tracker:   tracker,
		Recon:     recon,
		Health:    health,
		Registry:  promRegistry,
		JWTSecret: cfg.JWTSecret,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("engine: %v", err)
	}

	go snapshotLoop(ctx, tracker, journal)

	log.Printf("quantx: listening on :%s (broker=%s strategy=%s symbols=%v)",
		cfg.Port, cfg.Broker, cfg.Strategy, cfg.Symbols)
	go func() {
		if err := server.Run(ctx, ":"+cfg.Port); err != nil {
			log.Printf("api: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("quantx: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := eng.Stop(shutdownCtx, false); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := journal.RecordSnapshot(tracker.Snapshot()); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("quantx: stopped")
}

func brokerConfig(cfg *config.Config) map[string]any {
	if cfg.Broker == "zerodha" {
		return map[string]any{
			"api_key":      cfg.KiteAPIKey,
			"access_token": cfg.KiteAccessToken,
			"product":      cfg.KiteProduct,
		}
	}
	return map[string]any{
		"initial_capital":      cfg.InitialCapital,
		"slippage_bps":         cfg.SlippageBps,
		"commission_flat":      cfg.CommissionFlat,
		"commission_per_share": cfg.CommissionPS,
	}
}

// snapshotLoop persists a P&L snapshot every minute for the daily rollup.
func snapshotLoop(ctx context.Context, tracker *pnl.Tracker, journal *db.Journal) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := journal.RecordSnapshot(tracker.Snapshot()); err != nil {
				log.Printf("%v", err)
			}
		}
	}
}
