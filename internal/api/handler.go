// Package api exposes the control plane and read-only snapshots over
// HTTP. Mutating routes require a JWT; snapshots, health and metrics are
// open.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aadilkhann/QuantX/internal/engine"
	"github.com/aadilkhann/QuantX/internal/monitor"
	"github.com/aadilkhann/QuantX/internal/order"
	"github.com/aadilkhann/QuantX/internal/pnl"
	"github.com/aadilkhann/QuantX/internal/reconcile"
	"github.com/aadilkhann/QuantX/internal/risk"
	"github.com/aadilkhann/QuantX/internal/state"
	"github.com/aadilkhann/QuantX/pkg/broker"
)

// Server holds the API dependencies.
type Server struct {
	Engine    *engine.Engine
	Orders    *order.Manager
	Book      *state.Book
	RiskMgr   *risk.Manager
	Tracker   *pnl.Tracker
	Recon     *reconcile.Reconciler
	Health    *monitor.Health
	Registry  *prometheus.Registry
	JWTSecret string
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(CORSMiddleware())
	r.Use(RateLimitMiddleware(newIPRateLimiter()))
	r.Use(TimeoutMiddleware(30 * time.Second))

	r.GET("/health", s.health)
	if s.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/engine", s.engineStats)
		v1.GET("/positions", s.positions)
		v1.GET("/orders", s.orders)
		v1.GET("/orders/:id", s.orderByID)
		v1.GET("/pnl", s.pnlSnapshot)
		v1.GET("/risk", s.riskStatus)
		v1.GET("/reconcile", s.lastReconcile)

		control := v1.Group("")
		control.Use(AuthMiddleware(s.JWTSecret))
		{
			control.POST("/engine/start", s.startEngine)
			control.POST("/engine/stop", s.stopEngine)
			control.POST("/engine/pause", s.pauseEngine)
			control.POST("/engine/resume", s.resumeEngine)
			control.POST("/orders", s.placeOrder)
			control.POST("/orders/:id/cancel", s.cancelOrder)
			control.POST("/risk/kill-switch", s.tripKillSwitch)
			control.POST("/risk/kill-switch/reset", s.resetKillSwitch)
			control.POST("/reconcile/run", s.runReconcile)
		}
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	report := s.Health.Run()
	code := http.StatusOK
	if report.Status == monitor.Unhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (s *Server) engineStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Stats())
}

func (s *Server) positions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.Book.Snapshot()})
}

func (s *Server) orders(c *gin.Context) {
	if c.Query("open") == "true" {
		c.JSON(http.StatusOK, gin.H{"orders": s.Orders.Open()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": s.Orders.All()})
}

func (s *Server) orderByID(c *gin.Context) {
	o, ok := s.Orders.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) pnlSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"snapshot": s.Tracker.Snapshot(),
		"history":  s.Tracker.History(),
	})
}

func (s *Server) riskStatus(c *gin.Context) {
	active, reason := s.RiskMgr.KillSwitchActive()
	c.JSON(http.StatusOK, gin.H{
		"kill_switch":        active,
		"kill_switch_reason": reason,
		"limits":             s.RiskMgr.Limits(),
		"violations":         s.RiskMgr.Violations(),
	})
}

func (s *Server) lastReconcile(c *gin.Context) {
	c.JSON(http.StatusOK, s.Recon.LastReport())
}

func (s *Server) startEngine(c *gin.Context) {
	if err := s.Engine.Start(c.Request.Context()); err != nil {
		s.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.Engine.State()})
}

func (s *Server) stopEngine(c *gin.Context) {
	closePositions := c.Query("close_positions") == "true"
	if err := s.Engine.Stop(c.Request.Context(), closePositions); err != nil {
		s.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.Engine.State()})
}

func (s *Server) pauseEngine(c *gin.Context) {
	if err := s.Engine.Pause(); err != nil {
		s.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.Engine.State()})
}

func (s *Server) resumeEngine(c *gin.Context) {
	if err := s.Engine.Resume(); err != nil {
		s.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.Engine.State()})
}

func (s *Server) placeOrder(c *gin.Context) {
	var req struct {
		Symbol     string  `json:"symbol"`
		Side       string  `json:"side"`
		Type       string  `json:"type"`
		Quantity   int64   `json:"quantity"`
		LimitPrice float64 `json:"limit_price"`
		StopPrice  float64 `json:"stop_price"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if req.Type == "" {
		req.Type = string(broker.OrderTypeMarket)
	}

	o, err := s.Orders.Submit(c.Request.Context(), broker.Order{
		Symbol:     req.Symbol,
		Side:       broker.Side(req.Side),
		Type:       broker.OrderType(req.Type),
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
	})
	if err != nil {
		if broker.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "order": o})
		return
	}
	code := http.StatusCreated
	if o.Status == broker.StatusRejected {
		code = http.StatusUnprocessableEntity
	}
	c.JSON(code, o)
}

func (s *Server) cancelOrder(c *gin.Context) {
	err := s.Orders.Cancel(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "cancel requested"})
	case errors.Is(err, broker.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	default:
		var ise *order.InvalidStateError
		if errors.As(err, &ise) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (s *Server) tripKillSwitch(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.BindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual trip by " + CurrentOperator(c)
	}
	s.RiskMgr.TripKillSwitch(req.Reason)
	log.Printf("api: kill switch tripped by %s", CurrentOperator(c))
	c.JSON(http.StatusOK, gin.H{"kill_switch": true})
}

func (s *Server) resetKillSwitch(c *gin.Context) {
	s.RiskMgr.ResetKillSwitch()
	log.Printf("api: kill switch reset by %s", CurrentOperator(c))
	c.JSON(http.StatusOK, gin.H{"kill_switch": false})
}

func (s *Server) runReconcile(c *gin.Context) {
	c.JSON(http.StatusOK, s.Recon.Run(c.Request.Context()))
}

func (s *Server) lifecycleError(c *gin.Context, err error) {
	var ise *engine.InvalidStateError
	if errors.As(err, &ise) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": ise.From})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
