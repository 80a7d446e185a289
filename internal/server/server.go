// Package server exposes the engine over HTTP: order placement, status
// queries and a server-sent-events feed of engine broadcasts. The surface is
// a pure client of the engine; monitoring never depends on a connected
// client.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rasesh6/alpaca-trading/internal/domain"
	"github.com/rasesh6/alpaca-trading/internal/engine"
	"github.com/rasesh6/alpaca-trading/internal/events"
	"github.com/rasesh6/alpaca-trading/internal/ports"
)

// Orchestrator is the slice of the engine the HTTP layer consumes.
type Orchestrator interface {
	PlaceEntryOrder(ctx context.Context, req engine.PlaceRequest) (*engine.PlacementResult, error)
	FillStatus(ctx context.Context, orderID string) (*engine.FillStatusResult, error)
	TriggerStatus(ctx context.Context, orderID string) (*engine.TriggerStatusResult, error)
	CancelEntry(ctx context.Context, orderID string) error
	ListStrategies(ctx context.Context) ([]*domain.StrategyRecord, error)
	DeleteStrategy(ctx context.Context, orderID string) error
	OpenOrders(ctx context.Context) ([]*domain.Order, error)
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
	Account(ctx context.Context) (*domain.Account, error)
	Positions(ctx context.Context) ([]*domain.Position, error)
}

// Config holds HTTP server settings.
type Config struct {
	ListenAddr string
	// KeepaliveInterval paces SSE comment frames; zero selects 15s.
	KeepaliveInterval time.Duration
}

// Server wires the engine and event hub into an HTTP API.
type Server struct {
	cfg    Config
	eng    Orchestrator
	hub    *events.Hub
	logger ports.Logger
	http   *http.Server
}

// New creates the HTTP server. All dependencies are required.
func New(cfg Config, eng Orchestrator, hub *events.Hub, logger ports.Logger) (*Server, error) {
	if eng == nil || hub == nil || logger == nil {
		return nil, errors.New("engine, event hub and logger are required for server")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 15 * time.Second
	}

	s := &Server{cfg: cfg, eng: eng, hub: hub, logger: logger}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Router builds the gin routing tree.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/orders/place", s.placeOrder)
		api.GET("/orders", s.openOrders)
		api.GET("/orders/:id/fill-status", s.fillStatus)
		api.POST("/orders/:id/cancel", s.cancelOrder)
		api.GET("/exit-strategy/:id/check-trigger", s.checkTrigger)
		api.GET("/quote/:symbol", s.quote)
		api.GET("/account", s.account)
		api.GET("/positions", s.positions)
		api.GET("/strategies", s.listStrategies)
		api.DELETE("/strategies/:id", s.deleteStrategy)
		api.GET("/stream", s.stream)
	}
	return r
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info(context.Background(), "HTTP server listening", map[string]interface{}{"addr": s.cfg.ListenAddr})
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) placeOrder(c *gin.Context) {
	var req engine.PlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}

	result, err := s.eng.PlaceEntryOrder(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := gin.H{"success": true, "order": result.Order}
	if result.Monitoring != nil {
		resp["monitoring"] = gin.H{
			"strategy_type":        result.Monitoring.StrategyType,
			"fill_timeout_seconds": result.Monitoring.FillTimeout.Seconds(),
		}
		if result.Monitoring.TriggerTimeout > 0 {
			resp["monitoring"].(gin.H)["trigger_timeout_seconds"] = result.Monitoring.TriggerTimeout.Seconds()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) fillStatus(c *gin.Context) {
	status, err := s.eng.FillStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "fill_status": status})
}

func (s *Server) checkTrigger(c *gin.Context) {
	status, err := s.eng.TriggerStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "trigger_status": status})
}

func (s *Server) cancelOrder(c *gin.Context) {
	if err := s.eng.CancelEntry(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) openOrders(c *gin.Context) {
	orders, err := s.eng.OpenOrders(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "orders": orders})
}

func (s *Server) quote(c *gin.Context) {
	quote, err := s.eng.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "quote": quote})
}

func (s *Server) account(c *gin.Context) {
	account, err := s.eng.Account(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "account": account})
}

func (s *Server) positions(c *gin.Context) {
	positions, err := s.eng.Positions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "positions": positions})
}

func (s *Server) listStrategies(c *gin.Context) {
	records, err := s.eng.ListStrategies(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "strategies": records})
}

func (s *Server) deleteStrategy(c *gin.Context) {
	if err := s.eng.DeleteStrategy(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// stream feeds hub events to the client as server-sent events. Keepalive
// comments hold intermediaries open during quiet periods.
func (s *Server) stream(c *gin.Context) {
	evCh, unsub := s.hub.Subscribe(64)
	defer unsub()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	keepalive := time.NewTicker(s.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		case <-keepalive.C:
			if _, err := c.Writer.WriteString(": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// fail renders an error with the envelope and a status matching its class.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ports.ErrNotFound), errors.Is(err, ports.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ports.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, ports.ErrBrokerRejection), errors.Is(err, ports.ErrInsufficientFunds), errors.Is(err, ports.ErrOrderCancelFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ports.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, ports.ErrPersistence):
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}
