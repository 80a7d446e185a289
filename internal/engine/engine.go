// Package engine orchestrates exit strategies for entry orders: it detects
// fills through a hybrid push+poll scheme, evaluates trigger conditions
// against live quotes, submits the configured exit orders and drives each
// strategy record through its state machine. One goroutine monitors one
// record; records share no state except the injected store.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rasesh6/alpaca-trading/internal/domain"
	"github.com/rasesh6/alpaca-trading/internal/events"
	"github.com/rasesh6/alpaca-trading/internal/ports"
)

const (
	defaultPollInterval = time.Second
	// pushBuffer sizes each monitor's private push channel. The stream
	// router drops on overflow; the poll leg catches anything missed.
	pushBuffer = 8
	// persistRetries bounds how often a load-bearing store write is
	// retried before the failure is surfaced.
	persistRetries = 3
)

// Config holds engine tuning knobs.
type Config struct {
	// PollInterval is the cadence for order-status and quote polling.
	PollInterval time.Duration
	// PriceTick is the minimum price increment used when rounding
	// computed prices. Zero selects the equities default of one cent.
	PriceTick float64
	// DefaultFillTimeout and DefaultTriggerTimeout apply when a strategy
	// config leaves the corresponding budget unset.
	DefaultFillTimeout    time.Duration
	DefaultTriggerTimeout time.Duration
}

// monitorHandle tracks one running monitor goroutine.
type monitorHandle struct {
	cancel context.CancelFunc
	pushCh chan domain.TradeUpdate
}

// Engine coordinates fill detection, trigger evaluation and exit order
// placement for every active strategy record.
type Engine struct {
	cfg    Config
	logger ports.Logger
	broker ports.BrokerClient
	repo   ports.StrategyRepository
	hub    *events.Hub

	mu       sync.Mutex
	monitors map[string]*monitorHandle
	wg       sync.WaitGroup

	runCtx    context.Context
	runCancel context.CancelFunc

	streamDone chan struct{}
	streamStop chan struct{}
}

// New creates an engine. All dependencies are required.
func New(cfg Config, broker ports.BrokerClient, repo ports.StrategyRepository, hub *events.Hub, logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for engine")
	}
	if broker == nil || repo == nil || hub == nil {
		return nil, fmt.Errorf("broker, repository and event hub are required for engine")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DefaultFillTimeout <= 0 {
		cfg.DefaultFillTimeout = domain.DefaultFillTimeout
	}
	if cfg.DefaultTriggerTimeout <= 0 {
		cfg.DefaultTriggerTimeout = domain.DefaultTriggerTimeout
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		broker:   broker,
		repo:     repo,
		hub:      hub,
		monitors: make(map[string]*monitorHandle),
	}, nil
}

// Start reconciles persisted records against the brokerage and opens the
// trade-update push stream. It must be called once before orders are placed.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx, e.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := e.Reconcile(ctx); err != nil {
		e.runCancel()
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	doneCh, stopCh, err := e.broker.StreamTradeUpdates(e.runCtx, e.routeTradeUpdate, func(streamErr error) {
		e.logger.Warn(e.runCtx, "Trade update stream error; poll monitors remain active", map[string]interface{}{"error": streamErr.Error()})
	})
	if err != nil {
		e.runCancel()
		return fmt.Errorf("failed to start trade update stream: %w", err)
	}
	e.streamDone = doneCh
	e.streamStop = stopCh

	e.logger.Info(ctx, "Engine started", map[string]interface{}{"pollInterval": e.cfg.PollInterval.String()})
	return nil
}

// Shutdown stops the stream, cancels every monitor and waits for them to
// exit. Records stay persisted; the next Start reconciles them.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info(ctx, "Engine shutting down", nil)

	if e.streamStop != nil {
		select {
		case e.streamStop <- struct{}{}:
		default:
		}
	}
	if e.runCancel != nil {
		e.runCancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait interrupted: %w", ctx.Err())
	}

	if e.streamDone != nil {
		select {
		case <-e.streamDone:
		case <-ctx.Done():
			return fmt.Errorf("stream shutdown interrupted: %w", ctx.Err())
		}
	}
	e.logger.Info(ctx, "Engine shut down", nil)
	return nil
}

// routeTradeUpdate publishes every stream event to the broadcast hub and
// hands it to the monitor owning the order, if one is running.
func (e *Engine) routeTradeUpdate(update domain.TradeUpdate) {
	e.hub.Publish(events.Event{
		Type:    events.TypeTradeUpdate,
		OrderID: update.OrderID,
		Symbol:  update.Symbol,
		Fields: map[string]interface{}{
			"event":            string(update.Event),
			"status":           string(update.Status),
			"filled_qty":       update.FilledQty,
			"filled_avg_price": update.FilledAvgPrice,
		},
	})

	e.mu.Lock()
	handle, ok := e.monitors[update.OrderID]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case handle.pushCh <- update:
	default:
		// Poll leg covers a missed push.
	}
}

// spawnFillMonitor starts the fill monitor for a waiting_fill record.
func (e *Engine) spawnFillMonitor(rec *domain.StrategyRecord) {
	e.spawnMonitor(rec.OrderID, func(ctx context.Context, pushCh chan domain.TradeUpdate) {
		e.runFillMonitor(ctx, rec, pushCh)
	})
}

// spawnTriggerMonitor starts the trigger monitor for a waiting_trigger
// record. FillPrice and TriggerPrice must already be set.
func (e *Engine) spawnTriggerMonitor(rec *domain.StrategyRecord) {
	e.spawnMonitor(rec.OrderID, func(ctx context.Context, _ chan domain.TradeUpdate) {
		e.runTriggerMonitor(ctx, rec)
	})
}

func (e *Engine) spawnMonitor(orderID string, run func(ctx context.Context, pushCh chan domain.TradeUpdate)) {
	ctx, cancel := context.WithCancel(e.runCtx)
	handle := &monitorHandle{
		cancel: cancel,
		pushCh: make(chan domain.TradeUpdate, pushBuffer),
	}

	e.mu.Lock()
	if prev, ok := e.monitors[orderID]; ok {
		prev.cancel()
	}
	e.monitors[orderID] = handle
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.removeMonitor(orderID, handle)
		run(ctx, handle.pushCh)
	}()
}

func (e *Engine) removeMonitor(orderID string, handle *monitorHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.monitors[orderID]; ok && cur == handle {
		delete(e.monitors, orderID)
	}
	handle.cancel()
}

// stopMonitor cancels the monitor for an order, if one is running.
func (e *Engine) stopMonitor(orderID string) {
	e.mu.Lock()
	handle, ok := e.monitors[orderID]
	e.mu.Unlock()
	if ok {
		handle.cancel()
	}
}

// tick returns the configured price increment.
func (e *Engine) tick() float64 {
	return e.cfg.PriceTick
}

// persistTransition commits a state transition through the store's
// conditional write, retrying transient persistence failures. An unpersisted
// transition must never be acted on externally, so the caller only proceeds
// when won is true.
func (e *Engine) persistTransition(ctx context.Context, from domain.StrategyStatus, rec *domain.StrategyRecord) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < persistRetries; attempt++ {
		won, err := e.repo.Transition(ctx, from, rec)
		if err == nil {
			return won, nil
		}
		lastErr = err
		e.logger.Warn(ctx, "Transition write failed, retrying", map[string]interface{}{
			"orderID": rec.OrderID, "from": from, "to": rec.Status, "attempt": attempt + 1, "error": err.Error(),
		})
		select {
		case <-time.After(e.cfg.PollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return false, lastErr
}

// persistPut saves a record with the same retry policy as persistTransition.
func (e *Engine) persistPut(ctx context.Context, rec *domain.StrategyRecord) error {
	var lastErr error
	for attempt := 0; attempt < persistRetries; attempt++ {
		err := e.repo.Put(ctx, rec)
		if err == nil {
			return nil
		}
		lastErr = err
		e.logger.Warn(ctx, "Record write failed, retrying", map[string]interface{}{
			"orderID": rec.OrderID, "attempt": attempt + 1, "error": lastErr.Error(),
		})
		select {
		case <-time.After(e.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
