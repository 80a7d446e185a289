package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rasesh6/alpaca-trading/internal/domain"
	"github.com/rasesh6/alpaca-trading/internal/events"
	"github.com/rasesh6/alpaca-trading/internal/ports"
	"github.com/rasesh6/alpaca-trading/internal/pricing"
)

// PlaceRequest describes one entry order submission with an optional exit
// strategy attached.
type PlaceRequest struct {
	Symbol string           `json:"symbol"`
	Side   domain.OrderSide `json:"side"`
	Qty    float64          `json:"qty"`
	// LimitPrice, when non-zero, submits a limit entry instead of market.
	LimitPrice float64 `json:"limit_price,omitempty"`

	// Strategy, when set, attaches an exit strategy whose monitors start
	// as soon as the entry order is accepted.
	Strategy *StrategyRequest `json:"strategy,omitempty"`
}

// StrategyRequest selects an exit strategy and its offsets.
type StrategyRequest struct {
	Type   domain.StrategyType   `json:"type"`
	Config domain.StrategyConfig `json:"config"`
}

// Monitoring describes the server-side monitoring attached to a placement.
type Monitoring struct {
	StrategyType   domain.StrategyType `json:"strategy_type"`
	FillTimeout    time.Duration       `json:"fill_timeout"`
	TriggerTimeout time.Duration       `json:"trigger_timeout,omitempty"`
}

// PlacementResult is the outcome of PlaceEntryOrder.
type PlacementResult struct {
	Order      *domain.Order `json:"order"`
	Monitoring *Monitoring   `json:"monitoring,omitempty"`
}

// PlaceEntryOrder validates the strategy configuration, submits the entry
// order and, when a strategy is attached, persists a waiting_fill record and
// spawns its fill monitor. Validation failures happen before any submission.
func (e *Engine) PlaceEntryOrder(ctx context.Context, req PlaceRequest) (*PlacementResult, error) {
	if req.Symbol == "" || req.Qty <= 0 {
		return nil, fmt.Errorf("%w: symbol and a positive quantity are required", ports.ErrConfiguration)
	}
	if req.Side != domain.Buy && req.Side != domain.Sell {
		return nil, fmt.Errorf("%w: side must be %s or %s", ports.ErrConfiguration, domain.Buy, domain.Sell)
	}

	if req.Strategy == nil {
		order, err := e.broker.SubmitOrder(ctx, ports.OrderRequest{
			Symbol:        req.Symbol,
			Side:          req.Side,
			Qty:           req.Qty,
			ClientOrderID: uuid.NewString(),
			LimitPrice:    req.LimitPrice,
		})
		if err != nil {
			return nil, err
		}
		return &PlacementResult{Order: order}, nil
	}

	cfg := req.Strategy.Config
	if cfg.FillTimeout == 0 {
		cfg.FillTimeout = e.cfg.DefaultFillTimeout
	}
	if cfg.TriggerTimeout == 0 {
		cfg.TriggerTimeout = e.cfg.DefaultTriggerTimeout
	}
	if err := cfg.Validate(req.Strategy.Type); err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrConfiguration, err.Error())
	}

	var order *domain.Order
	var err error
	if req.Strategy.Type == domain.StrategyBracket {
		order, err = e.submitBracketEntry(ctx, req, cfg)
	} else {
		order, err = e.broker.SubmitOrder(ctx, ports.OrderRequest{
			Symbol:        req.Symbol,
			Side:          req.Side,
			Qty:           req.Qty,
			ClientOrderID: uuid.NewString(),
			LimitPrice:    req.LimitPrice,
		})
	}
	if err != nil {
		return nil, err
	}

	rec := domain.NewStrategyRecord(order.ID, order.Symbol, req.Side, req.Qty, req.Strategy.Type, cfg)
	if order.TakeProfitOrderID != "" {
		rec.ExitOrderIDs = append(rec.ExitOrderIDs, order.TakeProfitOrderID)
	}
	if order.StopLossOrderID != "" {
		rec.ExitOrderIDs = append(rec.ExitOrderIDs, order.StopLossOrderID)
	}
	if err := e.persistPut(ctx, rec); err != nil {
		// The entry order is live but unmonitored. Surface loudly rather
		// than cancel a position the caller asked for.
		e.logger.Error(ctx, err, "Entry order placed but strategy record could not be persisted", map[string]interface{}{
			"orderID": order.ID, "symbol": order.Symbol,
		})
		return nil, fmt.Errorf("entry order %s placed but strategy persistence failed: %w", order.ID, err)
	}

	e.spawnFillMonitor(rec)
	e.logger.Info(ctx, "Entry order placed with exit strategy", map[string]interface{}{
		"orderID": order.ID, "symbol": order.Symbol, "side": req.Side,
		"strategy": req.Strategy.Type, "fillTimeout": cfg.FillTimeout.String(),
	})

	mon := &Monitoring{StrategyType: req.Strategy.Type, FillTimeout: cfg.FillTimeout}
	if req.Strategy.Type.RequiresTrigger() {
		mon.TriggerTimeout = cfg.TriggerTimeout
	}
	return &PlacementResult{Order: order, Monitoring: mon}, nil
}

// submitBracketEntry estimates the fill price from the current quote (or the
// entry limit) and submits an atomic bracket order with both protective legs.
func (e *Engine) submitBracketEntry(ctx context.Context, req PlaceRequest, cfg domain.StrategyConfig) (*domain.Order, error) {
	ref := req.LimitPrice
	if ref <= 0 {
		quote, err := e.broker.GetQuote(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("cannot estimate bracket targets without a quote: %w", err)
		}
		// The marketable side of the book approximates the fill.
		if req.Side == domain.Buy {
			ref = quote.Ask
		} else {
			ref = quote.Bid
		}
	}
	if ref <= 0 {
		return nil, fmt.Errorf("%w: no usable reference price for bracket targets", ports.ErrBrokerUnavailable)
	}

	takeProfit := pricing.Target(ref, req.Side, cfg.TakeProfitType, cfg.TakeProfitOffset, pricing.WithPosition, e.tick())
	stopLoss := pricing.Target(ref, req.Side, cfg.StopLossType, cfg.StopLossOffset, pricing.AgainstPosition, e.tick())
	stopLossLimit := pricing.StopLimit(stopLoss, req.Side, e.tick())

	order, err := e.broker.SubmitBracketOrder(ctx, ports.BracketRequest{
		OrderRequest: ports.OrderRequest{
			Symbol:        req.Symbol,
			Side:          req.Side,
			Qty:           req.Qty,
			ClientOrderID: uuid.NewString(),
			LimitPrice:    req.LimitPrice,
		},
		TakeProfitPrice:    takeProfit,
		StopLossPrice:      stopLoss,
		StopLossLimitPrice: stopLossLimit,
	})
	if err != nil {
		e.hub.Publish(events.Event{
			Type:   events.TypeBracketFailed,
			Symbol: req.Symbol,
			Fields: map[string]interface{}{"error": err.Error()},
		})
		return nil, err
	}

	e.hub.Publish(events.Event{
		Type:    events.TypeBracketPlaced,
		OrderID: order.ID,
		Symbol:  order.Symbol,
		Fields: map[string]interface{}{
			"take_profit":          takeProfit,
			"stop_loss":            stopLoss,
			"take_profit_order_id": order.TakeProfitOrderID,
			"stop_loss_order_id":   order.StopLossOrderID,
		},
	})
	return order, nil
}

// CancelEntry cancels an entry order on request, stops its monitor and
// removes the strategy record. A record whose order already filled cannot be
// canceled this way.
func (e *Engine) CancelEntry(ctx context.Context, orderID string) error {
	rec, err := e.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if rec != nil && rec.Status != domain.StatusWaitingFill {
		return fmt.Errorf("order %s is past the fill stage (status %s): %w", orderID, rec.Status, ports.ErrOrderCancelFailed)
	}

	if err := e.broker.CancelOrder(ctx, orderID); err != nil && !isAlreadyGone(err) {
		return err
	}
	e.stopMonitor(orderID)

	if rec != nil {
		if err := e.repo.Delete(ctx, orderID); err != nil {
			return err
		}
	}
	e.logger.Info(ctx, "Entry order canceled on request", map[string]interface{}{"orderID": orderID})
	return nil
}
