package engine

import (
	"context"
	"fmt"

	"github.com/rasesh6/alpaca-trading/internal/domain"
	"github.com/rasesh6/alpaca-trading/internal/ports"
)

// FillStatusResult answers a fill-status query for one entry order.
type FillStatusResult struct {
	OrderID      string                `json:"order_id"`
	Symbol       string                `json:"symbol"`
	Status       domain.StrategyStatus `json:"status"`
	Filled       bool                  `json:"filled"`
	FillPrice    *float64              `json:"fill_price,omitempty"`
	ExitPlaced   bool                  `json:"exit_placed"`
	ExitOrderIDs []string              `json:"exit_order_ids,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// TriggerStatusResult answers a trigger-status query for one entry order.
type TriggerStatusResult struct {
	OrderID      string                `json:"order_id"`
	Symbol       string                `json:"symbol"`
	Status       domain.StrategyStatus `json:"status"`
	Triggered    bool                  `json:"triggered"`
	CurrentPrice float64               `json:"current_price,omitempty"`
	TriggerPrice *float64              `json:"trigger_price,omitempty"`
	ExitOrderIDs []string              `json:"exit_order_ids,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// FillStatus reports whether the entry order filled and whether the exit
// side has been placed. Querying is read-only; the monitors own the state
// machine.
func (e *Engine) FillStatus(ctx context.Context, orderID string) (*FillStatusResult, error) {
	rec, err := e.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no strategy record for order %s: %w", orderID, ports.ErrNotFound)
	}

	return &FillStatusResult{
		OrderID:      rec.OrderID,
		Symbol:       rec.Symbol,
		Status:       rec.Status,
		Filled:       rec.FillPrice != nil,
		FillPrice:    rec.FillPrice,
		ExitPlaced:   len(rec.ExitOrderIDs) > 0,
		ExitOrderIDs: rec.ExitOrderIDs,
		Error:        rec.LastError,
	}, nil
}

// TriggerStatus reports trigger progress for a confirmation-stop or
// trailing-stop record, including the price the monitor is currently
// comparing against.
func (e *Engine) TriggerStatus(ctx context.Context, orderID string) (*TriggerStatusResult, error) {
	rec, err := e.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no strategy record for order %s: %w", orderID, ports.ErrNotFound)
	}
	if !rec.StrategyType.RequiresTrigger() {
		return nil, fmt.Errorf("strategy %s for order %s has no trigger stage: %w", rec.StrategyType, orderID, ports.ErrConfiguration)
	}

	result := &TriggerStatusResult{
		OrderID:      rec.OrderID,
		Symbol:       rec.Symbol,
		Status:       rec.Status,
		Triggered:    rec.Triggered,
		TriggerPrice: rec.TriggerPrice,
		ExitOrderIDs: rec.ExitOrderIDs,
		Error:        rec.LastError,
	}

	if rec.Status == domain.StatusWaitingTrigger {
		quote, err := e.broker.GetQuote(ctx, rec.Symbol)
		if err != nil {
			e.logger.Warn(ctx, "Quote unavailable for trigger status", map[string]interface{}{
				"orderID": orderID, "symbol": rec.Symbol, "error": err.Error(),
			})
		} else {
			result.CurrentPrice = exitSidePrice(quote, rec.Side)
		}
	}
	return result, nil
}

// ListStrategies returns every strategy record, terminal ones included.
func (e *Engine) ListStrategies(ctx context.Context) ([]*domain.StrategyRecord, error) {
	return e.repo.List(ctx)
}

// DeleteStrategy stops any running monitor and purges the record. Exit
// orders already on the books are left untouched.
func (e *Engine) DeleteStrategy(ctx context.Context, orderID string) error {
	e.stopMonitor(orderID)
	return e.repo.Delete(ctx, orderID)
}

// OpenOrders lists open entry and exit orders at the brokerage, including
// held stop orders awaiting their trigger.
func (e *Engine) OpenOrders(ctx context.Context) ([]*domain.Order, error) {
	return e.broker.GetOpenOrders(ctx)
}

// Quote returns the latest bid/ask for a symbol.
func (e *Engine) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	return e.broker.GetQuote(ctx, symbol)
}

// Account returns the brokerage trading account snapshot.
func (e *Engine) Account(ctx context.Context) (*domain.Account, error) {
	return e.broker.GetAccount(ctx)
}

// Positions lists the open positions held in the account.
func (e *Engine) Positions(ctx context.Context) ([]*domain.Position, error) {
	return e.broker.GetPositions(ctx)
}
