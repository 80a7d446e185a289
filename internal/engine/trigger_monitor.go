package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rasesh6/alpaca-trading/internal/domain"
	"github.com/rasesh6/alpaca-trading/internal/events"
	"github.com/rasesh6/alpaca-trading/internal/ports"
	"github.com/rasesh6/alpaca-trading/internal/pricing"
)

// runTriggerMonitor polls quotes for one waiting_trigger record until the
// trigger condition is met or the trigger timeout elapses. Timeout fails
// open: the position stays unprotected and the outcome is surfaced as a
// warning, never hidden behind a success status.
func (e *Engine) runTriggerMonitor(ctx context.Context, rec *domain.StrategyRecord) {
	if rec.TriggerPrice == nil {
		e.logger.Error(ctx, fmt.Errorf("record %s has no trigger price", rec.OrderID), "Trigger monitor refused to start", nil)
		return
	}
	triggerPrice := *rec.TriggerPrice

	deadline := time.NewTimer(rec.Config.TriggerTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.logger.Debug(ctx, "Trigger monitor started", map[string]interface{}{
		"orderID": rec.OrderID, "symbol": rec.Symbol,
		"triggerPrice": triggerPrice, "timeout": rec.Config.TriggerTimeout.String(),
	})

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			quote, err := e.broker.GetQuote(ctx, rec.Symbol)
			if err != nil {
				e.logger.Warn(ctx, "Quote poll failed", map[string]interface{}{
					"orderID": rec.OrderID, "symbol": rec.Symbol, "error": err.Error(),
				})
				continue
			}
			price := exitSidePrice(quote, rec.Side)
			if price <= 0 {
				continue
			}
			if triggered(rec.Side, price, triggerPrice) {
				e.handleTrigger(ctx, rec, price)
				return
			}

		case <-deadline.C:
			e.handleTriggerTimeout(ctx, rec)
			return
		}
	}
}

// exitSidePrice picks the side of the book the exit would execute against:
// the bid when selling out of a long, the ask when covering a short.
func exitSidePrice(q *domain.Quote, entrySide domain.OrderSide) float64 {
	if entrySide == domain.Buy {
		return q.Bid
	}
	return q.Ask
}

// triggered evaluates the trigger condition: a long confirms when price has
// risen to the trigger, a short when it has fallen to it.
func triggered(entrySide domain.OrderSide, price, triggerPrice float64) bool {
	if entrySide == domain.Buy {
		return price >= triggerPrice
	}
	return price <= triggerPrice
}

// handleTrigger submits the protective exit order and commits the outcome
// out of waiting_trigger. The record turns complete only after the exit is
// confirmed on the books; a rejection commits error instead, with the
// trigger marker kept so status queries still report the hit. The stop is
// computed from the current price, not the fill price, so the protection
// tracks where the market actually is.
func (e *Engine) handleTrigger(ctx context.Context, rec *domain.StrategyRecord, currentPrice float64) {
	next := rec.Clone()
	next.Triggered = true

	e.logger.Info(ctx, "Trigger condition met", map[string]interface{}{
		"orderID": rec.OrderID, "symbol": rec.Symbol,
		"currentPrice": currentPrice, "triggerPrice": *rec.TriggerPrice,
	})

	fields := map[string]interface{}{
		"current_price": currentPrice,
		"trigger_price": *rec.TriggerPrice,
	}

	exit, err := e.submitTriggeredExit(ctx, next, currentPrice)
	if err != nil {
		e.failRecord(ctx, next, err)
		fields["error"] = err.Error()
		e.hub.Publish(events.Event{Type: events.TypeTriggerHit, OrderID: rec.OrderID, Symbol: rec.Symbol, Fields: fields})
		return
	}

	next.ExitOrderIDs = append(next.ExitOrderIDs, exit.ID)
	next.Status = domain.StatusComplete
	next.Touch()
	if _, err := e.persistTransition(ctx, domain.StatusWaitingTrigger, next); err != nil {
		e.logger.Error(ctx, err, "Exit order placed but record update failed", map[string]interface{}{
			"orderID": rec.OrderID, "exitOrderID": exit.ID,
		})
	}

	fields["exit_order_id"] = exit.ID
	e.hub.Publish(events.Event{Type: events.TypeTriggerHit, OrderID: rec.OrderID, Symbol: rec.Symbol, Fields: fields})
	e.logger.Info(ctx, "Protective exit placed", map[string]interface{}{
		"orderID": rec.OrderID, "symbol": rec.Symbol, "exitOrderID": exit.ID, "strategy": rec.StrategyType,
	})
}

// submitTriggeredExit places the strategy's protective order once the
// trigger has confirmed.
func (e *Engine) submitTriggeredExit(ctx context.Context, rec *domain.StrategyRecord, currentPrice float64) (*domain.Order, error) {
	switch rec.StrategyType {
	case domain.StrategyConfirmationStop:
		stop := pricing.Target(currentPrice, rec.Side, rec.Config.StopType, rec.Config.StopOffset, pricing.AgainstPosition, e.tick())
		limit := pricing.StopLimit(stop, rec.Side, e.tick())
		return e.broker.SubmitStopLimitOrder(ctx, ports.OrderRequest{
			Symbol:        rec.Symbol,
			Side:          rec.Side.Opposite(),
			Qty:           rec.Quantity,
			ClientOrderID: exitClientOrderID(rec.OrderID),
		}, stop, limit)

	case domain.StrategyTrailingStop:
		req := ports.TrailingStopRequest{
			Symbol:        rec.Symbol,
			Side:          rec.Side.Opposite(),
			Qty:           rec.Quantity,
			ClientOrderID: exitClientOrderID(rec.OrderID),
		}
		if rec.Config.TrailType == domain.OffsetPercent {
			req.TrailPercent = rec.Config.TrailAmount
		} else {
			req.TrailPrice = rec.Config.TrailAmount
		}
		return e.broker.SubmitTrailingStopOrder(ctx, req)

	default:
		return nil, fmt.Errorf("strategy %q has no triggered exit", rec.StrategyType)
	}
}

// handleTriggerTimeout settles a record whose trigger never confirmed. The
// position stays open without protection; the warning and the broadcast
// event make sure nobody mistakes this for success.
func (e *Engine) handleTriggerTimeout(ctx context.Context, rec *domain.StrategyRecord) {
	next := rec.Clone()
	next.Status = domain.StatusTimeout
	next.LastError = fmt.Sprintf("trigger not confirmed within %s; position is open and unprotected", rec.Config.TriggerTimeout)
	next.Touch()

	won, err := e.persistTransition(ctx, domain.StatusWaitingTrigger, next)
	if err != nil {
		e.logger.Error(ctx, err, "Trigger timeout transition could not be persisted", map[string]interface{}{"orderID": rec.OrderID})
		return
	}
	if !won {
		return
	}

	e.logger.Warn(ctx, "Trigger timeout: position left unprotected", map[string]interface{}{
		"orderID": rec.OrderID, "symbol": rec.Symbol, "timeout": rec.Config.TriggerTimeout.String(),
	})
	e.hub.Publish(events.Event{
		Type:    events.TypeTriggerTimeout,
		OrderID: rec.OrderID,
		Symbol:  rec.Symbol,
		Fields: map[string]interface{}{
			"timeout":     rec.Config.TriggerTimeout.String(),
			"unprotected": true,
		},
	})
}
