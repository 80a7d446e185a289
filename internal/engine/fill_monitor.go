package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rasesh6/alpaca-trading/internal/domain"
	"github.com/rasesh6/alpaca-trading/internal/events"
	"github.com/rasesh6/alpaca-trading/internal/ports"
	"github.com/rasesh6/alpaca-trading/internal/pricing"
)

// runFillMonitor watches one waiting_fill record until its entry order fills,
// dies or the fill timeout elapses. Push events and the poll loop race to
// detect the fill; the store's conditional transition makes the outcome act
// exactly once. The timeout budget is wall-clock and keeps running through
// transient API errors.
func (e *Engine) runFillMonitor(ctx context.Context, rec *domain.StrategyRecord, pushCh <-chan domain.TradeUpdate) {
	deadline := time.NewTimer(rec.Config.FillTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.logger.Debug(ctx, "Fill monitor started", map[string]interface{}{
		"orderID": rec.OrderID, "symbol": rec.Symbol, "timeout": rec.Config.FillTimeout.String(),
	})

	for {
		select {
		case <-ctx.Done():
			return

		case update := <-pushCh:
			if update.Status.IsFilled() {
				e.handleFill(ctx, rec, update.FilledAvgPrice)
				return
			}
			if update.Status.IsDead() {
				e.handleEntryDead(ctx, rec, update.Status)
				return
			}
			// partial_fill and new keep the monitor waiting

		case <-ticker.C:
			order, err := e.broker.GetOrder(ctx, rec.OrderID)
			if err != nil {
				// Retried next tick; the deadline keeps running.
				e.logger.Warn(ctx, "Fill poll failed", map[string]interface{}{
					"orderID": rec.OrderID, "error": err.Error(),
				})
				continue
			}
			if order.Status.IsFilled() {
				e.handleFill(ctx, rec, order.FilledAvgPrice)
				return
			}
			if order.Status.IsDead() {
				e.handleEntryDead(ctx, rec, order.Status)
				return
			}

		case <-deadline.C:
			e.handleFillTimeout(ctx, rec)
			return
		}
	}
}

// handleFill performs the strategy-specific transition out of waiting_fill.
// Strategies that still have to submit an exit order do so before the record
// leaves waiting_fill; a terminal status is committed only once the outcome
// of the submission is known, so a reloaded record marked complete always
// has its exit order on the books. The conditional store write plus the
// deterministic exit client order id keep the action single when push and
// poll detection race.
func (e *Engine) handleFill(ctx context.Context, rec *domain.StrategyRecord, fillPrice float64) {
	cur, err := e.repo.Get(ctx, rec.OrderID)
	if err != nil {
		e.logger.Error(ctx, err, "Fill could not be acted on, record unreadable", map[string]interface{}{"orderID": rec.OrderID})
		return
	}
	if cur == nil || cur.Status != domain.StatusWaitingFill {
		e.logger.Debug(ctx, "Fill already handled elsewhere", map[string]interface{}{"orderID": rec.OrderID})
		return
	}

	next := cur.Clone()
	next.SetFillPrice(fillPrice)

	switch rec.StrategyType {
	case domain.StrategyBracket:
		// Protective legs were submitted with the entry; confirming the
		// fill completes the strategy.
		next.Status = domain.StatusComplete
		next.Touch()
		e.commitFill(ctx, next, fillPrice)

	case domain.StrategyProfitTarget:
		e.placeProfitTarget(ctx, next, fillPrice)

	case domain.StrategyConfirmationStop, domain.StrategyTrailingStop:
		trigger := pricing.Target(fillPrice, rec.Side, rec.Config.TriggerType, rec.Config.TriggerOffset, pricing.WithPosition, e.tick())
		next.SetTriggerPrice(trigger)
		next.Status = domain.StatusWaitingTrigger
		next.Touch()
		if e.commitFill(ctx, next, fillPrice) {
			e.spawnTriggerMonitor(next)
		}

	default:
		e.logger.Error(ctx, fmt.Errorf("unknown strategy type %q", rec.StrategyType), "Cannot act on fill", map[string]interface{}{"orderID": rec.OrderID})
	}
}

// commitFill persists the transition out of waiting_fill and, when this
// writer wins it, announces the fill.
func (e *Engine) commitFill(ctx context.Context, next *domain.StrategyRecord, fillPrice float64) bool {
	won, err := e.persistTransition(ctx, domain.StatusWaitingFill, next)
	if err != nil {
		e.logger.Error(ctx, err, "Fill transition could not be persisted", map[string]interface{}{
			"orderID": next.OrderID, "symbol": next.Symbol,
		})
		return false
	}
	if !won {
		e.logger.Debug(ctx, "Fill already handled elsewhere", map[string]interface{}{"orderID": next.OrderID})
		return false
	}

	e.hub.Publish(events.Event{
		Type:    events.TypeFill,
		OrderID: next.OrderID,
		Symbol:  next.Symbol,
		Fields:  map[string]interface{}{"fill_price": fillPrice, "qty": next.Quantity},
	})
	e.logger.Info(ctx, "Entry order filled", map[string]interface{}{
		"orderID": next.OrderID, "symbol": next.Symbol, "fillPrice": fillPrice, "strategy": next.StrategyType,
	})
	return true
}

// placeProfitTarget submits the opposite-side limit order at the computed
// target, then commits the outcome. A brokerage rejection moves the record
// to error with the rejection preserved verbatim; it is never retried.
func (e *Engine) placeProfitTarget(ctx context.Context, rec *domain.StrategyRecord, fillPrice float64) {
	target := pricing.Target(fillPrice, rec.Side, rec.Config.ProfitOffsetType, rec.Config.ProfitOffset, pricing.WithPosition, e.tick())

	exit, err := e.broker.SubmitOrder(ctx, ports.OrderRequest{
		Symbol:        rec.Symbol,
		Side:          rec.Side.Opposite(),
		Qty:           rec.Quantity,
		ClientOrderID: exitClientOrderID(rec.OrderID),
		LimitPrice:    target,
	})
	if err != nil {
		e.hub.Publish(events.Event{
			Type:    events.TypeFill,
			OrderID: rec.OrderID,
			Symbol:  rec.Symbol,
			Fields:  map[string]interface{}{"fill_price": fillPrice, "qty": rec.Quantity},
		})
		e.failRecord(ctx, rec, err)
		e.hub.Publish(events.Event{
			Type:    events.TypeProfitFailed,
			OrderID: rec.OrderID,
			Symbol:  rec.Symbol,
			Fields:  map[string]interface{}{"target_price": target, "error": err.Error()},
		})
		return
	}

	rec.ExitOrderIDs = append(rec.ExitOrderIDs, exit.ID)
	rec.Status = domain.StatusComplete
	rec.Touch()
	if !e.commitFill(ctx, rec, fillPrice) {
		return
	}

	e.hub.Publish(events.Event{
		Type:    events.TypeProfitPlaced,
		OrderID: rec.OrderID,
		Symbol:  rec.Symbol,
		Fields:  map[string]interface{}{"target_price": target, "exit_order_id": exit.ID},
	})
	e.logger.Info(ctx, "Profit target placed", map[string]interface{}{
		"orderID": rec.OrderID, "symbol": rec.Symbol, "target": target, "exitOrderID": exit.ID,
	})
}

// handleFillTimeout cancels the entry order and settles the record. A fill
// that lands before the cancel is acknowledged wins over the timeout.
func (e *Engine) handleFillTimeout(ctx context.Context, rec *domain.StrategyRecord) {
	e.logger.Warn(ctx, "Fill timeout reached, canceling entry order", map[string]interface{}{
		"orderID": rec.OrderID, "symbol": rec.Symbol, "timeout": rec.Config.FillTimeout.String(),
	})

	cancelErr := e.broker.CancelOrder(ctx, rec.OrderID)

	// One re-fetch decides the race between the fill and the cancel.
	order, getErr := e.broker.GetOrder(ctx, rec.OrderID)
	if getErr == nil && order.Status.IsFilled() {
		e.handleFill(ctx, rec, order.FilledAvgPrice)
		return
	}

	if cancelErr != nil && !isAlreadyGone(cancelErr) {
		e.failRecord(ctx, rec, fmt.Errorf("%w: %s", ports.ErrOrderCancelFailed, cancelErr.Error()))
		return
	}

	next := rec.Clone()
	next.Status = domain.StatusTimeout
	next.LastError = fmt.Sprintf("no fill within %s; entry order canceled", rec.Config.FillTimeout)
	next.Touch()
	won, err := e.persistTransition(ctx, domain.StatusWaitingFill, next)
	if err != nil {
		e.logger.Error(ctx, err, "Timeout transition could not be persisted", map[string]interface{}{"orderID": rec.OrderID})
		return
	}
	if !won {
		return
	}

	e.hub.Publish(events.Event{
		Type:    events.TypeFillTimeout,
		OrderID: rec.OrderID,
		Symbol:  rec.Symbol,
		Fields:  map[string]interface{}{"timeout": rec.Config.FillTimeout.String()},
	})
}

// handleEntryDead settles a record whose entry order was canceled, expired
// or rejected before it could fill.
func (e *Engine) handleEntryDead(ctx context.Context, rec *domain.StrategyRecord, status domain.OrderStatus) {
	next := rec.Clone()
	if status == domain.OrderStatusRejected {
		next.Status = domain.StatusError
	} else {
		next.Status = domain.StatusTimeout
	}
	next.LastError = fmt.Sprintf("entry order %s before fill", status)
	next.Touch()

	won, err := e.persistTransition(ctx, domain.StatusWaitingFill, next)
	if err != nil {
		e.logger.Error(ctx, err, "Dead-entry transition could not be persisted", map[string]interface{}{"orderID": rec.OrderID})
		return
	}
	if won {
		e.logger.Warn(ctx, "Entry order died before fill", map[string]interface{}{
			"orderID": rec.OrderID, "symbol": rec.Symbol, "orderStatus": status,
		})
	}
}

// failRecord moves an active record to error with the cause preserved
// verbatim. Terminal statuses are never overwritten; a record that already
// committed keeps its outcome.
func (e *Engine) failRecord(ctx context.Context, rec *domain.StrategyRecord, cause error) {
	next := rec.Clone()
	next.Status = domain.StatusError
	next.LastError = cause.Error()
	next.Touch()

	if _, err := e.persistTransition(ctx, rec.Status, next); err != nil {
		e.logger.Error(ctx, err, "Failed to persist error state", map[string]interface{}{"orderID": rec.OrderID})
	}
	e.logger.Error(ctx, cause, "Strategy moved to error state", map[string]interface{}{
		"orderID": rec.OrderID, "symbol": rec.Symbol, "strategy": rec.StrategyType,
	})
}

// exitClientOrderID derives a deterministic idempotency key for the exit
// order of an entry. A duplicate submission is rejected brokerage-side.
func exitClientOrderID(entryOrderID string) string {
	return "exit-" + entryOrderID
}

// isAlreadyGone reports whether a cancel failed only because the order no
// longer exists or is past cancelable state for benign reasons.
func isAlreadyGone(err error) bool {
	return errors.Is(err, ports.ErrOrderNotFound) || errors.Is(err, ports.ErrNotFound)
}
