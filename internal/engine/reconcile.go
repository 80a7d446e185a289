package engine

import (
	"context"

	"github.com/rasesh6/alpaca-trading/internal/domain"
)

// Reconcile loads every non-terminal record, re-fetches its order from the
// brokerage and resumes monitoring from the reconciled state. In-process
// monitor state does not survive a restart, so resumed monitors start with a
// fresh timeout budget. An order that filled while the process was down must
// not re-run an exit submission that already happened; recorded exit order
// ids decide that.
func (e *Engine) Reconcile(ctx context.Context) error {
	records, err := e.repo.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		e.logger.Info(ctx, "Reconciliation: no active strategy records", nil)
		return nil
	}
	e.logger.Info(ctx, "Reconciling active strategy records", map[string]interface{}{"count": len(records)})

	for _, rec := range records {
		e.reconcileRecord(ctx, rec)
	}
	return nil
}

func (e *Engine) reconcileRecord(ctx context.Context, rec *domain.StrategyRecord) {
	order, err := e.broker.GetOrder(ctx, rec.OrderID)
	if err != nil {
		if isAlreadyGone(err) {
			e.failRecord(ctx, rec, err)
			return
		}
		// Transient: the resumed monitor keeps polling.
		e.logger.Warn(ctx, "Reconciliation fetch failed, resuming monitor anyway", map[string]interface{}{
			"orderID": rec.OrderID, "error": err.Error(),
		})
		e.resumeMonitor(rec)
		return
	}

	switch rec.Status {
	case domain.StatusWaitingFill:
		switch {
		case order.Status.IsFilled() && len(rec.ExitOrderIDs) > 0:
			// Exits already live (bracket legs); just confirm.
			e.finalizeFilled(ctx, rec, order.FilledAvgPrice)
		case order.Status.IsFilled():
			e.handleFill(ctx, rec, order.FilledAvgPrice)
		case order.Status.IsDead():
			e.handleEntryDead(ctx, rec, order.Status)
		default:
			e.spawnFillMonitor(rec)
		}
	case domain.StatusWaitingTrigger:
		e.spawnTriggerMonitor(rec)
	}
}

// finalizeFilled marks a record complete whose exit orders are already on
// the books. No submission happens here.
func (e *Engine) finalizeFilled(ctx context.Context, rec *domain.StrategyRecord, fillPrice float64) {
	next := rec.Clone()
	next.SetFillPrice(fillPrice)
	next.Status = domain.StatusComplete
	next.Touch()

	won, err := e.persistTransition(ctx, rec.Status, next)
	if err != nil {
		e.logger.Error(ctx, err, "Reconciliation finalize could not be persisted", map[string]interface{}{"orderID": rec.OrderID})
		return
	}
	if won {
		e.logger.Info(ctx, "Reconciliation: record finalized, exits already placed", map[string]interface{}{
			"orderID": rec.OrderID, "symbol": rec.Symbol, "exitOrderIDs": rec.ExitOrderIDs,
		})
	}
}

// resumeMonitor respawns the monitor matching the record's status.
func (e *Engine) resumeMonitor(rec *domain.StrategyRecord) {
	switch rec.Status {
	case domain.StatusWaitingFill:
		e.spawnFillMonitor(rec)
	case domain.StatusWaitingTrigger:
		e.spawnTriggerMonitor(rec)
	}
}
