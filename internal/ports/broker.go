package ports

import (
	"context"

	"github.com/rasesh6/alpaca-trading/internal/domain"
)

// OrderRequest carries the caller-controlled fields of an entry order
// submission. ClientOrderID is the caller's idempotency key; the brokerage
// rejects a duplicate rather than double-booking.
type OrderRequest struct {
	Symbol        string
	Side          domain.OrderSide
	Qty           float64
	ClientOrderID string
	// LimitPrice, when non-zero, makes the entry a limit order instead of
	// a market order.
	LimitPrice float64
}

// BracketRequest describes an atomic entry + take-profit + stop-loss
// composite order managed server-side by the brokerage.
type BracketRequest struct {
	OrderRequest
	TakeProfitPrice float64
	StopLossPrice   float64
	// StopLossLimitPrice biases the protective leg toward fill; it sits one
	// tick beyond the stop price.
	StopLossLimitPrice float64
}

// TrailingStopRequest parameterizes a trailing-stop exit order. Exactly one
// of TrailPrice or TrailPercent is non-zero.
type TrailingStopRequest struct {
	Symbol        string
	Side          domain.OrderSide
	Qty           float64
	ClientOrderID string
	TrailPrice    float64
	TrailPercent  float64
}

// BrokerClient defines the interface for interacting with the brokerage.
// This abstraction decouples the orchestration engine from the specific
// brokerage implementation.
type BrokerClient interface {
	// SubmitOrder places a market or limit entry/exit order.
	SubmitOrder(ctx context.Context, req OrderRequest) (*domain.Order, error)

	// SubmitStopLimitOrder places a stop-limit order.
	SubmitStopLimitOrder(ctx context.Context, req OrderRequest, stopPrice, limitPrice float64) (*domain.Order, error)

	// SubmitTrailingStopOrder places a trailing-stop order; the brokerage
	// manages the trail thereafter.
	SubmitTrailingStopOrder(ctx context.Context, req TrailingStopRequest) (*domain.Order, error)

	// SubmitBracketOrder places an atomic bracket (entry + TP + SL) order.
	SubmitBracketOrder(ctx context.Context, req BracketRequest) (*domain.Order, error)

	// CancelOrder cancels an open order by its brokerage ID.
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrder retrieves the current state of an order by its brokerage ID.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// GetOpenOrders retrieves open orders, including the "held" status
	// class covering stop/stop-limit orders awaiting their trigger.
	GetOpenOrders(ctx context.Context) ([]*domain.Order, error)

	// GetQuote retrieves the latest bid/ask quote for a symbol.
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)

	// GetAccount retrieves the trading account snapshot.
	GetAccount(ctx context.Context) (*domain.Account, error)

	// GetPositions retrieves all open positions.
	GetPositions(ctx context.Context) ([]*domain.Position, error)

	// StreamTradeUpdates starts the order-lifecycle push stream. Events are
	// delivered to handler, connection-level errors to errHandler. The
	// returned channels control the stream lifecycle: closing is signalled
	// on doneCh, a send on stopCh requests shutdown.
	StreamTradeUpdates(ctx context.Context, handler func(update domain.TradeUpdate), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
