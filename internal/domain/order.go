package domain

import "time"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType is the brokerage order type.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// OrderStatus is the brokerage-reported lifecycle status of an order.
// "held" covers stop and stop-limit orders accepted but waiting for their
// trigger condition.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusHeld            OrderStatus = "held"
)

// IsFilled reports whether the order is fully filled.
func (s OrderStatus) IsFilled() bool { return s == OrderStatusFilled }

// IsDead reports whether the order can no longer fill.
func (s OrderStatus) IsDead() bool {
	switch s {
	case OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// Order is the brokerage's view of a submitted order.
type Order struct {
	ID             string      `json:"id"`               // Brokerage-assigned order ID
	ClientOrderID  string      `json:"client_order_id"`  // Caller-supplied idempotency ID
	Symbol         string      `json:"symbol"`           // Ticker
	Side           OrderSide   `json:"side"`             // BUY or SELL
	Type           OrderType   `json:"type"`             // market, limit, stop_limit, trailing_stop
	Qty            float64     `json:"qty"`              // Requested quantity
	FilledQty      float64     `json:"filled_qty"`       // Quantity filled so far
	LimitPrice     float64     `json:"limit_price"`      // Limit price, if any
	StopPrice      float64     `json:"stop_price"`       // Stop price, if any
	FilledAvgPrice float64     `json:"filled_avg_price"` // Average fill price, 0 until a fill occurs
	Status         OrderStatus `json:"status"`           // Current lifecycle status
	// Leg order IDs for bracket submissions, if the brokerage returned them.
	TakeProfitOrderID string    `json:"take_profit_order_id,omitempty"`
	StopLossOrderID   string    `json:"stop_loss_order_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	FilledAt          time.Time `json:"filled_at,omitempty"`
}

// Quote is the latest bid/ask snapshot for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	BidSize   int64     `json:"bid_size"`
	AskSize   int64     `json:"ask_size"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint.
func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// TradeEvent names an order lifecycle event on the brokerage push feed.
type TradeEvent string

const (
	TradeEventNew         TradeEvent = "new"
	TradeEventFill        TradeEvent = "fill"
	TradeEventPartialFill TradeEvent = "partial_fill"
	TradeEventCanceled    TradeEvent = "canceled"
	TradeEventExpired     TradeEvent = "expired"
	TradeEventRejected    TradeEvent = "rejected"
)

// TradeUpdate is one event from the brokerage's order-lifecycle push feed.
type TradeUpdate struct {
	Event          TradeEvent
	OrderID        string
	Symbol         string
	Side           OrderSide
	Qty            float64
	FilledQty      float64
	FilledAvgPrice float64
	Status         OrderStatus
	Timestamp      time.Time
}
