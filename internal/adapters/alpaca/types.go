package alpaca

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rasesh6/alpaca-trading/internal/domain"
)

// --- REST wire types ---

// apiError is the brokerage's JSON error body.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// orderPayload is the request body for POST /v2/orders. Prices travel as
// strings on the wire.
type orderPayload struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	TrailPrice    string `json:"trail_price,omitempty"`
	TrailPercent  string `json:"trail_percent,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	OrderClass    string `json:"order_class,omitempty"`

	TakeProfit *takeProfitLeg `json:"take_profit,omitempty"`
	StopLoss   *stopLossLeg   `json:"stop_loss,omitempty"`
}

type takeProfitLeg struct {
	LimitPrice string `json:"limit_price"`
}

type stopLossLeg struct {
	StopPrice  string `json:"stop_price"`
	LimitPrice string `json:"limit_price,omitempty"`
}

// orderResponse mirrors the brokerage's order entity.
type orderResponse struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Qty            string          `json:"qty"`
	FilledQty      string          `json:"filled_qty"`
	LimitPrice     string          `json:"limit_price"`
	StopPrice      string          `json:"stop_price"`
	FilledAvgPrice string          `json:"filled_avg_price"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	FilledAt       *time.Time      `json:"filled_at"`
	Legs           []orderResponse `json:"legs,omitempty"`
}

// accountResponse mirrors GET /v2/account. Monetary fields travel as
// strings.
type accountResponse struct {
	ID               string `json:"id"`
	AccountNumber    string `json:"account_number"`
	Status           string `json:"status"`
	Currency         string `json:"currency"`
	Cash             string `json:"cash"`
	BuyingPower      string `json:"buying_power"`
	Equity           string `json:"equity"`
	PortfolioValue   string `json:"portfolio_value"`
	PatternDayTrader bool   `json:"pattern_day_trader"`
}

// positionResponse mirrors one entry of GET /v2/positions.
type positionResponse struct {
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	Side           string `json:"side"`
	AvgEntryPrice  string `json:"avg_entry_price"`
	CurrentPrice   string `json:"current_price"`
	MarketValue    string `json:"market_value"`
	UnrealizedPL   string `json:"unrealized_pl"`
	UnrealizedPLPC string `json:"unrealized_plpc"`
}

// quoteResponse is GET /v2/stocks/{symbol}/quotes/latest.
type quoteResponse struct {
	Symbol string    `json:"symbol"`
	Quote  quoteBody `json:"quote"`
}

type quoteBody struct {
	BidPrice  float64   `json:"bp"`
	AskPrice  float64   `json:"ap"`
	BidSize   int64     `json:"bs"`
	AskSize   int64     `json:"as"`
	Timestamp time.Time `json:"t"`
}

// --- Stream wire types ---

type streamMessage struct {
	Stream string     `json:"stream"`
	Data   streamData `json:"data"`
	Action string     `json:"action,omitempty"`
}

type streamData struct {
	// authorization frames
	Status string `json:"status,omitempty"`
	// listening frames
	Streams []string `json:"streams,omitempty"`
	// trade_updates frames
	Event     string         `json:"event,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Order     *orderResponse `json:"order,omitempty"`
}

type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type listenRequest struct {
	Action string     `json:"action"`
	Data   listenData `json:"data"`
}

type listenData struct {
	Streams []string `json:"streams"`
}

// --- Translation helpers ---

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// formatPrice renders a price for the wire with at least two decimal places
// and as many more as the value carries, so sub-cent ticks survive intact.
func formatPrice(v float64) string {
	d := decimal.NewFromFloat(v)
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	return d.String()
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func translateSide(side string) domain.OrderSide {
	if side == "sell" {
		return domain.Sell
	}
	return domain.Buy
}

func translateOrder(o *orderResponse) *domain.Order {
	if o == nil {
		return nil
	}
	out := &domain.Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           translateSide(o.Side),
		Type:           domain.OrderType(o.Type),
		Qty:            parsePrice(o.Qty),
		FilledQty:      parsePrice(o.FilledQty),
		LimitPrice:     parsePrice(o.LimitPrice),
		StopPrice:      parsePrice(o.StopPrice),
		FilledAvgPrice: parsePrice(o.FilledAvgPrice),
		Status:         domain.OrderStatus(o.Status),
		CreatedAt:      o.CreatedAt,
	}
	if o.FilledAt != nil {
		out.FilledAt = *o.FilledAt
	}
	// Bracket submissions return the protective legs inline; surface their
	// IDs so the engine can record them.
	for _, leg := range o.Legs {
		switch domain.OrderType(leg.Type) {
		case domain.OrderTypeLimit:
			out.TakeProfitOrderID = leg.ID
		case domain.OrderTypeStopLimit, "stop":
			out.StopLossOrderID = leg.ID
		}
	}
	return out
}

func translateAccount(a *accountResponse) *domain.Account {
	return &domain.Account{
		ID:               a.ID,
		AccountNumber:    a.AccountNumber,
		Status:           a.Status,
		Currency:         a.Currency,
		Cash:             parsePrice(a.Cash),
		BuyingPower:      parsePrice(a.BuyingPower),
		Equity:           parsePrice(a.Equity),
		PortfolioValue:   parsePrice(a.PortfolioValue),
		PatternDayTrader: a.PatternDayTrader,
	}
}

func translatePosition(p *positionResponse) *domain.Position {
	return &domain.Position{
		Symbol:         p.Symbol,
		Qty:            parsePrice(p.Qty),
		Side:           p.Side,
		AvgEntryPrice:  parsePrice(p.AvgEntryPrice),
		CurrentPrice:   parsePrice(p.CurrentPrice),
		MarketValue:    parsePrice(p.MarketValue),
		UnrealizedPL:   parsePrice(p.UnrealizedPL),
		UnrealizedPLPC: parsePrice(p.UnrealizedPLPC),
	}
}

func translateTradeUpdate(d streamData) domain.TradeUpdate {
	update := domain.TradeUpdate{
		Event:     domain.TradeEvent(d.Event),
		Timestamp: d.Timestamp,
	}
	if d.Order != nil {
		update.OrderID = d.Order.ID
		update.Symbol = d.Order.Symbol
		update.Side = translateSide(d.Order.Side)
		update.Qty = parsePrice(d.Order.Qty)
		update.FilledQty = parsePrice(d.Order.FilledQty)
		update.FilledAvgPrice = parsePrice(d.Order.FilledAvgPrice)
		update.Status = domain.OrderStatus(d.Order.Status)
	}
	return update
}
