// Package alpaca implements the ports.BrokerClient interface against the
// brokerage's REST API and its order-lifecycle websocket stream.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rasesh6/alpaca-trading/internal/domain"
	"github.com/rasesh6/alpaca-trading/internal/ports"
)

const (
	defaultDataBase    = "https://data.alpaca.markets"
	defaultTimeInForce = "day"
	requestTimeout     = 15 * time.Second
)

// Client implements the ports.BrokerClient interface over the brokerage's
// REST and websocket APIs.
type Client struct {
	restBase   string
	dataBase   string
	streamURL  string
	apiKey     string
	secretKey  string
	httpClient *http.Client
	logger     ports.Logger

	reconnectMin time.Duration
	reconnectMax time.Duration
	maxAttempts  int
}

var _ ports.BrokerClient = (*Client)(nil)

// Config holds configuration specific to the brokerage client adapter.
type Config struct {
	RESTBase  string
	DataBase  string // Market-data API base; defaults to the public data host
	StreamURL string
	APIKey    string
	SecretKey string
	Logger    ports.Logger

	ReconnectMinDelay    time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 = retry forever
}

// New creates a new brokerage client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for brokerage client")
	}
	if cfg.RESTBase == "" || cfg.StreamURL == "" {
		return nil, fmt.Errorf("RESTBase and StreamURL are required for brokerage client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty; authenticated endpoints will fail")
	}
	dataBase := cfg.DataBase
	if dataBase == "" {
		dataBase = defaultDataBase
	}
	reconnectMin := cfg.ReconnectMinDelay
	if reconnectMin <= 0 {
		reconnectMin = time.Second
	}
	reconnectMax := cfg.ReconnectMaxDelay
	if reconnectMax < reconnectMin {
		reconnectMax = 30 * time.Second
	}

	return &Client{
		restBase:     strings.TrimRight(cfg.RESTBase, "/"),
		dataBase:     strings.TrimRight(dataBase, "/"),
		streamURL:    cfg.StreamURL,
		apiKey:       cfg.APIKey,
		secretKey:    cfg.SecretKey,
		httpClient:   &http.Client{Timeout: requestTimeout},
		logger:       cfg.Logger,
		reconnectMin: reconnectMin,
		reconnectMax: reconnectMax,
		maxAttempts:  cfg.MaxReconnectAttempts,
	}, nil
}

// doRequest performs one authenticated REST call and decodes the JSON
// response into out (when out is non-nil).
func (c *Client) doRequest(ctx context.Context, method, base, path string, params url.Values, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	urlStr := base + path
	if len(params) > 0 {
		urlStr += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &httpError{status: resp.StatusCode, body: respBody}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// httpError carries the raw HTTP failure for handleError to classify.
type httpError struct {
	status int
	body   []byte
}

func (e *httpError) Error() string {
	var api apiError
	if json.Unmarshal(e.body, &api) == nil && api.Message != "" {
		return api.Message
	}
	return fmt.Sprintf("HTTP %d: %s", e.status, string(e.body))
}

// handleError translates brokerage API failures into standardized ports
// errors. The original message is preserved verbatim so a rejection can be
// surfaced unchanged in a record's last_error.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var httpErr *httpError
	if errors.As(err, &httpErr) {
		var mappedErr error
		switch {
		case httpErr.status == http.StatusTooManyRequests:
			mappedErr = ports.ErrRateLimited
		case httpErr.status == http.StatusUnauthorized:
			mappedErr = ports.ErrAuthenticationFailed
		case httpErr.status == http.StatusNotFound:
			mappedErr = ports.ErrOrderNotFound
		case httpErr.status == http.StatusForbidden && strings.Contains(strings.ToLower(err.Error()), "buying power"):
			mappedErr = ports.ErrInsufficientFunds
		case httpErr.status == http.StatusForbidden, httpErr.status == http.StatusUnprocessableEntity:
			// Business-rule rejections: bad order leg combinations,
			// minimum trail violations, shorting restrictions.
			mappedErr = ports.ErrBrokerRejection
		case httpErr.status >= 500:
			mappedErr = ports.ErrBrokerUnavailable
		default:
			mappedErr = ports.ErrBrokerRejection
		}
		finalErr := fmt.Errorf("%s failed: %w: %s", operation, mappedErr, err.Error())
		c.logger.Error(ctx, err, operation+" failed with API error", fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %s", operation, ports.ErrTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w: %s", operation, ports.ErrContextCanceled, err.Error())
	default:
		// Network-level failures land here: refused, reset, DNS.
		finalErr = fmt.Errorf("%s failed: %w: %s", operation, ports.ErrConnectionFailed, err.Error())
	}
	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

// --- BrokerClient implementation ---

// SubmitOrder places a market or limit order.
func (c *Client) SubmitOrder(ctx context.Context, req ports.OrderRequest) (*domain.Order, error) {
	op := "SubmitOrder"
	payload := orderPayload{
		Symbol:        req.Symbol,
		Qty:           formatQty(req.Qty),
		Side:          strings.ToLower(string(req.Side)),
		Type:          string(domain.OrderTypeMarket),
		TimeInForce:   defaultTimeInForce,
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice > 0 {
		payload.Type = string(domain.OrderTypeLimit)
		payload.LimitPrice = formatPrice(req.LimitPrice)
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, c.restBase, "/v2/orders", nil, payload, &resp); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order := translateOrder(&resp)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"orderID": order.ID, "symbol": order.Symbol, "side": order.Side, "type": order.Type,
	})
	return order, nil
}

// SubmitStopLimitOrder places a stop-limit order.
func (c *Client) SubmitStopLimitOrder(ctx context.Context, req ports.OrderRequest, stopPrice, limitPrice float64) (*domain.Order, error) {
	op := "SubmitStopLimitOrder"
	payload := orderPayload{
		Symbol:        req.Symbol,
		Qty:           formatQty(req.Qty),
		Side:          strings.ToLower(string(req.Side)),
		Type:          string(domain.OrderTypeStopLimit),
		TimeInForce:   defaultTimeInForce,
		StopPrice:     formatPrice(stopPrice),
		LimitPrice:    formatPrice(limitPrice),
		ClientOrderID: req.ClientOrderID,
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, c.restBase, "/v2/orders", nil, payload, &resp); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order := translateOrder(&resp)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"orderID": order.ID, "symbol": order.Symbol, "stop": stopPrice, "limit": limitPrice,
	})
	return order, nil
}

// SubmitTrailingStopOrder places a trailing-stop order.
func (c *Client) SubmitTrailingStopOrder(ctx context.Context, req ports.TrailingStopRequest) (*domain.Order, error) {
	op := "SubmitTrailingStopOrder"
	payload := orderPayload{
		Symbol:        req.Symbol,
		Qty:           formatQty(req.Qty),
		Side:          strings.ToLower(string(req.Side)),
		Type:          string(domain.OrderTypeTrailingStop),
		TimeInForce:   defaultTimeInForce,
		ClientOrderID: req.ClientOrderID,
	}
	switch {
	case req.TrailPercent > 0:
		payload.TrailPercent = formatPrice(req.TrailPercent)
	case req.TrailPrice > 0:
		payload.TrailPrice = formatPrice(req.TrailPrice)
	default:
		return nil, fmt.Errorf("%s: %w: trail price or percent required", op, ports.ErrConfiguration)
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, c.restBase, "/v2/orders", nil, payload, &resp); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order := translateOrder(&resp)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"orderID": order.ID, "symbol": order.Symbol, "trailPrice": req.TrailPrice, "trailPercent": req.TrailPercent,
	})
	return order, nil
}

// SubmitBracketOrder places an atomic bracket (entry + TP + SL) order.
func (c *Client) SubmitBracketOrder(ctx context.Context, req ports.BracketRequest) (*domain.Order, error) {
	op := "SubmitBracketOrder"
	payload := orderPayload{
		Symbol:        req.Symbol,
		Qty:           formatQty(req.Qty),
		Side:          strings.ToLower(string(req.Side)),
		Type:          string(domain.OrderTypeMarket),
		TimeInForce:   defaultTimeInForce,
		ClientOrderID: req.ClientOrderID,
		OrderClass:    "bracket",
		TakeProfit:    &takeProfitLeg{LimitPrice: formatPrice(req.TakeProfitPrice)},
		StopLoss: &stopLossLeg{
			StopPrice:  formatPrice(req.StopLossPrice),
			LimitPrice: formatPrice(req.StopLossLimitPrice),
		},
	}
	if req.LimitPrice > 0 {
		payload.Type = string(domain.OrderTypeLimit)
		payload.LimitPrice = formatPrice(req.LimitPrice)
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, c.restBase, "/v2/orders", nil, payload, &resp); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order := translateOrder(&resp)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"orderID": order.ID, "symbol": order.Symbol,
		"takeProfit": req.TakeProfitPrice, "stopLoss": req.StopLossPrice,
	})
	return order, nil
}

// CancelOrder cancels an open order by its brokerage ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	op := "CancelOrder"
	if err := c.doRequest(ctx, http.MethodDelete, c.restBase, "/v2/orders/"+orderID, nil, nil, nil); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"orderID": orderID})
	return nil
}

// GetOrder retrieves the current state of an order by its brokerage ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	op := "GetOrder"
	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodGet, c.restBase, "/v2/orders/"+orderID, nil, nil, &resp); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(&resp), nil
}

// GetOpenOrders retrieves open orders, including the "held" status class.
func (c *Client) GetOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	op := "GetOpenOrders"
	orders := make([]*domain.Order, 0)
	// The brokerage treats held stop/stop-limit orders as a distinct status
	// class; both queries together cover everything still able to execute.
	for _, status := range []string{"open", "held"} {
		params := url.Values{"status": {status}}
		var resp []orderResponse
		if err := c.doRequest(ctx, http.MethodGet, c.restBase, "/v2/orders", params, nil, &resp); err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		for i := range resp {
			orders = append(orders, translateOrder(&resp[i]))
		}
	}
	return orders, nil
}

// GetQuote retrieves the latest bid/ask quote for a symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	op := "GetQuote"
	var resp quoteResponse
	path := "/v2/stocks/" + strings.ToUpper(symbol) + "/quotes/latest"
	if err := c.doRequest(ctx, http.MethodGet, c.dataBase, path, nil, nil, &resp); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return &domain.Quote{
		Symbol:    strings.ToUpper(symbol),
		Bid:       resp.Quote.BidPrice,
		Ask:       resp.Quote.AskPrice,
		BidSize:   resp.Quote.BidSize,
		AskSize:   resp.Quote.AskSize,
		Timestamp: resp.Quote.Timestamp,
	}, nil
}

// GetAccount retrieves the trading account snapshot.
func (c *Client) GetAccount(ctx context.Context) (*domain.Account, error) {
	op := "GetAccount"
	var resp accountResponse
	if err := c.doRequest(ctx, http.MethodGet, c.restBase, "/v2/account", nil, nil, &resp); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateAccount(&resp), nil
}

// GetPositions retrieves all open positions.
func (c *Client) GetPositions(ctx context.Context) ([]*domain.Position, error) {
	op := "GetPositions"
	var resp []positionResponse
	if err := c.doRequest(ctx, http.MethodGet, c.restBase, "/v2/positions", nil, nil, &resp); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	positions := make([]*domain.Position, 0, len(resp))
	for i := range resp {
		positions = append(positions, translatePosition(&resp[i]))
	}
	return positions, nil
}
