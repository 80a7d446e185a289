package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rasesh6/alpaca-trading/internal/domain"
	"github.com/rasesh6/alpaca-trading/internal/engine"
	"github.com/rasesh6/alpaca-trading/internal/events"
	"github.com/rasesh6/alpaca-trading/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockOrchestrator struct {
	placeResult   *engine.PlacementResult
	placeErr      error
	placedReq     *engine.PlaceRequest
	fillResult    *engine.FillStatusResult
	fillErr       error
	triggerResult *engine.TriggerStatusResult
	triggerErr    error
	cancelErr     error
	canceled      []string
	strategies    []*domain.StrategyRecord
	deleted       []string
	orders        []*domain.Order
	quote         *domain.Quote
	quoteErr      error
	account       *domain.Account
	accountErr    error
	positions     []*domain.Position
}

func (m *mockOrchestrator) PlaceEntryOrder(ctx context.Context, req engine.PlaceRequest) (*engine.PlacementResult, error) {
	m.placedReq = &req
	return m.placeResult, m.placeErr
}

func (m *mockOrchestrator) FillStatus(ctx context.Context, orderID string) (*engine.FillStatusResult, error) {
	return m.fillResult, m.fillErr
}

func (m *mockOrchestrator) TriggerStatus(ctx context.Context, orderID string) (*engine.TriggerStatusResult, error) {
	return m.triggerResult, m.triggerErr
}

func (m *mockOrchestrator) CancelEntry(ctx context.Context, orderID string) error {
	m.canceled = append(m.canceled, orderID)
	return m.cancelErr
}

func (m *mockOrchestrator) ListStrategies(ctx context.Context) ([]*domain.StrategyRecord, error) {
	return m.strategies, nil
}

func (m *mockOrchestrator) DeleteStrategy(ctx context.Context, orderID string) error {
	m.deleted = append(m.deleted, orderID)
	return nil
}

func (m *mockOrchestrator) OpenOrders(ctx context.Context) ([]*domain.Order, error) {
	return m.orders, nil
}

func (m *mockOrchestrator) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	return m.quote, m.quoteErr
}

func (m *mockOrchestrator) Account(ctx context.Context) (*domain.Account, error) {
	return m.account, m.accountErr
}

func (m *mockOrchestrator) Positions(ctx context.Context) ([]*domain.Position, error) {
	return m.positions, nil
}

func newTestServer(t *testing.T, eng *mockOrchestrator, hub *events.Hub) *Server {
	t.Helper()
	if hub == nil {
		hub = events.NewHub()
	}
	s, err := New(Config{KeepaliveInterval: 50 * time.Millisecond}, eng, hub, &mockLogger{})
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var parsed map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

func TestPlaceOrder_Success(t *testing.T) {
	eng := &mockOrchestrator{
		placeResult: &engine.PlacementResult{
			Order: &domain.Order{ID: "order-1", Symbol: "AAPL", Side: domain.Buy},
			Monitoring: &engine.Monitoring{
				StrategyType:   domain.StrategyConfirmationStop,
				FillTimeout:    15 * time.Second,
				TriggerTimeout: 300 * time.Second,
			},
		},
	}
	s := newTestServer(t, eng, nil)

	w, resp := doJSON(t, s, http.MethodPost, "/api/orders/place", `{
		"symbol": "AAPL", "side": "BUY", "qty": 100,
		"strategy": {"type": "confirmation_stop", "config": {
			"trigger_type": "percent", "trigger_offset": 2,
			"stop_type": "dollar", "stop_offset": 0.25}}
	}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	require.NotNil(t, eng.placedReq)
	assert.Equal(t, "AAPL", eng.placedReq.Symbol)
	assert.Equal(t, domain.Buy, eng.placedReq.Side)
	require.NotNil(t, eng.placedReq.Strategy)
	assert.Equal(t, domain.StrategyConfirmationStop, eng.placedReq.Strategy.Type)

	monitoring := resp["monitoring"].(map[string]interface{})
	assert.Equal(t, 15.0, monitoring["fill_timeout_seconds"])
	assert.Equal(t, 300.0, monitoring["trigger_timeout_seconds"])
}

func TestPlaceOrder_InvalidBody(t *testing.T) {
	s := newTestServer(t, &mockOrchestrator{}, nil)

	w, resp := doJSON(t, s, http.MethodPost, "/api/orders/place", `{not json`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["success"])
}

func TestPlaceOrder_ConfigurationError(t *testing.T) {
	eng := &mockOrchestrator{
		placeErr: fmt.Errorf("%w: profit offset must be positive", ports.ErrConfiguration),
	}
	s := newTestServer(t, eng, nil)

	w, resp := doJSON(t, s, http.MethodPost, "/api/orders/place", `{"symbol":"AAPL","side":"BUY","qty":1}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "profit offset")
}

func TestPlaceOrder_BrokerRejection(t *testing.T) {
	eng := &mockOrchestrator{
		placeErr: fmt.Errorf("SubmitOrder failed: %w: insufficient buying power", ports.ErrInsufficientFunds),
	}
	s := newTestServer(t, eng, nil)

	w, resp := doJSON(t, s, http.MethodPost, "/api/orders/place", `{"symbol":"AAPL","side":"BUY","qty":1}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, resp["error"], "insufficient buying power")
}

func TestFillStatus_NotFound(t *testing.T) {
	eng := &mockOrchestrator{
		fillErr: fmt.Errorf("no strategy record for order x: %w", ports.ErrNotFound),
	}
	s := newTestServer(t, eng, nil)

	w, resp := doJSON(t, s, http.MethodGet, "/api/orders/x/fill-status", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, resp["success"])
}

func TestFillStatus_Success(t *testing.T) {
	fill := 65.0
	eng := &mockOrchestrator{
		fillResult: &engine.FillStatusResult{
			OrderID: "order-1", Symbol: "AAPL", Status: domain.StatusComplete,
			Filled: true, FillPrice: &fill, ExitPlaced: true, ExitOrderIDs: []string{"exit-1"},
		},
	}
	s := newTestServer(t, eng, nil)

	w, resp := doJSON(t, s, http.MethodGet, "/api/orders/order-1/fill-status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	fs := resp["fill_status"].(map[string]interface{})
	assert.Equal(t, true, fs["filled"])
	assert.Equal(t, 65.0, fs["fill_price"])
	assert.Equal(t, true, fs["exit_placed"])
}

func TestCheckTrigger(t *testing.T) {
	trigger := 19.60
	eng := &mockOrchestrator{
		triggerResult: &engine.TriggerStatusResult{
			OrderID: "order-2", Symbol: "XYZ", Status: domain.StatusWaitingTrigger,
			Triggered: false, CurrentPrice: 19.80, TriggerPrice: &trigger,
		},
	}
	s := newTestServer(t, eng, nil)

	w, resp := doJSON(t, s, http.MethodGet, "/api/exit-strategy/order-2/check-trigger", "")

	assert.Equal(t, http.StatusOK, w.Code)
	ts := resp["trigger_status"].(map[string]interface{})
	assert.Equal(t, false, ts["triggered"])
	assert.Equal(t, 19.8, ts["current_price"])
	assert.Equal(t, 19.6, ts["trigger_price"])
}

func TestCancelOrder(t *testing.T) {
	eng := &mockOrchestrator{}
	s := newTestServer(t, eng, nil)

	w, resp := doJSON(t, s, http.MethodPost, "/api/orders/order-3/cancel", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, []string{"order-3"}, eng.canceled)
}

func TestListAndDeleteStrategies(t *testing.T) {
	eng := &mockOrchestrator{
		strategies: []*domain.StrategyRecord{
			domain.NewStrategyRecord("order-4", "AAPL", domain.Buy, 100, domain.StrategyProfitTarget, domain.StrategyConfig{}),
		},
	}
	s := newTestServer(t, eng, nil)

	w, resp := doJSON(t, s, http.MethodGet, "/api/strategies", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["strategies"], 1)

	w, resp = doJSON(t, s, http.MethodDelete, "/api/strategies/order-4", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, []string{"order-4"}, eng.deleted)
}

func TestQuote(t *testing.T) {
	eng := &mockOrchestrator{quote: &domain.Quote{Symbol: "AAPL", Bid: 64.98, Ask: 65.02}}
	s := newTestServer(t, eng, nil)

	w, resp := doJSON(t, s, http.MethodGet, "/api/quote/AAPL", "")

	assert.Equal(t, http.StatusOK, w.Code)
	q := resp["quote"].(map[string]interface{})
	assert.Equal(t, 64.98, q["bid"])
}

func TestAccountAndPositions(t *testing.T) {
	eng := &mockOrchestrator{
		account: &domain.Account{ID: "acct-1", Status: "ACTIVE", BuyingPower: 50000},
		positions: []*domain.Position{
			{Symbol: "AAPL", Qty: 100, Side: "long", AvgEntryPrice: 65.00},
		},
	}
	s := newTestServer(t, eng, nil)

	w, resp := doJSON(t, s, http.MethodGet, "/api/account", "")
	assert.Equal(t, http.StatusOK, w.Code)
	acct := resp["account"].(map[string]interface{})
	assert.Equal(t, "acct-1", acct["id"])
	assert.Equal(t, 50000.0, acct["buying_power"])

	w, resp = doJSON(t, s, http.MethodGet, "/api/positions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	positions := resp["positions"].([]interface{})
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].(map[string]interface{})["symbol"])
}

func TestAccount_BrokerFailure(t *testing.T) {
	eng := &mockOrchestrator{accountErr: ports.ErrBrokerUnavailable}
	s := newTestServer(t, eng, nil)

	w, resp := doJSON(t, s, http.MethodGet, "/api/account", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, false, resp["success"])
}

func TestStream_DeliversHubEvents(t *testing.T) {
	hub := events.NewHub()
	s := newTestServer(t, &mockOrchestrator{}, hub)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscriber registers once the handler runs; publish until the
	// frame shows up.
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hub.Publish(events.Event{Type: events.TypeFill, OrderID: "order-5", Symbol: "AAPL"})
			}
		}
	}()

	buf := make([]byte, 4096)
	var received string
	for !strings.Contains(received, "event:fill") {
		n, err := resp.Body.Read(buf)
		require.NoError(t, err)
		received += string(buf[:n])
	}
	assert.Contains(t, received, "order-5")
}
