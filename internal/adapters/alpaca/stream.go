package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/rasesh6/alpaca-trading/internal/domain"
	"github.com/rasesh6/alpaca-trading/internal/ports"
)

const (
	streamWriteTimeout    = 10 * time.Second
	streamHandshakeWindow = 15 * time.Second
	tradeUpdatesStream    = "trade_updates"
)

// StreamTradeUpdates starts the order-lifecycle push stream. Events are
// delivered to handler, connection-level errors to errHandler. The returned
// channels control the stream lifecycle: doneCh closes when the reconnection
// loop exits, a send on stopCh requests shutdown.
func (c *Client) StreamTradeUpdates(ctx context.Context, handler func(update domain.TradeUpdate), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamTradeUpdates"
	wsCtx, cancelWs := context.WithCancel(ctx)

	retry := &backoff.Backoff{
		Min:    c.reconnectMin,
		Max:    c.reconnectMax,
		Factor: 2,
		Jitter: true,
	}

	go func() {
		defer cancelWs()

		attempt := 0
		for {
			select {
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": Context cancelled, stopping connection attempts.", nil)
				return
			default:
			}

			c.logger.Info(wsCtx, op+": Attempting WebSocket connection...", map[string]interface{}{"url": c.streamURL, "attempt": attempt + 1})
			conn, connectErr := c.connectStream(wsCtx)
			if connectErr != nil {
				translatedErr := c.handleError(wsCtx, connectErr, op+" connection attempt")
				errHandler(translatedErr)
				attempt++
				if c.maxAttempts > 0 && attempt >= c.maxAttempts {
					c.logger.Error(wsCtx, connectErr, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"maxAttempts": c.maxAttempts})
					return
				}
				delay := retry.Duration()
				c.logger.Info(wsCtx, op+": Connection failed, retrying...", map[string]interface{}{"attempt": attempt + 1, "delay": delay.String()})
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					c.logger.Info(wsCtx, op+": Context cancelled during backoff.", nil)
					return
				}
			}

			c.logger.Info(wsCtx, op+": WebSocket connection established.", map[string]interface{}{"url": c.streamURL})
			attempt = 0
			retry.Reset()

			readDone := make(chan struct{})
			go func() {
				defer close(readDone)
				c.readStream(wsCtx, conn, handler, errHandler)
			}()

			select {
			case <-readDone:
				c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...", nil)
				conn.Close()
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": Context cancelled, stopping WebSocket.", nil)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(streamWriteTimeout))
				conn.Close()
				<-readDone
				return
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": Received external stop signal, cancelling WebSocket context.", nil)
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// connectStream dials the stream endpoint and completes the authenticate +
// listen handshake before events flow.
func (c *Client) connectStream(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, streamHandshakeWindow)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.streamURL, err)
	}

	auth := authRequest{Action: "authenticate", Key: c.apiKey, Secret: c.secretKey}
	if err := writeStreamJSON(conn, auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send auth request: %w", err)
	}

	msg, err := readStreamMessage(conn, streamHandshakeWindow)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read auth response: %w", err)
	}
	if msg.Stream != "authorization" || msg.Data.Status != "authorized" {
		conn.Close()
		return nil, fmt.Errorf("%w: stream authorization refused (status %q)", ports.ErrAuthenticationFailed, msg.Data.Status)
	}

	listen := listenRequest{Action: "listen", Data: listenData{Streams: []string{tradeUpdatesStream}}}
	if err := writeStreamJSON(conn, listen); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send listen request: %w", err)
	}

	msg, err = readStreamMessage(conn, streamHandshakeWindow)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read listen response: %w", err)
	}
	if msg.Stream != "listening" {
		conn.Close()
		return nil, fmt.Errorf("unexpected handshake frame %q", msg.Stream)
	}

	// Clear the handshake read deadline for the event loop.
	conn.SetReadDeadline(time.Time{})
	return conn, nil
}

// readStream pumps frames from an established connection until it fails or
// the context ends. A return means the connection is no longer usable.
func (c *Client) readStream(ctx context.Context, conn *websocket.Conn, handler func(update domain.TradeUpdate), errHandler func(err error)) {
	op := "StreamTradeUpdates"
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				translatedErr := c.handleError(ctx, err, op+" read")
				errHandler(translatedErr)
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Error(ctx, err, op+": Failed to decode stream frame", map[string]interface{}{"raw": string(raw)})
			continue
		}
		if msg.Stream != tradeUpdatesStream {
			c.logger.Debug(ctx, op+": Ignoring non-trade frame", map[string]interface{}{"stream": msg.Stream})
			continue
		}

		update := translateTradeUpdate(msg.Data)
		if update.OrderID == "" {
			c.logger.Warn(ctx, op+": Trade update without order payload", map[string]interface{}{"event": string(update.Event)})
			continue
		}
		handler(update)
	}
}

func writeStreamJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(v)
}

func readStreamMessage(conn *websocket.Conn, timeout time.Duration) (*streamMessage, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	var msg streamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
