package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	readWait          = 60 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// TickHandler receives every ticker update.
type TickHandler func(ctx context.Context, tick Tick)

// TickerFeed subscribes to the ticker channel for a set of products and
// hands each update to a handler. It reconnects with backoff until its
// context is cancelled.
type TickerFeed struct {
	wsURL    string
	products []string
	onTick   TickHandler
	logger   *slog.Logger
}

// NewTickerFeed creates a feed.
//
// wsURL is the feed endpoint, e.g. "wss://ws-feed.exchange.coinbase.com".
func NewTickerFeed(wsURL string, products []string, onTick TickHandler, logger *slog.Logger) *TickerFeed {
	return &TickerFeed{
		wsURL:    wsURL,
		products: products,
		onTick:   onTick,
		logger:   logger.With(slog.String("component", "coinbase_ticker_feed")),
	}
}

// Run blocks until ctx is cancelled.
func (f *TickerFeed) Run(ctx context.Context) error {
	if len(f.products) == 0 {
		f.logger.Info("no products to subscribe, exiting")
		return nil
	}
	delay := reconnectDelay
	for {
		connected, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = reconnectDelay
		}
		f.logger.Warn("ticker feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes and reads until the connection fails or
// ctx ends. connected reports whether the subscription went through.
func (f *TickerFeed) runConnection(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("coinbase/ws: connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	sub := wsSubscribe{Type: "subscribe", ProductIDs: f.products, Channels: []string{"ticker", "heartbeat"}}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("coinbase/ws: subscribe: %w", err)
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return connected, fmt.Errorf("coinbase/ws: read: %w: %w", domain.ErrWSDisconnect, err)
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscriptions":
			if !connected {
				connected = true
				f.logger.Info("ticker feed subscribed", slog.Any("products", f.products))
			}
		case "ticker":
			tick, ok := toTick(msg)
			if ok && f.onTick != nil {
				f.onTick(ctx, tick)
			}
		case "error":
			return connected, errors.New("coinbase/ws: " + msg.Message + ": " + msg.Reason)
		}
	}
}

func toTick(msg wsMessage) (Tick, bool) {
	price, err := decimal.NewFromString(msg.Price)
	if err != nil || !price.IsPositive() || msg.ProductID == "" {
		return Tick{}, false
	}
	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Tick{Product: msg.ProductID, Price: price, Time: ts}, true
}
