package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rulebot/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	writeWait = 10 * time.Second

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// TickHandler receives every sample read from a stream.
type TickHandler func(ctx context.Context, sample models.MarketSample)

// StreamFeed reads live samples from a websocket endpoint and hands each one
// to a TickHandler. It reconnects with exponential backoff until ctx ends.
// Messages use the same JSON shape as the REST service.
type StreamFeed struct {
	url     string
	symbols []string
	logger  *zap.Logger
	dialer  websocket.Dialer

	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewStreamFeed creates a feed for the given symbols.
func NewStreamFeed(url string, symbols []string, logger *zap.Logger) *StreamFeed {
	return &StreamFeed{
		url:       url,
		symbols:   symbols,
		logger:    logger.Named("stream"),
		dialer:    websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		baseDelay: reconnectDelay,
		maxDelay:  maxReconnectDelay,
	}
}

type subscribeCommand struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// Run blocks, dispatching samples to handle, until ctx is cancelled.
func (f *StreamFeed) Run(ctx context.Context, handle TickHandler) error {
	delay := f.baseDelay
	for {
		subscribed, err := f.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			delay = f.baseDelay
		}
		f.logger.Warn("Stream disconnected, reconnecting...", zap.Duration("retry_after", delay), zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
		delay *= 2
		if delay > f.maxDelay {
			delay = f.maxDelay
		}
	}
}

// session runs a single connection until it fails or ctx ends. subscribed
// reports whether the connection got far enough to send its subscription.
func (f *StreamFeed) session(ctx context.Context, handle TickHandler) (subscribed bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("stream: connect: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeCommand{Type: "subscribe", Symbols: f.symbols}); err != nil {
		return false, fmt.Errorf("stream: subscribe: %w", err)
	}
	f.logger.Info("Stream connected", zap.String("url", f.url), zap.Strings("symbols", f.symbols))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			case <-ctx.Done():
				// Unblock ReadMessage.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("stream: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg wireSample
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn("Dropping malformed stream message", zap.ByteString("payload", data), zap.Error(err))
			continue
		}
		handle(ctx, msg.toModel())
	}
}
