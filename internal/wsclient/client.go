// Package wsclient provides a resilient WebSocket client with exponential
// backoff reconnection and a terminal failure state.
package wsclient

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"arbhub/internal/core"
	"arbhub/internal/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler handles incoming WebSocket messages. messageType is one of
// websocket.TextMessage or websocket.BinaryMessage, letting callers route
// binary frames to a binary codec without sniffing the payload.
type MessageHandler func(messageType int, message []byte)

// Client is a resilient WebSocket client. Reconnection follows exponential
// backoff with full jitter: delay = min(maxDelay, base*2^attempt + U(0,1000ms)).
// After MaxAttempts consecutive failures the client enters a terminal state
// and stops retrying until Reconnect is called explicitly.
type Client struct {
	url     string
	handler MessageHandler

	baseDelay      time.Duration
	maxDelay       time.Duration
	maxAttempts    int
	connectTimeout time.Duration
	pingInterval   time.Duration
	pingWait       time.Duration
	pongWait       time.Duration

	conn *websocket.Conn
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	attempt  int
	terminal bool
	// reconnectSignal is closed and replaced each time Reconnect resets the
	// terminal state, waking a parked runLoop.
	reconnectSignal chan struct{}

	onConnected     func()
	onTerminal      func(err error)
	onAttemptFailed func(attempt int, err error)

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithBackoff overrides the default reconnect backoff parameters.
func WithBackoff(base, max time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = max
		c.maxAttempts = maxAttempts
	}
}

// WithConnectTimeout overrides the default dial timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithPing overrides ping interval/wait/pong-wait.
func WithPing(interval, wait, pongWait time.Duration) Option {
	return func(c *Client) {
		c.pingInterval = interval
		c.pingWait = wait
		c.pongWait = pongWait
	}
}

// NewClient creates a new WebSocket client with default timing:
// 1s base backoff, 30s cap, 5 max consecutive attempts, 5s connect timeout.
func NewClient(url string, handler MessageHandler, logger core.ILogger, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	tracer := telemetry.GetTracer("ws-client")
	meter := telemetry.GetMeter("ws-client")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))
	latencyHist, _ := meter.Float64Histogram("ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing WebSocket messages in seconds"))

	c := &Client{
		url:             url,
		handler:         handler,
		baseDelay:       1 * time.Second,
		maxDelay:        30 * time.Second,
		maxAttempts:     5,
		connectTimeout:  5 * time.Second,
		pingInterval:    30 * time.Second,
		pingWait:        10 * time.Second,
		pongWait:        60 * time.Second,
		ctx:             ctx,
		cancel:          cancel,
		reconnectSignal: make(chan struct{}),
		tracer:          tracer,
		msgCounter:      msgCounter,
		connCounter:     connCounter,
		latencyHist:     latencyHist,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetOnConnected sets the callback for when the connection is established.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// SetOnTerminal sets the callback invoked when the reconnect budget is
// exhausted. The client stops retrying until Reconnect is called.
func (c *Client) SetOnTerminal(cb func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTerminal = cb
}

// SetOnAttemptFailed sets the callback invoked after every failed connect or
// abnormal close, including ones that do not exhaust the budget. Useful for
// callers that want to surface a transient error status between retries.
func (c *Client) SetOnAttemptFailed(cb func(attempt int, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAttemptFailed = cb
}

// IsTerminal reports whether the client has exhausted its reconnect budget.
func (c *Client) IsTerminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// Attempt returns the current consecutive-failure count.
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Send sends a message over the WebSocket.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start connects and begins listening for messages.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection cleanly and stops the loop. No reconnection is
// attempted for a manual Stop.
func (c *Client) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("WebSocket client Stop: some goroutines did not exit within timeout")
		}
	}

	c.closeConn()
}

// Reconnect clears the terminal state and the attempt counter, forcing a
// fresh connection attempt. No-op if the client was never in a terminal
// state and is already connected.
func (c *Client) Reconnect(ctx context.Context) {
	c.mu.Lock()
	c.attempt = 0
	wasTerminal := c.terminal
	c.terminal = false
	signal := c.reconnectSignal
	c.reconnectSignal = make(chan struct{})
	c.mu.Unlock()

	if wasTerminal {
		close(signal)
	}
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		if c.terminal {
			signal := c.reconnectSignal
			c.mu.Unlock()
			select {
			case <-c.ctx.Done():
				return
			case <-signal:
				continue
			}
		}
		c.mu.Unlock()

		if err := c.connect(); err != nil {
			if c.logger != nil {
				c.logger.Error("WebSocket connect failed", "url", c.url, "error", err)
			}
			if c.recordFailureAndMaybeGoTerminal(err) {
				continue
			}
			delay := c.nextDelay()
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		c.mu.Lock()
		c.attempt = 0
		onConnected := c.onConnected
		pingInterval := c.pingInterval
		c.mu.Unlock()

		if onConnected != nil {
			onConnected()
		}

		heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
		if pingInterval > 0 {
			c.wg.Add(1)
			go c.heartbeat(heartbeatCtx, heartbeatCancel)
		}

		c.readLoop()
		heartbeatCancel()

		select {
		case <-c.ctx.Done():
			return
		default:
		}

		// Abnormal close: treat as a failed attempt toward the budget.
		if c.recordFailureAndMaybeGoTerminal(fmt.Errorf("connection closed abnormally")) {
			continue
		}
		delay := c.nextDelay()
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// recordFailureAndMaybeGoTerminal increments the attempt counter and, if the
// budget is exhausted, flips the client into terminal state. Returns true if
// the client is now terminal (caller should loop back to park, not sleep).
func (c *Client) recordFailureAndMaybeGoTerminal(err error) bool {
	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	exhausted := attempt >= c.maxAttempts
	if exhausted {
		c.terminal = true
	}
	onTerminal := c.onTerminal
	onAttemptFailed := c.onAttemptFailed
	c.mu.Unlock()

	if onAttemptFailed != nil {
		onAttemptFailed(attempt, err)
	}

	if exhausted {
		if c.logger != nil {
			c.logger.Error("WebSocket reconnect budget exhausted, entering terminal state", "url", c.url, "attempts", c.maxAttempts)
		}
		if onTerminal != nil {
			onTerminal(err)
		}
		return true
	}
	return false
}

// nextDelay computes the exponential-backoff-with-full-jitter delay for the
// current attempt count.
func (c *Client) nextDelay() time.Duration {
	c.mu.Lock()
	attempt := c.attempt
	base := c.baseDelay
	max := c.maxDelay
	c.mu.Unlock()

	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > max {
		backoff = max
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	delay := backoff + jitter
	if delay > max {
		delay = max
	}
	return delay
}

func (c *Client) heartbeat(ctx context.Context, cancel context.CancelFunc) {
	defer c.wg.Done()
	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait)); err != nil {
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	ctx, span := c.tracer.Start(c.ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = c.connectTimeout

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}

			messageType, message, err := conn.ReadMessage()
			if err != nil {
				return
			}

			start := time.Now()
			c.msgCounter.Add(c.ctx, 1)

			if c.handler != nil {
				c.handler(messageType, message)
			}

			duration := time.Since(start).Seconds()
			c.latencyHist.Record(c.ctx, duration)
		}
	}
}
