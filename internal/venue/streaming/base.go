// Package streaming implements the websocket adapter variant of the venue
// adapter capability set (connect/disconnect/reconnect/isConnected/
// checkListing/onStatusUpdate). One Adapter instance serves every
// market a single venue offers for a single ticker; venue-specific wire
// shape (URLs, subscribe frames, parsing, ping handling) is supplied as a
// VenueDef so the connection bookkeeping below stays venue-agnostic.
package streaming

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arbhub/internal/config"
	"arbhub/internal/core"
	"arbhub/internal/telemetry"
	"arbhub/internal/wsclient"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Endpoint describes one (venue, market) websocket target.
type Endpoint struct {
	URL string
	// SubscribeFrame is sent via Client.Send immediately after connect. Nil
	// means the venue carries its subscription entirely in the URL.
	SubscribeFrame interface{}
}

// VenueDef is the venue-specific wiring a concrete adapter (binance, mexc,
// gate, bitget) supplies to the shared base.
type VenueDef struct {
	Name core.Venue

	// Endpoints resolves the per-market connection targets for a ticker.
	// A market absent from the returned map is unsupported by this venue.
	Endpoints func(ticker core.Ticker) map[core.MarketKind]Endpoint

	// Parse decodes a text frame. Returns ok=false for frames that are not
	// price updates (acks, unrelated channels) rather than an error; those
	// are dropped silently.
	Parse func(market core.MarketKind, raw []byte) (*core.PriceSample, bool)

	// Binary decodes a binary frame, if this venue/market uses one (nil for
	// venues with no binary stream).
	Binary func(market core.MarketKind, raw []byte) (*core.PriceSample, bool)

	// Ping recognizes a heartbeat frame and returns the pong frame to send
	// back, if any. Returns ok=false for non-heartbeat frames.
	Ping func(raw []byte) (pong interface{}, ok bool)

	// CheckListing probes the venue's REST API(s) for ticker availability.
	// Concrete venues close over their own spot/derivative restclient.Client
	// instances rather than receiving one here, since the two REST bases
	// differ per venue.
	CheckListing func(ctx context.Context, ticker core.Ticker) (core.ListingResult, error)
}

type session struct {
	market core.MarketKind
	client *wsclient.Client

	mu    sync.Mutex
	state core.SessionState
}

// Adapter implements core.Adapter for one (ticker, venue) pair across every
// market that venue offers for that ticker.
type Adapter struct {
	def    VenueDef
	ticker core.Ticker
	sink   core.SampleSink
	logger core.ILogger
	timing config.TimingConfig

	mu       sync.Mutex
	sessions map[core.MarketKind]*session

	subMu sync.Mutex
	subs  map[string]func(core.StatusUpdate)
}

// NewAdapter constructs an Adapter for one (ticker, venue) pair. A zero-value
// timing falls back to the defaults (5s connect timeout, 1s/30s/5 backoff),
// the same fallback-if-empty pattern the venue constructors use for their
// websocket URLs.
func NewAdapter(def VenueDef, ticker core.Ticker, sink core.SampleSink, timing config.TimingConfig, logger core.ILogger) *Adapter {
	return &Adapter{
		def:      def,
		ticker:   ticker,
		sink:     sink,
		logger:   logger,
		timing:   timing,
		sessions: make(map[core.MarketKind]*session),
		subs:     make(map[string]func(core.StatusUpdate)),
	}
}

// Connect opens a websocket session for each requested market not already
// connected or connecting. Unsupported markets are skipped with a warning;
// not every venue offers every market.
func (a *Adapter) Connect(ctx context.Context, markets []core.MarketKind) error {
	endpoints := a.def.Endpoints(a.ticker)

	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for _, market := range markets {
		if _, exists := a.sessions[market]; exists {
			continue
		}
		ep, ok := endpoints[market]
		if !ok {
			if a.logger != nil {
				a.logger.Warn("venue does not support market", "venue", a.def.Name, "market", market.String(), "ticker", a.ticker)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("venue %s does not support market %s", a.def.Name, market)
			}
			continue
		}
		a.startSession(market, ep)
	}
	return firstErr
}

func (a *Adapter) startSession(market core.MarketKind, ep Endpoint) {
	sess := &session{
		market: market,
		state: core.SessionState{
			Ticker: a.ticker,
			Venue:  a.def.Name,
			Market: market,
			Status: core.StatusConnecting,
		},
	}

	handler := a.buildHandler(sess)

	connectTimeout := 5 * time.Second
	if a.timing.WebsocketConnectTimeoutMS > 0 {
		connectTimeout = time.Duration(a.timing.WebsocketConnectTimeoutMS) * time.Millisecond
	}
	opts := []wsclient.Option{wsclient.WithConnectTimeout(connectTimeout)}
	if a.timing.ReconnectBaseDelayMS > 0 && a.timing.ReconnectMaxDelayMS > 0 && a.timing.ReconnectMaxAttempts > 0 {
		opts = append(opts, wsclient.WithBackoff(
			time.Duration(a.timing.ReconnectBaseDelayMS)*time.Millisecond,
			time.Duration(a.timing.ReconnectMaxDelayMS)*time.Millisecond,
			a.timing.ReconnectMaxAttempts,
		))
	}
	client := wsclient.NewClient(ep.URL, handler, a.logger, opts...)

	metrics := telemetry.GetGlobalMetrics()
	client.SetOnConnected(func() {
		if ep.SubscribeFrame != nil {
			if err := client.Send(ep.SubscribeFrame); err != nil && a.logger != nil {
				a.logger.Error("failed to send subscribe frame", "venue", a.def.Name, "market", market.String(), "error", err)
			}
		}
		metrics.SetSessionConnected(string(a.def.Name), market.String(), true)
		a.setStatus(sess, core.StatusConnected, 0, "")
	})
	client.SetOnAttemptFailed(func(attempt int, err error) {
		metrics.ReconnectsTotal.Add(context.Background(), 1)
		metrics.SetSessionConnected(string(a.def.Name), market.String(), false)
		a.setStatus(sess, core.StatusError, attempt, err.Error())
	})
	client.SetOnTerminal(func(err error) {
		metrics.ReconnectExhaustedTotal.Add(context.Background(), 1)
		a.setStatus(sess, core.StatusError, client.Attempt(), err.Error())
	})

	sess.client = client
	a.sessions[market] = sess

	a.setStatus(sess, core.StatusConnecting, 0, "")
	client.Start()
}

func (a *Adapter) buildHandler(sess *session) wsclient.MessageHandler {
	return func(messageType int, raw []byte) {
		if messageType == websocket.BinaryMessage {
			if a.def.Binary == nil {
				return
			}
			sample, ok := a.def.Binary(sess.market, raw)
			if !ok {
				return
			}
			a.emit(*sample)
			return
		}

		if a.def.Ping != nil {
			if pong, isPing := a.def.Ping(raw); isPing {
				if pong != nil {
					_ = sess.client.Send(pong)
				}
				return
			}
		}

		sample, ok := a.def.Parse(sess.market, raw)
		if !ok {
			return
		}
		a.emit(*sample)
	}
}

func (a *Adapter) emit(sample core.PriceSample) {
	if a.sink == nil {
		return
	}
	if err := a.sink.UpdatePrice(a.ticker, a.def.Name, sample); err != nil && a.logger != nil {
		a.logger.Warn("rejected sample", "venue", a.def.Name, "ticker", a.ticker, "error", err)
	}
}

// Disconnect closes sessions for the given markets cleanly. No reconnection
// is scheduled.
func (a *Adapter) Disconnect(markets []core.MarketKind) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, market := range markets {
		sess, ok := a.sessions[market]
		if !ok {
			continue
		}
		sess.client.Stop()
		delete(a.sessions, market)
		telemetry.GetGlobalMetrics().SetSessionConnected(string(a.def.Name), market.String(), false)
		a.setStatus(sess, core.StatusDisconnected, 0, "")
	}
	return nil
}

// Reconnect forces a fresh attempt on the given markets, resetting their
// attempt counters even if they were in a terminal state.
func (a *Adapter) Reconnect(ctx context.Context, markets []core.MarketKind) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, market := range markets {
		sess, ok := a.sessions[market]
		if !ok {
			continue
		}
		a.setStatus(sess, core.StatusConnecting, 0, "")
		sess.client.Reconnect(ctx)
	}
	return nil
}

// IsConnected reports whether the given market currently has a live session.
func (a *Adapter) IsConnected(market core.MarketKind) bool {
	a.mu.Lock()
	sess, ok := a.sessions[market]
	a.mu.Unlock()
	if !ok {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state.Status == core.StatusConnected
}

// CheckListing delegates to the venue-specific REST probe.
func (a *Adapter) CheckListing(ctx context.Context, ticker core.Ticker) (core.ListingResult, error) {
	start := time.Now()
	result, err := a.def.CheckListing(ctx, ticker)
	telemetry.GetGlobalMetrics().VenueLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	return result, err
}

// OnStatusUpdate registers a callback invoked whenever any session's state
// changes. Returns an unsubscribe function.
func (a *Adapter) OnStatusUpdate(callback func(core.StatusUpdate)) (unsubscribe func()) {
	id := uuid.NewString()
	a.subMu.Lock()
	a.subs[id] = callback
	a.subMu.Unlock()

	return func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	}
}

func (a *Adapter) setStatus(sess *session, status core.SessionStatus, attempt int, errMsg string) {
	sess.mu.Lock()
	sess.state.Status = status
	sess.state.ReconnectAttempt = attempt
	sess.state.ErrorMessage = errMsg
	sess.state.LastUpdateMS = time.Now().UnixMilli()
	state := sess.state
	sess.mu.Unlock()

	a.subMu.Lock()
	callbacks := make([]func(core.StatusUpdate), 0, len(a.subs))
	for _, cb := range a.subs {
		callbacks = append(callbacks, cb)
	}
	a.subMu.Unlock()

	update := core.StatusUpdate{
		Ticker: a.ticker,
		Venue:  a.def.Name,
		Market: sess.market,
		State:  state,
	}
	for _, cb := range callbacks {
		cb(update)
	}
}
