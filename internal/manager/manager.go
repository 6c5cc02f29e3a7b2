// Package manager implements the Connection Manager: the lifecycle
// controller that resolves a MonitoringSpec into a set of running venue
// adapters, exposes start/stop/status operations, and aggregates their
// health. It is the component an HTTP layer (internal/httpapi) wraps.
package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"arbhub/internal/apperrors"
	"arbhub/internal/concurrency"
	"arbhub/internal/config"
	"arbhub/internal/core"
	"arbhub/internal/venue"
	"arbhub/internal/venue/onchain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Discoverer is the capability Manager needs from internal/discovery;
// expressed as an interface so tests can supply a fake without dialing any
// network.
type Discoverer interface {
	Discover(ctx context.Context, ticker core.Ticker, thresholdPercent decimal.Decimal) (core.MonitoringSpec, error)
}

// sessionKey formats the opaque "ticker|venue|market" key sessions are
// reported under.
func sessionKey(ticker core.Ticker, v core.Venue, m core.MarketKind) string {
	return fmt.Sprintf("%s|%s|%s", ticker, v, m)
}

// venueKey formats the (ticker, venue) key an adapter instance is stored
// under; one instance may serve several markets for that venue.
func venueKey(ticker core.Ticker, v core.Venue) string {
	return string(ticker) + "|" + string(v)
}

type adapterHandle struct {
	adapter     core.Adapter
	venue       core.Venue
	markets     map[core.MarketKind]bool
	unsubscribe func()
}

// Manager owns the active set of adapters for every monitored ticker.
// Construct with New; avoid a package-level singleton so tests can build
// isolated instances.
type Manager struct {
	store  core.PriceStore
	disc   Discoverer
	venues map[string]config.VenueConfig
	timing config.TimingConfig
	chains map[string]*onchain.ChainContext
	pool   *concurrency.WorkerPool
	logger core.ILogger

	mu      sync.Mutex
	specs   map[core.Ticker]core.MonitoringSpec
	handles map[string]*adapterHandle    // venueKey -> handle (covers both CEX and on-chain "venues")
	states  map[string]core.SessionState // sessionKey -> latest state

	statusMu   sync.Mutex
	statusSubs map[string]func(core.StatusUpdate)
}

// New builds a Manager. chains may be nil if no on-chain pools are ever
// monitored.
func New(store core.PriceStore, disc Discoverer, venues map[string]config.VenueConfig, timing config.TimingConfig, chains map[string]*onchain.ChainContext, poolSize int, logger core.ILogger) *Manager {
	return &Manager{
		store:  store,
		disc:   disc,
		venues: venues,
		timing: timing,
		chains: chains,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "connection-manager",
			MaxWorkers: poolSize,
		}, logger),
		logger:     logger,
		specs:      make(map[core.Ticker]core.MonitoringSpec),
		handles:    make(map[string]*adapterHandle),
		states:     make(map[string]core.SessionState),
		statusSubs: make(map[string]func(core.StatusUpdate)),
	}
}

// StartMonitoringAuto runs Discovery for ticker and starts monitoring the
// resulting spec. Fails if Discovery finds no venues.
func (m *Manager) StartMonitoringAuto(ctx context.Context, ticker core.Ticker, thresholdPercent decimal.Decimal) error {
	spec, err := m.disc.Discover(ctx, ticker, thresholdPercent)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if len(spec.Venues) == 0 {
		return apperrors.ErrNoVenuesFound
	}
	return m.StartMonitoring(ctx, spec)
}

// StartMonitoring sets the threshold on the store and connects every
// (venue, market) and on-chain pool named in spec. Adapters already running
// for a (ticker, venue) are reused; only newly requested markets are
// connected. All starts proceed in parallel; a per-venue failure is recorded
// and does not abort the others.
func (m *Manager) StartMonitoring(ctx context.Context, spec core.MonitoringSpec) error {
	m.store.SetThreshold(spec.Ticker, spec.ThresholdPercent)

	m.mu.Lock()
	m.specs[spec.Ticker] = spec
	m.mu.Unlock()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		startErr error
	)
	recordErr := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if startErr == nil {
			startErr = err
		}
		errMu.Unlock()
	}

	for _, sel := range spec.Venues {
		sel := sel
		wg.Add(1)
		_ = m.pool.Submit(func() {
			defer wg.Done()
			if err := m.startVenue(ctx, spec.Ticker, sel); err != nil {
				m.logger.Warn("failed to start venue", "ticker", spec.Ticker, "venue", sel.Venue, "error", err)
				recordErr(err)
			}
		})
	}
	for _, pool := range spec.Pools {
		pool := pool
		wg.Add(1)
		_ = m.pool.Submit(func() {
			defer wg.Done()
			if err := m.startPool(ctx, spec.Ticker, pool); err != nil {
				m.logger.Warn("failed to start on-chain pool", "ticker", spec.Ticker, "chain", pool.Chain, "error", err)
				recordErr(err)
			}
		})
	}
	wg.Wait()

	if startErr != nil && len(spec.Venues)+len(spec.Pools) == 1 {
		// A single requested source failed: surface it, there is nothing
		// else that could have partially succeeded.
		return startErr
	}
	return nil
}

func (m *Manager) startVenue(ctx context.Context, ticker core.Ticker, sel core.VenueSelection) error {
	key := venueKey(ticker, sel.Venue)

	m.mu.Lock()
	h, exists := m.handles[key]
	m.mu.Unlock()

	if !exists {
		cfg, ok := m.venues[strings.ToLower(string(sel.Venue))]
		if !ok {
			return fmt.Errorf("%w: %s", apperrors.ErrUnknownVenue, sel.Venue)
		}
		adapter, err := venue.NewStreamingAdapter(sel.Venue, cfg, m.timing, ticker, m.store, m.logger)
		if err != nil {
			return err
		}
		h = &adapterHandle{adapter: adapter, venue: sel.Venue, markets: make(map[core.MarketKind]bool)}
		h.unsubscribe = adapter.OnStatusUpdate(m.recordStatus)

		m.mu.Lock()
		m.handles[key] = h
		m.mu.Unlock()
	}

	m.mu.Lock()
	var toConnect []core.MarketKind
	for _, mk := range sel.Markets {
		if !h.markets[mk] {
			toConnect = append(toConnect, mk)
		}
	}
	m.mu.Unlock()
	if len(toConnect) == 0 {
		return nil
	}
	if err := h.adapter.Connect(ctx, toConnect); err != nil {
		return err
	}
	m.mu.Lock()
	for _, mk := range toConnect {
		h.markets[mk] = true
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) startPool(ctx context.Context, ticker core.Ticker, pool core.PoolSpec) error {
	key := venueKey(ticker, core.Venue(pool.Chain))

	m.mu.Lock()
	_, exists := m.handles[key]
	m.mu.Unlock()
	if exists {
		return nil
	}

	adapter, err := venue.NewPoolAdapter(m.chains, ticker, pool, m.timing, m.store, m.logger)
	if err != nil {
		return err
	}
	h := &adapterHandle{adapter: adapter, venue: core.Venue(pool.Chain), markets: map[core.MarketKind]bool{core.MarketSpot: true}}
	h.unsubscribe = adapter.OnStatusUpdate(m.recordStatus)

	m.mu.Lock()
	m.handles[key] = h
	m.mu.Unlock()

	return adapter.Connect(ctx, []core.MarketKind{core.MarketSpot})
}

func (m *Manager) recordStatus(update core.StatusUpdate) {
	key := sessionKey(update.Ticker, update.Venue, update.Market)

	m.mu.Lock()
	m.states[key] = update.State
	m.mu.Unlock()

	m.statusMu.Lock()
	callbacks := make([]func(core.StatusUpdate), 0, len(m.statusSubs))
	for _, cb := range m.statusSubs {
		callbacks = append(callbacks, cb)
	}
	m.statusMu.Unlock()

	for _, cb := range callbacks {
		cb(update)
	}
}

// StopMonitoring disconnects every adapter for ticker and clears it from the
// price store. Idempotent: stopping an unmonitored ticker is a no-op.
func (m *Manager) StopMonitoring(ticker core.Ticker) {
	prefix := string(ticker) + "|"

	m.mu.Lock()
	var toClose []*adapterHandle
	for key, h := range m.handles {
		if strings.HasPrefix(key, prefix) {
			toClose = append(toClose, h)
			delete(m.handles, key)
		}
	}
	delete(m.specs, ticker)
	m.mu.Unlock()

	for _, h := range toClose {
		markets := make([]core.MarketKind, 0, len(h.markets))
		for mk := range h.markets {
			markets = append(markets, mk)
		}
		_ = h.adapter.Disconnect(markets)
		if h.unsubscribe != nil {
			h.unsubscribe()
		}
	}

	// Session states are cleared only after every adapter is disconnected and
	// unsubscribed, so the final "disconnected" updates cannot re-add them.
	m.mu.Lock()
	for key := range m.states {
		if strings.HasPrefix(key, prefix) {
			delete(m.states, key)
		}
	}
	m.mu.Unlock()

	m.store.ClearTicker(ticker)
}

// ReconnectExchange forces a fresh connection attempt for one (ticker,
// venue, market), resetting its reconnect-attempt counter even if the
// session was in a terminal error state.
func (m *Manager) ReconnectExchange(ctx context.Context, ticker core.Ticker, v core.Venue, market core.MarketKind) error {
	m.mu.Lock()
	h, ok := m.handles[venueKey(ticker, v)]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active session for %s", sessionKey(ticker, v, market))
	}
	return h.adapter.Reconnect(ctx, []core.MarketKind{market})
}

// GetConnectionStatus returns every session's state, keyed by its opaque
// "ticker|venue|market" key. If ticker is non-empty, only that ticker's
// sessions are returned.
func (m *Manager) GetConnectionStatus(ticker core.Ticker) map[string]core.SessionState {
	prefix := ""
	if ticker != "" {
		prefix = string(ticker) + "|"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]core.SessionState)
	for key, st := range m.states {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			out[key] = st
		}
	}
	return out
}

// HealthStatus summarizes the aggregate health of every active session.
type HealthStatus struct {
	Healthy           bool `json:"healthy"`
	TotalSessions     int  `json:"totalSessions"`
	ConnectedSessions int  `json:"connectedSessions"`
	ErrorSessions     int  `json:"errorSessions"`
}

// HealthCheck aggregates every session's status into a single summary.
func (m *Manager) HealthCheck() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	hs := HealthStatus{Healthy: true, TotalSessions: len(m.states)}
	for _, st := range m.states {
		switch st.Status {
		case core.StatusConnected:
			hs.ConnectedSessions++
		case core.StatusError:
			hs.ErrorSessions++
			hs.Healthy = false
		}
	}
	return hs
}

// TickerInfo summarizes one actively monitored ticker's configuration.
type TickerInfo struct {
	Ticker           core.Ticker     `json:"ticker"`
	ThresholdPercent decimal.Decimal `json:"thresholdPercent"`
	Venues           []core.Venue    `json:"venues"`
	Chains           []string        `json:"chains,omitempty"`
}

// GetMonitoringInfo lists every currently monitored ticker.
func (m *Manager) GetMonitoringInfo() []TickerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TickerInfo, 0, len(m.specs))
	for ticker, spec := range m.specs {
		info := TickerInfo{Ticker: ticker, ThresholdPercent: spec.ThresholdPercent}
		for _, v := range spec.Venues {
			info.Venues = append(info.Venues, v.Venue)
		}
		for _, p := range spec.Pools {
			info.Chains = append(info.Chains, p.Chain)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// OnStatusUpdate registers a callback invoked whenever any adapter's
// SessionState changes. Returns an unsubscribe function.
func (m *Manager) OnStatusUpdate(callback func(core.StatusUpdate)) (unsubscribe func()) {
	id := uuid.NewString()
	m.statusMu.Lock()
	m.statusSubs[id] = callback
	m.statusMu.Unlock()

	return func() {
		m.statusMu.Lock()
		delete(m.statusSubs, id)
		m.statusMu.Unlock()
	}
}

// EmergencyDisconnectAll stops monitoring for every active ticker. Idempotent.
func (m *Manager) EmergencyDisconnectAll() {
	m.mu.Lock()
	tickers := make([]core.Ticker, 0, len(m.specs))
	for t := range m.specs {
		tickers = append(tickers, t)
	}
	m.mu.Unlock()

	for _, t := range tickers {
		m.StopMonitoring(t)
	}
}
