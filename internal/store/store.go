// Package store implements the central in-memory price merge point and
// arbitrage-detection engine: one Store instance per process, shared by
// every venue adapter and every subscriber.
package store

import (
	"context"
	"sort"
	"sync"

	"arbhub/internal/apperrors"
	"arbhub/internal/core"
	"arbhub/internal/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const topSpreadChangeThreshold = "0.1" // percentage points

// tickerState holds all mutable state for one ticker, guarded by its own
// mutex so updates to different tickers never contend.
type tickerState struct {
	mu sync.Mutex

	samples       map[core.Venue]core.PriceSample
	threshold     decimal.Decimal
	opportunities []core.ArbitrageOpportunity
	prevTopSpread *decimal.Decimal

	subscribers map[string]core.OpportunitySubscriber

	// notifying/pendingRenotify implement the reentrant-write guard: a
	// subscriber callback that calls UpdatePrice for the same ticker has
	// its write applied immediately but its notification deferred until
	// the in-progress notify loop picks it up, rather than recursing.
	notifying       bool
	pendingRenotify bool
}

// Store is the process-wide price store. Construct with New; do not rely on
// a package-level singleton so tests can build isolated instances.
type Store struct {
	mu      sync.Mutex
	tickers map[core.Ticker]*tickerState
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
}

// New creates an empty Store.
func New(logger core.ILogger) *Store {
	return &Store{
		tickers: make(map[core.Ticker]*tickerState),
		logger:  logger,
		metrics: telemetry.GetGlobalMetrics(),
	}
}

func (s *Store) state(ticker core.Ticker) *tickerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tickers[ticker]
	if !ok {
		ts = &tickerState{
			samples:     make(map[core.Venue]core.PriceSample),
			subscribers: make(map[string]core.OpportunitySubscriber),
		}
		s.tickers[ticker] = ts
	}
	return ts
}

// UpdatePrice overwrites the latest sample for (ticker, venue), recomputes
// opportunities, and notifies subscribers if the result changed
// significantly. Invalid prices (negative) are rejected without error
// propagation beyond the returned error.
func (s *Store) UpdatePrice(ticker core.Ticker, venue core.Venue, sample core.PriceSample) error {
	if sample.Price.IsNegative() {
		s.metrics.SamplesRejectedTotal.Add(context.Background(), 1)
		if s.logger != nil {
			s.logger.Warn("rejected invalid price sample", "ticker", ticker, "venue", venue, "price", sample.Price.String())
		}
		return apperrors.ErrInvalidPrice
	}

	ts := s.state(ticker)

	ts.mu.Lock()
	ts.samples[venue] = sample
	changed, opps := recompute(ts)

	if ts.notifying {
		if changed {
			ts.pendingRenotify = true
		}
		ts.mu.Unlock()
		s.metrics.SamplesIngestedTotal.Add(context.Background(), 1)
		return nil
	}

	ts.notifying = true
	subs := snapshotSubscribers(ts.subscribers)
	ts.mu.Unlock()

	s.metrics.SamplesIngestedTotal.Add(context.Background(), 1)
	if changed {
		s.metrics.OpportunitiesFoundTotal.Add(context.Background(), int64(len(opps)))
	}

	for {
		if changed {
			s.notify(ticker, subs, opps)
		}

		ts.mu.Lock()
		if ts.pendingRenotify {
			ts.pendingRenotify = false
			opps = ts.opportunities
			changed = true
			subs = snapshotSubscribers(ts.subscribers)
			ts.mu.Unlock()
			continue
		}
		ts.notifying = false
		ts.mu.Unlock()
		break
	}

	return nil
}

// notify invokes every subscriber callback outside of any lock. A panicking
// or misbehaving callback never blocks the others.
func (s *Store) notify(ticker core.Ticker, subs []core.OpportunitySubscriber, opps []core.ArbitrageOpportunity) {
	s.metrics.SetActiveOpportunities(string(ticker), int64(len(opps)))
	for _, cb := range subs {
		s.safeCall(ticker, cb, opps)
	}
}

func (s *Store) safeCall(ticker core.Ticker, cb core.OpportunitySubscriber, opps []core.ArbitrageOpportunity) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("opportunity subscriber panicked", "ticker", ticker, "panic", r)
		}
	}()
	cb(ticker, opps)
}

// recompute must be called with ts.mu held. It applies the arbitrage
// algorithm and reports whether the new set differs significantly from the
// previous one.
func recompute(ts *tickerState) (changed bool, opps []core.ArbitrageOpportunity) {
	opps = computeOpportunities(ts.samples, ts.threshold)

	oldLen := len(ts.opportunities)
	newLen := len(opps)

	if oldLen != newLen {
		changed = true
	} else if newLen > 0 {
		var newTop decimal.Decimal
		newTop = opps[0].SpreadPercent
		if ts.prevTopSpread == nil {
			changed = true
		} else {
			delta := newTop.Sub(*ts.prevTopSpread).Abs()
			if delta.GreaterThanOrEqual(decimal.RequireFromString(topSpreadChangeThreshold)) {
				changed = true
			}
		}
	}

	ts.opportunities = opps
	if newLen > 0 {
		top := opps[0].SpreadPercent
		ts.prevTopSpread = &top
	} else {
		ts.prevTopSpread = nil
	}

	return changed, opps
}

// computeOpportunities turns every unordered pair of samples whose spread
// meets the threshold into one opportunity, sorted descending by absolute
// profit. Spread is rounded to 0.01 percentage-point precision using
// round-half-away-from-zero (shopspring decimal's default Round behavior).
func computeOpportunities(samples map[core.Venue]core.PriceSample, threshold decimal.Decimal) []core.ArbitrageOpportunity {
	if len(samples) < 2 {
		return nil
	}

	list := make([]core.PriceSample, 0, len(samples))
	for _, s := range samples {
		list = append(list, s)
	}

	var opps []core.ArbitrageOpportunity
	for i := 0; i < len(list); i++ {
		for j := i + 1; j < len(list); j++ {
			p, q := list[i], list[j]
			buy, sell := p, q
			if buy.Price.GreaterThan(sell.Price) {
				buy, sell = sell, buy
			}
			if buy.Price.IsZero() {
				continue
			}

			profit := sell.Price.Sub(buy.Price)
			spread := profit.Mul(decimal.NewFromInt(100)).Div(buy.Price).Round(2)

			if spread.LessThan(threshold) {
				continue
			}

			ts := sell.TimestampMS
			if buy.TimestampMS > ts {
				ts = buy.TimestampMS
			}

			opps = append(opps, core.ArbitrageOpportunity{
				Buy:            buy,
				Sell:           sell,
				SpreadPercent:  spread,
				AbsoluteProfit: profit,
				TimestampMS:    ts,
			})
		}
	}

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].AbsoluteProfit.GreaterThan(opps[j].AbsoluteProfit)
	})

	return opps
}

// SetThreshold replaces the per-ticker minimum spread. Does not itself
// trigger notifications.
func (s *Store) SetThreshold(ticker core.Ticker, percent decimal.Decimal) {
	ts := s.state(ticker)
	ts.mu.Lock()
	ts.threshold = percent
	ts.mu.Unlock()
}

// Subscribe registers a callback invoked with the latest opportunity set
// whenever it changes significantly. Returns an unsubscribe function.
func (s *Store) Subscribe(ticker core.Ticker, callback core.OpportunitySubscriber) (unsubscribe func()) {
	ts := s.state(ticker)
	id := uuid.NewString()

	ts.mu.Lock()
	ts.subscribers[id] = callback
	ts.mu.Unlock()

	return func() {
		ts.mu.Lock()
		delete(ts.subscribers, id)
		ts.mu.Unlock()
	}
}

// GetPrices returns a snapshot of the latest sample per venue for a ticker.
func (s *Store) GetPrices(ticker core.Ticker) map[core.Venue]core.PriceSample {
	ts := s.state(ticker)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	out := make(map[core.Venue]core.PriceSample, len(ts.samples))
	for k, v := range ts.samples {
		out[k] = v
	}
	return out
}

// GetOpportunities returns a snapshot of the latest opportunity set.
func (s *Store) GetOpportunities(ticker core.Ticker) []core.ArbitrageOpportunity {
	ts := s.state(ticker)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	out := make([]core.ArbitrageOpportunity, len(ts.opportunities))
	copy(out, ts.opportunities)
	return out
}

// ClearTicker drops samples, threshold, opportunities, and subscribers for
// the ticker.
func (s *Store) ClearTicker(ticker core.Ticker) {
	s.mu.Lock()
	delete(s.tickers, ticker)
	s.mu.Unlock()
}

func snapshotSubscribers(subs map[string]core.OpportunitySubscriber) []core.OpportunitySubscriber {
	out := make([]core.OpportunitySubscriber, 0, len(subs))
	for _, cb := range subs {
		out = append(out, cb)
	}
	return out
}
