// Package discovery resolves a bare ticker into a MonitoringSpec by probing
// every configured venue's REST listing endpoint (and, for completeness,
// every configured on-chain network) in parallel.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"arbhub/internal/concurrency"
	"arbhub/internal/config"
	"arbhub/internal/core"
	"arbhub/internal/venue"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Discovery holds the venue/chain universe it probes against. Construct one
// per process (or one per test) rather than relying on a package singleton.
type Discovery struct {
	venues map[core.Venue]config.VenueConfig
	timing config.TimingConfig
	chains []string
	pool   *concurrency.WorkerPool
	logger core.ILogger
}

// New builds a Discovery over the given venue and chain configuration.
func New(venues map[string]config.VenueConfig, chains map[string]config.ChainConfig, timing config.TimingConfig, poolSize int, logger core.ILogger) *Discovery {
	venueMap := make(map[core.Venue]config.VenueConfig, len(venues))
	for name, cfg := range venues {
		venueMap[core.Venue(name)] = cfg
	}
	chainNames := make([]string, 0, len(chains))
	for name := range chains {
		chainNames = append(chainNames, name)
	}
	sort.Strings(chainNames)

	return &Discovery{
		venues: venueMap,
		timing: timing,
		chains: chainNames,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "discovery",
			MaxWorkers: poolSize,
		}, logger),
		logger: logger,
	}
}

type venueProbeResult struct {
	venue  core.Venue
	result core.ListingResult
	err    error
}

// Discover runs every venue's checkListing and every chain's listing probe
// in parallel and assembles the resulting MonitoringSpec. The threshold is
// carried through verbatim; it is never itself validated against market
// data.
func (d *Discovery) Discover(ctx context.Context, ticker core.Ticker, thresholdPercent decimal.Decimal) (core.MonitoringSpec, error) {
	venueResults := d.probeVenues(ctx, ticker)

	chainPools, err := d.probeChains(ctx)
	if err != nil {
		return core.MonitoringSpec{}, fmt.Errorf("chain listing probe: %w", err)
	}

	spec := core.MonitoringSpec{
		Ticker:           ticker,
		ThresholdPercent: thresholdPercent,
	}

	// Stable iteration order so the resulting spec (and its recommendation
	// strings) don't vary run to run.
	names := make([]core.Venue, 0, len(venueResults))
	for name := range venueResults {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	for _, name := range names {
		r := venueResults[name]
		if r.err != nil {
			spec.Recommendations = append(spec.Recommendations, fmt.Sprintf("%s: listing probe failed: %v", name, r.err))
			continue
		}
		var markets []core.MarketKind
		if r.result.Spot {
			markets = append(markets, core.MarketSpot)
		}
		if r.result.Futures {
			markets = append(markets, core.MarketDerivative)
		}
		if len(markets) == 0 {
			spec.Recommendations = append(spec.Recommendations, fmt.Sprintf("%s: ticker not listed", name))
			continue
		}
		spec.Venues = append(spec.Venues, core.VenueSelection{Venue: name, Markets: markets})
		spec.Recommendations = append(spec.Recommendations, fmt.Sprintf("%s: listed (spot=%v, futures=%v, symbol=%s)", name, r.result.Spot, r.result.Futures, r.result.Symbol))
	}

	spec.Pools = chainPools

	return spec, nil
}

// probeVenues issues every venue's CheckListing concurrently via the
// discovery worker pool. A venue whose probe fails is reported as unlisted;
// it never aborts the probes still in flight.
func (d *Discovery) probeVenues(ctx context.Context, ticker core.Ticker) map[core.Venue]venueProbeResult {
	results := make(map[core.Venue]venueProbeResult, len(d.venues))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, cfg := range d.venues {
		name, cfg := name, cfg
		wg.Add(1)
		_ = d.pool.Submit(func() {
			defer wg.Done()
			adapter, err := venue.NewStreamingAdapter(name, cfg, d.timing, ticker, nil, d.logger)
			if err != nil {
				mu.Lock()
				results[name] = venueProbeResult{venue: name, err: err}
				mu.Unlock()
				return
			}
			listing, err := adapter.CheckListing(ctx, ticker)
			mu.Lock()
			results[name] = venueProbeResult{venue: name, result: listing, err: err}
			mu.Unlock()
		})
	}
	wg.Wait()
	return results
}

// probeChains runs the on-chain listing probe for every configured chain.
// The probe currently always reports "not listed", so no pool is ever
// auto-added by discovery. Callers that know a pool address use the
// custom-config path instead (see httpapi's /api/monitoring/start
// customConfig field).
func (d *Discovery) probeChains(ctx context.Context) ([]core.PoolSpec, error) {
	g, gctx := errgroup.WithContext(ctx)
	listed := make([]bool, len(d.chains))

	for i, name := range d.chains {
		i, name := i, name
		g.Go(func() error {
			ok, err := probeChainListing(gctx, name)
			if err != nil {
				return err
			}
			listed[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pools []core.PoolSpec
	for i, name := range d.chains {
		if listed[i] {
			pools = append(pools, core.PoolSpec{Chain: name})
		}
	}
	return pools, nil
}

// probeChainListing is the DEX listing probe. It always returns false: there
// is no general-purpose factory query that maps an arbitrary ticker symbol
// to an on-chain pool address without already knowing the token address, so
// it short-circuits to "not listed" rather than guess.
func probeChainListing(ctx context.Context, chain string) (bool, error) {
	return false, nil
}
