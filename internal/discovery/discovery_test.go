package discovery

import (
	"context"
	"testing"
	"time"

	"arbhub/internal/config"
	"arbhub/internal/core"
	"arbhub/internal/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) core.ILogger {
	l, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return l
}

func unreachableVenueConfig() config.VenueConfig {
	return config.VenueConfig{
		SpotWSURL:   "ws://127.0.0.1:1",
		RESTBaseURL: "http://127.0.0.1:1",
	}
}

func TestDiscover_UnreachableVenuesReportNotListed(t *testing.T) {
	venues := map[string]config.VenueConfig{
		"binance": unreachableVenueConfig(),
		"gate":    unreachableVenueConfig(),
	}
	d := New(venues, nil, config.TimingConfig{}, 4, testLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	spec, err := d.Discover(ctx, "BTC", decimal.RequireFromString("1"))
	require.NoError(t, err)

	assert.Equal(t, core.Ticker("BTC"), spec.Ticker)
	assert.Empty(t, spec.Venues, "a REST probe that errors out is treated as not-listed, not a hard failure")
	assert.Len(t, spec.Recommendations, 2)
	for _, rec := range spec.Recommendations {
		assert.Contains(t, rec, "not listed")
	}
	assert.Empty(t, spec.Pools)
}

func TestDiscover_UnknownVenueNameSurfacesAsRecommendation(t *testing.T) {
	venues := map[string]config.VenueConfig{
		"notarealvenue": unreachableVenueConfig(),
	}
	d := New(venues, nil, config.TimingConfig{}, 2, testLogger(t))

	spec, err := d.Discover(context.Background(), "ETH", decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	require.Len(t, spec.Recommendations, 1)
	assert.Contains(t, spec.Recommendations[0], "listing probe failed")
}

func TestDiscover_ChainsAlwaysYieldNoPools(t *testing.T) {
	chains := map[string]config.ChainConfig{
		"ethereum": {RPCURL: "http://127.0.0.1:1", WrappedNative: "0xabc", Factory: "0xdef"},
	}
	d := New(nil, chains, config.TimingConfig{}, 2, testLogger(t))

	spec, err := d.Discover(context.Background(), "BTC", decimal.RequireFromString("1"))
	require.NoError(t, err)
	assert.Empty(t, spec.Pools, "DEX listing probe always reports not-listed")
}
