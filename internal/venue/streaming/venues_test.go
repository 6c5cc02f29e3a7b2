package streaming

import (
	"testing"

	"arbhub/internal/config"
	"arbhub/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinanceAdapter_EndpointsAndParse(t *testing.T) {
	cfg := config.DefaultConfig().Venues["binance"]
	a := NewBinanceAdapter(cfg, config.TimingConfig{}, "BTC", &fakeSink{}, testLogger(t))

	eps := a.def.Endpoints("BTC")
	require.Contains(t, eps, core.MarketSpot)
	require.Contains(t, eps, core.MarketDerivative)
	assert.Contains(t, eps[core.MarketSpot].URL, "btcusdt")
	assert.Nil(t, eps[core.MarketSpot].SubscribeFrame)

	sample, ok := a.def.Parse(core.MarketSpot, []byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"64000.50"}`))
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", sample.Symbol)
	assert.True(t, sample.Price.Equal(mustDecimal("64000.50")))

	_, ok = a.def.Parse(core.MarketSpot, []byte(`not json`))
	assert.False(t, ok)
}

func TestMEXCAdapter_EndpointsBinaryAndParse(t *testing.T) {
	cfg := config.DefaultConfig().Venues["mexc"]
	a := NewMEXCAdapter(cfg, config.TimingConfig{}, "BTC", &fakeSink{}, testLogger(t))

	eps := a.def.Endpoints("BTC")
	require.Contains(t, eps, core.MarketSpot)
	require.NotNil(t, eps[core.MarketSpot].SubscribeFrame)

	sample, ok := a.def.Parse(core.MarketDerivative, []byte(`{"channel":"push.ticker","symbol":"BTC_USDT","data":{"lastPrice":"64000.1"}}`))
	require.True(t, ok)
	assert.True(t, sample.Price.Equal(mustDecimal("64000.1")))

	require.NotNil(t, a.def.Binary)

	pong, isPing := a.def.Ping([]byte(`{"ping":1700000000000}`))
	require.True(t, isPing)
	assert.Equal(t, map[string]int64{"pong": 1700000000000}, pong)

	_, isPing = a.def.Ping([]byte(`{"channel":"push.ticker"}`))
	assert.False(t, isPing)
}

func TestGateAdapter_EndpointsAndParse(t *testing.T) {
	cfg := config.DefaultConfig().Venues["gate"]
	a := NewGateAdapter(cfg, config.TimingConfig{}, "BTC", &fakeSink{}, testLogger(t))

	eps := a.def.Endpoints("BTC")
	require.Contains(t, eps, core.MarketSpot)
	require.NotNil(t, eps[core.MarketSpot].SubscribeFrame)

	sample, ok := a.def.Parse(core.MarketSpot, []byte(`{"time":1,"channel":"spot.tickers","event":"update","result":{"currency_pair":"BTC_USDT","last":"63999.9"}}`))
	require.True(t, ok)
	assert.Equal(t, "BTC_USDT", sample.Symbol)
	assert.True(t, sample.Price.Equal(mustDecimal("63999.9")))

	_, ok = a.def.Parse(core.MarketSpot, []byte(`{"event":"subscribe"}`))
	assert.False(t, ok, "subscription ack must be dropped, not treated as a price update")
}

func TestBitgetAdapter_EndpointsParseAndPing(t *testing.T) {
	cfg := config.DefaultConfig().Venues["bitget"]
	a := NewBitgetAdapter(cfg, config.TimingConfig{}, "BTC", &fakeSink{}, testLogger(t))

	eps := a.def.Endpoints("BTC")
	require.Contains(t, eps, core.MarketDerivative)

	sample, ok := a.def.Parse(core.MarketSpot, []byte(`{"action":"snapshot","arg":{"instType":"SPOT","channel":"ticker","instId":"BTCUSDT"},"data":[{"instId":"BTCUSDT","lastPr":"64001.0"}]}`))
	require.True(t, ok)
	assert.True(t, sample.Price.Equal(mustDecimal("64001.0")))

	pong, isPing := a.def.Ping([]byte("ping"))
	require.True(t, isPing)
	assert.Equal(t, "pong", pong)

	_, isPing = a.def.Ping([]byte(`{"action":"snapshot"}`))
	assert.False(t, isPing)
}
