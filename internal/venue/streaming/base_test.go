package streaming

import (
	"context"
	"sync"
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

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeSink struct {
	mu      sync.Mutex
	samples []core.PriceSample
}

func (f *fakeSink) UpdatePrice(ticker core.Ticker, venue core.Venue, sample core.PriceSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample)
	return nil
}

func unreachableDef() VenueDef {
	return VenueDef{
		Name: "stubvenue",
		Endpoints: func(ticker core.Ticker) map[core.MarketKind]Endpoint {
			return map[core.MarketKind]Endpoint{
				core.MarketSpot: {URL: "ws://127.0.0.1:1"},
			}
		},
		Parse: func(market core.MarketKind, raw []byte) (*core.PriceSample, bool) { return nil, false },
	}
}

// A stub adapter whose connect fails every attempt reports an error status
// for each of its 5 failed attempts and ends disconnected. The session
// reports connecting once, when it is started, not before each retry.
// Millisecond backoff keeps the 5 attempts inside the test's wait.
func TestAdapter_ReconnectBudgetExhausted(t *testing.T) {
	sink := &fakeSink{}
	timing := config.TimingConfig{
		ReconnectBaseDelayMS:      1,
		ReconnectMaxDelayMS:       5,
		ReconnectMaxAttempts:      5,
		WebsocketConnectTimeoutMS: 200,
	}
	a := NewAdapter(unreachableDef(), "BTC", sink, timing, testLogger(t))

	var mu sync.Mutex
	var statuses []core.SessionStatus
	done := make(chan struct{})
	var closeOnce sync.Once

	unsub := a.OnStatusUpdate(func(update core.StatusUpdate) {
		mu.Lock()
		statuses = append(statuses, update.State.Status)
		errored := 0
		for _, s := range statuses {
			if s == core.StatusError {
				errored++
			}
		}
		mu.Unlock()
		if errored >= 5 && !a.IsConnected(core.MarketSpot) {
			closeOnce.Do(func() { close(done) })
		}
	})
	defer unsub()

	require.NoError(t, a.Connect(context.Background(), []core.MarketKind{core.MarketSpot}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected reconnect budget to exhaust within timeout")
	}

	mu.Lock()
	errorCount := 0
	for _, s := range statuses {
		if s == core.StatusError {
			errorCount++
		}
	}
	mu.Unlock()
	assert.GreaterOrEqual(t, errorCount, 5, "expected at least 5 error transitions before terminal")
	assert.False(t, a.IsConnected(core.MarketSpot))
}

func TestAdapter_ConnectUnsupportedMarket(t *testing.T) {
	def := VenueDef{
		Name: "stubvenue",
		Endpoints: func(ticker core.Ticker) map[core.MarketKind]Endpoint {
			return map[core.MarketKind]Endpoint{} // no markets supported
		},
		Parse: func(market core.MarketKind, raw []byte) (*core.PriceSample, bool) { return nil, false },
	}
	a := NewAdapter(def, "BTC", &fakeSink{}, config.TimingConfig{}, testLogger(t))

	err := a.Connect(context.Background(), []core.MarketKind{core.MarketDerivative})
	require.Error(t, err)
	assert.False(t, a.IsConnected(core.MarketDerivative))
}

func TestAdapter_Disconnect_MarksDisconnected(t *testing.T) {
	a := NewAdapter(unreachableDef(), "BTC", &fakeSink{}, config.TimingConfig{}, testLogger(t))

	var mu sync.Mutex
	var lastStatus core.SessionStatus
	unsub := a.OnStatusUpdate(func(update core.StatusUpdate) {
		mu.Lock()
		lastStatus = update.State.Status
		mu.Unlock()
	})
	defer unsub()

	require.NoError(t, a.Connect(context.Background(), []core.MarketKind{core.MarketSpot}))
	require.NoError(t, a.Disconnect([]core.MarketKind{core.MarketSpot}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, core.StatusDisconnected, lastStatus)
	assert.False(t, a.IsConnected(core.MarketSpot))
}

func TestAdapter_EmitsParsedSample(t *testing.T) {
	sink := &fakeSink{}
	parsed := make(chan struct{}, 1)

	def := VenueDef{
		Name: "stubvenue",
		Endpoints: func(ticker core.Ticker) map[core.MarketKind]Endpoint {
			return map[core.MarketKind]Endpoint{core.MarketSpot: {URL: "ws://127.0.0.1:1"}}
		},
		Parse: func(market core.MarketKind, raw []byte) (*core.PriceSample, bool) {
			sample := &core.PriceSample{
				Venue:  "stubvenue",
				Market: market,
				Price:  decimal.RequireFromString("100"),
			}
			select {
			case parsed <- struct{}{}:
			default:
			}
			return sample, true
		},
	}

	a := NewAdapter(def, "BTC", sink, config.TimingConfig{}, testLogger(t))
	h := a.buildHandler(&session{market: core.MarketSpot})
	h(1 /* websocket.TextMessage */, []byte(`{"price":"100"}`))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.samples, 1)
	assert.True(t, sink.samples[0].Price.Equal(decimal.RequireFromString("100")))
}
