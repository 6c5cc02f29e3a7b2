package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSamplesIngestedTotal    = "arbhub_samples_ingested_total"
	MetricSamplesRejectedTotal    = "arbhub_samples_rejected_total"
	MetricOpportunitiesFoundTotal = "arbhub_opportunities_found_total"
	MetricActiveOpportunities     = "arbhub_active_opportunities"
	MetricSessionsConnected       = "arbhub_sessions_connected"
	MetricReconnectsTotal         = "arbhub_reconnects_total"
	MetricReconnectExhaustedTotal = "arbhub_reconnect_exhausted_total"
	MetricRPCFailuresTotal        = "arbhub_rpc_failures_total"
	MetricSlowPollsTotal          = "arbhub_slow_polls_total"
	MetricVenueLatency            = "arbhub_venue_latency_ms"
	MetricOnchainPollLatency      = "arbhub_onchain_poll_latency_ms"
)

// MetricsHolder holds initialized instruments.
type MetricsHolder struct {
	SamplesIngestedTotal    metric.Int64Counter
	SamplesRejectedTotal    metric.Int64Counter
	OpportunitiesFoundTotal metric.Int64Counter
	ActiveOpportunities     metric.Int64ObservableGauge
	SessionsConnected       metric.Int64ObservableGauge
	ReconnectsTotal         metric.Int64Counter
	ReconnectExhaustedTotal metric.Int64Counter
	RPCFailuresTotal        metric.Int64Counter
	SlowPollsTotal          metric.Int64Counter
	VenueLatency            metric.Float64Histogram
	OnchainPollLatency      metric.Float64Histogram

	// State for observable gauges, keyed by ticker (ActiveOpportunities)
	// or "venue|market" (SessionsConnected).
	mu                     sync.RWMutex
	activeOpportunitiesMap map[string]int64
	sessionsConnectedMap   map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder. Instruments are
// initialized immediately against whatever meter provider is currently
// registered (the no-op provider if Setup has not run yet), so callers never
// have to guard against nil counters; Setup re-initializes them against the
// real provider once telemetry is wired up.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeOpportunitiesMap: make(map[string]int64),
			sessionsConnectedMap:   make(map[string]int64),
		}
		_ = globalMetrics.InitMetrics(otel.GetMeterProvider().Meter("arbhub"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.SamplesIngestedTotal, err = meter.Int64Counter(MetricSamplesIngestedTotal, metric.WithDescription("Total price samples accepted into the store"))
	if err != nil {
		return err
	}

	m.SamplesRejectedTotal, err = meter.Int64Counter(MetricSamplesRejectedTotal, metric.WithDescription("Total price samples rejected as invalid"))
	if err != nil {
		return err
	}

	m.OpportunitiesFoundTotal, err = meter.Int64Counter(MetricOpportunitiesFoundTotal, metric.WithDescription("Total arbitrage opportunities that crossed threshold"))
	if err != nil {
		return err
	}

	m.ReconnectsTotal, err = meter.Int64Counter(MetricReconnectsTotal, metric.WithDescription("Total venue reconnect attempts"))
	if err != nil {
		return err
	}

	m.ReconnectExhaustedTotal, err = meter.Int64Counter(MetricReconnectExhaustedTotal, metric.WithDescription("Total sessions that exhausted their reconnect budget"))
	if err != nil {
		return err
	}

	m.RPCFailuresTotal, err = meter.Int64Counter(MetricRPCFailuresTotal, metric.WithDescription("Total failed on-chain RPC calls"))
	if err != nil {
		return err
	}

	m.SlowPollsTotal, err = meter.Int64Counter(MetricSlowPollsTotal, metric.WithDescription("Total on-chain polls that exceeded the slow-poll threshold"))
	if err != nil {
		return err
	}

	m.VenueLatency, err = meter.Float64Histogram(MetricVenueLatency, metric.WithDescription("Latency of venue REST/WS round trips"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.OnchainPollLatency, err = meter.Float64Histogram(MetricOnchainPollLatency, metric.WithDescription("Latency of on-chain pool reads"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.ActiveOpportunities, err = meter.Int64ObservableGauge(MetricActiveOpportunities, metric.WithDescription("Current number of active arbitrage opportunities per ticker"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for ticker, val := range m.activeOpportunitiesMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("ticker", ticker)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.SessionsConnected, err = meter.Int64ObservableGauge(MetricSessionsConnected, metric.WithDescription("Session connected state (1=connected, 0=not) per venue/market"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, val := range m.sessionsConnectedMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("session", key)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state.

func (m *MetricsHolder) SetActiveOpportunities(ticker string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOpportunitiesMap[ticker] = count
}

func (m *MetricsHolder) SetSessionConnected(venue, market string, connected bool) {
	val := int64(0)
	if connected {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionsConnectedMap[venue+"|"+market] = val
}

func (m *MetricsHolder) GetActiveOpportunities() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activeOpportunitiesMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetSessionsConnected() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.sessionsConnectedMap {
		res[k] = v
	}
	return res
}
