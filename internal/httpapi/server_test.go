package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"arbhub/internal/config"
	"arbhub/internal/core"
	"arbhub/internal/discovery"
	"arbhub/internal/logging"
	"arbhub/internal/manager"
	"arbhub/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) core.ILogger {
	l, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return l
}

func unreachableVenues() map[string]config.VenueConfig {
	return map[string]config.VenueConfig{
		"binance": {SpotWSURL: "ws://127.0.0.1:1", RESTBaseURL: "http://127.0.0.1:1"},
	}
}

func newTestServer(t *testing.T) *Server {
	logger := testLogger(t)
	st := store.New(logger)
	disc := discovery.New(unreachableVenues(), nil, config.TimingConfig{}, 2, logger)
	mgr := manager.New(st, disc, unreachableVenues(), config.TimingConfig{}, nil, 4, logger)
	return NewServer(mgr, disc, st, logger)
}

func decodeJSON(t *testing.T, body *bytes.Buffer, v interface{}) {
	require.NoError(t, json.Unmarshal(body.Bytes(), v))
}

func TestHandleExchangesSupported(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/exchanges/supported", nil)
	w := httptest.NewRecorder()

	s.routes().ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	var resp struct {
		Exchanges []string `json:"exchanges"`
		Total     int      `json:"total"`
	}
	decodeJSON(t, w.Body, &resp)
	assert.Equal(t, 4, resp.Total)
	assert.Contains(t, resp.Exchanges, "binance")
}

func TestHandleStart_MissingTickerReturns400(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest("POST", "/api/monitoring/start", body)
	w := httptest.NewRecorder()

	s.routes().ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestHandleStart_RejectsMaliciousTicker(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewBufferString(`{"ticker": "BTC; rm -rf /"}`)
	req := httptest.NewRequest("POST", "/api/monitoring/start", body)
	w := httptest.NewRecorder()

	s.routes().ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestHandleStart_AutoConfigWithNoListingsFails(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewBufferString(`{"ticker": "BTC"}`)
	req := httptest.NewRequest("POST", "/api/monitoring/start", body)
	w := httptest.NewRecorder()

	s.routes().ServeHTTP(w, req)

	assert.Equal(t, 500, w.Code, "the only configured venue is unreachable so discovery finds no listings")
}

func TestHandleStart_CustomConfigStartsMonitoring(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewBufferString(`{
		"ticker": "BTC",
		"useAutoConfig": false,
		"customConfig": {"venues": [{"venue": "binance", "markets": ["spot"]}]}
	}`)
	req := httptest.NewRequest("POST", "/api/monitoring/start", body)
	w := httptest.NewRecorder()

	s.routes().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code, w.Body.String())
	t.Cleanup(func() {
		stopBody := bytes.NewBufferString(`{"ticker": "BTC"}`)
		stopReq := httptest.NewRequest("POST", "/api/monitoring/stop", stopBody)
		s.routes().ServeHTTP(httptest.NewRecorder(), stopReq)
	})

	statusReq := httptest.NewRequest("GET", "/api/monitoring/status?ticker=BTC", nil)
	statusW := httptest.NewRecorder()
	s.routes().ServeHTTP(statusW, statusReq)
	assert.Equal(t, 200, statusW.Code)
}

func TestHandleStart_ThresholdAcceptsNumberAndString(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"ticker": "BTC", "thresholdPercent": 1.5, "useAutoConfig": false, "customConfig": {"venues": [{"venue": "binance", "markets": ["spot"]}]}}`,
		`{"ticker": "ETH", "thresholdPercent": "2", "useAutoConfig": false, "customConfig": {"venues": [{"venue": "binance", "markets": ["spot"]}]}}`,
	} {
		req := httptest.NewRequest("POST", "/api/monitoring/start", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		s.routes().ServeHTTP(w, req)
		assert.Equal(t, 200, w.Code, w.Body.String())
	}
	t.Cleanup(func() {
		for _, ticker := range []string{"BTC", "ETH"} {
			stopBody := bytes.NewBufferString(`{"ticker": "` + ticker + `"}`)
			stopReq := httptest.NewRequest("POST", "/api/monitoring/stop", stopBody)
			s.routes().ServeHTTP(httptest.NewRecorder(), stopReq)
		}
	})
}

func TestHandleStop_MissingTickerReturns400(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest("POST", "/api/monitoring/stop", body)
	w := httptest.NewRecorder()

	s.routes().ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestHandleStatus_NoTickerReturnsOverview(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/monitoring/status", nil)
	w := httptest.NewRecorder()

	s.routes().ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	var resp struct {
		Tickers []manager.TickerInfo `json:"tickers"`
	}
	decodeJSON(t, w.Body, &resp)
	assert.Empty(t, resp.Tickers)
}

func TestHandleDiscover_MissingTickerReturns400(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest("POST", "/api/token/discover", body)
	w := httptest.NewRecorder()

	s.routes().ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	s.routes().ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
}
