// Package httpapi is the thin external-facing HTTP layer that wraps the
// Connection Manager, Discovery, and the price store. It adds no domain
// logic of its own: every handler validates its request, delegates to the
// core components, and maps the result onto the JSON wire shape.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"arbhub/internal/apperrors"
	"arbhub/internal/cli"
	"arbhub/internal/core"
	"arbhub/internal/discovery"
	"arbhub/internal/manager"
	"arbhub/internal/venue"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const defaultThresholdPercent = "1"

// Server is the HTTP/JSON API. It owns no adapters or price state itself;
// every handler is a thin translation over Manager, Discovery, and the
// shared price store.
type Server struct {
	manager *manager.Manager
	disc    *discovery.Discovery
	store   core.PriceStore
	logger  core.ILogger

	httpSrv *http.Server
}

// NewServer wires the HTTP API over an already-constructed Manager,
// Discovery, and price store.
func NewServer(mgr *manager.Manager, disc *discovery.Discovery, store core.PriceStore, logger core.ILogger) *Server {
	return &Server{manager: mgr, disc: disc, store: store, logger: logger}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/monitoring/start", s.handleStart)
	mux.HandleFunc("/api/monitoring/stop", s.handleStop)
	mux.HandleFunc("/api/monitoring/status", s.handleStatus)
	mux.HandleFunc("/api/token/discover", s.handleDiscover)
	mux.HandleFunc("/api/token/config", s.handleConfig)
	mux.HandleFunc("/api/exchanges/supported", s.handleExchangesSupported)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start runs the HTTP server until ctx is canceled, then gracefully shuts
// it down.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.routes()}

	if s.logger != nil {
		s.logger.Info("starting HTTP API server", "addr", addr)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	if s.logger != nil {
		s.logger.Info("stopping HTTP API server")
	}
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an internal failure to the HTTP layer's error contract:
// configuration errors surface as 400, everything else as a 500 with a
// short message and no stack trace.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// thresholdFrom parses an optional thresholdPercent request field, which
// clients send either as a JSON number or a quoted string. Absent means the
// default of 1 percent.
func thresholdFrom(raw *json.Number) (decimal.Decimal, error) {
	if raw == nil {
		return decimal.RequireFromString(defaultThresholdPercent), nil
	}
	return decimal.NewFromString(raw.String())
}

// cleanTicker upper-cases and validates a raw ticker string, rejecting
// anything that looks like a command-injection or path-traversal attempt
// before it reaches any downstream component.
func cleanTicker(raw string) (core.Ticker, error) {
	if raw == "" {
		return "", apperrors.ErrMissingTicker
	}
	if err := cli.ValidateInput(raw); err != nil {
		return "", err
	}
	return core.NewTicker(raw), nil
}

type startRequest struct {
	Ticker           string               `json:"ticker"`
	ThresholdPercent *json.Number         `json:"thresholdPercent"`
	UseAutoConfig    *bool                `json:"useAutoConfig"`
	CustomConfig     *customConfigRequest `json:"customConfig"`
}

type customConfigRequest struct {
	Venues []struct {
		Venue   string   `json:"venue"`
		Markets []string `json:"markets"`
	} `json:"venues"`
	Pools []core.PoolSpec `json:"pools"`
}

func (c *customConfigRequest) toSpec(ticker core.Ticker, threshold decimal.Decimal) (core.MonitoringSpec, error) {
	spec := core.MonitoringSpec{Ticker: ticker, ThresholdPercent: threshold, Pools: c.Pools}
	for _, v := range c.Venues {
		var markets []core.MarketKind
		for _, raw := range v.Markets {
			var mk core.MarketKind
			if err := (&mk).UnmarshalJSON([]byte(`"` + raw + `"`)); err != nil {
				return core.MonitoringSpec{}, err
			}
			markets = append(markets, mk)
		}
		spec.Venues = append(spec.Venues, core.VenueSelection{Venue: core.Venue(v.Venue), Markets: markets})
	}
	return spec, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ticker, err := cleanTicker(req.Ticker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	threshold, err := thresholdFrom(req.ThresholdPercent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	useAuto := req.UseAutoConfig == nil || *req.UseAutoConfig
	ctx := r.Context()

	switch {
	case useAuto:
		if err := s.manager.StartMonitoringAuto(ctx, ticker, threshold); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	case req.CustomConfig != nil:
		spec, err := req.CustomConfig.toSpec(ticker, threshold)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.manager.StartMonitoring(ctx, spec); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, apperrors.ErrUnknownVenue) || errors.Is(err, apperrors.ErrUnknownChain) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, apperrors.ErrNoConfigSource)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "monitoring started for " + string(ticker)})
}

type stopRequest struct {
	Ticker string `json:"ticker"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ticker, err := cleanTicker(req.Ticker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.manager.StopMonitoring(ticker)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "monitoring stopped for " + string(ticker)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rawTicker := r.URL.Query().Get("ticker")

	if rawTicker == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tickers": s.manager.GetMonitoringInfo(),
			"health":  s.manager.HealthCheck(),
		})
		return
	}

	ticker, err := cleanTicker(rawTicker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticker":        ticker,
		"connections":   s.manager.GetConnectionStatus(ticker),
		"prices":        s.store.GetPrices(ticker),
		"opportunities": s.store.GetOpportunities(ticker),
	})
}

type discoverRequest struct {
	Ticker string `json:"ticker"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ticker, err := cleanTicker(req.Ticker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	threshold := decimal.RequireFromString(defaultThresholdPercent)
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	spec, err := s.disc.Discover(ctx, ticker, threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

type tokenConfigRequest struct {
	Ticker           string       `json:"ticker"`
	ThresholdPercent *json.Number `json:"thresholdPercent"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req tokenConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ticker, err := cleanTicker(req.Ticker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	threshold, err := thresholdFrom(req.ThresholdPercent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	spec, err := s.disc.Discover(ctx, ticker, threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handleExchangesSupported(w http.ResponseWriter, r *http.Request) {
	exchanges := venue.SupportedVenues()
	writeJSON(w, http.StatusOK, map[string]interface{}{"exchanges": exchanges, "total": len(exchanges)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.HealthCheck())
}
