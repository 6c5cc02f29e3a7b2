package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"arbhub/internal/config"
	"arbhub/internal/core"
	"arbhub/internal/restclient"

	"github.com/shopspring/decimal"
)

// binanceTickerFrame is the subset of Binance's 24hrTicker stream payload
// this adapter needs. Subscription is carried entirely in the URL, so no
// subscribe frame is ever sent.
type binanceTickerFrame struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
}

// NewBinanceAdapter builds the venue adapter for Binance spot + USDT-M
// futures ticker streams.
func NewBinanceAdapter(cfg config.VenueConfig, timing config.TimingConfig, ticker core.Ticker, sink core.SampleSink, logger core.ILogger) *Adapter {
	spotREST := restclient.NewClient(cfg.RESTBaseURL, 5*time.Second, nil).WithRateLimit(5, 10)
	futuresREST := restclient.NewClient(strings.Replace(cfg.RESTBaseURL, "api.binance.com", "fapi.binance.com", 1), 5*time.Second, nil).WithRateLimit(5, 10)

	spotWSBase := cfg.SpotWSURL
	if spotWSBase == "" {
		spotWSBase = "wss://stream.binance.com:9443/ws"
	}
	derivWSBase := cfg.DerivativeWSURL
	if derivWSBase == "" {
		derivWSBase = "wss://fstream.binance.com/ws"
	}

	def := VenueDef{
		Name: "binance",
		Endpoints: func(t core.Ticker) map[core.MarketKind]Endpoint {
			sym := strings.ToLower(string(t))
			return map[core.MarketKind]Endpoint{
				core.MarketSpot:       {URL: fmt.Sprintf("%s/%susdt@ticker", spotWSBase, sym)},
				core.MarketDerivative: {URL: fmt.Sprintf("%s/%susdt@ticker", derivWSBase, sym)},
			}
		},
		Parse: func(market core.MarketKind, raw []byte) (*core.PriceSample, bool) {
			var frame binanceTickerFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				return nil, false
			}
			if frame.LastPrice == "" {
				return nil, false
			}
			price, err := decimal.NewFromString(frame.LastPrice)
			if err != nil {
				return nil, false
			}
			return &core.PriceSample{
				Venue:       "binance",
				Symbol:      frame.Symbol,
				Price:       price,
				Market:      market,
				TimestampMS: time.Now().UnixMilli(),
			}, true
		},
		CheckListing: func(ctx context.Context, t core.Ticker) (core.ListingResult, error) {
			sym := strings.ToUpper(string(t)) + "USDT"
			result := core.ListingResult{Symbol: sym}

			if _, err := spotREST.Get(ctx, "/api/v3/ticker/price", map[string]string{"symbol": sym}); err == nil {
				result.Spot = true
			}
			if _, err := futuresREST.Get(ctx, "/fapi/v1/ticker/price", map[string]string{"symbol": sym}); err == nil {
				result.Futures = true
			}
			return result, nil
		},
	}

	return NewAdapter(def, ticker, sink, timing, logger)
}
