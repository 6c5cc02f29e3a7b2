package streaming

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"arbhub/internal/config"
	"arbhub/internal/core"
	"arbhub/internal/restclient"

	"github.com/shopspring/decimal"
)

type bitgetSubscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type bitgetSubscribeFrame struct {
	Op   string               `json:"op"`
	Args []bitgetSubscribeArg `json:"args"`
}

type bitgetTickerPush struct {
	Action string `json:"action"`
	Arg    struct {
		InstType string `json:"instType"`
		Channel  string `json:"channel"`
		InstID   string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		InstID string `json:"instId"`
		LastPr string `json:"lastPr"`
	} `json:"data"`
}

// NewBitgetAdapter builds the venue adapter for Bitget spot and USDT-M
// futures ticker channels, both served from the v2 public websocket.
func NewBitgetAdapter(cfg config.VenueConfig, timing config.TimingConfig, ticker core.Ticker, sink core.SampleSink, logger core.ILogger) *Adapter {
	spotREST := restclient.NewClient(cfg.RESTBaseURL, 5*time.Second, nil).WithRateLimit(5, 10)
	futuresREST := restclient.NewClient(cfg.RESTBaseURL, 5*time.Second, nil).WithRateLimit(5, 10)

	spotWSURL := cfg.SpotWSURL
	if spotWSURL == "" {
		spotWSURL = "wss://ws.bitget.com/v2/ws/public"
	}
	derivWSURL := cfg.DerivativeWSURL
	if derivWSURL == "" {
		derivWSURL = "wss://ws.bitget.com/v2/ws/public"
	}

	def := VenueDef{
		Name: "bitget",
		Endpoints: func(t core.Ticker) map[core.MarketKind]Endpoint {
			sym := strings.ToUpper(string(t)) + "USDT"
			return map[core.MarketKind]Endpoint{
				core.MarketSpot: {
					URL: spotWSURL,
					SubscribeFrame: bitgetSubscribeFrame{
						Op:   "subscribe",
						Args: []bitgetSubscribeArg{{InstType: "SPOT", Channel: "ticker", InstID: sym}},
					},
				},
				core.MarketDerivative: {
					URL: derivWSURL,
					SubscribeFrame: bitgetSubscribeFrame{
						Op:   "subscribe",
						Args: []bitgetSubscribeArg{{InstType: "USDT-FUTURES", Channel: "ticker", InstID: sym}},
					},
				},
			}
		},
		Parse: func(market core.MarketKind, raw []byte) (*core.PriceSample, bool) {
			var frame bitgetTickerPush
			if err := json.Unmarshal(raw, &frame); err != nil {
				return nil, false
			}
			if frame.Action == "" || len(frame.Data) == 0 {
				return nil, false
			}
			entry := frame.Data[0]
			if entry.LastPr == "" {
				return nil, false
			}
			price, err := decimal.NewFromString(entry.LastPr)
			if err != nil {
				return nil, false
			}
			return &core.PriceSample{
				Venue:       "bitget",
				Symbol:      entry.InstID,
				Price:       price,
				Market:      market,
				TimestampMS: time.Now().UnixMilli(),
			}, true
		},
		Ping: func(raw []byte) (interface{}, bool) {
			if strings.TrimSpace(string(raw)) == "ping" {
				return "pong", true
			}
			return nil, false
		},
		CheckListing: func(ctx context.Context, t core.Ticker) (core.ListingResult, error) {
			sym := strings.ToUpper(string(t)) + "USDT"
			result := core.ListingResult{Symbol: sym}

			if _, err := spotREST.Get(ctx, "/api/v2/spot/market/tickers", map[string]string{"symbol": sym}); err == nil {
				result.Spot = true
			}
			if _, err := futuresREST.Get(ctx, "/api/v2/mix/market/ticker", map[string]string{"symbol": sym, "productType": "USDT-FUTURES"}); err == nil {
				result.Futures = true
			}
			return result, nil
		},
	}

	return NewAdapter(def, ticker, sink, timing, logger)
}
