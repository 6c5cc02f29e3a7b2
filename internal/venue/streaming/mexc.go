package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"arbhub/internal/codec"
	"arbhub/internal/config"
	"arbhub/internal/core"
	"arbhub/internal/restclient"

	"github.com/shopspring/decimal"
)

// mexcContractPush is MEXC's USDT-M futures ticker push frame (JSON). Spot
// uses the compressed binary deals stream instead (see codec package).
type mexcContractPush struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Data    struct {
		LastPrice json.Number `json:"lastPrice"`
	} `json:"data"`
}

// NewMEXCAdapter builds the venue adapter for MEXC spot (binary compressed
// deals stream, decoded via internal/codec) and USDT-M futures (JSON ticker
// push) streams.
func NewMEXCAdapter(cfg config.VenueConfig, timing config.TimingConfig, ticker core.Ticker, sink core.SampleSink, logger core.ILogger) *Adapter {
	spotREST := restclient.NewClient(cfg.RESTBaseURL, 5*time.Second, nil).WithRateLimit(5, 10)
	futuresREST := restclient.NewClient(strings.Replace(cfg.RESTBaseURL, "api.mexc.com", "contract.mexc.com", 1), 5*time.Second, nil).WithRateLimit(5, 10)

	spotWSURL := cfg.SpotWSURL
	if spotWSURL == "" {
		spotWSURL = "wss://wbs-api.mexc.com/ws"
	}
	derivWSURL := cfg.DerivativeWSURL
	if derivWSURL == "" {
		derivWSURL = "wss://contract.mexc.com/edge"
	}

	def := VenueDef{
		Name: "mexc",
		Endpoints: func(t core.Ticker) map[core.MarketKind]Endpoint {
			spotSym := strings.ToUpper(string(t)) + "USDT"
			futSym := strings.ToUpper(string(t)) + "_USDT"
			return map[core.MarketKind]Endpoint{
				core.MarketSpot: {
					URL: spotWSURL,
					SubscribeFrame: map[string]interface{}{
						"method": "SUBSCRIPTION",
						"params": []string{fmt.Sprintf("spot@public.aggre.deals.v3.api.pb@100ms@%s", spotSym)},
					},
				},
				core.MarketDerivative: {
					URL: derivWSURL,
					SubscribeFrame: map[string]interface{}{
						"method": "sub.ticker",
						"param":  map[string]string{"symbol": futSym},
					},
				},
			}
		},
		Binary: func(market core.MarketKind, raw []byte) (*core.PriceSample, bool) {
			deal := codec.DecodeFirstDeal(raw)
			if deal == nil {
				return nil, false
			}
			price, err := decimal.NewFromString(deal.Price)
			if err != nil {
				return nil, false
			}
			return &core.PriceSample{
				Venue:       "mexc",
				Price:       price,
				Market:      market,
				TimestampMS: deal.TimeMS,
			}, true
		},
		Ping: func(raw []byte) (interface{}, bool) {
			var frame struct {
				Ping int64 `json:"ping"`
			}
			if err := json.Unmarshal(raw, &frame); err != nil || frame.Ping == 0 {
				return nil, false
			}
			return map[string]int64{"pong": frame.Ping}, true
		},
		Parse: func(market core.MarketKind, raw []byte) (*core.PriceSample, bool) {
			var frame mexcContractPush
			if err := json.Unmarshal(raw, &frame); err != nil {
				return nil, false
			}
			if frame.Channel != "push.ticker" || frame.Data.LastPrice == "" {
				return nil, false
			}
			price, err := decimal.NewFromString(frame.Data.LastPrice.String())
			if err != nil {
				return nil, false
			}
			return &core.PriceSample{
				Venue:       "mexc",
				Symbol:      frame.Symbol,
				Price:       price,
				Market:      market,
				TimestampMS: time.Now().UnixMilli(),
			}, true
		},
		CheckListing: func(ctx context.Context, t core.Ticker) (core.ListingResult, error) {
			spotSym := strings.ToUpper(string(t)) + "USDT"
			result := core.ListingResult{Symbol: spotSym}

			if _, err := spotREST.Get(ctx, "/api/v3/ticker/price", map[string]string{"symbol": spotSym}); err == nil {
				result.Spot = true
			}
			futSym := strings.ToUpper(string(t)) + "_USDT"
			if _, err := futuresREST.Get(ctx, "/api/v1/contract/ticker", map[string]string{"symbol": futSym}); err == nil {
				result.Futures = true
			}
			return result, nil
		},
	}

	return NewAdapter(def, ticker, sink, timing, logger)
}
