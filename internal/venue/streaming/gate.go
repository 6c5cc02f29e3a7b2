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

// gateSubscribeFrame is Gate.io's time-channel-event-payload subscribe
// shape, shared by spot and futures.
type gateSubscribeFrame struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload"`
}

type gateTickerPush struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Result  struct {
		CurrencyPair string `json:"currency_pair"`
		Contract     string `json:"contract"`
		Last         string `json:"last"`
	} `json:"result"`
}

// NewGateAdapter builds the venue adapter for Gate.io spot and USDT-M
// futures ticker channels.
func NewGateAdapter(cfg config.VenueConfig, timing config.TimingConfig, ticker core.Ticker, sink core.SampleSink, logger core.ILogger) *Adapter {
	spotREST := restclient.NewClient(cfg.RESTBaseURL, 5*time.Second, nil).WithRateLimit(5, 10)
	futuresREST := restclient.NewClient(cfg.RESTBaseURL, 5*time.Second, nil).WithRateLimit(5, 10)

	spotWSURL := cfg.SpotWSURL
	if spotWSURL == "" {
		spotWSURL = "wss://api.gateio.ws/ws/v4/"
	}
	derivWSURL := cfg.DerivativeWSURL
	if derivWSURL == "" {
		derivWSURL = "wss://fx-ws.gateio.ws/v4/ws/usdt"
	}

	def := VenueDef{
		Name: "gate",
		Endpoints: func(t core.Ticker) map[core.MarketKind]Endpoint {
			pair := strings.ToUpper(string(t)) + "_USDT"
			return map[core.MarketKind]Endpoint{
				core.MarketSpot: {
					URL: spotWSURL,
					SubscribeFrame: gateSubscribeFrame{
						Time:    time.Now().Unix(),
						Channel: "spot.tickers",
						Event:   "subscribe",
						Payload: []string{pair},
					},
				},
				core.MarketDerivative: {
					URL: derivWSURL,
					SubscribeFrame: gateSubscribeFrame{
						Time:    time.Now().Unix(),
						Channel: "futures.tickers",
						Event:   "subscribe",
						Payload: []string{pair},
					},
				},
			}
		},
		Parse: func(market core.MarketKind, raw []byte) (*core.PriceSample, bool) {
			var frame gateTickerPush
			if err := json.Unmarshal(raw, &frame); err != nil {
				return nil, false
			}
			if frame.Event != "update" || frame.Result.Last == "" {
				return nil, false
			}
			price, err := decimal.NewFromString(frame.Result.Last)
			if err != nil {
				return nil, false
			}
			symbol := frame.Result.CurrencyPair
			if symbol == "" {
				symbol = frame.Result.Contract
			}
			return &core.PriceSample{
				Venue:       "gate",
				Symbol:      symbol,
				Price:       price,
				Market:      market,
				TimestampMS: time.Now().UnixMilli(),
			}, true
		},
		CheckListing: func(ctx context.Context, t core.Ticker) (core.ListingResult, error) {
			pair := strings.ToUpper(string(t)) + "_USDT"
			result := core.ListingResult{Symbol: pair}

			if _, err := spotREST.Get(ctx, "/api/v4/spot/tickers", map[string]string{"currency_pair": pair}); err == nil {
				result.Spot = true
			}
			if _, err := futuresREST.Get(ctx, "/api/v4/futures/usdt/tickers", map[string]string{"contract": pair}); err == nil {
				result.Futures = true
			}
			return result, nil
		},
	}

	return NewAdapter(def, ticker, sink, timing, logger)
}
