// Package core defines the shared data model and interfaces for the
// price-aggregation engine: venues, samples, monitoring specs, session
// state, and arbitrage opportunities.
package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MarketKind distinguishes spot from derivative markets.
type MarketKind int

const (
	MarketSpot MarketKind = iota
	MarketDerivative
)

func (k MarketKind) String() string {
	if k == MarketDerivative {
		return "derivative"
	}
	return "spot"
}

// MarshalJSON renders a MarketKind as its lowercase name rather than its
// numeric value, since the HTTP API is the only consumer that marshals it.
func (k MarketKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts "spot", "derivative", or "futures" (an alias used by
// some venues' REST responses).
func (k *MarketKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "spot":
		*k = MarketSpot
	case "derivative", "futures":
		*k = MarketDerivative
	default:
		return fmt.Errorf("unknown market kind %q", s)
	}
	return nil
}

// VenueKind is the structural family a Venue belongs to.
type VenueKind int

const (
	VenueCEXSpot VenueKind = iota
	VenueCEXDerivative
	VenueOnChainAMM
)

// Ticker is the canonical uppercase base-asset symbol, e.g. "BTC".
type Ticker string

// NewTicker canonicalizes a raw ticker string.
func NewTicker(raw string) Ticker {
	return Ticker(strings.ToUpper(strings.TrimSpace(raw)))
}

func (t Ticker) String() string { return string(t) }

// Venue identifies a CEX or on-chain venue.
type Venue string

// VenueMarket names a supported (venue, market) pair an adapter can serve.
type VenueMarket struct {
	Venue  Venue
	Market MarketKind
}

// PriceSample is a single normalized price observation from a venue.
type PriceSample struct {
	Venue       Venue            `json:"venue"`
	Symbol      string           `json:"symbol"` // venue-native symbol, informational only
	Price       decimal.Decimal  `json:"price"`
	Market      MarketKind       `json:"market"`
	TimestampMS int64            `json:"timestampMs"`
	Volume24h   *decimal.Decimal `json:"volume24h,omitempty"` // optional
}

// PoolSpec identifies a single on-chain pool to poll for a ticker.
type PoolSpec struct {
	Chain        string `json:"chain"`
	PairContract string `json:"pairContract,omitempty"` // optional, resolved via factory.GetPair if empty
	TargetToken  string `json:"targetToken"`             // the ticker's ERC-20 address on Chain; required
	PollInterval int    `json:"pollIntervalMs,omitempty"` // milliseconds; 0 means default (500ms)
}

// VenueSelection is one venue entry in a MonitoringSpec: the venue and the
// set of markets to activate on it.
type VenueSelection struct {
	Venue   Venue        `json:"venue"`
	Markets []MarketKind `json:"markets"`
}

// MonitoringSpec is the resolved configuration for a single monitoring
// session: which venues/markets to connect to, which on-chain pools to
// poll, and the arbitrage threshold to apply.
type MonitoringSpec struct {
	Ticker           Ticker           `json:"ticker"`
	Venues           []VenueSelection `json:"venues"`
	Pools            []PoolSpec       `json:"pools,omitempty"`
	ThresholdPercent decimal.Decimal  `json:"thresholdPercent"`
	Recommendations  []string         `json:"recommendations,omitempty"`
}

// SessionStatus is the lifecycle state of one (ticker, venue, market)
// adapter session.
type SessionStatus int

const (
	StatusConnecting SessionStatus = iota
	StatusConnected
	StatusDisconnected
	StatusError
)

func (s SessionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON renders a SessionStatus as its lowercase name.
func (s SessionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// SessionState mirrors the observable state of a single adapter session.
type SessionState struct {
	Ticker           Ticker        `json:"ticker"`
	Venue            Venue         `json:"venue"`
	Market           MarketKind    `json:"market"`
	Status           SessionStatus `json:"status"`
	LastUpdateMS     int64         `json:"lastUpdateMs"`
	ErrorMessage     string        `json:"errorMessage,omitempty"`
	ReconnectAttempt int           `json:"reconnectAttempt"`
}

// ArbitrageOpportunity is a realized (buy, sell) pair whose spread meets
// or exceeds the ticker's threshold.
type ArbitrageOpportunity struct {
	Buy            PriceSample     `json:"buy"`
	Sell           PriceSample     `json:"sell"`
	SpreadPercent  decimal.Decimal `json:"spreadPercent"`
	AbsoluteProfit decimal.Decimal `json:"absoluteProfit"`
	TimestampMS    int64           `json:"timestampMs"`
}

// ListingResult is the outcome of a checkListing probe for one venue.
type ListingResult struct {
	Spot    bool   `json:"spot"`
	Futures bool   `json:"futures"`
	Symbol  string `json:"symbol"`
}

// StatusUpdate is broadcast to status subscribers whenever a session's
// SessionState changes.
type StatusUpdate struct {
	Ticker Ticker       `json:"ticker"`
	Venue  Venue        `json:"venue"`
	Market MarketKind   `json:"market"`
	State  SessionState `json:"state"`
}
