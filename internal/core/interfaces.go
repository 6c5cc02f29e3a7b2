package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ILogger defines the structured logging contract used throughout the
// engine. Implemented by internal/logging.ZapLogger.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// SampleSink is the ingestion contract every venue adapter emits
// PriceSample values into. Implemented by internal/store.Store.
type SampleSink interface {
	UpdatePrice(ticker Ticker, venue Venue, sample PriceSample) error
}

// Adapter is the capability set every venue adapter variant (streaming or
// on-chain polling) implements. A single adapter instance may serve more
// than one market for the same venue (e.g. spot and derivative).
type Adapter interface {
	// Connect opens sessions for the given markets. Markets already
	// connected are left untouched.
	Connect(ctx context.Context, markets []MarketKind) error

	// Disconnect closes sessions for the given markets cleanly; no
	// reconnection is scheduled for them.
	Disconnect(markets []MarketKind) error

	// Reconnect forces a fresh connection attempt for the given markets,
	// resetting their reconnect-attempt counters.
	Reconnect(ctx context.Context, markets []MarketKind) error

	// IsConnected reports whether the given market currently has a live
	// session.
	IsConnected(market MarketKind) bool

	// CheckListing probes the venue's REST listing endpoint(s) for the
	// given ticker.
	CheckListing(ctx context.Context, ticker Ticker) (ListingResult, error)

	// OnStatusUpdate registers a callback invoked whenever any of this
	// adapter's sessions changes SessionState. Returns an unsubscribe func.
	OnStatusUpdate(callback func(StatusUpdate)) (unsubscribe func())
}

// OpportunitySubscriber is invoked with the latest opportunity set for a
// ticker whenever it changes significantly.
type OpportunitySubscriber func(ticker Ticker, opportunities []ArbitrageOpportunity)

// PriceStore is the central in-memory venue-price merge point and
// arbitrage engine.
type PriceStore interface {
	UpdatePrice(ticker Ticker, venue Venue, sample PriceSample) error
	SetThreshold(ticker Ticker, percent decimal.Decimal)
	Subscribe(ticker Ticker, callback OpportunitySubscriber) (unsubscribe func())
	GetPrices(ticker Ticker) map[Venue]PriceSample
	GetOpportunities(ticker Ticker) []ArbitrageOpportunity
	ClearTicker(ticker Ticker)
}
