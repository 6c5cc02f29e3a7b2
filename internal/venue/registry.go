// Package venue wires the concrete streaming and on-chain adapter
// constructors to the venue/chain names used in configuration and
// MonitoringSpec, so the connection manager and discovery never import a
// specific exchange package directly.
package venue

import (
	"fmt"
	"strings"

	"arbhub/internal/apperrors"
	"arbhub/internal/config"
	"arbhub/internal/core"
	"arbhub/internal/venue/onchain"
	"arbhub/internal/venue/streaming"

	"github.com/ethereum/go-ethereum/common"
)

// NewStreamingAdapter builds the websocket adapter for one (ticker, venue)
// pair by venue name.
func NewStreamingAdapter(name core.Venue, cfg config.VenueConfig, timing config.TimingConfig, ticker core.Ticker, sink core.SampleSink, logger core.ILogger) (core.Adapter, error) {
	switch strings.ToLower(string(name)) {
	case "binance":
		return streaming.NewBinanceAdapter(cfg, timing, ticker, sink, logger), nil
	case "mexc":
		return streaming.NewMEXCAdapter(cfg, timing, ticker, sink, logger), nil
	case "gate":
		return streaming.NewGateAdapter(cfg, timing, ticker, sink, logger), nil
	case "bitget":
		return streaming.NewBitgetAdapter(cfg, timing, ticker, sink, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownVenue, name)
	}
}

// SupportedVenues lists every streaming venue name NewStreamingAdapter
// recognizes, in the order exposed by GET /api/exchanges/supported.
func SupportedVenues() []core.Venue {
	return []core.Venue{"binance", "mexc", "gate", "bitget"}
}

// NewChainContexts dials every configured chain's RPC endpoint once. The
// resulting contexts are shared across every ticker so the wrapped-native
// price cache is actually shared, not re-derived per ticker.
func NewChainContexts(chains map[string]config.ChainConfig, timing config.TimingConfig) (map[string]*onchain.ChainContext, error) {
	out := make(map[string]*onchain.ChainContext, len(chains))
	for name, cfg := range chains {
		cc, err := onchain.NewChainContext(name, cfg, timing)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", name, err)
		}
		out[name] = cc
	}
	return out, nil
}

// NewPoolAdapter builds an on-chain polling adapter for one pool spec,
// resolving its chain against already-dialed ChainContexts.
func NewPoolAdapter(chains map[string]*onchain.ChainContext, ticker core.Ticker, pool core.PoolSpec, timing config.TimingConfig, sink core.SampleSink, logger core.ILogger) (core.Adapter, error) {
	cc, ok := chains[pool.Chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownChain, pool.Chain)
	}
	if pool.TargetToken == "" {
		return nil, fmt.Errorf("pool on chain %s: target token address is required", pool.Chain)
	}
	target := common.HexToAddress(pool.TargetToken)
	return onchain.NewAdapter(cc, ticker, target, pool, timing, logger, sink), nil
}
