// Package onchain implements the polling adapter variant of the venue
// adapter capability set: periodic JSON-RPC reads of a Uniswap-V2-compatible
// AMM pool's reserves, converted to a USD-pegged spot price.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"arbhub/internal/apperrors"
	"arbhub/internal/config"
	"arbhub/internal/core"
	"arbhub/internal/telemetry"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const pairABIJSON = `[
	{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"_reserve0","type":"uint112"},{"name":"_reserve1","type":"uint112"},{"name":"_blockTimestampLast","type":"uint32"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"token1","outputs":[{"name":"","type":"address"}],"type":"function"}
]`

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

const factoryABIJSON = `[
	{"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"name":"getPair","outputs":[{"name":"pair","type":"address"}],"type":"function"}
]`

var (
	pairABI    abi.ABI
	erc20ABI   abi.ABI
	factoryABI abi.ABI
	abiOnce    sync.Once
	abiErr     error
)

func parseABIs() error {
	abiOnce.Do(func() {
		pairABI, abiErr = abi.JSON(strings.NewReader(pairABIJSON))
		if abiErr != nil {
			return
		}
		erc20ABI, abiErr = abi.JSON(strings.NewReader(erc20ABIJSON))
		if abiErr != nil {
			return
		}
		factoryABI, abiErr = abi.JSON(strings.NewReader(factoryABIJSON))
	})
	return abiErr
}

// ChainContext holds the JSON-RPC client and the wrapped-native price cache
// shared by every onchain adapter on the same chain, so concurrent polls for
// different tickers don't each re-derive the wrapped-native/stable price.
type ChainContext struct {
	Name   string
	Cfg    config.ChainConfig
	Client *ethclient.Client

	cacheTTL time.Duration

	cacheMu     sync.Mutex
	cachedPrice decimal.Decimal
	cachedAt    time.Time
}

// NewChainContext dials the chain's RPC endpoint. A zero-value timing falls
// back to the default 3s wrapped-native price cache TTL.
func NewChainContext(name string, cfg config.ChainConfig, timing config.TimingConfig) (*ChainContext, error) {
	if err := parseABIs(); err != nil {
		return nil, fmt.Errorf("parse contract ABIs: %w", err)
	}
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain %s: %w", name, err)
	}
	ttl := defaultWrappedNativeCacheTTL
	if timing.WrappedNativeCacheTTLMS > 0 {
		ttl = time.Duration(timing.WrappedNativeCacheTTLMS) * time.Millisecond
	}
	return &ChainContext{Name: name, Cfg: cfg, Client: client, cacheTTL: ttl}, nil
}

const defaultWrappedNativeCacheTTL = 3 * time.Second

// wrappedNativeStablePrice returns the wrapped-native token's price in the
// chain's stable quote, using the configured seed pool. Concurrent callers
// within the TTL window share the cached value.
func (c *ChainContext) wrappedNativeStablePrice(ctx context.Context) (decimal.Decimal, error) {
	c.cacheMu.Lock()
	if !c.cachedAt.IsZero() && time.Since(c.cachedAt) < c.cacheTTL {
		price := c.cachedPrice
		c.cacheMu.Unlock()
		return price, nil
	}
	c.cacheMu.Unlock()

	price, err := c.priceFromPool(ctx, common.HexToAddress(c.Cfg.SeedPoolAddress), common.HexToAddress(c.Cfg.WrappedNative))
	if err != nil {
		return decimal.Zero, err
	}

	c.cacheMu.Lock()
	c.cachedPrice = price
	c.cachedAt = time.Now()
	c.cacheMu.Unlock()
	return price, nil
}

// reserves is the result of one getReserves + token0/token1 + decimals read.
type reserves struct {
	token0, token1     common.Address
	reserve0, reserve1 *big.Int
	decimals0          uint8
	decimals1          uint8
}

func (c *ChainContext) readReserves(ctx context.Context, pool common.Address) (*reserves, error) {
	contract := bind.NewBoundContract(pool, pairABI, c.Client, c.Client, c.Client)
	opts := &bind.CallOpts{Context: ctx}

	var token0Out, token1Out []interface{}
	if err := contract.Call(opts, &token0Out, "token0"); err != nil {
		return nil, fmt.Errorf("token0: %w", err)
	}
	if err := contract.Call(opts, &token1Out, "token1"); err != nil {
		return nil, fmt.Errorf("token1: %w", err)
	}
	token0 := *abi.ConvertType(token0Out[0], new(common.Address)).(*common.Address)
	token1 := *abi.ConvertType(token1Out[0], new(common.Address)).(*common.Address)

	var reservesOut []interface{}
	if err := contract.Call(opts, &reservesOut, "getReserves"); err != nil {
		return nil, fmt.Errorf("getReserves: %w", err)
	}
	r0 := *abi.ConvertType(reservesOut[0], new(*big.Int)).(**big.Int)
	r1 := *abi.ConvertType(reservesOut[1], new(*big.Int)).(**big.Int)

	dec0, err := c.tokenDecimals(ctx, token0)
	if err != nil {
		return nil, err
	}
	dec1, err := c.tokenDecimals(ctx, token1)
	if err != nil {
		return nil, err
	}

	return &reserves{
		token0: token0, token1: token1,
		reserve0: r0, reserve1: r1,
		decimals0: dec0, decimals1: dec1,
	}, nil
}

func (c *ChainContext) tokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	contract := bind.NewBoundContract(token, erc20ABI, c.Client, c.Client, c.Client)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// adjustedReserve converts a raw on-chain integer reserve to a decimal value
// using r = reserve * 10^(-decimals).
func adjustedReserve(raw *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Shift(-int32(decimals))
}

func (c *ChainContext) isStable(token common.Address) bool {
	return sameAddress(token, c.Cfg.USDT) || sameAddress(token, c.Cfg.USDC)
}

func (c *ChainContext) isWrappedNative(token common.Address) bool {
	return sameAddress(token, c.Cfg.WrappedNative)
}

func sameAddress(a common.Address, b string) bool {
	if b == "" {
		return false
	}
	return a == common.HexToAddress(b)
}

// priceFromPool implements the pricing algorithm: identify the pool's two
// tokens, prefer a direct stable quote, fall back to wrapped-native via the
// cached price, and fail with ErrNoQuotePath otherwise.
func (c *ChainContext) priceFromPool(ctx context.Context, pool common.Address, target common.Address) (decimal.Decimal, error) {
	r, err := c.readReserves(ctx, pool)
	if err != nil {
		return decimal.Zero, err
	}
	return c.priceFromReserves(ctx, r, target)
}

// priceFromReserves applies the pricing algorithm to already-fetched
// reserves, kept separate from priceFromPool so the arithmetic can be unit
// tested without a live RPC endpoint.
func (c *ChainContext) priceFromReserves(ctx context.Context, r *reserves, target common.Address) (decimal.Decimal, error) {
	targetAdj := adjustedReserve(r.reserve0, r.decimals0)
	otherAdj := adjustedReserve(r.reserve1, r.decimals1)
	other := r.token1
	if !sameAddress(r.token0, target.Hex()) {
		targetAdj, otherAdj = otherAdj, targetAdj
		other = r.token0
	}
	if targetAdj.IsZero() {
		return decimal.Zero, apperrors.ErrNoQuotePath
	}

	if c.isStable(other) {
		return otherAdj.Div(targetAdj), nil
	}

	if c.isWrappedNative(other) {
		nativePrice, err := c.wrappedNativeStablePrice(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		return otherAdj.Div(targetAdj).Mul(nativePrice), nil
	}

	return decimal.Zero, apperrors.ErrNoQuotePath
}

// resolvePool calls the factory's getPair for (target, wrappedNative) when no
// explicit pair contract was configured. A zero-address result means no pool.
func (c *ChainContext) resolvePool(ctx context.Context, target common.Address) (common.Address, error) {
	contract := bind.NewBoundContract(common.HexToAddress(c.Cfg.Factory), factoryABI, c.Client, c.Client, c.Client)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "getPair", target, common.HexToAddress(c.Cfg.WrappedNative)); err != nil {
		return common.Address{}, fmt.Errorf("getPair: %w", err)
	}
	pair := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if pair == (common.Address{}) {
		return common.Address{}, apperrors.ErrNoPool
	}
	return pair, nil
}

// Adapter polls one (chain, pool, target token) triple on a fixed cadence
// and emits PriceSample values into the sink.
type Adapter struct {
	chain  *ChainContext
	ticker core.Ticker
	target common.Address
	pool   common.Address

	pollInterval      time.Duration
	slowPollThreshold time.Duration

	sink   core.SampleSink
	logger core.ILogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	state   core.SessionState

	subMu sync.Mutex
	subs  map[string]func(core.StatusUpdate)
}

// NewAdapter builds a polling adapter. If poolSpec.PairContract is empty the
// pool is resolved lazily via the factory on first poll. poolSpec.PollInterval
// overrides timing's default cadence for this one pool; a zero timing falls
// back to a 500ms cadence and a 1s slow-poll threshold.
func NewAdapter(chain *ChainContext, ticker core.Ticker, target common.Address, poolSpec core.PoolSpec, timing config.TimingConfig, logger core.ILogger, sink core.SampleSink) *Adapter {
	defaultInterval := 500 * time.Millisecond
	if timing.OnchainPollIntervalMS > 0 {
		defaultInterval = time.Duration(timing.OnchainPollIntervalMS) * time.Millisecond
	}
	interval := time.Duration(poolSpec.PollInterval) * time.Millisecond
	if interval <= 0 {
		interval = defaultInterval
	}
	slowThreshold := 1 * time.Second
	if timing.SlowPollThresholdMS > 0 {
		slowThreshold = time.Duration(timing.SlowPollThresholdMS) * time.Millisecond
	}
	var pool common.Address
	if poolSpec.PairContract != "" {
		pool = common.HexToAddress(poolSpec.PairContract)
	}

	return &Adapter{
		chain:             chain,
		ticker:            ticker,
		target:            target,
		pool:              pool,
		pollInterval:      interval,
		slowPollThreshold: slowThreshold,
		sink:              sink,
		logger:            logger,
		subs:              make(map[string]func(core.StatusUpdate)),
		state: core.SessionState{
			Ticker: ticker,
			Venue:  core.Venue(chain.Name),
			Market: core.MarketSpot,
			Status: core.StatusDisconnected,
		},
	}
}

// Connect starts the poll loop. markets is accepted only for interface
// compatibility with core.Adapter; on-chain adapters have a single implicit
// "market" (the pool).
func (a *Adapter) Connect(ctx context.Context, markets []core.MarketKind) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.mu.Unlock()

	a.setStatus(core.StatusConnecting, "")
	go a.pollLoop(loopCtx)
	return nil
}

// Disconnect cancels the poll loop's context, which also cancels the RPC
// calls of an in-flight poll. It does not wait for the loop to exit.
func (a *Adapter) Disconnect(markets []core.MarketKind) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.cancel()
	a.running = false
	a.mu.Unlock()

	a.setStatus(core.StatusDisconnected, "")
	return nil
}

// Reconnect is equivalent to Disconnect followed by Connect: the on-chain
// adapter has no reconnect-attempt budget to reset, only a loop to restart.
func (a *Adapter) Reconnect(ctx context.Context, markets []core.MarketKind) error {
	_ = a.Disconnect(markets)
	return a.Connect(ctx, markets)
}

// IsConnected reports whether the poll loop is currently running.
func (a *Adapter) IsConnected(market core.MarketKind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// CheckListing always reports unlisted for on-chain venues: the current
// implementation short-circuits the DEX listing probe (flagged as an open
// item, not a design choice of this adapter).
func (a *Adapter) CheckListing(ctx context.Context, ticker core.Ticker) (core.ListingResult, error) {
	return core.ListingResult{Spot: false, Futures: false}, nil
}

// OnStatusUpdate registers a callback invoked whenever the poll loop's
// status changes. Returns an unsubscribe function.
func (a *Adapter) OnStatusUpdate(callback func(core.StatusUpdate)) (unsubscribe func()) {
	id := uuid.NewString()
	a.subMu.Lock()
	a.subs[id] = callback
	a.subMu.Unlock()
	return func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	}
}

func (a *Adapter) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	a.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

func (a *Adapter) poll(ctx context.Context) {
	metrics := telemetry.GetGlobalMetrics()
	start := time.Now()

	pool, err := a.resolvedPool(ctx)
	if err != nil {
		metrics.RPCFailuresTotal.Add(ctx, 1)
		a.setStatus(core.StatusError, err.Error())
		return
	}

	price, err := a.chain.priceFromPool(ctx, pool, a.target)
	elapsed := time.Since(start)
	metrics.OnchainPollLatency.Record(ctx, float64(elapsed.Milliseconds()))
	if elapsed > a.slowPollThreshold {
		metrics.SlowPollsTotal.Add(ctx, 1)
		if a.logger != nil {
			a.logger.Warn("slow on-chain poll", "chain", a.chain.Name, "ticker", a.ticker, "duration_ms", elapsed.Milliseconds())
		}
	}
	if err != nil {
		metrics.RPCFailuresTotal.Add(ctx, 1)
		a.setStatus(core.StatusError, err.Error())
		return
	}

	a.setStatus(core.StatusConnected, "")
	if a.sink != nil {
		sample := core.PriceSample{
			Venue:       core.Venue(a.chain.Name),
			Price:       price,
			Market:      core.MarketSpot,
			TimestampMS: time.Now().UnixMilli(),
		}
		if err := a.sink.UpdatePrice(a.ticker, core.Venue(a.chain.Name), sample); err != nil && a.logger != nil {
			a.logger.Warn("rejected on-chain sample", "chain", a.chain.Name, "ticker", a.ticker, "error", err)
		}
	}
}

func (a *Adapter) resolvedPool(ctx context.Context) (common.Address, error) {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()
	if pool != (common.Address{}) {
		return pool, nil
	}

	resolved, err := a.chain.resolvePool(ctx, a.target)
	if err != nil {
		return common.Address{}, err
	}
	a.mu.Lock()
	a.pool = resolved
	a.mu.Unlock()
	return resolved, nil
}

func (a *Adapter) setStatus(status core.SessionStatus, errMsg string) {
	a.mu.Lock()
	a.state.Status = status
	a.state.ErrorMessage = errMsg
	a.state.LastUpdateMS = time.Now().UnixMilli()
	state := a.state
	a.mu.Unlock()

	a.subMu.Lock()
	callbacks := make([]func(core.StatusUpdate), 0, len(a.subs))
	for _, cb := range a.subs {
		callbacks = append(callbacks, cb)
	}
	a.subMu.Unlock()

	update := core.StatusUpdate{Ticker: a.ticker, Venue: core.Venue(a.chain.Name), Market: core.MarketSpot, State: state}
	for _, cb := range callbacks {
		cb(update)
	}
}
