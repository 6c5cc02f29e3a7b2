package onchain

import (
	"context"
	"math/big"
	"testing"
	"time"

	"arbhub/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	targetToken = common.HexToAddress("0x1111111111111111111111111111111111111111")
	usdtToken   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	wethToken   = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func testChain() *ChainContext {
	return &ChainContext{
		Name: "ethereum",
		Cfg: config.ChainConfig{
			USDT:          usdtToken.Hex(),
			WrappedNative: wethToken.Hex(),
		},
		cacheTTL: defaultWrappedNativeCacheTTL,
	}
}

// A pool of 1 target token against 3000 USDT must price the target at
// 3000.0 (price = stable-reserve / target-reserve after decimal
// adjustment).
func TestPriceFromReserves_DirectStableQuote(t *testing.T) {
	c := testChain()
	r := &reserves{
		token0:    targetToken,
		token1:    usdtToken,
		reserve0:  big.NewInt(1_000000000000000000), // 1 target token, 18 decimals
		reserve1:  big.NewInt(3000_000000),           // 3000 USDT, 6 decimals
		decimals0: 18,
		decimals1: 6,
	}

	price, err := c.priceFromReserves(context.Background(), r, targetToken)
	require.NoError(t, err)
	assert.True(t, price.Sub(decimal.RequireFromString("3000")).Abs().LessThan(decimal.RequireFromString("0.001")))
}

func TestPriceFromReserves_TokenOrderDoesNotMatter(t *testing.T) {
	c := testChain()
	r := &reserves{
		token0:    usdtToken,
		token1:    targetToken,
		reserve0:  big.NewInt(3000_000000),
		reserve1:  big.NewInt(1_000000000000000000),
		decimals0: 6,
		decimals1: 18,
	}

	price, err := c.priceFromReserves(context.Background(), r, targetToken)
	require.NoError(t, err)
	assert.True(t, price.Sub(decimal.RequireFromString("3000")).Abs().LessThan(decimal.RequireFromString("0.001")))
}

func TestPriceFromReserves_WrappedNativeQuotePath(t *testing.T) {
	c := testChain()
	c.cachedPrice = decimal.RequireFromString("3000") // WETH/USDT cached price
	c.cachedAt = time.Now()

	// Pool of 1 target token against 2 WETH -> target price = 2 * 3000 = 6000.
	r := &reserves{
		token0:    targetToken,
		token1:    wethToken,
		reserve0:  big.NewInt(1_000000000000000000),
		reserve1:  big.NewInt(2_000000000000000000),
		decimals0: 18,
		decimals1: 18,
	}

	price, err := c.priceFromReserves(context.Background(), r, targetToken)
	require.NoError(t, err)
	assert.True(t, price.Sub(decimal.RequireFromString("6000")).Abs().LessThan(decimal.RequireFromString("0.001")))
}

func TestPriceFromReserves_NoQuotePath(t *testing.T) {
	c := testChain()
	other := common.HexToAddress("0x4444444444444444444444444444444444444444")
	r := &reserves{
		token0:    targetToken,
		token1:    other,
		reserve0:  big.NewInt(1_000000000000000000),
		reserve1:  big.NewInt(1_000000000000000000),
		decimals0: 18,
		decimals1: 18,
	}

	_, err := c.priceFromReserves(context.Background(), r, targetToken)
	require.Error(t, err)
}

func TestWrappedNativeStablePrice_CacheShared(t *testing.T) {
	c := testChain()
	c.cachedPrice = decimal.RequireFromString("3000")
	c.cachedAt = time.Now()

	price, err := c.wrappedNativeStablePrice(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("3000")))
}

func TestWrappedNativeStablePrice_ExpiredCacheRefetches(t *testing.T) {
	c := testChain()
	c.cachedPrice = decimal.RequireFromString("3000")
	c.cachedAt = time.Now().Add(-1 * time.Hour) // well past the 3s TTL

	// With an expired cache and no live RPC client, the refetch attempt
	// must fail rather than silently returning the stale value.
	_, err := c.wrappedNativeStablePrice(context.Background())
	require.Error(t, err)
}
