package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/retry"
)

// q192 is 2^192, the scale of a squared sqrtPriceX96
var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// PoolConfig describes a concentrated-liquidity pool that prices Asset
// against a USD stablecoin
type PoolConfig struct {
	Asset          string `mapstructure:"asset"`
	Address        string `mapstructure:"address"`
	Token0Decimals int32  `mapstructure:"token0_decimals"`
	Token1Decimals int32  `mapstructure:"token1_decimals"`
	// AssetIsToken1 is set when the asset is the pool's token1
	AssetIsToken1 bool `mapstructure:"asset_is_token1"`
}

// PoolPriceSource implements ports.PriceSource from pool spot prices
type PoolPriceSource struct {
	id        domain.SourceID
	caller    Caller
	pools     []PoolConfig
	retryConf retry.Config
	logger    *slog.Logger
}

// NewPoolPriceSource creates a price source that reads slot0 of each pool
func NewPoolPriceSource(id domain.SourceID, caller Caller, pools []PoolConfig, logger *slog.Logger) *PoolPriceSource {
	return &PoolPriceSource{
		id:        id,
		caller:    caller,
		pools:     pools,
		retryConf: retry.DefaultConfig(),
		logger:    logger.With("component", "pool_price_source", "source", string(id)),
	}
}

// ID implements ports.PriceSource
func (s *PoolPriceSource) ID() domain.SourceID {
	return s.id
}

// FetchPrices reads every pool. A pool that cannot be read is left out of
// the result; the call fails only when no pool could be read.
func (s *PoolPriceSource) FetchPrices(ctx context.Context) ([]domain.PriceObservation, error) {
	var out []domain.PriceObservation
	var lastErr error

	for _, pool := range s.pools {
		values, err := callContract(ctx, s.caller, s.retryConf, v3PoolABI, common.HexToAddress(pool.Address), "slot0")
		if err != nil {
			s.logger.Warn("slot0 read failed", "asset", pool.Asset, "pool", pool.Address, "error", err)
			lastErr = err
			continue
		}
		if len(values) == 0 {
			lastErr = fmt.Errorf("%w: empty slot0", domain.ErrInvalidResponse)
			continue
		}
		sqrt, err := asBigInt(values[0])
		if err != nil {
			lastErr = err
			continue
		}

		price, err := SqrtPriceToUSD(sqrt, pool)
		if err != nil {
			s.logger.Warn("cannot price pool", "asset", pool.Asset, "error", err)
			lastErr = err
			continue
		}
		out = append(out, domain.NewPriceObservation(pool.Asset, s.id, price))
	}

	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// SqrtPriceToUSD converts a pool's sqrtPriceX96 to the asset's USD price.
// The pool price is token1 per token0, adjusted by both tokens' decimals.
func SqrtPriceToUSD(sqrtPriceX96 *big.Int, pool PoolConfig) (fixedpoint.Amount, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return fixedpoint.Amount{}, fmt.Errorf("%w: pool has no price", domain.ErrInvalidResponse)
	}
	squared := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)

	num, den := squared, q192
	exp := int64(domain.USDDecimals) + int64(pool.Token0Decimals) - int64(pool.Token1Decimals)
	if pool.AssetIsToken1 {
		num, den = q192, squared
		exp = int64(domain.USDDecimals) + int64(pool.Token1Decimals) - int64(pool.Token0Decimals)
	}

	num = new(big.Int).Set(num)
	den = new(big.Int).Set(den)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(abs(exp)), nil)
	if exp >= 0 {
		num.Mul(num, scale)
	} else {
		den.Mul(den, scale)
	}

	return fixedpoint.New(num.Quo(num, den), domain.USDDecimals), nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Ensure PoolPriceSource implements ports.PriceSource
var _ ports.PriceSource = (*PoolPriceSource)(nil)
