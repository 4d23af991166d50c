package domain

import (
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

const (
	// USDDecimals is the scale of every USD figure read from the vault
	USDDecimals int32 = 30
	// USDGDecimals is the scale of the pool-internal accounting unit
	USDGDecimals int32 = 18
	// IndexTokenDecimals is the scale of the index (liquidity) token
	IndexTokenDecimals int32 = 18
	// GovTokenDecimals is the scale of the governance token
	GovTokenDecimals int32 = 18

	// BPSDivisor is the basis point divisor
	BPSDivisor int64 = 10000

	SecondsPerYear int64 = 31536000
)

// SourceID names an independent price source, e.g. a chain or a REST feed
type SourceID string

// PriceObservation is one price for one asset from one source.
// Observations are never mutated; the next refresh supersedes them.
type PriceObservation struct {
	Asset      string            `json:"asset"`
	Source     SourceID          `json:"source"`
	Value      fixedpoint.Amount `json:"-"`
	ObservedAt time.Time         `json:"observed_at"`
}

// NewPriceObservation creates an observation stamped with the current time
func NewPriceObservation(asset string, source SourceID, value fixedpoint.Amount) PriceObservation {
	return PriceObservation{
		Asset:      asset,
		Source:     source,
		Value:      value,
		ObservedAt: time.Now().UTC(),
	}
}

// TokenState is the vault's view of one whitelisted token. A refresh replaces
// the whole slice of token states; entries are never patched in place.
type TokenState struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`

	PoolAmount     fixedpoint.Amount `json:"-"` // token decimals
	ReservedAmount fixedpoint.Amount `json:"-"` // token decimals
	UsdgAmount     fixedpoint.Amount `json:"-"` // USDGDecimals
	Weight         fixedpoint.Amount `json:"-"` // unitless, scale 0
	MaxUsdgAmount  fixedpoint.Amount `json:"-"` // USDGDecimals

	IsStable  bool `json:"is_stable"`
	IsWrapped bool `json:"is_wrapped"`

	MinPrice fixedpoint.Amount `json:"-"` // USDDecimals
	MaxPrice fixedpoint.Amount `json:"-"` // USDDecimals
}

// TokenConfig is the static description of a whitelisted token
type TokenConfig struct {
	Address   string `mapstructure:"address"`
	Symbol    string `mapstructure:"symbol"`
	Decimals  int32  `mapstructure:"decimals"`
	IsStable  bool   `mapstructure:"stable"`
	IsWrapped bool   `mapstructure:"wrapped"`
}
