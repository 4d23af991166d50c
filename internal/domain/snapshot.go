package domain

import (
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// ReconciledPrice is the canonical price of one asset plus every source's
// own value for side-by-side display
type ReconciledPrice struct {
	Asset           string                        `json:"asset"`
	Canonical       fixedpoint.Value              `json:"canonical"`
	CanonicalSource SourceID                      `json:"canonical_source"`
	BySource        map[SourceID]fixedpoint.Value `json:"by_source"`
	UsedFallback    []SourceID                    `json:"used_fallback,omitempty"`
}

// WeightText is a token's current and target pool weight in bps. Current is
// truncated to the basis point, so it can sit one bps below the token's
// PoolShare, whose shares are apportioned to sum to exactly 10000.
type WeightText struct {
	Current fixedpoint.Value `json:"current_bps"`
	Target  fixedpoint.Value `json:"target_bps"`
	Text    string           `json:"text"`
}

// TokenMetrics are the per-token figures of the pool table
type TokenMetrics struct {
	Symbol      string           `json:"symbol"`
	Address     string           `json:"address"`
	IsStable    bool             `json:"is_stable"`
	MinPrice    fixedpoint.Value `json:"min_price"`
	MaxPrice    fixedpoint.Value `json:"max_price"`
	PoolAmount  fixedpoint.Value `json:"pool_amount"`
	PoolUSD     fixedpoint.Value `json:"pool_usd"`
	Utilization fixedpoint.Value `json:"utilization_bps"`
	Weight      WeightText       `json:"weight"`
	MaxCapacity fixedpoint.Value `json:"max_capacity"`
}

// MetricSnapshot is the calculator output for one refresh cycle. It is never
// persisted and is recomputed from scratch every cycle.
type MetricSnapshot struct {
	ComputedAt time.Time `json:"computed_at"`

	GovPrice                 ReconciledPrice  `json:"gov_price"`
	GovMarketCap             fixedpoint.Value `json:"gov_market_cap"`
	GovFullyDilutedMarketCap fixedpoint.Value `json:"gov_fully_diluted_market_cap"`
	GovSupply                fixedpoint.Value `json:"gov_supply"`

	AUM              fixedpoint.Value `json:"aum"`
	IndexTokenPrice  fixedpoint.Value `json:"index_token_price"`
	IndexTokenSupply fixedpoint.Value `json:"index_token_supply"`
	IndexMarketCap   fixedpoint.Value `json:"index_market_cap"`

	StakingValue     fixedpoint.Value `json:"staking_value"`
	TotalValueLocked fixedpoint.Value `json:"total_value_locked"`
	StakingAPR       fixedpoint.Value `json:"staking_apr_bps"`

	CurrentFeesUSD     fixedpoint.Value `json:"current_fees_usd"`
	FeesSince          *time.Time       `json:"fees_since,omitempty"`
	DistributedFees    fixedpoint.Value `json:"distributed_fees"`
	SpreadCapturedFees fixedpoint.Value `json:"spread_captured_fees"`
	TotalFees          fixedpoint.Value `json:"total_fees"`

	Volume24h         VolumeSummary    `json:"volume_24h"`
	TotalVolume       fixedpoint.Value `json:"total_volume"`
	LongOpenInterest  fixedpoint.Value `json:"long_open_interest"`
	ShortOpenInterest fixedpoint.Value `json:"short_open_interest"`

	Tokens []TokenMetrics `json:"tokens"`
}

// Snapshot bundles everything one cycle produced. It is swapped as a unit so
// readers never see figures from two different cycles.
type Snapshot struct {
	Version      uint64            `json:"version"`
	Epoch        uint64            `json:"epoch"`
	Metrics      MetricSnapshot    `json:"metrics"`
	Distribution Distribution      `json:"distribution"`
	Pool         PoolComposition   `json:"pool"`
	Prices       []ReconciledPrice `json:"prices"`
}

// Metrics represents operational metrics
type Metrics struct {
	Uptime              float64           `json:"uptime_seconds"`
	SnapshotVersion     uint64            `json:"snapshot_version"`
	SessionEpoch        uint64            `json:"session_epoch"`
	LastCycleTime       *time.Time        `json:"last_cycle_time,omitempty"`
	LastCycleDuration   float64           `json:"last_cycle_duration_ms"`
	CycleSuccessCount   int64             `json:"cycle_success_count"`
	CycleErrorCount     int64             `json:"cycle_error_count"`
	StaleDiscardCount   int64             `json:"stale_discard_count"`
	SessionDiscardCount int64             `json:"session_discard_count"`
	FallbackCount       int64             `json:"fallback_count"`
	StreamClients       int               `json:"stream_clients"`
	DatabaseStatus      string            `json:"database_status"`
	Sources             map[string]string `json:"sources"`
}
