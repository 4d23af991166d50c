package domain

import (
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// SupplyFigures are the token supplies one cycle read
type SupplyFigures struct {
	GovCirculating fixedpoint.Value
	GovTotal       fixedpoint.Value
	IndexToken     fixedpoint.Value
	// Governance tokens held by the two liquidity venues
	GovInLiquidityPrimary   fixedpoint.Value
	GovInLiquiditySecondary fixedpoint.Value
}

// StakingFigures describe the governance token staking pool
type StakingFigures struct {
	TotalStaked      fixedpoint.Value // GovTokenDecimals
	RewardsPerSecond fixedpoint.Value // reward token units per second
}

// CycleInputs is every raw input of one refresh cycle. A nil slice or pointer
// means the source did not deliver this cycle; an empty non-nil slice is a
// delivered but empty result.
type CycleInputs struct {
	Now          time.Time
	Observations []PriceObservation

	Tokens            []TokenState
	TotalTokenWeights fixedpoint.Value
	Aums              []fixedpoint.Amount
	Fees              []TokenFee

	Supply  SupplyFigures
	Staking StakingFigures

	Ledger        *FeeLedger
	HourlyVolume  []VolumePoint
	TotalVolume   []fixedpoint.Amount
	PositionStats *PositionStats
}
