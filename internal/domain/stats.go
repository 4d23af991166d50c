package domain

import (
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// VolumePoint is one hourly trading volume entry for one token (USD)
type VolumePoint struct {
	Timestamp time.Time
	Token     string
	Volume    fixedpoint.Amount
}

// PositionStats holds open interest totals (USD)
type PositionStats struct {
	TotalLong  fixedpoint.Amount
	TotalShort fixedpoint.Amount
}

// VolumeSummary is the 24h volume broken down by token
type VolumeSummary struct {
	Total   fixedpoint.Value            `json:"total"`
	ByToken map[string]fixedpoint.Value `json:"by_token"`
}
