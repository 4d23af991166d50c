package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

const statsWindow = 24 * time.Hour

// Stats24h are the chart header figures over the last day. Figures that
// cannot be derived are nil.
type Stats24h struct {
	High         *float64 `json:"high"`
	Low          *float64 `json:"low"`
	Open         *float64 `json:"open"`
	Delta        *float64 `json:"delta"`
	DeltaPercent string   `json:"delta_percent,omitempty"`
}

// ComputeStats24h scans bars newest first and stops at the first bar older
// than now-24h. The delta compares current, rounded to cents, with the open
// of the oldest bar in the window, and the percentage is taken against
// current. A zero change renders as "0.00" without a sign or percent.
func ComputeStats24h(bars []domain.Bar, now time.Time, current fixedpoint.Value) Stats24h {
	threshold := now.Add(-statsWindow).Unix()

	var stats Stats24h
	var high, low, open float64
	found := false
	for i := len(bars) - 1; i >= 0; i-- {
		b := bars[i]
		if b.Time < threshold {
			break
		}
		if !found || b.High > high {
			high = b.High
		}
		if !found || b.Low < low {
			low = b.Low
		}
		open = b.Open
		found = true
	}
	if !found {
		return stats
	}
	stats.High, stats.Low, stats.Open = &high, &low, &open

	if open == 0 || !current.IsKnown() {
		return stats
	}
	average, err := strconv.ParseFloat(current.Display(2, false), 64)
	if err != nil || average == 0 {
		return stats
	}

	delta := average - open
	stats.Delta = &delta

	pct := delta * 100 / average
	switch {
	case pct == 0:
		stats.DeltaPercent = "0.00"
	case pct > 0:
		stats.DeltaPercent = fmt.Sprintf("+%.2f%%", pct)
	default:
		stats.DeltaPercent = fmt.Sprintf("%.2f%%", pct)
	}
	return stats
}

// Stats24h reads the series of a symbol and derives its 24h figures. An
// unavailable series yields empty stats, as GetBars yields no data.
func (a *Adapter) Stats24h(ctx context.Context, info SymbolInfo, resolution string, now time.Time, current fixedpoint.Value) (Stats24h, error) {
	ticker, err := domain.ParseTicker(info.FullName)
	if err != nil {
		return Stats24h{}, err
	}
	if !IsSupportedResolution(resolution) {
		return Stats24h{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedResolution, resolution)
	}

	series, err := a.history.Series(ctx, ticker, resolution)
	if err != nil {
		a.logger.Warn("series unavailable for stats",
			"symbol", info.FullName,
			"resolution", resolution,
			"error", err,
		)
		return Stats24h{}, nil
	}
	return ComputeStats24h(series, now, current), nil
}
