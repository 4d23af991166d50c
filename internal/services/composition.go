package services

import (
	"sort"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// PoolComposer computes the per-asset weight breakdown of the index pool
type PoolComposer struct{}

// NewPoolComposer creates a new pool composition aggregator
func NewPoolComposer() *PoolComposer {
	return &PoolComposer{}
}

// Compose splits 10000 bps across the non-wrapped tokens in proportion to
// their USDG amounts. Largest-remainder apportionment makes the shares sum to
// exactly 10000 whenever the adjusted supply is nonzero.
func (c *PoolComposer) Compose(tokens []domain.TokenState) domain.PoolComposition {
	comp := domain.PoolComposition{
		Shares:                 []domain.PoolShare{},
		StablecoinSharePercent: "0.00",
	}

	listed := make([]domain.TokenState, 0, len(tokens))
	adjusted := fixedpoint.Zero(domain.USDGDecimals)
	for _, t := range tokens {
		if t.IsWrapped {
			continue
		}
		listed = append(listed, t)
		adjusted = adjusted.Add(t.UsdgAmount)
	}
	if adjusted.Sign() <= 0 {
		return comp
	}

	// raw USDG amounts overflow int64, so apportion on 1e-6 bps units first
	const precision int64 = 1_000_000
	weights := make([]int64, len(listed))
	for i, t := range listed {
		fine, err := fixedpoint.MulDiv(
			t.UsdgAmount.Rescale(domain.USDGDecimals).Raw(),
			fixedpoint.Expand(domain.BPSDivisor*precision, 0).Raw(),
			adjusted.Raw(),
		)
		if err != nil || fine.Sign() < 0 {
			continue
		}
		weights[i] = fine.Int64()
	}
	bps := apportion(weights, domain.BPSDivisor)

	var stable, total int64
	for i, t := range listed {
		comp.Shares = append(comp.Shares, domain.PoolShare{
			Symbol:   t.Symbol,
			Address:  t.Address,
			IsStable: t.IsStable,
			Bps:      bps[i],
		})
		total += bps[i]
		if t.IsStable {
			stable += bps[i]
		}
	}

	sort.SliceStable(comp.Shares, func(i, j int) bool {
		return comp.Shares[i].Bps > comp.Shares[j].Bps
	})

	comp.StablecoinSharePercent = stableSharePercent(stable, total)
	return comp
}

// stableSharePercent renders stable / total * 100 with two decimals
func stableSharePercent(stable, total int64) string {
	if total == 0 {
		return "0.00"
	}
	pct, err := fixedpoint.NewFromInt64(stable*100, 0).Rescale(4).Div(fixedpoint.NewFromInt64(total, 0))
	if err != nil {
		return "0.00"
	}
	return pct.Format(2, false)
}
