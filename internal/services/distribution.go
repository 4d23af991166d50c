package services

import (
	"log/slog"
	"sort"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// fullShare is 100.00% in hundredths of a percent
const fullShare int64 = 10000

// ResidualBucket describes the bucket that absorbs what no named part holds
type ResidualBucket struct {
	Category domain.Category
	Label    string
	Color    string
}

// DistributionAggregator turns a total and its named parts into pie buckets
// that always sum to exactly 100.00%
type DistributionAggregator struct {
	logger *slog.Logger
}

// NewDistributionAggregator creates a new distribution aggregator
func NewDistributionAggregator(logger *slog.Logger) *DistributionAggregator {
	return &DistributionAggregator{
		logger: logger.With("component", "distribution"),
	}
}

// Aggregate computes each part's share of total, truncated to hundredths of a
// percent, and assigns the remainder to the residual bucket. Parts with an
// unknown amount count as zero. If the named parts exceed the total, their
// shares are rescaled to their own sum, the residual is clamped to zero and
// the distribution is flagged inconsistent.
func (a *DistributionAggregator) Aggregate(total fixedpoint.Value, parts []domain.DistributionPart, residual ResidualBucket) domain.Distribution {
	buckets := make([]domain.DistributionBucket, 0, len(parts)+1)
	for _, p := range parts {
		buckets = append(buckets, domain.DistributionBucket{
			Category: p.Category,
			Label:    p.Label,
			Color:    p.Color,
		})
	}
	residualBucket := domain.DistributionBucket{
		Category: residual.Category,
		Label:    residual.Label,
		Color:    residual.Color,
	}

	dist := domain.Distribution{}

	t, ok := total.Amount()
	if !ok || t.Sign() <= 0 {
		dist.Buckets = sortBuckets(append(buckets, residualBucket))
		return dist
	}

	shares := make([]int64, len(parts))
	var named int64
	for i, p := range parts {
		amount, ok := p.Amount.Amount()
		if !ok || amount.Sign() <= 0 {
			continue
		}
		share := ratioBps(amount, t)
		if v, ok := share.Amount(); ok {
			shares[i] = clampShare(v)
		}
		named += shares[i]
	}

	if named > fullShare {
		a.logger.Warn("named parts exceed total, rescaling",
			"named_share", named,
			"total", t.String(),
		)
		shares = apportion(shares, fullShare)
		named = fullShare
		dist.Inconsistent = true
		dist.Err = domain.ErrInconsistentDistribution
	}

	for i := range buckets {
		buckets[i].Share = shares[i]
	}
	residualBucket.Share = fullShare - named

	dist.Buckets = sortBuckets(append(buckets, residualBucket))
	return dist
}

// sortBuckets orders by share descending, then by category rank
func sortBuckets(buckets []domain.DistributionBucket) []domain.DistributionBucket {
	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].Share != buckets[j].Share {
			return buckets[i].Share > buckets[j].Share
		}
		return buckets[i].Category.Rank() < buckets[j].Category.Rank()
	})
	return buckets
}

// maxShare bounds a single share so rescaling cannot overflow
const maxShare = 1_000_000 * fullShare

func clampShare(v fixedpoint.Amount) int64 {
	raw := v.Raw()
	if !raw.IsInt64() || raw.Int64() > maxShare {
		return maxShare
	}
	return raw.Int64()
}

// apportion scales weights so they sum to exactly target, handing the
// truncation leftovers to the largest remainders. Ties go to the lower index.
func apportion(weights []int64, target int64) []int64 {
	var sum int64
	for _, w := range weights {
		sum += w
	}
	out := make([]int64, len(weights))
	if sum == 0 {
		return out
	}

	type remainder struct {
		index int
		rem   int64
	}
	rems := make([]remainder, len(weights))

	var assigned int64
	for i, w := range weights {
		scaled := w * target
		out[i] = scaled / sum
		rems[i] = remainder{index: i, rem: scaled % sum}
		assigned += out[i]
	}

	sort.SliceStable(rems, func(i, j int) bool {
		return rems[i].rem > rems[j].rem
	})
	for k := int64(0); k < target-assigned; k++ {
		out[rems[k].index]++
	}
	return out
}
