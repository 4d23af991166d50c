package domain

import "github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"

// Category identifies a distribution bucket. The declaration order is the
// tie-break order when two buckets hold the same share.
type Category int

const (
	CategoryStaked Category = iota
	CategoryLiquidityPrimary
	CategoryLiquiditySecondary
	CategoryWallets
)

// Rank returns the category's position in the tie-break order
func (c Category) Rank() int {
	return int(c)
}

func (c Category) String() string {
	switch c {
	case CategoryStaked:
		return "staked"
	case CategoryLiquidityPrimary:
		return "liquidity_primary"
	case CategoryLiquiditySecondary:
		return "liquidity_secondary"
	case CategoryWallets:
		return "wallets"
	default:
		return "unknown"
	}
}

// DistributionPart is a named sub-quantity of a distributed total
type DistributionPart struct {
	Category Category
	Label    string
	Color    string
	Amount   fixedpoint.Value
}

// DistributionBucket is one slice of the pie. Share is in hundredths of a
// percent, so 10000 is 100.00%.
type DistributionBucket struct {
	Category Category `json:"category"`
	Label    string   `json:"label"`
	Color    string   `json:"color"`
	Share    int64    `json:"share_bps"`
}

// Percent renders the share as "12.34"
func (b DistributionBucket) Percent() string {
	return fixedpoint.NewFromInt64(b.Share, 2).Format(2, false)
}

// Distribution is the full bucket set for one pie
type Distribution struct {
	Buckets      []DistributionBucket `json:"buckets"`
	Inconsistent bool                 `json:"inconsistent"`
	Err          error                `json:"-"`
}

// Sum adds up every bucket share
func (d Distribution) Sum() int64 {
	var total int64
	for _, b := range d.Buckets {
		total += b.Share
	}
	return total
}
