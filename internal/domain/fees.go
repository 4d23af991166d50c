package domain

import (
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// FeePeriod is one entry of the fee ledger. Amounts are USD at USDDecimals.
type FeePeriod struct {
	From                 time.Time         `json:"from"`
	To                   time.Time         `json:"to"`
	Mint                 fixedpoint.Amount `json:"-"`
	Burn                 fixedpoint.Amount `json:"-"`
	MarginAndLiquidation fixedpoint.Amount `json:"-"`
	Swap                 fixedpoint.Amount `json:"-"`
}

// Total sums the four fee categories of the period
func (p FeePeriod) Total() fixedpoint.Amount {
	return p.Mint.Add(p.Burn).Add(p.MarginAndLiquidation).Add(p.Swap)
}

// FeeLedger is the authoritative fee record. Settled periods have been
// distributed; Pending is the accrual the indexer has seen since the last
// settlement and lags the live vault counters.
type FeeLedger struct {
	Settled        []FeePeriod
	Pending        *FeePeriod
	SpreadCaptured fixedpoint.Value
}

// LastSettled returns the settled period with the latest end time
func (l FeeLedger) LastSettled() (FeePeriod, bool) {
	if len(l.Settled) == 0 {
		return FeePeriod{}, false
	}
	last := l.Settled[0]
	for _, p := range l.Settled[1:] {
		if p.To.After(last.To) {
			last = p
		}
	}
	return last, true
}

// TokenFee is the fee balance the vault holds for one token, in token units
type TokenFee struct {
	Token  string
	Amount fixedpoint.Amount
}
