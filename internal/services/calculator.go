package services

import (
	"fmt"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// Percent figures (utilization, weights, APR) are basis points carried at
// scale 2, so 1234 bps reads as 12.34.
const percentDecimals int32 = 2

// CalculatorConfig holds the constants of the derived-metrics rules
type CalculatorConfig struct {
	GovAsset    string
	RewardAsset string
	// DefaultMaxUsdgAmount replaces a token's unset USDG cap
	DefaultMaxUsdgAmount fixedpoint.Amount
	// FeeSettlementLag is how long after a settlement the live fee counters
	// are ignored, since the settled period may already contain them
	FeeSettlementLag time.Duration
}

// Calculator derives every dashboard figure from one cycle's raw inputs
type Calculator struct {
	cfg CalculatorConfig
}

// NewCalculator creates a new derived-metrics calculator
func NewCalculator(cfg CalculatorConfig) *Calculator {
	if cfg.FeeSettlementLag <= 0 {
		cfg.FeeSettlementLag = time.Hour
	}
	return &Calculator{cfg: cfg}
}

// MarketCap returns price * supply. The result keeps the price's USD scale.
func (c *Calculator) MarketCap(price, supply fixedpoint.Value) fixedpoint.Value {
	return price.Mul(supply)
}

// FullyDilutedMarketCap is MarketCap over the total instead of the
// circulating supply
func (c *Calculator) FullyDilutedMarketCap(price, totalSupply fixedpoint.Value) fixedpoint.Value {
	return c.MarketCap(price, totalSupply)
}

// AssetsUnderManagement averages the low and high AUM estimates
func (c *Calculator) AssetsUnderManagement(aums []fixedpoint.Amount) fixedpoint.Value {
	if len(aums) < 2 {
		return fixedpoint.Unknown()
	}
	return fixedpoint.FromResult(aums[0].Add(aums[1]).DivInt(2))
}

// IndexTokenPrice is aum / supply. An empty pool is priced at 1 USD.
func (c *Calculator) IndexTokenPrice(aum, supply fixedpoint.Value) fixedpoint.Value {
	a, ok := aum.Amount()
	if !ok {
		return aum
	}
	s, ok := supply.Amount()
	if !ok {
		return supply
	}
	if a.IsZero() || s.IsZero() {
		return fixedpoint.Of(fixedpoint.Expand(1, domain.USDDecimals))
	}
	return fixedpoint.FromResult(a.Rescale(domain.USDDecimals).Div(s))
}

// StakingValue is the USD value of the staked amount
func (c *Calculator) StakingValue(price, staked fixedpoint.Value) fixedpoint.Value {
	return price.Mul(staked)
}

// TotalValueLocked is AUM plus the value committed to staking
func (c *Calculator) TotalValueLocked(aum, stakingValue fixedpoint.Value) fixedpoint.Value {
	return aum.Add(stakingValue)
}

// CurrentFeesUSD values the fee balances held by the vault at each token's
// minimum price. Tokens without a price are skipped.
func (c *Calculator) CurrentFeesUSD(fees []domain.TokenFee, tokens []domain.TokenState) fixedpoint.Value {
	if fees == nil || tokens == nil {
		return fixedpoint.Unknown()
	}

	byAddress := make(map[string]domain.TokenState, len(tokens))
	for _, t := range tokens {
		byAddress[t.Address] = t
	}

	total := fixedpoint.Zero(domain.USDDecimals)
	for _, fee := range fees {
		token, ok := byAddress[fee.Token]
		if !ok || token.MinPrice.IsZero() {
			continue
		}
		total = total.Add(fee.Amount.Mul(token.MinPrice))
	}
	return fixedpoint.Of(total.Rescale(domain.USDDecimals))
}

// DistributedFees sums the settled ledger periods plus the current period.
// For the current period the ledger lags real accrual, so the larger of the
// ledger accrual and the live counter is used. The live counter only counts
// once the last settlement is older than FeeSettlementLag.
func (c *Calculator) DistributedFees(ledger *domain.FeeLedger, live fixedpoint.Value, now time.Time) fixedpoint.Value {
	if ledger == nil {
		return fixedpoint.Unknown()
	}

	settled := fixedpoint.Zero(domain.USDDecimals)
	for _, p := range ledger.Settled {
		settled = settled.Add(p.Total())
	}

	current := fixedpoint.Of(fixedpoint.Zero(domain.USDDecimals))
	if ledger.Pending != nil {
		current = fixedpoint.Of(ledger.Pending.Total())
	}

	if last, ok := ledger.LastSettled(); ok && now.Sub(last.To) > c.cfg.FeeSettlementLag {
		current = current.Max(live)
	}

	return fixedpoint.Of(settled).Add(current)
}

// TotalFees is the distributed fees plus the spread captured by the pool
func (c *Calculator) TotalFees(distributed, spread fixedpoint.Value) fixedpoint.Value {
	return distributed.Add(spread)
}

// Utilization is reserved / pool in basis points. An empty pool has no
// defined utilization.
func (c *Calculator) Utilization(token domain.TokenState) fixedpoint.Value {
	if token.PoolAmount.IsZero() {
		return fixedpoint.Unknown()
	}
	return ratioBps(token.ReservedAmount, token.PoolAmount)
}

// WeightText returns the token's current weight against the adjusted USDG
// supply and its target weight against the total configured weight
func (c *Calculator) WeightText(token domain.TokenState, adjustedUsdgSupply, totalTokenWeights fixedpoint.Value) domain.WeightText {
	w := domain.WeightText{
		Current: guardedRatio(fixedpoint.Of(token.UsdgAmount), adjustedUsdgSupply),
		Target:  guardedRatio(fixedpoint.Of(token.Weight), totalTokenWeights),
		Text:    fixedpoint.Placeholder,
	}
	if w.Current.IsKnown() && w.Target.IsKnown() {
		w.Text = fmt.Sprintf("%s%% / %s%%",
			w.Current.Display(percentDecimals, false),
			w.Target.Display(percentDecimals, false),
		)
	}
	return w
}

// MaxCapacity is the token's USDG cap, or the default cap when unset
func (c *Calculator) MaxCapacity(token domain.TokenState) fixedpoint.Value {
	if token.MaxUsdgAmount.IsZero() {
		return fixedpoint.Of(c.cfg.DefaultMaxUsdgAmount)
	}
	return fixedpoint.Of(token.MaxUsdgAmount)
}

// StakingAPR annualizes the reward emission against the staked value, in
// basis points
func (c *Calculator) StakingAPR(stakedPrice, rewardPrice, rewardsPerSecond, totalStaked fixedpoint.Value) fixedpoint.Value {
	if !stakedPrice.IsKnown() || !rewardPrice.IsKnown() {
		return fixedpoint.Unknown()
	}

	yearly := rewardsPerSecond.Map(func(a fixedpoint.Amount) (fixedpoint.Amount, error) {
		return a.MulInt(domain.SecondsPerYear), nil
	}).Mul(rewardPrice)
	stakedUSD := totalStaked.Mul(stakedPrice)

	return yearly.Div(stakedUSD).Map(func(a fixedpoint.Amount) (fixedpoint.Amount, error) {
		return a.MulInt(100).Rescale(percentDecimals), nil
	})
}

// Volume24h sums hourly volume newer than 24 hours before the current hour.
// Entries arrive newest first and the scan stops at the first older one.
func (c *Calculator) Volume24h(hourly []domain.VolumePoint, now time.Time) domain.VolumeSummary {
	if hourly == nil {
		return domain.VolumeSummary{Total: fixedpoint.Unknown()}
	}

	minTime := now.Truncate(time.Hour).Add(-24 * time.Hour)
	total := fixedpoint.Zero(domain.USDDecimals)
	byToken := make(map[string]fixedpoint.Amount)

	for _, p := range hourly {
		if p.Timestamp.Before(minTime) {
			break
		}
		byToken[p.Token] = byToken[p.Token].Add(p.Volume)
		total = total.Add(p.Volume)
	}

	summary := domain.VolumeSummary{
		Total:   fixedpoint.Of(total),
		ByToken: make(map[string]fixedpoint.Value, len(byToken)),
	}
	for token, v := range byToken {
		summary.ByToken[token] = fixedpoint.Of(v)
	}
	return summary
}

// TotalVolume sums the lifetime volume entries
func (c *Calculator) TotalVolume(entries []fixedpoint.Amount) fixedpoint.Value {
	if entries == nil {
		return fixedpoint.Unknown()
	}
	total := fixedpoint.Zero(domain.USDDecimals)
	for _, e := range entries {
		total = total.Add(e)
	}
	return fixedpoint.Of(total)
}

// AdjustedUsdgSupply sums the USDG amounts of the non-wrapped tokens
func (c *Calculator) AdjustedUsdgSupply(tokens []domain.TokenState) fixedpoint.Value {
	if tokens == nil {
		return fixedpoint.Unknown()
	}
	total := fixedpoint.Zero(domain.USDGDecimals)
	for _, t := range tokens {
		if t.IsWrapped {
			continue
		}
		total = total.Add(t.UsdgAmount)
	}
	return fixedpoint.Of(total)
}

// Compute recomputes the full metric snapshot for one cycle
func (c *Calculator) Compute(in domain.CycleInputs, prices map[string]domain.ReconciledPrice) domain.MetricSnapshot {
	govPrice, ok := prices[c.cfg.GovAsset]
	if !ok {
		govPrice = domain.ReconciledPrice{Asset: c.cfg.GovAsset}
	}
	rewardPrice := prices[c.cfg.RewardAsset].Canonical

	snap := domain.MetricSnapshot{
		ComputedAt: in.Now,
		GovPrice:   govPrice,
		GovSupply:  in.Supply.GovCirculating,
	}

	snap.GovMarketCap = c.MarketCap(govPrice.Canonical, in.Supply.GovCirculating)
	snap.GovFullyDilutedMarketCap = c.FullyDilutedMarketCap(govPrice.Canonical, in.Supply.GovTotal)

	snap.AUM = c.AssetsUnderManagement(in.Aums)
	snap.IndexTokenSupply = in.Supply.IndexToken
	snap.IndexTokenPrice = c.IndexTokenPrice(snap.AUM, in.Supply.IndexToken)
	snap.IndexMarketCap = c.MarketCap(snap.IndexTokenPrice, in.Supply.IndexToken)

	snap.StakingValue = c.StakingValue(govPrice.Canonical, in.Staking.TotalStaked)
	snap.TotalValueLocked = c.TotalValueLocked(snap.AUM, snap.StakingValue)
	snap.StakingAPR = c.StakingAPR(govPrice.Canonical, rewardPrice, in.Staking.RewardsPerSecond, in.Staking.TotalStaked)

	snap.CurrentFeesUSD = c.CurrentFeesUSD(in.Fees, in.Tokens)
	snap.DistributedFees = c.DistributedFees(in.Ledger, snap.CurrentFeesUSD, in.Now)
	snap.SpreadCapturedFees = fixedpoint.Unknown()
	if in.Ledger != nil {
		snap.SpreadCapturedFees = in.Ledger.SpreadCaptured
		if last, ok := in.Ledger.LastSettled(); ok {
			since := last.To
			snap.FeesSince = &since
		}
	}
	snap.TotalFees = c.TotalFees(snap.DistributedFees, snap.SpreadCapturedFees)

	snap.Volume24h = c.Volume24h(in.HourlyVolume, in.Now)
	snap.TotalVolume = c.TotalVolume(in.TotalVolume)
	snap.LongOpenInterest = fixedpoint.Unknown()
	snap.ShortOpenInterest = fixedpoint.Unknown()
	if in.PositionStats != nil {
		snap.LongOpenInterest = fixedpoint.Of(in.PositionStats.TotalLong)
		snap.ShortOpenInterest = fixedpoint.Of(in.PositionStats.TotalShort)
	}

	snap.Tokens = c.tokenMetrics(in)
	return snap
}

func (c *Calculator) tokenMetrics(in domain.CycleInputs) []domain.TokenMetrics {
	adjusted := c.AdjustedUsdgSupply(in.Tokens)

	out := make([]domain.TokenMetrics, 0, len(in.Tokens))
	for _, t := range in.Tokens {
		if t.IsWrapped {
			continue
		}
		out = append(out, domain.TokenMetrics{
			Symbol:      t.Symbol,
			Address:     t.Address,
			IsStable:    t.IsStable,
			MinPrice:    fixedpoint.Of(t.MinPrice),
			MaxPrice:    fixedpoint.Of(t.MaxPrice),
			PoolAmount:  fixedpoint.Of(t.PoolAmount),
			PoolUSD:     fixedpoint.Of(t.PoolAmount.Mul(t.MinPrice).Rescale(domain.USDDecimals)),
			Utilization: c.Utilization(t),
			Weight:      c.WeightText(t, adjusted, in.TotalTokenWeights),
			MaxCapacity: c.MaxCapacity(t),
		})
	}
	return out
}

// ratioBps returns num * 10000 / den at percentDecimals, truncating
func ratioBps(num, den fixedpoint.Amount) fixedpoint.Value {
	scale := num.Decimals()
	if den.Decimals() > scale {
		scale = den.Decimals()
	}
	bps, err := fixedpoint.MulDiv(num.Rescale(scale).Raw(), fixedpoint.Expand(domain.BPSDivisor, 0).Raw(), den.Rescale(scale).Raw())
	if err != nil {
		return fixedpoint.Fail(err)
	}
	return fixedpoint.Of(fixedpoint.New(bps, percentDecimals))
}

func guardedRatio(num, den fixedpoint.Value) fixedpoint.Value {
	n, ok := num.Amount()
	if !ok {
		return fixedpoint.Unknown()
	}
	d, ok := den.Amount()
	if !ok || d.IsZero() {
		return fixedpoint.Unknown()
	}
	return ratioBps(n, d)
}
