package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// DistributionLabel is the display label and color of a distribution bucket
type DistributionLabel struct {
	Label string
	Color string
}

// RefreshConfig names the contracts and assets a refresh cycle reads
type RefreshConfig struct {
	Tokens []domain.TokenConfig
	// VaultSource is the source id of the vault's own token prices
	VaultSource domain.SourceID
	// PriceAssets are reconciled in addition to the whitelisted tokens
	PriceAssets []string

	GovToken               string
	SecondaryGovToken      string
	IndexToken             string
	NonCirculatingHolders  []string
	LiquidityPrimaryPool   string
	LiquiditySecondaryPool string
	StakingPool            string
	RewardDistributor      string
	RewardDecimals         int32

	Staked             DistributionLabel
	LiquidityPrimary   DistributionLabel
	LiquiditySecondary DistributionLabel
	Wallets            DistributionLabel

	// MaxConcurrentReads bounds the number of in-flight source reads
	MaxConcurrentReads int
}

// RefreshDeps are the collaborators of the refresh service. Any source may be
// nil, in which case its inputs stay unknown.
type RefreshDeps struct {
	Prices          []ports.PriceSource
	Vault           ports.VaultReader
	Tokens          ports.TokenReader
	SecondaryTokens ports.TokenReader
	Stats           ports.StatsClient
	Ledger          ports.FeeLedgerSource

	Reconciler   *PriceReconciler
	Calculator   *Calculator
	Distribution *DistributionAggregator
	Composer     *PoolComposer
	Gate         *SequenceGate
	Session      *Session
	Store        *SnapshotStore
	Metrics      ports.MetricsService
}

// RefreshService implements the ports.RefreshService interface. Cycles may
// overlap; every source response is applied only if it is the newest for its
// source and belongs to the current session.
type RefreshService struct {
	cfg    RefreshConfig
	deps   RefreshDeps
	logger *slog.Logger

	mu      sync.Mutex
	state   cycleState
	version uint64
}

type cycleState struct {
	epoch        uint64
	inputs       domain.CycleInputs
	observations map[domain.SourceID][]domain.PriceObservation
}

type cycle struct {
	epoch   uint64
	group   errgroup.Group
	sources int
	failed  atomic.Int32
}

// NewRefreshService creates a new refresh service
func NewRefreshService(cfg RefreshConfig, deps RefreshDeps, logger *slog.Logger) *RefreshService {
	return &RefreshService{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "refresh_service"),
		state:  newCycleState(0),
	}
}

func newCycleState(epoch uint64) cycleState {
	return cycleState{
		epoch:        epoch,
		observations: make(map[domain.SourceID][]domain.PriceObservation),
	}
}

// Refresh reads every source concurrently, recomputes the snapshot from the
// newest applied inputs and publishes it
func (s *RefreshService) Refresh(ctx context.Context) error {
	start := time.Now()
	c := &cycle{epoch: s.deps.Session.Epoch()}
	if s.cfg.MaxConcurrentReads > 0 {
		c.group.SetLimit(s.cfg.MaxConcurrentReads)
	}

	s.schedule(ctx, c)
	_ = c.group.Wait()

	s.mu.Lock()
	if !s.deps.Session.Valid(c.epoch) {
		s.mu.Unlock()
		s.discardForSession(c.epoch)
		return nil
	}
	s.version++
	version := s.version
	inputs := s.state.inputs
	inputs.Now = time.Now().UTC()
	inputs.Observations = s.flattenObservations()
	s.mu.Unlock()

	snap := s.build(ctx, inputs, version, c.epoch)

	if !s.deps.Session.Valid(c.epoch) {
		s.discardForSession(c.epoch)
		return nil
	}
	if !s.deps.Store.Publish(snap) {
		s.logger.Debug("newer snapshot already published", "version", version)
	}

	duration := time.Since(start)
	failed := int(c.failed.Load())
	if c.sources > 0 && failed == c.sources {
		s.deps.Metrics.RecordCycleError(duration)
		return fmt.Errorf("%w: all %d sources failed", domain.ErrSourceUnavailable, c.sources)
	}

	s.deps.Metrics.RecordCycleSuccess(duration)
	s.logger.Info("refresh completed",
		"version", version,
		"sources", c.sources,
		"failed", failed,
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

func (s *RefreshService) discardForSession(epoch uint64) {
	s.deps.Metrics.RecordSessionDiscard()
	s.logger.Debug("refresh discarded",
		"epoch", epoch,
		"reason", domain.ErrSessionChanged,
	)
}

// schedule starts one read per configured source
func (s *RefreshService) schedule(ctx context.Context, c *cycle) {
	for _, p := range s.deps.Prices {
		src := p
		collect(s, ctx, c, "price:"+string(src.ID()), src.FetchPrices,
			func(st *cycleState, obs []domain.PriceObservation, ok bool) {
				if ok {
					st.observations[src.ID()] = obs
				} else {
					delete(st.observations, src.ID())
				}
			})
	}

	if v := s.deps.Vault; v != nil {
		collect(s, ctx, c, "vault.tokens",
			func(ctx context.Context) ([]domain.TokenState, error) { return v.TokenStates(ctx, s.cfg.Tokens) },
			func(st *cycleState, tokens []domain.TokenState, ok bool) {
				st.inputs.Tokens = nil
				if ok {
					st.inputs.Tokens = tokens
				}
			})
		collect(s, ctx, c, "vault.weights", v.TotalTokenWeights,
			func(st *cycleState, w fixedpoint.Amount, ok bool) {
				st.inputs.TotalTokenWeights = known(w, ok)
			})
		collect(s, ctx, c, "vault.aums", v.Aums,
			func(st *cycleState, aums []fixedpoint.Amount, ok bool) {
				st.inputs.Aums = nil
				if ok {
					st.inputs.Aums = aums
				}
			})
		collect(s, ctx, c, "vault.fees",
			func(ctx context.Context) ([]domain.TokenFee, error) { return v.Fees(ctx, s.cfg.Tokens) },
			func(st *cycleState, fees []domain.TokenFee, ok bool) {
				st.inputs.Fees = nil
				if ok {
					st.inputs.Fees = fees
				}
			})
	}

	s.scheduleSupply(ctx, c)

	if l := s.deps.Ledger; l != nil {
		collect(s, ctx, c, "ledger", l.FeeLedger,
			func(st *cycleState, ledger *domain.FeeLedger, ok bool) {
				st.inputs.Ledger = nil
				if ok {
					st.inputs.Ledger = ledger
				}
			})
	}

	if st := s.deps.Stats; st != nil {
		collect(s, ctx, c, "stats.positions", st.PositionStats,
			func(cs *cycleState, ps *domain.PositionStats, ok bool) {
				cs.inputs.PositionStats = nil
				if ok {
					cs.inputs.PositionStats = ps
				}
			})
		collect(s, ctx, c, "stats.hourly_volume", st.HourlyVolume,
			func(cs *cycleState, points []domain.VolumePoint, ok bool) {
				cs.inputs.HourlyVolume = nil
				if ok {
					cs.inputs.HourlyVolume = points
				}
			})
		collect(s, ctx, c, "stats.total_volume", st.TotalVolume,
			func(cs *cycleState, entries []fixedpoint.Amount, ok bool) {
				cs.inputs.TotalVolume = nil
				if ok {
					cs.inputs.TotalVolume = entries
				}
			})
	}
}

type govSupply struct {
	total       fixedpoint.Amount
	circulating fixedpoint.Amount
}

func (s *RefreshService) scheduleSupply(ctx context.Context, c *cycle) {
	tr := s.deps.Tokens
	if tr == nil {
		return
	}

	if s.cfg.GovToken != "" {
		collect(s, ctx, c, "supply.gov", s.readGovSupply,
			func(st *cycleState, sup govSupply, ok bool) {
				st.inputs.Supply.GovTotal = known(sup.total, ok)
				st.inputs.Supply.GovCirculating = known(sup.circulating, ok)
			})
	}

	if s.cfg.IndexToken != "" {
		collect(s, ctx, c, "supply.index",
			func(ctx context.Context) (fixedpoint.Amount, error) {
				return tr.TotalSupply(ctx, s.cfg.IndexToken, domain.IndexTokenDecimals)
			},
			func(st *cycleState, a fixedpoint.Amount, ok bool) {
				st.inputs.Supply.IndexToken = known(a, ok)
			})
	}

	if s.cfg.GovToken != "" && s.cfg.LiquidityPrimaryPool != "" {
		collect(s, ctx, c, "liquidity.primary",
			func(ctx context.Context) (fixedpoint.Amount, error) {
				return tr.BalanceOf(ctx, s.cfg.GovToken, s.cfg.LiquidityPrimaryPool, domain.GovTokenDecimals)
			},
			func(st *cycleState, a fixedpoint.Amount, ok bool) {
				st.inputs.Supply.GovInLiquidityPrimary = known(a, ok)
			})
	}

	if sec := s.deps.SecondaryTokens; sec != nil && s.cfg.SecondaryGovToken != "" && s.cfg.LiquiditySecondaryPool != "" {
		collect(s, ctx, c, "liquidity.secondary",
			func(ctx context.Context) (fixedpoint.Amount, error) {
				return sec.BalanceOf(ctx, s.cfg.SecondaryGovToken, s.cfg.LiquiditySecondaryPool, domain.GovTokenDecimals)
			},
			func(st *cycleState, a fixedpoint.Amount, ok bool) {
				st.inputs.Supply.GovInLiquiditySecondary = known(a, ok)
			})
	}

	if s.cfg.GovToken != "" && s.cfg.StakingPool != "" {
		collect(s, ctx, c, "staking.total",
			func(ctx context.Context) (fixedpoint.Amount, error) {
				return tr.BalanceOf(ctx, s.cfg.GovToken, s.cfg.StakingPool, domain.GovTokenDecimals)
			},
			func(st *cycleState, a fixedpoint.Amount, ok bool) {
				st.inputs.Staking.TotalStaked = known(a, ok)
			})
	}

	if s.cfg.RewardDistributor != "" {
		collect(s, ctx, c, "staking.rewards",
			func(ctx context.Context) (fixedpoint.Amount, error) {
				return tr.TokensPerInterval(ctx, s.cfg.RewardDistributor, s.cfg.RewardDecimals)
			},
			func(st *cycleState, a fixedpoint.Amount, ok bool) {
				st.inputs.Staking.RewardsPerSecond = known(a, ok)
			})
	}
}

// readGovSupply reads the total supply and subtracts the balances of the
// non-circulating holders
func (s *RefreshService) readGovSupply(ctx context.Context) (govSupply, error) {
	total, err := s.deps.Tokens.TotalSupply(ctx, s.cfg.GovToken, domain.GovTokenDecimals)
	if err != nil {
		return govSupply{}, err
	}
	circulating := total
	for _, holder := range s.cfg.NonCirculatingHolders {
		bal, err := s.deps.Tokens.BalanceOf(ctx, s.cfg.GovToken, holder, domain.GovTokenDecimals)
		if err != nil {
			return govSupply{}, fmt.Errorf("balance of %s: %w", holder, err)
		}
		circulating = circulating.Sub(bal)
	}
	if circulating.Sign() < 0 {
		circulating = fixedpoint.Zero(domain.GovTokenDecimals)
	}
	return govSupply{total: total, circulating: circulating}, nil
}

// collect issues a sequence number for key, runs read on the cycle's group
// and applies the result through write. A failed read is applied too, as an
// unknown, so a stale value never survives a failed refresh.
func collect[T any](
	s *RefreshService,
	ctx context.Context,
	c *cycle,
	key string,
	read func(context.Context) (T, error),
	write func(*cycleState, T, bool),
) {
	seq := s.deps.Gate.Next(key)
	c.sources++

	c.group.Go(func() error {
		v, err := read(ctx)
		if err != nil {
			c.failed.Add(1)
			s.logger.Warn("source read failed", "source", key, "error", err)
			s.deps.Metrics.RecordSourceError(key)
		} else {
			s.deps.Metrics.RecordSourceOK(key)
		}

		s.apply(c.epoch, key, seq, func(st *cycleState) {
			write(st, v, err == nil)
		})
		return nil
	})
}

// apply writes one source response into the cycle state if it belongs to the
// current session and is the newest response for its source
func (s *RefreshService) apply(epoch uint64, key string, seq uint64, write func(*cycleState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.deps.Session.Valid(epoch) {
		return
	}
	if s.state.epoch != epoch {
		s.state = newCycleState(epoch)
	}
	if !s.deps.Gate.Accept(key, seq) {
		s.deps.Metrics.RecordStaleDiscard(key)
		s.logger.Debug("source response dropped",
			"source", key,
			"seq", seq,
			"reason", domain.ErrStaleSourceDiscarded,
		)
		return
	}
	write(&s.state)
}

// flattenObservations merges every source's observations with the prices
// the vault reported for its tokens. Callers hold s.mu.
func (s *RefreshService) flattenObservations() []domain.PriceObservation {
	sources := make([]string, 0, len(s.state.observations))
	for src := range s.state.observations {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)

	var out []domain.PriceObservation
	for _, src := range sources {
		out = append(out, s.state.observations[domain.SourceID(src)]...)
	}

	if s.cfg.VaultSource != "" {
		for _, t := range s.state.inputs.Tokens {
			if t.MaxPrice.IsZero() {
				continue
			}
			out = append(out, domain.NewPriceObservation(t.Symbol, s.cfg.VaultSource, t.MaxPrice))
		}
	}
	return out
}

func (s *RefreshService) build(ctx context.Context, in domain.CycleInputs, version, epoch uint64) *domain.Snapshot {
	assets := append([]string(nil), s.cfg.PriceAssets...)
	for _, t := range s.cfg.Tokens {
		if !t.IsWrapped {
			assets = append(assets, t.Symbol)
		}
	}

	prices := s.deps.Reconciler.ReconcileAll(ctx, assets, in.Observations)
	metrics := s.deps.Calculator.Compute(in, prices)

	dist := s.deps.Distribution.Aggregate(in.Supply.GovTotal, []domain.DistributionPart{
		{Category: domain.CategoryStaked, Label: s.cfg.Staked.Label, Color: s.cfg.Staked.Color, Amount: in.Staking.TotalStaked},
		{Category: domain.CategoryLiquidityPrimary, Label: s.cfg.LiquidityPrimary.Label, Color: s.cfg.LiquidityPrimary.Color, Amount: in.Supply.GovInLiquidityPrimary},
		{Category: domain.CategoryLiquiditySecondary, Label: s.cfg.LiquiditySecondary.Label, Color: s.cfg.LiquiditySecondary.Color, Amount: in.Supply.GovInLiquiditySecondary},
	}, ResidualBucket{
		Category: domain.CategoryWallets,
		Label:    s.cfg.Wallets.Label,
		Color:    s.cfg.Wallets.Color,
	})
	if dist.Inconsistent {
		s.logger.Warn("inconsistent supply distribution", "version", version, "error", dist.Err)
	}

	priceList := make([]domain.ReconciledPrice, 0, len(prices))
	for _, p := range prices {
		priceList = append(priceList, p)
	}
	sort.Slice(priceList, func(i, j int) bool {
		return priceList[i].Asset < priceList[j].Asset
	})

	return &domain.Snapshot{
		Version:      version,
		Epoch:        epoch,
		Metrics:      metrics,
		Distribution: dist,
		Pool:         s.deps.Composer.Compose(in.Tokens),
		Prices:       priceList,
	}
}

func known(a fixedpoint.Amount, ok bool) fixedpoint.Value {
	if !ok {
		return fixedpoint.Unknown()
	}
	return fixedpoint.Of(a)
}

// Ensure RefreshService implements ports.RefreshService
var _ ports.RefreshService = (*RefreshService)(nil)
