package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/prxgr4mmer/perps-metrics-service/internal/feed"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// Handler contains all HTTP handlers
type Handler struct {
	snapshots  ports.SnapshotReader
	session    ports.SessionService
	trigger    ports.RefreshTrigger
	metrics    ports.MetricsService
	health     ports.HealthService
	feed       *feed.Adapter
	indexAsset string
	logger     *slog.Logger
}

// HandlerDeps are the services the handlers read from
type HandlerDeps struct {
	Snapshots ports.SnapshotReader
	Session   ports.SessionService
	Trigger   ports.RefreshTrigger
	Metrics   ports.MetricsService
	Health    ports.HealthService
	Feed      *feed.Adapter
	// IndexAsset is the chart base symbol priced by the snapshot's index
	// token price, e.g. MLP
	IndexAsset string
}

// NewHandler creates a new handler
func NewHandler(deps HandlerDeps, logger *slog.Logger) *Handler {
	return &Handler{
		snapshots:  deps.Snapshots,
		session:    deps.Session,
		trigger:    deps.Trigger,
		metrics:    deps.Metrics,
		health:     deps.Health,
		feed:       deps.Feed,
		indexAsset: deps.IndexAsset,
		logger:     logger.With("component", "http_handler"),
	}
}

// Health returns service health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, err := h.health.CheckHealth(ctx)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// GetSnapshot returns the latest snapshot with raw decimal values
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Current()
	if err != nil {
		handleDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

// SummaryResponse is the headline figures formatted for display. Figures that
// are not known render as the placeholder.
type SummaryResponse struct {
	Version    uint64 `json:"version"`
	ComputedAt string `json:"computed_at"`

	GovPrice                 string `json:"gov_price"`
	GovPriceSource           string `json:"gov_price_source,omitempty"`
	GovMarketCap             string `json:"gov_market_cap"`
	GovFullyDilutedMarketCap string `json:"gov_fully_diluted_market_cap"`
	GovSupply                string `json:"gov_supply"`

	AUM              string `json:"aum"`
	IndexTokenPrice  string `json:"index_token_price"`
	IndexTokenSupply string `json:"index_token_supply"`
	IndexMarketCap   string `json:"index_market_cap"`

	StakingValue     string `json:"staking_value"`
	TotalValueLocked string `json:"total_value_locked"`
	StakingAPR       string `json:"staking_apr"`

	CurrentFees     string `json:"current_fees"`
	FeesSince       string `json:"fees_since,omitempty"`
	DistributedFees string `json:"distributed_fees"`
	TotalFees       string `json:"total_fees"`

	Volume24h         string `json:"volume_24h"`
	TotalVolume       string `json:"total_volume"`
	LongOpenInterest  string `json:"long_open_interest"`
	ShortOpenInterest string `json:"short_open_interest"`

	StablecoinShare string `json:"stablecoin_share"`
}

// GetSummary returns the headline figures as display strings
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Current()
	if err != nil {
		handleDomainError(w, err)
		return
	}

	m := snap.Metrics
	resp := SummaryResponse{
		Version:    snap.Version,
		ComputedAt: m.ComputedAt.Format(time.RFC3339),

		GovPrice:                 usd(m.GovPrice.Canonical),
		GovPriceSource:           string(m.GovPrice.CanonicalSource),
		GovMarketCap:             usd(m.GovMarketCap),
		GovFullyDilutedMarketCap: usd(m.GovFullyDilutedMarketCap),
		GovSupply:                m.GovSupply.Display(0, true),

		AUM:              usd(m.AUM),
		IndexTokenPrice:  m.IndexTokenPrice.Display(3, true),
		IndexTokenSupply: m.IndexTokenSupply.Display(0, true),
		IndexMarketCap:   usd(m.IndexMarketCap),

		StakingValue:     usd(m.StakingValue),
		TotalValueLocked: usd(m.TotalValueLocked),
		StakingAPR:       percent(m.StakingAPR),

		CurrentFees:     usd(m.CurrentFeesUSD),
		DistributedFees: usd(m.DistributedFees),
		TotalFees:       usd(m.TotalFees),

		Volume24h:         usd(m.Volume24h.Total),
		TotalVolume:       usd(m.TotalVolume),
		LongOpenInterest:  usd(m.LongOpenInterest),
		ShortOpenInterest: usd(m.ShortOpenInterest),

		StablecoinShare: snap.Pool.StablecoinSharePercent + "%",
	}
	if m.FeesSince != nil {
		resp.FeesSince = m.FeesSince.Format(time.RFC3339)
	}

	respondJSON(w, http.StatusOK, resp)
}

// BucketResponse is one distribution bucket
type BucketResponse struct {
	Category string `json:"category"`
	Label    string `json:"label"`
	Color    string `json:"color"`
	ShareBps int64  `json:"share_bps"`
	Percent  string `json:"percent"`
}

// GetDistribution returns the governance token distribution pie
func (h *Handler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Current()
	if err != nil {
		handleDomainError(w, err)
		return
	}

	buckets := make([]BucketResponse, len(snap.Distribution.Buckets))
	for i, b := range snap.Distribution.Buckets {
		buckets[i] = BucketResponse{
			Category: b.Category.String(),
			Label:    b.Label,
			Color:    b.Color,
			ShareBps: b.Share,
			Percent:  b.Percent(),
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"version":      snap.Version,
		"buckets":      buckets,
		"inconsistent": snap.Distribution.Inconsistent,
	})
}

// TokenRowResponse is one row of the pool table
type TokenRowResponse struct {
	Symbol      string `json:"symbol"`
	Address     string `json:"address"`
	IsStable    bool   `json:"is_stable"`
	Price       string `json:"price"`
	PoolAmount  string `json:"pool_amount"`
	PoolUSD     string `json:"pool_usd"`
	Utilization string `json:"utilization"`
	Weight      string `json:"weight"`
	MaxCapacity string `json:"max_capacity"`
	ShareBps    int64  `json:"share_bps"`
}

// GetPool returns the index pool composition and per-token table
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Current()
	if err != nil {
		handleDomainError(w, err)
		return
	}

	shares := make(map[string]int64, len(snap.Pool.Shares))
	for _, s := range snap.Pool.Shares {
		shares[s.Address] = s.Bps
	}

	rows := make([]TokenRowResponse, len(snap.Metrics.Tokens))
	for i, t := range snap.Metrics.Tokens {
		rows[i] = TokenRowResponse{
			Symbol:      t.Symbol,
			Address:     t.Address,
			IsStable:    t.IsStable,
			Price:       usd(t.MaxPrice),
			PoolAmount:  t.PoolAmount.Display(2, true),
			PoolUSD:     usd(t.PoolUSD),
			Utilization: utilizationPercent(t.Utilization),
			Weight:      t.Weight.Text,
			MaxCapacity: usd(t.MaxCapacity),
			ShareBps:    shares[t.Address],
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"version":          snap.Version,
		"shares":           snap.Pool.Shares,
		"stablecoin_share": snap.Pool.StablecoinSharePercent,
		"tokens":           rows,
	})
}

// PriceResponse is one reconciled price in the API response
type PriceResponse struct {
	Asset        string            `json:"asset"`
	Price        string            `json:"price"`
	Source       string            `json:"source,omitempty"`
	BySource     map[string]string `json:"by_source"`
	UsedFallback []string          `json:"used_fallback,omitempty"`
}

// GetPrices returns the canonical price of every asset and each source's view
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Current()
	if err != nil {
		handleDomainError(w, err)
		return
	}

	prices := make([]PriceResponse, len(snap.Prices))
	for i, p := range snap.Prices {
		resp := PriceResponse{
			Asset:    p.Asset,
			Price:    usd(p.Canonical),
			Source:   string(p.CanonicalSource),
			BySource: make(map[string]string, len(p.BySource)),
		}
		for src, v := range p.BySource {
			resp.BySource[string(src)] = usd(v)
		}
		for _, src := range p.UsedFallback {
			resp.UsedFallback = append(resp.UsedFallback, string(src))
		}
		prices[i] = resp
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"version": snap.Version,
		"prices":  prices,
	})
}

// GetMetrics returns operational metrics
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.metrics.GetMetrics(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, metrics)
}

// SwitchSessionRequest represents the request body for a session switch
type SwitchSessionRequest struct {
	ChainID int64  `json:"chain_id"`
	Account string `json:"account"`
}

// SwitchSession moves the service to another chain or account. Refresh
// cycles started before the switch are discarded.
func (h *Handler) SwitchSession(w http.ResponseWriter, r *http.Request) {
	var req SwitchSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ChainID <= 0 {
		respondError(w, http.StatusBadRequest, "chain_id is required")
		return
	}
	if req.Account != "" && !common.IsHexAddress(req.Account) {
		respondError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	epoch := h.session.SwitchSession(req.ChainID, req.Account)
	queued := h.trigger.Trigger("session switch")

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"epoch":  epoch,
		"queued": queued,
	})
}

// TriggerRefresh queues an immediate refresh cycle
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	queued := h.trigger.Trigger("api")
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued": queued,
	})
}

func usd(v fixedpoint.Value) string {
	s := v.Display(2, true)
	if s == fixedpoint.Placeholder {
		return s
	}
	return "$" + s
}

// utilizationPercent shows an empty pool, which has no utilization, as 0%
func utilizationPercent(v fixedpoint.Value) string {
	if v.State() == fixedpoint.Loading {
		return "0.00%"
	}
	return percent(v)
}

func percent(v fixedpoint.Value) string {
	s := v.Display(2, false)
	if s == fixedpoint.Placeholder {
		return s
	}
	return s + "%"
}
