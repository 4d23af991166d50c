package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/feed"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

const defaultStatsResolution = "60"

// UDFHistoryResponse is a bars result in the column layout polling chart
// widgets expect. Times are unix seconds.
type UDFHistoryResponse struct {
	Status string    `json:"s"`
	Time   []int64   `json:"t,omitempty"`
	Open   []float64 `json:"o,omitempty"`
	High   []float64 `json:"h,omitempty"`
	Low    []float64 `json:"l,omitempty"`
	Close  []float64 `json:"c,omitempty"`
	Volume []float64 `json:"v,omitempty"`
}

// FeedConfig returns the data-feed capability descriptor
func (h *Handler) FeedConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.feed.Configuration())
}

// FeedSymbol resolves a symbol such as PERPS:ETH/USD
func (h *Handler) FeedSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		respondError(w, http.StatusBadRequest, "symbol parameter is required")
		return
	}

	info, err := h.feed.Resolve(symbol)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

// FeedHistory returns the bars of a symbol. Only the first request of a
// range yields data; the series is served whole.
func (h *Handler) FeedHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	symbol := q.Get("symbol")
	resolution := q.Get("resolution")
	if symbol == "" || resolution == "" {
		respondError(w, http.StatusBadRequest, "symbol and resolution parameters are required")
		return
	}

	period := feed.PeriodParams{FirstDataRequest: true}
	if v := q.Get("from"); v != "" {
		period.From, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("to"); v != "" {
		period.To, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("countback"); v != "" {
		period.CountBack, _ = strconv.Atoi(v)
	}
	if v := q.Get("firstDataRequest"); v != "" {
		first, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid firstDataRequest parameter")
			return
		}
		period.FirstDataRequest = first
	}

	info, err := h.feed.Resolve(symbol)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	bars, meta, err := h.feed.History(r.Context(), info, resolution, period)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	if meta.NoData {
		respondJSON(w, http.StatusOK, UDFHistoryResponse{Status: "no_data"})
		return
	}

	resp := UDFHistoryResponse{
		Status: "ok",
		Time:   make([]int64, len(bars)),
		Open:   make([]float64, len(bars)),
		High:   make([]float64, len(bars)),
		Low:    make([]float64, len(bars)),
		Close:  make([]float64, len(bars)),
		Volume: make([]float64, len(bars)),
	}
	for i, b := range bars {
		resp.Time[i] = b.Time / 1000
		resp.Open[i] = b.Open
		resp.High[i] = b.High
		resp.Low[i] = b.Low
		resp.Close[i] = b.Close
		resp.Volume[i] = b.Volume
	}

	respondJSON(w, http.StatusOK, resp)
}

// FeedStats returns the 24h high, low and change of a symbol. The change is
// measured against the latest snapshot's price and is omitted until one is
// published.
func (h *Handler) FeedStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	symbol := q.Get("symbol")
	if symbol == "" {
		respondError(w, http.StatusBadRequest, "symbol parameter is required")
		return
	}
	resolution := q.Get("resolution")
	if resolution == "" {
		resolution = defaultStatsResolution
	}

	info, err := h.feed.Resolve(symbol)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	ticker, err := domain.ParseTicker(info.FullName)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	stats, err := h.feed.Stats24h(r.Context(), info, resolution, time.Now(), h.currentPrice(ticker.Base))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// currentPrice looks up the latest price of a chart base symbol
func (h *Handler) currentPrice(base string) fixedpoint.Value {
	snap, err := h.snapshots.Current()
	if err != nil {
		return fixedpoint.Unknown()
	}
	if h.indexAsset != "" && strings.EqualFold(base, h.indexAsset) {
		return snap.Metrics.IndexTokenPrice
	}
	for _, p := range snap.Prices {
		if strings.EqualFold(p.Asset, base) {
			return p.Canonical
		}
	}
	return fixedpoint.Unknown()
}
