// Package feed implements the data-feed protocol a charting widget drives
// through callbacks
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
)

const (
	fiatPriceScale   = 100
	cryptoPriceScale = 100000
)

// SupportedResolutions are the bar resolutions served: 5m, 15m, 1h, 4h, 1d
var SupportedResolutions = []string{"5", "15", "60", "240", "1D"}

var fiatQuotes = []string{"USD", "EUR", "JPY", "AUD", "GBP", "KRW", "CNY"}

// Configuration is the capability descriptor returned by OnReady
type Configuration struct {
	SupportedResolutions   []string `json:"supported_resolutions"`
	SupportsSearch         bool     `json:"supports_search"`
	SupportsGroupRequest   bool     `json:"supports_group_request"`
	SupportsMarks          bool     `json:"supports_marks"`
	SupportsTimescaleMarks bool     `json:"supports_timescale_marks"`
	SupportsTime           bool     `json:"supports_time"`
}

// SymbolInfo describes a resolved symbol
type SymbolInfo struct {
	Name                 string   `json:"name"`
	FullName             string   `json:"full_name"`
	Description          string   `json:"description"`
	Type                 string   `json:"type"`
	Session              string   `json:"session"`
	Timezone             string   `json:"timezone"`
	Format               string   `json:"format"`
	Ticker               string   `json:"ticker"`
	Exchange             string   `json:"exchange"`
	ListedExchange       string   `json:"listed_exchange"`
	MinMov               int      `json:"minmov"`
	MinMov2              int      `json:"minmov2"`
	PriceScale           int      `json:"pricescale"`
	HasIntraday          bool     `json:"has_intraday"`
	SupportedResolutions []string `json:"supported_resolutions"`
}

// PeriodParams is the range a widget asks bars for
type PeriodParams struct {
	From             int64
	To               int64
	CountBack        int
	FirstDataRequest bool
}

// Bar is one bar in the widget's units; Time is in milliseconds
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// HistoryMeta accompanies a bars result
type HistoryMeta struct {
	NoData bool `json:"noData"`
}

// Callbacks of the widget protocol
type (
	ReadyCallback      func(Configuration)
	SearchCallback     func([]SymbolInfo)
	ResolveCallback    func(SymbolInfo)
	HistoryCallback    func([]Bar, HistoryMeta)
	ErrorCallback      func(reason string)
	RealtimeCallback   func(Bar)
	ResetCacheCallback func()
)

// Datafeed is the protocol surface the charting widget calls. Every callback
// is invoked on a later scheduler turn, never from inside the call itself.
type Datafeed interface {
	// OnReady delivers the capability descriptor
	OnReady(cb ReadyCallback)

	// SearchSymbols is accepted and ignored
	SearchSymbols(userInput, exchange, symbolType string, cb SearchCallback)

	// ResolveSymbol resolves "<exchange>:<base>/<quote>". Only a malformed
	// symbol reaches onError.
	ResolveSymbol(symbolName string, onResolved ResolveCallback, onError ErrorCallback)

	// GetBars serves the single loaded window on the first request and
	// reports noData for every earlier page
	GetBars(ctx context.Context, info SymbolInfo, resolution string, period PeriodParams, onResult HistoryCallback, onError ErrorCallback)

	// SubscribeBars registers a realtime callback under subscriberID
	SubscribeBars(info SymbolInfo, resolution string, onTick RealtimeCallback, subscriberID string, onReset ResetCacheCallback)

	// UnsubscribeBars removes a subscription. Unknown ids are ignored.
	UnsubscribeBars(subscriberID string)
}

type subscription struct {
	symbol     string
	resolution string
	onTick     RealtimeCallback
	onReset    ResetCacheCallback
}

// Adapter implements Datafeed over the history service
type Adapter struct {
	scheduler Scheduler
	history   ports.HistoryService
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

// NewAdapter creates a new data-feed adapter
func NewAdapter(scheduler Scheduler, history ports.HistoryService, logger *slog.Logger) *Adapter {
	return &Adapter{
		scheduler: scheduler,
		history:   history,
		logger:    logger.With("component", "datafeed"),
		subs:      make(map[string]subscription),
	}
}

// Configuration returns the static capability descriptor
func (a *Adapter) Configuration() Configuration {
	return Configuration{
		SupportedResolutions: slices.Clone(SupportedResolutions),
	}
}

// Resolve builds the descriptor for a symbol
func (a *Adapter) Resolve(symbolName string) (SymbolInfo, error) {
	ticker, err := domain.ParseTicker(symbolName)
	if err != nil {
		return SymbolInfo{}, err
	}

	return SymbolInfo{
		Name:                 ticker.Market,
		FullName:             ticker.String(),
		Description:          ticker.Market,
		Type:                 "crypto",
		Session:              "24x7",
		Timezone:             "Etc/UTC",
		Format:               "price",
		Ticker:               ticker.Market,
		MinMov:               1,
		PriceScale:           PriceScale(ticker.Quote),
		HasIntraday:          true,
		SupportedResolutions: slices.Clone(SupportedResolutions),
	}, nil
}

// History returns the bars for one request and whether the widget should be
// told there is no data. Backfill requests always get no data, whatever
// they ask for.
func (a *Adapter) History(ctx context.Context, info SymbolInfo, resolution string, period PeriodParams) ([]Bar, HistoryMeta, error) {
	if !period.FirstDataRequest {
		return []Bar{}, HistoryMeta{NoData: true}, nil
	}

	ticker, err := domain.ParseTicker(info.FullName)
	if err != nil {
		return nil, HistoryMeta{}, err
	}
	if !IsSupportedResolution(resolution) {
		return nil, HistoryMeta{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedResolution, resolution)
	}

	series, err := a.history.Series(ctx, ticker, resolution)
	if err != nil {
		a.logger.Warn("series unavailable",
			"symbol", info.FullName,
			"resolution", resolution,
			"error", err,
		)
		return []Bar{}, HistoryMeta{NoData: true}, nil
	}
	if len(series) == 0 {
		return []Bar{}, HistoryMeta{NoData: true}, nil
	}

	bars := make([]Bar, len(series))
	for i, b := range series {
		bars[i] = Bar{
			Time:   b.Time * 1000,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	return bars, HistoryMeta{NoData: false}, nil
}

// OnReady implements Datafeed
func (a *Adapter) OnReady(cb ReadyCallback) {
	cfg := a.Configuration()
	a.scheduler.Defer(func() { cb(cfg) })
}

// SearchSymbols implements Datafeed. Search is not offered.
func (a *Adapter) SearchSymbols(userInput, exchange, symbolType string, cb SearchCallback) {}

// ResolveSymbol implements Datafeed
func (a *Adapter) ResolveSymbol(symbolName string, onResolved ResolveCallback, onError ErrorCallback) {
	info, err := a.Resolve(symbolName)
	if err != nil {
		a.logger.Debug("cannot resolve symbol", "symbol", symbolName, "error", err)
		a.scheduler.Defer(func() { onError(err.Error()) })
		return
	}
	a.scheduler.Defer(func() { onResolved(info) })
}

// GetBars implements Datafeed. The series is read off the caller's
// goroutine and the result handed back through the scheduler.
func (a *Adapter) GetBars(ctx context.Context, info SymbolInfo, resolution string, period PeriodParams, onResult HistoryCallback, onError ErrorCallback) {
	go func() {
		bars, meta, err := a.History(ctx, info, resolution, period)
		if err != nil {
			a.scheduler.Defer(func() { onError(err.Error()) })
			return
		}
		a.scheduler.Defer(func() { onResult(bars, meta) })
	}()
}

// SubscribeBars implements Datafeed. No realtime source is wired, so the
// callbacks are stored but never invoked.
func (a *Adapter) SubscribeBars(info SymbolInfo, resolution string, onTick RealtimeCallback, subscriberID string, onReset ResetCacheCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.subs[subscriberID]; ok {
		a.logger.Debug("replacing subscription", "subscriber", subscriberID)
	}
	a.subs[subscriberID] = subscription{
		symbol:     info.FullName,
		resolution: resolution,
		onTick:     onTick,
		onReset:    onReset,
	}
}

// UnsubscribeBars implements Datafeed
func (a *Adapter) UnsubscribeBars(subscriberID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.subs, subscriberID)
}

// Subscriptions returns the number of registered subscribers
func (a *Adapter) Subscriptions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// PriceScale returns 100 for quotes in a fiat-like currency and 100000
// for everything else
func PriceScale(quote string) int {
	quote = strings.ToUpper(quote)
	for _, fiat := range fiatQuotes {
		if strings.Contains(quote, fiat) {
			return fiatPriceScale
		}
	}
	return cryptoPriceScale
}

// IsSupportedResolution reports whether bars are served at resolution
func IsSupportedResolution(resolution string) bool {
	return slices.Contains(SupportedResolutions, resolution)
}

// IsMalformed reports whether err is a request error the widget should see
func IsMalformed(err error) bool {
	return errors.Is(err, domain.ErrMalformedSymbol) || errors.Is(err, domain.ErrUnsupportedResolution)
}

// Ensure Adapter implements Datafeed
var _ Datafeed = (*Adapter)(nil)
