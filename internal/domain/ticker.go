package domain

import (
	"fmt"
	"strings"
)

// Ticker is a chart symbol of the form "<exchange>:<base>/<quote>"
type Ticker struct {
	Exchange string `json:"exchange"`
	Market   string `json:"market"`
	Base     string `json:"base"`
	Quote    string `json:"quote"`
}

// ParseTicker splits a chart symbol into its parts. The market component and
// both sides of the pair are required.
func ParseTicker(symbol string) (Ticker, error) {
	symbol = strings.TrimSpace(symbol)

	exchange, market, ok := strings.Cut(symbol, ":")
	if !ok || market == "" {
		return Ticker{}, fmt.Errorf("%w: %q has no market", ErrMalformedSymbol, symbol)
	}

	base, quote, ok := strings.Cut(market, "/")
	if !ok || base == "" || quote == "" {
		return Ticker{}, fmt.Errorf("%w: %q is not a base/quote pair", ErrMalformedSymbol, market)
	}

	return Ticker{
		Exchange: exchange,
		Market:   market,
		Base:     base,
		Quote:    quote,
	}, nil
}

// String returns the full symbol
func (t Ticker) String() string {
	return t.Exchange + ":" + t.Market
}
