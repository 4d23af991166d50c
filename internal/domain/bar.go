package domain

import "fmt"

// Bar is one OHLCV point of a chart series. Prices are presentational and
// carried as float64; accounting figures never are.
type Bar struct {
	Time   int64   `json:"time"` // unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// ValidateBars checks that the series is strictly increasing by time
func ValidateBars(bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].Time <= bars[i-1].Time {
			return fmt.Errorf("%w: bar %d at %d follows %d", ErrInvalidSeries, i, bars[i].Time, bars[i-1].Time)
		}
	}
	return nil
}
