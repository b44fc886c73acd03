package domain

import "time"

// Candle represents a single OHLCV bar for a symbol and timeframe.
type Candle struct {
	Time      time.Time
	Symbol    string
	Timeframe string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
