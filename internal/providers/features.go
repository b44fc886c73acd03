// Package providers holds the baseline implementations of the model
// and data ports. They are intentionally simple statistical models;
// deployments with real model backends inject their own.
package providers

import (
	"context"
	"fmt"
	"math"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
)

// FeatureConfig tunes the baseline feature computation.
type FeatureConfig struct {
	ShortPeriod int // fast EMA period
	LongPeriod  int // slow EMA period
	RSIPeriod   int
	VolWindow   int // rolling window for realized vol estimates
	BarsPerYear int // annualization factor for the candle timeframe
}

// BaselineFeatures computes the pipeline's feature set from raw
// candles: an EMA-crossover plus RSI technical score, log returns, and
// rolling annualized realized volatility.
type BaselineFeatures struct {
	cfg FeatureConfig
}

// NewBaselineFeatures creates a FeatureSource with validated periods.
func NewBaselineFeatures(cfg FeatureConfig) (*BaselineFeatures, error) {
	if cfg.ShortPeriod <= 0 || cfg.LongPeriod <= cfg.ShortPeriod {
		return nil, fmt.Errorf("feature periods must satisfy 0 < short < long")
	}
	if cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("RSI period must be positive")
	}
	if cfg.VolWindow <= 1 {
		return nil, fmt.Errorf("vol window must be greater than 1")
	}
	if cfg.BarsPerYear <= 0 {
		return nil, fmt.Errorf("bars per year must be positive")
	}
	return &BaselineFeatures{cfg: cfg}, nil
}

var _ ports.FeatureSource = (*BaselineFeatures)(nil)

// Compute derives the feature set for a candle window, oldest first.
func (f *BaselineFeatures) Compute(ctx context.Context, candles []*domain.Candle) (*domain.FeatureSet, error) {
	need := f.cfg.LongPeriod
	if f.cfg.RSIPeriod+1 > need {
		need = f.cfg.RSIPeriod + 1
	}
	if f.cfg.VolWindow+1 > need {
		need = f.cfg.VolWindow + 1
	}
	if len(candles) < need {
		return nil, fmt.Errorf("need at least %d candles, got %d: %w", need, len(candles), ports.ErrInsufficientData)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		if c.Close <= 0 {
			return nil, fmt.Errorf("non-positive close at index %d: %w", i, ports.ErrInsufficientData)
		}
		closes[i] = c.Close
	}

	logReturns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		logReturns[i-1] = math.Log(closes[i] / closes[i-1])
	}

	vols := rollingVols(logReturns, f.cfg.VolWindow, f.cfg.BarsPerYear)

	shortEMA := ema(closes, f.cfg.ShortPeriod)
	longEMA := ema(closes, f.cfg.LongPeriod)
	rsiVal := rsi(closes, f.cfg.RSIPeriod)

	// Crossover spread normalized by the slow EMA, squashed to [-1, 1].
	maScore := math.Tanh((shortEMA - longEMA) / longEMA * 20)
	// RSI 50 is neutral; 0/100 map to -1/+1.
	rsiScore := (rsiVal - 50) / 50

	technical := clamp(0.7*maScore+0.3*rsiScore, -1, 1)

	return &domain.FeatureSet{
		TechnicalScore: technical,
		RealizedVol:    vols[len(vols)-1],
		LogReturns:     logReturns,
		RealizedVols:   vols,
		Values:         []float64{technical, maScore, rsiScore, vols[len(vols)-1]},
		DataTimestamp:  candles[len(candles)-1].Time,
	}, nil
}

// ema computes the exponential moving average over the full series,
// seeded with the SMA of the first period values.
func ema(values []float64, period int) float64 {
	multiplier := 2.0 / float64(period+1)

	var sma float64
	for _, v := range values[:period] {
		sma += v
	}
	out := sma / float64(period)

	for _, v := range values[period:] {
		out = (v-out)*multiplier + out
	}
	return out
}

// rsi computes the Relative Strength Index using Wilder's smoothing.
func rsi(closes []float64, period int) float64 {
	changes := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		changes[i-1] = closes[i] - closes[i-1]
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*float64(period-1) + changes[i]) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - changes[i]) / float64(period)
		}
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return clamp(100-(100/(1+rs)), 0, 100)
}

// rollingVols returns the annualized rolling standard deviation of the
// return series, one value per return (the first window-1 entries
// repeat the first full-window estimate).
func rollingVols(returns []float64, window, barsPerYear int) []float64 {
	out := make([]float64, len(returns))
	annualize := math.Sqrt(float64(barsPerYear))

	for i := window - 1; i < len(returns); i++ {
		out[i] = stddev(returns[i-window+1:i+1]) * annualize
	}
	for i := 0; i < window-1 && i < len(out); i++ {
		out[i] = out[window-1]
	}
	return out
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
