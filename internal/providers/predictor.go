package providers

import (
	"context"
	"fmt"
	"math"
	"sync"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
)

// MomentumPredictor is the baseline ports.Predictor: it scores the
// latest technical feature against the return distribution observed
// during warm-up. Fit is cheap and runs once per process.
type MomentumPredictor struct {
	mu         sync.Mutex
	ready      bool
	meanReturn float64
	stdReturn  float64
}

// NewMomentumPredictor creates an unfitted predictor.
func NewMomentumPredictor() *MomentumPredictor {
	return &MomentumPredictor{}
}

var _ ports.Predictor = (*MomentumPredictor)(nil)

// Fit estimates the return distribution from historical candles.
func (p *MomentumPredictor) Fit(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) < 2 {
		return fmt.Errorf("need at least 2 candles to fit: %w", ports.ErrInsufficientData)
	}

	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		if candles[i-1].Close <= 0 || candles[i].Close <= 0 {
			continue
		}
		returns = append(returns, math.Log(candles[i].Close/candles[i-1].Close))
	}
	if len(returns) < 2 {
		return fmt.Errorf("not enough valid closes to fit: %w", ports.ErrInsufficientData)
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	p.mu.Lock()
	p.meanReturn = mean
	p.stdReturn = stddev(returns)
	p.ready = true
	p.mu.Unlock()
	return nil
}

// Ready reports whether Fit has completed.
func (p *MomentumPredictor) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Predict maps the recent return momentum to a directional score with a
// confidence derived from how far it sits from the fitted mean.
func (p *MomentumPredictor) Predict(ctx context.Context, features *domain.FeatureSet) (*domain.Prediction, error) {
	p.mu.Lock()
	ready, mean, std := p.ready, p.meanReturn, p.stdReturn
	p.mu.Unlock()

	if !ready {
		return nil, fmt.Errorf("predictor has not been fitted: %w", ports.ErrNotReady)
	}
	if len(features.LogReturns) == 0 {
		return nil, fmt.Errorf("feature set has no returns: %w", ports.ErrInsufficientData)
	}

	// Recent momentum: mean of the last few returns.
	window := 5
	if len(features.LogReturns) < window {
		window = len(features.LogReturns)
	}
	var recent float64
	for _, r := range features.LogReturns[len(features.LogReturns)-window:] {
		recent += r
	}
	recent /= float64(window)

	var z float64
	if std > 0 {
		z = (recent - mean) / std
	}

	// Score is the squashed z-score; confidence grows with |z| but
	// saturates well below certainty.
	score := math.Tanh(z)
	confidence := clamp(0.5+0.4*math.Abs(score), 0, 0.95)

	return &domain.Prediction{Score: score, Confidence: confidence}, nil
}
