package ports

import (
	"context"
	"time"

	"quantbot/internal/domain"
)

// Predictor wraps a previously-fitted predictive model. Fitting is a
// one-time-per-process warm-up; training procedure internals are out
// of the core's scope.
type Predictor interface {
	// Fit warms the model from historical candles. Called once per
	// process when Ready reports false.
	Fit(ctx context.Context, candles []*domain.Candle) error
	// Ready reports whether the model can serve predictions.
	Ready() bool
	// Predict returns the model's score and confidence for the given
	// feature vector.
	Predict(ctx context.Context, features *domain.FeatureSet) (*domain.Prediction, error)
}

// RegimeDetector classifies the current market regime from return and
// volatility series.
type RegimeDetector interface {
	Fit(ctx context.Context, returns, vols []float64) error
	Ready() bool
	PredictCurrent(ctx context.Context, returns, vols []float64) (domain.Regime, error)
}

// FeatureSource computes the feature set for a candle window.
// Indicator math is deliberately outside the decision core.
type FeatureSource interface {
	Compute(ctx context.Context, candles []*domain.Candle) (*domain.FeatureSet, error)
}

// SentimentSource scores current sentiment for a symbol in [-1, 1].
type SentimentSource interface {
	Score(ctx context.Context, symbol string) (float64, error)
	// PruneBefore drops events older than cutoff and returns how many
	// were removed. Driven by the low-priority cleanup task.
	PruneBefore(cutoff time.Time) int
}
