package domain

import "time"

// Signal is the combined trading signal produced by fusion, one per
// symbol per pipeline run. Immutable after creation; persisted as an
// audit record.
type Signal struct {
	Time       time.Time
	Symbol     string
	Direction  Direction
	Strength   float64 // [-1, 1]
	Confidence float64 // [0, 1]
	Regime     Regime
	Components map[string]float64 // component name -> raw score
}

// Prediction is the output of the predictive model for the latest bar.
type Prediction struct {
	Score      float64 // [-1, 1]; mapped from the model's class label
	Confidence float64 // [0, 1]
}

// FeatureSet carries the computed feature values the pipeline consumes.
// Feature computation itself lives behind ports.FeatureSource.
type FeatureSet struct {
	TechnicalScore float64   // composite technical component in [-1, 1]
	RealizedVol    float64   // annualized realized volatility of the latest bar
	LogReturns     []float64 // return series for regime detection
	RealizedVols   []float64 // vol series for regime detection, same length
	Values         []float64 // normalized feature vector for the predictor
	DataTimestamp  time.Time // timestamp of the most recent underlying bar
}
