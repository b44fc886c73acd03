// Package fusion combines per-component signal scores into a single
// trading signal using regime-gated weights. Choppy markets are
// deliberately given less conviction via a configurable attenuation.
package fusion

import (
	"fmt"
	"time"

	"quantbot/internal/domain"
)

// Component score keys recognized by the combiner. Missing keys are
// treated as zero.
const (
	ComponentTechnical = "technical"
	ComponentML        = "ml"
	ComponentSentiment = "sentiment"
)

// Weights is the per-regime weight triple.
type Weights struct {
	Technical float64
	ML        float64
	Sentiment float64
}

// Config holds the fusion parameters.
type Config struct {
	// RegimeWeights maps each regime to its weight triple. The choppy
	// entry doubles as the fallback for any regime without one.
	RegimeWeights map[domain.Regime]Weights
	// ChoppyScale attenuates raw strength under the choppy regime (< 1).
	ChoppyScale float64
	// DirectionThreshold classifies strength into long/short/flat
	// symmetrically around zero.
	DirectionThreshold float64
}

// Combiner fuses component scores into a Signal. It is a pure function
// of its inputs and configuration: no side effects, deterministic.
type Combiner struct {
	cfg Config
}

// New creates a Combiner. The weight map must carry a choppy entry.
func New(cfg Config) (*Combiner, error) {
	if _, ok := cfg.RegimeWeights[domain.RegimeChoppy]; !ok {
		return nil, fmt.Errorf("fusion weights must include a choppy entry")
	}
	if cfg.ChoppyScale <= 0 || cfg.ChoppyScale >= 1 {
		return nil, fmt.Errorf("choppy scale must be between 0 and 1 (exclusive), got %f", cfg.ChoppyScale)
	}
	if cfg.DirectionThreshold < 0 || cfg.DirectionThreshold >= 1 {
		return nil, fmt.Errorf("direction threshold must be in [0, 1), got %f", cfg.DirectionThreshold)
	}
	return &Combiner{cfg: cfg}, nil
}

// Combine fuses component scores for a symbol under the given regime
// and model confidence, producing the run's Signal.
func (c *Combiner) Combine(now time.Time, symbol string, components map[string]float64, regime domain.Regime, confidence float64) *domain.Signal {
	weights, ok := c.cfg.RegimeWeights[regime]
	if !ok {
		// Config validation keeps the map total; unknown regimes still
		// resolve to the most conservative triple.
		weights = c.cfg.RegimeWeights[domain.RegimeChoppy]
	}

	raw := weights.Technical*components[ComponentTechnical] +
		weights.ML*components[ComponentML] +
		weights.Sentiment*components[ComponentSentiment]

	if regime == domain.RegimeChoppy {
		raw *= c.cfg.ChoppyScale
	}

	strength := clamp(raw*confidence, -1.0, 1.0)

	direction := domain.Flat
	switch {
	case strength > c.cfg.DirectionThreshold:
		direction = domain.Long
	case strength < -c.cfg.DirectionThreshold:
		direction = domain.Short
	}

	return &domain.Signal{
		Time:       now,
		Symbol:     symbol,
		Direction:  direction,
		Strength:   strength,
		Confidence: confidence,
		Regime:     regime,
		Components: components,
	}
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
