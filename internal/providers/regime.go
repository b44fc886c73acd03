package providers

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
)

// ThresholdRegimeDetector is the baseline ports.RegimeDetector. Fit
// learns a volatility threshold from the warm-up series; detection
// classifies high-vol windows as choppy and splits the rest into
// trending or mean-reverting by trend persistence.
type ThresholdRegimeDetector struct {
	mu           sync.Mutex
	ready        bool
	volThreshold float64
}

// NewThresholdRegimeDetector creates an unfitted detector.
func NewThresholdRegimeDetector() *ThresholdRegimeDetector {
	return &ThresholdRegimeDetector{}
}

var _ ports.RegimeDetector = (*ThresholdRegimeDetector)(nil)

// Fit sets the choppy threshold at the 75th percentile of observed vol.
func (d *ThresholdRegimeDetector) Fit(ctx context.Context, returns, vols []float64) error {
	if len(vols) < 4 {
		return fmt.Errorf("need at least 4 vol observations to fit: %w", ports.ErrInsufficientData)
	}

	sorted := make([]float64, len(vols))
	copy(sorted, vols)
	sort.Float64s(sorted)
	threshold := sorted[(len(sorted)*3)/4]

	d.mu.Lock()
	d.volThreshold = threshold
	d.ready = true
	d.mu.Unlock()
	return nil
}

// Ready reports whether Fit has completed.
func (d *ThresholdRegimeDetector) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// PredictCurrent classifies the most recent window.
func (d *ThresholdRegimeDetector) PredictCurrent(ctx context.Context, returns, vols []float64) (domain.Regime, error) {
	d.mu.Lock()
	ready, threshold := d.ready, d.volThreshold
	d.mu.Unlock()

	if !ready {
		return "", fmt.Errorf("regime detector has not been fitted: %w", ports.ErrNotReady)
	}
	if len(returns) == 0 || len(vols) == 0 {
		return "", fmt.Errorf("empty series: %w", ports.ErrInsufficientData)
	}

	if vols[len(vols)-1] > threshold {
		return domain.RegimeChoppy, nil
	}

	// Trend persistence: |mean| relative to dispersion over the recent
	// window separates directional from oscillating markets.
	window := 20
	if len(returns) < window {
		window = len(returns)
	}
	recent := returns[len(returns)-window:]

	var mean float64
	for _, r := range recent {
		mean += r
	}
	mean /= float64(window)

	sd := stddev(recent)
	if sd == 0 {
		return domain.RegimeMeanReverting, nil
	}
	if math.Abs(mean)/sd > 0.25 {
		return domain.RegimeTrending, nil
	}
	return domain.RegimeMeanReverting, nil
}
