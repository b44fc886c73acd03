// Package sizing converts a fused signal into a target quantity using
// volatility targeting: position risk is scaled toward a configured
// target volatility and capped at a maximum fraction of equity.
package sizing

import (
	"math"

	"quantbot/internal/domain"
)

// Config holds the sizing parameters.
type Config struct {
	// VolTarget is the annualized volatility the position should
	// contribute (e.g. 0.15).
	VolTarget float64
	// MaxPositionPct caps the sized fraction of equity (e.g. 0.25).
	MaxPositionPct float64
}

// VolTargetSizer computes position sizes. Pure function of its inputs
// and configuration.
type VolTargetSizer struct {
	cfg Config
}

// New creates a VolTargetSizer.
func New(cfg Config) *VolTargetSizer {
	return &VolTargetSizer{cfg: cfg}
}

// ComputeSize returns the target quantity in base units (>= 0).
//
// Degenerate inputs (non-positive volatility, price, or equity) yield
// zero rather than an error: they describe an unready state, not a
// failure.
func (s *VolTargetSizer) ComputeSize(sig *domain.Signal, portfolio *domain.PortfolioSnapshot, price, realizedVol float64) float64 {
	if realizedVol <= 0 || price <= 0 || portfolio.Equity <= 0 {
		return 0
	}

	rawPct := (s.cfg.VolTarget / realizedVol) * math.Abs(sig.Strength)
	sizedPct := rawPct * sig.Confidence
	cappedPct := math.Min(sizedPct, s.cfg.MaxPositionPct)

	return cappedPct * portfolio.Equity / price
}
