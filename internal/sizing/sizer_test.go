package sizing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quantbot/internal/domain"
)

func makeSignal(strength, confidence float64) *domain.Signal {
	return &domain.Signal{
		Time:       time.Now().UTC(),
		Symbol:     "BTCUSDT",
		Direction:  domain.Long,
		Strength:   strength,
		Confidence: confidence,
		Regime:     domain.RegimeTrending,
	}
}

func makePortfolio(equity float64) *domain.PortfolioSnapshot {
	return &domain.PortfolioSnapshot{
		Time:   time.Now().UTC(),
		Equity: equity,
		Cash:   equity,
	}
}

func TestComputeSize_DegenerateInputsReturnZero(t *testing.T) {
	s := New(Config{VolTarget: 0.15, MaxPositionPct: 0.25})
	sig := makeSignal(1.0, 1.0)

	tests := []struct {
		name   string
		equity float64
		price  float64
		vol    float64
	}{
		{"zero vol", 100_000, 50_000, 0},
		{"negative vol", 100_000, 50_000, -0.1},
		{"zero price", 100_000, 0, 0.5},
		{"zero equity", 0, 50_000, 0.5},
		{"negative equity", -100, 50_000, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Zero(t, s.ComputeSize(sig, makePortfolio(tt.equity), tt.price, tt.vol))
		})
	}
}

func TestComputeSize_CappedAtMaxPositionPct(t *testing.T) {
	s := New(Config{VolTarget: 0.15, MaxPositionPct: 0.25})

	// vol_target/realized_vol = 15.0, far above the cap
	qty := s.ComputeSize(makeSignal(1.0, 1.0), makePortfolio(100_000), 50_000, 0.01)

	// capped fraction 0.25 * 100000 / 50000 = 0.5
	assert.InDelta(t, 0.5, qty, 1e-9)
}

func TestComputeSize_NonIncreasingInRealizedVol(t *testing.T) {
	s := New(Config{VolTarget: 0.15, MaxPositionPct: 0.25})
	sig := makeSignal(0.5, 0.8)
	pf := makePortfolio(100_000)

	prev := s.ComputeSize(sig, pf, 50_000, 0.10)
	for _, vol := range []float64{0.2, 0.4, 0.8, 1.6} {
		qty := s.ComputeSize(sig, pf, 50_000, vol)
		assert.LessOrEqual(t, qty, prev, "vol=%f", vol)
		prev = qty
	}
}

func TestComputeSize_NonDecreasingInConfidenceAndStrength(t *testing.T) {
	s := New(Config{VolTarget: 0.15, MaxPositionPct: 0.25})
	pf := makePortfolio(100_000)

	prev := 0.0
	for _, conf := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		qty := s.ComputeSize(makeSignal(0.4, conf), pf, 50_000, 0.5)
		assert.GreaterOrEqual(t, qty, prev, "confidence=%f", conf)
		prev = qty
	}

	prev = 0.0
	for _, strength := range []float64{-0.1, 0.2, -0.4, 0.6, -0.9} {
		// |strength| increases through the sequence
		qty := s.ComputeSize(makeSignal(strength, 0.8), pf, 50_000, 0.5)
		assert.GreaterOrEqual(t, qty, prev, "strength=%f", strength)
		prev = qty
	}
}

func TestComputeSize_NeverExceedsCapBound(t *testing.T) {
	s := New(Config{VolTarget: 0.15, MaxPositionPct: 0.25})
	pf := makePortfolio(100_000)
	bound := 0.25 * 100_000 / 50_000.0

	for _, vol := range []float64{0.001, 0.01, 0.1, 1.0} {
		for _, strength := range []float64{0.1, 0.5, 1.0} {
			qty := s.ComputeSize(makeSignal(strength, 1.0), pf, 50_000, vol)
			assert.LessOrEqual(t, qty, bound)
		}
	}
}
