package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrawdownMonitor_PeakIsMonotone(t *testing.T) {
	m := NewDrawdownMonitor()

	equities := []float64{100_000, 110_000, 95_000, 120_000, 80_000, 119_000}
	prevPeak := 0.0
	for _, e := range equities {
		m.Update(e)
		assert.GreaterOrEqual(t, m.PeakEquity(), prevPeak)
		prevPeak = m.PeakEquity()
	}
	assert.Equal(t, 120_000.0, m.PeakEquity())
}

func TestDrawdownMonitor_DrawdownStaysInRange(t *testing.T) {
	m := NewDrawdownMonitor()

	for _, e := range []float64{100_000, 50_000, 200_000, 1, 300_000} {
		dd := m.Update(e)
		assert.GreaterOrEqual(t, dd, 0.0)
		assert.LessOrEqual(t, dd, 1.0)
	}
}

func TestDrawdownMonitor_ComputesFractionFromPeak(t *testing.T) {
	m := NewDrawdownMonitor()

	assert.Zero(t, m.Update(100_000))
	assert.InDelta(t, 0.10, m.Update(90_000), 1e-9)
	assert.InDelta(t, 0.25, m.Update(75_000), 1e-9)
	// New peak resets drawdown to zero
	assert.Zero(t, m.Update(150_000))
}

func TestDrawdownMonitor_ZeroPeakYieldsZeroDrawdown(t *testing.T) {
	m := NewDrawdownMonitor()
	assert.Zero(t, m.Update(0))
	assert.Zero(t, m.CurrentDrawdown())
}

func TestDrawdownMonitor_SeedPeak(t *testing.T) {
	m := NewDrawdownMonitor()
	m.SeedPeak(120_000)

	// Seeding below the current peak is a no-op
	m.SeedPeak(50_000)
	assert.Equal(t, 120_000.0, m.PeakEquity())

	// First update after a restart sees the historical peak
	dd := m.Update(102_000)
	assert.InDelta(t, 0.15, dd, 1e-9)
}
