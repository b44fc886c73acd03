package risk

import "sync"

// DrawdownMonitor tracks running peak-to-trough drawdown. Peak equity
// is monotone non-decreasing; the current drawdown stays within [0, 1].
//
// SeedPeak exists so the peak survives process restarts: at startup the
// orchestrator seeds it from the historical maximum of persisted equity.
type DrawdownMonitor struct {
	mu              sync.Mutex
	peakEquity      float64
	currentDrawdown float64
}

// NewDrawdownMonitor creates a monitor with a zero peak.
func NewDrawdownMonitor() *DrawdownMonitor {
	return &DrawdownMonitor{}
}

// SeedPeak raises the peak to at least equity. Seeding never lowers
// the peak.
func (m *DrawdownMonitor) SeedPeak(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
}

// Update records a new equity observation and returns the current
// drawdown as a positive fraction (0.10 = 10% below peak).
func (m *DrawdownMonitor) Update(equity float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.peakEquity > 0 {
		dd := (m.peakEquity - equity) / m.peakEquity
		if dd < 0 {
			dd = 0
		}
		m.currentDrawdown = dd
	} else {
		m.currentDrawdown = 0
	}
	return m.currentDrawdown
}

// CurrentDrawdown returns the last computed drawdown fraction.
func (m *DrawdownMonitor) CurrentDrawdown() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentDrawdown
}

// PeakEquity returns the running peak.
func (m *DrawdownMonitor) PeakEquity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakEquity
}
