package providers

import (
	"context"
	"math"
	"sync"
	"time"

	"quantbot/internal/ports"
)

// SentimentEvent is one scored observation for a symbol.
type SentimentEvent struct {
	Time   time.Time
	Symbol string
	Score  float64 // [-1, 1]
}

// MemorySentiment is the baseline ports.SentimentSource: an in-memory
// event store scoring each symbol as the recency-weighted mean of its
// events. Without events a symbol scores neutral.
type MemorySentiment struct {
	mu       sync.Mutex
	events   []SentimentEvent
	halfLife time.Duration
	clock    func() time.Time
}

// NewMemorySentiment creates a store with the given decay half-life.
func NewMemorySentiment(halfLife time.Duration) *MemorySentiment {
	if halfLife <= 0 {
		halfLife = 24 * time.Hour
	}
	return &MemorySentiment{
		halfLife: halfLife,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

var _ ports.SentimentSource = (*MemorySentiment)(nil)

// Record appends an event. Scores outside [-1, 1] are clamped.
func (m *MemorySentiment) Record(event SentimentEvent) {
	event.Score = clamp(event.Score, -1, 1)
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

// Score returns the decayed average sentiment for a symbol, 0 when no
// events exist.
func (m *MemorySentiment) Score(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	var weighted, totalWeight float64
	for _, ev := range m.events {
		if ev.Symbol != symbol {
			continue
		}
		age := now.Sub(ev.Time)
		weight := math.Exp2(-age.Hours() / m.halfLife.Hours())
		weighted += ev.Score * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0, nil
	}
	return clamp(weighted/totalWeight, -1, 1), nil
}

// PruneBefore drops events older than cutoff and returns how many were
// removed.
func (m *MemorySentiment) PruneBefore(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[:0]
	removed := 0
	for _, ev := range m.events {
		if ev.Time.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return removed
}
