// Package portfolio wraps the persisted snapshot store behind the
// semantics the pipeline needs: the latest snapshot is the single
// authoritative portfolio state, synthesized from configured initial
// equity until one has been written.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"time"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
)

// Store reads and writes the authoritative portfolio snapshot.
type Store struct {
	repo          ports.PortfolioRepository
	initialEquity float64
	clock         func() time.Time
}

// NewStore creates a Store over a snapshot repository.
func NewStore(repo ports.PortfolioRepository, initialEquity float64) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("portfolio repository is required")
	}
	if initialEquity <= 0 {
		return nil, fmt.Errorf("initial equity must be positive")
	}
	return &Store{
		repo:          repo,
		initialEquity: initialEquity,
		clock:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// GetSnapshot returns the latest persisted snapshot, or a synthesized
// default with the configured initial equity when none exists yet.
func (s *Store) GetSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	snap, err := s.repo.LatestSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	if snap == nil {
		return &domain.PortfolioSnapshot{
			Time:   s.clock(),
			Equity: s.initialEquity,
			Cash:   s.initialEquity,
		}, nil
	}
	return snap, nil
}

// SaveSnapshot persists a snapshot, upserting on its timestamp.
func (s *Store) SaveSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) error {
	if err := s.repo.UpsertSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// EnsureInitialSnapshot writes the synthesized default snapshot when
// none has been persisted yet, so downstream readers always find one.
// Returns the current snapshot and whether it was just created.
func (s *Store) EnsureInitialSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, bool, error) {
	snap, err := s.repo.LatestSnapshot(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	if snap != nil {
		return snap, false, nil
	}
	snap = &domain.PortfolioSnapshot{
		Time:   s.clock(),
		Equity: s.initialEquity,
		Cash:   s.initialEquity,
	}
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// HistoricalPeakEquity returns the maximum persisted equity, or the
// initial equity when no history exists. Used to seed the drawdown
// monitor at startup.
func (s *Store) HistoricalPeakEquity(ctx context.Context) (float64, error) {
	max, found, err := s.repo.MaxEquity(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query historical max equity: %w", err)
	}
	if !found {
		return s.initialEquity, nil
	}
	return max, nil
}

// RealizedVol estimates annualized portfolio volatility from the
// equity curve over up to lookback snapshots. Returns 0 when there is
// not enough history.
func (s *Store) RealizedVol(ctx context.Context, lookback, barsPerYear int) (float64, error) {
	equities, err := s.repo.EquityHistory(ctx, lookback)
	if err != nil {
		return 0, fmt.Errorf("failed to load equity history: %w", err)
	}
	if len(equities) < 5 {
		return 0, nil
	}

	logReturns := make([]float64, 0, len(equities)-1)
	for i := 1; i < len(equities); i++ {
		prev := math.Max(equities[i-1], 1e-10)
		curr := math.Max(equities[i], 1e-10)
		logReturns = append(logReturns, math.Log(curr/prev))
	}

	mean := 0.0
	for _, r := range logReturns {
		mean += r
	}
	mean /= float64(len(logReturns))

	variance := 0.0
	for _, r := range logReturns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(logReturns))

	return math.Sqrt(variance) * math.Sqrt(float64(barsPerYear)), nil
}
