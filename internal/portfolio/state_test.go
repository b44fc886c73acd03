package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot/internal/domain"
)

type mockRepo struct {
	latest    *domain.PortfolioSnapshot
	latestErr error
	saved     []*domain.PortfolioSnapshot
	maxEquity float64
	hasMax    bool
	history   []float64
}

func (m *mockRepo) LatestSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	return m.latest, m.latestErr
}

func (m *mockRepo) UpsertSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) error {
	m.saved = append(m.saved, snap)
	return nil
}

func (m *mockRepo) MaxEquity(ctx context.Context) (float64, bool, error) {
	return m.maxEquity, m.hasMax, nil
}

func (m *mockRepo) EquityHistory(ctx context.Context, limit int) ([]float64, error) {
	return m.history, nil
}

func TestGetSnapshot_SynthesizesDefaultWhenEmpty(t *testing.T) {
	store, err := NewStore(&mockRepo{}, 100_000)
	require.NoError(t, err)

	snap, err := store.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100_000.0, snap.Equity)
	assert.Equal(t, 100_000.0, snap.Cash)
	assert.Zero(t, snap.DrawdownPct)
	assert.False(t, snap.Time.IsZero())
}

func TestGetSnapshot_ReturnsLatest(t *testing.T) {
	existing := &domain.PortfolioSnapshot{
		Time:        time.Now().UTC(),
		Equity:      95_000,
		Cash:        40_000,
		DrawdownPct: 0.05,
	}
	store, err := NewStore(&mockRepo{latest: existing}, 100_000)
	require.NoError(t, err)

	snap, err := store.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, existing, snap)
}

func TestGetSnapshot_PropagatesRepoError(t *testing.T) {
	store, err := NewStore(&mockRepo{latestErr: errors.New("db down")}, 100_000)
	require.NoError(t, err)

	_, err = store.GetSnapshot(context.Background())
	assert.Error(t, err)
}

func TestEnsureInitialSnapshot(t *testing.T) {
	repo := &mockRepo{}
	store, err := NewStore(repo, 100_000)
	require.NoError(t, err)

	snap, created, err := store.EnsureInitialSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 100_000.0, snap.Equity)
	require.Len(t, repo.saved, 1)

	// With an existing snapshot nothing is written.
	existing := &domain.PortfolioSnapshot{Time: time.Now().UTC(), Equity: 95_000, Cash: 95_000}
	store2, err := NewStore(&mockRepo{latest: existing}, 100_000)
	require.NoError(t, err)
	snap, created, err = store2.EnsureInitialSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing, snap)
}

func TestHistoricalPeakEquity(t *testing.T) {
	store, err := NewStore(&mockRepo{maxEquity: 120_000, hasMax: true}, 100_000)
	require.NoError(t, err)

	peak, err := store.HistoricalPeakEquity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120_000.0, peak)

	// Falls back to initial equity with no history
	store2, err := NewStore(&mockRepo{}, 100_000)
	require.NoError(t, err)
	peak, err = store2.HistoricalPeakEquity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100_000.0, peak)
}

func TestRealizedVol_InsufficientHistoryIsZero(t *testing.T) {
	store, err := NewStore(&mockRepo{history: []float64{100, 101, 102}}, 100_000)
	require.NoError(t, err)

	vol, err := store.RealizedVol(context.Background(), 100, 2190)
	require.NoError(t, err)
	assert.Zero(t, vol)
}

func TestRealizedVol_FlatCurveIsZero(t *testing.T) {
	store, err := NewStore(&mockRepo{history: []float64{100, 100, 100, 100, 100, 100}}, 100_000)
	require.NoError(t, err)

	vol, err := store.RealizedVol(context.Background(), 100, 2190)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, vol, 1e-12)
}

func TestRealizedVol_PositiveForVaryingCurve(t *testing.T) {
	store, err := NewStore(&mockRepo{history: []float64{100, 102, 99, 104, 101, 103}}, 100_000)
	require.NoError(t, err)

	vol, err := store.RealizedVol(context.Background(), 100, 2190)
	require.NoError(t, err)
	assert.Greater(t, vol, 0.0)
}
