package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quantbot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "quantbot-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func TestRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: "ignored.db"})
	assert.Error(t, err)
}

func TestRepository_InsertSignal(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sig := &domain.Signal{
		Time:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Symbol:     "BTCUSDT",
		Direction:  domain.Long,
		Strength:   0.64,
		Confidence: 0.8,
		Regime:     domain.RegimeTrending,
		Components: map[string]float64{"technical": 0.8, "ml": 0.6, "sentiment": 0.2},
	}
	require.NoError(t, repo.InsertSignal(ctx, sig))
	// Append-only: a second insert of the same signal makes two rows.
	require.NoError(t, repo.InsertSignal(ctx, sig))

	var count int
	err := repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals WHERE symbol = ?`, "BTCUSDT").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRepository_UpsertOrderIdempotent(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := &domain.Order{
		ID:        "ord_abc123def456",
		Time:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Symbol:    "BTCUSDT",
		Exchange:  "paper",
		Side:      domain.Buy,
		OrderType: domain.Market,
		Quantity:  0.5,
		Price:     50000,
		Status:    domain.StatusPending,
	}
	require.NoError(t, repo.UpsertOrder(ctx, order))

	// Replay with updated fill state must update in place, not duplicate.
	order.Status = domain.StatusFilled
	order.FilledQty = 0.5
	order.AvgFillPrice = 50025
	order.Fees = 25.0125
	require.NoError(t, repo.UpsertOrder(ctx, order))

	var count int
	require.NoError(t, repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count))
	assert.Equal(t, 1, count)

	var status string
	var avgFill float64
	require.NoError(t, repo.db.QueryRowContext(ctx,
		`SELECT status, avg_fill_price FROM orders WHERE id = ?`, order.ID).Scan(&status, &avgFill))
	assert.Equal(t, string(domain.StatusFilled), status)
	assert.InDelta(t, 50025, avgFill, 1e-9)
}

func TestRepository_PositionRoundTrip(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	found, err := repo.FindPosition(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, found, "missing position should be nil, nil")

	pos := &domain.Position{
		Symbol:        "ETHUSDT",
		Exchange:      "paper",
		Side:          domain.Long,
		Quantity:      2.5,
		AvgEntryPrice: 3000,
		UpdatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.UpsertPosition(ctx, pos))

	pos.Quantity = 3.0
	pos.RealizedPnL = 120.5
	require.NoError(t, repo.UpsertPosition(ctx, pos))

	found, err = repo.FindPosition(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.InDelta(t, 3.0, found.Quantity, 1e-9)
	assert.InDelta(t, 120.5, found.RealizedPnL, 1e-9)
	assert.InDelta(t, 3000, found.AvgEntryPrice, 1e-9)
}

func TestRepository_SnapshotsAndMaxEquity(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	latest, err := repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "empty table should return nil, nil")

	_, found, err := repo.MaxEquity(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	equities := []float64{100000, 105000, 98000}
	for i, e := range equities {
		snap := &domain.PortfolioSnapshot{
			Time:   base.Add(time.Duration(i) * time.Hour),
			Equity: e,
			Cash:   e,
		}
		require.NoError(t, repo.UpsertSnapshot(ctx, snap))
	}

	// Same-timestamp write replaces that row.
	require.NoError(t, repo.UpsertSnapshot(ctx, &domain.PortfolioSnapshot{
		Time:   base.Add(2 * time.Hour),
		Equity: 99000,
		Cash:   99000,
	}))

	latest, err = repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.InDelta(t, 99000, latest.Equity, 1e-9)

	max, found, err := repo.MaxEquity(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 105000, max, 1e-9)

	history, err := repo.EquityHistory(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{100000, 105000, 99000}, history)

	history, err = repo.EquityHistory(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{105000, 99000}, history, "limited history keeps the newest rows, oldest first")
}

func TestRepository_RiskMetricsPrune(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := &domain.RiskMetrics{
			Time:               base.Add(time.Duration(i) * 24 * time.Hour),
			MaxDrawdownPct:     0.15,
			CurrentDrawdownPct: 0.02 * float64(i),
			KillSwitchActive:   i == 4,
		}
		require.NoError(t, repo.InsertRiskMetrics(ctx, m))
	}

	removed, err := repo.PruneRiskMetricsBefore(ctx, base.Add(3*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	var count int
	require.NoError(t, repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM risk_metrics`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRepository_CandleBatchAndPrune(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	batch := make([]*domain.Candle, 0, 6)
	for i := 0; i < 6; i++ {
		batch = append(batch, &domain.Candle{
			Time:      base.Add(time.Duration(i) * time.Hour),
			Symbol:    "BTCUSDT",
			Timeframe: "1h",
			Open:      50000 + float64(i),
			High:      50100 + float64(i),
			Low:       49900 + float64(i),
			Close:     50050 + float64(i),
			Volume:    10,
		})
	}
	require.NoError(t, repo.UpsertCandles(ctx, batch))

	// Overlapping re-ingestion must not duplicate bars.
	batch[5].Close = 51000
	require.NoError(t, repo.UpsertCandles(ctx, batch[3:]))

	candles, err := repo.RecentCandles(ctx, "BTCUSDT", "1h", 100)
	require.NoError(t, err)
	require.Len(t, candles, 6)
	assert.True(t, candles[0].Time.Before(candles[5].Time), "candles should be oldest first")
	assert.InDelta(t, 51000, candles[5].Close, 1e-9)

	candles, err = repo.RecentCandles(ctx, "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, base.Add(4*time.Hour), candles[0].Time.UTC())

	removed, err := repo.PruneCandlesBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	require.NoError(t, repo.UpsertCandles(ctx, nil), "empty batch is a no-op")
}
