package ports

import (
	"context"
	"time"

	"quantbot/internal/domain"
)

// SignalRepository stores generated signals as an append-only audit log.
type SignalRepository interface {
	InsertSignal(ctx context.Context, sig *domain.Signal) error
}

// OrderRepository stores orders keyed by their submitter-generated ID.
// UpsertOrder must be idempotent: repeating a write for the same ID
// yields exactly one stored record.
type OrderRepository interface {
	UpsertOrder(ctx context.Context, order *domain.Order) error
}

// PositionRepository stores the current position per symbol.
type PositionRepository interface {
	// UpsertPosition inserts or replaces the position row for its symbol.
	UpsertPosition(ctx context.Context, pos *domain.Position) error
	// FindPosition retrieves the position for a symbol.
	// Returns nil, nil when no position exists.
	FindPosition(ctx context.Context, symbol string) (*domain.Position, error)
}

// PortfolioRepository stores portfolio snapshots keyed by time.
type PortfolioRepository interface {
	// LatestSnapshot returns the most recent snapshot, or nil, nil when
	// none has been persisted yet.
	LatestSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error)
	// UpsertSnapshot inserts or updates the snapshot row for its
	// timestamp (last write wins).
	UpsertSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) error
	// MaxEquity returns the historical maximum of persisted equity and
	// whether any snapshot exists. Used to seed the drawdown peak at startup.
	MaxEquity(ctx context.Context) (float64, bool, error)
	// EquityHistory returns up to limit recent equity values, oldest first.
	EquityHistory(ctx context.Context, limit int) ([]float64, error)
}

// RiskMetricsRepository stores the append-only risk time series.
type RiskMetricsRepository interface {
	InsertRiskMetrics(ctx context.Context, m *domain.RiskMetrics) error
	// PruneRiskMetricsBefore deletes rows older than cutoff and returns
	// how many were removed.
	PruneRiskMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CandleRepository stores historical candles keyed by (symbol, timeframe, time).
type CandleRepository interface {
	// UpsertCandles writes a batch of candles; repeated writes for the
	// same key are safe.
	UpsertCandles(ctx context.Context, candles []*domain.Candle) error
	// RecentCandles returns up to limit recent candles for the symbol
	// and timeframe, oldest first.
	RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Candle, error)
	// PruneCandlesBefore deletes candles older than cutoff.
	PruneCandlesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
