package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quantbot/internal/domain"
	"quantbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports repository interfaces (signals,
// orders, positions, portfolio snapshots, risk metrics, candles) using
// SQLite. All keyed writes use the engine's native upsert
// (INSERT ... ON CONFLICT), never read-then-write, so repeated or
// retried writes are safe without external locking.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/quantbot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the pipeline and the
	// health task.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time TIMESTAMP NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		strength REAL NOT NULL,
		confidence REAL NOT NULL,
		regime TEXT NOT NULL,
		components TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		time TIMESTAMP NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		status TEXT NOT NULL,
		filled_qty REAL NOT NULL DEFAULT 0,
		avg_fill_price REAL NOT NULL DEFAULT 0,
		fees REAL NOT NULL DEFAULT 0,
		signal_id TEXT
	);

	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		avg_entry_price REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		time TIMESTAMP PRIMARY KEY,
		equity REAL NOT NULL,
		cash REAL NOT NULL,
		positions_value REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		drawdown_pct REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS risk_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time TIMESTAMP NOT NULL,
		max_drawdown_pct REAL NOT NULL,
		current_drawdown_pct REAL NOT NULL,
		portfolio_vol REAL NOT NULL DEFAULT 0,
		concentration_pct REAL NOT NULL DEFAULT 0,
		kill_switch_active INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		time TIMESTAMP NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		PRIMARY KEY (symbol, timeframe, time)
	);

	CREATE INDEX IF NOT EXISTS idx_signals_symbol_time ON signals (symbol, time);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol_time ON orders (symbol, time);
	CREATE INDEX IF NOT EXISTS idx_risk_metrics_time ON risk_metrics (time);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- SignalRepository ---

// InsertSignal appends a signal audit record.
func (r *Repository) InsertSignal(ctx context.Context, sig *domain.Signal) error {
	components, err := json.Marshal(sig.Components)
	if err != nil {
		return fmt.Errorf("failed to encode signal components: %w", err)
	}

	const query = `
	INSERT INTO signals (time, symbol, direction, strength, confidence, regime, components)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		sig.Time, sig.Symbol, sig.Direction, sig.Strength, sig.Confidence, sig.Regime, string(components))
	if err != nil {
		return fmt.Errorf("failed to insert signal for symbol %s: %w", sig.Symbol, err)
	}
	r.logger.Debug(ctx, "Signal persisted", map[string]interface{}{"symbol": sig.Symbol, "direction": sig.Direction})
	return nil
}

// --- OrderRepository ---

// UpsertOrder inserts or updates an order row keyed by its ID.
// Repeating the write for the same ID yields exactly one record.
func (r *Repository) UpsertOrder(ctx context.Context, order *domain.Order) error {
	const query = `
	INSERT INTO orders (id, time, symbol, exchange, side, order_type, quantity, price,
	                    status, filled_qty, avg_fill_price, fees, signal_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		filled_qty = excluded.filled_qty,
		avg_fill_price = excluded.avg_fill_price,
		fees = excluded.fees`

	_, err := r.db.ExecContext(ctx, query,
		order.ID, order.Time, order.Symbol, order.Exchange, order.Side, order.OrderType,
		order.Quantity, order.Price, order.Status, order.FilledQty, order.AvgFillPrice,
		order.Fees, order.SignalID)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", order.ID, err)
	}
	r.logger.Debug(ctx, "Order persisted", map[string]interface{}{"orderID": order.ID, "status": order.Status})
	return nil
}

// --- PositionRepository ---

// UpsertPosition inserts or replaces the position row for its symbol.
func (r *Repository) UpsertPosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (symbol, exchange, side, quantity, avg_entry_price,
	                       unrealized_pnl, realized_pnl, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol) DO UPDATE SET
		exchange = excluded.exchange,
		side = excluded.side,
		quantity = excluded.quantity,
		avg_entry_price = excluded.avg_entry_price,
		unrealized_pnl = excluded.unrealized_pnl,
		realized_pnl = excluded.realized_pnl,
		updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Exchange, pos.Side, pos.Quantity, pos.AvgEntryPrice,
		pos.UnrealizedPnL, pos.RealizedPnL, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert position for symbol %s: %w", pos.Symbol, err)
	}
	r.logger.Debug(ctx, "Position upserted", map[string]interface{}{"symbol": pos.Symbol, "quantity": pos.Quantity})
	return nil
}

// FindPosition retrieves the position for a symbol.
// Returns nil, nil when no position exists.
func (r *Repository) FindPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	const query = `
	SELECT symbol, exchange, side, quantity, avg_entry_price, unrealized_pnl, realized_pnl, updated_at
	FROM positions
	WHERE symbol = ?`

	pos := &domain.Position{}
	err := r.db.QueryRowContext(ctx, query, symbol).Scan(
		&pos.Symbol, &pos.Exchange, &pos.Side, &pos.Quantity, &pos.AvgEntryPrice,
		&pos.UnrealizedPnL, &pos.RealizedPnL, &pos.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position for symbol %s: %w", symbol, err)
	}
	return pos, nil
}

// --- PortfolioRepository ---

// LatestSnapshot returns the most recent snapshot, or nil, nil when
// none has been persisted.
func (r *Repository) LatestSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	const query = `
	SELECT time, equity, cash, positions_value, unrealized_pnl, realized_pnl, drawdown_pct
	FROM portfolio_snapshots
	ORDER BY time DESC
	LIMIT 1`

	snap := &domain.PortfolioSnapshot{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&snap.Time, &snap.Equity, &snap.Cash, &snap.PositionsValue,
		&snap.UnrealizedPnL, &snap.RealizedPnL, &snap.DrawdownPct)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	return snap, nil
}

// UpsertSnapshot inserts or updates the snapshot row for its timestamp
// (last write wins).
func (r *Repository) UpsertSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) error {
	const query = `
	INSERT INTO portfolio_snapshots (time, equity, cash, positions_value, unrealized_pnl, realized_pnl, drawdown_pct)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(time) DO UPDATE SET
		equity = excluded.equity,
		cash = excluded.cash,
		positions_value = excluded.positions_value,
		unrealized_pnl = excluded.unrealized_pnl,
		realized_pnl = excluded.realized_pnl,
		drawdown_pct = excluded.drawdown_pct`

	_, err := r.db.ExecContext(ctx, query,
		snap.Time, snap.Equity, snap.Cash, snap.PositionsValue,
		snap.UnrealizedPnL, snap.RealizedPnL, snap.DrawdownPct)
	if err != nil {
		return fmt.Errorf("failed to upsert portfolio snapshot: %w", err)
	}
	return nil
}

// MaxEquity returns the historical maximum of persisted equity and
// whether any snapshot exists.
func (r *Repository) MaxEquity(ctx context.Context) (float64, bool, error) {
	const query = `SELECT MAX(equity), COUNT(*) FROM portfolio_snapshots`

	var max sql.NullFloat64
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&max, &count); err != nil {
		return 0, false, fmt.Errorf("failed to query max equity: %w", err)
	}
	if count == 0 || !max.Valid {
		return 0, false, nil
	}
	return max.Float64, true, nil
}

// EquityHistory returns up to limit recent equity values, oldest first.
func (r *Repository) EquityHistory(ctx context.Context, limit int) ([]float64, error) {
	const query = `SELECT equity FROM portfolio_snapshots ORDER BY time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity history: %w", err)
	}
	defer rows.Close()

	equities := make([]float64, 0, limit)
	for rows.Next() {
		var e float64
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("failed to scan equity row: %w", err)
		}
		equities = append(equities, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equity rows: %w", err)
	}

	// Rows come newest-first; reverse for chronological order.
	for i, j := 0, len(equities)-1; i < j; i, j = i+1, j-1 {
		equities[i], equities[j] = equities[j], equities[i]
	}
	return equities, nil
}

// --- RiskMetricsRepository ---

// InsertRiskMetrics appends one row to the risk time series.
func (r *Repository) InsertRiskMetrics(ctx context.Context, m *domain.RiskMetrics) error {
	const query = `
	INSERT INTO risk_metrics (time, max_drawdown_pct, current_drawdown_pct, portfolio_vol, concentration_pct, kill_switch_active)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		m.Time, m.MaxDrawdownPct, m.CurrentDrawdownPct, m.PortfolioVol, m.ConcentrationPct, m.KillSwitchActive)
	if err != nil {
		return fmt.Errorf("failed to insert risk metrics: %w", err)
	}
	return nil
}

// PruneRiskMetricsBefore deletes rows older than cutoff.
func (r *Repository) PruneRiskMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM risk_metrics WHERE time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune risk metrics: %w", err)
	}
	return result.RowsAffected()
}

// --- CandleRepository ---

// UpsertCandles writes a batch of candles inside one transaction;
// repeated writes for the same (symbol, timeframe, time) are safe.
func (r *Repository) UpsertCandles(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin candle transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
	INSERT INTO candles (symbol, timeframe, time, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol, timeframe, time) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare candle upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, c.Timeframe, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("failed to upsert candle %s %s: %w", c.Symbol, c.Time, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit candle batch: %w", err)
	}
	return nil
}

// RecentCandles returns up to limit recent candles, oldest first.
func (r *Repository) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Candle, error) {
	const query = `
	SELECT symbol, timeframe, time, open, high, low, close, volume
	FROM candles
	WHERE symbol = ? AND timeframe = ?
	ORDER BY time DESC
	LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles for %s: %w", symbol, err)
	}
	defer rows.Close()

	candles := make([]*domain.Candle, 0, limit)
	for rows.Next() {
		c := &domain.Candle{}
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle row: %w", err)
		}
		candles = append(candles, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candle rows: %w", err)
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// PruneCandlesBefore deletes candles older than cutoff.
func (r *Repository) PruneCandlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM candles WHERE time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune candles: %w", err)
	}
	return result.RowsAffected()
}
