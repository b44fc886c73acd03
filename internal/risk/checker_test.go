package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func testChecker(t *testing.T) *Checker {
	t.Helper()
	c, err := NewChecker(CheckerConfig{
		MaxDrawdownPct:      0.15,
		MaxConcentrationPct: 0.30,
		MaxPositionPct:      0.25,
		MinTradeUSD:         10.0,
		StalenessThreshold:  30 * time.Minute,
	}, nopLogger{})
	require.NoError(t, err)
	return c
}

func portfolio(drawdown, equity float64) *domain.PortfolioSnapshot {
	return &domain.PortfolioSnapshot{
		Time:        time.Now().UTC(),
		Equity:      equity,
		Cash:        equity,
		DrawdownPct: drawdown,
	}
}

func signal() *domain.Signal {
	return &domain.Signal{
		Time:       time.Now().UTC(),
		Symbol:     "BTCUSDT",
		Direction:  domain.Long,
		Strength:   0.5,
		Confidence: 0.8,
		Regime:     domain.RegimeTrending,
	}
}

func TestCheckPreTrade_AllChecksPass(t *testing.T) {
	c := testChecker(t)
	v := c.CheckPreTrade(context.Background(), signal(), portfolio(0, 100_000), 5_000, time.Now().UTC())
	assert.Equal(t, Approved, v.Decision)
}

func TestCheckPreTrade_DrawdownBreachHalts(t *testing.T) {
	c := testChecker(t)

	v := c.CheckPreTrade(context.Background(), signal(), portfolio(0.16, 100_000), 5_000, time.Now().UTC())
	assert.Equal(t, Halted, v.Decision)
	assert.True(t, c.KillSwitchActive())

	// A later call with a clean portfolio is still rejected until reset.
	v = c.CheckPreTrade(context.Background(), signal(), portfolio(0, 100_000), 5_000, time.Now().UTC())
	assert.Equal(t, Rejected, v.Decision)
	assert.Contains(t, v.Reason, "kill switch")
}

func TestCheckPreTrade_ResetRestoresTrading(t *testing.T) {
	c := testChecker(t)

	v := c.CheckPreTrade(context.Background(), signal(), portfolio(0.20, 100_000), 5_000, time.Now().UTC())
	require.Equal(t, Halted, v.Decision)

	c.Reset(context.Background())
	assert.False(t, c.KillSwitchActive())

	v = c.CheckPreTrade(context.Background(), signal(), portfolio(0, 100_000), 5_000, time.Now().UTC())
	assert.Equal(t, Approved, v.Decision)
}

func TestCheckPreTrade_MinTradeSize(t *testing.T) {
	c := testChecker(t)
	v := c.CheckPreTrade(context.Background(), signal(), portfolio(0, 100_000), 5, time.Now().UTC())
	assert.Equal(t, Rejected, v.Decision)
	assert.Contains(t, v.Reason, "minimum")
}

func TestCheckPreTrade_Concentration(t *testing.T) {
	c := testChecker(t)
	v := c.CheckPreTrade(context.Background(), signal(), portfolio(0, 100_000), 35_000, time.Now().UTC())
	assert.Equal(t, Rejected, v.Decision)
	assert.Contains(t, v.Reason, "concentration")
}

func TestCheckPreTrade_PositionLimitDistinctFromConcentration(t *testing.T) {
	c, err := NewChecker(CheckerConfig{
		MaxDrawdownPct:      0.15,
		MaxConcentrationPct: 0.50, // looser than the position limit
		MaxPositionPct:      0.25,
		MinTradeUSD:         10.0,
		StalenessThreshold:  30 * time.Minute,
	}, nopLogger{})
	require.NoError(t, err)

	// 30% of equity passes concentration but fails the position limit.
	v := c.CheckPreTrade(context.Background(), signal(), portfolio(0, 100_000), 30_000, time.Now().UTC())
	assert.Equal(t, Rejected, v.Decision)
	assert.Contains(t, v.Reason, "position")
}

func TestCheckPreTrade_StaleData(t *testing.T) {
	c := testChecker(t)
	stale := time.Now().UTC().Add(-45 * time.Minute)
	v := c.CheckPreTrade(context.Background(), signal(), portfolio(0, 100_000), 5_000, stale)
	assert.Equal(t, Rejected, v.Decision)
	assert.Contains(t, v.Reason, "old")
}

func TestCheckPreTrade_ZeroTimestampSkipsStalenessCheck(t *testing.T) {
	c := testChecker(t)
	v := c.CheckPreTrade(context.Background(), signal(), portfolio(0, 100_000), 5_000, time.Time{})
	assert.Equal(t, Approved, v.Decision)
}

func TestCheckPreTrade_KillSwitchHasPriorityOverOtherChecks(t *testing.T) {
	c := testChecker(t)
	_ = c.CheckPreTrade(context.Background(), signal(), portfolio(0.20, 100_000), 5_000, time.Now().UTC())

	// Even a trade that would fail every other check reports the kill
	// switch first.
	v := c.CheckPreTrade(context.Background(), signal(), portfolio(0, 100_000), 1, time.Now().UTC().Add(-2*time.Hour))
	assert.Equal(t, Rejected, v.Decision)
	assert.Contains(t, v.Reason, "kill switch")
}

func TestCheckPostTrade_TripsSwitch(t *testing.T) {
	c := testChecker(t)

	v := c.CheckPostTrade(context.Background(), portfolio(0.18, 100_000))
	assert.Equal(t, Halted, v.Decision)
	assert.True(t, c.KillSwitchActive())
}

func TestRestoreFromSnapshot(t *testing.T) {
	c := testChecker(t)
	c.RestoreFromSnapshot(context.Background(), portfolio(0.16, 84_000))
	assert.True(t, c.KillSwitchActive())

	c2 := testChecker(t)
	c2.RestoreFromSnapshot(context.Background(), portfolio(0.10, 90_000))
	assert.False(t, c2.KillSwitchActive())

	c2.RestoreFromSnapshot(context.Background(), nil)
	assert.False(t, c2.KillSwitchActive())
}
