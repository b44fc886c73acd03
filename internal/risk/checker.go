// Package risk implements the pre-trade gate with its kill-switch
// state machine and the drawdown monitor feeding it.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
)

// Decision is the outcome category of a risk check.
//
// Halted is categorically different from Rejected: it is the one
// outcome that changes durable state (the kill switch trips) and the
// caller must treat it as process-wide, not per-symbol. Representing it
// as a tagged result rather than an error keeps callers from
// accidentally swallowing the distinction.
type Decision int

const (
	Approved Decision = iota
	Rejected
	Halted
)

// String returns the decision name for logging.
func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// Verdict is the result of a pre- or post-trade check.
type Verdict struct {
	Decision Decision
	Reason   string
}

// CheckerConfig holds the pre-trade gate thresholds.
//
// MaxConcentrationPct and MaxPositionPct evaluate the same ratio
// (trade value over equity) against two thresholds today; they remain
// separate tunables because they are configured independently.
type CheckerConfig struct {
	MaxDrawdownPct      float64
	MaxConcentrationPct float64
	MaxPositionPct      float64
	MinTradeUSD         float64
	StalenessThreshold  time.Duration
}

// Checker is the stateful pre-trade gate. The kill switch is one-way:
// once tripped it stays tripped until Reset is called explicitly,
// which models a required human decision.
type Checker struct {
	cfg    CheckerConfig
	logger ports.Logger

	mu         sync.Mutex
	killSwitch bool
}

// NewChecker creates a Checker in the ACTIVE state.
func NewChecker(cfg CheckerConfig, logger ports.Logger) (*Checker, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for risk checker")
	}
	if cfg.MaxDrawdownPct <= 0 || cfg.MaxDrawdownPct >= 1 {
		return nil, fmt.Errorf("max drawdown pct must be between 0 and 1 (exclusive)")
	}
	return &Checker{cfg: cfg, logger: logger}, nil
}

// RestoreFromSnapshot re-derives the kill-switch state from the
// persisted drawdown at process start. Required so safety state
// survives restarts.
func (c *Checker) RestoreFromSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) {
	if snap == nil {
		return
	}
	if snap.DrawdownPct >= c.cfg.MaxDrawdownPct {
		c.mu.Lock()
		c.killSwitch = true
		c.mu.Unlock()
		c.logger.Warn(ctx, "kill switch restored from persisted drawdown", map[string]interface{}{
			"drawdownPct": snap.DrawdownPct,
			"threshold":   c.cfg.MaxDrawdownPct,
		})
	}
}

// CheckPreTrade evaluates the gate checks in strict priority order,
// short-circuiting on the first failure. Only the drawdown check
// (priority 2) changes state, tripping the kill switch and returning a
// Halted verdict.
func (c *Checker) CheckPreTrade(ctx context.Context, sig *domain.Signal, portfolio *domain.PortfolioSnapshot, tradeValueUSD float64, dataTimestamp time.Time) Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 1. Kill switch already tripped
	if c.killSwitch {
		return Verdict{Rejected, "kill switch active - all trading halted"}
	}

	// 2. Drawdown breach: the one check that transitions durable state
	if portfolio.DrawdownPct >= c.cfg.MaxDrawdownPct {
		c.killSwitch = true
		c.logger.Error(ctx, nil, "kill switch triggered", map[string]interface{}{
			"symbol":      sig.Symbol,
			"drawdownPct": portfolio.DrawdownPct,
			"threshold":   c.cfg.MaxDrawdownPct,
		})
		return Verdict{Halted, fmt.Sprintf("max drawdown %.1f%% >= threshold %.1f%%",
			portfolio.DrawdownPct*100, c.cfg.MaxDrawdownPct*100)}
	}

	// 3. Minimum trade size
	if tradeValueUSD < c.cfg.MinTradeUSD {
		return Verdict{Rejected, fmt.Sprintf("trade value $%.2f below minimum $%.2f", tradeValueUSD, c.cfg.MinTradeUSD)}
	}

	// 4. Concentration limit
	if portfolio.Equity > 0 {
		concentration := tradeValueUSD / portfolio.Equity
		if concentration > c.cfg.MaxConcentrationPct {
			return Verdict{Rejected, fmt.Sprintf("concentration %.1f%% exceeds max %.1f%%",
				concentration*100, c.cfg.MaxConcentrationPct*100)}
		}
	}

	// 5. Position size limit (same ratio, independent threshold)
	if portfolio.Equity > 0 {
		positionPct := tradeValueUSD / portfolio.Equity
		if positionPct > c.cfg.MaxPositionPct {
			return Verdict{Rejected, fmt.Sprintf("position %.1f%% exceeds max %.1f%%",
				positionPct*100, c.cfg.MaxPositionPct*100)}
		}
	}

	// 6. Data staleness
	if !dataTimestamp.IsZero() {
		age := time.Since(dataTimestamp)
		if age > c.cfg.StalenessThreshold {
			return Verdict{Rejected, fmt.Sprintf("data is %.0f min old, exceeds %.0f min threshold",
				age.Minutes(), c.cfg.StalenessThreshold.Minutes())}
		}
	}

	return Verdict{Approved, "all checks passed"}
}

// CheckPostTrade re-validates drawdown after a fill and can also trip
// the kill switch.
func (c *Checker) CheckPostTrade(ctx context.Context, portfolio *domain.PortfolioSnapshot) Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()

	if portfolio.DrawdownPct >= c.cfg.MaxDrawdownPct {
		if !c.killSwitch {
			c.killSwitch = true
			c.logger.Error(ctx, nil, "kill switch triggered post-trade", map[string]interface{}{
				"drawdownPct": portfolio.DrawdownPct,
				"threshold":   c.cfg.MaxDrawdownPct,
			})
		}
		return Verdict{Halted, "post-trade drawdown exceeds limit"}
	}
	return Verdict{Approved, "post-trade checks passed"}
}

// KillSwitchActive reports whether trading is halted.
func (c *Checker) KillSwitchActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killSwitch
}

// Reset clears the kill switch. There is deliberately no checked-
// condition path back to ACTIVE; a human operator must invoke this.
func (c *Checker) Reset(ctx context.Context) {
	c.mu.Lock()
	c.killSwitch = false
	c.mu.Unlock()
	c.logger.Warn(ctx, "kill switch reset by operator")
}
