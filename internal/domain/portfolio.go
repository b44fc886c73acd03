package domain

import "time"

// PortfolioSnapshot is the authoritative portfolio state at a point in
// time. Exactly one logical current snapshot exists (the latest by
// time); the orchestrator rewrites it after every run, even when no
// trade occurs. The writer maintains Equity = Cash + PositionsValue.
type PortfolioSnapshot struct {
	Time           time.Time
	Equity         float64
	Cash           float64
	PositionsValue float64
	UnrealizedPnL  float64
	RealizedPnL    float64
	DrawdownPct    float64
}

// RiskMetrics is one row of the append-only risk time series persisted
// by the health task and after each pipeline run.
type RiskMetrics struct {
	Time               time.Time
	MaxDrawdownPct     float64
	CurrentDrawdownPct float64
	PortfolioVol       float64
	ConcentrationPct   float64
	KillSwitchActive   bool
}
