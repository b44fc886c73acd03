package domain

import "time"

// Position is the current holding for a symbol (unique key). It is
// upserted after every fill; Quantity is the sole source used for
// delta-sizing on subsequent pipeline runs.
type Position struct {
	Symbol        string
	Exchange      string
	Side          Direction
	Quantity      float64
	AvgEntryPrice float64
	UnrealizedPnL float64
	RealizedPnL   float64
	UpdatedAt     time.Time
}

// IsOpen reports whether the position still carries exposure.
func (p *Position) IsOpen() bool {
	return p.Quantity > 0
}
