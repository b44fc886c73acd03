package domain

import "time"

// Order represents a single order through its lifecycle. The ID is
// generated by the submitter and is globally unique; persistence is an
// idempotent upsert keyed by it.
type Order struct {
	ID           string
	Time         time.Time
	Symbol       string
	Exchange     string
	Side         Side
	OrderType    OrderType
	Quantity     float64
	Price        float64 // reference price at submission (0 for pure market orders)
	Status       OrderStatus
	FilledQty    float64
	AvgFillPrice float64
	Fees         float64
	SignalID     string
}
