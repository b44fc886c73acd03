package domain

// Side represents the side of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Direction represents the desired exposure of a signal or position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
	Flat  Direction = "flat"
)

// OrderType represents how an order is priced.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderStatus represents the lifecycle state of an order.
// Filled, Cancelled and Rejected are terminal; no further transitions occur.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFilled    OrderStatus = "filled"
	StatusPartial   OrderStatus = "partial"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Regime is a closed enumeration of market-behavior classifications
// used to gate fusion weights.
type Regime string

const (
	RegimeTrending      Regime = "trending"
	RegimeMeanReverting Regime = "mean_reverting"
	RegimeChoppy        Regime = "choppy"
)

// AllRegimes lists every member of the Regime enumeration. Config
// validation uses it to guarantee the fusion weight map is total.
func AllRegimes() []Regime {
	return []Regime{RegimeTrending, RegimeMeanReverting, RegimeChoppy}
}
