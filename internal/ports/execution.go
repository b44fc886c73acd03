package ports

import (
	"context"

	"quantbot/internal/domain"
)

// ExecutionAdapter defines the interface for submitting orders to a
// live venue. The core depends on it in live mode only; paper mode
// simulates fills locally and never touches an adapter.
type ExecutionAdapter interface {
	// SubmitOrder submits an order and returns it updated with the
	// venue-assigned status and fill details.
	SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// CancelOrder cancels an open order. Returns true on success.
	CancelOrder(ctx context.Context, orderID, symbol string) (bool, error)

	// GetOrderStatus retrieves the current state of an order from the venue.
	GetOrderStatus(ctx context.Context, orderID, symbol string) (*domain.Order, error)

	// ExchangeName returns the venue identifier recorded on orders.
	ExchangeName() string
}

// MarketDataProvider supplies historical candles from an external
// venue or data vendor. Used by the ingestion task, not the hot path.
type MarketDataProvider interface {
	// GetCandles retrieves up to limit recent candles for the symbol
	// and timeframe, oldest first.
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Candle, error)
}
