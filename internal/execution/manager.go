// Package execution manages the order lifecycle in paper and live
// modes. Paper mode fills synchronously with a deterministic slippage
// and fee model; live mode delegates to a ports.ExecutionAdapter.
package execution

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
)

const paperExchange = "paper"

// Config holds order manager settings.
type Config struct {
	PaperMode bool
	// SlippageBps is the half-spread applied to paper fills, in basis
	// points: buys fill above the reference price, sells below.
	SlippageBps float64
	// FeeRate is the fee fraction charged on paper fill notional
	// (e.g. 0.001 for 10 bps).
	FeeRate float64
}

// Manager submits, cancels and reconciles orders.
type Manager struct {
	cfg      Config
	adapter  ports.ExecutionAdapter
	logger   ports.Logger
	clock    func() time.Time
	newID    func() string
	mu       sync.Mutex
	openOrds map[string]*domain.Order
}

// NewManager creates a Manager. An adapter is required in live mode
// and ignored in paper mode.
func NewManager(cfg Config, adapter ports.ExecutionAdapter, logger ports.Logger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for order manager")
	}
	if !cfg.PaperMode && adapter == nil {
		return nil, fmt.Errorf("execution adapter is required in live mode")
	}
	if cfg.SlippageBps < 0 || cfg.FeeRate < 0 {
		return nil, fmt.Errorf("slippage and fee rate cannot be negative")
	}
	return &Manager{
		cfg:      cfg,
		adapter:  adapter,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    newOrderID,
		openOrds: make(map[string]*domain.Order),
	}, nil
}

// newOrderID builds an order id from the first 12 hex characters of a
// random uuid, prefixed for readability in logs and venue queries.
func newOrderID() string {
	u := uuid.New()
	return "ord_" + hex.EncodeToString(u[:6])
}

// Submit creates and submits a new order. In paper mode the returned
// order is already filled; in live mode it carries the venue-assigned
// status and joins the open set until terminal.
func (m *Manager) Submit(ctx context.Context, symbol string, side domain.Side, orderType domain.OrderType, quantity, price float64, signalID string) (*domain.Order, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be positive: %w", ports.ErrInvalidRequest)
	}

	exchange := paperExchange
	if !m.cfg.PaperMode {
		exchange = m.adapter.ExchangeName()
	}
	order := &domain.Order{
		ID:        m.newID(),
		Time:      m.clock(),
		Symbol:    symbol,
		Exchange:  exchange,
		Side:      side,
		OrderType: orderType,
		Quantity:  quantity,
		Price:     price,
		Status:    domain.StatusPending,
		SignalID:  signalID,
	}

	if m.cfg.PaperMode {
		filled := m.simulateFill(order)
		m.logger.Info(ctx, "paper order filled", map[string]interface{}{
			"orderID":  filled.ID,
			"symbol":   symbol,
			"side":     side,
			"quantity": quantity,
			"price":    filled.AvgFillPrice,
			"fees":     filled.Fees,
		})
		return filled, nil
	}

	submitted, err := m.adapter.SubmitOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("order submission failed for %s: %w", symbol, err)
	}

	if !submitted.Status.IsTerminal() {
		m.mu.Lock()
		m.openOrds[submitted.ID] = submitted
		m.mu.Unlock()
	}
	m.logger.Info(ctx, "order submitted", map[string]interface{}{
		"orderID":  submitted.ID,
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"status":   submitted.Status,
	})
	return submitted, nil
}

// simulateFill applies the directional half-spread and fee, then fills
// the order completely. Deterministic: same inputs, same fill.
func (m *Manager) simulateFill(order *domain.Order) *domain.Order {
	fillPrice := order.Price
	if fillPrice > 0 && m.cfg.SlippageBps > 0 {
		slip := m.cfg.SlippageBps / 10_000.0
		if order.Side == domain.Buy {
			fillPrice *= 1.0 + slip
		} else {
			fillPrice *= 1.0 - slip
		}
	}

	fees := 0.0
	if fillPrice > 0 {
		fees = fillPrice * order.Quantity * m.cfg.FeeRate
	}

	filled := *order
	filled.Status = domain.StatusFilled
	filled.FilledQty = order.Quantity
	filled.AvgFillPrice = fillPrice
	filled.Fees = fees
	return &filled
}

// Cancel cancels an open order. Failures are logged, not escalated:
// the order may already be terminal on the venue.
func (m *Manager) Cancel(ctx context.Context, orderID, symbol string) bool {
	if m.cfg.PaperMode {
		return false // paper fills are immediate; nothing to cancel
	}
	ok, err := m.adapter.CancelOrder(ctx, orderID, symbol)
	if err != nil {
		m.logger.Warn(ctx, "order cancel failed", map[string]interface{}{
			"orderID": orderID,
			"symbol":  symbol,
			"error":   err.Error(),
		})
		return false
	}
	if ok {
		m.mu.Lock()
		delete(m.openOrds, orderID)
		m.mu.Unlock()
	}
	return ok
}

// CheckOpenOrders polls the venue for every open order and reconciles
// local state, dropping orders that reached a terminal status. Returns
// the refreshed orders so the caller can persist them.
func (m *Manager) CheckOpenOrders(ctx context.Context) []*domain.Order {
	if m.cfg.PaperMode {
		return nil
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.openOrds))
	symbols := make(map[string]string, len(m.openOrds))
	for id, ord := range m.openOrds {
		ids = append(ids, id)
		symbols[id] = ord.Symbol
	}
	m.mu.Unlock()

	var updated []*domain.Order
	for _, id := range ids {
		current, err := m.adapter.GetOrderStatus(ctx, id, symbols[id])
		if err != nil {
			m.logger.Error(ctx, err, "order status check failed", map[string]interface{}{"orderID": id})
			continue
		}
		m.mu.Lock()
		if current.Status.IsTerminal() {
			delete(m.openOrds, id)
		} else {
			m.openOrds[id] = current
		}
		m.mu.Unlock()
		updated = append(updated, current)
	}
	return updated
}

// OpenOrderCount returns the number of orders awaiting a terminal status.
func (m *Manager) OpenOrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.openOrds)
}
