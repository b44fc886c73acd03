package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quantbot/internal/domain"
	"quantbot/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	exchangeName = "binance"
)

// Client implements ports.ExecutionAdapter and ports.MarketDataProvider
// using the go-binance spot API. Orders are keyed on the venue by our
// client order ID, which makes status lookups and cancels independent
// of the venue-assigned numeric ID.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
	limiter    *rate.Limiter
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey       string
	SecretKey    string
	UseTestnet   bool
	Logger       ports.Logger
	RateLimitRPM int // Requests per minute budget; <=0 uses a conservative default
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using the global binance.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 600
	}
	limiter := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm/10+1)

	return &Client{
		spotClient: client,
		logger:     cfg.Logger,
		limiter:    limiter,
	}, nil
}

// ExchangeName returns the venue identifier recorded on orders.
func (c *Client) ExchangeName() string {
	return exchangeName
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature / API key / permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1121, -1130: // Parameter/request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2019, -3005: // Insufficient balance
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// wait blocks until the request budget allows another call.
func (c *Client) wait(ctx context.Context, operation string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s aborted while waiting for rate limit: %w", operation, err)
	}
	return nil
}

// SubmitOrder submits a market order and returns it updated with the
// venue-assigned status and fill details.
func (c *Client) SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	op := "SubmitOrder"
	if order == nil {
		return nil, fmt.Errorf("%s: %w: order is nil", op, ports.ErrInvalidRequest)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	resp, err := c.spotClient.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(toBinanceSide(order.Side)).
		Type(binance.OrderTypeMarket).
		Quantity(formatQty(order.Quantity)).
		NewClientOrderID(order.ID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	result := *order
	result.Exchange = exchangeName
	result.Status = fromBinanceStatus(resp.Status)
	result.FilledQty = parseFloat(resp.ExecutedQuantity)
	result.AvgFillPrice = avgFillPrice(resp.CummulativeQuoteQuantity, resp.ExecutedQuantity)
	result.Fees = sumCommissions(resp.Fills)

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   order.Symbol,
		"side":     order.Side,
		"quantity": order.Quantity,
		"orderID":  order.ID,
		"status":   result.Status,
		"avgPrice": result.AvgFillPrice,
	})
	return &result, nil
}

// CancelOrder cancels an open order by our client order ID. Returns
// true on success.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	op := "CancelOrder"
	if err := c.wait(ctx, op); err != nil {
		return false, err
	}

	_, err := c.spotClient.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return false, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return true, nil
}

// GetOrderStatus retrieves the current state of an order from the venue.
func (c *Client) GetOrderStatus(ctx context.Context, orderID, symbol string) (*domain.Order, error) {
	op := "GetOrderStatus"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	resp, err := c.spotClient.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	order := &domain.Order{
		ID:           orderID,
		Time:         time.UnixMilli(resp.Time),
		Symbol:       resp.Symbol,
		Exchange:     exchangeName,
		Side:         fromBinanceSide(resp.Side),
		OrderType:    domain.Market,
		Quantity:     parseFloat(resp.OrigQuantity),
		Price:        parseFloat(resp.Price),
		Status:       fromBinanceStatus(resp.Status),
		FilledQty:    parseFloat(resp.ExecutedQuantity),
		AvgFillPrice: avgFillPrice(resp.CummulativeQuoteQuantity, resp.ExecutedQuantity),
	}
	return order, nil
}

// GetCandles retrieves up to limit recent candles, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Candle, error) {
	op := "GetCandles"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	klines, err := c.spotClient.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	candles := make([]*domain.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, &domain.Candle{
			Time:      time.UnixMilli(k.OpenTime),
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "timeframe": timeframe, "count": len(candles)})
	return candles, nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

func toBinanceSide(side domain.Side) binance.SideType {
	if side == domain.Sell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func fromBinanceSide(side binance.SideType) domain.Side {
	if side == binance.SideTypeSell {
		return domain.Sell
	}
	return domain.Buy
}

func fromBinanceStatus(status binance.OrderStatusType) domain.OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew:
		return domain.StatusPending
	case binance.OrderStatusTypePartiallyFilled:
		return domain.StatusPartial
	case binance.OrderStatusTypeFilled:
		return domain.StatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return domain.StatusCancelled
	case binance.OrderStatusTypeRejected:
		return domain.StatusRejected
	default:
		return domain.StatusPending
	}
}

// formatQty renders quantities with enough precision for spot lot sizes.
func formatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', 8, 64)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// avgFillPrice derives the average fill price from the cumulative quote
// quantity; zero when nothing has filled yet.
func avgFillPrice(cumQuote, executed string) float64 {
	qty := parseFloat(executed)
	if qty <= 0 {
		return 0
	}
	return parseFloat(cumQuote) / qty
}

func sumCommissions(fills []*binance.Fill) float64 {
	var total float64
	for _, f := range fills {
		if f == nil {
			continue
		}
		total += parseFloat(f.Commission)
	}
	return total
}
