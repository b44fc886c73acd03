// Package app wires the decision core together: the pipeline run, the
// four-cadence scheduler, and the startup restore of safety state.
package app

import (
	"context"
	"fmt"
	"time"

	"quantbot/config"
	"quantbot/internal/domain"
	"quantbot/internal/execution"
	"quantbot/internal/fusion"
	"quantbot/internal/portfolio"
	"quantbot/internal/ports"
	"quantbot/internal/risk"
	"quantbot/internal/sizing"
)

const (
	// minWarmBars is the minimum candle history required before the
	// predictor and regime detector are fitted and a symbol is traded.
	minWarmBars = 50

	// negligibleQty skips delta orders too small to matter.
	negligibleQty = 1e-8
)

// Deps carries the orchestrator's dependencies. All fields are required
// except MarketData, which paper deployments without ingestion may omit.
type Deps struct {
	Cfg       *config.Config
	Logger    ports.Logger
	Combiner  *fusion.Combiner
	Sizer     *sizing.VolTargetSizer
	Checker   *risk.Checker
	Monitor   *risk.DrawdownMonitor
	Orders    *execution.Manager
	Portfolio *portfolio.Store

	Signals     ports.SignalRepository
	OrderRepo   ports.OrderRepository
	Positions   ports.PositionRepository
	RiskMetrics ports.RiskMetricsRepository
	Candles     ports.CandleRepository

	MarketData ports.MarketDataProvider
	Predictor  ports.Predictor
	Regimes    ports.RegimeDetector
	Features   ports.FeatureSource
	Sentiment  ports.SentimentSource
}

// Service orchestrates the signal pipeline and its periodic tasks.
// A single goroutine drives all four cadences; no two pipeline runs
// ever execute concurrently.
type Service struct {
	cfg       *config.Config
	logger    ports.Logger
	combiner  *fusion.Combiner
	sizer     *sizing.VolTargetSizer
	checker   *risk.Checker
	monitor   *risk.DrawdownMonitor
	orders    *execution.Manager
	portfolio *portfolio.Store

	signals     ports.SignalRepository
	orderRepo   ports.OrderRepository
	positions   ports.PositionRepository
	riskMetrics ports.RiskMetricsRepository
	candles     ports.CandleRepository

	marketData ports.MarketDataProvider
	predictor  ports.Predictor
	regimes    ports.RegimeDetector
	features   ports.FeatureSource
	sentiment  ports.SentimentSource

	// appliedFills tracks, per open live order, the fill quantity and
	// fees already folded into position and snapshot state, so polled
	// updates apply only the increment. Single-goroutine access.
	appliedFills map[string]appliedFill

	clock func() time.Time
}

type appliedFill struct {
	qty  float64
	fees float64
}

// NewService creates the application service instance.
func NewService(deps Deps) (*Service, error) {
	if deps.Cfg == nil || deps.Logger == nil || deps.Combiner == nil || deps.Sizer == nil ||
		deps.Checker == nil || deps.Monitor == nil || deps.Orders == nil || deps.Portfolio == nil {
		return nil, fmt.Errorf("missing required core dependencies for Service")
	}
	if deps.Signals == nil || deps.OrderRepo == nil || deps.Positions == nil ||
		deps.RiskMetrics == nil || deps.Candles == nil {
		return nil, fmt.Errorf("missing required repository dependencies for Service")
	}
	if deps.Predictor == nil || deps.Regimes == nil || deps.Features == nil || deps.Sentiment == nil {
		return nil, fmt.Errorf("missing required provider dependencies for Service")
	}
	if len(deps.Cfg.Universe.Symbols) == 0 {
		return nil, fmt.Errorf("universe must contain at least one symbol")
	}

	return &Service{
		cfg:          deps.Cfg,
		logger:       deps.Logger,
		combiner:     deps.Combiner,
		sizer:        deps.Sizer,
		checker:      deps.Checker,
		monitor:      deps.Monitor,
		orders:       deps.Orders,
		portfolio:    deps.Portfolio,
		signals:      deps.Signals,
		orderRepo:    deps.OrderRepo,
		positions:    deps.Positions,
		riskMetrics:  deps.RiskMetrics,
		candles:      deps.Candles,
		marketData:   deps.MarketData,
		predictor:    deps.Predictor,
		regimes:      deps.Regimes,
		features:     deps.Features,
		sentiment:    deps.Sentiment,
		appliedFills: make(map[string]appliedFill),
		clock:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start restores persisted safety state, runs each task once, then
// drives the four-cadence loop until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting service")

	if err := s.restoreState(ctx); err != nil {
		return fmt.Errorf("failed to restore persisted state: %w", err)
	}

	// Run every task once at startup so the first signal run has data.
	s.ingestCandles(ctx)
	s.runPipeline(ctx)
	s.persistRiskMetrics(ctx)

	signalTicker := time.NewTicker(time.Duration(s.cfg.Worker.SignalIntervalHours) * time.Hour)
	defer signalTicker.Stop()
	candleTicker := time.NewTicker(time.Duration(s.cfg.Worker.CandleIntervalHours) * time.Hour)
	defer candleTicker.Stop()
	cleanupTicker := time.NewTicker(time.Duration(s.cfg.Worker.CleanupIntervalMinutes) * time.Minute)
	defer cleanupTicker.Stop()
	healthTicker := time.NewTicker(time.Duration(s.cfg.Worker.HealthIntervalSeconds) * time.Second)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Service stopping", map[string]interface{}{"reason": ctx.Err().Error()})
			return nil
		case <-signalTicker.C:
			s.runPipeline(ctx)
		case <-candleTicker.C:
			s.ingestCandles(ctx)
		case <-cleanupTicker.C:
			s.runCleanup(ctx)
		case <-healthTicker.C:
			s.persistRiskMetrics(ctx)
		}
	}
}

// restoreState seeds the drawdown peak from the historical equity
// maximum, re-derives the kill switch from the persisted drawdown, and
// writes the initial snapshot when none exists.
func (s *Service) restoreState(ctx context.Context) error {
	peak, err := s.portfolio.HistoricalPeakEquity(ctx)
	if err != nil {
		return err
	}
	s.monitor.SeedPeak(peak)

	snap, created, err := s.portfolio.EnsureInitialSnapshot(ctx)
	if err != nil {
		return err
	}
	if created {
		s.logger.Info(ctx, "initial portfolio snapshot written", map[string]interface{}{
			"equity": snap.Equity,
		})
	} else {
		s.checker.RestoreFromSnapshot(ctx, snap)
	}

	s.logger.Info(ctx, "state restored", map[string]interface{}{
		"peakEquity": peak,
		"killSwitch": s.checker.KillSwitchActive(),
	})
	return nil
}

// runPipeline executes one full signal run over the configured universe.
// Failures are isolated per symbol; only the kill switch is global.
func (s *Service) runPipeline(ctx context.Context) {
	start := s.clock()
	s.logger.Info(ctx, "pipeline run started", map[string]interface{}{
		"symbols": len(s.cfg.Universe.Symbols),
	})

	for _, symbol := range s.cfg.Universe.Symbols {
		if err := s.runForSymbol(ctx, symbol); err != nil {
			s.logger.Error(ctx, err, "symbol run failed", map[string]interface{}{"symbol": symbol})
		}
	}

	// A fresh snapshot is written every run even when nothing traded,
	// so the drawdown series has no gaps.
	if err := s.writeRunSnapshot(ctx); err != nil {
		s.logger.Error(ctx, err, "failed to write run snapshot")
	}

	s.logger.Info(ctx, "pipeline run finished", map[string]interface{}{
		"durationMs": s.clock().Sub(start).Milliseconds(),
		"killSwitch": s.checker.KillSwitchActive(),
	})
}

// runForSymbol processes one symbol through the full decision chain.
func (s *Service) runForSymbol(ctx context.Context, symbol string) error {
	candles, err := s.candles.RecentCandles(ctx, symbol, s.cfg.Universe.Timeframe, s.cfg.Universe.LookbackBars)
	if err != nil {
		return fmt.Errorf("failed to load candles: %w", err)
	}
	if len(candles) < minWarmBars {
		return fmt.Errorf("only %d candles available, need %d: %w", len(candles), minWarmBars, ports.ErrInsufficientData)
	}

	feats, err := s.features.Compute(ctx, candles)
	if err != nil {
		return fmt.Errorf("feature computation failed: %w", err)
	}

	// Warm the models once per process, not every run.
	if !s.predictor.Ready() {
		if err := s.predictor.Fit(ctx, candles); err != nil {
			return fmt.Errorf("predictor warm-up failed: %w", err)
		}
		s.logger.Info(ctx, "predictor fitted", map[string]interface{}{"symbol": symbol, "bars": len(candles)})
	}
	if !s.regimes.Ready() {
		if err := s.regimes.Fit(ctx, feats.LogReturns, feats.RealizedVols); err != nil {
			return fmt.Errorf("regime detector warm-up failed: %w", err)
		}
		s.logger.Info(ctx, "regime detector fitted", map[string]interface{}{"symbol": symbol})
	}

	pred, err := s.predictor.Predict(ctx, feats)
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}

	regime, err := s.regimes.PredictCurrent(ctx, feats.LogReturns, feats.RealizedVols)
	if err != nil {
		return fmt.Errorf("regime detection failed: %w", err)
	}

	sentScore, err := s.sentiment.Score(ctx, symbol)
	if err != nil {
		// Sentiment is the least critical component; degrade to neutral.
		s.logger.Warn(ctx, "sentiment unavailable, using neutral score", map[string]interface{}{
			"symbol": symbol, "error": err.Error(),
		})
		sentScore = 0
	}

	components := map[string]float64{
		fusion.ComponentTechnical: feats.TechnicalScore,
		fusion.ComponentML:        pred.Score,
		fusion.ComponentSentiment: sentScore,
	}

	now := s.clock()
	sig := s.combiner.Combine(now, symbol, components, regime, pred.Confidence)

	if err := s.signals.InsertSignal(ctx, sig); err != nil {
		return fmt.Errorf("failed to persist signal: %w", err)
	}
	s.logger.Info(ctx, "signal generated", map[string]interface{}{
		"symbol":    symbol,
		"direction": sig.Direction,
		"strength":  sig.Strength,
		"regime":    sig.Regime,
	})

	if sig.Direction == domain.Flat {
		return nil
	}

	price := candles[len(candles)-1].Close
	if price <= 0 {
		return fmt.Errorf("latest close price is not positive for %s: %w", symbol, ports.ErrInsufficientData)
	}

	snap, err := s.portfolio.GetSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load portfolio snapshot: %w", err)
	}
	snap.DrawdownPct = s.monitor.Update(snap.Equity)

	targetQty := s.sizer.ComputeSize(sig, snap, price, feats.RealizedVol)

	// Delta sizing: converge toward the target instead of adding to it.
	var held float64
	pos, err := s.positions.FindPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to load position: %w", err)
	}
	if pos != nil {
		held = pos.Quantity
	}
	var qty float64
	side := domain.Buy
	if sig.Direction == domain.Long {
		qty = targetQty - held
		if qty < 0 {
			qty = 0
		}
	} else {
		// Spot universe: short signals sell down toward the target,
		// never below flat.
		side = domain.Sell
		qty = targetQty
		if qty > held {
			qty = held
		}
	}
	if qty < negligibleQty {
		s.logger.Debug(ctx, "delta quantity negligible, skipping", map[string]interface{}{
			"symbol": symbol, "target": targetQty, "held": held, "direction": sig.Direction,
		})
		return nil
	}

	tradeValue := qty * price
	signalID := fmt.Sprintf("%s@%s", symbol, sig.Time.Format(time.RFC3339))

	verdict := s.checker.CheckPreTrade(ctx, sig, snap, tradeValue, feats.DataTimestamp)
	switch verdict.Decision {
	case risk.Halted:
		s.logger.Error(ctx, nil, "trading halted", map[string]interface{}{
			"symbol": symbol, "reason": verdict.Reason,
		})
		return nil
	case risk.Rejected:
		s.logger.Warn(ctx, "trade rejected", map[string]interface{}{
			"symbol": symbol, "reason": verdict.Reason,
		})
		return nil
	}

	order, err := s.orders.Submit(ctx, symbol, side, domain.Market, qty, price, signalID)
	if err != nil {
		return fmt.Errorf("order submission failed: %w", err)
	}
	if err := s.orderRepo.UpsertOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to persist order: %w", err)
	}
	s.logger.Info(ctx, "order executed", map[string]interface{}{
		"symbol":  symbol,
		"orderID": order.ID,
		"side":    order.Side,
		"qty":     order.FilledQty,
		"price":   order.AvgFillPrice,
		"fees":    order.Fees,
	})

	if order.FilledQty > 0 {
		if err := s.applyFill(ctx, symbol, pos, order, snap); err != nil {
			return fmt.Errorf("failed to apply fill: %w", err)
		}
	}
	if !order.Status.IsTerminal() {
		// Remaining fill progress arrives via the health-tick poll.
		s.appliedFills[order.ID] = appliedFill{qty: order.FilledQty, fees: order.Fees}
	}

	post := s.checker.CheckPostTrade(ctx, snap)
	if post.Decision == risk.Halted {
		s.logger.Error(ctx, nil, "trading halted post-trade", map[string]interface{}{
			"symbol": symbol, "reason": post.Reason,
		})
	}
	return nil
}

// applyFill folds a fill into the position and the live snapshot.
// Buys blend into the average entry price; sells reduce quantity and
// realize P&L against the persisted average entry, net of fees.
func (s *Service) applyFill(ctx context.Context, symbol string, pos *domain.Position, order *domain.Order, snap *domain.PortfolioSnapshot) error {
	now := s.clock()
	exchange := order.Exchange

	if pos == nil {
		pos = &domain.Position{Symbol: symbol, Exchange: exchange, Side: domain.Long}
	}

	fillValue := order.AvgFillPrice * order.FilledQty

	if order.Side == domain.Buy {
		newQty := pos.Quantity + order.FilledQty
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + fillValue) / newQty
		pos.Quantity = newQty

		snap.Cash -= fillValue + order.Fees
		snap.PositionsValue += fillValue
	} else {
		realized := (order.AvgFillPrice-pos.AvgEntryPrice)*order.FilledQty - order.Fees
		pos.RealizedPnL += realized
		pos.Quantity -= order.FilledQty
		if pos.Quantity < 0 {
			pos.Quantity = 0
		}

		snap.Cash += fillValue - order.Fees
		snap.PositionsValue -= fillValue
		if snap.PositionsValue < 0 {
			snap.PositionsValue = 0
		}
		snap.RealizedPnL += realized

		s.logger.Info(ctx, "realized pnl on reducing fill", map[string]interface{}{
			"symbol":   symbol,
			"realized": realized,
			"avgEntry": pos.AvgEntryPrice,
			"fillPx":   order.AvgFillPrice,
		})
	}
	pos.Exchange = exchange
	pos.UpdatedAt = now

	if err := s.positions.UpsertPosition(ctx, pos); err != nil {
		return fmt.Errorf("failed to persist position: %w", err)
	}

	snap.Time = now
	snap.Equity = snap.Cash + snap.PositionsValue
	snap.DrawdownPct = s.monitor.Update(snap.Equity)
	if err := s.portfolio.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

// writeRunSnapshot persists the post-run snapshot with a fresh drawdown
// figure plus one risk-metrics row for the run.
func (s *Service) writeRunSnapshot(ctx context.Context) error {
	snap, err := s.portfolio.GetSnapshot(ctx)
	if err != nil {
		return err
	}
	snap.Time = s.clock()
	snap.DrawdownPct = s.monitor.Update(snap.Equity)
	if err := s.portfolio.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	s.logger.Debug(ctx, "snapshot written", map[string]interface{}{
		"equity":      snap.Equity,
		"drawdownPct": snap.DrawdownPct,
	})
	return s.writeRiskMetricsRow(ctx, snap)
}

// ingestCandles backfills recent candles for every universe symbol.
func (s *Service) ingestCandles(ctx context.Context) {
	if s.marketData == nil {
		s.logger.Debug(ctx, "no market data provider configured, skipping ingestion")
		return
	}
	for _, symbol := range s.cfg.Universe.Symbols {
		candles, err := s.marketData.GetCandles(ctx, symbol, s.cfg.Universe.Timeframe, s.cfg.Worker.CandleBackfillBars)
		if err != nil {
			s.logger.Error(ctx, err, "candle fetch failed", map[string]interface{}{"symbol": symbol})
			continue
		}
		if err := s.candles.UpsertCandles(ctx, candles); err != nil {
			s.logger.Error(ctx, err, "candle persist failed", map[string]interface{}{"symbol": symbol})
			continue
		}
		s.logger.Debug(ctx, "candles ingested", map[string]interface{}{
			"symbol": symbol, "count": len(candles),
		})
	}
}

// runCleanup prunes stale sentiment events and enforces retention on
// the risk-metrics and candle tables.
func (s *Service) runCleanup(ctx context.Context) {
	cutoff := s.clock().Add(-time.Duration(s.cfg.Worker.RetentionDays) * 24 * time.Hour)

	pruned := s.sentiment.PruneBefore(cutoff)
	if pruned > 0 {
		s.logger.Info(ctx, "stale sentiment events pruned", map[string]interface{}{"count": pruned})
	}

	if n, err := s.riskMetrics.PruneRiskMetricsBefore(ctx, cutoff); err != nil {
		s.logger.Error(ctx, err, "risk metrics prune failed")
	} else if n > 0 {
		s.logger.Info(ctx, "risk metrics pruned", map[string]interface{}{"rows": n})
	}

	if n, err := s.candles.PruneCandlesBefore(ctx, cutoff); err != nil {
		s.logger.Error(ctx, err, "candle prune failed")
	} else if n > 0 {
		s.logger.Info(ctx, "candles pruned", map[string]interface{}{"rows": n})
	}
}

// persistRiskMetrics is the high-frequency health task: it reconciles
// open orders and appends the current risk posture to the time series.
func (s *Service) persistRiskMetrics(ctx context.Context) {
	s.reconcileOrders(ctx)

	snap, err := s.portfolio.GetSnapshot(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "failed to load snapshot for risk metrics")
		return
	}
	if err := s.writeRiskMetricsRow(ctx, snap); err != nil {
		s.logger.Error(ctx, err, "failed to persist risk metrics")
	}
}

// reconcileOrders polls open live orders, re-persists every status
// transition, and folds newly observed fill progress into position and
// snapshot state. A fill that arrived partially at submit time is only
// applied for the increment the poll discovered.
func (s *Service) reconcileOrders(ctx context.Context) {
	for _, order := range s.orders.CheckOpenOrders(ctx) {
		if err := s.orderRepo.UpsertOrder(ctx, order); err != nil {
			s.logger.Error(ctx, err, "failed to persist polled order", map[string]interface{}{
				"orderID": order.ID,
			})
			continue
		}

		applied := s.appliedFills[order.ID]
		deltaQty := order.FilledQty - applied.qty
		if deltaQty > negligibleQty {
			if err := s.applyPolledFill(ctx, order, deltaQty, order.Fees-applied.fees); err != nil {
				s.logger.Error(ctx, err, "failed to apply polled fill", map[string]interface{}{
					"orderID": order.ID,
				})
				continue
			}
			s.appliedFills[order.ID] = appliedFill{qty: order.FilledQty, fees: order.Fees}
			s.logger.Info(ctx, "polled fill applied", map[string]interface{}{
				"orderID": order.ID,
				"symbol":  order.Symbol,
				"qty":     deltaQty,
				"status":  order.Status,
			})
		}
		if order.Status.IsTerminal() {
			delete(s.appliedFills, order.ID)
		}
	}
}

// applyPolledFill loads the current position and snapshot, then runs
// the incremental fill through the same application path synchronous
// fills use.
func (s *Service) applyPolledFill(ctx context.Context, order *domain.Order, qty, fees float64) error {
	pos, err := s.positions.FindPosition(ctx, order.Symbol)
	if err != nil {
		return fmt.Errorf("failed to load position: %w", err)
	}
	snap, err := s.portfolio.GetSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load portfolio snapshot: %w", err)
	}

	fill := *order
	fill.FilledQty = qty
	fill.Fees = fees
	if fill.Fees < 0 {
		fill.Fees = 0
	}
	return s.applyFill(ctx, order.Symbol, pos, &fill, snap)
}

func (s *Service) writeRiskMetricsRow(ctx context.Context, snap *domain.PortfolioSnapshot) error {
	var concentration float64
	if snap.Equity > 0 {
		concentration = snap.PositionsValue / snap.Equity
	}

	// Snapshots accrue once per signal run, so annualize on that cadence.
	barsPerYear := 365 * 24 / s.cfg.Worker.SignalIntervalHours
	vol, err := s.portfolio.RealizedVol(ctx, s.cfg.Portfolio.VolLookbackBars, barsPerYear)
	if err != nil {
		s.logger.Warn(ctx, "portfolio vol unavailable", map[string]interface{}{"error": err.Error()})
		vol = 0
	}

	return s.riskMetrics.InsertRiskMetrics(ctx, &domain.RiskMetrics{
		Time:               s.clock(),
		MaxDrawdownPct:     s.cfg.Risk.MaxDrawdownPct,
		CurrentDrawdownPct: s.monitor.CurrentDrawdown(),
		PortfolioVol:       vol,
		ConcentrationPct:   concentration,
		KillSwitchActive:   s.checker.KillSwitchActive(),
	})
}
