package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quantbot/config"
	"quantbot/internal/adapters/binanceclient"
	"quantbot/internal/adapters/logger"
	"quantbot/internal/adapters/sqlite"
	"quantbot/internal/app"
	"quantbot/internal/domain"
	"quantbot/internal/execution"
	"quantbot/internal/fusion"
	"quantbot/internal/portfolio"
	"quantbot/internal/ports"
	"quantbot/internal/providers"
	"quantbot/internal/risk"
	"quantbot/internal/sizing"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	level := logger.ParseLevel(cfg.LogLevel)
	if strings.EqualFold(cfg.LogFormat, "json") {
		appLogger = logger.NewZeroLogger(level)
	} else {
		appLogger = logger.NewStdLogger(level)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{
		"level": level.String(), "format": cfg.LogFormat,
	})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	// Market data uses public endpoints; keys are only needed live.
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:       cfg.Exchange.APIKey,
		SecretKey:    cfg.Exchange.SecretKey,
		UseTestnet:   cfg.Exchange.UseTestnet,
		Logger:       appLogger,
		RateLimitRPM: cfg.Exchange.RateLimitRPM,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Initialize the decision core
	regimeWeights := make(map[domain.Regime]fusion.Weights, len(cfg.Fusion.RegimeWeights))
	for name, w := range cfg.Fusion.RegimeWeights {
		regimeWeights[domain.Regime(name)] = fusion.Weights{
			Technical: w.Technical,
			ML:        w.ML,
			Sentiment: w.Sentiment,
		}
	}
	combiner, err := fusion.New(fusion.Config{
		RegimeWeights:      regimeWeights,
		ChoppyScale:        cfg.Fusion.ChoppyScale,
		DirectionThreshold: cfg.Fusion.DirectionThreshold,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize signal combiner: %v", err)
	}

	sizer := sizing.New(sizing.Config{
		VolTarget:      cfg.Risk.VolTarget,
		MaxPositionPct: cfg.Risk.MaxPositionPct,
	})

	checker, err := risk.NewChecker(risk.CheckerConfig{
		MaxDrawdownPct:      cfg.Risk.MaxDrawdownPct,
		MaxConcentrationPct: cfg.Risk.MaxConcentrationPct,
		MaxPositionPct:      cfg.Risk.MaxPositionPct,
		MinTradeUSD:         cfg.Risk.MinTradeUSD,
		StalenessThreshold:  cfg.StalenessThreshold(),
	}, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk checker: %v", err)
	}
	monitor := risk.NewDrawdownMonitor()

	paperMode := cfg.Execution.Mode == "paper"
	var adapter ports.ExecutionAdapter
	if !paperMode {
		adapter = binanceClient
	}
	orders, err := execution.NewManager(execution.Config{
		PaperMode:   paperMode,
		SlippageBps: cfg.Execution.SlippageBps,
		FeeRate:     cfg.Execution.FeeBps / 10_000.0,
	}, adapter, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize order manager: %v", err)
	}

	pfStore, err := portfolio.NewStore(repo, cfg.Portfolio.InitialEquity)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize portfolio store: %v", err)
	}

	// 6. Baseline model providers. Deployments with real model backends
	// swap these out behind the same ports.
	features, err := providers.NewBaselineFeatures(providers.FeatureConfig{
		ShortPeriod: 9,
		LongPeriod:  21,
		RSIPeriod:   14,
		VolWindow:   20,
		BarsPerYear: barsPerYear(cfg.Universe.Timeframe),
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize feature source: %v", err)
	}

	// 7. Initialize Application Service
	svc, err := app.NewService(app.Deps{
		Cfg:         cfg,
		Logger:      appLogger,
		Combiner:    combiner,
		Sizer:       sizer,
		Checker:     checker,
		Monitor:     monitor,
		Orders:      orders,
		Portfolio:   pfStore,
		Signals:     repo,
		OrderRepo:   repo,
		Positions:   repo,
		RiskMetrics: repo,
		Candles:     repo,
		MarketData:  binanceClient,
		Predictor:   providers.NewMomentumPredictor(),
		Regimes:     providers.NewThresholdRegimeDetector(),
		Features:    features,
		Sentiment:   providers.NewMemorySentiment(24 * time.Hour),
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}
	appLogger.Info(context.Background(), "Service initialized", map[string]interface{}{
		"mode":    cfg.Execution.Mode,
		"symbols": cfg.Universe.Symbols,
	})

	// 8. Start the Service with graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		appLogger.Error(context.Background(), err, "Service exited with error")
		log.Fatalf("FATAL: Service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

// barsPerYear converts a candle timeframe string ("4h", "15m") into the
// annualization factor used for realized-vol estimates.
func barsPerYear(timeframe string) int {
	dur, err := time.ParseDuration(timeframe)
	if err != nil || dur <= 0 {
		return 365 * 6 // 4h default
	}
	return int((365 * 24 * time.Hour) / dur)
}
