package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"signal-core/internal/api"
	"signal-core/internal/breaker"
	"signal-core/internal/events"
	"signal-core/internal/execution"
	"signal-core/internal/market"
	"signal-core/internal/monitor"
	"signal-core/internal/pipeline"
	"signal-core/internal/safety"
	"signal-core/internal/signal"
	"signal-core/internal/sizing"
	"signal-core/internal/strategy"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/exchange"
	"signal-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		println("config load failed:", err.Error())
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		println("logger init failed:", err.Error())
		os.Exit(1)
	}

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "dev"
	}
	log.Info().Str("version", version).Str("mode", cfg.Mode).Msg("signal core starting")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	defer database.Close()

	settings, err := pipeline.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SettingsPath).Msg("settings load failed")
	}

	// Venue. Orders go to the in-process paper venue; the rate limiter keeps
	// request budgets realistic for a live adapter swap.
	paper := exchange.NewPaper(exchange.PaperConfig{FeeRate: 0.001, SlippageBps: 1})
	var venue exchange.Exchange = exchange.NewThrottled(paper, cfg.ExchangeRPS, cfg.ExchangeBurst)

	// Portfolio state shared by sizing and safety checks.
	portfolio := &sizing.Portfolio{
		TotalValue:       cfg.InitialBalance,
		AvailableBalance: cfg.InitialBalance,
		Positions:        map[string]sizing.Position{},
	}
	portfolioFn := func() *sizing.Portfolio { return portfolio }

	// Components
	brk := breaker.New(settings.Breaker, bus, log)
	guard := safety.NewManager(settings.Safety, venue, portfolioFn, cfg.Mode, cfg.AdminKeyHash, bus, log)

	strategies, err := strategy.LoadStrategies(cfg.StrategiesPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.StrategiesPath).Msg("strategies file unavailable, using built-in defaults")
		strategies = defaultStrategies()
	}
	log.Info().Int("count", len(strategies)).Msg("strategies loaded")

	pipeCfg := settings.Pipeline
	pipeCfg.Simulate = pipeCfg.Simulate || cfg.Simulate
	pipe := pipeline.New(pipeCfg,
		signal.NewGenerator(settings.Generator, log),
		strategy.NewRouter(settings.Router, log),
		sizing.NewSizer(settings.Sizing, log),
		execution.NewManager(settings.Execution, venue, bus, log),
		brk, guard, strategies, bus, log)
	pipe.AddObserver(pipeline.NewRecorder(database, log))

	mon := monitor.New(bus, database, log)
	mon.Start()
	defer mon.Stop()

	// Retention: drop executions and alerts older than 30 days.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := database.PruneBefore(ctx, time.Now().AddDate(0, 0, -30)); err != nil {
					log.Warn().Err(err).Msg("retention prune failed")
				}
			}
		}
	}()

	if err := pipe.Start(portfolio); err != nil {
		log.Fatal().Err(err).Msg("pipeline start failed")
	}
	defer pipe.Stop()

	// Feeds. Sentiment updates flow through the bus into the pipeline queue;
	// the paper venue tracks the latest price per symbol.
	sentimentCh, unsubSentiment := bus.Subscribe(events.EventSentiment, 256)
	defer unsubSentiment()
	go func() {
		for msg := range sentimentCh {
			update, ok := msg.(market.Update)
			if !ok {
				continue
			}
			if update.Market.Price > 0 {
				paper.SetPrice(update.Market.Symbol, update.Market.Price)
			}
			pipe.QueueSentiment(update)
		}
	}()

	if cfg.UseMockFeed {
		mock := market.NewMockFeed(cfg.MockSymbols, 5*time.Second, bus, log)
		go mock.Run(ctx)
		log.Info().Strs("symbols", cfg.MockSymbols).Msg("mock feed started")
	} else {
		if cfg.SentimentFeedURL == "" {
			log.Fatal().Msg("SENTIMENT_FEED_URL is required when USE_MOCK_FEED=false")
		}
		feed := market.NewFeed(cfg.SentimentFeedURL, bus, log)
		go feed.Run(ctx)
		log.Info().Str("url", cfg.SentimentFeedURL).Msg("sentiment feed started")
	}

	// API
	server := api.NewServer(pipe, guard, brk, database, portfolioFn,
		api.SystemMeta{
			Simulate:    pipeCfg.Simulate,
			Venue:       "paper",
			Symbols:     cfg.MockSymbols,
			UseMockFeed: cfg.UseMockFeed,
			Version:     version,
		},
		cfg.JWTSecret, cfg.AdminKeyHash, cfg.Mode, log)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("api server error")
		}
	}()
	log.Info().Str("port", cfg.Port).Msg("api listening")

	<-ctx.Done()
	log.Info().Msg("shutting down")
}

// defaultStrategies covers a fresh install with no strategies file.
func defaultStrategies() []strategy.Strategy {
	return []strategy.Strategy{
		{
			ID:      "momentum-default",
			Name:    "Momentum",
			Type:    "momentum",
			Enabled: true,
			Config: strategy.Config{
				RiskTolerance:    0.5,
				MaxPositions:     5,
				MaxCapital:       50000,
				MaxActiveSignals: 10,
				SizingMethod:     sizing.MethodPercentage,
			},
		},
		{
			ID:      "swing-default",
			Name:    "Swing",
			Type:    "swing",
			Enabled: true,
			Config: strategy.Config{
				TimeframePreferences: []signal.Timeframe{signal.Timeframe4h, signal.Timeframe1d},
				RiskTolerance:        0.3,
				MaxPositions:         3,
				MaxCapital:           30000,
				MaxActiveSignals:     6,
				SizingMethod:         sizing.MethodVolatilityAdjusted,
			},
		},
	}
}
