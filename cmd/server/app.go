package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/klear-paper/internal/accounts"
	"github.com/ksred/klear-paper/internal/auth"
	"github.com/ksred/klear-paper/internal/compliance"
	"github.com/ksred/klear-paper/internal/config"
	"github.com/ksred/klear-paper/internal/database"
	"github.com/ksred/klear-paper/internal/events"
	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/maintenance"
	"github.com/ksred/klear-paper/internal/performance"
	"github.com/ksred/klear-paper/internal/pricing"
	"github.com/ksred/klear-paper/internal/risk"
	"github.com/ksred/klear-paper/internal/scheduler"
	"github.com/ksred/klear-paper/internal/sectors"
	"github.com/ksred/klear-paper/internal/trading"
	"github.com/ksred/klear-paper/pkg/middleware"
)

// minCorrelationSamples is the number of feed returns the historical
// estimator needs before it stops deferring to the sector proxy.
const minCorrelationSamples = 30

// app owns every long lived component of the server.
type app struct {
	cfg         *config.Config
	db          *gorm.DB
	feed        *pricing.Feed
	broker      *events.Broker
	limiter     *middleware.RateLimiter
	scheduler   *scheduler.Scheduler
	maintenance *maintenance.Processor
	router      *gin.Engine
}

type handlers struct {
	auth        *auth.GinHandlers
	accounts    *accounts.GinHandlers
	trading     *trading.GinHandlers
	performance *performance.GinHandlers
	risk        *risk.GinHandlers
	events      *events.GinHandlers
}

func newApp(cfg *config.Config, clock func() time.Time) (*app, error) {
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	loc := cfg.MarketLocation()
	feed := pricing.NewFeed(pricing.FeedConfig{
		MinLatency:   cfg.Pricing.MinLatency,
		MaxLatency:   cfg.Pricing.MaxLatency,
		FailureRate:  cfg.Pricing.FailureRate,
		Volatility:   cfg.Pricing.Volatility,
		TickInterval: cfg.Pricing.TickInterval,
		HistorySize:  cfg.Pricing.HistorySize,
		Seed:         cfg.Pricing.Seed,
		Location:     loc,
	}, pricing.DefaultInstruments, clock)
	prices := pricing.NewGuard(feed, cfg.Trading.PriceTimeout)

	broker := events.NewBroker(64)
	store := ledger.NewStore(db)
	gate := compliance.NewGate(loc)
	sectorMap := sectors.Default()

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, clock)
	authService.RegisterAPICredentials(cfg.Auth.APIKey, cfg.Auth.APISecret)

	accountsService := accounts.NewService(store, prices, broker, accounts.Config{
		DefaultInitialCash: decimal.NewFromFloat(cfg.Trading.DefaultInitialCash),
	}, clock)

	tradingService := trading.NewService(store, prices, gate, broker, trading.Config{
		IdempotencyTTL: cfg.Trading.IdempotencyTTL,
	}, clock)

	performanceService := performance.NewService(store, prices, cfg.Trading.RiskFreeRate, loc)

	estimator := risk.NewHistoricalEstimator(feed, minCorrelationSamples,
		risk.NewSectorEstimator(sectorMap, cfg.Risk.SameSectorCorrelation, cfg.Risk.CrossSectorCorrelation))
	riskService := risk.NewService(store, prices, sectorMap, estimator, performanceService, risk.Config{
		Thresholds: risk.Thresholds{
			MaxPositionWeight:      cfg.Risk.MaxPositionWeight,
			MaxSectorWeight:        cfg.Risk.MaxSectorWeight,
			ConcentrationThreshold: cfg.Risk.ConcentrationThreshold,
		},
		BenchmarkSymbol: cfg.Trading.BenchmarkSymbol,
	}, clock)

	processor := maintenance.NewProcessor(store, prices, gate, broker, clock)
	sched := scheduler.New(zlog.Logger)
	if cfg.Maintenance.Enabled {
		if err := sched.AddJob(cfg.Maintenance.Schedule, processor); err != nil {
			return nil, fmt.Errorf("scheduling maintenance: %w", err)
		}
	}

	limiter := middleware.NewRateLimiter(middleware.DefaultLimits())

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())
	setupRoutes(router, authService, limiter, handlers{
		auth:        auth.NewGinHandlers(authService),
		accounts:    accounts.NewGinHandlers(accountsService),
		trading:     trading.NewGinHandlers(tradingService),
		performance: performance.NewGinHandlers(performanceService),
		risk:        risk.NewGinHandlers(riskService),
		events:      events.NewGinHandlers(broker),
	})

	return &app{
		cfg:         cfg,
		db:          db,
		feed:        feed,
		broker:      broker,
		limiter:     limiter,
		scheduler:   sched,
		maintenance: processor,
		router:      router,
	}, nil
}

// start launches the background workers. They run until ctx is done.
func (a *app) start(ctx context.Context) {
	go a.feed.Start(ctx)
	go a.broker.Start(ctx)
	go a.limiter.Start(ctx)
	a.scheduler.Start()

	// refresh cached marks once before the first scheduled pass
	if a.cfg.Maintenance.Enabled {
		go func() {
			if err := a.scheduler.RunNow(a.maintenance); err != nil {
				zlog.Warn().Err(err).Msg("initial maintenance pass failed")
			}
		}()
	}
}

func (a *app) stop() {
	a.scheduler.Stop()
	a.broker.Stop()
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// setupRoutes configures all API endpoints and their handlers. Auth routes
// are public; account routes require a JWT and answer only the account owner.
func setupRoutes(router *gin.Engine, validator middleware.TokenValidator, limiter *middleware.RateLimiter, h handlers) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		authGroup.Use(limiter.Handler())
		{
			authGroup.POST("/token", h.auth.GenerateTokenHandler())
		}

		// Account routes
		accountsGroup := v1.Group("/accounts")
		accountsGroup.Use(middleware.JWTAuth(validator), limiter.Handler())
		{
			accountsGroup.POST("", h.accounts.CreateAccountHandler())
			accountsGroup.GET("", h.accounts.ListAccountsHandler())

			account := accountsGroup.Group("/:account_id")
			account.Use(h.accounts.RequireOwner())
			{
				account.GET("", h.accounts.GetAccountHandler())
				account.DELETE("", h.accounts.CloseAccountHandler())
				account.POST("/trades", h.trading.ExecuteTradeHandler())
				account.GET("/trades", h.trading.ListTradesHandler())
				account.GET("/performance", h.performance.GetPerformanceHandler())
				account.GET("/analytics", h.risk.GetAnalyticsHandler())
				account.GET("/events", h.events.StreamHandler())
			}
		}
	}
}
