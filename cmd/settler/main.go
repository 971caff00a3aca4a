package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"betengine/internal/config"
	cronrunner "betengine/internal/cron"
	"betengine/internal/db"
	"betengine/internal/handler"
	"betengine/internal/ledger"
	"betengine/internal/logger"
	"betengine/internal/metrics"
	"betengine/internal/models"
	"betengine/internal/outcomefeed"
	"betengine/internal/pricefeed"
	"betengine/internal/repository"
	gormrepository "betengine/internal/repository/gorm"
	"betengine/internal/resolver"
	"betengine/internal/service"

	_ "betengine/docs"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("BET_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("BET_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	limits, err := cfg.Betting.Limits()
	if err != nil {
		logger.Fatal("betting limits invalid", zap.Error(err))
	}
	book := &ledger.Ledger{Repo: store, Logger: logger}
	settler := &service.SettlementService{
		Repo:   store,
		Ledger: book,
		Logger: logger,
		Limits: limits,
	}

	restPrices := pricefeed.NewClient(cfg.PriceFeed, logger)
	feed := pricefeed.NewFeed(restPrices, cfg.PriceFeed.Stream.StaleAfter, logger)
	outcomeHTTP := &http.Client{Timeout: cfg.OutcomeFeed.Timeout}
	outcomes := outcomefeed.NewClient(outcomeHTTP, cfg.OutcomeFeed.BaseURL)

	predictionLoop := &resolver.PredictionResolver{
		Repo:    store,
		Settler: settler,
		Prices:  feed,
		Logger:  logger,
		Config:  cfg.Resolver,
		Flags:   settingsSvc,
	}
	positionLoop := &resolver.PositionResolver{
		Repo:    store,
		Settler: settler,
		Prices:  feed,
		Logger:  logger,
		Config:  cfg.Resolver,
		Flags:   settingsSvc,
	}
	marketLoop := &resolver.MarketResolver{
		Repo:     store,
		Settler:  settler,
		Outcomes: outcomes,
		Logger:   logger,
		Config:   cfg.Resolver,
		Flags:    settingsSvc,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, App: "betengine", Env: cfg.App.Env}
	healthHandler.Register(engine)
	resolverHandler := &handler.ResolverHandler{
		Predictions: predictionLoop,
		Positions:   positionLoop,
		Markets:     marketLoop,
		Repo:        store,
	}
	resolverHandler.Register(engine)
	feedsHandler := &handler.FeedsHandler{Feed: feed, Outcomes: outcomes, Repo: store}
	feedsHandler.Register(engine)
	settingsHandler := &handler.SettingsHandler{Repo: store, Settings: settingsSvc}
	settingsHandler.Register(engine)
	accountsHandler := &handler.AccountsHandler{Repo: store}
	accountsHandler.Register(engine)

	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	baseCtx := ctx

	cronRunner := cronrunner.New(logger, baseCtx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add("pending_promote", cfg.Cron.PendingPromote, func(ctx context.Context) {
			if !settingsSvc.IsEnabled(ctx, service.FeaturePendingPromote, true) {
				return
			}
			cutoff := time.Now().UTC().Add(-cfg.Resolver.PendingPromoteAfter)
			var promoted int64
			err := store.InTx(ctx, func(tx *gorm.DB) error {
				n, err := store.PromoteStalePendingTx(ctx, tx, cutoff)
				promoted = n
				return err
			})
			if err != nil {
				logger.Warn("pending promote sweep failed", zap.Error(err))
				return
			}
			if promoted > 0 {
				logger.Info("promoted stale pending positions", zap.Int64("count", promoted))
			}
		})
		if err != nil {
			logger.Warn("cron register pending promote failed", zap.Error(err))
		}

		_, err = cronRunner.Add("feed_health", cfg.Cron.FeedHealth, func(ctx context.Context) {
			snapshotFeedHealth(ctx, store, feed, outcomes, logger)
		})
		if err != nil {
			logger.Warn("cron register feed health failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	if cfg.PriceFeed.Stream.Enabled && settingsSvc.IsEnabled(baseCtx, service.FeaturePriceStream, true) {
		stream := pricefeed.NewStream(pricefeed.StreamOptions{
			URL:               cfg.PriceFeed.Stream.URL,
			SymbolProvider:    store.ListOpenSymbols,
			HeartbeatInterval: cfg.PriceFeed.Stream.HeartbeatInterval,
			PingTimeout:       cfg.PriceFeed.Stream.PingTimeout,
			BackoffMin:        cfg.PriceFeed.Stream.BackoffMin,
			BackoffMax:        cfg.PriceFeed.Stream.BackoffMax,
			Logger:            logger,
		})
		go func() {
			if err := feed.RunStream(baseCtx, stream); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("price stream stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := predictionLoop.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("prediction resolver stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := positionLoop.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("position resolver stopped", zap.Error(err))
		}
	}()
	if strings.TrimSpace(cfg.OutcomeFeed.BaseURL) != "" {
		go func() {
			if err := marketLoop.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("market resolver stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("outcome feed not configured, market resolver idle")
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func snapshotFeedHealth(ctx context.Context, store repository.Repository, feed *pricefeed.Feed, outcomes *outcomefeed.Client, logger *zap.Logger) {
	for _, src := range feed.Health() {
		item := &models.FeedSourceStatus{
			Name:       src.Name,
			SourceType: "price",
			Endpoint:   src.Endpoint,
			Status:     src.Status,
			LastPollAt: src.LastPollAt,
			LastError:  src.LastError,
		}
		if err := store.UpsertFeedSourceStatus(ctx, item); err != nil {
			logger.Warn("feed health snapshot failed", zap.String("source", src.Name), zap.Error(err))
		}
	}
	oh := outcomes.Health()
	item := &models.FeedSourceStatus{
		Name:       "outcome_feed",
		SourceType: "outcome",
		Endpoint:   oh.Endpoint,
		Status:     oh.Status,
		LastPollAt: oh.LastPollAt,
		LastError:  oh.LastError,
	}
	if err := store.UpsertFeedSourceStatus(ctx, item); err != nil {
		logger.Warn("feed health snapshot failed", zap.String("source", "outcome_feed"), zap.Error(err))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
