package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/prxgr4mmer/perps-metrics-service/internal/adapters/chain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/adapters/exchange"
	httpAdapter "github.com/prxgr4mmer/perps-metrics-service/internal/adapters/http"
	"github.com/prxgr4mmer/perps-metrics-service/internal/adapters/memory"
	"github.com/prxgr4mmer/perps-metrics-service/internal/adapters/postgres"
	"github.com/prxgr4mmer/perps-metrics-service/internal/adapters/redis"
	"github.com/prxgr4mmer/perps-metrics-service/internal/adapters/statsapi"
	"github.com/prxgr4mmer/perps-metrics-service/internal/adapters/subgraph"
	"github.com/prxgr4mmer/perps-metrics-service/internal/config"
	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/feed"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/internal/services"
	"github.com/prxgr4mmer/perps-metrics-service/internal/worker"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/metrics"
)

const (
	metricsNamespace = "perps"
	poolSourceID     = domain.SourceID("pool")
)

var distributionLabels = struct {
	staked, primary, secondary, wallets services.DistributionLabel
}{
	staked:    services.DistributionLabel{Label: "staked", Color: "#2d42fc"},
	primary:   services.DistributionLabel{Label: "in primary liquidity", Color: "#0598fa"},
	secondary: services.DistributionLabel{Label: "in secondary liquidity", Color: "#4353fa"},
	wallets:   services.DistributionLabel{Label: "in wallets", Color: "#5c0af5"},
}

func main() {
	root := &cobra.Command{
		Use:          "perps-metrics",
		Short:        "Perpetuals exchange dashboard metrics service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (json, text)")
	root.PersistentFlags().String("db", "", "Postgres URL")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh poller and the HTTP API",
		RunE:  runServe,
	}

	serveCmd.Flags().Int("port", 0, "HTTP port")
	serveCmd.Flags().String("rpc", "", "chain RPC URL")
	serveCmd.Flags().String("redis", "", "Redis address for last known prices")
	serveCmd.Flags().Duration("interval", 0, "refresh interval")

	root.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrate(postgres.Migrate),
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE:  runMigrate(postgres.MigrateDown),
	})

	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration without validating it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	return config.Load(cfgFile, cmd.Flags())
}

func runMigrate(migrate func(config.DatabaseConfig, *slog.Logger) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := initLogger(cfg.Logging)

		if cfg.Database.URL == "" {
			return fmt.Errorf("database URL is required")
		}
		return migrate(cfg.Database, logger)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting perps metrics service", "chain_id", cfg.Chain.ChainID)

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build and start application
	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	// Start application components
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	// Wait for shutdown signal
	waitForShutdown(ctx, cancel, app, logger)
	return nil
}

func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Application holds all components
type Application struct {
	db         *postgres.DB
	rpc        []*ethclient.Client
	redis      *goredis.Client
	loop       *feed.EventLoop
	httpServer *httpAdapter.Server
	poller     *worker.Poller
	logger     *slog.Logger
}

func buildApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.Info("building application")

	app := &Application{logger: logger}

	// 1. Infrastructure Layer - Chain
	rpcClient, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, err
	}
	app.rpc = append(app.rpc, rpcClient)

	chainClient := chain.NewClient(
		rpcClient,
		chain.Contracts{
			Vault:       cfg.Chain.Vault,
			PoolManager: cfg.Chain.PoolManager,
			Reader:      cfg.Chain.Reader,
		},
		chain.WithRetry(cfg.Chain.MaxRetries, cfg.Chain.RetryBackoff),
		chain.WithLogger(logger),
	)

	var secondaryTokens ports.TokenReader
	if cfg.Chain.SecondaryRPCURL != "" && cfg.Chain.SecondaryGovToken != "" {
		secondaryRPC, err := chain.Dial(ctx, cfg.Chain.SecondaryRPCURL)
		if err != nil {
			app.close()
			return nil, err
		}
		app.rpc = append(app.rpc, secondaryRPC)
		secondaryTokens = chain.NewClient(
			secondaryRPC,
			chain.Contracts{},
			chain.WithRetry(cfg.Chain.MaxRetries, cfg.Chain.RetryBackoff),
			chain.WithLogger(logger.With("chain", "secondary")),
		)
	}

	var priceSources []ports.PriceSource
	if len(cfg.Chain.Pools) > 0 {
		pools := make([]chain.PoolConfig, len(cfg.Chain.Pools))
		for i, p := range cfg.Chain.Pools {
			pools[i] = chain.PoolConfig(p)
		}
		priceSources = append(priceSources, chain.NewPoolPriceSource(poolSourceID, rpcClient, pools, logger))
	}

	// 2. Infrastructure Layer - HTTP sources
	if ex := cfg.Prices.Exchange; len(ex.Symbols) > 0 {
		priceSources = append(priceSources, exchange.NewClient(
			ex.Symbols,
			exchange.WithBaseURL(ex.BaseURL),
			exchange.WithSourceID(domain.SourceID(ex.SourceID)),
			exchange.WithTimeout(ex.Timeout),
			exchange.WithRetry(ex.MaxRetries, ex.RetryBackoff),
			exchange.WithLogger(logger),
		))
	}

	var stats ports.StatsClient
	if cfg.Stats.BaseURL != "" {
		stats = statsapi.NewClient(
			cfg.Stats.BaseURL,
			statsapi.WithTimeout(cfg.Stats.Timeout),
			statsapi.WithRetry(cfg.Stats.MaxRetries, cfg.Stats.RetryBackoff),
			statsapi.WithLogger(logger),
		)
	}

	var (
		ledgerSource ports.FeeLedgerSource
		barSource    ports.BarSource
	)
	if cfg.Subgraph.URL != "" {
		indexer := subgraph.NewClient(
			cfg.Subgraph.URL,
			subgraph.WithTimeout(cfg.Subgraph.Timeout),
			subgraph.WithRetry(cfg.Subgraph.MaxRetries, cfg.Subgraph.RetryBackoff),
			subgraph.WithTokens(cfg.Subgraph.Tokens),
			subgraph.WithLogger(logger),
		)
		ledgerSource, barSource = indexer, indexer
	}

	// 3. Infrastructure Layer - Database
	var (
		barRepo ports.BarRepository
		feeRepo ports.FeeRepository
	)
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			app.close()
			return nil, err
		}
		app.db = db

		// Run migrations
		if err := db.Migrate(); err != nil {
			app.close()
			return nil, err
		}

		barRepo = postgres.NewBarRepository(db)
		feeRepo = postgres.NewFeeRepository(db)
	} else {
		logger.Warn("no database configured, history and fee ledger are not persisted")
	}

	// 4. Infrastructure Layer - Last known prices
	var lastKnown ports.LastKnownStore
	if cfg.Redis.Addr != "" {
		client, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			app.close()
			return nil, err
		}
		app.redis = client
		lastKnown = redis.NewLastKnownStore(client, cfg.Redis.KeyPrefix, cfg.Prices.LastKnownTTL, logger)
	} else {
		lastKnown = memory.NewLastKnownStore()
	}

	// 5. Service Layer
	recorder := metrics.New(metricsNamespace)
	store := services.NewSnapshotStore()
	session := services.NewSession(cfg.Chain.ChainID, logger)

	metricsService := services.NewMetricsService(barRepo, stats, store, session, recorder, logger)

	historyService := services.NewHistoryService(barSource, barRepo, cfg.Poller.HistoryLimit, logger)

	if ledgerSource != nil && feeRepo != nil {
		ledgerSource = services.NewLedgerCache(ledgerSource, feeRepo, metricsService, cfg.Subgraph.LedgerFallback, logger)
	}

	reconciler := services.NewPriceReconciler(
		services.ReconcilerConfig{
			Sources:      cfg.Prices.SourceIDs(),
			Primary:      cfg.Prices.PrimaryIDs(),
			LastKnownTTL: cfg.Prices.LastKnownTTL,
		},
		lastKnown,
		metricsService,
		logger,
	)

	calculator := services.NewCalculator(services.CalculatorConfig{
		GovAsset:             cfg.Prices.GovAsset,
		RewardAsset:          cfg.Prices.RewardAsset,
		DefaultMaxUsdgAmount: fixedpoint.Expand(cfg.Chain.DefaultMaxUsdg, domain.USDGDecimals),
	})

	refreshService := services.NewRefreshService(
		services.RefreshConfig{
			Tokens:                 cfg.Chain.Tokens,
			VaultSource:            domain.SourceID(cfg.Prices.VaultSource),
			PriceAssets:            cfg.Prices.Assets,
			GovToken:               cfg.Chain.GovToken,
			SecondaryGovToken:      cfg.Chain.SecondaryGovToken,
			IndexToken:             cfg.Chain.IndexToken,
			NonCirculatingHolders:  cfg.Chain.NonCirculatingHolders,
			LiquidityPrimaryPool:   cfg.Chain.LiquidityPrimaryPool,
			LiquiditySecondaryPool: cfg.Chain.LiquiditySecondaryPool,
			StakingPool:            cfg.Chain.StakingPool,
			RewardDistributor:      cfg.Chain.RewardDistributor,
			RewardDecimals:         cfg.Chain.RewardDecimals,
			Staked:                 distributionLabels.staked,
			LiquidityPrimary:       distributionLabels.primary,
			LiquiditySecondary:     distributionLabels.secondary,
			Wallets:                distributionLabels.wallets,
			MaxConcurrentReads:     cfg.Poller.MaxConcurrentReads,
		},
		services.RefreshDeps{
			Prices:          priceSources,
			Vault:           chainClient,
			Tokens:          chainClient,
			SecondaryTokens: secondaryTokens,
			Stats:           stats,
			Ledger:          ledgerSource,
			Reconciler:      reconciler,
			Calculator:      calculator,
			Distribution:    services.NewDistributionAggregator(logger),
			Composer:        services.NewPoolComposer(),
			Gate:            services.NewSequenceGate(),
			Session:         session,
			Store:           store,
			Metrics:         metricsService,
		},
		logger,
	)

	// 6. Background Workers
	app.poller = worker.NewPoller(
		refreshService,
		cfg.Poller.Interval,
		logger,
		worker.WithPruner(historyService, time.Duration(cfg.Poller.RetentionDays)*24*time.Hour),
	)

	// 7. Transport Layer - data feed and HTTP Server
	app.loop = feed.NewEventLoop(logger)
	datafeed := feed.NewAdapter(app.loop, historyService, logger)

	app.httpServer = httpAdapter.NewServer(
		cfg.Server,
		httpAdapter.HandlerDeps{
			Snapshots: store,
			Session:   session,
			Trigger:   app.poller,
			Metrics:   metricsService,
			Health:    metricsService,
			Feed:      datafeed,

			IndexAsset: cfg.Prices.IndexAsset,
		},
		recorder,
		logger,
	)

	logger.Info("application built successfully",
		"price_sources", len(priceSources),
		"tokens", len(cfg.Chain.Tokens),
		"persistence", app.db != nil,
		"redis", app.redis != nil,
	)

	return app, nil
}

func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting application components")

	a.loop.Start(ctx)

	// Start poller in background
	go func() {
		if err := a.poller.Start(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("poller error", "error", err)
		}
	}()

	// Start HTTP server in background (will block until shutdown)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			a.logger.Error("http server error", "error", err)
		}
	}()

	a.logger.Info("application started",
		"http_addr", a.httpServer.Addr(),
	)

	return nil
}

func (a *Application) Shutdown() {
	a.logger.Info("shutting down application")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop poller first
	if err := a.poller.Stop(); err != nil {
		a.logger.Error("failed to stop poller", "error", err)
	}

	// Stop HTTP server
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shutdown http server", "error", err)
	}

	a.close()

	a.logger.Info("application shutdown complete")
}

// close releases every connection opened so far
func (a *Application) close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	for _, c := range a.rpc {
		c.Close()
	}
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, app *Application, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		app.Shutdown()
	case <-ctx.Done():
		app.Shutdown()
	}
}
