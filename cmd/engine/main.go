package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rulebot/internal/config"
	"rulebot/internal/database"
	"rulebot/internal/logger"
	"rulebot/internal/marketdata"
	"rulebot/internal/registry"
	"rulebot/internal/store"
	"rulebot/internal/trader"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")
	st := store.New(db)

	reg, closeRegistry, err := newRegistry(ctx, &cfg)
	if err != nil {
		log.Fatal("Failed to initialize active bot registry", zap.Error(err))
	}
	defer closeRegistry()
	log.Info("Active bot registry ready", zap.String("backend", cfg.Registry.Backend))

	source := newSource(&cfg, log)

	engine := trader.NewEngine(log, &cfg, st, reg)
	manager := trader.NewManager(log, &cfg, st, reg, source, engine)
	if _, err := manager.Restore(ctx); err != nil {
		log.Fatal("Failed to restore active bots", zap.Error(err))
	}

	api := trader.NewAPIServer(log, &cfg, manager, engine)
	api.Start()

	scheduler := trader.NewScheduler(log, &cfg, source, engine)
	g, gctx := errgroup.WithContext(ctx)
	switch cfg.Scheduler.Mode {
	case "poll":
		g.Go(func() error {
			scheduler.Run(gctx)
			return nil
		})
	case "stream":
		feed := marketdata.NewStreamFeed(cfg.MarketData.WSURL, cfg.Scheduler.Symbols, log)
		g.Go(func() error {
			return feed.Run(gctx, scheduler.Dispatch)
		})
	default:
		log.Info("Scheduler disabled, ticks are accepted on the API only")
	}

	<-ctx.Done()
	if err := g.Wait(); err != nil {
		log.Error("Tick source stopped with error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server cleanly", zap.Error(err))
	}

	log.Info("Engine has been shut down.")
}

func newRegistry(ctx context.Context, cfg *config.Config) (registry.ActiveBotRegistry, func(), error) {
	if cfg.Registry.Backend != "redis" {
		return registry.NewMemory(), func() {}, nil
	}
	r, err := registry.NewRedis(ctx, registry.RedisConfig{
		Addr:     cfg.Registry.Redis.Addr,
		Password: cfg.Registry.Redis.Password,
		DB:       cfg.Registry.Redis.DB,
		Key:      cfg.Registry.Redis.Key,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, func() { _ = r.Close() }, nil
}

func newSource(cfg *config.Config, log *zap.Logger) marketdata.Source {
	if cfg.MarketData.Synthetic {
		log.Info("Using synthetic market data")
		return marketdata.NewSynthetic()
	}
	return marketdata.NewRestClient(&cfg.MarketData, log)
}
