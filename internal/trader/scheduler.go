package trader

import (
	"context"
	"time"

	"rulebot/internal/config"
	"rulebot/internal/marketdata"
	"rulebot/internal/models"

	"go.uber.org/zap"
)

// TickDispatcher evaluates one sample against the active bots.
type TickDispatcher interface {
	OnTickAll(ctx context.Context, sample models.MarketSample) error
}

// Scheduler is the tick caller for the engine: it polls the latest sample of
// each configured symbol on a fixed interval, or forwards samples pushed by a
// stream. Every dispatch is bounded by the tick timeout.
type Scheduler struct {
	logger   *zap.Logger
	source   marketdata.Source
	engine   TickDispatcher
	symbols  []string
	interval time.Duration
	timeout  time.Duration
}

// NewScheduler creates a scheduler from the scheduler section of cfg.
func NewScheduler(logger *zap.Logger, cfg *config.Config, source marketdata.Source, engine TickDispatcher) *Scheduler {
	return &Scheduler{
		logger:   logger.Named("scheduler"),
		source:   source,
		engine:   engine,
		symbols:  cfg.Scheduler.Symbols,
		interval: time.Duration(cfg.Scheduler.TickInterval) * time.Second,
		timeout:  time.Duration(cfg.Scheduler.TickTimeout) * time.Second,
	}
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Error("Tick interval must be positive, scheduler not started", zap.Duration("interval", s.interval))
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Starting tick loop", zap.Duration("interval", s.interval), zap.Strings("symbols", s.symbols))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping tick loop...")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll fetches the latest sample of every symbol and dispatches it.
func (s *Scheduler) Poll(ctx context.Context) {
	for _, symbol := range s.symbols {
		sample, err := s.fetch(ctx, symbol)
		if err != nil {
			s.logger.Error("Failed to fetch latest sample", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		s.Dispatch(ctx, sample)
	}
}

func (s *Scheduler) fetch(ctx context.Context, symbol string) (models.MarketSample, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.source.Latest(ctx, symbol)
}

// Dispatch hands one sample to the engine. Its signature matches
// marketdata.TickHandler so it can consume a stream directly.
func (s *Scheduler) Dispatch(ctx context.Context, sample models.MarketSample) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.engine.OnTickAll(ctx, sample); err != nil {
		s.logger.Error("Tick evaluation reported errors", zap.String("symbol", sample.Symbol), zap.Error(err))
	}
}

func (s *Scheduler) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
