package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rulebot/internal/config"
	"rulebot/internal/graph"
	"rulebot/internal/models"
	"rulebot/internal/registry"
	"rulebot/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ExecutionRecorder persists executions together with their stats delta.
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, exec *models.Execution, delta store.StatsDelta) error
}

// Engine evaluates active bots against incoming ticks. It owns no timer;
// callers decide when and how often OnTick runs.
type Engine struct {
	logger   *zap.Logger
	recorder ExecutionRecorder
	registry registry.ActiveBotRegistry
	workers  int
	locks    *keyedMutex
	now      func() time.Time
}

// NewEngine creates a new live evaluation engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, recorder ExecutionRecorder, reg registry.ActiveBotRegistry) *Engine {
	workers := cfg.Engine.TickWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		logger:   logger.Named("engine"),
		recorder: recorder,
		registry: reg,
		workers:  workers,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// OnTick evaluates one sample against an active bot and records an execution
// for every action reached from a firing trigger. A bot that is not active is
// a no-op. A trigger that stays true fires again on every tick.
//
// Persistence failures are logged and returned joined; they never stop the
// remaining actions of the tick from being recorded.
func (e *Engine) OnTick(ctx context.Context, botID string, sample models.MarketSample) error {
	unlock := e.locks.Lock(botID)
	defer unlock()

	entry, ok, err := e.registry.Get(ctx, botID)
	if err != nil {
		return fmt.Errorf("lookup active bot %s: %w", botID, err)
	}
	if !ok {
		return nil
	}

	l := e.logger.With(zap.String("bot_id", botID), zap.String("symbol", sample.Symbol))

	var errs []error
	for _, fired := range graph.Fire(entry.Graph, sample) {
		l.Debug("Trigger fired",
			zap.String("trigger", fired.Trigger.ID),
			zap.Int("actions", len(fired.Actions)))

		for _, action := range fired.Actions {
			side, ok := graph.SideOf(action)
			if !ok {
				l.Warn("Skipping action with unknown order side",
					zap.String("action", action.ID), zap.String("side", string(action.Data.OrderSide)))
				continue
			}
			exec, ok := e.buildExecution(entry, fired.Trigger, action, side, sample)
			if !ok {
				l.Warn("Skipping action without a usable price or size",
					zap.String("action", action.ID), zap.Float64("price", sample.Price))
				continue
			}
			if err := e.recorder.RecordExecution(ctx, exec, store.DeltaFor(exec.ProfitLoss)); err != nil {
				l.Error("Failed to record execution", zap.String("action", action.ID), zap.Error(err))
				errs = append(errs, persistenceErr("record execution", err))
				continue
			}
			l.Info("Execution recorded",
				zap.String("execution_id", exec.ID),
				zap.String("side", string(exec.Side)),
				zap.Float64("quantity", exec.Quantity),
				zap.Float64("price", exec.Price))
		}
	}

	if err := e.registry.Touch(ctx, botID, e.now()); err != nil {
		l.Warn("Failed to update last check", zap.Error(err))
		errs = append(errs, fmt.Errorf("touch active bot %s: %w", botID, err))
	}
	return errors.Join(errs...)
}

// buildExecution sizes an action as SizePercent of the bot's MaxInvestment.
func (e *Engine) buildExecution(entry registry.Entry, trigger, action models.Node, side models.OrderSide, sample models.MarketSample) (*models.Execution, bool) {
	value := entry.Settings.MaxInvestment * action.Data.SizePercent / 100
	if sample.Price <= 0 || value <= 0 {
		return nil, false
	}

	symbol := action.Data.Symbol
	if symbol == "" {
		symbol = sample.Symbol
	}
	return &models.Execution{
		BotID:              entry.BotID,
		Symbol:             symbol,
		Side:               side,
		Quantity:           value / sample.Price,
		Price:              sample.Price,
		TotalValue:         value,
		TriggeringRuleName: trigger.Name(),
		MarketSnapshot:     sample,
		ExecutedAt:         e.now(),
	}, true
}

// OnTickAll routes one sample to every active bot with an action on its symbol.
// Bots are evaluated in parallel; one bot's failure never affects another.
func (e *Engine) OnTickAll(ctx context.Context, sample models.MarketSample) error {
	entries, err := e.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list active bots: %w", err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(e.workers)

	for _, entry := range entries {
		if !entry.Wants(sample.Symbol) {
			continue
		}
		botID := entry.BotID
		g.Go(func() error {
			if err := e.OnTick(ctx, botID, sample); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("bot %s: %w", botID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// keyedMutex hands out one mutex per key and frees it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
