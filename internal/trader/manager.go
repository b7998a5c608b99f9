package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rulebot/internal/config"
	"rulebot/internal/graph"
	"rulebot/internal/marketdata"
	"rulebot/internal/models"
	"rulebot/internal/registry"
	"rulebot/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BotStore is the persistence collaborator of the manager.
type BotStore interface {
	ExecutionRecorder
	CreateBot(ctx context.Context, bot *models.Bot) error
	GetBot(ctx context.Context, id string) (*models.Bot, error)
	ListBots(ctx context.Context, ownerID string) ([]models.Bot, error)
	ListBotsByStatus(ctx context.Context, status models.BotStatus) ([]models.Bot, error)
	SaveBot(ctx context.Context, bot *models.Bot) error
	UpdateBotStatus(ctx context.Context, id string, status models.BotStatus) error
	DeleteBot(ctx context.Context, id string) error
	ListExecutions(ctx context.Context, botID string, limit int) ([]models.Execution, error)
	CreateBacktest(ctx context.Context, result *models.BacktestResult) error
	ListBacktests(ctx context.Context, botID string, limit int) ([]models.BacktestResult, error)
}

// CreateBotRequest holds the fields of a new bot.
type CreateBotRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Config      models.RuleGraph   `json:"config"`
	Settings    models.BotSettings `json:"settings"`
}

// BotUpdate is a partial update; nil fields are left unchanged.
type BotUpdate struct {
	Name        *string             `json:"name,omitempty"`
	Description *string             `json:"description,omitempty"`
	Config      *models.RuleGraph   `json:"config,omitempty"`
	Settings    *models.BotSettings `json:"settings,omitempty"`
}

// BacktestRequest describes one backtest window.
type BacktestRequest struct {
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
	InitialCapital float64   `json:"initialCapital"`
	Symbol         string    `json:"symbol"`
}

// Manager owns bot CRUD, the draft/active/stopped lifecycle and backtests.
type Manager struct {
	logger   *zap.Logger
	cfg      *config.Config
	store    BotStore
	registry registry.ActiveBotRegistry
	market   marketdata.Source
	engine   *Engine
	now      func() time.Time
}

// NewManager creates a bot manager. The engine's per-bot locks are shared so
// lifecycle changes and ticks for one bot never interleave.
func NewManager(logger *zap.Logger, cfg *config.Config, st BotStore, reg registry.ActiveBotRegistry,
	market marketdata.Source, engine *Engine) *Manager {
	return &Manager{
		logger:   logger.Named("manager"),
		cfg:      cfg,
		store:    st,
		registry: reg,
		market:   market,
		engine:   engine,
		now:      time.Now,
	}
}

func validateSettings(s models.BotSettings) error {
	if s.MaxInvestment < 0 {
		return invalidRequest("maxInvestment must not be negative")
	}
	if s.StopLossPct < 0 || s.StopLossPct > 100 {
		return invalidRequest("stopLossPct must be between 0 and 100")
	}
	if s.TakeProfitPct < 0 {
		return invalidRequest("takeProfitPct must not be negative")
	}
	return nil
}

// loadOwned fetches a bot and hides it from anyone but its owner.
func (m *Manager) loadOwned(ctx context.Context, botID, ownerID string) (*models.Bot, error) {
	bot, err := m.store.GetBot(ctx, botID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFoundOrUnauthorized
	}
	if err != nil {
		return nil, persistenceErr("load bot", err)
	}
	if bot.OwnerID != ownerID {
		return nil, ErrNotFoundOrUnauthorized
	}
	return bot, nil
}

func (m *Manager) entryFor(bot *models.Bot) registry.Entry {
	return registry.Entry{
		BotID:     bot.ID,
		Graph:     bot.Config,
		Settings:  bot.Settings,
		LastCheck: m.now(),
	}
}

// CreateBot stores a new bot in draft status. The graph is only validated on start.
func (m *Manager) CreateBot(ctx context.Context, ownerID string, req CreateBotRequest) (*models.Bot, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, invalidRequest("owner is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalidRequest("name is required")
	}
	if err := validateSettings(req.Settings); err != nil {
		return nil, err
	}

	bot := &models.Bot{
		OwnerID:     ownerID,
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
		Settings:    req.Settings,
		Status:      models.BotDraft,
	}
	if err := m.store.CreateBot(ctx, bot); err != nil {
		return nil, persistenceErr("create bot", err)
	}

	m.logger.Info("Bot created", zap.String("bot_id", bot.ID), zap.String("owner_id", ownerID))
	return bot, nil
}

// GetBot returns a bot owned by ownerID.
func (m *Manager) GetBot(ctx context.Context, botID, ownerID string) (*models.Bot, error) {
	return m.loadOwned(ctx, botID, ownerID)
}

// ListBots returns every bot owned by ownerID.
func (m *Manager) ListBots(ctx context.Context, ownerID string) ([]models.Bot, error) {
	bots, err := m.store.ListBots(ctx, ownerID)
	if err != nil {
		return nil, persistenceErr("list bots", err)
	}
	return bots, nil
}

// UpdateBot applies a partial update. An active bot keeps running: its new
// graph must validate and its registry entry is refreshed.
func (m *Manager) UpdateBot(ctx context.Context, botID, ownerID string, upd BotUpdate) (*models.Bot, error) {
	unlock := m.engine.locks.Lock(botID)
	defer unlock()

	bot, err := m.loadOwned(ctx, botID, ownerID)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, invalidRequest("name must not be empty")
		}
		bot.Name = *upd.Name
	}
	if upd.Description != nil {
		bot.Description = *upd.Description
	}
	if upd.Settings != nil {
		if err := validateSettings(*upd.Settings); err != nil {
			return nil, err
		}
		bot.Settings = *upd.Settings
	}
	if upd.Config != nil {
		bot.Config = *upd.Config
	}

	refresh := bot.Status == models.BotActive && (upd.Config != nil || upd.Settings != nil)
	if refresh {
		if err := graph.Validate(bot.Config); err != nil {
			return nil, err
		}
	}

	if err := m.store.SaveBot(ctx, bot); err != nil {
		return nil, persistenceErr("save bot", err)
	}
	if refresh {
		if err := m.registry.Register(ctx, m.entryFor(bot)); err != nil {
			return bot, fmt.Errorf("refresh active bot: %w", err)
		}
	}

	m.logger.Info("Bot updated", zap.String("bot_id", bot.ID), zap.Bool("registry_refreshed", refresh))
	return bot, nil
}

// DeleteBot deregisters the bot if it is active, then removes it.
func (m *Manager) DeleteBot(ctx context.Context, botID, ownerID string) error {
	unlock := m.engine.locks.Lock(botID)
	defer unlock()

	bot, err := m.loadOwned(ctx, botID, ownerID)
	if err != nil {
		return err
	}

	if err := m.registry.Deregister(ctx, bot.ID); err != nil {
		return fmt.Errorf("deregister bot: %w", err)
	}
	if err := m.store.DeleteBot(ctx, bot.ID); err != nil {
		return persistenceErr("delete bot", err)
	}

	m.logger.Info("Bot deleted", zap.String("bot_id", bot.ID), zap.String("previous_status", string(bot.Status)))
	return nil
}

// StartBot validates the graph, registers the bot for live evaluation and
// marks it active. A persistence failure after registration is reported but
// the registration stays in place.
func (m *Manager) StartBot(ctx context.Context, botID, ownerID string) (*models.Bot, error) {
	unlock := m.engine.locks.Lock(botID)
	defer unlock()

	bot, err := m.loadOwned(ctx, botID, ownerID)
	if err != nil {
		return nil, err
	}

	switch bot.Status {
	case models.BotActive:
		return nil, ErrAlreadyActive
	case models.BotStopped:
		return nil, ErrBotStopped
	}
	if err := graph.Validate(bot.Config); err != nil {
		return nil, err
	}

	if err := m.registry.Register(ctx, m.entryFor(bot)); err != nil {
		return nil, fmt.Errorf("register bot: %w", err)
	}
	bot.Status = models.BotActive
	if err := m.store.UpdateBotStatus(ctx, bot.ID, models.BotActive); err != nil {
		m.logger.Error("Bot registered but status not persisted", zap.String("bot_id", bot.ID), zap.Error(err))
		return bot, persistenceErr("mark bot active", err)
	}

	m.logger.Info("Bot started", zap.String("bot_id", bot.ID),
		zap.Int("nodes", len(bot.Config.Nodes)), zap.Int("edges", len(bot.Config.Edges)))
	return bot, nil
}

// StopBot deregisters an active bot and marks it stopped.
func (m *Manager) StopBot(ctx context.Context, botID, ownerID string) (*models.Bot, error) {
	unlock := m.engine.locks.Lock(botID)
	defer unlock()

	bot, err := m.loadOwned(ctx, botID, ownerID)
	if err != nil {
		return nil, err
	}
	if bot.Status != models.BotActive {
		return nil, ErrNotActive
	}

	if err := m.registry.Deregister(ctx, bot.ID); err != nil {
		return nil, fmt.Errorf("deregister bot: %w", err)
	}
	bot.Status = models.BotStopped
	if err := m.store.UpdateBotStatus(ctx, bot.ID, models.BotStopped); err != nil {
		m.logger.Error("Bot deregistered but status not persisted", zap.String("bot_id", bot.ID), zap.Error(err))
		return bot, persistenceErr("mark bot stopped", err)
	}

	m.logger.Info("Bot stopped", zap.String("bot_id", bot.ID))
	return bot, nil
}

// Restore re-registers every persisted active bot, for use at process start.
// Bots whose graph no longer validates are skipped.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	bots, err := m.store.ListBotsByStatus(ctx, models.BotActive)
	if err != nil {
		return 0, persistenceErr("list active bots", err)
	}

	restored := 0
	for i := range bots {
		bot := &bots[i]
		if err := graph.Validate(bot.Config); err != nil {
			m.logger.Warn("Not restoring bot with invalid graph", zap.String("bot_id", bot.ID), zap.Error(err))
			continue
		}
		if err := m.registry.Register(ctx, m.entryFor(bot)); err != nil {
			return restored, fmt.Errorf("register bot %s: %w", bot.ID, err)
		}
		restored++
	}

	m.logger.Info("Active bots restored", zap.Int("count", restored))
	return restored, nil
}

func (m *Manager) clampLimit(limit int) int {
	if limit <= 0 {
		limit = m.cfg.API.DefaultLimit
	}
	if m.cfg.API.MaxLimit > 0 && limit > m.cfg.API.MaxLimit {
		limit = m.cfg.API.MaxLimit
	}
	return limit
}

// ListExecutions returns the most recent executions of a bot.
func (m *Manager) ListExecutions(ctx context.Context, botID, ownerID string, limit int) ([]models.Execution, error) {
	if _, err := m.loadOwned(ctx, botID, ownerID); err != nil {
		return nil, err
	}
	execs, err := m.store.ListExecutions(ctx, botID, m.clampLimit(limit))
	if err != nil {
		return nil, persistenceErr("list executions", err)
	}
	return execs, nil
}

// ListBacktests returns the most recent backtest results of a bot.
func (m *Manager) ListBacktests(ctx context.Context, botID, ownerID string, limit int) ([]models.BacktestResult, error) {
	if _, err := m.loadOwned(ctx, botID, ownerID); err != nil {
		return nil, err
	}
	results, err := m.store.ListBacktests(ctx, botID, m.clampLimit(limit))
	if err != nil {
		return nil, persistenceErr("list backtests", err)
	}
	return results, nil
}

func validateBacktest(req BacktestRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return invalidRequest("symbol is required")
	}
	if req.InitialCapital <= 0 {
		return invalidRequest("initialCapital must be positive")
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return invalidRequest("startDate and endDate are required")
	}
	if req.EndDate.Before(req.StartDate) {
		return invalidRequest("endDate must not be before startDate")
	}
	return nil
}

// RunBacktest replays the bot's graph over the historical window and stores
// the result. When storing fails the computed result is still returned.
func (m *Manager) RunBacktest(ctx context.Context, botID, ownerID string, req BacktestRequest) (*models.BacktestResult, error) {
	if err := validateBacktest(req); err != nil {
		return nil, err
	}
	bot, err := m.loadOwned(ctx, botID, ownerID)
	if err != nil {
		return nil, err
	}
	return m.backtest(ctx, bot, req)
}

func (m *Manager) backtest(ctx context.Context, bot *models.Bot, req BacktestRequest) (*models.BacktestResult, error) {
	if err := graph.Validate(bot.Config); err != nil {
		return nil, err
	}

	l := m.logger.With(zap.String("bot_id", bot.ID), zap.String("symbol", req.Symbol),
		zap.Time("start", req.StartDate), zap.Time("end", req.EndDate))

	samples, err := m.market.History(ctx, req.Symbol, req.StartDate, req.EndDate)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.Error("Failed to load historical data", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrMarketDataUnavailable, err)
	}
	if len(samples) < minHistoricalSamples {
		return nil, fmt.Errorf("%w: got %d samples", ErrNoHistoricalData, len(samples))
	}
	if limit := m.cfg.Backtest.MaxSamples; limit > 0 && len(samples) > limit {
		return nil, invalidRequest("window has %d samples, limit is %d", len(samples), limit)
	}

	sim, err := Simulate(ctx, bot.Config, bot.Settings, samples, req.Symbol, req.InitialCapital)
	if err != nil {
		return nil, err
	}

	result := &models.BacktestResult{
		BotID:          bot.ID,
		Symbol:         req.Symbol,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		InitialCapital: req.InitialCapital,
		FinalCapital:   sim.FinalCapital,
		Trades:         sim.Trades,
		EquityCurve:    sim.EquityCurve,
		Metrics:        ComputeMetrics(sim.Trades, sim.EquityCurve, req.InitialCapital, sim.FinalCapital),
	}

	if err := m.store.CreateBacktest(ctx, result); err != nil {
		l.Error("Failed to store backtest result", zap.Error(err))
		return result, persistenceErr("store backtest", err)
	}

	l.Info("Backtest complete",
		zap.String("backtest_id", result.ID),
		zap.Int("samples", len(samples)),
		zap.Int("trades", len(result.Trades)),
		zap.Float64("final_capital", result.FinalCapital),
		zap.Float64("roi", result.Metrics.ROI))
	return result, nil
}

// RunBacktestBatch runs several windows for one bot on a bounded worker pool.
// Results keep the order of reqs; the first failure cancels the rest.
func (m *Manager) RunBacktestBatch(ctx context.Context, botID, ownerID string, reqs []BacktestRequest) ([]*models.BacktestResult, error) {
	if len(reqs) == 0 {
		return nil, invalidRequest("at least one backtest is required")
	}
	for i, req := range reqs {
		if err := validateBacktest(req); err != nil {
			return nil, fmt.Errorf("backtest %d: %w", i, err)
		}
	}
	bot, err := m.loadOwned(ctx, botID, ownerID)
	if err != nil {
		return nil, err
	}

	workers := m.cfg.Backtest.Workers
	if workers <= 0 {
		workers = 1
	}

	results := make([]*models.BacktestResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := m.backtest(gctx, bot, req)
			if err != nil {
				return fmt.Errorf("backtest %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
