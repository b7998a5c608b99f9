// Package store persists bots, executions and backtest results with gorm.
package store

import (
	"context"
	"errors"
	"fmt"

	"rulebot/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// StatsDelta is the change one execution makes to a bot's aggregate stats.
type StatsDelta struct {
	IsWin       bool
	ProfitDelta float64
	LossDelta   float64
}

// DeltaFor builds the stats delta for an execution with the given realized profit.
func DeltaFor(profitLoss float64) StatsDelta {
	d := StatsDelta{IsWin: profitLoss > 0}
	if profitLoss > 0 {
		d.ProfitDelta = profitLoss
	} else if profitLoss < 0 {
		d.LossDelta = -profitLoss
	}
	return d
}

// Store is the gorm-backed persistence layer.
type Store struct {
	db *gorm.DB
}

// New creates a Store over an already migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// CreateBot inserts a new bot and fills in its generated id.
func (s *Store) CreateBot(ctx context.Context, bot *models.Bot) error {
	if err := s.db.WithContext(ctx).Create(bot).Error; err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	return nil
}

// GetBot loads a bot by id.
func (s *Store) GetBot(ctx context.Context, id string) (*models.Bot, error) {
	var bot models.Bot
	if err := s.db.WithContext(ctx).First(&bot, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &bot, nil
}

// ListBots returns every bot owned by ownerID, newest first.
func (s *Store) ListBots(ctx context.Context, ownerID string) ([]models.Bot, error) {
	var bots []models.Bot
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at desc").
		Find(&bots).Error
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	return bots, nil
}

// ListBotsByStatus returns every bot in the given status.
func (s *Store) ListBotsByStatus(ctx context.Context, status models.BotStatus) ([]models.Bot, error) {
	var bots []models.Bot
	if err := s.db.WithContext(ctx).Where("status = ?", status).Find(&bots).Error; err != nil {
		return nil, fmt.Errorf("list %s bots: %w", status, err)
	}
	return bots, nil
}

// SaveBot writes the editable fields of a bot. Aggregate stats are left alone;
// they only change through RecordExecution.
func (s *Store) SaveBot(ctx context.Context, bot *models.Bot) error {
	res := s.db.WithContext(ctx).Model(bot).Select(
		"name", "description", "config", "status",
		"setting_max_investment", "setting_stop_loss_pct", "setting_take_profit_pct",
	).Updates(bot)
	if res.Error != nil {
		return fmt.Errorf("save bot %s: %w", bot.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateBotStatus sets the lifecycle status of a bot.
func (s *Store) UpdateBotStatus(ctx context.Context, id string, status models.BotStatus) error {
	res := s.db.WithContext(ctx).Model(&models.Bot{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update bot %s status: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBot removes a bot together with its executions and backtest results.
func (s *Store) DeleteBot(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("bot_id = ?", id).Delete(&models.Execution{}).Error; err != nil {
			return fmt.Errorf("delete executions of bot %s: %w", id, err)
		}
		if err := tx.Where("bot_id = ?", id).Delete(&models.BacktestResult{}).Error; err != nil {
			return fmt.Errorf("delete backtests of bot %s: %w", id, err)
		}
		res := tx.Delete(&models.Bot{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete bot %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// RecordExecution inserts exec and applies delta to the owning bot's stats in
// one transaction, so concurrent recorders never lose an update.
func (s *Store) RecordExecution(ctx context.Context, exec *models.Execution, delta StatsDelta) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(exec).Error; err != nil {
			return fmt.Errorf("create execution: %w", err)
		}

		wins := 0
		if delta.IsWin {
			wins = 1
		}
		res := tx.Model(&models.Bot{}).Where("id = ?", exec.BotID).UpdateColumns(map[string]interface{}{
			"total_trades":   gorm.Expr("total_trades + ?", 1),
			"winning_trades": gorm.Expr("winning_trades + ?", wins),
			"total_profit":   gorm.Expr("total_profit + ?", delta.ProfitDelta),
			"total_loss":     gorm.Expr("total_loss + ?", delta.LossDelta),
		})
		if res.Error != nil {
			return fmt.Errorf("apply stats delta: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		var bot models.Bot
		if err := tx.Select("id", "total_trades", "winning_trades", "total_profit", "total_loss").
			First(&bot, "id = ?", exec.BotID).Error; err != nil {
			return fmt.Errorf("reload stats: %w", notFound(err))
		}
		winRate, roi := Ratios(bot.Stats)
		return tx.Model(&models.Bot{}).Where("id = ?", exec.BotID).UpdateColumns(map[string]interface{}{
			"win_rate": winRate,
			"roi":      roi,
		}).Error
	})
}

// Ratios derives win rate and ROI (both in percent) from the stat counters.
// ROI is measured against total loss and is 0 while there is no loss.
func Ratios(st models.BotStats) (winRate, roi float64) {
	if st.TotalTrades > 0 {
		winRate = float64(st.WinningTrades) / float64(st.TotalTrades) * 100
	}
	if st.TotalLoss > 0 {
		roi = (st.TotalProfit - st.TotalLoss) / st.TotalLoss * 100
	}
	return winRate, roi
}

// ListExecutions returns the most recent executions of a bot.
func (s *Store) ListExecutions(ctx context.Context, botID string, limit int) ([]models.Execution, error) {
	var execs []models.Execution
	err := s.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("executed_at desc").
		Limit(limit).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}

// CreateBacktest inserts a backtest result.
func (s *Store) CreateBacktest(ctx context.Context, result *models.BacktestResult) error {
	if err := s.db.WithContext(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("create backtest result: %w", err)
	}
	return nil
}

// ListBacktests returns the most recent backtest results of a bot.
func (s *Store) ListBacktests(ctx context.Context, botID string, limit int) ([]models.BacktestResult, error) {
	var results []models.BacktestResult
	err := s.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("created_at desc").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("list backtests: %w", err)
	}
	return results, nil
}
