package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"rulebot/internal/database"
	"rulebot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupStore opens a private shared-cache in-memory database so every
// connection in gorm's pool sees the same schema.
func setupStore(t *testing.T) *Store {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return New(db)
}

func newBot(owner string) *models.Bot {
	return &models.Bot{
		OwnerID: owner,
		Name:    "breakout",
		Config: models.RuleGraph{
			Nodes: []models.Node{
				{ID: "t1", Kind: models.NodeTrigger, Data: models.NodeData{Condition: "price", Operator: "gt", Threshold: 100}},
				{ID: "a1", Kind: models.NodeAction, Data: models.NodeData{OrderSide: models.SideBuy, SizePercent: 10, Symbol: "BTC"}},
			},
			Edges: []models.Edge{{Source: "t1", Target: "a1"}},
		},
		Settings: models.BotSettings{MaxInvestment: 1000},
		Status:   models.BotDraft,
	}
}

func TestStore_BotRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	bot := newBot("alice")
	require.NoError(t, s.CreateBot(ctx, bot))
	assert.NotEmpty(t, bot.ID)

	loaded, err := s.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, bot.Config, loaded.Config)
	assert.Equal(t, 1000.0, loaded.Settings.MaxInvestment)
	assert.Equal(t, models.BotDraft, loaded.Status)

	loaded.Name = "renamed"
	loaded.Settings.MaxInvestment = 0
	require.NoError(t, s.SaveBot(ctx, loaded))
	require.NoError(t, s.UpdateBotStatus(ctx, bot.ID, models.BotActive))

	reloaded, err := s.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", reloaded.Name)
	assert.Equal(t, 0.0, reloaded.Settings.MaxInvestment)
	assert.Equal(t, models.BotActive, reloaded.Status)

	active, err := s.ListBotsByStatus(ctx, models.BotActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	owned, err := s.ListBots(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	_, err = s.GetBot(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateBotStatus(ctx, "missing", models.BotActive), ErrNotFound)
}

func TestStore_RecordExecution(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	bot := newBot("alice")
	require.NoError(t, s.CreateBot(ctx, bot))

	for i, pl := range []float64{50, -20, 30} {
		exec := &models.Execution{
			BotID:      bot.ID,
			Symbol:     "BTC",
			Side:       models.SideSell,
			ProfitLoss: pl,
			ExecutedAt: time.Unix(int64(i), 0),
		}
		require.NoError(t, s.RecordExecution(ctx, exec, DeltaFor(pl)))
	}

	loaded, err := s.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Stats.TotalTrades)
	assert.Equal(t, int64(2), loaded.Stats.WinningTrades)
	assert.InDelta(t, 66.67, loaded.Stats.WinRate, 0.01)
	assert.Equal(t, 80.0, loaded.Stats.TotalProfit)
	assert.Equal(t, 20.0, loaded.Stats.TotalLoss)
	assert.InDelta(t, 300.0, loaded.Stats.ROI, 1e-9)

	execs, err := s.ListExecutions(ctx, bot.ID, 2)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, 30.0, execs[0].ProfitLoss) // newest first
}

func TestStore_RecordExecution_Concurrent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	bot := newBot("alice")
	require.NoError(t, s.CreateBot(ctx, bot))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RecordExecution(ctx, &models.Execution{BotID: bot.ID}, DeltaFor(0)))
		}()
	}
	wg.Wait()

	loaded, err := s.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), loaded.Stats.TotalTrades)
	assert.Equal(t, 0.0, loaded.Stats.WinRate)
	assert.Equal(t, 0.0, loaded.Stats.ROI)
}

func TestStore_RecordExecution_UnknownBot(t *testing.T) {
	s := setupStore(t)

	err := s.RecordExecution(context.Background(), &models.Execution{BotID: "ghost"}, DeltaFor(10))

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Backtests(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	bot := newBot("alice")
	require.NoError(t, s.CreateBot(ctx, bot))

	result := &models.BacktestResult{
		BotID:          bot.ID,
		Symbol:         "BTC",
		InitialCapital: 10000,
		FinalCapital:   10333.33,
		Trades:         []models.BacktestTrade{{Side: models.SideBuy, Price: 150, Quantity: 6.67}},
		EquityCurve:    []models.EquityPoint{{Capital: 10000}},
		Metrics:        models.BacktestMetrics{TotalTrades: 1, ROI: 3.33},
	}
	require.NoError(t, s.CreateBacktest(ctx, result))
	assert.NotEmpty(t, result.ID)

	results, err := s.ListBacktests(ctx, bot.ID, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, result.Trades, results[0].Trades)
	assert.Equal(t, 3.33, results[0].Metrics.ROI)

	require.NoError(t, s.DeleteBot(ctx, bot.ID))
	results, err = s.ListBacktests(ctx, bot.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.ErrorIs(t, s.DeleteBot(ctx, bot.ID), ErrNotFound)
}

func TestDeltaFor(t *testing.T) {
	assert.Equal(t, StatsDelta{IsWin: true, ProfitDelta: 5}, DeltaFor(5))
	assert.Equal(t, StatsDelta{LossDelta: 5}, DeltaFor(-5))
	assert.Equal(t, StatsDelta{}, DeltaFor(0))
}
