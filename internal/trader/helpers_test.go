package trader

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"rulebot/internal/config"
	"rulebot/internal/database"
	"rulebot/internal/models"
	"rulebot/internal/registry"
	"rulebot/internal/store"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockSource is a mock implementation of marketdata.Source.
type MockSource struct {
	mock.Mock
}

func (m *MockSource) History(ctx context.Context, symbol string, start, end time.Time) ([]models.MarketSample, error) {
	args := m.Called(ctx, symbol, start, end)
	samples, _ := args.Get(0).([]models.MarketSample)
	return samples, args.Error(1)
}

func (m *MockSource) Latest(ctx context.Context, symbol string) (models.MarketSample, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(models.MarketSample), args.Error(1)
}

// MockRecorder is a mock implementation of ExecutionRecorder.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordExecution(ctx context.Context, exec *models.Execution, delta store.StatsDelta) error {
	args := m.Called(ctx, exec, delta)
	return args.Error(0)
}

func testConfig() *config.Config {
	return &config.Config{
		Engine:   config.Engine{TickWorkers: 4},
		Backtest: config.Backtest{Workers: 2, MaxSamples: 1000},
		API:      config.API{DefaultLimit: 50, MaxLimit: 500},
		Scheduler: config.Scheduler{
			TickInterval: 1,
			TickTimeout:  1,
		},
	}
}

// setupStore opens a private shared-cache in-memory database for the test.
func setupStore(t *testing.T) *store.Store {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return store.New(db)
}

type testEnv struct {
	store    *store.Store
	registry *registry.Memory
	source   *MockSource
	engine   *Engine
	manager  *Manager
}

func setupEnv(t *testing.T) *testEnv {
	cfg := testConfig()
	st := setupStore(t)
	reg := registry.NewMemory()
	src := new(MockSource)
	engine := NewEngine(zap.NewNop(), cfg, st, reg)
	return &testEnv{
		store:    st,
		registry: reg,
		source:   src,
		engine:   engine,
		manager:  NewManager(zap.NewNop(), cfg, st, reg, src, engine),
	}
}

// breakoutGraph is "price > 100 buys 10% of BTC".
func breakoutGraph() models.RuleGraph {
	return models.RuleGraph{
		Nodes: []models.Node{
			{ID: "t1", Kind: models.NodeTrigger, Data: models.NodeData{Label: "breakout", Condition: models.ConditionPrice, Operator: models.OperatorGT, Threshold: 100}},
			{ID: "a1", Kind: models.NodeAction, Data: models.NodeData{OrderSide: models.SideBuy, SizePercent: 10, Symbol: "BTC"}},
		},
		Edges: []models.Edge{{Source: "t1", Target: "a1"}},
	}
}

func sampleAt(i int, price float64) models.MarketSample {
	return models.MarketSample{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		Symbol:    "BTC",
		Price:     price,
	}
}

// setupEnvWithStore builds a new engine and manager over env's database with
// an empty registry, as after a process restart.
func setupEnvWithStore(t *testing.T, env *testEnv) *testEnv {
	cfg := testConfig()
	reg := registry.NewMemory()
	src := new(MockSource)
	engine := NewEngine(zap.NewNop(), cfg, env.store, reg)
	return &testEnv{
		store:    env.store,
		registry: reg,
		source:   src,
		engine:   engine,
		manager:  NewManager(zap.NewNop(), cfg, env.store, reg, src, engine),
	}
}
