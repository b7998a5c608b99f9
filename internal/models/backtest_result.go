package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EquityPoint is one sample of total simulated capital.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Capital   float64   `json:"capital"`
}

// BacktestMetrics summarizes a backtest ledger and equity curve.
type BacktestMetrics struct {
	TotalTrades   int     `json:"totalTrades"`
	WinningTrades int     `json:"winningTrades"`
	LosingTrades  int     `json:"losingTrades"`
	WinRate       float64 `json:"winRate"`
	TotalProfit   float64 `json:"totalProfit"`
	TotalLoss     float64 `json:"totalLoss"`
	NetProfit     float64 `json:"netProfit"`
	ROI           float64 `json:"roi"`
	MaxDrawdown   float64 `json:"maxDrawdown"`
	SharpeRatio   float64 `json:"sharpeRatio"`
}

// BacktestResult is the immutable outcome of one backtest run.
type BacktestResult struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	BotID          string          `gorm:"index;not null" json:"botId"`
	Symbol         string          `json:"symbol"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate"`
	InitialCapital float64         `json:"initialCapital"`
	FinalCapital   float64         `json:"finalCapital"`
	Trades         []BacktestTrade `gorm:"serializer:json" json:"trades"`
	EquityCurve    []EquityPoint   `gorm:"serializer:json" json:"equityCurve"`
	Metrics        BacktestMetrics `gorm:"embedded;embeddedPrefix:metric_" json:"metrics"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// BeforeCreate assigns a fresh id to new results.
func (r *BacktestResult) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
