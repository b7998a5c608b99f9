package models

import "time"

// BacktestTrade is one simulated fill in a backtest ledger.
// Only sell trades carry a realized profit.
type BacktestTrade struct {
	Timestamp         time.Time `json:"timestamp"`
	Symbol            string    `json:"symbol"`
	Side              OrderSide `json:"side"`
	Price             float64   `json:"price"`
	Quantity          float64   `json:"quantity"`
	Value             float64   `json:"value"`
	ProfitLoss        float64   `json:"profitLoss,omitempty"`
	ProfitLossPercent float64   `json:"profitLossPercent,omitempty"`
	TriggerID         string    `json:"triggerId"`
}
