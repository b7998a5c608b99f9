package trader

import (
	"context"
	"math"
	"time"

	"rulebot/internal/graph"
	"rulebot/internal/models"
)

const (
	// equitySampleEvery is the fixed cadence, in samples, of the equity curve.
	equitySampleEvery = 24
	// minHistoricalSamples is the shortest series a backtest accepts.
	minHistoricalSamples = 2
)

// position is the single open simulated position of a backtest.
type position struct {
	quantity       float64
	entryPrice     float64
	entryTimestamp time.Time
}

// Simulation is the raw output of replaying a graph over a series.
type Simulation struct {
	FinalCapital float64
	Trades       []models.BacktestTrade
	EquityCurve  []models.EquityPoint
}

// Simulate replays samples through g in order under the single-position rule:
// a buy while a position is open and a sell while flat are ignored. A position
// still open after the last sample is marked to market into FinalCapital
// without a closing trade in the ledger. ctx is checked between samples.
func Simulate(ctx context.Context, g models.RuleGraph, settings models.BotSettings,
	samples []models.MarketSample, symbol string, initialCapital float64) (Simulation, error) {

	capital := initialCapital
	var open *position
	trades := []models.BacktestTrade{}
	curve := []models.EquityPoint{}

	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			return Simulation{}, err
		}

		for _, fired := range graph.Fire(g, s) {
			for _, action := range fired.Actions {
				side, _ := graph.SideOf(action)
				switch side {
				case models.SideBuy:
					if open != nil || s.Price <= 0 {
						continue
					}
					size := math.Min(capital*action.Data.SizePercent/100, settings.MaxInvestment)
					if size <= 0 {
						continue
					}
					quantity := size / s.Price
					open = &position{quantity: quantity, entryPrice: s.Price, entryTimestamp: s.Timestamp}
					capital -= size
					trades = append(trades, models.BacktestTrade{
						Timestamp: s.Timestamp,
						Symbol:    symbol,
						Side:      models.SideBuy,
						Price:     s.Price,
						Quantity:  quantity,
						Value:     size,
						TriggerID: fired.Trigger.ID,
					})

				case models.SideSell:
					if open == nil {
						continue
					}
					proceeds := open.quantity * s.Price
					pl := (s.Price - open.entryPrice) * open.quantity
					plPct := (s.Price - open.entryPrice) / open.entryPrice * 100
					capital += proceeds
					trades = append(trades, models.BacktestTrade{
						Timestamp:         s.Timestamp,
						Symbol:            symbol,
						Side:              models.SideSell,
						Price:             s.Price,
						Quantity:          open.quantity,
						Value:             proceeds,
						ProfitLoss:        pl,
						ProfitLossPercent: plPct,
						TriggerID:         fired.Trigger.ID,
					})
					open = nil
				}
			}
		}

		if i%equitySampleEvery == 0 {
			equity := capital
			if open != nil {
				equity += open.quantity * s.Price
			}
			curve = append(curve, models.EquityPoint{Timestamp: s.Timestamp, Capital: equity})
		}
	}

	final := capital
	if open != nil && len(samples) > 0 {
		final += open.quantity * samples[len(samples)-1].Price
	}

	return Simulation{FinalCapital: final, Trades: trades, EquityCurve: curve}, nil
}
