// Package marketdata supplies market samples to the engine, either as a
// bounded historical series or as live ticks.
package marketdata

import (
	"context"
	"errors"
	"time"

	"rulebot/internal/models"
)

// ErrUnavailable is returned when a source cannot produce data.
var ErrUnavailable = errors.New("market data unavailable")

// Source yields market samples for a symbol.
type Source interface {
	// History returns the samples in [start, end] in chronological order.
	History(ctx context.Context, symbol string, start, end time.Time) ([]models.MarketSample, error)
	// Latest returns the most recent sample.
	Latest(ctx context.Context, symbol string) (models.MarketSample, error)
}
