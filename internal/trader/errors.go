package trader

import (
	"errors"
	"fmt"

	"rulebot/internal/graph"
)

var (
	ErrInvalidGraph           = graph.ErrInvalidGraph
	ErrAlreadyActive          = errors.New("bot is already active")
	ErrNotActive              = errors.New("bot is not active")
	ErrBotStopped             = errors.New("bot is stopped")
	ErrNotFoundOrUnauthorized = errors.New("bot not found or not owned by user")
	ErrNoHistoricalData       = errors.New("no historical data for window")
	ErrPersistenceFailure     = errors.New("persistence failure")
	ErrMarketDataUnavailable  = errors.New("market data unavailable")
	ErrInvalidRequest         = errors.New("invalid request")
)

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistenceFailure, op, err)
}

func invalidRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
