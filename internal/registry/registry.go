// Package registry tracks which bots are currently active.
package registry

import (
	"context"
	"time"

	"rulebot/internal/graph"
	"rulebot/internal/models"
)

// Entry is the snapshot of an active bot that live evaluation runs against.
type Entry struct {
	BotID     string             `json:"botId"`
	Graph     models.RuleGraph   `json:"graph"`
	Settings  models.BotSettings `json:"settings"`
	LastCheck time.Time          `json:"lastCheck"`
}

// Symbols returns the distinct symbols targeted by the entry's action nodes.
// An empty string in the result means at least one action has no symbol.
func (e Entry) Symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, n := range e.Graph.Nodes {
		if graph.KindOf(n) != models.NodeAction {
			continue
		}
		if _, ok := seen[n.Data.Symbol]; ok {
			continue
		}
		seen[n.Data.Symbol] = struct{}{}
		out = append(out, n.Data.Symbol)
	}
	return out
}

// Wants reports whether a sample for symbol should be routed to the entry.
func (e Entry) Wants(symbol string) bool {
	for _, s := range e.Symbols() {
		if s == "" || s == symbol {
			return true
		}
	}
	return false
}

// ActiveBotRegistry is the set of bots evaluated on every tick.
// The in-memory implementation only serves a single process; deployments with
// several engine instances need a shared backend such as Redis.
type ActiveBotRegistry interface {
	Register(ctx context.Context, entry Entry) error
	Deregister(ctx context.Context, botID string) error
	// Get returns ok=false when the bot is not active.
	Get(ctx context.Context, botID string) (entry Entry, ok bool, err error)
	Touch(ctx context.Context, botID string, at time.Time) error
	List(ctx context.Context) ([]Entry, error)
}
