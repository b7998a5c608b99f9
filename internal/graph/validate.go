// Package graph evaluates bot rule graphs against market samples.
package graph

import (
	"errors"
	"fmt"

	"rulebot/internal/models"
)

// ErrInvalidGraph is returned when a rule graph cannot be run.
var ErrInvalidGraph = errors.New("invalid rule graph")

// Validate reports whether g has at least one trigger and one action node.
// Edge integrity and cycles are not checked; dangling edges simply resolve to nothing.
func Validate(g models.RuleGraph) error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: graph has no nodes", ErrInvalidGraph)
	}

	var triggers, actions int
	for _, n := range g.Nodes {
		switch KindOf(n) {
		case models.NodeTrigger:
			triggers++
		case models.NodeAction:
			actions++
		}
	}

	if triggers == 0 {
		return fmt.Errorf("%w: at least one trigger node is required", ErrInvalidGraph)
	}
	if actions == 0 {
		return fmt.Errorf("%w: at least one action node is required", ErrInvalidGraph)
	}
	return nil
}

// Triggers returns the trigger nodes of g in declaration order.
func Triggers(g models.RuleGraph) []models.Node {
	var out []models.Node
	for _, n := range g.Nodes {
		if KindOf(n) == models.NodeTrigger {
			out = append(out, n)
		}
	}
	return out
}
