package graph

import "rulebot/internal/models"

// ConnectedActions returns the action nodes targeted by an edge leaving triggerID,
// in edge order. Only direct successors are resolved: an action reached through
// a condition node is not returned, and condition logic is never evaluated.
// Edges pointing at unknown ids are skipped.
func ConnectedActions(triggerID string, g models.RuleGraph) []models.Node {
	byID := make(map[string]models.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, dup := byID[n.ID]; !dup {
			byID[n.ID] = n
		}
	}

	var actions []models.Node
	for _, e := range g.Edges {
		if e.Source != triggerID {
			continue
		}
		target, ok := byID[e.Target]
		if !ok || KindOf(target) != models.NodeAction {
			continue
		}
		actions = append(actions, target)
	}
	return actions
}

// Fired pairs a trigger that fired with the actions it reaches.
type Fired struct {
	Trigger models.Node
	Actions []models.Node
}

// Fire evaluates every trigger of g against sample and resolves the actions of
// those that fire, preserving node declaration order.
func Fire(g models.RuleGraph, sample models.MarketSample) []Fired {
	var out []Fired
	for _, t := range Triggers(g) {
		if !Evaluate(t, sample).Fired() {
			continue
		}
		out = append(out, Fired{Trigger: t, Actions: ConnectedActions(t.ID, g)})
	}
	return out
}
