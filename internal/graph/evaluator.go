package graph

import (
	"strings"

	"rulebot/internal/models"
)

// Verdict is the outcome of evaluating a trigger against one sample.
type Verdict int

const (
	DoesNotFire Verdict = iota
	Fires
)

// Fired reports whether v is Fires.
func (v Verdict) Fired() bool { return v == Fires }

func (v Verdict) String() string {
	if v == Fires {
		return "fires"
	}
	return "does_not_fire"
}

// Evaluate compares the sample field named by the trigger's condition with its threshold.
// It is total: non-trigger nodes, unknown conditions and unknown operators never fire.
func Evaluate(trigger models.Node, sample models.MarketSample) Verdict {
	if KindOf(trigger) != models.NodeTrigger {
		return DoesNotFire
	}

	value, ok := sampleField(trigger.Data.Condition, sample)
	if !ok {
		return DoesNotFire
	}

	threshold := trigger.Data.Threshold
	var hit bool
	switch normalizeOperator(trigger.Data.Operator) {
	case models.OperatorGT:
		hit = value > threshold
	case models.OperatorLT:
		hit = value < threshold
	case models.OperatorGE:
		hit = value >= threshold
	case models.OperatorLE:
		hit = value <= threshold
	case models.OperatorEQ:
		hit = value == threshold
	default:
		return DoesNotFire
	}

	if hit {
		return Fires
	}
	return DoesNotFire
}

func sampleField(condition string, s models.MarketSample) (float64, bool) {
	switch strings.ToLower(condition) {
	case models.ConditionPrice:
		return s.Price, true
	case models.ConditionVolume:
		return s.Volume, true
	case models.ConditionRSI:
		return s.RSI, true
	case models.ConditionMACD:
		return s.MACD, true
	}
	return 0, false
}

// normalizeOperator accepts both the named ("gt") and symbolic (">") spellings.
func normalizeOperator(op string) string {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "gt", ">":
		return models.OperatorGT
	case "lt", "<":
		return models.OperatorLT
	case "ge", "gte", ">=":
		return models.OperatorGE
	case "le", "lte", "<=":
		return models.OperatorLE
	case "eq", "=", "==":
		return models.OperatorEQ
	}
	return ""
}

// KindOf returns the node's kind in canonical lowercase form.
func KindOf(n models.Node) models.NodeKind {
	return models.NodeKind(strings.ToLower(strings.TrimSpace(string(n.Kind))))
}

// SideOf returns the canonical order side of an action node. ok is false for
// anything other than buy or sell, in any letter case.
func SideOf(action models.Node) (side models.OrderSide, ok bool) {
	switch models.OrderSide(strings.ToLower(strings.TrimSpace(string(action.Data.OrderSide)))) {
	case models.SideBuy:
		return models.SideBuy, true
	case models.SideSell:
		return models.SideSell, true
	}
	return "", false
}
