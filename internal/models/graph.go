package models

// NodeKind is the role a node plays in a rule graph.
type NodeKind string

const (
	NodeTrigger   NodeKind = "trigger"
	NodeAction    NodeKind = "action"
	NodeCondition NodeKind = "condition"
)

// Trigger conditions name the MarketSample field a trigger compares.
const (
	ConditionPrice  = "price"
	ConditionVolume = "volume"
	ConditionRSI    = "rsi"
	ConditionMACD   = "macd"
)

// Comparison operators understood by triggers.
const (
	OperatorGT = "gt"
	OperatorLT = "lt"
	OperatorGE = "ge"
	OperatorLE = "le"
	OperatorEQ = "eq"
)

// OrderSide is the direction of an action.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Logic operators stored on condition nodes.
const (
	LogicAND = "and"
	LogicOR  = "or"
)

// RuleGraph is a bot's configuration: typed nodes joined by directed edges.
type RuleGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a single rule graph node. Data carries the payload for every kind;
// only the fields relevant to Kind are read.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"type"`
	Data NodeData `json:"data"`
}

// NodeData is the union of trigger, action and condition payloads.
type NodeData struct {
	Label string `json:"label,omitempty"`

	// trigger
	Condition string  `json:"condition,omitempty"`
	Operator  string  `json:"operator,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`

	// action
	OrderSide   OrderSide `json:"orderSide,omitempty"`
	SizePercent float64   `json:"sizePercent,omitempty"`
	Symbol      string    `json:"symbol,omitempty"`

	// condition
	LogicOperator string `json:"logicOperator,omitempty"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Name is the label of the node, or its id when no label is set.
func (n Node) Name() string {
	if n.Data.Label != "" {
		return n.Data.Label
	}
	return n.ID
}
