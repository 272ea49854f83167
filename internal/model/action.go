package model

// ActionKind enumerates the exchange requests an exit transition can emit.
type ActionKind string

const (
	ActionReduce     ActionKind = "reduce"
	ActionMoveStop   ActionKind = "move_stop"
	ActionClose      ActionKind = "close"
	ActionCancelStop ActionKind = "cancel_stop"
)

// Action is one side effect requested by a lifecycle transition. Qty is the
// amount to trade for Reduce and Close, and the size the stop must cover for
// MoveStop.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Symbol  string     `json:"symbol"`
	Side    Direction  `json:"side"`
	Qty     float64    `json:"qty,omitempty"`
	Price   float64    `json:"price,omitempty"`
	OrderID string     `json:"order_id,omitempty"`
	Reason  ExitReason `json:"reason,omitempty"`
}
