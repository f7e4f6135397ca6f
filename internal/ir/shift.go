package ir

// ShiftPlan is the range adjustment that keeps the nested-set invariant true
// after an insert or a detach inside one tree.
//
// Every live node of RootID with Left >= From has Left increased by Delta, and
// every live node with Right >= From has Right increased by Delta. Delta is
// positive for inserts and negative for detaches. A zero Delta is a no-op.
type ShiftPlan struct {
	RootID NodeID `json:"root_id"`
	From   int64  `json:"from"`
	Delta  int64  `json:"delta"`
}

// IsNoop reports whether applying the plan changes nothing.
func (p ShiftPlan) IsNoop() bool {
	return p.Delta == 0
}

// Shift is one materialised row of a shift plan.
type Shift struct {
	NodeID     NodeID `json:"node_id"`
	LeftDelta  int64  `json:"left_delta"`
	RightDelta int64  `json:"right_delta"`
}
