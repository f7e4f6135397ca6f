package harness

// StepEvent records the outcome of one executed step.
type StepEvent struct {
	Seq  int64  `json:"seq"`
	Op   string `json:"op"`
	Code string `json:"code"` // "ok", "accept", or the rejection code

	// Target is the node, leaf or root the step acted on.
	Target string `json:"target,omitempty"`

	// Detail is op specific: the committed range for structural ops, the
	// instance and version for assignment ops.
	Detail string `json:"detail,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace holds one event per setup and flow step, in order.
	Trace []StepEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Trees maps each registered root to its final outline, one line per
	// live node.
	Trees map[string][]string `json:"trees,omitempty"`

	// Slots maps each registered root to its final slot lines.
	Slots map[string][]string `json:"slots,omitempty"`

	// Roots maps each registered root to "<status> v<struct version>".
	Roots map[string]string `json:"roots,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepEvent{},
		Errors: []string{},
		Trees:  make(map[string][]string),
		Slots:  make(map[string][]string),
		Roots:  make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a step event to the trace.
func (r *Result) AddEvent(ev StepEvent) {
	r.Trace = append(r.Trace, ev)
}
