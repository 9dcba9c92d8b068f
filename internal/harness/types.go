package harness

// TraceEvent records one executed step. Keys are reported by alias.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Op      string `json:"op"`
	Outcome string `json:"outcome"`

	// Put and delete.
	Replica string `json:"replica,omitempty"`
	Key     string `json:"key,omitempty"`

	// Sync and two_way.
	Source    string   `json:"source,omitempty"`
	Target    string   `json:"target,omitempty"`
	Inserted  []string `json:"inserted,omitempty"`
	Updated   []string `json:"updated,omitempty"`
	Deleted   []string `json:"deleted,omitempty"`
	Absorbed  int      `json:"absorbed,omitempty"`
	Conflicts int      `json:"conflicts,omitempty"`
}

// isSync reports whether the event came from a sync or two_way step.
func (e TraceEvent) isSync() bool {
	return e.Op == OpSync || e.Op == OpTwoWay
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains all executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
