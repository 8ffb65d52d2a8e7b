package harness

import "github.com/ichavezg/nayra/internal/engine"

// TraceEvent is one lifecycle event as seen by a scenario. Instance is the
// alias given in the create step, not the generated ID.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Instance string `json:"instance"`
	Type     string `json:"type"`
	Node     string `json:"node"`
	Flow     string `json:"flow,omitempty"`
}

// InstanceResult is the final state of a scenario instance.
type InstanceResult struct {
	Alias  string `json:"alias"`
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect step and assertion held.
	Pass bool `json:"pass"`

	// Trace is the engine event log in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists every failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Instances holds the instances in creation order.
	Instances []InstanceResult `json:"instances"`

	// Metrics counts engine activity over the whole run.
	Metrics engine.MetricsSnapshot `json:"metrics"`
}

// NewResult returns a passing result with no trace.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Instances: []InstanceResult{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
