package harness

import (
	"github.com/roach88/rsi/internal/store"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool

	// Trace is the audit trail in seq order.
	Trace []TraceEvent

	// Steps records what each flow step returned.
	Steps []StepResult

	// Commands is how many commands the pipeline ran through the runner.
	Commands int

	// Errors lists failed expectations and assertions.
	Errors []string
}

// TraceEvent is one audit entry. Owner and time are left out so traces
// compare equal across runs.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Stage  string `json:"stage"`
	ItemID string `json:"item_id"`
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

// StepResult is the observed result of one flow step.
type StepResult struct {
	Step   int
	Action string
	OK     bool
	Halted bool
	Counts map[string]int
	Error  string
}

// NewResult returns a passing result with no trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddTransition appends an audit entry to the trace.
func (r *Result) AddTransition(t store.Transition) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    t.Seq,
		Stage:  t.Stage,
		ItemID: t.ItemID,
		Event:  t.Event,
		Detail: t.Detail,
	})
}

// AddStep records a flow step.
func (r *Result) AddStep(s StepResult) {
	r.Steps = append(r.Steps, s)
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Pass = false
	r.Errors = append(r.Errors, msg)
}
