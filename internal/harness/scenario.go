package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rsi/internal/record"
)

// Scenario is one end-to-end pipeline run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy overrides top-level keys of the default policy document.
	Policy map[string]any `yaml:"policy,omitempty"`

	// Runner lists canned results for commands, keyed by program name.
	// Commands without an entry succeed with exit code zero.
	Runner []RunnerStub `yaml:"runner,omitempty"`

	// Findings are reported by discovery every time it runs.
	Findings []record.Finding `yaml:"findings,omitempty"`

	// Setup runs before the flow. Setup steps are assumed to succeed.
	Setup []SetupStep `yaml:"setup,omitempty"`

	// Flow is the sequence of stage runs, cycles and interventions.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the audit trail and queue contents.
	Assertions []Assertion `yaml:"assertions"`
}

// RunnerStub is the result returned for one program.
type RunnerStub struct {
	Command  string `yaml:"command"`
	ExitCode int    `yaml:"exit_code"`
	Stdout   string `yaml:"stdout,omitempty"`
	Stderr   string `yaml:"stderr,omitempty"`
}

// SetupStep seeds the queue or the halt state.
type SetupStep struct {
	Propose *record.Finding `yaml:"propose,omitempty"`
	Halt    string          `yaml:"halt,omitempty"`
}

// FlowStep is exactly one of: run a stage, run a cycle, halt, resume, or
// tamper with a staged file.
type FlowStep struct {
	Stage  string        `yaml:"stage,omitempty"`
	Cycle  bool          `yaml:"cycle,omitempty"`
	Halt   string        `yaml:"halt,omitempty"`
	Resume bool          `yaml:"resume,omitempty"`
	Tamper *Tamper       `yaml:"tamper,omitempty"`
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Tamper appends text to a file inside a staging directory, standing in
// for an edit made between validation and governance.
type Tamper struct {
	StagingID string `yaml:"staging_id"`
	File      string `yaml:"file"`
	Append    string `yaml:"append"`
}

// ExpectClause checks the result of a stage or cycle step. Unset fields
// are not checked; Counts is a subset match.
type ExpectClause struct {
	OK     *bool          `yaml:"ok,omitempty"`
	Halted *bool          `yaml:"halted,omitempty"`
	Counts map[string]int `yaml:"counts,omitempty"`
}

// Assertion validates the audit trail or final queue contents.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Stage, Item and Event select trace entries. Empty fields match
	// anything (trace_contains, trace_count).
	Stage string `yaml:"stage,omitempty"`
	Item  string `yaml:"item,omitempty"`
	Event string `yaml:"event,omitempty"`

	// Count is the expected number of matching entries (trace_count).
	Count int `yaml:"count,omitempty"`

	// Events is the expected order of "stage:event" entries (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Table, Where and Expect select and check a record (final_state).
	// Rows, when set, is the expected number of rows matching Where.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Rows   *int           `yaml:"rows,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Table names accepted by final_state.
const (
	TableProposals   = "proposals"
	TableReports     = "reports"
	TableDeployments = "deployments"
	TableEscalations = "escalations"
	TableTerminal    = "terminal"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, r := range s.Runner {
		if r.Command == "" {
			return fmt.Errorf("runner[%d]: command is required", i)
		}
	}
	for i, step := range s.Setup {
		if (step.Propose == nil) == (step.Halt == "") {
			return fmt.Errorf("setup[%d]: exactly one of propose or halt is required", i)
		}
		if step.Propose != nil && step.Propose.Kind == "" {
			return fmt.Errorf("setup[%d]: propose needs a kind", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step FlowStep) error {
	actions := 0
	if step.Stage != "" {
		actions++
		if !knownStage(step.Stage) {
			return fmt.Errorf("flow[%d]: unknown stage %q", index, step.Stage)
		}
	}
	if step.Cycle {
		actions++
	}
	if step.Halt != "" {
		actions++
	}
	if step.Resume {
		actions++
	}
	if step.Tamper != nil {
		actions++
		if step.Tamper.StagingID == "" || step.Tamper.File == "" {
			return fmt.Errorf("flow[%d].tamper: staging_id and file are required", index)
		}
	}
	if actions != 1 {
		return fmt.Errorf("flow[%d]: exactly one of stage, cycle, halt, resume or tamper is required", index)
	}
	if step.Expect != nil && step.Stage == "" && !step.Cycle {
		return fmt.Errorf("flow[%d]: expect only applies to stage and cycle steps", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Stage == "" && a.Item == "" && a.Event == "" {
			return fmt.Errorf("assertions[%d]: trace_contains needs stage, item or event", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Table {
		case TableProposals, TableReports, TableDeployments, TableEscalations, TableTerminal:
		case "":
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		default:
			return fmt.Errorf("assertions[%d]: unknown table %q", index, a.Table)
		}
		if len(a.Expect) == 0 && a.Rows == nil {
			return fmt.Errorf("assertions[%d]: expect or rows is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func knownStage(name string) bool {
	for _, s := range record.Stages() {
		if s == name {
			return true
		}
	}
	return false
}
