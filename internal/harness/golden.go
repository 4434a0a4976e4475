package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rsi/internal/record"
)

// TraceSnapshot is the golden form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// RunWithGolden executes a scenario, fails t if it did not pass, and
// compares its trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	if !result.Pass {
		t.Errorf("scenario %s failed: %v", scenario.Name, result.Errors)
	}
	return AssertGolden(t, scenario.Name, result)
}

// Snapshot renders the trace of result as canonical JSON, the golden file
// format.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	return record.Canonical(TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace})
}

// AssertGolden compares the trace of an existing result against its golden
// file. The snapshot is canonical JSON so key order never causes a diff.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
