package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rsi/internal/discovery"
	"github.com/roach88/rsi/internal/governance"
	"github.com/roach88/rsi/internal/implement"
	"github.com/roach88/rsi/internal/orchestrator"
	"github.com/roach88/rsi/internal/policy"
	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/runner"
	"github.com/roach88/rsi/internal/store"
	"github.com/roach88/rsi/internal/testutil"
	"github.com/roach88/rsi/internal/validate"
)

// Owner is the lease owner recorded for every harness claim.
const Owner = "harness"

// Harness holds one wired pipeline rooted in a scratch directory.
type Harness struct {
	store     *store.Store
	queue     *queue.Queue
	discovery *discovery.Engine
	orch      *orchestrator.Orchestrator
	runner    *runner.Recorder
}

// Run executes a scenario in a fresh temporary directory and returns the
// result. An error means the scenario could not be executed at all;
// failed expectations and assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	base, err := os.MkdirTemp("", "rsi-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(base)

	h, err := newHarness(base, scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	ctx := context.Background()
	result := NewResult()

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	trace, err := h.store.Transitions(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	for _, t := range trace {
		result.AddTransition(t)
	}
	result.Commands = len(h.runner.Calls())

	actx := &AssertionContext{Queue: h.queue}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(base string, scenario *Scenario) (*Harness, error) {
	clock := testutil.NewFixedClock(testutil.Epoch)
	logger := testutil.DiscardLogger()

	st, err := store.Open(filepath.Join(base, "rsi.db"), store.WithNow(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	q, err := queue.New(queue.NewLayout(base),
		queue.WithClaimer(st, Owner, time.Minute),
		queue.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	policyPath := filepath.Join(base, "constitution.yaml")
	if err := writePolicy(policyPath, scenario.Policy); err != nil {
		st.Close()
		return nil, err
	}
	src := governance.FilePolicy(policyPath)
	p, err := src()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	retries := governance.RetryLimit(src, implement.DefaultMaxRetries)

	rec := runner.NewRecorder()
	for _, stub := range scenario.Runner {
		rec.Respond(stub.Command, runner.Result{ExitCode: stub.ExitCode, Stdout: stub.Stdout, Stderr: stub.Stderr}, nil)
	}

	disc := discovery.New(q, []discovery.Probe{&discovery.SeedProbe{Seeds: scenario.Findings}},
		discovery.WithIDGenerator(testutil.NewSequenceGenerator("")),
		discovery.WithClock(clock),
		discovery.WithLogger(logger),
	)
	stages := []orchestrator.Stage{
		disc,
		implement.New(q,
			implement.WithIDGenerator(testutil.NewSequenceGenerator("")),
			implement.WithClock(clock),
			implement.WithRetryLimit(retries),
			implement.WithLogger(logger),
		),
		validate.New(q,
			validate.WithClock(clock),
			validate.WithThreshold(p.MinScore()),
			validate.WithRetryLimit(retries),
			validate.WithLogger(logger),
		),
		governance.New(q, src,
			governance.WithRunner(rec),
			governance.WithDigestRecorder(st),
			governance.WithNotifier(governance.LogNotifier{Logger: logger}),
			governance.WithClock(clock),
			governance.WithAutomationDir(filepath.Join(base, "live")),
			governance.WithLogger(logger),
		),
	}
	orch := orchestrator.New(q, stages,
		orchestrator.WithLedger(st),
		orchestrator.WithIDGenerator(testutil.NewSequenceGenerator("")),
		orchestrator.WithClock(clock),
		orchestrator.WithLogger(logger),
	)

	return &Harness{
		store:     st,
		queue:     q,
		discovery: disc,
		orch:      orch,
		runner:    rec,
	}, nil
}

// writePolicy writes the default policy with top-level keys replaced by
// overrides.
func writePolicy(path string, overrides map[string]any) error {
	data := policy.DefaultConstitution()
	if len(overrides) > 0 {
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse default policy: %w", err)
		}
		for k, v := range overrides {
			doc[k] = v
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode policy: %w", err)
		}
		data = out
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write policy: %w", err)
	}
	return nil
}

func (h *Harness) executeSetup(ctx context.Context, steps []SetupStep) error {
	for i, step := range steps {
		switch {
		case step.Propose != nil:
			if _, err := h.discovery.Propose(ctx, *step.Propose); err != nil {
				return fmt.Errorf("setup[%d]: %w", i, err)
			}
		case step.Halt != "":
			if err := h.orch.Halt(step.Halt); err != nil {
				return fmt.Errorf("setup[%d]: %w", i, err)
			}
		}
	}
	return nil
}

func (h *Harness) executeFlow(ctx context.Context, steps []FlowStep, result *Result) error {
	for i, step := range steps {
		switch {
		case step.Stage != "":
			res, err := h.orch.RunStage(ctx, step.Stage)
			if err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			result.AddStep(StepResult{Step: i, Action: "stage " + step.Stage, OK: res.OK, Counts: res.Counts, Error: res.Error})
			checkExpect(result, i, step.Expect, res.OK, false, res.Counts)

		case step.Cycle:
			summary, err := h.orch.RunCycle(ctx)
			if err != nil && !errors.Is(err, orchestrator.ErrHalted) {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			counts := map[string]int{}
			for _, s := range summary.Stages {
				for k, v := range s.Counts {
					counts[s.Stage+"."+k] += v
				}
			}
			result.AddStep(StepResult{Step: i, Action: "cycle", OK: summary.OK, Halted: summary.Halted, Counts: counts})
			checkExpect(result, i, step.Expect, summary.OK, summary.Halted, counts)

		case step.Halt != "":
			if err := h.orch.Halt(step.Halt); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			result.AddStep(StepResult{Step: i, Action: "halt", OK: true})

		case step.Resume:
			if err := h.orch.Resume(); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			result.AddStep(StepResult{Step: i, Action: "resume", OK: true})

		case step.Tamper != nil:
			if err := h.tamper(*step.Tamper); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			result.AddStep(StepResult{Step: i, Action: "tamper " + step.Tamper.StagingID + "/" + step.Tamper.File, OK: true})
		}
	}
	return nil
}

func (h *Harness) tamper(t Tamper) error {
	path := filepath.Join(h.queue.Layout().StagingDir(t.StagingID), filepath.Base(t.File))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("tamper: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(t.Append + "\n"); err != nil {
		return fmt.Errorf("tamper: %w", err)
	}
	return nil
}

// checkExpect records a failure for every expectation the step missed.
// Cycle counts are keyed "stage.outcome".
func checkExpect(result *Result, index int, expect *ExpectClause, ok, halted bool, counts map[string]int) {
	if expect == nil {
		return
	}
	if expect.OK != nil && *expect.OK != ok {
		result.AddError(fmt.Sprintf("flow[%d]: expected ok=%t, got %t", index, *expect.OK, ok))
	}
	if expect.Halted != nil && *expect.Halted != halted {
		result.AddError(fmt.Sprintf("flow[%d]: expected halted=%t, got %t", index, *expect.Halted, halted))
	}
	for k, want := range expect.Counts {
		if got := counts[k]; got != want {
			result.AddError(fmt.Sprintf("flow[%d]: expected %s=%d, got %d", index, k, want, got))
		}
	}
}
