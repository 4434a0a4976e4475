// Package governance decides the fate of validated artifacts. Each report
// moves from received through a policy check to exactly one terminal
// outcome: deployed, escalated or rejected.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/rsi/internal/policy"
	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/record"
	"github.com/roach88/rsi/internal/runner"
)

// DefaultActivationTimeout bounds deployment activation scripts.
const DefaultActivationTimeout = 30 * time.Second

// PolicySource loads the policy. It is called once per governance run so
// human edits take effect on the next cycle.
type PolicySource func() (*policy.Policy, error)

// FilePolicy loads and compiles the document at path on every call.
func FilePolicy(path string) PolicySource {
	return func() (*policy.Policy, error) {
		doc, err := policy.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return policy.Compile(doc)
	}
}

// RetryLimit reads max_retries from src, falling back when the document
// cannot be loaded.
func RetryLimit(src PolicySource, fallback int) func() int {
	return func() int {
		p, err := src()
		if err != nil {
			return fallback
		}
		return p.MaxRetries()
	}
}

// DigestRecorder remembers which policy digest each cycle ran under.
type DigestRecorder interface {
	RecordPolicyDigest(ctx context.Context, digest, version string) (string, bool, error)
}

// Notifier is told about every new escalation.
type Notifier interface {
	Notify(ctx context.Context, rec record.EscalationRecord, path string) error
}

// LogNotifier reports escalations through a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, rec record.EscalationRecord, path string) error {
	n.Logger.Warn("escalation requires a human decision",
		"staging_id", rec.StagingID,
		"kind", rec.Kind,
		"reason", rec.Reason,
		"options", strings.Join(rec.Options, ","),
		"file", path,
	)
	return nil
}

// Engine runs the governance stage.
type Engine struct {
	queue             *queue.Queue
	source            PolicySource
	run               runner.Runner
	digests           DigestRecorder
	notifier          Notifier
	clock             record.Clock
	logger            *slog.Logger
	automationDir     string
	activationTimeout time.Duration

	current *policy.Policy
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner sets the runner used for activation scripts.
func WithRunner(r runner.Runner) Option {
	return func(e *Engine) { e.run = r }
}

// WithDigestRecorder records the policy digest of each run.
func WithDigestRecorder(d DigestRecorder) Option {
	return func(e *Engine) { e.digests = d }
}

// WithNotifier replaces the default log notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the time source.
func WithClock(c record.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithAutomationDir sets where process and revenue deployers install files.
func WithAutomationDir(dir string) Option {
	return func(e *Engine) { e.automationDir = dir }
}

// WithActivationTimeout bounds activation scripts.
func WithActivationTimeout(d time.Duration) Option {
	return func(e *Engine) { e.activationTimeout = d }
}

// New creates a governance engine. The automation directory defaults to
// live/ under the queue base.
func New(q *queue.Queue, src PolicySource, opts ...Option) *Engine {
	e := &Engine{
		queue:             q,
		source:            src,
		run:               runner.NewExecRunner(DefaultActivationTimeout),
		clock:             record.SystemClock{},
		logger:            slog.Default(),
		activationTimeout: DefaultActivationTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = LogNotifier{Logger: e.logger}
	}
	if e.automationDir == "" {
		e.automationDir = filepath.Join(q.Layout().Base, "live")
	}
	return e
}

// Name implements the orchestrator stage interface.
func (e *Engine) Name() string { return record.StageGovernance }

// LoadPolicy refreshes the policy used by CheckPolicy. Run calls it first.
func (e *Engine) LoadPolicy(ctx context.Context) (*policy.Policy, error) {
	p, err := e.source()
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	e.current = p
	if e.digests != nil {
		prev, changed, err := e.digests.RecordPolicyDigest(ctx, p.Digest(), p.Document().Version)
		switch {
		case err != nil:
			e.logger.Warn("could not record policy digest", "error", err)
		case changed:
			e.logger.Warn("policy document changed since last cycle",
				"previous", prev, "current", p.Digest(), "version", p.Document().Version)
		}
	}
	return p, nil
}

func (e *Engine) policy() (*policy.Policy, error) {
	if e.current != nil {
		return e.current, nil
	}
	p, err := e.source()
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	e.current = p
	return p, nil
}

// PollApproved returns passed reports that have no terminal marker.
func (e *Engine) PollApproved() ([]record.ValidationReport, error) {
	all, err := e.queue.ReportsAwaitingGovernance()
	if err != nil {
		return nil, err
	}
	out := []record.ValidationReport{}
	for _, r := range all {
		if r.Passed {
			out = append(out, r)
		}
	}
	return out, nil
}

// CheckPolicy evaluates r against the current policy, including a content
// scan of every generated file.
func (e *Engine) CheckPolicy(r record.ValidationReport) (policy.Decision, error) {
	p, err := e.policy()
	if err != nil {
		return policy.Decision{}, err
	}
	a, err := e.queue.ReadArtifact(r.StagingID)
	if err != nil {
		return policy.Decision{}, err
	}
	files := make(map[string][]byte, len(a.Files))
	for _, rel := range a.Files {
		data, err := e.queue.ReadFile(r.StagingID, rel)
		if err != nil {
			return policy.Decision{}, err
		}
		files[rel] = data
	}
	return p.Evaluate(policy.Input{
		Finding: findingOf(r, a),
		Score:   r.Score,
		Files:   files,
	}), nil
}

func findingOf(r record.ValidationReport, a queue.Artifact) record.Finding {
	if a.Manifest != nil {
		return a.Manifest.SourceProposal.Finding
	}
	return record.Finding{Kind: r.Kind}
}

// Deploy activates the artifact of r and writes its deployment marker. A
// second call for the same artifact is a no-op and returns false.
func (e *Engine) Deploy(ctx context.Context, r record.ValidationReport) (bool, error) {
	return e.guard(ctx, r.StagingID, string(queue.TerminalDeployed), func() error { return e.deploy(ctx, r) })
}

// Escalate records that r needs a human decision.
func (e *Engine) Escalate(ctx context.Context, r record.ValidationReport, reason string, details []string) (bool, error) {
	return e.guard(ctx, r.StagingID, string(queue.TerminalEscalated), func() error { return e.escalate(ctx, r, reason, details) })
}

// Reject records that policy forbids r.
func (e *Engine) Reject(ctx context.Context, r record.ValidationReport, violations []string) (bool, error) {
	return e.guard(ctx, r.StagingID, string(queue.TerminalRejected), func() error { return e.reject(r, violations) })
}

// guard runs fn under a claim, unless the artifact already has a terminal
// marker. It reports whether fn ran and succeeded.
func (e *Engine) guard(ctx context.Context, stagingID, outcome string, fn func() error) (bool, error) {
	if _, done := e.queue.TerminalState(stagingID); done {
		return false, nil
	}
	claimed, err := e.queue.Claim(ctx, record.StageGovernance, stagingID)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", stagingID, err)
	}
	if !claimed {
		return false, nil
	}
	if t, done := e.queue.TerminalState(stagingID); done {
		e.ack(ctx, stagingID, "already_"+string(t))
		return false, nil
	}
	if err := fn(); err != nil {
		e.release(ctx, stagingID, err)
		return false, err
	}
	e.ack(ctx, stagingID, outcome)
	return true, nil
}

func (e *Engine) deploy(ctx context.Context, r record.ValidationReport) error {
	p, err := e.policy()
	if err != nil {
		return err
	}
	a, err := e.queue.ReadArtifact(r.StagingID)
	if err != nil {
		return err
	}
	d := &deployer{
		ctx:           ctx,
		run:           e.run,
		artifact:      a,
		automationDir: e.automationDir,
		genericTarget: e.queue.DeployTarget(r.StagingID),
		timeout:       e.activationTimeout,
	}
	if err := findingOf(r, a).Accept(d); err != nil {
		return fmt.Errorf("deploy %s: %w", r.StagingID, err)
	}
	hashes, err := hashFiles(a)
	if err != nil {
		return fmt.Errorf("deploy %s: %w", r.StagingID, err)
	}

	rec := record.DeploymentRecord{
		StagingID:    r.StagingID,
		ValidationID: r.ValidationID,
		ProposalID:   r.ProposalID,
		Kind:         r.Kind,
		DeployedAt:   e.clock.Now(),
		Deployer:     d.name,
		Targets:      d.targets,
		Files:        hashes,
		PolicyDigest: p.Digest(),
	}
	if err := rec.Seal(); err != nil {
		return err
	}
	if err := e.queue.WriteDeployed(rec); err != nil {
		return err
	}
	e.logger.Info("deployed", "staging_id", r.StagingID, "kind", r.Kind, "deployer", d.name, "targets", len(d.targets))
	return nil
}

func (e *Engine) escalate(ctx context.Context, r record.ValidationReport, reason string, details []string) error {
	rec := record.EscalationRecord{
		StagingID:      r.StagingID,
		ValidationID:   r.ValidationID,
		ProposalID:     r.ProposalID,
		Kind:           r.Kind,
		EscalatedAt:    e.clock.Now(),
		Reason:         reason,
		Violations:     details,
		Report:         r,
		RequiresAction: true,
		Options:        append([]string{}, record.EscalationOptions...),
	}
	if e.current != nil {
		rec.PolicyDigest = e.current.Digest()
	}
	if err := rec.Seal(); err != nil {
		return err
	}
	path, err := e.queue.WriteEscalation(rec)
	if err != nil {
		return err
	}
	if err := e.notifier.Notify(ctx, rec, path); err != nil {
		e.logger.Warn("escalation notifier failed", "staging_id", r.StagingID, "error", err)
	}
	return nil
}

func (e *Engine) reject(r record.ValidationReport, violations []string) error {
	rec := record.RejectionRecord{
		StagingID:    r.StagingID,
		ValidationID: r.ValidationID,
		ProposalID:   r.ProposalID,
		Kind:         r.Kind,
		RejectedAt:   e.clock.Now(),
		Violations:   violations,
	}
	if e.current != nil {
		rec.PolicyDigest = e.current.Digest()
	}
	if err := rec.Seal(); err != nil {
		return err
	}
	path, err := e.queue.WriteRejection(rec)
	if err != nil {
		return err
	}
	e.logger.Warn("change rejected", "staging_id", r.StagingID, "violations", strings.Join(violations, "; "), "file", path)
	return nil
}

// Run decides every report awaiting governance. A policy that cannot be
// loaded fails the run before anything is deployed. Deployment failures
// are counted and retried on a later run.
func (e *Engine) Run(ctx context.Context) (record.StageReport, error) {
	report := record.StageReport{Stage: record.StageGovernance}
	if _, err := e.LoadPolicy(ctx); err != nil {
		return report, err
	}
	reports, err := e.queue.ReportsAwaitingGovernance()
	if err != nil {
		return report, fmt.Errorf("poll reports: %w", err)
	}

	var errs []error
	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := e.process(ctx, r)
		if err != nil {
			e.logger.Error("governance failed", "staging_id", r.StagingID, "outcome", outcome, "error", err)
			report.Add(outcome)
			if outcome != "deploy_failed" {
				errs = append(errs, err)
			}
			continue
		}
		report.Add(outcome)
	}
	return report, errors.Join(errs...)
}

func (e *Engine) process(ctx context.Context, r record.ValidationReport) (string, error) {
	if r.Exhausted {
		ok, err := e.Escalate(ctx, r, "implementation retries exhausted",
			[]string{fmt.Sprintf("retry count %d, last score %.2f", r.RetryCount, r.Score)})
		return outcomeOf(ok, err, "escalated", "failed")
	}

	decision, err := e.CheckPolicy(r)
	if err != nil {
		return "failed", err
	}
	switch decision.Outcome {
	case policy.Escalate:
		ok, err := e.Escalate(ctx, r, strings.Join(decision.Human, "; "), decision.Reasons())
		return outcomeOf(ok, err, "escalated", "failed")
	case policy.Reject:
		ok, err := e.Reject(ctx, r, decision.Violations)
		return outcomeOf(ok, err, "rejected", "failed")
	default:
		ok, err := e.Deploy(ctx, r)
		return outcomeOf(ok, err, "deployed", "deploy_failed")
	}
}

func outcomeOf(ok bool, err error, success, failure string) (string, error) {
	switch {
	case err != nil:
		return failure, err
	case !ok:
		return "skipped", nil
	default:
		return success, nil
	}
}

func (e *Engine) ack(ctx context.Context, id, outcome string) {
	if err := e.queue.Ack(ctx, record.StageGovernance, id, outcome); err != nil {
		e.logger.Warn("ack failed", "staging_id", id, "error", err)
	}
}

func (e *Engine) release(ctx context.Context, id string, cause error) {
	if err := e.queue.Release(ctx, record.StageGovernance, id, record.Truncate(cause.Error(), 200)); err != nil {
		e.logger.Warn("release failed", "staging_id", id, "error", err)
	}
}
