// Package validate scores implementation artifacts against a per-kind
// rubric and decides whether they go to governance, back to
// implementation, or to a human.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/record"
)

// DefaultThreshold is the passing score.
const DefaultThreshold = 0.8

// DefaultMaxRetries is used when no retry limit is configured.
const DefaultMaxRetries = 5

// Engine runs the validation stage.
type Engine struct {
	queue      *queue.Queue
	clock      record.Clock
	logger     *slog.Logger
	threshold  float64
	retryLimit func() int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(c record.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithThreshold sets the passing score.
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithRetryLimit sets the function consulted for the attempt cap.
func WithRetryLimit(fn func() int) Option {
	return func(e *Engine) { e.retryLimit = fn }
}

// New creates a validation engine.
func New(q *queue.Queue, opts ...Option) *Engine {
	e := &Engine{
		queue:      q,
		clock:      record.SystemClock{},
		logger:     slog.Default(),
		threshold:  DefaultThreshold,
		retryLimit: func() int { return DefaultMaxRetries },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements the orchestrator stage interface.
func (e *Engine) Name() string { return record.StageValidation }

// PollUnvalidated returns artifacts without a .validated marker.
func (e *Engine) PollUnvalidated() ([]queue.Artifact, error) {
	return e.queue.UnvalidatedArtifacts()
}

// ValidationID returns the report id for a staging id. It is derived, so
// re-validating after a crash overwrites rather than duplicates.
func ValidationID(stagingID string) string {
	return record.PrefixValidation + strings.TrimPrefix(stagingID, record.PrefixStaging)
}

// Validate scores a and builds its report. It writes nothing.
func (e *Engine) Validate(a queue.Artifact) (record.ValidationReport, error) {
	in, err := Inspect(a)
	if err != nil {
		return record.ValidationReport{}, err
	}
	points, score, checks := Score(Rubric(in.Kind), in)

	r := record.ValidationReport{
		ValidationID: ValidationID(a.StagingID),
		StagingID:    a.StagingID,
		Kind:         in.Kind,
		ValidatedAt:  e.clock.Now(),
		Points:       points,
		Score:        score,
		Threshold:    e.threshold,
		Checks:       checks,
		Incomplete:   !in.Complete,
	}
	r.Passed = in.Complete && score >= e.threshold

	if a.Manifest != nil {
		r.ProposalID = a.Manifest.ProposalID
		r.RetryCount = a.Manifest.SourceProposal.RetryCount
		if p, err := e.queue.ReadProposal(r.ProposalID); err == nil {
			r.RetryCount = p.RetryCount
		}
	}

	switch {
	case r.Passed:
		r.NextAction = record.NextGovernanceReview
	case r.ProposalID != "" && r.RetryCount >= e.retryLimit():
		r.Exhausted = true
		r.NextAction = record.NextEscalate
	default:
		r.NextAction = record.NextImplementationRetry
	}
	r.ReportText = reportText(r, a.Problem)
	return r, nil
}

// Run validates every unvalidated artifact once.
func (e *Engine) Run(ctx context.Context) (record.StageReport, error) {
	report := record.StageReport{Stage: record.StageValidation}
	artifacts, err := e.PollUnvalidated()
	if err != nil {
		return report, fmt.Errorf("poll unvalidated: %w", err)
	}

	var errs []error
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := e.process(ctx, a)
		if err != nil {
			e.logger.Error("validation failed", "staging_id", a.StagingID, "error", err)
			report.Add("failed")
			errs = append(errs, err)
			continue
		}
		report.Add(outcome)
	}
	return report, errors.Join(errs...)
}

func (e *Engine) process(ctx context.Context, a queue.Artifact) (string, error) {
	stage := record.StageValidation
	claimed, err := e.queue.Claim(ctx, stage, a.StagingID)
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", a.StagingID, err)
	}
	if !claimed {
		return "claimed_elsewhere", nil
	}
	if e.queue.IsValidated(a.StagingID) {
		e.ack(ctx, a.StagingID, "skipped")
		return "skipped", nil
	}

	r, err := e.Validate(a)
	if err != nil {
		e.release(ctx, a.StagingID, err)
		return "", err
	}
	if err := e.queue.WriteReport(r); err != nil {
		e.release(ctx, a.StagingID, err)
		return "", err
	}
	if err := e.queue.MarkValidated(a.StagingID, r.ValidationID); err != nil {
		if errors.Is(err, queue.ErrMarkerExists) {
			e.ack(ctx, a.StagingID, "skipped")
			return "skipped", nil
		}
		e.release(ctx, a.StagingID, err)
		return "", err
	}

	outcome := "passed"
	switch {
	case r.Exhausted:
		outcome = "exhausted"
	case !r.Passed:
		outcome = "retry"
		if err := e.reopen(r); err != nil {
			e.logger.Warn("could not reopen proposal", "proposal_id", r.ProposalID, "error", err)
		}
	}
	e.logger.Info("artifact validated",
		"staging_id", r.StagingID,
		"kind", r.Kind,
		"score", r.Score,
		"passed", r.Passed,
		"next_action", r.NextAction,
	)
	e.ack(ctx, a.StagingID, outcome)
	return outcome, nil
}

// reopen returns an implemented proposal to pending after its latest
// artifact failed. Older artifacts never reopen a proposal.
func (e *Engine) reopen(r record.ValidationReport) error {
	if r.ProposalID == "" {
		return nil
	}
	p, err := e.queue.ReadProposal(r.ProposalID)
	if err != nil {
		return err
	}
	if p.Status != record.StatusImplemented || p.LastStagingID != r.StagingID {
		return nil
	}
	p.Status = record.StatusPending
	p.ImplementedAt = nil
	return e.queue.WriteProposal(p)
}

func reportText(r record.ValidationReport, problem string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validation %s for %s (%s)\n", r.ValidationID, r.StagingID, r.Kind)
	if problem != "" {
		fmt.Fprintf(&b, "Incomplete: %s\n", problem)
	}
	for _, c := range r.Checks {
		mark := "FAIL"
		if c.Passed {
			mark = "PASS"
		}
		fmt.Fprintf(&b, "  [%s] %s (%d)\n", mark, c.Name, c.Points)
	}
	fmt.Fprintf(&b, "Score: %.2f (threshold %.2f)\n", r.Score, r.Threshold)
	fmt.Fprintf(&b, "Next: %s\n", r.NextAction)
	return b.String()
}

func (e *Engine) ack(ctx context.Context, id, outcome string) {
	if err := e.queue.Ack(ctx, record.StageValidation, id, outcome); err != nil {
		e.logger.Warn("ack failed", "staging_id", id, "error", err)
	}
}

func (e *Engine) release(ctx context.Context, id string, cause error) {
	if err := e.queue.Release(ctx, record.StageValidation, id, cause.Error()); err != nil {
		e.logger.Warn("release failed", "staging_id", id, "error", err)
	}
}
