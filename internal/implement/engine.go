// Package implement turns pending proposals into implementation artifacts:
// a fresh staging directory with generated files and a manifest.
package implement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/record"
)

// ErrHandlerFailed wraps errors raised by a kind handler.
var ErrHandlerFailed = errors.New("implementation handler failed")

// DefaultMaxRetries is used when no retry limit is configured.
const DefaultMaxRetries = 5

// Engine runs the implementation stage.
type Engine struct {
	queue      *queue.Queue
	ids        record.IDGenerator
	clock      record.Clock
	logger     *slog.Logger
	retryLimit func() int
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator overrides staging id generation.
func WithIDGenerator(g record.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClock overrides the time source.
func WithClock(c record.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRetryLimit sets the function consulted for the attempt cap on every
// run, so policy edits apply without a restart.
func WithRetryLimit(fn func() int) Option {
	return func(e *Engine) { e.retryLimit = fn }
}

// New creates an implementation engine.
func New(q *queue.Queue, opts ...Option) *Engine {
	e := &Engine{
		queue:      q,
		ids:        record.UUIDv7Generator{},
		clock:      record.SystemClock{},
		logger:     slog.Default(),
		retryLimit: func() int { return DefaultMaxRetries },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements the orchestrator stage interface.
func (e *Engine) Name() string { return record.StageImplementation }

// PollPending returns proposals that may be attempted. It takes no lock.
func (e *Engine) PollPending() ([]record.Proposal, error) {
	return e.queue.PendingProposals(e.retryLimit())
}

// Implement runs one attempt for p in a fresh staging directory. A manifest
// is written whether or not the handler succeeds; on failure it is marked
// not ready and ok is false. On success p is rewritten as implemented.
// Implement never changes p.RetryCount.
func (e *Engine) Implement(ctx context.Context, p record.Proposal) (record.Manifest, bool, error) {
	if err := ctx.Err(); err != nil {
		return record.Manifest{}, false, err
	}

	stagingID := record.PrefixStaging + e.ids.Generate()
	dir, err := e.queue.CreateStaging(stagingID)
	if err != nil {
		return record.Manifest{}, false, fmt.Errorf("implement %s: %w", p.ID, err)
	}

	gen := &generator{dir: dir, proposalID: p.ID}
	herr := p.Finding.Accept(gen)

	m := record.Manifest{
		StagingID:          stagingID,
		ProposalID:         p.ID,
		Kind:               p.Kind(),
		CreatedAt:          e.clock.Now(),
		Attempt:            p.RetryCount,
		SourceProposal:     p,
		FilesCreated:       gen.created(),
		ReadyForValidation: herr == nil,
	}
	if herr != nil {
		m.Error = herr.Error()
	}
	if err := e.queue.WriteManifest(m); err != nil {
		return m, false, fmt.Errorf("implement %s: %w", p.ID, err)
	}
	if herr != nil {
		return m, false, fmt.Errorf("implement %s: %w: %v", p.ID, ErrHandlerFailed, herr)
	}

	now := m.CreatedAt
	p.Status = record.StatusImplemented
	p.LastStagingID = stagingID
	p.ImplementedAt = &now
	if err := e.queue.WriteProposal(p); err != nil {
		return m, false, fmt.Errorf("implement %s: %w", p.ID, err)
	}
	return m, true, nil
}

// Attempt claims p, counts the attempt and implements it. The retry count
// is incremented and persisted before the handler runs, so a crash mid-way
// still consumes the attempt.
func (e *Engine) Attempt(ctx context.Context, p record.Proposal) (string, error) {
	stage := record.StageImplementation
	claimed, err := e.queue.Claim(ctx, stage, p.ID)
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", p.ID, err)
	}
	if !claimed {
		return "claimed_elsewhere", nil
	}

	current, err := e.queue.ReadProposal(p.ID)
	if err != nil {
		e.release(ctx, p.ID, err)
		return "", err
	}
	if current.Status != record.StatusPending || current.RetryCount >= e.retryLimit() {
		e.ack(ctx, p.ID, "skipped")
		return "skipped", nil
	}

	current.RetryCount++
	if err := e.queue.WriteProposal(current); err != nil {
		e.release(ctx, p.ID, err)
		return "", fmt.Errorf("count attempt %s: %w", p.ID, err)
	}

	m, ok, err := e.Implement(ctx, current)
	switch {
	case ok:
		e.ack(ctx, p.ID, "implemented:"+m.StagingID)
		return "implemented", nil
	case errors.Is(err, ErrHandlerFailed):
		e.logger.Warn("handler failed", "proposal_id", p.ID, "attempt", current.RetryCount, "error", err)
		e.ack(ctx, p.ID, "handler_failed:"+m.StagingID)
		return "handler_failed", nil
	default:
		e.release(ctx, p.ID, err)
		return "", err
	}
}

// Run attempts every pending proposal. Handler failures are counted; other
// errors are logged, counted and returned together after the loop.
func (e *Engine) Run(ctx context.Context) (record.StageReport, error) {
	report := record.StageReport{Stage: record.StageImplementation}
	pending, err := e.PollPending()
	if err != nil {
		return report, fmt.Errorf("poll pending: %w", err)
	}

	var errs []error
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := e.Attempt(ctx, p)
		if err != nil {
			e.logger.Error("attempt failed", "proposal_id", p.ID, "error", err)
			report.Add("failed")
			errs = append(errs, err)
			continue
		}
		e.logger.Info("proposal processed", "proposal_id", p.ID, "kind", p.Kind(), "outcome", outcome)
		report.Add(outcome)
	}

	abandoned, err := e.PollAbandoned()
	if err != nil {
		return report, errors.Join(append(errs, fmt.Errorf("poll abandoned: %w", err))...)
	}
	for _, p := range abandoned {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := e.Abandon(ctx, p)
		if err != nil {
			e.logger.Error("closing abandoned attempt failed", "proposal_id", p.ID, "error", err)
			report.Add("failed")
			errs = append(errs, err)
			continue
		}
		e.logger.Warn("abandoned attempt closed", "proposal_id", p.ID, "attempt", p.RetryCount, "outcome", outcome)
		report.Add(outcome)
	}
	return report, errors.Join(errs...)
}

// PollAbandoned returns pending proposals that used their last attempt
// without leaving a manifest for it, after a crash or a staging write
// failure. No report can exist for them until one is written.
func (e *Engine) PollAbandoned() ([]record.Proposal, error) {
	limit := e.retryLimit()
	all, err := e.queue.Proposals()
	if err != nil {
		return nil, err
	}
	var exhausted []record.Proposal
	for _, p := range all {
		if p.Status == record.StatusPending && p.RetryCount >= limit && p.Kind() != "" {
			exhausted = append(exhausted, p)
		}
	}
	if len(exhausted) == 0 {
		return nil, nil
	}

	manifests, err := e.queue.Manifests()
	if err != nil {
		return nil, err
	}
	type attempt struct {
		proposalID string
		n          int
	}
	seen := make(map[attempt]bool, len(manifests))
	for _, m := range manifests {
		seen[attempt{m.ProposalID, m.Attempt}] = true
	}

	var out []record.Proposal
	for _, p := range exhausted {
		if !seen[attempt{p.ID, p.RetryCount}] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Abandon claims p and records its last attempt as failed with a not-ready
// manifest in a fresh staging directory. Validation then reports the
// proposal exhausted and governance escalates it.
func (e *Engine) Abandon(ctx context.Context, p record.Proposal) (string, error) {
	stage := record.StageImplementation
	claimed, err := e.queue.Claim(ctx, stage, p.ID)
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", p.ID, err)
	}
	if !claimed {
		return "claimed_elsewhere", nil
	}

	current, err := e.queue.ReadProposal(p.ID)
	if err != nil {
		e.release(ctx, p.ID, err)
		return "", err
	}
	if current.Status != record.StatusPending || current.RetryCount != p.RetryCount {
		e.ack(ctx, p.ID, "skipped")
		return "skipped", nil
	}

	stagingID := record.PrefixStaging + e.ids.Generate()
	if _, err := e.queue.CreateStaging(stagingID); err != nil {
		e.release(ctx, p.ID, err)
		return "", fmt.Errorf("abandon %s: %w", p.ID, err)
	}
	m := record.Manifest{
		StagingID:      stagingID,
		ProposalID:     current.ID,
		Kind:           current.Kind(),
		CreatedAt:      e.clock.Now(),
		Attempt:        current.RetryCount,
		SourceProposal: current,
		FilesCreated:   []string{},
		Error:          fmt.Sprintf("attempt %d ended without a manifest", current.RetryCount),
	}
	if err := e.queue.WriteManifest(m); err != nil {
		e.release(ctx, p.ID, err)
		return "", fmt.Errorf("abandon %s: %w", p.ID, err)
	}
	e.ack(ctx, p.ID, "abandoned:"+stagingID)
	return "abandoned", nil
}

func (e *Engine) ack(ctx context.Context, id, outcome string) {
	if err := e.queue.Ack(ctx, record.StageImplementation, id, outcome); err != nil {
		e.logger.Warn("ack failed", "proposal_id", id, "error", err)
	}
}

func (e *Engine) release(ctx context.Context, id string, cause error) {
	if err := e.queue.Release(ctx, record.StageImplementation, id, cause.Error()); err != nil {
		e.logger.Warn("release failed", "proposal_id", id, "error", err)
	}
}
