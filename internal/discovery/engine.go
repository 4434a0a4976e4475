// Package discovery scans the environment for problems and standing
// improvement ideas and turns each finding into a pending proposal.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/record"
)

// Engine runs the discovery stage.
type Engine struct {
	queue  *queue.Queue
	probes []Probe
	ids    record.IDGenerator
	clock  record.Clock
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator overrides proposal id generation.
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

// New creates a discovery engine that runs probes in order.
func New(q *queue.Queue, probes []Probe, opts ...Option) *Engine {
	e := &Engine{
		queue:  q,
		probes: probes,
		ids:    record.UUIDv7Generator{},
		clock:  record.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements the orchestrator stage interface.
func (e *Engine) Name() string { return record.StageDiscovery }

// Scan runs every probe and returns their findings. A probe error is
// logged and the probe's partial findings are kept.
func (e *Engine) Scan(ctx context.Context) []record.Finding {
	var out []record.Finding
	for _, p := range e.probes {
		if ctx.Err() != nil {
			break
		}
		found, err := p.Scan(ctx)
		if err != nil {
			e.logger.Warn("probe failed", "probe", p.Name(), "error", err)
		}
		e.logger.Debug("probe finished", "probe", p.Name(), "findings", len(found))
		out = append(out, found...)
	}
	return out
}

// Propose persists f as a new pending proposal and returns its id.
func (e *Engine) Propose(ctx context.Context, f record.Finding) (string, error) {
	if f.Kind == "" {
		return "", errors.New("propose: finding has no kind")
	}
	if !f.Kind.Known() {
		e.logger.Warn("unknown finding kind, handled as generic", "kind", f.Kind)
	}
	p := record.Proposal{
		ID:                   record.PrefixProposal + e.ids.Generate(),
		CreatedAt:            e.clock.Now(),
		Finding:              f,
		EstimatedEffortHours: f.Complexity.EffortHours(),
		Status:               record.StatusPending,
	}
	if err := e.queue.WriteProposal(p); err != nil {
		return "", fmt.Errorf("propose: %w", err)
	}
	e.queue.Note(ctx, record.StageDiscovery, p.ID, "proposed", string(f.Kind))
	return p.ID, nil
}

// Run scans and proposes every finding. Findings that match an existing
// pending proposal are still proposed and counted as duplicates.
func (e *Engine) Run(ctx context.Context) (record.StageReport, error) {
	report := record.StageReport{Stage: record.StageDiscovery}

	existing := map[string]bool{}
	if pending, err := e.queue.Proposals(); err != nil {
		e.logger.Warn("cannot list proposals for duplicate check", "error", err)
	} else {
		for _, p := range pending {
			if p.Status == record.StatusPending {
				existing[fingerprint(p.Finding)] = true
			}
		}
	}

	findings := e.Scan(ctx)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	var errs []error
	for _, f := range findings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if existing[fingerprint(f)] {
			e.logger.Warn("duplicate finding proposed again", "kind", f.Kind, "component", f.Component, "title", f.Title)
			report.Add("duplicates")
		}
		id, err := e.Propose(ctx, f)
		if err != nil {
			e.logger.Error("propose failed", "kind", f.Kind, "error", err)
			report.Add("failed")
			errs = append(errs, err)
			continue
		}
		e.logger.Info("proposal created", "proposal_id", id, "kind", f.Kind, "title", f.Title)
		report.Add("proposed")
	}
	return report, errors.Join(errs...)
}

func fingerprint(f record.Finding) string {
	return string(f.Kind) + "\x00" + f.Component + "\x00" + f.Title
}
