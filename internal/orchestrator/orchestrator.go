// Package orchestrator drives the pipeline: one full cycle runs discovery,
// implementation, validation and governance in that order, each under a
// time bound, and records a summary. A halt sentinel file stops full
// cycles until it is removed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/record"
	"github.com/roach88/rsi/internal/store"
)

// HaltFile is the sentinel name inside the queue base directory.
const HaltFile = ".halt"

// DefaultStageTimeout bounds each stage run.
const DefaultStageTimeout = 300 * time.Second

// Ledger persists cycle summaries and exposes live claims. *store.Store
// implements it.
type Ledger interface {
	RecordCycle(ctx context.Context, c record.CycleSummary) error
	LastCycle(ctx context.Context) (*record.CycleSummary, error)
	LiveClaims(ctx context.Context) ([]store.Claim, error)
}

// Orchestrator runs stages in pipeline order.
type Orchestrator struct {
	queue    *queue.Queue
	stages   []Stage
	timeout  time.Duration
	ledger   Ledger
	metrics  *Metrics
	textfile string
	ids      record.IDGenerator
	clock    record.Clock
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStageTimeout sets the per-stage time bound.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithLedger records cycle summaries and reports claims in Status.
func WithLedger(l Ledger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithMetrics records Prometheus metrics. When textfile is non-empty the
// registry is written there after every cycle.
func WithMetrics(m *Metrics, textfile string) Option {
	return func(o *Orchestrator) {
		o.metrics = m
		o.textfile = textfile
	}
}

// WithIDGenerator overrides cycle id generation.
func WithIDGenerator(g record.IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithClock overrides the time source.
func WithClock(c record.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator over stages, which must be given in pipeline
// order.
func New(q *queue.Queue, stages []Stage, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		queue:   q,
		stages:  append([]Stage(nil), stages...),
		timeout: DefaultStageTimeout,
		ids:     record.UUIDv7Generator{},
		clock:   record.SystemClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stages returns the registered stage names in order.
func (o *Orchestrator) Stages() []string {
	names := make([]string, len(o.stages))
	for i, s := range o.stages {
		names[i] = s.Name()
	}
	return names
}

func (o *Orchestrator) haltPath() string {
	return filepath.Join(o.queue.Layout().Base, HaltFile)
}

// Halted reports whether the halt sentinel is present.
func (o *Orchestrator) Halted() bool {
	_, err := os.Stat(o.haltPath())
	return err == nil
}

// HaltReason returns the content of the halt sentinel.
func (o *Orchestrator) HaltReason() string {
	data, err := os.ReadFile(o.haltPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Halt creates the halt sentinel. Halting twice keeps the first reason.
func (o *Orchestrator) Halt(reason string) error {
	if o.Halted() {
		return nil
	}
	if err := os.MkdirAll(o.queue.Layout().Base, 0o755); err != nil {
		return fmt.Errorf("halt: %w", err)
	}
	if reason == "" {
		reason = "halted by operator"
	}
	line := fmt.Sprintf("%s %s\n", o.clock.Now().Format(time.RFC3339), reason)
	if err := os.WriteFile(o.haltPath(), []byte(line), 0o644); err != nil {
		return fmt.Errorf("halt: %w", err)
	}
	o.logger.Warn("pipeline halted", "reason", reason)
	return nil
}

// Resume removes the halt sentinel. Resuming a running pipeline is a no-op.
func (o *Orchestrator) Resume() error {
	err := os.Remove(o.haltPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("resume: %w", err)
	}
	if err == nil {
		o.logger.Info("pipeline resumed")
	}
	return nil
}

// RunCycle runs every stage in order. A failing stage does not stop the
// ones after it. With the halt sentinel present no stage runs and the
// returned error is ErrHalted.
func (o *Orchestrator) RunCycle(ctx context.Context) (record.CycleSummary, error) {
	summary := record.CycleSummary{
		ID:        record.PrefixCycle + o.ids.Generate(),
		StartedAt: o.clock.Now(),
		Stages:    []record.StageResult{},
	}

	if o.Halted() {
		summary.Halted = true
		summary.FinishedAt = o.clock.Now()
		o.logger.Warn("cycle refused: pipeline halted", "reason", o.HaltReason())
		o.finish(ctx, summary)
		return summary, ErrHalted
	}

	o.logger.Info("cycle starting", "cycle_id", summary.ID, "stages", len(o.stages))
	for _, s := range o.stages {
		summary.Stages = append(summary.Stages, o.runStage(ctx, s))
	}
	summary.FinishedAt = o.clock.Now()
	summary.OK = len(summary.Stages) > 0 && summary.Succeeded() == len(summary.Stages)

	o.logger.Info("cycle finished",
		"cycle_id", summary.ID,
		"ok", summary.OK,
		"succeeded", summary.Succeeded(),
		"stages", len(summary.Stages),
	)
	o.finish(ctx, summary)
	return summary, nil
}

// RunStage runs a single named stage. The halt sentinel only gates full
// cycles.
func (o *Orchestrator) RunStage(ctx context.Context, name string) (record.StageResult, error) {
	for _, s := range o.stages {
		if s.Name() == name {
			res := o.runStage(ctx, s)
			o.observeDepths()
			o.writeTextfile()
			return res, nil
		}
	}
	return record.StageResult{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

func (o *Orchestrator) runStage(ctx context.Context, s Stage) record.StageResult {
	name := s.Name()
	start := time.Now()

	sctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	report, err := invoke(sctx, s)
	err = classify(name, err, sctx.Err())

	res := record.StageResult{
		Stage:      name,
		OK:         err == nil,
		DurationMS: time.Since(start).Milliseconds(),
		Counts:     report.Counts,
	}
	if err != nil {
		res.Error = record.Truncate(err.Error(), 200)
		o.logger.Error("stage failed", "stage", name, "error", res.Error)
	} else {
		o.logger.Info("stage completed", "stage", name, "duration_ms", res.DurationMS, "counts", res.Counts)
	}
	if o.metrics != nil {
		o.metrics.ObserveStage(res)
	}
	return res
}

// invoke runs s, converting a panic into a StageError.
func invoke(ctx context.Context, s Stage) (report record.StageReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StageError{Stage: s.Name(), Code: CodePanic, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	return s.Run(ctx)
}

// classify wraps a raw stage error in a StageError. Errors that are already
// StageErrors keep their code.
func classify(stage string, err, ctxErr error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return &StageError{Stage: stage, Code: CodeTimeout, Cause: err}
	}
	return &StageError{Stage: stage, Code: CodeFailed, Cause: err}
}

func (o *Orchestrator) finish(ctx context.Context, summary record.CycleSummary) {
	if o.ledger != nil {
		if err := o.ledger.RecordCycle(ctx, summary); err != nil {
			o.logger.Warn("could not record cycle", "cycle_id", summary.ID, "error", err)
		}
	}
	if o.metrics != nil {
		o.metrics.ObserveCycle(summary)
	}
	o.observeDepths()
	o.writeTextfile()
}

func (o *Orchestrator) observeDepths() {
	if o.metrics != nil {
		o.metrics.SetDepths(o.queue.Depths())
	}
}

func (o *Orchestrator) writeTextfile() {
	if o.metrics == nil || o.textfile == "" {
		return
	}
	if err := o.metrics.WriteTextfile(o.textfile); err != nil {
		o.logger.Warn("could not write metrics textfile", "path", o.textfile, "error", err)
	}
}
