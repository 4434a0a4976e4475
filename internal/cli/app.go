package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/rsi/internal/config"
	"github.com/roach88/rsi/internal/discovery"
	"github.com/roach88/rsi/internal/governance"
	"github.com/roach88/rsi/internal/implement"
	"github.com/roach88/rsi/internal/orchestrator"
	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/record"
	"github.com/roach88/rsi/internal/runner"
	"github.com/roach88/rsi/internal/store"
	"github.com/roach88/rsi/internal/validate"
)

// app is a fully wired pipeline for one command invocation.
type app struct {
	cfg          *config.Config
	store        *store.Store
	queue        *queue.Queue
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger
}

// newLogger installs a text handler on w. --verbose lowers the level to
// Debug.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the config file and applies --base.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	overrides := map[string]any{}
	if opts.Base != "" {
		overrides["paths.base"] = opts.Base
	}
	cfg, err := config.Load(opts.ConfigPath, overrides)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openApp opens the ledger and the queue and builds every stage.
func openApp(opts *RootOptions, stderr io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(stderr, opts.Verbose)

	if err := os.MkdirAll(filepath.Dir(cfg.Paths.Database), 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create database directory", err)
	}
	st, err := store.Open(cfg.Paths.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if n, err := st.ReapExpired(context.Background()); err != nil {
		logger.Warn("could not reap expired claims", "error", err)
	} else if n > 0 {
		logger.Info("reaped expired claims", "count", n)
	}

	q, err := queue.New(cfg.Layout(),
		queue.WithClaimer(st, cfg.Orchestrator.Owner, cfg.Orchestrator.LeaseTTL),
		queue.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open queue", err)
	}

	run := opts.Runner
	if run == nil {
		run = runner.NewExecRunner(cfg.Orchestrator.StageTimeout)
	}
	stages := buildStages(cfg, q, st, run, logger)

	orch := orchestrator.New(q, stages,
		orchestrator.WithStageTimeout(cfg.Orchestrator.StageTimeout),
		orchestrator.WithLedger(st),
		orchestrator.WithMetrics(orchestrator.NewMetrics(), cfg.Paths.MetricsTextfile),
		orchestrator.WithLogger(logger),
	)
	return &app{cfg: cfg, store: st, queue: q, orchestrator: orch, logger: logger}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// buildStages returns the four stages in pipeline order. A stage named in
// orchestrator.stages runs as an external program instead of the built-in
// engine.
func buildStages(cfg *config.Config, q *queue.Queue, st *store.Store, run runner.Runner, logger *slog.Logger) []orchestrator.Stage {
	src := governance.FilePolicy(cfg.Paths.Policy)
	retries := governance.RetryLimit(src, implement.DefaultMaxRetries)
	threshold := validate.DefaultThreshold
	if p, err := src(); err != nil {
		logger.Warn("could not load policy, using default threshold", "path", cfg.Paths.Policy, "error", err)
	} else {
		threshold = p.MinScore()
	}

	builtin := map[string]orchestrator.Stage{
		record.StageDiscovery: discovery.New(q, probes(cfg, run),
			discovery.WithLogger(logger.With("stage", record.StageDiscovery)),
		),
		record.StageImplementation: implement.New(q,
			implement.WithRetryLimit(retries),
			implement.WithLogger(logger.With("stage", record.StageImplementation)),
		),
		record.StageValidation: validate.New(q,
			validate.WithThreshold(threshold),
			validate.WithRetryLimit(retries),
			validate.WithLogger(logger.With("stage", record.StageValidation)),
		),
		record.StageGovernance: governance.New(q, src,
			governance.WithRunner(run),
			governance.WithDigestRecorder(st),
			governance.WithNotifier(governance.LogNotifier{Logger: logger}),
			governance.WithAutomationDir(cfg.AutomationDir()),
			governance.WithActivationTimeout(cfg.Deploy.ActivationTimeout),
			governance.WithLogger(logger.With("stage", record.StageGovernance)),
		),
	}

	stages := make([]orchestrator.Stage, 0, len(builtin))
	for _, name := range record.Stages() {
		if path, ok := cfg.Orchestrator.Stages[name]; ok {
			stages = append(stages, &orchestrator.ExecStage{
				StageName: name,
				Path:      path,
				Dir:       cfg.Paths.Base,
				Runner:    run,
			})
			continue
		}
		stages = append(stages, builtin[name])
	}
	return stages
}

func probes(cfg *config.Config, run runner.Runner) []discovery.Probe {
	d := cfg.Discovery
	out := []discovery.Probe{
		&discovery.ProcessProbe{Processes: cfg.ProcessDetails(), Runner: run, Timeout: d.ProbeTimeout},
		&discovery.DiskProbe{Paths: d.DiskPaths, ThresholdPercent: d.DiskThresholdPercent, CleanupDirs: d.CleanupDirs},
		&discovery.LogProbe{Files: d.LogFiles, TailLines: d.LogTailLines, Threshold: d.LogErrorThreshold},
	}
	if d.DisableSeeds {
		return out
	}
	seeds := cfg.SeedFindings()
	if seeds == nil {
		seeds = discovery.DefaultSeeds()
	}
	return append(out, &discovery.SeedProbe{Seeds: seeds})
}

// describe is used in verbose output.
func (a *app) describe() string {
	return fmt.Sprintf("base=%s db=%s policy=%s", a.cfg.Paths.Base, a.cfg.Paths.Database, a.cfg.Paths.Policy)
}
