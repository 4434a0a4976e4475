// Package config loads rsi settings from an optional YAML file and RSI_*
// environment variables. Every path and identity-specific value the
// pipeline uses comes from here.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/record"
)

// Config is the root configuration.
type Config struct {
	Paths        PathsConfig        `koanf:"paths"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Discovery    DiscoveryConfig    `koanf:"discovery"`
	Deploy       DeployConfig       `koanf:"deploy"`
	Watch        WatchConfig        `koanf:"watch"`
}

// PathsConfig locates the queue and its companions. Relative paths are
// resolved against Base.
type PathsConfig struct {
	Base            string `koanf:"base"`
	Proposals       string `koanf:"proposals"`
	Staging         string `koanf:"staging"`
	Validation      string `koanf:"validation"`
	Deployed        string `koanf:"deployed"`
	Logs            string `koanf:"logs"`
	Live            string `koanf:"live"`
	Policy          string `koanf:"policy"`
	Database        string `koanf:"database"`
	MetricsTextfile string `koanf:"metrics_textfile"`
}

// OrchestratorConfig controls cycle execution.
type OrchestratorConfig struct {
	StageTimeout time.Duration `koanf:"stage_timeout"`
	LeaseTTL     time.Duration `koanf:"lease_ttl"`
	Owner        string        `koanf:"owner"`
	// Stages maps a stage name to an external program that replaces the
	// built-in engine.
	Stages map[string]string `koanf:"stages"`
}

// ProcessConfig names a process discovery keeps alive.
type ProcessConfig struct {
	Name         string `koanf:"name"`
	Pattern      string `koanf:"pattern"`
	StartCommand string `koanf:"start_command"`
	WorkDir      string `koanf:"work_dir"`
	LogFile      string `koanf:"log_file"`
}

// SeedConfig is a standing improvement idea.
type SeedConfig struct {
	Kind            string `koanf:"kind"`
	Component       string `koanf:"component"`
	Title           string `koanf:"title"`
	Description     string `koanf:"description"`
	Rationale       string `koanf:"rationale"`
	ExpectedImpact  string `koanf:"expected_impact"`
	SuggestedAction string `koanf:"suggested_action"`
	Complexity      string `koanf:"complexity"`
	Priority        string `koanf:"priority"`
}

// DiscoveryConfig configures probes and seeds.
type DiscoveryConfig struct {
	Processes            []ProcessConfig `koanf:"processes"`
	DiskPaths            []string        `koanf:"disk_paths"`
	DiskThresholdPercent float64         `koanf:"disk_threshold_percent"`
	CleanupDirs          []string        `koanf:"cleanup_dirs"`
	LogFiles             []string        `koanf:"log_files"`
	LogTailLines         int             `koanf:"log_tail_lines"`
	LogErrorThreshold    int             `koanf:"log_error_threshold"`
	ProbeTimeout         time.Duration   `koanf:"probe_timeout"`
	Seeds                []SeedConfig    `koanf:"seeds"`
	DisableSeeds         bool            `koanf:"disable_seeds"`
}

// DeployConfig configures governance deployers.
type DeployConfig struct {
	ActivationTimeout time.Duration `koanf:"activation_timeout"`
	AutomationDir     string        `koanf:"automation_dir"`
}

// WatchConfig configures `rsi watch`.
type WatchConfig struct {
	Interval time.Duration `koanf:"interval"`
	MinGap   time.Duration `koanf:"min_gap"`
}

// Default values.
const (
	DefaultStageTimeout      = 300 * time.Second
	DefaultLeaseTTL          = 10 * time.Minute
	DefaultActivationTimeout = 30 * time.Second
	DefaultProbeTimeout      = 5 * time.Second
	DefaultDiskThreshold     = 80.0
	DefaultLogTailLines      = 100
	DefaultLogErrorThreshold = 5
	DefaultWatchInterval     = time.Hour
	DefaultWatchMinGap       = 30 * time.Second
)

func applyDefaults(cfg *Config) {
	if cfg.Paths.Base == "" {
		cfg.Paths.Base = "."
	}
	if cfg.Orchestrator.StageTimeout == 0 {
		cfg.Orchestrator.StageTimeout = DefaultStageTimeout
	}
	if cfg.Orchestrator.LeaseTTL == 0 {
		cfg.Orchestrator.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.Deploy.ActivationTimeout == 0 {
		cfg.Deploy.ActivationTimeout = DefaultActivationTimeout
	}
	if cfg.Discovery.ProbeTimeout == 0 {
		cfg.Discovery.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Discovery.DiskThresholdPercent == 0 {
		cfg.Discovery.DiskThresholdPercent = DefaultDiskThreshold
	}
	if cfg.Discovery.LogTailLines == 0 {
		cfg.Discovery.LogTailLines = DefaultLogTailLines
	}
	if cfg.Discovery.LogErrorThreshold == 0 {
		cfg.Discovery.LogErrorThreshold = DefaultLogErrorThreshold
	}
	if cfg.Watch.Interval == 0 {
		cfg.Watch.Interval = DefaultWatchInterval
	}
	if cfg.Watch.MinGap == 0 {
		cfg.Watch.MinGap = DefaultWatchMinGap
	}
}

// resolve fills in unset paths and anchors relative ones at Base.
func (p *PathsConfig) resolve() {
	base := p.Base
	at := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
		if *v != "" && !filepath.IsAbs(*v) {
			*v = filepath.Join(base, *v)
		}
	}
	at(&p.Proposals, "proposals")
	at(&p.Staging, "staging")
	at(&p.Validation, "validation")
	at(&p.Deployed, "deployed")
	at(&p.Logs, "logs")
	at(&p.Live, "live")
	at(&p.Policy, "constitution.yaml")
	at(&p.Database, "rsi.db")
	if p.MetricsTextfile != "" {
		at(&p.MetricsTextfile, "")
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	positive("orchestrator.stage_timeout", c.Orchestrator.StageTimeout)
	positive("orchestrator.lease_ttl", c.Orchestrator.LeaseTTL)
	positive("deploy.activation_timeout", c.Deploy.ActivationTimeout)
	positive("discovery.probe_timeout", c.Discovery.ProbeTimeout)

	if t := c.Discovery.DiskThresholdPercent; t <= 0 || t > 100 {
		errs = append(errs, fmt.Errorf("discovery.disk_threshold_percent must be in (0,100], got %g", t))
	}
	if c.Discovery.LogTailLines <= 0 {
		errs = append(errs, fmt.Errorf("discovery.log_tail_lines must be positive, got %d", c.Discovery.LogTailLines))
	}
	if c.Discovery.LogErrorThreshold < 0 {
		errs = append(errs, fmt.Errorf("discovery.log_error_threshold must not be negative, got %d", c.Discovery.LogErrorThreshold))
	}
	if c.Watch.Interval < 0 || c.Watch.MinGap < 0 {
		errs = append(errs, errors.New("watch durations must not be negative"))
	}
	for i, p := range c.Discovery.Processes {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("discovery.processes[%d]: name is required", i))
		}
	}
	for i, s := range c.Discovery.Seeds {
		if s.Kind == "" {
			errs = append(errs, fmt.Errorf("discovery.seeds[%d]: kind is required", i))
		}
		if _, err := record.ParseComplexity(s.Complexity); s.Complexity != "" && err != nil {
			errs = append(errs, fmt.Errorf("discovery.seeds[%d]: %w", i, err))
		}
	}
	for name := range c.Orchestrator.Stages {
		if !knownStage(name) {
			errs = append(errs, fmt.Errorf("orchestrator.stages: unknown stage %q", name))
		}
	}
	return errors.Join(errs...)
}

func knownStage(name string) bool {
	for _, s := range record.Stages() {
		if s == name {
			return true
		}
	}
	return false
}

// Layout returns the queue layout described by the paths section.
func (c *Config) Layout() queue.Layout {
	return queue.Layout{
		Base:       c.Paths.Base,
		Proposals:  c.Paths.Proposals,
		Staging:    c.Paths.Staging,
		Validation: c.Paths.Validation,
		Deployed:   c.Paths.Deployed,
		Logs:       c.Paths.Logs,
	}
}

// AutomationDir is where process and revenue deployers install files.
func (c *Config) AutomationDir() string {
	if c.Deploy.AutomationDir == "" {
		return c.Paths.Live
	}
	if filepath.IsAbs(c.Deploy.AutomationDir) {
		return c.Deploy.AutomationDir
	}
	return filepath.Join(c.Paths.Base, c.Deploy.AutomationDir)
}

// ProcessDetails converts the configured processes.
func (c *Config) ProcessDetails() []record.ProcessDetail {
	out := make([]record.ProcessDetail, 0, len(c.Discovery.Processes))
	for _, p := range c.Discovery.Processes {
		out = append(out, record.ProcessDetail{
			Name:         p.Name,
			Pattern:      p.Pattern,
			StartCommand: p.StartCommand,
			WorkDir:      p.WorkDir,
			LogFile:      p.LogFile,
		})
	}
	return out
}

// SeedFindings converts the configured seeds. It returns nil when none are
// configured, letting the caller choose the built-in ideas.
func (c *Config) SeedFindings() []record.Finding {
	if len(c.Discovery.Seeds) == 0 {
		return nil
	}
	out := make([]record.Finding, 0, len(c.Discovery.Seeds))
	for _, s := range c.Discovery.Seeds {
		cx, _ := record.ParseComplexity(s.Complexity)
		out = append(out, record.Finding{
			Kind:            record.Kind(s.Kind),
			Component:       s.Component,
			Severity:        record.SeverityLow,
			Title:           s.Title,
			Description:     s.Description,
			Rationale:       s.Rationale,
			ExpectedImpact:  s.ExpectedImpact,
			SuggestedAction: s.SuggestedAction,
			Complexity:      cx,
			Priority:        s.Priority,
		})
	}
	return out
}
