package discovery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/roach88/rsi/internal/record"
	"github.com/roach88/rsi/internal/runner"
)

// Probe inspects one kind of operational signal.
type Probe interface {
	Name() string
	Scan(ctx context.Context) ([]record.Finding, error)
}

// DefaultProbeTimeout bounds each subprocess a probe starts.
const DefaultProbeTimeout = 5 * time.Second

// ProcessProbe reports configured processes that are not running, using
// pgrep -f with each process's pattern.
type ProcessProbe struct {
	Processes []record.ProcessDetail
	Runner    runner.Runner
	Timeout   time.Duration
}

func (p *ProcessProbe) Name() string { return "process" }

// Scan checks every process. A process whose check errors is skipped and
// the error joined into the result.
func (p *ProcessProbe) Scan(ctx context.Context) ([]record.Finding, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	var findings []record.Finding
	var errs []error
	for _, proc := range p.Processes {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		pattern := proc.Pattern
		if pattern == "" {
			pattern = proc.Name
		}
		res, err := p.Runner.Run(ctx, runner.Command{
			Name:    "pgrep",
			Args:    []string{"-f", pattern},
			Timeout: timeout,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("check %s: %w", proc.Name, err))
			continue
		}
		switch res.ExitCode {
		case 0:
			continue
		case 1:
			d := proc
			d.Pattern = pattern
			findings = append(findings, processFinding(d))
		default:
			errs = append(errs, fmt.Errorf("check %s: pgrep exited %d: %s", proc.Name, res.ExitCode, strings.TrimSpace(res.Stderr)))
		}
	}
	return findings, errors.Join(errs...)
}

func processFinding(d record.ProcessDetail) record.Finding {
	return record.Finding{
		Kind:            record.KindProcessFailure,
		Component:       d.Name,
		Severity:        record.SeverityHigh,
		Title:           fmt.Sprintf("Restart %s", d.Name),
		Description:     fmt.Sprintf("Process %s is not running (pattern %q).", d.Name, d.Pattern),
		Rationale:       "A monitored process stopped; its work is not being done.",
		ExpectedImpact:  "Process restored and monitored for future exits.",
		SuggestedAction: "restart and monitor process",
		Complexity:      record.ComplexityLow,
		Priority:        "high",
		Process:         &d,
	}
}

// UsageFunc returns the used percentage of the filesystem holding path.
type UsageFunc func(path string) (float64, error)

// DiskProbe reports filesystems whose usage exceeds ThresholdPercent.
type DiskProbe struct {
	Paths            []string
	ThresholdPercent float64
	CleanupDirs      []string
	// Usage defaults to StatfsUsage.
	Usage UsageFunc
}

func (p *DiskProbe) Name() string { return "disk" }

func (p *DiskProbe) Scan(ctx context.Context) ([]record.Finding, error) {
	usage := p.Usage
	if usage == nil {
		usage = StatfsUsage
	}
	var findings []record.Finding
	var errs []error
	for _, path := range p.Paths {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		pct, err := usage(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("usage of %s: %w", path, err))
			continue
		}
		if pct <= p.ThresholdPercent {
			continue
		}
		severity := record.SeverityMedium
		if pct >= 90 {
			severity = record.SeverityHigh
		}
		findings = append(findings, record.Finding{
			Kind:            record.KindResourceConstraint,
			Component:       path,
			Severity:        severity,
			Title:           fmt.Sprintf("Free disk space on %s", path),
			Description:     fmt.Sprintf("Filesystem holding %s is %.0f%% full (threshold %.0f%%).", path, pct, p.ThresholdPercent),
			Rationale:       "A full disk stops logging and writes.",
			ExpectedImpact:  "Old temporary and log files removed.",
			SuggestedAction: "clean up old files",
			Complexity:      record.ComplexityLow,
			Priority:        "high",
			Resource: &record.ResourceDetail{
				Path:         path,
				UsagePercent: pct,
				CleanupDirs:  append([]string(nil), p.CleanupDirs...),
			},
		})
	}
	return findings, errors.Join(errs...)
}

// StatfsUsage computes usage the way df does: used blocks over the blocks
// available to unprivileged users.
func StatfsUsage(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	used := float64(st.Blocks - st.Bfree)
	avail := float64(st.Bavail)
	if used+avail == 0 {
		return 0, nil
	}
	return used * 100 / (used + avail), nil
}

// LogProbe reports log files with too many error lines near the end.
type LogProbe struct {
	Files     []string
	TailLines int
	Threshold int
}

func (p *LogProbe) Name() string { return "logs" }

// Scan reads the last TailLines lines of each file. Missing files are
// ignored; unreadable ones are reported as errors.
func (p *LogProbe) Scan(ctx context.Context) ([]record.Finding, error) {
	var findings []record.Finding
	var errs []error
	for _, path := range p.Files {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		lines, err := tail(path, p.TailLines)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			continue
		}
		count := countErrors(lines)
		if count <= p.Threshold {
			continue
		}
		severity := record.SeverityMedium
		if count > 2*p.Threshold {
			severity = record.SeverityHigh
		}
		findings = append(findings, record.Finding{
			Kind:            record.KindErrorRate,
			Component:       path,
			Severity:        severity,
			Title:           fmt.Sprintf("Investigate errors in %s", path),
			Description:     fmt.Sprintf("%d error lines in the last %d lines of %s.", count, len(lines), path),
			Rationale:       "A rising error rate usually precedes an outage.",
			ExpectedImpact:  "Error sources identified.",
			SuggestedAction: "analyze error patterns",
			Complexity:      record.ComplexityMedium,
			Priority:        "medium",
			ErrorRate: &record.ErrorRateDetail{
				LogFile:      path,
				ErrorCount:   count,
				LinesScanned: len(lines),
			},
		})
	}
	return findings, errors.Join(errs...)
}

// tail returns the last n lines of the file at path.
func tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if n <= 0 {
		n = 100
	}
	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			ring = append(ring[1:], sc.Text())
			continue
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ring, nil
}

func countErrors(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, "ERROR") || strings.Contains(l, "Exception") {
			n++
		}
	}
	return n
}

// SeedProbe emits a fixed list of standing improvement ideas.
type SeedProbe struct {
	Seeds []record.Finding
}

func (p *SeedProbe) Name() string { return "seeds" }

func (p *SeedProbe) Scan(context.Context) ([]record.Finding, error) {
	out := make([]record.Finding, len(p.Seeds))
	copy(out, p.Seeds)
	return out, nil
}

// DefaultSeeds returns the built-in improvement ideas.
func DefaultSeeds() []record.Finding {
	return []record.Finding{
		{
			Kind:           record.KindArchitectureImprovement,
			Component:      "pipeline",
			Severity:       record.SeverityMedium,
			Title:          "Document the four-stage change pipeline",
			Description:    "Record the status of discovery, implementation, validation and governance.",
			Rationale:      "Operators need a current picture of what runs where.",
			ExpectedImpact: "Faster onboarding and incident response.",
			Complexity:     record.ComplexityHigh,
			Priority:       "high",
		},
		{
			Kind:           record.KindAutomation,
			Component:      "content",
			Severity:       record.SeverityLow,
			Title:          "Automate content deployment",
			Description:    "Publish prepared content on a schedule instead of by hand.",
			Rationale:      "Manual publishing is skipped when people are busy.",
			ExpectedImpact: "Consistent publishing cadence.",
			Complexity:     record.ComplexityLow,
			Priority:       "medium",
		},
		{
			Kind:           record.KindRevenueOptimization,
			Component:      "payments",
			Severity:       record.SeverityMedium,
			Title:          "Add a hosted payment checkout",
			Description:    "Collect deposits through a hosted checkout session.",
			Rationale:      "Invoices paid by hand are paid late.",
			ExpectedImpact: "Shorter time to payment.",
			Complexity:     record.ComplexityMedium,
			Priority:       "medium",
		},
	}
}
