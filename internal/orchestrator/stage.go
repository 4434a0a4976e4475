package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/roach88/rsi/internal/record"
	"github.com/roach88/rsi/internal/runner"
)

// Stage is one step of the pipeline. The discovery, implementation,
// validation and governance engines all satisfy it.
type Stage interface {
	Name() string
	Run(ctx context.Context) (record.StageReport, error)
}

// Presence is implemented by stages backed by something that can be
// missing, such as an external program.
type Presence interface {
	Present() bool
}

// ExecStage runs a stage as an external program. The program is killed
// when the stage deadline passes.
type ExecStage struct {
	StageName string
	Path      string
	Args      []string
	Dir       string
	Runner    runner.Runner
}

// Name implements Stage.
func (s *ExecStage) Name() string { return s.StageName }

// Present reports whether the program exists.
func (s *ExecStage) Present() bool {
	info, err := os.Stat(s.Path)
	return err == nil && !info.IsDir()
}

// Run executes the program. A non-zero exit is a stage failure.
func (s *ExecStage) Run(ctx context.Context) (record.StageReport, error) {
	report := record.StageReport{Stage: s.StageName}
	if !s.Present() {
		return report, fmt.Errorf("stage program %s not found", s.Path)
	}
	cmd := runner.Command{Name: s.Path, Args: s.Args, Dir: s.Dir}
	if deadline, ok := ctx.Deadline(); ok {
		cmd.Timeout = time.Until(deadline)
	}
	res, err := s.Runner.Run(ctx, cmd)
	if err != nil {
		return report, err
	}
	if res.ExitCode != 0 {
		return report, &StageError{
			Stage: s.StageName,
			Code:  CodeExit,
			Cause: fmt.Errorf("exit status %d: %s", res.ExitCode, record.Truncate(strings.TrimSpace(res.Stderr), 200)),
		}
	}
	report.Add("completed")
	return report, nil
}
