package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rsi/internal/orchestrator"
	"github.com/roach88/rsi/internal/record"
)

// NewCycleCommand creates the cycle command.
func NewCycleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run discovery, implementation, validation and governance once",
		Long: `Run one full cycle: every stage in order, each under the stage timeout.
A failing stage does not stop the ones after it. The command exits 1 unless
all four stages succeed, and refuses to run while the pipeline is halted.

Example:
  rsi cycle --base /var/lib/rsi
  rsi cycle --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd, rootOpts)
		},
	}
}

// NewStageCommand creates the stage command.
func NewStageCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stage <discovery|implementation|validation|governance>",
		Short:         "Run a single stage",
		Long:          "Run one stage on demand. The halt file does not apply to single stages.",
		Args:          cobra.ExactArgs(1),
		ValidArgs:     record.Stages(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, rootOpts, args[0])
		},
	}
}

func runCycle(cmd *cobra.Command, opts *RootOptions) error {
	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	a.logger.Debug("running cycle", "config", a.describe())

	f := formatter(cmd, opts)
	summary, err := a.orchestrator.RunCycle(cmd.Context())
	switch {
	case errors.Is(err, orchestrator.ErrHalted):
		reason := a.orchestrator.HaltReason()
		_ = f.Fail(CodeHalted, "pipeline halted", summary, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "halted: %s\n", reason)
			return err
		})
		return NewExitError(ExitFailure, "pipeline halted")
	case err != nil:
		return WrapExitError(ExitFailure, "cycle failed", err)
	}

	text := func(w io.Writer) error { return writeCycle(w, summary) }
	if !summary.OK {
		_ = f.Fail(CodeCycleFailed, "cycle failed", summary, text)
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d stages failed", len(summary.Stages)-summary.Succeeded(), len(summary.Stages)))
	}
	return f.Render(summary, text)
}

func runStage(cmd *cobra.Command, opts *RootOptions, name string) error {
	if !isStage(name) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown stage %q: must be one of %v", name, record.Stages()))
	}
	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	f := formatter(cmd, opts)
	res, err := a.orchestrator.RunStage(cmd.Context(), name)
	if err != nil {
		return WrapExitError(ExitCommandError, "stage not run", err)
	}
	text := func(w io.Writer) error { return writeStage(w, res) }
	if !res.OK {
		_ = f.Fail(CodeStageFailed, fmt.Sprintf("stage %s failed", name), res, text)
		return NewExitError(ExitFailure, fmt.Sprintf("stage %s failed", name))
	}
	return f.Render(res, text)
}

func isStage(name string) bool {
	for _, s := range record.Stages() {
		if s == name {
			return true
		}
	}
	return false
}

// writeCycle prints one line per stage followed by the total.
func writeCycle(w io.Writer, c record.CycleSummary) error {
	for _, s := range c.Stages {
		if err := writeStage(w, s); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "cycle %s: %d/%d stages succeeded\n", c.ID, c.Succeeded(), len(c.Stages))
	return err
}

func writeStage(w io.Writer, s record.StageResult) error {
	state := "ok"
	if !s.OK {
		state = "FAIL"
	}
	line := fmt.Sprintf("%-16s %-4s", s.Stage, state)
	if counts := formatCounts(s.Counts); counts != "" {
		line += " " + counts
	}
	if s.Error != "" {
		line += " error=" + s.Error
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// formatCounts renders counts as sorted key=value pairs.
func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}
