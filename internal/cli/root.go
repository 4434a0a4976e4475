// Package cli implements the rsi command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rsi/internal/runner"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Base       string
	Verbose    bool
	Format     string // "json" | "text"

	// Runner replaces the host command runner (for testing).
	Runner runner.Runner
}

// aliasOptions are the flag-style actions accepted on the root command.
type aliasOptions struct {
	fullCycle  bool
	status     bool
	halt       bool
	resume     bool
	stage      string
	haltReason string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// DefaultConfigPath is read when --config is not given. A missing file is
// not an error.
const DefaultConfigPath = "rsi.yaml"

// NewRootCommand creates the root command. Without a subcommand or action
// flag it runs one full cycle.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	alias := &aliasOptions{}

	cmd := &cobra.Command{
		Use:   "rsi",
		Short: "rsi - governed change pipeline",
		Long: `rsi discovers problems and improvement ideas, generates changes for them,
scores the generated changes, and deploys, rejects or escalates each one
under a policy document. Work moves between stages through a directory
queue; a .halt file in the base directory stops full cycles.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlias(cmd, opts, alias)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", DefaultConfigPath, "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Base, "base", "", "queue base directory (overrides paths.base)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.Flags().BoolVar(&alias.fullCycle, "full-cycle", false, "run a full cycle (default action)")
	cmd.Flags().BoolVar(&alias.status, "status", false, "print pipeline status")
	cmd.Flags().BoolVar(&alias.halt, "halt", false, "halt full cycles")
	cmd.Flags().BoolVar(&alias.resume, "resume", false, "resume full cycles")
	cmd.Flags().StringVar(&alias.stage, "stage", "", "run a single stage")
	cmd.Flags().StringVar(&alias.haltReason, "reason", "", "reason recorded with --halt")
	cmd.MarkFlagsMutuallyExclusive("full-cycle", "status", "halt", "resume", "stage")

	cmd.AddCommand(NewCycleCommand(opts))
	cmd.AddCommand(NewStageCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewHaltCommand(opts))
	cmd.AddCommand(NewResumeCommand(opts))
	cmd.AddCommand(NewEscalationsCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

func runAlias(cmd *cobra.Command, opts *RootOptions, alias *aliasOptions) error {
	switch {
	case alias.status:
		return runStatus(cmd, opts)
	case alias.halt:
		return runHalt(cmd, opts, alias.haltReason)
	case alias.resume:
		return runResume(cmd, opts)
	case alias.stage != "":
		return runStage(cmd, opts, alias.stage)
	default:
		return runCycle(cmd, opts)
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
}
