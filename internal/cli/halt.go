package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// HaltOptions holds flags for the halt command.
type HaltOptions struct {
	*RootOptions
	Reason string
}

// NewHaltCommand creates the halt command.
func NewHaltCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HaltOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "halt",
		Short: "Stop full cycles until resumed",
		Long: `Create the halt file in the base directory. While it exists full cycles
are refused; single stages still run. Halting an already halted pipeline
keeps the original reason.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHalt(cmd, opts.RootOptions, opts.Reason)
		},
	}
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason recorded in the halt file")
	return cmd
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "resume",
		Short:         "Allow full cycles again",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd, rootOpts)
		},
	}
}

type haltState struct {
	Halted bool   `json:"halted"`
	Reason string `json:"reason,omitempty"`
}

func runHalt(cmd *cobra.Command, opts *RootOptions, reason string) error {
	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orchestrator.Halt(reason); err != nil {
		return WrapExitError(ExitCommandError, "failed to halt", err)
	}
	st := haltState{Halted: true, Reason: a.orchestrator.HaltReason()}
	return formatter(cmd, opts).Render(st, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "halted: %s\n", st.Reason)
		return err
	})
}

func runResume(cmd *cobra.Command, opts *RootOptions) error {
	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orchestrator.Resume(); err != nil {
		return WrapExitError(ExitCommandError, "failed to resume", err)
	}
	return formatter(cmd, opts).Render(haltState{}, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, "resumed")
		return err
	})
}
