package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewEscalationsCommand creates the escalations command.
func NewEscalationsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "escalations",
		Short: "List changes waiting for a human decision",
		Long: `List every escalated change with its reason and the options offered to
the reviewer. Resolving an escalation happens outside rsi.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEscalations(cmd, rootOpts)
		},
	}
}

func runEscalations(cmd *cobra.Command, opts *RootOptions) error {
	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.queue.Escalations()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list escalations", err)
	}
	return formatter(cmd, opts).Render(recs, func(w io.Writer) error {
		if len(recs) == 0 {
			_, err := fmt.Fprintln(w, "no escalations")
			return err
		}
		for _, r := range recs {
			_, err := fmt.Fprintf(w, "%s  %s  %s  %s  [%s]\n",
				r.EscalatedAt.UTC().Format(time.RFC3339), r.StagingID, r.Kind, r.Reason, strings.Join(r.Options, "|"))
			if err != nil {
				return err
			}
		}
		return nil
	})
}
