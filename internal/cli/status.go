package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rsi/internal/orchestrator"
	"github.com/roach88/rsi/internal/queue"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show halt state, stages, queue depths and the last cycle",
		Long: `Show a snapshot of the pipeline: whether it is halted, which stages are
built in or external (and whether external programs exist), how many items
each queue area holds, live claims, the last cycle and the newest logs.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts)
		},
	}
}

func runStatus(cmd *cobra.Command, opts *RootOptions) error {
	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.orchestrator.Status(cmd.Context())
	return formatter(cmd, opts).Render(st, func(w io.Writer) error {
		return writeStatus(w, st)
	})
}

// writeStatus renders st as aligned text.
func writeStatus(w io.Writer, st orchestrator.Status) error {
	var b strings.Builder

	if st.Halted {
		fmt.Fprintf(&b, "halted:      yes (%s)\n", st.HaltReason)
	} else {
		b.WriteString("halted:      no\n")
	}

	b.WriteString("stages:\n")
	for _, s := range st.Stages {
		mode := "built-in"
		if s.External {
			mode = "external"
			if s.Present {
				mode += " present"
			} else {
				mode += " MISSING"
			}
		}
		fmt.Fprintf(&b, "  %-16s %s\n", s.Name, mode)
	}

	b.WriteString("queue:\n")
	for _, area := range queue.AreaNames() {
		fmt.Fprintf(&b, "  %-12s %d\n", area, st.Depths[area])
	}

	fmt.Fprintf(&b, "live claims: %d\n", len(st.LiveClaims))
	for _, c := range st.LiveClaims {
		fmt.Fprintf(&b, "  %-16s %s owner=%s expires=%s\n", c.Stage, c.ItemID, c.Owner, c.ExpiresAt.UTC().Format(time.RFC3339))
	}

	if c := st.LastCycle; c == nil {
		b.WriteString("last cycle:  none\n")
	} else {
		state := "ok"
		switch {
		case c.Halted:
			state = "halted"
		case !c.OK:
			state = "failed"
		}
		fmt.Fprintf(&b, "last cycle:  %s %s %d/%d finished %s\n",
			c.ID, state, c.Succeeded(), len(c.Stages), c.FinishedAt.UTC().Format(time.RFC3339))
	}

	b.WriteString("recent logs:\n")
	if len(st.RecentLogs) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, name := range st.RecentLogs {
		fmt.Fprintf(&b, "  %s\n", name)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
