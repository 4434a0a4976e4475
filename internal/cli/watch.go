package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rsi/internal/orchestrator"
	"github.com/roach88/rsi/internal/record"
)

// WatchCmdOptions holds flags for the watch command.
type WatchCmdOptions struct {
	*RootOptions
	Interval time.Duration
	MinGap   time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchCmdOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run cycles on an interval and when the queue changes",
		Long: `Run a full cycle at start, every interval, when a proposal file is
dropped into the proposals directory, and when the halt file is removed.
Bursts of events produce at most one cycle per min-gap. Runs until
interrupted.

Example:
  rsi watch --interval 15m
  rsi watch --min-gap 1m --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "time between periodic cycles (default watch.interval)")
	cmd.Flags().DurationVar(&opts.MinGap, "min-gap", 0, "least time between two cycles (default watch.min_gap)")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchCmdOptions) error {
	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	interval := a.cfg.Watch.Interval
	if opts.Interval > 0 {
		interval = opts.Interval
	}
	minGap := a.cfg.Watch.MinGap
	if opts.MinGap > 0 {
		minGap = opts.MinGap
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := formatter(cmd, opts.RootOptions)
	a.logger.Info("watching queue", "base", a.cfg.Paths.Base, "interval", interval, "min_gap", minGap)
	err = a.orchestrator.Watch(ctx, orchestrator.WatchOptions{
		Interval: interval,
		MinGap:   minGap,
		OnCycle: func(c record.CycleSummary, err error) {
			if err != nil {
				return
			}
			_ = f.Render(c, func(w io.Writer) error { return writeCycle(w, c) })
		},
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "watch failed", err)
	}
	a.logger.Info("watch stopped")
	return nil
}
