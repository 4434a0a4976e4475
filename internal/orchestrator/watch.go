package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/roach88/rsi/internal/record"
)

// WatchOptions controls Watch.
type WatchOptions struct {
	// Interval runs a cycle periodically. Zero disables the ticker.
	Interval time.Duration
	// MinGap is the least time between two cycles.
	MinGap time.Duration
	// OnCycle, if set, receives every cycle result.
	OnCycle func(record.CycleSummary, error)
}

// Watch runs full cycles until ctx is done: once at start, on every
// interval tick, when another process adds a proposal file, and when the
// halt sentinel is removed. Proposal files written through o's own queue
// never trigger a cycle. Triggers arriving while a cycle runs are coalesced
// into one follow-up cycle. Watch returns ctx.Err() after shutting down its
// goroutines.
func (o *Orchestrator) Watch(ctx context.Context, opts WatchOptions) error {
	layout := o.queue.Layout()
	if err := layout.Ensure(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	for _, dir := range []string{layout.Base, layout.Proposals} {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	triggers := newTriggerQueue()
	var wg sync.WaitGroup
	defer func() {
		cancel()
		fw.Close()
		wg.Wait()
		triggers.Close()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.forwardEvents(wctx, fw, triggers)
	}()

	if opts.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(opts.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-wctx.Done():
					return
				case t := <-ticker.C:
					triggers.Enqueue(Trigger{Reason: "interval", At: t})
				}
			}
		}()
	}

	limit := rate.Inf
	if opts.MinGap > 0 {
		limit = rate.Every(opts.MinGap)
	}
	limiter := rate.NewLimiter(limit, 1)

	triggers.Enqueue(Trigger{Reason: "startup", At: o.clock.Now()})
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("watch stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-triggers.Wait():
		}

		pending := triggers.Drain()
		if len(pending) == 0 {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		o.logger.Debug("cycle triggered", "reason", pending[0].Reason, "path", pending[0].Path, "coalesced", len(pending))

		summary, err := o.RunCycle(ctx)
		if errors.Is(err, ErrHalted) {
			o.logger.Info("watch idle while halted")
		}
		if opts.OnCycle != nil {
			opts.OnCycle(summary, err)
		}
	}
}

// forwardEvents turns relevant filesystem events into triggers.
func (o *Orchestrator) forwardEvents(ctx context.Context, fw *fsnotify.Watcher, triggers *triggerQueue) {
	proposals := filepath.Clean(o.queue.Layout().Proposals)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			switch {
			case filepath.Dir(ev.Name) == proposals &&
				ev.Has(fsnotify.Create) &&
				strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, "."):
				if o.queue.WroteProposal(strings.TrimSuffix(name, ".json")) {
					continue
				}
				triggers.Enqueue(Trigger{Reason: "proposal", Path: ev.Name, At: o.clock.Now()})
			case name == HaltFile && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)):
				triggers.Enqueue(Trigger{Reason: "resumed", Path: ev.Name, At: o.clock.Now()})
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			o.logger.Warn("watch error", "error", err)
		}
	}
}
