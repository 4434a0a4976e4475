package orchestrator

import (
	"context"

	"github.com/roach88/rsi/internal/record"
	"github.com/roach88/rsi/internal/store"
)

// recentLogCount is how many log files Status lists.
const recentLogCount = 5

// StageStatus describes one registered stage.
type StageStatus struct {
	Name     string `json:"name"`
	External bool   `json:"external"`
	Present  bool   `json:"present"`
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	Halted     bool                 `json:"halted"`
	HaltReason string               `json:"halt_reason,omitempty"`
	Stages     []StageStatus        `json:"stages"`
	Depths     map[string]int       `json:"depths"`
	LiveClaims []store.Claim        `json:"live_claims"`
	LastCycle  *record.CycleSummary `json:"last_cycle,omitempty"`
	RecentLogs []string             `json:"recent_logs"`
}

// Status gathers the halt flag, stage presence, queue depths, live claims,
// the last cycle and the newest log files. Ledger errors are logged and
// leave the corresponding fields empty.
func (o *Orchestrator) Status(ctx context.Context) Status {
	st := Status{
		Halted:     o.Halted(),
		HaltReason: o.HaltReason(),
		Stages:     make([]StageStatus, 0, len(o.stages)),
		Depths:     o.queue.Depths(),
		LiveClaims: []store.Claim{},
		RecentLogs: []string{},
	}
	for _, s := range o.stages {
		ss := StageStatus{Name: s.Name(), Present: true}
		if p, ok := s.(Presence); ok {
			ss.External = true
			ss.Present = p.Present()
		}
		st.Stages = append(st.Stages, ss)
	}

	if o.ledger != nil {
		if claims, err := o.ledger.LiveClaims(ctx); err != nil {
			o.logger.Warn("could not read claims", "error", err)
		} else if claims != nil {
			st.LiveClaims = claims
		}
		if last, err := o.ledger.LastCycle(ctx); err != nil {
			o.logger.Warn("could not read last cycle", "error", err)
		} else {
			st.LastCycle = last
		}
	}

	if logs, err := o.queue.RecentLogs(recentLogCount); err != nil {
		o.logger.Warn("could not list logs", "error", err)
	} else {
		st.RecentLogs = logs
	}
	return st
}
