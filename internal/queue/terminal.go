package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/rsi/internal/record"
)

// Terminal is a governance outcome recorded by a marker in deployed/.
type Terminal string

const (
	TerminalDeployed  Terminal = "deployed"
	TerminalEscalated Terminal = "escalated"
	TerminalRejected  Terminal = "rejected"
)

var terminals = []Terminal{TerminalDeployed, TerminalEscalated, TerminalRejected}

// TerminalState returns the terminal outcome of an artifact, if any.
func (q *Queue) TerminalState(stagingID string) (Terminal, bool) {
	for _, t := range terminals {
		if exists(q.layout.markerPath(stagingID, t)) {
			return t, true
		}
	}
	return "", false
}

// IsDeployed reports whether the artifact has a deployment marker.
func (q *Queue) IsDeployed(stagingID string) bool {
	return exists(q.layout.markerPath(stagingID, TerminalDeployed))
}

// DeployTarget returns the directory generic deployments copy into.
func (q *Queue) DeployTarget(stagingID string) string {
	return filepath.Join(q.layout.Deployed, stagingID)
}

// WriteDeployed creates the deployment marker. It returns ErrMarkerExists
// if the artifact already reached a deployment.
func (q *Queue) WriteDeployed(rec record.DeploymentRecord) error {
	if err := q.writeMarker(rec.StagingID, TerminalDeployed, rec); err != nil {
		return fmt.Errorf("write deployment %s: %w", rec.StagingID, err)
	}
	return nil
}

// ReadDeployed loads the deployment marker of an artifact.
func (q *Queue) ReadDeployed(stagingID string) (record.DeploymentRecord, error) {
	var rec record.DeploymentRecord
	err := readJSON(q.layout.markerPath(stagingID, TerminalDeployed), &rec)
	if err != nil {
		return rec, fmt.Errorf("deployment %s: %w", stagingID, err)
	}
	return rec, nil
}

// WriteEscalation writes the escalation file in logs/ and then the
// escalation marker. The marker alone decides whether the artifact has been
// escalated, so a failed log write leaves the artifact open for a retry.
func (q *Queue) WriteEscalation(rec record.EscalationRecord) (string, error) {
	path := filepath.Join(q.layout.Logs, logName("ESCALATION", rec.StagingID, rec.EscalatedAt))
	if err := q.writeTerminal(rec.StagingID, TerminalEscalated, path, rec); err != nil {
		return "", fmt.Errorf("write escalation %s: %w", rec.StagingID, err)
	}
	return path, nil
}

// WriteRejection writes the rejection file in logs/ and then the rejection
// marker.
func (q *Queue) WriteRejection(rec record.RejectionRecord) (string, error) {
	path := filepath.Join(q.layout.Logs, logName("REJECTION", rec.StagingID, rec.RejectedAt))
	if err := q.writeTerminal(rec.StagingID, TerminalRejected, path, rec); err != nil {
		return "", fmt.Errorf("write rejection %s: %w", rec.StagingID, err)
	}
	return path, nil
}

// writeTerminal writes the log record at logPath before the marker. An
// artifact that already has the marker gets no second log record.
func (q *Queue) writeTerminal(stagingID string, t Terminal, logPath string, v any) error {
	if stagingID == "" {
		return errors.New("empty staging id")
	}
	if exists(q.layout.markerPath(stagingID, t)) {
		return fmt.Errorf("%s.%s: %w", stagingID, t, ErrMarkerExists)
	}
	if err := writeJSONAtomic(logPath, v); err != nil {
		return err
	}
	return q.writeMarker(stagingID, t, v)
}

// Escalations returns every escalation marker, ordered by staging ID.
func (q *Queue) Escalations() ([]record.EscalationRecord, error) {
	entries, err := visibleEntries(q.layout.Deployed)
	if err != nil {
		return nil, err
	}
	suffix := "." + string(TerminalEscalated)
	out := []record.EscalationRecord{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		var rec record.EscalationRecord
		if err := readJSON(filepath.Join(q.layout.Deployed, e.Name()), &rec); err != nil {
			q.logger.Warn("skipping unreadable escalation", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// RecentLogs returns up to n file names from logs/, newest first.
func (q *Queue) RecentLogs(n int) ([]string, error) {
	entries, err := visibleEntries(q.layout.Logs)
	if err != nil {
		return nil, err
	}
	type logFile struct {
		name string
		mod  time.Time
	}
	files := make([]logFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{name: e.Name(), mod: info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].name > files[j].name
		}
		return files[i].mod.After(files[j].mod)
	})
	if len(files) > n {
		files = files[:n]
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

func (q *Queue) writeMarker(stagingID string, t Terminal, v any) error {
	if stagingID == "" {
		return errors.New("empty staging id")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s marker: %w", t, err)
	}
	return writeOnce(q.layout.markerPath(stagingID, t), append(data, '\n'))
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func logName(prefix, stagingID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.json", prefix, stagingID, record.Timestamp(at))
}
