package queue

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout names the queue directories.
type Layout struct {
	Base       string
	Proposals  string
	Staging    string
	Validation string
	Deployed   string
	Logs       string
}

// NewLayout returns the default layout rooted at base.
func NewLayout(base string) Layout {
	return Layout{
		Base:       base,
		Proposals:  filepath.Join(base, "proposals"),
		Staging:    filepath.Join(base, "staging"),
		Validation: filepath.Join(base, "validation"),
		Deployed:   filepath.Join(base, "deployed"),
		Logs:       filepath.Join(base, "logs"),
	}
}

// Ensure creates every directory of the layout.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Base, l.Proposals, l.Staging, l.Validation, l.Deployed, l.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Areas maps the queue area names used in status output to directories.
func (l Layout) Areas() map[string]string {
	return map[string]string{
		"proposals":  l.Proposals,
		"staging":    l.Staging,
		"validation": l.Validation,
		"deployed":   l.Deployed,
	}
}

// AreaNames lists the areas in pipeline order.
func AreaNames() []string {
	return []string{"proposals", "staging", "validation", "deployed"}
}

func (l Layout) proposalPath(id string) string {
	return filepath.Join(l.Proposals, id+".json")
}

// StagingDir returns the directory of one implementation attempt.
func (l Layout) StagingDir(stagingID string) string {
	return filepath.Join(l.Staging, stagingID)
}

func (l Layout) manifestPath(stagingID string) string {
	return filepath.Join(l.StagingDir(stagingID), ManifestFile)
}

func (l Layout) validatedPath(stagingID string) string {
	return filepath.Join(l.StagingDir(stagingID), ValidatedMarker)
}

func (l Layout) reportPath(validationID string) string {
	return filepath.Join(l.Validation, validationID+".json")
}

func (l Layout) markerPath(stagingID string, t Terminal) string {
	return filepath.Join(l.Deployed, stagingID+"."+string(t))
}
