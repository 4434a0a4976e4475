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

	"github.com/roach88/rsi/internal/record"
)

const (
	// ManifestFile is the manifest name inside a staging directory.
	ManifestFile = "manifest.json"
	// ValidatedMarker marks a staging directory as evaluated.
	ValidatedMarker = ".validated"
)

// Artifact is a staging directory as seen by validation and governance.
type Artifact struct {
	StagingID string
	Dir       string
	// Manifest is nil when manifest.json is missing or unreadable.
	Manifest *record.Manifest
	// Files lists generated files relative to Dir, excluding the manifest
	// and hidden files.
	Files []string
	// Problem is non-empty when the artifact is incomplete.
	Problem string
}

// Complete reports whether the artifact has a valid manifest that declares
// itself ready for validation.
func (a Artifact) Complete() bool {
	return a.Problem == ""
}

// CreateStaging makes a fresh staging directory. It fails if the directory
// already exists.
func (q *Queue) CreateStaging(stagingID string) (string, error) {
	dir := q.layout.StagingDir(stagingID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging %s: %w", stagingID, err)
	}
	return dir, nil
}

// WriteManifest writes the manifest of an attempt atomically.
func (q *Queue) WriteManifest(m record.Manifest) error {
	if m.FilesCreated == nil {
		m.FilesCreated = []string{}
	}
	if err := writeJSONAtomic(q.layout.manifestPath(m.StagingID), m); err != nil {
		return fmt.Errorf("write manifest %s: %w", m.StagingID, err)
	}
	return nil
}

// ReadArtifact loads a staging directory. Manifest problems are reported in
// Artifact.Problem rather than as errors; only a missing directory or an
// unreadable file tree is an error.
func (q *Queue) ReadArtifact(stagingID string) (Artifact, error) {
	dir := q.layout.StagingDir(stagingID)
	a := Artifact{StagingID: stagingID, Dir: dir}

	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return a, fmt.Errorf("artifact %s: %w", stagingID, ErrNotFound)
	}
	if err != nil {
		return a, fmt.Errorf("artifact %s: %w", stagingID, err)
	}
	if !info.IsDir() {
		return a, fmt.Errorf("artifact %s: not a directory", stagingID)
	}

	files, err := listFiles(dir)
	if err != nil {
		return a, fmt.Errorf("artifact %s: %w", stagingID, err)
	}
	a.Files = files

	m, problem := q.loadManifest(stagingID)
	a.Manifest = m
	a.Problem = problem
	return a, nil
}

func (q *Queue) loadManifest(stagingID string) (*record.Manifest, string) {
	data, err := os.ReadFile(q.layout.manifestPath(stagingID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "manifest missing"
	}
	if err != nil {
		return nil, fmt.Sprintf("manifest unreadable: %v", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Sprintf("manifest is not valid JSON: %v", err)
	}
	if err := q.schema.Validate(raw); err != nil {
		return nil, fmt.Sprintf("manifest schema validation failed: %v", err)
	}

	var m record.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Sprintf("manifest decode failed: %v", err)
	}
	if !m.ReadyForValidation {
		msg := "implementation did not complete"
		if m.Error != "" {
			msg += ": " + m.Error
		}
		return &m, msg
	}
	return &m, ""
}

// listFiles walks dir and returns regular, non-hidden files other than the
// top-level manifest, as slash-separated relative paths.
func listFiles(dir string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ManifestFile {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// StagingIDs lists every staging directory.
func (q *Queue) StagingIDs() ([]string, error) {
	entries, err := visibleEntries(q.layout.Staging)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Manifests returns the manifest of every staging directory that has a
// valid one, ready or not.
func (q *Queue) Manifests() ([]record.Manifest, error) {
	ids, err := q.StagingIDs()
	if err != nil {
		return nil, err
	}
	out := []record.Manifest{}
	for _, id := range ids {
		if m, _ := q.loadManifest(id); m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// UnvalidatedArtifacts returns staging directories without a .validated
// marker. Polling does not change any state.
func (q *Queue) UnvalidatedArtifacts() ([]Artifact, error) {
	ids, err := q.StagingIDs()
	if err != nil {
		return nil, err
	}
	out := []Artifact{}
	for _, id := range ids {
		if q.IsValidated(id) {
			continue
		}
		a, err := q.ReadArtifact(id)
		if err != nil {
			q.logger.Warn("skipping unreadable artifact", "staging_id", id, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// IsValidated reports whether the staging directory carries a .validated
// marker.
func (q *Queue) IsValidated(stagingID string) bool {
	return exists(q.layout.validatedPath(stagingID))
}

// MarkValidated writes the .validated marker with the validation ID. It
// returns ErrMarkerExists if the artifact was already validated.
func (q *Queue) MarkValidated(stagingID, validationID string) error {
	if err := writeOnce(q.layout.validatedPath(stagingID), []byte(validationID)); err != nil {
		return fmt.Errorf("mark validated %s: %w", stagingID, err)
	}
	return nil
}

// ReadFile returns the content of a file inside a staging directory.
func (q *Queue) ReadFile(stagingID, rel string) ([]byte, error) {
	path := filepath.Join(q.layout.StagingDir(stagingID), filepath.FromSlash(rel))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", stagingID, rel, err)
	}
	return data, nil
}
