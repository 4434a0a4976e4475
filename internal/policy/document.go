// Package policy loads the governance constitution and decides whether a
// validated change may be deployed.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rsi/internal/record"
)

// ErrUnsupportedVersion is returned for documents outside the supported
// major version.
var ErrUnsupportedVersion = errors.New("unsupported policy version")

// SupportedVersions is the semver constraint a document version must meet.
const SupportedVersions = "^1"

//go:embed schema.cue
var schemaCUE string

//go:embed constitution.yaml
var defaultConstitution []byte

// DefaultConstitution returns the built-in document text.
func DefaultConstitution() []byte {
	out := make([]byte, len(defaultConstitution))
	copy(out, defaultConstitution)
	return out
}

// Rule is one entry of a rule list. A rule matches when every criterion it
// sets holds: the finding kind is listed, the condition is true, and at
// least one pattern occurs in the generated files.
type Rule struct {
	ID          string   `yaml:"id" json:"id"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Kinds       []string `yaml:"kinds,omitempty" json:"kinds,omitempty"`
	Patterns    []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	When        string   `yaml:"when,omitempty" json:"when,omitempty"`
}

// Document is the parsed constitution.
type Document struct {
	Version       string  `yaml:"version" json:"version"`
	MinScore      float64 `yaml:"min_score" json:"min_score"`
	MaxRetries    int     `yaml:"max_retries" json:"max_retries"`
	Forbidden     []Rule  `yaml:"forbidden,omitempty" json:"forbidden,omitempty"`
	RequiresHuman []Rule  `yaml:"requires_human,omitempty" json:"requires_human,omitempty"`
	AutoApproved  []Rule  `yaml:"auto_approved,omitempty" json:"auto_approved,omitempty"`
}

// Digest identifies the document by its canonical content, so formatting
// and comment changes do not count as policy changes.
func (d *Document) Digest() (string, error) {
	return record.Digest(record.DomainPolicy, d)
}

// LoadFile reads the document at path, writing the built-in default first
// if the file does not exist.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("policy: create dir: %w", err)
		}
		if err := os.WriteFile(path, defaultConstitution, 0o644); err != nil {
			return nil, fmt.Errorf("policy: write default: %w", err)
		}
		data = defaultConstitution
	} else if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy: %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if raw == nil {
		return nil, errors.New("empty document")
	}
	if err := validateShape(raw); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := checkVersion(doc.Version); err != nil {
		return nil, err
	}
	return &doc, nil
}

// validateShape checks raw against the closed #Policy definition.
func validateShape(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile policy schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Policy"))

	v := ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid document: %s", firstCUEError(err))
	}
	return nil
}

func firstCUEError(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	return errs[0].Error()
}

func checkVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("version %q: %w", version, ErrUnsupportedVersion)
	}
	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return fmt.Errorf("version constraint: %w", err)
	}
	if !c.Check(v) {
		return fmt.Errorf("version %s does not satisfy %s: %w", version, SupportedVersions, ErrUnsupportedVersion)
	}
	return nil
}
