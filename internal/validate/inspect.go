package validate

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/record"
)

// maxInspectBytes bounds how much of each file is read for keyword checks.
const maxInspectBytes = 1 << 20

// FileFacts is what the rubric may know about one generated file.
type FileFacts struct {
	Size       int64
	Executable bool
	Content    string
}

// Inspection is a structured description of an artifact. Rubric checks are
// predicates over an Inspection, never over the filesystem.
type Inspection struct {
	Kind record.Kind
	// Complete is false when the manifest is missing, invalid, or the
	// attempt did not finish.
	Complete bool
	// EmbedsProposal reports whether the manifest carries the originating
	// proposal.
	EmbedsProposal bool
	Files          map[string]FileFacts
}

// Has reports whether a file with the given name exists.
func (in Inspection) Has(name string) bool {
	_, ok := in.Files[name]
	return ok
}

// File returns the facts for name; the zero value if absent.
func (in Inspection) File(name string) FileFacts {
	return in.Files[name]
}

// Any reports whether some file satisfies pred.
func (in Inspection) Any(pred func(name string, f FileFacts) bool) bool {
	for name, f := range in.Files {
		if pred(name, f) {
			return true
		}
	}
	return false
}

// Inspect reads an artifact from disk into an Inspection.
func Inspect(a queue.Artifact) (Inspection, error) {
	in := Inspection{
		Complete: a.Complete(),
		Files:    make(map[string]FileFacts, len(a.Files)),
	}
	if a.Manifest != nil {
		in.Kind = a.Manifest.Kind
		in.EmbedsProposal = a.Manifest.SourceProposal.ID != "" &&
			a.Manifest.SourceProposal.ID == a.Manifest.ProposalID
	}
	for _, rel := range a.Files {
		facts, err := readFacts(filepath.Join(a.Dir, filepath.FromSlash(rel)))
		if err != nil {
			return in, fmt.Errorf("inspect %s: %w", a.StagingID, err)
		}
		in.Files[rel] = facts
	}
	return in, nil
}

func readFacts(p string) (FileFacts, error) {
	f, err := os.Open(p)
	if err != nil {
		return FileFacts{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileFacts{}, err
	}
	data, err := io.ReadAll(io.LimitReader(f, maxInspectBytes))
	if err != nil {
		return FileFacts{}, err
	}
	return FileFacts{
		Size:       info.Size(),
		Executable: info.Mode().Perm()&0o111 != 0,
		Content:    string(data),
	}, nil
}

func hasSuffix(suffix string) func(string, FileFacts) bool {
	return func(name string, _ FileFacts) bool {
		return strings.EqualFold(path.Ext(name), suffix)
	}
}
