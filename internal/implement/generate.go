package implement

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/roach88/rsi/internal/record"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(
	template.New("").Funcs(template.FuncMap{
		"shq":     shellQuote,
		"oneline": oneline,
	}).ParseFS(templateFS, "templates/*.tmpl"),
)

// Artifact file names. Validation rubrics and deployers refer to these.
const (
	FileRestart       = "restart.sh"
	FileMonitor       = "monitor.sh"
	FileCleanup       = "cleanup.sh"
	FileAnalyzeErrors = "analyze_errors.sh"
	FileArchitecture  = "ARCHITECTURE_STATUS.md"
	FileDeployContent = "deploy_content.sh"
	FileContentGuide  = "CONTENT_GUIDE.md"
	FilePayment       = "payment_integration.py"
	FilePaymentSetup  = "PAYMENT_SETUP.md"
	FileReadme        = "README.md"
)

// generator writes the files of one attempt. It implements record.Visitor,
// so every finding kind has exactly one handler.
type generator struct {
	dir        string
	proposalID string
	files      []string
}

var _ record.Visitor = (*generator)(nil)

type docData struct {
	Finding    record.Finding
	ProposalID string
}

func (g *generator) ProcessFailure(_ record.Finding, d record.ProcessDetail) error {
	if strings.TrimSpace(d.StartCommand) == "" {
		return fmt.Errorf("no start command configured for process %q", d.Name)
	}
	if d.Pattern == "" {
		d.Pattern = d.Name
	}
	if err := g.render(FileRestart, 0o755, d); err != nil {
		return err
	}
	return g.render(FileMonitor, 0o755, d)
}

func (g *generator) ResourceConstraint(_ record.Finding, d record.ResourceDetail) error {
	if len(d.CleanupDirs) == 0 {
		return fmt.Errorf("no cleanup directories configured for %s", d.Path)
	}
	return g.render(FileCleanup, 0o755, d)
}

func (g *generator) ErrorRate(_ record.Finding, d record.ErrorRateDetail) error {
	if d.LogFile == "" {
		return errors.New("error-rate finding names no log file")
	}
	return g.render(FileAnalyzeErrors, 0o755, d)
}

func (g *generator) ArchitectureImprovement(f record.Finding) error {
	return g.render(FileArchitecture, 0o644, g.doc(f))
}

func (g *generator) Automation(f record.Finding) error {
	if err := g.render(FileDeployContent, 0o755, g.doc(f)); err != nil {
		return err
	}
	return g.render(FileContentGuide, 0o644, g.doc(f))
}

func (g *generator) RevenueOptimization(f record.Finding) error {
	if err := g.render(FilePayment, 0o644, g.doc(f)); err != nil {
		return err
	}
	return g.render(FilePaymentSetup, 0o644, g.doc(f))
}

func (g *generator) Generic(f record.Finding) error {
	return g.render(FileReadme, 0o644, g.doc(f))
}

func (g *generator) doc(f record.Finding) docData {
	return docData{Finding: f, ProposalID: g.proposalID}
}

// render executes the template named after file and writes it into the
// attempt directory.
func (g *generator) render(file string, mode os.FileMode, data any) error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, file+".tmpl", data); err != nil {
		return fmt.Errorf("render %s: %w", file, err)
	}
	path := filepath.Join(g.dir, file)
	if err := os.WriteFile(path, buf.Bytes(), mode); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	// WriteFile honours the umask; scripts must stay executable.
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", file, err)
	}
	g.files = append(g.files, file)
	return nil
}

func (g *generator) created() []string {
	out := append([]string{}, g.files...)
	sort.Strings(out)
	return out
}

// shellQuote wraps s in single quotes for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// oneline keeps interpolated text from breaking out of a comment line.
func oneline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
