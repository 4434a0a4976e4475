package validate

import (
	"strings"

	"github.com/roach88/rsi/internal/record"
)

// Check is one named, weighted rubric predicate.
type Check struct {
	Name   string
	Points int
	Holds  func(Inspection) bool
}

// MaxPoints is the point total that maps to a score of 1.0.
const MaxPoints = 100

func exists(name string) func(Inspection) bool {
	return func(in Inspection) bool { return in.Has(name) }
}

func executable(name string) func(Inspection) bool {
	return func(in Inspection) bool { return in.File(name).Executable }
}

// contains holds when name exists and includes every keyword.
func contains(name string, keywords ...string) func(Inspection) bool {
	return func(in Inspection) bool {
		if !in.Has(name) {
			return false
		}
		content := in.File(name).Content
		for _, k := range keywords {
			if !strings.Contains(content, k) {
				return false
			}
		}
		return true
	}
}

// anyWith holds when some file with the suffix includes every keyword.
func anyWith(suffix string, keywords ...string) func(Inspection) bool {
	isType := hasSuffix(suffix)
	return func(in Inspection) bool {
		return in.Any(func(name string, f FileFacts) bool {
			if !isType(name, f) {
				return false
			}
			for _, k := range keywords {
				if !strings.Contains(f.Content, k) {
					return false
				}
			}
			return true
		})
	}
}

func anyExecutable(suffix string) func(Inspection) bool {
	isType := hasSuffix(suffix)
	return func(in Inspection) bool {
		return in.Any(func(name string, f FileFacts) bool { return isType(name, f) && f.Executable })
	}
}

// rubricSelector picks the rubric for a kind through record.Visitor, so a
// new kind cannot be added without deciding how it is scored.
type rubricSelector struct {
	checks []Check
}

var _ record.Visitor = (*rubricSelector)(nil)

func (r *rubricSelector) ProcessFailure(record.Finding, record.ProcessDetail) error {
	r.checks = []Check{
		{"restart script exists", 30, exists("restart.sh")},
		{"restart script is executable", 10, executable("restart.sh")},
		{"restart script manages the process", 20, contains("restart.sh", "pkill", "nohup")},
		{"restart script waits for shutdown", 10, contains("restart.sh", "sleep")},
		{"monitor script exists", 20, exists("monitor.sh")},
	}
	return nil
}

func (r *rubricSelector) ResourceConstraint(record.Finding, record.ResourceDetail) error {
	r.checks = []Check{
		{"cleanup script exists", 40, exists("cleanup.sh")},
		{"cleanup script finds files", 20, contains("cleanup.sh", "find")},
		{"cleanup script deletes", 20, contains("cleanup.sh", "-delete")},
		{"cleanup script filters by age", 10, contains("cleanup.sh", "-mtime")},
		{"cleanup script is executable", 10, executable("cleanup.sh")},
	}
	return nil
}

func (r *rubricSelector) ErrorRate(record.Finding, record.ErrorRateDetail) error {
	r.checks = []Check{
		{"analysis script exists", 50, exists("analyze_errors.sh")},
		{"analysis script searches the log", 20, contains("analyze_errors.sh", "grep")},
		{"analysis script matches error lines", 10, contains("analyze_errors.sh", "ERROR", "Exception")},
		{"analysis script is executable", 10, executable("analyze_errors.sh")},
	}
	return nil
}

func (r *rubricSelector) ArchitectureImprovement(f record.Finding) error {
	return r.Generic(f)
}

func (r *rubricSelector) Automation(record.Finding) error {
	r.checks = []Check{
		{"automation script exists", 40, anyWith(".sh")},
		{"automation script is executable", 20, anyExecutable(".sh")},
		{"usage guide exists", 30, anyWith(".md")},
	}
	return nil
}

func (r *rubricSelector) RevenueOptimization(record.Finding) error {
	r.checks = []Check{
		{"integration code exists", 40, anyWith(".py")},
		{"integration imports a client", 20, anyWith(".py", "import")},
		{"integration creates a session", 20, anyWith(".py", "Session")},
		{"integration uses hosted checkout", 10, anyWith(".py", "checkout")},
		{"setup notes exist", 10, anyWith(".md")},
	}
	return nil
}

func (r *rubricSelector) Generic(record.Finding) error {
	r.checks = []Check{
		{"artifact has non-empty files", 50, func(in Inspection) bool {
			return in.Any(func(_ string, f FileFacts) bool { return f.Size > 0 })
		}},
		{"documentation exists", 30, anyWith(".md")},
		{"manifest embeds the proposal", 20, func(in Inspection) bool { return in.EmbedsProposal }},
	}
	return nil
}

// Rubric returns the checks for kind. Unknown kinds get the generic rubric.
func Rubric(kind record.Kind) []Check {
	var r rubricSelector
	_ = record.Finding{Kind: kind}.Accept(&r)
	return r.checks
}

// Score evaluates checks against in. An incomplete artifact scores zero
// and every check is reported as failed.
func Score(checks []Check, in Inspection) (int, float64, []record.CheckResult) {
	points := 0
	results := make([]record.CheckResult, 0, len(checks))
	for _, c := range checks {
		ok := in.Complete && c.Holds(in)
		if ok {
			points += c.Points
		}
		results = append(results, record.CheckResult{Name: c.Name, Points: c.Points, Passed: ok})
	}
	if points > MaxPoints {
		points = MaxPoints
	}
	return points, float64(points) / MaxPoints, results
}
