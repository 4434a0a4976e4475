package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/rsi/internal/record"
)

// Outcome is a governance decision.
type Outcome string

const (
	Approve  Outcome = "approve"
	Escalate Outcome = "escalate"
	Reject   Outcome = "reject"
)

// Input is what a decision is made on.
type Input struct {
	Finding record.Finding
	Score   float64
	// Files maps paths relative to the artifact to their content.
	Files map[string][]byte
}

// Decision is the result of evaluating an Input.
type Decision struct {
	Outcome Outcome
	// Human lists reasons a person must decide.
	Human []string
	// Violations lists forbidden matches and score shortfalls.
	Violations []string
}

// Compliant reports whether the change may be deployed.
func (d Decision) Compliant() bool {
	return d.Outcome == Approve
}

// Reasons returns the human reasons followed by the violations.
func (d Decision) Reasons() []string {
	out := make([]string, 0, len(d.Human)+len(d.Violations))
	out = append(out, d.Human...)
	return append(out, d.Violations...)
}

type compiledRule struct {
	Rule
	kinds    map[record.Kind]bool
	patterns []string
	program  cel.Program
}

// Policy is a compiled Document.
type Policy struct {
	doc           *Document
	digest        string
	forbidden     []compiledRule
	requiresHuman []compiledRule
	autoApproved  []compiledRule
}

// Compile prepares doc for evaluation. Conditions are compiled once here,
// so a malformed condition fails the whole document.
func Compile(doc *Document) (*Policy, error) {
	if doc == nil {
		return nil, errors.New("policy: nil document")
	}
	digest, err := doc.Digest()
	if err != nil {
		return nil, fmt.Errorf("policy: digest: %w", err)
	}

	env, err := cel.NewEnv(
		cel.Variable("finding", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("kind", cel.StringType),
		cel.Variable("score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: failed to create CEL environment: %w", err)
	}

	p := &Policy{doc: doc, digest: digest}
	lists := []struct {
		name  string
		rules []Rule
		dst   *[]compiledRule
	}{
		{"forbidden", doc.Forbidden, &p.forbidden},
		{"requires_human", doc.RequiresHuman, &p.requiresHuman},
		{"auto_approved", doc.AutoApproved, &p.autoApproved},
	}
	for _, l := range lists {
		for _, r := range l.rules {
			cr, err := compileRule(env, r)
			if err != nil {
				return nil, fmt.Errorf("policy: %s[%s]: %w", l.name, r.ID, err)
			}
			*l.dst = append(*l.dst, cr)
		}
	}
	return p, nil
}

func compileRule(env *cel.Env, r Rule) (compiledRule, error) {
	if len(r.Kinds) == 0 && len(r.Patterns) == 0 && r.When == "" {
		return compiledRule{}, errors.New("rule sets no criteria")
	}
	cr := compiledRule{Rule: r}
	if len(r.Kinds) > 0 {
		cr.kinds = make(map[record.Kind]bool, len(r.Kinds))
		for _, k := range r.Kinds {
			cr.kinds[record.Kind(k)] = true
		}
	}
	for _, pat := range r.Patterns {
		if n := normalize(pat); n != "" {
			cr.patterns = append(cr.patterns, n)
		}
	}
	if r.When != "" {
		ast, issues := env.Compile(r.When)
		if issues != nil && issues.Err() != nil {
			return compiledRule{}, fmt.Errorf("compile: %w", issues.Err())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return compiledRule{}, fmt.Errorf("program: %w", err)
		}
		cr.program = prg
	}
	return cr, nil
}

// Document returns the source document.
func (p *Policy) Document() *Document { return p.doc }

// Digest returns the canonical digest of the source document.
func (p *Policy) Digest() string { return p.digest }

// MinScore returns the minimum acceptable validation score.
func (p *Policy) MinScore() float64 { return p.doc.MinScore }

// MaxRetries returns the implementation retry cap.
func (p *Policy) MaxRetries() int { return p.doc.MaxRetries }

// Evaluate decides on in. The score is checked first, then the
// requires-human rules, then the forbidden rules (including the content
// scan), then the auto-approved list. Any human reason escalates; otherwise
// any violation rejects; otherwise a kind without an auto-approved match
// escalates.
func (p *Policy) Evaluate(in Input) Decision {
	var d Decision
	if in.Score < p.doc.MinScore {
		d.Violations = append(d.Violations,
			fmt.Sprintf("score %.2f below minimum %.2f", in.Score, p.doc.MinScore))
	}

	vars := map[string]any{
		"finding": in.Finding.Attributes(),
		"kind":    string(in.Finding.Kind),
		"score":   in.Score,
	}
	files := normalizeFiles(in.Files)

	for _, r := range p.requiresHuman {
		hit, detail, err := r.match(in.Finding.Kind, vars, files)
		switch {
		case err != nil:
			d.Human = append(d.Human, fmt.Sprintf("requires_human[%s]: condition failed: %v", r.ID, err))
		case hit:
			d.Human = append(d.Human, fmt.Sprintf("requires_human[%s]: %s", r.ID, detail))
		}
	}

	for _, r := range p.forbidden {
		hit, detail, err := r.match(in.Finding.Kind, vars, files)
		switch {
		case err != nil:
			d.Human = append(d.Human, fmt.Sprintf("forbidden[%s]: condition failed: %v", r.ID, err))
		case hit:
			d.Violations = append(d.Violations, fmt.Sprintf("forbidden[%s]: %s", r.ID, detail))
		}
	}

	switch {
	case len(d.Human) > 0:
		d.Outcome = Escalate
	case len(d.Violations) > 0:
		d.Outcome = Reject
	case !p.autoApprovedMatch(in.Finding.Kind, vars, files):
		d.Human = append(d.Human, fmt.Sprintf("kind %s is not auto-approved", in.Finding.Kind))
		d.Outcome = Escalate
	default:
		d.Outcome = Approve
	}
	return d
}

func (p *Policy) autoApprovedMatch(kind record.Kind, vars map[string]any, files []normalizedFile) bool {
	for _, r := range p.autoApproved {
		if hit, _, err := r.match(kind, vars, files); err == nil && hit {
			return true
		}
	}
	return false
}

// match evaluates every criterion the rule sets. detail describes the hit.
func (r compiledRule) match(kind record.Kind, vars map[string]any, files []normalizedFile) (bool, string, error) {
	var parts []string
	if r.kinds != nil {
		if !r.kinds[kind] {
			return false, "", nil
		}
		parts = append(parts, "kind "+string(kind))
	}
	if r.program != nil {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			return false, "", err
		}
		b, ok := out.Value().(bool)
		if !ok {
			return false, "", fmt.Errorf("condition returned %T, want bool", out.Value())
		}
		if !b {
			return false, "", nil
		}
		parts = append(parts, "condition "+r.When)
	}
	if len(r.patterns) > 0 {
		hits := scan(r.patterns, files)
		if len(hits) == 0 {
			return false, "", nil
		}
		parts = append(parts, strings.Join(hits, ", "))
	}
	if r.Description != "" {
		parts = append([]string{r.Description}, parts...)
	}
	return true, strings.Join(parts, "; "), nil
}

type normalizedFile struct {
	name    string
	content string
}

func normalizeFiles(files map[string][]byte) []normalizedFile {
	out := make([]normalizedFile, 0, len(files))
	for name, data := range files {
		out = append(out, normalizedFile{name: name, content: normalize(string(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// scan returns one entry per pattern occurrence, naming the file.
func scan(patterns []string, files []normalizedFile) []string {
	var hits []string
	for _, f := range files {
		for _, pat := range patterns {
			if strings.Contains(f.content, pat) {
				hits = append(hits, fmt.Sprintf("pattern %q in %s", pat, f.name))
			}
		}
	}
	return hits
}

// normalize applies NFKC, Unicode case folding and whitespace collapsing.
// Patterns and file contents are compared only in this form.
func normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
