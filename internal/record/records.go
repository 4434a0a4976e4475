package record

import "time"

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	StatusPending     ProposalStatus = "pending"
	StatusImplemented ProposalStatus = "implemented"
)

// Proposal is a persisted suggestion for a change, derived from a finding.
type Proposal struct {
	ID                   string         `json:"id"`
	CreatedAt            time.Time      `json:"created_at"`
	Finding              Finding        `json:"finding"`
	EstimatedEffortHours int            `json:"estimated_effort_hours"`
	Status               ProposalStatus `json:"status"`
	RetryCount           int            `json:"retry_count"`
	LastStagingID        string         `json:"last_staging_id,omitempty"`
	ImplementedAt        *time.Time     `json:"implemented_at,omitempty"`
}

// Kind is shorthand for p.Finding.Kind.
func (p Proposal) Kind() Kind {
	return p.Finding.Kind
}

// Manifest describes one implementation attempt. It is written as
// manifest.json inside the attempt's staging directory.
type Manifest struct {
	StagingID          string    `json:"staging_id"`
	ProposalID         string    `json:"proposal_id"`
	Kind               Kind      `json:"kind"`
	CreatedAt          time.Time `json:"created_at"`
	Attempt            int       `json:"attempt"`
	SourceProposal     Proposal  `json:"source_proposal"`
	FilesCreated       []string  `json:"files_created"`
	ReadyForValidation bool      `json:"ready_for_validation"`
	Error              string    `json:"error,omitempty"`
}

// NextAction recommends what should happen after validation.
type NextAction string

const (
	NextGovernanceReview    NextAction = "governance_review"
	NextImplementationRetry NextAction = "implementation_retry"
	NextEscalate            NextAction = "escalate"
)

// CheckResult is the outcome of one rubric check.
type CheckResult struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Passed bool   `json:"passed"`
}

// ValidationReport records the evaluation of one implementation artifact.
type ValidationReport struct {
	ValidationID string        `json:"validation_id"`
	StagingID    string        `json:"staging_id"`
	ProposalID   string        `json:"proposal_id,omitempty"`
	Kind         Kind          `json:"kind"`
	ValidatedAt  time.Time     `json:"validated_at"`
	Passed       bool          `json:"passed"`
	Points       int           `json:"points"`
	Score        float64       `json:"score"`
	Threshold    float64       `json:"threshold"`
	Checks       []CheckResult `json:"checks"`
	Incomplete   bool          `json:"incomplete,omitempty"`
	RetryCount   int           `json:"retry_count"`
	Exhausted    bool          `json:"exhausted"`
	NextAction   NextAction    `json:"next_action"`
	ReportText   string        `json:"report_text"`
}

// FileHash identifies one deployed file by content.
type FileHash struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// DeploymentRecord is the content of a deployed/<staging>.deployed marker.
type DeploymentRecord struct {
	StagingID    string     `json:"staging_id"`
	ValidationID string     `json:"validation_id"`
	ProposalID   string     `json:"proposal_id"`
	Kind         Kind       `json:"kind"`
	DeployedAt   time.Time  `json:"deployed_at"`
	Deployer     string     `json:"deployer"`
	Targets      []string   `json:"targets,omitempty"`
	Files        []FileHash `json:"files"`
	PolicyDigest string     `json:"policy_digest"`
	Digest       string     `json:"digest"`
}

// EscalationRecord is written when a change needs a human decision.
type EscalationRecord struct {
	StagingID      string           `json:"staging_id"`
	ValidationID   string           `json:"validation_id"`
	ProposalID     string           `json:"proposal_id"`
	Kind           Kind             `json:"kind"`
	EscalatedAt    time.Time        `json:"escalated_at"`
	Reason         string           `json:"reason"`
	Violations     []string         `json:"violations,omitempty"`
	Report         ValidationReport `json:"validation_report"`
	RequiresAction bool             `json:"requires_action"`
	Options        []string         `json:"options"`
	PolicyDigest   string           `json:"policy_digest,omitempty"`
	Digest         string           `json:"digest"`
}

// EscalationOptions are the choices offered to the human reviewer.
var EscalationOptions = []string{"approve", "reject", "modify"}

// RejectionRecord is written when policy forbids a change.
type RejectionRecord struct {
	StagingID    string    `json:"staging_id"`
	ValidationID string    `json:"validation_id"`
	ProposalID   string    `json:"proposal_id"`
	Kind         Kind      `json:"kind"`
	RejectedAt   time.Time `json:"rejected_at"`
	Violations   []string  `json:"violations"`
	PolicyDigest string    `json:"policy_digest,omitempty"`
	Digest       string    `json:"digest"`
}

// StageReport summarizes one run of a pipeline stage. Counts are keyed by
// outcome, e.g. "proposed", "implemented", "deployed".
type StageReport struct {
	Stage  string         `json:"stage"`
	Counts map[string]int `json:"counts,omitempty"`
}

// Add increments the count for outcome.
func (r *StageReport) Add(outcome string) {
	if r.Counts == nil {
		r.Counts = make(map[string]int)
	}
	r.Counts[outcome]++
}

// StageResult is the orchestrator's view of one stage within a cycle.
type StageResult struct {
	Stage      string         `json:"stage"`
	OK         bool           `json:"ok"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Counts     map[string]int `json:"counts,omitempty"`
}

// CycleSummary records one orchestrator cycle.
type CycleSummary struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Halted     bool          `json:"halted"`
	OK         bool          `json:"ok"`
	Stages     []StageResult `json:"stages"`
}

// Succeeded returns how many stages completed without error.
func (c CycleSummary) Succeeded() int {
	n := 0
	for _, s := range c.Stages {
		if s.OK {
			n++
		}
	}
	return n
}

// Stage names, in pipeline order.
const (
	StageDiscovery      = "discovery"
	StageImplementation = "implementation"
	StageValidation     = "validation"
	StageGovernance     = "governance"
)

// Stages returns the stage names in pipeline order.
func Stages() []string {
	return []string{StageDiscovery, StageImplementation, StageValidation, StageGovernance}
}
