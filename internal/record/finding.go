package record

// ProcessDetail describes a monitored process that is not running.
type ProcessDetail struct {
	Name         string `json:"name" yaml:"name"`
	Pattern      string `json:"pattern" yaml:"pattern"`
	StartCommand string `json:"start_command,omitempty" yaml:"start_command"`
	WorkDir      string `json:"work_dir,omitempty" yaml:"work_dir"`
	LogFile      string `json:"log_file,omitempty" yaml:"log_file"`
}

// ResourceDetail describes a filesystem over its usage threshold.
type ResourceDetail struct {
	Path         string   `json:"path" yaml:"path"`
	UsagePercent float64  `json:"usage_percent" yaml:"usage_percent"`
	CleanupDirs  []string `json:"cleanup_dirs,omitempty" yaml:"cleanup_dirs"`
}

// ErrorRateDetail describes a log file with too many error lines.
type ErrorRateDetail struct {
	LogFile      string `json:"log_file" yaml:"log_file"`
	ErrorCount   int    `json:"error_count" yaml:"error_count"`
	LinesScanned int    `json:"lines_scanned" yaml:"lines_scanned"`
}

// Finding is an observation or idea produced by discovery.
//
// Exactly one of the detail pointers is expected for the operational
// kinds; the other kinds carry no structured detail.
type Finding struct {
	Kind            Kind       `json:"kind" yaml:"kind"`
	Component       string     `json:"component" yaml:"component"`
	Severity        Severity   `json:"severity" yaml:"severity"`
	Title           string     `json:"title" yaml:"title"`
	Description     string     `json:"description" yaml:"description"`
	Rationale       string     `json:"rationale,omitempty" yaml:"rationale"`
	ExpectedImpact  string     `json:"expected_impact,omitempty" yaml:"expected_impact"`
	SuggestedAction string     `json:"suggested_action,omitempty" yaml:"suggested_action"`
	Complexity      Complexity `json:"complexity" yaml:"complexity"`
	Priority        string     `json:"priority" yaml:"priority"`

	Process   *ProcessDetail   `json:"process,omitempty" yaml:"process"`
	Resource  *ResourceDetail  `json:"resource,omitempty" yaml:"resource"`
	ErrorRate *ErrorRateDetail `json:"error_rate,omitempty" yaml:"error_rate"`
}

// Visitor dispatches on the kind of a finding. Adding a method here forces
// every implementation stage and deployer to handle the new case.
//
// The human-gated kinds (network_config, credential_change, data_deletion,
// system_modification) have no dedicated handler and arrive at Generic, as
// do unknown kinds.
type Visitor interface {
	ProcessFailure(f Finding, d ProcessDetail) error
	ResourceConstraint(f Finding, d ResourceDetail) error
	ErrorRate(f Finding, d ErrorRateDetail) error
	ArchitectureImprovement(f Finding) error
	Automation(f Finding) error
	RevenueOptimization(f Finding) error
	Generic(f Finding) error
}

// Accept calls the Visitor method matching f.Kind. Missing detail payloads
// are replaced by a zero value carrying the component name.
func (f Finding) Accept(v Visitor) error {
	switch f.Kind {
	case KindProcessFailure:
		d := ProcessDetail{Name: f.Component}
		if f.Process != nil {
			d = *f.Process
		}
		return v.ProcessFailure(f, d)
	case KindResourceConstraint:
		d := ResourceDetail{Path: f.Component}
		if f.Resource != nil {
			d = *f.Resource
		}
		return v.ResourceConstraint(f, d)
	case KindErrorRate:
		d := ErrorRateDetail{LogFile: f.Component}
		if f.ErrorRate != nil {
			d = *f.ErrorRate
		}
		return v.ErrorRate(f, d)
	case KindArchitectureImprovement:
		return v.ArchitectureImprovement(f)
	case KindAutomation:
		return v.Automation(f)
	case KindRevenueOptimization:
		return v.RevenueOptimization(f)
	default:
		return v.Generic(f)
	}
}

// Attributes flattens a finding into a string-keyed map. Policy expressions
// are evaluated against this view.
func (f Finding) Attributes() map[string]any {
	m := map[string]any{
		"kind":        string(f.Kind),
		"component":   f.Component,
		"severity":    string(f.Severity),
		"title":       f.Title,
		"description": f.Description,
		"complexity":  string(f.Complexity),
		"priority":    f.Priority,
	}
	if f.Process != nil {
		m["process"] = map[string]any{
			"name":          f.Process.Name,
			"pattern":       f.Process.Pattern,
			"start_command": f.Process.StartCommand,
		}
	}
	if f.Resource != nil {
		m["resource"] = map[string]any{
			"path":          f.Resource.Path,
			"usage_percent": f.Resource.UsagePercent,
		}
	}
	if f.ErrorRate != nil {
		m["error_rate"] = map[string]any{
			"log_file":      f.ErrorRate.LogFile,
			"error_count":   int64(f.ErrorRate.ErrorCount),
			"lines_scanned": int64(f.ErrorRate.LinesScanned),
		}
	}
	return m
}
