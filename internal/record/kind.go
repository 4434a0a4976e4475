package record

import "fmt"

// Kind classifies a finding. The set is closed: unknown strings are
// dispatched as generic.
type Kind string

const (
	KindProcessFailure          Kind = "process_failure"
	KindResourceConstraint      Kind = "resource_constraint"
	KindErrorRate               Kind = "error_rate"
	KindArchitectureImprovement Kind = "architecture_improvement"
	KindAutomation              Kind = "automation"
	KindRevenueOptimization     Kind = "revenue_optimization"
	KindNetworkConfig           Kind = "network_config"
	KindCredentialChange        Kind = "credential_change"
	KindDataDeletion            Kind = "data_deletion"
	KindSystemModification      Kind = "system_modification"
	KindGeneric                 Kind = "generic"
)

var knownKinds = map[Kind]bool{
	KindProcessFailure:          true,
	KindResourceConstraint:      true,
	KindErrorRate:               true,
	KindArchitectureImprovement: true,
	KindAutomation:              true,
	KindRevenueOptimization:     true,
	KindNetworkConfig:           true,
	KindCredentialChange:        true,
	KindDataDeletion:            true,
	KindSystemModification:      true,
	KindGeneric:                 true,
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindProcessFailure,
		KindResourceConstraint,
		KindErrorRate,
		KindArchitectureImprovement,
		KindAutomation,
		KindRevenueOptimization,
		KindNetworkConfig,
		KindCredentialChange,
		KindDataDeletion,
		KindSystemModification,
		KindGeneric,
	}
}

// Known reports whether k is one of the declared kinds.
func (k Kind) Known() bool {
	return knownKinds[k]
}

// Severity of a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Complexity estimates how hard a change is to implement.
type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityVeryHigh Complexity = "very_high"
)

// EffortHours maps a complexity to an estimated effort in hours.
// Unknown complexities are treated as medium.
func (c Complexity) EffortHours() int {
	switch c {
	case ComplexityLow:
		return 1
	case ComplexityMedium:
		return 4
	case ComplexityHigh:
		return 8
	case ComplexityVeryHigh:
		return 16
	default:
		return 4
	}
}

// ParseComplexity validates a complexity string.
func ParseComplexity(s string) (Complexity, error) {
	switch c := Complexity(s); c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh, ComplexityVeryHigh:
		return c, nil
	default:
		return "", fmt.Errorf("unknown complexity %q", s)
	}
}
