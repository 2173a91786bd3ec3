package model

// ConfidenceLevel classifies the interpretation's reliability.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceGood   ConfidenceLevel = "good"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// Severity grades a validation finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ReviewPriority is the priority attached to a manual review request.
type ReviewPriority string

const (
	ReviewPriorityHigh   ReviewPriority = "high"
	ReviewPriorityMedium ReviewPriority = "medium"
	ReviewPriorityLow    ReviewPriority = "low"
)

// CheckResult is the outcome of a single reasonableness check.
type CheckResult struct {
	Name      string   `json:"name"`
	Passed    bool     `json:"passed"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Observed  string   `json:"observed,omitempty"`
	Threshold string   `json:"threshold,omitempty"`
}

// ValidationOutcome is the confidence gate's terminal decision for one
// prescription. It is created once and never mutated.
type ValidationOutcome struct {
	Confidence           float64         `json:"confidence"`
	Level                ConfidenceLevel `json:"level"`
	RequiresManualReview bool            `json:"requires_manual_review"`
	ShouldAutoApprove    bool            `json:"should_auto_approve"`
	Errors               []string        `json:"errors,omitempty"`
	Warnings             []string        `json:"warnings,omitempty"`
	Checks               []CheckResult   `json:"checks,omitempty"`
	Reasoning            string          `json:"reasoning"`
}

// CriticalChecks returns the reasonableness checks that failed critically.
func (v *ValidationOutcome) CriticalChecks() []CheckResult {
	var out []CheckResult
	for _, c := range v.Checks {
		if !c.Passed && c.Severity == SeverityCritical {
			out = append(out, c)
		}
	}
	return out
}

// WarningChecks returns the checks that failed with warning severity.
func (v *ValidationOutcome) WarningChecks() []CheckResult {
	var out []CheckResult
	for _, c := range v.Checks {
		if !c.Passed && c.Severity == SeverityWarning {
			out = append(out, c)
		}
	}
	return out
}

// ReviewRequest is the payload submitted to the external review queue when
// RequiresManualReview is set.
type ReviewRequest struct {
	CalculationID string         `json:"calculation_id"`
	Priority      ReviewPriority `json:"priority"`
	Notes         string         `json:"notes,omitempty"`
}
