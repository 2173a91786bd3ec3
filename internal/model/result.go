package model

// DispenseStatus is the pipeline's terminal disposition for one prescription.
type DispenseStatus string

const (
	DispenseApproved      DispenseStatus = "approved"
	DispenseWithWarnings  DispenseStatus = "approved_with_warnings"
	DispensePendingReview DispenseStatus = "pending_review"
	DispenseRejected      DispenseStatus = "rejected"
)

// DispenseResult is the full pipeline output for one prescription.
type DispenseResult struct {
	CalculationID string                  `json:"calculation_id"`
	Status        DispenseStatus          `json:"status"`
	Prescription  *ParsedPrescription     `json:"prescription"`
	Identifier    *StandardizedIdentifier `json:"identifier,omitempty"`
	Candidates    []CandidatePackage      `json:"candidates,omitempty"`
	Validation    *ValidationOutcome      `json:"validation"`
	Selection     *PackageSelection       `json:"selection,omitempty"`
	Review        *ReviewRequest          `json:"review,omitempty"`
}
