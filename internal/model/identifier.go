package model

// StandardizedIdentifier is the canonical drug identifier resolved from the
// standardization registry. Absence (a nil pointer) is a valid terminal state:
// the pipeline continues with name-based catalog lookups.
type StandardizedIdentifier struct {
	RxCUI    string `json:"rxcui"`
	Name     string `json:"name"`
	TermType string `json:"term_type"`
}

// Prescribable reports whether the term type marks a directly prescribable
// entry (clinical/branded drugs and packs).
func (s *StandardizedIdentifier) Prescribable() bool {
	switch s.TermType {
	case "SCD", "SBD", "GPCK", "BPCK":
		return true
	}
	return false
}
