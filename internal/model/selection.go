package model

// CostEfficiency classifies a selection by its efficiency percentage.
type CostEfficiency string

const (
	EfficiencyOptimal    CostEfficiency = "optimal"
	EfficiencyAcceptable CostEfficiency = "acceptable"
	EfficiencyWasteful   CostEfficiency = "wasteful"
)

// SelectionLine is one package type in a fulfillment plan.
type SelectionLine struct {
	Package CandidatePackage `json:"package"`
	Count   int              `json:"count"`
	Units   float64          `json:"units"`
}

// PackageSelection is the chosen fulfillment plan. TotalUnits is always at
// least the required quantity for a feasible selection.
type PackageSelection struct {
	Lines             []SelectionLine `json:"lines"`
	RequiredUnits     float64         `json:"required_units"`
	TotalUnits        float64         `json:"total_units"`
	Overfill          float64         `json:"overfill"`
	OverfillPercent   float64         `json:"overfill_percent"`
	EfficiencyPercent float64         `json:"efficiency_percent"`
	Score             float64         `json:"score"`
	CostEfficiency    CostEfficiency  `json:"cost_efficiency"`
	Reasoning         string          `json:"reasoning"`
}

// PackageCount returns the total number of physical packages dispensed.
func (s *PackageSelection) PackageCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Count
	}
	return n
}
