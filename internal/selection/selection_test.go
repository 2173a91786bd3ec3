package selection

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meadowrx/dispense-cli/internal/model"
)

// pkgOf builds an active candidate of the given size.
func pkgOf(quantity float64, unit string) model.CandidatePackage {
	return model.CandidatePackage{
		PackageNDC:  fmt.Sprintf("0000-0000-%02.0f", quantity),
		GenericName: "testdrug",
		Quantity:    quantity,
		Unit:        unit,
		Active:      true,
	}
}

func pkgsOf(unit string, quantities ...float64) []model.CandidatePackage {
	out := make([]model.CandidatePackage, 0, len(quantities))
	for _, q := range quantities {
		out = append(out, pkgOf(q, unit))
	}
	return out
}

func TestSelect_ExactMatchPreferred(t *testing.T) {
	e := NewEngine(DefaultOptions())

	sel, err := e.Select(90, pkgsOf("TABLET", 30, 60, 90, 100))
	require.NoError(t, err)

	require.Len(t, sel.Lines, 1)
	assert.Equal(t, 90.0, sel.Lines[0].Package.Quantity)
	assert.Equal(t, 1, sel.PackageCount())
	assert.Equal(t, 0.0, sel.OverfillPercent)
	assert.Equal(t, model.EfficiencyOptimal, sel.CostEfficiency)
}

func TestSelect_SmallestCoveringPackage(t *testing.T) {
	e := NewEngine(DefaultOptions())

	sel, err := e.Select(45, pkgsOf("TABLET", 30, 60, 100))
	require.NoError(t, err)
	require.Len(t, sel.Lines, 1)
	assert.Equal(t, 60.0, sel.Lines[0].Package.Quantity)
	assert.Equal(t, 60.0, sel.TotalUnits)
}

func TestSelect_MultiPackCombination(t *testing.T) {
	e := NewEngine(DefaultOptions())

	sel, err := e.Select(75, pkgsOf("TABLET", 30, 60))
	require.NoError(t, err)

	// One 60 + one 30 = 90 units, 20% overfill, beats repeating the 60.
	assert.Equal(t, 90.0, sel.TotalUnits)
	assert.Equal(t, 2, sel.PackageCount())
	assert.InDelta(t, 20.0, sel.OverfillPercent, 0.01)
	assert.Equal(t, model.EfficiencyAcceptable, sel.CostEfficiency)
}

func TestSelect_RepeatsLargestWhenNoneCover(t *testing.T) {
	e := NewEngine(Options{MaxDistinctPackages: 1, MaxPerPackage: 10, MaxOverfillPercent: 50, PreferFewerPackages: true})

	sel, err := e.Select(250, pkgsOf("TABLET", 100))
	require.NoError(t, err)
	require.Len(t, sel.Lines, 1)
	assert.Equal(t, 3, sel.Lines[0].Count)
	assert.Equal(t, 300.0, sel.TotalUnits)
}

func TestSelect_TotalAlwaysCoversRequired(t *testing.T) {
	e := NewEngine(DefaultOptions())
	candidates := pkgsOf("TABLET", 28, 30, 60, 90, 100, 500)

	for _, required := range []float64{1, 7, 28, 29, 45, 75, 90, 125, 333, 1000, 2500} {
		sel, err := e.Select(required, candidates)
		require.NoError(t, err, "required %g", required)
		assert.GreaterOrEqual(t, sel.TotalUnits, required, "required %g", required)
		assert.Equal(t, sel.TotalUnits-required, sel.Overfill, "required %g", required)
	}
}

func TestSelect_InvalidQuantity(t *testing.T) {
	e := NewEngine(DefaultOptions())

	for _, required := range []float64{0, -5} {
		_, err := e.Select(required, pkgsOf("TABLET", 30))
		var qerr *InvalidQuantityError
		require.ErrorAs(t, err, &qerr, "required %g", required)
	}
}

func TestSelect_EmptyCandidates(t *testing.T) {
	e := NewEngine(DefaultOptions())

	_, err := e.Select(30, nil)
	var perr *NoCompatiblePackagesError
	require.ErrorAs(t, err, &perr)
}

func TestSelect_MajorityUnitFilter(t *testing.T) {
	e := NewEngine(DefaultOptions())

	candidates := []model.CandidatePackage{
		pkgOf(30, "TABLET"),
		pkgOf(90, "TABLET"),
		pkgOf(473, "mL"),
	}
	sel, err := e.Select(90, candidates)
	require.NoError(t, err)

	// The lone milliliter bottle is discarded; the plan is all tablets.
	for _, l := range sel.Lines {
		assert.Equal(t, "tablet", normalizeUnit(l.Package.Unit))
	}
}

func TestSelect_ZeroQuantityGetsNoMajorityVote(t *testing.T) {
	e := NewEngine(DefaultOptions())

	// Milliliters dominate the raw pool, but only through unparseable
	// zero-quantity packagings. The vote must ignore them so the
	// fulfillable tablet candidates survive.
	candidates := []model.CandidatePackage{
		pkgOf(0, "mL"),
		pkgOf(0, "mL"),
		pkgOf(0, "mL"),
		pkgOf(30, "TABLET"),
		pkgOf(60, "TABLET"),
	}
	sel, err := e.Select(60, candidates)
	require.NoError(t, err)
	require.Len(t, sel.Lines, 1)
	assert.Equal(t, 60.0, sel.Lines[0].Package.Quantity)
	assert.Equal(t, "tablet", normalizeUnit(sel.Lines[0].Package.Unit))
}

func TestSelect_InactiveFallback(t *testing.T) {
	e := NewEngine(DefaultOptions())

	inactive := pkgOf(90, "TABLET")
	inactive.Active = false
	sel, err := e.Select(90, []model.CandidatePackage{inactive})
	require.NoError(t, err)
	assert.Equal(t, 90.0, sel.TotalUnits)
}

func TestSelect_UnitSynonymsShareMajority(t *testing.T) {
	e := NewEngine(DefaultOptions())

	candidates := []model.CandidatePackage{
		pkgOf(100, "milliliters"),
		pkgOf(250, "mL"),
		pkgOf(473, "milliliter"),
	}
	sel, err := e.Select(200, candidates)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sel.TotalUnits, 200.0)
}

func TestSelect_OverfillCapBoundsCombinations(t *testing.T) {
	e := NewEngine(DefaultOptions())

	sel, err := e.Select(100, pkgsOf("TABLET", 30, 100))
	require.NoError(t, err)

	// Exact 100 wins; every considered combination stayed within 50% waste.
	assert.Equal(t, 100.0, sel.TotalUnits)
	assert.LessOrEqual(t, sel.OverfillPercent, 50.0)
}

func TestPick_SwitchMarginIsStrict(t *testing.T) {
	e := NewEngine(DefaultOptions())
	single := &model.PackageSelection{Score: 70}
	multi := &model.PackageSelection{Score: 75}

	// Exactly +5 keeps the single-package plan.
	assert.Same(t, single, e.pick(single, multi))

	multi.Score = 75.01
	assert.Same(t, multi, e.pick(single, multi))
}

func TestPick_NoPreferenceTakesHigherScore(t *testing.T) {
	opts := DefaultOptions()
	opts.PreferFewerPackages = false
	e := NewEngine(opts)

	single := &model.PackageSelection{Score: 70}
	multi := &model.PackageSelection{Score: 71}
	assert.Same(t, multi, e.pick(single, multi))
}

func TestScore_Components(t *testing.T) {
	e := NewEngine(DefaultOptions())

	// Single conventional package with zero overfill scores the maximum.
	perfect := e.build(90, []model.SelectionLine{{Package: pkgOf(90, "TABLET"), Count: 1, Units: 90}})
	assert.Equal(t, 100.0, perfect.Score)

	// An odd-size package loses only the size-preference component.
	odd := e.build(28, []model.SelectionLine{{Package: pkgOf(28, "TABLET"), Count: 1, Units: 28}})
	assert.Equal(t, 90.0, odd.Score)
}

func TestClassifyEfficiency(t *testing.T) {
	assert.Equal(t, model.EfficiencyOptimal, classifyEfficiency(95))
	assert.Equal(t, model.EfficiencyAcceptable, classifyEfficiency(94.99))
	assert.Equal(t, model.EfficiencyAcceptable, classifyEfficiency(80))
	assert.Equal(t, model.EfficiencyWasteful, classifyEfficiency(79.99))
}

func TestNormalizeUnit(t *testing.T) {
	tests := map[string]string{
		"TABLET":      "tablet",
		"Tablets":     "tablet",
		"milliliter":  "ml",
		"MILLILITERS": "ml",
		"mL":          "ml",
		"capsules":    "capsule",
		"CAPS":        "capsule",
		"gram":        "g",
		"patches":     "patch",
		"glass":       "glass",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeUnit(in), in)
	}
}

func TestSelect_ReasoningMentionsPlan(t *testing.T) {
	e := NewEngine(DefaultOptions())

	sel, err := e.Select(75, pkgsOf("TABLET", 30, 60))
	require.NoError(t, err)
	assert.Contains(t, sel.Reasoning, "overfill")
	assert.Contains(t, sel.Reasoning, string(sel.CostEfficiency))
}
