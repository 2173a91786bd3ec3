// Package selection searches for the package combination that fulfills a
// required quantity with the least overfill and fewest physical packages.
package selection

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/meadowrx/dispense-cli/internal/model"
)

// Options bounds the combinatorial search.
type Options struct {
	// MaxDistinctPackages limits how many distinct package types one plan
	// may mix. 1 disables the multi-package search.
	MaxDistinctPackages int

	// MaxPerPackage limits how many times each package type may repeat.
	MaxPerPackage int

	// MaxOverfillPercent discards combinations wasting more than this.
	MaxOverfillPercent float64

	// PreferFewerPackages keeps the single-package plan unless a combination
	// beats its score by more than the switch margin.
	PreferFewerPackages bool
}

// DefaultOptions returns the standard search bounds.
func DefaultOptions() Options {
	return Options{
		MaxDistinctPackages: 3,
		MaxPerPackage:       10,
		MaxOverfillPercent:  50,
		PreferFewerPackages: true,
	}
}

// switchMargin is how many score points a multi-package plan must beat the
// single-package plan by before it replaces it. A margin of exactly
// switchMargin keeps the single plan.
const switchMargin = 5.0

// maxDistinctSizes caps the sizes fed to the combination generator.
const maxDistinctSizes = 15

// conventionalSizes are stock package counts pharmacies shelve routinely.
var conventionalSizes = map[float64]bool{
	30: true, 60: true, 90: true, 100: true, 120: true, 500: true, 1000: true,
}

// NoCompatiblePackagesError indicates no candidate shares the dominant
// dispensing unit, so no plan can be built.
type NoCompatiblePackagesError struct {
	Reason string
}

func (e *NoCompatiblePackagesError) Error() string {
	return "selection: no compatible packages: " + e.Reason
}

// InvalidQuantityError indicates a non-positive required quantity.
type InvalidQuantityError struct {
	Quantity float64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("selection: invalid required quantity %g", e.Quantity)
}

// Engine runs the package selection search.
type Engine struct {
	opts   Options
	logger *zap.Logger
}

// NewEngine creates an Engine with the given options.
func NewEngine(opts Options) *Engine {
	if opts.MaxDistinctPackages <= 0 {
		opts.MaxDistinctPackages = 1
	}
	if opts.MaxPerPackage <= 0 {
		opts.MaxPerPackage = 10
	}
	if opts.MaxOverfillPercent <= 0 {
		opts.MaxOverfillPercent = 50
	}
	return &Engine{opts: opts, logger: zap.L().Named("selection")}
}

// Select returns the best fulfillment plan for the required quantity.
func (e *Engine) Select(required float64, candidates []model.CandidatePackage) (*model.PackageSelection, error) {
	if required <= 0 {
		return nil, &InvalidQuantityError{Quantity: required}
	}
	if len(candidates) == 0 {
		return nil, &NoCompatiblePackagesError{Reason: "candidate set is empty"}
	}

	pool := filterByMajorityUnit(candidates)
	if len(pool) == 0 {
		return nil, &NoCompatiblePackagesError{Reason: "no candidates share a common unit"}
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].Quantity < pool[j].Quantity })

	single := e.bestSingle(required, pool)

	best := single
	if e.opts.MaxDistinctPackages > 1 {
		if multi := e.bestCombination(required, pool); multi != nil {
			if e.pick(single, multi) == multi {
				best = multi
			}
		}
	}

	best.Reasoning = e.describe(best)
	e.logger.Debug("selection complete",
		zap.Float64("required", required),
		zap.Float64("total", best.TotalUnits),
		zap.Float64("score", best.Score),
		zap.Int("packages", best.PackageCount()))
	return best, nil
}

// pick applies the prefer-fewer rule: the combination replaces the single
// plan only when it wins by strictly more than the switch margin.
func (e *Engine) pick(single, multi *model.PackageSelection) *model.PackageSelection {
	if !e.opts.PreferFewerPackages {
		if multi.Score > single.Score {
			return multi
		}
		return single
	}
	if multi.Score-single.Score > switchMargin {
		return multi
	}
	return single
}

// bestSingle finds the greedy single-package-type plan. pool is sorted by
// quantity ascending.
func (e *Engine) bestSingle(required float64, pool []model.CandidatePackage) *model.PackageSelection {
	// Exact match first.
	for _, p := range pool {
		if p.Quantity == required {
			return e.build(required, []model.SelectionLine{{Package: p, Count: 1, Units: p.Quantity}})
		}
	}

	// Smallest package covering the requirement in one dispense.
	for _, p := range pool {
		if p.Quantity >= required {
			return e.build(required, []model.SelectionLine{{Package: p, Count: 1, Units: p.Quantity}})
		}
	}

	// Repeat the largest package until covered.
	largest := pool[len(pool)-1]
	count := int(math.Ceil(required / largest.Quantity))
	return e.build(required, []model.SelectionLine{{
		Package: largest,
		Count:   count,
		Units:   float64(count) * largest.Quantity,
	}})
}

// bestCombination enumerates bounded mixes of 2 or 3 distinct package
// sizes and returns the highest-scoring feasible one, or nil.
func (e *Engine) bestCombination(required float64, pool []model.CandidatePackage) *model.PackageSelection {
	sizes := distinctSizes(pool, maxDistinctSizes)
	if len(sizes) < 2 {
		return nil
	}

	maxDistinct := e.opts.MaxDistinctPackages
	if maxDistinct > len(sizes) {
		maxDistinct = len(sizes)
	}

	maxTotal := required * (1 + e.opts.MaxOverfillPercent/100)

	var best *model.PackageSelection
	chosen := make([]int, 0, maxDistinct)

	// enumerate assigns 1..MaxPerPackage of each chosen size, cutting off
	// once the running total busts the overfill cap.
	var enumerate func(pos int, counts []int, total float64)
	enumerate = func(pos int, counts []int, total float64) {
		if pos == len(chosen) {
			if total < required {
				return
			}
			plan := e.planFromCounts(required, sizes, chosen, counts)
			if plan != nil && (best == nil || plan.Score > best.Score) {
				best = plan
			}
			return
		}
		size := sizes[chosen[pos]].Quantity
		for n := 1; n <= e.opts.MaxPerPackage; n++ {
			next := total + float64(n)*size
			if next > maxTotal {
				break
			}
			counts[pos] = n
			enumerate(pos+1, counts, next)
		}
	}

	// pickSizes walks every subset of 2..maxDistinct distinct sizes.
	var pickSizes func(start int)
	pickSizes = func(start int) {
		if len(chosen) >= 2 {
			counts := make([]int, len(chosen))
			enumerate(0, counts, 0)
		}
		if len(chosen) == maxDistinct {
			return
		}
		for i := start; i < len(sizes); i++ {
			chosen = append(chosen, i)
			pickSizes(i + 1)
			chosen = chosen[:len(chosen)-1]
		}
	}
	pickSizes(0)
	return best
}

// planFromCounts materializes one combination, or nil when it is infeasible
// or wastes more than the overfill cap.
func (e *Engine) planFromCounts(required float64, sizes []model.CandidatePackage, chosen, counts []int) *model.PackageSelection {
	lines := make([]model.SelectionLine, 0, len(chosen))
	total := 0.0
	for pos, idx := range chosen {
		n := counts[pos]
		units := float64(n) * sizes[idx].Quantity
		total += units
		lines = append(lines, model.SelectionLine{Package: sizes[idx], Count: n, Units: units})
	}
	if total < required {
		return nil
	}
	if (total-required)/required*100 > e.opts.MaxOverfillPercent {
		return nil
	}
	return e.build(required, lines)
}

// build assembles a scored PackageSelection from its lines.
func (e *Engine) build(required float64, lines []model.SelectionLine) *model.PackageSelection {
	total := 0.0
	for _, l := range lines {
		total += l.Units
	}

	sel := &model.PackageSelection{
		Lines:           lines,
		RequiredUnits:   required,
		TotalUnits:      total,
		Overfill:        total - required,
		OverfillPercent: round2((total - required) / required * 100),
	}
	sel.EfficiencyPercent = round2(required / total * 100)
	sel.Score = round2(score(sel))
	sel.CostEfficiency = classifyEfficiency(sel.EfficiencyPercent)
	return sel
}

// score rates a plan 0-100: overfill dominates, then package count, then
// use of conventional stock sizes.
func score(sel *model.PackageSelection) float64 {
	overfillScore := math.Max(0, 100-sel.OverfillPercent)
	countScore := math.Max(0, 100-20*float64(sel.PackageCount()-1))

	conventional := 0
	for _, l := range sel.Lines {
		if conventionalSizes[l.Package.Quantity] {
			conventional++
		}
	}
	sizeScore := float64(conventional) / float64(len(sel.Lines)) * 100

	return 0.6*overfillScore + 0.3*countScore + 0.1*sizeScore
}

func classifyEfficiency(efficiencyPercent float64) model.CostEfficiency {
	switch {
	case efficiencyPercent >= 95:
		return model.EfficiencyOptimal
	case efficiencyPercent >= 80:
		return model.EfficiencyAcceptable
	default:
		return model.EfficiencyWasteful
	}
}

func (e *Engine) describe(sel *model.PackageSelection) string {
	var parts []string
	for _, l := range sel.Lines {
		parts = append(parts, fmt.Sprintf("%dx %g %s", l.Count, l.Package.Quantity, normalizeUnit(l.Package.Unit)))
	}
	return fmt.Sprintf("%d package(s) (%s) for %g required: %g units total, %g overfill (%.1f%%), %s",
		sel.PackageCount(), strings.Join(parts, " + "), sel.RequiredUnits,
		sel.TotalUnits, sel.Overfill, sel.OverfillPercent, sel.CostEfficiency)
}

// filterByMajorityUnit keeps only candidates matching the most frequent
// normalized unit, counted over active candidates first and all candidates
// when none are active.
func filterByMajorityUnit(candidates []model.CandidatePackage) []model.CandidatePackage {
	// Zero-quantity packagings can never contribute to a plan, so they do
	// not get a vote either.
	var usable, active []model.CandidatePackage
	for _, c := range candidates {
		if c.Quantity <= 0 {
			continue
		}
		usable = append(usable, c)
		if c.Active {
			active = append(active, c)
		}
	}
	base := active
	if len(base) == 0 {
		base = usable
	}

	counts := make(map[string]int)
	for _, c := range base {
		counts[normalizeUnit(c.Unit)]++
	}
	majority := ""
	for unit, n := range counts {
		if n > counts[majority] || (n == counts[majority] && unit < majority) {
			majority = unit
		}
	}
	if majority == "" {
		return nil
	}

	var out []model.CandidatePackage
	for _, c := range base {
		if normalizeUnit(c.Unit) == majority {
			out = append(out, c)
		}
	}
	return out
}

// distinctSizes returns one representative candidate per distinct package
// quantity, keeping the limit smallest sizes. Input is sorted ascending.
func distinctSizes(pool []model.CandidatePackage, limit int) []model.CandidatePackage {
	var out []model.CandidatePackage
	seen := make(map[float64]bool)
	for _, p := range pool {
		if seen[p.Quantity] {
			continue
		}
		seen[p.Quantity] = true
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out
}

// unitSynonyms folds spelled-out and plural unit names onto their canonical
// dispensing unit.
var unitSynonyms = map[string]string{
	"milliliter":    "ml",
	"milliliters":   "ml",
	"millilitre":    "ml",
	"millilitres":   "ml",
	"cc":            "ml",
	"gram":          "g",
	"grams":         "g",
	"gm":            "g",
	"tablets":       "tablet",
	"tab":           "tablet",
	"tabs":          "tablet",
	"capsules":      "capsule",
	"cap":           "capsule",
	"caps":          "capsule",
	"patches":       "patch",
	"suppositories": "suppository",
}

func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if canonical, ok := unitSynonyms[u]; ok {
		return canonical
	}
	// Generic plural folding once synonyms are exhausted.
	if len(u) > 3 && strings.HasSuffix(u, "s") && !strings.HasSuffix(u, "ss") {
		return strings.TrimSuffix(u, "s")
	}
	return u
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
