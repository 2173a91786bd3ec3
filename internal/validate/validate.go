// Package validate scores interpretation reliability and runs medical
// reasonableness checks, deciding whether a dispense auto-approves or
// routes to manual review.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/meadowrx/dispense-cli/internal/model"
)

var (
	drugNamePattern = regexp.MustCompile(`^[A-Za-z0-9\s\-()]+$`)
	strengthUnits   = regexp.MustCompile(`^(?i)(mg|mcg|g|ml|l|iu|units?|%)$`)
)

// Validator applies the confidence gate and reasonableness checks.
type Validator struct {
	policy Policy
}

// NewValidator creates a Validator with the given policy.
func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// Validate runs the full gate over a parsed prescription. The outcome is
// terminal: it is computed once and drives whether selection executes.
func (v *Validator) Validate(parsed *model.ParsedPrescription) model.ValidationOutcome {
	errs, warnings := v.structural(parsed)
	outcome := model.ValidationOutcome{
		Confidence: parsed.Confidence,
		Level:      v.classify(parsed.Confidence),
		Errors:     errs,
		Warnings:   warnings,
	}
	outcome.Checks = append(outcome.Checks, v.checkDaysSupply(parsed))
	outcome.Checks = append(outcome.Checks, v.checkQuantityForForm(parsed))
	outcome.Checks = append(outcome.Checks, v.checkStrengthMagnitude(parsed))
	outcome.Checks = append(outcome.Checks, v.checkRouteCompatibility(parsed))

	criticals := outcome.CriticalChecks()
	outcome.RequiresManualReview = parsed.Confidence < v.policy.Confidence.Medium || len(criticals) > 0
	outcome.ShouldAutoApprove = parsed.Confidence >= v.policy.Confidence.Good &&
		len(criticals) == 0 &&
		len(outcome.Errors) == 0
	outcome.Reasoning = v.reasoning(outcome, criticals)
	return outcome
}

// ReviewPriority derives the queue priority for an outcome that requires
// manual review.
func (v *Validator) ReviewPriority(outcome model.ValidationOutcome) model.ReviewPriority {
	if len(outcome.CriticalChecks()) > 0 || outcome.Level == model.ConfidenceLow {
		return model.ReviewPriorityHigh
	}
	if (outcome.Level == model.ConfidenceHigh || outcome.Level == model.ConfidenceGood) &&
		len(outcome.WarningChecks()) == 0 {
		return model.ReviewPriorityLow
	}
	return model.ReviewPriorityMedium
}

func (v *Validator) classify(confidence float64) model.ConfidenceLevel {
	switch {
	case confidence >= v.policy.Confidence.High:
		return model.ConfidenceHigh
	case confidence >= v.policy.Confidence.Good:
		return model.ConfidenceGood
	case confidence >= v.policy.Confidence.Medium:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// structural runs schema-level checks independent of confidence. Errors
// block auto-approval; warnings are advisory only.
func (v *Validator) structural(parsed *model.ParsedPrescription) (errs, warnings []string) {
	name := strings.TrimSpace(parsed.DrugName)
	if len(name) < 2 {
		errs = append(errs, "drug name shorter than 2 characters")
	} else if !drugNamePattern.MatchString(name) {
		errs = append(errs, fmt.Sprintf("drug name %q contains invalid characters", name))
	}

	if parsed.Strength.Value <= 0 {
		errs = append(errs, "strength value is not positive")
	} else if !strengthUnits.MatchString(strings.TrimSpace(parsed.Strength.Unit)) {
		errs = append(errs, fmt.Sprintf("unrecognized strength unit %q", parsed.Strength.Unit))
	}

	switch {
	case parsed.Quantity.Value <= 0:
		errs = append(errs, "quantity is not positive")
	case parsed.Quantity.Value > v.policy.Quantity.StructuralMax:
		warnings = append(warnings, fmt.Sprintf("quantity %g exceeds %g", parsed.Quantity.Value, v.policy.Quantity.StructuralMax))
	}

	if parsed.DaysSupply != nil {
		switch {
		case *parsed.DaysSupply <= 0:
			errs = append(errs, "days supply is not positive")
		case *parsed.DaysSupply > 365:
			warnings = append(warnings, fmt.Sprintf("days supply %d exceeds one year", *parsed.DaysSupply))
		}
	}

	if sig := strings.TrimSpace(parsed.Sig); sig != "" && len(sig) < 5 {
		warnings = append(warnings, fmt.Sprintf("instructions %q unusually short", sig))
	}

	return errs, warnings
}

func (v *Validator) checkDaysSupply(parsed *model.ParsedPrescription) model.CheckResult {
	check := model.CheckResult{Name: "days_supply", Passed: true, Severity: model.SeverityInfo}
	if parsed.DaysSupply == nil {
		check.Message = "days supply not specified"
		return check
	}

	days := *parsed.DaysSupply
	check.Observed = fmt.Sprintf("%d days", days)
	switch {
	case days < v.policy.DaysSupply.CriticalMin || days > v.policy.DaysSupply.CriticalMax:
		check.Passed = false
		check.Severity = model.SeverityCritical
		check.Threshold = fmt.Sprintf("%d-%d days", v.policy.DaysSupply.CriticalMin, v.policy.DaysSupply.CriticalMax)
		check.Message = fmt.Sprintf("days supply %d outside %s", days, check.Threshold)
	case days > v.policy.DaysSupply.WarnAbove:
		check.Passed = false
		check.Severity = model.SeverityWarning
		check.Threshold = fmt.Sprintf("%d days", v.policy.DaysSupply.WarnAbove)
		check.Message = fmt.Sprintf("days supply %d exceeds typical %s", days, check.Threshold)
	default:
		check.Message = "days supply within range"
	}
	return check
}

func (v *Validator) checkQuantityForForm(parsed *model.ParsedPrescription) model.CheckResult {
	check := model.CheckResult{Name: "quantity_for_form", Passed: true, Severity: model.SeverityInfo}

	maximum := v.policy.Quantity.SolidMax
	if isLiquidForm(parsed.DosageForm) {
		maximum = v.policy.Quantity.LiquidMax
	}

	qty := parsed.Quantity.Value
	check.Observed = fmt.Sprintf("%g %s", qty, parsed.Quantity.Unit)
	switch {
	case qty > maximum:
		check.Passed = false
		check.Severity = model.SeverityCritical
		check.Threshold = fmt.Sprintf("%g", maximum)
		check.Message = fmt.Sprintf("quantity %g exceeds maximum %g for %s", qty, maximum, parsed.DosageForm)
	case qty > v.policy.Quantity.WarnAbove:
		check.Passed = false
		check.Severity = model.SeverityWarning
		check.Threshold = fmt.Sprintf("%g", v.policy.Quantity.WarnAbove)
		check.Message = fmt.Sprintf("quantity %g is unusually large", qty)
	default:
		check.Message = "quantity reasonable for dosage form"
	}
	return check
}

// checkStrengthMagnitude sanity-checks the per-unit strength. Always
// warning severity: odd strengths exist for legitimate orders.
func (v *Validator) checkStrengthMagnitude(parsed *model.ParsedPrescription) model.CheckResult {
	check := model.CheckResult{Name: "strength_magnitude", Passed: true, Severity: model.SeverityInfo}
	value := parsed.Strength.Value
	check.Observed = fmt.Sprintf("%g %s", value, parsed.Strength.Unit)

	var flagged bool
	switch strings.ToLower(strings.TrimSpace(parsed.Strength.Unit)) {
	case "mg":
		flagged = value > v.policy.Strength.MgMax || value < v.policy.Strength.MgMin
		check.Threshold = fmt.Sprintf("%g-%g mg", v.policy.Strength.MgMin, v.policy.Strength.MgMax)
	case "mcg":
		flagged = value > v.policy.Strength.McgMax
		check.Threshold = fmt.Sprintf("<=%g mcg", v.policy.Strength.McgMax)
	case "g":
		flagged = value > v.policy.Strength.GMax
		check.Threshold = fmt.Sprintf("<=%g g", v.policy.Strength.GMax)
	}

	if flagged {
		check.Passed = false
		check.Severity = model.SeverityWarning
		check.Message = fmt.Sprintf("strength %s outside typical range %s", check.Observed, check.Threshold)
	} else {
		check.Message = "strength within typical range"
	}
	return check
}

// checkRouteCompatibility cross-checks the dosage form against route
// language in the sig.
func (v *Validator) checkRouteCompatibility(parsed *model.ParsedPrescription) model.CheckResult {
	check := model.CheckResult{Name: "route_form_compatibility", Passed: true, Severity: model.SeverityInfo, Message: "form consistent with instructions"}

	sig := strings.ToLower(parsed.Sig)
	if sig == "" {
		check.Message = "no instructions to cross-check"
		return check
	}

	topicalSig := containsAny(sig, "apply topically", "apply to", "rub into", "affected area")
	oralSig := containsAny(sig, "by mouth", "orally", "swallow", "po ")

	switch {
	case isOralForm(parsed.DosageForm) && topicalSig:
		check.Passed = false
		check.Severity = model.SeverityCritical
		check.Message = fmt.Sprintf("oral form %q with topical instructions", parsed.DosageForm)
	case isTopicalForm(parsed.DosageForm) && oralSig:
		check.Passed = false
		check.Severity = model.SeverityCritical
		check.Message = fmt.Sprintf("topical form %q with oral instructions", parsed.DosageForm)
	case isInhalationForm(parsed.DosageForm) && (oralSig || topicalSig):
		check.Passed = false
		check.Severity = model.SeverityWarning
		check.Message = fmt.Sprintf("inhalation form %q with oral or topical instructions", parsed.DosageForm)
	}
	check.Observed = parsed.DosageForm
	return check
}

func (v *Validator) reasoning(outcome model.ValidationOutcome, criticals []model.CheckResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "confidence %.2f (%s)", outcome.Confidence, outcome.Level)

	switch {
	case outcome.ShouldAutoApprove:
		b.WriteString("; auto-approved")
	case outcome.RequiresManualReview:
		b.WriteString("; routed to manual review")
	default:
		b.WriteString("; approval withheld")
	}

	if len(outcome.Errors) > 0 {
		fmt.Fprintf(&b, "; %d structural error(s)", len(outcome.Errors))
	}
	for _, c := range criticals {
		fmt.Fprintf(&b, "; critical: %s", c.Name)
	}
	if warnings := outcome.WarningChecks(); len(warnings) > 0 {
		fmt.Fprintf(&b, "; %d warning(s)", len(warnings))
	}
	return b.String()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isLiquidForm(form string) bool {
	return matchForm(form, "solution", "suspension", "syrup", "elixir", "liquid", "drops", "injection")
}

func isOralForm(form string) bool {
	return matchForm(form, "tablet", "capsule", "caplet", "lozenge", "chewable")
}

func isTopicalForm(form string) bool {
	return matchForm(form, "cream", "ointment", "gel", "lotion", "patch", "foam")
}

func isInhalationForm(form string) bool {
	return matchForm(form, "inhaler", "inhalation", "aerosol", "nebulizer")
}

func matchForm(form string, keywords ...string) bool {
	form = strings.ToLower(form)
	for _, kw := range keywords {
		if strings.Contains(form, kw) {
			return true
		}
	}
	return false
}
