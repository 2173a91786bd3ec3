// Package pipeline orchestrates the dispensing decision: interpretation,
// standardization, catalog retrieval, the confidence gate, and package
// selection, with every stage audited.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meadowrx/dispense-cli/internal/audit"
	"github.com/meadowrx/dispense-cli/internal/model"
	"github.com/meadowrx/dispense-cli/internal/validate"
)

// Interpreter is the interpretation stage contract.
type Interpreter interface {
	Interpret(ctx context.Context, calculationID, rawText string) (*model.ParsedPrescription, error)
}

// Standardizer is the identifier-resolution stage contract.
type Standardizer interface {
	Standardize(ctx context.Context, calculationID, drugName, strength, form string) (*model.StandardizedIdentifier, error)
}

// CatalogSearcher is the candidate-retrieval stage contract.
type CatalogSearcher interface {
	SearchByIdentifier(ctx context.Context, calculationID, rxcui, fallbackName string) ([]model.CandidatePackage, error)
	SearchByName(ctx context.Context, calculationID, name string) ([]model.CandidatePackage, error)
}

// Selector is the package-selection stage contract.
type Selector interface {
	Select(required float64, candidates []model.CandidatePackage) (*model.PackageSelection, error)
}

// ReviewSubmitter enqueues manual-review requests.
type ReviewSubmitter interface {
	Submit(ctx context.Context, req model.ReviewRequest) bool
}

// Pipeline wires the five stages together.
type Pipeline struct {
	interpreter  Interpreter
	standardizer Standardizer
	catalog      CatalogSearcher
	validator    *validate.Validator
	selector     Selector
	review       ReviewSubmitter
	recorder     *audit.Recorder
	logger       *zap.Logger
}

// New assembles a Pipeline from its stages.
func New(
	interpreter Interpreter,
	standardizer Standardizer,
	catalog CatalogSearcher,
	validator *validate.Validator,
	selector Selector,
	review ReviewSubmitter,
	recorder *audit.Recorder,
) *Pipeline {
	return &Pipeline{
		interpreter:  interpreter,
		standardizer: standardizer,
		catalog:      catalog,
		validator:    validator,
		selector:     selector,
		review:       review,
		recorder:     recorder,
		logger:       zap.L().Named("pipeline"),
	}
}

// Run processes one raw prescription end to end. Interpretation failures
// and selection infeasibility surface as errors; a held prescription comes
// back as a pending_review result, not an error.
func (p *Pipeline) Run(ctx context.Context, rawText string) (*model.DispenseResult, error) {
	calculationID := uuid.NewString()
	logger := p.logger.With(zap.String("calculation_id", calculationID))

	parsed, err := p.interpreter.Interpret(ctx, calculationID, rawText)
	if err != nil {
		return nil, err
	}
	logger.Info("prescription interpreted",
		zap.String("drug_name", parsed.DrugName),
		zap.Float64("confidence", parsed.Confidence))

	result := &model.DispenseResult{
		CalculationID: calculationID,
		Prescription:  parsed,
	}

	// Standardization is best effort: absence degrades the catalog search
	// to name-based.
	identifier, err := p.standardizer.Standardize(ctx, calculationID,
		parsed.DrugName, formatStrength(parsed.Strength), parsed.DosageForm)
	if err != nil {
		logger.Warn("standardization errored, continuing", zap.Error(err))
	}
	result.Identifier = identifier

	candidates, err := p.retrieveCandidates(ctx, calculationID, parsed, identifier)
	if err != nil {
		logger.Warn("catalog retrieval failed", zap.Error(err))
	}
	result.Candidates = candidates

	outcome := p.validator.Validate(parsed)
	result.Validation = &outcome
	p.recorder.Record(ctx, calculationID, model.EventValidation, map[string]any{
		"confidence":             outcome.Confidence,
		"level":                  string(outcome.Level),
		"requires_manual_review": outcome.RequiresManualReview,
		"should_auto_approve":    outcome.ShouldAutoApprove,
		"errors":                 outcome.Errors,
	})

	if !outcome.ShouldAutoApprove {
		result.Status = model.DispensePendingReview
		result.Review = p.enqueueReview(ctx, calculationID, outcome)
		logger.Info("dispense held for review",
			zap.String("level", string(outcome.Level)),
			zap.Int("criticals", len(outcome.CriticalChecks())))
		return result, nil
	}

	selection, err := p.selector.Select(parsed.Quantity.Value, candidates)
	if err != nil {
		p.recorder.Record(ctx, calculationID, model.EventError, map[string]any{
			"stage": "package_selection",
			"error": err.Error(),
		})
		return nil, err
	}
	result.Selection = selection
	p.recorder.Record(ctx, calculationID, model.EventSelection, map[string]any{
		"confidence":       outcome.Confidence,
		"total_units":      selection.TotalUnits,
		"overfill_percent": selection.OverfillPercent,
		"package_count":    selection.PackageCount(),
		"cost_efficiency":  string(selection.CostEfficiency),
	})

	if len(outcome.Warnings) > 0 || len(outcome.WarningChecks()) > 0 {
		result.Status = model.DispenseWithWarnings
	} else {
		result.Status = model.DispenseApproved
	}
	logger.Info("dispense approved",
		zap.String("status", string(result.Status)),
		zap.Float64("total_units", selection.TotalUnits))
	return result, nil
}

// retrieveCandidates prefers identifier search and falls back to the drug
// name when no identifier resolved.
func (p *Pipeline) retrieveCandidates(ctx context.Context, calculationID string, parsed *model.ParsedPrescription, identifier *model.StandardizedIdentifier) ([]model.CandidatePackage, error) {
	if identifier != nil {
		return p.catalog.SearchByIdentifier(ctx, calculationID, identifier.RxCUI, parsed.DrugName)
	}
	return p.catalog.SearchByName(ctx, calculationID, parsed.DrugName)
}

func (p *Pipeline) enqueueReview(ctx context.Context, calculationID string, outcome model.ValidationOutcome) *model.ReviewRequest {
	req := model.ReviewRequest{
		CalculationID: calculationID,
		Priority:      p.validator.ReviewPriority(outcome),
		Notes:         reviewNotes(outcome),
	}
	if p.review != nil {
		p.review.Submit(ctx, req)
	}
	return &req
}

func reviewNotes(outcome model.ValidationOutcome) string {
	var notes []string
	notes = append(notes, outcome.Reasoning)
	for _, c := range outcome.CriticalChecks() {
		notes = append(notes, c.Message)
	}
	notes = append(notes, outcome.Errors...)
	return strings.Join(notes, "; ")
}

func formatStrength(s model.Strength) string {
	if s.Value <= 0 {
		return ""
	}
	return fmt.Sprintf("%g %s", s.Value, s.Unit)
}
