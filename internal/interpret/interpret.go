// Package interpret turns free-text prescription orders into structured
// parse records using the Anthropic API as the interpretation oracle.
package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meadowrx/dispense-cli/internal/audit"
	"github.com/meadowrx/dispense-cli/internal/cache"
	"github.com/meadowrx/dispense-cli/internal/model"
	"github.com/meadowrx/dispense-cli/pkg/anthropic"
)

const (
	defaultModel   = "claude-haiku-4-5-20251001"
	requestTimeout = 30 * time.Second
	maxTokens      = 1024
)

// InterpretationError indicates the oracle refused the order or returned a
// payload that does not satisfy the parse schema. It is a hard failure:
// the pipeline cannot proceed without a structured parse.
type InterpretationError struct {
	Reason string
}

func (e *InterpretationError) Error() string {
	return "interpret: " + e.Reason
}

const systemPrompt = `You are a pharmacy technician parsing prescription orders. Given the raw text of a prescription, extract its structured fields. Correct obvious drug name misspellings and record each correction. Return ONLY a valid JSON object:
{
  "drug_name": "<corrected drug name>",
  "original_drug_name": "<drug name as written>",
  "strength": {"value": <number>, "unit": "<mg|mcg|g|ml|l|iu|unit|%>"},
  "dosage_form": "<tablet|capsule|solution|suspension|cream|ointment|inhaler|...>",
  "sig": "<administration instructions>",
  "quantity": {"value": <number>, "unit": "<tablet|capsule|ml|g|...>"},
  "days_supply": <integer or null>,
  "confidence": <0.0-1.0>,
  "corrections": [{"field": "<field>", "original": "<text>", "corrected": "<text>"}],
  "warnings": ["<anything ambiguous or unusual>"]
}
If the text is not a prescription or cannot be parsed, return {"refusal": "<reason>"}.`

// Interpreter is the interpretation stage.
type Interpreter struct {
	client   anthropic.Client
	cache    cache.Cache
	recorder *audit.Recorder
	model    string
	logger   *zap.Logger
}

// New creates an Interpreter. An empty modelID selects the default model.
func New(client anthropic.Client, c cache.Cache, recorder *audit.Recorder, modelID string) *Interpreter {
	if modelID == "" {
		modelID = defaultModel
	}
	return &Interpreter{
		client:   client,
		cache:    c,
		recorder: recorder,
		model:    modelID,
		logger:   zap.L().Named("interpret"),
	}
}

// oracleParse is the JSON shape the oracle returns.
type oracleParse struct {
	Refusal          string             `json:"refusal"`
	DrugName         string             `json:"drug_name"`
	OriginalDrugName string             `json:"original_drug_name"`
	Strength         model.Strength     `json:"strength"`
	DosageForm       string             `json:"dosage_form"`
	Sig              string             `json:"sig"`
	Quantity         model.Quantity     `json:"quantity"`
	DaysSupply       *int               `json:"days_supply"`
	Confidence       float64            `json:"confidence"`
	Corrections      []model.Correction `json:"corrections"`
	Warnings         []string           `json:"warnings"`
}

// Interpret parses a raw prescription. Cached parses are returned with zero
// processing time. Every call, hit or miss, is audited with the elapsed time
// and resulting confidence.
func (i *Interpreter) Interpret(ctx context.Context, calculationID, rawText string) (*model.ParsedPrescription, error) {
	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		return nil, &InterpretationError{Reason: "empty prescription text"}
	}

	key := cache.InterpretationKey(rawText)
	if data, ok := i.cache.Get(ctx, key); ok {
		var parsed model.ParsedPrescription
		if err := json.Unmarshal(data, &parsed); err == nil {
			parsed.ProcessingTimeMS = 0
			i.record(ctx, calculationID, &parsed, true)
			return &parsed, nil
		}
		i.logger.Warn("discarding corrupt cached parse", zap.String("key", key))
		i.cache.Delete(ctx, key)
	}

	start := time.Now()
	parsed, err := i.callOracle(ctx, rawText)
	if err != nil {
		i.recorder.Record(ctx, calculationID, model.EventError, map[string]any{
			"stage": "interpretation",
			"error": err.Error(),
		})
		return nil, err
	}
	parsed.ProcessingTimeMS = time.Since(start).Milliseconds()

	if data, err := json.Marshal(parsed); err == nil {
		i.cache.Set(ctx, key, data, cache.TTLInterpretation)
	}

	i.record(ctx, calculationID, parsed, false)
	return parsed, nil
}

func (i *Interpreter) callOracle(ctx context.Context, rawText string) (*model.ParsedPrescription, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := i.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     i.model,
		MaxTokens: maxTokens,
		System:    []anthropic.SystemBlock{{Text: systemPrompt}},
		Messages: []anthropic.Message{
			{Role: "user", Content: "Prescription text:\n" + rawText},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "interpret: oracle call")
	}
	resp.Usage.LogCost(i.model, "interpretation")

	var raw oracleParse
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &raw); err != nil {
		return nil, &InterpretationError{Reason: fmt.Sprintf("malformed oracle payload: %v", err)}
	}
	if raw.Refusal != "" {
		return nil, &InterpretationError{Reason: "oracle refused: " + raw.Refusal}
	}
	if err := validateParse(raw); err != nil {
		return nil, err
	}

	if raw.OriginalDrugName == "" {
		raw.OriginalDrugName = raw.DrugName
	}
	return &model.ParsedPrescription{
		DrugName:         raw.DrugName,
		OriginalDrugName: raw.OriginalDrugName,
		Strength:         raw.Strength,
		DosageForm:       raw.DosageForm,
		Sig:              raw.Sig,
		Quantity:         raw.Quantity,
		DaysSupply:       raw.DaysSupply,
		Confidence:       raw.Confidence,
		Corrections:      raw.Corrections,
		Warnings:         raw.Warnings,
	}, nil
}

func validateParse(raw oracleParse) error {
	if strings.TrimSpace(raw.DrugName) == "" {
		return &InterpretationError{Reason: "incomplete parse: missing drug name"}
	}
	if raw.Quantity.Value <= 0 {
		return &InterpretationError{Reason: fmt.Sprintf("incomplete parse: quantity %v is not positive", raw.Quantity.Value)}
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return &InterpretationError{Reason: fmt.Sprintf("incomplete parse: confidence %v outside [0,1]", raw.Confidence)}
	}
	return nil
}

func (i *Interpreter) record(ctx context.Context, calculationID string, parsed *model.ParsedPrescription, cached bool) {
	i.recorder.Record(ctx, calculationID, model.EventInterpretation, map[string]any{
		"drug_name":          parsed.DrugName,
		"confidence":         parsed.Confidence,
		"processing_time_ms": parsed.ProcessingTimeMS,
		"cached":             cached,
	})
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
