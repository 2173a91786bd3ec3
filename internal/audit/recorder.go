// Package audit durably records every pipeline stage outcome. Recording
// never fails the caller: a broken audit store degrades to a logged failure
// result and the dispense proceeds.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meadowrx/dispense-cli/internal/model"
	"github.com/meadowrx/dispense-cli/internal/resilience"
	"github.com/meadowrx/dispense-cli/internal/store"
)

// Result reports the outcome of a Record call.
type Result struct {
	Success  bool
	RecordID string
	Err      error
}

// Recorder persists audit records with retry on transient store failures.
type Recorder struct {
	store  store.Store
	logger *zap.Logger

	retryCfg resilience.RetryConfig
}

// NewRecorder creates a Recorder over the given store. Persistence retries
// up to 3 times after the initial attempt, with linearly increasing backoff.
func NewRecorder(s store.Store) *Recorder {
	cfg := resilience.RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Strategy:    resilience.StrategyLinear,
		ShouldRetry: resilience.IsTransient,
		Sleep:       resilience.RealSleep,
	}
	return &Recorder{
		store:    s,
		logger:   zap.L().Named("audit"),
		retryCfg: cfg,
	}
}

// WithSleep overrides the retry sleep function. Tests use this to observe
// backoff without waiting.
func (r *Recorder) WithSleep(sleep resilience.SleepFunc) *Recorder {
	r.retryCfg.Sleep = sleep
	return r
}

// Record persists one audit event. The payload is round-tripped through
// JSON so non-serializable values are dropped rather than poisoning the
// record. Never returns an error: failures come back in the Result and are
// logged, and the caller proceeds regardless.
func (r *Recorder) Record(ctx context.Context, calculationID string, eventType model.EventType, payload map[string]any) Result {
	rec := model.AuditRecord{
		ID:            uuid.NewString(),
		CalculationID: calculationID,
		EventType:     eventType,
		Status:        inferStatus(eventType, payload),
		Payload:       sanitizePayload(payload),
		CreatedAt:     time.Now().UTC(),
	}

	err := resilience.Do(ctx, r.retryCfg, func(ctx context.Context) error {
		return r.store.CreateAudit(ctx, rec)
	})
	if err != nil {
		r.logger.Error("audit record dropped",
			zap.String("calculation_id", calculationID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
		return Result{Success: false, Err: err}
	}
	return Result{Success: true, RecordID: rec.ID}
}

// UpdateStatus changes the disposition of an existing record, e.g. when a
// reviewer resolves a pending dispense.
func (r *Recorder) UpdateStatus(ctx context.Context, recordID string, status model.AuditStatus) error {
	return resilience.Do(ctx, r.retryCfg, func(ctx context.Context) error {
		return r.store.UpdateAuditStatus(ctx, recordID, status)
	})
}

// List returns stored records matching the filter.
func (r *Recorder) List(ctx context.Context, filter model.AuditFilter) ([]model.AuditRecord, error) {
	return r.store.ListAudits(ctx, filter)
}

// Get returns a single record by id.
func (r *Recorder) Get(ctx context.Context, recordID string) (*model.AuditRecord, error) {
	return r.store.GetAudit(ctx, recordID)
}

// inferStatus derives the record disposition from the event itself. Error
// events are rejections, low-confidence events wait for review, and the
// terminal selection and export events are approvals.
func inferStatus(eventType model.EventType, payload map[string]any) model.AuditStatus {
	if eventType == model.EventError {
		return model.AuditStatusRejected
	}
	if conf, ok := payloadConfidence(payload); ok && conf < 0.8 {
		return model.AuditStatusPending
	}
	switch eventType {
	case model.EventSelection, model.EventExport:
		return model.AuditStatusApproved
	default:
		return model.AuditStatusPending
	}
}

func payloadConfidence(payload map[string]any) (float64, bool) {
	raw, ok := payload["confidence"]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// sanitizePayload round-trips the payload through JSON, dropping fields
// that cannot be serialized.
func sanitizePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}

	clean := make(map[string]any, len(payload))
	for k, v := range payload {
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		var back any
		if err := json.Unmarshal(raw, &back); err != nil {
			continue
		}
		clean[k] = back
	}
	return clean
}
