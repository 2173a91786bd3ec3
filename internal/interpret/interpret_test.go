package interpret

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meadowrx/dispense-cli/internal/audit"
	"github.com/meadowrx/dispense-cli/internal/cache"
	"github.com/meadowrx/dispense-cli/internal/model"
	"github.com/meadowrx/dispense-cli/internal/store"
	"github.com/meadowrx/dispense-cli/pkg/anthropic"
)

// mockOracle returns canned responses and counts calls.
type mockOracle struct {
	response string
	err      error
	calls    int
}

func (m *mockOracle) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: m.response}},
	}, nil
}

const goodParse = `{
	"drug_name": "amoxicillin",
	"original_drug_name": "amoxicilin",
	"strength": {"value": 500, "unit": "mg"},
	"dosage_form": "capsule",
	"sig": "take 1 capsule by mouth three times daily",
	"quantity": {"value": 30, "unit": "capsule"},
	"days_supply": 10,
	"confidence": 0.95,
	"corrections": [{"field": "drug_name", "original": "amoxicilin", "corrected": "amoxicillin"}],
	"warnings": []
}`

func newTestInterpreter(t *testing.T, oracle anthropic.Client) *Interpreter {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	return New(oracle, cache.NewTiered(nil, 64), audit.NewRecorder(s), "")
}

func TestInterpret_Success(t *testing.T) {
	oracle := &mockOracle{response: goodParse}
	i := newTestInterpreter(t, oracle)

	parsed, err := i.Interpret(context.Background(), "calc-1", "amoxicilin 500mg caps, 1 cap TID x10d, disp #30")
	require.NoError(t, err)

	assert.Equal(t, "amoxicillin", parsed.DrugName)
	assert.Equal(t, "amoxicilin", parsed.OriginalDrugName)
	assert.Equal(t, 500.0, parsed.Strength.Value)
	assert.Equal(t, "mg", parsed.Strength.Unit)
	assert.Equal(t, 30.0, parsed.Quantity.Value)
	require.NotNil(t, parsed.DaysSupply)
	assert.Equal(t, 10, *parsed.DaysSupply)
	assert.Equal(t, 0.95, parsed.Confidence)
	require.Len(t, parsed.Corrections, 1)
	assert.Equal(t, "drug_name", parsed.Corrections[0].Field)
}

func TestInterpret_MarkdownFencedResponse(t *testing.T) {
	oracle := &mockOracle{response: "```json\n" + goodParse + "\n```"}
	i := newTestInterpreter(t, oracle)

	parsed, err := i.Interpret(context.Background(), "calc-1", "amoxicillin 500mg #30")
	require.NoError(t, err)
	assert.Equal(t, "amoxicillin", parsed.DrugName)
}

func TestInterpret_CacheHit(t *testing.T) {
	oracle := &mockOracle{response: goodParse}
	i := newTestInterpreter(t, oracle)
	ctx := context.Background()

	first, err := i.Interpret(ctx, "calc-1", "amoxicillin 500mg #30")
	require.NoError(t, err)

	second, err := i.Interpret(ctx, "calc-2", "amoxicillin 500mg #30")
	require.NoError(t, err)

	assert.Equal(t, 1, oracle.calls, "second call should be served from cache")
	assert.Equal(t, first.DrugName, second.DrugName)
	assert.Equal(t, int64(0), second.ProcessingTimeMS)
}

func TestInterpret_Refusal(t *testing.T) {
	oracle := &mockOracle{response: `{"refusal": "not a prescription"}`}
	i := newTestInterpreter(t, oracle)

	_, err := i.Interpret(context.Background(), "calc-1", "hello world")
	require.Error(t, err)

	var ierr *InterpretationError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Reason, "refused")
}

func TestInterpret_MalformedPayload(t *testing.T) {
	oracle := &mockOracle{response: "I think this is amoxicillin but I am not sure"}
	i := newTestInterpreter(t, oracle)

	_, err := i.Interpret(context.Background(), "calc-1", "amoxicillin 500mg #30")
	var ierr *InterpretationError
	require.ErrorAs(t, err, &ierr)
}

func TestInterpret_SchemaValidation(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantMsg  string
	}{
		{"missing drug name", `{"drug_name": "", "quantity": {"value": 30}, "confidence": 0.9}`, "drug name"},
		{"zero quantity", `{"drug_name": "amoxicillin", "quantity": {"value": 0}, "confidence": 0.9}`, "quantity"},
		{"confidence above one", `{"drug_name": "amoxicillin", "quantity": {"value": 30}, "confidence": 1.5}`, "confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := newTestInterpreter(t, &mockOracle{response: tt.response})
			_, err := i.Interpret(context.Background(), "calc-1", "some order text "+tt.name)
			var ierr *InterpretationError
			require.ErrorAs(t, err, &ierr)
			assert.Contains(t, ierr.Reason, tt.wantMsg)
		})
	}
}

func TestInterpret_OracleError(t *testing.T) {
	oracle := &mockOracle{err: eris.New("api unavailable")}
	i := newTestInterpreter(t, oracle)

	_, err := i.Interpret(context.Background(), "calc-1", "amoxicillin 500mg #30")
	require.Error(t, err)

	var ierr *InterpretationError
	assert.False(t, errors.As(err, &ierr), "transport errors are not interpretation errors")
}

func TestInterpret_EmptyText(t *testing.T) {
	i := newTestInterpreter(t, &mockOracle{response: goodParse})

	_, err := i.Interpret(context.Background(), "calc-1", "   ")
	var ierr *InterpretationError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Reason, "empty")
}

func TestInterpret_AuditsEveryCall(t *testing.T) {
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	i := New(&mockOracle{response: goodParse}, cache.NewTiered(nil, 64), audit.NewRecorder(s), "")
	ctx := context.Background()

	_, err = i.Interpret(ctx, "calc-1", "amoxicillin 500mg #30")
	require.NoError(t, err)
	_, err = i.Interpret(ctx, "calc-1", "amoxicillin 500mg #30")
	require.NoError(t, err)

	records, err := s.ListAudits(ctx, model.AuditFilter{
		CalculationID: "calc-1",
		EventType:     model.EventInterpretation,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
}
