package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meadowrx/dispense-cli/internal/model"
	"github.com/meadowrx/dispense-cli/internal/store"
)

type stubRunner struct {
	result *model.DispenseResult
	err    error
}

func (s *stubRunner) Run(context.Context, string) (*model.DispenseResult, error) {
	return s.result, s.err
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRouter_Health(t *testing.T) {
	router := newRouter(&stubRunner{}, newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_Dispense(t *testing.T) {
	runner := &stubRunner{result: &model.DispenseResult{
		CalculationID: "calc-1",
		Status:        model.DispenseApproved,
	}}
	router := newRouter(runner, newTestStore(t))

	payload, _ := json.Marshal(map[string]string{"text": "amoxicillin 500mg caps #30"})
	req := httptest.NewRequest(http.MethodPost, "/v1/dispense", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp model.DispenseResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "calc-1", resp.CalculationID)
	assert.Equal(t, model.DispenseApproved, resp.Status)
}

func TestRouter_Dispense_MissingText(t *testing.T) {
	router := newRouter(&stubRunner{}, newTestStore(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/dispense", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_Dispense_PipelineError(t *testing.T) {
	router := newRouter(&stubRunner{err: eris.New("no compatible packages")}, newTestStore(t))

	payload, _ := json.Marshal(map[string]string{"text": "unknown drug"})
	req := httptest.NewRequest(http.MethodPost, "/v1/dispense", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestRouter_Audits(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateAudit(ctx, model.AuditRecord{
		ID:            "a1",
		CalculationID: "calc-1",
		EventType:     model.EventValidation,
		Status:        model.AuditStatusApproved,
	}))

	router := newRouter(&stubRunner{}, st)

	req := httptest.NewRequest(http.MethodGet, "/v1/audits?calculation_id=calc-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var records []model.AuditRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "a1", records[0].ID)
}

func TestRouter_Audits_InvalidLimit(t *testing.T) {
	router := newRouter(&stubRunner{}, newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/audits?limit=banana", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_Audits_EmptyListIsArray(t *testing.T) {
	router := newRouter(&stubRunner{}, newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/audits", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())
}
