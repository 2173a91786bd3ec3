package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meadowrx/dispense-cli/internal/config"
)

func TestParseSizes(t *testing.T) {
	sizes, err := parseSizes("30, 60,100")
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 60, 100}, sizes)
}

func TestParseSizes_SkipsEmptyParts(t *testing.T) {
	sizes, err := parseSizes("30,,60,")
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 60}, sizes)
}

func TestParseSizes_Invalid(t *testing.T) {
	cases := []string{"", "abc", "30,-5", "0"}
	for _, in := range cases {
		_, err := parseSizes(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestSyntheticCandidates(t *testing.T) {
	candidates, err := syntheticCandidates("30,100", "capsule")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, 30.0, candidates[0].Quantity)
	assert.Equal(t, "capsule", candidates[0].Unit)
	assert.True(t, candidates[0].Active)
	assert.Equal(t, "100 capsule", candidates[1].Description)
}

const selectProductFixture = `{
	"results": [{
		"product_ndc": "0093-4155",
		"generic_name": "amoxicillin",
		"labeler_name": "Teva Pharmaceuticals USA",
		"dosage_form": "CAPSULE",
		"route": ["ORAL"],
		"active_ingredients": [{"name": "AMOXICILLIN", "strength": "500 mg/1"}],
		"packaging": [
			{"package_ndc": "0093-4155-73", "description": "100 CAPSULE in 1 BOTTLE", "sample": false},
			{"package_ndc": "0093-4155-05", "description": "500 CAPSULE in 1 BOTTLE", "sample": false}
		],
		"finished": true
	}]
}`

// withTestConfig swaps the package config for a sqlite-backed one pointed at
// the given NDC directory URL, restoring the original after the test.
func withTestConfig(t *testing.T, ndcBaseURL string) {
	t.Helper()
	orig := cfg
	cfg = &config.Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.NDC.BaseURL = ndcBaseURL
	cfg.Cache.MaxItems = 16
	t.Cleanup(func() { cfg = orig })
}

func TestFetchCandidatesByNDC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("search"), `packaging.package_ndc:"0093-4155-73"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, selectProductFixture)
	}))
	defer srv.Close()

	withTestConfig(t, srv.URL)

	candidates, err := fetchCandidatesByNDC(context.Background(), []string{"0093-4155-73"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "0093-4155-73", candidates[0].PackageNDC)
	assert.Equal(t, 100.0, candidates[0].Quantity)
	assert.Equal(t, "CAPSULE", candidates[0].Unit)
	assert.Equal(t, "amoxicillin", candidates[0].GenericName)
}

func TestFetchCandidatesByNDC_UnlistedPackage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error": {"code": "NOT_FOUND", "message": "No matches found!"}}`)
	}))
	defer srv.Close()

	withTestConfig(t, srv.URL)

	_, err := fetchCandidatesByNDC(context.Background(), []string{"9999-9999-99"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not listed")
}
