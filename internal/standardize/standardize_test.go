package standardize

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meadowrx/dispense-cli/internal/audit"
	"github.com/meadowrx/dispense-cli/internal/cache"
	"github.com/meadowrx/dispense-cli/internal/model"
	"github.com/meadowrx/dispense-cli/internal/store"
	"github.com/meadowrx/dispense-cli/pkg/rxnorm"
)

// mockRegistry serves canned approximate matches and properties.
type mockRegistry struct {
	candidates []rxnorm.Candidate
	props      map[string]*rxnorm.Properties
	matchErr   error
	propsErr   error
	matchCalls int
}

func (m *mockRegistry) ApproximateMatch(_ context.Context, _ string, _ int) ([]rxnorm.Candidate, error) {
	m.matchCalls++
	return m.candidates, m.matchErr
}

func (m *mockRegistry) GetProperties(_ context.Context, rxcui string) (*rxnorm.Properties, error) {
	if m.propsErr != nil {
		return nil, m.propsErr
	}
	return m.props[rxcui], nil
}

func newTestStandardizer(t *testing.T, reg rxnorm.Client) *Standardizer {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return New(reg, cache.NewTiered(nil, 64), audit.NewRecorder(s))
}

func TestStandardize_AcceptsFirstPrescribable(t *testing.T) {
	reg := &mockRegistry{
		candidates: []rxnorm.Candidate{
			{RxCUI: "723", Name: "amoxicillin", Score: 100, Rank: 1},
			{RxCUI: "308191", Name: "amoxicillin 500 MG Oral Capsule", Score: 90, Rank: 2},
		},
		props: map[string]*rxnorm.Properties{
			"723":    {RxCUI: "723", Name: "amoxicillin", TTY: "IN"},
			"308191": {RxCUI: "308191", Name: "amoxicillin 500 MG Oral Capsule", TTY: "SCD"},
		},
	}
	s := newTestStandardizer(t, reg)

	id, err := s.Standardize(context.Background(), "calc-1", "Amoxicillin", "500 mg", "capsule")
	require.NoError(t, err)
	require.NotNil(t, id)

	// The ingredient concept (IN) is skipped; the clinical drug (SCD) wins.
	assert.Equal(t, "308191", id.RxCUI)
	assert.Equal(t, "SCD", id.TermType)
	assert.True(t, id.Prescribable())
}

func TestStandardize_OrdersByScore(t *testing.T) {
	reg := &mockRegistry{
		candidates: []rxnorm.Candidate{
			{RxCUI: "1", Name: "weak match", Score: 40},
			{RxCUI: "2", Name: "strong match", Score: 95},
		},
		props: map[string]*rxnorm.Properties{
			"1": {RxCUI: "1", Name: "weak match", TTY: "SBD"},
			"2": {RxCUI: "2", Name: "strong match", TTY: "SCD"},
		},
	}
	s := newTestStandardizer(t, reg)

	id, err := s.Standardize(context.Background(), "calc-1", "lipitor", "", "")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "2", id.RxCUI)
}

func TestStandardize_NoPrescribableCandidate(t *testing.T) {
	reg := &mockRegistry{
		candidates: []rxnorm.Candidate{{RxCUI: "723", Score: 100}},
		props: map[string]*rxnorm.Properties{
			"723": {RxCUI: "723", Name: "amoxicillin", TTY: "IN"},
		},
	}
	s := newTestStandardizer(t, reg)

	id, err := s.Standardize(context.Background(), "calc-1", "amoxicillin", "", "")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestStandardize_RegistryErrorIsAbsent(t *testing.T) {
	reg := &mockRegistry{matchErr: eris.New("registry unavailable")}
	s := newTestStandardizer(t, reg)

	id, err := s.Standardize(context.Background(), "calc-1", "amoxicillin", "", "")
	require.NoError(t, err, "registry failures degrade to absent")
	assert.Nil(t, id)
}

func TestStandardize_CacheHitSkipsRegistry(t *testing.T) {
	reg := &mockRegistry{
		candidates: []rxnorm.Candidate{{RxCUI: "308191", Score: 100}},
		props: map[string]*rxnorm.Properties{
			"308191": {RxCUI: "308191", Name: "amoxicillin 500 MG Oral Capsule", TTY: "SCD"},
		},
	}
	s := newTestStandardizer(t, reg)
	ctx := context.Background()

	first, err := s.Standardize(ctx, "calc-1", "amoxicillin", "500 mg", "capsule")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.Standardize(ctx, "calc-2", "amoxicillin", "500 mg", "capsule")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.RxCUI, second.RxCUI)
	assert.Equal(t, 1, reg.matchCalls)
}

func TestStandardize_EmptyName(t *testing.T) {
	s := newTestStandardizer(t, &mockRegistry{})
	id, err := s.Standardize(context.Background(), "calc-1", "  ", "", "")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestFoldTerm(t *testing.T) {
	assert.Equal(t, "cafe", foldTerm("Café"))
	assert.Equal(t, "tylenol", foldTerm("  TYLENOL "))
	assert.Equal(t, "hydroxychloroquine", foldTerm("hydroxychloroquine"))
}

func TestPrescribableTermTypes(t *testing.T) {
	for tty, want := range map[string]bool{
		"SCD": true, "SBD": true, "GPCK": true, "BPCK": true,
		"IN": false, "BN": false, "DF": false, "": false,
	} {
		id := model.StandardizedIdentifier{TermType: tty}
		assert.Equal(t, want, id.Prescribable(), "tty %q", tty)
	}
}
