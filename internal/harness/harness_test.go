package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/dialect"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/store"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestScenarioExpectations(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			require.NoError(t, Verify(scenario, result))

			for _, d := range scenario.dialects() {
				assert.NotEmpty(t, result.SQL[d])
			}
		})
	}
}

func TestGoldenSQL(t *testing.T) {
	for _, name := range []string{"patient-birthdate", "name-count"} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, loadTestScenario(t, name)))
		})
	}
}

func TestRunCompilesAllDialectsByDefault(t *testing.T) {
	scenario := loadTestScenario(t, "patient-birthdate")
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.Len(t, result.SQL, len(dialect.Names()))
}

func TestVerifyMismatches(t *testing.T) {
	v := "x"
	scenario := &Scenario{Expect: []ExpectRow{{ID: "p1", Value: &v}}}

	err := Verify(scenario, &Result{Rows: []store.Row{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1 row(s), got 0")

	err = Verify(scenario, &Result{Rows: []store.Row{{ID: "p2", Value: &v}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `expected id "p1"`)

	err = Verify(scenario, &Result{Rows: []store.Row{{ID: "p1"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected value")

	other := "y"
	err = Verify(scenario, &Result{Rows: []store.Row{{ID: "p1", Value: &other}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `got "y"`)

	require.NoError(t, Verify(scenario, &Result{Rows: []store.Row{{ID: "p1", Value: &v}}}))
}

func TestVerifyWithoutExpectationsPasses(t *testing.T) {
	require.NoError(t, Verify(&Scenario{}, &Result{Rows: []store.Row{{ID: "p1"}}}))
}
