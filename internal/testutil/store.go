package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tigerroll/taxiemissions/internal/adapter/store"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
)

// EmissionFactorsCSV is a reference file with both taxi vehicle types at 404 g/mile.
const EmissionFactorsCSV = `vehicle_type,fuel_type,co2_grams_per_mile
yellow_taxi,gasoline,404
green_taxi,gasoline,404
hybrid_sedan,hybrid,244
`

// OpenStore opens an in-memory DuckDB store that is closed when the test ends.
func OpenStore(t *testing.T) *store.SQLStore {
	t.Helper()
	st, err := store.OpenDuckDB(context.Background(), "", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// Exec runs statements against st, failing the test on the first error.
func Exec(t *testing.T, st store.Store, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		_, err := st.Exec(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// NewStepExecution returns a started step of a fresh job.
func NewStepExecution(stepName string) *model.StepExecution {
	se := model.NewStepExecution(model.NewJobExecution("testJob", []string{stepName}), stepName)
	se.MarkAsStarted()
	return se
}
