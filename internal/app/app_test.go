package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/taxiemissions/internal/config"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/testutil"
)

// testConfig points every file the pipeline touches at a temporary directory and
// writes two months of trips per color.
func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	trips := filepath.Join(dir, "trips")
	require.NoError(t, os.MkdirAll(trips, 0o755))

	start, end := model.Period{Year: 2015, Month: time.January}, model.Period{Year: 2015, Month: time.February}
	for _, color := range model.Colors() {
		for _, p := range model.PeriodRange(start, end) {
			pickup := time.Date(p.Year, p.Month, 6, 8, 0, 0, 0, time.UTC)
			testutil.WriteTripFile(t, trips, color, p, []testutil.Trip{
				{Vendor: 1, Pickup: pickup, Dropoff: pickup.Add(15 * time.Minute), PassengerCount: 1, Distance: 3},
				{Vendor: 2, Pickup: pickup.Add(9 * time.Hour), Dropoff: pickup.Add(10 * time.Hour), PassengerCount: 2, Distance: 10},
				{Vendor: 2, Pickup: pickup, Dropoff: pickup.Add(time.Minute), PassengerCount: 0, Distance: 1},
			})
		}
	}

	cfg := config.NewConfig()
	e := &cfg.Emissions
	e.System.Logging.Dir = filepath.Join(dir, "logs")
	e.Store.Path = filepath.Join(dir, "emissions.duckdb")
	e.Source.URLTemplate = filepath.Join(trips, "{color}_tripdata_{year}-{month}.parquet")
	e.Source.Start, e.Source.End = start.String(), end.String()
	e.Source.PacingDelay = 0
	e.Source.CacheDir = filepath.Join(dir, "cache")
	e.Reference.EmissionFactorsPath = testutil.WriteFile(t, dir, "vehicle_emissions.csv", testutil.EmissionFactorsCSV)
	e.Analysis.ChartPath = filepath.Join(dir, "out", "monthly_co2_totals.png")
	e.Analysis.ExportPath = filepath.Join(dir, "out", "analysis.parquet")
	e.Metadata.Database = map[string]interface{}{
		"type":     "sqlite",
		"database": filepath.Join(dir, "emissions_meta.db"),
	}
	return cfg
}

func execute(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	var out bytes.Buffer
	root := NewRootCommand(cfg)
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_FullPipeline(t *testing.T) {
	cfg := testConfig(t)

	_, err := execute(t, cfg, "run")
	require.NoError(t, err)

	for _, p := range []string{cfg.Emissions.Analysis.ChartPath, cfg.Emissions.Analysis.ExportPath} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
	for _, name := range []string{"load.log", "clean.log", "transform.log", "analysis.log"} {
		_, err := os.Stat(filepath.Join(cfg.Emissions.System.Logging.Dir, name))
		assert.NoError(t, err, name)
	}

	out, err := execute(t, cfg, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "load,clean,transform,analyze")
	assert.Contains(t, out, "COMPLETED")
	for _, stage := range []string{"load", "clean", "transform", "analyze"} {
		assert.Contains(t, out, "  "+stage)
	}
}

func TestStageCommand_FailedJobIsNotAnError(t *testing.T) {
	cfg := testConfig(t)

	_, err := execute(t, cfg, "clean")
	require.NoError(t, err, "a failed job still exits normally")

	out, err := execute(t, cfg, "history", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "run load first")
}

func TestStageCommand_RerunSkipsLoadedTables(t *testing.T) {
	cfg := testConfig(t)

	_, err := execute(t, cfg, "load")
	require.NoError(t, err)
	_, err = execute(t, cfg, "load")
	require.NoError(t, err)

	out, err := execute(t, cfg, "history", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "NOOP")
}

func TestHistory_RejectsNonPositiveLimit(t *testing.T) {
	_, err := execute(t, testConfig(t), "history", "--limit", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--limit must be positive")
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printHistory(&out, nil))
	assert.Equal(t, "No job executions recorded.\n", out.String())

	je := model.NewJobExecution("taxiEmissionsJob", []string{"load", "clean"})
	je.MarkAsStarted()
	se := model.NewStepExecution(je, "load")
	se.MarkAsStarted()
	se.WriteCount = 13
	se.MarkAsCompleted()
	je.MarkAsFailed(assert.AnError)

	out.Reset()
	require.NoError(t, printHistory(&out, []*model.JobExecution{je}))
	text := out.String()
	assert.Contains(t, text, je.ID)
	assert.Contains(t, text, "load,clean")
	assert.Contains(t, text, "13 rows")
	assert.Contains(t, text, "!")
	assert.Contains(t, text, assert.AnError.Error())
}
