package loader_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/taxiemissions/internal/adapter/source"
	"github.com/tigerroll/taxiemissions/internal/config"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/metrics"
	"github.com/tigerroll/taxiemissions/internal/step/loader"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/testutil"
)

var periods = []model.Period{
	{Year: 2015, Month: time.January},
	{Year: 2015, Month: time.February},
}

// countingFetcher wraps a fetcher and can fail on a given call.
type countingFetcher struct {
	next   source.Fetcher
	calls  int
	failOn int
}

func (f *countingFetcher) Fetch(ctx context.Context, color model.Color, period model.Period) (*source.Download, error) {
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return nil, exception.NewBatchErrorf("source", exception.KindIO, "failed to fetch %s", period, errors.New("connection reset"))
	}
	return f.next.Fetch(ctx, color, period)
}

// fixtureDir writes two months per color with 2 and 3 trips.
func fixtureDir(t *testing.T) string {
	dir := t.TempDir()
	for _, color := range model.Colors() {
		for i, p := range periods {
			pickup := time.Date(p.Year, p.Month, 5, 9, 0, 0, 0, time.UTC)
			trips := []testutil.Trip{
				{Vendor: 1, Pickup: pickup, Dropoff: pickup.Add(10 * time.Minute), PassengerCount: 1, Distance: 2},
				{Vendor: 2, Pickup: pickup.Add(time.Hour), Dropoff: pickup.Add(90 * time.Minute), PassengerCount: 2, Distance: 4},
			}
			if i == 1 {
				trips = append(trips, testutil.Trip{Vendor: 1, Pickup: pickup, Dropoff: pickup.Add(time.Hour), PassengerCount: 1, Distance: 12})
			}
			testutil.WriteTripFile(t, dir, color, p, trips)
		}
	}
	return dir
}

func newFetcher(t *testing.T, dir string) *countingFetcher {
	cfg := config.NewConfig()
	cfg.Emissions.Source.URLTemplate = filepath.Join(dir, "{color}_tripdata_{year}-{month}.parquet")
	cfg.Emissions.Source.CacheDir = t.TempDir()
	return &countingFetcher{next: source.NewTemplateFetcher(cfg)}
}

func newTasklet(t *testing.T, fetcher source.Fetcher) *loader.Tasklet {
	factors := testutil.WriteFile(t, t.TempDir(), "vehicle_emissions.csv", testutil.EmissionFactorsCSV)
	return loader.NewTasklet(fetcher, periods, factors, false, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())
}

func TestLoader_CreatesRawTablesAndFactors(t *testing.T) {
	ctx := context.Background()
	st := testutil.OpenStore(t)
	fetcher := newFetcher(t, fixtureDir(t))
	se := testutil.NewStepExecution("load")

	exit, err := newTasklet(t, fetcher).Execute(ctx, st, se)
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusCompleted, exit)
	assert.Equal(t, 4, fetcher.calls)

	for _, color := range model.Colors() {
		n, err := st.Count(ctx, color.RawTable())
		require.NoError(t, err)
		assert.Equal(t, int64(5), n, color.String())
	}
	n, err := st.Count(ctx, "vehicle_emissions")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	v, ok := se.ExecutionContext.Get(loader.ReportKey)
	require.True(t, ok)
	report := v.(model.LoadReport)
	require.Len(t, report.Tables, 2)
	yellow := report.Tables[0]
	assert.Equal(t, "yellow_taxi_all_years", yellow.Table)
	assert.True(t, yellow.Created)
	assert.Equal(t, 2, yellow.PeriodsLoaded)
	assert.Equal(t, int64(5), yellow.Rows)
	require.NotNil(t, yellow.Stats.Avg)
	assert.InDelta(t, 4.8, *yellow.Stats.Avg, 1e-9)
	require.NotNil(t, yellow.Stats.Median)
	assert.InDelta(t, 4.0, *yellow.Stats.Median, 1e-9)
	assert.Equal(t, int64(3), report.EmissionFactorRows)
	assert.Equal(t, int64(13), se.WriteCount)
}

func TestLoader_ExistingTableIsNotFetched(t *testing.T) {
	ctx := context.Background()
	st := testutil.OpenStore(t)
	fetcher := newFetcher(t, fixtureDir(t))
	tasklet := newTasklet(t, fetcher)

	_, err := tasklet.Execute(ctx, st, testutil.NewStepExecution("load"))
	require.NoError(t, err)
	fetcher.calls = 0

	se := testutil.NewStepExecution("load")
	exit, err := tasklet.Execute(ctx, st, se)
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusNoOp, exit)
	assert.Zero(t, fetcher.calls, "an existing raw table is never fetched again")

	v, _ := se.ExecutionContext.Get(loader.ReportKey)
	report := v.(model.LoadReport)
	for _, summary := range report.Tables {
		assert.False(t, summary.Created)
		assert.Zero(t, summary.PeriodsLoaded)
		assert.Equal(t, int64(5), summary.Rows, "row count is still reported")
		assert.NotNil(t, summary.Stats.StdDev)
	}

	n, err := st.Count(ctx, "vehicle_emissions")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "the factor table is replaced, not appended")
}

func TestLoader_FetchErrorLeavesPartialTable(t *testing.T) {
	ctx := context.Background()
	st := testutil.OpenStore(t)
	fetcher := newFetcher(t, fixtureDir(t))
	fetcher.failOn = 2

	_, err := newTasklet(t, fetcher).Execute(ctx, st, testutil.NewStepExecution("load"))
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindIO))

	n, err := st.Count(ctx, model.Yellow.RawTable())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "the first period stays loaded")

	exists, err := st.TableExists(ctx, model.Green.RawTable())
	require.NoError(t, err)
	assert.False(t, exists, "the load stops at the first error")
}

func TestLoader_MissingEmissionFactorFile(t *testing.T) {
	st := testutil.OpenStore(t)
	tasklet := loader.NewTasklet(newFetcher(t, fixtureDir(t)), periods, filepath.Join(t.TempDir(), "missing.csv"), false,
		metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())

	_, err := tasklet.Execute(context.Background(), st, testutil.NewStepExecution("load"))
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindIO))
}

func TestLoader_NoPeriods(t *testing.T) {
	st := testutil.OpenStore(t)
	tasklet := loader.NewTasklet(newFetcher(t, t.TempDir()), nil, "unused.csv", false,
		metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())

	_, err := tasklet.Execute(context.Background(), st, testutil.NewStepExecution("load"))
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConfig))
}
