package transformer_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/taxiemissions/internal/adapter/store"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/metrics"
	"github.com/tigerroll/taxiemissions/internal/step/transformer"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/testutil"
)

func seedClean(t *testing.T, st store.Store, color model.Color, values string) {
	t.Helper()
	testutil.Exec(t, st,
		fmt.Sprintf(`CREATE TABLE %s (VendorID INTEGER, %s TIMESTAMP, %s TIMESTAMP, passenger_count BIGINT, trip_distance DOUBLE)`,
			color.CleanTable(), color.PickupColumn(), color.DropoffColumn()),
		"INSERT INTO "+color.CleanTable()+" VALUES "+values,
	)
}

func seedFactors(t *testing.T, st store.Store, rows string) {
	t.Helper()
	testutil.Exec(t, st,
		"CREATE TABLE vehicle_emissions (vehicle_type VARCHAR, fuel_type VARCHAR, co2_grams_per_mile DOUBLE)",
		"INSERT INTO vehicle_emissions VALUES "+rows,
	)
}

const tripRows = `
	(1, TIMESTAMP '2015-01-04 14:00:00', TIMESTAMP '2015-01-04 14:30:00', 1, 10),
	(1, TIMESTAMP '2015-12-31 23:10:00', TIMESTAMP '2015-12-31 23:10:00', 2, 2.5),
	(2, TIMESTAMP '2016-06-15 08:00:00', TIMESTAMP '2016-06-15 08:20:00', 1, -3),
	(2, NULL, TIMESTAMP '2016-06-15 08:20:00', 1, 4)`

type transformed struct {
	co2   float64
	mph   sql.NullFloat64
	hour  int64
	day   int64
	week  int64
	month int64
}

func readTransformed(t *testing.T, st store.Store, color model.Color) []transformed {
	t.Helper()
	rows, err := st.Query(context.Background(), fmt.Sprintf(
		"SELECT trip_co2_kgs, avg_mph, hour_of_day, day_of_week, week_of_year, month_of_year FROM %s ORDER BY %s",
		color.TransformedTable(), color.PickupColumn()))
	require.NoError(t, err)
	defer rows.Close()

	var out []transformed
	for rows.Next() {
		var r transformed
		require.NoError(t, rows.Scan(&r.co2, &r.mph, &r.hour, &r.day, &r.week, &r.month))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestTransformer_DerivesEmissionsAndCalendar(t *testing.T) {
	ctx := context.Background()
	st := testutil.OpenStore(t)
	seedClean(t, st, model.Yellow, tripRows)
	seedClean(t, st, model.Green, tripRows)
	seedFactors(t, st, "('yellow_taxi', 'gasoline', 404), ('green_taxi', 'gasoline', 300), ('hybrid_sedan', 'hybrid', 244)")

	se := testutil.NewStepExecution("transform")
	exit, err := transformer.NewTasklet(metrics.NewNoOpMetricRecorder()).Execute(ctx, st, se)
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusCompleted, exit)

	yellow := readTransformed(t, st, model.Yellow)
	require.Len(t, yellow, 2, "non-positive distances and null pickups are excluded")

	first := yellow[0]
	assert.InDelta(t, 4.04, first.co2, 1e-9)
	require.True(t, first.mph.Valid)
	assert.InDelta(t, 20.0, first.mph.Float64, 1e-9)
	assert.Equal(t, int64(14), first.hour)
	assert.Equal(t, int64(0), first.day, "2015-01-04 is a Sunday")
	assert.Equal(t, int64(1), first.week)
	assert.Equal(t, int64(1), first.month)

	last := yellow[1]
	assert.InDelta(t, 1.01, last.co2, 1e-9)
	assert.False(t, last.mph.Valid, "zero duration has no speed")
	assert.Equal(t, int64(23), last.hour)
	assert.Equal(t, int64(4), last.day)
	assert.Equal(t, int64(53), last.week, "ISO week numbering")
	assert.Equal(t, int64(12), last.month)

	green := readTransformed(t, st, model.Green)
	require.Len(t, green, 2)
	assert.InDelta(t, 3.0, green[0].co2, 1e-9)

	v, ok := se.ExecutionContext.Get(transformer.ReportKey)
	require.True(t, ok)
	reports := v.([]model.TransformReport)
	require.Len(t, reports, 2)
	assert.Equal(t, model.TransformReport{Color: model.Yellow, Table: "yellow_taxi_data_transformed", Rows: 2, Factor: 404}, reports[0])
	assert.Equal(t, 300.0, reports[1].Factor)
	assert.Equal(t, int64(4), se.WriteCount)
}

func TestTransformer_ValueRanges(t *testing.T) {
	ctx := context.Background()
	st := testutil.OpenStore(t)
	values := ""
	for h := 0; h < 24; h++ {
		if h > 0 {
			values += ", "
		}
		values += fmt.Sprintf("(1, TIMESTAMP '2019-%02d-%02d %02d:15:00', TIMESTAMP '2019-%02d-%02d %02d:45:00', 1, %d)",
			h%12+1, h+1, h, h%12+1, h+1, h, h+1)
	}
	seedClean(t, st, model.Yellow, values)
	seedClean(t, st, model.Green, values)
	seedFactors(t, st, "('yellow_taxi', 'gasoline', 404), ('green_taxi', 'gasoline', 404)")

	_, err := transformer.NewTasklet(metrics.NewNoOpMetricRecorder()).Execute(ctx, st, testutil.NewStepExecution("transform"))
	require.NoError(t, err)

	for _, color := range model.Colors() {
		n, err := st.QueryInt64(ctx, "SELECT COUNT(*) FROM "+color.TransformedTable()+` WHERE
			hour_of_day NOT BETWEEN 0 AND 23 OR day_of_week NOT BETWEEN 0 AND 6 OR
			month_of_year NOT BETWEEN 1 AND 12 OR trip_co2_kgs IS NULL OR trip_co2_kgs < 0`)
		require.NoError(t, err)
		assert.Zero(t, n)

		hours, err := st.QueryInt64(ctx, "SELECT COUNT(DISTINCT hour_of_day) FROM "+color.TransformedTable())
		require.NoError(t, err)
		assert.Equal(t, int64(24), hours)
	}
}

func TestTransformer_IsRecomputed(t *testing.T) {
	ctx := context.Background()
	st := testutil.OpenStore(t)
	seedClean(t, st, model.Yellow, tripRows)
	seedClean(t, st, model.Green, tripRows)
	seedFactors(t, st, "('yellow_taxi', 'gasoline', 404), ('green_taxi', 'gasoline', 404)")
	tasklet := transformer.NewTasklet(metrics.NewNoOpMetricRecorder())

	for i := 0; i < 2; i++ {
		_, err := tasklet.Execute(ctx, st, testutil.NewStepExecution("transform"))
		require.NoError(t, err)
	}
	n, err := st.Count(ctx, model.Yellow.TransformedTable())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTransformer_MissingFactor(t *testing.T) {
	st := testutil.OpenStore(t)
	seedClean(t, st, model.Yellow, tripRows)
	seedClean(t, st, model.Green, tripRows)
	seedFactors(t, st, "('yellow_taxi', 'gasoline', 404)")

	_, err := transformer.NewTasklet(metrics.NewNoOpMetricRecorder()).Execute(context.Background(), st, testutil.NewStepExecution("transform"))
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindDataQuality))
	assert.Contains(t, err.Error(), "no emission factor for vehicle type 'green_taxi'")
}

func TestTransformer_RejectsAmbiguousOrNegativeFactor(t *testing.T) {
	for name, rows := range map[string]string{
		"duplicate": "('yellow_taxi', 'gasoline', 404), ('yellow_taxi', 'diesel', 420)",
		"negative":  "('yellow_taxi', 'gasoline', -1)",
	} {
		t.Run(name, func(t *testing.T) {
			st := testutil.OpenStore(t)
			seedClean(t, st, model.Yellow, tripRows)
			seedFactors(t, st, rows)

			_, err := transformer.NewTasklet(metrics.NewNoOpMetricRecorder()).Execute(context.Background(), st, testutil.NewStepExecution("transform"))
			require.Error(t, err)
			assert.True(t, exception.IsKind(err, exception.KindDataQuality))
		})
	}
}
