// Package transformer derives per-trip CO2 and calendar buckets from the clean tables.
package transformer

import (
	"context"
	"database/sql"
	"strings"

	"github.com/tigerroll/taxiemissions/internal/adapter/store"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/engine"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/metrics"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

const moduleName = "transformer"

// ReportKey is the execution context key of the []model.TransformReport.
const ReportKey = "transform_reports"

// Tasklet is the transform stage.
type Tasklet struct {
	colors         []model.Color
	metricRecorder metrics.MetricRecorder
}

// NewTasklet creates the transform stage.
func NewTasklet(metricRecorder metrics.MetricRecorder) *Tasklet {
	return &Tasklet{colors: model.Colors(), metricRecorder: metricRecorder}
}

// Execute replaces the transformed table of every color.
func (t *Tasklet) Execute(ctx context.Context, st store.Store, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	var reports []model.TransformReport
	for _, color := range t.colors {
		report, err := t.transform(ctx, st, color)
		if err != nil {
			return model.ExitStatusFailed, err
		}
		reports = append(reports, report)
		stepExecution.WriteCount += report.Rows
	}
	stepExecution.ExecutionContext.Put(ReportKey, reports)
	return model.ExitStatusCompleted, nil
}

func (t *Tasklet) transform(ctx context.Context, st store.Store, color model.Color) (model.TransformReport, error) {
	table := color.TransformedTable()
	report := model.TransformReport{Color: color, Table: table}

	factor, err := emissionFactor(ctx, st, color)
	if err != nil {
		return report, err
	}
	report.Factor = factor

	if _, err := st.Exec(ctx, transformQuery(color)); err != nil {
		return report, err
	}
	if report.Rows, err = st.Count(ctx, table); err != nil {
		return report, err
	}
	logger.Infof("Table created: %s (%d rows)", table, report.Rows)
	t.metricRecorder.RecordTableRows(ctx, table, report.Rows)

	for _, check := range verifications(table) {
		remaining, err := st.QueryInt64(ctx, check.query)
		if err != nil {
			return report, err
		}
		logger.Infof("Test '%s' on %s: %d rows remaining", check.name, table, remaining)
		if remaining != 0 {
			return report, exception.NewBatchErrorf(moduleName, exception.KindDataQuality, "%d rows of %s fail '%s'", remaining, table, check.name)
		}
	}
	return report, nil
}

// emissionFactor returns the grams of CO2 per mile for the color's vehicle type.
// The type must match exactly one non-negative factor.
func emissionFactor(ctx context.Context, st store.Store, color model.Color) (float64, error) {
	rows, err := st.Query(ctx, "SELECT co2_grams_per_mile FROM "+store.QuoteIdent(engine.EmissionFactorTable)+" WHERE vehicle_type = ?", color.VehicleType())
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var factors []sql.NullFloat64
	for rows.Next() {
		var f sql.NullFloat64
		if err := rows.Scan(&f); err != nil {
			return 0, exception.NewBatchError(moduleName, exception.KindQuery, "failed to read emission factor", err)
		}
		factors = append(factors, f)
	}
	if err := rows.Err(); err != nil {
		return 0, exception.NewBatchError(moduleName, exception.KindQuery, "failed to read emission factor", err)
	}

	switch {
	case len(factors) == 0:
		return 0, exception.NewBatchErrorf(moduleName, exception.KindDataQuality, "no emission factor for vehicle type '%s'", color.VehicleType())
	case len(factors) > 1:
		return 0, exception.NewBatchErrorf(moduleName, exception.KindDataQuality, "%d emission factors for vehicle type '%s'", len(factors), color.VehicleType())
	case !factors[0].Valid:
		return 0, exception.NewBatchErrorf(moduleName, exception.KindDataQuality, "emission factor for vehicle type '%s' is null", color.VehicleType())
	case factors[0].Float64 < 0:
		return 0, exception.NewBatchErrorf(moduleName, exception.KindDataQuality, "emission factor for vehicle type '%s' is negative: %v", color.VehicleType(), factors[0].Float64)
	}
	return factors[0].Float64, nil
}

func transformQuery(color model.Color) string {
	pickup := "c." + store.QuoteIdent(color.PickupColumn())
	duration := "epoch(c." + store.QuoteIdent(color.DropoffColumn()) + " - " + pickup + ")"
	return strings.Join([]string{
		"CREATE OR REPLACE TABLE " + store.QuoteIdent(color.TransformedTable()) + " AS",
		"SELECT c.*,",
		"  c.trip_distance * e.co2_grams_per_mile / 1000.0 AS trip_co2_kgs,",
		"  CASE WHEN " + duration + " > 0 THEN c.trip_distance / (" + duration + " / 3600.0) END AS avg_mph,",
		"  hour(" + pickup + ") AS hour_of_day,",
		"  dayofweek(" + pickup + ") AS day_of_week,",
		"  week(" + pickup + ") AS week_of_year,",
		"  month(" + pickup + ") AS month_of_year",
		"FROM " + store.QuoteIdent(color.CleanTable()) + " c",
		"JOIN " + store.QuoteIdent(engine.EmissionFactorTable) + " e ON e.vehicle_type = " + store.QuoteLiteral(color.VehicleType()),
		"WHERE c.trip_distance > 0 AND " + pickup + " IS NOT NULL",
	}, "\n")
}

type verification struct {
	name  string
	query string
}

func verifications(table string) []verification {
	from := "SELECT COUNT(*) FROM " + store.QuoteIdent(table) + " WHERE "
	return []verification{
		{"hour_of_day range", from + "hour_of_day NOT BETWEEN 0 AND 23"},
		{"day_of_week range", from + "day_of_week NOT BETWEEN 0 AND 6"},
		{"week_of_year range", from + "week_of_year NOT BETWEEN 1 AND 53"},
		{"month_of_year range", from + "month_of_year NOT BETWEEN 1 AND 12"},
		{"trip_co2_kgs", from + "trip_co2_kgs IS NULL OR trip_co2_kgs < 0"},
	}
}

var _ engine.Tasklet = (*Tasklet)(nil)
