// Package analyzer answers the per-color emission questions over the transformed tables and
// renders the monthly totals chart.
//
// Results are logged as they are computed. Outputs on disk (chart, export, workbook) are only
// written once every query has succeeded.
package analyzer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tigerroll/taxiemissions/internal/adapter/store"
	"github.com/tigerroll/taxiemissions/internal/chart"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/engine"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/metrics"
	"github.com/tigerroll/taxiemissions/internal/report"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

const moduleName = "analyzer"

// ReportKey is the execution context key of the AnalysisReport.
const ReportKey = "analysis_report"

// Outputs names the files the analyzer writes. Empty ExportPath or WorkbookPath skips that file.
type Outputs struct {
	ChartPath    string
	ExportPath   string
	WorkbookPath string
}

// Tasklet is the analyze stage.
type Tasklet struct {
	colors    []model.Color
	firstYear int
	lastYear  int
	outputs   Outputs
	tracer    metrics.Tracer
}

// NewTasklet creates the analyze stage. periods only sets the year span shown in the log and
// the chart title.
func NewTasklet(periods []model.Period, outputs Outputs, tracer metrics.Tracer) *Tasklet {
	t := &Tasklet{colors: model.Colors(), outputs: outputs, tracer: tracer}
	if len(periods) > 0 {
		t.firstYear, t.lastYear = periods[0].Year, periods[len(periods)-1].Year
	}
	return t
}

// Execute runs every query, then writes the chart and the optional exports.
func (t *Tasklet) Execute(ctx context.Context, st store.Store, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	result := model.AnalysisReport{
		TopTrips: make(map[string]model.TripRecord),
		Monthly:  make(map[string][]model.MonthlyTotal),
	}

	for _, color := range t.colors {
		trip, err := topTrip(ctx, st, color)
		if err != nil {
			return model.ExitStatusFailed, err
		}
		result.TopTrips[color.String()] = trip
		logger.Infof("Largest carbon producing trip of years %d-%d for %s taxis: %s", t.firstYear, t.lastYear, color, trip)
	}

	for _, grouping := range model.Groupings() {
		for _, color := range t.colors {
			ranking, err := rank(ctx, st, color, grouping)
			if err != nil {
				return model.ExitStatusFailed, err
			}
			result.Rankings = append(result.Rankings, ranking)
			logger.Infof("%s", rankingLine(ranking))
		}
	}

	for _, color := range t.colors {
		totals, err := monthlyTotals(ctx, st, color)
		if err != nil {
			return model.ExitStatusFailed, err
		}
		result.Monthly[color.String()] = totals
	}

	if err := t.writeChart(ctx, &result); err != nil {
		return model.ExitStatusFailed, err
	}

	rows := report.Rows(result)
	if t.outputs.ExportPath != "" {
		if err := report.WriteParquet(t.outputs.ExportPath, rows); err != nil {
			return model.ExitStatusFailed, err
		}
	}
	if t.outputs.WorkbookPath != "" {
		if err := report.WriteWorkbook(t.outputs.WorkbookPath, rows); err != nil {
			return model.ExitStatusFailed, err
		}
	}

	stepExecution.WriteCount = int64(len(rows))
	stepExecution.ExecutionContext.Put(ReportKey, result)
	return model.ExitStatusCompleted, nil
}

func (t *Tasklet) writeChart(ctx context.Context, result *model.AnalysisReport) error {
	series := make([]chart.Series, 0, len(t.colors))
	for _, color := range t.colors {
		series = append(series, chart.Series{Label: color.DisplayName(), Totals: result.Monthly[color.String()]})
	}
	path := t.outputs.ChartPath
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := chart.RenderMonthlyTotals(path, chart.Title(t.firstYear, t.lastYear), series); err != nil {
		return err
	}
	result.ChartPath = path
	logger.Infof("Monthly CO2 totals plot saved to %s", path)
	t.tracer.RecordEvent(ctx, "chart.saved", map[string]interface{}{"path": path})
	return nil
}

// rankingLine renders the log line for a ranking.
func rankingLine(r model.BucketRanking) string {
	heavy := r.Grouping.BucketLabel(r.Heaviest().Bucket)
	light := r.Grouping.BucketLabel(r.Lightest().Bucket)
	if r.Grouping == model.ByMonth {
		return fmt.Sprintf("For %s taxis: Most carbon-heavy month: %s, Lightest month: %s", r.Color, heavy, light)
	}
	return fmt.Sprintf("For %s taxis: Most carbon-heavy %s = %s, Lightest %s = %s", r.Color, r.Grouping, heavy, r.Grouping, light)
}

func topTrip(ctx context.Context, st store.Store, color model.Color) (model.TripRecord, error) {
	table := color.TransformedTable()
	rows, err := st.Query(ctx, "SELECT * FROM "+store.QuoteIdent(table)+" ORDER BY trip_co2_kgs DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, exception.NewBatchError(moduleName, exception.KindQuery, "failed to read columns of "+table, err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, exception.NewBatchError(moduleName, exception.KindQuery, "failed to read "+table, err)
		}
		return nil, exception.NewBatchErrorf(moduleName, exception.KindDataQuality, "%s has no trips", table)
	}

	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, exception.NewBatchError(moduleName, exception.KindQuery, "failed to scan top trip of "+table, err)
	}

	record := make(model.TripRecord, len(columns))
	for i, name := range columns {
		v := values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		record[i] = model.Field{Name: name, Value: v}
	}
	return record, nil
}

// rank orders the buckets of grouping by average trip CO2, heaviest first. Ties go to the
// lower bucket.
func rank(ctx context.Context, st store.Store, color model.Color, grouping model.Grouping) (model.BucketRanking, error) {
	table := color.TransformedTable()
	column := store.QuoteIdent(grouping.Column())
	query := fmt.Sprintf(`SELECT %s AS bucket, AVG(trip_co2_kgs) AS avg_co2
		FROM %s
		GROUP BY %s
		ORDER BY avg_co2 DESC, bucket ASC`, column, store.QuoteIdent(table), column)

	ranking := model.BucketRanking{Color: color, Grouping: grouping}
	rows, err := st.Query(ctx, query)
	if err != nil {
		return ranking, err
	}
	defer rows.Close()

	for rows.Next() {
		var bucket int64
		var avg float64
		if err := rows.Scan(&bucket, &avg); err != nil {
			return ranking, exception.NewBatchErrorf(moduleName, exception.KindQuery, "failed to scan %s ranking of %s", grouping, table, err)
		}
		ranking.Buckets = append(ranking.Buckets, model.BucketAverage{Bucket: int(bucket), AvgCO2: avg})
	}
	if err := rows.Err(); err != nil {
		return ranking, exception.NewBatchErrorf(moduleName, exception.KindQuery, "failed to read %s ranking of %s", grouping, table, err)
	}
	if len(ranking.Buckets) == 0 {
		return ranking, exception.NewBatchErrorf(moduleName, exception.KindDataQuality, "no %s buckets in %s", grouping, table)
	}
	return ranking, nil
}

func monthlyTotals(ctx context.Context, st store.Store, color model.Color) ([]model.MonthlyTotal, error) {
	table := color.TransformedTable()
	rows, err := st.Query(ctx, `SELECT month_of_year, SUM(trip_co2_kgs) AS total_co2
		FROM `+store.QuoteIdent(table)+`
		GROUP BY month_of_year
		ORDER BY month_of_year`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []model.MonthlyTotal
	for rows.Next() {
		var month int64
		var total float64
		if err := rows.Scan(&month, &total); err != nil {
			return nil, exception.NewBatchErrorf(moduleName, exception.KindQuery, "failed to scan monthly totals of %s", table, err)
		}
		totals = append(totals, model.MonthlyTotal{Month: int(month), TotalKgs: total})
	}
	if err := rows.Err(); err != nil {
		return nil, exception.NewBatchErrorf(moduleName, exception.KindQuery, "failed to read monthly totals of %s", table, err)
	}
	return totals, nil
}

var _ engine.Tasklet = (*Tasklet)(nil)
