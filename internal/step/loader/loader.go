// Package loader materializes the raw per-color trip tables and the emission factor table.
//
// A raw table is built once: created from the first period's file, then appended to one period
// at a time in chronological order. A table that already exists is never fetched again, even if
// an earlier run stopped halfway through it.
package loader

import (
	"context"
	"database/sql"
	"errors"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/taxiemissions/internal/adapter/source"
	"github.com/tigerroll/taxiemissions/internal/adapter/store"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/engine"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/metrics"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

const moduleName = "loader"

// ReportKey is the execution context key of the LoadReport.
const ReportKey = "load_report"

// Tasklet is the load stage.
type Tasklet struct {
	fetcher             source.Fetcher
	periods             []model.Period
	colors              []model.Color
	emissionFactorsPath string
	keepDownloads       bool
	metricRecorder      metrics.MetricRecorder
	tracer              metrics.Tracer
}

// NewTasklet creates the load stage for every color over periods.
func NewTasklet(
	fetcher source.Fetcher,
	periods []model.Period,
	emissionFactorsPath string,
	keepDownloads bool,
	metricRecorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *Tasklet {
	return &Tasklet{
		fetcher:             fetcher,
		periods:             periods,
		colors:              model.Colors(),
		emissionFactorsPath: emissionFactorsPath,
		keepDownloads:       keepDownloads,
		metricRecorder:      metricRecorder,
		tracer:              tracer,
	}
}

// Execute loads every color, then replaces the emission factor table.
// It returns ExitStatusNoOp when every raw table already existed.
func (t *Tasklet) Execute(ctx context.Context, st store.Store, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	report := model.LoadReport{}
	created := false

	for _, color := range t.colors {
		summary, err := t.loadColor(ctx, st, color)
		if err != nil {
			return model.ExitStatusFailed, err
		}
		created = created || summary.Created
		report.Tables = append(report.Tables, summary)
		stepExecution.WriteCount += summary.Rows
	}

	n, err := t.loadEmissionFactors(ctx, st)
	if err != nil {
		return model.ExitStatusFailed, err
	}
	report.EmissionFactorRows = n
	stepExecution.WriteCount += n
	stepExecution.ExecutionContext.Put(ReportKey, report)

	if !created {
		return model.ExitStatusNoOp, nil
	}
	return model.ExitStatusCompleted, nil
}

func (t *Tasklet) loadColor(ctx context.Context, st store.Store, color model.Color) (model.TableSummary, error) {
	table := color.RawTable()
	summary := model.TableSummary{Color: color, Table: table}

	exists, err := st.TableExists(ctx, table)
	if err != nil {
		return summary, err
	}
	if exists {
		logger.Infof("'%s' already exists, nothing to load", table)
	} else {
		summary.Created = true
		summary.PeriodsLoaded, err = t.ingest(ctx, st, color)
		if err != nil {
			return summary, err
		}
	}

	summary.Rows, err = st.Count(ctx, table)
	if err != nil {
		return summary, err
	}
	logger.Infof("Total rows in %s: %d", table, summary.Rows)
	t.metricRecorder.RecordTableRows(ctx, table, summary.Rows)

	summary.Stats, err = distanceStats(ctx, st, table)
	if err != nil {
		return summary, err
	}
	logger.Infof("Summary stats for %s:  Trip Distance - %s", table, summary.Stats)
	return summary, nil
}

// ingest creates the raw table from the first period and appends the rest.
// It returns the number of periods loaded before any error.
func (t *Tasklet) ingest(ctx context.Context, st store.Store, color model.Color) (int, error) {
	if len(t.periods) == 0 {
		return 0, exception.NewBatchError(moduleName, exception.KindConfig, "no periods to load", nil)
	}
	table := color.RawTable()
	for i, period := range t.periods {
		if err := t.ingestPeriod(ctx, st, color, period, i == 0); err != nil {
			return i, err
		}
		t.metricRecorder.RecordPeriodLoaded(ctx, color)
		t.tracer.RecordEvent(ctx, "period.loaded", map[string]interface{}{
			"color":  color.String(),
			"period": period.String(),
		})
	}
	logger.Infof("Finished loading %s", table)
	return len(t.periods), nil
}

func (t *Tasklet) ingestPeriod(ctx context.Context, st store.Store, color model.Color, period model.Period, first bool) (err error) {
	download, err := t.fetcher.Fetch(ctx, color, period)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := download.Release(t.keepDownloads); releaseErr != nil {
			err = multierror.Append(err, releaseErr).ErrorOrNil()
		}
	}()

	table := store.QuoteIdent(color.RawTable())
	scan := "read_parquet(" + store.QuoteLiteral(download.Path) + ")"
	if first {
		if _, err := st.Exec(ctx, "CREATE TABLE "+table+" AS SELECT * FROM "+scan); err != nil {
			return err
		}
		logger.Infof("Created %s with %s", color.RawTable(), download.URL)
		return nil
	}
	if _, err := st.Exec(ctx, "INSERT INTO "+table+" BY NAME SELECT * FROM "+scan); err != nil {
		return err
	}
	logger.Infof("Loaded %s", download.Name())
	return nil
}

func distanceStats(ctx context.Context, st store.Store, table string) (model.DistanceStats, error) {
	query := `SELECT
		AVG(trip_distance),
		MEDIAN(trip_distance),
		STDDEV(trip_distance)
	FROM ` + store.QuoteIdent(table)

	var avg, median, stddev sql.NullFloat64
	if err := st.QueryRow(ctx, query).Scan(&avg, &median, &stddev); err != nil {
		return model.DistanceStats{}, exception.NewBatchErrorf(moduleName, exception.KindQuery, "failed to compute stats for %s", table, err)
	}
	return model.DistanceStats{
		Avg:    nullable(avg),
		Median: nullable(median),
		StdDev: nullable(stddev),
	}, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// loadEmissionFactors replaces the reference table unconditionally.
func (t *Tasklet) loadEmissionFactors(ctx context.Context, st store.Store) (int64, error) {
	if _, err := os.Stat(t.emissionFactorsPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, exception.NewBatchErrorf(moduleName, exception.KindIO, "emission factor file '%s' not found", t.emissionFactorsPath, err)
		}
		return 0, exception.NewBatchErrorf(moduleName, exception.KindIO, "cannot read emission factor file '%s'", t.emissionFactorsPath, err)
	}

	table := store.QuoteIdent(engine.EmissionFactorTable)
	if _, err := st.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return 0, err
	}
	create := "CREATE TABLE " + table + " AS SELECT * FROM read_csv_auto(" + store.QuoteLiteral(t.emissionFactorsPath) + ", header = true)"
	if _, err := st.Exec(ctx, create); err != nil {
		return 0, err
	}
	n, err := st.Count(ctx, engine.EmissionFactorTable)
	if err != nil {
		return 0, err
	}
	logger.Infof("Table created: %s (%d rows)", engine.EmissionFactorTable, n)
	t.metricRecorder.RecordTableRows(ctx, engine.EmissionFactorTable, n)
	return n, nil
}

var _ engine.Tasklet = (*Tasklet)(nil)
