// Package cleaner builds the deduplicated, filtered clean table of each color and verifies it.
package cleaner

import (
	"context"
	"fmt"

	"github.com/tigerroll/taxiemissions/internal/adapter/store"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/engine"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/metrics"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

const moduleName = "cleaner"

// ReportKey is the execution context key of the []model.CleaningReport.
const ReportKey = "cleaning_reports"

// Tasklet is the clean stage.
type Tasklet struct {
	colors             []model.Color
	maxDistanceMiles   float64
	maxDurationSeconds int64
	metricRecorder     metrics.MetricRecorder
}

// NewTasklet creates the clean stage with the given predicate bounds.
func NewTasklet(maxDistanceMiles float64, maxDurationSeconds int64, metricRecorder metrics.MetricRecorder) *Tasklet {
	return &Tasklet{
		colors:             model.Colors(),
		maxDistanceMiles:   maxDistanceMiles,
		maxDurationSeconds: maxDurationSeconds,
		metricRecorder:     metricRecorder,
	}
}

// predicate is a row-level condition that no clean row may satisfy.
type predicate struct {
	name    string
	message string
	where   string
}

// predicates returns the deletions in the order they are applied.
func (t *Tasklet) predicates(color model.Color) []predicate {
	return []predicate{
		{
			name:    "0 passengers",
			message: "Removed trips with 0 passengers from %s",
			where:   "passenger_count = 0",
		},
		{
			name:    "distance",
			message: fmt.Sprintf("Removed trips with 0 or >%s miles from %%s", formatBound(t.maxDistanceMiles)),
			where:   fmt.Sprintf("trip_distance = 0 OR trip_distance > %v", t.maxDistanceMiles),
		},
		{
			name:    "duration",
			message: fmt.Sprintf("Removed trips with duration >%s from %%s", formatHours(t.maxDurationSeconds)),
			where:   t.durationExceeded(color),
		},
	}
}

func (t *Tasklet) durationExceeded(color model.Color) string {
	return fmt.Sprintf("epoch(%s - %s) > %d",
		store.QuoteIdent(color.DropoffColumn()), store.QuoteIdent(color.PickupColumn()), t.maxDurationSeconds)
}

// Execute cleans every color. A failed verification fails the stage.
func (t *Tasklet) Execute(ctx context.Context, st store.Store, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	var reports []model.CleaningReport
	for _, color := range t.colors {
		report, err := t.clean(ctx, st, color)
		if err != nil {
			return model.ExitStatusFailed, err
		}
		reports = append(reports, report)
		stepExecution.WriteCount += report.After
	}
	stepExecution.ExecutionContext.Put(ReportKey, reports)
	return model.ExitStatusCompleted, nil
}

func (t *Tasklet) clean(ctx context.Context, st store.Store, color model.Color) (model.CleaningReport, error) {
	raw, clean := color.RawTable(), color.CleanTable()
	report := model.CleaningReport{Color: color, Source: raw, Target: clean}

	create := "CREATE OR REPLACE TABLE " + store.QuoteIdent(clean) + " AS SELECT DISTINCT * FROM " + store.QuoteIdent(raw)
	if _, err := st.Exec(ctx, create); err != nil {
		return report, err
	}
	logger.Infof("Removed duplicates from %s, created %s", raw, clean)

	for _, p := range t.predicates(color) {
		n, err := st.Exec(ctx, "DELETE FROM "+store.QuoteIdent(clean)+" WHERE "+p.where)
		if err != nil {
			return report, err
		}
		logger.Infof(p.message+" (%d rows)", clean, n)
		report.Removals = append(report.Removals, model.PredicateRemoval{Predicate: p.name, Rows: n})
		t.metricRecorder.RecordRowsRemoved(ctx, color, p.name, n)
	}

	var err error
	if report.Before, err = st.Count(ctx, raw); err != nil {
		return report, err
	}
	if report.After, err = st.Count(ctx, clean); err != nil {
		return report, err
	}
	logger.Infof("Removed duplicates from %s. Before: %d, After: %d, Removed: %d", raw, report.Before, report.After, report.Removed())
	t.metricRecorder.RecordTableRows(ctx, clean, report.After)

	var failed []string
	for _, check := range t.verifications(color) {
		remaining, err := st.QueryInt64(ctx, check.query)
		if err != nil {
			return report, err
		}
		result := model.VerificationResult{Name: check.name, Remaining: remaining, Strict: check.strict}
		report.Verifications = append(report.Verifications, result)
		logger.Infof("Test '%s' on %s: %d rows remaining", check.name, clean, remaining)
		if !result.Passed() {
			failed = append(failed, check.name)
		}
	}
	if len(failed) > 0 {
		return report, exception.NewBatchErrorf(moduleName, exception.KindDataQuality, "verification failed on %s: %v", clean, failed)
	}
	return report, nil
}

type verification struct {
	name   string
	query  string
	strict bool
}

// verifications returns the post-condition counts. Every check must report zero except the
// subset duplicate check, which only compares the key columns and so may count rows that
// differ elsewhere.
func (t *Tasklet) verifications(color model.Color) []verification {
	clean := store.QuoteIdent(color.CleanTable())
	pickup, dropoff := store.QuoteIdent(color.PickupColumn()), store.QuoteIdent(color.DropoffColumn())
	return []verification{
		{
			name: "duplicates (subset)",
			query: "SELECT (SELECT COUNT(*) FROM " + clean + ") - " +
				"(SELECT COUNT(*) FROM (SELECT DISTINCT passenger_count, trip_distance, " + pickup + ", " + dropoff + " FROM " + clean + "))",
		},
		{
			name:   "duplicates (full row)",
			query:  "SELECT COUNT(*) FROM (SELECT * FROM " + clean + " GROUP BY ALL HAVING COUNT(*) > 1)",
			strict: true,
		},
		{
			name:   "0 passengers",
			query:  "SELECT COUNT(*) FROM " + clean + " WHERE passenger_count = 0",
			strict: true,
		},
		{
			name:   "0 miles",
			query:  "SELECT COUNT(*) FROM " + clean + " WHERE trip_distance = 0",
			strict: true,
		},
		{
			name:   fmt.Sprintf(">%s miles", formatBound(t.maxDistanceMiles)),
			query:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE trip_distance > %v", clean, t.maxDistanceMiles),
			strict: true,
		},
		{
			name:   fmt.Sprintf(">%s", formatHours(t.maxDurationSeconds)),
			query:  "SELECT COUNT(*) FROM " + clean + " WHERE " + t.durationExceeded(color),
			strict: true,
		},
	}
}

func formatBound(v float64) string {
	return fmt.Sprintf("%g", v)
}

// formatHours renders 86400 as "24 hours", and non-whole hours in seconds.
func formatHours(seconds int64) string {
	if seconds%3600 == 0 {
		return fmt.Sprintf("%d hours", seconds/3600)
	}
	return fmt.Sprintf("%d seconds", seconds)
}

var _ engine.Tasklet = (*Tasklet)(nil)
