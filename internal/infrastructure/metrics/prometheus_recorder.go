package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/tigerroll/taxiemissions/internal/config"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

// PrometheusRecorder is a Prometheus implementation of the MetricRecorder interface.
// Metrics are kept in a private registry and pushed to a Pushgateway on Flush.
type PrometheusRecorder struct {
	registry       *prometheus.Registry
	pushgatewayURL string
	jobName        string

	// Job Metrics
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	// Step Metrics
	stepDurationSeconds *prometheus.HistogramVec
	stepWriteCount      *prometheus.CounterVec

	// Table Metrics
	tableRows     *prometheus.GaugeVec
	rowsRemoved   *prometheus.CounterVec
	periodsLoaded *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder(cfg *config.Config) *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry:       registry,
		pushgatewayURL: cfg.Emissions.Metrics.PushgatewayURL,
		jobName:        cfg.Emissions.Batch.JobName,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "emissions_job_duration_seconds",
			Help:    "Duration of pipeline job executions.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emissions_job_total",
			Help: "Total number of pipeline job executions by status.",
		}, []string{"status"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "emissions_step_duration_seconds",
			Help:    "Duration of pipeline step executions.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"step", "status"}),
		stepWriteCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emissions_step_write_total",
			Help: "Total rows written by step.",
		}, []string{"step"}),
		tableRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "emissions_table_rows",
			Help: "Row count of a store table when last observed.",
		}, []string{"table"}),
		rowsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emissions_rows_removed_total",
			Help: "Rows removed by cleaning predicates.",
		}, []string{"color", "predicate"}),
		periodsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emissions_periods_loaded_total",
			Help: "Monthly trip files ingested into raw tables.",
		}, []string{"color"}),
	}

	registry.MustRegister(
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.stepDurationSeconds,
		r.stepWriteCount,
		r.tableRows,
		r.rowsRemoved,
		r.periodsLoaded,
	)
	return r
}

// GetRegistry returns the registry backing this recorder.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	logger.Debugf("Metrics: job '%s' (ID: %s) started.", execution.JobName, execution.ID)
}

func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	status := execution.Status.String()
	if execution.StartTime != nil && execution.EndTime != nil {
		r.jobDurationSeconds.WithLabelValues(status).Observe(execution.EndTime.Sub(*execution.StartTime).Seconds())
	}
	r.jobStatusCounter.WithLabelValues(status).Inc()
}

func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	logger.Debugf("Metrics: step '%s' (ID: %s) started.", execution.StepName, execution.ID)
}

func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	r.stepDurationSeconds.WithLabelValues(execution.StepName, execution.Status.String()).Observe(execution.Duration().Seconds())
	if execution.WriteCount > 0 {
		r.stepWriteCount.WithLabelValues(execution.StepName).Add(float64(execution.WriteCount))
	}
}

func (r *PrometheusRecorder) RecordTableRows(ctx context.Context, table string, rows int64) {
	r.tableRows.WithLabelValues(table).Set(float64(rows))
}

func (r *PrometheusRecorder) RecordRowsRemoved(ctx context.Context, color model.Color, predicate string, rows int64) {
	if rows < 0 {
		return
	}
	r.rowsRemoved.WithLabelValues(color.String(), predicate).Add(float64(rows))
}

func (r *PrometheusRecorder) RecordPeriodLoaded(ctx context.Context, color model.Color) {
	r.periodsLoaded.WithLabelValues(color.String()).Inc()
}

// Flush pushes the registry to the configured Pushgateway. It is a no-op without one.
func (r *PrometheusRecorder) Flush(ctx context.Context) error {
	if r.pushgatewayURL == "" {
		return nil
	}
	err := push.New(r.pushgatewayURL, r.jobName).
		Gatherer(r.registry).
		PushContext(ctx)
	if err != nil {
		return exception.NewBatchErrorf("metrics", exception.KindIO, "failed to push metrics to %s", r.pushgatewayURL, err)
	}
	logger.Debugf("Metrics pushed to %s.", r.pushgatewayURL)
	return nil
}

var _ MetricRecorder = (*PrometheusRecorder)(nil)
