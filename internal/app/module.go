// Package app wires the emissions pipeline together with uber-fx and exposes it as a command line.
package app

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/taxiemissions/internal/adapter/source"
	"github.com/tigerroll/taxiemissions/internal/adapter/store"
	"github.com/tigerroll/taxiemissions/internal/config"
	"github.com/tigerroll/taxiemissions/internal/domain/repository"
	"github.com/tigerroll/taxiemissions/internal/engine"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/metrics"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/repository/gormrepo"
	"github.com/tigerroll/taxiemissions/internal/step/analyzer"
	"github.com/tigerroll/taxiemissions/internal/step/cleaner"
	"github.com/tigerroll/taxiemissions/internal/step/loader"
	"github.com/tigerroll/taxiemissions/internal/step/transformer"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

// NewFetcher provides the trip file fetcher. Its remote clients are released when the application stops.
func NewFetcher(lc fx.Lifecycle, cfg *config.Config) source.Fetcher {
	fetcher := source.NewTemplateFetcher(cfg)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing trip file fetcher.")
			return fetcher.Close()
		},
	})
	return fetcher
}

// TaskletParams defines the dependencies for NewTasklets.
type TaskletParams struct {
	fx.In
	Cfg            *config.Config
	Fetcher        source.Fetcher
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
}

// NewTasklets builds one tasklet per pipeline stage from the configuration.
func NewTasklets(p TaskletParams) (engine.Tasklets, error) {
	periods, err := p.Cfg.Periods()
	if err != nil {
		return nil, err
	}
	e := p.Cfg.Emissions
	return engine.Tasklets{
		engine.StageLoad: loader.NewTasklet(
			p.Fetcher,
			periods,
			e.Reference.EmissionFactorsPath,
			e.Source.KeepDownloads,
			p.MetricRecorder,
			p.Tracer,
		),
		engine.StageClean:     cleaner.NewTasklet(e.Clean.MaxDistanceMiles, e.Clean.MaxDurationSeconds, p.MetricRecorder),
		engine.StageTransform: transformer.NewTasklet(p.MetricRecorder),
		engine.StageAnalyze: analyzer.NewTasklet(periods, analyzer.Outputs{
			ChartPath:    e.Analysis.ChartPath,
			ExportPath:   e.Analysis.ExportPath,
			WorkbookPath: e.Analysis.WorkbookPath,
		}, p.Tracer),
	}, nil
}

// JobRunnerParams defines the dependencies for NewJobRunner.
type JobRunnerParams struct {
	fx.In
	Cfg            *config.Config
	Tasklets       engine.Tasklets
	Opener         store.Opener
	JobRepository  repository.JobRepository
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
}

// NewJobRunner creates the runner over the default pipeline.
func NewJobRunner(p JobRunnerParams) *engine.JobRunner {
	return engine.NewJobRunner(
		p.Cfg.Emissions.Batch.JobName,
		engine.DefaultPipeline(),
		p.Tasklets,
		p.Opener,
		p.JobRepository,
		p.MetricRecorder,
		p.Tracer,
		p.Cfg.Emissions.System.Logging.Dir,
	)
}

// Module provides the job repository, the store opener, the fetcher, the stage tasklets and the job runner.
// fx only builds what a command populates, so `history` builds neither the fetcher nor the tasklets.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		gormrepo.NewJobRepository,
		fx.As(new(repository.JobRepository)),
	)),
	fx.Provide(fx.Annotate(
		store.NewDuckDBOpener,
		fx.As(new(store.Opener)),
	)),
	fx.Provide(NewFetcher),
	fx.Provide(NewTasklets),
	fx.Provide(NewJobRunner),
)
