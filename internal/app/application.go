package app

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	"github.com/tigerroll/taxiemissions/internal/config"
	"github.com/tigerroll/taxiemissions/internal/engine"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/database"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/metrics"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

// RunApplication loads the configuration and executes the command line in args.
// A job that fails still returns normally; only startup and wiring errors are fatal.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, args []string) {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logger.SetLogLevel(cfg.Emissions.System.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.Emissions.System.Logging.Level)

	root := NewRootCommand(cfg)
	root.SetArgs(args)
	if err := root.ExecuteContext(appCtx); err != nil {
		logger.Fatalf("%v", err)
	}
}

// newApp assembles the fx container. Callers pull what they need out of it with fx.Populate.
func newApp(cfg *config.Config, opts ...fx.Option) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		logger.Module,
		database.Module,
		metrics.Module,
		Module,
		fx.Options(opts...),
	)
}

// withApp starts app, runs fn and stops app again, whatever fn returned.
func withApp(ctx context.Context, app *fx.App, fn func() error) error {
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(ctx, app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	var result error
	if err := fn(); err != nil {
		result = multierror.Append(result, err)
	}

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		result = multierror.Append(result, err)
	}
	logger.Debugf("Application is shut down.")
	return result
}

// runJob executes the named stages as one job; no names runs the whole pipeline.
// A failed or stopped job is reported through the log and the job history, not the returned error.
func runJob(ctx context.Context, cfg *config.Config, stageNames []string) error {
	var runner *engine.JobRunner
	app := newApp(cfg, fx.Populate(&runner))

	return withApp(ctx, app, func() error {
		stages := runner.Pipeline()
		if len(stageNames) > 0 {
			selected, err := stages.Select(stageNames...)
			if err != nil {
				return err
			}
			stages = selected
		}

		jobExecution, err := runner.Run(ctx, stages)
		if err != nil && jobExecution == nil {
			return err
		}
		if err != nil {
			logger.Warnf("Job '%s' (ID: %s) did not complete. See 'history' for details.", jobExecution.JobName, jobExecution.ID)
		}
		return nil
	})
}
