package engine

import (
	"context"
	"time"

	"github.com/tigerroll/taxiemissions/internal/adapter/store"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/domain/repository"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/metrics"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

// Tasklets maps stage names to their bodies.
type Tasklets map[string]Tasklet

// JobRunner executes a selection of pipeline stages as one persisted job.
type JobRunner struct {
	jobName        string
	pipeline       Pipeline
	tasklets       Tasklets
	opener         store.Opener
	jobRepository  repository.JobRepository
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
	logDir         string
}

// NewJobRunner creates a JobRunner.
func NewJobRunner(
	jobName string,
	pipeline Pipeline,
	tasklets Tasklets,
	opener store.Opener,
	jobRepository repository.JobRepository,
	metricRecorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	logDir string,
) *JobRunner {
	return &JobRunner{
		jobName:        jobName,
		pipeline:       pipeline,
		tasklets:       tasklets,
		opener:         opener,
		jobRepository:  jobRepository,
		metricRecorder: metricRecorder,
		tracer:         tracer,
		logDir:         logDir,
	}
}

// Pipeline returns the full pipeline the runner selects from.
func (r *JobRunner) Pipeline() Pipeline {
	return r.pipeline
}

// Run executes stages sequentially and stops at the first step that does not complete.
// The returned JobExecution carries the final status; the error is the failing step's error.
// A JobExecution is returned whenever it could be created, even when Run fails.
func (r *JobRunner) Run(ctx context.Context, stages Pipeline) (*model.JobExecution, error) {
	if len(stages) == 0 {
		return nil, exception.NewBatchError("engine", exception.KindConfig, "no stages selected", nil)
	}
	for _, stage := range stages {
		if _, ok := r.tasklets[stage.Name]; !ok {
			return nil, exception.NewBatchErrorf("engine", exception.KindConfig, "no tasklet registered for stage '%s'", stage.Name)
		}
	}

	jobExecution := model.NewJobExecution(r.jobName, stages.Names())
	if err := r.jobRepository.SaveJobExecution(ctx, jobExecution); err != nil {
		return nil, err
	}

	ctx, endSpan := r.tracer.StartJobSpan(ctx, jobExecution)
	defer endSpan()

	logger.Infof("Job '%s' (ID: %s) started with stages %v.", r.jobName, jobExecution.ID, stages.Names())
	jobExecution.MarkAsStarted()
	r.metricRecorder.RecordJobStart(ctx, jobExecution)
	if err := r.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		logger.Errorf("JobRunner: Failed to update JobExecution (ID: %s) status to STARTED: %v", jobExecution.ID, err)
	}

	var runErr error
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		step := NewTaskletStep(stage, r.pipeline, r.tasklets[stage.Name], r.opener, r.jobRepository, r.metricRecorder, r.tracer, r.logDir)
		stepExecution, err := step.Execute(ctx, jobExecution)
		if err != nil {
			runErr = err
			break
		}
		jobExecution.ExecutionContext.Put(stage.Name, stepExecution.ExitStatus.String())
	}

	switch {
	case runErr != nil && ctx.Err() != nil:
		jobExecution.AddFailure(runErr)
		jobExecution.MarkAsStopped()
	case runErr != nil:
		r.tracer.RecordError(ctx, "engine", runErr)
		jobExecution.MarkAsFailed(runErr)
	default:
		jobExecution.MarkAsCompleted()
	}
	r.metricRecorder.RecordJobEnd(ctx, jobExecution)

	persistCtx := ctx
	if ctx.Err() != nil {
		persistCtx = context.WithoutCancel(ctx)
	}
	if err := r.jobRepository.UpdateJobExecution(persistCtx, jobExecution); err != nil {
		logger.Errorf("JobRunner: Failed to update final JobExecution (ID: %s) state: %v", jobExecution.ID, err)
	}
	if err := r.metricRecorder.Flush(persistCtx); err != nil {
		logger.Warnf("JobRunner: %v", err)
	}

	elapsed := time.Duration(0)
	if jobExecution.StartTime != nil && jobExecution.EndTime != nil {
		elapsed = jobExecution.EndTime.Sub(*jobExecution.StartTime).Round(time.Millisecond)
	}
	if runErr != nil {
		logger.Errorf("Job '%s' (ID: %s) finished with status %s after %s: %v", r.jobName, jobExecution.ID, jobExecution.Status, elapsed, runErr)
	} else {
		logger.Infof("Job '%s' (ID: %s) finished with status %s after %s.", r.jobName, jobExecution.ID, jobExecution.Status, elapsed)
	}
	return jobExecution, runErr
}
