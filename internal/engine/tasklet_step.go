package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/taxiemissions/internal/adapter/store"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/domain/repository"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/metrics"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

// Tasklet is the body of one stage. It receives the step's own store handle and may publish
// its report to the StepExecution's execution context.
type Tasklet interface {
	Execute(ctx context.Context, st store.Store, stepExecution *model.StepExecution) (model.ExitStatus, error)
}

// TaskletFunc adapts a function to Tasklet.
type TaskletFunc func(ctx context.Context, st store.Store, stepExecution *model.StepExecution) (model.ExitStatus, error)

func (f TaskletFunc) Execute(ctx context.Context, st store.Store, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	return f(ctx, st, stepExecution)
}

// TaskletStep runs a Tasklet for one Stage.
type TaskletStep struct {
	stage          Stage
	pipeline       Pipeline
	tasklet        Tasklet
	opener         store.Opener
	jobRepository  repository.JobRepository
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
	logDir         string
}

// NewTaskletStep creates a new TaskletStep instance. pipeline is consulted to name the
// producing stage when a required table is missing.
func NewTaskletStep(
	stage Stage,
	pipeline Pipeline,
	tasklet Tasklet,
	opener store.Opener,
	jobRepository repository.JobRepository,
	metricRecorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	logDir string,
) *TaskletStep {
	return &TaskletStep{
		stage:          stage,
		pipeline:       pipeline,
		tasklet:        tasklet,
		opener:         opener,
		jobRepository:  jobRepository,
		metricRecorder: metricRecorder,
		tracer:         tracer,
		logDir:         logDir,
	}
}

// StepName returns the stage name.
func (s *TaskletStep) StepName() string {
	return s.stage.Name
}

// Execute runs the step within jobExecution and persists its StepExecution.
// Every record logged while the step runs also goes to the stage log file.
func (s *TaskletStep) Execute(ctx context.Context, jobExecution *model.JobExecution) (*model.StepExecution, error) {
	stepExecution := model.NewStepExecution(jobExecution, s.stage.Name)
	if err := s.jobRepository.SaveStepExecution(ctx, stepExecution); err != nil {
		return stepExecution, err
	}

	closeLog, err := logger.OpenStageLog(s.logDir, s.stage.LogName)
	if err != nil {
		wrapped := exception.NewBatchError(s.stage.Name, exception.KindIO, "failed to open stage log", err)
		stepExecution.MarkAsFailed(wrapped)
		s.persist(ctx, stepExecution)
		return stepExecution, wrapped
	}
	defer func() {
		if err := closeLog(); err != nil {
			logger.Warnf("Step '%s': failed to close stage log: %v", s.stage.Name, err)
		}
	}()

	ctx, endSpan := s.tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()

	logger.Infof("Step '%s' started (job execution %s).", s.stage.Name, jobExecution.ID)
	stepExecution.MarkAsStarted()
	s.metricRecorder.RecordStepStart(ctx, stepExecution)
	if err := s.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
		logger.Errorf("Step '%s': failed to update StepExecution status to STARTED: %v", s.stage.Name, err)
	}

	exitStatus, err := s.run(ctx, stepExecution)

	switch {
	case err != nil && ctx.Err() != nil:
		logger.Warnf("Step '%s' stopped: %v", s.stage.Name, err)
		s.tracer.RecordError(ctx, s.stage.Name, err)
		stepExecution.Failures = append(stepExecution.Failures, err.Error())
		stepExecution.MarkAsStopped()
	case err != nil:
		logger.Errorf("Step '%s' failed: %v", s.stage.Name, err)
		s.tracer.RecordError(ctx, s.stage.Name, err)
		stepExecution.MarkAsFailed(err)
	default:
		stepExecution.ExitStatus = exitStatus
		stepExecution.MarkAsCompleted()
	}

	s.metricRecorder.RecordStepEnd(ctx, stepExecution)
	s.persist(ctx, stepExecution)
	logger.Infof("Step '%s' finished in %s. ExitStatus: %s", s.stage.Name, stepExecution.Duration().Round(time.Millisecond), stepExecution.ExitStatus)
	return stepExecution, err
}

// run opens the step's store handle, checks required tables and runs the tasklet.
// The handle is closed before run returns, whatever the outcome.
func (s *TaskletStep) run(ctx context.Context, stepExecution *model.StepExecution) (exit model.ExitStatus, err error) {
	st, err := s.opener.Open(ctx)
	if err != nil {
		return model.ExitStatusFailed, err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr).ErrorOrNil()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			exit = model.ExitStatusFailed
			err = exception.NewBatchErrorf(s.stage.Name, exception.KindUnknown, "tasklet panicked: %v", r)
		}
	}()

	if err := s.checkRequirements(ctx, st); err != nil {
		return model.ExitStatusFailed, err
	}
	return s.tasklet.Execute(ctx, st, stepExecution)
}

func (s *TaskletStep) checkRequirements(ctx context.Context, st store.Store) error {
	for _, table := range s.stage.Requires {
		ok, err := st.TableExists(ctx, table)
		if err != nil {
			return err
		}
		if !ok {
			hint := ""
			if producer, found := s.pipeline.Producer(table); found {
				hint = fmt.Sprintf("; run %s first", producer.Name)
			}
			return exception.NewBatchErrorf(s.stage.Name, exception.KindQuery, "table '%s' does not exist%s", table, hint)
		}
	}
	return nil
}

func (s *TaskletStep) persist(ctx context.Context, stepExecution *model.StepExecution) {
	// The final state is written even after cancellation.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := s.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
		logger.Errorf("Step '%s': failed to update final StepExecution state: %v", s.stage.Name, err)
	}
}
