// Package repository defines the persistence port for job history.
package repository

import (
	"context"
	"errors"

	"github.com/tigerroll/taxiemissions/internal/domain/model"
)

// ErrJobExecutionNotFound is returned when a lookup by ID matches nothing.
var ErrJobExecutionNotFound = errors.New("job execution not found")

// JobRepository persists job and step executions.
type JobRepository interface {
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error
	UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// FindJobExecutionByID returns the execution with its step executions attached.
	FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error)
	// FindRecentJobExecutions returns up to limit executions, newest first, with their steps.
	FindRecentJobExecutions(ctx context.Context, limit int) ([]*model.JobExecution, error)
}
