// Package gormrepo implements repository.JobRepository with gorm over the metadata database.
package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/domain/repository"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
)

const moduleName = "JobRepository"

// GormJobRepository implements the repository.JobRepository interface.
type GormJobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new instance of GormJobRepository.
func NewJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

func (r *GormJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	if err := r.db.WithContext(ctx).Create(fromDomainJobExecution(jobExecution)).Error; err != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to save JobExecution (ID: %s)", jobExecution.ID, err)
	}
	return nil
}

func (r *GormJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	jobExecution.LastUpdated = time.Now()
	entity := fromDomainJobExecution(jobExecution)
	res := r.db.WithContext(ctx).Model(entity).Select("*").Updates(entity)
	if res.Error != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to update JobExecution (ID: %s)", jobExecution.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return exception.NewBatchErrorf(moduleName, exception.KindQuery, "JobExecution (ID: %s) not found for update", jobExecution.ID, repository.ErrJobExecutionNotFound)
	}
	return nil
}

func (r *GormJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	if err := r.db.WithContext(ctx).Create(fromDomainStepExecution(stepExecution)).Error; err != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to save StepExecution (ID: %s)", stepExecution.ID, err)
	}
	return nil
}

func (r *GormJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	stepExecution.LastUpdated = time.Now()
	entity := fromDomainStepExecution(stepExecution)
	res := r.db.WithContext(ctx).Model(entity).Select("*").Updates(entity)
	if res.Error != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to update StepExecution (ID: %s)", stepExecution.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return exception.NewBatchErrorf(moduleName, exception.KindQuery, "StepExecution (ID: %s) not found for update", stepExecution.ID)
	}
	return nil
}

func (r *GormJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	var entity JobExecutionEntity
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobExecutionNotFound
	}
	if err != nil {
		return nil, exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to find JobExecution by ID: %s", id, err)
	}
	je := toDomainJobExecution(&entity)
	if err := r.attachSteps(ctx, je); err != nil {
		return nil, err
	}
	return je, nil
}

func (r *GormJobRepository) FindRecentJobExecutions(ctx context.Context, limit int) ([]*model.JobExecution, error) {
	var entities []JobExecutionEntity
	err := r.db.WithContext(ctx).Order("create_time desc").Limit(limit).Find(&entities).Error
	if err != nil {
		return nil, exception.NewBatchError(moduleName, exception.KindIO, "failed to list recent JobExecutions", err)
	}
	executions := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		je := toDomainJobExecution(&entities[i])
		if err := r.attachSteps(ctx, je); err != nil {
			return nil, err
		}
		executions = append(executions, je)
	}
	return executions, nil
}

func (r *GormJobRepository) attachSteps(ctx context.Context, je *model.JobExecution) error {
	var entities []StepExecutionEntity
	err := r.db.WithContext(ctx).Where("job_execution_id = ?", je.ID).Order("start_time asc").Find(&entities).Error
	if err != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to find StepExecutions by JobExecution ID: %s", je.ID, err)
	}
	je.StepExecutions = make([]*model.StepExecution, len(entities))
	for i := range entities {
		je.StepExecutions[i] = toDomainStepExecution(&entities[i], je)
	}
	return nil
}

var _ repository.JobRepository = (*GormJobRepository)(nil)
