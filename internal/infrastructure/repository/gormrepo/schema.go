package gormrepo

import (
	"time"

	"github.com/tigerroll/taxiemissions/internal/domain/model"
)

// JobExecutionEntity is the persisted form of model.JobExecution.
type JobExecutionEntity struct {
	ID               string `gorm:"primaryKey"`
	JobName          string
	Stages           model.StringList
	Status           model.BatchStatus
	ExitStatus       model.ExitStatus
	Failures         model.StringList
	CreateTime       time.Time
	StartTime        *time.Time
	EndTime          *time.Time
	LastUpdated      time.Time
	ExecutionContext model.ExecutionContext
}

func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepExecutionEntity is the persisted form of model.StepExecution.
type StepExecutionEntity struct {
	ID               string `gorm:"primaryKey"`
	JobExecutionID   string
	StepName         string
	Status           model.BatchStatus
	ExitStatus       model.ExitStatus
	Failures         model.StringList
	StartTime        *time.Time
	EndTime          *time.Time
	LastUpdated      time.Time
	ExecutionContext model.ExecutionContext
	WriteCount       int64
}

func (StepExecutionEntity) TableName() string {
	return "batch_step_execution"
}

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	return &JobExecutionEntity{
		ID:               je.ID,
		JobName:          je.JobName,
		Stages:           je.Stages,
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		Failures:         je.Failures,
		CreateTime:       je.CreateTime,
		StartTime:        je.StartTime,
		EndTime:          je.EndTime,
		LastUpdated:      je.LastUpdated,
		ExecutionContext: je.ExecutionContext,
	}
}

func toDomainJobExecution(e *JobExecutionEntity) *model.JobExecution {
	return &model.JobExecution{
		ID:               e.ID,
		JobName:          e.JobName,
		Stages:           e.Stages,
		Status:           e.Status,
		ExitStatus:       e.ExitStatus,
		Failures:         e.Failures,
		CreateTime:       e.CreateTime,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		LastUpdated:      e.LastUpdated,
		ExecutionContext: e.ExecutionContext,
	}
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	return &StepExecutionEntity{
		ID:               se.ID,
		JobExecutionID:   se.JobExecutionID,
		StepName:         se.StepName,
		Status:           se.Status,
		ExitStatus:       se.ExitStatus,
		Failures:         se.Failures,
		StartTime:        se.StartTime,
		EndTime:          se.EndTime,
		LastUpdated:      se.LastUpdated,
		ExecutionContext: se.ExecutionContext,
		WriteCount:       se.WriteCount,
	}
}

func toDomainStepExecution(e *StepExecutionEntity, je *model.JobExecution) *model.StepExecution {
	return &model.StepExecution{
		ID:               e.ID,
		StepName:         e.StepName,
		JobExecution:     je,
		JobExecutionID:   e.JobExecutionID,
		Status:           e.Status,
		ExitStatus:       e.ExitStatus,
		Failures:         e.Failures,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		LastUpdated:      e.LastUpdated,
		ExecutionContext: e.ExecutionContext,
		WriteCount:       e.WriteCount,
	}
}
