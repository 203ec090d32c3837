package gormrepo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/domain/repository"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/database"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/repository/gormrepo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepository(t *testing.T) *gormrepo.GormJobRepository {
	t.Helper()
	db, err := database.Open(database.Config{Type: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(context.Background(), sqlDB))
	return gormrepo.NewJobRepository(db)
}

func TestJobExecution_SaveUpdateFind(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	je := model.NewJobExecution("taxiEmissionsJob", []string{"load", "clean"})
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	je.MarkAsStarted()
	se := model.NewStepExecution(je, "load")
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	se.MarkAsStarted()
	se.WriteCount = 42
	se.ExecutionContext.Put("report", model.LoadReport{EmissionFactorRows: 2})
	se.MarkAsCompleted()
	require.NoError(t, repo.UpdateStepExecution(ctx, se))

	je.MarkAsFailed(errors.New("[cleaner] run load first"))
	require.NoError(t, repo.UpdateJobExecution(ctx, je))

	found, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, "taxiEmissionsJob", found.JobName)
	assert.Equal(t, model.StringList{"load", "clean"}, found.Stages)
	assert.Equal(t, model.BatchStatusFailed, found.Status)
	assert.Equal(t, model.ExitStatusFailed, found.ExitStatus)
	assert.Equal(t, model.StringList{"[cleaner] run load first"}, found.Failures)
	require.NotNil(t, found.EndTime)

	require.Len(t, found.StepExecutions, 1)
	step := found.StepExecutions[0]
	assert.Equal(t, "load", step.StepName)
	assert.Equal(t, model.BatchStatusCompleted, step.Status)
	assert.Equal(t, int64(42), step.WriteCount)
	_, ok := step.ExecutionContext.Get("report")
	assert.True(t, ok)
	assert.Same(t, found, step.JobExecution)
}

func TestFindJobExecutionByID_NotFound(t *testing.T) {
	repo := setupRepository(t)
	_, err := repo.FindJobExecutionByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestUpdateJobExecution_NotFound(t *testing.T) {
	repo := setupRepository(t)
	je := model.NewJobExecution("taxiEmissionsJob", nil)
	err := repo.UpdateJobExecution(context.Background(), je)
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestFindRecentJobExecutions(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		je := model.NewJobExecution("taxiEmissionsJob", []string{"analyze"})
		je.CreateTime = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.SaveJobExecution(ctx, je))
		ids = append(ids, je.ID)
	}

	recent, err := repo.FindRecentJobExecutions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[1], recent[1].ID)
	assert.Empty(t, recent[0].StepExecutions)
}
