package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/taxiemissions/internal/adapter/store"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/domain/repository"
	"github.com/tigerroll/taxiemissions/internal/engine"
	"github.com/tigerroll/taxiemissions/internal/infrastructure/metrics"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
)

// memoryRepository keeps executions in maps.
type memoryRepository struct {
	mu    sync.Mutex
	jobs  map[string]model.JobExecution
	steps map[string]model.StepExecution
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{jobs: map[string]model.JobExecution{}, steps: map[string]model.StepExecution{}}
}

func (r *memoryRepository) SaveJobExecution(_ context.Context, je *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[je.ID] = *je
	return nil
}

func (r *memoryRepository) UpdateJobExecution(ctx context.Context, je *model.JobExecution) error {
	return r.SaveJobExecution(ctx, je)
}

func (r *memoryRepository) SaveStepExecution(_ context.Context, se *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[se.ID] = *se
	return nil
}

func (r *memoryRepository) UpdateStepExecution(ctx context.Context, se *model.StepExecution) error {
	return r.SaveStepExecution(ctx, se)
}

func (r *memoryRepository) FindJobExecutionByID(_ context.Context, id string) (*model.JobExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	je, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return &je, nil
}

func (r *memoryRepository) FindRecentJobExecutions(context.Context, int) ([]*model.JobExecution, error) {
	return nil, nil
}

// countingOpener hands out in-memory DuckDB stores sharing one seeded schema script.
type countingOpener struct {
	seed   []string
	opened int
	closed int
}

type countingStore struct {
	store.Store
	o *countingOpener
}

func (s *countingStore) Close() error {
	s.o.closed++
	return s.Store.Close()
}

func (o *countingOpener) Open(ctx context.Context) (store.Store, error) {
	st, err := store.OpenDuckDB(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	for _, stmt := range o.seed {
		if _, err := st.Exec(ctx, stmt); err != nil {
			return nil, err
		}
	}
	o.opened++
	return &countingStore{Store: st, o: o}, nil
}

// testPipeline mirrors the default stage order without table requirements.
func testPipeline() engine.Pipeline {
	p := engine.DefaultPipeline()
	for i := range p {
		p[i].Requires = nil
	}
	return p
}

func recordingTasklets(order *[]string, failOn string) engine.Tasklets {
	tasklets := engine.Tasklets{}
	for _, name := range engine.DefaultPipeline().Names() {
		name := name
		tasklets[name] = engine.TaskletFunc(func(ctx context.Context, st store.Store, se *model.StepExecution) (model.ExitStatus, error) {
			*order = append(*order, name)
			if name == failOn {
				return model.ExitStatusFailed, exception.NewBatchError(name, exception.KindDataQuality, "boom", nil)
			}
			se.ExecutionContext.Put("stage", name)
			return model.ExitStatusCompleted, nil
		})
	}
	return tasklets
}

func newRunner(t *testing.T, tasklets engine.Tasklets, opener store.Opener, repo repository.JobRepository) (*engine.JobRunner, string) {
	t.Helper()
	logDir := t.TempDir()
	return engine.NewJobRunner("taxiEmissionsJob", testPipeline(), tasklets, opener, repo,
		metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer(), logDir), logDir
}

func TestPipeline_SelectUsesCanonicalOrder(t *testing.T) {
	p := engine.DefaultPipeline()
	assert.Equal(t, []string{"load", "clean", "transform", "analyze"}, p.Names())

	selected, err := p.Select("analyze", "LOAD", "clean")
	require.NoError(t, err)
	assert.Equal(t, []string{"load", "clean", "analyze"}, selected.Names())

	all, err := p.Select()
	require.NoError(t, err)
	assert.Equal(t, p.Names(), all.Names())

	_, err = p.Select("load", "publish")
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConfig))
}

func TestPipeline_DescribesTables(t *testing.T) {
	p := engine.DefaultPipeline()
	clean, err := p.Select("clean")
	require.NoError(t, err)
	assert.Equal(t, []string{"yellow_taxi_all_years", "green_taxi_all_years"}, clean[0].Requires)
	assert.Equal(t, "analysis", p[3].LogName)

	producer, ok := p.Producer("vehicle_emissions")
	require.True(t, ok)
	assert.Equal(t, "load", producer.Name)
	producer, ok = p.Producer("green_taxi_data_transformed")
	require.True(t, ok)
	assert.Equal(t, "transform", producer.Name)
}

func TestJobRunner_RunsStagesInOrder(t *testing.T) {
	var order []string
	opener := &countingOpener{}
	repo := newMemoryRepository()
	runner, logDir := newRunner(t, recordingTasklets(&order, ""), opener, repo)

	stages, err := runner.Pipeline().Select("transform", "load")
	require.NoError(t, err)
	je, err := runner.Run(context.Background(), stages)
	require.NoError(t, err)

	assert.Equal(t, []string{"load", "transform"}, order)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitStatusCompleted, je.ExitStatus)
	require.Len(t, je.StepExecutions, 2)
	for _, se := range je.StepExecutions {
		assert.Equal(t, model.BatchStatusCompleted, se.Status)
		v, ok := se.ExecutionContext.Get("stage")
		require.True(t, ok)
		assert.Equal(t, se.StepName, v)
	}
	assert.Equal(t, 2, opener.opened, "one store handle per step")
	assert.Equal(t, 2, opener.closed)

	stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Len(t, repo.steps, 2)

	for _, name := range []string{"load.log", "transform.log"} {
		content, err := os.ReadFile(filepath.Join(logDir, name))
		require.NoError(t, err)
		assert.Contains(t, string(content), "Step '"+name[:len(name)-4]+"' started")
	}
	_, err = os.Stat(filepath.Join(logDir, "clean.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestJobRunner_StopsAtFirstFailure(t *testing.T) {
	var order []string
	opener := &countingOpener{}
	runner, _ := newRunner(t, recordingTasklets(&order, "clean"), opener, newMemoryRepository())

	je, err := runner.Run(context.Background(), runner.Pipeline())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindDataQuality))

	assert.Equal(t, []string{"load", "clean"}, order)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	require.Len(t, je.StepExecutions, 2)
	assert.Equal(t, model.BatchStatusFailed, je.StepExecutions[1].Status)
	assert.Equal(t, model.StringList{"[clean] boom"}, je.Failures)
	assert.Equal(t, opener.opened, opener.closed, "handles are closed on failure too")
}

func TestJobRunner_MissingRequiredTable(t *testing.T) {
	var order []string
	runner := engine.NewJobRunner("taxiEmissionsJob", engine.DefaultPipeline(), recordingTasklets(&order, ""),
		&countingOpener{}, newMemoryRepository(), metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer(), t.TempDir())

	stages, err := runner.Pipeline().Select("clean")
	require.NoError(t, err)
	je, err := runner.Run(context.Background(), stages)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindQuery))
	assert.Contains(t, err.Error(), "table 'yellow_taxi_all_years' does not exist; run load first")
	assert.Empty(t, order)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
}

func TestJobRunner_RequiredTablesPresent(t *testing.T) {
	var order []string
	opener := &countingOpener{seed: []string{
		"CREATE TABLE yellow_taxi_data_transformed (trip_co2_kgs DOUBLE)",
		"CREATE TABLE green_taxi_data_transformed (trip_co2_kgs DOUBLE)",
	}}
	runner := engine.NewJobRunner("taxiEmissionsJob", engine.DefaultPipeline(), recordingTasklets(&order, ""),
		opener, newMemoryRepository(), metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer(), t.TempDir())

	stages, err := runner.Pipeline().Select("analyze")
	require.NoError(t, err)
	_, err = runner.Run(context.Background(), stages)
	require.NoError(t, err)
	assert.Equal(t, []string{"analyze"}, order)
}

func TestJobRunner_CancellationStopsJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var order []string
	tasklets := recordingTasklets(&order, "")
	tasklets[engine.StageLoad] = engine.TaskletFunc(func(ctx context.Context, _ store.Store, _ *model.StepExecution) (model.ExitStatus, error) {
		order = append(order, engine.StageLoad)
		cancel()
		return model.ExitStatusFailed, ctx.Err()
	})
	repo := newMemoryRepository()
	runner, _ := newRunner(t, tasklets, &countingOpener{}, repo)

	je, err := runner.Run(ctx, runner.Pipeline())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []string{"load"}, order)
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, model.BatchStatusStopped, je.StepExecutions[0].Status)

	stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status, "final state is persisted after cancellation")
}

func TestJobRunner_NoOpExitStatusIsKept(t *testing.T) {
	var order []string
	tasklets := recordingTasklets(&order, "")
	tasklets[engine.StageLoad] = engine.TaskletFunc(func(context.Context, store.Store, *model.StepExecution) (model.ExitStatus, error) {
		return model.ExitStatusNoOp, nil
	})
	runner, _ := newRunner(t, tasklets, &countingOpener{}, newMemoryRepository())

	stages, err := runner.Pipeline().Select("load")
	require.NoError(t, err)
	je, err := runner.Run(context.Background(), stages)
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusNoOp, je.StepExecutions[0].ExitStatus)
	assert.Equal(t, model.BatchStatusCompleted, je.StepExecutions[0].Status)
}

func TestJobRunner_TaskletPanicFailsStep(t *testing.T) {
	var order []string
	tasklets := recordingTasklets(&order, "")
	tasklets[engine.StageLoad] = engine.TaskletFunc(func(context.Context, store.Store, *model.StepExecution) (model.ExitStatus, error) {
		panic("unexpected")
	})
	opener := &countingOpener{}
	runner, _ := newRunner(t, tasklets, opener, newMemoryRepository())

	je, err := runner.Run(context.Background(), runner.Pipeline())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tasklet panicked: unexpected")
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, 1, opener.closed)
}

func TestJobRunner_RejectsUnregisteredStage(t *testing.T) {
	runner, _ := newRunner(t, engine.Tasklets{}, &countingOpener{}, newMemoryRepository())
	_, err := runner.Run(context.Background(), runner.Pipeline())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConfig))

	_, err = runner.Run(context.Background(), nil)
	require.Error(t, err)
}
