// internal/engine/task_engine_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/mocks"
)

// -- Mock Implementations --

type mockRunner struct {
	runFunc func(ctx context.Context, task schemas.ApplicationTask, onProgress schemas.ProgressFunc) (*schemas.ApplicationOutcome, error)
	calls   atomic.Int32
}

func (m *mockRunner) RunWithProgress(ctx context.Context, task schemas.ApplicationTask, onProgress schemas.ProgressFunc) (*schemas.ApplicationOutcome, error) {
	m.calls.Add(1)
	if m.runFunc != nil {
		return m.runFunc(ctx, task, onProgress)
	}
	return &schemas.ApplicationOutcome{TaskID: task.ID, Success: true, Reason: schemas.ReasonSucceeded}, nil
}

type recordingTracker struct {
	mu       sync.Mutex
	started  []string
	finished map[string]*schemas.ApplicationOutcome
	progress []schemas.Progress
}

func (r *recordingTracker) Track(ctx context.Context, task schemas.ApplicationTask) (context.Context, schemas.ProgressFunc, func(*schemas.ApplicationOutcome, error)) {
	r.mu.Lock()
	r.started = append(r.started, task.ID)
	r.mu.Unlock()
	onProgress := func(p schemas.Progress) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.progress = append(r.progress, p)
	}
	return ctx, onProgress, func(out *schemas.ApplicationOutcome, err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.finished == nil {
			r.finished = map[string]*schemas.ApplicationOutcome{}
		}
		r.finished[task.ID] = out
	}
}

func newMockConfig(engineCfg config.EngineConfig) *mocks.MockConfig {
	cfg := new(mocks.MockConfig)
	cfg.On("Engine").Return(engineCfg)
	return cfg
}

// -- Test Suite --

func TestNew_ValidatesDependencies(t *testing.T) {
	cfg := newMockConfig(config.EngineConfig{})
	store := new(mocks.MockOutcomeStore)
	runner := &mockRunner{}

	_, err := New(nil, zap.NewNop(), store, runner, nil)
	assert.Error(t, err)
	_, err = New(cfg, nil, store, runner, nil)
	assert.Error(t, err)
	_, err = New(cfg, zap.NewNop(), nil, runner, nil)
	assert.Error(t, err)
	_, err = New(cfg, zap.NewNop(), store, nil, nil)
	assert.Error(t, err)
	_, err = New(cfg, zap.NewNop(), store, runner, nil)
	assert.NoError(t, err)
}

func TestTaskEngine_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := newMockConfig(config.EngineConfig{WorkerConcurrency: 2, DefaultTaskTimeout: 5 * time.Second})
	store := new(mocks.MockOutcomeStore)
	tracker := &recordingTracker{}
	runner := &mockRunner{runFunc: func(ctx context.Context, task schemas.ApplicationTask, onProgress schemas.ProgressFunc) (*schemas.ApplicationOutcome, error) {
		onProgress(schemas.Progress{TaskID: task.ID, Iteration: 1, Message: "attempt 1/15: click #apply"})
		return &schemas.ApplicationOutcome{TaskID: task.ID, Success: true}, nil
	}}

	engine, err := New(cfg, zap.NewNop(), store, runner, tracker)
	require.NoError(t, err)

	numTasks := 3
	store.On("SaveOutcome", mock.Anything, mock.AnythingOfType("*schemas.ApplicationOutcome")).Return(nil).Times(numTasks)

	taskChan := make(chan schemas.ApplicationTask, 10)
	engine.Start(context.Background(), taskChan)
	engine.Start(context.Background(), taskChan) // second start is ignored

	for i := 0; i < numTasks; i++ {
		taskChan <- schemas.ApplicationTask{ID: fmt.Sprintf("task-%d", i), TargetURL: "https://example.com/apply"}
	}
	close(taskChan)
	engine.Stop()

	store.AssertExpectations(t)
	assert.EqualValues(t, numTasks, runner.calls.Load())
	assert.Len(t, tracker.started, numTasks)
	assert.Len(t, tracker.finished, numTasks)
	assert.Len(t, tracker.progress, numTasks)
}

func TestTaskEngine_PersistsEnvironmentFailureOutcome(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := newMockConfig(config.EngineConfig{WorkerConcurrency: 1})
	store := new(mocks.MockOutcomeStore)
	runner := &mockRunner{runFunc: func(ctx context.Context, task schemas.ApplicationTask, _ schemas.ProgressFunc) (*schemas.ApplicationOutcome, error) {
		return &schemas.ApplicationOutcome{TaskID: task.ID, Reason: schemas.ReasonEnvironment},
			&schemas.EnvironmentFailure{Op: "open browser", Err: schemas.ErrBrowserUnavailable}
	}}
	store.On("SaveOutcome", mock.Anything, mock.MatchedBy(func(o *schemas.ApplicationOutcome) bool {
		return o.Reason == schemas.ReasonEnvironment
	})).Return(nil).Once()

	engine, err := New(cfg, zap.NewNop(), store, runner, nil)
	require.NoError(t, err)

	taskChan := make(chan schemas.ApplicationTask, 1)
	engine.Start(context.Background(), taskChan)
	taskChan <- schemas.ApplicationTask{ID: "task-env", TargetURL: "https://example.com"}
	close(taskChan)
	engine.Stop()

	store.AssertExpectations(t)
}

func TestTaskEngine_NilOutcomeNotPersisted(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := newMockConfig(config.EngineConfig{WorkerConcurrency: 1})
	store := new(mocks.MockOutcomeStore)
	runner := &mockRunner{runFunc: func(context.Context, schemas.ApplicationTask, schemas.ProgressFunc) (*schemas.ApplicationOutcome, error) {
		return nil, errors.New("runner exploded")
	}}

	engine, err := New(cfg, zap.NewNop(), store, runner, nil)
	require.NoError(t, err)

	taskChan := make(chan schemas.ApplicationTask, 1)
	engine.Start(context.Background(), taskChan)
	taskChan <- schemas.ApplicationTask{ID: "task-nil"}
	close(taskChan)
	engine.Stop()

	store.AssertNotCalled(t, "SaveOutcome", mock.Anything, mock.Anything)
}

func TestTaskEngine_StoreErrorIsLogged(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := newMockConfig(config.EngineConfig{WorkerConcurrency: 1})
	store := new(mocks.MockOutcomeStore)
	store.On("SaveOutcome", mock.Anything, mock.Anything).Return(errors.New("db down")).Twice()

	engine, err := New(cfg, zap.NewNop(), store, &mockRunner{}, nil)
	require.NoError(t, err)

	taskChan := make(chan schemas.ApplicationTask, 2)
	engine.Start(context.Background(), taskChan)
	taskChan <- schemas.ApplicationTask{ID: "a"}
	taskChan <- schemas.ApplicationTask{ID: "b"}
	close(taskChan)
	engine.Stop()

	// A failed save does not stop the worker from taking the next task.
	store.AssertExpectations(t)
}

func TestTaskEngine_ContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := newMockConfig(config.EngineConfig{WorkerConcurrency: 2, DefaultTaskTimeout: time.Minute})
	store := new(mocks.MockOutcomeStore)
	store.On("SaveOutcome", mock.Anything, mock.Anything).Return(nil)

	started := make(chan struct{}, 2)
	runner := &mockRunner{runFunc: func(ctx context.Context, task schemas.ApplicationTask, _ schemas.ProgressFunc) (*schemas.ApplicationOutcome, error) {
		started <- struct{}{}
		<-ctx.Done()
		return &schemas.ApplicationOutcome{TaskID: task.ID, Reason: schemas.ReasonCancelled}, nil
	}}

	engine, err := New(cfg, zap.NewNop(), store, runner, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	taskChan := make(chan schemas.ApplicationTask, 2)
	engine.Start(ctx, taskChan)
	taskChan <- schemas.ApplicationTask{ID: "task-1"}
	taskChan <- schemas.ApplicationTask{ID: "task-2"}

	<-started
	<-started
	cancel()

	done := make(chan struct{})
	go func() {
		engine.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}

	// Cancelled attempts still record how far they got.
	store.AssertNumberOfCalls(t, "SaveOutcome", 2)
}

func TestTaskEngine_TaskTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := newMockConfig(config.EngineConfig{WorkerConcurrency: 1, DefaultTaskTimeout: 20 * time.Millisecond})
	store := new(mocks.MockOutcomeStore)
	store.On("SaveOutcome", mock.Anything, mock.Anything).Return(nil).Once()

	var sawDeadline atomic.Bool
	runner := &mockRunner{runFunc: func(ctx context.Context, task schemas.ApplicationTask, _ schemas.ProgressFunc) (*schemas.ApplicationOutcome, error) {
		<-ctx.Done()
		sawDeadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return &schemas.ApplicationOutcome{TaskID: task.ID, Reason: schemas.ReasonDeadlineExceeded}, nil
	}}

	engine, err := New(cfg, zap.NewNop(), store, runner, nil)
	require.NoError(t, err)

	taskChan := make(chan schemas.ApplicationTask, 1)
	engine.Start(context.Background(), taskChan)
	taskChan <- schemas.ApplicationTask{ID: "slow"}
	close(taskChan)
	engine.Stop()

	assert.True(t, sawDeadline.Load())
	store.AssertExpectations(t)
}
