// internal/engine/task_engine.go
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

// -- Interfaces for Dependency Inversion --

// Runner executes one application attempt. navigator.Navigator satisfies it.
type Runner interface {
	RunWithProgress(ctx context.Context, task schemas.ApplicationTask, onProgress schemas.ProgressFunc) (*schemas.ApplicationOutcome, error)
}

// Tracker observes attempts as they run. Track may wrap ctx so the attempt
// can be cancelled from outside; the returned func is called exactly once
// with the final outcome.
type Tracker interface {
	Track(ctx context.Context, task schemas.ApplicationTask) (context.Context, schemas.ProgressFunc, func(*schemas.ApplicationOutcome, error))
}

type noopTracker struct{}

func (noopTracker) Track(ctx context.Context, _ schemas.ApplicationTask) (context.Context, schemas.ProgressFunc, func(*schemas.ApplicationOutcome, error)) {
	return ctx, nil, func(*schemas.ApplicationOutcome, error) {}
}

// TaskEngine distributes application tasks over a pool of workers. Each
// worker runs one attempt at a time, so each owns at most one browser.
type TaskEngine struct {
	cfg     config.Interface
	logger  *zap.Logger
	store   schemas.OutcomeStore
	runner  Runner
	tracker Tracker
	group   *errgroup.Group

	stateLock sync.Mutex
	isRunning bool
}

// New creates a TaskEngine. tracker may be nil.
func New(cfg config.Interface, logger *zap.Logger, store schemas.OutcomeStore, runner Runner, tracker Tracker) (*TaskEngine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if store == nil {
		return nil, errors.New("outcome store cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if tracker == nil {
		tracker = noopTracker{}
	}

	return &TaskEngine{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "task_engine")),
		store:   store,
		runner:  runner,
		tracker: tracker,
	}, nil
}

// Start launches the worker pool consuming taskChan. Workers exit when the
// channel is closed and drained, or when ctx is cancelled.
func (e *TaskEngine) Start(ctx context.Context, taskChan <-chan schemas.ApplicationTask) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		e.logger.Warn("TaskEngine.Start called, but engine is already running.")
		return
	}
	e.isRunning = true
	e.group = new(errgroup.Group)
	e.stateLock.Unlock()

	concurrency := e.cfg.Engine().WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	e.logger.Info("Starting task engine worker pool", zap.Int("concurrency", concurrency))
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		e.group.Go(func() error {
			e.runWorker(ctx, workerID, taskChan)
			return nil
		})
	}
}

// Stop waits for every worker to exit.
func (e *TaskEngine) Stop() {
	e.stateLock.Lock()
	group := e.group
	e.stateLock.Unlock()
	if group == nil {
		return
	}

	e.logger.Info("Stopping task engine... waiting for workers to finish.")
	_ = group.Wait()

	e.stateLock.Lock()
	e.isRunning = false
	e.group = nil
	e.stateLock.Unlock()
	e.logger.Info("Task engine stopped gracefully.")
}

func (e *TaskEngine) runWorker(ctx context.Context, workerID int, taskChan <-chan schemas.ApplicationTask) {
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, worker shutting down.", zap.Error(ctx.Err()))
			return
		case task, ok := <-taskChan:
			if !ok {
				logger.Debug("Task queue closed and drained, worker shutting down.")
				return
			}
			e.process(ctx, task, logger)
		}
	}
}

// process runs one attempt and persists its outcome. Outcomes of cancelled
// or timed-out attempts are persisted too; they record how far the attempt got.
func (e *TaskEngine) process(ctx context.Context, task schemas.ApplicationTask, logger *zap.Logger) {
	logger = logger.With(zap.String("task_id", task.ID))
	if ctx.Err() != nil {
		logger.Warn("Context cancelled before task processing started", zap.Error(ctx.Err()))
		return
	}
	logger.Info("Processing application task", zap.String("target", task.TargetURL))

	taskTimeout := e.cfg.Engine().DefaultTaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 12 * time.Minute
	}
	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	taskCtx, onProgress, done := e.tracker.Track(taskCtx, task)
	outcome, err := e.runner.RunWithProgress(taskCtx, task, onProgress)
	done(outcome, err)

	if err != nil {
		if schemas.IsEnvironmentFailure(err) {
			logger.Error("Attempt aborted by the environment", zap.Error(err))
		} else {
			logger.Error("Attempt failed with unexpected error", zap.Error(err))
		}
	}
	if outcome == nil {
		return
	}

	// Persist even when the parent context is shutting down.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer persistCancel()
	if err := e.store.SaveOutcome(persistCtx, outcome); err != nil {
		logger.Error("Failed to persist application outcome", zap.Error(err))
		return
	}
	logger.Info("Application outcome persisted",
		zap.Bool("success", outcome.Success),
		zap.String("reason", outcome.Reason))
}
