// File: internal/statusapi/registry.go
package statusapi

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

// progressLimit bounds the progress history kept per job.
const progressLimit = 100

var (
	ErrUnknownTask  = errors.New("unknown task")
	ErrTaskFinished = errors.New("task already finished")
)

type entry struct {
	job      Job
	progress []schemas.Progress
	cancel   context.CancelFunc
	// cancelRequested is set when Cancel arrives before the attempt starts.
	cancelRequested bool
}

// Registry tracks submitted and running attempts in memory. It implements
// engine.Tracker so the engine reports progress and outcomes into it.
type Registry struct {
	log *zap.Logger
	now func() time.Time

	mu   sync.RWMutex
	jobs map[string]*entry
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		log:  logger.Named("status_registry"),
		now:  time.Now,
		jobs: make(map[string]*entry),
	}
}

// Register records a task as pending. Registering a known task id resets it.
func (r *Registry) Register(task schemas.ApplicationTask) Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry{job: Job{
		TaskID:      task.ID,
		Target:      task.TargetURL,
		Status:      StatusPending,
		SubmittedAt: r.now(),
	}}
	r.jobs[task.ID] = e
	return e.job
}

// Forget drops a task, used when it could not be queued.
func (r *Registry) Forget(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, taskID)
}

// Track marks the task running and returns a cancellable context, a progress
// sink and the completion callback.
func (r *Registry) Track(ctx context.Context, task schemas.ApplicationTask) (context.Context, schemas.ProgressFunc, func(*schemas.ApplicationOutcome, error)) {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	e, ok := r.jobs[task.ID]
	if !ok {
		e = &entry{job: Job{TaskID: task.ID, Target: task.TargetURL, SubmittedAt: r.now()}}
		r.jobs[task.ID] = e
	}
	started := r.now()
	e.job.Status = StatusRunning
	e.job.StartedAt = &started
	e.cancel = cancel
	if e.cancelRequested {
		cancel()
	}
	r.mu.Unlock()

	onProgress := func(p schemas.Progress) {
		r.mu.Lock()
		defer r.mu.Unlock()
		e.progress = append(e.progress, p)
		if len(e.progress) > progressLimit {
			e.progress = e.progress[len(e.progress)-progressLimit:]
		}
		latest := p
		e.job.Latest = &latest
	}

	done := func(out *schemas.ApplicationOutcome, err error) {
		defer cancel()
		r.mu.Lock()
		defer r.mu.Unlock()
		finished := r.now()
		e.job.FinishedAt = &finished
		e.job.Outcome = out
		e.cancel = nil
		switch {
		case err != nil:
			e.job.Status = StatusFailed
			e.job.Error = err.Error()
		case out == nil:
			e.job.Status = StatusFailed
		case out.Success:
			e.job.Status = StatusSucceeded
		case e.cancelRequested && out.Reason == schemas.ReasonCancelled:
			e.job.Status = StatusCancelled
		default:
			e.job.Status = StatusFailed
		}
		r.log.Info("Task finished", zap.String("task_id", task.ID), zap.String("status", string(e.job.Status)))
	}

	return ctx, onProgress, done
}

// Cancel stops a running attempt, or marks a pending one so it stops as soon
// as it starts.
func (r *Registry) Cancel(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[taskID]
	if !ok {
		return ErrUnknownTask
	}
	if e.job.Status.Finished() {
		return ErrTaskFinished
	}
	e.cancelRequested = true
	if e.cancel != nil {
		e.cancel()
	}
	r.log.Info("Cancellation requested", zap.String("task_id", taskID))
	return nil
}

// Get returns a copy of the job state.
func (r *Registry) Get(taskID string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[taskID]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// Progress returns the retained progress updates for a task, oldest first.
func (r *Registry) Progress(taskID string) ([]schemas.Progress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[taskID]
	if !ok {
		return nil, false
	}
	return append([]schemas.Progress(nil), e.progress...), true
}

// List returns every job, most recently submitted first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		jobs = append(jobs, e.job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].SubmittedAt.Equal(jobs[j].SubmittedAt) {
			return jobs[i].TaskID < jobs[j].TaskID
		}
		return jobs[i].SubmittedAt.After(jobs[j].SubmittedAt)
	})
	return jobs
}
