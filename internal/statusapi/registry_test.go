package statusapi

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

func testTask(id string) schemas.ApplicationTask {
	return schemas.ApplicationTask{ID: id, TargetURL: "https://jobs.example.com/apply/" + id}
}

func TestRegistry_TrackLifecycle(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	task := testTask("t1")
	r.Register(task)

	job, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, job.Status)

	ctx, onProgress, done := r.Track(context.Background(), task)
	require.NotNil(t, onProgress)
	job, _ = r.Get("t1")
	assert.Equal(t, StatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)

	onProgress(schemas.Progress{TaskID: "t1", Iteration: 1, Message: "attempt 1/15: click #apply"})
	onProgress(schemas.Progress{TaskID: "t1", Iteration: 2, Message: "attempt 2/15: declare_success"})

	done(&schemas.ApplicationOutcome{TaskID: "t1", Success: true, Reason: schemas.ReasonSucceeded}, nil)

	job, _ = r.Get("t1")
	assert.Equal(t, StatusSucceeded, job.Status)
	require.NotNil(t, job.Latest)
	assert.Equal(t, 2, job.Latest.Iteration)
	require.NotNil(t, job.Outcome)
	assert.NotNil(t, job.FinishedAt)
	assert.Error(t, ctx.Err(), "the tracked context is released when the attempt finishes")

	updates, ok := r.Progress("t1")
	require.True(t, ok)
	assert.Len(t, updates, 2)
}

func TestRegistry_ProgressIsBounded(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	_, onProgress, done := r.Track(context.Background(), testTask("t1"))
	defer done(nil, nil)

	for i := 1; i <= progressLimit+20; i++ {
		onProgress(schemas.Progress{Iteration: i})
	}
	updates, _ := r.Progress("t1")
	require.Len(t, updates, progressLimit)
	assert.Equal(t, 21, updates[0].Iteration, "oldest updates are evicted first")
}

func TestRegistry_CancelRunning(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	ctx, _, done := r.Track(context.Background(), testTask("t1"))

	require.NoError(t, r.Cancel("t1"))
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}

	done(&schemas.ApplicationOutcome{Reason: schemas.ReasonCancelled}, nil)
	job, _ := r.Get("t1")
	assert.Equal(t, StatusCancelled, job.Status)
	assert.ErrorIs(t, r.Cancel("t1"), ErrTaskFinished)
}

func TestRegistry_CancelPendingStopsOnStart(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	r.Register(testTask("t1"))
	require.NoError(t, r.Cancel("t1"))

	ctx, _, done := r.Track(context.Background(), testTask("t1"))
	defer done(nil, nil)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestRegistry_CancelUnknown(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	assert.ErrorIs(t, r.Cancel("nope"), ErrUnknownTask)
}

func TestRegistry_FailureStatuses(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	_, _, done := r.Track(context.Background(), testTask("env"))
	done(&schemas.ApplicationOutcome{Reason: schemas.ReasonEnvironment}, errors.New("browser unavailable"))
	job, _ := r.Get("env")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "browser unavailable", job.Error)

	_, _, done = r.Track(context.Background(), testTask("blocked"))
	done(&schemas.ApplicationOutcome{Reason: "declared_blocked: login wall"}, nil)
	job, _ = r.Get("blocked")
	assert.Equal(t, StatusFailed, job.Status)

	// A cancelled reason without an explicit cancel request is a failure, e.g. engine shutdown.
	_, _, done = r.Track(context.Background(), testTask("shutdown"))
	done(&schemas.ApplicationOutcome{Reason: schemas.ReasonCancelled}, nil)
	job, _ = r.Get("shutdown")
	assert.Equal(t, StatusFailed, job.Status)
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	for i := 1; i <= 3; i++ {
		r.Register(testTask(fmt.Sprintf("t%d", i)))
	}

	jobs := r.List()
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{"t3", "t2", "t1"}, []string{jobs[0].TaskID, jobs[1].TaskID, jobs[2].TaskID})
}
