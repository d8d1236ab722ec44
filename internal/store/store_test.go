package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/sitememory"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

var anyTime = ArgumentMatcherFunc(func(v interface{}) bool {
	_, ok := v.(time.Time)
	return ok
})

// jsonContaining matches an encoded JSON argument that contains fragment.
func jsonContaining(fragment string) ArgumentMatcherFunc {
	return func(v interface{}) bool {
		b, ok := v.([]byte)
		return ok && strings.Contains(string(b), fragment)
	}
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return mockPool
}

func newTestStore(t *testing.T, mockPool pgxmock.PgxPoolIface, logger *zap.Logger) *Store {
	t.Helper()
	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s
}

func sampleOutcome() *schemas.ApplicationOutcome {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &schemas.ApplicationOutcome{
		TaskID:     "task-1",
		AttemptID:  "attempt-1",
		TargetURL:  "https://jobs.example.com/apply/42",
		Success:    true,
		Iterations: 2,
		Obstacle:   schemas.ObstacleNone,
		Reason:     schemas.ReasonSucceeded,
		Pattern: []schemas.IterationRecord{
			{
				Iteration: 1, Session: 1, URL: "https://jobs.example.com/apply/42",
				Proposal:  schemas.ActionProposal{Kind: schemas.ActionClick, Candidates: []string{"#apply"}, Source: schemas.SourceOracle},
				Result:    schemas.ExecutionResult{Success: true, Locator: "#apply"},
				Obstacle:  schemas.ObstacleNone,
				Timestamp: start.Add(time.Second),
			},
			{
				Iteration: 2, Session: 1, URL: "https://jobs.example.com/thanks",
				Proposal:  schemas.ActionProposal{Kind: schemas.ActionDeclareSuccess, Source: schemas.SourceOracle},
				Obstacle:  schemas.ObstacleNone,
				Timestamp: start.Add(2 * time.Second),
			},
		},
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool := newMockPool(t)
		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err := New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should create schema", func(t *testing.T) {
		mockPool := newMockPool(t)
		s := newTestStore(t, mockPool, zap.NewNop())
		mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS application_outcomes").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))

		require.NoError(t, s.EnsureSchema(context.Background()))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSaveOutcome(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert outcome and copy iterations", func(t *testing.T) {
		mockPool := newMockPool(t)
		s := newTestStore(t, mockPool, zap.NewNop())
		o := sampleOutcome()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOutcome)).
			WithArgs(o.AttemptID, o.TaskID, o.TargetURL, true, 2, 0, "none", schemas.ReasonSucceeded,
				jsonContaining(`"#apply"`), anyTime, anyTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"application_iterations"}, iterationColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()

		require.NoError(t, s.SaveOutcome(ctx, o))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should skip iterations when attempt already stored", func(t *testing.T) {
		mockPool := newMockPool(t)
		s := newTestStore(t, mockPool, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOutcome)).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mockPool.ExpectCommit()

		require.NoError(t, s.SaveOutcome(ctx, sampleOutcome()))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback when the copy count mismatches", func(t *testing.T) {
		mockPool := newMockPool(t)
		core, logs := observer.New(zapcore.ErrorLevel)
		s := newTestStore(t, mockPool, zap.New(core))

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOutcome)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"application_iterations"}, iterationColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.SaveOutcome(ctx, sampleOutcome())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied iterations count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, logs.Len(), "a clean rollback should not log errors")
	})

	t.Run("should rollback when insert fails", func(t *testing.T) {
		mockPool := newMockPool(t)
		s := newTestStore(t, mockPool, zap.NewNop())
		insertErr := errors.New("constraint violation")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOutcome)).WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.SaveOutcome(ctx, sampleOutcome())
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should log failed rollback", func(t *testing.T) {
		mockPool := newMockPool(t)
		core, logs := observer.New(zapcore.ErrorLevel)
		s := newTestStore(t, mockPool, zap.New(core))

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOutcome)).WillReturnError(errors.New("boom"))
		mockPool.ExpectRollback().WillReturnError(errors.New("connection reset"))

		require.Error(t, s.SaveOutcome(ctx, sampleOutcome()))
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "Failed to rollback transaction", logs.All()[0].Message)
	})

	t.Run("should reject nil outcome", func(t *testing.T) {
		mockPool := newMockPool(t)
		s := newTestStore(t, mockPool, zap.NewNop())
		assert.Error(t, s.SaveOutcome(ctx, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetOutcomesByTaskID(t *testing.T) {
	ctx := context.Background()
	mockPool := newMockPool(t)
	s := newTestStore(t, mockPool, zap.NewNop())
	o := sampleOutcome()
	pattern, err := json.Marshal(o.Pattern)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"attempt_id", "target_url", "success", "iterations", "restarts", "obstacle", "reason", "pattern", "started_at", "finished_at"}).
		AddRow(o.AttemptID, o.TargetURL, false, 5, 1, "login_required", "restarts_exhausted: declared_blocked", pattern, o.StartedAt, o.FinishedAt)
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectOutcomes)).WithArgs("task-1").WillReturnRows(rows)

	got, err := s.GetOutcomesByTaskID(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "task-1", got[0].TaskID)
	assert.Equal(t, schemas.ObstacleLoginRequired, got[0].Obstacle)
	assert.Equal(t, 1, got[0].Restarts)
	require.Len(t, got[0].Pattern, 2)
	assert.Equal(t, []string{"#apply"}, got[0].Pattern[0].Proposal.Candidates)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSiteMemoryPersistence(t *testing.T) {
	ctx := context.Background()
	entry := sitememory.Entry{
		Origin: "https://jobs.example.com",
		Successes: []sitememory.Record{{
			Fingerprint: "abc123",
			Proposal:    schemas.ActionProposal{Kind: schemas.ActionClick, Candidates: []string{"#apply"}},
		}},
		Attempts:  3,
		Succeeded: 1,
	}

	t.Run("save upserts every origin", func(t *testing.T) {
		mockPool := newMockPool(t)
		s := newTestStore(t, mockPool, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertMemory)).
			WithArgs(entry.Origin, jsonContaining(`"abc123"`), anyTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		require.NoError(t, s.SaveSiteMemory(ctx, []sitememory.Entry{entry}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("save with nothing to write is a no-op", func(t *testing.T) {
		mockPool := newMockPool(t)
		s := newTestStore(t, mockPool, zap.NewNop())
		require.NoError(t, s.SaveSiteMemory(ctx, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("load skips undecodable rows", func(t *testing.T) {
		mockPool := newMockPool(t)
		core, logs := observer.New(zapcore.WarnLevel)
		s := newTestStore(t, mockPool, zap.New(core))
		raw, err := json.Marshal(entry)
		require.NoError(t, err)

		rows := pgxmock.NewRows([]string{"entry"}).
			AddRow(raw).
			AddRow([]byte("{not json"))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectMemory)).WillReturnRows(rows)

		got, err := s.LoadSiteMemory(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, entry.Origin, got[0].Origin)
		assert.Equal(t, 3, got[0].Attempts)
		assert.Equal(t, 1, logs.FilterMessage("Skipping undecodable site memory row").Len())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("load propagates query errors", func(t *testing.T) {
		mockPool := newMockPool(t)
		s := newTestStore(t, mockPool, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectMemory)).WillReturnError(errors.New("down"))

		_, err := s.LoadSiteMemory(ctx)
		assert.Error(t, err)
	})
}

func TestLogStore(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewLogStore(zap.New(core))

	require.NoError(t, s.SaveOutcome(context.Background(), sampleOutcome()))
	out := s.Outcomes()
	require.Len(t, out, 1)
	assert.Equal(t, "attempt-1", out[0].AttemptID)
	assert.Equal(t, 1, logs.FilterMessage("Application outcome").Len())
}
