package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/sitememory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS application_outcomes (
    attempt_id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    target_url TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    iterations INTEGER NOT NULL,
    restarts INTEGER NOT NULL,
    obstacle TEXT NOT NULL,
    reason TEXT NOT NULL,
    pattern JSONB NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS application_outcomes_task_idx ON application_outcomes (task_id);
CREATE TABLE IF NOT EXISTS application_iterations (
    attempt_id TEXT NOT NULL REFERENCES application_outcomes (attempt_id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    session INTEGER NOT NULL,
    iteration INTEGER NOT NULL,
    url TEXT NOT NULL,
    action TEXT NOT NULL,
    source TEXT NOT NULL,
    locator TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    failure_reason TEXT NOT NULL,
    obstacle TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (attempt_id, seq)
);
CREATE TABLE IF NOT EXISTS site_memory (
    origin TEXT PRIMARY KEY,
    entry JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`

const (
	sqlInsertOutcome = `
        INSERT INTO application_outcomes (attempt_id, task_id, target_url, success, iterations, restarts, obstacle, reason, pattern, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (attempt_id) DO NOTHING;
    `
	sqlSelectOutcomes = `
        SELECT attempt_id, target_url, success, iterations, restarts, obstacle, reason, pattern, started_at, finished_at
        FROM application_outcomes
        WHERE task_id = $1
        ORDER BY started_at ASC;
    `
	sqlUpsertMemory = `
        INSERT INTO site_memory (origin, entry, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (origin) DO UPDATE SET
            entry = EXCLUDED.entry,
            updated_at = EXCLUDED.updated_at;
    `
	sqlSelectMemory = `SELECT entry FROM site_memory ORDER BY origin ASC;`
)

var iterationColumns = []string{"attempt_id", "seq", "session", "iteration", "url", "action", "source", "locator", "success", "failure_reason", "obstacle", "recorded_at"}

// Store keeps application outcomes and site memory in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.OutcomeStore = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveOutcome writes the outcome row and one row per iteration in a single
// transaction. Saving the same attempt twice is a no-op.
func (s *Store) SaveOutcome(ctx context.Context, o *schemas.ApplicationOutcome) error {
	if o == nil {
		return errors.New("outcome is nil")
	}
	pattern, err := json.Marshal(o.Pattern)
	if err != nil {
		return fmt.Errorf("failed to encode iteration pattern: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlInsertOutcome,
		o.AttemptID, o.TaskID, o.TargetURL, o.Success, o.Iterations, o.Restarts,
		string(o.Obstacle), o.Reason, pattern, o.StartedAt.UTC(), o.FinishedAt.UTC(),
	)
	if err != nil {
		s.rollback(ctx, tx)
		return fmt.Errorf("failed to insert outcome: %w", err)
	}

	// A conflicting attempt id means the iterations are already stored.
	if tag.RowsAffected() > 0 && len(o.Pattern) > 0 {
		if err := s.persistIterations(ctx, tx, o); err != nil {
			s.rollback(ctx, tx)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistIterations(ctx context.Context, tx pgx.Tx, o *schemas.ApplicationOutcome) error {
	rows := make([][]interface{}, len(o.Pattern))
	for i, rec := range o.Pattern {
		rows[i] = []interface{}{
			o.AttemptID, i + 1, rec.Session, rec.Iteration, rec.URL,
			string(rec.Proposal.Kind), string(rec.Proposal.Source), rec.Result.Locator,
			rec.Result.Success, string(rec.Result.FailureReason), string(rec.Obstacle),
			rec.Timestamp.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"application_iterations"}, iterationColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy iterations: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied iterations count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

func (s *Store) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.log.Error("Failed to rollback transaction", zap.Error(err))
	}
}

// GetOutcomesByTaskID returns every stored attempt for a task, oldest first.
func (s *Store) GetOutcomesByTaskID(ctx context.Context, taskID string) ([]schemas.ApplicationOutcome, error) {
	rows, err := s.pool.Query(ctx, sqlSelectOutcomes, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []schemas.ApplicationOutcome
	for rows.Next() {
		var o schemas.ApplicationOutcome
		var obstacle string
		var pattern []byte
		err := rows.Scan(
			&o.AttemptID, &o.TargetURL, &o.Success, &o.Iterations, &o.Restarts,
			&obstacle, &o.Reason, &pattern, &o.StartedAt, &o.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		if len(pattern) > 0 {
			if err := json.Unmarshal(pattern, &o.Pattern); err != nil {
				return nil, fmt.Errorf("failed to decode pattern of attempt %s: %w", o.AttemptID, err)
			}
		}
		o.TaskID = taskID
		o.Obstacle = schemas.ObstacleLabel(obstacle)
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return outcomes, nil
}

// SaveSiteMemory upserts one row per origin.
func (s *Store) SaveSiteMemory(ctx context.Context, entries []sitememory.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	now := time.Now().UTC()
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			s.rollback(ctx, tx)
			return fmt.Errorf("failed to encode site memory for %s: %w", e.Origin, err)
		}
		if _, err := tx.Exec(ctx, sqlUpsertMemory, e.Origin, raw, now); err != nil {
			s.rollback(ctx, tx)
			return fmt.Errorf("failed to save site memory for %s: %w", e.Origin, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Saved site memory", zap.Int("origins", len(entries)))
	return nil
}

// LoadSiteMemory reads every stored origin. Rows that fail to decode are
// skipped with a warning.
func (s *Store) LoadSiteMemory(ctx context.Context) ([]sitememory.Entry, error) {
	rows, err := s.pool.Query(ctx, sqlSelectMemory)
	if err != nil {
		return nil, fmt.Errorf("failed to query site memory: %w", err)
	}
	defer rows.Close()

	var entries []sitememory.Entry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan site memory row: %w", err)
		}
		var e sitememory.Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			s.log.Warn("Skipping undecodable site memory row", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}
