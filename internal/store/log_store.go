package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

// LogStore is the OutcomeStore used when no database is configured. It logs
// each outcome and keeps it in memory for the current process.
type LogStore struct {
	log *zap.Logger

	mu       sync.Mutex
	outcomes []schemas.ApplicationOutcome
}

var _ schemas.OutcomeStore = (*LogStore)(nil)

func NewLogStore(logger *zap.Logger) *LogStore {
	return &LogStore{log: logger.Named("store")}
}

func (s *LogStore) SaveOutcome(_ context.Context, o *schemas.ApplicationOutcome) error {
	s.mu.Lock()
	s.outcomes = append(s.outcomes, *o)
	s.mu.Unlock()

	s.log.Info("Application outcome",
		zap.String("task_id", o.TaskID),
		zap.String("attempt_id", o.AttemptID),
		zap.Bool("success", o.Success),
		zap.String("reason", o.Reason),
		zap.String("obstacle", string(o.Obstacle)),
		zap.Int("iterations", o.Iterations),
		zap.Int("restarts", o.Restarts))
	return nil
}

// Outcomes returns a copy of everything saved so far.
func (s *LogStore) Outcomes() []schemas.ApplicationOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.ApplicationOutcome(nil), s.outcomes...)
}
