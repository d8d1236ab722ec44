// File: internal/navigator/navigator.go
// Package navigator drives one application attempt: it snapshots the page,
// asks for the next action, executes it, classifies the result and decides
// whether to continue, retry, restart the browser or stop.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/humanoid"
	"github.com/xkilldash9x/autoapply/internal/metrics"
	"github.com/xkilldash9x/autoapply/internal/obstacle"
	"github.com/xkilldash9x/autoapply/internal/sitememory"
)

// hintLimit caps how many memory hints go into one oracle prompt.
const hintLimit = 5

// Oracle proposes the next action for a page.
type Oracle interface {
	Propose(ctx context.Context, snapshot schemas.PageSnapshot, task schemas.ApplicationTask, history []schemas.IterationRecord, hints []sitememory.Hint) (schemas.ActionProposal, error)
	ProposeAlternative(ctx context.Context, snapshot schemas.PageSnapshot, task schemas.ApplicationTask, history []schemas.IterationRecord, hints []sitememory.Hint, failed schemas.IterationRecord) (schemas.ActionProposal, error)
}

// CookieJar restores and saves login state around a browser session.
type CookieJar interface {
	Load(ctx context.Context, origin string, b schemas.Browser) error
	Save(ctx context.Context, origin string, b schemas.Browser) error
}

// Deps are the collaborators a Navigator needs. Cookies and Metrics are
// optional.
type Deps struct {
	Browsers schemas.BrowserFactory
	Oracle   Oracle
	Memory   *sitememory.Memory
	Typist   *humanoid.Typist
	Cookies  CookieJar
	Metrics  *metrics.Recorder
}

// Navigator runs attempts. It holds no per-attempt state and may be shared
// by concurrent workers.
type Navigator struct {
	cfg         config.NavigatorConfig
	execCfg     config.ExecutorConfig
	obstacleCfg config.ObstacleConfig
	deps        Deps
	logger      *zap.Logger
	now         func() time.Time
}

// New validates the dependencies and returns a Navigator.
func New(cfg config.Interface, deps Deps, logger *zap.Logger) (*Navigator, error) {
	if deps.Browsers == nil {
		return nil, errors.New("navigator requires a browser factory")
	}
	if deps.Oracle == nil {
		return nil, errors.New("navigator requires an oracle")
	}
	if deps.Memory == nil {
		return nil, errors.New("navigator requires site memory")
	}
	if deps.Typist == nil {
		deps.Typist = humanoid.NewTypist(cfg.Browser().Humanoid, 0)
	}

	navCfg := cfg.Navigator()
	if err := navCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid navigator configuration: %w", err)
	}
	if navCfg.SnapshotTimeout <= 0 {
		navCfg.SnapshotTimeout = 15 * time.Second
	}

	return &Navigator{
		cfg:         navCfg,
		execCfg:     cfg.Executor(),
		obstacleCfg: cfg.Obstacle(),
		deps:        deps,
		logger:      logger.Named("navigator"),
		now:         time.Now,
	}, nil
}

// Run executes the attempt without a progress observer.
func (n *Navigator) Run(ctx context.Context, task schemas.ApplicationTask) (*schemas.ApplicationOutcome, error) {
	return n.RunWithProgress(ctx, task, nil)
}

// RunWithProgress executes one attempt for task. onProgress, when set, is
// called once per iteration from a separate goroutine.
//
// Business failures are reported in the outcome. The returned error is
// non-nil only for an *schemas.EnvironmentFailure, in which case the
// outcome describes what happened up to that point.
func (n *Navigator) RunWithProgress(ctx context.Context, task schemas.ApplicationTask, onProgress schemas.ProgressFunc) (*schemas.ApplicationOutcome, error) {
	a := n.newAttempt(task, onProgress)
	defer a.progress.close()

	logger := n.logger.With(zap.String("task_id", task.ID), zap.String("attempt_id", a.id))

	origin, err := sitememory.Origin(task.TargetURL)
	if err != nil {
		logger.Warn("Rejecting task with unusable target URL", zap.Error(err))
		out := a.finish(verdict{obstacle: schemas.ObstacleTerminalFailure, reason: schemas.ReasonInvalidTarget})
		n.deps.Metrics.Outcome(out)
		return out, nil
	}
	a.origin = origin

	ctx, cancel := context.WithTimeout(ctx, n.cfg.AttemptTimeout)
	defer cancel()
	defer n.deps.Metrics.AttemptStarted()()

	logger.Info("Starting application attempt", zap.String("target", task.TargetURL))

	var v verdict
	for session := 1; session <= n.cfg.MaxSessions; session++ {
		if session > 1 {
			a.restarts++
			n.deps.Metrics.Restart()
			logger.Info("Restarting with a fresh browser session",
				zap.Int("session", session),
				zap.String("previous_reason", v.reason))
		}

		var err error
		v, err = a.runSession(ctx, session)
		if err != nil {
			out := a.finish(verdict{obstacle: a.lastLabel, reason: schemas.ReasonEnvironment})
			n.deps.Metrics.Outcome(out)
			logger.Error("Attempt aborted by environment failure", zap.Error(err))
			return out, err
		}
		if !v.restart {
			break
		}
	}
	if v.restart && a.restarts > 0 {
		v.reason = schemas.ReasonRestartsExhausted + ": " + v.reason
	}

	out := a.finish(v)
	n.deps.Metrics.Outcome(out)
	logger.Info("Application attempt finished",
		zap.Bool("success", out.Success),
		zap.String("reason", out.Reason),
		zap.String("obstacle", string(out.Obstacle)),
		zap.Int("iterations", out.Iterations),
		zap.Int("restarts", out.Restarts),
		zap.Duration("duration", out.Duration()))
	return out, nil
}

// verdict is how one browser session ended.
type verdict struct {
	success  bool
	restart  bool
	obstacle schemas.ObstacleLabel
	reason   string
}

func (n *Navigator) newAttempt(task schemas.ApplicationTask, onProgress schemas.ProgressFunc) *attempt {
	id := uuid.New().String()
	return &attempt{
		n:          n,
		id:         id,
		task:       task,
		started:    n.now(),
		lastLabel:  schemas.ObstacleNone,
		classifier: obstacle.NewClassifier(n.obstacleCfg, n.logger),
		progress:   newDispatcher(onProgress),
		logger:     n.logger.With(zap.String("task_id", task.ID), zap.String("attempt_id", id)),
	}
}

// interrupted maps a done context to the matching termination reason.
func interrupted(ctx context.Context, last schemas.ObstacleLabel) verdict {
	reason := schemas.ReasonCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = schemas.ReasonDeadlineExceeded
	}
	return verdict{obstacle: last, reason: reason}
}
