// File: internal/navigator/attempt.go
package navigator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/executor"
	"github.com/xkilldash9x/autoapply/internal/obstacle"
	"github.com/xkilldash9x/autoapply/internal/sitememory"
)

const cookieTimeout = 5 * time.Second

// attempt is the mutable state of one Run. It is owned by a single
// goroutine.
type attempt struct {
	n          *Navigator
	id         string
	task       schemas.ApplicationTask
	origin     string
	started    time.Time
	restarts   int
	sequence   int
	pattern    []schemas.IterationRecord
	lastLabel  schemas.ObstacleLabel
	classifier *obstacle.Classifier
	progress   *dispatcher
	logger     *zap.Logger

	// replayed holds, per fingerprint, remembered actions that ran in the
	// current session without changing the page. Reset for each session.
	replayed map[string]map[string]bool
}

// runSession opens a browser and loops until the session reaches a verdict.
// The only error returned is an *schemas.EnvironmentFailure.
func (a *attempt) runSession(ctx context.Context, session int) (verdict, error) {
	if ctx.Err() != nil {
		return interrupted(ctx, a.lastLabel), nil
	}

	browser, err := a.n.deps.Browsers.NewBrowser(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, a.lastLabel), nil
		}
		return verdict{}, &schemas.EnvironmentFailure{Op: "open browser", Err: err}
	}
	defer a.closeSession(ctx, browser)

	a.loadCookies(ctx, browser)
	if err := browser.Navigate(ctx, a.task.TargetURL); err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, a.lastLabel), nil
		}
		if errors.Is(err, schemas.ErrBrowserUnavailable) {
			return verdict{}, &schemas.EnvironmentFailure{Op: "navigate", Err: err}
		}
		// The page may still have rendered something worth reading.
		a.logger.Warn("Initial navigation failed, continuing with the current page", zap.Error(err))
	}

	exec := executor.New(browser, a.task.Profile, a.n.deps.Typist, a.n.execCfg, a.logger)
	a.replayed = make(map[string]map[string]bool)

	before, err := a.capture(ctx, browser)
	if err != nil {
		return a.abort(ctx, "snapshot", err)
	}

	var streak int
	var streakLabel schemas.ObstacleLabel
	for iteration := 1; ; iteration++ {
		if ctx.Err() != nil {
			return interrupted(ctx, a.lastLabel), nil
		}
		if iteration > a.n.cfg.MaxIterations {
			return verdict{obstacle: a.lastLabel, reason: schemas.ReasonBudgetExhausted}, nil
		}

		rec, after, err := a.step(ctx, browser, exec, session, iteration, before)
		if err != nil {
			var envErr *schemas.EnvironmentFailure
			if errors.As(err, &envErr) {
				return verdict{}, err
			}
			return interrupted(ctx, a.lastLabel), nil
		}
		before = after
		label := rec.Obstacle
		a.lastLabel = label

		switch label {
		case schemas.ObstacleTerminalSuccess:
			return verdict{success: true, obstacle: label, reason: schemas.ReasonSucceeded}, nil
		case schemas.ObstacleTerminalFailure:
			return verdict{restart: true, obstacle: label, reason: blockedReason(rec.Proposal)}, nil
		}

		if countsTowardStreak(rec) {
			if label == streakLabel {
				streak++
			} else {
				streak, streakLabel = 1, label
			}
		} else {
			streak, streakLabel = 0, ""
		}
		if streak >= a.n.cfg.IdenticalObstacleLimit {
			a.logger.Warn("Same obstacle repeated, giving up on this session",
				zap.String("obstacle", string(label)),
				zap.Int("session", session),
				zap.Int("iterations", streak))
			return verdict{restart: true, obstacle: label, reason: schemas.ReasonRepeatedObstacle}, nil
		}
	}
}

// step runs one EXPLORING, ACTING, EVALUATING pass and returns the record
// plus the snapshot the next pass starts from.
func (a *attempt) step(ctx context.Context, browser schemas.Browser, exec *executor.Executor, session, iteration int, before schemas.PageSnapshot) (schemas.IterationRecord, schemas.PageSnapshot, error) {
	origin := a.originOf(before.URL)
	history := a.history()
	hints := a.n.deps.Memory.Hints(origin, before.Fingerprint, hintLimit)

	// EXPLORING
	proposal, err := a.propose(ctx, origin, before, history, hints)
	if err != nil {
		return schemas.IterationRecord{}, before, err
	}

	// ACTING
	result := a.execute(ctx, exec, proposal)
	if result.FailureReason == schemas.FailureBrowser {
		return schemas.IterationRecord{}, before, &schemas.EnvironmentFailure{Op: "execute", Err: schemas.ErrBrowserUnavailable}
	}

	retried := false
	for retry := 0; retry < a.n.cfg.StrategyRetries && needsStrategyRetry(proposal, result); retry++ {
		if ctx.Err() != nil {
			break
		}
		a.remember(origin, before.Fingerprint, proposal, result)
		failed := schemas.IterationRecord{
			Iteration: iteration,
			Session:   session,
			URL:       before.URL,
			Proposal:  proposal,
			Result:    result,
		}
		alt, err := a.n.deps.Oracle.ProposeAlternative(ctx, before, a.task, history, hints, failed)
		if err != nil {
			return schemas.IterationRecord{}, before, err
		}
		a.n.deps.Metrics.StrategyRetry()
		a.logger.Info("Retrying with an alternative strategy",
			zap.Int("iteration", iteration),
			zap.String("failed_kind", string(proposal.Kind)),
			zap.String("alternative_kind", string(alt.Kind)))

		proposal, retried = alt, true
		result = a.execute(ctx, exec, proposal)
		if result.FailureReason == schemas.FailureBrowser {
			return schemas.IterationRecord{}, before, &schemas.EnvironmentFailure{Op: "execute", Err: schemas.ErrBrowserUnavailable}
		}
	}

	// EVALUATING
	after := before
	if !proposal.Kind.IsDeclaration() {
		after, err = a.capture(ctx, browser)
		if err != nil {
			if ctx.Err() != nil {
				return schemas.IterationRecord{}, before, ctx.Err()
			}
			return schemas.IterationRecord{}, before, &schemas.EnvironmentFailure{Op: "snapshot", Err: err}
		}
	}
	label := a.classifier.Classify(result, proposal, before, after)
	a.n.deps.Metrics.Obstacle(label)
	a.remember(origin, before.Fingerprint, proposal, result)
	if proposal.Source == schemas.SourceMemory && after.Fingerprint == before.Fingerprint {
		a.markReplayed(before.Fingerprint, proposal)
	}

	rec := schemas.IterationRecord{
		Iteration:       iteration,
		Session:         session,
		URL:             before.URL,
		Proposal:        proposal,
		Result:          result,
		Obstacle:        label,
		StrategyRetried: retried,
		Timestamp:       a.n.now(),
	}
	a.pattern = append(a.pattern, rec)

	a.logger.Debug("Iteration evaluated",
		zap.Int("session", session),
		zap.Int("iteration", iteration),
		zap.String("kind", string(proposal.Kind)),
		zap.String("source", string(proposal.Source)),
		zap.Bool("success", result.Success),
		zap.String("failure_reason", string(result.FailureReason)),
		zap.String("obstacle", string(label)))

	a.progress.send(schemas.Progress{
		TaskID:    a.task.ID,
		AttemptID: a.id,
		Iteration: iteration,
		Session:   session,
		State:     schemas.StateEvaluating,
		Obstacle:  label,
		Message:   a.statusLine(iteration, proposal, result),
		Timestamp: rec.Timestamp,
	})
	return rec, after, nil
}

// propose takes the memory fast path when Site Memory has a proven action
// for this page shape and falls back to the oracle otherwise.
func (a *attempt) propose(ctx context.Context, origin string, snap schemas.PageSnapshot, history []schemas.IterationRecord, hints []sitememory.Hint) (schemas.ActionProposal, error) {
	if snap.Fingerprint != "" {
		if p, ok := a.n.deps.Memory.SuggestExcluding(origin, snap.Fingerprint, a.replayed[snap.Fingerprint]); ok {
			a.n.deps.Metrics.FastPath()
			a.logger.Debug("Reusing remembered action",
				zap.String("origin", origin),
				zap.String("kind", string(p.Kind)),
				zap.Int("confidence", p.Confidence))
			return *p, nil
		}
	}
	return a.n.deps.Oracle.Propose(ctx, snap, a.task, history, hints)
}

// markReplayed keeps a remembered action from being suggested again on a
// page it did not move. Field values are not part of the fingerprint, so a
// successful type leaves the page shape unchanged.
func (a *attempt) markReplayed(fingerprint string, p schemas.ActionProposal) {
	if a.replayed == nil {
		a.replayed = make(map[string]map[string]bool)
	}
	set, ok := a.replayed[fingerprint]
	if !ok {
		set = make(map[string]bool)
		a.replayed[fingerprint] = set
	}
	set[p.Signature()] = true
}

func (a *attempt) execute(ctx context.Context, exec *executor.Executor, p schemas.ActionProposal) schemas.ExecutionResult {
	result := exec.Execute(ctx, p)
	a.n.deps.Metrics.Candidates(result.Attempts)
	return result
}

// remember records actions that touched the page. Successes go to the
// success list; a failure is recorded only when every candidate was tried.
func (a *attempt) remember(origin, fingerprint string, p schemas.ActionProposal, result schemas.ExecutionResult) {
	if fingerprint == "" || len(p.Candidates) == 0 {
		return
	}
	switch {
	case result.Success:
		a.n.deps.Memory.Record(origin, fingerprint, p, true)
	case len(result.Attempts) == len(p.Candidates):
		a.n.deps.Memory.Record(origin, fingerprint, p, false)
	}
}

// capture takes a snapshot bounded by the snapshot timeout.
func (a *attempt) capture(ctx context.Context, browser schemas.Browser) (schemas.PageSnapshot, error) {
	snapCtx, cancel := context.WithTimeout(ctx, a.n.cfg.SnapshotTimeout)
	defer cancel()

	html, text, err := browser.PageSource(snapCtx)
	if err != nil {
		return schemas.PageSnapshot{}, fmt.Errorf("read page source: %w", err)
	}
	url, err := browser.CurrentURL(snapCtx)
	if err != nil {
		return schemas.PageSnapshot{}, fmt.Errorf("read current url: %w", err)
	}

	fp, err := sitememory.Fingerprint(html)
	if err != nil {
		a.logger.Debug("Could not fingerprint page", zap.Error(err))
		fp = ""
	}
	a.sequence++
	return schemas.PageSnapshot{
		URL:         url,
		HTML:        html,
		Text:        text,
		Sequence:    a.sequence,
		Fingerprint: fp,
		CapturedAt:  a.n.now(),
	}, nil
}

// abort turns a failure outside an iteration into the right return values.
func (a *attempt) abort(ctx context.Context, op string, err error) (verdict, error) {
	if ctx.Err() != nil {
		return interrupted(ctx, a.lastLabel), nil
	}
	return verdict{}, &schemas.EnvironmentFailure{Op: op, Err: err}
}

func (a *attempt) loadCookies(ctx context.Context, browser schemas.Browser) {
	if a.n.deps.Cookies == nil {
		return
	}
	loadCtx, cancel := context.WithTimeout(ctx, cookieTimeout)
	defer cancel()
	if err := a.n.deps.Cookies.Load(loadCtx, a.origin, browser); err != nil {
		a.logger.Warn("Could not restore session cookies", zap.String("origin", a.origin), zap.Error(err))
	}
}

// closeSession saves cookies and closes the browser even when ctx is
// already done.
func (a *attempt) closeSession(ctx context.Context, browser schemas.Browser) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cookieTimeout)
	defer cancel()

	if a.n.deps.Cookies != nil {
		if err := a.n.deps.Cookies.Save(closeCtx, a.origin, browser); err != nil {
			a.logger.Warn("Could not save session cookies", zap.String("origin", a.origin), zap.Error(err))
		}
	}
	if err := browser.Close(closeCtx); err != nil {
		a.logger.Warn("Browser did not close cleanly", zap.Error(err))
	}
}

func (a *attempt) originOf(url string) string {
	if origin, err := sitememory.Origin(url); err == nil {
		return origin
	}
	return a.origin
}

// history returns a copy of the last HistoryWindow records.
func (a *attempt) history() []schemas.IterationRecord {
	start := len(a.pattern) - a.n.cfg.HistoryWindow
	if start < 0 {
		start = 0
	}
	return append([]schemas.IterationRecord(nil), a.pattern[start:]...)
}

func (a *attempt) statusLine(iteration int, p schemas.ActionProposal, result schemas.ExecutionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "attempt %d/%d: %s", iteration, a.n.cfg.MaxIterations, p.Kind)
	if result.Locator != "" {
		fmt.Fprintf(&b, " %s", result.Locator)
	} else if len(p.Candidates) > 0 {
		fmt.Fprintf(&b, " %s", p.Candidates[0])
	}
	if !result.Success {
		fmt.Fprintf(&b, " failed (%s)", result.FailureReason)
	}
	return b.String()
}

func (a *attempt) finish(v verdict) *schemas.ApplicationOutcome {
	label := v.obstacle
	if label == "" {
		label = schemas.ObstacleNone
	}
	return &schemas.ApplicationOutcome{
		TaskID:     a.task.ID,
		AttemptID:  a.id,
		TargetURL:  a.task.TargetURL,
		Success:    v.success,
		Iterations: len(a.pattern),
		Restarts:   a.restarts,
		Obstacle:   label,
		Reason:     v.reason,
		Pattern:    append([]schemas.IterationRecord(nil), a.pattern...),
		StartedAt:  a.started,
		FinishedAt: a.n.now(),
	}
}

// needsStrategyRetry is true when every candidate of a page action failed.
func needsStrategyRetry(p schemas.ActionProposal, result schemas.ExecutionResult) bool {
	return !result.Success && !p.Kind.IsDeclaration() && result.FailureReason != schemas.FailureInvalidProposal
}

// countsTowardStreak excludes page states that show progress. Moving
// through a multi-step form with successful actions is not being stuck.
func countsTowardStreak(rec schemas.IterationRecord) bool {
	if rec.Obstacle == schemas.ObstacleNone {
		return false
	}
	return !(rec.Obstacle == schemas.ObstacleMultiStepForm && rec.Result.Success)
}

func blockedReason(p schemas.ActionProposal) string {
	if p.Rationale == schemas.ReasonOracleUnparsable {
		return p.Rationale
	}
	if p.Rationale != "" {
		return schemas.ReasonDeclaredBlocked + ": " + p.Rationale
	}
	return schemas.ReasonDeclaredBlocked
}
