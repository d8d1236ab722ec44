// File: internal/executor/executor.go
// Package executor carries out one ActionProposal against a live browser,
// walking its locator candidates in order until one works.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/humanoid"
)

const defaultWait = time.Second

// Executor is bound to one browser session and one applicant.
type Executor struct {
	browser schemas.Browser
	profile schemas.ApplicantProfile
	typist  *humanoid.Typist
	cfg     config.ExecutorConfig
	logger  *zap.Logger

	// Swapped out in tests.
	stat  func(string) (os.FileInfo, error)
	sleep func(context.Context, time.Duration) error
}

// New builds an executor for a session.
func New(browser schemas.Browser, profile schemas.ApplicantProfile, typist *humanoid.Typist, cfg config.ExecutorConfig, logger *zap.Logger) *Executor {
	if cfg.CandidateTimeout <= 0 {
		cfg.CandidateTimeout = 4 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 10 * time.Second
	}
	return &Executor{
		browser: browser,
		profile: profile,
		typist:  typist,
		cfg:     cfg,
		logger:  logger.Named("executor"),
		stat:    os.Stat,
		sleep:   sleepCtx,
	}
}

// Execute runs the proposal. It never returns an error: every failure is
// folded into the result so the navigation loop can decide what to do.
func (e *Executor) Execute(ctx context.Context, proposal schemas.ActionProposal) schemas.ExecutionResult {
	start := time.Now()
	result := schemas.ExecutionResult{CandidateIndex: -1}
	defer func() { result.Elapsed = time.Since(start) }()

	if err := proposal.Validate(); err != nil {
		e.logger.Warn("Rejected invalid proposal", zap.Error(err))
		result.FailureReason = schemas.FailureInvalidProposal
		return result
	}

	switch proposal.Kind {
	case schemas.ActionDeclareSuccess, schemas.ActionDeclareBlocked:
		// Declarations never touch the page.
		result.Success = true
		return result
	case schemas.ActionWait:
		if len(proposal.Candidates) == 0 {
			if err := e.sleep(ctx, e.waitDuration(proposal.Value)); err != nil {
				result.FailureReason = schemas.FailureTimeout
				return result
			}
			result.Success = true
			return result
		}
	}

	value, prepErr := e.resolveValue(proposal)

	for i, locator := range proposal.Candidates {
		if ctx.Err() != nil {
			result.FailureReason = schemas.FailureTimeout
			break
		}

		attemptStart := time.Now()
		err := prepErr
		if err == nil {
			err = e.attempt(ctx, proposal, locator, value)
		}
		entry := schemas.CandidateAttempt{
			Index:    i,
			Locator:  locator,
			Success:  err == nil,
			Duration: time.Since(attemptStart),
		}
		if err != nil {
			entry.Reason = classify(ctx, err)
			entry.Error = err.Error()
		}
		result.Attempts = append(result.Attempts, entry)
		e.logAttempt(proposal, entry)

		if err == nil {
			result.Success = true
			result.CandidateIndex = i
			result.Locator = locator
			result.FailureReason = schemas.FailureNone
			return result
		}
		result.FailureReason = entry.Reason
		if entry.Reason == schemas.FailureBrowser {
			// A dead session fails every remaining candidate the same way.
			break
		}
	}
	return result
}

func (e *Executor) logAttempt(p schemas.ActionProposal, a schemas.CandidateAttempt) {
	fields := []zap.Field{
		zap.String("kind", string(p.Kind)),
		zap.Int("candidate", a.Index),
		zap.String("locator", a.Locator),
		zap.Duration("duration", a.Duration),
	}
	if a.Success {
		e.logger.Info("Candidate succeeded", fields...)
		return
	}
	e.logger.Debug("Candidate failed", append(fields, zap.String("reason", string(a.Reason)), zap.String("error", a.Error))...)
}

// attempt scrolls the locator into view and performs the primitive under the
// per-candidate timeout.
func (e *Executor) attempt(ctx context.Context, p schemas.ActionProposal, locator, value string) error {
	timeout := e.cfg.CandidateTimeout
	if p.Kind == schemas.ActionType && e.typist != nil {
		timeout += e.typist.Budget(value)
	}
	if p.Kind == schemas.ActionWait {
		timeout += e.waitDuration(p.Value)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.browser.ScrollIntoView(cctx, locator); err != nil {
		return err
	}

	switch p.Kind {
	case schemas.ActionClick:
		return e.browser.Click(cctx, locator)
	case schemas.ActionType:
		if err := e.browser.Clear(cctx, locator); err != nil {
			return err
		}
		send := func(c context.Context, chunk string) error { return e.browser.Type(c, locator, chunk) }
		if e.typist == nil {
			return send(cctx, value)
		}
		return e.typist.Type(cctx, value, send)
	case schemas.ActionUpload:
		return e.browser.Upload(cctx, locator, value)
	case schemas.ActionSelect:
		return e.browser.Select(cctx, locator, value)
	case schemas.ActionWait:
		// The element is present once it could be scrolled to.
		return e.sleep(cctx, e.waitDuration(p.Value))
	}
	return fmt.Errorf("unsupported action kind %q", p.Kind)
}

// resolveValue turns profile references into the applicant's values and
// upload references into checked local paths.
func (e *Executor) resolveValue(p schemas.ActionProposal) (string, error) {
	switch p.Kind {
	case schemas.ActionType, schemas.ActionSelect:
		if v, ok := e.profile.Field(p.Value); ok {
			return v, nil
		}
		return p.Value, nil
	case schemas.ActionUpload:
		return e.resolveUpload(p.Value)
	}
	return p.Value, nil
}

func (e *Executor) resolveUpload(ref string) (string, error) {
	path := ref
	if registered, ok := e.profile.File(ref); ok {
		path = registered
	}
	if path == "" {
		return "", fmt.Errorf("%w: no file named for upload", schemas.ErrMissingFile)
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", schemas.ErrMissingFile, err)
	}
	if abs, err := filepath.Abs(expanded); err == nil {
		expanded = abs
	}
	info, err := e.stat(expanded)
	if err != nil {
		return "", fmt.Errorf("%w: %s", schemas.ErrMissingFile, expanded)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", schemas.ErrMissingFile, expanded)
	}
	return expanded, nil
}

// waitDuration reads a wait value in milliseconds, capped at MaxWait.
func (e *Executor) waitDuration(value string) time.Duration {
	d := defaultWait
	if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
		d = time.Duration(ms) * time.Millisecond
	}
	if d > e.cfg.MaxWait {
		d = e.cfg.MaxWait
	}
	return d
}

// classify maps a primitive's error onto a failure reason.
func classify(parent context.Context, err error) schemas.FailureReason {
	switch {
	case errors.Is(err, schemas.ErrMissingFile):
		return schemas.FailureMissingFile
	case errors.Is(err, schemas.ErrBrowserUnavailable):
		return schemas.FailureBrowser
	case errors.Is(err, schemas.ErrLocatorNotFound):
		return schemas.FailureLocatorNotFound
	case errors.Is(err, schemas.ErrElementNotInteractable):
		return schemas.FailureElementNotInteractable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), parent.Err() != nil:
		return schemas.FailureTimeout
	}
	return schemas.FailureElementNotInteractable
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
