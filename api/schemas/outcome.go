package schemas

import "time"

// -- Page Schemas --

// PageSnapshot is a point-in-time capture of the page. Snapshots are never
// mutated after capture.
type PageSnapshot struct {
	URL         string    `json:"url"`
	HTML        string    `json:"html"`
	Text        string    `json:"text"`
	Sequence    int       `json:"sequence"`
	Fingerprint string    `json:"fingerprint"`
	CapturedAt  time.Time `json:"captured_at"`
}

// ObstacleLabel is the closed set of page states the classifier can emit.
type ObstacleLabel string

const (
	ObstacleNone                  ObstacleLabel = "none"
	ObstacleLoginRequired         ObstacleLabel = "login_required"
	ObstacleVerificationChallenge ObstacleLabel = "verification_challenge"
	ObstacleMultiStepForm         ObstacleLabel = "multi_step_form"
	ObstacleRateLimited           ObstacleLabel = "rate_limited"
	ObstacleTerminalSuccess       ObstacleLabel = "terminal_success"
	ObstacleTerminalFailure       ObstacleLabel = "terminal_failure"
	ObstacleUnknown               ObstacleLabel = "unknown"
)

// AllObstacleLabels lists every label; metrics are pre-registered from it.
var AllObstacleLabels = []ObstacleLabel{
	ObstacleNone, ObstacleLoginRequired, ObstacleVerificationChallenge,
	ObstacleMultiStepForm, ObstacleRateLimited, ObstacleTerminalSuccess,
	ObstacleTerminalFailure, ObstacleUnknown,
}

// IsTerminal reports whether the label ends the attempt on its own.
func (l ObstacleLabel) IsTerminal() bool {
	return l == ObstacleTerminalSuccess || l == ObstacleTerminalFailure
}

// -- Loop State --

// LoopState is the navigation loop's state machine position.
type LoopState string

const (
	StateExploring  LoopState = "EXPLORING"
	StateActing     LoopState = "ACTING"
	StateEvaluating LoopState = "EVALUATING"
	StateTerminated LoopState = "TERMINATED"
)

// Termination reasons recorded on outcomes.
const (
	ReasonSucceeded         = "application_submitted"
	ReasonBudgetExhausted   = "budget_exhausted"
	ReasonDeadlineExceeded  = "deadline_exceeded"
	ReasonCancelled         = "cancelled"
	ReasonRepeatedObstacle  = "repeated_obstacle"
	ReasonOracleUnparsable  = "oracle_unparsable"
	ReasonRestartsExhausted = "restarts_exhausted"
	ReasonDeclaredBlocked   = "declared_blocked"
	ReasonEnvironment       = "environment_failure"
	ReasonInvalidTarget     = "invalid_target_url"
)

// IterationRecord is the history entry for one pass through the loop.
type IterationRecord struct {
	Iteration int             `json:"iteration"`
	Session   int             `json:"session"`
	URL       string          `json:"url"`
	Proposal  ActionProposal  `json:"proposal"`
	Result    ExecutionResult `json:"result"`
	Obstacle  ObstacleLabel   `json:"obstacle"`
	// StrategyRetried is set when the oracle was re-asked after a failed execution.
	StrategyRetried bool      `json:"strategy_retried,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// ApplicationOutcome is the final, immutable result of an attempt.
type ApplicationOutcome struct {
	TaskID     string            `json:"task_id"`
	AttemptID  string            `json:"attempt_id"`
	TargetURL  string            `json:"target_url"`
	Success    bool              `json:"success"`
	Iterations int               `json:"iterations"`
	Restarts   int               `json:"restarts"`
	Obstacle   ObstacleLabel     `json:"obstacle"`
	Reason     string            `json:"reason"`
	Pattern    []IterationRecord `json:"pattern"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Duration is the wall-clock time the attempt took.
func (o ApplicationOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Progress is emitted once per loop iteration for observers.
type Progress struct {
	TaskID    string        `json:"task_id"`
	AttemptID string        `json:"attempt_id"`
	Iteration int           `json:"iteration"`
	Session   int           `json:"session"`
	State     LoopState     `json:"state"`
	Obstacle  ObstacleLabel `json:"obstacle"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// ProgressFunc receives progress updates. Implementations must not block.
type ProgressFunc func(Progress)
