package schemas

import (
	"fmt"
	"time"
)

// -- Action Schemas --

// ActionKind is the closed set of things the loop can ask the executor to do.
type ActionKind string

const (
	ActionClick          ActionKind = "click"
	ActionType           ActionKind = "type"
	ActionUpload         ActionKind = "upload"
	ActionSelect         ActionKind = "select"
	ActionWait           ActionKind = "wait"
	ActionDeclareSuccess ActionKind = "declare_success"
	ActionDeclareBlocked ActionKind = "declare_blocked"
)

// AllActionKinds lists every valid kind, in the order presented to the oracle.
var AllActionKinds = []ActionKind{
	ActionClick, ActionType, ActionUpload, ActionSelect, ActionWait,
	ActionDeclareSuccess, ActionDeclareBlocked,
}

// IsValid reports whether k is one of the known kinds.
func (k ActionKind) IsValid() bool {
	for _, known := range AllActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsDeclaration reports whether the kind ends the attempt without touching the page.
func (k ActionKind) IsDeclaration() bool {
	return k == ActionDeclareSuccess || k == ActionDeclareBlocked
}

// ProposalSource records where a proposal came from.
type ProposalSource string

const (
	SourceOracle    ProposalSource = "oracle"
	SourceMemory    ProposalSource = "memory"
	SourceSynthetic ProposalSource = "synthetic"
)

// ActionProposal is one suggested action with its ordered locator candidates.
type ActionProposal struct {
	Kind ActionKind `json:"kind"`
	// Candidates are CSS selectors in decreasing order of confidence.
	Candidates []string `json:"candidates"`
	Value      string   `json:"value,omitempty"`
	// Confidence is advisory (0-100) and never drives control flow.
	Confidence int            `json:"confidence"`
	Rationale  string         `json:"rationale,omitempty"`
	Source     ProposalSource `json:"source"`
}

// Validate enforces the structural invariants of a proposal.
func (p ActionProposal) Validate() error {
	if !p.Kind.IsValid() {
		return fmt.Errorf("unknown action kind %q", p.Kind)
	}
	if !p.Kind.IsDeclaration() && p.Kind != ActionWait && len(p.Candidates) == 0 {
		return fmt.Errorf("action %q requires at least one candidate locator", p.Kind)
	}
	return nil
}

// Signature identifies a proposal for memory bookkeeping. Confidence and
// rationale are excluded so that the same action recorded twice collapses.
func (p ActionProposal) Signature() string {
	return fmt.Sprintf("%s|%q|%q", p.Kind, p.Candidates, p.Value)
}

// NewBlockedProposal builds a synthetic declare_blocked proposal carrying reason.
func NewBlockedProposal(reason string) ActionProposal {
	return ActionProposal{
		Kind:      ActionDeclareBlocked,
		Rationale: reason,
		Source:    SourceSynthetic,
	}
}

// -- Execution Schemas --

// FailureReason explains why a proposal could not be carried out.
type FailureReason string

const (
	FailureNone                   FailureReason = ""
	FailureLocatorNotFound        FailureReason = "locator_not_found"
	FailureElementNotInteractable FailureReason = "element_not_interactable"
	FailureMissingFile            FailureReason = "missing_file"
	FailureTimeout                FailureReason = "timeout"
	FailureInvalidProposal        FailureReason = "invalid_proposal"
	FailureBrowser                FailureReason = "browser_unavailable"
)

// CandidateAttempt is the log entry for one locator tried by the executor.
type CandidateAttempt struct {
	Index    int           `json:"index"`
	Locator  string        `json:"locator"`
	Success  bool          `json:"success"`
	Reason   FailureReason `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExecutionResult reports how a proposal fared against the live page.
type ExecutionResult struct {
	Success bool `json:"success"`
	// CandidateIndex is the winning candidate, or -1 when none succeeded.
	CandidateIndex int                `json:"candidate_index"`
	Locator        string             `json:"locator,omitempty"`
	Elapsed        time.Duration      `json:"elapsed"`
	FailureReason  FailureReason      `json:"failure_reason,omitempty"`
	Attempts       []CandidateAttempt `json:"attempts"`
}
