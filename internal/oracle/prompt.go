// File: internal/oracle/prompt.go
package oracle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/llmutil"
	"github.com/xkilldash9x/autoapply/internal/sitememory"
)

const maxTextExcerpt = 2048

// systemPrompt is the fixed instruction set for every request.
func systemPrompt() string {
	kinds := make([]string, len(schemas.AllActionKinds))
	for i, k := range schemas.AllActionKinds {
		kinds[i] = string(k)
	}

	return `You are the navigator of 'autoapply', an assistant that submits job applications on behalf of an applicant.
Your goal is to produce the next single action to progress this job application.
You receive the current page (compacted HTML plus a text excerpt), the applicant profile, recent actions and what was learned on this site before.

Available actions: ` + strings.Join(kinds, ", ") + `
    - click: Click an element (apply buttons, next/continue, submit, radio buttons, checkboxes).
    - type: Type into a text field. "value" is either a profile reference ("email", "first_name", "phone", "answers.<key>") or literal text.
    - upload: Attach a document to a file input. "value" is a document name from the profile ("resume", "cover_letter").
    - select: Choose an option of a <select>. "value" is the option value.
    - wait: Pause for the page to update. "value" is milliseconds. Candidates are optional.
    - declare_success: The application has been submitted (confirmation message visible). No candidates.
    - declare_blocked: The application cannot continue (login wall, captcha, closed posting). No candidates.

Rules:
    - "candidates" are CSS selectors for the SAME element, most specific and most likely first. Give 1 to 3.
    - Prefer id, name, data-testid and aria-label attributes over positional selectors.
    - Fill required fields before clicking next or submit.
    - If a previous action failed, do not repeat it with the same selectors.

Respond with a single JSON object and nothing else:
{"action": "<kind>", "candidates": ["<css selector>", ...], "value": "<string>", "confidence": <0-100>, "reasoning": "<one sentence>"}`
}

// strictSuffix is appended when the previous reply could not be used.
func strictSuffix(cause error) string {
	return fmt.Sprintf(`

IMPORTANT: Your previous reply was rejected (%s).
Reply with ONLY one JSON object with the keys "action", "candidates", "value", "confidence" and "reasoning".
"action" must be exactly one of the listed action names. Do not use markdown fences or add commentary.`, cause)
}

type promptInput struct {
	snapshot    schemas.PageSnapshot
	task        schemas.ApplicationTask
	history     []schemas.IterationRecord
	hints       []sitememory.Hint
	failureNote string
	maxBytes    int
}

// userPrompt renders the per-request context.
func userPrompt(in promptInput) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "Goal: produce the next single action to progress this job application.\n")
	if in.task.JobTitle != "" || in.task.Company != "" {
		fmt.Fprintf(&b, "Position: %s at %s\n", orDash(in.task.JobTitle), orDash(in.task.Company))
	}
	fmt.Fprintf(&b, "Current URL: %s\n\n", in.snapshot.URL)

	profileJSON, err := json.MarshalIndent(profileView(in.task.Profile), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal applicant profile: %w", err)
	}
	fmt.Fprintf(&b, "Applicant profile (use these references as type values):\n%s\n\n", profileJSON)

	if len(in.history) > 0 {
		b.WriteString("Recent actions (oldest first):\n")
		for _, rec := range in.history {
			b.WriteString(describeIteration(rec))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	if len(in.hints) > 0 {
		b.WriteString("Previously on this site:\n")
		for _, h := range in.hints {
			where := "another page"
			if h.SamePage {
				where = "this page"
			}
			fmt.Fprintf(&b, "- %s %s value=%q on %s: %d succeeded, %d failed\n",
				h.Proposal.Kind, strings.Join(h.Proposal.Candidates, " | "), h.Proposal.Value, where, h.Successes, h.Failures)
		}
		b.WriteByte('\n')
	}

	if in.failureNote != "" {
		fmt.Fprintf(&b, "The last proposal for this exact page failed: %s\nPropose a different action or different selectors.\n\n", in.failureNote)
	}

	fmt.Fprintf(&b, "Visible text excerpt:\n%s\n\n", llmutil.Truncate(strings.TrimSpace(in.snapshot.Text), maxTextExcerpt))
	fmt.Fprintf(&b, "Page HTML (compacted):\n%s\n\n", Compact(in.snapshot.HTML, in.maxBytes))
	b.WriteString("Determine the next action. Respond with a single JSON object.")
	return b.String(), nil
}

// profileView lists profile references and their values. File paths are
// never sent; only the document names are.
func profileView(p schemas.ApplicantProfile) map[string]interface{} {
	view := map[string]interface{}{}
	for _, key := range []string{"first_name", "last_name", "full_name", "email", "phone", "location", "linkedin", "website", "skills"} {
		if v, ok := p.Field(key); ok {
			view[key] = v
		}
	}
	if len(p.Answers) > 0 {
		answers := map[string]string{}
		for k, v := range p.Answers {
			answers["answers."+k] = v
		}
		view["answers"] = answers
	}
	if len(p.Files) > 0 {
		docs := make([]string, 0, len(p.Files))
		for name := range p.Files {
			docs = append(docs, name)
		}
		sort.Strings(docs)
		view["documents"] = docs
	}
	return view
}

func describeIteration(rec schemas.IterationRecord) string {
	p := rec.Proposal
	status := "succeeded"
	if !rec.Result.Success {
		status = "failed"
		if rec.Result.FailureReason != "" {
			status += " (" + string(rec.Result.FailureReason) + ")"
		}
	}
	line := fmt.Sprintf("#%d %s [%s]", rec.Iteration, p.Kind, strings.Join(p.Candidates, " | "))
	if p.Value != "" {
		line += fmt.Sprintf(" value=%q", p.Value)
	}
	line += " -> " + status
	if rec.Obstacle != "" && rec.Obstacle != schemas.ObstacleNone {
		line += ", page state " + string(rec.Obstacle)
	}
	return line
}

// failureNote summarizes a failed execution for the strategy retry.
func failureNote(rec schemas.IterationRecord) string {
	reasons := make([]string, 0, len(rec.Result.Attempts))
	for _, a := range rec.Result.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %s", a.Locator, a.Reason))
	}
	note := fmt.Sprintf("%s [%s] value=%q", rec.Proposal.Kind, strings.Join(rec.Proposal.Candidates, " | "), rec.Proposal.Value)
	if len(reasons) > 0 {
		note += " failed on every candidate (" + strings.Join(reasons, "; ") + ")"
	} else if rec.Result.FailureReason != "" {
		note += " failed (" + string(rec.Result.FailureReason) + ")"
	}
	return note
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
