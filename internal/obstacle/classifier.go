// File: internal/obstacle/classifier.go
// Package obstacle labels the state a page is in after an action, so the
// navigation loop can decide whether to continue, retry or stop.
package obstacle

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

var (
	stepPattern = regexp.MustCompile(`(?i)\bstep\s+\d+\s*(?:of|/)\s*\d+\b`)

	// Elements that only render on a credential prompt.
	credentialSelectors = []string{
		`input[type="password"]`,
		`input[autocomplete="current-password"]`,
	}

	loginFormHints = []string{"login", "signin", "sign-in", "log-in"}

	// Widgets injected by the common human-verification vendors.
	challengeSelectors = []string{
		`iframe[src*="recaptcha"]`,
		`iframe[src*="hcaptcha"]`,
		`iframe[src*="challenges.cloudflare.com"]`,
		`.g-recaptcha`,
		`.h-captcha`,
		`.cf-turnstile`,
		`#cf-challenge-running`,
		`#challenge-form`,
		`[data-sitekey]`,
	}

	challengePhrases = []string{
		"verify you are human",
		"are you a robot",
		"i'm not a robot",
		"checking your browser",
		"complete the security check",
		// Bot-wall interstitials land in the same bucket.
		"access denied",
		"unusual traffic",
		"automated queries",
	}

	rateLimitPhrases = []string{
		"too many requests",
		"rate limit",
		"try again later",
		"slow down",
	}
)

// Classifier maps an (execution result, proposal, before, after) tuple to an
// ObstacleLabel. It is stateful for the rate-limit heuristic, so one
// Classifier should serve exactly one attempt.
type Classifier struct {
	cfg              config.ObstacleConfig
	logger           *zap.Logger
	now              func() time.Time
	challengePhrases []string

	mu sync.Mutex
	// lastFailure tracks, per page shape and proposal, when the last
	// failure on an unchanged page was seen.
	lastFailure map[string]time.Time
}

// NewClassifier builds a classifier. Extra challenge markers from config are
// matched case-insensitively against the page text.
func NewClassifier(cfg config.ObstacleConfig, logger *zap.Logger) *Classifier {
	phrases := append([]string(nil), challengePhrases...)
	for _, m := range cfg.ExtraChallengeMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			phrases = append(phrases, m)
		}
	}
	return &Classifier{
		cfg:              cfg,
		logger:           logger.Named("obstacle"),
		now:              time.Now,
		challengePhrases: phrases,
		lastFailure:      make(map[string]time.Time),
	}
}

// Classify applies the rules in order and returns the first match. Action
// kind always beats page content: a declare_blocked proposal is a terminal
// failure even when the page also looks like a login wall.
func (c *Classifier) Classify(result schemas.ExecutionResult, proposal schemas.ActionProposal, before, after schemas.PageSnapshot) schemas.ObstacleLabel {
	switch proposal.Kind {
	case schemas.ActionDeclareSuccess:
		return schemas.ObstacleTerminalSuccess
	case schemas.ActionDeclareBlocked:
		return schemas.ObstacleTerminalFailure
	}

	page := c.inspect(after)

	if !result.Success && before.Fingerprint != "" && before.Fingerprint == after.Fingerprint {
		label := schemas.ObstacleUnknown
		if page.rateLimitText || c.failedRecently(after.Fingerprint+"|"+proposal.Signature()) {
			label = schemas.ObstacleRateLimited
		}
		c.logger.Debug("Failure on unchanged page",
			zap.String("fingerprint", after.Fingerprint),
			zap.String("label", string(label)))
		return label
	}

	switch {
	case page.credentials:
		return schemas.ObstacleLoginRequired
	case page.challenge:
		return schemas.ObstacleVerificationChallenge
	case page.multiStep:
		return schemas.ObstacleMultiStepForm
	}
	return schemas.ObstacleNone
}

// failedRecently records a failure under key and reports whether the
// previous one fell inside the configured interval. A zero interval turns
// the timing heuristic off.
func (c *Classifier) failedRecently(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	prev, seen := c.lastFailure[key]
	c.lastFailure[key] = now
	return seen && c.cfg.RateLimitInterval > 0 && now.Sub(prev) < c.cfg.RateLimitInterval
}

type pageSignals struct {
	credentials   bool
	challenge     bool
	multiStep     bool
	rateLimitText bool
}

func (c *Classifier) inspect(snap schemas.PageSnapshot) pageSignals {
	var sig pageSignals
	text := snap.Text

	if snap.HTML != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
		if err != nil {
			c.logger.Warn("Could not parse snapshot for obstacle markers", zap.Error(err))
		} else {
			sig.credentials = matchesAny(doc, credentialSelectors) || hasLoginForm(doc)
			sig.challenge = matchesAny(doc, challengeSelectors)
			if text == "" {
				text = doc.Find("body").Text()
			}
		}
	}

	lower := strings.ToLower(text)
	sig.challenge = sig.challenge || containsAny(lower, c.challengePhrases)
	sig.rateLimitText = containsAny(lower, rateLimitPhrases)
	sig.multiStep = stepPattern.MatchString(text)
	return sig
}

func matchesAny(doc *goquery.Document, selectors []string) bool {
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

func hasLoginForm(doc *goquery.Document) bool {
	found := false
	doc.Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		attrs := strings.ToLower(f.AttrOr("action", "") + " " + f.AttrOr("id", "") + " " + f.AttrOr("name", ""))
		found = containsAny(attrs, loginFormHints)
		return !found
	})
	return found
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
