// File: internal/oracle/oracle.go
// Package oracle asks a language model for the next action on a page and
// turns its reply into a validated ActionProposal.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/llmutil"
	"github.com/xkilldash9x/autoapply/internal/metrics"
	"github.com/xkilldash9x/autoapply/internal/sitememory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireProposal is the JSON shape the model is asked to produce.
type wireProposal struct {
	Action     string   `json:"action"`
	Candidates []string `json:"candidates"`
	Value      string   `json:"value"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// Client is the page oracle. It reads Site Memory hints handed to it but
// never writes memory itself.
type Client struct {
	llm     schemas.LLMClient
	cfg     config.OracleConfig
	limiter *rate.Limiter
	metrics *metrics.Recorder
	logger  *zap.Logger
}

// NewClient wraps an LLM client. rec may be nil.
func NewClient(llm schemas.LLMClient, cfg config.OracleConfig, rec *metrics.Recorder, logger *zap.Logger) *Client {
	if cfg.MaxSnapshotBytes <= 0 {
		cfg.MaxSnapshotBytes = 24 * 1024
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	return &Client{
		llm:     llm,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		metrics: rec,
		logger:  logger.Named("oracle"),
	}
}

// Propose asks for the next action on snapshot. history should already be
// bounded to the window the caller wants in the prompt.
//
// Malformed or failed replies are retried once with a stricter request;
// a second failure yields a synthetic declare_blocked proposal. The only
// error returned is the context's, when the caller gave up.
func (c *Client) Propose(ctx context.Context, snapshot schemas.PageSnapshot, task schemas.ApplicationTask, history []schemas.IterationRecord, hints []sitememory.Hint) (schemas.ActionProposal, error) {
	return c.propose(ctx, promptInput{
		snapshot: snapshot,
		task:     task,
		history:  history,
		hints:    hints,
	})
}

// ProposeAlternative re-asks for the same snapshot after every candidate of
// failed was exhausted.
func (c *Client) ProposeAlternative(ctx context.Context, snapshot schemas.PageSnapshot, task schemas.ApplicationTask, history []schemas.IterationRecord, hints []sitememory.Hint, failed schemas.IterationRecord) (schemas.ActionProposal, error) {
	return c.propose(ctx, promptInput{
		snapshot:    snapshot,
		task:        task,
		history:     history,
		hints:       hints,
		failureNote: failureNote(failed),
	})
}

func (c *Client) propose(ctx context.Context, in promptInput) (schemas.ActionProposal, error) {
	in.maxBytes = c.cfg.MaxSnapshotBytes
	user, err := userPrompt(in)
	if err != nil {
		c.metrics.OracleCall(metrics.OracleSynthetic)
		return schemas.NewBlockedProposal(schemas.ReasonOracleUnparsable), nil
	}

	system := systemPrompt()
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		prompt := system
		if attempt > 0 {
			prompt += strictSuffix(lastErr)
		}

		proposal, err := c.ask(ctx, prompt, user)
		if err == nil {
			c.metrics.OracleCall(metrics.OracleOK)
			return proposal, nil
		}
		if ctx.Err() != nil {
			return schemas.ActionProposal{}, ctx.Err()
		}

		lastErr = err
		if errors.Is(err, schemas.ErrOracleUnreachable) {
			c.metrics.OracleCall(metrics.OracleUnreachable)
		} else {
			c.metrics.OracleCall(metrics.OracleMalformed)
		}
		c.logger.Warn("Oracle reply rejected", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	c.metrics.OracleCall(metrics.OracleSynthetic)
	c.logger.Warn("Oracle failed twice, declaring blocked", zap.Error(lastErr))
	return schemas.NewBlockedProposal(schemas.ReasonOracleUnparsable), nil
}

func (c *Client) ask(ctx context.Context, system, user string) (schemas.ActionProposal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return schemas.ActionProposal{}, fmt.Errorf("%w: %v", schemas.ErrOracleUnreachable, err)
	}

	apiCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	tier := schemas.ModelTier(c.cfg.Tier)
	if tier == "" {
		tier = schemas.TierFast
	}
	response, err := c.llm.Generate(apiCtx, schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		Tier:         tier,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: c.cfg.Temperature},
	})
	if err != nil {
		return schemas.ActionProposal{}, fmt.Errorf("%w: %v", schemas.ErrOracleUnreachable, err)
	}
	return ParseProposal(response)
}

// ParseProposal converts a model reply into a validated proposal.
func ParseProposal(response string) (schemas.ActionProposal, error) {
	wire, err := llmutil.ParseJSONResponse[wireProposal](response)
	if err != nil {
		return schemas.ActionProposal{}, fmt.Errorf("%w: %v", schemas.ErrOracleMalformed, err)
	}

	p := schemas.ActionProposal{
		Kind:       schemas.ActionKind(strings.ToLower(strings.TrimSpace(wire.Action))),
		Value:      wire.Value,
		Confidence: confidence(wire.Confidence),
		Rationale:  strings.TrimSpace(wire.Reasoning),
		Source:     schemas.SourceOracle,
	}
	if !p.Kind.IsDeclaration() {
		p.Candidates = cleanCandidates(wire.Candidates)
	}
	if err := p.Validate(); err != nil {
		return schemas.ActionProposal{}, fmt.Errorf("%w: %v", schemas.ErrOracleMalformed, err)
	}
	return p, nil
}

// confidence accepts either a percentage or a 0-1 fraction.
func confidence(v float64) int {
	if v > 0 && v <= 1 {
		v *= 100
	}
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v + 0.5)
}

func cleanCandidates(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
