package schemas

import (
	"context"
)

// -- Browser Interfaces --

// Cookie is a browser cookie in a transport-neutral shape.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// Browser is one live browser session. Element-level failures wrap
// ErrLocatorNotFound or ErrElementNotInteractable; a dead session wraps
// ErrBrowserUnavailable.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// PageSource returns the serialized DOM and its visible text.
	PageSource(ctx context.Context) (html string, text string, err error)
	ScrollIntoView(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	// Clear empties an input so subsequent Type calls start from nothing.
	Clear(ctx context.Context, selector string) error
	// Type appends text to the focused element matching selector.
	Type(ctx context.Context, selector string, text string) error
	Upload(ctx context.Context, selector string, path string) error
	Select(ctx context.Context, selector string, value string) error
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Close(ctx context.Context) error
}

// BrowserFactory opens fresh, isolated browser sessions. A session-level
// restart always goes through the factory.
type BrowserFactory interface {
	NewBrowser(ctx context.Context) (Browser, error)
}

// -- Persistence Interfaces --

// OutcomeStore persists finished attempts for reporting collaborators.
type OutcomeStore interface {
	SaveOutcome(ctx context.Context, outcome *ApplicationOutcome) error
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions controls sampling and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}
