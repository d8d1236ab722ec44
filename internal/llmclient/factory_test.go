package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autoapply/internal/config"
)

func TestNewProviderClient(t *testing.T) {
	logger, _ := setupTestLogger(t)
	ctx := context.Background()

	t.Run("ollama uses the endpoint client", func(t *testing.T) {
		client, err := NewProviderClient(ctx, config.LLMModelConfig{Provider: config.ProviderOllama, Model: "llama3"}, logger)
		require.NoError(t, err)
		assert.IsType(t, &EndpointClient{}, client)
	})

	t.Run("gemini uses the SDK client", func(t *testing.T) {
		client, err := NewProviderClient(ctx, getValidLLMConfig(), logger)
		require.NoError(t, err)
		assert.IsType(t, &GoogleClient{}, client)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewProviderClient(ctx, config.LLMModelConfig{Provider: "anthropic", Model: "x"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown or unsupported LLM provider configured: 'anthropic'")
	})
}

func TestNewClient_SharesClientForIdenticalTiers(t *testing.T) {
	logger, _ := setupTestLogger(t)
	cfg := config.AgentConfig{LLM: config.LLMRouterConfig{
		DefaultFastModel:     "local",
		DefaultPowerfulModel: "local",
		Models: map[string]config.LLMModelConfig{
			"local": {Provider: config.ProviderOllama, Model: "llama3"},
		},
	}}

	router, err := NewClient(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.Same(t, router.clients["fast"], router.clients["powerful"])
	assert.NoError(t, router.Close())
}

func TestResolveModel(t *testing.T) {
	t.Setenv("AUTOAPPLY_GEMINI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "env-key")

	router := config.LLMRouterConfig{Models: map[string]config.LLMModelConfig{
		"local": {Provider: config.ProviderOllama},
	}}

	listed := resolveModel(router, "local")
	assert.Equal(t, config.ProviderOllama, listed.Provider)
	assert.Equal(t, "local", listed.Model, "model id defaults to the map key")

	unlisted := resolveModel(router, "gemini-2.5-flash")
	assert.Equal(t, config.ProviderGemini, unlisted.Provider)
	assert.Equal(t, "gemini-2.5-flash", unlisted.Model)
	assert.Equal(t, "env-key", unlisted.APIKey)
}
