package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireAction struct {
	Action     string   `json:"action"`
	Candidates []string `json:"candidates"`
	Confidence int      `json:"confidence"`
}

func TestParseJSONResponse(t *testing.T) {
	testCases := []struct {
		name     string
		response string
	}{
		{"bare object", `{"action":"click","candidates":["#apply"],"confidence":80}`},
		{"fenced json", "```json\n{\"action\":\"click\",\"candidates\":[\"#apply\"],\"confidence\":80}\n```"},
		{"fenced without tag", "```\n{\"action\":\"click\",\"candidates\":[\"#apply\"],\"confidence\":80}\n```"},
		{"surrounded by prose", "Sure! Here is the next step: {\"action\":\"click\",\"candidates\":[\"#apply\"],\"confidence\":80} Good luck."},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseJSONResponse[wireAction](tc.response)
			require.NoError(t, err)
			assert.Equal(t, "click", got.Action)
			assert.Equal(t, []string{"#apply"}, got.Candidates)
			assert.Equal(t, 80, got.Confidence)
		})
	}
}

func TestParseJSONResponseErrors(t *testing.T) {
	_, err := ParseJSONResponse[wireAction]("")
	assert.Error(t, err)

	_, err = ParseJSONResponse[wireAction]("I cannot help with that.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal LLM JSON response")

	_, err = ParseJSONResponse[wireAction](`{"action": "click", "candidates": [}`)
	assert.Error(t, err)
}

func TestParseJSONArray(t *testing.T) {
	got, err := ParseJSONResponse[[]string]("```json\n[\"a\", \"b\"]\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, *got)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "", Truncate("anything", 0))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	// "é" is two bytes; cutting inside it backs off to the rune start.
	assert.Equal(t, "a...", Truncate("aé", 2))
}
