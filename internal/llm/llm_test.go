package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmichaelchen/mcp-discover/internal/models"
)

func TestStripCodeFences(t *testing.T) {
	want := `{"summary":"x"}`
	for _, in := range []string{
		`{"summary":"x"}`,
		"  {\"summary\":\"x\"}\n",
		"```json\n{\"summary\":\"x\"}\n```",
		"```\n{\"summary\":\"x\"}\n```\n",
		"```{\"summary\":\"x\"}```",
	} {
		assert.Equal(t, want, stripCodeFences(in), "input %q", in)
	}
}

func TestParseSummary(t *testing.T) {
	got, err := parseSummary("```json\n{\"summary\":\"  Reads issues.  \"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Reads issues.", got)

	_, err = parseSummary(`{"summary":""}`)
	assert.Error(t, err)

	_, err = parseSummary("not json")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "Repository: acme/widget")
		assert.Contains(t, req.Messages[1].Content, "SDK range: ^1.0.0")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "test-model",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": `{"summary":"Manages widgets."}`}, "finish_reason": "stop"}},
		})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/", "key", "test-model")
	summary, err := c.Summarize(context.Background(), models.Server{
		Repo:     models.RepositorySummary{Owner: "acme", Name: "widget"},
		SDKRange: "^1.0.0",
	})
	require.NoError(t, err)
	assert.Equal(t, "Manages widgets.", summary)
}
