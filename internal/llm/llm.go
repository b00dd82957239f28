package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kevinmichaelchen/mcp-discover/internal/models"
)

type Client struct {
	client *openai.Client
	model  string
}

func NewClient(baseURL, apiKey, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

const systemPrompt = `You describe Model Context Protocol servers for a catalogue. Given a repository name, its description and the SDK version range it depends on, produce a JSON object with a single key:

"summary": one sentence (at most 30 words) saying what the server lets an assistant do.

Return ONLY valid JSON. No markdown, no code fences.`

// Summarize asks the model for a one-line description of an accepted server.
func (c *Client) Summarize(ctx context.Context, srv models.Server) (string, error) {
	name := srv.Repo.FullName()

	parts := []string{fmt.Sprintf("Repository: %s", name)}
	if srv.Repo.Description != nil && *srv.Repo.Description != "" {
		parts = append(parts, fmt.Sprintf("Description: %s", *srv.Repo.Description))
	}
	if srv.SDKRange != "" {
		parts = append(parts, fmt.Sprintf("SDK range: %s", srv.SDKRange))
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: strings.Join(parts, "\n\n")},
		},
		// Plain prompt instead of ResponseFormat; json_object mode is not universal.
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("LLM call for %s: %w", name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned for %s", name)
	}

	return parseSummary(resp.Choices[0].Message.Content)
}

func parseSummary(content string) (string, error) {
	content = stripCodeFences(content)

	var result models.SummaryResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return "", fmt.Errorf("parsing LLM response: %w\nraw: %s", err, content)
	}
	summary := strings.TrimSpace(result.Summary)
	if summary == "" {
		return "", fmt.Errorf("LLM response has no summary")
	}
	return summary, nil
}

// stripCodeFences removes markdown fences some models wrap around JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i != -1 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	if i := strings.LastIndex(s, "```"); i != -1 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
