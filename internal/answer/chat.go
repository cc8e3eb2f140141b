package answer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"carreviews/internal/domain"
	"carreviews/internal/httpclient"
)

const systemPrompt = `You answer questions about cars using ONLY the customer reviews provided below.
If the reviews do not contain enough information, say so honestly.
Mention the vehicle model and rating of the reviews you rely on. Be concise.`

// ChatConfig configures an OpenAI-compatible chat completion backend.
type ChatConfig struct {
	BaseURL           string
	APIKeyEnv         string
	Model             string
	Temperature       float64
	Timeout           time.Duration
	MaxRetries        uint64
	RequestsPerSecond float64
}

// Chat answers with a chat completion grounded on the retrieved reviews.
type Chat struct {
	model       string
	temperature float64
	http        *httpclient.Client
}

// NewChat reads the API key from cfg.APIKeyEnv. An empty APIKeyEnv is
// allowed for local endpoints.
func NewChat(cfg ChatConfig) (*Chat, error) {
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		return nil, errors.New("chat: model is required")
	}
	return &Chat{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		http: httpclient.New(httpclient.Config{
			BaseURL:           cfg.BaseURL,
			APIKey:            key,
			Timeout:           cfg.Timeout,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Chat) Answer(ctx context.Context, question string, matches []domain.Match) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt + "\n\n" + ReviewContext(matches)},
			{Role: "user", Content: question},
		},
		Temperature: c.temperature,
	}
	var resp chatResponse
	if err := c.http.PostJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ReviewContext renders matches as numbered context blocks.
func ReviewContext(matches []domain.Match) string {
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = fmt.Sprintf("[%d] %d %s, rating %.1f: %s\n%s",
			i+1, m.Metadata.Year, m.Metadata.Model, m.Metadata.Rating, m.Metadata.Title, m.Text)
	}
	return strings.Join(parts, "\n\n")
}

var _ domain.Synthesizer = (*Chat)(nil)
