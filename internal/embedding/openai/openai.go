package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"carreviews/internal/httpclient"
)

// DefaultModel is the sentence-embedding model the collections are built
// with when none is configured.
const DefaultModel = "multi-qa-MiniLM-L6-cos-v1"

// Client is an OpenAI-compatible embeddings client. The model name is the
// embedding identity stored with each collection.
type Client struct {
	model string
	http  *httpclient.Client
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL           string
	APIKeyEnv         string
	Model             string
	Timeout           time.Duration
	MaxRetries        uint64
	RequestsPerSecond float64
}

// NewClient creates a new embeddings client using the provided configuration.
// An empty APIKeyEnv means the endpoint needs no credential.
func NewClient(cfg Config) (*Client, error) {
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
		cfg.Model = DefaultModel
	}
	return &Client{
		model: cfg.Model,
		http: httpclient.New(httpclient.Config{
			BaseURL:           cfg.BaseURL,
			APIKey:            key,
			Timeout:           cfg.Timeout,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}),
	}, nil
}

// Name returns the embedding model name.
func (c *Client) Name() string { return c.model }

// embeddingsRequest also carries the first text as prompt, which is all
// an Ollama-native /embeddings endpoint reads.
type embeddingsRequest struct {
	Input  []string `json:"input"`
	Prompt string   `json:"prompt,omitempty"`
	Model  string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	// Embedding is the Ollama-native shape: one vector for the prompt.
	Embedding []float32 `json:"embedding"`
}

// Embed returns one embedding per text, in input order. A backend answering
// with a single Ollama-style vector is asked again for each remaining text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out, err := c.post(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(out.Data) == 0 && len(out.Embedding) > 0 {
		return c.embedOneByOne(ctx, texts, out.Embedding)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(out.Data), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) || vecs[d.Index] != nil {
			return nil, fmt.Errorf("openai embeddings: bad index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, errors.New("openai embeddings: empty embedding")
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (c *Client) post(ctx context.Context, texts []string) (embeddingsResponse, error) {
	var out embeddingsResponse
	req := embeddingsRequest{Input: texts, Prompt: texts[0], Model: c.model}
	if err := c.http.PostJSON(ctx, "/embeddings", req, &out); err != nil {
		return out, fmt.Errorf("openai embeddings: %w", err)
	}
	return out, nil
}

func (c *Client) embedOneByOne(ctx context.Context, texts []string, first []float32) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	vecs[0] = first
	for i := 1; i < len(texts); i++ {
		out, err := c.post(ctx, texts[i:i+1])
		if err != nil {
			return nil, err
		}
		v := out.Embedding
		if len(v) == 0 && len(out.Data) == 1 {
			v = out.Data[0].Embedding
		}
		if len(v) == 0 {
			return nil, errors.New("openai embeddings: empty embedding")
		}
		vecs[i] = v
	}
	return vecs, nil
}
