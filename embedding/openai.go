package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Valkryst/WorkingClass/ml"
)

// OpenAIConfig configures an OpenAI-compatible embedding backend.
type OpenAIConfig struct {
	BaseURL string // defaults to https://api.openai.com/v1
	APIKey  string
	Model   string // defaults to text-embedding-3-small
	Timeout time.Duration
}

// OpenAIBackend computes embeddings through an OpenAI-compatible HTTP API.
type OpenAIBackend struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client

	mu  sync.Mutex
	dim int
}

// NewOpenAIBackend creates an OpenAIBackend. A missing API key is a
// structural misconfiguration and fails immediately.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing OpenAI API key", ml.ErrBackendUnavailable)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIBackend{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Infer generates one embedding per input, in input order.
func (c *OpenAIBackend) Infer(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	type reqBody struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	data, err := json.Marshal(reqBody{Input: inputs, Model: c.model})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai embeddings failed: %s", resp.Status)
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(out.Data), len(inputs))
	}

	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vectors[i] = d.Embedding
	}

	c.mu.Lock()
	if c.dim == 0 && len(vectors[0]) > 0 {
		c.dim = len(vectors[0])
	}
	c.mu.Unlock()

	return vectors, nil
}

// Dimension is learned lazily from the first response; before that it
// returns ErrDimensionUnknown.
func (c *OpenAIBackend) Dimension() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dim == 0 {
		return 0, ErrDimensionUnknown
	}
	return c.dim, nil
}
