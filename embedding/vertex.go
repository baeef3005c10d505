package embedding

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/Valkryst/WorkingClass/ml"
)

// ModelClient defines the subset of genai.Client methods we use, allowing
// for testing.
type ModelClient interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// VertexBackend computes embeddings with Google Cloud Vertex AI via the
// GenAI SDK.
type VertexBackend struct {
	Client ModelClient
	Model  string

	// OutputDimension requests truncated vectors of this length from the
	// model. Zero keeps the model's native dimension, which is then learned
	// from the first response.
	OutputDimension int32

	mu  sync.Mutex
	dim int
}

// NewVertexBackend creates a VertexBackend. Credentials come from
// Application Default Credentials (ADC).
func NewVertexBackend(ctx context.Context, projectID, location, modelName string) (*VertexBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %v", ml.ErrBackendUnavailable, err)
	}

	return &VertexBackend{
		Client: client.Models,
		Model:  modelName,
	}, nil
}

// Vertex AI limits batch requests to 250 items; 100 stays well within that.
const vertexBatchSize = 100

// Infer generates one embedding per input, in input order.
func (v *VertexBackend) Infer(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(inputs))

	for start := 0; start < len(inputs); start += vertexBatchSize {
		end := min(start+vertexBatchSize, len(inputs))

		var contents []*genai.Content
		for _, t := range inputs[start:end] {
			if t == "" {
				t = " "
			}
			contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
		}

		config := &genai.EmbedContentConfig{
			TaskType:     "RETRIEVAL_DOCUMENT",
			AutoTruncate: true,
		}
		if v.OutputDimension > 0 {
			d := v.OutputDimension
			config.OutputDimensionality = &d
		}

		resp, err := v.Client.EmbedContent(ctx, v.Model, contents, config)
		if err != nil {
			return nil, fmt.Errorf("failed to embed content batch (chunk %d-%d): %w", start, end, err)
		}
		if resp == nil {
			return nil, fmt.Errorf("empty response from embedding service for chunk %d-%d", start, end)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("embedding count mismatch in chunk %d-%d: expected %d, got %d", start, end, end-start, len(resp.Embeddings))
		}

		for _, emb := range resp.Embeddings {
			if emb != nil {
				all = append(all, emb.Values)
			} else {
				all = append(all, []float32{})
			}
		}
	}

	v.observeDimension(all)
	return all, nil
}

// Dimension reports the configured output dimension, or the dimension seen
// in the first response. Before either is known it returns
// ErrDimensionUnknown.
func (v *VertexBackend) Dimension() (int, error) {
	if v.OutputDimension > 0 {
		return int(v.OutputDimension), nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dim > 0 {
		return v.dim, nil
	}
	return 0, ErrDimensionUnknown
}

func (v *VertexBackend) observeDimension(vectors [][]float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dim == 0 && len(vectors) > 0 {
		v.dim = len(vectors[0])
	}
}
