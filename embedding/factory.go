package embedding

import (
	"context"
	"fmt"

	"github.com/Valkryst/WorkingClass/config"
	"github.com/Valkryst/WorkingClass/ml"
	"github.com/Valkryst/WorkingClass/worker"
)

// Provider names accepted by NewBackend.
const (
	ProviderVertex = "vertex"
	ProviderOpenAI = "openai"
)

// NewBackend builds the backend selected by cfg.Provider. Unknown providers
// and missing credentials wrap ml.ErrBackendUnavailable.
func NewBackend(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.Provider {
	case ProviderVertex:
		backend, err := NewVertexBackend(ctx, cfg.GoogleCloudProject, cfg.GoogleCloudLocation, cfg.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		backend.OutputDimension = int32(cfg.OutputDimension)
		return backend, nil
	case ProviderOpenAI:
		return NewOpenAIBackend(OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.EmbeddingModel,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ml.ErrBackendUnavailable, cfg.Provider)
	}
}

// NewWorkerFromConfig wires a backend and an embedding worker from config in
// one step.
func NewWorkerFromConfig(ctx context.Context, cfg config.Config) (*Worker, error) {
	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithCacheSize(cfg.CacheSize),
		WithCacheTTL(cfg.CacheTTL),
		WithWorkerOptions(workerQueueOption(cfg.QueueSize)...),
	}
	if !cfg.CacheEnabled {
		opts = append(opts, WithCacheDisabled())
	}
	return NewWorker(backend, opts...)
}

func workerQueueOption(n int) []worker.Option {
	if n <= 0 {
		return nil
	}
	return []worker.Option{worker.WithQueueSize(n)}
}
