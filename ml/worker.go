package ml

import (
	"context"
	"errors"
	"fmt"

	"github.com/Valkryst/WorkingClass/worker"
)

// ErrEmptyBatch is returned by SubmitBatch for a batch with no inputs.
var ErrEmptyBatch = errors.New("ml: empty batch")

// Worker narrows the base worker contract to ML-shaped tasks: batches of
// inputs in, model outputs out, with the computation delegated to an injected
// Backend. Lifecycle (Start/Stop) comes from the embedded base worker.
type Worker struct {
	*worker.Worker
	backend Backend
}

// NewWorker creates an ML worker around the given backend.
func NewWorker(backend Backend, opts ...worker.Option) (*Worker, error) {
	if backend == nil {
		return nil, ErrBackendUnavailable
	}
	return &Worker{
		Worker:  worker.New(opts...),
		backend: backend,
	}, nil
}

// Backend returns the model backend this worker delegates to.
func (w *Worker) Backend() Backend { return w.backend }

// SubmitBatch wraps a batch of inputs into a task that calls the backend's
// inference entry point. The batch must be non-empty. If the backend
// implements Pinger, availability is checked here and a failure is returned
// as ErrBackendUnavailable rather than deferred to execution.
func (w *Worker) SubmitBatch(ctx context.Context, inputs []string) (*BatchHandle, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyBatch
	}

	if p, ok := w.backend.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			if errors.Is(err, ErrBackendUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	// The caller keeps ownership of its slice; the task works on a copy.
	batch := make([]string, len(inputs))
	copy(batch, inputs)

	h, err := w.Submit(worker.Task{Op: func(ctx context.Context) (any, error) {
		outputs, err := w.backend.Infer(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(outputs) != len(batch) {
			return nil, fmt.Errorf("backend returned %d outputs for %d inputs", len(outputs), len(batch))
		}
		return outputs, nil
	}})
	if err != nil {
		return nil, err
	}
	return &BatchHandle{h: h}, nil
}

// BatchHandle represents the eventual outputs of one submitted batch.
type BatchHandle struct {
	h *worker.Handle
}

// Done is closed once the batch has resolved.
func (b *BatchHandle) Done() <-chan struct{} { return b.h.Done() }

// Output blocks until the batch resolves or ctx is cancelled, returning one
// output per input in submission order.
func (b *BatchHandle) Output(ctx context.Context) ([][]float32, error) {
	out, err := b.h.Output(ctx)
	if err != nil {
		return nil, err
	}
	return out.([][]float32), nil
}
