package ml

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrBackendUnavailable indicates the model backend could not be reached or
// initialized. It is structural, raised synchronously at construction or
// submission time rather than attached to a task handle.
var ErrBackendUnavailable = errors.New("ml: backend unavailable")

// Backend is an external model-inference capability. Infer must return one
// output per input, in input order.
type Backend interface {
	Infer(ctx context.Context, inputs []string) ([][]float32, error)
}

// Pinger is an optional Backend capability. When implemented, Ping is called
// at submission time so that misconfiguration surfaces immediately instead of
// failing the task later.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LoadFunc constructs a model backend. It may be expensive (model weights,
// remote clients); LazyBackend defers it until first use.
type LoadFunc func(ctx context.Context) (Backend, error)

// LazyBackend wraps a LoadFunc and loads the underlying backend at most once,
// on first use. It is safe to share a single LazyBackend between several
// workers; the load is serialized by an internal lock.
type LazyBackend struct {
	load LoadFunc

	mu      sync.Mutex
	backend Backend
}

func NewLazyBackend(load LoadFunc) *LazyBackend {
	return &LazyBackend{load: load}
}

func (l *LazyBackend) get(ctx context.Context) (Backend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backend != nil {
		return l.backend, nil
	}
	if l.load == nil {
		return nil, ErrBackendUnavailable
	}
	b, err := l.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if b == nil {
		return nil, ErrBackendUnavailable
	}
	l.backend = b
	return b, nil
}

func (l *LazyBackend) Infer(ctx context.Context, inputs []string) ([][]float32, error) {
	b, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return b.Infer(ctx, inputs)
}

// Ping loads the backend if it has not been loaded yet, so a broken LoadFunc
// is reported at submission time.
func (l *LazyBackend) Ping(ctx context.Context) error {
	_, err := l.get(ctx)
	return err
}

// Unload releases the loaded backend, calling unload on it first when
// non-nil. Unloading an unloaded backend is a no-op. The next use loads it
// again.
func (l *LazyBackend) Unload(unload func(Backend) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backend == nil {
		return nil
	}
	if unload != nil {
		if err := unload(l.backend); err != nil {
			return err
		}
	}
	l.backend = nil
	return nil
}
