package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"

	"github.com/Valkryst/WorkingClass/ml"
	"github.com/Valkryst/WorkingClass/worker"
)

var (
	// ErrDimensionUnknown is returned when the backend cannot report its
	// output vector length before first use.
	ErrDimensionUnknown = errors.New("embedding: dimension unknown")

	// ErrEmptyInput is returned by SubmitEmbedding for an empty input item.
	ErrEmptyInput = errors.New("embedding: empty input")

	// ErrCacheDisabled is returned by cache operations when the worker was
	// built with the cache disabled.
	ErrCacheDisabled = errors.New("embedding: cache disabled")
)

// Backend extends the ML backend contract with dimension reporting. The
// reported dimension must be stable across the backend's lifetime.
type Backend interface {
	ml.Backend
	Dimension() (int, error)
}

const (
	// DefaultCacheSize is the maximum number of cached embeddings.
	DefaultCacheSize = 1024
	// DefaultCacheTTL is how long a cached embedding stays reusable.
	DefaultCacheTTL = time.Minute
)

type options struct {
	cacheEnabled bool
	cacheSize    int64
	cacheTTL     time.Duration
	workerOpts   []worker.Option
}

// Option configures an embedding Worker.
type Option func(*options)

// WithCacheDisabled turns the embedding cache off.
func WithCacheDisabled() Option {
	return func(o *options) { o.cacheEnabled = false }
}

// WithCacheSize sets the maximum number of cached embeddings. Values below 1
// are ignored.
func WithCacheSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// WithCacheTTL sets the time-to-live of cached embeddings. Non-positive
// values are ignored.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithWorkerOptions forwards options to the underlying base worker.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(o *options) { o.workerOpts = append(o.workerOpts, opts...) }
}

// Worker computes one embedding vector per input item through the configured
// backend. Recently computed vectors are kept in an in-memory TTL cache so
// repeated inputs skip inference entirely.
type Worker struct {
	*ml.Worker
	backend   Backend
	cacheSize int64
	cacheTTL  time.Duration

	cacheMu sync.RWMutex
	cache   *theine.Cache[string, []float32]
}

// NewWorker creates an embedding worker. The cache is enabled by default
// with DefaultCacheSize and DefaultCacheTTL.
func NewWorker(backend Backend, opts ...Option) (*Worker, error) {
	if backend == nil {
		return nil, ml.ErrBackendUnavailable
	}

	o := options{
		cacheEnabled: true,
		cacheSize:    DefaultCacheSize,
		cacheTTL:     DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	mw, err := ml.NewWorker(backend, o.workerOpts...)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		Worker:    mw,
		backend:   backend,
		cacheSize: o.cacheSize,
		cacheTTL:  o.cacheTTL,
	}
	if o.cacheEnabled {
		if w.cache, err = newCache(o.cacheSize); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func newCache(size int64) (*theine.Cache[string, []float32], error) {
	cache, err := theine.NewBuilder[string, []float32](size).Build()
	if err != nil {
		return nil, fmt.Errorf("embedding: create cache: %w", err)
	}
	return cache, nil
}

// SubmitEmbedding wraps a one-element batch and returns a handle to the
// resulting vector. A cached vector is served without touching the backend.
func (w *Worker) SubmitEmbedding(ctx context.Context, item string) (*Handle, error) {
	if item == "" {
		return nil, ErrEmptyInput
	}

	if vec, ok := w.cacheGet(item); ok {
		return &Handle{vec: vec}, nil
	}

	bh, err := w.SubmitBatch(ctx, []string{item})
	if err != nil {
		return nil, err
	}
	return &Handle{w: w, key: item, bh: bh}, nil
}

// Dimension reports the backend's output vector length, or
// ErrDimensionUnknown when the backend cannot report it yet.
func (w *Worker) Dimension() (int, error) {
	dim, err := w.backend.Dimension()
	if err != nil {
		return 0, err
	}
	if dim <= 0 {
		return 0, ErrDimensionUnknown
	}
	return dim, nil
}

// Stop shuts down the underlying worker and releases cache resources.
func (w *Worker) Stop() {
	w.Worker.Stop()
	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	if w.cache != nil {
		w.cache.Close()
		w.cache = nil
	}
}

// AddToCache stores a copy of the vector under the given key.
func (w *Worker) AddToCache(key string, vec []float32) error {
	w.cacheMu.RLock()
	defer w.cacheMu.RUnlock()
	if w.cache == nil {
		return ErrCacheDisabled
	}
	w.cache.SetWithTTL(key, cloneVector(vec), 1, w.cacheTTL)
	return nil
}

// RetrieveFromCache looks a vector up. The second return reports whether the
// key was present. The returned vector is a copy; mutating it cannot corrupt
// the cached entry.
func (w *Worker) RetrieveFromCache(key string) ([]float32, bool, error) {
	w.cacheMu.RLock()
	defer w.cacheMu.RUnlock()
	if w.cache == nil {
		return nil, false, ErrCacheDisabled
	}
	vec, ok := w.cache.Get(key)
	return cloneVector(vec), ok, nil
}

// RemoveFromCache drops one cached vector.
func (w *Worker) RemoveFromCache(key string) error {
	w.cacheMu.RLock()
	defer w.cacheMu.RUnlock()
	if w.cache == nil {
		return ErrCacheDisabled
	}
	w.cache.Delete(key)
	return nil
}

// EnableCache turns the cache on or off at runtime. Toggling to the current
// state is a no-op; disabling drops every cached vector.
func (w *Worker) EnableCache(enabled bool) error {
	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	if enabled == (w.cache != nil) {
		return nil
	}
	if !enabled {
		w.cache.Close()
		w.cache = nil
		return nil
	}
	fresh, err := newCache(w.cacheSize)
	if err != nil {
		return err
	}
	w.cache = fresh
	return nil
}

// SetCacheSize changes the maximum number of cached embeddings. When the
// cache is enabled it is rebuilt, dropping every cached vector.
func (w *Worker) SetCacheSize(n int64) error {
	if n <= 0 {
		return fmt.Errorf("embedding: cache size must be positive, got %d", n)
	}
	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	w.cacheSize = n
	if w.cache == nil {
		return nil
	}
	fresh, err := newCache(n)
	if err != nil {
		return err
	}
	w.cache.Close()
	w.cache = fresh
	return nil
}

// SetCacheTTL changes the time-to-live for future cache entries. Entries
// already cached keep the TTL they were stored with.
func (w *Worker) SetCacheTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("embedding: cache TTL must be positive, got %s", ttl)
	}
	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	w.cacheTTL = ttl
	return nil
}

// ClearCache drops every cached vector by rebuilding the cache.
func (w *Worker) ClearCache() error {
	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	if w.cache == nil {
		return ErrCacheDisabled
	}
	fresh, err := newCache(w.cacheSize)
	if err != nil {
		return err
	}
	w.cache.Close()
	w.cache = fresh
	return nil
}

func (w *Worker) cacheGet(key string) ([]float32, bool) {
	w.cacheMu.RLock()
	defer w.cacheMu.RUnlock()
	if w.cache == nil {
		return nil, false
	}
	vec, ok := w.cache.Get(key)
	return cloneVector(vec), ok
}

func (w *Worker) cachePut(key string, vec []float32) {
	if w == nil {
		return
	}
	w.cacheMu.RLock()
	defer w.cacheMu.RUnlock()
	if w.cache == nil {
		return
	}
	w.cache.SetWithTTL(key, cloneVector(vec), 1, w.cacheTTL)
}

// Vectors are copied at the cache boundary in both directions, so callers
// and the cache never share a backing array.
func cloneVector(vec []float32) []float32 {
	if vec == nil {
		return nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}

// Handle represents the eventual embedding vector for one input item.
type Handle struct {
	w   *Worker
	key string
	bh  *ml.BatchHandle

	// vec is set when the handle was served from the cache.
	vec []float32
}

var resolved = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed once the embedding is available.
func (h *Handle) Done() <-chan struct{} {
	if h.bh == nil {
		return resolved
	}
	return h.bh.Done()
}

// Output blocks until the vector is available or ctx is cancelled. A
// successfully computed vector enters the worker's cache.
func (h *Handle) Output(ctx context.Context) ([]float32, error) {
	if h.bh == nil {
		return h.vec, nil
	}
	outputs, err := h.bh.Output(ctx)
	if err != nil {
		return nil, err
	}
	vec := outputs[0]
	h.w.cachePut(h.key, vec)
	return vec, nil
}
