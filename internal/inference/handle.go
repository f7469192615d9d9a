package inference

import (
	"context"
	"sync"

	"github.com/crimson-sun/medexpand/internal/engine/expander"
	"github.com/crimson-sun/medexpand/internal/mapping"
)

// Runtime is everything Expand needs, loaded once per process.
type Runtime struct {
	Model      expander.Model
	Inverse    *mapping.Inverse
	Checkpoint string
	close      func() error
}

// Close releases the model's resources.
func (r *Runtime) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// Loader builds a Runtime.
type Loader func(ctx context.Context) (*Runtime, error)

// Handle lazily loads a Runtime on first use. Concurrent first calls share
// a single load; a failed load is not remembered, so the next call retries.
type Handle struct {
	mu   sync.Mutex
	load Loader
	rt   *Runtime
}

// NewHandle returns a Handle that will call load on first use.
func NewHandle(load Loader) *Handle {
	return &Handle{load: load}
}

// Get returns the loaded Runtime, loading it if needed.
func (h *Handle) Get(ctx context.Context) (*Runtime, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rt != nil {
		return h.rt, nil
	}
	rt, err := h.load(ctx)
	if err != nil {
		return nil, err
	}
	h.rt = rt
	return rt, nil
}

// Ready reports whether a Runtime has been loaded.
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rt != nil
}

// Expand loads the Runtime if needed and expands sentence.
func (h *Handle) Expand(ctx context.Context, sentence string) (string, error) {
	rt, err := h.Get(ctx)
	if err != nil {
		return "", err
	}
	return Expand(ctx, sentence, rt.Inverse, rt.Model)
}

// Close releases the loaded Runtime, if any.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rt == nil {
		return nil
	}
	err := h.rt.Close()
	h.rt = nil
	return err
}
