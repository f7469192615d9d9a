package async

import (
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/medexpand/internal/output"
)

const (
	defaultBufferSize   = 256
	defaultDrainTimeout = 5 * time.Second
)

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the channel buffer capacity. Default: 256.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithOnError sets the callback invoked when the inner sink fails.
// Default: logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// Async moves sink I/O off the training goroutine. Scalar enqueues the
// record; a background goroutine drains the queue into the wrapped sink.
// Inner errors go to errFunc instead of the caller.
type Async struct {
	inner     output.Sink
	ch        chan output.Record
	done      chan struct{}
	errFunc   func(error)
	bufSize   int
	closeOnce sync.Once
}

var _ output.Sink = (*Async)(nil)

// New wraps inner and starts the drain goroutine.
func New(inner output.Sink, opts ...Option) *Async {
	a := &Async{
		inner:   inner,
		bufSize: defaultBufferSize,
		errFunc: func(err error) { slog.Warn("async sink write error", "error", err) },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan output.Record, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Scalar enqueues the record, blocking while the buffer is full.
func (a *Async) Scalar(tag string, value float64, step int) error {
	a.ch <- output.Record{Tag: tag, Value: value, Step: step}
	return nil
}

// Close stops accepting records, waits for the queue to drain (bounded by a
// timeout), then closes the inner sink. It is safe to call more than once.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.ch)
		select {
		case <-a.done:
		case <-time.After(defaultDrainTimeout):
			slog.Warn("async sink drain timed out")
		}
		err = a.inner.Close()
	})
	return err
}

func (a *Async) drain() {
	defer close(a.done)
	for r := range a.ch {
		if err := a.inner.Scalar(r.Tag, r.Value, r.Step); err != nil {
			a.errFunc(err)
		}
	}
}
