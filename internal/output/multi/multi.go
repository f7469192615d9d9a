package multi

import (
	"errors"

	"github.com/crimson-sun/medexpand/internal/output"
)

// Multi fans out scalars to multiple output.Sink implementations.
// Each Scalar call delivers the record to every wrapped sink sequentially.
// If one sink fails, the remaining sinks still receive the record.
type Multi struct {
	sinks []output.Sink
}

var _ output.Sink = (*Multi)(nil)

// New creates a Multi that fans out to the given sinks.
func New(sinks ...output.Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Scalar delivers the record to every wrapped sink. Errors are collected
// but do not prevent delivery to subsequent sinks.
func (m *Multi) Scalar(tag string, value float64, step int) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Scalar(tag, value, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close calls Close on every wrapped sink, collecting errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
