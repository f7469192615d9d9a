// Package errs defines the error taxonomy shared by the loaders, the
// streamer and the checkpoint selector. None of these errors are retried;
// callers surface them immediately and match with errors.As / errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// ErrIndexOutOfRange is returned by indexed accessors for an invalid index.
var ErrIndexOutOfRange = errors.New("index out of range")

// FormatError reports a mapping or dataset file whose content could not be
// parsed into the expected structure.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error in %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// UnsupportedFormatError reports a file extension no loader handles.
type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format %q for %s", e.Ext, e.Path)
}

// MappingConsistencyError reports a label that is absent from the inverse
// mapping, or absent from its own candidate set. It indicates upstream data
// corruption and is fatal.
type MappingConsistencyError struct {
	Label        string
	Abbreviation string // empty when the label has no abbreviation at all
}

func (e *MappingConsistencyError) Error() string {
	if e.Abbreviation == "" {
		return fmt.Sprintf("mapping consistency: label %q has no abbreviation", e.Label)
	}
	return fmt.Sprintf("mapping consistency: label %q not among candidates of %q", e.Label, e.Abbreviation)
}

// ModelNotFoundError reports that no checkpoint exists in the model directory.
type ModelNotFoundError struct {
	Dir string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("no model checkpoint found in %s", e.Dir)
}

// IsFatal reports whether err belongs to the data-corruption class that must
// abort a training run.
func IsFatal(err error) bool {
	var (
		fe *FormatError
		ue *UnsupportedFormatError
		me *MappingConsistencyError
		nf *ModelNotFoundError
	)
	return errors.As(err, &fe) || errors.As(err, &ue) || errors.As(err, &me) || errors.As(err, &nf)
}
