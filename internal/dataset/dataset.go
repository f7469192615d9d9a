// Package dataset loads tabular text/label files and exposes them as a
// fixed-size, indexed sequence of samples.
package dataset

import (
	"fmt"
	"math/rand/v2"

	"github.com/crimson-sun/medexpand/internal/errs"
)

// Sample is one (text, true expansion) pair.
type Sample struct {
	Text  string
	Label string
}

// Dataset is an immutable indexed sequence of samples.
type Dataset struct {
	samples []Sample
}

// FromSamples wraps an existing slice. The slice is not copied.
func FromSamples(samples []Sample) *Dataset {
	return &Dataset{samples: samples}
}

// Build extracts the text and label columns of t into a Dataset.
//
// The two columns are expected to have equal length. This is the caller's
// responsibility: on a mismatch the dataset is silently truncated to the
// shorter column.
func Build(t *Table, textCol, labelCol string) (*Dataset, error) {
	texts, ok := t.Column(textCol)
	if !ok {
		return nil, &errs.FormatError{Path: textCol, Err: fmt.Errorf("text column %q not found in %v", textCol, t.Columns())}
	}
	labels, ok := t.Column(labelCol)
	if !ok {
		return nil, &errs.FormatError{Path: labelCol, Err: fmt.Errorf("label column %q not found in %v", labelCol, t.Columns())}
	}

	n := min(len(texts), len(labels))
	samples := make([]Sample, n)
	for i := range n {
		samples[i] = Sample{Text: texts[i], Label: labels[i]}
	}
	return &Dataset{samples: samples}, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.samples) }

// Get returns the i-th sample.
func (d *Dataset) Get(i int) (Sample, error) {
	if i < 0 || i >= len(d.samples) {
		return Sample{}, fmt.Errorf("dataset: get %d of %d: %w", i, len(d.samples), errs.ErrIndexOutOfRange)
	}
	return d.samples[i], nil
}

// Split randomly partitions the dataset: round(frac*Len) samples go to
// train, the remainder to val. frac is clamped to [0, 1].
func (d *Dataset) Split(frac float64, rng *rand.Rand) (train, val *Dataset) {
	frac = max(0, min(1, frac))
	n := len(d.samples)
	k := int(frac*float64(n) + 0.5)

	perm := rng.Perm(n)
	tr := make([]Sample, 0, k)
	va := make([]Sample, 0, n-k)
	for i, idx := range perm {
		if i < k {
			tr = append(tr, d.samples[idx])
		} else {
			va = append(va, d.samples[idx])
		}
	}
	return &Dataset{samples: tr}, &Dataset{samples: va}
}
