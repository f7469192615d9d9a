// Package output defines where training scalars go: one value per tag and
// step, in the shape of a TensorBoard scalar summary.
package output

import "time"

// Record is one logged scalar.
type Record struct {
	Tag   string    `json:"tag"`
	Value float64   `json:"value"`
	Step  int       `json:"step"`
	Time  time.Time `json:"time"`
}

// Sink receives scalar records.
type Sink interface {
	Scalar(tag string, value float64, step int) error
	Close() error
}

// Discard is a Sink that drops every record.
var Discard Sink = discard{}

type discard struct{}

func (discard) Scalar(string, float64, int) error { return nil }
func (discard) Close() error                      { return nil }
