// Package stream turns a Dataset and an inverse mapping into an unbounded
// sequence of fixed-size training batches.
//
// A Streamer holds the configuration. Each call to Stream returns an
// independent Iterator holding its own permutation and cursor; iterators
// never run dry, they reshuffle instead.
package stream

import (
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"

	"github.com/crimson-sun/medexpand/internal/dataset"
	"github.com/crimson-sun/medexpand/internal/errs"
	"github.com/crimson-sun/medexpand/internal/mapping"
)

// Batch is one training step worth of samples. Targets[i] is the position
// of the i-th label inside Candidates[i].
type Batch struct {
	Texts      []string
	Candidates [][]string
	Targets    []int
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int { return len(b.Texts) }

// Streamer produces batch iterators over one dataset.
type Streamer struct {
	data      *dataset.Dataset
	inv       *mapping.Inverse
	batchSize int
	seed      uint64
	streams   uint64
}

// New validates the configuration and returns a Streamer. batchSize must be
// between 1 and ds.Len(); a larger batch could never be filled.
func New(ds *dataset.Dataset, inv *mapping.Inverse, batchSize int, seed uint64) (*Streamer, error) {
	if ds.Len() == 0 {
		return nil, errors.New("stream: dataset is empty")
	}
	if batchSize < 1 || batchSize > ds.Len() {
		return nil, fmt.Errorf("stream: batch size %d outside [1, %d]", batchSize, ds.Len())
	}
	return &Streamer{data: ds, inv: inv, batchSize: batchSize, seed: seed}, nil
}

// BatchSize returns the configured batch size.
func (s *Streamer) BatchSize() int { return s.batchSize }

// BatchesPerEpoch returns floor(Len / batchSize). It is informational: the
// iterators themselves never stop.
func (s *Streamer) BatchesPerEpoch() int { return s.data.Len() / s.batchSize }

// Stream returns a fresh iterator. Iterators are independent of each other
// and seeded deterministically from the streamer seed and creation order.
func (s *Streamer) Stream() *Iterator {
	s.streams++
	it := &Iterator{
		src: s,
		rng: rand.New(rand.NewPCG(s.seed, s.streams)),
	}
	it.Reset()
	return it
}

// Iterator is a cursor over a Streamer. It is not safe for concurrent use.
type Iterator struct {
	src    *Streamer
	rng    *rand.Rand
	perm   []int
	cursor int
}

// Reset draws a new uniform permutation of all sample indices and moves the
// cursor back to the start.
func (it *Iterator) Reset() {
	it.perm = it.rng.Perm(it.src.data.Len())
	it.cursor = 0
}

// Next assembles the next batch. When fewer than BatchSize indices remain in
// the current permutation, the tail is dropped and a new permutation is drawn
// first, so every batch is full-sized.
//
// A label that is missing from the inverse mapping, or not among its own
// candidates, yields a *errs.MappingConsistencyError.
func (it *Iterator) Next() (Batch, error) {
	bs := it.src.batchSize
	if len(it.perm)-it.cursor < bs {
		it.Reset()
	}
	idx := it.perm[it.cursor : it.cursor+bs]
	it.cursor += bs

	b := Batch{
		Texts:      make([]string, bs),
		Candidates: make([][]string, bs),
		Targets:    make([]int, bs),
	}
	for i, j := range idx {
		sample, err := it.src.data.Get(j)
		if err != nil {
			return Batch{}, err
		}
		cands, target, err := Resolve(it.src.inv, sample.Label)
		if err != nil {
			return Batch{}, err
		}
		b.Texts[i] = sample.Text
		b.Candidates[i] = cands
		b.Targets[i] = target
	}
	return b, nil
}

// All adapts the iterator to a range-over-func sequence. The sequence ends
// only when the consumer stops or Next fails.
func (it *Iterator) All() iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for {
			b, err := it.Next()
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// Resolve returns the candidate set a label competes in and the label's
// position within it: label → abbreviation → candidates → index.
func Resolve(inv *mapping.Inverse, label string) ([]string, int, error) {
	abbr, ok := inv.Abbreviation(label)
	if !ok {
		return nil, 0, &errs.MappingConsistencyError{Label: label}
	}
	cands, _ := inv.Candidates(abbr)
	i := slices.Index(cands, label)
	if i < 0 {
		return nil, 0, &errs.MappingConsistencyError{Label: label, Abbreviation: abbr}
	}
	return cands, i, nil
}
