// Package embeddertest provides a deterministic stand-in for the ONNX
// encoder so scoring and training code can be tested without model files.
package embeddertest

import (
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync/atomic"

	"github.com/crimson-sun/medexpand/internal/engine/embedder"
)

// Hash encodes each whitespace-separated word to a pseudo-random vector
// seeded by the word's FNV hash. The same word always maps to the same
// vector, so texts sharing words have similar mean-pooled embeddings.
type Hash struct {
	dim   int
	calls atomic.Int64
}

var _ embedder.Encoder = (*Hash)(nil)

// New returns a Hash encoder producing dim-dimensional token states.
func New(dim int) *Hash {
	return &Hash{dim: dim}
}

// Dim returns the token state dimension.
func (h *Hash) Dim() int { return h.dim }

// Calls returns how many texts have been encoded.
func (h *Hash) Calls() int64 { return h.calls.Load() }

// Encode pads every text to the longest word count in the batch. An empty
// text still yields one token so its mask is never all zero.
func (h *Hash) Encode(texts []string) (*embedder.Hidden, error) {
	h.calls.Add(int64(len(texts)))

	words := make([][]string, len(texts))
	seq := 1
	for i, t := range texts {
		words[i] = strings.Fields(strings.ToLower(t))
		if len(words[i]) == 0 {
			words[i] = []string{""}
		}
		seq = max(seq, len(words[i]))
	}

	out := &embedder.Hidden{
		States: make([]float32, len(texts)*seq*h.dim),
		Mask:   make([]int64, len(texts)*seq),
		Batch:  len(texts),
		Seq:    seq,
		Dim:    h.dim,
	}
	for b, ws := range words {
		for s, w := range ws {
			out.Mask[b*seq+s] = 1
			copy(out.States[(b*seq+s)*h.dim:], wordVector(w, h.dim))
		}
	}
	return out, nil
}

// Close is a no-op.
func (h *Hash) Close() error { return nil }

func wordVector(w string, dim int) []float32 {
	f := fnv.New64a()
	f.Write([]byte(w))
	seed := f.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}
