package embedder

import "fmt"

// Aggregation selects how token hidden states are reduced to one vector.
type Aggregation string

const (
	AggMean Aggregation = "mean"
	// AggSum currently pools exactly like AggMean. Trained checkpoints depend
	// on that behaviour, so it is kept as is.
	AggSum  Aggregation = "sum"
	AggNone Aggregation = "none"
)

// ParseAggregation validates a configured aggregation name.
func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(s); a {
	case AggMean, AggSum, AggNone:
		return a, nil
	default:
		return "", fmt.Errorf("embedder: aggregation must be 'mean', 'sum' or 'none', got %q", s)
	}
}

// Pooled reports whether the aggregation yields one vector per text.
func (a Aggregation) Pooled() bool { return a != AggNone }

// Aggregate reduces h per sample. The result always has h.Batch entries, even
// for a batch of one; each entry holds one row for pooled modes, or h.Seq
// token rows for AggNone.
func Aggregate(h *Hidden, mode Aggregation) [][][]float32 {
	out := make([][][]float32, h.Batch)
	dim := int64(h.Dim)

	switch mode {
	case AggMean, AggSum:
		pooled := meanPool(h.States, h.Mask, int64(h.Batch), int64(h.Seq), dim)
		for b := range out {
			out[b] = [][]float32{pooled[int64(b)*dim : int64(b+1)*dim]}
		}
	default:
		for b := range out {
			rows := make([][]float32, h.Seq)
			for s := range rows {
				off := (b*h.Seq + s) * h.Dim
				rows[s] = h.States[off : off+h.Dim]
			}
			out[b] = rows
		}
	}
	return out
}

// meanPool computes attention-mask-weighted mean pooling over the sequence
// dimension of transformer hidden states.
//
// hidden: flat [batchSize * seqLen * dim] float32 (per-token hidden states)
// mask:   flat [batchSize * seqLen] int64 (1 for real tokens, 0 for padding)
//
// Returns flat [batchSize * dim] float32 (one pooled vector per sample).
func meanPool(hidden []float32, mask []int64, batchSize, seqLen, dim int64) []float32 {
	out := make([]float32, batchSize*dim)

	for b := int64(0); b < batchSize; b++ {
		maskOff := b * seqLen
		hiddenOff := b * seqLen * dim
		outOff := b * dim

		var count float32
		for s := int64(0); s < seqLen; s++ {
			if mask[maskOff+s] == 1 {
				count++
			}
		}
		if count == 0 {
			continue
		}

		for s := int64(0); s < seqLen; s++ {
			if mask[maskOff+s] != 1 {
				continue
			}
			tokOff := hiddenOff + s*dim
			for d := int64(0); d < dim; d++ {
				out[outOff+d] += hidden[tokOff+d]
			}
		}

		inv := 1.0 / count
		for d := int64(0); d < dim; d++ {
			out[outOff+d] *= inv
		}
	}

	return out
}
