package expander

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/crimson-sun/medexpand/internal/engine/embedder"
)

// encode returns aggregated encoder rows for each text. Pooled vectors are
// memoised by text: the encoder is frozen, so its output for a given text
// never changes. Texts missing from the memo go to the encoder in a single
// batch.
func (e *Expander) encode(texts []string) ([][][]float32, error) {
	out := make([][][]float32, len(texts))

	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := e.lookup(t); ok {
			out[i] = [][]float32{v}
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	hid, err := e.enc.Encode(missing)
	if err != nil {
		return nil, fmt.Errorf("expander: encode: %w", err)
	}
	rows := embedder.Aggregate(hid, e.agg)
	for k, i := range missingIdx {
		out[i] = rows[k]
		if e.agg.Pooled() {
			e.store(missing[k], rows[k][0])
		}
	}
	return out, nil
}

func (e *Expander) lookup(text string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	buf, ok := e.cache.HasGet(nil, []byte(text))
	if !ok {
		return nil, false
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, true
}

func (e *Expander) store(text string, v []float32) {
	if e.cache == nil {
		return
	}
	buf := make([]byte, 0, len(v)*4)
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	e.cache.Set([]byte(text), buf)
}

// CacheStats reports encoder memo hits and misses.
func (e *Expander) CacheStats() (hits, misses uint64) {
	if e.cache == nil {
		return 0, 0
	}
	var s fastcache.Stats
	e.cache.UpdateStats(&s)
	return s.GetCalls - s.Misses, s.Misses
}
