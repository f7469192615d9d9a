package head

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const metadataKey = "__metadata__"

type tensorMeta struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// MarshalSafetensors encodes the head as a safetensors blob: an 8-byte LE
// header length, a JSON header, then raw little-endian F32 data. Dimensions
// and dropout travel in the header metadata.
func (h *Head) MarshalSafetensors() ([]byte, error) {
	header := map[string]any{
		metadataKey: map[string]string{
			"in_dim":  strconv.Itoa(h.InDim),
			"hidden":  strconv.Itoa(h.Hidden),
			"dropout": strconv.FormatFloat(h.Dropout, 'g', -1, 64),
		},
	}

	offset := 0
	for _, p := range h.Params() {
		n := len(p.W) * 4
		header[p.Name] = tensorMeta{Dtype: "F32", Shape: p.shape(), DataOffsets: [2]int{offset, offset + n}}
		offset += n
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("safetensors: marshal header: %w", err)
	}
	// Pad the header with spaces so the data section is 8-byte aligned.
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}

	out := make([]byte, 8, 8+len(hdr)+offset)
	binary.LittleEndian.PutUint64(out, uint64(len(hdr)))
	out = append(out, hdr...)
	for _, p := range h.Params() {
		for _, w := range p.W {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(w))
		}
	}
	return out, nil
}

func (p *Param) shape() []int {
	if p.Cols == 1 {
		return []int{p.Rows}
	}
	return []int{p.Rows, p.Cols}
}

// UnmarshalSafetensors decodes a head written by MarshalSafetensors.
func UnmarshalSafetensors(data []byte) (*Head, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: file too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)) < 8+headerLen {
		return nil, fmt.Errorf("safetensors: header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("safetensors: failed to parse header: %w", err)
	}

	var meta map[string]string
	if raw, ok := header[metadataKey]; ok {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("safetensors: failed to parse metadata: %w", err)
		}
	}
	inDim, err1 := strconv.Atoi(meta["in_dim"])
	hidden, err2 := strconv.Atoi(meta["hidden"])
	dropout, err3 := strconv.ParseFloat(meta["dropout"], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, fmt.Errorf("safetensors: missing or invalid head metadata %v", meta)
	}

	h := alloc(inDim, hidden, dropout)
	dataStart := int(8 + headerLen)
	for _, p := range h.Params() {
		raw, ok := header[p.Name]
		if !ok {
			return nil, fmt.Errorf("safetensors: tensor %q not found in header", p.Name)
		}
		var tm tensorMeta
		if err := json.Unmarshal(raw, &tm); err != nil {
			return nil, fmt.Errorf("safetensors: failed to parse tensor %q: %w", p.Name, err)
		}
		if tm.Dtype != "F32" {
			return nil, fmt.Errorf("safetensors: %s: expected dtype F32, got %s", p.Name, tm.Dtype)
		}

		start := dataStart + tm.DataOffsets[0]
		end := dataStart + tm.DataOffsets[1]
		if end-start != len(p.W)*4 {
			return nil, fmt.Errorf("safetensors: %s: data size %d doesn't match shape %v", p.Name, end-start, tm.Shape)
		}
		if start < dataStart || end > len(data) {
			return nil, fmt.Errorf("safetensors: %s: data range [%d:%d] exceeds file size %d", p.Name, start, end, len(data))
		}

		for i := range p.W {
			p.W[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[start+i*4:]))
		}
	}
	return h, nil
}
