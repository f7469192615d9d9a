package embedder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	tokenizers "github.com/amikos-tech/pure-tokenizers"
)

// hfTokenizer runs a Hugging Face tokenizer.json through the native
// tokenizers library. It handles the byte-level BPE vocabularies of
// RoBERTa-family encoders such as MedRoBERTa.nl. Normalization is whatever
// the tokenizer.json declares; Options.Lowercase does not apply.
type hfTokenizer struct {
	tok   *tokenizers.Tokenizer
	padID int64
}

func newHFTokenizer(def []byte, libPath string, maxLen int) (*hfTokenizer, error) {
	padID, err := padTokenID(def)
	if err != nil {
		return nil, err
	}

	// The native loader only reads from a path.
	dir, err := os.MkdirTemp("", "medexpand-tokenizer-")
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "tokenizer.json")
	if err := os.WriteFile(path, def, 0o600); err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}

	opts := []tokenizers.TokenizerOption{
		tokenizers.WithTruncation(
			uintptr(maxLen),
			tokenizers.TruncationDirectionRight,
			tokenizers.TruncationStrategyLongestFirst,
		),
	}
	if libPath != "" {
		opts = append(opts, tokenizers.WithLibraryPath(libPath))
	}
	tok, err := tokenizers.FromFile(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load: %w", err)
	}
	return &hfTokenizer{tok: tok, padID: padID}, nil
}

func (h *hfTokenizer) batch(texts []string) (tokenized, error) {
	rows := make([]encodedRow, len(texts))
	for i, text := range texts {
		enc, err := h.tok.Encode(
			text,
			tokenizers.WithAddSpecialTokens(),
			tokenizers.WithReturnAttentionMask(),
			tokenizers.WithReturnTypeIDs(),
		)
		if err != nil {
			return tokenized{}, fmt.Errorf("tokenizer: text %d: %w", i, err)
		}
		if enc == nil {
			return tokenized{}, fmt.Errorf("tokenizer: text %d: empty result", i)
		}
		rows[i] = encodedRow{
			ids:   widen(enc.IDs),
			mask:  widen(enc.AttentionMask),
			types: widen(enc.TypeIDs),
		}
	}
	return padRows(rows, h.padID), nil
}

func (h *hfTokenizer) close() error {
	return h.tok.Close()
}

// tokenizerDef is the part of tokenizer.json needed to pad batches.
type tokenizerDef struct {
	Padding *struct {
		PadID int64 `json:"pad_id"`
	} `json:"padding"`
	AddedTokens []struct {
		ID      int64  `json:"id"`
		Content string `json:"content"`
	} `json:"added_tokens"`
}

// padTokenID reads the padding ID from a tokenizer.json: the configured
// padding first, then a <pad> or [PAD] added token, else 0.
func padTokenID(def []byte) (int64, error) {
	var d tokenizerDef
	if err := json.Unmarshal(def, &d); err != nil {
		return 0, fmt.Errorf("tokenizer: parse tokenizer.json: %w", err)
	}
	if d.Padding != nil {
		return d.Padding.PadID, nil
	}
	for _, t := range d.AddedTokens {
		if t.Content == "<pad>" || t.Content == "[PAD]" {
			return t.ID, nil
		}
	}
	return 0, nil
}

func widen(xs []uint32) []int64 {
	if len(xs) == 0 {
		return nil
	}
	out := make([]int64, len(xs))
	for i, x := range xs {
		out[i] = int64(x)
	}
	return out
}
