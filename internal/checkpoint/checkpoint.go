// Package checkpoint persists trained models. A checkpoint is a single
// msgpack-encoded Bundle holding the head weights (safetensors), the
// hyperparameters needed to rebuild the model and, when available, the
// frozen encoder graph and vocabulary.
package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/crimson-sun/medexpand/internal/assets"
	"github.com/crimson-sun/medexpand/internal/engine/embedder"
	"github.com/crimson-sun/medexpand/internal/engine/expander"
	"github.com/crimson-sun/medexpand/internal/engine/head"
	"github.com/crimson-sun/medexpand/internal/errs"
)

const (
	// FormatVersion is bumped on incompatible Bundle changes.
	FormatVersion = 1
	// Ext is the checkpoint file extension.
	Ext = ".ckpt"

	nameLayout = "20060102-1504"
	nameSuffix = "trainedmodel" + Ext
)

// Bundle is the on-disk checkpoint.
type Bundle struct {
	Format      int       `msgpack:"format"`
	CreatedAt   time.Time `msgpack:"created_at"`
	Aggregation string    `msgpack:"aggregation"`
	InDim       int       `msgpack:"in_dim"`
	Hidden      int       `msgpack:"hidden"`
	Dropout     float64   `msgpack:"dropout"`
	MaxSeqLen   int       `msgpack:"max_seq_len,omitempty"`
	Lowercase   bool      `msgpack:"lowercase,omitempty"`
	Encoder     []byte    `msgpack:"encoder,omitempty"`
	Vocab       []string  `msgpack:"vocab,omitempty"`
	Tokenizer   []byte    `msgpack:"tokenizer,omitempty"` // tokenizer.json, set instead of Vocab
	Head        []byte    `msgpack:"head"`
}

// embeddable is implemented by encoders that can be serialised into a
// bundle, such as *embedder.ONNXEncoder.
type embeddable interface {
	ModelBytes() []byte
	Vocabulary() embedder.Vocabulary
	MaxSeqLen() int
	Lowercase() bool
}

// FromExpander snapshots a model. The encoder is embedded when it exposes
// its graph; otherwise the bundle only carries the head and Restore needs a
// fallback encoder.
func FromExpander(e *expander.Expander, now time.Time) (*Bundle, error) {
	h := e.Head()
	weights, err := h.MarshalSafetensors()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	b := &Bundle{
		Format:      FormatVersion,
		CreatedAt:   now.UTC(),
		Aggregation: string(e.Aggregation()),
		InDim:       h.InDim,
		Hidden:      h.Hidden,
		Dropout:     h.Dropout,
		Head:        weights,
	}
	if enc, ok := e.Encoder().(embeddable); ok {
		b.Encoder = enc.ModelBytes()
		v := enc.Vocabulary()
		b.Vocab, b.Tokenizer = v.WordPiece, v.TokenizerJSON
		b.MaxSeqLen = enc.MaxSeqLen()
		b.Lowercase = enc.Lowercase()
	}
	return b, nil
}

// Restore rebuilds the model in evaluation mode. An embedded encoder is
// preferred, using the native library paths from native; fallback is used
// when the bundle has none.
func (b *Bundle) Restore(native embedder.Options, cacheBytes int, fallback func() (embedder.Encoder, error)) (*expander.Expander, error) {
	h, err := head.UnmarshalSafetensors(b.Head)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	var enc embedder.Encoder
	switch {
	case len(b.Encoder) > 0:
		enc, err = embedder.NewFromBytes(b.Encoder, embedder.Vocabulary{
			WordPiece:     b.Vocab,
			TokenizerJSON: b.Tokenizer,
		}, embedder.Options{
			LibPath:      native.LibPath,
			TokenizerLib: native.TokenizerLib,
			MaxSeqLen:    b.MaxSeqLen,
			Lowercase:    b.Lowercase,
		})
	case fallback != nil:
		enc, err = fallback()
	default:
		err = errors.New("bundle has no encoder and no fallback was given")
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	m, err := expander.FromHead(enc, h, embedder.Aggregation(b.Aggregation), cacheBytes, 0)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	m.EvalMode()
	return m, nil
}

// Name returns the checkpoint file name for a training run finished at t.
func Name(t time.Time) string {
	return t.Format(nameLayout) + nameSuffix
}

// Save writes b to path atomically: the bundle goes to a temporary file in
// the same directory which is then renamed over path.
func Save(path string, b *Bundle) error {
	data, err := msgpack.Marshal(b)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ckpt-*")
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Load reads a bundle from path.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	var b Bundle
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, &errs.FormatError{Path: path, Err: err}
	}
	if b.Format != FormatVersion {
		return nil, &errs.FormatError{Path: path, Err: fmt.Errorf("checkpoint format %d, want %d", b.Format, FormatVersion)}
	}
	return &b, nil
}

// Select resolves the checkpoint to load. dir/version is used when it
// exists. Otherwise the greatest checkpoint path below dir is chosen and a
// warning is logged. With no checkpoints at all it returns
// *errs.ModelNotFoundError.
func Select(dir, version string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if version != "" {
		want := filepath.Join(dir, version)
		if info, err := os.Stat(want); err == nil && info.Mode().IsRegular() {
			logger.Info("found model", "path", want)
			return want, nil
		}
		logger.Warn("configured model does not exist", "path", want)
	}

	var found []string
	if files, err := assets.Walk(dir); err == nil {
		found = assets.BySuffix(files, Ext)
	}
	if len(found) == 0 {
		logger.Error("no models available", "dir", dir)
		return "", &errs.ModelNotFoundError{Dir: dir}
	}
	logger.Warn("using latest model instead", "path", found[0])
	return found[0], nil
}
