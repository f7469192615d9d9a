package embedder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Hidden holds token-level encoder output for a batch of texts. States is
// flat [Batch * Seq * Dim], Mask is flat [Batch * Seq] with 1 for real tokens.
type Hidden struct {
	States []float32
	Mask   []int64
	Batch  int
	Seq    int
	Dim    int
}

// Encoder is a frozen pretrained text encoder. Implementations never update
// their parameters; Encode is a pure function of its input.
type Encoder interface {
	Encode(texts []string) (*Hidden, error)
	Dim() int
	Close() error
}

// Options configures an ONNXEncoder.
type Options struct {
	// LibPath is the ONNX Runtime shared library. Empty means
	// libonnxruntime.so next to the model file.
	LibPath string
	// TokenizerLib is the native tokenizers library used for tokenizer.json
	// vocabularies. Empty lets the library locate itself.
	TokenizerLib string
	// MaxSeqLen caps tokens per text, including the special tokens. Zero
	// selects the default; otherwise it must be at least MinSeqLen.
	MaxSeqLen int
	// Lowercase enables BERT-style lowercasing and accent stripping for
	// WordPiece vocabularies.
	Lowercase bool
	// Threads is the intra-op thread count. Default 4.
	Threads int
}

// MinSeqLen is the shortest usable sequence: both specials plus one token.
const MinSeqLen = 3

const (
	defaultMaxSeqLen = 128
	defaultThreads   = 4
)

// Vocabulary defines the tokenizer of an encoder. Exactly one field is set:
// a WordPiece token list in ID order, or the contents of a Hugging Face
// tokenizer.json for byte-level BPE encoders.
type Vocabulary struct {
	WordPiece     []string
	TokenizerJSON []byte
}

// ONNXEncoder tokenizes text, runs the ONNX graph and returns token hidden
// states.
type ONNXEncoder struct {
	session   *onnxSession
	tok       textTokenizer
	vocab     Vocabulary
	maxLen    int
	lowercase bool
	model     []byte
}

// New loads the ONNX graph and vocabulary from disk. A vocabPath ending in
// .json is read as a tokenizer.json, anything else as a WordPiece vocab.txt.
func New(modelPath, vocabPath string, opts Options) (*ONNXEncoder, error) {
	model, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	var v Vocabulary
	if strings.EqualFold(filepath.Ext(vocabPath), ".json") {
		v.TokenizerJSON, err = os.ReadFile(vocabPath)
	} else {
		v.WordPiece, err = readVocabFile(vocabPath)
	}
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	if opts.LibPath == "" {
		opts.LibPath = defaultLibPath(modelPath)
	}
	return NewFromBytes(model, v, opts)
}

// NewFromBytes builds an encoder from an in-memory ONNX graph and vocabulary,
// as stored in a checkpoint bundle.
func NewFromBytes(model []byte, v Vocabulary, opts Options) (*ONNXEncoder, error) {
	if opts.MaxSeqLen == 0 {
		opts.MaxSeqLen = defaultMaxSeqLen
	}
	if opts.MaxSeqLen < MinSeqLen {
		return nil, fmt.Errorf("embedder: max sequence length %d is below %d", opts.MaxSeqLen, MinSeqLen)
	}
	if opts.Threads <= 0 {
		opts.Threads = defaultThreads
	}

	var tok textTokenizer
	switch {
	case len(v.TokenizerJSON) > 0:
		hf, err := newHFTokenizer(v.TokenizerJSON, opts.TokenizerLib, opts.MaxSeqLen)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		tok = hf
	default:
		wp, err := newVocab(v.WordPiece)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		tok = newTokenizer(wp, opts.MaxSeqLen, opts.Lowercase)
	}

	sess, err := newONNXSession(opts.LibPath, model, opts.Threads)
	if err != nil {
		tok.close()
		return nil, fmt.Errorf("embedder: %w", err)
	}

	return &ONNXEncoder{
		session:   sess,
		tok:       tok,
		vocab:     v,
		maxLen:    opts.MaxSeqLen,
		lowercase: opts.Lowercase,
		model:     model,
	}, nil
}

// Dim returns the hidden size of the encoder output.
func (e *ONNXEncoder) Dim() int {
	return int(e.session.embedDim)
}

// Encode tokenizes texts, padding to the longest sequence in the batch, and
// returns the last hidden states.
func (e *ONNXEncoder) Encode(texts []string) (*Hidden, error) {
	if len(texts) == 0 {
		return &Hidden{Dim: e.Dim()}, nil
	}

	batch, err := e.tok.batch(texts)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	states, err := e.session.infer(batch)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	return &Hidden{
		States: states,
		Mask:   batch.attentionMask,
		Batch:  int(batch.batchSize),
		Seq:    int(batch.seqLen),
		Dim:    e.Dim(),
	}, nil
}

// ModelBytes returns the serialized ONNX graph the encoder was built from.
func (e *ONNXEncoder) ModelBytes() []byte { return e.model }

// Vocabulary returns the tokenizer definition the encoder was built from.
func (e *ONNXEncoder) Vocabulary() Vocabulary { return e.vocab }

// MaxSeqLen returns the tokenizer's sequence cap.
func (e *ONNXEncoder) MaxSeqLen() int { return e.maxLen }

// Close releases the tokenizer and ONNX Runtime resources.
func (e *ONNXEncoder) Close() error {
	var errs []error
	if e.tok != nil {
		errs = append(errs, e.tok.close())
	}
	if e.session != nil {
		errs = append(errs, e.session.close())
	}
	return errors.Join(errs...)
}

// Lowercase reports whether WordPiece input is lowercased.
func (e *ONNXEncoder) Lowercase() bool { return e.lowercase }
