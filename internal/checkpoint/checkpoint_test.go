package checkpoint

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/medexpand/internal/engine/embedder"
	"github.com/crimson-sun/medexpand/internal/engine/embedder/embeddertest"
	"github.com/crimson-sun/medexpand/internal/engine/expander"
	"github.com/crimson-sun/medexpand/internal/errs"
)

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestName(t *testing.T) {
	ts := time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, "20240307-0905trainedmodel.ckpt", Name(ts))
}

func TestSaveLoadRestore(t *testing.T) {
	enc := embeddertest.New(16)
	m, err := expander.New(enc, expander.Config{Hidden: 8, Dropout: 0.1, Aggregation: embedder.AggMean, Seed: 3})
	require.NoError(t, err)
	m.EvalMode()

	now := time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC)
	b, err := FromExpander(m, now)
	require.NoError(t, err)
	assert.Empty(t, b.Encoder, "fake encoder has no graph to embed")

	path := filepath.Join(t.TempDir(), "models", Name(now))
	require.NoError(t, Save(path, b))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, loaded.Format)
	assert.True(t, now.Equal(loaded.CreatedAt))
	assert.Equal(t, "mean", loaded.Aggregation)
	assert.Equal(t, 16, loaded.InDim)
	assert.Equal(t, 8, loaded.Hidden)

	restored, err := loaded.Restore(embedder.Options{}, 0, func() (embedder.Encoder, error) { return enc, nil })
	require.NoError(t, err)
	assert.False(t, restored.Training())

	sentences := []string{"lage AF"}
	cands := [][]string{{"ademfrequentie", "atriumfibrilleren"}}
	want, err := m.Score(sentences, cands)
	require.NoError(t, err)
	got, err := restored.Score(sentences, cands)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRestoreWithoutEncoder(t *testing.T) {
	m, err := expander.New(embeddertest.New(4), expander.Config{Hidden: 2, Aggregation: embedder.AggMean})
	require.NoError(t, err)
	b, err := FromExpander(m, time.Now())
	require.NoError(t, err)

	_, err = b.Restore(embedder.Options{}, 0, nil)
	assert.Error(t, err)

	_, err = b.Restore(embedder.Options{}, 0, func() (embedder.Encoder, error) { return nil, errors.New("no encoder files") })
	assert.Error(t, err)
}

// graphEncoder is a fake encoder that exposes a graph and a tokenizer.json
// for embedding.
type graphEncoder struct {
	*embeddertest.Hash
}

func (graphEncoder) ModelBytes() []byte { return []byte("onnx") }
func (graphEncoder) Vocabulary() embedder.Vocabulary {
	return embedder.Vocabulary{TokenizerJSON: []byte(`{"added_tokens": []}`)}
}
func (graphEncoder) MaxSeqLen() int  { return 64 }
func (graphEncoder) Lowercase() bool { return false }

func TestFromExpanderEmbedsTokenizerJSON(t *testing.T) {
	m, err := expander.New(graphEncoder{embeddertest.New(4)}, expander.Config{Hidden: 2, Aggregation: embedder.AggMean})
	require.NoError(t, err)
	b, err := FromExpander(m, time.Now())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "m.ckpt")
	require.NoError(t, Save(path, b))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("onnx"), loaded.Encoder)
	assert.Equal(t, `{"added_tokens": []}`, string(loaded.Tokenizer))
	assert.Empty(t, loaded.Vocab)
	assert.Equal(t, 64, loaded.MaxSeqLen)
}

func TestRestoreRejectsShortMaxSeqLen(t *testing.T) {
	m, err := expander.New(embeddertest.New(4), expander.Config{Hidden: 2, Aggregation: embedder.AggMean})
	require.NoError(t, err)
	b, err := FromExpander(m, time.Now())
	require.NoError(t, err)
	b.Encoder = []byte("onnx")
	b.Vocab = []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "af"}
	b.MaxSeqLen = 1

	_, err = b.Restore(embedder.Options{}, 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max sequence length")
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	b := &Bundle{Format: FormatVersion, Head: []byte{1, 2, 3}}
	require.NoError(t, Save(filepath.Join(dir, "a.ckpt"), b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.ckpt", entries[0].Name())
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack at all"), 0o644))

	_, err := Load(path)
	var fe *errs.FormatError
	assert.True(t, errors.As(err, &fe), "got %v", err)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.ckpt")
	require.NoError(t, Save(path, &Bundle{Format: FormatVersion + 1}))

	_, err := Load(path)
	var fe *errs.FormatError
	assert.True(t, errors.As(err, &fe), "got %v", err)
}

func TestSelectConfiguredVersion(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "20230101-0000trainedmodel.ckpt"))
	touch(t, filepath.Join(dir, "20240101-0000trainedmodel.ckpt"))

	var buf bytes.Buffer
	got, err := Select(dir, "20230101-0000trainedmodel.ckpt", testLogger(&buf))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20230101-0000trainedmodel.ckpt"), got)
	assert.NotContains(t, buf.String(), "level=WARN")
}

func TestSelectFallsBackToLatestWithWarning(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "20230101-0000trainedmodel.ckpt"))
	touch(t, filepath.Join(dir, "nested", "20250101-0000trainedmodel.ckpt"))
	touch(t, filepath.Join(dir, "notes.txt"))

	var buf bytes.Buffer
	got, err := Select(dir, "missing.ckpt", testLogger(&buf))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "20250101-0000trainedmodel.ckpt"), got)
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestSelectEmptyDir(t *testing.T) {
	dir := t.TempDir()

	_, err := Select(dir, "missing.ckpt", testLogger(&bytes.Buffer{}))
	var nf *errs.ModelNotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)
	assert.Equal(t, dir, nf.Dir)
}

func TestSelectMissingDir(t *testing.T) {
	_, err := Select(filepath.Join(t.TempDir(), "nope"), "", testLogger(&bytes.Buffer{}))
	var nf *errs.ModelNotFoundError
	assert.True(t, errors.As(err, &nf), "got %v", err)
}
