// Package expander scores candidate expansions against sentences. A frozen
// encoder produces pooled vectors, a trainable head projects them, and
// cosine similarity in the projected space ranks the candidates.
package expander

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/crimson-sun/medexpand/internal/engine/embedder"
	"github.com/crimson-sun/medexpand/internal/engine/head"
)

// ErrUnpooled is returned by Score when the aggregation keeps token rows;
// cosine similarity is only defined between single vectors.
var ErrUnpooled = errors.New("expander: scoring requires a pooled aggregation")

// ErrNoCandidates is returned when a sample comes with an empty candidate set.
var ErrNoCandidates = errors.New("expander: empty candidate set")

// Model is the capability set inference and evaluation depend on.
type Model interface {
	// Embed returns one projected vector per text.
	Embed(texts []string) ([][]float32, error)
	// Score returns, for each sentence, the similarity to each of its
	// candidates: len(out[i]) == len(candidates[i]).
	Score(sentences []string, candidates [][]string) ([][]float32, error)
	TrainMode()
	EvalMode()
}

// Config holds the head hyperparameters and runtime options.
type Config struct {
	Hidden      int
	Dropout     float64
	Aggregation embedder.Aggregation
	Seed        uint64
	// CacheBytes sizes the encoder output memo. Zero disables it.
	CacheBytes int
}

// Expander is the trainable scoring model.
//
// Score is safe for concurrent use in evaluation mode. Training mode, and
// switching between modes, must be driven from one goroutine.
type Expander struct {
	enc      embedder.Encoder
	head     *head.Head
	agg      embedder.Aggregation
	cache    *fastcache.Cache
	rng      *rand.Rand
	training bool
}

var _ Model = (*Expander)(nil)

// New builds an Expander with a freshly initialised head sized to enc.
func New(enc embedder.Encoder, cfg Config) (*Expander, error) {
	if cfg.Hidden <= 0 {
		return nil, fmt.Errorf("expander: hidden size must be positive, got %d", cfg.Hidden)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	h := head.New(enc.Dim(), cfg.Hidden, cfg.Dropout, rng)
	return FromHead(enc, h, cfg.Aggregation, cfg.CacheBytes, cfg.Seed)
}

// FromHead wraps an existing head, typically one restored from a checkpoint.
func FromHead(enc embedder.Encoder, h *head.Head, agg embedder.Aggregation, cacheBytes int, seed uint64) (*Expander, error) {
	if h.InDim != enc.Dim() {
		return nil, fmt.Errorf("expander: head expects %d-dim input, encoder yields %d", h.InDim, enc.Dim())
	}
	if _, err := embedder.ParseAggregation(string(agg)); err != nil {
		return nil, fmt.Errorf("expander: %w", err)
	}
	e := &Expander{
		enc:  enc,
		head: h,
		agg:  agg,
		rng:  rand.New(rand.NewPCG(seed, seed^0xda3e39cb94b95bdb)),
	}
	if cacheBytes > 0 && agg.Pooled() {
		e.cache = fastcache.New(cacheBytes)
	}
	return e, nil
}

// Head returns the trainable projection.
func (e *Expander) Head() *head.Head { return e.head }

// Encoder returns the frozen encoder.
func (e *Expander) Encoder() embedder.Encoder { return e.enc }

// Aggregation returns the pooling mode.
func (e *Expander) Aggregation() embedder.Aggregation { return e.agg }

// Params returns the trainable tensors.
func (e *Expander) Params() []*head.Param { return e.head.Params() }

// ZeroGrad clears accumulated head gradients.
func (e *Expander) ZeroGrad() { e.head.ZeroGrad() }

// TrainMode enables dropout.
func (e *Expander) TrainMode() { e.training = true }

// EvalMode disables dropout.
func (e *Expander) EvalMode() { e.training = false }

// Training reports the current mode.
func (e *Expander) Training() bool { return e.training }

func (e *Expander) dropoutRNG() *rand.Rand {
	if e.training {
		return e.rng
	}
	return nil
}

// EmbedOne projects a single text. Pooled aggregations yield one row; AggNone
// yields one row per token position.
func (e *Expander) EmbedOne(text string) ([][]float32, error) {
	rows, err := e.encode([]string{text})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(rows[0]))
	for i, x := range rows[0] {
		out[i] = e.head.Forward(x, e.dropoutRNG()).Out
	}
	return out, nil
}

// EmbedMany stacks EmbedOne results for every text.
func (e *Expander) EmbedMany(texts []string) ([][]float32, error) {
	var out [][]float32
	for _, t := range texts {
		rows, err := e.EmbedOne(t)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// Embed returns one projected vector per text. It requires a pooled
// aggregation.
func (e *Expander) Embed(texts []string) ([][]float32, error) {
	if !e.agg.Pooled() {
		return nil, ErrUnpooled
	}
	return e.EmbedMany(texts)
}

// Score computes cosine similarities. In evaluation mode the head runs
// without recording activations; in training mode dropout still applies.
func (e *Expander) Score(sentences []string, candidates [][]string) ([][]float32, error) {
	vecs, err := e.gather(sentences, candidates)
	if err != nil {
		return nil, err
	}
	rng := e.dropoutRNG()
	project := func(x []float32) []float32 {
		if rng == nil {
			return e.head.Apply(x)
		}
		return e.head.Forward(x, rng).Out
	}

	scores := make([][]float32, len(sentences))
	k := 0
	for i := range sentences {
		s := project(vecs[k][0])
		k++
		scores[i] = make([]float32, len(candidates[i]))
		for j := range candidates[i] {
			scores[i][j] = cosine(s, project(vecs[k][0]))
			k++
		}
	}
	return scores, nil
}

// Forward scores every sentence against its own candidates and keeps the
// activations Backward needs. Each candidate is projected once per sample,
// so dropout masks are drawn independently for every occurrence.
func (e *Expander) Forward(sentences []string, candidates [][]string) (*Pass, error) {
	vecs, err := e.gather(sentences, candidates)
	if err != nil {
		return nil, err
	}

	rng := e.dropoutRNG()
	p := &Pass{
		samples: make([]sampleActs, len(sentences)),
		Scores:  make([][]float32, len(sentences)),
	}
	k := 0
	for i := range sentences {
		sa := &p.samples[i]
		sa.sentence = e.head.Forward(vecs[k][0], rng)
		k++
		sa.candidates = make([]*head.Activation, len(candidates[i]))
		p.Scores[i] = make([]float32, len(candidates[i]))
		for j := range candidates[i] {
			sa.candidates[j] = e.head.Forward(vecs[k][0], rng)
			k++
			p.Scores[i][j] = cosine(sa.sentence.Out, sa.candidates[j].Out)
		}
	}
	return p, nil
}

// gather validates a scoring request and encodes each sentence followed by
// its candidates, in that order.
func (e *Expander) gather(sentences []string, candidates [][]string) ([][][]float32, error) {
	if !e.agg.Pooled() {
		return nil, ErrUnpooled
	}
	if len(sentences) != len(candidates) {
		return nil, fmt.Errorf("expander: %d sentences but %d candidate sets", len(sentences), len(candidates))
	}
	texts := make([]string, 0, len(sentences)*2)
	for i, s := range sentences {
		if len(candidates[i]) == 0 {
			return nil, fmt.Errorf("%w for sentence %d", ErrNoCandidates, i)
		}
		texts = append(texts, s)
		texts = append(texts, candidates[i]...)
	}
	return e.encode(texts)
}

// Pass is the result of one Forward call.
type Pass struct {
	// Scores is a ragged [sample][candidate] matrix of cosine similarities.
	Scores  [][]float32
	samples []sampleActs
}

type sampleActs struct {
	sentence   *head.Activation
	candidates []*head.Activation
}

// Backward propagates dLoss/dScores (same shape as Scores) through the
// cosine similarities into the head gradients.
func (p *Pass) Backward(grad [][]float32) error {
	if len(grad) != len(p.samples) {
		return fmt.Errorf("expander: gradient has %d rows, pass has %d samples", len(grad), len(p.samples))
	}
	for i, sa := range p.samples {
		if len(grad[i]) != len(sa.candidates) {
			return fmt.Errorf("expander: gradient row %d has %d entries, want %d", i, len(grad[i]), len(sa.candidates))
		}
		gs := make([]float32, len(sa.sentence.Out))
		for j, ca := range sa.candidates {
			if grad[i][j] == 0 {
				continue
			}
			gu, gv := cosineGrad(sa.sentence.Out, ca.Out, p.Scores[i][j], grad[i][j])
			addTo(gs, gu)
			ca.Backward(gv)
		}
		sa.sentence.Backward(gs)
	}
	return nil
}
