// Package head implements the trainable projection that maps frozen encoder
// vectors into the comparison space:
//
//	Linear(in → 2h) → ReLU → Dropout(p) → Linear(2h → h)
//
// Gradients are computed by hand; the encoder below it is frozen, so the
// head is the only thing backpropagation ever reaches.
package head

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Param is one trainable tensor, row-major [Rows, Cols]. Bias vectors have
// Cols == 1. Only the optimizer writes W; Backward accumulates into Grad.
type Param struct {
	Name string
	Rows int
	Cols int
	W    []float32
	Grad []float32
}

func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name: name,
		Rows: rows,
		Cols: cols,
		W:    make([]float32, rows*cols),
		Grad: make([]float32, rows*cols),
	}
}

func (p *Param) matrix() blas32.General {
	return blas32.General{Rows: p.Rows, Cols: p.Cols, Stride: p.Cols, Data: p.W}
}

func (p *Param) gradMatrix() blas32.General {
	return blas32.General{Rows: p.Rows, Cols: p.Cols, Stride: p.Cols, Data: p.Grad}
}

func vec(v []float32) blas32.Vector {
	return blas32.Vector{N: len(v), Inc: 1, Data: v}
}

// Parameter names follow the layer indices of the equivalent sequential
// stack, so exported weights line up with the reference layout.
const (
	nameW1 = "reducer.0.weight"
	nameB1 = "reducer.0.bias"
	nameW2 = "reducer.3.weight"
	nameB2 = "reducer.3.bias"
)

// Head is the two-layer projection.
type Head struct {
	InDim   int
	Hidden  int
	Dropout float64

	W1, B1 *Param // [2h, in], [2h]
	W2, B2 *Param // [h, 2h], [h]
}

// New initialises a head with U(±1/√fan_in) weights and biases.
func New(inDim, hidden int, dropout float64, rng *rand.Rand) *Head {
	h := alloc(inDim, hidden, dropout)
	initUniform(h.W1.W, inDim, rng)
	initUniform(h.B1.W, inDim, rng)
	initUniform(h.W2.W, 2*hidden, rng)
	initUniform(h.B2.W, 2*hidden, rng)
	return h
}

func alloc(inDim, hidden int, dropout float64) *Head {
	return &Head{
		InDim:   inDim,
		Hidden:  hidden,
		Dropout: dropout,
		W1:      newParam(nameW1, 2*hidden, inDim),
		B1:      newParam(nameB1, 2*hidden, 1),
		W2:      newParam(nameW2, hidden, 2*hidden),
		B2:      newParam(nameB2, hidden, 1),
	}
}

func initUniform(w []float32, fanIn int, rng *rand.Rand) {
	bound := 1 / math.Sqrt(float64(fanIn))
	for i := range w {
		w[i] = float32((2*rng.Float64() - 1) * bound)
	}
}

// Params returns the trainable tensors in a fixed order.
func (h *Head) Params() []*Param {
	return []*Param{h.W1, h.B1, h.W2, h.B2}
}

// ZeroGrad clears accumulated gradients.
func (h *Head) ZeroGrad() {
	for _, p := range h.Params() {
		clear(p.Grad)
	}
}

// Activation keeps what Backward needs from one forward pass.
type Activation struct {
	h    *Head
	x    []float32
	z1   []float32
	keep []float32 // dropout scale per hidden unit; nil when dropout is off
	d    []float32
	Out  []float32
}

// Forward projects x. A non-nil rng enables inverted dropout (training
// mode); nil disables it (evaluation mode).
func (h *Head) Forward(x []float32, rng *rand.Rand) *Activation {
	a := &Activation{h: h, x: x}

	a.z1 = make([]float32, 2*h.Hidden)
	copy(a.z1, h.B1.W)
	blas32.Gemv(blas.NoTrans, 1, h.W1.matrix(), vec(x), 1, vec(a.z1))

	a.d = make([]float32, len(a.z1))
	for i, z := range a.z1 {
		a.d[i] = max(z, 0)
	}

	if rng != nil && h.Dropout > 0 {
		a.keep = make([]float32, len(a.d))
		scale := float32(1 / (1 - h.Dropout))
		for i := range a.keep {
			if rng.Float64() >= h.Dropout {
				a.keep[i] = scale
			}
			a.d[i] *= a.keep[i]
		}
	}

	a.Out = make([]float32, h.Hidden)
	copy(a.Out, h.B2.W)
	blas32.Gemv(blas.NoTrans, 1, h.W2.matrix(), vec(a.d), 1, vec(a.Out))
	return a
}

// Apply projects x in evaluation mode without recording an Activation.
func (h *Head) Apply(x []float32) []float32 {
	z := make([]float32, 2*h.Hidden)
	copy(z, h.B1.W)
	blas32.Gemv(blas.NoTrans, 1, h.W1.matrix(), vec(x), 1, vec(z))
	for i := range z {
		z[i] = max(z[i], 0)
	}
	out := make([]float32, h.Hidden)
	copy(out, h.B2.W)
	blas32.Gemv(blas.NoTrans, 1, h.W2.matrix(), vec(z), 1, vec(out))
	return out
}

// Backward accumulates parameter gradients for upstream gradient gy
// (dLoss/dOut). The input gradient is not computed: the encoder is frozen.
func (a *Activation) Backward(gy []float32) {
	h := a.h

	blas32.Ger(1, vec(gy), vec(a.d), h.W2.gradMatrix())
	blas32.Axpy(1, vec(gy), vec(h.B2.Grad))

	gz := make([]float32, len(a.z1))
	blas32.Gemv(blas.Trans, 1, h.W2.matrix(), vec(gy), 0, vec(gz))
	for i := range gz {
		if a.keep != nil {
			gz[i] *= a.keep[i]
		}
		if a.z1[i] <= 0 {
			gz[i] = 0
		}
	}

	blas32.Ger(1, vec(gz), vec(a.x), h.W1.gradMatrix())
	blas32.Axpy(1, vec(gz), vec(h.B1.Grad))
}
