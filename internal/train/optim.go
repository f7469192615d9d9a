package train

import (
	"math"

	"github.com/crimson-sun/medexpand/internal/engine/head"
)

// Adam defaults.
const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8

	DefaultWeightDecay = 1e-5
)

// Adam is the Adam optimizer with L2 weight decay added to the gradient
// before the moment updates.
type Adam struct {
	params      []*head.Param
	lr          float64
	weightDecay float64
	m, v        [][]float64
	t           int
}

// NewAdam creates an optimizer over params.
func NewAdam(params []*head.Param, lr, weightDecay float64) *Adam {
	a := &Adam{params: params, lr: lr, weightDecay: weightDecay}
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, len(p.W))
		a.v[i] = make([]float64, len(p.W))
	}
	return a
}

// ZeroGrad clears the gradients of every managed parameter.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		clear(p.Grad)
	}
}

// Step applies one update using the accumulated gradients.
func (a *Adam) Step() {
	a.t++
	bc1 := 1 - math.Pow(adamBeta1, float64(a.t))
	bc2 := 1 - math.Pow(adamBeta2, float64(a.t))
	stepSize := a.lr / bc1
	sqrtBC2 := math.Sqrt(bc2)

	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j, w := range p.W {
			g := float64(p.Grad[j]) + a.weightDecay*float64(w)
			m[j] = adamBeta1*m[j] + (1-adamBeta1)*g
			v[j] = adamBeta2*v[j] + (1-adamBeta2)*g*g
			denom := math.Sqrt(v[j])/sqrtBC2 + adamEps
			p.W[j] = float32(float64(w) - stepSize*m[j]/denom)
		}
	}
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 { return a.lr }

// SetLearningRate replaces the learning rate used by subsequent steps.
func (a *Adam) SetLearningRate(lr float64) { a.lr = lr }
