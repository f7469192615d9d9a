package head

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHead(t *testing.T, dropout float64) *Head {
	t.Helper()
	return New(5, 3, dropout, rand.New(rand.NewPCG(7, 7)))
}

func TestNewShapesAndInitBounds(t *testing.T) {
	h := newTestHead(t, 0.1)

	assert.Equal(t, 6*5, len(h.W1.W))
	assert.Equal(t, 6, len(h.B1.W))
	assert.Equal(t, 3*6, len(h.W2.W))
	assert.Equal(t, 3, len(h.B2.W))

	b1 := float32(1 / math.Sqrt(5))
	for _, w := range append(append([]float32{}, h.W1.W...), h.B1.W...) {
		assert.LessOrEqual(t, float32(math.Abs(float64(w))), b1)
	}
	b2 := float32(1 / math.Sqrt(6))
	for _, w := range append(append([]float32{}, h.W2.W...), h.B2.W...) {
		assert.LessOrEqual(t, float32(math.Abs(float64(w))), b2)
	}
}

func TestNewIsSeeded(t *testing.T) {
	a := New(4, 2, 0.1, rand.New(rand.NewPCG(1, 2)))
	b := New(4, 2, 0.1, rand.New(rand.NewPCG(1, 2)))
	c := New(4, 2, 0.1, rand.New(rand.NewPCG(3, 4)))

	assert.Equal(t, a.W1.W, b.W1.W)
	assert.NotEqual(t, a.W1.W, c.W1.W)
}

func TestApplyMatchesManualComputation(t *testing.T) {
	h := alloc(2, 1, 0)
	copy(h.W1.W, []float32{1, 0, 0, -1}) // rows: [1 0], [0 -1]
	copy(h.B1.W, []float32{0, 0.5})
	copy(h.W2.W, []float32{2, 3})
	copy(h.B2.W, []float32{1})

	// z1 = [3, -4+0.5] → relu [3, 0] → out = 2*3 + 1 = 7
	out := h.Apply([]float32{3, 4})
	require.Len(t, out, 1)
	assert.InDelta(t, 7, out[0], 1e-6)
}

func TestApplyMatchesEvalForward(t *testing.T) {
	h := newTestHead(t, 0.5)
	x := []float32{0.1, -0.2, 0.3, 0.4, -0.5}
	assert.Equal(t, h.Forward(x, nil).Out, h.Apply(x))
}

func TestEvalModeIsDeterministic(t *testing.T) {
	h := newTestHead(t, 0.5)
	x := []float32{0.1, -0.2, 0.3, 0.4, -0.5}
	assert.Equal(t, h.Apply(x), h.Apply(x))
}

func TestDropoutOnlyInTrainMode(t *testing.T) {
	h := newTestHead(t, 0.5)
	x := []float32{0.1, -0.2, 0.3, 0.4, -0.5}

	a := h.Forward(x, rand.New(rand.NewPCG(9, 9)))
	require.NotNil(t, a.keep)
	for _, k := range a.keep {
		assert.True(t, k == 0 || k == 2, "keep scale %v", k)
	}

	assert.Nil(t, h.Forward(x, nil).keep)
}

// squaredLoss is ½‖out − target‖², whose gradient wrt out is out − target.
func squaredLoss(out, target []float32) (float64, []float32) {
	var loss float64
	grad := make([]float32, len(out))
	for i := range out {
		d := out[i] - target[i]
		loss += 0.5 * float64(d) * float64(d)
		grad[i] = d
	}
	return loss, grad
}

func reluPattern(h *Head, x []float32) []bool {
	a := h.Forward(x, nil)
	p := make([]bool, len(a.z1))
	for i, z := range a.z1 {
		p[i] = z > 0
	}
	return p
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	h := newTestHead(t, 0)
	x := []float32{0.5, -1.0, 0.25, 0.75, -0.3}
	target := []float32{0.2, -0.1, 0.4}

	h.ZeroGrad()
	a := h.Forward(x, nil)
	_, g := squaredLoss(a.Out, target)
	a.Backward(g)

	base := reluPattern(h, x)
	const eps = 1e-3
	checked := 0
	for _, p := range h.Params() {
		for i := range p.W {
			orig := p.W[i]

			p.W[i] = orig + eps
			up, _ := squaredLoss(h.Apply(x), target)
			upPattern := reluPattern(h, x)

			p.W[i] = orig - eps
			down, _ := squaredLoss(h.Apply(x), target)
			downPattern := reluPattern(h, x)

			p.W[i] = orig

			// Skip coordinates whose perturbation crosses a ReLU kink.
			if !assert.ObjectsAreEqual(base, upPattern) || !assert.ObjectsAreEqual(base, downPattern) {
				continue
			}
			numeric := (up - down) / (2 * eps)
			assert.InDelta(t, numeric, p.Grad[i], 2e-3, "%s[%d]", p.Name, i)
			checked++
		}
	}
	assert.Greater(t, checked, 0)
}

func TestBackwardAccumulatesUntilZeroGrad(t *testing.T) {
	h := newTestHead(t, 0)
	x := []float32{1, 2, 3, 4, 5}
	gy := []float32{1, 1, 1}

	h.ZeroGrad()
	h.Forward(x, nil).Backward(gy)
	once := append([]float32(nil), h.B2.Grad...)

	h.Forward(x, nil).Backward(gy)
	for i := range once {
		assert.InDelta(t, 2*once[i], h.B2.Grad[i], 1e-6)
	}

	h.ZeroGrad()
	for _, p := range h.Params() {
		for _, g := range p.Grad {
			require.Zero(t, g)
		}
	}
}

func TestBackwardMasksDroppedUnits(t *testing.T) {
	h := newTestHead(t, 0.5)
	x := []float32{0.5, -1.0, 0.25, 0.75, -0.3}

	h.ZeroGrad()
	a := h.Forward(x, rand.New(rand.NewPCG(11, 11)))
	a.Backward([]float32{1, 1, 1})

	for i, k := range a.keep {
		if k == 0 {
			assert.Zero(t, h.B1.Grad[i], "dropped unit %d received gradient", i)
		}
	}
}
