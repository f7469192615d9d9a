package train

import "math"

// LRSetter is the part of an optimizer a scheduler adjusts.
type LRSetter interface {
	LearningRate() float64
	SetLearningRate(lr float64)
}

const (
	plateauThreshold = 1e-4
	plateauMinDelta  = 1e-8
)

// Plateau multiplies the learning rate by Factor once the monitored loss has
// failed to improve for more than Patience consecutive steps. Improvement is
// relative: a new value must fall below best·(1 − 1e-4).
type Plateau struct {
	opt      LRSetter
	factor   float64
	patience int
	best     float64
	bad      int
}

// NewPlateau returns a scheduler in "min" mode.
func NewPlateau(opt LRSetter, factor float64, patience int) *Plateau {
	return &Plateau{opt: opt, factor: factor, patience: patience, best: math.Inf(1)}
}

// Step records one observation of the monitored loss. It reports whether
// the learning rate was reduced.
func (s *Plateau) Step(loss float64) bool {
	if loss < s.best*(1-plateauThreshold) {
		s.best = loss
		s.bad = 0
	} else {
		s.bad++
	}
	if s.bad <= s.patience {
		return false
	}
	s.bad = 0

	old := s.opt.LearningRate()
	next := old * s.factor
	if old-next <= plateauMinDelta {
		return false
	}
	s.opt.SetLearningRate(next)
	return true
}
