package train

import (
	"fmt"
	"math"
)

// CrossEntropy is softmax cross-entropy over each ragged score row, averaged
// over the batch. It returns the loss and dLoss/dScores.
func CrossEntropy(scores [][]float32, targets []int) (float64, [][]float32, error) {
	if len(scores) != len(targets) {
		return 0, nil, fmt.Errorf("train: %d score rows but %d targets", len(scores), len(targets))
	}
	if len(scores) == 0 {
		return 0, nil, fmt.Errorf("train: empty batch")
	}

	n := float64(len(scores))
	var loss float64
	grad := make([][]float32, len(scores))
	for i, row := range scores {
		t := targets[i]
		if t < 0 || t >= len(row) {
			return 0, nil, fmt.Errorf("train: target %d outside row %d of length %d", t, i, len(row))
		}

		peak := math.Inf(-1)
		for _, s := range row {
			peak = max(peak, float64(s))
		}
		var sum float64
		for _, s := range row {
			sum += math.Exp(float64(s) - peak)
		}
		logZ := peak + math.Log(sum)
		loss += logZ - float64(row[t])

		grad[i] = make([]float32, len(row))
		for j, s := range row {
			p := math.Exp(float64(s) - logZ)
			if j == t {
				p--
			}
			grad[i][j] = float32(p / n)
		}
	}
	return loss / n, grad, nil
}
