package train

// Metric scores a batch of predictions against its targets.
type Metric interface {
	Name() string
	Compute(targets []int, scores [][]float32) float64
}

// Accuracy is the fraction of rows whose highest score is at the target.
type Accuracy struct{}

func (Accuracy) Name() string { return "Accuracy" }

func (Accuracy) Compute(targets []int, scores [][]float32) float64 {
	if len(targets) == 0 {
		return 0
	}
	hits := 0
	for i, row := range scores {
		if argmax(row) == targets[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(targets))
}

// argmax returns the first index of the largest value, or -1 for an empty row.
func argmax(row []float32) int {
	best := -1
	for i, v := range row {
		if best < 0 || v > row[best] {
			best = i
		}
	}
	return best
}
