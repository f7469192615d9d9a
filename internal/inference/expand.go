// Package inference expands abbreviations in free text with a trained model.
package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/crimson-sun/medexpand/internal/engine/expander"
	"github.com/crimson-sun/medexpand/internal/mapping"
)

// Expand replaces every known abbreviation in sentence with its most
// similar candidate expansion.
//
// Abbreviations are matched as plain substrings of the original sentence,
// in inverse-mapping order. Each one is then scored against the sentence as
// rewritten so far, and all its occurrences are replaced.
func Expand(ctx context.Context, sentence string, inv *mapping.Inverse, m expander.Model) (string, error) {
	var present []string
	for _, abbr := range inv.Abbreviations() {
		if strings.Contains(sentence, abbr) {
			present = append(present, abbr)
		}
	}

	for _, abbr := range present {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cands, _ := inv.Candidates(abbr)
		scores, err := m.Score([]string{sentence}, [][]string{cands})
		if err != nil {
			return "", fmt.Errorf("inference: score %q: %w", abbr, err)
		}
		sentence = strings.ReplaceAll(sentence, abbr, cands[argmax(scores[0])])
	}
	return sentence, nil
}

// argmax returns the first index of the largest value.
func argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
