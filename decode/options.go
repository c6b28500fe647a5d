// options.go - Gemeinsame Eingaben und Ergebnisse des Decodier-Treibers
package decode

import "math"

// Options configures a search run shared by greedy and beam search.
type Options struct {
	BeamSize        int
	LengthPenalty   float64
	MinLength       int
	MaxLength       int
	StartStep       int
	NumHypotheses   int
	ReturnAttention bool
}

// Hypothesis is one decoded sequence with its cumulative log-prob score.
// Attention is the per-step encoder-decoder attention, one row per
// emitted token, shaped [len(IDs)][Tk]; it is left nil unless
// Options.ReturnAttention was set.
type Hypothesis struct {
	IDs       []int32
	Score     float64
	Attention [][]float32
}

// lengthNormalizedScore applies the Google NMT length penalty:
// score / ((5+len)/6)^penalty.
func lengthNormalizedScore(score float64, length int, penalty float64) float64 {
	return score / math.Pow((5+float64(length))/6, penalty)
}
