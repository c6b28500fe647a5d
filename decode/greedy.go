// greedy.go - Greedy-Suche (beam_size == 1)
//
// Pro Schritt: log_probs berechnen, vor min_len das Ende-Token
// ausschliessen, argmax nehmen, Score akkumulieren, bei Erreichen des
// Ende-Tokens die Probe als beendet markieren; abbrechen sobald alle
// Proben beendet sind.
package decode

import (
	"math"

	"github.com/guillaumekln/CTranslate2/layers"
	"github.com/guillaumekln/CTranslate2/tensor"
)

// Greedy runs greedy search starting from startTokens[B] at startStep,
// terminating a sample when it emits endToken (translated into
// candidate-index space when candidates is non-empty) or reaching
// maxLen. It returns one hypothesis per batch sample.
func Greedy(dec *layers.Decoder, states []*layers.LayerState, startTokens []int32, memory *tensor.Storage, memoryLengths []int32, candidates []int32, endToken int32, opts Options) ([]Hypothesis, error) {
	b := len(startTokens)
	effEnd := endToken
	var projection *layers.Dense
	if len(candidates) > 0 {
		var err error
		projection, err = dec.Projection.Reduce(candidates)
		if err != nil {
			return nil, err
		}
		effEnd = candidateIndex(candidates, endToken)
	}

	current := append([]int32(nil), startTokens...)
	scores := make([]float64, b)
	finished := make([]bool, b)
	sequences := make([][]int32, b)
	var attnRows [][][]float32
	if opts.ReturnAttention {
		attnRows = make([][][]float32, b)
	}

	for step := opts.StartStep; step < opts.MaxLength; step++ {
		if allFinished(finished) {
			break
		}
		logProbs, attnWeights, err := dec.Step(current, step, memory, memoryLengths, states, projection)
		if err != nil {
			return nil, err
		}
		v := logProbs.Dim(1)
		values := logProbs.Floats()
		var attnValues []float32
		var tk int
		if opts.ReturnAttention {
			tk = attnWeights.Dim(1)
			attnValues = attnWeights.Floats()
		}

		next := make([]int32, b)
		for i := 0; i < b; i++ {
			if finished[i] {
				continue
			}
			row := values[i*v : (i+1)*v]
			if step < opts.MinLength {
				row[effEnd] = float32(math.Inf(-1))
			}
			best, bestIdx := row[0], 0
			for j, val := range row {
				if val > best {
					best, bestIdx = val, j
				}
			}
			next[i] = int32(bestIdx)
			scores[i] += float64(best)
			if int32(bestIdx) == effEnd {
				finished[i] = true
			} else {
				sequences[i] = append(sequences[i], mapCandidate(candidates, int32(bestIdx)))
				if opts.ReturnAttention {
					attnRow := append([]float32(nil), attnValues[i*tk:(i+1)*tk]...)
					attnRows[i] = append(attnRows[i], attnRow)
				}
			}
		}
		current = next
	}

	hyps := make([]Hypothesis, b)
	for i := range hyps {
		hyps[i] = Hypothesis{IDs: sequences[i], Score: scores[i]}
		if opts.ReturnAttention {
			hyps[i].Attention = attnRows[i]
		}
	}
	return hyps, nil
}

func allFinished(finished []bool) bool {
	for _, f := range finished {
		if !f {
			return false
		}
	}
	return true
}

func candidateIndex(candidates []int32, id int32) int32 {
	for i, c := range candidates {
		if c == id {
			return int32(i)
		}
	}
	return int32(len(candidates))
}

func mapCandidate(candidates []int32, idx int32) int32 {
	if len(candidates) == 0 {
		return idx
	}
	if int(idx) >= len(candidates) {
		return idx
	}
	return candidates[idx]
}
