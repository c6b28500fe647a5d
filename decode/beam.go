// beam.go - Beam-Suche
//
// Haelt B*K aktive Hypothesen. Je Schritt: log_probs[B*K,V] berechnen,
// zu kumulativen Scores addieren, auf [B,K*V] umformen und pro Probe die
// Top-K nehmen (neue kumulative Scores, Eltern-Beam-Indizes, gewaehlte
// Token-IDs). Anschliessend wird der gesamte Zustand (Caches, bisherige
// Token-Sequenzen) anhand der Eltern-Indizes umsortiert - der teuerste
// Schritt, ein Gather entlang der Batch-Achse jedes Cache-Tensors.
// Beendete Hypothesen werden in einen laengen-normalisierten Heap pro
// Probe der Groesse num_hypotheses einsortiert; freie Plaetze werden mit
// der naechstbesten nicht beendeten Alternative aufgefuellt.
package decode

import (
	"math"
	"sort"

	"github.com/emirpasic/gods/v2/queues/priorityqueue"

	"github.com/guillaumekln/CTranslate2/layers"
	"github.com/guillaumekln/CTranslate2/tensor"
)

type beamCandidate struct {
	score     float64
	parent    int
	token     int32
	finished  bool
}

// Beam runs beam search with K = opts.BeamSize over B samples, returning
// up to opts.NumHypotheses hypotheses per sample sorted by descending
// length-normalized score.
func Beam(dec *layers.Decoder, states []*layers.LayerState, startTokens []int32, memory *tensor.Storage, memoryLengths []int32, candidates []int32, endToken int32, opts Options) ([][]Hypothesis, error) {
	b := len(startTokens)
	k := opts.BeamSize

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

	bk := b * k
	beamStates := expandStates(states, b, k)
	memoryBK := expandBatch(memory, b, k)
	lengthsBK := expandLengths(memoryLengths, b, k)

	current := make([]int32, bk)
	for i := range current {
		current[i] = startTokens[i/k]
	}
	cumulative := make([]float64, bk)
	for i := 0; i < bk; i++ {
		if i%k != 0 {
			cumulative[i] = math.Inf(-1) // only the first beam of each sample is valid at step 0
		}
	}
	sequences := make([][]int32, bk)
	active := make([]bool, bk)
	for i := range active {
		active[i] = true
	}
	var attnRows [][][]float32
	if opts.ReturnAttention {
		attnRows = make([][][]float32, bk)
	}

	finishedHeaps := make([]*hypHeap, b)
	for i := range finishedHeaps {
		finishedHeaps[i] = newHypHeap(opts.NumHypotheses)
	}

	for step := opts.StartStep; step < opts.MaxLength; step++ {
		if allSamplesDone(finishedHeaps, opts.NumHypotheses) {
			break
		}
		logProbs, attnWeights, err := dec.Step(current, step, memoryBK, lengthsBK, beamStates, projection)
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

		newCumulative := make([]float64, bk)
		newSequences := make([][]int32, bk)
		newActive := make([]bool, bk)
		parents := make([]int, bk)
		var newAttnRows [][][]float32
		if opts.ReturnAttention {
			newAttnRows = make([][][]float32, bk)
		}

		for s := 0; s < b; s++ {
			if finishedHeaps[s].full() {
				for j := 0; j < k; j++ {
					idx := s*k + j
					newCumulative[idx] = cumulative[idx]
					newSequences[idx] = sequences[idx]
					newActive[idx] = false
					parents[idx] = idx
					if opts.ReturnAttention {
						newAttnRows[idx] = attnRows[idx]
					}
				}
				continue
			}

			var cands []beamCandidate
			for j := 0; j < k; j++ {
				beamIdx := s*k + j
				if !active[beamIdx] {
					continue
				}
				row := values[beamIdx*v : (beamIdx+1)*v]
				if step < opts.MinLength {
					row[effEnd] = float32(math.Inf(-1))
				}
				for token, lp := range row {
					cands = append(cands, beamCandidate{
						score:    cumulative[beamIdx] + float64(lp),
						parent:   beamIdx,
						token:    int32(token),
						finished: int32(token) == effEnd,
					})
				}
			}
			sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

			filled := 0
			for _, c := range cands {
				if filled >= k {
					break
				}
				seq := append(append([]int32(nil), sequences[c.parent]...))
				if c.finished {
					// A finished hypothesis goes to the heap without taking a
					// beam slot; the slot goes to the next best unfinished
					// candidate.
					norm := lengthNormalizedScore(c.score, len(seq)+1, opts.LengthPenalty)
					hyp := Hypothesis{IDs: seq, Score: norm}
					if opts.ReturnAttention {
						hyp.Attention = attnRows[c.parent]
					}
					finishedHeaps[s].push(hyp)
					continue
				}
				idx := s*k + filled
				parents[idx] = c.parent
				newCumulative[idx] = c.score
				newSequences[idx] = append(seq, mapCandidate(candidates, c.token))
				newActive[idx] = true
				if opts.ReturnAttention {
					row := append([]float32(nil), attnValues[c.parent*tk:(c.parent+1)*tk]...)
					newAttnRows[idx] = append(append([][]float32(nil), attnRows[c.parent]...), row)
				}
				filled++
			}
			for filled < k {
				idx := s*k + filled
				parents[idx] = s * k
				newActive[idx] = false
				newCumulative[idx] = math.Inf(-1)
				newSequences[idx] = sequences[s*k]
				if opts.ReturnAttention {
					newAttnRows[idx] = attnRows[s*k]
				}
				filled++
			}
		}

		reorderStates(beamStates, parents)
		cumulative = newCumulative
		sequences = newSequences
		if opts.ReturnAttention {
			attnRows = newAttnRows
		}
		active = newActive
		nextTokens := make([]int32, bk)
		for i := range nextTokens {
			if len(sequences[i]) > 0 {
				nextTokens[i] = sequences[i][len(sequences[i])-1]
			}
		}
		current = nextTokens
	}

	for s := 0; s < b; s++ {
		for j := 0; j < k; j++ {
			idx := s*k + j
			if active[idx] {
				norm := lengthNormalizedScore(cumulative[idx], len(sequences[idx]), opts.LengthPenalty)
				hyp := Hypothesis{IDs: sequences[idx], Score: norm}
				if opts.ReturnAttention {
					hyp.Attention = attnRows[idx]
				}
				finishedHeaps[s].push(hyp)
			}
		}
	}

	results := make([][]Hypothesis, b)
	for s := 0; s < b; s++ {
		results[s] = finishedHeaps[s].sorted()
	}
	return results, nil
}

// expandStates repeats each of B single-sample layer states K times
// contiguously so self-/cross-attention caches line up with the B*K
// beam layout. Any cache state already grown by prefix forcing
// (non-nil Keys/Values, batch dimension B) is replicated along the
// batch axis to B*K; an empty cache stays empty so the first real
// decoding step builds it fresh per beam.
func expandStates(states []*layers.LayerState, b, k int) []*layers.LayerState {
	expanded := make([]*layers.LayerState, len(states))
	for li, src := range states {
		expanded[li] = &layers.LayerState{
			Self:  expandCache(src.Self, b, k),
			Cross: expandCache(src.Cross, b, k),
		}
	}
	return expanded
}

func expandCache(c layers.Cache, b, k int) layers.Cache {
	if c.Keys == nil {
		return layers.Cache{}
	}
	return layers.Cache{
		Keys:   expandRank4Batch(c.Keys, b, k),
		Values: expandRank4Batch(c.Values, b, k),
	}
}

// expandRank4Batch replicates a [B,h,T,dk] tensor's batch axis to B*K,
// k copies per original batch entry, contiguously.
func expandRank4Batch(x *tensor.Storage, b, k int) *tensor.Storage {
	h, t, dk := x.Dim(1), x.Dim(2), x.Dim(3)
	per := h * t * dk
	values := x.Floats()
	out := make([]float32, b*k*per)
	for s := 0; s < b; s++ {
		src := values[s*per : (s+1)*per]
		for j := 0; j < k; j++ {
			copy(out[(s*k+j)*per:(s*k+j+1)*per], src)
		}
	}
	expanded := tensor.Zeros(tensor.DTypeF32, x.Device(), b*k, h, t, dk)
	expanded.FromFloats(out)
	return expanded
}

func expandBatch(memory *tensor.Storage, b, k int) *tensor.Storage {
	t, d := memory.Dim(1), memory.Dim(2)
	values := memory.Floats()
	out := make([]float32, b*k*t*d)
	for s := 0; s < b; s++ {
		src := values[s*t*d : (s+1)*t*d]
		for j := 0; j < k; j++ {
			copy(out[(s*k+j)*t*d:(s*k+j+1)*t*d], src)
		}
	}
	expanded := tensor.Zeros(tensor.DTypeF32, memory.Device(), b*k, t, d)
	expanded.FromFloats(out)
	return expanded
}

func expandLengths(lengths []int32, b, k int) []int32 {
	out := make([]int32, b*k)
	for s := 0; s < b; s++ {
		for j := 0; j < k; j++ {
			out[s*k+j] = lengths[s]
		}
	}
	return out
}

// reorderStates gathers each decoder layer's self-/cross-attention
// cache tensors along the batch axis according to parents: the new
// batch row i takes the old batch row parents[i]. This is the expensive
// per-step bookkeeping step that keeps every beam's cache aligned with
// the hypothesis it was just extended from.
func reorderStates(states []*layers.LayerState, parents []int) {
	for _, state := range states {
		state.Self = gatherCacheBatch(state.Self, parents)
		state.Cross = gatherCacheBatch(state.Cross, parents)
	}
}

func gatherCacheBatch(c layers.Cache, parents []int) layers.Cache {
	if c.Keys == nil {
		return c
	}
	return layers.Cache{
		Keys:   gatherRank4Batch(c.Keys, parents),
		Values: gatherRank4Batch(c.Values, parents),
	}
}

func gatherRank4Batch(x *tensor.Storage, parents []int) *tensor.Storage {
	h, t, dk := x.Dim(1), x.Dim(2), x.Dim(3)
	per := h * t * dk
	values := x.Floats()
	out := make([]float32, len(parents)*per)
	for i, p := range parents {
		copy(out[i*per:(i+1)*per], values[p*per:(p+1)*per])
	}
	expanded := tensor.Zeros(tensor.DTypeF32, x.Device(), len(parents), h, t, dk)
	expanded.FromFloats(out)
	return expanded
}

// hypHeap keeps the cap best-scoring finished hypotheses per sample. It
// is a min-heap on Score: the root is always the weakest hypothesis
// currently kept, so a new arrival only needs to beat the root to earn
// a place, an O(log cap) test-and-swap instead of a full re-sort per
// push.
type hypHeap struct {
	cap   int
	queue *priorityqueue.Queue[Hypothesis]
}

func newHypHeap(cap int) *hypHeap {
	return &hypHeap{
		cap: cap,
		queue: priorityqueue.NewWith(func(a, b Hypothesis) int {
			switch {
			case a.Score < b.Score:
				return -1
			case a.Score > b.Score:
				return 1
			default:
				return 0
			}
		}),
	}
}

func (h *hypHeap) push(hyp Hypothesis) {
	if h.queue.Size() < h.cap {
		h.queue.Enqueue(hyp)
		return
	}
	if weakest, ok := h.queue.Peek(); ok && hyp.Score > weakest.Score {
		h.queue.Dequeue()
		h.queue.Enqueue(hyp)
	}
}

func (h *hypHeap) full() bool {
	return h.queue.Size() >= h.cap
}

func (h *hypHeap) len() int {
	return h.queue.Size()
}

func (h *hypHeap) sorted() []Hypothesis {
	values := h.queue.Values()
	sort.Slice(values, func(i, j int) bool { return values[i].Score > values[j].Score })
	return values
}

func allSamplesDone(heaps []*hypHeap, numHyps int) bool {
	for _, h := range heaps {
		if h.len() < numHyps {
			return false
		}
	}
	return true
}
