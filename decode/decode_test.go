package decode

import (
	"testing"

	"github.com/guillaumekln/CTranslate2/layers"
	"github.com/guillaumekln/CTranslate2/tensor"
)

// buildEosForcingDecoder constructs a one-layer decoder whose projection
// ignores the hidden state entirely (zero weight) and whose bias makes
// the end-of-sequence id overwhelmingly the most likely token at every
// step, regardless of what the attention/feed-forward stack computes.
func buildEosForcingDecoder(vocabSize, dModel int, eosID int32) *layers.Decoder {
	device := tensor.Device{Kind: tensor.CPU}

	identity := func(n int) *tensor.Storage {
		values := make([]float32, n*n)
		for i := 0; i < n; i++ {
			values[i*n+i] = 1
		}
		return tensor.FromFloats(device, values, n, n)
	}
	zeroBias := func(n int) *tensor.Storage {
		return tensor.FromFloats(device, make([]float32, n), n)
	}
	gammaOnes := tensor.FromFloats(device, []float32{1, 1, 1, 1}, dModel)
	betaZeros := tensor.FromFloats(device, []float32{0, 0, 0, 0}, dModel)

	newAttention := func() *layers.MultiHeadAttention {
		return &layers.MultiHeadAttention{
			NumHeads:  1,
			LayerNorm: layers.NewLayerNorm(gammaOnes, betaZeros),
			Query:     layers.NewDense(identity(dModel), zeroBias(dModel), nil),
			Key:       layers.NewDense(identity(dModel), zeroBias(dModel), nil),
			Value:     layers.NewDense(identity(dModel), zeroBias(dModel), nil),
			Out:       layers.NewDense(identity(dModel), zeroBias(dModel), nil),
		}
	}
	ff := layers.NewFeedForward(
		layers.NewLayerNorm(gammaOnes, betaZeros),
		layers.NewDense(identity(dModel), zeroBias(dModel), nil),
		layers.NewDense(identity(dModel), zeroBias(dModel), nil),
	)
	layer := &layers.DecoderLayer{
		SelfAttention: newAttention(),
		Attention:     newAttention(),
		FeedForward:   ff,
	}

	embTable := tensor.Zeros(tensor.DTypeF32, device, vocabSize, dModel)
	projWeight := tensor.Zeros(tensor.DTypeF32, device, vocabSize, dModel) // all zero: logits == bias
	projBias := make([]float32, vocabSize)
	projBias[eosID] = 20
	proj := layers.NewDense(projWeight, tensor.FromFloats(device, projBias, vocabSize), nil)

	return layers.NewDecoder(
		layers.NewScaledEmbeddings(embTable),
		layers.NewPositionEncoder(device, dModel, 64),
		[]*layers.DecoderLayer{layer},
		layers.NewLayerNorm(gammaOnes, betaZeros),
		proj,
	)
}

func buildMemory(batchSize, srcLen, dModel int) (*tensor.Storage, []int32) {
	device := tensor.Device{Kind: tensor.CPU}
	memory := tensor.Zeros(tensor.DTypeF32, device, batchSize, srcLen, dModel)
	lengths := make([]int32, batchSize)
	for i := range lengths {
		lengths[i] = int32(srcLen)
	}
	return memory, lengths
}

func TestGreedyTerminatesImmediatelyWhenEosDominates(t *testing.T) {
	const vocab, dModel = 6, 4
	const eos = int32(3)
	dec := buildEosForcingDecoder(vocab, dModel, eos)
	memory, lengths := buildMemory(1, 2, dModel)
	states := dec.NewLayerStates()

	opts := Options{MinLength: 0, MaxLength: 10, StartStep: 0}
	hyps, err := Greedy(dec, states, []int32{2 /* bos */}, memory, lengths, nil, eos, opts)
	if err != nil {
		t.Fatalf("greedy: %v", err)
	}
	if len(hyps) != 1 {
		t.Fatalf("expected one hypothesis, got %d", len(hyps))
	}
	if len(hyps[0].IDs) != 0 {
		t.Fatalf("expected empty hypothesis (immediate eos), got %v", hyps[0].IDs)
	}
}

func TestGreedyMinLengthForbidsEarlyEos(t *testing.T) {
	const vocab, dModel = 6, 4
	const eos = int32(3)
	dec := buildEosForcingDecoder(vocab, dModel, eos)
	memory, lengths := buildMemory(1, 2, dModel)
	states := dec.NewLayerStates()

	opts := Options{MinLength: 3, MaxLength: 10, StartStep: 0}
	hyps, err := Greedy(dec, states, []int32{2}, memory, lengths, nil, eos, opts)
	if err != nil {
		t.Fatalf("greedy: %v", err)
	}
	if len(hyps[0].IDs) != 3 {
		t.Fatalf("expected exactly min_length=3 tokens before eos is allowed, got %v", hyps[0].IDs)
	}
}

func TestBeamSizeOneMatchesGreedyTermination(t *testing.T) {
	const vocab, dModel = 6, 4
	const eos = int32(3)
	dec := buildEosForcingDecoder(vocab, dModel, eos)
	memory, lengths := buildMemory(1, 2, dModel)
	states := dec.NewLayerStates()

	opts := Options{MinLength: 0, MaxLength: 10, StartStep: 0, BeamSize: 1, NumHypotheses: 1}
	results, err := Beam(dec, states, []int32{2}, memory, lengths, nil, eos, opts)
	if err != nil {
		t.Fatalf("beam: %v", err)
	}
	if len(results) != 1 || len(results[0]) != 1 {
		t.Fatalf("expected one sample with one hypothesis, got %v", results)
	}
	if len(results[0][0].IDs) != 0 {
		t.Fatalf("expected empty hypothesis (immediate eos), got %v", results[0][0].IDs)
	}
}

func TestBeamSearchReturnsHypothesesSortedByDescendingScore(t *testing.T) {
	const vocab, dModel = 8, 4
	const eos = int32(3)
	dec := buildEosForcingDecoder(vocab, dModel, eos)
	memory, lengths := buildMemory(1, 2, dModel)
	states := dec.NewLayerStates()

	opts := Options{MinLength: 0, MaxLength: 5, StartStep: 0, BeamSize: 4, NumHypotheses: 3}
	results, err := Beam(dec, states, []int32{2}, memory, lengths, nil, eos, opts)
	if err != nil {
		t.Fatalf("beam: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one sample, got %d", len(results))
	}
	hyps := results[0]
	for i := 1; i < len(hyps); i++ {
		if hyps[i].Score > hyps[i-1].Score {
			t.Fatalf("hypotheses not sorted by descending score: %v", hyps)
		}
	}
}

func TestGreedyCandidateRestrictionRemapsIDsToFullVocabulary(t *testing.T) {
	const vocab, dModel = 6, 4
	const eos = int32(3)
	dec := buildEosForcingDecoder(vocab, dModel, eos)
	memory, lengths := buildMemory(1, 2, dModel)
	states := dec.NewLayerStates()

	// Candidate vocabulary omits id 4 and 5; eos (3) is included so the
	// forced-eos fixture still terminates immediately, exercising the
	// candidate-index remapping path with no emitted tokens.
	candidates := []int32{0, 1, 2, 3}
	opts := Options{MinLength: 0, MaxLength: 10, StartStep: 0}
	hyps, err := Greedy(dec, states, []int32{2}, memory, lengths, candidates, eos, opts)
	if err != nil {
		t.Fatalf("greedy: %v", err)
	}
	if len(hyps[0].IDs) != 0 {
		t.Fatalf("expected immediate eos under candidate restriction, got %v", hyps[0].IDs)
	}
}

func TestGreedyReturnAttentionCapturesOneRowPerEmittedToken(t *testing.T) {
	const vocab, dModel = 6, 4
	const eos = int32(3)
	const srcLen = 2
	dec := buildEosForcingDecoder(vocab, dModel, eos)
	memory, lengths := buildMemory(1, srcLen, dModel)
	states := dec.NewLayerStates()

	opts := Options{MinLength: 3, MaxLength: 10, StartStep: 0, ReturnAttention: true}
	hyps, err := Greedy(dec, states, []int32{2}, memory, lengths, nil, eos, opts)
	if err != nil {
		t.Fatalf("greedy: %v", err)
	}
	if len(hyps[0].Attention) != len(hyps[0].IDs) {
		t.Fatalf("expected one attention row per emitted token, got %d rows for %d tokens", len(hyps[0].Attention), len(hyps[0].IDs))
	}
	for _, row := range hyps[0].Attention {
		if len(row) != srcLen {
			t.Fatalf("attention row length = %d, want src_len=%d", len(row), srcLen)
		}
	}
}

func TestGreedyWithoutReturnAttentionLeavesAttentionNil(t *testing.T) {
	const vocab, dModel = 6, 4
	const eos = int32(3)
	dec := buildEosForcingDecoder(vocab, dModel, eos)
	memory, lengths := buildMemory(1, 2, dModel)
	states := dec.NewLayerStates()

	opts := Options{MinLength: 3, MaxLength: 10, StartStep: 0}
	hyps, err := Greedy(dec, states, []int32{2}, memory, lengths, nil, eos, opts)
	if err != nil {
		t.Fatalf("greedy: %v", err)
	}
	if hyps[0].Attention != nil {
		t.Fatalf("expected nil Attention when ReturnAttention is unset, got %v", hyps[0].Attention)
	}
}

func TestBeamReturnAttentionCapturesOneRowPerEmittedToken(t *testing.T) {
	const vocab, dModel = 8, 4
	const eos = int32(3)
	const srcLen = 2
	dec := buildEosForcingDecoder(vocab, dModel, eos)
	memory, lengths := buildMemory(1, srcLen, dModel)
	states := dec.NewLayerStates()

	opts := Options{MinLength: 3, MaxLength: 10, StartStep: 0, BeamSize: 2, NumHypotheses: 1, ReturnAttention: true}
	results, err := Beam(dec, states, []int32{2}, memory, lengths, nil, eos, opts)
	if err != nil {
		t.Fatalf("beam: %v", err)
	}
	hyp := results[0][0]
	if len(hyp.Attention) != len(hyp.IDs) {
		t.Fatalf("expected one attention row per emitted token, got %d rows for %d tokens", len(hyp.Attention), len(hyp.IDs))
	}
	for _, row := range hyp.Attention {
		if len(row) != srcLen {
			t.Fatalf("attention row length = %d, want src_len=%d", len(row), srcLen)
		}
	}
}

func TestLengthNormalizedScoreFavorsLongerSequencesWhenPenaltyPositive(t *testing.T) {
	short := lengthNormalizedScore(-2, 2, 1.0)
	long := lengthNormalizedScore(-2, 10, 1.0)
	if long <= short {
		t.Fatalf("longer sequence with same raw score should normalize higher: short=%v long=%v", short, long)
	}
}
