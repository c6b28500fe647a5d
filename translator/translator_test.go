package translator

import (
	"testing"

	"github.com/guillaumekln/CTranslate2/model"
	"github.com/guillaumekln/CTranslate2/tensor"
	"github.com/guillaumekln/CTranslate2/vocab"
)

const fixtureDModel = 4
const fixtureVocabSize = 6 // <blank> <unk> <s> </s> hello world

// buildFixtureModel assembles a minimal one-layer encoder/decoder model
// directly in a WeightIndex, bypassing the binary file format. The
// decoder's projection weight is zeroed and its bias overwhelmingly
// favors the end-of-sequence id, so every translation ends at the first
// step where the end-of-sequence id is allowed (step >=
// min_decoding_length) regardless of what the attention stack computes -
// this exercises the full encode/decode/detokenize pipeline without
// depending on trained weights.
func buildFixtureModel(t *testing.T) *model.Model {
	t.Helper()
	device := tensor.Device{Kind: tensor.CPU}
	idx := model.NewWeightIndex(device)

	identity := func() *tensor.Storage {
		values := make([]float32, fixtureDModel*fixtureDModel)
		for i := 0; i < fixtureDModel; i++ {
			values[i*fixtureDModel+i] = 1
		}
		return tensor.FromFloats(device, values, fixtureDModel, fixtureDModel)
	}
	zeroBiasD := func() *tensor.Storage {
		return tensor.FromFloats(device, make([]float32, fixtureDModel), fixtureDModel)
	}
	gammaOnes := func() *tensor.Storage {
		values := make([]float32, fixtureDModel)
		for i := range values {
			values[i] = 1
		}
		return tensor.FromFloats(device, values, fixtureDModel)
	}
	betaZeros := func() *tensor.Storage {
		return tensor.FromFloats(device, make([]float32, fixtureDModel), fixtureDModel)
	}

	setAttention := func(prefix string) {
		idx.Set(prefix+"/layer_norm/gamma", gammaOnes())
		idx.Set(prefix+"/layer_norm/beta", betaZeros())
		for _, part := range []string{"query", "key", "value", "out"} {
			idx.Set(prefix+"/"+part+"/weight", identity())
			idx.Set(prefix+"/"+part+"/bias", zeroBiasD())
		}
	}
	setFeedForward := func(prefix string) {
		idx.Set(prefix+"/layer_norm/gamma", gammaOnes())
		idx.Set(prefix+"/layer_norm/beta", betaZeros())
		idx.Set(prefix+"/linear_0/weight", identity())
		idx.Set(prefix+"/linear_0/bias", zeroBiasD())
		idx.Set(prefix+"/linear_1/weight", identity())
		idx.Set(prefix+"/linear_1/bias", zeroBiasD())
	}

	embTable := tensor.Zeros(tensor.DTypeF32, device, fixtureVocabSize, fixtureDModel)
	idx.Set("encoder/embeddings/weight", embTable)
	setAttention("encoder/layer_0/self_attention")
	setFeedForward("encoder/layer_0/feed_forward")
	idx.Set("encoder/layer_norm/gamma", gammaOnes())
	idx.Set("encoder/layer_norm/beta", betaZeros())

	idx.Set("decoder/embeddings/weight", embTable)
	setAttention("decoder/layer_0/self_attention")
	setAttention("decoder/layer_0/attention")
	setFeedForward("decoder/layer_0/feed_forward")
	idx.Set("decoder/layer_norm/gamma", gammaOnes())
	idx.Set("decoder/layer_norm/beta", betaZeros())

	projWeight := tensor.Zeros(tensor.DTypeF32, device, fixtureVocabSize, fixtureDModel)
	projBias := make([]float32, fixtureVocabSize)
	projBias[vocab.EosID] = 20
	idx.Set("decoder/projection/weight", projWeight)
	idx.Set("decoder/projection/bias", tensor.FromFloats(device, projBias, fixtureVocabSize))

	idx.Set("num_heads", tensor.FromInts(device, []int32{1}, 1))

	m, err := model.Open(idx, model.ComputeTypeDefault, device, 64)
	if err != nil {
		t.Fatalf("model.Open: %v", err)
	}
	return m
}

func buildFixtureVocabulary(t *testing.T) *vocab.Vocabulary {
	t.Helper()
	v, err := vocab.New([]string{"<blank>", "<unk>", "<s>", "</s>", "hello", "world"})
	if err != nil {
		t.Fatalf("vocab.New: %v", err)
	}
	return v
}

func TestTranslateBatchWithPrefixGreedyTerminatesImmediately(t *testing.T) {
	m := buildFixtureModel(t)
	v := buildFixtureVocabulary(t)
	device := tensor.Device{Kind: tensor.CPU}
	tr := New(m, v, v, nil, device)

	// The default min_decoding_length of 1 masks the end token at step 0;
	// with 0 the end token may be chosen at once.
	opts := DefaultOptions()
	opts.MinDecodingLength = 0
	results, err := tr.TranslateBatchWithPrefix([][]string{{"hello", "world"}}, nil, opts)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(results) != 1 || len(results[0].Hypotheses) != 1 {
		t.Fatalf("expected one result with one hypothesis, got %v", results)
	}
	if len(results[0].Hypotheses[0].Tokens) != 0 {
		t.Fatalf("expected empty translation (immediate eos), got %v", results[0].Hypotheses[0].Tokens)
	}
}

func TestTranslateBatchWithPrefixForcesGivenTokensBeforeSearch(t *testing.T) {
	m := buildFixtureModel(t)
	v := buildFixtureVocabulary(t)
	device := tensor.Device{Kind: tensor.CPU}
	tr := New(m, v, v, nil, device)

	results, err := tr.TranslateBatchWithPrefix(
		[][]string{{"hello"}},
		[][]string{{"hello", "world"}},
		DefaultOptions(),
	)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	got := results[0].Hypotheses[0].Tokens
	if len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Fatalf("expected forced prefix [hello world] prepended to output, got %v", got)
	}
}

func TestTranslateBatchWithPrefixRejectsPrefixWithBatchLargerThanOne(t *testing.T) {
	m := buildFixtureModel(t)
	v := buildFixtureVocabulary(t)
	device := tensor.Device{Kind: tensor.CPU}
	tr := New(m, v, v, nil, device)

	_, err := tr.TranslateBatchWithPrefix(
		[][]string{{"hello"}, {"world"}},
		[][]string{{"hello"}, {"world"}},
		DefaultOptions(),
	)
	if err == nil {
		t.Fatalf("expected error when a target prefix is combined with batch size > 1")
	}
}

func TestTranslateBatchWithPrefixBeamSizeGreaterThanOneSucceeds(t *testing.T) {
	m := buildFixtureModel(t)
	v := buildFixtureVocabulary(t)
	device := tensor.Device{Kind: tensor.CPU}
	tr := New(m, v, v, nil, device)

	opts := DefaultOptions()
	opts.BeamSize = 3
	opts.NumHypotheses = 2
	results, err := tr.TranslateBatchWithPrefix([][]string{{"hello", "world"}}, nil, opts)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(results[0].Hypotheses) == 0 {
		t.Fatalf("expected at least one hypothesis from beam search")
	}
}

func TestTranslateBatchWithPrefixRejectsVMapWithoutOne(t *testing.T) {
	m := buildFixtureModel(t)
	v := buildFixtureVocabulary(t)
	device := tensor.Device{Kind: tensor.CPU}
	tr := New(m, v, v, nil, device)

	opts := DefaultOptions()
	opts.UseVMap = true
	if _, err := tr.TranslateBatchWithPrefix([][]string{{"hello"}}, nil, opts); err == nil {
		t.Fatalf("expected error when use_vmap is set without a vocabulary map")
	}
}

func TestCloneBuildsIndependentEncoderDecoderGraphs(t *testing.T) {
	m := buildFixtureModel(t)
	v := buildFixtureVocabulary(t)
	device := tensor.Device{Kind: tensor.CPU}
	tr := New(m, v, v, nil, device)
	clone := tr.Clone()

	if clone.Model != tr.Model {
		t.Fatalf("clone should share the same underlying model weights")
	}
	if _, err := clone.TranslateBatchWithPrefix([][]string{{"hello"}}, nil, DefaultOptions()); err != nil {
		t.Fatalf("translate via clone: %v", err)
	}
}
