// translator.go - Uebersetzungs-Fassade
//
// Pipeline: Optionen validieren, Quelltokens in IDs+Laengen wandeln,
// encoder(ids,lengths) -> memory, bei use_vmap Kandidaten aus der
// Vokabular-Abbildung bauen, Decoder-Zustand initialisieren,
// Praefix-Forcing durchfuehren, dann Greedy- oder Beam-Suche, und pro
// Ergebnis das Praefix voranstellen und IDs zurueck in Tokens wandeln.
package translator

import (
	"fmt"

	"github.com/guillaumekln/CTranslate2/decode"
	"github.com/guillaumekln/CTranslate2/layers"
	"github.com/guillaumekln/CTranslate2/model"
	"github.com/guillaumekln/CTranslate2/tensor"
	"github.com/guillaumekln/CTranslate2/vocab"
)

// Hypothesis is one translated token sequence paired with its score and,
// when Options.ReturnAttention was set, the per-target-token attention
// over source positions, shaped [len(Tokens)][src_len].
type Hypothesis struct {
	Tokens    []string
	Score     float64
	Attention [][]float32
}

// Result holds every requested hypothesis for one input sequence.
type Result struct {
	Hypotheses []Hypothesis
}

// Translator wraps a Model with the per-instance graph state (its own
// encoder/decoder, plus the target device) a single translation thread
// needs.
// Different Translators built from the same Model share its read-only
// weight index but never its encoder/decoder graphs.
type Translator struct {
	Model    *model.Model
	Source   *vocab.Vocabulary
	Target   *vocab.Vocabulary
	VMap     *vocab.VocabularyMap
	Device   tensor.Device
	encoder  *layers.Encoder
	decoder  *layers.Decoder
}

// New builds a Translator with fresh encoder/decoder graphs over m's
// shared weight index.
func New(m *model.Model, source, target *vocab.Vocabulary, vmap *vocab.VocabularyMap, device tensor.Device) *Translator {
	return &Translator{
		Model:   m,
		Source:  source,
		Target:  target,
		VMap:    vmap,
		Device:  device,
		encoder: m.MakeEncoder(device),
		decoder: m.MakeDecoder(device),
	}
}

// Clone builds a second Translator over the same Model weights with its
// own fresh encoder/decoder graphs, for use from another thread.
func (t *Translator) Clone() *Translator {
	return New(t.Model, t.Source, t.Target, t.VMap, t.Device)
}

// TranslateBatchWithPrefix runs the full pipeline for a batch of
// tokenized source sequences, with an optional per-sample target prefix.
func (t *Translator) TranslateBatchWithPrefix(batchSource [][]string, prefixes [][]string, opts Options) ([]Result, error) {
	hasPrefix := false
	for _, p := range prefixes {
		if len(p) > 0 {
			hasPrefix = true
		}
	}
	if err := opts.Validate(hasPrefix, t.VMap != nil, len(batchSource)); err != nil {
		return nil, err
	}

	ids, lengths := t.encodeBatch(batchSource)
	memory, err := t.encoder.Forward(flatten(ids), len(batchSource), int(maxLen(lengths)))
	if err != nil {
		return nil, err
	}

	var candidates []int32
	if opts.UseVMap && t.VMap != nil {
		candidates = t.VMap.GetCandidates(batchSource)
	}

	results := make([]Result, len(batchSource))
	for i := range batchSource {
		sampleMemory, err := sliceBatch(memory, i)
		if err != nil {
			return nil, err
		}
		sampleLengths := []int32{lengths[i]}

		states := t.decoder.NewLayerStates()
		startToken := vocab.BosID
		startStep := 0

		var prefixIDs []int32
		if len(prefixes) > i && len(prefixes[i]) > 0 {
			prefixIDs = t.Target.ToIDs(prefixes[i])
			startToken, startStep, err = t.forcePrefix(states, sampleMemory, sampleLengths, prefixIDs)
			if err != nil {
				return nil, err
			}
		}

		var hyps []decode.Hypothesis
		searchOpts := decode.Options{
			BeamSize:        opts.BeamSize,
			LengthPenalty:   opts.LengthPenalty,
			MinLength:       opts.MinDecodingLength,
			MaxLength:       opts.MaxDecodingLength,
			NumHypotheses:   opts.NumHypotheses,
			ReturnAttention: opts.ReturnAttention,
		}
		searchOpts.StartStep = startStep
		if opts.BeamSize == 1 {
			hyps, err = decode.Greedy(t.decoder, states, []int32{startToken}, sampleMemory, sampleLengths, candidates, vocab.EosID, searchOpts)
		} else {
			var beamHyps [][]decode.Hypothesis
			beamHyps, err = decode.Beam(t.decoder, states, []int32{startToken}, sampleMemory, sampleLengths, candidates, vocab.EosID, searchOpts)
			if err == nil {
				hyps = beamHyps[0]
			}
		}
		if err != nil {
			return nil, err
		}

		results[i] = Result{Hypotheses: toTranslatorHypotheses(t.Target, prefixIDs, hyps)}
	}
	return results, nil
}

// forcePrefix runs P decoder steps feeding each prefix token, growing
// self-/cross-attention cache state without sampling, and returns the
// token to feed and the step at which the real search should resume.
func (t *Translator) forcePrefix(states []*layers.LayerState, memory *tensor.Storage, lengths []int32, prefixIDs []int32) (int32, int, error) {
	current := vocab.BosID
	for i := 0; i < len(prefixIDs); i++ {
		if _, _, err := t.decoder.Step([]int32{current}, i, memory, lengths, states, nil); err != nil {
			return 0, 0, fmt.Errorf("translator: forcing prefix token %d: %w", i, err)
		}
		current = prefixIDs[i]
	}
	return current, len(prefixIDs), nil
}

func toTranslatorHypotheses(target *vocab.Vocabulary, prefixIDs []int32, hyps []decode.Hypothesis) []Hypothesis {
	out := make([]Hypothesis, len(hyps))
	for i, h := range hyps {
		full := append(append([]int32(nil), prefixIDs...), h.IDs...)
		out[i] = Hypothesis{Tokens: target.ToTokens(full), Score: h.Score, Attention: h.Attention}
	}
	return out
}

func (t *Translator) encodeBatch(batch [][]string) ([][]int32, []int32) {
	ids := make([][]int32, len(batch))
	lengths := make([]int32, len(batch))
	for i, tokens := range batch {
		ids[i] = t.Source.ToIDs(tokens)
		lengths[i] = int32(len(tokens))
	}
	m := int(maxLen(lengths))
	for i := range ids {
		for len(ids[i]) < m {
			ids[i] = append(ids[i], vocab.BlankID)
		}
	}
	return ids, lengths
}

func flatten(ids [][]int32) []int32 {
	var out []int32
	for _, row := range ids {
		out = append(out, row...)
	}
	return out
}

func maxLen(lengths []int32) int32 {
	var m int32
	for _, l := range lengths {
		if l > m {
			m = l
		}
	}
	return m
}

func sliceBatch(memory *tensor.Storage, index int) (*tensor.Storage, error) {
	t, d := memory.Dim(1), memory.Dim(2)
	return tensor.View(memory, index*t*d, tensor.Shape{1, t, d})
}
