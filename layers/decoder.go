// decoder.go - Transformer-Decoder-Stapel
//
// N identische Schichten (Self-Attention mit wachsendem Cache,
// Encoder-Decoder-Attention mit fixem Cache, Feed-Forward), gefolgt von
// einer abschliessenden LayerNorm und einer Vokabular-Projektion. Die
// Projektion unterstuetzt eine auf Kandidaten reduzierte Dense-Schicht
// (siehe Dense.Reduce) fuer Vokabular-Restriktion.
package layers

import (
	"math"

	"github.com/guillaumekln/CTranslate2/tensor"
)

// DecoderLayer is one self-attention + cross-attention + feed-forward block.
type DecoderLayer struct {
	SelfAttention *MultiHeadAttention
	Attention     *MultiHeadAttention
	FeedForward   *FeedForward
}

// LayerState holds the growing self-attention cache and the
// once-computed cross-attention cache for one decoder layer.
type LayerState struct {
	Self  Cache
	Cross Cache
}

// Decoder runs embeddings, positional encoding, a stack of
// DecoderLayers, a closing LayerNorm, and the vocabulary projection.
type Decoder struct {
	Embeddings *ScaledEmbeddings
	Position   *PositionEncoder
	Layers     []*DecoderLayer
	Final      *LayerNorm
	Projection *Dense
}

// NewDecoder wraps the embedding table, position encoder, layer stack,
// and output projection.
func NewDecoder(embeddings *ScaledEmbeddings, position *PositionEncoder, layers []*DecoderLayer, final *LayerNorm, projection *Dense) *Decoder {
	return &Decoder{Embeddings: embeddings, Position: position, Layers: layers, Final: final, Projection: projection}
}

// NewLayerStates allocates one LayerState per decoder layer for a fresh
// decoding run.
func (d *Decoder) NewLayerStates() []*LayerState {
	states := make([]*LayerState, len(d.Layers))
	for i := range states {
		states[i] = &LayerState{}
	}
	return states
}

// Step runs one decoding step: ids holds one token id per batch entry,
// step is the 0-based decoding position, memory/memoryLengths are the
// encoder output. It returns log-probabilities over the (possibly
// candidate-restricted) vocabulary, shaped [B, V], plus the last layer's
// encoder-decoder attention weights for this step, shaped [B, Tk] (the
// per-source-position alignment a caller can accumulate into a
// per-hypothesis attention matrix).
func (d *Decoder) Step(ids []int32, step int, memory *tensor.Storage, memoryLengths []int32, states []*LayerState, projection *Dense) (*tensor.Storage, *tensor.Storage, error) {
	x, err := d.Embeddings.Forward(ids)
	if err != nil {
		return nil, nil, err
	}
	b := len(ids)
	dModel := d.Embeddings.table.Dim(1)
	if err := x.Reshape(tensor.Shape{b, 1, dModel}); err != nil {
		return nil, nil, err
	}
	if err := d.Position.Apply(x, step); err != nil {
		return nil, nil, err
	}

	var attnWeights *tensor.Storage
	for i, layer := range d.Layers {
		state := states[i]
		x, err = layer.SelfAttention.SelfAttention(x, step, &state.Self)
		if err != nil {
			return nil, nil, err
		}
		x, attnWeights, err = layer.Attention.EncoderDecoderAttention(x, memory, memoryLengths, step, &state.Cross)
		if err != nil {
			return nil, nil, err
		}
		x, err = layer.FeedForward.Forward(x)
		if err != nil {
			return nil, nil, err
		}
	}

	x, err = d.Final.Forward(x)
	if err != nil {
		return nil, nil, err
	}

	proj := d.Projection
	if projection != nil {
		proj = projection
	}
	logits, err := proj.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	v := logits.Dim(-1)
	if err := logits.Reshape(tensor.Shape{b, v}); err != nil {
		return nil, nil, err
	}
	attnWeights, err = tensor.Squeeze(attnWeights, 1)
	if err != nil {
		return nil, nil, err
	}
	logProbs, err := logSoftmax(logits)
	if err != nil {
		return nil, nil, err
	}
	return logProbs, attnWeights, nil
}

// logSoftmax computes log(softmax(x)) row-wise, numerically stable via
// the standard max-subtraction trick.
func logSoftmax(x *tensor.Storage) (*tensor.Storage, error) {
	rows, cols := x.Dim(0), x.Dim(1)
	values := x.Floats()
	out := make([]float32, len(values))
	for r := 0; r < rows; r++ {
		offset := r * cols
		row := values[offset : offset+cols]
		maxV := row[0]
		for _, v := range row {
			if v > maxV {
				maxV = v
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - maxV))
		}
		logSum := math.Log(sum)
		for i, v := range row {
			out[offset+i] = v - maxV - float32(logSum)
		}
	}
	result := tensor.Zeros(tensor.DTypeF32, x.Device(), rows, cols)
	result.FromFloats(out)
	return result, nil
}
