// encoder.go - Transformer-Encoder-Stapel
//
// N identische Schichten (Self-Attention, Feed-Forward), gefolgt von
// einer abschliessenden LayerNorm, die den an den Decoder weitergegebenen
// Speicher finalisiert (der Decoder normalisiert den Speicher nicht
// erneut).
package layers

import "github.com/guillaumekln/CTranslate2/tensor"

// EncoderLayer is one self-attention + feed-forward block.
type EncoderLayer struct {
	SelfAttention *MultiHeadAttention
	FeedForward   *FeedForward
}

// Encoder runs embeddings, positional encoding, and a stack of
// EncoderLayers, finalized by a closing LayerNorm.
type Encoder struct {
	Embeddings *ScaledEmbeddings
	Position   *PositionEncoder
	Layers     []*EncoderLayer
	Final      *LayerNorm
}

// NewEncoder wraps the embedding table, position encoder, and layer stack.
func NewEncoder(embeddings *ScaledEmbeddings, position *PositionEncoder, layers []*EncoderLayer, final *LayerNorm) *Encoder {
	return &Encoder{Embeddings: embeddings, Position: position, Layers: layers, Final: final}
}

// Forward encodes a batch of source token id sequences (flattened
// row-major, batchSize*seqLen long) into a memory tensor
// [batchSize, seqLen, d_model], finalized by the closing LayerNorm.
func (e *Encoder) Forward(ids []int32, batchSize, seqLen int) (*tensor.Storage, error) {
	x, err := e.Embeddings.Forward(ids)
	if err != nil {
		return nil, err
	}
	if err := x.Reshape(tensor.Shape{batchSize, seqLen, e.Embeddings.table.Dim(1)}); err != nil {
		return nil, err
	}
	if err := e.Position.Apply(x, 0); err != nil {
		return nil, err
	}

	for _, layer := range e.Layers {
		cache := &Cache{}
		x, err = layer.SelfAttention.SelfAttention(x, 0, cache)
		if err != nil {
			return nil, err
		}
		x, err = layer.FeedForward.Forward(x)
		if err != nil {
			return nil, err
		}
	}
	return e.Final.Forward(x)
}
