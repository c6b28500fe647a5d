// feedforward.go - Position-weise Feed-Forward-Schicht
//
// Pre-Norm-Sublayer: out = x + W2 * relu(W1 * LN(x)). Das Residual
// addiert die unnormalisierte Eingabe zum Sublayer-Ergebnis.
package layers

import "github.com/guillaumekln/CTranslate2/tensor"

// FeedForward is the position-wise two-layer MLP sublayer.
type FeedForward struct {
	LayerNorm *LayerNorm
	Linear0   *Dense // [d_model -> d_ff]
	Linear1   *Dense // [d_ff -> d_model]
}

// NewFeedForward wraps the normalization and both projections.
func NewFeedForward(norm *LayerNorm, linear0, linear1 *Dense) *FeedForward {
	return &FeedForward{LayerNorm: norm, Linear0: linear0, Linear1: linear1}
}

// Forward computes the pre-norm feed-forward sublayer with residual.
func (f *FeedForward) Forward(x *tensor.Storage) (*tensor.Storage, error) {
	normed, err := f.LayerNorm.Forward(x)
	if err != nil {
		return nil, err
	}
	inner, err := f.Linear0.Forward(normed)
	if err != nil {
		return nil, err
	}
	activated := tensor.Zeros(tensor.DTypeF32, inner.Device(), inner.Shape()...)
	if err := tensor.Relu(inner, activated); err != nil {
		return nil, err
	}
	projected, err := f.Linear1.Forward(activated)
	if err != nil {
		return nil, err
	}
	return residualAdd(x, projected)
}
