// layernorm.go - Gelernte Layer-Normalisierung
package layers

import "github.com/guillaumekln/CTranslate2/tensor"

// LayerNorm applies (x-mean)/stddev * gamma + beta along the last axis.
type LayerNorm struct {
	Gamma *tensor.Storage
	Beta  *tensor.Storage
	Eps   float32
}

// NewLayerNorm wraps learned gamma/beta weights.
func NewLayerNorm(gamma, beta *tensor.Storage) *LayerNorm {
	return &LayerNorm{Gamma: gamma, Beta: beta, Eps: 1e-5}
}

func (l *LayerNorm) Forward(x *tensor.Storage) (*tensor.Storage, error) {
	return tensor.LayerNorm(x, l.Gamma, l.Beta, l.Eps)
}
