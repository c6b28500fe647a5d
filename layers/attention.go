// attention.go - Multi-Head-Attention (Self und Encoder-Decoder), mit KV-Cache
//
// Pre-Norm-Disziplin: die Eingabe wird zuerst durch
// LayerNorm geschickt, Q/K/V werden linear projiziert, in h Koepfe
// gesplittet, skaliertes Dot-Product mit optionaler Laengenmaske
// berechnet und die Koepfe wieder zusammengefuehrt; das Residual addiert
// die unnormalisierte Eingabe zum Sublayer-Ergebnis. Selbstaufmerksamkeit
// haelt einen wachsenden KV-Cache; Encoder-Decoder-Aufmerksamkeit
// projiziert K/V aus dem Encoder-Speicher nur beim ersten Schritt.
package layers

import (
	"math"

	"github.com/guillaumekln/CTranslate2/tensor"
)

// Cache holds the growing (self-attention) or once-computed
// (encoder-decoder attention) key/value tensors for one layer.
type Cache struct {
	Keys   *tensor.Storage // [B, h, T, dk] after the first step
	Values *tensor.Storage
}

// MultiHeadAttention projects queries/keys/values, splits into heads,
// and computes scaled dot-product attention.
type MultiHeadAttention struct {
	NumHeads  int
	LayerNorm *LayerNorm
	Query     *Dense
	Key       *Dense
	Value     *Dense
	Out       *Dense
}

// SelfAttention runs pre-norm self-attention at decoding step `step`
// against a growing cache: the normalized single-step input [B,1,d] is
// projected to Q/K/V; for step > 0 the new K/V are concatenated onto
// the cached tensors before attention is computed against the whole
// grown cache (no length mask: by construction all cached positions
// are valid and future positions do not exist yet). The residual adds
// the unnormalized input.
func (m *MultiHeadAttention) SelfAttention(input *tensor.Storage, step int, cache *Cache) (*tensor.Storage, error) {
	normed, err := m.LayerNorm.Forward(input)
	if err != nil {
		return nil, err
	}

	q, err := m.Query.Forward(normed)
	if err != nil {
		return nil, err
	}
	k, err := m.Key.Forward(normed)
	if err != nil {
		return nil, err
	}
	v, err := m.Value.Forward(normed)
	if err != nil {
		return nil, err
	}

	k, err = splitHeads(k, m.NumHeads)
	if err != nil {
		return nil, err
	}
	v, err = splitHeads(v, m.NumHeads)
	if err != nil {
		return nil, err
	}

	if step > 0 && cache.Keys != nil {
		k, err = tensor.Concat(2, cache.Keys, k)
		if err != nil {
			return nil, err
		}
		v, err = tensor.Concat(2, cache.Values, v)
		if err != nil {
			return nil, err
		}
	}
	cache.Keys = k
	cache.Values = v

	qh, err := splitHeads(q, m.NumHeads)
	if err != nil {
		return nil, err
	}
	out, _, err := dotProductAttention(qh, k, v, nil)
	if err != nil {
		return nil, err
	}
	combined, err := combineHeads(out)
	if err != nil {
		return nil, err
	}
	projected, err := m.Out.Forward(combined)
	if err != nil {
		return nil, err
	}
	return residualAdd(input, projected)
}

// EncoderDecoderAttention runs pre-norm cross-attention: K/V are
// projected from memory once (step == 0) and cached; subsequent steps
// reuse them. Q is projected per step from the normalized decoder
// hidden state. The residual adds the unnormalized input. It also
// returns the attention weights of this step, averaged across heads and
// shaped [B, Tq, Tk], for callers that want to surface the source
// alignment (the head-averaged matrix a caller would use for attention
// visualization).
func (m *MultiHeadAttention) EncoderDecoderAttention(input, memory *tensor.Storage, memoryLengths []int32, step int, cache *Cache) (*tensor.Storage, *tensor.Storage, error) {
	if step == 0 || cache.Keys == nil {
		k, err := m.Key.Forward(memory)
		if err != nil {
			return nil, nil, err
		}
		v, err := m.Value.Forward(memory)
		if err != nil {
			return nil, nil, err
		}
		k, err = splitHeads(k, m.NumHeads)
		if err != nil {
			return nil, nil, err
		}
		v, err = splitHeads(v, m.NumHeads)
		if err != nil {
			return nil, nil, err
		}
		cache.Keys = k
		cache.Values = v
	}

	normed, err := m.LayerNorm.Forward(input)
	if err != nil {
		return nil, nil, err
	}
	q, err := m.Query.Forward(normed)
	if err != nil {
		return nil, nil, err
	}
	qh, err := splitHeads(q, m.NumHeads)
	if err != nil {
		return nil, nil, err
	}
	out, attnWeights, err := dotProductAttention(qh, cache.Keys, cache.Values, memoryLengths)
	if err != nil {
		return nil, nil, err
	}
	combined, err := combineHeads(out)
	if err != nil {
		return nil, nil, err
	}
	projected, err := m.Out.Forward(combined)
	if err != nil {
		return nil, nil, err
	}
	residual, err := residualAdd(input, projected)
	if err != nil {
		return nil, nil, err
	}
	return residual, attnWeights, nil
}

func residualAdd(residual, sublayer *tensor.Storage) (*tensor.Storage, error) {
	out := tensor.Zeros(tensor.DTypeF32, residual.Device(), residual.Shape()...)
	if err := tensor.Add(residual, sublayer, out); err != nil {
		return nil, err
	}
	return out, nil
}

// splitHeads reshapes [B,T,d] to [B,T,h,dk] then transposes to [B,h,T,dk].
func splitHeads(x *tensor.Storage, numHeads int) (*tensor.Storage, error) {
	b, t, d := x.Dim(0), x.Dim(1), x.Dim(2)
	dk := d / numHeads
	if err := x.Reshape(tensor.Shape{b, t, numHeads, dk}); err != nil {
		return nil, err
	}
	return tensor.Transpose(x, []int{0, 2, 1, 3})
}

// combineHeads transposes [B,h,T,dk] back to [B,T,h,dk] and flattens to [B,T,d].
func combineHeads(x *tensor.Storage) (*tensor.Storage, error) {
	transposed, err := tensor.Transpose(x, []int{0, 2, 1, 3})
	if err != nil {
		return nil, err
	}
	b, t, h, dk := transposed.Dim(0), transposed.Dim(1), transposed.Dim(2), transposed.Dim(3)
	if err := transposed.Reshape(tensor.Shape{b, t, h * dk}); err != nil {
		return nil, err
	}
	return transposed, nil
}

// dotProductAttention computes scaled dot-product attention for
// [B,h,Tq,dk] queries against [B,h,Tk,dk] keys/values, with an optional
// per-batch length mask applied to the key dimension. Besides the
// attention output it returns the softmax weights averaged across heads,
// shaped [B,Tq,Tk], the form callers use to report a per-hypothesis
// source alignment.
func dotProductAttention(q, k, v *tensor.Storage, lengths []int32) (*tensor.Storage, *tensor.Storage, error) {
	b, h, tq, dk := q.Dim(0), q.Dim(1), q.Dim(2), q.Dim(3)
	tk := k.Dim(2)

	qFlat, err := tensor.View(q, 0, tensor.Shape{b * h, tq, dk})
	if err != nil {
		return nil, nil, err
	}
	kFlat, err := tensor.View(k, 0, tensor.Shape{b * h, tk, dk})
	if err != nil {
		return nil, nil, err
	}
	vFlat, err := tensor.View(v, 0, tensor.Shape{b * h, tk, dk})
	if err != nil {
		return nil, nil, err
	}

	scale := float32(1 / math.Sqrt(float64(dk)))
	scores := tensor.Zeros(tensor.DTypeF32, q.Device(), b*h, tq, tk)
	if err := tensor.BatchGEMM(false, true, scale, qFlat, kFlat, 0, scores); err != nil {
		return nil, nil, err
	}

	if err := scores.Reshape(tensor.Shape{b * h * tq, tk}); err != nil {
		return nil, nil, err
	}

	var rowLengths []int32
	if lengths != nil {
		rowLengths = make([]int32, b*h*tq)
		for bi := 0; bi < b; bi++ {
			for hi := 0; hi < h; hi++ {
				for ti := 0; ti < tq; ti++ {
					rowLengths[(bi*h+hi)*tq+ti] = lengths[bi]
				}
			}
		}
	}

	attn, err := tensor.Softmax(scores, rowLengths)
	if err != nil {
		return nil, nil, err
	}
	if err := attn.Reshape(tensor.Shape{b * h, tq, tk}); err != nil {
		return nil, nil, err
	}

	attnWeights := averageHeads(attn, b, h, tq, tk)

	out := tensor.Zeros(tensor.DTypeF32, q.Device(), b*h, tq, dk)
	if err := tensor.BatchGEMM(false, false, 1, attn, vFlat, 0, out); err != nil {
		return nil, nil, err
	}
	if err := out.Reshape(tensor.Shape{b, h, tq, dk}); err != nil {
		return nil, nil, err
	}
	return out, attnWeights, nil
}

// averageHeads reduces a [B*h,Tq,Tk] attention-weight tensor to
// [B,Tq,Tk] by averaging across heads, the usual way to turn multi-head
// attention into a single alignment matrix for reporting.
func averageHeads(attn *tensor.Storage, b, h, tq, tk int) *tensor.Storage {
	values := attn.Floats()
	per := tq * tk
	out := make([]float32, b*per)
	invH := 1 / float32(h)
	for bi := 0; bi < b; bi++ {
		for hi := 0; hi < h; hi++ {
			src := values[(bi*h+hi)*per : (bi*h+hi+1)*per]
			dst := out[bi*per : (bi+1)*per]
			for i, val := range src {
				dst[i] += val * invH
			}
		}
	}
	result := tensor.Zeros(tensor.DTypeF32, attn.Device(), b, tq, tk)
	result.FromFloats(out)
	return result
}
