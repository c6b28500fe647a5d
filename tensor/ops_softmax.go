// ops_softmax.go - Numerisch stabiler Softmax und LayerNorm
package tensor

import "math"

// Softmax applies a numerically stable softmax (subtract row max) to
// each row of a rank-2 input. When lengths is non-nil, positions >=
// lengths[row] are zeroed before renormalization, so masked positions
// sum to exactly 0.
func Softmax(x *Storage, lengths []int32) (*Storage, error) {
	if x.Rank() != 2 {
		return nil, preconditionf("softmax: expected rank-2 input, got %v", x.shape)
	}
	b, n := x.Dim(0), x.Dim(1)
	v := x.Floats()
	out := make([]float32, len(v))

	for i := 0; i < b; i++ {
		row := v[i*n : (i+1)*n]
		length := n
		if lengths != nil {
			length = int(lengths[i])
		}

		maxVal := float32(math.Inf(-1))
		for j := 0; j < length; j++ {
			if row[j] > maxVal {
				maxVal = row[j]
			}
		}

		sum := float32(0)
		dst := out[i*n : (i+1)*n]
		for j := 0; j < n; j++ {
			if j >= length {
				dst[j] = 0
				continue
			}
			e := float32(math.Exp(float64(row[j] - maxVal)))
			dst[j] = e
			sum += e
		}
		if sum > 0 {
			for j := 0; j < length; j++ {
				dst[j] /= sum
			}
		}
	}

	result := Zeros(DTypeF32, x.device, x.shape...)
	result.FromFloats(out)
	return result, nil
}

// LayerNorm normalizes along the last axis: (x-mean)/stddev * gamma + beta.
func LayerNorm(x, gamma, beta *Storage, eps float32) (*Storage, error) {
	if x.Rank() < 1 {
		return nil, preconditionf("layer_norm: input must have rank >= 1")
	}
	n := x.Dim(-1)
	v := x.Floats()
	g := gamma.Floats()
	bb := beta.Floats()
	if len(g) != n || len(bb) != n {
		return nil, preconditionf("layer_norm: gamma/beta must have length %d", n)
	}

	rows := len(v) / n
	out := make([]float32, len(v))
	for i := 0; i < rows; i++ {
		row := v[i*n : (i+1)*n]
		var mean float32
		for _, x := range row {
			mean += x
		}
		mean /= float32(n)

		var variance float32
		for _, x := range row {
			d := x - mean
			variance += d * d
		}
		variance /= float32(n)

		stddev := float32(math.Sqrt(float64(variance) + float64(eps)))
		dst := out[i*n : (i+1)*n]
		for j, x := range row {
			dst[j] = (x-mean)/stddev*g[j] + bb[j]
		}
	}

	result := Zeros(DTypeF32, x.device, x.shape...)
	result.FromFloats(out)
	return result, nil
}
