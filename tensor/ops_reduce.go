// ops_reduce.go - Reduktionen ueber einen zusammenhaengenden Bereich
package tensor

import "gonum.org/v1/gonum/floats"

// Sum returns the sum over a contiguous float32 range.
func Sum(s *Storage) (float32, error) {
	if !s.dtype.IsFloat() {
		return 0, unsupportedOp("sum", s.device, s.dtype)
	}
	return float32(floats.Sum(toF64(s.Floats()))), nil
}

// Mean returns the arithmetic mean over a contiguous float32 range.
func Mean(s *Storage) (float32, error) {
	if !s.dtype.IsFloat() {
		return 0, unsupportedOp("mean", s.device, s.dtype)
	}
	v := s.Floats()
	if len(v) == 0 {
		return 0, preconditionf("mean: empty range")
	}
	sum, _ := Sum(s)
	return sum / float32(len(v)), nil
}

// Max returns the maximum value over a contiguous float32 range.
func Max(s *Storage) (float32, error) {
	if !s.dtype.IsFloat() {
		return 0, unsupportedOp("max", s.device, s.dtype)
	}
	v := s.Floats()
	if len(v) == 0 {
		return 0, preconditionf("max: empty range")
	}
	return float32(floats.Max(toF64(v))), nil
}

// Amax returns the maximum absolute value over a contiguous float32 range.
func Amax(s *Storage) (float32, error) {
	v := s.Floats()
	if len(v) == 0 {
		return 0, preconditionf("amax: empty range")
	}
	max := float32(0)
	for _, x := range v {
		if a := abs32(x); a > max {
			max = a
		}
	}
	return max, nil
}

// Argmax returns the index of the maximum value over a contiguous
// float32 range; ties resolve to the lowest index (first match wins).
func Argmax(s *Storage) (int, error) {
	if !s.dtype.IsFloat() {
		return 0, unsupportedOp("argmax", s.device, s.dtype)
	}
	v := s.Floats()
	if len(v) == 0 {
		return 0, preconditionf("argmax: empty range")
	}
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best, nil
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func toF64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
