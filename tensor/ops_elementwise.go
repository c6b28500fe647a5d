// ops_elementwise.go - Fuell-, Kopier- und elementweise Operationen
//
// Die Operationen pruefen nur den DType ihrer Operanden, nicht das Geraet.
// Ausser Copy nehmen alle nur Float-Typen an; Integer-Operanden liefern
// ErrUnsupportedOp. Unaere Operationen laufen ueber
// gonum.org/v1/gonum/floats (floats.Apply), binaere und
// Broadcast-Operationen sind einfache Schleifen.
package tensor

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Fill setzt alle Elemente von s auf v.
func Fill(s *Storage, v float32) error {
	if !s.dtype.IsFloat() {
		return unsupportedOp("fill", s.device, s.dtype)
	}
	data := s.Floats()
	for i := range data {
		data[i] = v
	}
	s.FromFloats(data)
	return nil
}

// StridedFill setzt jedes step-te Element beginnend bei offset auf v.
func StridedFill(s *Storage, v float32, offset, step int) error {
	if !s.dtype.IsFloat() {
		return unsupportedOp("strided_fill", s.device, s.dtype)
	}
	data := s.Floats()
	for i := offset; i < len(data); i += step {
		data[i] = v
	}
	s.FromFloats(data)
	return nil
}

// Copy kopiert Elemente von src nach dst (erfordert gleiche Form und DType).
func Copy(dst, src *Storage) error {
	if dst.dtype != src.dtype {
		return preconditionf("copy: dtype mismatch %s vs %s", dst.dtype, src.dtype)
	}
	if !dst.shape.Equal(src.shape) {
		return preconditionf("copy: shape mismatch %v vs %v", dst.shape, src.shape)
	}
	copy(dst.data, src.Bytes())
	return nil
}

func binaryFloatOp(name string, a, b, out *Storage, f func(x, y float32) float32) error {
	if !a.dtype.IsFloat() || a.dtype != b.dtype {
		return unsupportedOp(name, a.device, a.dtype)
	}
	av, bv := a.Floats(), b.Floats()
	if len(av) != len(bv) {
		return preconditionf("%s: element count mismatch %d vs %d", name, len(av), len(bv))
	}
	out.Resize(a.shape)
	out.dtype = a.dtype
	res := make([]float32, len(av))
	for i := range av {
		res[i] = f(av[i], bv[i])
	}
	out.FromFloats(res)
	return nil
}

func Add(a, b, out *Storage) error { return binaryFloatOp("add", a, b, out, func(x, y float32) float32 { return x + y }) }
func Sub(a, b, out *Storage) error { return binaryFloatOp("sub", a, b, out, func(x, y float32) float32 { return x - y }) }
func Mul(a, b, out *Storage) error { return binaryFloatOp("mul", a, b, out, func(x, y float32) float32 { return x * y }) }

func unaryFloatOp(name string, a, out *Storage, f func(float64) float64) error {
	if !a.dtype.IsFloat() {
		return unsupportedOp(name, a.device, a.dtype)
	}
	av := a.Floats()
	res := make([]float32, len(av))
	f64 := make([]float64, len(av))
	for i, v := range av {
		f64[i] = float64(v)
	}
	floats.Apply(func(x float64) float64 { return f(x) }, f64)
	for i, v := range f64 {
		res[i] = float32(v)
	}
	out.dtype = a.dtype
	out.Resize(a.shape)
	out.FromFloats(res)
	return nil
}

func Inv(a, out *Storage) error { return unaryFloatOp("inv", a, out, func(x float64) float64 { return 1 / x }) }
func Exp(a, out *Storage) error { return unaryFloatOp("exp", a, out, math.Exp) }
func Log(a, out *Storage) error { return unaryFloatOp("log", a, out, math.Log) }
func Sin(a, out *Storage) error { return unaryFloatOp("sin", a, out, math.Sin) }
func Cos(a, out *Storage) error { return unaryFloatOp("cos", a, out, math.Cos) }
func Tanh(a, out *Storage) error { return unaryFloatOp("tanh", a, out, math.Tanh) }
func Relu(a, out *Storage) error {
	return unaryFloatOp("relu", a, out, func(x float64) float64 { return math.Max(0, x) })
}

// Pow raises every element of a to exponent p.
func Pow(a *Storage, p float64, out *Storage) error {
	return unaryFloatOp("pow", a, out, func(x float64) float64 { return math.Pow(x, p) })
}

// AddBatchBroadcastRows adds a row vector bias[D] to every row of
// y[N, D] in place (the Dense bias-add pattern).
func AddBatchBroadcastRows(bias, y *Storage) error {
	if !y.dtype.IsFloat() {
		return unsupportedOp("add_batch_broadcast_rows", y.device, y.dtype)
	}
	d := bias.Dim(0)
	if y.Dim(-1) != d {
		return preconditionf("add_batch_broadcast_rows: bias length %d does not match last dim %d", d, y.Dim(-1))
	}
	bv := bias.Floats()
	yv := y.Floats()
	for i := 0; i < len(yv); i += d {
		for j := 0; j < d; j++ {
			yv[i+j] += bv[j]
		}
	}
	y.FromFloats(yv)
	return nil
}

// AddBatchBroadcast computes out[b*n+i] = a[b] + b2[b*n+i] for b in
// [0,B), i in [0,N): a broadcast along the last dimension of a batch.
func AddBatchBroadcast(a, b2, out *Storage) error {
	return batchBroadcastOp("add_batch_broadcast", a, b2, out, func(x, y float32) float32 { return x + y })
}

// MulBatchBroadcast is the multiplicative analogue of AddBatchBroadcast.
func MulBatchBroadcast(a, b2, out *Storage) error {
	return batchBroadcastOp("mul_batch_broadcast", a, b2, out, func(x, y float32) float32 { return x * y })
}

func batchBroadcastOp(name string, a, b2, out *Storage, f func(x, y float32) float32) error {
	if !a.dtype.IsFloat() || a.dtype != b2.dtype {
		return unsupportedOp(name, a.device, a.dtype)
	}
	av := a.Floats()
	bv := b2.Floats()
	batch := len(av)
	if batch == 0 || len(bv)%batch != 0 {
		return preconditionf("%s: %d does not evenly divide batch length %d", name, batch, len(bv))
	}
	n := len(bv) / batch
	res := make([]float32, len(bv))
	for i := 0; i < batch; i++ {
		for j := 0; j < n; j++ {
			res[i*n+j] = f(av[i], bv[i*n+j])
		}
	}
	out.dtype = b2.dtype
	out.Resize(b2.shape)
	out.FromFloats(res)
	return nil
}

// MulAndAddBatchBroadcast computes the fused y = w*x + b across a
// batch-broadcast last dimension: w and b are per-batch scalars, x is
// [B, N].
func MulAndAddBatchBroadcast(w, x, b, out *Storage) error {
	if !w.dtype.IsFloat() {
		return unsupportedOp("mul_and_add_batch_broadcast", w.device, w.dtype)
	}
	wv, xv, bv := w.Floats(), x.Floats(), b.Floats()
	batch := len(wv)
	if batch == 0 || len(xv)%batch != 0 || len(bv) != batch {
		return preconditionf("mul_and_add_batch_broadcast: shape mismatch (w=%d, x=%d, b=%d)", len(wv), len(xv), len(bv))
	}
	n := len(xv) / batch
	res := make([]float32, len(xv))
	for i := 0; i < batch; i++ {
		for j := 0; j < n; j++ {
			res[i*n+j] = wv[i]*xv[i*n+j] + bv[i]
		}
	}
	out.dtype = x.dtype
	out.Resize(x.shape)
	out.FromFloats(res)
	return nil
}
