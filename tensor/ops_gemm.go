// ops_gemm.go - Allgemeine Matrixmultiplikation
//
// c = alpha * op(a) * op(b) + beta * c, mit Transponier-Flags. Fuer
// (f32,f32)->f32 wird die von gonum exponierte BLAS-Implementierung
// genutzt (blas32.Gemm), der Vendor-BLAS-Konsumptionspunkt. Fuer
// (i8,i8)->i32 und (i16,i16)->i32 gibt es in gonum keinen Integer-GEMM-
// Kernel, daher ist die innere Schleife handgeschrieben (siehe
// DESIGN.md fuer die Rechtfertigung dieser einzigen
// Standardbibliotheks-Ausnahme).
package tensor

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// GEMM computes c = alpha*op(a)*op(b) + beta*c for 2D f32 a, b, c.
// For i8 or i16 operands alpha and beta are not applied: c = op(a)*op(b),
// written as i32. transA/transB request a transposed view of the
// corresponding operand.
func GEMM(transA, transB bool, alpha float32, a, b *Storage, beta float32, c *Storage) error {
	switch {
	case a.dtype == DTypeF32 && b.dtype == DTypeF32:
		return gemmF32(transA, transB, alpha, a, b, beta, c)
	case a.dtype == DTypeI8 && b.dtype == DTypeI8:
		return gemmInt(transA, transB, a, b, c)
	case a.dtype == DTypeI16 && b.dtype == DTypeI16:
		return gemmInt(transA, transB, a, b, c)
	default:
		return unsupportedOp("gemm", a.device, a.dtype)
	}
}

func gemmDims(transA, transB bool, a, b *Storage) (m, k, n int, err error) {
	ar, ac := a.Dim(0), a.Dim(1)
	br, bc := b.Dim(0), b.Dim(1)
	if transA {
		ar, ac = ac, ar
	}
	if transB {
		br, bc = bc, br
	}
	if ac != br {
		return 0, 0, 0, preconditionf("gemm: inner dimensions mismatch %d vs %d", ac, br)
	}
	return ar, ac, bc, nil
}

func gemmF32(transA, transB bool, alpha float32, a, b *Storage, beta float32, c *Storage) error {
	m, k, n, err := gemmDims(transA, transB, a, b)
	if err != nil {
		return err
	}

	av, bv := a.Floats(), b.Floats()
	ga := blas32.General{Rows: a.Dim(0), Cols: a.Dim(1), Stride: a.Dim(1), Data: av}
	gb := blas32.General{Rows: b.Dim(0), Cols: b.Dim(1), Stride: b.Dim(1), Data: bv}

	c.dtype = DTypeF32
	if c.NumElements() != m*n {
		c.Resize(Shape{m, n})
	}
	cv := c.Floats()
	if beta == 0 {
		for i := range cv {
			cv[i] = 0
		}
	} else {
		for i := range cv {
			cv[i] *= beta
		}
	}
	gc := blas32.General{Rows: m, Cols: n, Stride: n, Data: cv}

	ta, tb := blas.NoTrans, blas.NoTrans
	if transA {
		ta = blas.Trans
	}
	if transB {
		tb = blas.Trans
	}

	blas32.Implementation().Sgemm(ta, tb, m, n, k, alpha, ga.Data, ga.Stride, gb.Data, gb.Stride, 1, gc.Data, gc.Stride)
	c.FromFloats(cv)
	return nil
}

func gemmInt(transA, transB bool, a, b *Storage, c *Storage) error {
	m, k, n, err := gemmDims(transA, transB, a, b)
	if err != nil {
		return err
	}

	av, bv := a.Ints(), b.Ints()
	aAt := func(i, j int) int32 {
		if transA {
			return av[j*a.Dim(1)+i]
		}
		return av[i*a.Dim(1)+j]
	}
	bAt := func(i, j int) int32 {
		if transB {
			return bv[j*b.Dim(1)+i]
		}
		return bv[i*b.Dim(1)+j]
	}

	out := make([]int32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum int32
			for l := 0; l < k; l++ {
				sum += aAt(i, l) * bAt(l, j)
			}
			out[i*n+j] = sum
		}
	}

	c.dtype = DTypeI32
	c.Resize(Shape{m, n})
	c.FromInts(out)
	return nil
}

// BatchGEMM iterates GEMM over the leading batch dimension of
// rank-3 a/b/c tensors shaped [batch, rows, cols].
func BatchGEMM(transA, transB bool, alpha float32, a, b *Storage, beta float32, c *Storage) error {
	if a.Rank() != 3 || b.Rank() != 3 {
		return preconditionf("batch_gemm: expected rank-3 operands, got %v and %v", a.shape, b.shape)
	}
	batch := a.Dim(0)
	if b.Dim(0) != batch {
		return preconditionf("batch_gemm: batch mismatch %d vs %d", batch, b.Dim(0))
	}

	m, _, n, err := gemmDims(transA, transB, mustView2D(a), mustView2D(b))
	if err != nil {
		return err
	}
	c.Resize(Shape{batch, m, n})

	for i := 0; i < batch; i++ {
		ai, err := View(a, i*a.Dim(1)*a.Dim(2), Shape{a.Dim(1), a.Dim(2)})
		if err != nil {
			return err
		}
		bi, err := View(b, i*b.Dim(1)*b.Dim(2), Shape{b.Dim(1), b.Dim(2)})
		if err != nil {
			return err
		}
		ci, err := View(c, i*m*n, Shape{m, n})
		if err != nil {
			return err
		}
		if err := GEMM(transA, transB, alpha, ai, bi, beta, ci); err != nil {
			return err
		}
		copy(c.data[i*m*n*c.dtype.Size():(i+1)*m*n*c.dtype.Size()], ci.data)
	}
	return nil
}

func mustView2D(s *Storage) *Storage {
	v, _ := View(s, 0, Shape{s.Dim(1), s.Dim(2)})
	return v
}
