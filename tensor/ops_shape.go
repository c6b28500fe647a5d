// ops_shape.go - Transpose, Concat, Split, Squeeze/Unsqueeze, Gather
package tensor

// Transpose permutes the axes of s according to perm (len(perm) ==
// s.Rank(), a permutation of 0..rank-1). Supports rank 2, 3, and 4.
func Transpose(s *Storage, perm []int) (*Storage, error) {
	if len(perm) != s.Rank() {
		return nil, preconditionf("transpose: permutation length %d does not match rank %d", len(perm), s.Rank())
	}
	if s.Rank() < 2 || s.Rank() > 4 {
		return nil, preconditionf("transpose: unsupported rank %d", s.Rank())
	}

	oldShape := s.shape
	oldStrides := s.Strides()
	newShape := make(Shape, len(oldShape))
	for i, p := range perm {
		newShape[i] = oldShape[p]
	}

	out := Zeros(s.dtype, s.device, newShape...)
	n := s.NumElements()
	idx := make([]int, s.Rank())

	switch s.dtype {
	case DTypeF32, DTypeF16:
		src := s.Floats()
		dst := make([]float32, n)
		newStrides := RowMajorStrides(newShape)
		for linear := 0; linear < n; linear++ {
			rem := linear
			for d := 0; d < s.Rank(); d++ {
				idx[d] = rem / oldStrides[d]
				rem %= oldStrides[d]
			}
			dstOffset := 0
			for i, p := range perm {
				dstOffset += idx[p] * newStrides[i]
			}
			dst[dstOffset] = src[linear]
		}
		out.FromFloats(dst)
	default:
		src := s.Ints()
		dst := make([]int32, n)
		newStrides := RowMajorStrides(newShape)
		for linear := 0; linear < n; linear++ {
			rem := linear
			for d := 0; d < s.Rank(); d++ {
				idx[d] = rem / oldStrides[d]
				rem %= oldStrides[d]
			}
			dstOffset := 0
			for i, p := range perm {
				dstOffset += idx[p] * newStrides[i]
			}
			dst[dstOffset] = src[linear]
		}
		writeInts(out, dst)
	}

	return out, nil
}

// Concat joins tensors along dim. All operands must agree on every
// other dimension and on dtype.
func Concat(dim int, operands ...*Storage) (*Storage, error) {
	if len(operands) == 0 {
		return nil, preconditionf("concat: no operands")
	}
	first := operands[0]
	outShape := first.shape.Clone()
	total := 0
	for _, op := range operands {
		if op.dtype != first.dtype || op.Rank() != first.Rank() {
			return nil, preconditionf("concat: incompatible operand %v", op.shape)
		}
		for d := range op.shape {
			if d != dim && op.shape[d] != first.shape[d] {
				return nil, preconditionf("concat: dim %d mismatch %d vs %d", d, op.shape[d], first.shape[d])
			}
		}
		total += op.Dim(dim)
	}
	outShape[dim] = total

	out := Zeros(first.dtype, first.device, outShape...)
	outStrides := RowMajorStrides(outShape)
	offset := 0
	for _, op := range operands {
		copyIntoDim(out, op, dim, offset, outStrides)
		offset += op.Dim(dim)
	}
	return out, nil
}

func copyIntoDim(dst, src *Storage, dim, offset int, dstStrides []int) {
	srcStrides := src.Strides()
	n := src.NumElements()
	idx := make([]int, src.Rank())
	elemSize := src.dtype.Size()

	for linear := 0; linear < n; linear++ {
		rem := linear
		for d := 0; d < src.Rank(); d++ {
			idx[d] = rem / srcStrides[d]
			rem %= srcStrides[d]
		}
		dstOffset := 0
		for d := range idx {
			v := idx[d]
			if d == dim {
				v += offset
			}
			dstOffset += v * dstStrides[d]
		}
		copy(dst.data[dstOffset*elemSize:], src.data[linear*elemSize:(linear+1)*elemSize])
	}
}

// Split divides s into len(sizes) tensors along dim, sizes summing to
// s.Dim(dim). When noCopy is true and dim is 0, the splits are aliased
// views rather than copies.
func Split(s *Storage, dim int, sizes []int, noCopy bool) ([]*Storage, error) {
	total := 0
	for _, n := range sizes {
		total += n
	}
	if total != s.Dim(dim) {
		return nil, preconditionf("split: sizes sum to %d, expected %d", total, s.Dim(dim))
	}

	if noCopy && dim == 0 {
		out := make([]*Storage, len(sizes))
		offset := 0
		stride := 1
		for _, d := range s.shape[1:] {
			stride *= d
		}
		for i, n := range sizes {
			shape := s.shape.Clone()
			shape[0] = n
			v, err := View(s, offset*stride, shape)
			if err != nil {
				return nil, err
			}
			out[i] = v
			offset += n
		}
		return out, nil
	}

	out := make([]*Storage, len(sizes))
	offset := 0
	for i, n := range sizes {
		shape := s.shape.Clone()
		shape[dim] = n
		dst := Zeros(s.dtype, s.device, shape...)
		copyFromDim(dst, s, dim, offset)
		out[i] = dst
		offset += n
	}
	return out, nil
}

func copyFromDim(dst, src *Storage, dim, offset int) {
	dstStrides := dst.Strides()
	n := dst.NumElements()
	idx := make([]int, dst.Rank())
	srcStrides := src.Strides()
	elemSize := src.dtype.Size()

	for linear := 0; linear < n; linear++ {
		rem := linear
		for d := 0; d < dst.Rank(); d++ {
			idx[d] = rem / dstStrides[d]
			rem %= dstStrides[d]
		}
		srcOffset := 0
		for d := range idx {
			v := idx[d]
			if d == dim {
				v += offset
			}
			srcOffset += v * srcStrides[d]
		}
		copy(dst.data[linear*elemSize:(linear+1)*elemSize], src.data[srcOffset*elemSize:])
	}
}

// Squeeze removes unit-size axes from shape. With no axes given, all
// unit axes are removed.
func Squeeze(s *Storage, axes ...int) (*Storage, error) {
	var newShape Shape
	if len(axes) == 0 {
		for _, d := range s.shape {
			if d != 1 {
				newShape = append(newShape, d)
			}
		}
	} else {
		remove := make(map[int]bool)
		for _, a := range axes {
			remove[a] = true
		}
		for i, d := range s.shape {
			if remove[i] {
				if d != 1 {
					return nil, preconditionf("squeeze: axis %d has size %d, not 1", i, d)
				}
				continue
			}
			newShape = append(newShape, d)
		}
	}
	out, err := View(s, 0, newShape)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Unsqueeze inserts a unit axis at position axis.
func Unsqueeze(s *Storage, axis int) (*Storage, error) {
	if axis < 0 || axis > s.Rank() {
		return nil, preconditionf("unsqueeze: axis %d out of range for rank %d", axis, s.Rank())
	}
	newShape := make(Shape, 0, s.Rank()+1)
	newShape = append(newShape, s.shape[:axis]...)
	newShape = append(newShape, 1)
	newShape = append(newShape, s.shape[axis:]...)
	return View(s, 0, newShape)
}

// Gather selects rows of table along axis 0 by integer indices.
func Gather(table *Storage, indices []int32) (*Storage, error) {
	if table.Rank() < 1 {
		return nil, preconditionf("gather: table must have rank >= 1")
	}
	rowShape := table.shape[1:]
	rowLen := rowShape.NumElements()
	outShape := append(Shape{len(indices)}, rowShape...)
	out := Zeros(table.dtype, table.device, outShape...)
	elemSize := table.dtype.Size()

	for i, idx := range indices {
		if int(idx) < 0 || int(idx) >= table.Dim(0) {
			return nil, preconditionf("gather: index %d out of range for dim 0 (size %d)", idx, table.Dim(0))
		}
		src := table.data[int(idx)*rowLen*elemSize : (int(idx)+1)*rowLen*elemSize]
		copy(out.data[i*rowLen*elemSize:(i+1)*rowLen*elemSize], src)
	}
	return out, nil
}
