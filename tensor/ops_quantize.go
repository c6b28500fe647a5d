// ops_quantize.go - Quantisierung/Dequantisierung fuer i8/i16-Gewichte
//
// Jedes quantisierte Gewicht hat eine Begleit-Skala; fuer i8-Matrixmultiplikation
// wird die Eingabe pro Zeile quantisiert und das i32-Ergebnis mit dem
// Aeusseren Produkt der Eingabe- und Gewichtsskalen reskaliert.
package tensor

import "math"

// Quantize converts a float32 storage to an integer storage using a
// single scalar scale: int = round(float * scale).
func Quantize(in *Storage, scale float32, dtype DType) (*Storage, error) {
	if !in.dtype.IsFloat() || !dtype.IsQuantized() {
		return nil, unsupportedOp("quantize", in.device, dtype)
	}
	v := in.Floats()
	out := Zeros(dtype, in.device, in.shape...)
	ints := make([]int32, len(v))
	for i, f := range v {
		ints[i] = clampForDType(int32(math.Round(float64(f*scale))), dtype)
	}
	writeInts(out, ints)
	return out, nil
}

// Unquantize converts an integer storage back to float32: float = int /
// scale, inverting Quantize's int = round(float * scale).
func Unquantize(in *Storage, scale float32) (*Storage, error) {
	if !in.dtype.IsQuantized() && in.dtype != DTypeI32 {
		return nil, unsupportedOp("unquantize", in.device, in.dtype)
	}
	ints := in.Ints()
	out := make([]float32, len(ints))
	for i, n := range ints {
		out[i] = float32(n) / scale
	}
	result := Zeros(DTypeF32, in.device, in.shape...)
	result.FromFloats(out)
	return result, nil
}

// UnquantizeRows dequantizes a rank-2 integer storage using a per-row
// scale, one scale per row of in's first dimension: row i's values are
// divided by rowScales[i]. This is the layout QuantizeBatch and a
// quantized Dense weight's companion `_scale` tensor use (one scale per
// output row), unlike Unquantize's single scalar scale.
func UnquantizeRows(in *Storage, rowScales *Storage) (*Storage, error) {
	if !in.dtype.IsQuantized() && in.dtype != DTypeI32 {
		return nil, unsupportedOp("unquantize_rows", in.device, in.dtype)
	}
	if in.Rank() != 2 {
		return nil, preconditionf("unquantize_rows: expected rank-2 input, got %v", in.shape)
	}
	rows, cols := in.Dim(0), in.Dim(1)
	scales := rowScales.Floats()
	if len(scales) != rows {
		return nil, preconditionf("unquantize_rows: scale count %d does not match row count %d", len(scales), rows)
	}
	ints := in.Ints()
	out := make([]float32, len(ints))
	for i := 0; i < rows; i++ {
		scale := scales[i]
		rowOut := out[i*cols : (i+1)*cols]
		rowIn := ints[i*cols : (i+1)*cols]
		for j, n := range rowIn {
			rowOut[j] = float32(n) / scale
		}
	}
	result := Zeros(DTypeF32, in.device, rows, cols)
	result.FromFloats(out)
	return result, nil
}

// QuantizeBatch quantizes x[B,D] row by row, choosing
// scale = limit / max(|row|) per row, with limit 127 for i8 and 32767
// for i16 (0 rows get scale 1 to avoid
// division by zero). Returns the quantized rows and the per-row scales.
func QuantizeBatch(x *Storage, dtype DType) (qx *Storage, scales *Storage, err error) {
	if x.Rank() != 2 {
		return nil, nil, preconditionf("quantize_batch: expected rank-2 input, got %v", x.shape)
	}
	b, d := x.Dim(0), x.Dim(1)
	v := x.Floats()

	rowScales := make([]float32, b)
	ints := make([]int32, b*d)
	limit := int32(127)
	if dtype == DTypeI16 {
		limit = 32767
	}

	for i := 0; i < b; i++ {
		row := v[i*d : (i+1)*d]
		maxAbs := float32(0)
		for _, f := range row {
			if a := abs32(f); a > maxAbs {
				maxAbs = a
			}
		}
		scale := float32(1)
		if maxAbs > 0 {
			scale = float32(limit) / maxAbs
		}
		rowScales[i] = scale
		for j, f := range row {
			ints[i*d+j] = clampForDType(int32(math.Round(float64(f*scale))), dtype)
		}
	}

	qx = Zeros(dtype, x.device, b, d)
	writeInts(qx, ints)
	scales = Zeros(DTypeF32, x.device, b)
	scales.FromFloats(rowScales)
	return qx, scales, nil
}

// RescaleOutput rescales an i32 GEMM result y[B,D] produced from
// per-row-quantized inputs and per-column-quantized weights, using the
// outer product of inputScales[B] and weightScales[D].
func RescaleOutput(y *Storage, inputScales, weightScales *Storage) (*Storage, error) {
	if y.Rank() != 2 {
		return nil, preconditionf("rescale_output: expected rank-2 input, got %v", y.shape)
	}
	b, d := y.Dim(0), y.Dim(1)
	ints := y.Ints()
	is := inputScales.Floats()
	ws := weightScales.Floats()
	if len(is) != b || len(ws) != d {
		return nil, preconditionf("rescale_output: scale shapes mismatch (want %d/%d got %d/%d)", b, d, len(is), len(ws))
	}

	out := make([]float32, b*d)
	for i := 0; i < b; i++ {
		for j := 0; j < d; j++ {
			out[i*d+j] = float32(ints[i*d+j]) / (is[i] * ws[j])
		}
	}
	result := Zeros(DTypeF32, y.device, b, d)
	result.FromFloats(out)
	return result, nil
}

func clampForDType(v int32, dtype DType) int32 {
	var lo, hi int32
	switch dtype {
	case DTypeI8:
		lo, hi = -128, 127
	case DTypeI16:
		lo, hi = -32768, 32767
	default:
		return v
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func writeInts(s *Storage, ints []int32) {
	switch s.dtype {
	case DTypeI8:
		for i, n := range ints {
			s.data[i] = byte(int8(n))
		}
	case DTypeI16:
		for i, n := range ints {
			s.data[i*2] = byte(uint16(int16(n)))
			s.data[i*2+1] = byte(uint16(int16(n)) >> 8)
		}
	case DTypeI32:
		s.FromInts(ints)
	}
}
