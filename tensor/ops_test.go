package tensor

import (
	"math"
	"testing"
)

func TestSoftmaxRowsSumToOneAndNonNegative(t *testing.T) {
	x := FromFloats(Device{Kind: CPU}, []float32{1, 2, 3, -1, 0, 5}, 2, 3)
	out, err := Softmax(x, nil)
	if err != nil {
		t.Fatalf("softmax: %v", err)
	}
	v := out.Floats()
	for row := 0; row < 2; row++ {
		var sum float32
		for j := 0; j < 3; j++ {
			val := v[row*3+j]
			if val < 0 {
				t.Fatalf("softmax produced negative entry %v", val)
			}
			sum += val
		}
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Fatalf("row %d sums to %v, want ~1", row, sum)
		}
	}
}

func TestSoftmaxMaskedPositionsSumToZero(t *testing.T) {
	x := FromFloats(Device{Kind: CPU}, []float32{1, 2, 3, 4}, 1, 4)
	out, err := Softmax(x, []int32{2})
	if err != nil {
		t.Fatalf("softmax: %v", err)
	}
	v := out.Floats()
	var maskedSum float32
	for _, val := range v[2:] {
		maskedSum += val
	}
	if maskedSum != 0 {
		t.Fatalf("masked positions sum to %v, want exactly 0", maskedSum)
	}
}

func TestLayerNormNormalizesBeforeScale(t *testing.T) {
	x := FromFloats(Device{Kind: CPU}, []float32{2, 4, 6, 8}, 1, 4)
	gamma := FromFloats(Device{Kind: CPU}, []float32{1, 1, 1, 1}, 4)
	beta := FromFloats(Device{Kind: CPU}, []float32{0, 0, 0, 0}, 4)

	out, err := LayerNorm(x, gamma, beta, 1e-5)
	if err != nil {
		t.Fatalf("layer_norm: %v", err)
	}
	v := out.Floats()

	var mean float32
	for _, val := range v {
		mean += val
	}
	mean /= float32(len(v))
	if math.Abs(float64(mean)) > 1e-4 {
		t.Fatalf("mean = %v, want ~0", mean)
	}

	var variance float32
	for _, val := range v {
		d := val - mean
		variance += d * d
	}
	variance /= float32(len(v))
	if math.Abs(float64(variance-1)) > 1e-3 {
		t.Fatalf("variance = %v, want ~1", variance)
	}
}

func TestQuantizeDequantizeRoundTrip(t *testing.T) {
	w := FromFloats(Device{Kind: CPU}, []float32{0.5, -0.25, 0.9, 0.1}, 1, 4)
	qw, scale, err := QuantizeBatch(w, DTypeI8)
	if err != nil {
		t.Fatalf("quantize_batch: %v", err)
	}

	maxAbs := float32(0)
	for _, v := range w.Floats() {
		if abs32(v) > maxAbs {
			maxAbs = abs32(v)
		}
	}
	tolerance := maxAbs / 127

	rowScale := scale.Floats()[0]
	unq, err := Unquantize(qw, rowScale)
	if err != nil {
		t.Fatalf("unquantize: %v", err)
	}
	orig := w.Floats()
	got := unq.Floats()
	for i := range orig {
		if math.Abs(float64(got[i]-orig[i])) > float64(tolerance)+1e-6 {
			t.Fatalf("element %d: got %v, want ~%v (tolerance %v)", i, got[i], orig[i], tolerance)
		}
	}
}

func TestUnquantizeRowsInvertsQuantizeBatchPerRow(t *testing.T) {
	w := FromFloats(Device{Kind: CPU}, []float32{0.5, -0.25, 0.9, 0.1}, 2, 2)
	qw, scales, err := QuantizeBatch(w, DTypeI8)
	if err != nil {
		t.Fatalf("quantize_batch: %v", err)
	}

	unq, err := UnquantizeRows(qw, scales)
	if err != nil {
		t.Fatalf("unquantize_rows: %v", err)
	}

	orig := w.Floats()
	got := unq.Floats()
	for row := 0; row < 2; row++ {
		rowVals := orig[row*2 : row*2+2]
		maxAbs := float32(0)
		for _, v := range rowVals {
			if abs32(v) > maxAbs {
				maxAbs = abs32(v)
			}
		}
		tolerance := maxAbs/127 + 1e-6
		for j := 0; j < 2; j++ {
			i := row*2 + j
			if math.Abs(float64(got[i]-orig[i])) > float64(tolerance) {
				t.Fatalf("element %d: got %v, want ~%v (tolerance %v)", i, got[i], orig[i], tolerance)
			}
		}
	}
}

func TestUnquantizeRowsRejectsMismatchedScaleCount(t *testing.T) {
	qw := Zeros(DTypeI8, Device{Kind: CPU}, 2, 3)
	badScales := FromFloats(Device{Kind: CPU}, []float32{1}, 1)
	if _, err := UnquantizeRows(qw, badScales); err == nil {
		t.Fatal("UnquantizeRows() with mismatched scale count: want error, got nil")
	}
}

func TestMultinomialWithoutReplacementIsDistinct(t *testing.T) {
	p := FromFloats(Device{Kind: CPU}, []float32{0.1, 0.2, 0.3, 0.4}, 1, 4)
	gen := NewGenerator()
	out, err := Multinomial(p, 3, false, gen)
	if err != nil {
		t.Fatalf("multinomial: %v", err)
	}
	ids := out.Ints()
	seen := map[int32]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate index %d sampled without replacement: %v", id, ids)
		}
		seen[id] = true
	}
}

func TestConcatOfSplitIsIdentity(t *testing.T) {
	s := FromFloats(Device{Kind: CPU}, []float32{1, 2, 3, 4, 5, 6}, 3, 2)
	parts, err := Split(s, 0, []int{1, 2}, false)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	joined, err := Concat(0, parts...)
	if err != nil {
		t.Fatalf("concat: %v", err)
	}
	got, want := joined.Floats(), s.Floats()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("concat(split(x)) != x at %d: got %v, want %v", i, got[i], want[i])
		}
	}
}
