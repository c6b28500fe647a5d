package model

import (
	"errors"
	"testing"

	"github.com/guillaumekln/CTranslate2/tensor"
)

func TestFinalizeRejectsUnknownComputeType(t *testing.T) {
	idx := NewWeightIndex(tensor.Device{Kind: tensor.CPU})
	_, err := Finalize(idx, ComputeType("bogus"), tensor.Device{Kind: tensor.CPU})
	var unknown *ErrUnknownComputeType
	if err == nil {
		t.Fatal("Finalize() with unknown compute type: want error, got nil")
	}
	if !errors.As(err, &unknown) {
		t.Fatalf("Finalize() error = %v, want *ErrUnknownComputeType", err)
	}
}

func TestFinalizeDefaultResolvesToFloat(t *testing.T) {
	idx := NewWeightIndex(tensor.Device{Kind: tensor.CPU})
	idx.Set("encoder/layer_0/feed_forward/linear_0/weight",
		tensor.FromFloats(tensor.Device{Kind: tensor.CPU}, []float32{1, 2}, 1, 2))

	effective, err := Finalize(idx, ComputeTypeDefault, tensor.Device{Kind: tensor.CPU})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if effective != ComputeTypeFloat {
		t.Fatalf("effective compute type = %q, want %q", effective, ComputeTypeFloat)
	}
}

func TestFinalizeDequantizesInt8WeightsWhenComputeTypeFloatRequested(t *testing.T) {
	dev := tensor.Device{Kind: tensor.CPU}
	idx := NewWeightIndex(dev)

	qw := tensor.Zeros(tensor.DTypeI8, dev, 2, 2)
	qw.FromInts([]int32{127, -64, 32, 16})
	idx.Set("decoder/layer_0/self_attention/query/weight", qw)
	idx.Set("decoder/layer_0/self_attention/query/weight_scale",
		tensor.FromFloats(dev, []float32{127, 32}, 2))

	effective, err := Finalize(idx, ComputeTypeFloat, dev)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if effective != ComputeTypeFloat {
		t.Fatalf("effective compute type = %q, want %q", effective, ComputeTypeFloat)
	}

	w := idx.Get("decoder/layer_0/self_attention/query/weight")
	if w.DType() != tensor.DTypeF32 {
		t.Fatalf("weight dtype after Finalize = %v, want f32", w.DType())
	}
	want := []float32{1, -64.0 / 127.0, 1, 0.5}
	got := w.Floats()
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-5 || diff < -1e-5 {
			t.Fatalf("dequantized value %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResolveMissingScalesFillsAllOnesForQuantizedWeight(t *testing.T) {
	idx := NewWeightIndex(tensor.Device{Kind: tensor.CPU})
	w := tensor.Zeros(tensor.DTypeI8, tensor.Device{Kind: tensor.CPU}, 2, 3)
	idx.Set("decoder/layer_0/self_attention/query/weight", w)

	resolveMissingScales(idx)

	scale := idx.Get("decoder/layer_0/self_attention/query/weight_scale")
	if scale == nil {
		t.Fatal("expected a synthesized weight_scale tensor")
	}
	for _, v := range scale.Floats() {
		if v != 1 {
			t.Fatalf("synthesized scale values = %v, want all ones", scale.Floats())
		}
	}
}

func TestResolveMissingScalesLeavesExistingScaleUntouched(t *testing.T) {
	idx := NewWeightIndex(tensor.Device{Kind: tensor.CPU})
	idx.Set("decoder/layer_0/self_attention/query/weight", tensor.Zeros(tensor.DTypeI8, tensor.Device{Kind: tensor.CPU}, 1, 2))
	existing := tensor.FromFloats(tensor.Device{Kind: tensor.CPU}, []float32{7}, 1)
	idx.Set("decoder/layer_0/self_attention/query/weight_scale", existing)

	resolveMissingScales(idx)

	if idx.Get("decoder/layer_0/self_attention/query/weight_scale") != existing {
		t.Fatal("resolveMissingScales must not overwrite an already-present scale tensor")
	}
}

func TestResolveMissingScalesSkipsNonQuantizedWeights(t *testing.T) {
	idx := NewWeightIndex(tensor.Device{Kind: tensor.CPU})
	idx.Set("encoder/layer_0/feed_forward/linear_0/weight",
		tensor.FromFloats(tensor.Device{Kind: tensor.CPU}, []float32{1, 2}, 1, 2))

	resolveMissingScales(idx)

	if idx.Get("encoder/layer_0/feed_forward/linear_0/weight_scale") != nil {
		t.Fatal("an f32 weight should never get a synthesized scale tensor")
	}
}

func TestIsWeightVariableExcludesScaleAndBiasNames(t *testing.T) {
	cases := map[string]bool{
		"encoder/layer_0/self_attention/query/weight":       true,
		"encoder/layer_0/self_attention/query/weight_scale": false,
		"encoder/layer_0/self_attention/query/bias":         false,
	}
	for name, want := range cases {
		if got := isWeightVariable(name); got != want {
			t.Errorf("isWeightVariable(%q) = %v, want %v", name, got, want)
		}
	}
}
