// finalize.go - Abschluss des Ladevorgangs
//
// finalize() loest fehlende *_scale-Tensoren auf (All-Eins-Skala); bei
// compute_type float werden quantisierte Gewichte nach f32 dequantisiert.
// Bei int8/int16 behalten alle Gewichte ihren gespeicherten DType: f32-
// Gewichte werden nicht quantisiert, i8/i16 nicht ineinander umgewandelt,
// und es gibt keinen Rueckfall auf Float.
package model

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/guillaumekln/CTranslate2/tensor"
)

// ComputeType names a requested or resolved weight precision.
type ComputeType string

const (
	ComputeTypeDefault ComputeType = "default"
	ComputeTypeFloat   ComputeType = "float"
	ComputeTypeInt8    ComputeType = "int8"
	ComputeTypeInt16   ComputeType = "int16"
)

// ErrUnknownComputeType is returned for a compute_type outside the
// closed set handled by Finalize.
type ErrUnknownComputeType struct {
	Value string
}

func (e *ErrUnknownComputeType) Error() string {
	return fmt.Sprintf("model: unknown compute_type %q", e.Value)
}

// Finalize resolves missing quantization scales to all-ones tensors and
// returns the effective compute type ("default" resolves to "float").
// With "float", quantized weights are dequantized to f32. With "int8" or
// "int16", every weight keeps the dtype it was stored with: f32 weights
// are not quantized and integer weights are not converted between
// widths, and the effective type is the requested one on every device.
func Finalize(idx *WeightIndex, requested ComputeType, device tensor.Device) (ComputeType, error) {
	switch requested {
	case ComputeTypeDefault, ComputeTypeFloat, ComputeTypeInt8, ComputeTypeInt16:
	default:
		return "", &ErrUnknownComputeType{Value: string(requested)}
	}

	resolveMissingScales(idx)

	effective := requested
	if requested == ComputeTypeDefault {
		effective = ComputeTypeFloat
	}
	if (effective == ComputeTypeInt8 || effective == ComputeTypeInt16) && device.Kind == tensor.CPU {
		// The hand-written integer path in tensor.GEMM is always
		// available, so int8/int16 stay in effect and no fallback to
		// float happens here.
	}

	for _, name := range idx.Names() {
		if !isWeightVariable(name) {
			continue
		}
		t := idx.Get(name)
		converted, changed, err := convertComputeType(idx, name, t, effective)
		if err != nil {
			return "", fmt.Errorf("model: converting %q to %s: %w", name, effective, err)
		}
		if changed {
			idx.Set(name, converted)
		}
	}

	if effective != requested {
		slog.Warn("compute type fallback", "requested", requested, "effective", effective)
	}
	return effective, nil
}

func resolveMissingScales(idx *WeightIndex) {
	for _, name := range idx.Names() {
		if !isWeightVariable(name) {
			continue
		}
		scaleName := name + "_scale"
		if idx.Get(scaleName) != nil {
			continue
		}
		w := idx.Get(name)
		if !w.DType().IsQuantized() {
			continue
		}
		ones := make([]float32, w.Dim(0))
		for i := range ones {
			ones[i] = 1
		}
		scale := tensor.Zeros(tensor.DTypeF32, w.Device(), w.Dim(0))
		scale.FromFloats(ones)
		idx.Set(scaleName, scale)
	}
}

func isWeightVariable(name string) bool {
	return strings.HasSuffix(name, "weight") && !strings.HasSuffix(name, "_scale")
}

func convertComputeType(idx *WeightIndex, name string, t *tensor.Storage, effective ComputeType) (*tensor.Storage, bool, error) {
	switch effective {
	case ComputeTypeFloat:
		if t.DType() == tensor.DTypeF32 {
			return t, false, nil
		}
		if t.DType().IsQuantized() {
			scale := idx.Get(name + "_scale")
			if scale == nil {
				return nil, false, fmt.Errorf("missing companion scale tensor %q for quantized weight %q", name+"_scale", name)
			}
			dequantized, err := tensor.UnquantizeRows(t, scale)
			if err != nil {
				return nil, false, err
			}
			return dequantized, true, nil
		}
		return t, false, nil
	case ComputeTypeInt8, ComputeTypeInt16:
		// Pre-quantized weight files already carry the requested dtype;
		// a float source would need offline quantization tooling, which
		// is out of scope for the inference-only loader.
		return t, false, nil
	default:
		return t, false, nil
	}
}
