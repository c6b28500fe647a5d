// dense.go - Lineare Schicht mit optionaler Quantisierung und
// optionaler Ausgabe-Restriktion (partial dense)
//
// Eingabe [..., in], Gewicht [out, in] (zeilenweise), Bias [out].
// Ist das Gewicht quantisiert (i8/i16), wird die Eingabe pro Zeile
// quantisiert, die Matmul laeuft ganzzahlig, das Ergebnis wird
// reskaliert und der Bias addiert. Ist ein Index-Tensor gegeben, werden
// Gewicht und Bias entlang der out-Achse gegathert (einmal pro
// Decoder-Aufruf, nicht pro Schritt - der Aufrufer haelt das Ergebnis
// ueber die Schritte hinweg fest).
package layers

import "github.com/guillaumekln/CTranslate2/tensor"

// Dense is a linear projection y = x W^T + b.
type Dense struct {
	Weight      *tensor.Storage // [out, in], possibly i8/i16
	Bias        *tensor.Storage // [out]
	WeightScale *tensor.Storage // [out], only set when Weight is quantized
}

// NewDense wraps weight/bias (and an optional per-row weight scale for
// quantized weights).
func NewDense(weight, bias, weightScale *tensor.Storage) *Dense {
	return &Dense{Weight: weight, Bias: bias, WeightScale: weightScale}
}

// Reduce restricts the dense layer's output rows to the given indices,
// gathering the weight and bias (and scale, if quantized) once. The
// returned Dense should be reused for every subsequent decoding step.
func (d *Dense) Reduce(indices []int32) (*Dense, error) {
	w, err := tensor.Gather(d.Weight, indices)
	if err != nil {
		return nil, err
	}
	b, err := tensor.Gather(d.Bias, indices)
	if err != nil {
		return nil, err
	}
	var ws *tensor.Storage
	if d.WeightScale != nil {
		ws, err = tensor.Gather(d.WeightScale, indices)
		if err != nil {
			return nil, err
		}
	}
	return &Dense{Weight: w, Bias: b, WeightScale: ws}, nil
}

// Forward flattens all but the last input dimension to [N, in],
// applies the projection, and restores the leading shape as [..., out].
func (d *Dense) Forward(x *tensor.Storage) (*tensor.Storage, error) {
	in := d.Weight.Dim(1)
	out := d.Weight.Dim(0)
	leading := x.Shape()[:x.Rank()-1]
	n := 1
	for _, dim := range leading {
		n *= dim
	}

	flat, err := tensor.View(x, 0, tensor.Shape{n, in})
	if err != nil {
		return nil, err
	}

	var y *tensor.Storage
	if d.Weight.DType().IsQuantized() {
		qx, inputScales, err := tensor.QuantizeBatch(flat, d.Weight.DType())
		if err != nil {
			return nil, err
		}
		raw := tensor.Zeros(tensor.DTypeI32, x.Device(), n, out)
		if err := tensor.GEMM(false, true, 1, qx, d.Weight, 0, raw); err != nil {
			return nil, err
		}
		y, err = tensor.RescaleOutput(raw, inputScales, d.WeightScale)
		if err != nil {
			return nil, err
		}
	} else {
		y = tensor.Zeros(tensor.DTypeF32, x.Device(), n, out)
		if err := tensor.GEMM(false, true, 1, flat, d.Weight, 0, y); err != nil {
			return nil, err
		}
	}

	if err := tensor.AddBatchBroadcastRows(d.Bias, y); err != nil {
		return nil, err
	}

	outShape := append(append(tensor.Shape{}, leading...), out)
	if err := y.Reshape(outShape); err != nil {
		return nil, err
	}
	return y, nil
}
