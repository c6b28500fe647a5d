// position.go - Sinusoidale Positionskodierung
//
// PE(pos, 2i) = sin(pos * 10000^(-2i/d)), PE(pos, 2i+1) = cos(...).
// Statt die Tabelle lazy und nicht threadsicher aufzubauen, wird sie hier
// bei Konstruktion einmalig bis maxLen vorberechnet, um das
// Wettlaufproblem zu vermeiden.
package layers

import (
	"math"

	"github.com/guillaumekln/CTranslate2/tensor"
)

// PositionEncoder holds a precomputed sinusoidal table [maxLen, depth].
type PositionEncoder struct {
	table *tensor.Storage
	depth int
}

// NewPositionEncoder precomputes the encoding up to maxLen positions.
func NewPositionEncoder(device tensor.Device, depth, maxLen int) *PositionEncoder {
	values := make([]float32, maxLen*depth)
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < depth/2; i++ {
			angle := float64(pos) / math.Pow(10000, float64(2*i)/float64(depth))
			values[pos*depth+2*i] = float32(math.Sin(angle))
			if 2*i+1 < depth {
				values[pos*depth+2*i+1] = float32(math.Cos(angle))
			}
		}
	}
	table := tensor.FromFloats(device, values, maxLen, depth)
	return &PositionEncoder{table: table, depth: depth}
}

// Apply adds the position encoding to input [B, T, depth] in place,
// starting at the given step offset (so step-wise decoding can request
// the encoding for a single future position).
func (p *PositionEncoder) Apply(input *tensor.Storage, offset int) error {
	t := input.Dim(1)
	if offset+t > p.table.Dim(0) {
		return preconditionf("position_encoder: offset %d + length %d exceeds precomputed table of %d positions", offset, t, p.table.Dim(0))
	}

	slice, err := tensor.View(p.table, offset*p.depth, tensor.Shape{t, p.depth})
	if err != nil {
		return err
	}

	values := input.Floats()
	posValues := slice.Floats()
	b := input.Dim(0)
	for bi := 0; bi < b; bi++ {
		for ti := 0; ti < t; ti++ {
			base := (bi*t + ti) * p.depth
			posBase := ti * p.depth
			for d := 0; d < p.depth; d++ {
				values[base+d] += posValues[posBase+d]
			}
		}
	}
	input.FromFloats(values)
	return nil
}
