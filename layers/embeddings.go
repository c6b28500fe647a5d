// embeddings.go - Skalierte Embeddings
//
// Gather von Zeilen der Embedding-Tabelle nach Integer-IDs, multipliziert
// mit sqrt(d_model). Die Skala wird einmalig aus der zweiten Dimension
// der Tabelle vorberechnet.
package layers

import (
	"math"

	"github.com/guillaumekln/CTranslate2/tensor"
)

// ScaledEmbeddings looks up token embeddings and scales them by sqrt(d_model).
type ScaledEmbeddings struct {
	table *tensor.Storage
	scale float32
}

// NewScaledEmbeddings wraps an embedding table [vocab, d_model].
func NewScaledEmbeddings(table *tensor.Storage) *ScaledEmbeddings {
	return &ScaledEmbeddings{
		table: table,
		scale: float32(math.Sqrt(float64(table.Dim(1)))),
	}
}

// Forward gathers rows for ids and scales them.
func (e *ScaledEmbeddings) Forward(ids []int32) (*tensor.Storage, error) {
	gathered, err := tensor.Gather(e.table, ids)
	if err != nil {
		return nil, err
	}
	values := gathered.Floats()
	for i := range values {
		values[i] *= e.scale
	}
	gathered.FromFloats(values)
	return gathered, nil
}
