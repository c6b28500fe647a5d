// model.go - Modell-Interface und Graph-Aufbau aus dem Gewichtsindex
//
// Baut Encoder/Decoder-Schichtstapel aus einem WeightIndex nach einer
// festen Benennungskonvention auf ("encoder/layer_N/...",
// "decoder/layer_N/..."); die Anzahl der Schichten ergibt sich aus der
// Praesenz aufeinanderfolgender layer_N-Variablen, die Kopfzahl aus dem
// skalaren "num_heads"-Eintrag im Index.
package model

import (
	"fmt"

	"github.com/guillaumekln/CTranslate2/layers"
	"github.com/guillaumekln/CTranslate2/tensor"
)

// Model holds a loaded weight index plus the metadata needed to build
// fresh Encoder/Decoder graphs for a Translator.
type Model struct {
	Weights           *WeightIndex
	ComputeType       ComputeType
	EffectiveCompute  ComputeType
	NumHeads          int
	MaxPositions      int
}

// Open finalizes an already loaded weight index for the given device and
// requested compute type and reads its num_heads variable.
func Open(idx *WeightIndex, requested ComputeType, device tensor.Device, maxPositions int) (*Model, error) {
	effective, err := Finalize(idx, requested, device)
	if err != nil {
		return nil, err
	}
	numHeads, err := scalarInt(idx, "num_heads")
	if err != nil {
		return nil, err
	}
	return &Model{
		Weights:          idx,
		ComputeType:      requested,
		EffectiveCompute: effective,
		NumHeads:         numHeads,
		MaxPositions:     maxPositions,
	}, nil
}

// EffectiveComputeType reports the compute type Finalize actually
// applied, which may differ from the requested one on a fallback.
func (m *Model) EffectiveComputeType() ComputeType {
	return m.EffectiveCompute
}

func scalarInt(idx *WeightIndex, name string) (int, error) {
	t := idx.Get(name)
	if t == nil {
		return 0, fmt.Errorf("model: missing required scalar variable %q", name)
	}
	ints := t.Ints()
	if len(ints) == 0 {
		return 0, fmt.Errorf("model: scalar variable %q is empty", name)
	}
	return int(ints[0]), nil
}

func (m *Model) weight(name string) *tensor.Storage { return m.Weights.Get(name) }

func (m *Model) dense(prefix string) *layers.Dense {
	return layers.NewDense(m.weight(prefix+"/weight"), m.weight(prefix+"/bias"), m.weight(prefix+"/weight_scale"))
}

func (m *Model) layerNorm(prefix string) *layers.LayerNorm {
	return layers.NewLayerNorm(m.weight(prefix+"/gamma"), m.weight(prefix+"/beta"))
}

func (m *Model) attention(prefix string) *layers.MultiHeadAttention {
	return &layers.MultiHeadAttention{
		NumHeads:  m.NumHeads,
		LayerNorm: m.layerNorm(prefix + "/layer_norm"),
		Query:     m.dense(prefix + "/query"),
		Key:       m.dense(prefix + "/key"),
		Value:     m.dense(prefix + "/value"),
		Out:       m.dense(prefix + "/out"),
	}
}

func (m *Model) feedForward(prefix string) *layers.FeedForward {
	return layers.NewFeedForward(m.layerNorm(prefix+"/layer_norm"), m.dense(prefix+"/linear_0"), m.dense(prefix+"/linear_1"))
}

func (m *Model) countLayers(stackPrefix string) int {
	n := 0
	for {
		if m.weight(fmt.Sprintf("%s/layer_%d/feed_forward/linear_0/weight", stackPrefix, n)) == nil {
			break
		}
		n++
	}
	return n
}

// MakeEncoder builds a fresh Encoder graph sharing this model's weights.
func (m *Model) MakeEncoder(device tensor.Device) *layers.Encoder {
	embeddings := layers.NewScaledEmbeddings(m.weight("encoder/embeddings/weight"))
	position := layers.NewPositionEncoder(device, m.weight("encoder/embeddings/weight").Dim(1), m.MaxPositions)

	n := m.countLayers("encoder")
	layerStack := make([]*layers.EncoderLayer, n)
	for i := 0; i < n; i++ {
		prefix := fmt.Sprintf("encoder/layer_%d", i)
		layerStack[i] = &layers.EncoderLayer{
			SelfAttention: m.attention(prefix + "/self_attention"),
			FeedForward:   m.feedForward(prefix + "/feed_forward"),
		}
	}
	return layers.NewEncoder(embeddings, position, layerStack, m.layerNorm("encoder/layer_norm"))
}

// MakeDecoder builds a fresh Decoder graph sharing this model's weights.
func (m *Model) MakeDecoder(device tensor.Device) *layers.Decoder {
	embeddings := layers.NewScaledEmbeddings(m.weight("decoder/embeddings/weight"))
	position := layers.NewPositionEncoder(device, m.weight("decoder/embeddings/weight").Dim(1), m.MaxPositions)

	n := m.countLayers("decoder")
	layerStack := make([]*layers.DecoderLayer, n)
	for i := 0; i < n; i++ {
		prefix := fmt.Sprintf("decoder/layer_%d", i)
		layerStack[i] = &layers.DecoderLayer{
			SelfAttention: m.attention(prefix + "/self_attention"),
			Attention:     m.attention(prefix + "/attention"),
			FeedForward:   m.feedForward(prefix + "/feed_forward"),
		}
	}
	projection := layers.NewDense(m.weight("decoder/projection/weight"), m.weight("decoder/projection/bias"), m.weight("decoder/projection/weight_scale"))
	return layers.NewDecoder(embeddings, position, layerStack, m.layerNorm("decoder/layer_norm"), projection)
}
