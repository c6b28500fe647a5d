// weights.go - Binaeres Gewichtsdateiformat
//
// Little-Endian-Layout: Magic, binary_version (<= currentBinaryVersion),
// spec_revision, Anzahl Variablen; danach pro Variable Namenslaenge,
// Name, DType-Tag, Rang, Dimensionen, Nutzlast-Bytes. Grundform der
// generischen Lesefunktion orientiert sich an readGGUF aus dem
// GGUF-Leser-Stil (ein generischer Typ, ein binary.Read-Aufruf).
package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/guillaumekln/CTranslate2/tensor"
)

const (
	fileMagic            = "CT2M"
	currentBinaryVersion  = 2
)

// ErrUnsupportedBinaryVersion is returned when a weights file declares a
// binary_version greater than currentBinaryVersion.
var ErrUnsupportedBinaryVersion = errors.New("model: unsupported binary version")

// WeightIndex maps variable names to their tensors after loading.
type WeightIndex struct {
	BinaryVersion int
	SpecRevision  int
	Device        tensor.Device
	vars          map[string]*tensor.Storage
}

// NewWeightIndex returns an empty index for the given device.
func NewWeightIndex(device tensor.Device) *WeightIndex {
	return &WeightIndex{Device: device, vars: make(map[string]*tensor.Storage)}
}

// Get returns the tensor registered under name, or nil if absent.
func (w *WeightIndex) Get(name string) *tensor.Storage {
	return w.vars[name]
}

// Set registers a tensor under name, overwriting any prior value.
func (w *WeightIndex) Set(name string, t *tensor.Storage) {
	w.vars[name] = t
}

// Names returns every registered variable name.
func (w *WeightIndex) Names() []string {
	names := make([]string, 0, len(w.vars))
	for n := range w.vars {
		names = append(names, n)
	}
	return names
}

func readVal[T any](r io.Reader) (T, error) {
	var v T
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

// Load reads a binary weights file into a fresh WeightIndex, applying
// RegisterVariable to every record so name/scale revision fixups happen
// during the read itself.
func Load(r io.Reader, device tensor.Device) (*WeightIndex, error) {
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("model: read magic: %w", err)
	}
	if string(magic) != fileMagic {
		return nil, fmt.Errorf("model: bad magic %q", magic)
	}

	binaryVersion, err := readVal[int32](r)
	if err != nil {
		return nil, fmt.Errorf("model: read binary_version: %w", err)
	}
	if int(binaryVersion) > currentBinaryVersion {
		return nil, fmt.Errorf("%w: %d > %d", ErrUnsupportedBinaryVersion, binaryVersion, currentBinaryVersion)
	}

	specRevision, err := readVal[int32](r)
	if err != nil {
		return nil, fmt.Errorf("model: read spec_revision: %w", err)
	}

	numVars, err := readVal[int32](r)
	if err != nil {
		return nil, fmt.Errorf("model: read variable count: %w", err)
	}

	idx := NewWeightIndex(device)
	idx.BinaryVersion = int(binaryVersion)
	idx.SpecRevision = int(specRevision)

	for i := int32(0); i < numVars; i++ {
		name, dtype, shape, payload, err := readVariable(r)
		if err != nil {
			return nil, fmt.Errorf("model: read variable %d: %w", i, err)
		}
		RegisterVariable(idx, name, dtype, shape, payload, device)
	}
	return idx, nil
}

func readVariable(r io.Reader) (name string, dtype tensor.DType, shape tensor.Shape, payload []byte, err error) {
	nameLen, err := readVal[int32](r)
	if err != nil {
		return "", 0, nil, nil, err
	}
	nameBytes := make([]byte, nameLen)
	if _, err = io.ReadFull(r, nameBytes); err != nil {
		return "", 0, nil, nil, err
	}

	dtypeTag, err := readVal[uint8](r)
	if err != nil {
		return "", 0, nil, nil, err
	}
	dtype, err = dtypeFromTag(dtypeTag)
	if err != nil {
		return "", 0, nil, nil, err
	}

	rank, err := readVal[int32](r)
	if err != nil {
		return "", 0, nil, nil, err
	}
	shape = make(tensor.Shape, rank)
	for i := range shape {
		dim, err := readVal[int32](r)
		if err != nil {
			return "", 0, nil, nil, err
		}
		shape[i] = int(dim)
	}

	payload = make([]byte, shape.NumElements()*dtype.Size())
	if _, err = io.ReadFull(r, payload); err != nil {
		return "", 0, nil, nil, err
	}
	return string(nameBytes), dtype, shape, payload, nil
}

func dtypeFromTag(tag uint8) (tensor.DType, error) {
	switch tag {
	case 0:
		return tensor.DTypeF32, nil
	case 1:
		return tensor.DTypeF16, nil
	case 2:
		return tensor.DTypeI8, nil
	case 3:
		return tensor.DTypeI16, nil
	case 4:
		return tensor.DTypeI32, nil
	default:
		return 0, fmt.Errorf("model: unknown dtype tag %d", tag)
	}
}

// RegisterVariable stores one (name, tensor) pair into the index,
// applying the per-revision name transforms a real loader would need
// (older spec revisions named quantization scales without their
// variable's own suffix). The transform is a no-op for the current
// revision; later revisions can extend the switch without touching
// Load's read loop.
func RegisterVariable(idx *WeightIndex, name string, dtype tensor.DType, shape tensor.Shape, payload []byte, device tensor.Device) {
	resolved := name
	if idx.SpecRevision < 1 {
		resolved = legacyScaleName(name)
	}
	idx.Set(resolved, tensor.FromBytes(dtype, device, payload, shape...))
}

// legacyScaleName rewrites pre-revision-1 scale tensor names (which
// lacked the owning variable's suffix) onto the current `<var>_scale`
// convention.
func legacyScaleName(name string) string {
	if name == "scale" {
		return "weight_scale"
	}
	return name
}
