// storage.go - Typisierter, geformter, gestrideter Tensor-Puffer
//
// Storage ist der zentrale Datentyp der Laufzeit: ein logischer Tensor,
// der einen zusammenhaengenden typisierten Puffer auf einem bestimmten
// Geraet besitzt, teilt oder aliasiert.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Storage ist ein logischer Tensor.
type Storage struct {
	device   Device
	dtype    DType
	shape    Shape
	capacity int // Anzahl Elemente, die der Puffer fassen kann
	data     []byte
	owning   bool
}

// Empty erstellt einen leeren Storage ohne Backing-Puffer.
func Empty(dtype DType, device Device) *Storage {
	return &Storage{device: device, dtype: dtype, shape: nil, owning: true}
}

// Zeros erstellt einen Storage gefuellt mit Nullen in der gegebenen Form.
func Zeros(dtype DType, device Device, shape ...int) *Storage {
	s := Empty(dtype, device)
	s.Resize(shape)
	return s
}

// FromBytes erstellt einen Storage, dessen Inhalt aus rohen Bytes (im
// angegebenen DType) kopiert wird.
func FromBytes(dtype DType, device Device, b []byte, shape ...int) *Storage {
	s := Zeros(dtype, device, shape...)
	copy(s.data, b)
	return s
}

// FromFloats erstellt einen f32-Storage aus einem Float-Slice.
func FromFloats(device Device, v []float32, shape ...int) *Storage {
	s := Zeros(DTypeF32, device, shape...)
	for i, f := range v {
		binary.LittleEndian.PutUint32(s.data[i*4:], math.Float32bits(f))
	}
	return s
}

// FromInts erstellt einen i32-Storage aus einem Int32-Slice.
func FromInts(device Device, v []int32, shape ...int) *Storage {
	s := Zeros(DTypeI32, device, shape...)
	for i, n := range v {
		binary.LittleEndian.PutUint32(s.data[i*4:], uint32(n))
	}
	return s
}

func (s *Storage) Device() Device   { return s.device }
func (s *Storage) DType() DType     { return s.dtype }
func (s *Storage) Shape() Shape     { return s.shape }
func (s *Storage) Rank() int        { return len(s.shape) }
func (s *Storage) NumElements() int { return s.shape.NumElements() }
func (s *Storage) Capacity() int    { return s.capacity }
func (s *Storage) Owning() bool     { return s.owning }

// Dim gibt die Groesse der n-ten Dimension zurueck.
func (s *Storage) Dim(n int) int {
	if n < 0 {
		n += len(s.shape)
	}
	return s.shape[n]
}

// Strides liefert die zeilenweisen Strides fuer die aktuelle Form.
func (s *Storage) Strides() []int {
	return RowMajorStrides(s.shape)
}

// Resize vergroessert die Kapazitaet (falls noetig) und interpretiert
// die Form neu. Der Puffer wird nie verkleinert. Nur fuer owning Storage.
func (s *Storage) Resize(shape Shape) {
	if !s.owning {
		panic("tensor: Resize on a non-owning view")
	}

	n := shape.NumElements()
	if n > s.capacity {
		newData := make([]byte, n*s.dtype.Size())
		copy(newData, s.data)
		s.data = newData
		s.capacity = n
	}
	s.shape = shape.Clone()
}

// Reshape erfordert eine gleiche Elementanzahl und belaesst den Puffer.
func (s *Storage) Reshape(shape Shape) error {
	if shape.NumElements() != s.NumElements() {
		return preconditionf("reshape: element count mismatch (%d vs %d)", shape.NumElements(), s.NumElements())
	}
	s.shape = shape.Clone()
	return nil
}

// View macht s zu einem nicht besitzenden Alias auf den Puffer von src,
// beginnend bei einem Elementoffset, in der angegebenen Form. Der
// referenzierte Storage muss die View ueberleben (wird nicht
// durchgesetzt).
func View(src *Storage, offsetElements int, shape Shape) (*Storage, error) {
	if shape.NumElements()+offsetElements > src.capacity {
		return nil, preconditionf("view: shape %v at offset %d exceeds capacity %d", shape, offsetElements, src.capacity)
	}

	byteOffset := offsetElements * src.dtype.Size()
	return &Storage{
		device:   src.device,
		dtype:    src.dtype,
		shape:    shape.Clone(),
		capacity: shape.NumElements(),
		data:     src.data[byteOffset:],
		owning:   false,
	}, nil
}

// ShallowCopy macht s zu einem nicht besitzenden Alias von src (gleiche
// Form, gleicher Puffer).
func (s *Storage) ShallowCopy(src *Storage) {
	s.device = src.device
	s.dtype = src.dtype
	s.shape = src.shape.Clone()
	s.capacity = src.capacity
	s.data = src.data
	s.owning = false
}

// CopyFrom kopiert n Elemente aus einem Host-Puffer (im eigenen DType)
// hinein, optional ueber Geraetegrenzen hinweg (hier: reiner memcpy, da
// CPU und GPU denselben Host-Adressraum teilen; siehe DESIGN.md).
func (s *Storage) CopyFrom(hostData []byte, n int, srcDevice Device) error {
	if len(hostData) < n*s.dtype.Size() {
		return preconditionf("copy_from: source buffer too small for %d elements", n)
	}
	if n > s.capacity {
		s.Resize(Shape{n})
	}
	copy(s.data, hostData[:n*s.dtype.Size()])
	return nil
}

// To liefert einen neuen Storage auf dem Zielgeraet mit identischem
// Inhalt (Crossdevice-Move via memcpy).
func (s *Storage) To(device Device) *Storage {
	out := &Storage{
		device:   device,
		dtype:    s.dtype,
		shape:    s.shape.Clone(),
		capacity: s.NumElements(),
		owning:   true,
	}
	out.data = make([]byte, len(s.data))
	copy(out.data, s.data)
	return out
}

// Bytes gibt die rohen Bytes des belegten Bereichs zurueck.
func (s *Storage) Bytes() []byte {
	n := s.NumElements() * s.dtype.Size()
	return s.data[:n]
}

// Floats dekodiert den Puffer als []float32; f16 wird aufgeweitet.
func (s *Storage) Floats() []float32 {
	n := s.NumElements()
	out := make([]float32, n)
	switch s.dtype {
	case DTypeF32:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(s.data[i*4:]))
		}
	case DTypeF16:
		for i := 0; i < n; i++ {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(s.data[i*2:])).Float32()
		}
	default:
		panic(fmt.Sprintf("tensor: Floats() on non-float dtype %s", s.dtype))
	}
	return out
}

// Ints dekodiert den Puffer als []int32 (i8/i16/i32 werden vorzeichenbehaftet erweitert).
func (s *Storage) Ints() []int32 {
	n := s.NumElements()
	out := make([]int32, n)
	switch s.dtype {
	case DTypeI8:
		for i := 0; i < n; i++ {
			out[i] = int32(int8(s.data[i]))
		}
	case DTypeI16:
		for i := 0; i < n; i++ {
			out[i] = int32(int16(binary.LittleEndian.Uint16(s.data[i*2:])))
		}
	case DTypeI32:
		for i := 0; i < n; i++ {
			out[i] = int32(binary.LittleEndian.Uint32(s.data[i*4:]))
		}
	default:
		panic(fmt.Sprintf("tensor: Ints() on non-integer dtype %s", s.dtype))
	}
	return out
}

// FromFloats schreibt Float32-Werte in den Puffer (muss DTypeF32 sein).
func (s *Storage) FromFloats(v []float32) {
	if s.dtype != DTypeF32 {
		panic("tensor: FromFloats requires DTypeF32")
	}
	if len(v) > s.capacity {
		s.Resize(Shape{len(v)})
	}
	for i, f := range v {
		binary.LittleEndian.PutUint32(s.data[i*4:], math.Float32bits(f))
	}
}

// FromInts schreibt Int32-Werte in den Puffer (muss DTypeI32 sein).
func (s *Storage) FromInts(v []int32) {
	if s.dtype != DTypeI32 {
		panic("tensor: FromInts requires DTypeI32")
	}
	if len(v) > s.capacity {
		s.Resize(Shape{len(v)})
	}
	for i, n := range v {
		binary.LittleEndian.PutUint32(s.data[i*4:], uint32(n))
	}
}

// At returns the float32 value at the given multi-index. Fails with a
// precondition error for a dtype mismatch or an out-of-range index.
func (s *Storage) At(indices ...int) (float32, error) {
	if len(indices) != len(s.shape) {
		return 0, preconditionf("at: expected %d indices, got %d", len(s.shape), len(indices))
	}
	strides := s.Strides()
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= s.shape[i] {
			return 0, preconditionf("at: index %d out of range for dim %d (size %d)", idx, i, s.shape[i])
		}
		offset += idx * strides[i]
	}

	switch s.dtype {
	case DTypeF32:
		return math.Float32frombits(binary.LittleEndian.Uint32(s.data[offset*4:])), nil
	case DTypeF16:
		return float16.Frombits(binary.LittleEndian.Uint16(s.data[offset*2:])).Float32(), nil
	default:
		return 0, preconditionf("at: dtype %s is not floating point", s.dtype)
	}
}
