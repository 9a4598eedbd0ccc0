// Package safetensors - Lesen von Safetensors-Dateien
//
// Dieses Modul enthaelt die File-Hauptstruktur fuer Safetensors-Dateien:
// - File: Header-Metadaten und dekodierte Tensoren
// - Read: Oeffnet und dekodiert eine Safetensors-Datei
// - Decode: Dekodiert eine Safetensors-Datei aus einem ReaderAt
//
// Format: 8 Byte Header-Laenge (little endian), JSON-Header, Datenbereich.
package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/invoke-ai/invokeai/ml"
)

// maxHeaderSize begrenzt den JSON-Header (100 MB)
const maxHeaderSize = 100 << 20

const metadataKey = "__metadata__"

var (
	ErrUnsupported   = errors.New("unsupported")
	ErrInvalidHeader = errors.New("invalid safetensors header")
)

// tensorInfo ist ein Eintrag im JSON-Header
type tensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// File repraesentiert eine dekodierte Safetensors-Datei
type File struct {
	Metadata map[string]string

	tensors map[string]*ml.Tensor
}

// Names gibt die sortierten Tensor-Namen zurueck
func (f *File) Names() []string {
	return slices.Sorted(maps.Keys(f.tensors))
}

// Get gibt den Tensor name zurueck oder nil
func (f *File) Get(name string) *ml.Tensor {
	return f.tensors[name]
}

// Tensors gibt eine Kopie der Name-zu-Tensor-Zuordnung zurueck
func (f *File) Tensors() map[string]*ml.Tensor {
	return maps.Clone(f.tensors)
}

// Read oeffnet die Datei path und dekodiert alle Tensoren
func Read(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	info, err := fd.Stat()
	if err != nil {
		return nil, err
	}

	f, err := Decode(fd, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return f, nil
}

// Decode dekodiert eine Safetensors-Datei der Groesse size aus r
func Decode(r io.ReaderAt, size int64) (*File, error) {
	var n uint64
	if err := binary.Read(io.NewSectionReader(r, 0, 8), binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	if n > maxHeaderSize || int64(n)+8 > size {
		return nil, fmt.Errorf("%w: header length %d", ErrInvalidHeader, n)
	}

	header := make([]byte, n)
	if _, err := r.ReadAt(header, 8); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimRight(header, " "), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	f := &File{tensors: make(map[string]*ml.Tensor, len(raw))}
	if m, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(m, &f.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidHeader, err)
		}
		delete(raw, metadataKey)
	}

	base := int64(n) + 8
	for _, name := range slices.Sorted(maps.Keys(raw)) {
		var ti tensorInfo
		if err := json.Unmarshal(raw[name], &ti); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHeader, name, err)
		}

		t, err := ti.decode(r, base, size)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		f.tensors[name] = t
	}

	return f, nil
}

// dtypes ordnet die Header-Namen den unterstuetzten Datentypen zu
var dtypes = map[string]ml.DType{
	"F64":  ml.DTypeF64,
	"F32":  ml.DTypeF32,
	"F16":  ml.DTypeF16,
	"BF16": ml.DTypeBF16,
	"I64":  ml.DTypeI64,
	"I32":  ml.DTypeI32,
	"U8":   ml.DTypeU8,
	"BOOL": ml.DTypeBool,
}

// decode liest die Rohdaten eines Tensors und konvertiert sie nach float32
func (ti tensorInfo) decode(r io.ReaderAt, base, size int64) (*ml.Tensor, error) {
	dtype, err := parseDType(ti.DType)
	if err != nil {
		return nil, err
	}

	begin, end := ti.DataOffsets[0], ti.DataOffsets[1]
	if begin < 0 || end < begin || base+end > size {
		return nil, fmt.Errorf("%w: data offsets %v", ErrInvalidHeader, ti.DataOffsets)
	}

	elems := int64(1)
	for _, dim := range ti.Shape {
		elems *= int64(dim)
	}

	if elems*int64(dtype.Size()) != end-begin {
		return nil, fmt.Errorf("%w: shape %v does not match %d bytes of %s", ErrInvalidHeader, ti.Shape, end-begin, ti.DType)
	}

	bts := make([]byte, end-begin)
	if _, err := r.ReadAt(bts, base+begin); err != nil {
		return nil, err
	}

	f32s, err := decodeValues(bts, dtype, elems)
	if err != nil {
		return nil, err
	}

	t, err := ml.NewTensor(ti.Shape, f32s)
	if err != nil {
		return nil, err
	}

	return t.To(ml.Device{}, dtype), nil
}

// decodeValues wandelt little-endian Rohdaten vom Typ dtype nach float32
func decodeValues(bts []byte, dtype ml.DType, elems int64) ([]float32, error) {
	if dtype == ml.DTypeBF16 {
		return bfloat16.DecodeFloat32(bts), nil
	}

	f32s := make([]float32, elems)
	var raw any
	switch dtype {
	case ml.DTypeF32:
		raw = f32s
	case ml.DTypeF64:
		raw = make([]float64, elems)
	case ml.DTypeF16:
		raw = make([]uint16, elems)
	case ml.DTypeI64:
		raw = make([]int64, elems)
	case ml.DTypeI32:
		raw = make([]int32, elems)
	case ml.DTypeU8, ml.DTypeBool:
		raw = make([]uint8, elems)
	default:
		return nil, fmt.Errorf("%w dtype %s", ErrUnsupported, dtype)
	}

	if err := binary.Read(bytes.NewReader(bts), binary.LittleEndian, raw); err != nil {
		return nil, err
	}

	switch raw := raw.(type) {
	case []float64:
		for i, v := range raw {
			f32s[i] = float32(v)
		}
	case []uint16:
		for i, v := range raw {
			f32s[i] = float16.Frombits(v).Float32()
		}
	case []int64:
		for i, v := range raw {
			f32s[i] = float32(v)
		}
	case []int32:
		for i, v := range raw {
			f32s[i] = float32(v)
		}
	case []uint8:
		for i, v := range raw {
			f32s[i] = float32(v)
		}
	}

	return f32s, nil
}

func parseDType(s string) (ml.DType, error) {
	if dtype, ok := dtypes[s]; ok {
		return dtype, nil
	}
	return ml.DTypeOther, fmt.Errorf("%w dtype %s", ErrUnsupported, s)
}
