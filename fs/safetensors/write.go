// Package safetensors - Schreiben von Safetensors-Dateien
//
// Dieses Modul enthaelt:
// - Write: Schreibt Tensoren und Metadaten nach path
// - Encode: Schreibt Tensoren und Metadaten in einen Writer
package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/invoke-ai/invokeai/ml"
)

// Write schreibt ts in ihrer jeweiligen Praezision nach path
func Write(path string, ts map[string]*ml.Tensor, metadata map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Encode(f, ts, metadata); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Encode schreibt ts sortiert nach Namen mit zusammenhaengenden Offsets
func Encode(w io.Writer, ts map[string]*ml.Tensor, metadata map[string]string) error {
	header := make(map[string]any, len(ts)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	names := slices.Sorted(maps.Keys(ts))

	var data bytes.Buffer
	for _, name := range names {
		t := ts[name]
		dtype, err := formatDType(t.DType())
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		begin := int64(data.Len())
		if err := encodeTensor(&data, t); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		shape := t.Shape()
		if shape == nil {
			shape = []int{}
		}

		header[name] = tensorInfo{
			DType:       dtype,
			Shape:       shape,
			DataOffsets: [2]int64{begin, int64(data.Len())},
		}
	}

	bts, err := json.Marshal(header)
	if err != nil {
		return err
	}

	// Header auf 8 Byte ausrichten
	if pad := len(bts) % 8; pad != 0 {
		bts = append(bts, bytes.Repeat([]byte(" "), 8-pad)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(bts))); err != nil {
		return err
	}

	if _, err := w.Write(bts); err != nil {
		return err
	}

	_, err = data.WriteTo(w)
	return err
}

func encodeTensor(w io.Writer, t *ml.Tensor) error {
	f32s := t.Floats()
	switch t.DType() {
	case ml.DTypeF32:
		return binary.Write(w, binary.LittleEndian, f32s)
	case ml.DTypeF16:
		u16s := make([]uint16, len(f32s))
		for i, f := range f32s {
			u16s[i] = float16.Fromfloat32(f).Bits()
		}
		return binary.Write(w, binary.LittleEndian, u16s)
	case ml.DTypeBF16:
		_, err := w.Write(bfloat16.EncodeFloat32(f32s))
		return err
	case ml.DTypeF64:
		return binary.Write(w, binary.LittleEndian, convertSlice[float64](f32s))
	case ml.DTypeI64:
		return binary.Write(w, binary.LittleEndian, convertSlice[int64](f32s))
	case ml.DTypeI32:
		return binary.Write(w, binary.LittleEndian, convertSlice[int32](f32s))
	case ml.DTypeU8, ml.DTypeBool:
		return binary.Write(w, binary.LittleEndian, convertSlice[uint8](f32s))
	default:
		return fmt.Errorf("%w dtype %s", ErrUnsupported, t.DType())
	}
}

func convertSlice[T float64 | int64 | int32 | uint8](f32s []float32) []T {
	out := make([]T, len(f32s))
	for i, f := range f32s {
		out[i] = T(f)
	}
	return out
}

func formatDType(t ml.DType) (string, error) {
	for name, dtype := range dtypes {
		if dtype == t {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w dtype %s", ErrUnsupported, t)
}
