// Package torch - Lesen von PyTorch-Checkpoints (.pt/.ckpt/.bin)
//
// Dieses Modul enthaelt:
// - Read: Laedt ein pickle-serialisiertes state_dict als ml.Tensor-Map
//
// Unterstuetzt Gleitkomma-Storages sowie int64, int32, uint8 und bool.
package torch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/invoke-ai/invokeai/ml"
)

var ErrUnsupported = errors.New("unsupported")

// Read laedt die Datei path und gibt alle Tensoren des state_dict zurueck
func Read(path string) (map[string]*ml.Tensor, error) {
	pt, err := pytorch.Load(path)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]any)
	switch d := pt.(type) {
	case *types.Dict:
		for _, k := range d.Keys() {
			name, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w key type %T", ErrUnsupported, k)
			}
			entries[name] = d.MustGet(k)
		}
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			name, ok := entry.Key.(string)
			if !ok {
				return nil, fmt.Errorf("%w key type %T", ErrUnsupported, entry.Key)
			}
			entries[name] = entry.Value
		}
	default:
		return nil, fmt.Errorf("%w checkpoint root %T", ErrUnsupported, pt)
	}

	ts := make(map[string]*ml.Tensor, len(entries))
	for name, v := range entries {
		value, ok := v.(*pytorch.Tensor)
		if !ok {
			// Nicht-Tensor-Eintraege (z.B. Trainings-Metadaten) ignorieren
			continue
		}

		t, err := convert(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		ts[name] = t
	}

	return ts, nil
}

// convert kopiert einen zusammenhaengenden pytorch.Tensor in einen ml.Tensor
func convert(pt *pytorch.Tensor) (*ml.Tensor, error) {
	shape := slices.Clone(pt.Size)
	n := 1
	for _, dim := range shape {
		n *= dim
	}

	if !contiguous(shape, pt.Stride) {
		return nil, fmt.Errorf("%w non-contiguous tensor with stride %v", ErrUnsupported, pt.Stride)
	}

	var f32s []float32
	var dtype ml.DType
	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		f32s, dtype = s.Data, ml.DTypeF32
	case *pytorch.HalfStorage:
		f32s, dtype = s.Data, ml.DTypeF16
	case *pytorch.BFloat16Storage:
		f32s, dtype = s.Data, ml.DTypeBF16
	case *pytorch.DoubleStorage:
		f32s, dtype = widen(s.Data), ml.DTypeF64
	case *pytorch.LongStorage:
		f32s, dtype = widen(s.Data), ml.DTypeI64
	case *pytorch.IntStorage:
		f32s, dtype = widen(s.Data), ml.DTypeI32
	case *pytorch.ByteStorage:
		f32s, dtype = widen(s.Data), ml.DTypeU8
	case *pytorch.BoolStorage:
		f32s = make([]float32, len(s.Data))
		for i, b := range s.Data {
			if b {
				f32s[i] = 1
			}
		}
		dtype = ml.DTypeBool
	default:
		return nil, fmt.Errorf("%w storage %T", ErrUnsupported, pt.Source)
	}

	if pt.StorageOffset < 0 || pt.StorageOffset+n > len(f32s) {
		return nil, fmt.Errorf("storage too small: offset %d + %d elements > %d", pt.StorageOffset, n, len(f32s))
	}

	t, err := ml.NewTensor(shape, f32s[pt.StorageOffset:pt.StorageOffset+n])
	if err != nil {
		return nil, err
	}

	return t.To(ml.Device{}, dtype), nil
}

func widen[T float64 | int64 | int32 | uint8](data []T) []float32 {
	f32s := make([]float32, len(data))
	for i, v := range data {
		f32s[i] = float32(v)
	}
	return f32s
}

// contiguous prueft auf Row-Major-Layout ohne Luecken
func contiguous(shape, stride []int) bool {
	if len(stride) == 0 {
		return true
	}

	if len(stride) != len(shape) {
		return false
	}

	expected := 1
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] != 1 && stride[i] != expected {
			return false
		}
		expected *= shape[i]
	}
	return true
}
