package torch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/stretchr/testify/require"

	"github.com/invoke-ai/invokeai/ml"
)

func TestContiguous(t *testing.T) {
	tests := []struct {
		shape, stride []int
		want          bool
	}{
		{[]int{2, 3}, []int{3, 1}, true},
		{[]int{2, 3}, []int{1, 2}, false},
		{[]int{4, 1, 1, 1}, []int{1, 1, 1, 1}, true},
		{[]int{2, 3}, nil, true},
		{[]int{2, 3}, []int{1}, false},
	}

	for _, tt := range tests {
		if got := contiguous(tt.shape, tt.stride); got != tt.want {
			t.Errorf("contiguous(%v, %v) = %v, want %v", tt.shape, tt.stride, got, tt.want)
		}
	}
}

func TestConvert(t *testing.T) {
	storage := &pytorch.HalfStorage{Data: []float32{9, 1, 2, 3, 4}}
	pt := &pytorch.Tensor{Source: storage, StorageOffset: 1, Size: []int{2, 2}, Stride: []int{2, 1}}

	got, err := convert(pt)
	if err != nil {
		t.Fatal(err)
	}

	if got.DType() != ml.DTypeF16 {
		t.Errorf("dtype = %s, want float16", got.DType())
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4}, got.Floats()); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertStorageTooSmall(t *testing.T) {
	storage := &pytorch.FloatStorage{Data: []float32{1, 2, 3}}
	pt := &pytorch.Tensor{Source: storage, Size: []int{2, 2}, Stride: []int{2, 1}}
	if _, err := convert(pt); err == nil {
		t.Error("expected error for short storage")
	}
}

// checkpoint legt einen Checkpoint aus dem Pickle-Strom und den Storages an
func checkpoint(t *testing.T, pkl []byte, storages ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.pt")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, writeArchive(f, pkl, storages))
	require.NoError(t, f.Close())
	return path
}

func floatStorage(t *testing.T, f32s ...float32) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, binary.Write(&b, binary.LittleEndian, f32s))
	return b.Bytes()
}

func TestWriteRead(t *testing.T) {
	w, err := ml.NewTensor([]int{2, 2}, []float32{0.5, -1, 2, 3.25})
	require.NoError(t, err)
	ids, err := ml.NewTensor([]int{1, 3}, []float32{0, 1, 2})
	require.NoError(t, err)
	scale, err := ml.NewTensor([]int{1}, []float32{4})
	require.NoError(t, err)

	ts := map[string]*ml.Tensor{
		"lora_up.weight":   w,
		"lora_down.weight": w.To(ml.Device{}, ml.DTypeF16),
		"position_ids":     ids.To(ml.Device{}, ml.DTypeI64),
		"alpha":            scale.To(ml.Device{}, ml.DTypeBF16),
		"mask":             ids.To(ml.Device{}, ml.DTypeBool),
	}

	path := filepath.Join(t.TempDir(), "adapter.pt")
	require.NoError(t, Write(path, ts))

	got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, got, len(ts))

	for name, want := range ts {
		g := got[name]
		require.NotNil(t, g, name)
		if g.DType() != want.DType() {
			t.Errorf("%s: dtype %s, want %s", name, g.DType(), want.DType())
		}
		if diff := cmp.Diff(want.Shape(), g.Shape()); diff != "" {
			t.Errorf("%s: shape mismatch (-want +got):\n%s", name, diff)
		}
		if diff := cmp.Diff(want.Floats(), g.Floats()); diff != "" {
			t.Errorf("%s: data mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestReadOrderedDictRoot(t *testing.T) {
	var p pickler
	p.proto()
	p.global("collections", "OrderedDict")
	p.op(opEmptyTuple, opReduce, opMark)
	p.str("conv.weight")
	p.tensor("FloatStorage", "0", []int{2, 2})
	// Trainings-Zaehler ist kein Tensor
	p.str("global_step")
	p.binInt(1200)
	p.op(opSetItems, opStop)

	ts, err := Read(checkpoint(t, p.Bytes(), floatStorage(t, 1, 2, 3, 4)))
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"conv.weight"}, slices.Sorted(maps.Keys(ts))); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4}, ts["conv.weight"].Floats()); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if got := ts["conv.weight"].DType(); got != ml.DTypeF32 {
		t.Errorf("dtype = %s, want float32", got)
	}
}

func TestReadErrors(t *testing.T) {
	t.Run("Schluessel ist kein String", func(t *testing.T) {
		var p pickler
		p.proto()
		p.op(opEmptyDict, opMark)
		p.binInt(7)
		p.tensor("FloatStorage", "0", []int{1})
		p.op(opSetItems, opStop)

		_, err := Read(checkpoint(t, p.Bytes(), floatStorage(t, 1)))
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("got %v, want ErrUnsupported", err)
		}
	})

	t.Run("Wurzel ist kein dict", func(t *testing.T) {
		var p pickler
		p.proto()
		p.op(opEmptyTuple, opStop)

		_, err := Read(checkpoint(t, p.Bytes()))
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("got %v, want ErrUnsupported", err)
		}
	})

	t.Run("Storage fehlt", func(t *testing.T) {
		var p pickler
		p.proto()
		p.op(opEmptyDict, opMark)
		p.str("w")
		p.tensor("FloatStorage", "0", []int{1})
		p.op(opSetItems, opStop)

		if _, err := Read(checkpoint(t, p.Bytes())); err == nil {
			t.Error("expected error for missing storage record")
		}
	})
}
