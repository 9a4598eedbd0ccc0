// write.go - Schreiben von PyTorch-Checkpoints
//
// Dieses Modul enthaelt:
// - Write/Encode: state_dict im zip-Format von torch.save
// - pickler: Encoder fuer die Pickle-Opcodes eines state_dict (Protokoll 2)
package torch

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"os"
	"path"
	"slices"
	"strconv"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/invoke-ai/invokeai/ml"
)

const archiveDir = "archive"

// storageClasses ordnet jedem DType die Storage-Klasse in torch zu
var storageClasses = map[ml.DType]string{
	ml.DTypeF32:  "FloatStorage",
	ml.DTypeF16:  "HalfStorage",
	ml.DTypeBF16: "BFloat16Storage",
	ml.DTypeF64:  "DoubleStorage",
	ml.DTypeI64:  "LongStorage",
	ml.DTypeI32:  "IntStorage",
	ml.DTypeU8:   "ByteStorage",
	ml.DTypeBool: "BoolStorage",
}

// Write schreibt ts als Checkpoint nach path
func Write(path string, ts map[string]*ml.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Encode(f, ts); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Encode schreibt ts sortiert nach Namen als dict mit einer Storage pro Tensor
func Encode(w io.Writer, ts map[string]*ml.Tensor) error {
	var p pickler
	p.proto()
	p.op(opEmptyDict, opMark)

	storages := make([][]byte, 0, len(ts))
	for i, name := range slices.Sorted(maps.Keys(ts)) {
		t := ts[name]
		class, ok := storageClasses[t.DType()]
		if !ok {
			return fmt.Errorf("%s: %w dtype %s", name, ErrUnsupported, t.DType())
		}

		data, err := storageBytes(t)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		p.str(name)
		p.tensor(class, strconv.Itoa(i), t.Shape())
		storages = append(storages, data)
	}

	p.op(opSetItems, opStop)
	return writeArchive(w, p.Bytes(), storages)
}

// writeArchive legt data.pkl und die Storages unter archive/ ab
func writeArchive(w io.Writer, pkl []byte, storages [][]byte) error {
	zw := zip.NewWriter(w)

	records := []struct {
		name string
		data []byte
	}{
		{path.Join(archiveDir, "data.pkl"), pkl},
		{path.Join(archiveDir, "version"), []byte("3\n")},
	}
	for i, data := range storages {
		records = append(records, struct {
			name string
			data []byte
		}{path.Join(archiveDir, "data", strconv.Itoa(i)), data})
	}

	for _, r := range records {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: r.name, Method: zip.Store})
		if err != nil {
			return err
		}
		if _, err := fw.Write(r.data); err != nil {
			return err
		}
	}

	return zw.Close()
}

func storageBytes(t *ml.Tensor) ([]byte, error) {
	f32s := t.Floats()

	var data any
	switch t.DType() {
	case ml.DTypeF32:
		data = f32s
	case ml.DTypeF16:
		u16s := make([]uint16, len(f32s))
		for i, f := range f32s {
			u16s[i] = float16.Fromfloat32(f).Bits()
		}
		data = u16s
	case ml.DTypeBF16:
		return bfloat16.EncodeFloat32(f32s), nil
	case ml.DTypeF64:
		data = cast[float64](f32s)
	case ml.DTypeI64:
		data = cast[int64](f32s)
	case ml.DTypeI32:
		data = cast[int32](f32s)
	case ml.DTypeU8, ml.DTypeBool:
		data = cast[uint8](f32s)
	default:
		return nil, fmt.Errorf("%w dtype %s", ErrUnsupported, t.DType())
	}

	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, data); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func cast[T float64 | int64 | int32 | uint8](f32s []float32) []T {
	out := make([]T, len(f32s))
	for i, f := range f32s {
		out[i] = T(f)
	}
	return out
}

// Pickle-Opcodes
const (
	opMark       = '('
	opStop       = '.'
	opBinInt     = 'J'
	opBinPersID  = 'Q'
	opReduce     = 'R'
	opBinUnicode = 'X'
	opGlobal     = 'c'
	opTuple      = 't'
	opEmptyTuple = ')'
	opSetItems   = 'u'
	opEmptyDict  = '}'
	opProto      = 0x80
	opNewFalse   = 0x89
)

type pickler struct {
	bytes.Buffer
}

func (p *pickler) op(ops ...byte) {
	p.Write(ops)
}

func (p *pickler) proto() {
	p.op(opProto, 2)
}

func (p *pickler) str(s string) {
	p.op(opBinUnicode)
	p.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(s))))
	p.WriteString(s)
}

func (p *pickler) binInt(n int) {
	p.op(opBinInt)
	p.Write(binary.LittleEndian.AppendUint32(nil, uint32(int32(n))))
}

func (p *pickler) global(module, name string) {
	p.op(opGlobal)
	p.WriteString(module + "\n" + name + "\n")
}

func (p *pickler) ints(ns []int) {
	p.op(opMark)
	for _, n := range ns {
		p.binInt(n)
	}
	p.op(opTuple)
}

// tensor schreibt _rebuild_tensor_v2(storage, 0, shape, stride, False, OrderedDict())
// fuer einen zusammenhaengenden Tensor in der Storage-Datei key
func (p *pickler) tensor(class, key string, shape []int) {
	stride := make([]int, len(shape))
	numel := 1
	for i := len(shape) - 1; i >= 0; i-- {
		stride[i] = numel
		numel *= shape[i]
	}

	p.global("torch._utils", "_rebuild_tensor_v2")
	p.op(opMark)

	p.op(opMark)
	p.str("storage")
	p.global("torch", class)
	p.str(key)
	p.str("cpu")
	p.binInt(numel)
	p.op(opTuple, opBinPersID)

	p.binInt(0)
	p.ints(shape)
	p.ints(stride)
	p.op(opNewFalse)
	p.global("collections", "OrderedDict")
	p.op(opEmptyTuple, opReduce)

	p.op(opTuple, opReduce)
}
