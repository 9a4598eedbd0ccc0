// tensor.go - Unveraenderlicher Host-Tensor
//
// Dieses Modul enthaelt:
// - Tensor: Shape, DType, Device und float32-Werte
// - NewTensor/Scalar: Konstruktoren
// - Reshape/Permute/To: Transformationen, die neue Tensoren zurueckgeben
// - TensorsSize: Speicherbedarf mehrerer Tensoren
package ml

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/pdevine/tensor"
)

var ErrShapeMismatch = errors.New("shape mismatch")

// Tensor is an immutable n-dimensional array. Values are stored as float32
// and already rounded to the precision of the tensor's DType.
type Tensor struct {
	shape  []int
	dtype  DType
	device Device
	data   []float32
}

// NewTensor erstellt einen float32-Tensor auf der CPU. data wird kopiert.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	n := 1
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
		}
		n *= dim
	}

	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShapeMismatch, shape, n, len(data))
	}

	return &Tensor{
		shape:  slices.Clone(shape),
		dtype:  DTypeF32,
		device: CPU,
		data:   slices.Clone(data),
	}, nil
}

// Scalar erstellt einen 0-dimensionalen Tensor
func Scalar(v float32) *Tensor {
	return &Tensor{dtype: DTypeF32, device: CPU, data: []float32{v}}
}

func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

// Dim gibt die Groesse der Achse i zurueck
func (t *Tensor) Dim(i int) int {
	return t.shape[i]
}

func (t *Tensor) NumDims() int {
	return len(t.shape)
}

func (t *Tensor) DType() DType {
	return t.dtype
}

func (t *Tensor) Device() Device {
	return t.device
}

func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Nbytes gibt den Speicherbedarf der Elemente in der aktuellen Praezision zurueck
func (t *Tensor) Nbytes() int64 {
	return int64(len(t.data)) * int64(t.dtype.Size())
}

// Floats gibt eine Kopie der Werte in Row-Major-Reihenfolge zurueck
func (t *Tensor) Floats() []float32 {
	return slices.Clone(t.data)
}

// Item gibt den Wert eines Tensors mit genau einem Element zurueck
func (t *Tensor) Item() (float32, error) {
	if len(t.data) != 1 {
		return 0, fmt.Errorf("%w: item of tensor with %d elements", ErrShapeMismatch, len(t.data))
	}
	return t.data[0], nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s)", t.shape, t.dtype, t.device)
}

// Reshape gibt eine Sicht mit neuer Shape zurueck. Eine Dimension darf -1
// sein und wird aus der Elementanzahl abgeleitet.
func (t *Tensor) Reshape(dims ...int) (*Tensor, error) {
	shape := slices.Clone(dims)
	infer := -1
	known := 1
	for i, dim := range shape {
		switch {
		case dim == -1 && infer >= 0:
			return nil, fmt.Errorf("%w: more than one inferred dimension in %v", ErrShapeMismatch, dims)
		case dim == -1:
			infer = i
		case dim < 0:
			return nil, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, dims)
		default:
			known *= dim
		}
	}

	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShapeMismatch, t.shape, dims)
		}
		shape[infer] = len(t.data) / known
		known *= shape[infer]
	}

	if known != len(t.data) {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShapeMismatch, t.shape, dims)
	}

	return &Tensor{shape: shape, dtype: t.dtype, device: t.device, data: t.data}, nil
}

// Permute gibt einen neuen Tensor mit vertauschten Achsen zurueck
func (t *Tensor) Permute(axes ...int) (*Tensor, error) {
	if len(axes) != len(t.shape) {
		return nil, fmt.Errorf("%w: permutation %v for shape %v", ErrShapeMismatch, axes, t.shape)
	}

	shape := make([]int, len(axes))
	for i, axis := range axes {
		if axis < 0 || axis >= len(t.shape) {
			return nil, fmt.Errorf("%w: permutation %v for shape %v", ErrShapeMismatch, axes, t.shape)
		}
		shape[i] = t.shape[axis]
	}

	if len(t.data) == 0 || len(shape) < 2 {
		return &Tensor{shape: shape, dtype: t.dtype, device: t.device, data: t.data}, nil
	}

	n := tensor.New(tensor.WithShape(t.shape...), tensor.WithBacking(t.Floats()))
	if err := n.T(axes...); err != nil {
		return nil, err
	}

	if err := n.Transpose(); err != nil {
		return nil, err
	}

	f32s, ok := n.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected backing type %T", n.Data())
	}

	return &Tensor{shape: shape, dtype: t.dtype, device: t.device, data: f32s}, nil
}

// To gibt eine Kopie auf device mit Praezision dtype zurueck. Ein leeres
// Device bzw. DTypeOther behalten den aktuellen Wert bei. t bleibt unveraendert.
func (t *Tensor) To(device Device, dtype DType) *Tensor {
	out := &Tensor{shape: slices.Clone(t.shape), dtype: t.dtype, device: t.device}
	if !device.IsZero() {
		out.device = device
	}

	if dtype != DTypeOther {
		out.dtype = dtype
	}

	out.data = out.dtype.round(t.data)
	return out
}

// Norm gibt die Frobenius-Norm zurueck
func (t *Tensor) Norm() float64 {
	var sum float64
	for _, f := range t.data {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// TensorsSize summiert den Speicherbedarf aller nicht-nil Tensoren
func TensorsSize(ts ...*Tensor) int64 {
	var size int64
	for _, t := range ts {
		if t != nil {
			size += t.Nbytes()
		}
	}
	return size
}
