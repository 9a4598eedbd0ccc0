// ops.go - Arithmetik auf Tensoren
// Enthaelt: MatMul (gonum), Add, Scale
package ml

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// MatMul berechnet das Matrixprodukt zweier 2-D Tensoren
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.NumDims() != 2 || b.NumDims() != 2 {
		return nil, fmt.Errorf("%w: matmul needs 2-D operands, got %v and %v", ErrShapeMismatch, a.shape, b.shape)
	}

	if a.shape[1] != b.shape[0] {
		return nil, fmt.Errorf("%w: matmul of %v and %v", ErrShapeMismatch, a.shape, b.shape)
	}

	if a.device != b.device {
		return nil, fmt.Errorf("matmul operands on different devices: %s and %s", a.device, b.device)
	}

	rows, cols := a.shape[0], b.shape[1]
	if rows == 0 || cols == 0 || a.shape[1] == 0 {
		return &Tensor{shape: []int{rows, cols}, dtype: promote(a.dtype, b.dtype), device: a.device, data: make([]float32, rows*cols)}, nil
	}

	var out mat.Dense
	out.Mul(dense(a), dense(b))

	f32s := make([]float32, 0, rows*cols)
	for i := range rows {
		for j := range cols {
			f32s = append(f32s, float32(out.At(i, j)))
		}
	}

	dtype := promote(a.dtype, b.dtype)
	return &Tensor{shape: []int{rows, cols}, dtype: dtype, device: a.device, data: dtype.round(f32s)}, nil
}

// dense konvertiert einen 2-D Tensor in eine gonum-Matrix
func dense(t *Tensor) *mat.Dense {
	f64s := make([]float64, len(t.data))
	for i, f := range t.data {
		f64s[i] = float64(f)
	}
	return mat.NewDense(t.shape[0], t.shape[1], f64s)
}

// Add addiert b elementweise zu a. Beide Tensoren muessen dieselbe Shape haben.
func Add(a, b *Tensor) (*Tensor, error) {
	if !slices.Equal(a.shape, b.shape) {
		return nil, fmt.Errorf("%w: add of %v and %v", ErrShapeMismatch, a.shape, b.shape)
	}

	if a.device != b.device {
		return nil, fmt.Errorf("add operands on different devices: %s and %s", a.device, b.device)
	}

	f32s := make([]float32, len(a.data))
	for i := range a.data {
		f32s[i] = a.data[i] + b.data[i]
	}

	return &Tensor{shape: a.Shape(), dtype: a.dtype, device: a.device, data: a.dtype.round(f32s)}, nil
}

// Scale multipliziert alle Elemente mit f
func (t *Tensor) Scale(f float32) *Tensor {
	f32s := make([]float32, len(t.data))
	for i, v := range t.data {
		f32s[i] = v * f
	}

	return &Tensor{shape: t.Shape(), dtype: t.dtype, device: t.device, data: t.dtype.round(f32s)}
}
