// lora_layer.go - Klassischer LoRA/LoCon Layer
//
// Dieses Modul enthaelt:
// - LoRALayer: up/down Projektionen und optionaler mid-Kernel
// - Weight: Rekonstruiert das volle Gewichts-Delta
// - Parameters: Delta-Gewicht und Bias passend zum Ziel-Layer
// - Size/To: Speicherbedarf und Platzierung
package lora

import (
	"fmt"

	"github.com/invoke-ai/invokeai/ml"
)

// Tensor-Schluessel eines LoRA-Layers
const (
	KeyUp   = "lora_up.weight"
	KeyDown = "lora_down.weight"
	KeyMid  = "lora_mid.weight"
)

// LoRALayer is a low-rank weight delta: up @ down, or for convolutions with
// a spatial bottleneck, einsum("m n w h, i m, n j -> i j w h", mid, up, down).
type LoRALayer struct {
	LayerBase

	up   *ml.Tensor
	mid  *ml.Tensor
	down *ml.Tensor
	rank int
}

// NewLoRALayer baut einen Layer aus values. lora_up.weight und
// lora_down.weight muessen vorhanden sein, lora_mid.weight ist optional.
// Andere Schluessel als diese und die Basis-Schluessel werden abgelehnt.
func NewLoRALayer(values map[string]*ml.Tensor) (*LoRALayer, error) {
	if err := requireKeys(values, KeyUp, KeyDown); err != nil {
		return nil, err
	}

	if err := CheckKeys(values, KeyUp, KeyDown, KeyMid); err != nil {
		return nil, err
	}

	base, err := newLayerBase(values)
	if err != nil {
		return nil, err
	}

	l := &LoRALayer{
		LayerBase: base,
		up:        values[KeyUp],
		down:      values[KeyDown],
		mid:       values[KeyMid],
	}

	if l.up.NumDims() < 2 || l.down.NumDims() < 2 {
		return nil, fmt.Errorf("%w: up %v and down %v must have at least 2 dims", ml.ErrShapeMismatch, l.up.Shape(), l.down.Shape())
	}

	if l.mid != nil && l.mid.NumDims() != 4 {
		return nil, fmt.Errorf("%w: mid %v must have 4 dims", ml.ErrShapeMismatch, l.mid.Shape())
	}

	l.rank = l.down.Dim(0)
	return l, nil
}

func (l *LoRALayer) Up() *ml.Tensor   { return l.up }
func (l *LoRALayer) Down() *ml.Tensor { return l.down }
func (l *LoRALayer) Mid() *ml.Tensor  { return l.mid }

// Rank gibt die Zeilenanzahl von down zurueck
func (l *LoRALayer) Rank() int {
	return l.rank
}

// Scale gibt alpha/rank zurueck, oder 1 ohne alpha
func (l *LoRALayer) Scale() float32 {
	return l.scale(l.rank)
}

// Weight rekonstruiert das volle Gewichts-Delta. Ohne mid hat das Ergebnis
// die Shape (out, in); der Aufrufer bringt es auf die Shape von orig.
// Mit mid hat es die Shape (out, in, w, h) mit den raeumlichen Achsen von mid.
func (l *LoRALayer) Weight(orig *ml.Tensor) (*ml.Tensor, error) {
	if l.mid != nil {
		return l.midWeight()
	}

	up, err := l.up.Reshape(l.up.Dim(0), -1)
	if err != nil {
		return nil, err
	}

	down, err := l.down.Reshape(l.down.Dim(0), -1)
	if err != nil {
		return nil, err
	}

	return ml.MatMul(up, down)
}

// midWeight berechnet einsum("m n w h, i m, n j -> i j w h") als Folge von
// Matrixprodukten: erst up ueber m, dann down ueber n.
func (l *LoRALayer) midWeight() (*ml.Tensor, error) {
	up, err := l.up.Reshape(l.up.Dim(0), l.up.Dim(1))
	if err != nil {
		return nil, err
	}

	down, err := l.down.Reshape(l.down.Dim(0), l.down.Dim(1))
	if err != nil {
		return nil, err
	}

	i, m := up.Dim(0), up.Dim(1)
	n, j := down.Dim(0), down.Dim(1)
	mm, mn, w, h := l.mid.Dim(0), l.mid.Dim(1), l.mid.Dim(2), l.mid.Dim(3)
	if mm != m || mn != n {
		return nil, fmt.Errorf("%w: mid %v does not match up %v and down %v", ml.ErrShapeMismatch, l.mid.Shape(), up.Shape(), down.Shape())
	}

	// (i, m) @ (m, n*w*h) -> (i, n, w*h)
	mid, err := l.mid.Reshape(m, n*w*h)
	if err != nil {
		return nil, err
	}

	t, err := ml.MatMul(up, mid)
	if err != nil {
		return nil, err
	}

	// (n, i*w*h)
	if t, err = t.Reshape(i, n, w*h); err != nil {
		return nil, err
	}
	if t, err = t.Permute(1, 0, 2); err != nil {
		return nil, err
	}
	if t, err = t.Reshape(n, i*w*h); err != nil {
		return nil, err
	}

	// (j, n) @ (n, i*w*h) -> (j, i, w, h)
	downT, err := down.Permute(1, 0)
	if err != nil {
		return nil, err
	}

	if t, err = ml.MatMul(downT, t); err != nil {
		return nil, err
	}
	if t, err = t.Reshape(j, i, w, h); err != nil {
		return nil, err
	}

	return t.Permute(1, 0, 2, 3)
}

// Parameters gibt das Delta-Gewicht unter "weight" und, falls vorhanden,
// den Bias unter "bias" zurueck. Ist orig gesetzt, hat "weight" dessen Shape.
func (l *LoRALayer) Parameters(orig *ml.Tensor) (map[string]*ml.Tensor, error) {
	weight, err := l.Weight(orig)
	if err != nil {
		return nil, err
	}

	if orig != nil {
		if weight, err = weight.Reshape(orig.Shape()...); err != nil {
			return nil, err
		}
	}

	params := map[string]*ml.Tensor{"weight": weight}
	if bias := l.Bias(); bias != nil {
		params["bias"] = bias
	}
	return params, nil
}

// Size gibt den Speicherbedarf von up, down, mid und den Basis-Tensoren zurueck
func (l *LoRALayer) Size() int64 {
	return l.LayerBase.Size() + ml.TensorsSize(l.up, l.mid, l.down)
}

// To gibt einen neuen Layer zurueck, dessen Tensoren alle auf device mit
// Praezision dtype liegen. l bleibt unveraendert.
func (l *LoRALayer) To(device ml.Device, dtype ml.DType) *LoRALayer {
	out := &LoRALayer{
		LayerBase: l.LayerBase.to(device, dtype),
		up:        l.up.To(device, dtype),
		down:      l.down.To(device, dtype),
		rank:      l.rank,
	}

	if l.mid != nil {
		out.mid = l.mid.To(device, dtype)
	}
	return out
}

// Tensors gibt alle gehaltenen Tensoren mit ihren Schluesseln zurueck
func (l *LoRALayer) Tensors() map[string]*ml.Tensor {
	ts := map[string]*ml.Tensor{KeyUp: l.up, KeyDown: l.down}
	if l.mid != nil {
		ts[KeyMid] = l.mid
	}
	if l.alpha != nil {
		ts[KeyAlpha] = l.alpha
	}
	if l.bias != nil {
		ts["bias"] = l.bias
	}
	return ts
}
