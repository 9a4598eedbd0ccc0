// Package lora - Low-Rank-Adapter Layer und Modelle
//
// Dieses Modul enthaelt die gemeinsame Basis aller Layer:
// - LayerBase: alpha-Skalierung und optionaler Bias (sparse COO)
// - CheckKeys: Mengen-Vertrag fuer erlaubte Tensor-Schluessel
// - ConfigError: Fehler bei fehlenden oder unerwarteten Schluesseln
package lora

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/emirpasic/gods/v2/sets/hashset"

	"github.com/invoke-ai/invokeai/ml"
)

// Schluessel, die jede Layer-Art zusaetzlich zu ihren eigenen akzeptiert
const (
	KeyAlpha       = "alpha"
	KeyBiasIndices = "bias_indices"
	KeyBiasValues  = "bias_values"
	KeyBiasSize    = "bias_size"
)

var baseKeys = []string{KeyAlpha, KeyBiasIndices, KeyBiasValues, KeyBiasSize}

var (
	ErrMissingKey       = errors.New("missing required key")
	ErrUnexpectedKey    = errors.New("unexpected key")
	ErrUnsupportedLayer = errors.New("unsupported layer type")
)

// ConfigError beschreibt einen Layer, dessen Tensor-Schluessel nicht zum
// erwarteten Satz passen
type ConfigError struct {
	Keys []string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid lora layer: %v: %s", e.Err, strings.Join(e.Keys, ", "))
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CheckKeys prueft, dass values nur Schluessel aus known oder den Basis-Schluesseln enthaelt
func CheckKeys(values map[string]*ml.Tensor, known ...string) error {
	allowed := hashset.New(append(slices.Clone(baseKeys), known...)...)

	var unexpected []string
	for _, key := range slices.Sorted(maps.Keys(values)) {
		if !allowed.Contains(key) {
			unexpected = append(unexpected, key)
		}
	}

	if len(unexpected) > 0 {
		return &ConfigError{Keys: unexpected, Err: ErrUnexpectedKey}
	}
	return nil
}

// requireKeys prueft, dass alle required-Schluessel vorhanden sind
func requireKeys(values map[string]*ml.Tensor, required ...string) error {
	var missing []string
	for _, key := range required {
		if values[key] == nil {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return &ConfigError{Keys: missing, Err: ErrMissingKey}
	}
	return nil
}

// LayerBase haelt die Felder, die alle Layer-Arten teilen
type LayerBase struct {
	alpha *ml.Tensor
	bias  *ml.Tensor
}

func newLayerBase(values map[string]*ml.Tensor) (LayerBase, error) {
	var b LayerBase
	if alpha, ok := values[KeyAlpha]; ok && alpha != nil {
		if _, err := alpha.Item(); err != nil {
			return LayerBase{}, fmt.Errorf("alpha: %w", err)
		}
		b.alpha = alpha
	}

	indices, biasValues, size := values[KeyBiasIndices], values[KeyBiasValues], values[KeyBiasSize]
	if indices != nil && biasValues != nil && size != nil {
		bias, err := sparseToDense(indices, biasValues, size)
		if err != nil {
			return LayerBase{}, fmt.Errorf("bias: %w", err)
		}
		b.bias = bias
	}

	return b, nil
}

// Alpha gibt alpha zurueck; ok ist false, wenn der Layer kein alpha hat
func (b *LayerBase) Alpha() (alpha float32, ok bool) {
	if b.alpha == nil {
		return 0, false
	}
	alpha, _ = b.alpha.Item()
	return alpha, true
}

// Bias gibt den dichten Bias-Tensor zurueck oder nil
func (b *LayerBase) Bias() *ml.Tensor {
	return b.bias
}

// scale gibt alpha/rank zurueck, oder 1 wenn eines von beiden fehlt
func (b *LayerBase) scale(rank int) float32 {
	alpha, ok := b.Alpha()
	if !ok || rank <= 0 {
		return 1
	}
	return alpha / float32(rank)
}

// Size gibt den Speicherbedarf des Bias zurueck
func (b *LayerBase) Size() int64 {
	return ml.TensorsSize(b.bias)
}

func (b *LayerBase) to(device ml.Device, dtype ml.DType) LayerBase {
	var out LayerBase
	if b.alpha != nil {
		out.alpha = b.alpha.To(device, dtype)
	}
	if b.bias != nil {
		out.bias = b.bias.To(device, dtype)
	}
	return out
}

// sparseToDense baut aus COO-Indizes (ndim x nnz), Werten (nnz) und der
// Zielgroesse einen dichten Tensor
func sparseToDense(indices, values, size *ml.Tensor) (*ml.Tensor, error) {
	dims := make([]int, 0, size.NumElements())
	for _, f := range size.Floats() {
		if f < 0 || f != float32(math.Trunc(float64(f))) {
			return nil, fmt.Errorf("%w: invalid bias size %v", ml.ErrShapeMismatch, size.Floats())
		}
		dims = append(dims, int(f))
	}

	nnz := values.NumElements()
	if indices.NumElements() != len(dims)*nnz {
		return nil, fmt.Errorf("%w: %d indices for %d values in %d dims", ml.ErrShapeMismatch, indices.NumElements(), nnz, len(dims))
	}

	n := 1
	for _, dim := range dims {
		n *= dim
	}

	idx := indices.Floats()
	vals := values.Floats()
	dense := make([]float32, n)
	for k := range nnz {
		flat := 0
		for d, dim := range dims {
			i := int(idx[d*nnz+k])
			if i < 0 || i >= dim {
				return nil, fmt.Errorf("%w: bias index %d out of range %d", ml.ErrShapeMismatch, i, dim)
			}
			flat = flat*dim + i
		}
		// Doppelte Indizes werden summiert
		dense[flat] += vals[k]
	}

	t, err := ml.NewTensor(dims, dense)
	if err != nil {
		return nil, err
	}
	return t.To(ml.Device{}, values.DType()), nil
}
