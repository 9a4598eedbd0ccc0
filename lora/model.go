// model.go - LoRA-Modell aus einer Gewichtsdatei
//
// Dieses Modul enthaelt:
// - Model: Alle Layer eines Adapters, indiziert nach Layer-Name
// - LoadModel: Laedt .safetensors oder PyTorch-Checkpoints
// - NewModel: Gruppiert Tensor-Schluessel in Layer
package lora

import (
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/invoke-ai/invokeai/fs/safetensors"
	"github.com/invoke-ai/invokeai/fs/torch"
	"github.com/invoke-ai/invokeai/ml"
)

// Model is a set of LoRA layers keyed by the name of the layer they patch,
// e.g. "lora_unet_down_blocks_0_attentions_0_proj_in".
type Model struct {
	Name     string
	Metadata map[string]string

	layers map[string]*LoRALayer
}

// LoadModel laedt einen Adapter aus path
func LoadModel(path string) (*Model, error) {
	var ts map[string]*ml.Tensor
	var metadata map[string]string

	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		f, err := safetensors.Read(path)
		if err != nil {
			return nil, err
		}
		ts, metadata = f.Tensors(), f.Metadata
	case ".pt", ".ckpt", ".bin", ".pth":
		var err error
		if ts, err = torch.Read(path); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported lora file %q", filepath.Base(path))
	}

	m, err := NewModel(ts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m.Metadata = metadata

	slog.Debug("loaded lora model", "path", path, "layers", len(m.layers), "size", m.Size())
	return m, nil
}

// NewModel gruppiert ts nach dem Teil des Schluessels vor dem ersten Punkt
// und baut je Gruppe einen LoRALayer
func NewModel(ts map[string]*ml.Tensor) (*Model, error) {
	groups := make(map[string]map[string]*ml.Tensor)
	for key, t := range ts {
		layer, param, ok := strings.Cut(key, ".")
		if !ok {
			return nil, fmt.Errorf("%w: key %q has no layer prefix", ErrUnsupportedLayer, key)
		}

		if groups[layer] == nil {
			groups[layer] = make(map[string]*ml.Tensor)
		}
		groups[layer][param] = t
	}

	m := &Model{layers: make(map[string]*LoRALayer, len(groups))}
	for _, name := range slices.Sorted(maps.Keys(groups)) {
		values := groups[name]
		if values[KeyDown] == nil && values[KeyUp] == nil {
			return nil, fmt.Errorf("%w: %s with keys %v", ErrUnsupportedLayer, name, slices.Sorted(maps.Keys(values)))
		}

		layer, err := NewLoRALayer(values)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		m.layers[name] = layer
	}

	return m, nil
}

// Layers gibt die sortierten Layer-Namen zurueck
func (m *Model) Layers() []string {
	return slices.Sorted(maps.Keys(m.layers))
}

// Layer gibt den Layer name zurueck oder nil
func (m *Model) Layer(name string) *LoRALayer {
	return m.layers[name]
}

// Size summiert den Speicherbedarf aller Layer
func (m *Model) Size() int64 {
	var size int64
	for _, layer := range m.layers {
		size += layer.Size()
	}
	return size
}

// To gibt ein neues Modell zurueck, dessen Layer alle auf device mit
// Praezision dtype liegen
func (m *Model) To(device ml.Device, dtype ml.DType) *Model {
	out := &Model{
		Name:     m.Name,
		Metadata: maps.Clone(m.Metadata),
		layers:   make(map[string]*LoRALayer, len(m.layers)),
	}

	for name, layer := range m.layers {
		out.layers[name] = layer.To(device, dtype)
	}
	return out
}
