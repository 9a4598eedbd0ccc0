// pretrained.go - Eingebaute Klassen: config.json + Safetensors-Gewichte
//
// Dieses Modul enthaelt:
// - PretrainedClass: Class-Implementierung fuer Verzeichnisse im HF-Layout
// - PretrainedModel: das geladene Ergebnis
// - Aufloesung der Gewichtsdatei inkl. Variante und Shards
package modelmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/invoke-ai/invokeai/envconfig"
	"github.com/invoke-ai/invokeai/fs/safetensors"
	"github.com/invoke-ai/invokeai/logutil"
	"github.com/invoke-ai/invokeai/ml"
)

// PretrainedClass laedt <weights>[.<variant>].safetensors aus einem Verzeichnis
type PretrainedClass struct {
	ns      Namespace
	name    string
	weights string
}

func NewPretrainedClass(ns Namespace, name string) *PretrainedClass {
	return &PretrainedClass{ns: ns, name: name, weights: ns.weightsName()}
}

func (c *PretrainedClass) Name() string         { return c.name }
func (c *PretrainedClass) Namespace() Namespace { return c.ns }

// FromPretrained liest config.json und die Gewichte aus path. Fehlt eine
// der Dateien, ist der Fehler ein *NoFileNamedError.
func (c *PretrainedClass) FromPretrained(ctx context.Context, path string, opts PretrainedOptions) (Model, error) {
	config, err := LoadDescriptor(path, ConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NoFileNamedError{Dir: path, File: ConfigFile}
	} else if err != nil {
		return nil, err
	}

	tensors, err := c.loadWeights(ctx, path, opts.Variant)
	if err != nil {
		return nil, err
	}

	// Integer-Tensoren wie position_ids behalten ihren Typ
	for name, t := range tensors {
		if t.DType().IsFloat() {
			tensors[name] = t.To(ml.Device{}, opts.DType)
		}
	}

	m := &PretrainedModel{
		class:   c,
		Path:    path,
		Variant: opts.Variant,
		Config:  config,
		tensors: tensors,
	}

	slog.Debug("loaded pretrained model", "class", m.ClassName(), "path", path, "variant", opts.Variant, "tensors", len(tensors))
	return m, nil
}

// weightsFile gibt den Dateinamen der Gewichte fuer variant zurueck
func (c *PretrainedClass) weightsFile(variant string) string {
	if variant == "" {
		return c.weights + ".safetensors"
	}
	return c.weights + "." + variant + ".safetensors"
}

func (c *PretrainedClass) loadWeights(ctx context.Context, dir, variant string) (map[string]*ml.Tensor, error) {
	file := c.weightsFile(variant)

	f, err := safetensors.Read(filepath.Join(dir, file))
	if err == nil {
		return f.Tensors(), nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	index := file + ".index.json"
	tensors, err := loadSharded(ctx, dir, index)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NoFileNamedError{Dir: dir, File: file}
	}
	return tensors, err
}

type shardIndex struct {
	WeightMap map[string]string `json:"weight_map"`
}

// loadSharded liest alle in index genannten Shards parallel. Die Anzahl
// gleichzeitiger Leser begrenzt INVOKEAI_LOAD_WORKERS.
func loadSharded(ctx context.Context, dir, index string) (map[string]*ml.Tensor, error) {
	data, err := os.ReadFile(filepath.Join(dir, index))
	if err != nil {
		return nil, err
	}

	var idx shardIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%s: %w", index, err)
	}

	shards := slices.Sorted(maps.Keys(shardFiles(idx.WeightMap)))
	logutil.Trace("loading shards", "index", index, "shards", len(shards))

	var (
		mu      sync.Mutex
		tensors = make(map[string]*ml.Tensor, len(idx.WeightMap))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(envconfig.LoadWorkers())
	for _, shard := range shards {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			f, err := safetensors.Read(filepath.Join(dir, shard))
			if errors.Is(err, os.ErrNotExist) {
				return &NoFileNamedError{Dir: dir, File: shard}
			} else if err != nil {
				return fmt.Errorf("%s: %w", shard, err)
			}

			mu.Lock()
			defer mu.Unlock()
			maps.Copy(tensors, f.Tensors())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for name, shard := range idx.WeightMap {
		if tensors[name] == nil {
			return nil, fmt.Errorf("%s: tensor %s missing from %s", index, name, shard)
		}
	}
	return tensors, nil
}

// shardFiles gibt die Menge der Shard-Dateien zurueck
func shardFiles(weightMap map[string]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, shard := range weightMap {
		out[shard] = struct{}{}
	}
	return out
}

// PretrainedModel is the result of PretrainedClass.FromPretrained.
type PretrainedModel struct {
	class *PretrainedClass

	Path    string
	Variant string
	Config  map[string]json.RawMessage

	tensors map[string]*ml.Tensor
}

// ClassName gibt "namespace.Class" zurueck
func (m *PretrainedModel) ClassName() string {
	return m.class.ns.String() + "." + m.class.name
}

func (m *PretrainedModel) Names() []string {
	return slices.Sorted(maps.Keys(m.tensors))
}

func (m *PretrainedModel) Tensor(name string) *ml.Tensor {
	return m.tensors[name]
}

// Size gibt die Summe der Tensor-Groessen in Bytes zurueck
func (m *PretrainedModel) Size() int64 {
	return ml.TensorsSize(slices.Collect(maps.Values(m.tensors))...)
}
