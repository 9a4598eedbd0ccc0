// classes.go - Registry der ladbaren Modellklassen
//
// Dieses Modul enthaelt:
// - Class: Schnittstelle mit FromPretrained
// - ClassRegistry: (Namespace, Name) -> Class
// - DefaultClasses: die eingebauten Diffusers/Transformers Klassen
package modelmanager

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/invoke-ai/invokeai/ml"
)

// PretrainedOptions steuert FromPretrained
type PretrainedOptions struct {
	// DType is the precision the weights are converted to. ml.DTypeOther
	// keeps the stored precision.
	DType ml.DType

	// Variant selects <weights>.<variant>.safetensors. Empty means the
	// default file.
	Variant string
}

// Model is a loaded model.
type Model interface {
	ClassName() string
	Size() int64
}

// Class can load a model from a directory.
type Class interface {
	Name() string
	Namespace() Namespace
	FromPretrained(ctx context.Context, path string, opts PretrainedOptions) (Model, error)
}

// ClassRegistry maps (namespace, class name) to a loadable class. It is not
// safe for concurrent registration; register classes during init.
type ClassRegistry struct {
	classes map[Namespace]map[string]Class
}

func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{classes: make(map[Namespace]map[string]Class)}
}

// Register fuegt c unter (ns, name) hinzu. Doppelte Registrierung ist ein
// Programmierfehler und fuehrt zu panic.
func (r *ClassRegistry) Register(ns Namespace, name string, c Class) {
	byName, ok := r.classes[ns]
	if !ok {
		byName = make(map[string]Class)
		r.classes[ns] = byName
	}

	if _, exists := byName[name]; exists {
		panic(fmt.Sprintf("modelmanager: class %s.%s already registered", ns, name))
	}
	byName[name] = c
}

// Lookup gibt die Klasse fuer (ns, name) zurueck
func (r *ClassRegistry) Lookup(ns Namespace, name string) (Class, error) {
	if c, ok := r.classes[ns][name]; ok {
		return c, nil
	}

	names := r.Names(ns)
	msg := fmt.Sprintf("%s.%s", ns, name)
	if s := suggest(name, names); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownClass, msg)
}

// Names gibt die registrierten Klassennamen in ns sortiert zurueck
func (r *ClassRegistry) Names(ns Namespace) []string {
	return slices.Sorted(maps.Keys(r.classes[ns]))
}

// DefaultClasses enthaelt die eingebauten Klassen
var DefaultClasses = NewClassRegistry()

func init() {
	for ns, names := range map[Namespace][]string{
		NamespaceDiffusers: {
			"UNet2DConditionModel",
			"AutoencoderKL",
			"AutoencoderTiny",
			"ControlNetModel",
			"T2IAdapter",
			"SD3Transformer2DModel",
			"FluxTransformer2DModel",
		},
		NamespaceTransformers: {
			"CLIPVisionModelWithProjection",
			"CLIPTextModel",
			"CLIPTextModelWithProjection",
			"T5EncoderModel",
		},
		NamespacePipelines: {
			"StableDiffusionSafetyChecker",
		},
	} {
		for _, name := range names {
			DefaultClasses.Register(ns, name, NewPretrainedClass(ns, name))
		}
	}
}
