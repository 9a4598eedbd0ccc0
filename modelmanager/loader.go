// loader.go - Loader fuer Diffusers-Modelle und deren Registry
//
// Dieses Modul enthaelt:
// - Loader: Schnittstelle fuer alle Modell-Loader
// - GenericDiffusersLoader: Klasse aufloesen, Submodelle ablehnen, laden, einmal ohne Variante wiederholen
// - LoaderRegistry: (Basis, Typ, Format) -> Loader mit BaseAny als Fallback
package modelmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/invoke-ai/invokeai/ml"
)

// Loader laedt ein installiertes Modell
type Loader interface {
	LoadModel(ctx context.Context, cfg ModelConfig, submodel *SubModelType) (Model, error)
}

// GenericDiffusersLoader laedt Modelle, die aus einer einzelnen Klasse
// bestehen, z.B. CLIP-Vision Encoder und T2I-Adapter
type GenericDiffusersLoader struct {
	Resolver Resolver
	DType    ml.DType
}

// LoadModel loest die Klasse ueber config.json auf, lehnt Submodelle ab und
// laedt mit der Repo-Variante aus cfg. Fehlt die Variante auf der Platte,
// wird genau einmal ohne Variante geladen.
func (l *GenericDiffusersLoader) LoadModel(ctx context.Context, cfg ModelConfig, submodel *SubModelType) (Model, error) {
	class, err := l.Resolver.ResolveClass(cfg.Path, nil)
	if err != nil {
		return nil, err
	}

	if submodel != nil {
		return nil, fmt.Errorf("%w: there are no submodels in models of type %s.%s", ErrNoSubmodels, class.Namespace(), class.Name())
	}

	variant := cfg.variant()
	m, err := class.FromPretrained(ctx, cfg.Path, PretrainedOptions{DType: l.DType, Variant: variant})
	if err != nil && variant != "" && errors.Is(err, ErrNoFileNamed) {
		slog.Warn("variant not found, retrying without variant", "model", cfg.Name, "variant", variant, "error", err)
		m, err = class.FromPretrained(ctx, cfg.Path, PretrainedOptions{DType: l.DType})
	}
	if err != nil {
		return nil, err
	}

	return m, nil
}

// LoaderOptions is passed to every LoaderFactory.
type LoaderOptions struct {
	Classes *ClassRegistry
	DType   ml.DType
}

type LoaderFactory func(LoaderOptions) Loader

type loaderKey struct {
	base   BaseModelType
	typ    ModelType
	format ModelFormat
}

// LoaderRegistry ordnet (Basis, Typ, Format) einer LoaderFactory zu
type LoaderRegistry struct {
	factories map[loaderKey]LoaderFactory
}

func NewLoaderRegistry() *LoaderRegistry {
	return &LoaderRegistry{factories: make(map[loaderKey]LoaderFactory)}
}

// Register panics if the key is already registered.
func (r *LoaderRegistry) Register(base BaseModelType, typ ModelType, format ModelFormat, f LoaderFactory) {
	key := loaderKey{base, typ, format}
	if _, exists := r.factories[key]; exists {
		panic(fmt.Sprintf("modelmanager: loader for %s/%s/%s already registered", base, typ, format))
	}
	r.factories[key] = f
}

// Get sucht zuerst die exakte Basis, dann BaseAny
func (r *LoaderRegistry) Get(base BaseModelType, typ ModelType, format ModelFormat) (LoaderFactory, error) {
	if f, ok := r.factories[loaderKey{base, typ, format}]; ok {
		return f, nil
	}
	if f, ok := r.factories[loaderKey{BaseAny, typ, format}]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: base=%s type=%s format=%s", ErrNoLoader, base, typ, format)
}

// Load waehlt den Loader fuer cfg und laedt das Modell
func (r *LoaderRegistry) Load(ctx context.Context, cfg ModelConfig, submodel *SubModelType, opts LoaderOptions) (Model, error) {
	f, err := r.Get(cfg.Base, cfg.Type, cfg.Format)
	if err != nil {
		return nil, err
	}
	return f(opts).LoadModel(ctx, cfg, submodel)
}

func newGenericDiffusersLoader(opts LoaderOptions) Loader {
	return &GenericDiffusersLoader{Resolver: Resolver{Classes: opts.Classes}, DType: opts.DType}
}

// DefaultLoaders enthaelt die eingebauten Loader
var DefaultLoaders = NewLoaderRegistry()

func init() {
	DefaultLoaders.Register(BaseAny, ModelTypeCLIPVision, FormatDiffusers, newGenericDiffusersLoader)
	DefaultLoaders.Register(BaseAny, ModelTypeT2IAdapter, FormatDiffusers, newGenericDiffusersLoader)
}
