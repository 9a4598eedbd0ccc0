package modelmanager

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/invoke-ai/invokeai/fs/safetensors"
	"github.com/invoke-ai/invokeai/ml"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeWeights(t *testing.T, dir, name string, values ...float32) {
	t.Helper()
	w, err := ml.NewTensor([]int{len(values)}, values)
	if err != nil {
		t.Fatal(err)
	}
	if err := safetensors.Write(filepath.Join(dir, name), map[string]*ml.Tensor{"weight": w}, nil); err != nil {
		t.Fatal(err)
	}
}

func submodel(s SubModelType) *SubModelType {
	return &s
}

func TestNamespaceFor(t *testing.T) {
	tests := map[string]Namespace{
		"diffusers":        NamespaceDiffusers,
		"transformers":     NamespaceTransformers,
		"stable_diffusion": NamespacePipelines,
		"":                 NamespacePipelines,
	}
	for module, want := range tests {
		if got := NamespaceFor(module); got != want {
			t.Errorf("NamespaceFor(%q) = %s, want %s", module, got, want)
		}
	}
}

func TestResolveDefinition(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   Definition
		target error
	}{
		{"class_name", `{"_class_name": "Foo"}`, Definition{"diffusers", "Foo"}, nil},
		{"clip vision", `{"model_type": "clip_vision_model", "architectures": ["Bar"]}`, Definition{"transformers", "Bar"}, nil},
		{"clip vision gewinnt", `{"_class_name": "Foo", "model_type": "clip_vision_model", "architectures": ["Bar"]}`, Definition{"transformers", "Bar"}, nil},
		{"leer", `{}`, Definition{}, ErrClassNameMissing},
		{"andere architectures", `{"model_type": "t5", "architectures": ["T5EncoderModel"]}`, Definition{}, ErrClassNameMissing},
		{"clip ohne architectures", `{"model_type": "clip_vision_model"}`, Definition{}, ErrDescriptorKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, ConfigFile, tt.config)

			got, err := Resolver{}.ResolveDefinition(dir, nil)
			if tt.target != nil {
				var cfgErr *InvalidModelConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("expected *InvalidModelConfigError, got %v", err)
				}
				if !errors.Is(err, tt.target) {
					t.Errorf("got %v, want %v", err, tt.target)
				}
				return
			}

			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("definition mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveMissingConfig(t *testing.T) {
	_, err := Resolver{}.ResolveDefinition(t.TempDir(), nil)

	var cfgErr *InvalidModelConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *InvalidModelConfigError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("cause should be os.ErrNotExist, got %v", cfgErr.Err)
	}
}

const modelIndex = `{
  "_class_name": "StableDiffusionPipeline",
  "_diffusers_version": "0.27.0",
  "unet": ["diffusers", "UNet2DConditionModel"],
  "text_encoder": ["transformers", "CLIPTextModel"],
  "safety_checker": ["stable_diffusion", "StableDiffusionSafetyChecker"],
  "feature_extractor": [null, null],
  "vae": ["diffusers", "AutoencoderKL"]
}`

func TestResolveSubmodel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ModelIndexFile, modelIndex)

	r := Resolver{}

	def, err := r.ResolveDefinition(dir, submodel(SubModelTextEncoder))
	require.NoError(t, err)
	if diff := cmp.Diff(Definition{"transformers", "CLIPTextModel"}, def); diff != "" {
		t.Errorf("definition mismatch (-want +got):\n%s", diff)
	}

	c, err := r.ResolveClass(dir, submodel(SubModelSafetyChecker))
	require.NoError(t, err)
	if c.Namespace() != NamespacePipelines || c.Name() != "StableDiffusionSafetyChecker" {
		t.Errorf("got %s.%s", c.Namespace(), c.Name())
	}

	_, err = r.ResolveDefinition(dir, submodel("unett"))
	if !errors.Is(err, ErrSubmodelNotFound) {
		t.Fatalf("got %v, want ErrSubmodelNotFound", err)
	}
	if !strings.Contains(err.Error(), `did you mean "unet"`) {
		t.Errorf("missing suggestion: %v", err)
	}

	if _, err := r.ResolveDefinition(dir, submodel("feature_extractor")); !errors.Is(err, ErrClassNameMissing) {
		t.Errorf("got %v, want ErrClassNameMissing", err)
	}

	if _, err := r.ResolveDefinition(t.TempDir(), submodel(SubModelUNet)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing model_index.json: got %v", err)
	}
}

func TestResolveUnknownClass(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ConfigFile, `{"_class_name": "UNet2DConditionModle"}`)

	_, err := Resolver{}.ResolveClass(dir, nil)
	if !errors.Is(err, ErrUnknownClass) {
		t.Fatalf("got %v, want ErrUnknownClass", err)
	}
	if !strings.Contains(err.Error(), "UNet2DConditionModel") {
		t.Errorf("missing suggestion: %v", err)
	}
}

func TestSubmodelsOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ModelIndexFile, modelIndex)

	got, err := Submodels(dir)
	require.NoError(t, err)

	want := []Submodel{
		{SubModelUNet, "diffusers", "UNet2DConditionModel"},
		{SubModelTextEncoder, "transformers", "CLIPTextModel"},
		{SubModelSafetyChecker, "stable_diffusion", "StableDiffusionSafetyChecker"},
		{SubModelVAE, "diffusers", "AutoencoderKL"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("submodels mismatch (-want +got):\n%s", diff)
	}
}

func TestClassRegistryDuplicate(t *testing.T) {
	r := NewClassRegistry()
	r.Register(NamespaceDiffusers, "Foo", NewPretrainedClass(NamespaceDiffusers, "Foo"))

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r.Register(NamespaceDiffusers, "Foo", NewPretrainedClass(NamespaceDiffusers, "Foo"))
}

// countingClass zaehlt Aufrufe und gibt fuer jede Variante einen festen Fehler zurueck
type countingClass struct {
	calls    []string
	failures map[string]error
}

func (c *countingClass) Name() string         { return "Foo" }
func (c *countingClass) Namespace() Namespace { return NamespaceDiffusers }

func (c *countingClass) FromPretrained(_ context.Context, path string, opts PretrainedOptions) (Model, error) {
	c.calls = append(c.calls, opts.Variant)
	if err := c.failures[opts.Variant]; err != nil {
		return nil, err
	}
	return &PretrainedModel{class: NewPretrainedClass(NamespaceDiffusers, "Foo"), Path: path, Variant: opts.Variant}, nil
}

func TestVariantFallback(t *testing.T) {
	tests := []struct {
		name     string
		variant  ModelRepoVariant
		format   ModelFormat
		failures map[string]error
		calls    []string
		fails    bool
	}{
		{
			name:     "fp16 fehlt",
			variant:  VariantFP16,
			format:   FormatDiffusers,
			failures: map[string]error{"fp16": &NoFileNamedError{Dir: "x", File: "diffusion_pytorch_model.fp16.safetensors"}},
			calls:    []string{"fp16", ""},
		},
		{
			name:     "anderer Fehler",
			variant:  VariantFP16,
			format:   FormatDiffusers,
			failures: map[string]error{"fp16": errors.New("corrupt header")},
			calls:    []string{"fp16"},
			fails:    true,
		},
		{
			name:     "ohne Variante kein Retry",
			format:   FormatDiffusers,
			failures: map[string]error{"": &NoFileNamedError{Dir: "x", File: "config.json"}},
			calls:    []string{""},
			fails:    true,
		},
		{
			name:     "nur ein Retry",
			variant:  VariantFP16,
			format:   FormatDiffusers,
			failures: map[string]error{"fp16": &NoFileNamedError{}, "": &NoFileNamedError{}},
			calls:    []string{"fp16", ""},
			fails:    true,
		},
		{
			name:    "Checkpoint ignoriert Variante",
			variant: VariantFP16,
			format:  FormatCheckpoint,
			calls:   []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, ConfigFile, `{"_class_name": "Foo"}`)

			class := &countingClass{failures: tt.failures}
			classes := NewClassRegistry()
			classes.Register(NamespaceDiffusers, "Foo", class)

			loader := &GenericDiffusersLoader{Resolver: Resolver{Classes: classes}, DType: ml.DTypeF16}
			cfg := ModelConfig{Name: "foo", Path: dir, Type: ModelTypeCLIPVision, Format: tt.format, RepoVariant: tt.variant}

			m, err := loader.LoadModel(t.Context(), cfg, nil)
			if tt.fails {
				if err == nil {
					t.Fatal("expected error")
				}
				if first := tt.failures[string(tt.variant)]; !errors.Is(first, ErrNoFileNamed) && err != first {
					t.Errorf("error must propagate unchanged, got %v", err)
				}
			} else {
				require.NoError(t, err)
				if m.ClassName() != "diffusers.Foo" {
					t.Errorf("ClassName() = %s", m.ClassName())
				}
			}

			if diff := cmp.Diff(tt.calls, class.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoaderRejectsSubmodel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ConfigFile, `{"_class_name": "T2IAdapter"}`)

	loader := &GenericDiffusersLoader{}
	_, err := loader.LoadModel(t.Context(), ModelConfig{Path: dir, Type: ModelTypeT2IAdapter}, submodel(SubModelUNet))
	if !errors.Is(err, ErrNoSubmodels) {
		t.Fatalf("got %v, want ErrNoSubmodels", err)
	}
	if !strings.Contains(err.Error(), "diffusers.T2IAdapter") {
		t.Errorf("error should name the model class: %v", err)
	}

	// Die Klasse wird zuerst aufgeloest
	_, err = loader.LoadModel(t.Context(), ModelConfig{Path: t.TempDir()}, submodel(SubModelUNet))
	var cfgErr *InvalidModelConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("missing config: got %v, want *InvalidModelConfigError", err)
	}
}

func TestLoadFromDisk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ConfigFile, `{"_class_name": "T2IAdapter", "in_channels": 3}`)
	writeWeights(t, dir, "diffusion_pytorch_model.safetensors", 1, 2, 3)

	cfg := ModelConfig{Name: "adapter", Path: dir, Base: BaseSDXL, Type: ModelTypeT2IAdapter, Format: FormatDiffusers, RepoVariant: VariantFP16}

	m, err := DefaultLoaders.Load(t.Context(), cfg, nil, LoaderOptions{DType: ml.DTypeF16})
	require.NoError(t, err)

	pm, ok := m.(*PretrainedModel)
	if !ok {
		t.Fatalf("got %T, want *PretrainedModel", m)
	}
	if pm.Variant != "" {
		t.Errorf("Variant = %q, want default after fallback", pm.Variant)
	}
	if got := pm.Tensor("weight").DType(); got != ml.DTypeF16 {
		t.Errorf("dtype = %s, want float16", got)
	}
	if got := m.Size(); got != 6 {
		t.Errorf("Size() = %d, want 6", got)
	}
	if string(pm.Config["in_channels"]) != "3" {
		t.Errorf("config = %v", pm.Config)
	}
}

func TestLoadFromDiskKeepsIntegerTensors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ConfigFile, `{"model_type": "clip_vision_model", "architectures": ["CLIPVisionModelWithProjection"]}`)

	ids, err := ml.NewTensor([]int{1, 3}, []float32{0, 1, 2})
	require.NoError(t, err)
	w, err := ml.NewTensor([]int{2}, []float32{0.5, 1.5})
	require.NoError(t, err)
	require.NoError(t, safetensors.Write(filepath.Join(dir, "model.safetensors"), map[string]*ml.Tensor{
		"vision_model.embeddings.position_ids": ids.To(ml.Device{}, ml.DTypeI64),
		"weight":                               w,
	}, nil))

	cfg := ModelConfig{Path: dir, Base: BaseAny, Type: ModelTypeCLIPVision, Format: FormatDiffusers}
	m, err := DefaultLoaders.Load(t.Context(), cfg, nil, LoaderOptions{DType: ml.DTypeF16})
	require.NoError(t, err)

	pm := m.(*PretrainedModel)
	pos := pm.Tensor("vision_model.embeddings.position_ids")
	require.NotNil(t, pos)
	if pos.DType() != ml.DTypeI64 {
		t.Errorf("position_ids dtype = %s, want int64", pos.DType())
	}
	if diff := cmp.Diff([]float32{0, 1, 2}, pos.Floats()); diff != "" {
		t.Errorf("position_ids mismatch (-want +got):\n%s", diff)
	}
	if got := pm.Tensor("weight").DType(); got != ml.DTypeF16 {
		t.Errorf("weight dtype = %s, want float16", got)
	}
	if got := m.Size(); got != 3*8+2*2 {
		t.Errorf("Size() = %d, want %d", got, 3*8+2*2)
	}
}

func TestLoadVariantFromDisk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ConfigFile, `{"model_type": "clip_vision_model", "architectures": ["CLIPVisionModelWithProjection"]}`)
	writeWeights(t, dir, "model.fp16.safetensors", 1)
	writeWeights(t, dir, "model.safetensors", 1, 2)

	cfg := ModelConfig{Path: dir, Base: BaseAny, Type: ModelTypeCLIPVision, Format: FormatDiffusers, RepoVariant: VariantFP16}
	m, err := DefaultLoaders.Load(t.Context(), cfg, nil, LoaderOptions{})
	require.NoError(t, err)

	pm := m.(*PretrainedModel)
	if pm.Variant != "fp16" || pm.ClassName() != "transformers.CLIPVisionModelWithProjection" {
		t.Errorf("got %s variant %q", pm.ClassName(), pm.Variant)
	}
	if diff := cmp.Diff([]float32{1}, pm.Tensor("weight").Floats()); diff != "" {
		t.Errorf("weights mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSharded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ConfigFile, `{"_class_name": "UNet2DConditionModel"}`)

	a, _ := ml.NewTensor([]int{2}, []float32{1, 2})
	b, _ := ml.NewTensor([]int{1}, []float32{3})
	require.NoError(t, safetensors.Write(filepath.Join(dir, "diffusion_pytorch_model-00001-of-00002.safetensors"), map[string]*ml.Tensor{"a": a}, nil))
	require.NoError(t, safetensors.Write(filepath.Join(dir, "diffusion_pytorch_model-00002-of-00002.safetensors"), map[string]*ml.Tensor{"b": b}, nil))

	index, err := json.Marshal(map[string]any{
		"metadata": map[string]any{"total_size": 12},
		"weight_map": map[string]string{
			"a": "diffusion_pytorch_model-00001-of-00002.safetensors",
			"b": "diffusion_pytorch_model-00002-of-00002.safetensors",
		},
	})
	require.NoError(t, err)
	writeFile(t, dir, "diffusion_pytorch_model.safetensors.index.json", string(index))

	class := NewPretrainedClass(NamespaceDiffusers, "UNet2DConditionModel")
	m, err := class.FromPretrained(t.Context(), dir, PretrainedOptions{})
	require.NoError(t, err)

	pm := m.(*PretrainedModel)
	if diff := cmp.Diff([]string{"a", "b"}, pm.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	// fehlender Shard
	require.NoError(t, os.Remove(filepath.Join(dir, "diffusion_pytorch_model-00002-of-00002.safetensors")))
	if _, err := class.FromPretrained(t.Context(), dir, PretrainedOptions{}); !errors.Is(err, ErrNoFileNamed) {
		t.Errorf("got %v, want ErrNoFileNamed", err)
	}
}

func TestNoFileNamedError(t *testing.T) {
	class := NewPretrainedClass(NamespaceTransformers, "CLIPTextModel")
	dir := t.TempDir()
	writeFile(t, dir, ConfigFile, `{}`)

	_, err := class.FromPretrained(t.Context(), dir, PretrainedOptions{Variant: "fp16"})
	var nf *NoFileNamedError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want *NoFileNamedError", err)
	}
	if nf.File != "model.fp16.safetensors" {
		t.Errorf("File = %q", nf.File)
	}
	if !strings.Contains(err.Error(), "no file named") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestLoaderRegistry(t *testing.T) {
	if _, err := DefaultLoaders.Get(BaseSD1, ModelTypeCLIPVision, FormatDiffusers); err != nil {
		t.Errorf("BaseAny fallback: %v", err)
	}
	if _, err := DefaultLoaders.Get(BaseSD1, ModelTypeMain, FormatCheckpoint); !errors.Is(err, ErrNoLoader) {
		t.Errorf("got %v, want ErrNoLoader", err)
	}
}
