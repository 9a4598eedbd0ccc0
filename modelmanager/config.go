// Package modelmanager - Laden von Diffusers/Transformers Modellen von der Platte
//
// Dieses Modul enthaelt:
// - Modell-Konfiguration (Basis, Typ, Format, Repo-Variante)
// - Descriptor-Parsing (model_index.json, config.json)
// - Klassen-Aufloesung ueber eine Namespace-Tabelle
// - GenericDiffusersLoader mit einmaligem Variant-Fallback
package modelmanager

// BaseModelType is the model family a configuration belongs to.
type BaseModelType string

const (
	BaseAny         BaseModelType = "any"
	BaseSD1         BaseModelType = "sd-1"
	BaseSD2         BaseModelType = "sd-2"
	BaseSDXL        BaseModelType = "sdxl"
	BaseSDXLRefiner BaseModelType = "sdxl-refiner"
	BaseFlux        BaseModelType = "flux"
)

// ModelType is what the model does.
type ModelType string

const (
	ModelTypeMain       ModelType = "main"
	ModelTypeVAE        ModelType = "vae"
	ModelTypeLoRA       ModelType = "lora"
	ModelTypeControlNet ModelType = "controlnet"
	ModelTypeT2IAdapter ModelType = "t2i_adapter"
	ModelTypeCLIPVision ModelType = "clip_vision"
	ModelTypeIPAdapter  ModelType = "ip_adapter"
)

// ModelFormat is the on-disk layout of a model.
type ModelFormat string

const (
	FormatDiffusers  ModelFormat = "diffusers"
	FormatCheckpoint ModelFormat = "checkpoint"
)

// SubModelType names a component of a multi-part pipeline.
type SubModelType string

const (
	SubModelUNet          SubModelType = "unet"
	SubModelTextEncoder   SubModelType = "text_encoder"
	SubModelTextEncoder2  SubModelType = "text_encoder_2"
	SubModelTokenizer     SubModelType = "tokenizer"
	SubModelTokenizer2    SubModelType = "tokenizer_2"
	SubModelVAE           SubModelType = "vae"
	SubModelVAEDecoder    SubModelType = "vae_decoder"
	SubModelVAEEncoder    SubModelType = "vae_encoder"
	SubModelScheduler     SubModelType = "scheduler"
	SubModelSafetyChecker SubModelType = "safety_checker"
	SubModelTransformer   SubModelType = "transformer"
)

// ModelRepoVariant selects an alternate weight file, e.g.
// diffusion_pytorch_model.fp16.safetensors
type ModelRepoVariant string

const (
	VariantDefault  ModelRepoVariant = ""
	VariantFP16     ModelRepoVariant = "fp16"
	VariantFP32     ModelRepoVariant = "fp32"
	VariantONNX     ModelRepoVariant = "onnx"
	VariantOpenVINO ModelRepoVariant = "openvino"
	VariantFlax     ModelRepoVariant = "flax"
)

// ModelConfig describes an installed model.
type ModelConfig struct {
	Key         string           `json:"key"`
	Name        string           `json:"name"`
	Path        string           `json:"path"`
	Base        BaseModelType    `json:"base"`
	Type        ModelType        `json:"type"`
	Format      ModelFormat      `json:"format"`
	RepoVariant ModelRepoVariant `json:"repo_variant,omitempty"`
}

// variant gibt die Repo-Variante zurueck; nur Diffusers-Modelle haben eine
func (c ModelConfig) variant() string {
	if c.Format != FormatDiffusers {
		return ""
	}
	return string(c.RepoVariant)
}
