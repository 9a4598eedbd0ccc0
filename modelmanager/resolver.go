// resolver.go - Bestimmt die Klasse, die ein Modell-Verzeichnis laedt
package modelmanager

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// model_type eines CLIP-Vision Encoders in config.json
const clipVisionModelType = "clip_vision_model"

// Definition is the (module, class) pair read from a descriptor.
type Definition struct {
	Module    string
	ClassName string
}

func (d Definition) String() string {
	return d.Module + "." + d.ClassName
}

// Resolver liest Descriptoren und schlaegt Klassen in Classes nach
type Resolver struct {
	Classes *ClassRegistry
}

// ResolveClass gibt die Klasse fuer path zurueck. Mit submodel wird der
// Eintrag aus model_index.json genutzt, sonst config.json.
func (r Resolver) ResolveClass(path string, submodel *SubModelType) (Class, error) {
	def, err := r.ResolveDefinition(path, submodel)
	if err != nil {
		return nil, err
	}

	classes := r.Classes
	if classes == nil {
		classes = DefaultClasses
	}

	c, err := classes.Lookup(NamespaceFor(def.Module), def.ClassName)
	if err != nil {
		return nil, &InvalidModelConfigError{Path: path, Reason: "cannot load " + def.String(), Err: err}
	}
	return c, nil
}

// ResolveDefinition gibt das (Modul, Klasse) Paar fuer path zurueck, ohne
// die Klasse nachzuschlagen
func (r Resolver) ResolveDefinition(path string, submodel *SubModelType) (Definition, error) {
	if submodel != nil {
		return resolveSubmodel(path, *submodel)
	}
	return resolveConfig(path)
}

func resolveSubmodel(path string, submodel SubModelType) (Definition, error) {
	reason := fmt.Sprintf("the %q submodel is not available for this model", submodel)

	index, err := LoadDescriptor(path, ModelIndexFile)
	if err != nil {
		return Definition{}, &InvalidModelConfigError{Path: path, Reason: reason, Err: err}
	}

	raw, ok := index[string(submodel)]
	if !ok {
		keys := slices.DeleteFunc(slices.Collect(maps.Keys(index)), func(k string) bool {
			return strings.HasPrefix(k, "_")
		})
		return Definition{}, &InvalidModelConfigError{
			Path:   path,
			Reason: withSuggestion(reason, string(submodel), keys),
			Err:    fmt.Errorf("%w: %s", ErrSubmodelNotFound, submodel),
		}
	}

	module, class, err := parsePair(raw)
	if err != nil {
		return Definition{}, &InvalidModelConfigError{Path: path, Reason: reason, Err: err}
	}
	return Definition{Module: module, ClassName: class}, nil
}

func resolveConfig(path string) (Definition, error) {
	config, err := LoadDescriptor(path, ConfigFile)
	if err != nil {
		return Definition{}, &InvalidModelConfigError{Path: path, Reason: "an expected config.json file is missing from this model", Err: err}
	}

	var def Definition
	if class := stringField(config, "_class_name"); class != "" {
		def = Definition{Module: "diffusers", ClassName: class}
	}

	// CLIP-Vision Encoder ueberschreiben _class_name mit architectures[0]
	if stringField(config, "model_type") == clipVisionModelType {
		var architectures []string
		if raw, ok := config["architectures"]; ok {
			if err := json.Unmarshal(raw, &architectures); err != nil {
				return Definition{}, &InvalidModelConfigError{Path: path, Reason: "invalid architectures", Err: fmt.Errorf("%w: %v", ErrDescriptorKey, err)}
			}
		}

		if len(architectures) == 0 || architectures[0] == "" {
			return Definition{}, &InvalidModelConfigError{Path: path, Reason: "clip vision config without architectures", Err: fmt.Errorf("%w: architectures", ErrDescriptorKey)}
		}
		def = Definition{Module: "transformers", ClassName: architectures[0]}
	}

	if def.ClassName == "" {
		return Definition{}, &InvalidModelConfigError{
			Path:   path,
			Reason: "unable to decipher load class based on given config.json",
			Err:    ErrClassNameMissing,
		}
	}
	return def, nil
}
