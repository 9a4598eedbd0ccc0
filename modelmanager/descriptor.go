// descriptor.go - Lesen von model_index.json und config.json
package modelmanager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Descriptor-Dateinamen
const (
	ModelIndexFile = "model_index.json"
	ConfigFile     = "config.json"
)

// LoadDescriptor liest die JSON-Datei name aus dir. Eine fehlende Datei
// liefert einen Fehler, der os.ErrNotExist umschliesst.
func LoadDescriptor(dir, name string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}

	var desc map[string]json.RawMessage
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return desc, nil
}

// Submodel is one entry of model_index.json.
type Submodel struct {
	Name      SubModelType `json:"name"`
	Module    string       `json:"module"`
	ClassName string       `json:"class_name"`
}

// Submodels listet die Komponenten aus model_index.json in Datei-Reihenfolge.
// Schluessel mit "_" (z.B. _class_name) und leere Eintraege werden uebersprungen.
func Submodels(dir string) ([]Submodel, error) {
	data, err := os.ReadFile(filepath.Join(dir, ModelIndexFile))
	if err != nil {
		return nil, err
	}

	om := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, om); err != nil {
		return nil, fmt.Errorf("%s: %w", ModelIndexFile, err)
	}

	var out []Submodel
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		if strings.HasPrefix(pair.Key, "_") {
			continue
		}

		module, class, err := parsePair(pair.Value)
		if err != nil {
			continue
		}
		out = append(out, Submodel{Name: SubModelType(pair.Key), Module: module, ClassName: class})
	}
	return out, nil
}

// parsePair dekodiert einen ["module", "Class"] Eintrag. Eintraege wie
// [null, null] gelten als fehlende Klasse.
func parsePair(raw json.RawMessage) (module, class string, err error) {
	var pair []*string
	if err := json.Unmarshal(raw, &pair); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrDescriptorKey, err)
	}

	if len(pair) != 2 {
		return "", "", fmt.Errorf("%w: expected [module, class], got %d entries", ErrDescriptorKey, len(pair))
	}

	if pair[0] == nil || pair[1] == nil || *pair[1] == "" {
		return "", "", ErrClassNameMissing
	}
	return *pair[0], *pair[1], nil
}

// stringField gibt den String-Wert von key zurueck; fehlende Schluessel,
// null und Nicht-Strings ergeben ""
func stringField(desc map[string]json.RawMessage, key string) string {
	raw, ok := desc[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
