// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"INVOKEAI_DEBUG":        {"INVOKEAI_DEBUG", LogLevel(), "Show additional debug information (e.g. INVOKEAI_DEBUG=1)"},
		"INVOKEAI_ROOT":         {"INVOKEAI_ROOT", Root(), "The InvokeAI root directory (default $HOME/invokeai)"},
		"INVOKEAI_MODELS":       {"INVOKEAI_MODELS", Models(), "The path to the models directory"},
		"INVOKEAI_DEVICE":       {"INVOKEAI_DEVICE", Device(), "Tensor placement: cpu, cuda, cuda:N or mps (default cpu)"},
		"INVOKEAI_PRECISION":    {"INVOKEAI_PRECISION", Precision(), "Numeric precision: float32, float16, bfloat16 or auto"},
		"INVOKEAI_API_BASE":     {"INVOKEAI_API_BASE", APIBase(), "Path prefix for image and thumbnail URLs (default \"api/v1\")"},
		"INVOKEAI_LOAD_WORKERS": {"INVOKEAI_LOAD_WORKERS", LoadWorkers(), "Maximum number of weight shards decoded in parallel"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
