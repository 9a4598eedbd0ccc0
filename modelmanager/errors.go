// errors.go - Fehlertypen des Model-Managers
package modelmanager

import (
	"errors"
	"fmt"
	"slices"

	"github.com/agnivade/levenshtein"
)

var (
	ErrSubmodelNotFound = errors.New("submodel not found")
	ErrClassNameMissing = errors.New("class name missing")
	ErrDescriptorKey    = errors.New("descriptor key missing")
	ErrUnknownClass     = errors.New("unknown class")
	ErrNoFileNamed      = errors.New("no file named")
	ErrNoSubmodels      = errors.New("model has no submodels")
	ErrNoLoader         = errors.New("no loader registered")
)

// InvalidModelConfigError is returned when a model's descriptors do not
// identify a loadable class.
type InvalidModelConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *InvalidModelConfigError) Error() string {
	msg := "invalid model configuration: " + e.Path
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidModelConfigError) Unwrap() error {
	return e.Err
}

// NoFileNamedError meldet eine fehlende Gewichts- oder Konfigurationsdatei
type NoFileNamedError struct {
	Dir  string
	File string
}

func (e *NoFileNamedError) Error() string {
	return fmt.Sprintf("no file named %s found in directory %s", e.File, e.Dir)
}

func (e *NoFileNamedError) Is(target error) bool {
	return target == ErrNoFileNamed
}

// suggest gibt den Kandidaten mit der kleinsten Levenshtein-Distanz zu key
// zurueck, oder "" wenn keiner nah genug ist
func suggest(key string, candidates []string) string {
	best, bestDist := "", len(key)/2+1
	for _, c := range slices.Sorted(slices.Values(candidates)) {
		if d := levenshtein.ComputeDistance(key, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// withSuggestion haengt einen "did you mean" Hinweis an reason an
func withSuggestion(reason, key string, candidates []string) string {
	if s := suggest(key, candidates); s != "" && s != key {
		return fmt.Sprintf("%s (did you mean %q?)", reason, s)
	}
	return reason
}
