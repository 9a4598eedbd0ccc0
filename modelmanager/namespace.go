// namespace.go - Zuordnung von Modulnamen zu Klassen-Namespaces
package modelmanager

// Namespace is where a class is defined.
type Namespace int

const (
	NamespaceDiffusers Namespace = iota
	NamespaceTransformers
	// NamespacePipelines ist der Fallback fuer jedes andere Modul
	NamespacePipelines
)

var namespaceModules = map[string]Namespace{
	"diffusers":    NamespaceDiffusers,
	"transformers": NamespaceTransformers,
}

// NamespaceFor ordnet einen Modulnamen seinem Namespace zu. Nur
// "diffusers" und "transformers" sind bekannt, alles andere (z.B.
// "stable_diffusion") landet bei den Pipelines.
func NamespaceFor(module string) Namespace {
	if ns, ok := namespaceModules[module]; ok {
		return ns
	}
	return NamespacePipelines
}

func (ns Namespace) String() string {
	switch ns {
	case NamespaceDiffusers:
		return "diffusers"
	case NamespaceTransformers:
		return "transformers"
	case NamespacePipelines:
		return "diffusers.pipelines"
	default:
		return "unknown"
	}
}

// weightsName ist der Basisname der Gewichtsdateien in diesem Namespace
func (ns Namespace) weightsName() string {
	if ns == NamespaceTransformers {
		return "model"
	}
	return "diffusion_pytorch_model"
}
