// apply.go - Anwenden eines Layers auf Basis-Gewichte
package lora

import (
	"fmt"

	"github.com/invoke-ai/invokeai/ml"
)

// Module sind die Parameter des Ziel-Layers, auf den ein Adapter wirkt
type Module struct {
	Weight *ml.Tensor
	Bias   *ml.Tensor
}

// Apply gibt m + weight*scale*delta zurueck. Das Delta wird auf die Shape,
// das Device und die Praezision der Basis-Gewichte gebracht. m bleibt unveraendert.
func Apply(m Module, layer *LoRALayer, weight float32) (Module, error) {
	if m.Weight == nil {
		return Module{}, fmt.Errorf("module has no weight")
	}

	params, err := layer.Parameters(m.Weight)
	if err != nil {
		return Module{}, err
	}

	factor := layer.Scale() * weight

	out := Module{Bias: m.Bias}
	delta := params["weight"].To(m.Weight.Device(), m.Weight.DType()).Scale(factor)
	if out.Weight, err = ml.Add(m.Weight, delta); err != nil {
		return Module{}, fmt.Errorf("weight: %w", err)
	}

	if bias, ok := params["bias"]; ok {
		if m.Bias == nil {
			return Module{}, fmt.Errorf("layer has a bias but the module does not")
		}

		if bias, err = bias.Reshape(m.Bias.Shape()...); err != nil {
			return Module{}, fmt.Errorf("bias: %w", err)
		}

		if out.Bias, err = ml.Add(m.Bias, bias.To(m.Bias.Device(), m.Bias.DType()).Scale(factor)); err != nil {
			return Module{}, fmt.Errorf("bias: %w", err)
		}
	}

	return out, nil
}
