// types.go - Datentypen und Konstanten fuer Tensor-Operationen
// Dieses Modul definiert DType und die Rundung auf die jeweilige Praezision.
package ml

import (
	"fmt"
	"math"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType represents the data type of tensor elements.
type DType int

const (
	// DTypeOther leaves the data type unchanged when passed to [Tensor.To].
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeF64
	DTypeI64
	DTypeI32
	DTypeU8
	DTypeBool
)

// ParseDType parst eine Praezisions-Angabe wie "float16" oder "bf16"
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "fp32", "f32", "float":
		return DTypeF32, nil
	case "float16", "fp16", "f16", "half":
		return DTypeF16, nil
	case "bfloat16", "bf16":
		return DTypeBF16, nil
	default:
		return DTypeOther, fmt.Errorf("unsupported precision %q", s)
	}
}

// Size gibt die Groesse eines Elements in Bytes zurueck
func (t DType) Size() int {
	switch t {
	case DTypeF64, DTypeI64:
		return 8
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	case DTypeU8, DTypeBool:
		return 1
	default:
		return 0
	}
}

// IsFloat meldet, ob t ein Gleitkomma-Typ ist
func (t DType) IsFloat() bool {
	switch t {
	case DTypeF32, DTypeF16, DTypeBF16, DTypeF64:
		return true
	default:
		return false
	}
}

func (t DType) String() string {
	switch t {
	case DTypeF32:
		return "float32"
	case DTypeF16:
		return "float16"
	case DTypeBF16:
		return "bfloat16"
	case DTypeF64:
		return "float64"
	case DTypeI64:
		return "int64"
	case DTypeI32:
		return "int32"
	case DTypeU8:
		return "uint8"
	case DTypeBool:
		return "bool"
	default:
		return "other"
	}
}

// round gibt eine Kopie von f32s zurueck, deren Werte auf die Praezision von t gerundet sind
// Integer-Typen schneiden den Nachkommaanteil ab, float64 und int64 sind nur bis 2^24 exakt.
func (t DType) round(f32s []float32) []float32 {
	out := make([]float32, len(f32s))
	switch t {
	case DTypeF16:
		for i, f := range f32s {
			out[i] = float16.Fromfloat32(f).Float32()
		}
		return out
	case DTypeBF16:
		for i, f := range f32s {
			out[i] = roundBF16(f)
		}
		return bfloat16.DecodeFloat32(bfloat16.EncodeFloat32(out))
	case DTypeI64, DTypeI32:
		for i, f := range f32s {
			out[i] = float32(math.Trunc(float64(f)))
		}
		return out
	case DTypeU8:
		for i, f := range f32s {
			out[i] = float32(min(max(math.Trunc(float64(f)), 0), math.MaxUint8))
		}
		return out
	case DTypeBool:
		for i, f := range f32s {
			if f != 0 {
				out[i] = 1
			}
		}
		return out
	default:
		copy(out, f32s)
		return out
	}
}

// roundBF16 rundet f auf die naechste bfloat16-Zahl (round half to even).
// EncodeFloat32 schneidet die unteren 16 Bit nur ab.
func roundBF16(f float32) float32 {
	u := math.Float32bits(f)
	if u&0x7f800000 == 0x7f800000 {
		if u&0x007fffff != 0 {
			// NaN bleibt NaN, auch wenn nur untere Mantissen-Bits gesetzt sind
			u |= 0x00400000
		}
		return math.Float32frombits(u)
	}
	u += 0x7fff + (u>>16)&1
	return math.Float32frombits(u &^ 0xffff)
}

// promote gibt den breiteren der beiden Typen zurueck
func promote(a, b DType) DType {
	if a == b {
		return a
	}
	return DTypeF32
}
