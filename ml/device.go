// device.go - Geraete-Tags fuer Tensoren
// Dieses Modul enthaelt DeviceKind, Device und ParseDevice.
// Die Daten liegen immer im Host-Speicher; das Device beschreibt die
// Platzierung, die ein Backend beim Ausfuehren verwenden soll.
package ml

import (
	"fmt"
	"strconv"
	"strings"
)

type DeviceKind int

const (
	deviceUnset DeviceKind = iota
	DeviceCPU
	DeviceCUDA
	DeviceMPS
)

// Device identifiziert ein Rechengeraet. Der Nullwert bedeutet "unveraendert".
type Device struct {
	Kind  DeviceKind
	Index int
}

var CPU = Device{Kind: DeviceCPU}

// ParseDevice parst Angaben wie "cpu", "cuda", "cuda:1" oder "mps"
func ParseDevice(s string) (Device, error) {
	name, index, hasIndex := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")

	var d Device
	switch name {
	case "cpu":
		d.Kind = DeviceCPU
	case "cuda":
		d.Kind = DeviceCUDA
	case "mps":
		d.Kind = DeviceMPS
	default:
		return Device{}, fmt.Errorf("unsupported device %q", s)
	}

	if hasIndex {
		n, err := strconv.Atoi(index)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("invalid device index %q", s)
		}
		if d.Kind != DeviceCUDA && n != 0 {
			return Device{}, fmt.Errorf("device %q does not support an index", name)
		}
		d.Index = n
	}

	return d, nil
}

// IsZero meldet, ob kein Geraet angegeben wurde
func (d Device) IsZero() bool {
	return d.Kind == deviceUnset
}

func (d Device) String() string {
	switch d.Kind {
	case DeviceCPU:
		return "cpu"
	case DeviceCUDA:
		return "cuda:" + strconv.Itoa(d.Index)
	case DeviceMPS:
		return "mps"
	default:
		return ""
	}
}
