package dcgan_go

import (
	"strings"

	"github.com/pkg/errors"
)

// Device Compute device training runs on
type Device uint8

const (
	DeviceCPU = Device(iota)
	DeviceAuto
	DeviceCUDA
)

func (d Device) String() string {
	switch d {
	case DeviceAuto:
		return "auto"
	case DeviceCUDA:
		return "cuda"
	default:
		return "cpu"
	}
}

// ParseDevice Parses device name. Empty name means "auto"
func ParseDevice(name string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return DeviceAuto, nil
	case "cpu":
		return DeviceCPU, nil
	case "cuda", "gpu":
		return DeviceCUDA, nil
	default:
		return DeviceCPU, errors.Errorf("unknown device %q (expected auto, cpu, cuda or gpu)", name)
	}
}

// Resolve Returns device graphs will actually run on. Only gorgonia's CPU engine is compiled in,
// so accelerator requests fall back to CPU with a message.
func (d Device) Resolve(logf func(format string, v ...interface{})) Device {
	if d == DeviceCPU {
		return DeviceCPU
	}
	if logf != nil {
		logf("No GPU found. Please use a GPU to train your neural network.")
	}
	return DeviceCPU
}
