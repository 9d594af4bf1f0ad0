package dcgan_go

import (
	"gorgonia.org/gorgonia"
)

// DefaultLeakySlope Negative slope used by LeakyRelu when no Options.Alpha is provided
const DefaultLeakySlope = 0.01

// ActivationFunc Just an alias to Gorgonia'a api_gen.go - https://github.com/gorgonia/gorgonia/blob/master/api_gen.go#L1
type ActivationFunc func(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)

func NoActivation(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error) { return a, nil }
func Tanh(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)         { return gorgonia.Tanh(a) }

// LeakyRelu Leaky rectification: x for x >= 0, alpha*x otherwise.
// First provided option with non-zero 'Alpha' overrides DefaultLeakySlope.
func LeakyRelu(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error) {
	alpha := DefaultLeakySlope
	for i := range opts {
		if opts[i].Alpha != 0 {
			alpha = opts[i].Alpha
			break
		}
	}
	return gorgonia.LeakyRelu(a, alpha)
}

// Options Struct for holding options for certain activation functions.
type Options struct {
	Alpha float64
}
