package dcgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// GeneratorOptions Hyperparameters of DCGAN generator
//
// LatentSize - size of latent vector z
// Width - depth of the first transposed convolution input. Must be multiple of 16
// Channels - number of channels of generated images
// LeakySlope - negative slope of leaky ReLU activations
//
type GeneratorOptions struct {
	LatentSize int
	Width      int
	Channels   int
	LeakySlope float64
}

// DefaultGeneratorOptions Options producing 32x32 RGB images
func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{
		LatentSize: 100,
		Width:      1024,
		Channels:   3,
		LeakySlope: DefaultLeakySlope,
	}
}

// GeneratorNet Abstraction for generator part of GAN.
// Maps (N, LatentSize) latent vectors to (N, Channels, 32, 32) images in [-1, 1].
type GeneratorNet struct {
	private *Network
	opts    GeneratorOptions
}

// Generator Constructor for GeneratorNet
//
// Linear(g) + leaky ReLU -> reshape (N, g, 1, 1) -> four transposed convolutions halving depth, each followed by
// BN + leaky ReLU -> transposed convolution to Channels with tanh. Every transposed convolution doubles spatial size.
//
func Generator(opts GeneratorOptions) (*GeneratorNet, error) {
	if opts.LatentSize <= 0 || opts.Channels <= 0 {
		return nil, fmt.Errorf("Generator's latent size and channels must be positive, but got %d and %d", opts.LatentSize, opts.Channels)
	}
	if opts.Width < 16 || opts.Width%16 != 0 {
		return nil, fmt.Errorf("Generator's width must be positive multiple of 16, but got %d", opts.Width)
	}
	leaky := Options{Alpha: opts.LeakySlope}
	g := opts.Width
	layers := []*Layer{
		NewLinear(opts.LatentSize, g, LeakyRelu, leaky),
		NewReshape(-1, g, 1, 1),
	}
	for depth := g; depth > g/16; depth /= 2 {
		layers = append(layers,
			NewTransposedConvolutional(depth, depth/2, 4, 2, 1, NoActivation),
			NewBatchNorm(depth/2, LeakyRelu, leaky),
		)
	}
	layers = append(layers, NewTransposedConvolutional(g/16, opts.Channels, 4, 2, 1, Tanh))
	return &GeneratorNet{
		private: &Network{
			Name:   "generator",
			Layers: layers,
		},
		opts: opts,
	}, nil
}

// Network Returns underlying layer sequence
func (net *GeneratorNet) Network() *Network {
	return net.private
}

// Options Returns options generator has been built with
func (net *GeneratorNet) Options() GeneratorOptions {
	return net.opts
}

func (net *GeneratorNet) String() string {
	return net.private.String()
}

// Fwd Initializates feedforward for provided latent batch on graph the binding belongs to
func (net *GeneratorNet) Fwd(b *Binding, input *gorgonia.Node, name string, mode Mode) (*Instance, error) {
	shp := input.Shape()
	if shp.Dims() != 2 || shp[1] != net.opts.LatentSize {
		return nil, fmt.Errorf("[Generator] Input should be (N, %d), but got %v", net.opts.LatentSize, shp)
	}
	inst, err := b.Fwd(input, name, mode)
	if err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	return inst, nil
}

// Synthesize Generates images for batch of latent vectors.
// Training mode normalizes by batch statistics and folds them into running ones, Inference mode uses running statistics.
func (net *GeneratorNet) Synthesize(latent *tensor.Dense, mode Mode) (*tensor.Dense, error) {
	g := gorgonia.NewGraph()
	input := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(latent.Shape()...), gorgonia.WithName("synthesize_input"))
	inst, err := net.Fwd(net.private.Bind(g), input, "synthesize", mode)
	if err != nil {
		return nil, err
	}
	out, err := runOnce(g, inst, input, latent)
	if err != nil {
		return nil, err
	}
	if mode == Training {
		if err := inst.UpdateRunningStats(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
