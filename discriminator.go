package dcgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DiscriminatorOptions Hyperparameters of DCGAN discriminator
//
// ImageSize - height and width of square input images
// Channels - number of image channels
// Width - depth of the first convolutional layer (doubled by each next one)
// Hidden - size of hidden fully-connected layer
// Dropout - dropout probability before the output layer
// LeakySlope - negative slope of leaky ReLU activations
//
type DiscriminatorOptions struct {
	ImageSize  int
	Channels   int
	Width      int
	Hidden     int
	Dropout    float64
	LeakySlope float64
}

// DefaultDiscriminatorOptions Options for 32x32 RGB images
func DefaultDiscriminatorOptions() DiscriminatorOptions {
	return DiscriminatorOptions{
		ImageSize:  32,
		Channels:   3,
		Width:      64,
		Hidden:     512,
		Dropout:    0.3,
		LeakySlope: DefaultLeakySlope,
	}
}

// DiscriminatorNet Abstraction for discriminator part of GAN. It's simple neural network actually.
// Maps (N, C, H, W) images to (N, 1) unbounded logits.
type DiscriminatorNet struct {
	private *Network
	opts    DiscriminatorOptions
}

// Discriminator Constructor for DiscriminatorNet
//
// conv(C -> d) + BN -> conv(d -> 2d) + BN -> conv(2d -> 4d) + BN -> conv(4d -> 8d), each with kernel 4, stride 2,
// padding 1 and leaky ReLU. Then flatten -> Linear(hidden) + leaky ReLU -> Dropout -> Linear(1).
//
func Discriminator(opts DiscriminatorOptions) (*DiscriminatorNet, error) {
	if opts.Width <= 0 || opts.Hidden <= 0 || opts.Channels <= 0 {
		return nil, fmt.Errorf("Discriminator's width, hidden size and channels must be positive, but got %d, %d and %d", opts.Width, opts.Hidden, opts.Channels)
	}
	if opts.ImageSize <= 0 || opts.ImageSize%16 != 0 {
		return nil, fmt.Errorf("Discriminator's image size must be positive multiple of 16, but got %d", opts.ImageSize)
	}
	if opts.Dropout < 0 || opts.Dropout >= 1 {
		return nil, fmt.Errorf("Discriminator's dropout must be in [0, 1), but got %g", opts.Dropout)
	}
	leaky := Options{Alpha: opts.LeakySlope}
	d := opts.Width
	spatial := opts.ImageSize / 16
	layers := []*Layer{
		NewConvolutional(opts.Channels, d, 4, 2, 1, NoActivation),
		NewBatchNorm(d, LeakyRelu, leaky),
		NewConvolutional(d, 2*d, 4, 2, 1, NoActivation),
		NewBatchNorm(2*d, LeakyRelu, leaky),
		NewConvolutional(2*d, 4*d, 4, 2, 1, NoActivation),
		NewBatchNorm(4*d, LeakyRelu, leaky),
		NewConvolutional(4*d, 8*d, 4, 2, 1, LeakyRelu, leaky),
		NewFlatten(),
		NewLinear(spatial*spatial*8*d, opts.Hidden, LeakyRelu, leaky),
		NewDropout(opts.Dropout),
		NewLinear(opts.Hidden, 1, NoActivation),
	}
	return &DiscriminatorNet{
		private: &Network{
			Name:   "discriminator",
			Layers: layers,
		},
		opts: opts,
	}, nil
}

// Network Returns underlying layer sequence
func (net *DiscriminatorNet) Network() *Network {
	return net.private
}

// Options Returns options discriminator has been built with
func (net *DiscriminatorNet) Options() DiscriminatorOptions {
	return net.opts
}

func (net *DiscriminatorNet) String() string {
	return net.private.String()
}

// Fwd Initializates feedforward for provided input on graph the binding belongs to
func (net *DiscriminatorNet) Fwd(b *Binding, input *gorgonia.Node, name string, mode Mode) (*Instance, error) {
	shp := input.Shape()
	if shp.Dims() != 4 || shp[1] != net.opts.Channels || shp[2] != net.opts.ImageSize || shp[3] != net.opts.ImageSize {
		return nil, fmt.Errorf("[Discriminator] Input should be (N, %d, %d, %d), but got %v", net.opts.Channels, net.opts.ImageSize, net.opts.ImageSize, shp)
	}
	inst, err := b.Fwd(input, name, mode)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	return inst, nil
}

// Classify Evaluates logits for batch of images in inference mode (running statistics, no dropout)
func (net *DiscriminatorNet) Classify(images *tensor.Dense) (*tensor.Dense, error) {
	g := gorgonia.NewGraph()
	input := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(images.Shape()...), gorgonia.WithName("classify_input"))
	inst, err := net.Fwd(net.private.Bind(g), input, "classify", Inference)
	if err != nil {
		return nil, err
	}
	return runOnce(g, inst, input, images)
}

// runOnce Feeds value into input, runs graph once and returns copy of instance's output
func runOnce(g *gorgonia.ExprGraph, inst *Instance, input *gorgonia.Node, value *tensor.Dense) (*tensor.Dense, error) {
	var out gorgonia.Value
	gorgonia.Read(inst.Out(), &out)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := gorgonia.Let(input, value); err != nil {
		return nil, errors.Wrap(err, "Can't init input value")
	}
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run VM")
	}
	dense, ok := out.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Output should be *tensor.Dense, but got %T", out)
	}
	return dense.Clone().(*tensor.Dense), nil
}
