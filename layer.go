package dcgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer Weight+Bias+ActivationFunction combo.
//
// Weights and Bias hold the parameter values themselves, not graph nodes: the same layer could be bound
// to several expression graphs (see Network.Bind) and every binding reads and updates this memory.
// For LayerBatchNorm Weights is γ and Bias is β, both shaped (channels, 1).
//
type Layer struct {
	Type              LayerType
	Activation        ActivationFunc
	ActivationOptions []Options

	Weights *tensor.Dense
	Bias    *tensor.Dense

	KernelHeight int
	KernelWidth  int
	Padding      []int
	Stride       []int
	Dilation     []int
	ReshapeDims  []int
	Probability  float64

	norm *normState
}

type LayerType uint16

const (
	LayerLinear = LayerType(iota)
	LayerFlatten
	LayerConvolutional
	LayerTransposedConvolutional
	LayerBatchNorm
	LayerReshape
	LayerDropout
)

func (t LayerType) String() string {
	switch t {
	case LayerLinear:
		return "Linear"
	case LayerFlatten:
		return "Flatten"
	case LayerConvolutional:
		return "Convolutional"
	case LayerTransposedConvolutional:
		return "TransposedConvolutional"
	case LayerBatchNorm:
		return "BatchNorm"
	case LayerReshape:
		return "Reshape"
	case LayerDropout:
		return "Dropout"
	default:
		return fmt.Sprintf("LayerType(%d)", uint16(t))
	}
}

var (
	allowedNoWeights = []LayerType{LayerFlatten, LayerReshape, LayerDropout}
)

func noWeightsAllowed(checkType LayerType) bool {
	return checkLayerType(checkType, allowedNoWeights...)
}

func checkLayerType(checkType LayerType, t ...LayerType) bool {
	for _, typeOf := range t {
		if checkType == typeOf {
			return true
		}
	}
	return false
}

func zerosDense(shape ...int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shape...))
}

func filledDense(value float64, shape ...int) *tensor.Dense {
	t := zerosDense(shape...)
	data := t.Data().([]float64)
	for i := range data {
		data[i] = value
	}
	return t
}

// NewLinear Fully-connected layer. Weights are (out, in), bias is (1, out)
func NewLinear(in, out int, activation ActivationFunc, opts ...Options) *Layer {
	return &Layer{
		Type:              LayerLinear,
		Activation:        activation,
		ActivationOptions: opts,
		Weights:           zerosDense(out, in),
		Bias:              zerosDense(1, out),
	}
}

// NewConvolutional Square-kernel 2D convolution. Weights are (out, in, kernel, kernel), bias is (1, out, 1, 1)
func NewConvolutional(in, out, kernel, stride, padding int, activation ActivationFunc, opts ...Options) *Layer {
	return &Layer{
		Type:              LayerConvolutional,
		Activation:        activation,
		ActivationOptions: opts,
		Weights:           zerosDense(out, in, kernel, kernel),
		Bias:              zerosDense(1, out, 1, 1),
		KernelHeight:      kernel,
		KernelWidth:       kernel,
		Padding:           []int{padding, padding},
		Stride:            []int{stride, stride},
		Dilation:          []int{1, 1},
	}
}

// NewTransposedConvolutional Square-kernel 2D transposed convolution: output spatial size is (in-1)*stride - 2*padding + kernel.
//
// The filter is kept in convolution layout (out, in, kernel, kernel): the layer inserts (stride-1) zeros
// between input elements and convolves the result with padding (kernel-1-padding) and unit stride.
//
func NewTransposedConvolutional(in, out, kernel, stride, padding int, activation ActivationFunc, opts ...Options) *Layer {
	l := NewConvolutional(in, out, kernel, stride, padding, activation, opts...)
	l.Type = LayerTransposedConvolutional
	return l
}

// NewBatchNorm Per-channel batch normalization for (N, C, H, W) inputs with γ=1, β=0
func NewBatchNorm(channels int, activation ActivationFunc, opts ...Options) *Layer {
	return &Layer{
		Type:              LayerBatchNorm,
		Activation:        activation,
		ActivationOptions: opts,
		Weights:           filledDense(1, channels, 1),
		Bias:              zerosDense(channels, 1),
		norm:              newNormState(channels),
	}
}

// NewFlatten Reshapes (N, ...) into (N, rest)
func NewFlatten() *Layer {
	return &Layer{Type: LayerFlatten, Activation: NoActivation}
}

// NewReshape Reshapes input into dims. Single -1 in dims is inferred from the input size.
func NewReshape(dims ...int) *Layer {
	return &Layer{Type: LayerReshape, Activation: NoActivation, ReshapeDims: dims}
}

// NewDropout Zeroes elements with probability p during training and scales the rest by 1/(1-p)
func NewDropout(p float64) *Layer {
	return &Layer{Type: LayerDropout, Activation: NoActivation, Probability: p}
}

// Reinit Re-draws learnable parameters.
//
// Linear and convolutional kinds get weights from initializer and zeroed bias.
// Batch normalization keeps its default state; parameterless kinds are untouched.
//
func (l *Layer) Reinit(initializer Initializer) {
	switch l.Type {
	case LayerLinear, LayerConvolutional, LayerTransposedConvolutional:
		initializer.Fill(l.Weights)
		if l.Bias != nil {
			l.Bias.Zero()
		}
	case LayerBatchNorm, LayerFlatten, LayerReshape, LayerDropout:
	}
}

// Parameters Returns number of learnable values in the layer
func (l *Layer) Parameters() int {
	n := 0
	if l.Weights != nil {
		n += l.Weights.Shape().TotalSize()
	}
	if l.Bias != nil {
		n += l.Bias.Shape().TotalSize()
	}
	return n
}

func (l *Layer) String() string {
	switch l.Type {
	case LayerLinear:
		shp := l.Weights.Shape()
		return fmt.Sprintf("%s(in=%d, out=%d)", l.Type, shp[1], shp[0])
	case LayerConvolutional, LayerTransposedConvolutional:
		shp := l.Weights.Shape()
		return fmt.Sprintf("%s(%d -> %d, kernel=%dx%d, stride=%v, padding=%v)", l.Type, shp[1], shp[0], l.KernelHeight, l.KernelWidth, l.Stride, l.Padding)
	case LayerBatchNorm:
		return fmt.Sprintf("%s(%d, eps=%g, momentum=%g)", l.Type, l.Weights.Shape()[0], l.norm.Epsilon, l.norm.Momentum)
	case LayerReshape:
		return fmt.Sprintf("%s(%v)", l.Type, l.ReshapeDims)
	case LayerDropout:
		return fmt.Sprintf("%s(p=%g)", l.Type, l.Probability)
	default:
		return l.Type.String()
	}
}

// Fwd Feedforward input through the layer (activation is not applied here)
//
// weights, bias - nodes bound to l.Weights and l.Bias on the input's graph
// inst - network instance the layer is part of. Collects dropout masks and batch statistics.
//
func (l *Layer) Fwd(input, weights, bias *gorgonia.Node, inst *Instance, idx int) (*gorgonia.Node, error) {
	batchSize := input.Shape()[0]
	switch l.Type {
	case LayerLinear:
		tOp, err := gorgonia.Transpose(weights)
		if err != nil {
			return nil, errors.Wrap(err, "Can't transpose weights")
		}
		out, err := gorgonia.Mul(input, tOp)
		if err != nil {
			return nil, errors.Wrap(err, "Can't multiply input and weights")
		}
		return addBias(out, bias, []byte{0})
	case LayerConvolutional:
		out, err := gorgonia.Conv2d(input, weights, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.Padding, l.Stride, l.Dilation)
		if err != nil {
			return nil, errors.Wrap(err, "Can't convolve[2D] input by kernel")
		}
		return addBias(out, bias, []byte{0, 2, 3})
	case LayerTransposedConvolutional:
		spread, err := dilate(input, l.Stride, fmt.Sprintf("%s_%d", inst.name, idx))
		if err != nil {
			return nil, errors.Wrap(err, "Can't insert zeros between input elements")
		}
		pad := []int{l.KernelHeight - 1 - l.Padding[0], l.KernelWidth - 1 - l.Padding[1]}
		out, err := gorgonia.Conv2d(spread, weights, tensor.Shape{l.KernelHeight, l.KernelWidth}, pad, []int{1, 1}, l.Dilation)
		if err != nil {
			return nil, errors.Wrap(err, "Can't convolve[2D] spread input by kernel")
		}
		return addBias(out, bias, []byte{0, 2, 3})
	case LayerBatchNorm:
		return l.normalize(input, weights, bias, inst, idx)
	case LayerFlatten:
		out, err := gorgonia.Reshape(input, tensor.Shape{batchSize, input.Shape().TotalSize() / batchSize})
		if err != nil {
			return nil, errors.Wrap(err, "Can't flatten input")
		}
		return out, nil
	case LayerReshape:
		dims, err := resolveDims(l.ReshapeDims, input.Shape().TotalSize())
		if err != nil {
			return nil, err
		}
		out, err := gorgonia.Reshape(input, dims)
		if err != nil {
			return nil, errors.Wrap(err, "Can't reshape input")
		}
		return out, nil
	case LayerDropout:
		if inst.mode != Training || l.Probability == 0 {
			return input, nil
		}
		return inst.dropout(input, l.Probability, idx)
	default:
		return nil, fmt.Errorf("Layer type '%d' (uint16) is not handled", l.Type)
	}
}

func addBias(out, bias *gorgonia.Node, pattern []byte) (*gorgonia.Node, error) {
	if bias == nil {
		return out, nil
	}
	if out.Shape().Eq(bias.Shape()) {
		withBias, err := gorgonia.Add(out, bias)
		if err != nil {
			return nil, errors.Wrap(err, "Can't add bias to non-activated output")
		}
		return withBias, nil
	}
	withBias, err := gorgonia.BroadcastAdd(out, bias, nil, pattern)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't add bias [in broadcast term with pattern = %v] to non-activated output", pattern))
	}
	return withBias, nil
}

func resolveDims(dims []int, total int) (tensor.Shape, error) {
	known := 1
	infer := -1
	for i, d := range dims {
		if d == -1 {
			if infer != -1 {
				return nil, fmt.Errorf("Only one dimension could be inferred, but got %v", dims)
			}
			infer = i
			continue
		}
		known *= d
	}
	shp := tensor.Shape(append([]int{}, dims...))
	if infer != -1 {
		if known == 0 || total%known != 0 {
			return nil, fmt.Errorf("Can't infer dimension of %v for %d elements", dims, total)
		}
		shp[infer] = total / known
	}
	if shp.TotalSize() != total {
		return nil, fmt.Errorf("Can't reshape %d elements into %v", total, shp)
	}
	return shp, nil
}

// spreadMatrix (n, (n-1)*stride+1) 0/1 matrix moving element i to column i*stride
func spreadMatrix(n, stride int) *tensor.Dense {
	cols := (n-1)*stride + 1
	t := zerosDense(n, cols)
	data := t.Data().([]float64)
	for i := 0; i < n; i++ {
		data[i*cols+i*stride] = 1
	}
	return t
}

// dilate Inserts (stride-1) zeros between neighbouring elements of the spatial axes of (N, C, H, W) input
func dilate(input *gorgonia.Node, stride []int, name string) (*gorgonia.Node, error) {
	shp := input.Shape()
	n, c, h, w := shp[0], shp[1], shp[2], shp[3]
	dh, dw := (h-1)*stride[0]+1, (w-1)*stride[1]+1
	if dh == h && dw == w {
		return input, nil
	}
	g := input.Graph()
	out, err := gorgonia.Reshape(input, tensor.Shape{n * c * h, w})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape input into rows")
	}
	if dw != w {
		spreadW := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(w, dw), gorgonia.WithName(name+"_spread_w"), gorgonia.WithValue(spreadMatrix(w, stride[1])))
		if out, err = gorgonia.Mul(out, spreadW); err != nil {
			return nil, errors.Wrap(err, "Can't spread columns")
		}
	}
	if out, err = gorgonia.Reshape(out, tensor.Shape{n * c, h, dw}); err != nil {
		return nil, errors.Wrap(err, "Can't reshape spread rows")
	}
	if out, err = gorgonia.Transpose(out, 0, 2, 1); err != nil {
		return nil, errors.Wrap(err, "Can't swap spatial axes")
	}
	if out, err = gorgonia.Reshape(out, tensor.Shape{n * c * dw, h}); err != nil {
		return nil, errors.Wrap(err, "Can't reshape input into columns")
	}
	if dh != h {
		spreadH := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(h, dh), gorgonia.WithName(name+"_spread_h"), gorgonia.WithValue(spreadMatrix(h, stride[0])))
		if out, err = gorgonia.Mul(out, spreadH); err != nil {
			return nil, errors.Wrap(err, "Can't spread rows")
		}
	}
	if out, err = gorgonia.Reshape(out, tensor.Shape{n * c, dw, dh}); err != nil {
		return nil, errors.Wrap(err, "Can't reshape spread columns")
	}
	if out, err = gorgonia.Transpose(out, 0, 2, 1); err != nil {
		return nil, errors.Wrap(err, "Can't swap spatial axes back")
	}
	if out, err = gorgonia.Reshape(out, tensor.Shape{n, c, dh, dw}); err != nil {
		return nil, errors.Wrap(err, "Can't reshape spread input")
	}
	return out, nil
}
