package dcgan_go

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Mode Switches layers between training behaviour (dropout, batch statistics) and inference behaviour
type Mode uint8

const (
	Training = Mode(iota)
	Inference
)

func (m Mode) String() string {
	if m == Inference {
		return "inference"
	}
	return "training"
}

// Network Abstraction for neural network.
//
// Layers - simple sequence of layers
//
type Network struct {
	Name   string
	Layers []*Layer
}

func (net *Network) name() string {
	if net.Name != "" {
		return net.Name
	}
	return "network"
}

// Reinit Applies initializer to every layer of the network
func (net *Network) Reinit(initializer Initializer) {
	for _, l := range net.Layers {
		if l != nil {
			l.Reinit(initializer)
		}
	}
}

// Parameters Returns number of learnable values
func (net *Network) Parameters() int {
	n := 0
	for _, l := range net.Layers {
		if l != nil {
			n += l.Parameters()
		}
	}
	return n
}

func (net *Network) String() string {
	str := []string{net.name() + "("}
	for i, l := range net.Layers {
		str = append(str, fmt.Sprintf("  (%d): %s", i, l))
	}
	str = append(str, fmt.Sprintf(") parameters=%d", net.Parameters()))
	return strings.Join(str, "\n")
}

// Binding Network's parameters placed on a certain expression graph.
//
// weights, biases - nodes holding Layer.Weights and Layer.Bias values (nil where layer has none)
// learnables - all non-nil weights and biases in layer order
//
type Binding struct {
	net        *Network
	g          *gorgonia.ExprGraph
	weights    []*gorgonia.Node
	biases     []*gorgonia.Node
	running    map[int][2]*gorgonia.Node
	learnables gorgonia.Nodes
}

// Bind Creates parameter nodes on the graph. Nodes share memory with the layers, so any update made through
// one graph (e.g. solver step) is visible by every other graph the network is bound to.
func (net *Network) Bind(g *gorgonia.ExprGraph) *Binding {
	b := &Binding{
		net:        net,
		g:          g,
		weights:    make([]*gorgonia.Node, len(net.Layers)),
		biases:     make([]*gorgonia.Node, len(net.Layers)),
		running:    make(map[int][2]*gorgonia.Node),
		learnables: make(gorgonia.Nodes, 0, 2*len(net.Layers)),
	}
	for i, l := range net.Layers {
		if l == nil {
			continue
		}
		if l.Weights != nil {
			b.weights[i] = gorgonia.NewTensor(g, gorgonia.Float64, l.Weights.Dims(), gorgonia.WithShape(l.Weights.Shape()...), gorgonia.WithName(fmt.Sprintf("%s_w%d", net.name(), i)), gorgonia.WithValue(l.Weights))
			b.learnables = append(b.learnables, b.weights[i])
		}
		if l.Bias != nil {
			b.biases[i] = gorgonia.NewTensor(g, gorgonia.Float64, l.Bias.Dims(), gorgonia.WithShape(l.Bias.Shape()...), gorgonia.WithName(fmt.Sprintf("%s_b%d", net.name(), i)), gorgonia.WithValue(l.Bias))
			b.learnables = append(b.learnables, b.biases[i])
		}
	}
	return b
}

// Learnables Returns learnables nodes
func (b *Binding) Learnables() gorgonia.Nodes {
	return b.learnables
}

// runningStats Returns nodes bound to running mean and variance of batch normalization layer #idx
func (b *Binding) runningStats(l *Layer, idx int) (mean, variance *gorgonia.Node) {
	if nodes, ok := b.running[idx]; ok {
		return nodes[0], nodes[1]
	}
	mean = gorgonia.NewMatrix(b.g, gorgonia.Float64, gorgonia.WithShape(l.norm.RunningMean.Shape()...), gorgonia.WithName(fmt.Sprintf("%s_running_mean%d", b.net.name(), idx)), gorgonia.WithValue(l.norm.RunningMean))
	variance = gorgonia.NewMatrix(b.g, gorgonia.Float64, gorgonia.WithShape(l.norm.RunningVariance.Shape()...), gorgonia.WithName(fmt.Sprintf("%s_running_var%d", b.net.name(), idx)), gorgonia.WithValue(l.norm.RunningVariance))
	b.running[idx] = [2]*gorgonia.Node{mean, variance}
	return mean, variance
}

// Instance Single feedforward of a bound network
//
// name - prefix for every node created by the feedforward. Must be unique on the graph.
// out - alias to activated output of last layer
//
type Instance struct {
	binding *Binding
	name    string
	mode    Mode
	out     *gorgonia.Node
	masks   []*dropoutMask
	stats   []*batchStats
}

type dropoutMask struct {
	probability float64
	value       *tensor.Dense
}

type batchStats struct {
	layer    *Layer
	count    int
	mean     gorgonia.Value
	variance gorgonia.Value
}

// Out Returns reference to output node
func (inst *Instance) Out() *gorgonia.Node {
	return inst.out
}

// Mode Returns mode the instance has been built in
func (inst *Instance) Mode() Mode {
	return inst.mode
}

// Fwd Initializates feedforward for provided input
//
// input - Input node
// name - unique prefix for nodes of this feedforward
// mode - Training or Inference
//
func (b *Binding) Fwd(input *gorgonia.Node, name string, mode Mode) (*Instance, error) {
	net := b.net
	if len(net.Layers) == 0 {
		return nil, fmt.Errorf("Network must have one layer atleast")
	}
	if input.Shape().Dims() < 2 {
		return nil, fmt.Errorf("Network's input must be batched, but got shape %v", input.Shape())
	}
	inst := &Instance{binding: b, name: name, mode: mode}
	lastActivatedLayer := input
	for i, l := range net.Layers {
		if l == nil {
			return nil, fmt.Errorf("Network's layer #%d is nil", i)
		}
		if b.weights[i] == nil && !noWeightsAllowed(l.Type) {
			return nil, fmt.Errorf("Network's layer's #%d WeightNode is nil", i)
		}
		// Feedforward input through i-th layer
		layerNonActivated, err := l.Fwd(lastActivatedLayer, b.weights[i], b.biases[i], inst, i)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s, Layer #%d] Can't feedforward input before activation", name, i))
		}
		if layerNonActivated != lastActivatedLayer {
			gorgonia.WithName(fmt.Sprintf("%s_%d", name, i))(layerNonActivated)
		}
		activation := l.Activation
		if activation == nil {
			activation = NoActivation
		}
		// Activate i-th layer's output
		layerActivated, err := activation(layerNonActivated, l.ActivationOptions...)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't apply activation function to non-activated output of %s's layer #%d", name, i))
		}
		if layerActivated != layerNonActivated {
			gorgonia.WithName(fmt.Sprintf("%s_activated_%d", name, i))(layerActivated)
		}
		lastActivatedLayer = layerActivated
	}
	inst.out = lastActivatedLayer
	return inst, nil
}

func (inst *Instance) dropout(input *gorgonia.Node, probability float64, idx int) (*gorgonia.Node, error) {
	if probability < 0 || probability >= 1 {
		return nil, fmt.Errorf("Dropout probability should be in [0, 1), but got %g", probability)
	}
	mask := filledDense(1, input.Shape()...)
	maskNode := gorgonia.NewTensor(input.Graph(), gorgonia.Float64, input.Dims(), gorgonia.WithShape(input.Shape().Clone()...), gorgonia.WithName(fmt.Sprintf("%s_dropout_mask_%d", inst.name, idx)), gorgonia.WithValue(mask))
	out, err := gorgonia.HadamardProd(input, maskNode)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*mask)")
	}
	inst.masks = append(inst.masks, &dropoutMask{probability: probability, value: mask})
	return out, nil
}

func (inst *Instance) trackStats(l *Layer, count int, mean, variance *gorgonia.Node) {
	s := &batchStats{layer: l, count: count}
	gorgonia.Read(mean, &s.mean)
	gorgonia.Read(variance, &s.variance)
	inst.stats = append(inst.stats, s)
}

// SampleMasks Draws new dropout masks. Must be called before each run of the graph in Training mode.
func (inst *Instance) SampleMasks(src rand.Source) {
	for _, m := range inst.masks {
		keep := 1 - m.probability
		bernoulli := distuv.Bernoulli{P: keep, Src: src}
		data := m.value.Data().([]float64)
		for i := range data {
			data[i] = bernoulli.Rand() / keep
		}
	}
}

// UpdateRunningStats Folds batch statistics of the last run into running statistics of batch normalization layers
func (inst *Instance) UpdateRunningStats() error {
	for _, s := range inst.stats {
		if err := s.layer.norm.update(s.mean, s.variance, s.count); err != nil {
			return errors.Wrap(err, fmt.Sprintf("[%s] Can't update running statistics", inst.name))
		}
	}
	return nil
}
