package dcgan_go

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// discriminatorStep Graph for Discriminator training: d_loss = RealLoss(D(real)) + FakeLoss(D(fake)).
// Fake images are plain input values, so Generator's parameters never receive gradients here.
//
// realIn, fakeIn - input nodes for real and generated images
// realOut, fakeOut - two feedforwards of the same Discriminator binding
//
type discriminatorStep struct {
	graph      *gorgonia.ExprGraph
	realIn     *gorgonia.Node
	fakeIn     *gorgonia.Node
	realOut    *Instance
	fakeOut    *Instance
	learnables gorgonia.Nodes
	loss       gorgonia.Value
	vm         gorgonia.VM
}

func newDiscriminatorStep(d *DiscriminatorNet, realSize, fakeSize int) (*discriminatorStep, error) {
	opts := d.Options()
	step := &discriminatorStep{graph: gorgonia.NewGraph()}
	g := step.graph
	binding := d.Network().Bind(g)
	step.learnables = binding.Learnables()

	step.realIn = gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(realSize, opts.Channels, opts.ImageSize, opts.ImageSize), gorgonia.WithName("discriminator_real_input"))
	step.fakeIn = gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(fakeSize, opts.Channels, opts.ImageSize, opts.ImageSize), gorgonia.WithName("discriminator_fake_input"))

	var err error
	if step.realOut, err = d.Fwd(binding, step.realIn, "d_real", Training); err != nil {
		return nil, errors.Wrap(err, "Can't build feedforward for real images")
	}
	if step.fakeOut, err = d.Fwd(binding, step.fakeIn, "d_fake", Training); err != nil {
		return nil, errors.Wrap(err, "Can't build feedforward for fake images")
	}
	realLoss, err := RealLoss(step.realOut.Out())
	if err != nil {
		return nil, errors.Wrap(err, "Can't define loss for real images")
	}
	fakeLoss, err := FakeLoss(step.fakeOut.Out())
	if err != nil {
		return nil, errors.Wrap(err, "Can't define loss for fake images")
	}
	cost, err := gorgonia.Add(realLoss, fakeLoss)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	gorgonia.WithName("discriminator_loss")(cost)
	if _, err = gorgonia.Grad(cost, step.learnables...); err != nil {
		return nil, errors.Wrap(err, "Can't define gradients for Discriminator")
	}
	gorgonia.Read(cost, &step.loss)
	step.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(step.learnables...))
	return step, nil
}

// run Does one optimization step of Discriminator and returns loss before the step
func (step *discriminatorStep) run(real, fake *tensor.Dense, src rand.Source, solver gorgonia.Solver) (float64, error) {
	defer step.vm.Reset()
	if err := gorgonia.Let(step.realIn, real); err != nil {
		return 0, errors.Wrap(err, "Can't init real images value")
	}
	if err := gorgonia.Let(step.fakeIn, fake); err != nil {
		return 0, errors.Wrap(err, "Can't init fake images value")
	}
	step.realOut.SampleMasks(src)
	step.fakeOut.SampleMasks(src)
	if err := step.vm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "Can't run Discriminator VM")
	}
	loss, err := scalarValue(step.loss)
	if err != nil {
		return 0, errors.Wrap(err, "Can't read Discriminator loss")
	}
	if err := solver.Step(gorgonia.NodesToValueGrads(step.learnables)); err != nil {
		return 0, errors.Wrap(err, "Can't do Discriminator solver step")
	}
	if err := step.realOut.UpdateRunningStats(); err != nil {
		return 0, err
	}
	if err := step.fakeOut.UpdateRunningStats(); err != nil {
		return 0, err
	}
	return loss, nil
}

func (step *discriminatorStep) close() error {
	return step.vm.Close()
}

// generatorForward Gradient-free Generator feedforward. Training mode is used for fake images of Discriminator step,
// Inference mode for per-epoch samples.
type generatorForward struct {
	graph *gorgonia.ExprGraph
	input *gorgonia.Node
	inst  *Instance
	out   gorgonia.Value
	vm    gorgonia.VM
}

func newGeneratorForward(gen *GeneratorNet, batchSize int, name string, mode Mode) (*generatorForward, error) {
	fwd := &generatorForward{graph: gorgonia.NewGraph()}
	g := fwd.graph
	fwd.input = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batchSize, gen.Options().LatentSize), gorgonia.WithName(name+"_input"))
	var err error
	if fwd.inst, err = gen.Fwd(gen.Network().Bind(g), fwd.input, name, mode); err != nil {
		return nil, err
	}
	gorgonia.Read(fwd.inst.Out(), &fwd.out)
	fwd.vm = gorgonia.NewTapeMachine(g)
	return fwd, nil
}

// run Generates images for latent batch. Returned tensor is a copy and survives further runs.
func (fwd *generatorForward) run(latent *tensor.Dense) (*tensor.Dense, error) {
	defer fwd.vm.Reset()
	if err := gorgonia.Let(fwd.input, latent); err != nil {
		return nil, errors.Wrap(err, "Can't init latent value")
	}
	if err := fwd.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run Generator VM")
	}
	out, ok := fwd.out.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Generator output should be *tensor.Dense, but got %T", fwd.out)
	}
	if fwd.inst.Mode() == Training {
		if err := fwd.inst.UpdateRunningStats(); err != nil {
			return nil, err
		}
	}
	return out.Clone().(*tensor.Dense), nil
}

func (fwd *generatorForward) close() error {
	return fwd.vm.Close()
}

// generatorStep Graph for Generator training: g_loss = RealLoss(D(G(z))).
// Discriminator is bound onto the same graph, but only Generator's learnables get gradients and solver updates.
type generatorStep struct {
	graph      *gorgonia.ExprGraph
	input      *gorgonia.Node
	genOut     *Instance
	disOut     *Instance
	learnables gorgonia.Nodes
	loss       gorgonia.Value
	vm         gorgonia.VM
}

func newGeneratorStep(gen *GeneratorNet, d *DiscriminatorNet, batchSize int) (*generatorStep, error) {
	step := &generatorStep{graph: gorgonia.NewGraph()}
	g := step.graph
	genBinding := gen.Network().Bind(g)
	step.learnables = genBinding.Learnables()
	step.input = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batchSize, gen.Options().LatentSize), gorgonia.WithName("gan_input"))

	var err error
	if step.genOut, err = gen.Fwd(genBinding, step.input, "gan_generator", Training); err != nil {
		return nil, errors.Wrap(err, "Can't build Generator part of GAN")
	}
	if step.disOut, err = d.Fwd(d.Network().Bind(g), step.genOut.Out(), "gan_discriminator", Training); err != nil {
		return nil, errors.Wrap(err, "Can't build Discriminator part of GAN")
	}
	cost, err := RealLoss(step.disOut.Out())
	if err != nil {
		return nil, errors.Wrap(err, "Can't define GAN loss")
	}
	gorgonia.WithName("gan_loss")(cost)
	if _, err = gorgonia.Grad(cost, step.learnables...); err != nil {
		return nil, errors.Wrap(err, "Can't define gradients for Generator")
	}
	gorgonia.Read(cost, &step.loss)
	step.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(step.learnables...))
	return step, nil
}

// run Does one optimization step of Generator and returns loss before the step
func (step *generatorStep) run(latent *tensor.Dense, src rand.Source, solver gorgonia.Solver) (float64, error) {
	defer step.vm.Reset()
	if err := gorgonia.Let(step.input, latent); err != nil {
		return 0, errors.Wrap(err, "Can't init latent value")
	}
	step.disOut.SampleMasks(src)
	if err := step.vm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "Can't run GAN VM")
	}
	loss, err := scalarValue(step.loss)
	if err != nil {
		return 0, errors.Wrap(err, "Can't read GAN loss")
	}
	if err := solver.Step(gorgonia.NodesToValueGrads(step.learnables)); err != nil {
		return 0, errors.Wrap(err, "Can't do Generator solver step")
	}
	if err := step.genOut.UpdateRunningStats(); err != nil {
		return 0, err
	}
	if err := step.disOut.UpdateRunningStats(); err != nil {
		return 0, err
	}
	return loss, nil
}

func (step *generatorStep) close() error {
	return step.vm.Close()
}

// scalarValue Extracts float64 from scalar (or single element) value. Non-finite values are errors.
func scalarValue(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("Value has not been computed")
	}
	var f float64
	switch data := v.Data().(type) {
	case float64:
		f = data
	case []float64:
		if len(data) != 1 {
			return 0, fmt.Errorf("Expected single value, but got %d", len(data))
		}
		f = data[0]
	default:
		return 0, fmt.Errorf("Expected float64 value, but got %T", data)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("Value is not finite: %v", f)
	}
	return f, nil
}
