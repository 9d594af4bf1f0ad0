package dcgan_go

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LossRecord Losses of a single recorded batch
type LossRecord struct {
	Epoch         int
	Batch         int
	Discriminator float64
	Generator     float64
}

// TrainResult Everything training run produces
type TrainResult struct {
	Losses    []LossRecord
	Snapshots []Snapshot
}

// Session Training state: both networks, their graphs, machines and solvers.
//
// Graphs built by a session:
//  - Discriminator step graph (one per distinct real batch size)
//  - Generator forward graph in training mode (fake images for Discriminator step)
//  - Generator step graph (Generator -> Discriminator, gradients for Generator only)
//  - Generator forward graph in inference mode (per-epoch samples on the fixed latent batch)
// Every graph binds the same parameter memory, so solver steps made on one graph are seen by the others.
//
type Session struct {
	cfg    *Config
	data   BatchSource
	logger *log.Logger
	device Device
	src    rand.Source

	discriminator *DiscriminatorNet
	generator     *GeneratorNet

	disSolver gorgonia.Solver
	genSolver gorgonia.Solver

	disSteps map[int]*discriminatorStep
	fakes    *generatorForward
	genStep  *generatorStep
	sampler  *generatorForward

	fixedLatent *tensor.Dense
}

// NewSession Builds networks, initializes their weights and prepares graphs. Nil logger discards output.
func NewSession(cfg *Config, data BatchSource, logger *log.Logger) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid config")
	}
	if data == nil || data.Len() == 0 {
		return nil, ErrNoImages
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	device, err := ParseDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg,
		data:     data,
		logger:   logger,
		device:   device.Resolve(logger.Printf),
		src:      rand.NewSource(cfg.Seed),
		disSteps: make(map[int]*discriminatorStep),
	}
	if s.discriminator, err = Discriminator(cfg.discriminatorOptions()); err != nil {
		return nil, errors.Wrap(err, "Can't define Discriminator")
	}
	if s.generator, err = Generator(cfg.generatorOptions()); err != nil {
		return nil, errors.Wrap(err, "Can't define Generator")
	}
	InitWeightsNormal(s.src, cfg.InitStdDev, s.discriminator.Network(), s.generator.Network())

	if s.fakes, err = newGeneratorForward(s.generator, cfg.SampleSize, "fake", Training); err != nil {
		return nil, errors.Wrap(err, "Can't define Generator feedforward")
	}
	if s.genStep, err = newGeneratorStep(s.generator, s.discriminator, cfg.SampleSize); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "Can't define GAN")
	}
	if s.sampler, err = newGeneratorForward(s.generator, cfg.SampleSize, "sample", Inference); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "Can't define Generator sampler")
	}
	s.disSolver = gorgonia.NewAdamSolver(gorgonia.WithLearnRate(cfg.DiscriminatorLearningRate), gorgonia.WithBeta1(cfg.Beta1), gorgonia.WithBeta2(cfg.Beta2))
	s.genSolver = gorgonia.NewAdamSolver(gorgonia.WithLearnRate(cfg.GeneratorLearningRate), gorgonia.WithBeta1(cfg.Beta1), gorgonia.WithBeta2(cfg.Beta2))
	s.fixedLatent = s.Latent()
	return s, nil
}

// Discriminator Returns discriminator being trained
func (s *Session) Discriminator() *DiscriminatorNet {
	return s.discriminator
}

// Generator Returns generator being trained
func (s *Session) Generator() *GeneratorNet {
	return s.generator
}

// Device Returns device graphs run on
func (s *Session) Device() Device {
	return s.device
}

// FixedLatent Returns latent batch used for per-epoch samples
func (s *Session) FixedLatent() *tensor.Dense {
	return s.fixedLatent
}

// Latent Draws (SampleSize, LatentSize) batch uniformly from [-1, 1]
func (s *Session) Latent() *tensor.Dense {
	return UniformRandDense(s.src, s.cfg.SampleSize, s.cfg.LatentSize, -1, 1)
}

// discriminatorStep Returns Discriminator step graph for given real batch size, building it on first use
func (s *Session) discriminatorStep(batchSize int) (*discriminatorStep, error) {
	if step, ok := s.disSteps[batchSize]; ok {
		return step, nil
	}
	step, err := newDiscriminatorStep(s.discriminator, batchSize, s.cfg.SampleSize)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't define Discriminator step for batch size %d", batchSize))
	}
	s.disSteps[batchSize] = step
	return step, nil
}

// Step One adversarial update on batch of real images scaled to [-1, 1].
//
// Discriminator is updated on real images and Generator's output for fresh z, then Generator is updated
// through Discriminator on the same z. Returns both losses computed before corresponding update.
//
func (s *Session) Step(real *tensor.Dense) (dLoss, gLoss float64, err error) {
	if real.Dims() != 4 {
		return 0, 0, fmt.Errorf("Real images should be (N, C, H, W), but got %v", real.Shape())
	}
	z := s.Latent()
	fake, err := s.fakes.run(z)
	if err != nil {
		return 0, 0, errors.Wrap(err, "Can't generate fake images")
	}
	dStep, err := s.discriminatorStep(real.Shape()[0])
	if err != nil {
		return 0, 0, err
	}
	if dLoss, err = dStep.run(real, fake, s.src, s.disSolver); err != nil {
		return 0, 0, errors.Wrap(err, "Can't train Discriminator")
	}
	if gLoss, err = s.genStep.run(z, s.src, s.genSolver); err != nil {
		return 0, 0, errors.Wrap(err, "Can't train Generator")
	}
	return dLoss, gLoss, nil
}

// Sample Generates images for the fixed latent batch in inference mode
func (s *Session) Sample() (*tensor.Dense, error) {
	images, err := s.sampler.run(s.fixedLatent)
	if err != nil {
		return nil, errors.Wrap(err, "Can't sample Generator")
	}
	return images, nil
}

// Train Runs cfg.Epochs epochs over data. Losses are recorded for every batch with index divisible by PrintEvery,
// one snapshot is taken at the end of each epoch. Snapshots are written to cfg.SamplesPath when it's not empty.
// Cancelled context stops training between batches and nothing is persisted.
func (s *Session) Train(ctx context.Context) (*TrainResult, error) {
	result := &TrainResult{
		Losses:    []LossRecord{},
		Snapshots: make([]Snapshot, 0, s.cfg.Epochs),
	}
	s.logger.Println(s.discriminator)
	s.logger.Println(s.generator)
	for epoch := 1; epoch <= s.cfg.Epochs; epoch++ {
		s.data.Reshuffle()
		for i := 0; i < s.data.Batches(); i++ {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, "Training has been interrupted")
			}
			batch, err := s.data.Batch(ctx, i)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("Can't load batch #%d", i))
			}
			images, err := Scale(batch.Images)
			if err != nil {
				return nil, err
			}
			dLoss, gLoss, err := s.Step(images)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("[Epoch %d, Batch #%d]", epoch, i))
			}
			if i%s.cfg.PrintEvery == 0 {
				result.Losses = append(result.Losses, LossRecord{Epoch: epoch, Batch: i, Discriminator: dLoss, Generator: gLoss})
				s.logger.Printf("Epoch [%5d/%5d] | d_loss: %6.4f | g_loss: %6.4f", epoch, s.cfg.Epochs, dLoss, gLoss)
			}
		}
		samples, err := s.Sample()
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[Epoch %d]", epoch))
		}
		result.Snapshots = append(result.Snapshots, NewSnapshot(epoch, samples))
	}
	if s.cfg.SamplesPath != "" {
		if err := SaveSnapshots(s.cfg.SamplesPath, result.Snapshots); err != nil {
			return nil, err
		}
		s.logger.Printf("saved %d snapshots to %s", len(result.Snapshots), s.cfg.SamplesPath)
	}
	return result, nil
}

// Close Releases tape machines of every graph
func (s *Session) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, step := range s.disSteps {
		keep(step.close())
	}
	if s.fakes != nil {
		keep(s.fakes.close())
	}
	if s.genStep != nil {
		keep(s.genStep.close())
	}
	if s.sampler != nil {
		keep(s.sampler.close())
	}
	return first
}

// ToDot Returns GraphViz description of the Generator step graph
func (s *Session) ToDot() string {
	return s.genStep.graph.ToDot()
}
