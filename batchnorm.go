package dcgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	defaultNormMomentum = 0.1
	defaultNormEpsilon  = 1e-5
)

// normState Running statistics of a batch normalization layer.
// Mean and variance are (channels, 1); variance is kept unbiased.
type normState struct {
	Momentum float64
	Epsilon  float64

	RunningMean     *tensor.Dense
	RunningVariance *tensor.Dense
}

func newNormState(channels int) *normState {
	return &normState{
		Momentum:        defaultNormMomentum,
		Epsilon:         defaultNormEpsilon,
		RunningMean:     zerosDense(channels, 1),
		RunningVariance: filledDense(1, channels, 1),
	}
}

// update Blends batch statistics into running ones. Variance is the biased batch variance over count elements.
func (s *normState) update(mean, variance gorgonia.Value, count int) error {
	if mean == nil || variance == nil {
		return fmt.Errorf("Batch statistics have not been computed")
	}
	batchMean, ok := mean.Data().([]float64)
	if !ok {
		return fmt.Errorf("Batch mean should be []float64, but got %T", mean.Data())
	}
	batchVariance, ok := variance.Data().([]float64)
	if !ok {
		return fmt.Errorf("Batch variance should be []float64, but got %T", variance.Data())
	}
	runMean := s.RunningMean.Data().([]float64)
	runVariance := s.RunningVariance.Data().([]float64)
	if len(batchMean) != len(runMean) || len(batchVariance) != len(runVariance) {
		return fmt.Errorf("Batch statistics have %d channels, but layer has %d", len(batchMean), len(runMean))
	}
	unbias := 1.0
	if count > 1 {
		unbias = float64(count) / float64(count-1)
	}
	m := s.Momentum
	for i := range runMean {
		runMean[i] = (1-m)*runMean[i] + m*batchMean[i]
		runVariance[i] = (1-m)*runVariance[i] + m*batchVariance[i]*unbias
	}
	return nil
}

// normalize Batch normalization of (N, C, H, W) input.
//
// Input is laid out as (C, N*H*W) so every statistic is a plain row reduction. In training mode batch
// statistics are used and registered on inst for the running update; in inference mode the running ones are.
//
func (l *Layer) normalize(input, gamma, beta *gorgonia.Node, inst *Instance, idx int) (*gorgonia.Node, error) {
	shp := input.Shape()
	if shp.Dims() != 4 {
		return nil, fmt.Errorf("Batch normalization expects (N, C, H, W) input, but got %v", shp)
	}
	n, c, h, w := shp[0], shp[1], shp[2], shp[3]
	if c != l.Weights.Shape()[0] {
		return nil, fmt.Errorf("Batch normalization has %d channels, but input has %d", l.Weights.Shape()[0], c)
	}
	perm, err := gorgonia.Transpose(input, 1, 0, 2, 3)
	if err != nil {
		return nil, errors.Wrap(err, "Can't move channels to the first axis")
	}
	flat, err := gorgonia.Reshape(perm, tensor.Shape{c, n * h * w})
	if err != nil {
		return nil, errors.Wrap(err, "Can't flatten channels")
	}

	var mean, variance *gorgonia.Node
	if inst.mode == Training {
		if mean, err = gorgonia.Mean(flat, 1); err != nil {
			return nil, errors.Wrap(err, "Can't compute batch mean")
		}
		if mean, err = gorgonia.Reshape(mean, tensor.Shape{c, 1}); err != nil {
			return nil, errors.Wrap(err, "Can't reshape batch mean")
		}
	} else {
		mean, variance = inst.binding.runningStats(l, idx)
	}
	centered, err := gorgonia.BroadcastSub(flat, mean, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't center input")
	}
	if inst.mode == Training {
		sqr, err := gorgonia.Square(centered)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x^2)")
		}
		if variance, err = gorgonia.Mean(sqr, 1); err != nil {
			return nil, errors.Wrap(err, "Can't compute batch variance")
		}
		if variance, err = gorgonia.Reshape(variance, tensor.Shape{c, 1}); err != nil {
			return nil, errors.Wrap(err, "Can't reshape batch variance")
		}
		inst.trackStats(l, n*h*w, mean, variance)
	}

	eps := gorgonia.NewConstant(l.norm.Epsilon)
	std, err := gorgonia.Add(variance, eps)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (var+eps)")
	}
	if std, err = gorgonia.Sqrt(std); err != nil {
		return nil, errors.Wrap(err, "Can't do √x")
	}
	normed, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't divide by standard deviation")
	}
	scaled, err := gorgonia.BroadcastHadamardProd(normed, gamma, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't scale by γ")
	}
	shifted, err := gorgonia.BroadcastAdd(scaled, beta, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't shift by β")
	}
	back, err := gorgonia.Reshape(shifted, tensor.Shape{c, n, h, w})
	if err != nil {
		return nil, errors.Wrap(err, "Can't unflatten channels")
	}
	out, err := gorgonia.Transpose(back, 1, 0, 2, 3)
	if err != nil {
		return nil, errors.Wrap(err, "Can't move channels back to the second axis")
	}
	return out, nil
}
