package dcgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

func reduce(x *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(x)
	case LossReductionMean:
		return gorgonia.Mean(x)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// BinaryCrossEntropyWithLogitsLoss Binary cross entropy evaluated on raw logits.
// Uses max(x,0) - x*t + log(1+exp(-|x|)) form so large |x| never overflows.
// Default reduction is 'mean'
func BinaryCrossEntropyWithLogitsLoss(logits, target *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	if !logits.Shape().Eq(target.Shape()) {
		return nil, fmt.Errorf("Logits shape %v doesn't match target shape %v", logits.Shape(), target.Shape())
	}
	relu, err := gorgonia.Rectify(logits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do max(x,0)")
	}
	hprod, err := gorgonia.HadamardProd(logits, target)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*t)")
	}
	abs, err := gorgonia.Abs(logits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do |x|")
	}
	neg, err := gorgonia.Neg(abs)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	exp, err := gorgonia.Exp(neg)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do exp(x)")
	}
	softplus, err := gorgonia.Log1p(exp)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(1+x)")
	}
	sub, err := gorgonia.Sub(relu, hprod)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	loss, err := gorgonia.Add(sub, softplus)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	return reduce(loss, reduction...)
}

// RealLoss Mean BCE of logits against "real" (all ones) labels
func RealLoss(logits *gorgonia.Node) (*gorgonia.Node, error) {
	target := gorgonia.NewTensor(logits.Graph(), logits.Dtype(), logits.Dims(), gorgonia.WithShape(logits.Shape().Clone()...), gorgonia.WithName(logits.Name()+"_real_target"), gorgonia.WithInit(gorgonia.Ones()))
	return BinaryCrossEntropyWithLogitsLoss(logits, target)
}

// FakeLoss Mean BCE of logits against "fake" (all zeros) labels
func FakeLoss(logits *gorgonia.Node) (*gorgonia.Node, error) {
	target := gorgonia.NewTensor(logits.Graph(), logits.Dtype(), logits.Dims(), gorgonia.WithShape(logits.Shape().Clone()...), gorgonia.WithName(logits.Name()+"_fake_target"), gorgonia.WithInit(gorgonia.Zeroes()))
	return BinaryCrossEntropyWithLogitsLoss(logits, target)
}
