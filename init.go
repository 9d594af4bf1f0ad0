package dcgan_go

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// DefaultInitStdDev Standard deviation of DCGAN weight initialization
const DefaultInitStdDev = 0.02

// Initializer Fills parameter tensor in place
type Initializer interface {
	Fill(t *tensor.Dense)
}

// NormalInitializer Draws values from N(Mean, StdDev^2)
type NormalInitializer struct {
	Mean   float64
	StdDev float64
	Src    rand.Source
}

func (ni NormalInitializer) Fill(t *tensor.Dense) {
	dist := distuv.Normal{Mu: ni.Mean, Sigma: ni.StdDev, Src: ni.Src}
	data := t.Data().([]float64)
	for i := range data {
		data[i] = dist.Rand()
	}
}

// InitWeightsNormal Applies N(0, std^2) initialization to every provided network
func InitWeightsNormal(src rand.Source, std float64, nets ...*Network) {
	initializer := NormalInitializer{Mean: 0, StdDev: std, Src: src}
	for _, net := range nets {
		net.Reinit(initializer)
	}
}

// ParameterStats Mean and standard deviation of all weights of given kinds of layers
func ParameterStats(net *Network, kinds ...LayerType) (mean, std float64) {
	values := []float64{}
	for _, l := range net.Layers {
		if l == nil || l.Weights == nil || !checkLayerType(l.Type, kinds...) {
			continue
		}
		values = append(values, l.Weights.Data().([]float64)...)
	}
	if len(values) == 0 {
		return 0, 0
	}
	return stat.MeanStdDev(values, nil)
}
