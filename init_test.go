package dcgan_go

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/exp/rand"
)

var _ = Describe("Weight initialization", func() {
	var (
		d   *DiscriminatorNet
		gen *GeneratorNet
	)

	BeforeEach(func() {
		var err error
		d, err = Discriminator(smallDiscriminatorOptions())
		Expect(err).NotTo(HaveOccurred())
		gen, err = Generator(smallGeneratorOptions())
		Expect(err).NotTo(HaveOccurred())
		for _, net := range []*Network{d.Network(), gen.Network()} {
			for _, l := range net.Layers {
				if l.Bias != nil && l.Type != LayerBatchNorm {
					l.Bias.Memset(1.0)
				}
			}
		}
		InitWeightsNormal(rand.NewSource(42), DefaultInitStdDev, d.Network(), gen.Network())
	})

	It("should draw weights from N(0, 0.02^2)", func() {
		mean, std := ParameterStats(gen.Network(), LayerLinear, LayerConvolutional, LayerTransposedConvolutional)
		Expect(mean).To(BeNumerically("~", 0, 0.002))
		Expect(std).To(BeNumerically("~", DefaultInitStdDev, 0.002))

		mean, std = ParameterStats(d.Network(), LayerLinear, LayerConvolutional)
		Expect(mean).To(BeNumerically("~", 0, 0.002))
		Expect(std).To(BeNumerically("~", DefaultInitStdDev, 0.002))
	})

	It("should zero biases of linear and convolutional layers", func() {
		for _, net := range []*Network{d.Network(), gen.Network()} {
			for _, l := range net.Layers {
				if !checkLayerType(l.Type, LayerLinear, LayerConvolutional, LayerTransposedConvolutional) {
					continue
				}
				for _, v := range l.Bias.Data().([]float64) {
					Expect(v).To(BeZero())
				}
			}
		}
	})

	It("should keep batch normalization defaults", func() {
		found := 0
		for _, net := range []*Network{d.Network(), gen.Network()} {
			for _, l := range net.Layers {
				if l.Type != LayerBatchNorm {
					continue
				}
				found++
				for _, v := range l.Weights.Data().([]float64) {
					Expect(v).To(Equal(1.0))
				}
				for _, v := range l.Bias.Data().([]float64) {
					Expect(v).To(BeZero())
				}
				for _, v := range l.norm.RunningMean.Data().([]float64) {
					Expect(v).To(BeZero())
				}
				for _, v := range l.norm.RunningVariance.Data().([]float64) {
					Expect(v).To(Equal(1.0))
				}
			}
		}
		Expect(found).To(Equal(7))
	})

	It("should be reproducible for the same seed", func() {
		other, err := Generator(smallGeneratorOptions())
		Expect(err).NotTo(HaveOccurred())
		InitWeightsNormal(rand.NewSource(42), DefaultInitStdDev, other.Network())
		again, err := Generator(smallGeneratorOptions())
		Expect(err).NotTo(HaveOccurred())
		InitWeightsNormal(rand.NewSource(42), DefaultInitStdDev, again.Network())
		for i, l := range other.Network().Layers {
			if l.Weights != nil {
				Expect(l.Weights.Data()).To(Equal(again.Network().Layers[i].Weights.Data()))
			}
		}
	})
})
