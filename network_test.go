package dcgan_go

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var _ = Describe("Layers", func() {
	It("should insert zeros between elements in transposed convolution", func() {
		net := &Network{Name: "tconv", Layers: []*Layer{NewTransposedConvolutional(1, 1, 1, 2, 0, NoActivation)}}
		net.Layers[0].Weights.Data().([]float64)[0] = 1

		g := gorgonia.NewGraph()
		input := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 1, 2, 2), gorgonia.WithName("input"),
			gorgonia.WithValue(tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{1, 2, 3, 4}))))
		inst, err := net.Bind(g).Fwd(input, "tconv", Inference)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Out().Shape()).To(Equal(tensor.Shape{1, 1, 3, 3}))
		Expect(evalNode(g, inst.Out())).To(Equal([]float64{
			1, 0, 2,
			0, 0, 0,
			3, 0, 4,
		}))
	})

	It("should double spatial size with kernel 4, stride 2 and padding 1", func() {
		net := &Network{Name: "tconv", Layers: []*Layer{NewTransposedConvolutional(2, 3, 4, 2, 1, NoActivation)}}
		g := gorgonia.NewGraph()
		input := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(5, 2, 3, 3), gorgonia.WithName("input"))
		inst, err := net.Bind(g).Fwd(input, "tconv", Training)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Out().Shape()).To(Equal(tensor.Shape{5, 3, 6, 6}))
	})

	It("should apply dropout only in training mode", func() {
		net := &Network{Name: "drop", Layers: []*Layer{NewDropout(0.5)}}
		ones := func() *tensor.Dense { return filledDense(1, 8, 16) }

		g := gorgonia.NewGraph()
		input := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(8, 16), gorgonia.WithName("input"), gorgonia.WithValue(ones()))
		inst, err := net.Bind(g).Fwd(input, "drop", Training)
		Expect(err).NotTo(HaveOccurred())
		inst.SampleMasks(rand.NewSource(7))
		zeros := 0
		for _, v := range evalNode(g, inst.Out()) {
			Expect(v == 0 || v == 2).To(BeTrue())
			if v == 0 {
				zeros++
			}
		}
		Expect(zeros).To(BeNumerically(">", 0))
		Expect(zeros).To(BeNumerically("<", 8*16))

		g = gorgonia.NewGraph()
		input = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(8, 16), gorgonia.WithName("input"), gorgonia.WithValue(ones()))
		inst, err = net.Bind(g).Fwd(input, "drop", Inference)
		Expect(err).NotTo(HaveOccurred())
		Expect(evalNode(g, inst.Out())).To(Equal(ones().Data().([]float64)))
	})

	It("should normalize by batch statistics and track running ones", func() {
		net := &Network{Name: "bn", Layers: []*Layer{NewBatchNorm(2, NoActivation)}}
		images := randomImages(3, 4, 2, 3, 3)
		data := append([]float64{}, images.Data().([]float64)...)

		g := gorgonia.NewGraph()
		input := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(4, 2, 3, 3), gorgonia.WithName("input"), gorgonia.WithValue(images))
		inst, err := net.Bind(g).Fwd(input, "bn", Training)
		Expect(err).NotTo(HaveOccurred())
		out := evalNode(g, inst.Out())
		Expect(inst.UpdateRunningStats()).To(Succeed())

		norm := net.Layers[0].norm
		for c := 0; c < 2; c++ {
			channel := []float64{}
			normed := []float64{}
			for n := 0; n < 4; n++ {
				start := (n*2 + c) * 9
				channel = append(channel, data[start:start+9]...)
				normed = append(normed, out[start:start+9]...)
			}
			mean, variance := stat.Mean(channel, nil), stat.Variance(channel, nil)
			Expect(norm.RunningMean.Data().([]float64)[c]).To(BeNumerically("~", 0.1*mean, 1e-9))
			Expect(norm.RunningVariance.Data().([]float64)[c]).To(BeNumerically("~", 0.9+0.1*variance, 1e-9))

			normedMean, normedStd := stat.PopMeanStdDev(normed, nil)
			Expect(normedMean).To(BeNumerically("~", 0, 1e-9))
			Expect(normedStd).To(BeNumerically("~", 1, 1e-3))
		}
	})

	It("should use running statistics in inference mode", func() {
		net := &Network{Name: "bn", Layers: []*Layer{NewBatchNorm(1, NoActivation)}}
		norm := net.Layers[0].norm
		norm.RunningMean.Data().([]float64)[0] = 2
		norm.RunningVariance.Data().([]float64)[0] = 4 - norm.Epsilon

		g := gorgonia.NewGraph()
		input := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 1, 1, 2), gorgonia.WithName("input"),
			gorgonia.WithValue(tensor.New(tensor.WithShape(1, 1, 1, 2), tensor.WithBacking([]float64{2, 6}))))
		inst, err := net.Bind(g).Fwd(input, "bn", Inference)
		Expect(err).NotTo(HaveOccurred())
		out := evalNode(g, inst.Out())
		Expect(out[0]).To(BeNumerically("~", 0, 1e-9))
		Expect(out[1]).To(BeNumerically("~", 2, 1e-9))
	})

	It("should refuse empty network", func() {
		g := gorgonia.NewGraph()
		input := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 2), gorgonia.WithName("input"))
		_, err := (&Network{}).Bind(g).Fwd(input, "empty", Training)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Discriminator", func() {
	var d *DiscriminatorNet

	BeforeEach(func() {
		var err error
		d, err = Discriminator(smallDiscriminatorOptions())
		Expect(err).NotTo(HaveOccurred())
		InitWeightsNormal(rand.NewSource(1), DefaultInitStdDev, d.Network())
	})

	It("should return one logit per image", func() {
		logits, err := d.Classify(randomImages(1, 5, 3, 32, 32))
		Expect(err).NotTo(HaveOccurred())
		Expect(logits.Shape()).To(Equal(tensor.Shape{5, 1}))
		expectFinite(logits.Data().([]float64))
	})

	It("should reject images of wrong size", func() {
		_, err := d.Classify(randomImages(1, 2, 3, 16, 16))
		Expect(err).To(HaveOccurred())
	})

	It("should have default architecture of the face model", func() {
		def, err := Discriminator(DefaultDiscriminatorOptions())
		Expect(err).NotTo(HaveOccurred())
		layers := def.Network().Layers
		Expect(layers).To(HaveLen(11))
		Expect(layers[6].Weights.Shape()).To(Equal(tensor.Shape{512, 256, 4, 4}))
		Expect(layers[8].Weights.Shape()).To(Equal(tensor.Shape{512, 2 * 2 * 512}))
		Expect(layers[9].Probability).To(Equal(0.3))
		Expect(layers[10].Weights.Shape()).To(Equal(tensor.Shape{1, 512}))
	})

	It("should reject invalid options", func() {
		opts := smallDiscriminatorOptions()
		opts.Dropout = 1
		_, err := Discriminator(opts)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Generator", func() {
	var gen *GeneratorNet

	BeforeEach(func() {
		var err error
		gen, err = Generator(smallGeneratorOptions())
		Expect(err).NotTo(HaveOccurred())
		InitWeightsNormal(rand.NewSource(2), DefaultInitStdDev, gen.Network())
	})

	It("should produce 32x32 RGB images in [-1, 1]", func() {
		z := UniformRandDense(rand.NewSource(3), 4, 16, -1, 1)
		for _, mode := range []Mode{Training, Inference} {
			images, err := gen.Synthesize(z, mode)
			Expect(err).NotTo(HaveOccurred())
			Expect(images.Shape()).To(Equal(tensor.Shape{4, 3, 32, 32}))
			for _, v := range images.Data().([]float64) {
				Expect(math.Abs(v)).To(BeNumerically("<=", 1))
			}
		}
	})

	It("should be idempotent without optimizer steps", func() {
		z := UniformRandDense(rand.NewSource(4), 4, 16, -1, 1)
		first, err := gen.Synthesize(z, Training)
		Expect(err).NotTo(HaveOccurred())
		second, err := gen.Synthesize(z, Training)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Data()).To(Equal(first.Data()))
	})

	It("should reject latent of wrong size", func() {
		_, err := gen.Synthesize(UniformRandDense(rand.NewSource(5), 2, 7, -1, 1), Inference)
		Expect(err).To(HaveOccurred())
	})

	It("should require width divisible by 16", func() {
		opts := smallGeneratorOptions()
		opts.Width = 40
		_, err := Generator(opts)
		Expect(err).To(HaveOccurred())
	})

	It("should print its layers", func() {
		str := gen.String()
		Expect(str).To(HavePrefix("generator("))
		Expect(str).To(ContainSubstring("TransposedConvolutional(32 -> 16"))
		Expect(str).To(ContainSubstring("BatchNorm(16"))
	})
})
