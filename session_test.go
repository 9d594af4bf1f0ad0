package dcgan_go

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorgonia.org/tensor"
)

func smallConfig(samplesPath string) *Config {
	cfg := DefaultConfig()
	cfg.SamplesPath = samplesPath
	cfg.BatchSize = 8
	cfg.Epochs = 1
	cfg.PrintEvery = 1
	cfg.DiscriminatorWidth = 4
	cfg.DiscriminatorHidden = 16
	cfg.GeneratorWidth = 32
	cfg.LatentSize = 16
	cfg.Device = "cpu"
	return cfg
}

var _ = Describe("Session", func() {
	var (
		path string
		cfg  *Config
	)

	BeforeEach(func() {
		path = filepath.Join(tempDir(), "train_samples.gob")
		cfg = smallConfig(path)
	})

	It("should train one epoch end to end", func() {
		set, err := NewTrainSet(randomImages(11, 16, 3, 32, 32), cfg.BatchSize, true, cfg.Seed)
		Expect(err).NotTo(HaveOccurred())
		buf := &bytes.Buffer{}
		session, err := NewSession(cfg, set, log.New(buf, "", 0))
		Expect(err).NotTo(HaveOccurred())
		defer session.Close()

		result, err := session.Train(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Losses).To(HaveLen(2))
		for i, l := range result.Losses {
			Expect(l.Epoch).To(Equal(1))
			Expect(l.Batch).To(Equal(i))
			expectFinite([]float64{l.Discriminator, l.Generator})
			Expect(l.Discriminator).To(BeNumerically(">=", 0))
			Expect(l.Generator).To(BeNumerically(">=", 0))
		}
		Expect(buf.String()).To(ContainSubstring("Epoch [    1/    1] | d_loss: "))

		Expect(result.Snapshots).To(HaveLen(1))
		loaded, err := LoadSnapshots(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(HaveLen(1))
		Expect(loaded[0].Epoch).To(Equal(1))
		Expect(loaded[0].Shape).To(Equal([]int{16, 3, 32, 32}))
		for _, v := range loaded[0].Data {
			Expect(v).To(BeNumerically(">=", -1))
			Expect(v).To(BeNumerically("<=", 1))
		}
	})

	It("should record losses every PrintEvery batches starting from the first one", func() {
		cfg.BatchSize = 2
		cfg.PrintEvery = 2
		cfg.SamplesPath = ""
		set, err := NewTrainSet(randomImages(12, 6, 3, 32, 32), cfg.BatchSize, false, cfg.Seed)
		Expect(err).NotTo(HaveOccurred())
		session, err := NewSession(cfg, set, nil)
		Expect(err).NotTo(HaveOccurred())
		defer session.Close()

		result, err := session.Train(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Losses).To(HaveLen(2))
		Expect(result.Losses[0].Batch).To(Equal(0))
		Expect(result.Losses[1].Batch).To(Equal(2))
		_, err = os.Stat(path)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should update both networks and keep separate graphs for partial batches", func() {
		set, err := NewTrainSet(randomImages(13, 10, 3, 32, 32), cfg.BatchSize, false, cfg.Seed)
		Expect(err).NotTo(HaveOccurred())
		session, err := NewSession(cfg, set, nil)
		Expect(err).NotTo(HaveOccurred())
		defer session.Close()

		genWeights := session.Generator().Network().Layers[0].Weights.Clone().(*tensor.Dense)
		disWeights := session.Discriminator().Network().Layers[0].Weights.Clone().(*tensor.Dense)
		result, err := session.Train(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Losses).To(HaveLen(2))
		Expect(session.disSteps).To(HaveLen(2))
		Expect(session.Generator().Network().Layers[0].Weights.Data()).NotTo(Equal(genWeights.Data()))
		Expect(session.Discriminator().Network().Layers[0].Weights.Data()).NotTo(Equal(disWeights.Data()))
	})

	It("should sample the fixed latent batch deterministically", func() {
		set, err := NewTrainSet(randomImages(14, 8, 3, 32, 32), cfg.BatchSize, false, cfg.Seed)
		Expect(err).NotTo(HaveOccurred())
		session, err := NewSession(cfg, set, nil)
		Expect(err).NotTo(HaveOccurred())
		defer session.Close()

		first, err := session.Sample()
		Expect(err).NotTo(HaveOccurred())
		second, err := session.Sample()
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Shape()).To(Equal(tensor.Shape{16, 3, 32, 32}))
		Expect(second.Data()).To(Equal(first.Data()))
	})

	It("should stop on cancelled context without persisting", func() {
		set, err := NewTrainSet(randomImages(15, 16, 3, 32, 32), cfg.BatchSize, true, cfg.Seed)
		Expect(err).NotTo(HaveOccurred())
		session, err := NewSession(cfg, set, nil)
		Expect(err).NotTo(HaveOccurred())
		defer session.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = session.Train(ctx)
		Expect(err).To(MatchError(context.Canceled))
		_, err = os.Stat(path)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should reject invalid config", func() {
		cfg.GeneratorWidth = 30
		set, err := NewTrainSet(randomImages(16, 2, 3, 32, 32), 2, false, 1)
		Expect(err).NotTo(HaveOccurred())
		_, err = NewSession(cfg, set, nil)
		Expect(err).To(HaveOccurred())
	})
})
