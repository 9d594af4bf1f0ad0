package dcgan_go

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorgonia.org/tensor"
)

var _ = Describe("Snapshots", func() {
	It("should persist snapshots in epoch order", func() {
		path := filepath.Join(tempDir(), "train_samples.gob")
		snapshots := []Snapshot{
			NewSnapshot(1, randomImages(1, 2, 3, 4, 4)),
			NewSnapshot(2, randomImages(2, 2, 3, 4, 4)),
		}
		Expect(SaveSnapshots(path, snapshots)).To(Succeed())
		_, err := os.Stat(filepath.Join(filepath.Dir(path), ".train_samples.gob"))
		Expect(os.IsNotExist(err)).To(BeTrue())

		loaded, err := LoadSnapshots(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(Equal(snapshots))
		Expect(loaded[1].Epoch).To(Equal(2))
		Expect(loaded[0].Tensor().Shape()).To(Equal(tensor.Shape{2, 3, 4, 4}))
	})

	It("should copy tensor data", func() {
		images := randomImages(3, 1, 3, 2, 2)
		snapshot := NewSnapshot(1, images)
		images.Data().([]float64)[0] = 42
		Expect(snapshot.Data[0]).NotTo(Equal(42.0))
	})

	It("should reject inconsistent snapshot", func() {
		buf := &bytes.Buffer{}
		Expect(EncodeSnapshots(buf, []Snapshot{{Epoch: 1, Shape: []int{1, 3, 2, 2}, Data: []float64{1}}})).To(Succeed())
		_, err := DecodeSnapshots(buf)
		Expect(err).To(HaveOccurred())
	})

	It("should fail on missing file", func() {
		_, err := LoadSnapshots(filepath.Join(tempDir(), "missing.gob"))
		Expect(err).To(HaveOccurred())
	})
})
