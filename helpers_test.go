package dcgan_go

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/exp/rand"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// writeTestPNG Writes w x h image filled with gradient into dir/name
func writeTestPNG(dir, name string, w, h int) string {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	Expect(png.Encode(f, img)).To(Succeed())
	Expect(f.Close()).To(Succeed())
	return path
}

func randomImages(seed uint64, shape ...int) *tensor.Dense {
	t := zerosDense(shape...)
	rng := rand.New(rand.NewSource(seed))
	data := t.Data().([]float64)
	for i := range data {
		data[i] = rng.Float64()
	}
	return t
}

func expectFinite(values []float64) {
	for _, v := range values {
		Expect(math.IsNaN(v) || math.IsInf(v, 0)).To(BeFalse())
	}
}

// evalNode Runs graph once and returns copy of node's values
func evalNode(g *gorgonia.ExprGraph, n *gorgonia.Node) []float64 {
	var out gorgonia.Value
	gorgonia.Read(n, &out)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	Expect(vm.RunAll()).To(Succeed())
	switch data := out.Data().(type) {
	case float64:
		return []float64{data}
	case []float64:
		return append([]float64{}, data...)
	}
	Fail("unexpected value type")
	return nil
}

func smallDiscriminatorOptions() DiscriminatorOptions {
	opts := DefaultDiscriminatorOptions()
	opts.Width = 4
	opts.Hidden = 16
	return opts
}

func smallGeneratorOptions() GeneratorOptions {
	opts := DefaultGeneratorOptions()
	opts.LatentSize = 16
	opts.Width = 32
	return opts
}

func tempDir() string {
	dir, err := os.MkdirTemp("", "dcgan-test")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(os.RemoveAll, dir)
	return dir
}
