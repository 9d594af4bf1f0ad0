package dcgan_go

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/tensor"
)

// UniformRandDense Return reference to tensor.Dense filled with uniformly distributed float64 values in range [min;max)
//
// src - Source of randomness
// batchSize - Simply batch size
// n - Number of elements in each batch
// Resulting dense will have batchSize*n elements
//
func UniformRandDense(src rand.Source, batchSize, n int, min, max float64) *tensor.Dense {
	dist := distuv.Uniform{Min: min, Max: max, Src: src}
	data := make([]float64, batchSize*n)
	for i := range data {
		data[i] = dist.Rand()
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// PlotLosses Plot discriminator and generator losses against index of record
func PlotLosses(losses []LossRecord, fname string) error {
	if len(losses) == 0 {
		return fmt.Errorf("There are no losses to plot")
	}
	dis := make(plotter.XYs, len(losses))
	gen := make(plotter.XYs, len(losses))
	for i, l := range losses {
		dis[i].X, dis[i].Y = float64(i), l.Discriminator
		gen[i].X, gen[i].Y = float64(i), l.Generator
	}
	disLine, err := plotter.NewLine(dis)
	if err != nil {
		return errors.Wrap(err, "Can't init discriminator line")
	}
	disLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 128}
	genLine, err := plotter.NewLine(gen)
	if err != nil {
		return errors.Wrap(err, "Can't init generator line")
	}
	genLine.Color = color.RGBA{R: 255, G: 127, B: 14, A: 128}
	p := plot.New()
	p.Title.Text = "Training Losses"
	p.X.Label.Text = "Record"
	p.Y.Label.Text = "Loss"
	p.Add(plotter.NewGrid())
	p.Add(disLine, genLine)
	p.Legend.Add("Discriminator", disLine)
	p.Legend.Add("Generator", genLine)
	// Save the plot to a PNG file.
	if err := p.Save(8*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}

// SampleGrid Lays out (N, 3, H, W) images in [-1, 1] as rows x cols grid. Pixel values are ((x+1)*255/2).
// Missing images leave black cells, extra images are dropped.
func SampleGrid(images *tensor.Dense, rows, cols int) (*image.RGBA, error) {
	shp := images.Shape()
	if shp.Dims() != 4 || shp[1] != 3 {
		return nil, fmt.Errorf("Images should be (N, 3, H, W), but got %v", shp)
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("Grid should have positive size, but got %dx%d", rows, cols)
	}
	n, h, w := shp[0], shp[2], shp[3]
	plane := h * w
	data := images.Data().([]float64)
	grid := image.NewRGBA(image.Rect(0, 0, cols*w, rows*h))
	for i := 0; i < n && i < rows*cols; i++ {
		ox, oy := (i%cols)*w, (i/cols)*h
		item := data[i*3*plane : (i+1)*3*plane]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p := y*w + x
				grid.SetRGBA(ox+x, oy+y, color.RGBA{
					R: toPixel(item[p]),
					G: toPixel(item[plane+p]),
					B: toPixel(item[2*plane+p]),
					A: 255,
				})
			}
		}
	}
	return grid, nil
}

func toPixel(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, (v+1)*255/2)))
}

// SavePNG Writes image into PNG file
func SavePNG(img image.Image, fname string) error {
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create file")
	}
	if err = png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrap(err, "Can't encode PNG")
	}
	return f.Close()
}
