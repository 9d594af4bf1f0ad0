package dcgan_go

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

var (
	ErrNoClasses = errors.New("no class directories found")
	ErrNoImages  = errors.New("no images found")
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// ImageFolder Image files laid out as root/<class>/<file>. Classes are sorted by name and indexed from zero.
type ImageFolder struct {
	Root    string
	Classes []string
	Paths   []string
	Labels  []int
}

// NewImageFolder Scans class directories beneath root
func NewImageFolder(root string, logger *log.Logger) (*ImageFolder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read dataset root")
	}
	folder := &ImageFolder{Root: root}
	for _, e := range entries {
		if e.IsDir() {
			folder.Classes = append(folder.Classes, e.Name())
		}
	}
	if len(folder.Classes) == 0 {
		return nil, errors.Wrap(ErrNoClasses, root)
	}
	sort.Strings(folder.Classes)
	if len(folder.Classes) > 1 && logger != nil {
		logger.Printf("dataset %s has %d classes %v, labels are ignored during training", root, len(folder.Classes), folder.Classes)
	}
	for label, class := range folder.Classes {
		dir := filepath.Join(root, class)
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, errors.Wrap(err, "Can't read class directory")
		}
		names := make([]string, 0, len(files))
		for _, f := range files {
			if f.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			names = append(names, f.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			folder.Paths = append(folder.Paths, filepath.Join(dir, name))
			folder.Labels = append(folder.Labels, label)
		}
	}
	if len(folder.Paths) == 0 {
		return nil, errors.Wrap(ErrNoImages, root)
	}
	return folder, nil
}

// Len Returns number of images
func (f *ImageFolder) Len() int {
	return len(f.Paths)
}

// Batch Images of shape (N, C, H, W) with their class labels
type Batch struct {
	Images *tensor.Dense
	Labels []int
}

// Size Returns number of images in batch
func (b *Batch) Size() int {
	return b.Images.Shape()[0]
}

// BatchSource Iterates over batches of real images in [0, 1]
type BatchSource interface {
	// Len Number of images
	Len() int
	// Batches Number of batches per epoch. Last batch could be smaller.
	Batches() int
	// Reshuffle Prepares order for the next epoch
	Reshuffle()
	Batch(ctx context.Context, i int) (*Batch, error)
}

// LoaderOptions Configures Loader
type LoaderOptions struct {
	BatchSize int
	ImageSize int
	Shuffle   bool
	Workers   int
	Seed      uint64
}

// Loader Decodes ImageFolder into batches of (N, 3, ImageSize, ImageSize) tensors in [0, 1]
type Loader struct {
	folder *ImageFolder
	opts   LoaderOptions
	rng    *rand.Rand
	order  []int
}

func NewLoader(folder *ImageFolder, opts LoaderOptions) (*Loader, error) {
	if folder == nil || folder.Len() == 0 {
		return nil, ErrNoImages
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("Batch size must be positive, but got %d", opts.BatchSize)
	}
	if opts.ImageSize <= 0 {
		return nil, fmt.Errorf("Image size must be positive, but got %d", opts.ImageSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	l := &Loader{
		folder: folder,
		opts:   opts,
		rng:    rand.New(rand.NewSource(opts.Seed)),
		order:  make([]int, folder.Len()),
	}
	for i := range l.order {
		l.order[i] = i
	}
	return l, nil
}

func (l *Loader) Len() int {
	return l.folder.Len()
}

func (l *Loader) Batches() int {
	return (l.folder.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

func (l *Loader) Reshuffle() {
	if l.opts.Shuffle {
		l.order = l.rng.Perm(l.folder.Len())
	}
}

// Batch Decodes i-th batch of current order. Images are decoded concurrently by at most Workers goroutines.
func (l *Loader) Batch(ctx context.Context, i int) (*Batch, error) {
	if i < 0 || i >= l.Batches() {
		return nil, fmt.Errorf("Batch index %d is out of range [0, %d)", i, l.Batches())
	}
	start := i * l.opts.BatchSize
	end := start + l.opts.BatchSize
	if end > len(l.order) {
		end = len(l.order)
	}
	n, size := end-start, l.opts.ImageSize
	plane := size * size
	data := make([]float64, n*3*plane)
	labels := make([]int, n)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(l.opts.Workers)
	for j := 0; j < n; j++ {
		j := j
		idx := l.order[start+j]
		labels[j] = l.folder.Labels[idx]
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := LoadImage(l.folder.Paths[idx], size)
			if err != nil {
				return err
			}
			writeCHW(img, data[j*3*plane:(j+1)*3*plane])
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &Batch{
		Images: tensor.New(tensor.WithShape(n, 3, size, size), tensor.WithBacking(data)),
		Labels: labels,
	}, nil
}

// LoadImage Decodes image file, resizes its shorter edge to size and crops the center size x size square
func LoadImage(path string, size int) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open image")
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't decode image %s", path))
	}
	return ResizeCrop(src, size), nil
}

// ResizeCrop Bilinear resize of shorter edge to size followed by center crop
func ResizeCrop(src image.Image, size int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	sw, sh := size, size
	if w > h {
		sw = (w*size + h/2) / h
	} else if h > w {
		sh = (h*size + w/2) / w
	}
	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)
	x0, y0 := (sw-size)/2, (sh-size)/2
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), scaled, image.Pt(x0, y0), draw.Src)
	return out
}

// writeCHW Writes RGB channels of img into dst as planar [0, 1] values
func writeCHW(img *image.RGBA, dst []float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			p := y*w + x
			dst[p] = float64(img.Pix[off]) / 255
			dst[plane+p] = float64(img.Pix[off+1]) / 255
			dst[2*plane+p] = float64(img.Pix[off+2]) / 255
		}
	}
}

// Scale Maps [0, 1] images into [-1, 1] range (x*2 - 1)
func Scale(x *tensor.Dense) (*tensor.Dense, error) {
	doubled, err := x.MulScalar(2.0, true)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x*2)")
	}
	scaled, err := doubled.SubScalar(1.0, true)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-1)")
	}
	return scaled, nil
}
