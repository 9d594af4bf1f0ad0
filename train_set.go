package dcgan_go

import (
	"context"
	"fmt"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
)

// TrainSet In-memory images of shape (N, C, H, W) in [0, 1], served in batches
type TrainSet struct {
	TrainData  *tensor.Dense
	BatchSize  int
	DataLength int

	shuffle bool
	rng     *rand.Rand
	order   []int
}

// NewTrainSet Wraps images tensor. When shuffle is set Reshuffle permutes images with seeded source.
func NewTrainSet(images *tensor.Dense, batchSize int, shuffle bool, seed uint64) (*TrainSet, error) {
	if images.Dims() != 4 {
		return nil, fmt.Errorf("Train data should be (N, C, H, W), but got %v", images.Shape())
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("Batch size must be positive, but got %d", batchSize)
	}
	n := images.Shape()[0]
	if n == 0 {
		return nil, ErrNoImages
	}
	set := &TrainSet{
		TrainData:  images,
		BatchSize:  batchSize,
		DataLength: n,
		shuffle:    shuffle,
		rng:        rand.New(rand.NewSource(seed)),
		order:      make([]int, n),
	}
	for i := range set.order {
		set.order[i] = i
	}
	return set, nil
}

func (set *TrainSet) Len() int {
	return set.DataLength
}

func (set *TrainSet) Batches() int {
	return (set.DataLength + set.BatchSize - 1) / set.BatchSize
}

func (set *TrainSet) Reshuffle() {
	if set.shuffle {
		set.order = set.rng.Perm(set.DataLength)
	}
}

func (set *TrainSet) Batch(ctx context.Context, i int) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < 0 || i >= set.Batches() {
		return nil, fmt.Errorf("Batch index %d is out of range [0, %d)", i, set.Batches())
	}
	start := i * set.BatchSize
	end := start + set.BatchSize
	if end > set.DataLength {
		end = set.DataLength
	}
	shp := set.TrainData.Shape()
	item := shp[1] * shp[2] * shp[3]
	src := set.TrainData.Data().([]float64)
	data := make([]float64, 0, (end-start)*item)
	for _, idx := range set.order[start:end] {
		data = append(data, src[idx*item:(idx+1)*item]...)
	}
	images := tensor.New(tensor.WithShape(end-start, shp[1], shp[2], shp[3]), tensor.WithBacking(data))
	return &Batch{Images: images, Labels: make([]int, end-start)}, nil
}
