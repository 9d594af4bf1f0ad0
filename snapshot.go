package dcgan_go

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Snapshot Generator output for the fixed latent batch at the end of an epoch
//
// Epoch - 1-based epoch number
// Shape - (N, C, H, W)
// Data - row-major values in [-1, 1]
//
type Snapshot struct {
	Epoch int
	Shape []int
	Data  []float64
}

// NewSnapshot Copies images tensor into snapshot
func NewSnapshot(epoch int, images *tensor.Dense) Snapshot {
	data := images.Data().([]float64)
	return Snapshot{
		Epoch: epoch,
		Shape: append([]int{}, images.Shape()...),
		Data:  append([]float64{}, data...),
	}
}

// Tensor Returns images as (N, C, H, W) tensor sharing snapshot's memory
func (s Snapshot) Tensor() *tensor.Dense {
	return tensor.New(tensor.WithShape(s.Shape...), tensor.WithBacking(s.Data))
}

// EncodeSnapshots Writes gob stream of snapshots
func EncodeSnapshots(w io.Writer, snapshots []Snapshot) error {
	if err := gob.NewEncoder(w).Encode(snapshots); err != nil {
		return errors.Wrap(err, "Can't encode snapshots")
	}
	return nil
}

// DecodeSnapshots Reads gob stream written by EncodeSnapshots
func DecodeSnapshots(r io.Reader) ([]Snapshot, error) {
	snapshots := []Snapshot{}
	if err := gob.NewDecoder(r).Decode(&snapshots); err != nil {
		return nil, errors.Wrap(err, "Can't decode snapshots")
	}
	for i, s := range snapshots {
		total := 1
		for _, d := range s.Shape {
			total *= d
		}
		if total != len(s.Data) {
			return nil, errors.Errorf("Snapshot #%d has shape %v, but %d values", i, s.Shape, len(s.Data))
		}
	}
	return snapshots, nil
}

// SaveSnapshots Writes snapshots into temporary file next to path and renames it, so path is never left half-written
func SaveSnapshots(path string, snapshots []Snapshot) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path))
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "Can't create snapshots file")
	}
	if err = EncodeSnapshots(f, snapshots); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "Can't close snapshots file")
	}
	return os.Rename(tmp, path)
}

// LoadSnapshots Reads snapshots file
func LoadSnapshots(path string) ([]Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open snapshots file")
	}
	defer f.Close()
	return DecodeSnapshots(f)
}
