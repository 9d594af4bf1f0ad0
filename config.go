package dcgan_go

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config Runtime knobs of a training run
type Config struct {
	DataDir     string `yaml:"data_dir"`
	SamplesPath string `yaml:"samples_path"`

	BatchSize int  `yaml:"batch_size"`
	ImageSize int  `yaml:"image_size"`
	Shuffle   bool `yaml:"shuffle"`
	Workers   int  `yaml:"workers"`

	DiscriminatorWidth  int     `yaml:"discriminator_width"`
	DiscriminatorHidden int     `yaml:"discriminator_hidden"`
	Dropout             float64 `yaml:"dropout"`
	GeneratorWidth      int     `yaml:"generator_width"`
	LatentSize          int     `yaml:"latent_size"`
	LeakySlope          float64 `yaml:"leaky_slope"`
	InitStdDev          float64 `yaml:"init_std"`

	Epochs                    int     `yaml:"epochs"`
	DiscriminatorLearningRate float64 `yaml:"discriminator_lr"`
	GeneratorLearningRate     float64 `yaml:"generator_lr"`
	Beta1                     float64 `yaml:"beta1"`
	Beta2                     float64 `yaml:"beta2"`
	PrintEvery                int     `yaml:"print_every"`
	SampleSize                int     `yaml:"sample_size"`

	Seed   uint64 `yaml:"seed"`
	Device string `yaml:"device"`
}

// DefaultConfig Returns configuration of the reference face generation run
func DefaultConfig() *Config {
	return &Config{
		DataDir:                   "processed_celeba_small",
		SamplesPath:               "train_samples.gob",
		BatchSize:                 64,
		ImageSize:                 32,
		Shuffle:                   true,
		Workers:                   4,
		DiscriminatorWidth:        64,
		DiscriminatorHidden:       512,
		Dropout:                   0.3,
		GeneratorWidth:            1024,
		LatentSize:                100,
		LeakySlope:                DefaultLeakySlope,
		InitStdDev:                DefaultInitStdDev,
		Epochs:                    10,
		DiscriminatorLearningRate: 0.0002,
		GeneratorLearningRate:     0.0002,
		Beta1:                     0.9,
		Beta2:                     0.999,
		PrintEvery:                50,
		SampleSize:                16,
		Seed:                      1337,
		Device:                    "auto",
	}
}

// LoadConfig Reads YAML file on top of DefaultConfig and validates the result
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read config")
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "Can't parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Overrides CLI supplied values. Zero values are ignored.
type Overrides struct {
	DataDir     string
	SamplesPath string
	BatchSize   int
	Epochs      int
	PrintEvery  int
	Workers     int
	Seed        uint64
	Device      string
}

// ApplyOverrides Updates config using any non-zero override
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.SamplesPath != "" {
		c.SamplesPath = o.SamplesPath
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.PrintEvery > 0 {
		c.PrintEvery = o.PrintEvery
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Device != "" {
		c.Device = o.Device
	}
}

// Validate Verifies the config is runnable
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.ImageSize != 32 {
		return errors.Errorf("image_size must be 32 since generator produces 32x32 images (got %d)", c.ImageSize)
	}
	if c.DiscriminatorWidth <= 0 || c.DiscriminatorHidden <= 0 {
		return errors.Errorf("discriminator_width and discriminator_hidden must be > 0 (got %d and %d)", c.DiscriminatorWidth, c.DiscriminatorHidden)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.Errorf("dropout must be in [0, 1) (got %g)", c.Dropout)
	}
	if c.GeneratorWidth < 16 || c.GeneratorWidth%16 != 0 {
		return errors.Errorf("generator_width must be a positive multiple of 16 (got %d)", c.GeneratorWidth)
	}
	if c.LatentSize <= 0 {
		return errors.Errorf("latent_size must be > 0 (got %d)", c.LatentSize)
	}
	if c.InitStdDev <= 0 {
		return errors.Errorf("init_std must be > 0 (got %g)", c.InitStdDev)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.DiscriminatorLearningRate <= 0 || c.GeneratorLearningRate <= 0 {
		return errors.Errorf("learning rates must be > 0 (got %g and %g)", c.DiscriminatorLearningRate, c.GeneratorLearningRate)
	}
	if c.Beta1 < 0 || c.Beta1 >= 1 || c.Beta2 < 0 || c.Beta2 >= 1 {
		return errors.Errorf("beta1 and beta2 must be in [0, 1) (got %g and %g)", c.Beta1, c.Beta2)
	}
	if c.SampleSize <= 0 {
		return errors.Errorf("sample_size must be > 0 (got %d)", c.SampleSize)
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.PrintEvery <= 0 {
		c.PrintEvery = 50
	}
	if _, err := ParseDevice(c.Device); err != nil {
		return err
	}
	return nil
}

func (c *Config) discriminatorOptions() DiscriminatorOptions {
	return DiscriminatorOptions{
		ImageSize:  c.ImageSize,
		Channels:   3,
		Width:      c.DiscriminatorWidth,
		Hidden:     c.DiscriminatorHidden,
		Dropout:    c.Dropout,
		LeakySlope: c.LeakySlope,
	}
}

func (c *Config) generatorOptions() GeneratorOptions {
	return GeneratorOptions{
		LatentSize: c.LatentSize,
		Width:      c.GeneratorWidth,
		Channels:   3,
		LeakySlope: c.LeakySlope,
	}
}
