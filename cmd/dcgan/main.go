package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	dcgan "github.com/LdDl/dcgan-go"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "train":
		train(os.Args[2:])
	case "view":
		view(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n  %s train [flags]\n  %s view [flags]\n", os.Args[0], os.Args[0])
}

func train(args []string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML config (defaults are used when empty)")
	dataDir := fs.String("data", "", "Override image folder root")
	samplesPath := fs.String("samples", "", "Override snapshots output file")
	batchSize := fs.Int("batch-size", 0, "Batch size")
	epochs := fs.Int("epochs", 0, "Number of epochs")
	printEvery := fs.Int("print-every", 0, "Record losses every N batches")
	workers := fs.Int("workers", 0, "Number of image decoding goroutines")
	seed := fs.Uint64("seed", 0, "PRNG seed")
	device := fs.String("device", "", "Device: auto, cpu, cuda")
	lossesPlot := fs.String("losses-plot", "losses.png", "Where to save loss curves (empty to skip)")
	dotPath := fs.String("dot", "", "Where to save GraphViz description of Generator step graph")
	fs.Parse(args)

	cfg := dcgan.DefaultConfig()
	if *cfgPath != "" {
		var err error
		if cfg, err = dcgan.LoadConfig(*cfgPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	cfg.ApplyOverrides(dcgan.Overrides{
		DataDir:     *dataDir,
		SamplesPath: *samplesPath,
		BatchSize:   *batchSize,
		Epochs:      *epochs,
		PrintEvery:  *printEvery,
		Workers:     *workers,
		Seed:        *seed,
		Device:      *device,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	folder, err := dcgan.NewImageFolder(cfg.DataDir, logger)
	if err != nil {
		log.Fatalf("failed to scan %s: %v", cfg.DataDir, err)
	}
	logger.Printf("root=%s classes=%d images=%d", folder.Root, len(folder.Classes), folder.Len())
	loader, err := dcgan.NewLoader(folder, dcgan.LoaderOptions{
		BatchSize: cfg.BatchSize,
		ImageSize: cfg.ImageSize,
		Shuffle:   cfg.Shuffle,
		Workers:   cfg.Workers,
		Seed:      cfg.Seed,
	})
	if err != nil {
		log.Fatalf("failed to prepare loader: %v", err)
	}

	session, err := dcgan.NewSession(cfg, loader, logger)
	if err != nil {
		log.Fatalf("failed to prepare session: %v", err)
	}
	defer session.Close()
	if *dotPath != "" {
		if err := os.WriteFile(*dotPath, []byte(session.ToDot()), 0644); err != nil {
			log.Fatalf("failed to write graph: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := session.Train(ctx)
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
	if *lossesPlot != "" && len(result.Losses) > 0 {
		if err := dcgan.PlotLosses(result.Losses, *lossesPlot); err != nil {
			log.Fatalf("failed to plot losses: %v", err)
		}
		logger.Printf("saved loss curves to %s", *lossesPlot)
	}
}

func view(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	samplesPath := fs.String("samples", "train_samples.gob", "Snapshots file written by train")
	epoch := fs.Int("epoch", -1, "Snapshot index, negative values count from the end")
	rows := fs.Int("rows", 2, "Grid rows")
	cols := fs.Int("cols", 8, "Grid columns")
	out := fs.String("out", "samples.png", "Output PNG")
	fs.Parse(args)

	snapshots, err := dcgan.LoadSnapshots(*samplesPath)
	if err != nil {
		log.Fatalf("failed to load snapshots: %v", err)
	}
	if len(snapshots) == 0 {
		log.Fatalf("%s has no snapshots", *samplesPath)
	}
	idx := *epoch
	if idx < 0 {
		idx += len(snapshots)
	}
	if idx < 0 || idx >= len(snapshots) {
		log.Fatalf("snapshot index %d is out of range [-%d, %d)", *epoch, len(snapshots), len(snapshots))
	}
	grid, err := dcgan.SampleGrid(snapshots[idx].Tensor(), *rows, *cols)
	if err != nil {
		log.Fatalf("failed to build grid: %v", err)
	}
	if err := dcgan.SavePNG(grid, *out); err != nil {
		log.Fatalf("failed to save %s: %v", *out, err)
	}
	log.Printf("epoch=%d samples=%s saved to %s", snapshots[idx].Epoch, *samplesPath, *out)
}
