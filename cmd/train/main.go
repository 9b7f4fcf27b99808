// Command train fits the house price model on the configured dataset and
// publishes a new artifact bundle.
//
// Usage:
//
//	train [-config config.yaml] [-dataset path] [-artifacts dir]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/YuminosukeSato/houseprice/artifact"
	"github.com/YuminosukeSato/houseprice/config"
	"github.com/YuminosukeSato/houseprice/pkg/log"
	"github.com/YuminosukeSato/houseprice/registry"
	"github.com/YuminosukeSato/houseprice/training"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	dataset := flag.String("dataset", "", "override the dataset path")
	artifacts := flag.String("artifacts", "", "override the artifact directory")
	flag.Parse()

	if err := run(*configPath, *dataset, *artifacts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "train: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dataset, artifacts string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataset != "" {
		cfg.Training.DatasetPath = dataset
	}
	if artifacts != "" {
		cfg.Artifacts.Dir = artifacts
	}

	closer, err := log.Setup(cfg.LogOptions())
	if err != nil {
		return err
	}
	defer closer.Close()
	logger := log.GetLoggerWithName("cmd.train")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := artifact.NewStore(cfg.Artifacts.Dir, artifact.WithKeepVersions(cfg.Artifacts.KeepVersions))
	opts := []training.Option{}
	if cfg.Registry.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Registry.Path), 0o755); err != nil {
			return err
		}
		reg, err := registry.Open(cfg.Registry.Path)
		if err != nil {
			return err
		}
		defer reg.Close()
		opts = append(opts, training.WithRegistry(reg))
	}

	pipeline := training.New(cfg.TrainingConfig(), store, opts...)
	res, err := pipeline.Run(ctx)
	if err != nil {
		logger.Error("Training run failed", err, "run_id", pipeline.RunID())
		return err
	}
	printReport(out, res)
	return nil
}

// printReport writes a human-readable summary with grouped digits.
func printReport(w io.Writer, res *training.Result) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Bundle %s published (run %s)\n", res.BundleID, res.RunID)
	p.Fprintf(w, "Samples: %d total, %d train, %d validation, %d test\n",
		res.Dataset.Total, res.Dataset.Train, res.Dataset.Validation, res.Dataset.Test)
	p.Fprintf(w, "Epochs: %d run, best %d\n", res.History.EpochsRun, res.History.BestEpoch)
	p.Fprintf(w, "%-6s %16s %16s %8s\n", "split", "RMSE", "MAE", "R2")
	p.Fprintf(w, "%-6s %16.0f %16.0f %8.4f\n", "train", res.Train.RMSE, res.Train.MAE, res.Train.R2)
	p.Fprintf(w, "%-6s %16.0f %16.0f %8.4f\n", "test", res.Test.RMSE, res.Test.MAE, res.Test.R2)
	if b := res.Baseline; b != nil {
		p.Fprintf(w, "%-6s %16.0f %16.0f %8.4f  (linear baseline, test)\n", "ols", b.RMSE, b.MAE, b.R2)
	}
	p.Fprintf(w, "Elapsed: %v\n", res.Duration)
}
