// Command serve loads the current artifact bundle and answers prediction
// requests over HTTP until interrupted.
//
// Usage:
//
//	serve [-config config.yaml] [-artifacts dir] [-addr :8000]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/YuminosukeSato/houseprice/api"
	"github.com/YuminosukeSato/houseprice/artifact"
	"github.com/YuminosukeSato/houseprice/config"
	"github.com/YuminosukeSato/houseprice/inference"
	"github.com/YuminosukeSato/houseprice/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	artifacts := flag.String("artifacts", "", "override the artifact directory")
	addr := flag.String("addr", "", "override the listen address")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *artifacts, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, artifacts, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if artifacts != "" {
		cfg.Artifacts.Dir = artifacts
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	closer, err := log.Setup(cfg.LogOptions())
	if err != nil {
		return err
	}
	defer closer.Close()
	logger := log.GetLoggerWithName("cmd.serve")

	predictor, err := loadPredictor(cfg)
	if err != nil {
		// 成果物が無ければ起動しない
		logger.Error("Model artifacts unavailable", err, log.ArtifactPathKey, cfg.Artifacts.Dir)
		return err
	}

	return api.NewServer(predictor, cfg.APIConfig(), log.GetLoggerWithName("api")).Run(ctx)
}

func loadPredictor(cfg *config.Config) (*inference.Predictor, error) {
	bundle, err := artifact.NewStore(cfg.Artifacts.Dir).Load()
	if err != nil {
		return nil, err
	}
	return inference.New(bundle, inference.WithCache(cfg.Inference.CacheSize))
}
