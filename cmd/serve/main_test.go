package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/YuminosukeSato/houseprice/artifact/artifacttest"
	"github.com/YuminosukeSato/houseprice/config"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
)

func TestRunRefusesToStartWithoutArtifacts(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("logging:\n  level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := run(context.Background(), cfgPath, filepath.Join(dir, "empty"), "127.0.0.1:0")
	var missing *errors.ArtifactMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected ArtifactMissingError, got %v", err)
	}
}

func TestLoadPredictor(t *testing.T) {
	store, saved := artifacttest.SaveBundle(t)
	cfg := config.Default()
	cfg.Artifacts.Dir = store.Root()

	p, err := loadPredictor(cfg)
	if err != nil {
		t.Fatalf("loadPredictor: %v", err)
	}
	if got := p.Metadata().BundleID; got != saved.Metadata.BundleID {
		t.Errorf("BundleID = %q, want %q", got, saved.Metadata.BundleID)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store, _ := artifacttest.SaveBundle(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("logging:\n  level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run(ctx, cfgPath, store.Root(), "127.0.0.1:0"); err != nil {
		t.Errorf("run() = %v", err)
	}
}
