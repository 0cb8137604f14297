package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Compression.DefaultLevel != 12 {
		t.Errorf("DefaultLevel = %d, want 12", cfg.Compression.DefaultLevel)
	}
	if cfg.Queue.VisibilitySeconds != 300 {
		t.Errorf("VisibilitySeconds = %d, want 300", cfg.Queue.VisibilitySeconds)
	}
	if cfg.Global.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.Global.ShutdownTimeout)
	}
	if cfg.Global.WorkDir == "" {
		t.Error("WorkDir should default to the temp dir")
	}
	if !cfg.Source.DeleteAfterArchive {
		t.Error("DeleteAfterArchive should default on")
	}
	if got, want := cfg.Costs.TransferCostPerByte, 0.02/float64(1<<30); got != want {
		t.Errorf("TransferCostPerByte = %v, want %v ($0.02/GiB)", got, want)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s3xrc.yaml")
	body := `
queue:
  url: https://sqs.us-east-1.amazonaws.com/123/notifications
source:
  staging_bucket: staging
  routing_table: routes
settings:
  table: compression-settings
  strict_updates: true
costs:
  transfer_cost_per_byte: 0.00000004
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.URL == "" || cfg.Source.StagingBucket != "staging" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.Settings.StrictUpdates {
		t.Error("StrictUpdates not read from file")
	}
	if cfg.Costs.TransferCostPerByte != 0.00000004 {
		t.Errorf("TransferCostPerByte = %v", cfg.Costs.TransferCostPerByte)
	}
	if err := cfg.ValidateSource(); err != nil {
		t.Errorf("ValidateSource on complete config: %v", err)
	}
}

func TestValidateSourceMissingFields(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = cfg.ValidateSource()
	if err == nil {
		t.Fatal("ValidateSource on empty config succeeded")
	}
	for _, want := range []string{"queue.url", "source.staging_bucket", "source.routing_table", "settings.table"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error missing %q: %v", want, err)
		}
	}
}

func TestValidateTarget(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.ValidateTarget(); err == nil {
		t.Fatal("ValidateTarget on empty config succeeded")
	}

	cfg.Queue.URL = "https://example/q"
	cfg.Target.Region = "eu-west-1"
	if err := cfg.ValidateTarget(); err != nil {
		t.Errorf("ValidateTarget on complete config: %v", err)
	}
}

func TestValidateLevelRange(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Queue.URL = "q"
	cfg.Target.Region = "r"
	cfg.Compression.DefaultLevel = 23
	if err := cfg.ValidateTarget(); err == nil {
		t.Error("level 23 passed validation")
	}
}
