package config_test

import (
	"CurveMarket/internal/config"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := config.Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("http addr: got %q, want default :8080", cfg.Server.HTTPAddr)
	}
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	toml := `
log_level = "debug"

[market]
batch_duration_us = 60000000
buy_fee_pct = "5000000000000000"

[server]
http_addr = ":9999"
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Market.BatchDurationUs != 60_000_000 {
		t.Errorf("batch duration: got %d", cfg.Market.BatchDurationUs)
	}
	if cfg.Server.HTTPAddr != ":9999" {
		t.Errorf("http addr: got %q", cfg.Server.HTTPAddr)
	}
	// Untouched sections keep their defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats url: got %q", cfg.NATS.URL)
	}

	fee, err := cfg.Market.BuyFee()
	if err != nil {
		t.Fatalf("buy fee: %v", err)
	}
	if fee.String() != "5000000000000000" {
		t.Errorf("buy fee: got %s", fee)
	}
}

func TestEnvOverridesWinOverTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[nats]\nurl = \"nats://file:4222\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CURVE_NATS_URL", "nats://env:4222")
	t.Setenv("CURVE_PERSIST_BATCH_SIZE", "200")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATS.URL != "nats://env:4222" {
		t.Errorf("nats url: got %q, want env override", cfg.NATS.URL)
	}
	if cfg.Worker.PersistBatchSize != 200 {
		t.Errorf("persist batch size: got %d, want 200", cfg.Worker.PersistBatchSize)
	}
}

func TestValidateRejectsBadAddress(t *testing.T) {
	cfg := config.Defaults()
	cfg.Market.Custody = "not-an-address"
	if err := cfg.Validate(); err == nil {
		t.Error("invalid custody address must fail validation")
	}
}

func TestValidateRejectsNegativeFee(t *testing.T) {
	cfg := config.Defaults()
	cfg.Market.SellFeePct = "-1"
	if err := cfg.Validate(); err == nil {
		t.Error("negative fee must fail validation")
	}
}

func TestValidateRejectsZeroBatchDuration(t *testing.T) {
	cfg := config.Defaults()
	cfg.Market.BatchDurationUs = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero batch duration must fail validation")
	}
}
