package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (skipped when path is empty
// or the file does not exist), merges it on top of the built-in defaults,
// applies CURVE_* environment variable overrides, and returns the final
// Config. The caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CURVE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.DSN, "CURVE_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "CURVE_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "CURVE_POSTGRES_MAX_IDLE_CONNS")
	setStr(&cfg.Postgres.MigrationsDir, "CURVE_MIGRATIONS_DIR")

	setStr(&cfg.NATS.URL, "CURVE_NATS_URL")

	setInt64(&cfg.Market.BatchDurationUs, "CURVE_BATCH_DURATION_US")
	setStr(&cfg.Market.Custody, "CURVE_CUSTODY_ADDRESS")
	setStr(&cfg.Market.Beneficiary, "CURVE_BENEFICIARY_ADDRESS")
	setStr(&cfg.Market.BuyFeePct, "CURVE_BUY_FEE_PCT")
	setStr(&cfg.Market.SellFeePct, "CURVE_SELL_FEE_PCT")

	setInt(&cfg.Worker.PersistChanSize, "CURVE_PERSIST_CHAN_SIZE")
	setInt(&cfg.Worker.ProjectionChanSize, "CURVE_PROJECTION_CHAN_SIZE")
	setInt(&cfg.Worker.PersistBatchSize, "CURVE_PERSIST_BATCH_SIZE")
	setInt(&cfg.Worker.PersistFlushTimeoutMs, "CURVE_PERSIST_FLUSH_TIMEOUT_MS")
	setInt64(&cfg.Worker.SnapshotInterval, "CURVE_SNAPSHOT_INTERVAL")
	setInt(&cfg.Worker.DedupLRUCapacity, "CURVE_DEDUP_LRU_CAPACITY")

	setStr(&cfg.Server.HTTPAddr, "CURVE_HTTP_ADDR")
	setStr(&cfg.Server.MetricsAddr, "CURVE_METRICS_ADDR")

	setStr(&cfg.LogLevel, "CURVE_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
