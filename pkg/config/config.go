// Package config loads the matchcore process configuration: the YAML
// file (market_context, fee_table, WAL/ring/snapshot tuning,
// service_root_dir) is decoded with gopkg.in/yaml.v3, the same library
// declared for this purpose in go.mod, then a handful of operational
// knobs can be overridden from the environment/.env file the same way
// the teacher's params.LoadFromEnv layers ENV > .env > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/specx-labs/matchcore/pkg/fees"
	"github.com/specx-labs/matchcore/pkg/market"
)

// Config is the full process configuration (§6).
type Config struct {
	MarketContext MarketContextConfig `yaml:"market_context"`
	FeeTable      fees.Table          `yaml:"fee_table"`

	SnapshotIntervalEntries int    `yaml:"snapshot_interval_entries"`
	SnapshotIntervalSeconds int    `yaml:"snapshot_interval_seconds"`
	WALFsyncBatch           int    `yaml:"wal_fsync_batch"`
	WALFsyncIntervalMillis  int    `yaml:"wal_fsync_interval_ms"`
	RingCapacity            int    `yaml:"ring_capacity"`
	ServiceRootDir          string `yaml:"service_root_dir"`
	CidCachePerUser         int    `yaml:"cid_cache_per_user"`
}

// MarketContextConfig is the YAML shape of the market_context section.
type MarketContextConfig struct {
	Assets  []market.ConfigAsset  `yaml:"assets"`
	Symbols []market.ConfigSymbol `yaml:"symbols"`
}

// Default returns the built-in fallback configuration, used for any
// field a config file or the environment doesn't set.
func Default() Config {
	return Config{
		FeeTable:                fees.DefaultTable(),
		SnapshotIntervalEntries: 100_000,
		SnapshotIntervalSeconds: 60,
		WALFsyncBatch:           100,
		WALFsyncIntervalMillis:  200,
		RingCapacity:            4096,
		ServiceRootDir:          "./data",
		CidCachePerUser:         4096,
	}
}

// Load reads and decodes a YAML config file on top of Default(), then
// applies LoadEnvOverrides. An empty path is a valid cold-start config
// (Default() plus any environment overrides, no market context).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	LoadEnvOverrides(&cfg, "")
	return cfg, nil
}

// LoadEnvOverrides layers environment variables over cfg, first loading
// envPath (or ".env" in the current directory if envPath is empty) the
// same optional, non-fatal way the teacher's params.LoadFromEnv does.
// Priority is ENV > .env file > whatever cfg already holds.
func LoadEnvOverrides(cfg *Config, envPath string) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("MATCHCORE_SERVICE_ROOT_DIR"); v != "" {
		cfg.ServiceRootDir = v
	}
	if v := os.Getenv("MATCHCORE_RING_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RingCapacity = n
		}
	}
	if v := os.Getenv("MATCHCORE_WAL_FSYNC_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WALFsyncBatch = n
		}
	}
	if v := os.Getenv("MATCHCORE_SNAPSHOT_INTERVAL_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SnapshotIntervalEntries = n
		}
	}
	if v := os.Getenv("MATCHCORE_SNAPSHOT_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SnapshotIntervalSeconds = n
		}
	}
}

// SnapshotInterval returns SnapshotIntervalSeconds as a time.Duration,
// for the periodic snapshot-trigger ticker in cmd/matchcore.
func (c Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSeconds) * time.Second
}

// BuildMarketContext converts the decoded market_context section into a
// validated *market.Context, ready for market.NewRegistry.
func (c Config) BuildMarketContext() (*market.Context, error) {
	return market.BuildContext(c.MarketContext.Assets, c.MarketContext.Symbols)
}
