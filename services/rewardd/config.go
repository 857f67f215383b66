package rewardd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for rewardd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	ParamsPath    string          `yaml:"params"`
	DataDir       string          `yaml:"data_dir"`
	Ledger        LedgerConfig    `yaml:"ledger"`
	Graph         GraphConfig     `yaml:"graph"`
	Audit         AuditConfig     `yaml:"audit"`
	Export        ExportConfig    `yaml:"export"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Dedupe        DedupeConfig    `yaml:"dedupe"`
	Scheduler     SchedulerConfig `yaml:"scheduler"`
	Log           LogConfig       `yaml:"log"`
	Auth          AuthConfig      `yaml:"auth"`
	Stream        StreamConfig    `yaml:"stream"`
}

// LedgerConfig selects the key-value backend holding reward records.
type LedgerConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// GraphConfig locates the referral forest store.
type GraphConfig struct {
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"`
	DirectCap bool   `yaml:"direct_caps"`
}

// AuditConfig selects the review queue database.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ExportConfig controls parquet export of closed epochs.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// DedupeConfig sizes the replay filter.
type DedupeConfig struct {
	ExpectedEvents    uint    `yaml:"expected_events"`
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
	RecentSize        int     `yaml:"recent_size"`
}

// SchedulerConfig controls the epoch tick.
type SchedulerConfig struct {
	Interval Duration `yaml:"interval"`
	Workers  int      `yaml:"workers"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AuthConfig enables bearer token checks on write and review routes. An empty
// secret leaves the API open.
type AuthConfig struct {
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// StreamConfig sizes the websocket event feed.
type StreamConfig struct {
	Buffer int `yaml:"buffer"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./finova-data"
	}
	if cfg.ParamsPath == "" {
		cfg.ParamsPath = cfg.DataDir + "/params.toml"
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "leveldb"
	}
	if cfg.Ledger.Path == "" && cfg.Ledger.Backend != "memory" {
		cfg.Ledger.Path = cfg.DataDir + "/ledger"
	}
	if cfg.Graph.Path == "" {
		cfg.Graph.Path = cfg.DataDir + "/graph.db"
	}
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "sqlite"
	}
	if cfg.Audit.DSN == "" && cfg.Audit.Driver == "sqlite" {
		cfg.Audit.DSN = cfg.DataDir + "/audit.db"
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 50
	}
	if cfg.Dedupe.ExpectedEvents == 0 {
		cfg.Dedupe.ExpectedEvents = 1_000_000
	}
	if cfg.Dedupe.FalsePositiveRate <= 0 {
		cfg.Dedupe.FalsePositiveRate = 0.001
	}
	if cfg.Dedupe.RecentSize <= 0 {
		cfg.Dedupe.RecentSize = 10_000
	}
	if cfg.Scheduler.Interval.Duration == 0 {
		cfg.Scheduler.Interval.Duration = time.Minute
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 4
	}
	if secret := strings.TrimSpace(os.Getenv("FINOVA_AUTH_SECRET")); secret != "" {
		cfg.Auth.HMACSecret = secret
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.Stream.Buffer <= 0 {
		cfg.Stream.Buffer = 64
	}
}

func validateConfig(cfg Config) error {
	switch cfg.Ledger.Backend {
	case "memory", "leveldb", "badger":
	default:
		return fmt.Errorf("ledger backend %q not supported", cfg.Ledger.Backend)
	}
	switch cfg.Audit.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("audit driver %q not supported", cfg.Audit.Driver)
	}
	if strings.TrimSpace(cfg.Audit.DSN) == "" {
		return fmt.Errorf("audit dsn must be configured")
	}
	if cfg.Auth.HMACSecret != "" && len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth hmac_secret must be at least 32 bytes")
	}
	if cfg.Dedupe.FalsePositiveRate >= 1 {
		return fmt.Errorf("dedupe false_positive_rate must be below 1")
	}
	return nil
}
