package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when LIMITBOARD_CONFIG is unset.
const DefaultPath = "config/limitboard.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for limitboard.
type Config struct {
	Storage       Storage       `yaml:"storage"`
	Server        Server        `yaml:"server"`
	Logging       Logging       `yaml:"logging"`
	Yahoo         Yahoo         `yaml:"yahoo"`
	Alpaca        Alpaca        `yaml:"alpaca"`
	CalendarCache CalendarCache `yaml:"calendar_cache"`
	Redis         Redis         `yaml:"redis"`
	Kafka         Kafka         `yaml:"kafka"`

	// Markets is keyed by lower-case market code.
	Markets map[string]*MarketConfig `yaml:"-" validate:"dive"`
}

// Storage holds the data root. Per-market files live below it unless a
// market overrides them.
type Storage struct {
	DataDir string `yaml:"data_dir" default:"data" validate:"required"`
	// DisableArchive turns off the parquet copy of each snapshot.
	DisableArchive bool `yaml:"disable_archive"`
}

// Server holds network listener configuration.
type Server struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8090" validate:"gt=0,lt=65536"`
	GRPCPort        int           `yaml:"grpc_port" default:"9090" validate:"gt=0,lt=65536"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json text"`
}

// Yahoo configures the Yahoo chart API client.
type Yahoo struct {
	BaseURL        string        `yaml:"base_url" default:"https://query1.finance.yahoo.com" validate:"url"`
	Timeout        time.Duration `yaml:"timeout" default:"30s"`
	ProxyURL       string        `yaml:"proxy_url"`
	UserAgent      string        `yaml:"user_agent" default:"Mozilla/5.0"`
	RequestsPerMin int           `yaml:"requests_per_min" default:"0" validate:"gte=0"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed" default:"sip"`
}

// Enabled reports whether Alpaca credentials are present.
func (a Alpaca) Enabled() bool { return a.APIKey != "" && a.APISecret != "" }

// CalendarCache selects where resolved calendar windows are kept.
type CalendarCache struct {
	Backend string `yaml:"backend" default:"file" validate:"oneof=file redis"`
	// TTL accepts day units ("1d", "36h").
	TTL string `yaml:"ttl" default:"1d"`
}

// Redis holds connection settings for the redis calendar cache.
type Redis struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Kafka configures the payload publisher. Brokers empty disables it.
type Kafka struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"limitboard.payloads"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
}

// Enabled reports whether at least one broker is configured.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// fileConfig is the on-disk shape: markets stay raw so each entry can be
// decoded on top of its preset.
type fileConfig struct {
	Config  `yaml:",inline"`
	Markets map[string]yaml.Node `yaml:"markets"`
}

// Load reads the YAML configuration file at path, layers market presets,
// defaults and environment overrides, and validates the result. A missing
// .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes. See Load.
func Parse(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg := &fc.Config

	cfg.Markets = make(map[string]*MarketConfig)
	if len(fc.Markets) == 0 {
		for _, code := range PresetCodes() {
			cfg.Markets[code] = Preset(code)
		}
	}
	for code, node := range fc.Markets {
		mc := Preset(code)
		if err := node.Decode(mc); err != nil {
			return nil, fmt.Errorf("parse market %q: %w", code, err)
		}
		mc.Code = code
		cfg.Markets[code] = mc
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	for _, mc := range cfg.Markets {
		if err := defaults.Set(mc); err != nil {
			return nil, fmt.Errorf("market %s defaults: %w", mc.Code, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks struct tags on the whole configuration.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// envOverrides lists the environment variables that win over the file.
type envOverrides struct {
	DataDir      string   `envconfig:"LIMITBOARD_DATA_DIR"`
	LogLevel     string   `envconfig:"LIMITBOARD_LOG_LEVEL"`
	YahooProxy   string   `envconfig:"LIMITBOARD_YAHOO_PROXY"`
	RedisAddr    string   `envconfig:"LIMITBOARD_REDIS_ADDR"`
	KafkaBrokers []string `envconfig:"LIMITBOARD_KAFKA_BROKERS"`

	// Canonical Alpaca SDK names.
	AlpacaKey    string `envconfig:"APCA_API_KEY_ID"`
	AlpacaSecret string `envconfig:"APCA_API_SECRET_KEY"`
}

// applyEnvOverrides reads well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	if env.DataDir != "" {
		cfg.Storage.DataDir = env.DataDir
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	if env.YahooProxy != "" {
		cfg.Yahoo.ProxyURL = env.YahooProxy
	}
	if env.RedisAddr != "" {
		cfg.Redis.Addr = env.RedisAddr
	}
	if len(env.KafkaBrokers) > 0 {
		cfg.Kafka.Brokers = env.KafkaBrokers
	}
	if env.AlpacaKey != "" {
		cfg.Alpaca.APIKey = env.AlpacaKey
	}
	if env.AlpacaSecret != "" {
		cfg.Alpaca.APISecret = env.AlpacaSecret
	}
	return nil
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

// Market returns the configuration for code.
func (c *Config) Market(code string) (*MarketConfig, error) {
	mc, ok := c.Markets[code]
	if !ok {
		return nil, fmt.Errorf("market %q is not configured", code)
	}
	return mc, nil
}

// MarketCodes returns the configured, enabled market codes in sorted order.
func (c *Config) MarketCodes() []string {
	codes := make([]string, 0, len(c.Markets))
	for code, mc := range c.Markets {
		if mc.Enabled {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// DBPath is the market's SQLite warehouse file.
func (c *Config) DBPath(mc *MarketConfig) string {
	if mc.DBPath != "" {
		return mc.DBPath
	}
	return filepath.Join(c.Storage.DataDir, mc.Code, mc.Code+"_stock_warehouse.db")
}

// SkiplistPath is the market's permanent skip file.
func (c *Config) SkiplistPath(mc *MarketConfig) string {
	if mc.SkiplistPath != "" {
		return mc.SkiplistPath
	}
	return filepath.Join(c.Storage.DataDir, "cache", mc.Code, "skip_symbols.txt")
}

// CalendarCacheDir holds the market's calendar window files.
func (c *Config) CalendarCacheDir(mc *MarketConfig) string {
	return filepath.Join(c.Storage.DataDir, "cache", mc.Code, "calendar")
}

// PayloadDir is the root of the published payload documents; each market
// has a subdirectory below it.
func (c *Config) PayloadDir() string {
	return filepath.Join(c.Storage.DataDir, "payloads")
}

// ArchiveDir is the root of the parquet snapshot archive.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.Storage.DataDir, "archive")
}
