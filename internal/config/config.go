package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	GBP      GBPConfig      `yaml:"gbp" mapstructure:"gbp"`
	GSC      GSCConfig      `yaml:"gsc" mapstructure:"gsc"`
	Places   PlacesConfig   `yaml:"places" mapstructure:"places"`
	Audit    AuditConfig    `yaml:"audit" mapstructure:"audit"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Ranking  RankingConfig  `yaml:"ranking" mapstructure:"ranking"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional Postgres pool tuning.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxRetries           int `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelaySecs       int `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	MaxConcurrentBatches int `yaml:"max_concurrent_batches" mapstructure:"max_concurrent_batches"`
	QueueSize            int `yaml:"queue_size" mapstructure:"queue_size"`
}

// CacheConfig configures the competitor cache.
type CacheConfig struct {
	CompetitorTTLDays int `yaml:"competitor_ttl_days" mapstructure:"competitor_ttl_days"`
}

// GBPConfig holds business-profile fetcher settings.
type GBPConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// GSCConfig holds search-console fetcher settings.
type GSCConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PlacesConfig holds competitor discovery provider settings.
type PlacesConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	DiscoveryLimit int     `yaml:"discovery_limit" mapstructure:"discovery_limit"`
	RatePerSec     float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AuditConfig holds website auditor settings.
type AuditConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnalysisConfig holds the external analysis webhook settings. An empty
// webhook URL skips the analysis stage entirely.
type AnalysisConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NotifyConfig holds the best-effort notification webhook.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// RankingConfig overrides the scoring benchmarks.
type RankingConfig struct {
	ReviewBenchmarkMax int `yaml:"review_benchmark_max" mapstructure:"review_benchmark_max"`
	VelocityBenchmark  int `yaml:"velocity_benchmark" mapstructure:"velocity_benchmark"`
	PostBenchmark      int `yaml:"post_benchmark" mapstructure:"post_benchmark"`
	PhotoCap           int `yaml:"photo_cap" mapstructure:"photo_cap"`
	DescriptionCap     int `yaml:"description_cap" mapstructure:"description_cap"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "rankings.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.retry_delay_secs", 5)
	v.SetDefault("batch.max_concurrent_batches", 4)
	v.SetDefault("batch.queue_size", 16)
	v.SetDefault("cache.competitor_ttl_days", 180)
	v.SetDefault("gbp.timeout_secs", 90)
	v.SetDefault("gsc.timeout_secs", 60)
	v.SetDefault("places.discovery_limit", 10)
	v.SetDefault("places.rate_per_sec", 5)
	v.SetDefault("places.timeout_secs", 30)
	v.SetDefault("audit.timeout_secs", 120)
	v.SetDefault("analysis.timeout_secs", 120)
	v.SetDefault("ranking.review_benchmark_max", 800)
	v.SetDefault("ranking.velocity_benchmark", 20)
	v.SetDefault("ranking.post_benchmark", 12)
	v.SetDefault("ranking.photo_cap", 50)
	v.SetDefault("ranking.description_cap", 750)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if c.Batch.MaxRetries < 1 {
		return eris.New("config: batch.max_retries must be at least 1")
	}
	if c.Batch.MaxConcurrentBatches < 1 {
		return eris.New("config: batch.max_concurrent_batches must be at least 1")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
