// Package config loads application configuration from file and environment
// and initializes the global logger.
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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Serp      SerpConfig      `yaml:"serp" mapstructure:"serp"`
	YouTube   YouTubeConfig   `yaml:"youtube" mapstructure:"youtube"`
	Discover  DiscoverConfig  `yaml:"discover" mapstructure:"discover"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Consensus ConsensusConfig `yaml:"consensus" mapstructure:"consensus"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for extraction.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	// MinIntervalMS is the minimum delay between extraction calls; extraction
	// is serialized, so this is the effective throughput cap.
	MinIntervalMS int `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
}

// SerpConfig holds the web search API settings.
type SerpConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// YouTubeConfig holds the YouTube Data API settings.
type YouTubeConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// DiscoverConfig configures the discovery stage.
type DiscoverConfig struct {
	TopPerBackend int      `yaml:"top_per_backend" mapstructure:"top_per_backend"`
	QueryTerms    []string `yaml:"query_terms" mapstructure:"query_terms"`
}

// ScrapeConfig configures the scrape stage.
type ScrapeConfig struct {
	Workers       int `yaml:"workers" mapstructure:"workers"`
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries    int `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSecond int `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	MaxContentKB  int `yaml:"max_content_kb" mapstructure:"max_content_kb"`
	MinContentLen int `yaml:"min_content_len" mapstructure:"min_content_len"`
}

// ConsensusConfig configures clustering and approval thresholds.
type ConsensusConfig struct {
	NameClusterThreshold     float64 `yaml:"name_cluster_threshold" mapstructure:"name_cluster_threshold"`
	MaterialClusterThreshold float64 `yaml:"material_cluster_threshold" mapstructure:"material_cluster_threshold"`
	AutoApproveThreshold     float64 `yaml:"auto_approve_threshold" mapstructure:"auto_approve_threshold"`
}

// RegistryConfig configures canonical material resolution.
type RegistryConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (optional) and the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PATTERN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pattern.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.min_interval_ms", 1500)
	v.SetDefault("serp.base_url", "https://s.jina.ai")
	v.SetDefault("youtube.base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("discover.top_per_backend", 5)
	v.SetDefault("scrape.workers", 4)
	v.SetDefault("scrape.timeout_secs", 30)
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("scrape.rate_per_second", 2)
	v.SetDefault("scrape.max_content_kb", 512)
	v.SetDefault("scrape.min_content_len", 200)
	v.SetDefault("consensus.name_cluster_threshold", 0.8)
	v.SetDefault("consensus.material_cluster_threshold", 0.8)
	v.SetDefault("consensus.auto_approve_threshold", 0.75)
	v.SetDefault("registry.fuzzy_threshold", 0.85)

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

// Validate checks that the credentials a stage needs are present.
func (c *Config) Validate(stage string) error {
	switch stage {
	case "discover":
		if c.Serp.Key == "" && c.YouTube.Key == "" {
			return eris.New("config: discover requires serp.key or youtube.key")
		}
	case "extract":
		if c.Anthropic.Key == "" {
			return eris.New("config: extract requires anthropic.key")
		}
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
