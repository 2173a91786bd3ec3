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
	RxNorm    RxNormConfig    `yaml:"rxnorm" mapstructure:"rxnorm"`
	NDC       NDCConfig       `yaml:"ndc" mapstructure:"ndc"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Review    ReviewConfig    `yaml:"review" mapstructure:"review"`
	Policy    PolicyConfig    `yaml:"policy" mapstructure:"policy"`
	Selection SelectionConfig `yaml:"selection" mapstructure:"selection"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the durable backend used for caching and audit records.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// AnthropicConfig holds Anthropic API settings for the interpretation stage.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// RxNormConfig holds RxNorm REST API settings.
type RxNormConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerS float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// NDCConfig holds openFDA NDC directory settings.
type NDCConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// CacheConfig configures the in-memory cache tier.
type CacheConfig struct {
	MaxItems int `yaml:"max_items" mapstructure:"max_items"`
}

// ReviewConfig holds the manual review queue webhook settings.
type ReviewConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// PolicyConfig points at an optional validation policy file.
type PolicyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SelectionConfig configures the package selection engine.
type SelectionConfig struct {
	MaxDistinctPackages int     `yaml:"max_distinct_packages" mapstructure:"max_distinct_packages"`
	MaxPerPackage       int     `yaml:"max_per_package" mapstructure:"max_per_package"`
	MaxOverfillPercent  float64 `yaml:"max_overfill_percent" mapstructure:"max_overfill_percent"`
	PreferFewerPackages bool    `yaml:"prefer_fewer_packages" mapstructure:"prefer_fewer_packages"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISPENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "dispense.db")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("rxnorm.base_url", "https://rxnav.nlm.nih.gov/REST")
	v.SetDefault("rxnorm.requests_per_second", 20)
	v.SetDefault("ndc.base_url", "https://api.fda.gov/drug/ndc.json")
	v.SetDefault("cache.max_items", 1024)
	v.SetDefault("selection.max_distinct_packages", 3)
	v.SetDefault("selection.max_per_package", 10)
	v.SetDefault("selection.max_overfill_percent", 50)
	v.SetDefault("selection.prefer_fewer_packages", true)
	v.SetDefault("batch.max_concurrent", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
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
