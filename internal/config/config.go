// Package config provides centralized configuration management for the OHLCV pipeline.
// Configuration is layered: struct-tag defaults, then an optional YAML or JSON file,
// then a .env file and process environment variables, and finally tag-driven validation.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name" yaml:"app_name" env:"APP_NAME" default:"ohlcv-pipeline"`
	Version    string `json:"version" yaml:"version" env:"VERSION" default:"1.0.0"`
	ConfigPath string `json:"-" yaml:"-" env:"CONFIG_PATH"`

	// Where frames come from
	Source SourceConfig `json:"source" yaml:"source"`

	// Aggregation and transform settings
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`

	// Tagged model store
	ModelStore ModelStoreConfig `json:"model_store" yaml:"model_store"`

	// Where derived frames are written
	Export ExportConfig `json:"export" yaml:"export"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Retry policy for remote sources and stores
	Retry RetryPolicyConfig `json:"retry" yaml:"retry"`
}

// SourceConfig selects and configures the source adapter
type SourceConfig struct {
	Kind         string         `json:"kind" yaml:"kind" env:"SOURCE_KIND" default:"file" validate:"required,oneof=file polygon coinbase elastic"`
	Directory    string         `json:"directory" yaml:"directory" env:"SOURCE_DIRECTORY" default:"./data"`                  // file source root
	Extension    string         `json:"extension" yaml:"extension" env:"SOURCE_EXTENSION" default:"csv" validate:"required"` // file source extension
	Endpoint     string         `json:"endpoint" yaml:"endpoint" env:"SOURCE_ENDPOINT" default:"https://api.polygon.io"`     // vendor REST base URL
	APIKey       string         `json:"api_key" yaml:"api_key" env:"SOURCE_API_KEY"`                                         // vendor REST key
	TickerPrefix string         `json:"ticker_prefix" yaml:"ticker_prefix" env:"SOURCE_TICKER_PREFIX"`                       // e.g. "X:" for crypto pairs
	RateLimit    float64        `json:"rate_limit" yaml:"rate_limit" env:"SOURCE_RATE_LIMIT" default:"5" validate:"gte=0"`   // requests per second
	Timeout      string         `json:"timeout" yaml:"timeout" env:"SOURCE_TIMEOUT" default:"30s"`                           // HTTP request timeout
	Coinbase     CoinbaseConfig `json:"coinbase" yaml:"coinbase"`
	Elastic      ElasticConfig  `json:"elastic" yaml:"elastic"`
}

// CoinbaseConfig points the coinbase source at the Advanced Trade public market API
type CoinbaseConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"COINBASE_ENDPOINT" default:"https://api.coinbase.com" validate:"required,url"`
}

// ElasticConfig holds the connection settings shared by the elastic source,
// exporter, and model store
type ElasticConfig struct {
	Addresses          []string `json:"addresses" yaml:"addresses" env:"ELASTIC_ADDRESSES" envSeparator:"," default:"[\"http://localhost:9200\"]" validate:"dive,url"`
	Username           string   `json:"username" yaml:"username" env:"ELASTIC_USERNAME"`
	Password           string   `json:"password" yaml:"password" env:"ELASTIC_PASSWORD"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify" yaml:"insecure_skip_verify" env:"ELASTIC_INSECURE_SKIP_VERIFY"`
}

// PipelineConfig configures aggregation and transformation
type PipelineConfig struct {
	FillPolicy   string  `json:"fill_policy" yaml:"fill_policy" env:"FILL_POLICY" default:"strict" validate:"oneof=strict error default clip akima interpolate"`
	WorkerCount  int     `json:"worker_count" yaml:"worker_count" env:"WORKER_COUNT" default:"4" validate:"gte=1,lte=64"`
	FetchRate    float64 `json:"fetch_rate" yaml:"fetch_rate" env:"FETCH_RATE" validate:"gte=0"` // per-symbol fetches per second, 0 disables
	FetchTimeout string  `json:"fetch_timeout" yaml:"fetch_timeout" env:"FETCH_TIMEOUT" default:"2m"`
}

// ModelStoreConfig configures the tagged object store backend
type ModelStoreConfig struct {
	Type        string        `json:"type" yaml:"type" env:"MODEL_STORE_TYPE" default:"memory" validate:"oneof=memory duckdb elastic"`
	DatabaseURL string        `json:"database_url" yaml:"database_url" env:"MODEL_STORE_DATABASE_URL" default:"./data/models.db"`
	Index       string        `json:"index" yaml:"index" env:"MODEL_STORE_INDEX" default:"models" validate:"required"`
	PageLimit   int           `json:"page_limit" yaml:"page_limit" env:"MODEL_STORE_PAGE_LIMIT" default:"100" validate:"gte=1,lte=10000"`
	Elastic     ElasticConfig `json:"elastic" yaml:"elastic" envPrefix:"MODEL_STORE_"`
}

// ExportConfig selects the sink for fetched and derived frames
type ExportConfig struct {
	Kind      string        `json:"kind" yaml:"kind" env:"EXPORT_KIND" default:"csv" validate:"oneof=csv elastic"`
	Directory string        `json:"directory" yaml:"directory" env:"EXPORT_DIRECTORY" default:"./out"`
	BatchSize int           `json:"batch_size" yaml:"batch_size" env:"EXPORT_BATCH_SIZE" default:"1000" validate:"gte=1"`
	Elastic   ElasticConfig `json:"elastic" yaml:"elastic" envPrefix:"EXPORT_"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level" env:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format        string            `json:"format" yaml:"format" env:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	Output        string            `json:"output" yaml:"output" env:"LOG_OUTPUT" default:"stderr" validate:"oneof=stdout stderr file"`
	FilePath      string            `json:"file_path" yaml:"file_path" env:"LOG_FILE_PATH"`
	MaxSize       int               `json:"max_size" yaml:"max_size" env:"LOG_MAX_SIZE" default:"100"`   // MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups" env:"LOG_MAX_BACKUPS" default:"3"`
	MaxAge        int               `json:"max_age" yaml:"max_age" env:"LOG_MAX_AGE" default:"28"`       // days
	Compress      bool              `json:"compress" yaml:"compress" env:"LOG_COMPRESS"`
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`
}

// MetricsConfig configures metrics collection
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Addr      string `json:"addr" yaml:"addr" env:"METRICS_ADDR" default:":9090"`
	Path      string `json:"path" yaml:"path" env:"METRICS_PATH" default:"/metrics"`
	Namespace string `json:"namespace" yaml:"namespace" env:"METRICS_NAMESPACE" default:"ohlcv"`
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int    `json:"max_attempts" yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS" default:"3" validate:"gte=1"`
	InitialDelay    string `json:"initial_delay" yaml:"initial_delay" env:"RETRY_INITIAL_DELAY" default:"500ms"`
	MaxDelay        string `json:"max_delay" yaml:"max_delay" env:"RETRY_MAX_DELAY" default:"30s"`
	BackoffStrategy string `json:"backoff_strategy" yaml:"backoff_strategy" env:"RETRY_BACKOFF_STRATEGY" default:"exponential" validate:"oneof=fixed exponential"`
	Jitter          bool   `json:"jitter" yaml:"jitter" env:"RETRY_JITTER" default:"true"`
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envFiles   []string
	logger     *slog.Logger
	validate   *validator.Validate
}

// NewConfigManager creates a new configuration manager. Extra env files are
// loaded with godotenv before the environment is read; missing files are ignored.
func NewConfigManager(configPath string, logger *slog.Logger, envFiles ...string) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &ConfigManager{
		configPath: configPath,
		envFiles:   envFiles,
		logger:     logger,
		validate:   v,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	config := DefaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	config.ConfigPath = cm.configPath

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"source_kind", config.Source.Kind,
		"fill_policy", config.Pipeline.FillPolicy,
		"model_store", config.ModelStore.Type,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a YAML or JSON file, chosen by extension
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(cm.configPath))
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv applies .env files and environment variable overrides
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	for _, file := range cm.envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}

	if err := env.Parse(config); err != nil {
		return err
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errs []string

	if err := cm.validate.Struct(config); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, describeFieldError(fe))
		}
	}

	durations := map[string]string{
		"source.timeout":         config.Source.Timeout,
		"pipeline.fetch_timeout": config.Pipeline.FetchTimeout,
		"retry.initial_delay":    config.Retry.InitialDelay,
		"retry.max_delay":        config.Retry.MaxDelay,
	}
	for _, key := range []string{"source.timeout", "pipeline.fetch_timeout", "retry.initial_delay", "retry.max_delay"} {
		if _, err := time.ParseDuration(durations[key]); err != nil {
			errs = append(errs, fmt.Sprintf("%s is not a valid duration: %v", key, err))
		}
	}

	switch config.Source.Kind {
	case "file":
		if config.Source.Directory == "" {
			errs = append(errs, "source.directory is required for the file source")
		}
	case "polygon":
		if config.Source.APIKey == "" {
			errs = append(errs, "source.api_key is required for the polygon source")
		}
	case "coinbase":
		if config.Source.Coinbase.Endpoint == "" {
			errs = append(errs, "source.coinbase.endpoint is required for the coinbase source")
		}
	case "elastic":
		if len(config.Source.Elastic.Addresses) == 0 {
			errs = append(errs, "source.elastic.addresses is required for the elastic source")
		}
	}

	if config.ModelStore.Type == "duckdb" && config.ModelStore.DatabaseURL == "" {
		errs = append(errs, "model_store.database_url is required for DuckDB storage")
	}
	if config.ModelStore.Type == "elastic" && len(config.ModelStore.Elastic.Addresses) == 0 {
		errs = append(errs, "model_store.elastic.addresses is required for the elastic model store")
	}
	if config.Export.Kind == "csv" && config.Export.Directory == "" {
		errs = append(errs, "export.directory is required for the csv exporter")
	}
	if config.Logging.Output == "file" && config.Logging.FilePath == "" {
		errs = append(errs, "logging.file_path is required when output is 'file'")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}

// describeFieldError renders a validator error as "section.field message"
func describeFieldError(fe validator.FieldError) string {
	key := fe.Namespace()
	if i := strings.Index(key, "."); i >= 0 {
		key = key[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", key)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", key, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be at least %s", key, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", key, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", key)
	default:
		return fmt.Sprintf("%s failed %s validation", key, fe.Tag())
	}
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// DefaultConfig returns a configuration populated from the default struct tags
func DefaultConfig() *AppConfig {
	config := &AppConfig{}
	if err := defaults.Set(config); err != nil {
		panic(fmt.Sprintf("config: invalid default tags: %v", err))
	}
	return config
}

// Duration parses a duration field, falling back when it is empty or invalid
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// String returns a string representation of the configuration (excluding sensitive data)
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.Source.APIKey != "" {
		sanitized.Source.APIKey = "[REDACTED]"
	}
	for _, es := range []*ElasticConfig{&sanitized.Source.Elastic, &sanitized.ModelStore.Elastic, &sanitized.Export.Elastic} {
		if es.Password != "" {
			es.Password = "[REDACTED]"
		}
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
