// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Purchase PurchaseConfig `mapstructure:"purchase" yaml:"purchase"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool     `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserDataDir     string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args            []string `mapstructure:"args" yaml:"args"`
}

// DatabaseConfig holds the purchase-history database connection details.
// An empty URL disables persistence entirely.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// AgentConfig holds settings related to the LLM escalation path.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	// RequestsPerMinute rate-limits outbound LLM calls across tiers.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// PurchaseConfig tunes the purchase state machine. Every remote call the
// orchestrator makes is bounded by one of these timeouts; a timeout is a
// failure, not a hang.
type PurchaseConfig struct {
	// SearchTimeout bounds the expensive search-plus-filter interaction.
	SearchTimeout time.Duration `mapstructure:"search_timeout" yaml:"search_timeout"`
	// ExtractTimeout bounds listing extraction from the results surface.
	ExtractTimeout time.Duration `mapstructure:"extract_timeout" yaml:"extract_timeout"`
	// CheckTimeout bounds cheap probes: login detection, location reads,
	// loading-indicator checks.
	CheckTimeout time.Duration `mapstructure:"check_timeout" yaml:"check_timeout"`
	// ActionTimeout bounds buy/cart clicks and single filter applications.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// NavSettleDelay is the wait before verifying a navigation landed.
	NavSettleDelay time.Duration `mapstructure:"nav_settle_delay" yaml:"nav_settle_delay"`
	// MaxNavRetries caps per-session navigation verification attempts.
	MaxNavRetries int `mapstructure:"max_nav_retries" yaml:"max_nav_retries"`
	// FilterAttempts caps attempts per individual filter.
	FilterAttempts int `mapstructure:"filter_attempts" yaml:"filter_attempts"`
	// ExtractAttempts caps retries on transient extraction failures.
	ExtractAttempts int `mapstructure:"extract_attempts" yaml:"extract_attempts"`
	// Platform is the default site profile when the intent has no hint.
	Platform string `mapstructure:"platform" yaml:"platform"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cartpilot-cli")
	v.SetDefault("logger.log_file", "cartpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)

	// -- Agent / LLM --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.requests_per_minute", 20)

	// -- Purchase state machine --
	v.SetDefault("purchase.search_timeout", "45s")
	v.SetDefault("purchase.extract_timeout", "15s")
	v.SetDefault("purchase.check_timeout", "5s")
	v.SetDefault("purchase.action_timeout", "10s")
	v.SetDefault("purchase.nav_settle_delay", "2s")
	v.SetDefault("purchase.max_nav_retries", 3)
	v.SetDefault("purchase.filter_attempts", 3)
	v.SetDefault("purchase.extract_attempts", 3)
	v.SetDefault("purchase.platform", "generic")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("agent.llm.models.fast.api_key", "CARTPILOT_LLM_API_KEY")
	v.BindEnv("agent.llm.models.powerful.api_key", "CARTPILOT_LLM_API_KEY")
	v.BindEnv("database.url", "CARTPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Purchase.MaxNavRetries <= 0 {
		return fmt.Errorf("purchase.max_nav_retries must be a positive integer")
	}
	if c.Purchase.FilterAttempts <= 0 {
		return fmt.Errorf("purchase.filter_attempts must be a positive integer")
	}
	if c.Purchase.ExtractAttempts <= 0 {
		return fmt.Errorf("purchase.extract_attempts must be a positive integer")
	}
	if c.Purchase.SearchTimeout <= 0 || c.Purchase.ExtractTimeout <= 0 || c.Purchase.CheckTimeout <= 0 ||
		c.Purchase.ActionTimeout <= 0 || c.Purchase.NavSettleDelay <= 0 {
		return fmt.Errorf("purchase timeouts must be positive durations")
	}
	if c.Agent.RequestsPerMinute < 0 {
		return fmt.Errorf("agent.requests_per_minute must not be negative")
	}
	return nil
}
