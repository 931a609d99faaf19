// Package config provides configuration loading and validation for the trading service.
// It uses Viper to load YAML configuration files with support for environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config is the root configuration structure.
// Required sections: App, Chain, Registry, Indexer.
// Sections with defaults: Lifecycle, Quote. Optional sections (nil if not specified): Server, Metrics.
type Config struct {
	// App contains application-level settings like name and environment.
	App AppConfig `mapstructure:"app"`
	// Chain configures the RPC connection and the exchange deployment.
	Chain ChainConfig `mapstructure:"chain"`
	// Registry locates the static token list.
	Registry RegistryConfig `mapstructure:"registry"`
	// Indexer configures the external order index.
	Indexer IndexerConfig `mapstructure:"indexer"`
	// Lifecycle configures the order timing thresholds and timers.
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	// Quote configures the swap quote refresh.
	Quote QuoteConfig `mapstructure:"quote"`
	// Server configures the HTTP server (optional).
	Server *ServerConfig `mapstructure:"server"`
	// Metrics configures Prometheus metrics endpoint (optional).
	Metrics *MetricsConfig `mapstructure:"metrics"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	// Name is the application name used in logs and metrics.
	Name string `mapstructure:"name"`
	// Env is the environment: "development", "staging", or "production".
	Env string `mapstructure:"env"`
	// LogLevel sets logging verbosity: "debug", "info", "warn", "error".
	LogLevel string `mapstructure:"log_level"`
}

// ChainConfig contains the chain connection and exchange deployment settings.
type ChainConfig struct {
	// RPCURL is the JSON-RPC endpoint (http, https, ws or wss).
	RPCURL string `mapstructure:"rpc_url"`
	// ChainID is the EIP-155 chain id used for signing.
	ChainID int64 `mapstructure:"chain_id"`
	// ExchangeAddress is the exchange contract address.
	ExchangeAddress string `mapstructure:"exchange_address"`
	// PrivateKeyEnv names the environment variable holding the hex signing key.
	PrivateKeyEnv string `mapstructure:"private_key_env"`
	// CallTimeout bounds each contract read.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// ReceiptTimeout bounds waiting for a submitted transaction to be mined.
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
}

// RegistryConfig contains the token registry location.
type RegistryConfig struct {
	// Path is the JSON token list, keyed by symbol.
	Path string `mapstructure:"path"`
}

// IndexerConfig contains order index settings.
type IndexerConfig struct {
	// Endpoint is the GraphQL endpoint of the order index.
	Endpoint string `mapstructure:"endpoint"`
	// Timeout bounds each index query.
	Timeout time.Duration `mapstructure:"timeout"`
}

// LifecycleConfig contains order lifecycle thresholds and timer intervals.
type LifecycleConfig struct {
	// Cooldown is the time after placement before settlement becomes valid.
	Cooldown time.Duration `mapstructure:"cooldown"`
	// Window is the time after placement when the settlement window closes.
	Window time.Duration `mapstructure:"window"`
	// TickInterval is the countdown recompute interval.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// PollInterval is the order index poll interval.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// RateRefreshInterval is the live rate refresh interval for the active order's pair.
	RateRefreshInterval time.Duration `mapstructure:"rate_refresh_interval"`
}

// QuoteConfig contains swap quote settings.
type QuoteConfig struct {
	// RefreshInterval is the background rate and fee refresh interval for the selected pair.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// DefaultFromToken is the source token selected when a session starts.
	DefaultFromToken string `mapstructure:"default_from_token"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// HTTP configures the HTTP server.
	HTTP HTTPConfig `mapstructure:"http"`
	// WebSocket configures the push stream to the UI.
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	// Port is the port to listen on.
	Port int `mapstructure:"port"`
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// WebSocketConfig contains WebSocket push settings.
type WebSocketConfig struct {
	// PingInterval is the interval between ping messages to keep connections alive.
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	// Prometheus configures Prometheus metrics endpoint.
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig contains Prometheus metrics settings.
type PrometheusConfig struct {
	// Enabled determines if Prometheus metrics endpoint is active.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics (e.g., "/metrics").
	Path string `mapstructure:"path"`
}

// Load reads configuration from a YAML file at the given path.
// It also supports environment variable overrides with the SPOTDEX_ prefix.
// Returns an error if the file cannot be read, parsed, or fails validation.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SPOTDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("chain.private_key_env", "SPOTDEX_PRIVATE_KEY")
	v.SetDefault("chain.call_timeout", 10*time.Second)
	v.SetDefault("chain.receipt_timeout", 3*time.Minute)

	v.SetDefault("indexer.timeout", 10*time.Second)

	v.SetDefault("lifecycle.cooldown", 120*time.Second)
	v.SetDefault("lifecycle.window", 300*time.Second)
	v.SetDefault("lifecycle.tick_interval", time.Second)
	v.SetDefault("lifecycle.poll_interval", 15*time.Second)
	v.SetDefault("lifecycle.rate_refresh_interval", 30*time.Second)

	v.SetDefault("quote.refresh_interval", 30*time.Second)
	v.SetDefault("quote.default_from_token", "WETH")
}

// Validate checks that the configuration is valid.
// Returns an error if required fields are missing or have invalid values.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if !common.IsHexAddress(c.Chain.ExchangeAddress) {
		return fmt.Errorf("chain.exchange_address %q is not a valid address", c.Chain.ExchangeAddress)
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain.chain_id must be positive")
	}

	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}

	if c.Indexer.Endpoint == "" {
		return fmt.Errorf("indexer.endpoint is required")
	}

	lc := c.Lifecycle
	if lc.Cooldown <= 0 || lc.Window <= 0 {
		return fmt.Errorf("lifecycle.cooldown and lifecycle.window must be positive")
	}
	if lc.Cooldown >= lc.Window {
		return fmt.Errorf("lifecycle.cooldown (%s) must be shorter than lifecycle.window (%s)", lc.Cooldown, lc.Window)
	}
	if lc.TickInterval <= 0 || lc.PollInterval <= 0 || lc.RateRefreshInterval <= 0 {
		return fmt.Errorf("lifecycle intervals must be positive")
	}

	if c.Quote.RefreshInterval <= 0 {
		return fmt.Errorf("quote.refresh_interval must be positive")
	}

	if c.Server != nil && c.Server.HTTP.Port <= 0 {
		return fmt.Errorf("server.http.port must be positive")
	}

	return nil
}

// IsDevelopment returns true if the environment is "development".
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if the environment is "production".
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// MetricsPath returns the Prometheus path, or "" when metrics are disabled.
func (c *Config) MetricsPath() string {
	if c.Metrics == nil || !c.Metrics.Prometheus.Enabled {
		return ""
	}
	if c.Metrics.Prometheus.Path == "" {
		return "/metrics"
	}
	return c.Metrics.Prometheus.Path
}
