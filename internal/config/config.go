// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	System      SystemConfig            `yaml:"system"`
	Venues      map[string]VenueConfig  `yaml:"venues"`
	Chains      map[string]ChainConfig  `yaml:"chains"`
	Timing      TimingConfig            `yaml:"timing"`
	Concurrency ConcurrencyConfig       `yaml:"concurrency"`
	Telemetry   TelemetryConfig         `yaml:"telemetry"`
	HTTP        HTTPConfig              `yaml:"http"`
}

// SystemConfig contains system-level settings
type SystemConfig struct {
	LogLevel         string  `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	DefaultThreshold float64 `yaml:"default_threshold_percent" validate:"required,min=0"`
}

// VenueConfig describes one CEX venue's connection surface
type VenueConfig struct {
	SpotWSURL       string `yaml:"spot_ws_url"`
	DerivativeWSURL string `yaml:"derivative_ws_url"`
	RESTBaseURL     string `yaml:"rest_base_url" validate:"required"`
	SpotEncoding    string `yaml:"spot_encoding" validate:"oneof=json binary"`
}

// ChainConfig describes one EVM chain's AMM surface
type ChainConfig struct {
	RPCURL          string `yaml:"rpc_url" validate:"required"`
	WrappedNative   string `yaml:"wrapped_native" validate:"required"`
	USDT            string `yaml:"usdt"`
	USDC            string `yaml:"usdc"`
	Factory         string `yaml:"factory" validate:"required"`
	SeedPoolAddress string `yaml:"seed_pool_address"`
}

// TimingConfig contains timing-related settings
type TimingConfig struct {
	ReconnectBaseDelayMS  int `yaml:"reconnect_base_delay_ms" validate:"required,min=1"`
	ReconnectMaxDelayMS   int `yaml:"reconnect_max_delay_ms" validate:"required,min=1"`
	ReconnectMaxAttempts  int `yaml:"reconnect_max_attempts" validate:"required,min=1,max=20"`
	OnchainPollIntervalMS int `yaml:"onchain_poll_interval_ms" validate:"required,min=300"`
	SlowPollThresholdMS   int `yaml:"slow_poll_threshold_ms" validate:"required,min=1"`
	WrappedNativeCacheTTLMS int `yaml:"wrapped_native_cache_ttl_ms" validate:"required,min=1"`
	WebsocketConnectTimeoutMS int `yaml:"websocket_connect_timeout_ms" validate:"required,min=1"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	ManagerPoolSize   int `yaml:"manager_pool_size" validate:"required,min=1,max=256"`
	DiscoveryPoolSize int `yaml:"discovery_pool_size" validate:"required,min=1,max=256"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name"`
	MetricsPort   int    `yaml:"metrics_port"`
	EnableMetrics bool   `yaml:"enable_metrics"`
}

// HTTPConfig contains the HTTP API server settings
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"required"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateVenues(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateChains(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTimingConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateConcurrencyConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateHTTPConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	if c.System.DefaultThreshold < 0 {
		return ValidationError{
			Field:   "system.default_threshold_percent",
			Value:   c.System.DefaultThreshold,
			Message: "must be non-negative",
		}
	}
	return nil
}

func (c *Config) validateVenues() error {
	if len(c.Venues) == 0 {
		return ValidationError{
			Field:   "venues",
			Message: "at least one venue must be configured",
		}
	}
	for name, v := range c.Venues {
		if v.RESTBaseURL == "" {
			return ValidationError{
				Field:   fmt.Sprintf("venues.%s.rest_base_url", name),
				Message: "REST base URL is required",
			}
		}
		if v.SpotWSURL == "" && v.DerivativeWSURL == "" {
			return ValidationError{
				Field:   fmt.Sprintf("venues.%s", name),
				Message: "at least one of spot_ws_url or derivative_ws_url is required",
			}
		}
		if v.SpotEncoding != "" && v.SpotEncoding != "json" && v.SpotEncoding != "binary" {
			return ValidationError{
				Field:   fmt.Sprintf("venues.%s.spot_encoding", name),
				Value:   v.SpotEncoding,
				Message: "must be json or binary",
			}
		}
	}
	return nil
}

func (c *Config) validateChains() error {
	for name, ch := range c.Chains {
		if ch.RPCURL == "" {
			return ValidationError{
				Field:   fmt.Sprintf("chains.%s.rpc_url", name),
				Message: "RPC URL is required",
			}
		}
		if ch.WrappedNative == "" {
			return ValidationError{
				Field:   fmt.Sprintf("chains.%s.wrapped_native", name),
				Message: "wrapped native address is required",
			}
		}
		if ch.Factory == "" {
			return ValidationError{
				Field:   fmt.Sprintf("chains.%s.factory", name),
				Message: "factory address is required",
			}
		}
	}
	return nil
}

func (c *Config) validateTimingConfig() error {
	if c.Timing.ReconnectBaseDelayMS <= 0 {
		return ValidationError{Field: "timing.reconnect_base_delay_ms", Value: c.Timing.ReconnectBaseDelayMS, Message: "must be positive"}
	}
	if c.Timing.ReconnectMaxDelayMS < c.Timing.ReconnectBaseDelayMS {
		return ValidationError{Field: "timing.reconnect_max_delay_ms", Value: c.Timing.ReconnectMaxDelayMS, Message: "must be >= reconnect_base_delay_ms"}
	}
	if c.Timing.ReconnectMaxAttempts <= 0 {
		return ValidationError{Field: "timing.reconnect_max_attempts", Value: c.Timing.ReconnectMaxAttempts, Message: "must be positive"}
	}
	if c.Timing.ReconnectMaxAttempts > 20 {
		return ValidationError{Field: "timing.reconnect_max_attempts", Value: c.Timing.ReconnectMaxAttempts, Message: "must be at most 20"}
	}
	if c.Timing.OnchainPollIntervalMS < 300 {
		return ValidationError{Field: "timing.onchain_poll_interval_ms", Value: c.Timing.OnchainPollIntervalMS, Message: "must be at least 300ms"}
	}
	if c.Timing.SlowPollThresholdMS <= 0 {
		return ValidationError{Field: "timing.slow_poll_threshold_ms", Value: c.Timing.SlowPollThresholdMS, Message: "must be positive"}
	}
	if c.Timing.WrappedNativeCacheTTLMS <= 0 {
		return ValidationError{Field: "timing.wrapped_native_cache_ttl_ms", Value: c.Timing.WrappedNativeCacheTTLMS, Message: "must be positive"}
	}
	if c.Timing.WebsocketConnectTimeoutMS <= 0 {
		return ValidationError{Field: "timing.websocket_connect_timeout_ms", Value: c.Timing.WebsocketConnectTimeoutMS, Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateConcurrencyConfig() error {
	if c.Concurrency.ManagerPoolSize <= 0 {
		return ValidationError{Field: "concurrency.manager_pool_size", Value: c.Concurrency.ManagerPoolSize, Message: "must be positive"}
	}
	if c.Concurrency.DiscoveryPoolSize <= 0 {
		return ValidationError{Field: "concurrency.discovery_pool_size", Value: c.Concurrency.DiscoveryPoolSize, Message: "must be positive"}
	}
	if c.Concurrency.ManagerPoolSize > 256 {
		return ValidationError{Field: "concurrency.manager_pool_size", Value: c.Concurrency.ManagerPoolSize, Message: "must be at most 256"}
	}
	if c.Concurrency.DiscoveryPoolSize > 256 {
		return ValidationError{Field: "concurrency.discovery_pool_size", Value: c.Concurrency.DiscoveryPoolSize, Message: "must be at most 256"}
	}
	return nil
}

func (c *Config) validateHTTPConfig() error {
	if c.HTTP.ListenAddr == "" {
		return ValidationError{Field: "http.listen_addr", Message: "listen address is required"}
	}
	return nil
}

// String returns a string representation of the configuration (with RPC URLs masked,
// since many providers embed an API key in the path or query string).
func (c *Config) String() string {
	configCopy := *c
	maskedChains := make(map[string]ChainConfig, len(c.Chains))
	for name, ch := range c.Chains {
		ch.RPCURL = maskString(ch.RPCURL)
		maskedChains[name] = ch
	}
	configCopy.Chains = maskedChains

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a default configuration for testing and local runs
func DefaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel:         "INFO",
			DefaultThreshold: 0.5,
		},
		Venues: map[string]VenueConfig{
			"binance": {
				SpotWSURL:       "wss://stream.binance.com:9443/ws",
				DerivativeWSURL: "wss://fstream.binance.com/ws",
				RESTBaseURL:     "https://api.binance.com",
				SpotEncoding:    "json",
			},
			"mexc": {
				SpotWSURL:       "wss://wbs-api.mexc.com/ws",
				DerivativeWSURL: "wss://contract.mexc.com/edge",
				RESTBaseURL:     "https://api.mexc.com",
				SpotEncoding:    "binary",
			},
			"gate": {
				SpotWSURL:       "wss://api.gateio.ws/ws/v4/",
				DerivativeWSURL: "wss://fx-ws.gateio.ws/v4/ws/usdt",
				RESTBaseURL:     "https://api.gateio.ws",
				SpotEncoding:    "json",
			},
			"bitget": {
				SpotWSURL:       "wss://ws.bitget.com/v2/ws/public",
				DerivativeWSURL: "wss://ws.bitget.com/v2/ws/public",
				RESTBaseURL:     "https://api.bitget.com",
				SpotEncoding:    "json",
			},
		},
		Chains: map[string]ChainConfig{
			"ethereum": {
				RPCURL:          "${ETHEREUM_RPC_URL}",
				WrappedNative:   "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
				USDT:            "0xdAC17F958D2ee523a2206206994597C13D831ec7",
				USDC:            "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				Factory:         "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
				SeedPoolAddress: "0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852",
			},
			"bsc": {
				RPCURL:          "${BSC_RPC_URL}",
				WrappedNative:   "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
				USDT:            "0x55d398326f99059fF775485246999027B3197955",
				USDC:            "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
				Factory:         "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73",
				SeedPoolAddress: "0x16b9a82891338f9bA80E2D6970FddA79D1eb0daE",
			},
			"polygon": {
				RPCURL:          "${POLYGON_RPC_URL}",
				WrappedNative:   "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
				USDT:            "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
				USDC:            "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
				Factory:         "0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32",
				SeedPoolAddress: "0x604229c960e5CACF2aaEAc8Be68Ac07BA9dF81c3",
			},
			"arbitrum": {
				RPCURL:          "${ARBITRUM_RPC_URL}",
				WrappedNative:   "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
				USDT:            "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
				USDC:            "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
				Factory:         "0xf1D7CC64Fb4452F05c498126312eBE29f30Fbcf9",
				SeedPoolAddress: "0xC6F780497A95e246EB9449f5e4770916DCd6396A",
			},
		},
		Timing: TimingConfig{
			ReconnectBaseDelayMS:      1000,
			ReconnectMaxDelayMS:       30000,
			ReconnectMaxAttempts:      5,
			OnchainPollIntervalMS:     500,
			SlowPollThresholdMS:       1000,
			WrappedNativeCacheTTLMS:   3000,
			WebsocketConnectTimeoutMS: 5000,
		},
		Concurrency: ConcurrencyConfig{
			ManagerPoolSize:   16,
			DiscoveryPoolSize: 8,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "arbhub",
			MetricsPort:   9090,
			EnableMetrics: true,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
	}
}
