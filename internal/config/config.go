package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/guided-traffic/credential-cipher/pkg/cipher"
)

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`      // Enable/disable monitoring
	BindAddress string `mapstructure:"bind_address"` // Address to bind monitoring server (default: :9090)
	MetricsPath string `mapstructure:"metrics_path"` // Path for metrics endpoint (default: /metrics)
}

// KeystoreConfig holds key-store backend configuration
type KeystoreConfig struct {
	// SnapshotPath is where sealed key-store snapshots are written and
	// restored from.
	SnapshotPath string `mapstructure:"snapshot_path"`

	// HardwareBacked declares the store's backing tier. The software store
	// can stand in for a hardware element in tests and development.
	HardwareBacked bool `mapstructure:"hardware_backed"`

	// GateIssuer is the issuer recorded in authentication attestation
	// tokens.
	GateIssuer string `mapstructure:"gate_issuer"`
}

// CipherConfig holds cipher strategy configuration
type CipherConfig struct {
	DefaultAlias  string `mapstructure:"default_alias"`  // Key alias used when callers pass none
	KeySize       int    `mapstructure:"key_size"`       // RSA modulus size in bits
	RequiredLevel string `mapstructure:"required_level"` // "any", "secure-software" or "secure-hardware"
}

// Config holds the application configuration
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "text" (default) or "json"

	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Keystore   KeystoreConfig   `mapstructure:"keystore"`
	Cipher     CipherConfig     `mapstructure:"cipher"`
}

// InitConfig initializes the configuration system
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".credential-cipher")
	}

	// Environment variable configuration
	viper.SetEnvPrefix("CREDCIPHER")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// Load loads the configuration from viper
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", false)
	viper.SetDefault("monitoring.bind_address", ":9090")
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Keystore defaults
	viper.SetDefault("keystore.snapshot_path", "config/keystore.sealed")
	viper.SetDefault("keystore.hardware_backed", false)
	viper.SetDefault("keystore.gate_issuer", "credential-cipher")

	// Cipher defaults
	viper.SetDefault("cipher.default_alias", "credential-cipher")
	viper.SetDefault("cipher.key_size", 3072)
	viper.SetDefault("cipher.required_level", "any")
}

// validate validates the configuration
func validate(cfg *Config) error {
	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be 'text' or 'json', got %q", cfg.LogFormat)
	}

	if cfg.Cipher.DefaultAlias == "" {
		return fmt.Errorf("cipher.default_alias is required")
	}
	if cfg.Cipher.KeySize < 2048 {
		return fmt.Errorf("cipher.key_size: minimum value is 2048 bits, got %d", cfg.Cipher.KeySize)
	}
	if _, err := cipher.ParseSecurityLevel(cfg.Cipher.RequiredLevel); err != nil {
		return fmt.Errorf("cipher.required_level: %w", err)
	}

	if cfg.Keystore.GateIssuer == "" {
		return fmt.Errorf("keystore.gate_issuer is required")
	}

	if cfg.Monitoring.Enabled {
		if cfg.Monitoring.BindAddress == "" {
			return fmt.Errorf("monitoring.bind_address is required when monitoring is enabled")
		}
		if cfg.Monitoring.MetricsPath == "" {
			return fmt.Errorf("monitoring.metrics_path is required when monitoring is enabled")
		}
	}

	return nil
}

// RequiredLevel parses the configured minimum security level.
func (cfg *Config) RequiredLevel() (cipher.SecurityLevel, error) {
	return cipher.ParseSecurityLevel(cfg.Cipher.RequiredLevel)
}

// ProvisionKeySize returns the configured key size for provisioning new key
// pairs, never below the given strategy floor.
func (cfg *Config) ProvisionKeySize(floor int) int {
	if cfg.Cipher.KeySize > floor {
		return cfg.Cipher.KeySize
	}
	return floor
}
