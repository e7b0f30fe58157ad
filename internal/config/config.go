package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the curtaild configuration
type Config struct {
	Ledger struct {
		RPCEndpoint    string `yaml:"rpcEndpoint"`    // rippled JSON-RPC endpoint
		WSEndpoint     string `yaml:"wsEndpoint"`     // rippled websocket endpoint, optional
		Currency       string `yaml:"currency"`       // issued currency code, empty for native
		IssuerAddress  string `yaml:"issuerAddress"`  // issuer of the currency, required when set
		CustodyAddress string `yaml:"custodyAddress"` // platform custody account
		ReserveAddress string `yaml:"reserveAddress"` // reward payout account
	} `yaml:"ledger"`
	Signing struct {
		Endpoint  string `yaml:"endpoint"` // wallet signing provider API
		APIKey    string `yaml:"apiKey"`
		APISecret string `yaml:"apiSecret"`
		Expiry    string `yaml:"expiry"` // signing request lifetime, e.g. "24h"
	} `yaml:"signing"`
	Oracle struct {
		Interval            string `yaml:"interval"`            // verification sweep interval
		MeasurementEndpoint string `yaml:"measurementEndpoint"` // metering API base URL
		MeasurementAPIKey   string `yaml:"measurementApiKey"`
	} `yaml:"oracle"`
	Storage struct {
		Backend string `yaml:"backend"` // "memory" | "badger"
		Path    string `yaml:"path"`    // e.g. "data/curtaild"
	} `yaml:"storage"`
	Server struct {
		ListenAddr string   `yaml:"listenAddr"`
		APIKeys    []string `yaml:"apiKeys"`       // empty disables auth
		RateLimit  float64  `yaml:"rateLimit"`     // requests per second per client
		RateBurst  int      `yaml:"rateLimitBurst"`
	} `yaml:"server"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Set defaults and validate
	if err := config.setDefaults(); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for empty fields
func (c *Config) setDefaults() error {
	if c.Ledger.RPCEndpoint == "" {
		c.Ledger.RPCEndpoint = "https://s.altnet.rippletest.net:51234"
	}

	if c.Signing.Expiry == "" {
		c.Signing.Expiry = "24h"
	}

	if c.Oracle.Interval == "" {
		c.Oracle.Interval = "1h"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "badger"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/curtaild"
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8667"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 10
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 20
	}

	return nil
}

// validate performs basic validation of config values
func (c *Config) validate() error {
	if c.Ledger.RPCEndpoint == "" {
		return fmt.Errorf("ledger RPC endpoint cannot be empty")
	}
	if c.Ledger.CustodyAddress == "" {
		return fmt.Errorf("custody address cannot be empty")
	}
	if c.Ledger.ReserveAddress == "" {
		return fmt.Errorf("reserve address cannot be empty")
	}
	if c.Ledger.Currency != "" && c.Ledger.IssuerAddress == "" {
		return fmt.Errorf("issuer address is required when a currency is configured")
	}

	if c.Signing.Endpoint == "" {
		return fmt.Errorf("signing provider endpoint cannot be empty")
	}
	if c.Signing.APIKey == "" || c.Signing.APISecret == "" {
		return fmt.Errorf("signing provider credentials cannot be empty")
	}
	if _, err := time.ParseDuration(c.Signing.Expiry); err != nil {
		return fmt.Errorf("invalid signing expiry duration %s: %w", c.Signing.Expiry, err)
	}

	if _, err := time.ParseDuration(c.Oracle.Interval); err != nil {
		return fmt.Errorf("invalid oracle interval duration %s: %w", c.Oracle.Interval, err)
	}
	if c.Oracle.MeasurementEndpoint == "" {
		return fmt.Errorf("oracle measurement endpoint cannot be empty")
	}

	if c.Storage.Backend != "memory" && c.Storage.Backend != "badger" {
		return fmt.Errorf("storage backend must be 'memory' or 'badger', got %s", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path cannot be empty")
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative, got %f", c.Server.RateLimit)
	}

	return nil
}

// GetOracleInterval returns the oracle sweep interval as a time.Duration
func (c *Config) GetOracleInterval() time.Duration {
	duration, err := time.ParseDuration(c.Oracle.Interval)
	if err != nil {
		// This should not happen if validation passed
		return time.Hour
	}
	return duration
}

// GetSigningExpiry returns the signing request lifetime as a time.Duration
func (c *Config) GetSigningExpiry() time.Duration {
	duration, err := time.ParseDuration(c.Signing.Expiry)
	if err != nil {
		// This should not happen if validation passed
		return 24 * time.Hour
	}
	return duration
}

// String returns a string representation of the config without secrets
func (c *Config) String() string {
	return fmt.Sprintf("Config{Ledger: %s, Signing: %s, Oracle: %s, Storage: %s/%s, Listen: %s}",
		c.Ledger.RPCEndpoint, c.Signing.Endpoint, c.Oracle.Interval,
		c.Storage.Backend, c.Storage.Path, c.Server.ListenAddr)
}
