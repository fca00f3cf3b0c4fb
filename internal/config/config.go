// Package config loads and persists the beacon client configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the beacon configuration file.
type Config struct {
	App        AppConfig        `toml:"app"`
	Relay      RelayConfig      `toml:"relay"`
	Pairing    PairingConfig    `toml:"pairing"`
	Logging    LoggingConfig    `toml:"logging"`
	Blockchain BlockchainConfig `toml:"blockchain"`
}

// AppConfig identifies this client to its peers.
type AppConfig struct {
	Name   string `toml:"name"`
	Icon   string `toml:"icon"`
	AppURL string `toml:"app_url"`
	// Role selects the facade: "dapp" or "wallet".
	Role string `toml:"role"`
}

// RelayConfig lists candidate relay endpoints per transport variant.
type RelayConfig struct {
	RoomNodes   []string `toml:"room_nodes"`
	SocketNodes []string `toml:"socket_nodes"`
}

// PairingConfig contains handshake settings.
type PairingConfig struct {
	// TimeoutSeconds bounds how long a pairing attempt waits for its
	// counterpart.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// RequestTimeoutSeconds bounds how long a request waits for its
	// matching response.
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// BlockchainConfig selects the adapters registered at startup.
type BlockchainConfig struct {
	Enabled    []string `toml:"enabled"`
	CatalogURL string   `toml:"catalog_url"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name: "beacon",
			Role: "wallet",
		},
		Relay: RelayConfig{
			RoomNodes: []string{
				"beacon-node-1.diamond.papers.tech",
				"beacon-node-1.sky.papers.tech",
				"beacon-node-2.sky.papers.tech",
			},
			SocketNodes: []string{},
		},
		Pairing: PairingConfig{
			TimeoutSeconds:        300,
			RequestTimeoutSeconds: 600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Blockchain: BlockchainConfig{
			Enabled: []string{"tezos"},
		},
	}
}

// PairingTimeout returns the configured pairing window.
func (c *Config) PairingTimeout() time.Duration {
	return time.Duration(c.Pairing.TimeoutSeconds) * time.Second
}

// RequestTimeout returns the configured response window.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Pairing.RequestTimeoutSeconds) * time.Second
}

// Load loads the configuration from the default config file.
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, fmt.Errorf("get paths: %w", err)
	}

	return LoadFrom(paths.ConfigFile)
}

// LoadFrom loads the configuration from a specific file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if no config file exists
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the default config file.
func (c *Config) Save() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}

	return c.SaveTo(paths.ConfigFile)
}

// SaveTo saves the configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.App.Role != "dapp" && c.App.Role != "wallet" {
		return fmt.Errorf("invalid role: %s", c.App.Role)
	}

	if len(c.Relay.RoomNodes) == 0 && len(c.Relay.SocketNodes) == 0 {
		return fmt.Errorf("no relay nodes configured")
	}

	if c.Pairing.TimeoutSeconds < 1 {
		return fmt.Errorf("invalid pairing timeout: %d", c.Pairing.TimeoutSeconds)
	}
	if c.Pairing.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("invalid request timeout: %d", c.Pairing.RequestTimeoutSeconds)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
