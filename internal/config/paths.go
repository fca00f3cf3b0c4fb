package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds all platform-specific file paths for beacon.
type Paths struct {
	ConfigDir string // ~/.config/beacon or equivalent
	DataDir   string // ~/.config/beacon/data (peer registry, sync cursors)

	ConfigFile   string // ~/.config/beacon/config.toml
	IdentityFile string // ~/.config/beacon/identity.enc
}

// GetPaths returns platform-specific paths for beacon.
func GetPaths() (*Paths, error) {
	var configDir string

	// Allow override via environment variable (useful for testing multiple instances)
	if envConfigDir := os.Getenv("BEACON_CONFIG_DIR"); envConfigDir != "" {
		configDir = envConfigDir
	} else {
		switch runtime.GOOS {
		case "linux", "darwin":
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "beacon")

		case "windows":
			appData := os.Getenv("APPDATA")
			if appData == "" {
				return nil, fmt.Errorf("APPDATA environment variable not set")
			}
			configDir = filepath.Join(appData, "beacon")

		default:
			return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
		}
	}

	return &Paths{
		ConfigDir:    configDir,
		DataDir:      filepath.Join(configDir, "data"),
		ConfigFile:   filepath.Join(configDir, "config.toml"),
		IdentityFile: filepath.Join(configDir, "identity.enc"),
	}, nil
}

// EnsureDirectories creates all required directories with appropriate
// permissions.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// IdentityExists returns true if an identity file exists.
func (p *Paths) IdentityExists() bool {
	_, err := os.Stat(p.IdentityFile)
	return err == nil
}
