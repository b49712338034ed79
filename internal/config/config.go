package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Sync pass interval for the daemon (in seconds)
	SyncInterval int

	// Per-account sync deadline (in seconds)
	AccountTimeout int

	// Max Last.fm API requests per second
	RateLimit float64

	// Last.fm API credentials
	LastFM LastFMConfig
}

// LastFMConfig holds Last.fm specific configuration
type LastFMConfig struct {
	APIKey string
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Config file locations (in order of precedence)
	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	// Set defaults
	v.SetDefault("sync_interval", 60)
	v.SetDefault("account_timeout", 240)
	v.SetDefault("rate_limit", 2.0)

	// Read config file (optional - don't fail if missing)
	_ = v.ReadInConfig()

	// Read from environment variables
	v.SetEnvPrefix("WAXLOG")
	v.AutomaticEnv()

	// Map config to struct
	cfg := &Config{
		SyncInterval:   v.GetInt("sync_interval"),
		AccountTimeout: v.GetInt("account_timeout"),
		RateLimit:      v.GetFloat64("rate_limit"),
		LastFM: LastFMConfig{
			APIKey: v.GetString("lastfm.api_key"),
		},
	}

	return cfg, nil
}

// getConfigDir returns the configuration directory path
// Creates the directory if it doesn't exist
func getConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	configDir := filepath.Join(homeDir, ".config", "waxlog")

	// Create config directory if it doesn't exist
	_ = os.MkdirAll(configDir, 0755)

	return configDir
}

// GetConfigDir returns the configuration directory path (public helper)
func GetConfigDir() string {
	return getConfigDir()
}
