package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	configData Config
	v          *viper.Viper
)

// Config holds all configuration settings.
type Config struct {
	// Session pool configuration
	Pool struct {
		Capacity int
		Endpoint int
	}
	// Browser configuration
	Browser struct {
		Path     string
		Headless bool
		Flags    []string
	}
	// Render server configuration
	Server struct {
		Host          string
		Port          int
		RenderTimeout time.Duration `mapstructure:"render_timeout"`
		MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	}
	// Logging configuration
	Log struct {
		Level  string
		Format string
	}
}

// Initialize sets up the configuration system.
func Initialize() error {
	v = viper.New()

	// Set config name and paths
	v.SetConfigName("config")             // name of config file (without extension)
	v.SetConfigType("yaml")               // config file type
	v.AddConfigPath(".")                  // optionally look for config in working directory
	v.AddConfigPath("$HOME/.chrome-pool") // look for config in .chrome-pool directory in home
	v.AddConfigPath("/etc/chrome-pool/")  // path to look for the config file in

	// Set default values
	setDefaults()

	// Environment variables
	v.SetEnvPrefix("CHROMEPOOL") // prefix for env vars
	v.AutomaticEnv()             // read in environment variables that match
	v.SetEnvKeyReplacer(         // replace dots with underscores in env vars
		strings.NewReplacer(".", "_"),
	)

	// Create config file if it doesn't exist
	if err := ensureConfig(); err != nil {
		return fmt.Errorf("error creating config file: %w", err)
	}

	// Read in config file
	if err := v.ReadInConfig(); err != nil {
		// It's okay if we can't find a config file, we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal config into struct
	if err := v.Unmarshal(&configData); err != nil {
		return fmt.Errorf("unable to decode into config struct: %w", err)
	}

	return nil
}

// setDefaults sets default values for all configuration options.
func setDefaults() {
	// Pool defaults
	v.SetDefault("pool.capacity", 4)
	v.SetDefault("pool.endpoint", 0)

	// Browser defaults
	v.SetDefault("browser.path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.flags", []string{})

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8600)
	v.SetDefault("server.render_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 1048576)

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "human")
}

// ensureConfig creates a default config file if none exists.
func ensureConfig() error {
	// Check if config file exists
	if _, err := os.Stat(filepath.Join(os.Getenv("HOME"), ".chrome-pool")); os.IsNotExist(err) {
		// Create directory
		if err := os.MkdirAll(filepath.Join(os.Getenv("HOME"), ".chrome-pool"), 0o755); err != nil {
			return err
		}
	}

	configFile := filepath.Join(os.Getenv("HOME"), ".chrome-pool", "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		// Create default config file
		defaultConfig := `# Chrome Pool Configuration File
pool:
  # Maximum number of concurrently open tabs. 0 means unbounded.
  capacity: 4
  # Remote debugging port. 0 picks a free port at startup.
  endpoint: 0

browser:
  # Path to the Chrome/Chromium executable. Empty means autodetect.
  path: ""
  headless: true
  # Extra command line flags passed to the browser.
  flags: []

server:
  host: 127.0.0.1
  port: 8600
  render_timeout: 30s
  max_body_bytes: 1048576

log:
  level: info
  format: human
`
		if err := os.WriteFile(configFile, []byte(defaultConfig), 0o644); err != nil {
			return err
		}
	}

	return nil
}

// Get returns the current configuration.
func Get() *Config {
	return &configData
}

// GetViper returns the viper instance.
func GetViper() *viper.Viper {
	return v
}
