// Package config provides configuration management for the key-value store.
// It loads settings from YAML files and environment variables, with
// thread-safe singleton access.
package config

import (
	"log/slog"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds all application configuration values.
type Config struct {
	DATA_DIR             string `yaml:"DATA_DIR"`             // Directory where generation log files are stored
	HEADER_SIZE          uint32 `yaml:"HEADER_SIZE"`          // Size of record header in bytes
	COMPACTION_THRESHOLD uint64 `yaml:"COMPACTION_THRESHOLD"` // Uncompacted bytes that trigger compaction
	ADDR                 string `yaml:"ADDR"`                 // Default server listen / client dial address
	ENGINE               string `yaml:"ENGINE"`               // Default engine backend: "kvs" or "sled"
	MAX_CONNECTIONS      uint32 `yaml:"MAX_CONNECTIONS"`      // Max concurrent client connections the server accepts
	MAX_MESSAGE_BYTES    uint32 `yaml:"MAX_MESSAGE_BYTES"`    // Upper bound on a single framed wire message
}

var (
	appConfig *Config
	once      sync.Once
	initErr   error
)

// LoadConfig reads configuration values from config.yml and optionally from .env file.
// It uses a sync.Once to ensure configuration is loaded only once, even with
// concurrent calls. Environment variables in the YAML file are expanded using
// os.ExpandEnv. Returns the loaded configuration and any error encountered.
func LoadConfig() (*Config, error) {
	once.Do(func() {
		// Load .env file if it exists (optional - no error if missing)
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found or error loading it", "error", err)
		} else {
			slog.Debug(".env file loaded successfully")
		}

		file, err := os.ReadFile("internal/config/config.yml")
		if err != nil {
			initErr = err
			return
		}

		cfg := Default()
		err = yaml.Unmarshal([]byte(os.ExpandEnv(string(file))), cfg)
		if err != nil {
			initErr = err
			return
		}
		appConfig = cfg
	})
	if initErr != nil {
		return nil, initErr
	}
	return appConfig, initErr
}

// Default returns a Config populated with the same baseline values shipped
// in config.yml. It is unmarshalled into as a starting point so a partial
// YAML file only overrides the fields it mentions, and it doubles as a
// standalone fixture for tests that don't want to touch the filesystem.
func Default() *Config {
	return &Config{
		DATA_DIR:             "data",
		HEADER_SIZE:          21,
		COMPACTION_THRESHOLD: 1024 * 1024,
		ADDR:                 "127.0.0.1:4000",
		ENGINE:               "kvs",
		MAX_CONNECTIONS:      256,
		MAX_MESSAGE_BYTES:    8 * 1024 * 1024,
	}
}

// GetConfig returns the singleton configuration instance.
// Panics if configuration has not been loaded yet. This function should
// only be called after LoadConfig has been successfully called.
func GetConfig() *Config {
	if appConfig == nil {
		panic("config not loaded - call LoadConfig() first")
	}
	return appConfig
}
