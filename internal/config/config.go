package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Notifier NotifierConfig `yaml:"notifier"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	ReadTimeout int    `yaml:"read_timeout"`
	IdleTimeout int    `yaml:"idle_timeout"`
}

// RedisConfig contains backing store settings
type RedisConfig struct {
	URL            string `yaml:"url"`
	RetryAttempts  int    `yaml:"retry_attempts"`
	RetryInterval  int    `yaml:"retry_interval"`
	ConnectTimeout int    `yaml:"connect_timeout"`
}

// NotifierConfig contains notification session settings
type NotifierConfig struct {
	// Bounded outbound queue per session; oldest events are dropped
	// when a client cannot keep up.
	SessionQueueSize int `yaml:"session_queue_size"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	IncludeCaller bool   `yaml:"include_caller"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			ReadTimeout: 5,
			IdleTimeout: 120,
		},
		Redis: RedisConfig{
			URL:            "redis://localhost:6379/0",
			RetryAttempts:  3,
			RetryInterval:  2,
			ConnectTimeout: 15,
		},
		Notifier: NotifierConfig{
			SessionQueueSize: 64,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			IncludeCaller: true,
		},
	}
}

// LoadConfigFromFile reads configuration from a YAML file, falling back
// to defaults when the file does not exist.
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables, and flags
func LoadConfig(configFile string, serverAddr string, redisURL string, logLevel string) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	// Override with environment variables
	applyEnvOverrides(config)

	// Override with command line flags (highest priority)
	if serverAddr != "" {
		config.Server.Addr = serverAddr
	}
	if redisURL != "" {
		config.Redis.URL = redisURL
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	if addr := os.Getenv("NOTIFHUB_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if url := os.Getenv("NOTIFHUB_REDIS_URL"); url != "" {
		config.Redis.URL = url
	}
	if queueSizeStr := os.Getenv("NOTIFHUB_SESSION_QUEUE_SIZE"); queueSizeStr != "" {
		if val, err := strconv.Atoi(queueSizeStr); err == nil {
			config.Notifier.SessionQueueSize = val
		}
	}
	if level := os.Getenv("NOTIFHUB_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("NOTIFHUB_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}
