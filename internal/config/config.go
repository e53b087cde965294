package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	AppEnv string `env:"APP_ENV" default:"development"`

	// Coordinator
	TCPHost       string        `env:"TCP_HOST" default:"0.0.0.0"`
	TCPPort       int           `env:"TCP_PORT" default:"9999"`
	ChatRateLimit float64       `env:"CHAT_RATE_LIMIT" default:"10"`
	ChatBurst     int           `env:"CHAT_BURST" default:"20"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" default:"1s"`

	// Peer
	ServerAddr     string        `env:"SERVER_ADDR" default:"127.0.0.1:9999"`
	DialTimeout    time.Duration `env:"DIAL_TIMEOUT" default:"10s"`
	CommandTimeout time.Duration `env:"COMMAND_TIMEOUT" default:"30s"`
	CommandDir     string        `env:"COMMAND_DIR"`

	// Framing
	MaxFrameSize int           `env:"MAX_FRAME_SIZE" default:"16777216"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" default:"30s"`

	// Redis session directory (empty URL = disabled)
	RedisURL      string        `env:"REDIS_URL"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	SessionTTL    time.Duration `env:"SESSION_TTL" default:"24h"`

	// Status API (empty = disabled)
	StatusAddr  string `env:"STATUS_ADDR"`
	StatusToken string `env:"STATUS_TOKEN"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogDir    string `env:"LOG_DIR"`

	// Files
	ScreenshotDir string `env:"SCREENSHOT_DIR" default:"screenshots"`
}

// LoadConfig loads configuration from environment variables, after merging
// a .env file from the working directory when there is one.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		slog.Warn("env_file_not_loaded", "error", err.Error())
	}

	config := &Config{}

	if err := loadEnvString(&config.AppEnv, "APP_ENV", "development"); err != nil {
		return nil, err
	}

	// Coordinator
	if err := loadEnvString(&config.TCPHost, "TCP_HOST", "0.0.0.0"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TCPPort, "TCP_PORT", 9999); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.ChatRateLimit, "CHAT_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ChatBurst, "CHAT_BURST", 20); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ShutdownGrace, "SHUTDOWN_GRACE", time.Second); err != nil {
		return nil, err
	}

	// Peer
	if err := loadEnvString(&config.ServerAddr, "SERVER_ADDR", "127.0.0.1:9999"); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.DialTimeout, "DIAL_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.CommandTimeout, "COMMAND_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.CommandDir, "COMMAND_DIR", ""); err != nil {
		return nil, err
	}

	// Framing
	if err := loadEnvInt(&config.MaxFrameSize, "MAX_FRAME_SIZE", 16<<20); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.WriteTimeout, "WRITE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	// Redis
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", ""); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.SessionTTL, "SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	// Status API
	if err := loadEnvString(&config.StatusAddr, "STATUS_ADDR", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.StatusToken, "STATUS_TOKEN", ""); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogDir, "LOG_DIR", ""); err != nil {
		return nil, err
	}

	// Files
	if err := loadEnvString(&config.ScreenshotDir, "SCREENSHOT_DIR", "screenshots"); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.TCPPort < 1 || c.TCPPort > 65535 {
		errors = append(errors, "TCP_PORT must be between 1 and 65535")
	}
	if _, _, err := net.SplitHostPort(c.ServerAddr); err != nil {
		errors = append(errors, "SERVER_ADDR must be host:port")
	}
	if c.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(c.StatusAddr); err != nil {
			errors = append(errors, "STATUS_ADDR must be host:port")
		}
	}
	if c.MaxFrameSize < 1 {
		errors = append(errors, "MAX_FRAME_SIZE must be positive")
	}
	if c.ChatRateLimit < 0 {
		errors = append(errors, "CHAT_RATE_LIMIT must not be negative")
	}
	if c.ChatRateLimit > 0 && c.ChatBurst < 1 {
		errors = append(errors, "CHAT_BURST must be at least 1 when CHAT_RATE_LIMIT is set")
	}
	if c.WriteTimeout < 0 || c.DialTimeout < 0 || c.CommandTimeout < 0 || c.ShutdownGrace < 0 {
		errors = append(errors, "timeouts must not be negative")
	}
	if c.RedisURL != "" && c.SessionTTL <= 0 {
		errors = append(errors, "SESSION_TTL must be positive when REDIS_URL is set")
	}

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	// Validate log format
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// TCPAddr is the coordinator's listen address.
func (c *Config) TCPAddr() string {
	return net.JoinHostPort(c.TCPHost, strconv.Itoa(c.TCPPort))
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
