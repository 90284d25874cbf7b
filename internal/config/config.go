// Package config reads the daemon configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Http     HttpConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Sweep    SweepConfig
	Provider ProviderConfig
	Odoo     OdooConfig
}

type HttpConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Addr     string
	User     string
	Password string
	Name     string
	PoolSize int
}

type LoggingConfig struct {
	Level  string
	Format string

	// File enables rotation through lumberjack when set
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type SweepConfig struct {
	Interval time.Duration
	Workers  int
}

type ProviderConfig struct {
	// Transport is twilio, 46elks or sns
	Transport string
	BaseUrl   string
	AwsRegion string
}

type OdooConfig struct {
	Url      string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

func (c OdooConfig) Enabled() bool {
	return c.Url != ""
}

// Load reads the optional env files and then the environment. A missing
// file is not an error, values already set in the environment win.
func Load(files ...string) (Config, error) {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	return Config{
		Http: HttpConfig{
			Addr:            getEnvString("DISPATCH_HTTP_ADDR", ":8080"),
			ReadTimeout:     getEnvDuration("DISPATCH_HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("DISPATCH_HTTP_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("DISPATCH_HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Addr:     getEnvString("DISPATCH_DB_ADDR", "localhost:5432"),
			User:     getEnvString("DISPATCH_DB_USER", "postgres"),
			Password: getEnvString("DISPATCH_DB_PASSWORD", ""),
			Name:     getEnvString("DISPATCH_DB_NAME", "dispatch"),
			PoolSize: getEnvInt("DISPATCH_DB_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("DISPATCH_LOG_LEVEL", "info"),
			Format:     getEnvString("DISPATCH_LOG_FORMAT", "json"),
			File:       getEnvString("DISPATCH_LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("DISPATCH_LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("DISPATCH_LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("DISPATCH_LOG_MAX_AGE_DAYS", 30),
		},
		Sweep: SweepConfig{
			Interval: getEnvDuration("DISPATCH_SWEEP_INTERVAL", time.Minute),
			Workers:  getEnvInt("DISPATCH_SWEEP_WORKERS", 5),
		},
		Provider: ProviderConfig{
			Transport: getEnvString("DISPATCH_TRANSPORT", "twilio"),
			BaseUrl:   getEnvString("DISPATCH_TWILIO_BASE_URL", ""),
			AwsRegion: getEnvString("DISPATCH_AWS_REGION", "eu-west-1"),
		},
		Odoo: OdooConfig{
			Url:      getEnvString("DISPATCH_ODOO_URL", ""),
			Database: getEnvString("DISPATCH_ODOO_DB", ""),
			Username: getEnvString("DISPATCH_ODOO_USER", ""),
			Password: getEnvString("DISPATCH_ODOO_PASSWORD", ""),
			Timeout:  getEnvDuration("DISPATCH_ODOO_TIMEOUT", 15*time.Second),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
