/**
 * Configuration for the document analysis service
 *
 * Loads configuration from environment variables; .env is loaded by the
 * entry points before this runs.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds service configuration
type Config struct {
	// HTTP server configuration
	Port int

	// Redis configuration (async job queue)
	RedisURL  string
	QueueName string

	// PostgreSQL configuration (optional job record store; empty disables it)
	DatabaseURL string

	// Engine configuration
	EngineURL          string // Inference sidecar URL; empty selects the local tesseract engine
	EngineDevice       string // Requested device: cpu, cuda, or mps
	TesseractLanguages string // "+"-separated language codes for the local engine

	// Worker configuration
	WorkerConcurrency int // Bounded engine dispatcher size
	ProcessingTimeout int // Per-job timeout in milliseconds

	// Raster configuration
	DefaultDPI  int
	MinDPI      int
	MaxDPI      int
	MaxFileSize int64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:               getEnvAsIntOrDefault("PORT", 8000),
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueName:          getEnvOrDefault("QUEUE_NAME", "docanalysis:jobs"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", ""),
		EngineURL:          getEnvOrDefault("ENGINE_URL", ""),
		EngineDevice:       getEnvOrDefault("ENGINE_DEVICE", "cuda"),
		TesseractLanguages: getEnvOrDefault("TESSERACT_LANGUAGES", "eng"),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", 2),
		ProcessingTimeout:  getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		DefaultDPI:         getEnvAsIntOrDefault("DEFAULT_DPI", 300),
		MinDPI:             getEnvAsIntOrDefault("MIN_DPI", 72),
		MaxDPI:             getEnvAsIntOrDefault("MAX_DPI", 600),
		MaxFileSize:        getEnvAsInt64OrDefault("MAX_FILE_SIZE", 104857600), // 100MB
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 64 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 64, got %d", c.WorkerConcurrency)
	}

	switch c.EngineDevice {
	case "cpu", "cuda", "mps":
	default:
		return fmt.Errorf("ENGINE_DEVICE must be one of cpu, cuda, mps, got %q", c.EngineDevice)
	}

	if c.MinDPI < 1 || c.MaxDPI < c.MinDPI {
		return fmt.Errorf("invalid DPI range [%d, %d]", c.MinDPI, c.MaxDPI)
	}

	if c.DefaultDPI < c.MinDPI || c.DefaultDPI > c.MaxDPI {
		return fmt.Errorf("DEFAULT_DPI %d outside range [%d, %d]", c.DefaultDPI, c.MinDPI, c.MaxDPI)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 5368709120 { // 1KB to 5GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 5GB, got %d", c.MaxFileSize)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
