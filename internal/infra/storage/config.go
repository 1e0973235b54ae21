package storage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// DefaultMaxSourceSizeMB bounds how large a single source image may be
	// before the image-processing worker refuses to render it as EntryTooLarge.
	DefaultMaxSourceSizeMB = 500
	DefaultAllowedTypesStr = "image/jpeg,image/png,image/webp,image/gif,image/bmp,image/tiff"
)

// SourceValidationConfig bounds what the image-processing worker will
// accept as a renderable source image, checked before a decode is even
// attempted.
type SourceValidationConfig struct {
	MaxSourceSizeMB  int
	AllowedMimeTypes []string
}

// LoadSourceValidationConfigFromEnv reads SourceValidationConfig from
// environment variables.
func LoadSourceValidationConfigFromEnv() (*SourceValidationConfig, error) {
	cfg := &SourceValidationConfig{
		MaxSourceSizeMB: DefaultMaxSourceSizeMB,
		AllowedMimeTypes: strings.Split(
			getEnvOrDefault("SOURCE_ALLOWED_MIME_TYPES", DefaultAllowedTypesStr),
			",",
		),
	}

	if sizeStr := os.Getenv("SOURCE_MAX_SIZE_MB"); sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid SOURCE_MAX_SIZE_MB: %w", err)
		}
		if size <= 0 {
			return nil, fmt.Errorf("SOURCE_MAX_SIZE_MB must be positive")
		}
		cfg.MaxSourceSizeMB = size
	}

	for i, t := range cfg.AllowedMimeTypes {
		cfg.AllowedMimeTypes[i] = strings.TrimSpace(t)
	}

	return cfg, nil
}

// MaxSourceSizeBytes returns the configured cap in bytes.
func (c *SourceValidationConfig) MaxSourceSizeBytes() int64 {
	return int64(c.MaxSourceSizeMB) * 1024 * 1024
}

// Validate checks the configuration is internally consistent.
func (c *SourceValidationConfig) Validate() error {
	if c.MaxSourceSizeMB <= 0 {
		return fmt.Errorf("max source size must be positive")
	}
	if len(c.AllowedMimeTypes) == 0 {
		return fmt.Errorf("at least one MIME type must be allowed")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
