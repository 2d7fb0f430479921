package s3

import (
	"time"
)

// Config represents S3 blob source configuration
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// Performance settings
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// BreakerTimeout is how long fetches fail fast after the bucket keeps
	// failing
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Region:         "us-east-1",
		MaxRetries:     3,
		RetryDelay:     100 * time.Millisecond,
		RequestTimeout: 30 * time.Second,
		BreakerTimeout: 30 * time.Second,
	}
}
