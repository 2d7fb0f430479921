package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/thomasrockhu-codecov/cradle/internal/cache"
	"github.com/thomasrockhu-codecov/cradle/internal/service"
	"github.com/thomasrockhu-codecov/cradle/internal/storage/s3"
	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
	"github.com/thomasrockhu-codecov/cradle/pkg/utils"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global  GlobalConfig  `yaml:"global"`
	Cache   CacheConfig   `yaml:"cache"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogFile       string `yaml:"log_file"`
	LogMaxSize    string `yaml:"log_max_size"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogCompress   bool   `yaml:"log_compress"`
}

// CacheConfig represents the two cache tiers and their worker pools
type CacheConfig struct {
	Immutable ImmutableConfig `yaml:"immutable"`
	Disk      DiskConfig      `yaml:"disk"`
	Pools     PoolsConfig     `yaml:"pools"`
}

// ImmutableConfig represents memory cache settings
type ImmutableConfig struct {
	UnusedSizeLimit string `yaml:"unused_size_limit"`
	RetryFailed     bool   `yaml:"retry_failed"`
}

// DiskConfig represents disk cache settings
type DiskConfig struct {
	Directory          string        `yaml:"directory"`
	SizeLimit          string        `yaml:"size_limit"`
	InlineThreshold    int           `yaml:"inline_threshold"`
	WriteRetryInterval time.Duration `yaml:"write_retry_interval"`
}

// PoolsConfig represents worker pool sizes
type PoolsConfig struct {
	DiskRead  int `yaml:"disk_read"`
	DiskWrite int `yaml:"disk_write"`
}

// APIConfig represents the HTTP API settings
type APIConfig struct {
	Address         string        `yaml:"address"`
	EnableMetrics   bool          `yaml:"enable_metrics"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig represents remote storage settings
type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config represents S3 settings
type S3Config struct {
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	ForcePathStyle  bool          `yaml:"force_path_style"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFormat:     "text",
			LogMaxSize:    "100MiB",
			LogMaxBackups: 5,
		},
		Cache: CacheConfig{
			Immutable: ImmutableConfig{
				UnusedSizeLimit: "1GiB",
				RetryFailed:     true,
			},
			Disk: DiskConfig{
				Directory:          "",
				SizeLimit:          "4GiB",
				InlineThreshold:    cache.DefaultInlineThreshold,
				WriteRetryInterval: service.DefaultDiskWriteRetryInterval,
			},
			Pools: PoolsConfig{
				DiskRead:  service.DefaultPoolSize,
				DiskWrite: service.DefaultPoolSize,
			},
		},
		API: APIConfig{
			Address:         "localhost:8080",
			EnableMetrics:   true,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			S3: S3Config{
				Region:         "us-east-1",
				MaxRetries:     3,
				RetryDelay:     100 * time.Millisecond,
				RequestTimeout: 30 * time.Second,
				BreakerTimeout: 30 * time.Second,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to read config file", err).
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to parse config file", err).
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("CRADLE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("CRADLE_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("CRADLE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	// Cache settings
	if val := os.Getenv("CRADLE_UNUSED_SIZE_LIMIT"); val != "" {
		c.Cache.Immutable.UnusedSizeLimit = val
	}
	if val := os.Getenv("CRADLE_RETRY_FAILED"); val != "" {
		c.Cache.Immutable.RetryFailed = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CRADLE_DISK_CACHE_DIR"); val != "" {
		c.Cache.Disk.Directory = val
	}
	if val := os.Getenv("CRADLE_DISK_SIZE_LIMIT"); val != "" {
		c.Cache.Disk.SizeLimit = val
	}
	if val := os.Getenv("CRADLE_DISK_READ_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.Pools.DiskRead = n
		}
	}
	if val := os.Getenv("CRADLE_DISK_WRITE_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.Pools.DiskWrite = n
		}
	}

	// API settings
	if val := os.Getenv("CRADLE_API_ADDRESS"); val != "" {
		c.API.Address = val
	}

	// Storage settings
	if val := os.Getenv("CRADLE_S3_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := os.Getenv("CRADLE_S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("CRADLE_S3_FORCE_PATH_STYLE"); val != "" {
		c.Storage.S3.ForcePathStyle = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("AWS_ACCESS_KEY_ID"); val != "" {
		c.Storage.S3.AccessKeyID = val
	}
	if val := os.Getenv("AWS_SECRET_ACCESS_KEY"); val != "" {
		c.Storage.S3.SecretAccessKey = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to marshal config", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to create config directory", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to write config file", err).
			WithContext("file", filename)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if _, err := parseSize("log_max_size", c.Global.LogMaxSize); err != nil {
		return err
	}
	if c.Global.LogMaxBackups < 0 {
		return invalid("log_max_backups cannot be negative")
	}

	if _, err := parseSize("unused_size_limit", c.Cache.Immutable.UnusedSizeLimit); err != nil {
		return err
	}
	if _, err := parseSize("size_limit", c.Cache.Disk.SizeLimit); err != nil {
		return err
	}
	if c.Cache.Disk.InlineThreshold < 0 {
		return invalid("inline_threshold cannot be negative")
	}
	if c.Cache.Disk.WriteRetryInterval < 0 {
		return invalid("write_retry_interval cannot be negative")
	}

	if c.Cache.Pools.DiskRead <= 0 {
		return invalid("disk_read pool size must be greater than 0")
	}
	if c.Cache.Pools.DiskWrite <= 0 {
		return invalid("disk_write pool size must be greater than 0")
	}

	if c.API.Address == "" {
		return invalid("api address cannot be empty")
	}

	if c.Storage.S3.MaxRetries < 0 {
		return invalid("s3 max_retries cannot be negative")
	}
	if c.Storage.S3.RequestTimeout < 0 {
		return invalid("s3 request_timeout cannot be negative")
	}

	return nil
}

// ServiceConfig converts the cache sections into a service configuration.
func (c *Configuration) ServiceConfig() (*service.Config, error) {
	unused, err := parseSize("unused_size_limit", c.Cache.Immutable.UnusedSizeLimit)
	if err != nil {
		return nil, err
	}
	diskLimit, err := parseSize("size_limit", c.Cache.Disk.SizeLimit)
	if err != nil {
		return nil, err
	}

	return &service.Config{
		Immutable: cache.ImmutableCacheConfig{
			UnusedSizeLimit: unused,
			RetryFailed:     c.Cache.Immutable.RetryFailed,
		},
		Disk: cache.DiskCacheConfig{
			Directory:       c.Cache.Disk.Directory,
			SizeLimit:       diskLimit,
			InlineThreshold: c.Cache.Disk.InlineThreshold,
		},
		DiskReadWorkers:  c.Cache.Pools.DiskRead,
		DiskWriteWorkers: c.Cache.Pools.DiskWrite,

		DiskWriteRetryInterval: c.Cache.Disk.WriteRetryInterval,
	}, nil
}

// LoggerConfig converts the global section into a logger configuration.
// The returned closer releases the log file, if one was opened.
func (c *Configuration) LoggerConfig() (*utils.StructuredLoggerConfig, func() error, error) {
	level, err := utils.ParseLogLevel(c.Global.LogLevel)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid log_level", err)
	}
	format, err := utils.ParseLogFormat(c.Global.LogFormat)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid log_format", err)
	}

	cfg := utils.DefaultStructuredLoggerConfig()
	cfg.Level = level
	cfg.Format = format

	closer := func() error { return nil }
	if c.Global.LogFile != "" {
		maxSize, err := parseSize("log_max_size", c.Global.LogMaxSize)
		if err != nil {
			return nil, nil, err
		}
		rotator, err := utils.NewLogRotator(utils.RotationConfig{
			Filename:   c.Global.LogFile,
			MaxSize:    maxSize,
			MaxBackups: c.Global.LogMaxBackups,
			Compress:   c.Global.LogCompress,
		})
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrCodeInvalidConfig, "failed to open log file", err).
				WithContext("file", c.Global.LogFile)
		}
		cfg.Output = rotator
		closer = rotator.Close
	}
	return cfg, closer, nil
}

// S3Config converts the storage section into a blob source configuration.
func (c *Configuration) S3Config() *s3.Config {
	return &s3.Config{
		Region:          c.Storage.S3.Region,
		Endpoint:        c.Storage.S3.Endpoint,
		AccessKeyID:     c.Storage.S3.AccessKeyID,
		SecretAccessKey: c.Storage.S3.SecretAccessKey,
		ForcePathStyle:  c.Storage.S3.ForcePathStyle,
		MaxRetries:      c.Storage.S3.MaxRetries,
		RetryDelay:      c.Storage.S3.RetryDelay,
		RequestTimeout:  c.Storage.S3.RequestTimeout,
		BreakerTimeout:  c.Storage.S3.BreakerTimeout,
	}
}

func parseSize(field, value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	size, err := utils.ParseBytes(value)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInvalidConfig, fmt.Sprintf("invalid %s: %s", field, value), err)
	}
	return size, nil
}

func invalid(format string, args ...interface{}) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(format, args...)).
		WithComponent("config")
}
