package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
	"github.com/thomasrockhu-codecov/cradle/pkg/utils"
)

// Test Constants
const (
	TestDebugLevel = "DEBUG"
	TestDiskLimit  = "8GiB"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	// Test global defaults
	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.LogFormat != "text" {
		t.Errorf("Expected LogFormat to be text, got %s", cfg.Global.LogFormat)
	}

	// Test cache defaults
	if cfg.Cache.Immutable.UnusedSizeLimit != "1GiB" {
		t.Errorf("Expected UnusedSizeLimit to be 1GiB, got %s", cfg.Cache.Immutable.UnusedSizeLimit)
	}
	if !cfg.Cache.Immutable.RetryFailed {
		t.Error("Expected RetryFailed to be enabled by default")
	}
	if cfg.Cache.Disk.SizeLimit != "4GiB" {
		t.Errorf("Expected disk SizeLimit to be 4GiB, got %s", cfg.Cache.Disk.SizeLimit)
	}
	if cfg.Cache.Pools.DiskRead != 2 || cfg.Cache.Pools.DiskWrite != 2 {
		t.Errorf("Expected pool sizes of 2, got %+v", cfg.Cache.Pools)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: func() *Configuration {
				return NewDefault()
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_level",
		},
		{
			name: "invalid log format",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogFormat = "xml"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_format",
		},
		{
			name: "invalid unused size limit",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Immutable.UnusedSizeLimit = "lots"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid unused_size_limit",
		},
		{
			name: "invalid disk size limit",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Disk.SizeLimit = "12 parsecs"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid size_limit",
		},
		{
			name: "negative inline threshold",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Disk.InlineThreshold = -1
				return cfg
			},
			wantErr: true,
			errMsg:  "inline_threshold cannot be negative",
		},
		{
			name: "negative write retry interval",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Disk.WriteRetryInterval = -time.Second
				return cfg
			},
			wantErr: true,
			errMsg:  "write_retry_interval cannot be negative",
		},
		{
			name: "zero read workers",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Pools.DiskRead = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "disk_read pool size must be greater than 0",
		},
		{
			name: "zero write workers",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Pools.DiskWrite = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "disk_write pool size must be greater than 0",
		},
		{
			name: "empty api address",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.API.Address = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "api address cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
				}
				if !errors.HasCode(err, errors.ErrCodeInvalidConfig) {
					t.Errorf("Validate() error code should be INVALID_CONFIG, got %v", err)
				}
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  log_format: json

cache:
  immutable:
    unused_size_limit: 256MiB
    retry_failed: false
  disk:
    directory: /var/cache/cradle
    size_limit: 10GB
    write_retry_interval: 30s
  pools:
    disk_read: 4

storage:
  s3:
    region: eu-west-1
    force_path_style: true
`

	err := os.WriteFile(configFile, []byte(configContent), 0600)
	if err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	err = cfg.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	// Verify loaded values
	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Cache.Immutable.RetryFailed {
		t.Error("Expected RetryFailed to be false")
	}
	if cfg.Cache.Pools.DiskRead != 4 {
		t.Errorf("Expected DiskRead to be 4, got %d", cfg.Cache.Pools.DiskRead)
	}
	// Unset keys keep their defaults.
	if cfg.Cache.Pools.DiskWrite != 2 {
		t.Errorf("Expected DiskWrite to keep its default, got %d", cfg.Cache.Pools.DiskWrite)
	}
	if cfg.Storage.S3.Region != "eu-west-1" || !cfg.Storage.S3.ForcePathStyle {
		t.Errorf("Unexpected S3 settings: %+v", cfg.Storage.S3)
	}

	svc, err := cfg.ServiceConfig()
	if err != nil {
		t.Fatalf("ServiceConfig() error = %v", err)
	}
	if svc.Immutable.UnusedSizeLimit != 256<<20 {
		t.Errorf("Expected UnusedSizeLimit of 256MiB, got %d", svc.Immutable.UnusedSizeLimit)
	}
	if svc.Disk.SizeLimit != 10_000_000_000 {
		t.Errorf("Expected disk SizeLimit of 10GB, got %d", svc.Disk.SizeLimit)
	}
	if svc.Disk.Directory != "/var/cache/cradle" {
		t.Errorf("Expected disk directory to be /var/cache/cradle, got %s", svc.Disk.Directory)
	}
	if svc.DiskWriteRetryInterval != 30*time.Second {
		t.Errorf("Expected DiskWriteRetryInterval of 30s, got %v", svc.DiskWriteRetryInterval)
	}
	if svc.DiskReadWorkers != 4 || svc.DiskWriteWorkers != 2 {
		t.Errorf("Unexpected worker counts: %d/%d", svc.DiskReadWorkers, svc.DiskWriteWorkers)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Expected error when loading non-existent config file")
	}
	if !errors.HasCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("Expected CONFIG_LOAD, got %v", err)
	}
}

func TestLoadFromFileMalformed(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configFile, []byte("cache: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := NewDefault().LoadFromFile(configFile); !errors.HasCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("Expected CONFIG_LOAD, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	// Set up environment variables
	testEnvVars := map[string]string{
		"CRADLE_LOG_LEVEL":           "error",
		"CRADLE_UNUSED_SIZE_LIMIT":   "64MiB",
		"CRADLE_RETRY_FAILED":        "false",
		"CRADLE_DISK_CACHE_DIR":      "/tmp/cradle-env",
		"CRADLE_DISK_SIZE_LIMIT":     TestDiskLimit,
		"CRADLE_DISK_READ_WORKERS":   "8",
		"CRADLE_DISK_WRITE_WORKERS":  "not a number",
		"CRADLE_API_ADDRESS":         ":9999",
		"CRADLE_S3_ENDPOINT":         "http://localhost:4566",
		"CRADLE_S3_FORCE_PATH_STYLE": "TRUE",
	}

	// Set environment variables
	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	err := cfg.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	// Verify loaded values
	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Cache.Immutable.UnusedSizeLimit != "64MiB" {
		t.Errorf("Expected UnusedSizeLimit to be 64MiB, got %s", cfg.Cache.Immutable.UnusedSizeLimit)
	}
	if cfg.Cache.Immutable.RetryFailed {
		t.Error("Expected RetryFailed to be false")
	}
	if cfg.Cache.Disk.Directory != "/tmp/cradle-env" {
		t.Errorf("Expected disk directory override, got %s", cfg.Cache.Disk.Directory)
	}
	if cfg.Cache.Disk.SizeLimit != TestDiskLimit {
		t.Errorf("Expected disk SizeLimit to be 8GiB, got %s", cfg.Cache.Disk.SizeLimit)
	}
	if cfg.Cache.Pools.DiskRead != 8 {
		t.Errorf("Expected DiskRead to be 8, got %d", cfg.Cache.Pools.DiskRead)
	}
	// Unparseable numbers are ignored.
	if cfg.Cache.Pools.DiskWrite != 2 {
		t.Errorf("Expected DiskWrite to stay 2, got %d", cfg.Cache.Pools.DiskWrite)
	}
	if cfg.API.Address != ":9999" {
		t.Errorf("Expected API address override, got %s", cfg.API.Address)
	}
	if cfg.Storage.S3.Endpoint != "http://localhost:4566" || !cfg.Storage.S3.ForcePathStyle {
		t.Errorf("Unexpected S3 settings: %+v", cfg.Storage.S3)
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = TestDebugLevel
	cfg.Cache.Disk.SizeLimit = TestDiskLimit

	err := cfg.SaveToFile(configFile)
	if err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Load the saved config and verify
	newCfg := NewDefault()
	err = newCfg.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Global.LogLevel)
	}
	if newCfg.Cache.Disk.SizeLimit != TestDiskLimit {
		t.Errorf("Expected disk SizeLimit to be 8GiB, got %s", newCfg.Cache.Disk.SizeLimit)
	}
	if newCfg.API.ShutdownTimeout != cfg.API.ShutdownTimeout {
		t.Errorf("Expected ShutdownTimeout to round trip, got %v", newCfg.API.ShutdownTimeout)
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := NewDefault()
	err := cfg.SaveToFile(configFile)
	if err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := NewDefault()
	cfg.Global.LogLevel = "WARN"
	cfg.Global.LogFormat = "json"
	cfg.Global.LogFile = filepath.Join(t.TempDir(), "cradle.log")

	logCfg, closeLog, err := cfg.LoggerConfig()
	if err != nil {
		t.Fatalf("LoggerConfig() error = %v", err)
	}
	defer closeLog()

	if logCfg.Level != utils.WARN {
		t.Errorf("Expected WARN, got %v", logCfg.Level)
	}
	if logCfg.Format != utils.FormatJSON {
		t.Errorf("Expected JSON format, got %v", logCfg.Format)
	}

	logger, err := utils.NewStructuredLogger(logCfg)
	if err != nil {
		t.Fatal(err)
	}
	logger.Warn("disk cache nearly full", map[string]interface{}{"used": "3.9 GiB"})
	logger.Sync()

	data, err := os.ReadFile(cfg.Global.LogFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "disk cache nearly full") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestS3Config(t *testing.T) {
	cfg := NewDefault()
	cfg.Storage.S3.Endpoint = "http://localhost:4566"
	cfg.Storage.S3.ForcePathStyle = true
	cfg.Storage.S3.MaxRetries = 5

	s3cfg := cfg.S3Config()
	if s3cfg.Region != "us-east-1" {
		t.Errorf("Expected us-east-1, got %s", s3cfg.Region)
	}
	if s3cfg.Endpoint != "http://localhost:4566" || !s3cfg.ForcePathStyle {
		t.Errorf("Endpoint settings not carried over: %+v", s3cfg)
	}
	if s3cfg.MaxRetries != 5 {
		t.Errorf("Expected MaxRetries 5, got %d", s3cfg.MaxRetries)
	}
	if s3cfg.RequestTimeout != cfg.Storage.S3.RequestTimeout || s3cfg.BreakerTimeout != cfg.Storage.S3.BreakerTimeout {
		t.Errorf("Timeouts not carried over: %+v", s3cfg)
	}
}

func TestLoggerConfig_InvalidMaxSize(t *testing.T) {
	cfg := NewDefault()
	cfg.Global.LogFile = filepath.Join(t.TempDir(), "cradle.log")
	cfg.Global.LogMaxSize = "lots"

	if err := cfg.Validate(); !errors.HasCode(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("Validate() = %v, want INVALID_CONFIG", err)
	}
	if _, _, err := cfg.LoggerConfig(); err == nil {
		t.Error("LoggerConfig() should reject an invalid log_max_size")
	}
}
