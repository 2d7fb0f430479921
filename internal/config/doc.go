/*
Package config provides configuration management for cradle.

Configuration is layered. Compiled-in defaults come first, then a YAML
file, then CRADLE_* environment variables:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│            (CRADLE_*)                       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# File Format

	global:
	  log_level: INFO        # DEBUG, INFO, WARN, ERROR
	  log_format: text       # text or json
	  log_file: ""
	cache:
	  immutable:
	    unused_size_limit: 1GiB
	    retry_failed: true
	  disk:
	    directory: ""        # defaults to the user cache directory
	    size_limit: 4GiB
	    inline_threshold: 1024
	  pools:
	    disk_read: 2
	    disk_write: 2
	api:
	  address: localhost:8080
	  enable_metrics: true
	  shutdown_timeout: 10s
	storage:
	  s3:
	    region: us-east-1
	    endpoint: ""
	    force_path_style: false
	    request_timeout: 30s

Sizes accept SI and IEC suffixes ("4GB", "4GiB").

# Environment Variables

	CRADLE_LOG_LEVEL            global.log_level
	CRADLE_LOG_FORMAT           global.log_format
	CRADLE_LOG_FILE             global.log_file
	CRADLE_UNUSED_SIZE_LIMIT    cache.immutable.unused_size_limit
	CRADLE_RETRY_FAILED         cache.immutable.retry_failed
	CRADLE_DISK_CACHE_DIR       cache.disk.directory
	CRADLE_DISK_SIZE_LIMIT      cache.disk.size_limit
	CRADLE_DISK_READ_WORKERS    cache.pools.disk_read
	CRADLE_DISK_WRITE_WORKERS   cache.pools.disk_write
	CRADLE_API_ADDRESS          api.address
	CRADLE_S3_REGION            storage.s3.region
	CRADLE_S3_ENDPOINT          storage.s3.endpoint
	CRADLE_S3_FORCE_PATH_STYLE  storage.s3.force_path_style

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("cradle.yaml"); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	svcCfg, err := cfg.ServiceConfig()
*/
package config
