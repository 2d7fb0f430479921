package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thomasrockhu-codecov/cradle/internal/config"
	"github.com/thomasrockhu-codecov/cradle/internal/service"
	"github.com/thomasrockhu-codecov/cradle/pkg/utils"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cradle",
		Short:         "Caching and deduplication service for immutable values",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to a YAML configuration file")
	root.PersistentFlags().String("log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	root.PersistentFlags().String("cache-dir", "", "disk cache directory")

	root.AddCommand(
		newServeCmd(),
		newStatsCmd(),
		newGetCmd(),
		newPutCmd(),
		newFetchCmd(),
		newSnapshotCmd(),
		newClearUnusedCmd(),
	)
	return root
}

// flagOrEnv returns the flag value when set, then the environment, then
// defaultValue.
func flagOrEnv(cmd *cobra.Command, flagName, envName, defaultValue string) string {
	if value, _ := cmd.Flags().GetString(flagName); value != "" {
		return value
	}
	if value, ok := os.LookupEnv(envName); ok && value != "" {
		return value
	}
	return defaultValue
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path := flagOrEnv(cmd, "config", "CRADLE_CONFIG", ""); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Global.LogLevel = strings.ToUpper(level)
	}
	if dir, _ := cmd.Flags().GetString("cache-dir"); dir != "" {
		cfg.Cache.Disk.Directory = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flushTimeout bounds how long a command waits for queued disk writes.
const flushTimeout = 30 * time.Second

// environment is what every command needs: configuration, a logger and a
// cache core. close flushes pending disk writes before releasing them.
type environment struct {
	cfg    *config.Configuration
	logger *utils.StructuredLogger
	core   *service.Core
	close  func() error
}

func openEnvironment(cmd *cobra.Command, opts ...service.Option) (*environment, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logCfg, closeLog, err := cfg.LoggerConfig()
	if err != nil {
		return nil, err
	}
	logger, err := utils.NewStructuredLogger(logCfg)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	svcCfg, err := cfg.ServiceConfig()
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	opts = append([]service.Option{
		service.WithLogger(logger),
		service.WithBaseContext(cmd.Context()),
	}, opts...)
	core, err := service.New(svcCfg, opts...)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	return &environment{
		cfg:    cfg,
		logger: logger,
		core:   core,
		close: func() error {
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()
			if err := core.Flush(flushCtx); err != nil {
				logger.Warn("failed to flush disk writes", map[string]interface{}{"error": err})
			}
			err := core.Close()
			_ = logger.Sync()
			if cerr := closeLog(); err == nil {
				err = cerr
			}
			return err
		},
	}, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
