package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/thomasrockhu-codecov/cradle/internal/cache"
	"github.com/thomasrockhu-codecov/cradle/pkg/health"
	"github.com/thomasrockhu-codecov/cradle/pkg/types"
	"github.com/thomasrockhu-codecov/cradle/pkg/utils"
)

// Config represents the resource limits of a Core.
type Config struct {
	Immutable        cache.ImmutableCacheConfig
	Disk             cache.DiskCacheConfig
	DiskReadWorkers  int
	DiskWriteWorkers int

	// DiskWriteRetryInterval spaces the trial writes let through while the
	// disk cache is read-only or unavailable.
	DiskWriteRetryInterval time.Duration
}

// DefaultDiskWriteRetryInterval is the default DiskWriteRetryInterval.
const DefaultDiskWriteRetryInterval = 10 * time.Second

// DefaultConfig returns the default service configuration.
func DefaultConfig() *Config {
	return &Config{
		Immutable:        *cache.DefaultImmutableCacheConfig(),
		Disk:             *cache.DefaultDiskCacheConfig(),
		DiskReadWorkers:  DefaultPoolSize,
		DiskWriteWorkers: DefaultPoolSize,

		DiskWriteRetryInterval: DefaultDiskWriteRetryInterval,
	}
}

// Option configures a Core.
type Option func(*coreOptions)

type coreOptions struct {
	ctx     context.Context
	logger  *utils.StructuredLogger
	metrics types.MetricsCollector
	health  *health.Tracker

	writeRetryInterval time.Duration
	// nextWriteTrial is when the next trial write may run, in Unix
	// nanoseconds.
	nextWriteTrial atomic.Int64
}

// ComponentDisk is the health tracker name of the disk cache.
const ComponentDisk = "disk_cache"

// WithLogger sets the logger shared by the core and its caches.
func WithLogger(logger *utils.StructuredLogger) Option {
	return func(o *coreOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics reports cache events to m.
func WithMetrics(m types.MetricsCollector) Option {
	return func(o *coreOptions) { o.metrics = m }
}

// WithHealth reports disk cache failures to tracker instead of a private
// tracker.
func WithHealth(tracker *health.Tracker) Option {
	return func(o *coreOptions) {
		if tracker != nil {
			o.health = tracker
		}
	}
}

// WithBaseContext sets the parent of the context producers and background
// writes run under.
func WithBaseContext(ctx context.Context) Option {
	return func(o *coreOptions) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// Core is the service context tying the memory cache, the disk cache and
// the disk worker pools together. Independent instances share nothing.
type Core struct {
	memory    *cache.ImmutableCache
	disk      *cache.DiskCache
	readPool  *WorkerPool
	writePool *WorkerPool

	ctx    context.Context
	cancel context.CancelFunc

	logger  *utils.StructuredLogger
	metrics types.MetricsCollector
	health  *health.Tracker

	writeRetryInterval time.Duration
	// nextWriteTrial is when the next trial write may run, in Unix
	// nanoseconds.
	nextWriteTrial atomic.Int64
}

// Stats is a point-in-time view of every component of a Core.
type Stats struct {
	Memory    types.CacheStats `json:"memory"`
	Disk      types.CacheStats `json:"disk"`
	ReadPool  PoolStats        `json:"read_pool"`
	WritePool PoolStats        `json:"write_pool"`
	TakenAt   time.Time        `json:"taken_at"`
}

// New creates a Core, opening the disk cache described by cfg.
func New(cfg *Config, opts ...Option) (*Core, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := coreOptions{
		ctx:    context.Background(),
		logger: utils.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.health == nil {
		o.health = health.NewTracker(health.DefaultConfig())
	}

	ctx, cancel := context.WithCancel(o.ctx)
	cacheOpts := []cache.Option{
		cache.WithLogger(o.logger),
		cache.WithMetrics(o.metrics),
		cache.WithBaseContext(ctx),
	}

	disk, err := cache.NewDiskCache(&cfg.Disk, cacheOpts...)
	if err != nil {
		cancel()
		return nil, err
	}

	c := &Core{
		memory:    cache.NewImmutableCache(&cfg.Immutable, cacheOpts...),
		disk:      disk,
		readPool:  NewWorkerPool("disk_read", cfg.DiskReadWorkers),
		writePool: NewWorkerPool("disk_write", cfg.DiskWriteWorkers),
		ctx:       ctx,
		cancel:    cancel,
		logger:    o.logger.WithComponent("service"),
		metrics:   o.metrics,
		health:    o.health,

		writeRetryInterval: cfg.DiskWriteRetryInterval,
	}
	if c.writeRetryInterval <= 0 {
		c.writeRetryInterval = DefaultDiskWriteRetryInterval
	}

	c.health.RegisterComponent(ComponentDisk)
	c.health.SetDetail(ComponentDisk, "directory", disk.Directory())
	c.health.OnStateChange(func(component string, oldState, newState health.HealthState, err error) {
		fields := map[string]interface{}{
			"component": component,
			"from":      oldState.String(),
			"to":        newState.String(),
		}
		if err != nil {
			fields["error"] = err
		}
		if component == ComponentDisk && !health.AllowsWrites(newState) {
			c.nextWriteTrial.Store(time.Now().Add(c.writeRetryInterval).UnixNano())
		}
		if newState == health.StateHealthy {
			c.logger.Info("component recovered", fields)
		} else {
			c.logger.Warn("component health changed", fields)
		}
	})

	c.logger.Info("cache core started", map[string]interface{}{
		"disk_directory":    disk.Directory(),
		"disk_size_limit":   utils.FormatBytes(cfg.Disk.SizeLimit),
		"unused_size_limit": utils.FormatBytes(cfg.Immutable.UnusedSizeLimit),
	})
	return c, nil
}

// Memory returns the immutable memory cache.
func (c *Core) Memory() *cache.ImmutableCache {
	return c.memory
}

// Disk returns the disk cache.
func (c *Core) Disk() *cache.DiskCache {
	return c.disk
}

// Logger returns the service logger.
func (c *Core) Logger() *utils.StructuredLogger {
	return c.logger
}

// Health returns the tracker disk cache failures are reported to.
func (c *Core) Health() *health.Tracker {
	return c.health
}

// CheckDisk checks the disk cache index. It is shaped as a health.CheckFunc.
func (c *Core) CheckDisk(ctx context.Context) error {
	_, err := c.disk.Summary(ctx)
	return err
}

// allowWriteTrial reports whether a write may go to a disk the tracker has
// stopped writing to. At most one trial is allowed per retry interval.
func (c *Core) allowWriteTrial() bool {
	next := c.nextWriteTrial.Load()
	now := time.Now()
	if now.UnixNano() < next {
		return false
	}
	return c.nextWriteTrial.CompareAndSwap(next, now.Add(c.writeRetryInterval).UnixNano())
}

// Flush waits until every queued disk write has finished.
func (c *Core) Flush(ctx context.Context) error {
	return c.writePool.Wait(ctx)
}

// Stats returns statistics for the caches and pools.
func (c *Core) Stats() Stats {
	return Stats{
		Memory:    c.memory.Stats(),
		Disk:      c.disk.Stats(),
		ReadPool:  c.readPool.Stats(),
		WritePool: c.writePool.Stats(),
		TakenAt:   time.Now(),
	}
}

// Close drains pending disk writes and closes the disk cache. Producers
// still running see their context canceled.
func (c *Core) Close() error {
	c.writePool.Close()
	c.readPool.Close()
	c.cancel()
	return c.disk.Close()
}
