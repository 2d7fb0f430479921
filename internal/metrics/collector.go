package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records cache events as Prometheus metrics. It implements
// types.MetricsCollector.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	cacheRequests    *prometheus.CounterVec
	cacheEvictions   *prometheus.CounterVec
	diskErrors       *prometheus.CounterVec
	unusedBytes      prometheus.Gauge
	producerDuration *prometheus.HistogramVec

	// Internal tracking
	tiers     map[string]*TierMetrics
	producers ProducerMetrics
	lastReset time.Time
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// TierMetrics tracks lookups for one cache tier
type TierMetrics struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// ProducerMetrics tracks producer invocations
type ProducerMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// Snapshot is a point-in-time copy of the internal tracking state.
type Snapshot struct {
	Tiers       map[string]TierMetrics `json:"tiers"`
	Producers   ProducerMetrics        `json:"producers"`
	DiskErrors  map[string]int64       `json:"disk_errors"`
	UnusedBytes int64                  `json:"unused_bytes"`
	Since       time.Time              `json:"since"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Namespace: "cradle",
			Labels:    make(map[string]string),
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:    config,
		registry:  prometheus.NewRegistry(),
		tiers:     make(map[string]*TierMetrics),
		lastReset: time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

func (c *Collector) initMetrics() {
	labels := prometheus.Labels(c.config.Labels)

	c.cacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        "cache_requests_total",
		Help:        "Cache lookups by tier and result",
		ConstLabels: labels,
	}, []string{"tier", "result"})

	c.cacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        "cache_evictions_total",
		Help:        "Entries evicted by tier",
		ConstLabels: labels,
	}, []string{"tier"})

	c.diskErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        "disk_cache_errors_total",
		Help:        "Disk cache index errors by operation",
		ConstLabels: labels,
	}, []string{"op"})

	c.unusedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        "cache_unused_bytes",
		Help:        "Size of memory cache entries no caller references",
		ConstLabels: labels,
	})

	c.producerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        "producer_duration_seconds",
		Help:        "Time spent computing values on cache misses",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"status"})
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.cacheRequests,
		c.cacheEvictions,
		c.diskErrors,
		c.unusedBytes,
		c.producerDuration,
	}
	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordCacheHit records a lookup that found an entry.
func (c *Collector) RecordCacheHit(tier string) {
	c.recordLookup(tier, true)
}

// RecordCacheMiss records a lookup that found nothing.
func (c *Collector) RecordCacheMiss(tier string) {
	c.recordLookup(tier, false)
}

func (c *Collector) recordLookup(tier string, hit bool) {
	if !c.config.Enabled {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheRequests.With(prometheus.Labels{"tier": tier, "result": result}).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.tier(tier)
	if hit {
		m.Hits++
	} else {
		m.Misses++
	}
	m.HitRate = float64(m.Hits) / float64(m.Hits+m.Misses)
}

// RecordEvictions records count entries evicted from tier.
func (c *Collector) RecordEvictions(tier string, count int) {
	if !c.config.Enabled || count <= 0 {
		return
	}
	c.cacheEvictions.WithLabelValues(tier).Add(float64(count))

	c.mu.Lock()
	c.tier(tier).Evictions += int64(count)
	c.mu.Unlock()
}

// RecordDiskError records a failed disk index operation.
func (c *Collector) RecordDiskError(operation string) {
	if !c.config.Enabled {
		return
	}
	c.diskErrors.WithLabelValues(operation).Inc()
}

// RecordProducer records one producer invocation.
func (c *Collector) RecordProducer(duration time.Duration, success bool) {
	if !c.config.Enabled {
		return
	}
	c.producerDuration.WithLabelValues(map[bool]string{true: "success", false: "error"}[success]).
		Observe(duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.producers.Count++
	c.producers.TotalDuration += duration
	if !success {
		c.producers.Errors++
	}
	c.producers.AvgDuration = c.producers.TotalDuration / time.Duration(c.producers.Count)
}

// SetUnusedBytes records the current size of unreferenced memory entries.
func (c *Collector) SetUnusedBytes(size int64) {
	if !c.config.Enabled {
		return
	}
	c.unusedBytes.Set(float64(size))
}

// tier requires c.mu to be held.
func (c *Collector) tier(name string) *TierMetrics {
	m, ok := c.tiers[name]
	if !ok {
		m = &TierMetrics{}
		c.tiers[name] = m
	}
	return m
}

// Snapshot returns the internal tracking state.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		Tiers:      make(map[string]TierMetrics),
		DiskErrors: make(map[string]int64),
	}
	if !c.config.Enabled {
		return snap
	}

	c.mu.RLock()
	for name, m := range c.tiers {
		snap.Tiers[name] = *m
	}
	snap.Producers = c.producers
	snap.Since = c.lastReset
	c.mu.RUnlock()

	families, err := c.registry.Gather()
	if err != nil {
		return snap
	}
	for _, family := range families {
		switch family.GetName() {
		case c.metricName("disk_cache_errors_total"):
			for _, metric := range family.GetMetric() {
				for _, label := range metric.GetLabel() {
					if label.GetName() == "op" {
						snap.DiskErrors[label.GetValue()] = int64(metric.GetCounter().GetValue())
					}
				}
			}
		case c.metricName("cache_unused_bytes"):
			if metrics := family.GetMetric(); len(metrics) > 0 {
				snap.UnusedBytes = int64(metrics[0].GetGauge().GetValue())
			}
		}
	}
	return snap
}

// Reset clears the internal tracking state. Prometheus counters are
// monotonic and keep their values.
func (c *Collector) Reset() {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiers = make(map[string]*TierMetrics)
	c.producers = ProducerMetrics{}
	c.lastReset = time.Now()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) metricName(name string) string {
	return prometheus.BuildFQName(c.config.Namespace, c.config.Subsystem, name)
}
