/*
Package metrics exports cache events as Prometheus metrics.

Collector implements types.MetricsCollector, so it can be handed to
service.New with service.WithMetrics and receives every hit, miss,
eviction, disk index error and producer run from both cache tiers.

# Exported Metrics

	cradle_cache_requests_total{tier,result}   counter  tier is memory or disk, result is hit or miss
	cradle_cache_evictions_total{tier}         counter
	cradle_disk_cache_errors_total{op}         counter  failed index operations
	cradle_cache_unused_bytes                  gauge    memory entries nobody references
	cradle_producer_duration_seconds{status}   histogram

Alongside the Prometheus registry the collector keeps per-tier totals that
Snapshot returns for the stats endpoints. Handler serves the registry for
mounting on an HTTP mux:

	collector, _ := metrics.NewCollector(nil)
	core, _ := service.New(cfg, service.WithMetrics(collector))
	mux.Handle("/metrics", collector.Handler())
*/
package metrics
