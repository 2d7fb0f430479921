/*
Package types provides the shared data structures and interfaces used across cradle.

# Architecture Overview

cradle is a two-tier caching substrate for immutable computations:

	┌─────────────────────────────────────────────┐
	│        HTTP API / CLI (pkg/api, cmd)        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│      Orchestration (internal/service)       │
	│   Cached / DiskCached / FullyCached         │
	└─────────────────────────────────────────────┘
	          │                 │              │
	┌─────────┴───┐ ┌───────────┴──┐ ┌─────────┴───┐
	│ Memory cache│ │  Disk cache  │ │  Producers  │
	│ (immutable) │ │ (SQLite+zstd)│ │ (S3, ...)   │
	└─────────────┘ └──────────────┘ └─────────────┘

# Data Structures

EntryState:
The LOADING, READY, FAILED lifecycle of a memory cache record.

ImmutableCacheSnapshot and CacheEntryInfo:
A listing of memory cache records split into those with live holders and
those waiting for eviction.

DiskCacheSummary:
Entry counts and total size of the disk cache index.

# Interfaces

Sizer lets cache values report their own deep size for eviction
accounting. MetricsCollector receives cache events and is implemented by
internal/metrics. BlobFetcher is the narrow interface remote storage
clients implement to act as producers.
*/
package types
