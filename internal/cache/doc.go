/*
Package cache provides the two cache tiers behind cradle: an immutable
in-memory cache with per-key single-flight execution and a persistent disk
cache with compression and integrity checks.

# Cache Architecture

	┌─────────────────────────────────────────────┐
	│        Orchestration (internal/service)     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            ImmutableCache                   │  ← memory.go
	│  id.CapturedID → record{state, task, refs}  │
	└─────────────────────────────────────────────┘
	                      │ on miss
	┌─────────────────────────────────────────────┐
	│              DiskCache                      │  ← disk.go
	│  index.db (SQLite) + zstd blob files        │
	└─────────────────────────────────────────────┘

# Immutable Cache

Each identity maps to at most one live record. The first request creates a
LOADING record and starts its producer in a new goroutine; concurrent and
later requests share the record's Task instead of producing again:

	c := cache.NewImmutableCache(nil)
	task := cache.GetOrCreate(c, id.MakeCapturedID("config"),
		func(ctx context.Context, key id.ID) (Config, error) {
			return loadConfig(ctx)
		})
	cfg, err := task.Await(ctx)

A record becomes READY with a DeepSizeof estimate once its producer
returns, or FAILED with the producer's error, which every waiter receives.
A later request for a FAILED key starts a fresh attempt unless
RetryFailed is disabled.

Holders keep records alive with a Ptr. Records without holders move to an
LRU eviction list and are dropped, oldest first, when their combined size
exceeds UnusedSizeLimit. A record with a live Ptr or a running producer is
never evicted.

ReportProgress and SetData let producers and external writers update a
tracked record; both ignore keys the cache does not know.

# Disk Cache

Entries are keyed by opaque strings. Values up to InlineThreshold bytes
(1024 by default) are stored base64 encoded in the index. Larger values use
a two-phase insert:

	id, err := dc.InitiateInsert(ctx, key)     // reserved, invisible to Find
	crc, err := cache.WriteBlob(dc.PathForID(id), data)
	err = dc.FinishInsert(ctx, id, crc, int64(len(data)))

ReadBlob verifies the decompressed length and CRC32 so that truncated or
corrupted files are reported instead of returned. The index evicts the least
recently accessed finished entries once the total size exceeds SizeLimit;
reservations are never evicted, and reservations left over from a crashed
writer are purged when the cache is opened.
*/
package cache
