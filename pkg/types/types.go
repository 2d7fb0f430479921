package types

import (
	"fmt"
	"time"
)

// EntryState is the lifecycle state of an immutable cache record.
type EntryState uint32

const (
	StateLoading EntryState = iota
	StateReady
	StateFailed
)

func (s EntryState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s EntryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *EntryState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "loading":
		*s = StateLoading
	case "ready":
		*s = StateReady
	case "failed":
		*s = StateFailed
	default:
		return fmt.Errorf("unknown entry state %q", text)
	}
	return nil
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// CacheEntryInfo describes one record of the immutable memory cache.
type CacheEntryInfo struct {
	Key         string     `json:"key"`
	State       EntryState `json:"state"`
	Size        int64      `json:"size"`
	HasProgress bool       `json:"has_progress"`
	Progress    float32    `json:"progress,omitempty"`
	References  int        `json:"references"`
}

// ImmutableCacheSnapshot is a point in time listing of the memory cache.
type ImmutableCacheSnapshot struct {
	InUse           []CacheEntryInfo `json:"in_use"`
	PendingEviction []CacheEntryInfo `json:"pending_eviction"`
	UnusedSize      int64            `json:"unused_size"`
	UnusedSizeLimit int64            `json:"unused_size_limit"`
	TakenAt         time.Time        `json:"taken_at"`
}

// DiskCacheSummary describes the contents of the disk cache index.
type DiskCacheSummary struct {
	Directory      string `json:"directory"`
	Entries        int64  `json:"entries"`
	InlineEntries  int64  `json:"inline_entries"`
	FileEntries    int64  `json:"file_entries"`
	PendingInserts int64  `json:"pending_inserts"`
	TotalSize      int64  `json:"total_size"`
	SizeLimit      int64  `json:"size_limit"`
}

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status    string            `json:"status"`
	LastCheck time.Time         `json:"last_check"`
	Message   string            `json:"message,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}
