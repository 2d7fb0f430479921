package types

import (
	"context"
	"time"
)

// Sizer is implemented by cache values that can report their own deep size
// in bytes. Values that do not implement it are measured by reflection.
type Sizer interface {
	DeepSize() int64
}

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordCacheHit(tier string)
	RecordCacheMiss(tier string)
	RecordEvictions(tier string, count int)
	RecordDiskError(operation string)
	RecordProducer(duration time.Duration, success bool)
	SetUnusedBytes(size int64)
}

// BlobFetcher fetches immutable objects from remote storage.
type BlobFetcher interface {
	FetchObject(ctx context.Context, bucket, key string) ([]byte, error)
}
