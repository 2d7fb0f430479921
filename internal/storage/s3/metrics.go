package s3

import (
	"sync"
	"time"
)

// BackendMetrics tracks S3 blob source metrics
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	Retries         int64         `json:"retries"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`
}

// metricsRecorder aggregates BackendMetrics
type metricsRecorder struct {
	mu      sync.RWMutex
	metrics BackendMetrics
}

func (mr *metricsRecorder) record(duration time.Duration, bytes int64, err error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	mr.metrics.Requests++
	mr.metrics.BytesDownloaded += bytes
	if err != nil {
		mr.metrics.Errors++
		mr.metrics.LastError = err.Error()
		mr.metrics.LastErrorTime = time.Now()
	}

	// Calculate rolling average latency
	if mr.metrics.Requests == 1 {
		mr.metrics.AverageLatency = duration
	} else {
		mr.metrics.AverageLatency = time.Duration(
			(int64(mr.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

func (mr *metricsRecorder) recordRetry() {
	mr.mu.Lock()
	mr.metrics.Retries++
	mr.mu.Unlock()
}

func (mr *metricsRecorder) snapshot() BackendMetrics {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.metrics
}
