package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
	"github.com/thomasrockhu-codecov/cradle/pkg/id"
	"github.com/thomasrockhu-codecov/cradle/pkg/types"
	"github.com/thomasrockhu-codecov/cradle/pkg/utils"
)

// DefaultUnusedSizeLimit is the default budget for unreferenced records.
const DefaultUnusedSizeLimit int64 = 1 << 30

// ImmutableCacheConfig represents memory cache configuration
type ImmutableCacheConfig struct {
	// UnusedSizeLimit bounds the total size of READY records that no
	// pointer references. Referenced records do not count.
	UnusedSizeLimit int64 `yaml:"unused_size_limit"`

	// RetryFailed makes a new request for a FAILED key start a fresh
	// attempt. When false the failure is replayed until the record is evicted.
	RetryFailed bool `yaml:"retry_failed"`
}

// DefaultImmutableCacheConfig returns the default memory cache configuration.
func DefaultImmutableCacheConfig() *ImmutableCacheConfig {
	return &ImmutableCacheConfig{
		UnusedSizeLimit: DefaultUnusedSizeLimit,
		RetryFailed:     true,
	}
}

// CreateFunc produces the value for key. It runs at most once per live
// attempt, in its own goroutine, and key stays valid for the lifetime of
// the record.
type CreateFunc[V any] func(ctx context.Context, key id.ID) (V, error)

// ImmutableCache maps identities to shared, lazily computed results with
// per-key single-flight semantics.
type ImmutableCache struct {
	mu         sync.Mutex
	records    map[uint64][]*record
	count      int
	evictList  *list.List
	unusedSize int64

	config ImmutableCacheConfig

	ctx     context.Context
	logger  *utils.StructuredLogger
	metrics types.MetricsCollector

	stats types.CacheStats
}

// NewImmutableCache creates a new memory cache
func NewImmutableCache(config *ImmutableCacheConfig, opts ...Option) *ImmutableCache {
	if config == nil {
		config = DefaultImmutableCacheConfig()
	}
	o := buildOptions("immutable_cache", opts)

	return &ImmutableCache{
		records:   make(map[uint64][]*record),
		evictList: list.New(),
		config:    *config,
		ctx:       o.ctx,
		logger:    o.logger,
		metrics:   o.metrics,
		stats: types.CacheStats{
			Capacity: config.UnusedSizeLimit,
		},
	}
}

// GetOrCreate returns the shared task for key, invoking create only if no
// live record exists for it.
func GetOrCreate[V any](c *ImmutableCache, key id.CapturedID, create CreateFunc[V]) *Task[V] {
	p := NewPtr(c, key, create)
	defer p.Reset()
	return p.Task()
}

// Stats returns cache statistics
func (c *ImmutableCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = c.count
	stats.Size = c.unusedSize
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if stats.Capacity > 0 {
		stats.Utilization = float64(c.unusedSize) / float64(stats.Capacity)
	}
	return stats
}

// Len returns the number of tracked records.
func (c *ImmutableCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// acquire finds or creates the record for key and takes a reference on it.
func acquire[V any](c *ImmutableCache, key id.CapturedID, create CreateFunc[V]) (*record, *Task[V]) {
	c.mu.Lock()

	r := c.lookup(key.ID(), key.Hash())
	if r != nil {
		c.retain(r)
		if r.loadState() == types.StateFailed && c.config.RetryFailed {
			t := restart(c, r, create)
			c.mu.Unlock()
			return r, t
		}
		c.stats.Hits++
		task := r.task
		c.mu.Unlock()

		if c.metrics != nil {
			c.metrics.RecordCacheHit("memory")
		}
		if t, ok := task.(*Task[V]); ok {
			return r, t
		}
		return r, FailedTask[V](errors.NewError(errors.ErrCodeInternalError,
			fmt.Sprintf("cache entry %s holds %T, requested %T", key, task, (*Task[V])(nil))).
			WithComponent("immutable_cache"))
	}

	r = newRecord(key, types.StateLoading)
	t := newTask[V]()
	r.task = t
	// One reference for the caller, one for the running producer.
	r.refs = 2
	c.insertLocked(r)
	c.stats.Misses++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordCacheMiss("memory")
	}
	go run(c, r, t, create)
	return r, t
}

// restart begins a new attempt on a FAILED record. c.mu must be held and
// the caller's reference already taken.
func restart[V any](c *ImmutableCache, r *record, create CreateFunc[V]) *Task[V] {
	t := newTask[V]()
	r.task = t
	r.refs++
	c.setSize(r, 0)
	r.clearProgress()
	r.storeState(types.StateLoading)
	c.stats.Misses++
	if c.metrics != nil {
		c.metrics.RecordCacheMiss("memory")
	}
	c.logger.Debug("retrying failed entry", map[string]interface{}{"key": r.key.String()})
	go run(c, r, t, create)
	return t
}

func run[V any](c *ImmutableCache, r *record, t *Task[V], create CreateFunc[V]) {
	start := time.Now()
	v, err := callProducer(c.ctx, create, r.key.ID())
	if c.metrics != nil {
		c.metrics.RecordProducer(time.Since(start), err == nil)
	}

	var size int64
	if err == nil {
		size = DeepSizeof(v)
	}

	c.mu.Lock()
	// SetData may have replaced the task; its value wins for the record.
	if r.task == erasedTask(t) {
		if err != nil {
			r.storeState(types.StateFailed)
		} else {
			c.setSize(r, size)
			r.clearProgress()
			r.storeState(types.StateReady)
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("producer failed", map[string]interface{}{
			"key":   r.key.String(),
			"error": err,
		})
	}
	t.complete(v, err)
	c.release(r)
}

func callProducer[V any](ctx context.Context, create CreateFunc[V], key id.ID) (v V, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.NewError(errors.ErrCodePanicRecovered, fmt.Sprintf("producer panicked: %v", rec)).
				WithComponent("immutable_cache").
				WithStack()
		}
	}()
	return create(ctx, key)
}

// The methods below require c.mu to be held.

func (c *ImmutableCache) lookup(key id.ID, hash uint64) *record {
	for _, r := range c.records[hash] {
		if r.key.Matches(key) {
			return r
		}
	}
	return nil
}

func (c *ImmutableCache) insertLocked(r *record) {
	c.records[r.hash] = append(c.records[r.hash], r)
	c.count++
}

func (c *ImmutableCache) removeLocked(r *record) {
	bucket := c.records[r.hash]
	for i, other := range bucket {
		if other == r {
			bucket[i] = bucket[len(bucket)-1]
			bucket[len(bucket)-1] = nil
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.records, r.hash)
	} else {
		c.records[r.hash] = bucket
	}
	c.count--

	if r.element != nil {
		c.evictList.Remove(r.element)
		r.element = nil
		c.unusedSize -= r.size
	}
}

func (c *ImmutableCache) retain(r *record) {
	if r.element != nil {
		c.evictList.Remove(r.element)
		r.element = nil
		c.unusedSize -= r.size
	}
	r.refs++
}

func (c *ImmutableCache) releaseLocked(r *record) {
	r.refs--
	if r.refs > 0 {
		return
	}
	if r.refs < 0 {
		panic("cache: record released more times than acquired")
	}
	r.element = c.evictList.PushFront(r)
	c.unusedSize += r.size
	c.enforceLimit()
}

func (c *ImmutableCache) release(r *record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(r)
}

func (c *ImmutableCache) setSize(r *record, size int64) {
	if r.element != nil {
		c.unusedSize += size - r.size
	}
	r.size = size
}

// enforceLimit evicts the least recently released records until the
// unused budget is met. Only records on the eviction list have no holders.
func (c *ImmutableCache) enforceLimit() {
	evicted := 0
	for c.unusedSize > c.config.UnusedSizeLimit {
		back := c.evictList.Back()
		if back == nil {
			break
		}
		c.removeLocked(back.Value.(*record))
		evicted++
	}
	c.reportEvictions(evicted)
}

func (c *ImmutableCache) reportEvictions(n int) {
	if n > 0 {
		c.stats.Evictions += uint64(n)
		if c.metrics != nil {
			c.metrics.RecordEvictions("memory", n)
		}
	}
	if c.metrics != nil {
		c.metrics.SetUnusedBytes(c.unusedSize)
	}
}
