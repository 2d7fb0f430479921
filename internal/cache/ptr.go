package cache

import (
	"context"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
	"github.com/thomasrockhu-codecov/cradle/pkg/id"
	"github.com/thomasrockhu-codecov/cradle/pkg/types"
)

// untypedPtr is a counted reference to a cache record.
type untypedPtr struct {
	cache *ImmutableCache
	rec   *record
}

func (p *untypedPtr) reset() {
	if p.rec == nil {
		return
	}
	p.cache.release(p.rec)
	p.rec = nil
}

func (p *untypedPtr) clone() untypedPtr {
	if p.rec == nil {
		return untypedPtr{}
	}
	p.cache.mu.Lock()
	p.cache.retain(p.rec)
	p.cache.mu.Unlock()
	return untypedPtr{cache: p.cache, rec: p.rec}
}

// Ptr is a holder's reference into the immutable cache. While any Ptr to a
// record is live the record is never evicted. A Ptr is not safe for
// concurrent use; Clone it to share.
type Ptr[V any] struct {
	untypedPtr
	task *Task[V]
}

// NewPtr attaches to the record for key, creating it and starting create
// when there is none.
func NewPtr[V any](c *ImmutableCache, key id.CapturedID, create CreateFunc[V]) *Ptr[V] {
	if !key.IsInitialized() {
		return &Ptr[V]{task: FailedTask[V](errors.NewError(errors.ErrCodeNotInitialized,
			"cache key is not initialized").WithComponent("immutable_cache"))}
	}
	r, t := acquire(c, key, create)
	return &Ptr[V]{untypedPtr: untypedPtr{cache: c, rec: r}, task: t}
}

// Clone returns another reference to the same record.
func (p *Ptr[V]) Clone() *Ptr[V] {
	return &Ptr[V]{untypedPtr: p.clone(), task: p.task}
}

// Reset releases the reference. It is safe to call more than once.
func (p *Ptr[V]) Reset() {
	p.reset()
}

// IsInitialized reports whether p still references a record.
func (p *Ptr[V]) IsInitialized() bool {
	return p.rec != nil
}

// Key returns the record's identity.
func (p *Ptr[V]) Key() id.CapturedID {
	if p.rec == nil {
		return id.CapturedID{}
	}
	return p.rec.key
}

// State returns the record's lifecycle state.
func (p *Ptr[V]) State() types.EntryState {
	if p.rec == nil {
		if p.task != nil {
			if _, done, err := p.task.Peek(); done && err != nil {
				return types.StateFailed
			}
		}
		return types.StateLoading
	}
	return p.rec.loadState()
}

func (p *Ptr[V]) IsLoading() bool { return p.State() == types.StateLoading }

func (p *Ptr[V]) IsReady() bool { return p.State() == types.StateReady }

func (p *Ptr[V]) IsFailed() bool { return p.State() == types.StateFailed }

// Progress returns the last reported progress, if any.
func (p *Ptr[V]) Progress() (float32, bool) {
	if p.rec == nil {
		return 0, false
	}
	return p.rec.loadProgress()
}

// Task returns the shared task this pointer observed when it was acquired.
func (p *Ptr[V]) Task() *Task[V] {
	return p.task
}

// Await waits for the value.
func (p *Ptr[V]) Await(ctx context.Context) (V, error) {
	return p.task.Await(ctx)
}
