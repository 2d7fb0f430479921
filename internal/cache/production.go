package cache

import (
	"github.com/thomasrockhu-codecov/cradle/pkg/id"
	"github.com/thomasrockhu-codecov/cradle/pkg/types"
)

// ReportProgress records progress for a loading key. Keys that are not
// tracked are ignored.
func ReportProgress(c *ImmutableCache, key id.ID, progress float32) {
	if key == nil {
		return
	}
	c.mu.Lock()
	r := c.lookup(key, key.Hash())
	c.mu.Unlock()
	if r != nil {
		r.setProgress(progress)
	}
}

// SetData forces the record for key into READY with value, replacing any
// pending computation for future requesters. Holders of an earlier task
// still receive that task's result. Keys that are not tracked are ignored.
func SetData[V any](c *ImmutableCache, key id.ID, value V) {
	if key == nil {
		return
	}
	size := DeepSizeof(value)

	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.lookup(key, key.Hash())
	if r == nil {
		return
	}
	c.setData(r, ReadyTask(value), size)
}

// SeedData is SetData that creates the record when it is absent.
func SeedData[V any](c *ImmutableCache, key id.CapturedID, value V) {
	if !key.IsInitialized() {
		return
	}
	size := DeepSizeof(value)

	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.lookup(key.ID(), key.Hash())
	if r == nil {
		r = newRecord(key, types.StateReady)
		c.insertLocked(r)
		r.refs = 1
		c.setData(r, ReadyTask(value), size)
		c.releaseLocked(r)
		return
	}
	c.setData(r, ReadyTask(value), size)
}

// setData requires c.mu to be held.
func (c *ImmutableCache) setData(r *record, task erasedTask, size int64) {
	r.task = task
	c.setSize(r, size)
	r.clearProgress()
	r.storeState(types.StateReady)
	if r.element != nil {
		c.enforceLimit()
	}
}
