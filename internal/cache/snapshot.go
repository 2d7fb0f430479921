package cache

import (
	"sort"
	"time"

	"github.com/thomasrockhu-codecov/cradle/pkg/types"
)

// Snapshot lists every record, split into those with live holders and
// those waiting for eviction. PendingEviction is ordered from most to least
// recently released.
func Snapshot(c *ImmutableCache) types.ImmutableCacheSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := types.ImmutableCacheSnapshot{
		InUse:           []types.CacheEntryInfo{},
		PendingEviction: make([]types.CacheEntryInfo, 0, c.evictList.Len()),
		UnusedSize:      c.unusedSize,
		UnusedSizeLimit: c.config.UnusedSizeLimit,
		TakenAt:         time.Now(),
	}

	for _, bucket := range c.records {
		for _, r := range bucket {
			if r.refs > 0 {
				snap.InUse = append(snap.InUse, entryInfo(r))
			}
		}
	}
	sort.Slice(snap.InUse, func(i, j int) bool { return snap.InUse[i].Key < snap.InUse[j].Key })

	for e := c.evictList.Front(); e != nil; e = e.Next() {
		snap.PendingEviction = append(snap.PendingEviction, entryInfo(e.Value.(*record)))
	}
	return snap
}

func entryInfo(r *record) types.CacheEntryInfo {
	progress, hasProgress := r.loadProgress()
	return types.CacheEntryInfo{
		Key:         r.key.String(),
		State:       r.loadState(),
		Size:        r.size,
		HasProgress: hasProgress,
		Progress:    progress,
		References:  r.refs,
	}
}

// ClearUnused evicts every record that has no live holder and returns how
// many were removed.
func ClearUnused(c *ImmutableCache) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for e := c.evictList.Back(); e != nil; e = c.evictList.Back() {
		c.removeLocked(e.Value.(*record))
		evicted++
	}
	c.reportEvictions(evicted)
	return evicted
}
