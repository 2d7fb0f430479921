package cache

import (
	"container/list"
	"math"
	"sync/atomic"

	"github.com/thomasrockhu-codecov/cradle/pkg/id"
	"github.com/thomasrockhu-codecov/cradle/pkg/types"
)

// hasProgressBit marks a progress word that carries a value in its low 32 bits.
const hasProgressBit = uint64(1) << 32

// record is one entry of the immutable cache.
type record struct {
	key  id.CapturedID
	hash uint64

	state    atomic.Uint32
	progress atomic.Uint64

	// Guarded by ImmutableCache.mu.
	task    erasedTask
	refs    int
	size    int64
	element *list.Element
}

func newRecord(key id.CapturedID, state types.EntryState) *record {
	r := &record{key: key, hash: key.Hash()}
	r.state.Store(uint32(state))
	return r
}

func (r *record) loadState() types.EntryState {
	return types.EntryState(r.state.Load())
}

func (r *record) storeState(s types.EntryState) {
	r.state.Store(uint32(s))
}

func (r *record) setProgress(p float32) {
	r.progress.Store(hasProgressBit | uint64(math.Float32bits(p)))
}

func (r *record) clearProgress() {
	r.progress.Store(0)
}

func (r *record) loadProgress() (float32, bool) {
	v := r.progress.Load()
	if v&hasProgressBit == 0 {
		return 0, false
	}
	return math.Float32frombits(uint32(v)), true
}
