package id

import (
	"bytes"
	"encoding/binary"
	"io"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// ID is a type-erased identity value.
//
// Equals and Less may assume that other has the same concrete type as the
// receiver. Use Equal and Less to compare arbitrary IDs.
type ID interface {
	// Clone returns a standalone deep copy.
	Clone() ID
	// DeepCopyInto overwrites dst in place. It returns false, leaving dst
	// untouched, when dst is not the same variant.
	DeepCopyInto(dst ID) bool
	Equals(other ID) bool
	Less(other ID) bool
	// Hash is stable for the lifetime of the process and consistent with Equals.
	Hash() uint64
	// Stream writes an informational rendering. It is not required to be injective.
	Stream(w io.Writer)
}

// Equal reports whether a and b are the same variant holding equal values.
func Equal(a, b ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return a.Equals(b)
}

// Less orders IDs first by variant and then by value.
func Less(a, b ID) bool {
	if a == nil || b == nil {
		return a == nil && b != nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return typeLess(ta, tb)
	}
	return a.Less(b)
}

// Hash returns the hash of a, or zero for a nil ID.
func Hash(a ID) uint64 {
	if a == nil {
		return 0
	}
	return a.Hash()
}

// String renders a as text.
func String(a ID) string {
	if a == nil {
		return "<nil>"
	}
	var buf bytes.Buffer
	a.Stream(&buf)
	return buf.String()
}

// Clone returns a deep copy of a, or nil.
func Clone(a ID) ID {
	if a == nil {
		return nil
	}
	return a.Clone()
}

// DeepCopy copies src into *dst, reusing the storage already held by *dst
// when it is the same variant.
func DeepCopy(src ID, dst *ID) {
	if src == nil {
		*dst = nil
		return
	}
	if *dst != nil && src.DeepCopyInto(*dst) {
		return
	}
	*dst = src.Clone()
}

// typeLess orders variants by name, then by the package of the named type
// behind the pointer. Types that still tie, such as instantiations over
// same-named local types, are ordered by first use in this process.
func typeLess(a, b reflect.Type) bool {
	if c := strings.Compare(a.String(), b.String()); c != 0 {
		return c < 0
	}
	if c := strings.Compare(namedPkgPath(a), namedPkgPath(b)); c != 0 {
		return c < 0
	}
	return typeRank(a) < typeRank(b)
}

func namedPkgPath(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath()
}

var (
	typeRanks    sync.Map // reflect.Type -> uint64
	nextTypeRank atomic.Uint64
)

func typeRank(t reflect.Type) uint64 {
	if r, ok := typeRanks.Load(t); ok {
		return r.(uint64)
	}
	r, _ := typeRanks.LoadOrStore(t, nextTypeRank.Add(1))
	return r.(uint64)
}

func mixHashes(a, b uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], a)
	binary.LittleEndian.PutUint64(buf[8:], b)
	return xxhash.Sum64(buf[:])
}
