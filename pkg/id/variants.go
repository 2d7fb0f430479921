package id

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// Keyer is implemented by key types that are not cmp.Ordered but know how
// to compare and hash themselves.
type Keyer[T any] interface {
	Compare(other T) int
	HashKey() uint64
	String() string
}

type simpleID[T cmp.Ordered] struct {
	value T
}

// MakeID wraps an ordered value.
func MakeID[T cmp.Ordered](v T) ID {
	return &simpleID[T]{value: v}
}

func (s *simpleID[T]) Clone() ID {
	return &simpleID[T]{value: s.value}
}

func (s *simpleID[T]) DeepCopyInto(dst ID) bool {
	d, ok := dst.(*simpleID[T])
	if !ok {
		return false
	}
	d.value = s.value
	return true
}

func (s *simpleID[T]) Equals(other ID) bool {
	return cmp.Compare(s.value, other.(*simpleID[T]).value) == 0
}

func (s *simpleID[T]) Less(other ID) bool {
	return cmp.Less(s.value, other.(*simpleID[T]).value)
}

func (s *simpleID[T]) Hash() uint64 { return hashOrdered(s.value) }

func (s *simpleID[T]) Stream(w io.Writer) { fmt.Fprint(w, s.value) }

type keyID[T Keyer[T]] struct {
	value T
}

// MakeKeyID wraps a value that implements Keyer.
func MakeKeyID[T Keyer[T]](v T) ID {
	return &keyID[T]{value: v}
}

func (k *keyID[T]) Clone() ID {
	return &keyID[T]{value: k.value}
}

func (k *keyID[T]) DeepCopyInto(dst ID) bool {
	d, ok := dst.(*keyID[T])
	if !ok {
		return false
	}
	d.value = k.value
	return true
}

func (k *keyID[T]) Equals(other ID) bool {
	return k.value.Compare(other.(*keyID[T]).value) == 0
}

func (k *keyID[T]) Less(other ID) bool {
	return k.value.Compare(other.(*keyID[T]).value) < 0
}

func (k *keyID[T]) Hash() uint64 { return k.value.HashKey() }

func (k *keyID[T]) Stream(w io.Writer) { io.WriteString(w, k.value.String()) }

// byReferenceID points at a caller owned value until it is cloned.
type byReferenceID[T cmp.Ordered] struct {
	ptr *T
}

// MakeIDByReference wraps a pointer to an ordered value. The pointee must
// stay unchanged for as long as the returned ID is in use; Clone copies it.
func MakeIDByReference[T cmp.Ordered](p *T) ID {
	return &byReferenceID[T]{ptr: p}
}

func (r *byReferenceID[T]) get() T {
	if r.ptr == nil {
		var zero T
		return zero
	}
	return *r.ptr
}

func (r *byReferenceID[T]) Clone() ID {
	v := r.get()
	return &byReferenceID[T]{ptr: &v}
}

func (r *byReferenceID[T]) DeepCopyInto(dst ID) bool {
	d, ok := dst.(*byReferenceID[T])
	if !ok {
		return false
	}
	v := r.get()
	d.ptr = &v
	return true
}

func (r *byReferenceID[T]) Equals(other ID) bool {
	return cmp.Compare(r.get(), other.(*byReferenceID[T]).get()) == 0
}

func (r *byReferenceID[T]) Less(other ID) bool {
	return cmp.Less(r.get(), other.(*byReferenceID[T]).get())
}

func (r *byReferenceID[T]) Hash() uint64 { return hashOrdered(r.get()) }

func (r *byReferenceID[T]) Stream(w io.Writer) { fmt.Fprint(w, r.get()) }

type refID struct {
	target ID
}

// Ref wraps another ID without copying it. The caller guarantees that
// target outlives the reference; Clone produces an owning copy.
func Ref(target ID) ID {
	return &refID{target: target}
}

func (r *refID) Clone() ID {
	return &refID{target: Clone(r.target)}
}

func (r *refID) DeepCopyInto(dst ID) bool {
	d, ok := dst.(*refID)
	if !ok {
		return false
	}
	d.target = Clone(r.target)
	return true
}

func (r *refID) Equals(other ID) bool { return Equal(r.target, other.(*refID).target) }

func (r *refID) Less(other ID) bool { return Less(r.target, other.(*refID).target) }

func (r *refID) Hash() uint64 { return Hash(r.target) }

func (r *refID) Stream(w io.Writer) { io.WriteString(w, String(r.target)) }

type pairID struct {
	first, second ID
}

// Combine builds a right-nested, order sensitive composite of its
// arguments: Combine(a, b, c) is pair(a, pair(b, c)). Combine(a) is a.
func Combine(first ID, rest ...ID) ID {
	if len(rest) == 0 {
		return first
	}
	return &pairID{first: first, second: Combine(rest[0], rest[1:]...)}
}

func (p *pairID) Clone() ID {
	return &pairID{first: Clone(p.first), second: Clone(p.second)}
}

func (p *pairID) DeepCopyInto(dst ID) bool {
	d, ok := dst.(*pairID)
	if !ok {
		return false
	}
	DeepCopy(p.first, &d.first)
	DeepCopy(p.second, &d.second)
	return true
}

func (p *pairID) Equals(other ID) bool {
	o := other.(*pairID)
	return Equal(p.first, o.first) && Equal(p.second, o.second)
}

func (p *pairID) Less(other ID) bool {
	o := other.(*pairID)
	if Less(p.first, o.first) {
		return true
	}
	if Less(o.first, p.first) {
		return false
	}
	return Less(p.second, o.second)
}

func (p *pairID) Hash() uint64 { return mixHashes(Hash(p.first), Hash(p.second)) }

func (p *pairID) Stream(w io.Writer) {
	io.WriteString(w, "(")
	io.WriteString(w, String(p.first))
	io.WriteString(w, ", ")
	io.WriteString(w, String(p.second))
	io.WriteString(w, ")")
}

type nullID struct{}

type unitID struct{}

var (
	// NullID identifies the absence of a value.
	NullID ID = nullID{}
	// UnitID identifies a computation with no parameters.
	UnitID ID = unitID{}
)

func (nullID) Clone() ID { return nullID{} }

func (nullID) DeepCopyInto(dst ID) bool {
	_, ok := dst.(nullID)
	return ok
}

func (nullID) Equals(ID) bool { return true }

func (nullID) Less(ID) bool { return false }

func (nullID) Hash() uint64 { return 0 }

func (nullID) Stream(w io.Writer) { io.WriteString(w, "null") }

func (unitID) Clone() ID { return unitID{} }

func (unitID) DeepCopyInto(dst ID) bool {
	_, ok := dst.(unitID)
	return ok
}

func (unitID) Equals(ID) bool { return true }

func (unitID) Less(ID) bool { return false }

func (unitID) Hash() uint64 { return 1 }

func (unitID) Stream(w io.Writer) { io.WriteString(w, "unit") }

func hashOrdered[T cmp.Ordered](v T) uint64 {
	rv := reflect.ValueOf(v)
	var buf [8]byte
	switch rv.Kind() {
	case reflect.String:
		return xxhash.Sum64String(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		binary.LittleEndian.PutUint64(buf[:], uint64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		binary.LittleEndian.PutUint64(buf[:], rv.Uint())
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		switch {
		case math.IsNaN(f):
			f = math.NaN()
		case f == 0:
			f = 0 // fold -0 into +0
		}
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	}
	return xxhash.Sum64(buf[:])
}
