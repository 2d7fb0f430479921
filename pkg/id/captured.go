package id

import "cmp"

// CapturedID is an immutable holder of an independent copy of an ID. It is
// the form stored inside cache records. The zero value is uninitialized.
type CapturedID struct {
	id ID
}

// Capture clones key into a new CapturedID.
func Capture(key ID) CapturedID {
	if key == nil {
		return CapturedID{}
	}
	return CapturedID{id: key.Clone()}
}

// MakeCapturedID is shorthand for Capture(MakeID(v)).
func MakeCapturedID[T cmp.Ordered](v T) CapturedID {
	// MakeID allocates a fresh value, so there is nothing to clone.
	return CapturedID{id: MakeID(v)}
}

// IsInitialized reports whether c holds an ID.
func (c CapturedID) IsInitialized() bool { return c.id != nil }

// ID returns the held identity. Callers must not mutate it.
func (c CapturedID) ID() ID { return c.id }

// Matches reports whether c holds an ID equal to key.
func (c CapturedID) Matches(key ID) bool { return Equal(c.id, key) }

func (c CapturedID) Equal(other CapturedID) bool { return Equal(c.id, other.id) }

// Less orders uninitialized IDs before initialized ones.
func (c CapturedID) Less(other CapturedID) bool { return Less(c.id, other.id) }

func (c CapturedID) Hash() uint64 { return Hash(c.id) }

func (c CapturedID) String() string { return String(c.id) }
