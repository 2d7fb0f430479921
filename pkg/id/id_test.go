package id

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"testing"
)

type version struct {
	major, minor int
}

func (v version) Compare(o version) int {
	if v.major != o.major {
		return v.major - o.major
	}
	return v.minor - o.minor
}

func (v version) HashKey() uint64 { return uint64(v.major)<<32 | uint64(v.minor) }

func (v version) String() string { return fmt.Sprintf("v%d.%d", v.major, v.minor) }

func TestCloneEqualsOriginal(t *testing.T) {
	s := "shared"
	tests := []struct {
		name string
		id   ID
	}{
		{"int", MakeID(42)},
		{"string", MakeID("hello")},
		{"float", MakeID(2.5)},
		{"nan", MakeID(math.NaN())},
		{"keyer", MakeKeyID(version{1, 2})},
		{"by reference", MakeIDByReference(&s)},
		{"ref", Ref(MakeID(7))},
		{"pair", Combine(MakeID("a"), MakeID(1))},
		{"triple", Combine(MakeID("a"), MakeID(1), MakeID(2.0))},
		{"null", NullID},
		{"unit", UnitID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.id.Clone()
			if !Equal(tt.id, c) {
				t.Fatalf("clone of %s is not equal to the original", String(tt.id))
			}
			if tt.id.Hash() != c.Hash() {
				t.Errorf("clone hash %d != original hash %d", c.Hash(), tt.id.Hash())
			}
			if Less(tt.id, c) || Less(c, tt.id) {
				t.Errorf("equal IDs must not be ordered")
			}
		})
	}
}

func TestOrderingWithinVariant(t *testing.T) {
	tests := []struct {
		name string
		a, b ID
	}{
		{"int", MakeID(1), MakeID(2)},
		{"string", MakeID("abc"), MakeID("abd")},
		{"keyer", MakeKeyID(version{1, 9}), MakeKeyID(version{2, 0})},
		{"pair first", Combine(MakeID(1), MakeID(9)), Combine(MakeID(2), MakeID(0))},
		{"pair second", Combine(MakeID(1), MakeID(1)), Combine(MakeID(1), MakeID(2))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Equal(tt.a, tt.b) {
				t.Fatalf("%s and %s should differ", String(tt.a), String(tt.b))
			}
			if !Less(tt.a, tt.b) {
				t.Errorf("expected %s < %s", String(tt.a), String(tt.b))
			}
			if Less(tt.b, tt.a) {
				t.Errorf("expected exactly one ordering to hold")
			}
		})
	}
}

func TestCrossVariant(t *testing.T) {
	ids := []ID{
		MakeID(1),
		MakeID(int64(1)),
		MakeID("1"),
		Ref(MakeID(1)),
		Combine(MakeID(1), MakeID(1)),
		NullID,
		UnitID,
		MakeKeyID(version{1, 0}),
	}

	for i, a := range ids {
		for j, b := range ids {
			if i == j {
				continue
			}
			if Equal(a, b) {
				t.Errorf("%T and %T must never be equal", a, b)
			}
			if Less(a, b) == Less(b, a) {
				t.Errorf("%T and %T must be strictly ordered", a, b)
			}
		}
	}

	// A total order lets mixed collections be sorted deterministically.
	sorted := append([]ID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })
	for i := 1; i < len(sorted); i++ {
		if Less(sorted[i], sorted[i-1]) {
			t.Fatalf("sort produced an inconsistent order at %d", i)
		}
	}
}

func TestCombineOrderSensitive(t *testing.T) {
	a, b := MakeID("a"), MakeID("b")
	ab, ba := Combine(a, b), Combine(b, a)
	if Equal(ab, ba) {
		t.Fatal("Combine(a, b) must differ from Combine(b, a)")
	}
	if ab.Hash() == ba.Hash() {
		t.Error("pair hash should depend on argument order")
	}
	if Combine(a) != a {
		t.Error("Combine with a single argument should return it unchanged")
	}

	nested := Combine(MakeID(1), MakeID(2), MakeID(3))
	explicit := Combine(MakeID(1), Combine(MakeID(2), MakeID(3)))
	if !Equal(nested, explicit) {
		t.Errorf("Combine should nest to the right, got %s", String(nested))
	}
	if got := String(nested); got != "(1, (2, 3))" {
		t.Errorf("String() = %q", got)
	}
}

func TestByReferenceCopiesOnClone(t *testing.T) {
	url := "s3://bucket/obj1"
	ref := MakeIDByReference(&url)
	c := ref.Clone()

	if !Equal(ref, c) {
		t.Fatal("clone should equal the reference")
	}

	url = "s3://bucket/obj2"
	if Equal(ref, c) {
		t.Error("the reference ID should observe the caller's value")
	}
	if got := String(c); got != "s3://bucket/obj1" {
		t.Errorf("clone should keep the value at clone time, got %q", got)
	}

	var nilRef *int
	if !Equal(MakeIDByReference(nilRef), MakeIDByReference(new(int))) {
		t.Error("a nil pointer should behave as the zero value")
	}
}

func TestRefClonesTarget(t *testing.T) {
	url := "s3://bucket/obj1"
	r := Ref(MakeIDByReference(&url))
	c := r.Clone()
	url = "changed"
	if got := String(c); got != "s3://bucket/obj1" {
		t.Errorf("cloned Ref should own its target, got %q", got)
	}
	if Equal(Ref(MakeID(1)), MakeID(1)) {
		t.Error("Ref is a distinct variant from its target")
	}
}

func TestDeepCopy(t *testing.T) {
	var dst ID = MakeID(1)
	before := dst
	DeepCopy(MakeID(2), &dst)
	if dst != before {
		t.Error("same variant copy should reuse the destination")
	}
	if !Equal(dst, MakeID(2)) {
		t.Errorf("dst = %s, want 2", String(dst))
	}

	DeepCopy(MakeID("x"), &dst)
	if !Equal(dst, MakeID("x")) {
		t.Errorf("variant change should replace dst, got %s", String(dst))
	}

	pair := Combine(MakeID(1), MakeID("a"))
	var into ID = Combine(MakeID(0), MakeID("b"))
	if !pair.DeepCopyInto(into) || !Equal(pair, into) {
		t.Error("pair DeepCopyInto failed")
	}
	if MakeID(1).DeepCopyInto(MakeID("a")) {
		t.Error("DeepCopyInto across variants must report false")
	}
}

func TestFloatHashConsistency(t *testing.T) {
	negZero := math.Copysign(0, -1)
	if !Equal(MakeID(negZero), MakeID(0.0)) {
		t.Fatal("-0 and +0 compare equal")
	}
	if MakeID(negZero).Hash() != MakeID(0.0).Hash() {
		t.Error("equal floats must hash equally")
	}
}

func TestCapturedID(t *testing.T) {
	var zero CapturedID
	if zero.IsInitialized() {
		t.Fatal("zero value should be uninitialized")
	}
	if zero.Hash() != 0 {
		t.Error("uninitialized hash should be 0")
	}

	name := "obj1"
	transient := Combine(MakeID("get_blob"), MakeIDByReference(&name))
	captured := Capture(transient)
	name = "obj2"

	if !captured.IsInitialized() {
		t.Fatal("captured ID should be initialized")
	}
	if !strings.Contains(captured.String(), "obj1") {
		t.Errorf("captured ID should be independent of caller state: %s", captured)
	}
	if captured.Matches(transient) {
		t.Error("captured ID should not follow later changes")
	}
	name = "obj1"
	if !captured.Matches(transient) {
		t.Error("captured ID should match an equal transient key")
	}
	if captured.Matches(Combine(MakeID("get_blob"), MakeID("obj1"))) {
		t.Error("by-reference and simple IDs are separate variants")
	}

	if !zero.Less(captured) || captured.Less(zero) {
		t.Error("uninitialized should order before initialized")
	}
	if !MakeCapturedID(5).Equal(Capture(MakeID(5))) {
		t.Error("MakeCapturedID should equal Capture(MakeID)")
	}
}

func localTagA() ID {
	type tag string
	return MakeID(tag("x"))
}

func localTagB() ID {
	type tag string
	return MakeID(tag("x"))
}

func TestSameNamedVariantsAreOrdered(t *testing.T) {
	a, b := localTagA(), localTagB()
	if reflect.TypeOf(a) == reflect.TypeOf(b) {
		t.Fatal("expected distinct variants")
	}
	if Equal(a, b) {
		t.Error("variants over distinct types must not be equal")
	}
	if Less(a, b) == Less(b, a) {
		t.Errorf("%s and %s must be strictly ordered", reflect.TypeOf(a), reflect.TypeOf(b))
	}
	// The order is stable across calls.
	first := Less(a, b)
	for i := 0; i < 10; i++ {
		if Less(a, b) != first {
			t.Fatal("variant order changed between calls")
		}
	}
}
