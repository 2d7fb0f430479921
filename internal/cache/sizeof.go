package cache

import (
	"reflect"

	"github.com/thomasrockhu-codecov/cradle/pkg/types"
)

var sizerType = reflect.TypeOf((*types.Sizer)(nil)).Elem()

// DeepSizeof estimates the memory held by v, following pointers, slices,
// strings, maps and interfaces. Shared pointees are counted once. Values
// implementing types.Sizer report their own size.
func DeepSizeof(v any) int64 {
	if v == nil {
		return 0
	}
	if s, ok := v.(types.Sizer); ok {
		return s.DeepSize()
	}
	rv := reflect.ValueOf(v)
	return int64(rv.Type().Size()) + indirectSize(rv, make(map[visit]struct{}))
}

// visit identifies referenced memory already counted. Slices are keyed by
// length as well so a shorter view of the same backing array is not
// mistaken for the full one.
type visit struct {
	addr uintptr
	typ  reflect.Type
	len  int
}

// markSeen records v and reports whether it had been seen before.
func markSeen(seen map[visit]struct{}, v visit) bool {
	if _, ok := seen[v]; ok {
		return true
	}
	seen[v] = struct{}{}
	return false
}

// indirectSize returns the heap memory reachable from v, excluding v's own
// inline size.
func indirectSize(v reflect.Value, seen map[visit]struct{}) int64 {
	switch v.Kind() {
	case reflect.String:
		return int64(v.Len())

	case reflect.Slice:
		if v.IsNil() || markSeen(seen, visit{v.Pointer(), v.Type(), v.Len()}) {
			return 0
		}
		elem := v.Type().Elem()
		total := int64(v.Cap()) * int64(elem.Size())
		if hasIndirect(elem) {
			for i := 0; i < v.Len(); i++ {
				total += indirectSize(v.Index(i), seen)
			}
		}
		return total

	case reflect.Array:
		var total int64
		if hasIndirect(v.Type().Elem()) {
			for i := 0; i < v.Len(); i++ {
				total += indirectSize(v.Index(i), seen)
			}
		}
		return total

	case reflect.Struct:
		var total int64
		for i := 0; i < v.NumField(); i++ {
			total += indirectSize(v.Field(i), seen)
		}
		return total

	case reflect.Pointer:
		if v.IsNil() {
			return 0
		}
		if markSeen(seen, visit{addr: v.Pointer(), typ: v.Type()}) {
			return 0
		}
		if v.Type().Implements(sizerType) && v.CanInterface() {
			return v.Interface().(types.Sizer).DeepSize()
		}
		elem := v.Elem()
		return int64(elem.Type().Size()) + indirectSize(elem, seen)

	case reflect.Interface:
		if v.IsNil() {
			return 0
		}
		elem := v.Elem()
		if elem.Type().Implements(sizerType) && elem.CanInterface() {
			return elem.Interface().(types.Sizer).DeepSize()
		}
		return int64(elem.Type().Size()) + indirectSize(elem, seen)

	case reflect.Map:
		if v.IsNil() || markSeen(seen, visit{addr: v.Pointer(), typ: v.Type()}) {
			return 0
		}
		kt, vt := v.Type().Key(), v.Type().Elem()
		total := int64(v.Len()) * int64(kt.Size()+vt.Size())
		if hasIndirect(kt) || hasIndirect(vt) {
			iter := v.MapRange()
			for iter.Next() {
				total += indirectSize(iter.Key(), seen) + indirectSize(iter.Value(), seen)
			}
		}
		return total

	default:
		return 0
	}
}

// hasIndirect reports whether values of t can reference memory outside
// their inline representation.
func hasIndirect(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Pointer, reflect.Interface:
		return true
	case reflect.Array:
		return hasIndirect(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasIndirect(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
