/*
Package id provides the identity values used as cache keys throughout cradle.

An ID is an opaque, polymorphic value. Every ID can be cloned, hashed,
compared and rendered as text, but Equals and Less are only meaningful
between two IDs of the same concrete variant. The package level functions
Equal, Less and String are the dispatchers that callers should use: they
compare the variant first and only fall through to the variant's own
methods when both operands share it. Mixed variant collections are
therefore totally ordered and comparisons never panic.

# Variants

	MakeID(v)             wraps any cmp.Ordered value
	MakeKeyID(v)          wraps a value implementing Keyer
	MakeIDByReference(&v) wraps a pointer, copying only on Clone
	Ref(other)            non-owning reference to another ID
	Combine(a, b, ...)    right-nested, order sensitive pairs
	NullID, UnitID        singleton identities

# Captured IDs

IDs are usually transient and may point into caller state. A CapturedID
holds an independent clone and is the form stored inside cache records:

	key := id.Capture(id.Combine(id.MakeID("get_blob"), id.MakeIDByReference(&url)))

Functions and closures have no usable identity of their own. Callers that
cache the result of a closure must supply an explicit, stable ID for it,
typically a string tag combined with the closure's arguments.
*/
package id
