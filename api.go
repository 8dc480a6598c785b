package kiso

import "fmt"

// Add attaches T to e with the given value, registering T as a generic
// component on first use. Adding a type e already carries overwrites its
// value and still counts as a structural no-op (no archetype move).
//
// Generic wrapper over World.AddID, in the style of the teacher library's
// GetComponent[T]/SetComponent[T] pair, adapted to operate against a
// world-scoped registry instead of a package-global one.
func Add[T any](w *World, e Entity, value T) {
	id := RegisterComponent[T](w)
	w.AddID(e, id)
	if ptr, desc, ok := w.cellFor(e, id); ok && desc.Size > 0 {
		*(*T)(ptr) = value
		w.touch(e, id)
	}
}

// AddTag attaches a zero-size marker component T to e.
func AddTag[T any](w *World, e Entity) {
	id := RegisterComponent[T](w)
	w.AddID(e, id)
}

// Remove detaches T from e. A no-op if e doesn't carry it.
func Remove[T any](w *World, e Entity) {
	w.DelID(e, ComponentIDFor[T](w))
}

// Has reports whether e carries a T value.
func Has[T any](w *World, e Entity) bool {
	return w.HasID(e, ComponentIDFor[T](w))
}

// Set overwrites e's T value and bumps its column's change-detection
// version. Panics if e doesn't carry T — use Add to attach and initialize
// in one call.
func Set[T any](w *World, e Entity, value T) {
	id := ComponentIDFor[T](w)
	ptr, _, ok := w.cellFor(e, id)
	if !ok {
		var zero T
		panic(fmt.Sprintf("kiso: entity %s does not have component %T", e, zero))
	}
	*(*T)(ptr) = value
	w.touch(e, id)
}

// SSet ("silent set") overwrites e's T value without bumping its column's
// version, so change-detection queries don't observe this write. Useful for
// bookkeeping fields a system updates every tick but never wants to react
// to its own write.
func SSet[T any](w *World, e Entity, value T) {
	id := ComponentIDFor[T](w)
	ptr, _, ok := w.cellFor(e, id)
	if !ok {
		panic(fmt.Sprintf("kiso: entity %s does not have component %T", e, value))
	}
	*(*T)(ptr) = value
}

// Get returns a copy of e's T value. Panics if e doesn't carry T.
func Get[T any](w *World, e Entity) T {
	id := ComponentIDFor[T](w)
	ptr, _, ok := w.cellFor(e, id)
	if !ok {
		var zero T
		panic(fmt.Sprintf("kiso: entity %s does not have component %T", e, zero))
	}
	return *(*T)(ptr)
}

// GetPtr returns a pointer directly into e's T column cell, for in-place
// mutation without a copy. Callers that mutate through the pointer should
// follow up with Touch so change-detection queries see the write; GetPtr
// itself does not bump the column version.
func GetPtr[T any](w *World, e Entity) *T {
	id := ComponentIDFor[T](w)
	ptr, _, ok := w.cellFor(e, id)
	if !ok {
		var zero T
		panic(fmt.Sprintf("kiso: entity %s does not have component %T", e, zero))
	}
	return (*T)(ptr)
}

// Touch manually bumps T's column version on e, for callers that mutated
// the value through a pointer obtained from GetPtr.
func Touch[T any](w *World, e Entity) {
	w.touch(e, ComponentIDFor[T](w))
}

// AddPair attaches the relationship (relation, target) to e. The pair is a
// zero-size marker unless relation or target is a registered, non-zero-size
// component, in which case its value is zero-initialized; use SetPairValue
// to attach the pair with a value.
func AddPair(w *World, e Entity, relation, target Entity) {
	w.AddID(e, MakePair(relation, target))
}

// RemovePair detaches (relation, target) from e.
func RemovePair(w *World, e Entity, relation, target Entity) {
	w.DelID(e, MakePair(relation, target))
}

// HasPair reports whether e carries the exact (relation, target) pair.
func HasPair(w *World, e Entity, relation, target Entity) bool {
	return w.HasID(e, MakePair(relation, target))
}

// SetPairValue attaches (relation, target) to e carrying value, stored
// using whichever of relation or target is itself a registered,
// non-zero-size component (spec.md §4.3 step 2 / SPEC_FULL.md §6.3).
func SetPairValue[T any](w *World, e Entity, relation, target Entity, value T) {
	id := MakePair(relation, target)
	w.AddID(e, id)
	if ptr, desc, ok := w.cellFor(e, id); ok && desc.Size > 0 {
		*(*T)(ptr) = value
		w.touch(e, id)
	}
}

// GetPairValue returns the value stored against (relation, target) on e.
// Panics if e doesn't carry the pair.
func GetPairValue[T any](w *World, e Entity, relation, target Entity) T {
	id := MakePair(relation, target)
	ptr, _, ok := w.cellFor(e, id)
	if !ok {
		var zero T
		panic(fmt.Sprintf("kiso: entity %s does not have pair value %T", e, zero))
	}
	return *(*T)(ptr)
}
