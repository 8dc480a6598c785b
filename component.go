package kiso

import (
	"fmt"
	"reflect"
	"unsafe"
)

// ComponentDesc is the immutable descriptor a world's component cache keeps
// for every registered component: size, alignment, and the function
// pointers needed to manage a value of that type inside a chunk's raw
// column bytes without the chunk itself knowing the Go type.
//
// Replaces the source's template-derived component identity (spec.md §9):
// here the identity is the registering Entity, obtained once at
// RegisterComponent time and resolved through the world's cache from then
// on.
type ComponentDesc struct {
	Entity  Entity
	Name    string
	Size    uintptr
	Align   uintptr
	Kind    EntityKind
	Copy    func(dst, src unsafe.Pointer)
	Move    func(dst, src unsafe.Pointer)
	Destroy func(p unsafe.Pointer)
	Compare func(a, b unsafe.Pointer) bool

	slot ComponentID
}

// IsTag reports whether the component carries no data (Size == 0).
func (d *ComponentDesc) IsTag() bool { return d.Size == 0 }

// componentCache is the world-owned registry mapping a component Entity to
// its descriptor and dense slot. Per spec.md §9's redesign note, this
// replaces the source's singleton/global cache: every world owns one.
type componentCache struct {
	byEntity map[Entity]ComponentID
	byType   map[reflect.Type]Entity
	byRawID  map[uint32]Entity // raw id -> registered Entity, for resolving pair halves
	descs    []ComponentDesc   // indexed by ComponentID
}

func newComponentCache() componentCache {
	return componentCache{
		byEntity: make(map[Entity]ComponentID, 64),
		byType:   make(map[reflect.Type]Entity, 64),
		byRawID:  make(map[uint32]Entity, 64),
	}
}

func (c *componentCache) descOf(e Entity) *ComponentDesc {
	slot, ok := c.byEntity[e]
	if !ok {
		return nil
	}
	return &c.descs[slot]
}

func (c *componentCache) register(desc ComponentDesc) ComponentID {
	if len(c.descs) >= MaxComponentTypes {
		panic(fmt.Sprintf("kiso: cannot register component %q: maximum of %d component types reached", desc.Name, MaxComponentTypes))
	}
	slot := ComponentID(len(c.descs))
	desc.slot = slot
	c.descs = append(c.descs, desc)
	c.byEntity[desc.Entity] = slot
	c.byRawID[desc.Entity.ID()] = desc.Entity
	return slot
}

// resolvePairDesc implements spec.md §4.3 step 2 for a pair id: the storage
// type is the relation's descriptor if it carries data, else the target's,
// else a zero-size tag. Either half may be a plain entity with no
// registered component at all, which falls through to the tag case exactly
// like an unregistered relation or target does in the source.
func (c *componentCache) resolvePairDesc(pair Entity) ComponentDesc {
	relID, tgtID := pair.RelationTarget()
	if e, ok := c.byRawID[relID]; ok {
		if d := c.descOf(e); d != nil && d.Size > 0 {
			return withPairEntity(*d, pair)
		}
	}
	if e, ok := c.byRawID[tgtID]; ok {
		if d := c.descOf(e); d != nil && d.Size > 0 {
			return withPairEntity(*d, pair)
		}
	}
	return ComponentDesc{Entity: pair, Name: "pair", Size: 0, Align: 1, Kind: EntityKindGeneric}
}

func withPairEntity(d ComponentDesc, pair Entity) ComponentDesc {
	d.Entity = pair
	d.slot = 0
	return d
}

// buildValueDesc constructs the copy/move/destroy/compare function pointers
// for a concrete Go type T using generics, the idiomatic Go substitute for
// the source's template-instantiated component handling (spec.md §9).
func buildValueDesc[T any](entity Entity, name string, kind EntityKind) ComponentDesc {
	var zero T
	size := unsafe.Sizeof(zero)
	align := unsafe.Alignof(zero)
	if size == 0 {
		return ComponentDesc{Entity: entity, Name: name, Size: 0, Align: 1, Kind: kind}
	}
	return ComponentDesc{
		Entity: entity,
		Name:   name,
		Size:   size,
		Align:  align,
		Kind:   kind,
		Copy: func(dst, src unsafe.Pointer) {
			*(*T)(dst) = *(*T)(src)
		},
		Move: func(dst, src unsafe.Pointer) {
			*(*T)(dst) = *(*T)(src)
			var z T
			*(*T)(src) = z
		},
		Destroy: func(p unsafe.Pointer) {
			var z T
			*(*T)(p) = z
		},
		Compare: func(a, b unsafe.Pointer) bool {
			return reflect.DeepEqual(*(*T)(a), *(*T)(b))
		},
	}
}

// RegisterComponent registers T as a generic (one value per row) component
// and returns its Entity, the handle used as a component key everywhere
// else in the API. Registering the same type twice returns the same
// Entity.
func RegisterComponent[T any](w *World) Entity {
	return registerComponent[T](w, EntityKindGeneric)
}

// RegisterUniqueComponent registers T as a unique (one value per chunk)
// component.
func RegisterUniqueComponent[T any](w *World) Entity {
	return registerComponent[T](w, EntityKindUnique)
}

func registerComponent[T any](w *World, kind EntityKind) Entity {
	var zero T
	t := reflect.TypeOf(zero)
	if e, ok := w.components.byType[t]; ok {
		return e
	}
	e := w.entities.alloc(kind)
	desc := buildValueDesc[T](e, t.String(), kind)
	w.components.register(desc)
	w.components.byType[t] = e
	if err := w.placeInRoot(e); err != nil {
		panic(err)
	}
	return e
}

// ComponentIDFor returns the Entity registered for T, registering it with
// RegisterComponent if this is the first time T is seen.
func ComponentIDFor[T any](w *World) Entity {
	return RegisterComponent[T](w)
}
