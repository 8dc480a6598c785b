package kiso

import "testing"

func TestResolvePairDescPrefersRelationThenTarget(t *testing.T) {
	c := newComponentCache()

	relOnly := newEntity(1, 0, EntityKindGeneric)
	tgtOnly := newEntity(2, 0, EntityKindGeneric)
	neither := newEntity(3, 0, EntityKindGeneric)

	c.register(buildValueDesc[int32](relOnly, "int32", EntityKindGeneric))
	c.register(buildValueDesc[int64](tgtOnly, "int64", EntityKindGeneric))

	// Relation carries data: storage follows the relation.
	pair := MakePair(relOnly, tgtOnly)
	desc := c.resolvePairDesc(pair)
	if desc.Size != 4 {
		t.Fatalf("expected the relation's int32 descriptor (size 4), got size %d", desc.Size)
	}

	// Relation is a bare entity, target carries data: storage follows the
	// target.
	pair2 := MakePair(neither, tgtOnly)
	desc2 := c.resolvePairDesc(pair2)
	if desc2.Size != 8 {
		t.Fatalf("expected the target's int64 descriptor (size 8), got size %d", desc2.Size)
	}

	// Neither half is registered: falls back to a zero-size tag.
	pair3 := MakePair(neither, newEntity(4, 0, EntityKindGeneric))
	desc3 := c.resolvePairDesc(pair3)
	if desc3.Size != 0 {
		t.Fatalf("expected a zero-size tag descriptor when neither half is registered, got size %d", desc3.Size)
	}
}

func TestRegisterRejectsBeyondMaxComponentTypes(t *testing.T) {
	c := newComponentCache()
	defer func() {
		if recover() == nil {
			t.Fatal("registering beyond MaxComponentTypes must panic")
		}
	}()
	for i := 0; i <= MaxComponentTypes; i++ {
		e := newEntity(uint32(i), 0, EntityKindGeneric)
		c.register(ComponentDesc{Entity: e, Name: "x", Size: 4, Align: 4})
	}
}
