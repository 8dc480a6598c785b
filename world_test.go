package kiso_test

import (
	"testing"

	"github.com/edwinsyarief/kiso"
)

type Position struct{ X, Y float64 }
type Velocity struct{ X, Y float64 }
type Marker struct{}

func TestCreateAndDelete(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	e := w.Create()
	if !w.IsValid(e) {
		t.Fatal("a freshly created entity must be valid")
	}
	w.Delete(e)
	if w.IsValid(e) {
		t.Fatal("a deleted entity must no longer be valid")
	}
	// Deleting again must be a harmless no-op, not a panic.
	w.Delete(e)
}

func TestAddDelRoundTripIsIdempotent(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	e := w.Create()
	pos := kiso.RegisterComponent[Position](w)

	w.AddID(e, pos)
	if !w.HasID(e, pos) {
		t.Fatal("entity must carry the component after AddID")
	}
	w.AddID(e, pos) // idempotent re-add must not panic or duplicate
	if !w.HasID(e, pos) {
		t.Fatal("entity must still carry the component after a redundant AddID")
	}

	w.DelID(e, pos)
	if w.HasID(e, pos) {
		t.Fatal("entity must not carry the component after DelID")
	}
	w.DelID(e, pos) // idempotent re-del must not panic
	if w.HasID(e, pos) {
		t.Fatal("entity must still lack the component after a redundant DelID")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	e := w.Create()
	kiso.Add(w, e, Position{X: 1, Y: 2})

	got := kiso.Get[Position](w, e)
	if got.X != 1 || got.Y != 2 {
		t.Fatalf("expected {1,2}, got %+v", got)
	}

	kiso.Set(w, e, Position{X: 9, Y: 9})
	got = kiso.Get[Position](w, e)
	if got.X != 9 || got.Y != 9 {
		t.Fatalf("Set must overwrite the stored value, got %+v", got)
	}
}

func TestAddPreservesOtherComponentsAcrossArchetypeMove(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	e := w.Create()
	kiso.Add(w, e, Position{X: 5, Y: 6})
	kiso.Add(w, e, Velocity{X: 1, Y: 1})

	p := kiso.Get[Position](w, e)
	if p.X != 5 || p.Y != 6 {
		t.Fatalf("adding a second component must not disturb the first, got %+v", p)
	}
}

func TestEnableDisableTogglesQueryMembership(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	pos := kiso.RegisterComponent[Position](w)
	e := w.Create()
	kiso.Add(w, e, Position{})

	q := kiso.NewQuery(w).With(pos).Build()
	if q.Count() != 1 {
		t.Fatalf("expected 1 enabled entity, got %d", q.Count())
	}

	w.Enable(e, false)
	if w.IsEnabled(e) {
		t.Fatal("IsEnabled must report false right after Enable(e, false)")
	}
	q.MatchNow()
	if n := q.Count(); n != 0 {
		t.Fatalf("a disabled entity must not count in a default query, got %d", n)
	}

	w.Enable(e, true)
	if n := q.Count(); n != 1 {
		t.Fatalf("re-enabling must restore query membership, got %d", n)
	}
}

func TestGCReclaimsEmptyChunksAfterLifespan(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	pos := kiso.RegisterComponent[Position](w)
	e := w.Create()
	w.AddID(e, pos)
	w.Delete(e)

	// GC must not reclaim immediately: the chunk has a lifespan countdown.
	freedImmediately := w.GC()
	if freedImmediately != 0 {
		t.Fatalf("an emptied chunk must survive at least one GC pass, got %d freed", freedImmediately)
	}

	total := 0
	for i := 0; i < 10; i++ {
		total += w.GC()
	}
	if total == 0 {
		t.Fatal("repeated GC passes must eventually reclaim the emptied chunk")
	}
}

// Big is sized so its archetype's per-chunk capacity is tiny, making a
// one-page allocator budget exhaust within a handful of entities instead of
// the tens of thousands a tag-only archetype's capacity would take.
type Big struct{ Data [8000]byte }

func TestTryAddIDSurfacesAllocatorExhaustion(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{MaxAllocatorBytes: 1})
	big := kiso.RegisterComponent[Big](w)

	var lastErr error
	for i := 0; i < 10000; i++ {
		e := w.Create()
		if err := w.TryAddID(e, big); err != nil {
			lastErr = err
			break
		}
	}
	if lastErr != kiso.ErrAllocatorExhausted {
		t.Fatalf("expected ErrAllocatorExhausted once the Big archetype's one-page budget is spent, got %v", lastErr)
	}
}

func TestTryAddIDLeavesEntityUnchangedOnFailure(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{MaxAllocatorBytes: 1})
	big := kiso.RegisterComponent[Big](w)

	var last kiso.Entity
	for i := 0; i < 10000; i++ {
		e := w.Create()
		if err := w.TryAddID(e, big); err != nil {
			last = e
			break
		}
	}
	if w.HasID(last, big) {
		t.Fatal("an entity must not gain the component when TryAddID fails")
	}
	if !w.IsValid(last) {
		t.Fatal("an entity must remain valid after a failed TryAddID")
	}
}
