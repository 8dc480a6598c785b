package kiso_test

import (
	"testing"

	"github.com/edwinsyarief/kiso"
)

func entitySet(q *kiso.Query) map[kiso.Entity]bool {
	out := map[kiso.Entity]bool{}
	q.Reset()
	for q.Next() {
		out[q.Entity()] = true
	}
	return out
}

func TestQueryWithAndWithout(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	pos := kiso.RegisterComponent[Position](w)
	vel := kiso.RegisterComponent[Velocity](w)

	both := w.Create()
	kiso.Add(w, both, Position{})
	kiso.Add(w, both, Velocity{})

	posOnly := w.Create()
	kiso.Add(w, posOnly, Position{})

	q := kiso.NewQuery(w).With(pos).Without(vel).Build()
	if n := q.Count(); n != 1 {
		t.Fatalf("expected exactly the pos-only entity to match, got count %d", n)
	}
	seen := entitySet(q)
	if !seen[posOnly] || seen[both] {
		t.Fatalf("unexpected match set: %v", seen)
	}
}

func TestQueryAnyOf(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	pos := kiso.RegisterComponent[Position](w)
	vel := kiso.RegisterComponent[Velocity](w)
	mk := kiso.RegisterComponent[Marker](w)

	ePos := w.Create()
	kiso.Add(w, ePos, Position{})
	eVel := w.Create()
	kiso.Add(w, eVel, Velocity{})
	eMarker := w.Create()
	kiso.AddTag[Marker](w, eMarker)
	_ = mk

	q := kiso.NewQuery(w).AnyOf(pos, vel).Build()
	if n := q.Count(); n != 2 {
		t.Fatalf("expected 2 entities matching the AnyOf group, got %d", n)
	}
}

func TestQueryChangedFilter(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	pos := kiso.RegisterComponent[Position](w)
	e := w.Create()
	kiso.Add(w, e, Position{})

	q := kiso.NewQuery(w).With(pos).Changed(pos).Build()
	q.AdvanceBaseline()

	rows := 0
	q.Each(func(kiso.Entity) { rows++ })
	if rows != 0 {
		t.Fatalf("a column untouched since AdvanceBaseline must not pass the change filter, got %d rows", rows)
	}

	kiso.Set(w, e, Position{X: 1})
	rows = 0
	q.Each(func(kiso.Entity) { rows++ })
	if rows != 1 {
		t.Fatalf("a column touched by Set after AdvanceBaseline must pass the change filter, got %d rows", rows)
	}

	q.AdvanceBaseline()
	rows = 0
	q.Each(func(kiso.Entity) { rows++ })
	if rows != 0 {
		t.Fatalf("after AdvanceBaseline the same unchanged column must stop matching, got %d rows", rows)
	}
}

func TestQuerySSetSkipsChangeFilter(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	pos := kiso.RegisterComponent[Position](w)
	e := w.Create()
	kiso.Add(w, e, Position{})

	q := kiso.NewQuery(w).With(pos).Changed(pos).Build()
	q.AdvanceBaseline()

	kiso.SSet(w, e, Position{X: 42})
	rows := 0
	q.Each(func(kiso.Entity) { rows++ })
	if rows != 0 {
		t.Fatalf("SSet must not be observed by a Changed filter, got %d rows", rows)
	}
	if got := kiso.Get[Position](w, e); got.X != 42 {
		t.Fatalf("SSet must still write the value, got %+v", got)
	}
}

func TestQueryRepeatedIterationIsDeterministic(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	pos := kiso.RegisterComponent[Position](w)
	for i := 0; i < 5; i++ {
		e := w.Create()
		kiso.Add(w, e, Position{})
	}
	q := kiso.NewQuery(w).With(pos).Build()

	first := entitySet(q)
	q.Reset()
	second := map[kiso.Entity]bool{}
	for q.Next() {
		second[q.Entity()] = true
	}
	if len(first) != len(second) {
		t.Fatalf("two passes with no intervening structural change must visit the same entities: %d vs %d", len(first), len(second))
	}
	for e := range first {
		if !second[e] {
			t.Fatalf("entity %v present in the first pass missing from the second", e)
		}
	}
}

func TestQueryPairWildcardMatch(t *testing.T) {
	w := kiso.NewWorld(kiso.WorldConfig{})
	likes := w.Create()
	apple := w.Create()
	banana := w.Create()

	e1 := w.Create()
	kiso.AddPair(w, e1, likes, apple)
	e2 := w.Create()
	kiso.AddPair(w, e2, likes, banana)

	wildcardTarget := kiso.MakePair(likes, kiso.EntityBad)
	q := kiso.NewQuery(w).With(wildcardTarget).Build()
	if n := q.Count(); n != 2 {
		t.Fatalf("a (relation, *) wildcard must match every target, got %d", n)
	}

	specific := kiso.NewQuery(w).With(kiso.MakePair(likes, apple)).Build()
	if n := specific.Count(); n != 1 {
		t.Fatalf("an exact pair term must match only its own entity, got %d", n)
	}
}
