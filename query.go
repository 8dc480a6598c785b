package kiso

import "unsafe"

// TermOp classifies how a query term constrains archetype matching
// (spec.md §5): All requires the id, Any requires at least one term in its
// group, Not excludes it.
type TermOp uint8

const (
	TermAll TermOp = iota
	TermAny
	TermNot
)

// Term is one clause of a compiled query: a component or pair id plus how
// it constrains matching. A pair id built with EntityBad as either half is
// a wildcard, matched against any archetype carrying a pair with the same
// concrete half.
type Term struct {
	ID Entity
	Op TermOp
}

// matchesWildcardID reports whether a carries some pair matching the
// wildcard halves of id, returning the concrete pair id actually present so
// callers can resolve a column index for it. Non-wildcard/non-pair ids
// never match here since exact membership is already handled by
// Archetype.hasID.
func matchesWildcardID(a *Archetype, id Entity) (Entity, bool) {
	if !id.IsPair() {
		return EntityBad, false
	}
	rel, tgt := id.RelationTarget()
	// The wildcard halves as MakePair stores them (the target half is
	// truncated to the generation field's width).
	anyRel, anyTgt := MakePair(EntityBad, EntityBad).RelationTarget()
	if rel != anyRel && tgt != anyTgt {
		return EntityBad, false
	}
	for _, x := range a.ids {
		if !x.IsPair() {
			continue
		}
		xr, xt := x.RelationTarget()
		if (rel == anyRel || rel == xr) && (tgt == anyTgt || tgt == xt) {
			return x, true
		}
	}
	return EntityBad, false
}

// QueryBuilder assembles a Term list fluently before compiling it into a
// Query. Grounded on the teacher library's generic Query[T]/CreateQuery
// pattern, generalized from a fixed type parameter to an arbitrary term
// list per spec.md §5.
type QueryBuilder struct {
	world           *World
	terms           []Term
	changed         []Entity
	includeDisabled bool
}

// NewQuery starts building a query against w.
func NewQuery(w *World) *QueryBuilder {
	return &QueryBuilder{world: w}
}

// With requires every id to be present (logical AND).
func (b *QueryBuilder) With(ids ...Entity) *QueryBuilder {
	for _, id := range ids {
		b.terms = append(b.terms, Term{ID: id, Op: TermAll})
	}
	return b
}

// AnyOf requires at least one of ids to be present. All AnyOf terms of a
// builder, across every call, form one single OR-group: an archetype
// carrying any one of them satisfies it, and separate calls do not create
// separate groups.
func (b *QueryBuilder) AnyOf(ids ...Entity) *QueryBuilder {
	for _, id := range ids {
		b.terms = append(b.terms, Term{ID: id, Op: TermAny})
	}
	return b
}

// Without excludes archetypes carrying any of ids.
func (b *QueryBuilder) Without(ids ...Entity) *QueryBuilder {
	for _, id := range ids {
		b.terms = append(b.terms, Term{ID: id, Op: TermNot})
	}
	return b
}

// Changed adds a change filter: a chunk is only visited if at least one of
// ids' columns has a version newer than the query's baseline (see
// Query.AdvanceBaseline).
func (b *QueryBuilder) Changed(ids ...Entity) *QueryBuilder {
	b.changed = append(b.changed, ids...)
	return b
}

// IncludeDisabled makes the query also visit disabled rows, which are
// skipped by default.
func (b *QueryBuilder) IncludeDisabled() *QueryBuilder {
	b.includeDisabled = true
	return b
}

// Build compiles the term list into a Query and performs its first match
// pass.
func (b *QueryBuilder) Build() *Query {
	q := &Query{
		world:           b.world,
		changed:         b.changed,
		includeDisabled: b.includeDisabled,
		matchCache:      make(map[ArchetypeId]queryArchMatch, 8),
		mIdx:            -1,
	}
	for _, t := range b.terms {
		if t.Op == TermNot {
			q.notTerms = append(q.notTerms, t.ID)
			if slot, ok := maskSlotFor(b.world, t.ID); ok {
				q.notMask.set(slot)
			}
			continue
		}
		if t.Op == TermAny {
			q.anyGroup = append(q.anyGroup, len(q.readTerms))
		} else if slot, ok := maskSlotFor(b.world, t.ID); ok {
			q.allMask.set(slot)
		}
		q.readTerms = append(q.readTerms, t)
	}
	q.MatchNow()
	return q
}

// maskSlotFor resolves id's dense ComponentID slot for the mask pre-filter.
// Pairs have no slot of their own and unregistered ids can't appear in a
// mask that's only ever populated from registered descriptors, so both fall
// back to matchArchetype's exact per-id checks.
func maskSlotFor(w *World, id Entity) (ComponentID, bool) {
	if id.IsPair() {
		return 0, false
	}
	desc := w.components.descOf(id)
	if desc == nil {
		return 0, false
	}
	return desc.slot, true
}

// queryArchMatch is the per-archetype result of compiling a query's terms
// against one archetype's layout: resolved column indices, cached so
// matching a wildcard pair only happens once per archetype rather than once
// per row (spec.md §5's "cached per-archetype column-index remapping").
type queryArchMatch struct {
	cols    []int // per q.readTerms entry; -1 if an Any term didn't match here
	changed []int // per q.changed entry; -1 if this archetype lacks it
}

// Query is a compiled, incrementally-matched iterator over entities whose
// archetype satisfies every All/Any/Not term.
type Query struct {
	world           *World
	readTerms       []Term
	anyGroup        []int
	notTerms        []Entity
	changed         []Entity
	includeDisabled bool
	baseline        uint32

	allMask bitmask256 // union of non-pair TermAll ids, a cheap pre-filter
	notMask bitmask256 // union of non-pair Not ids

	matched     []*Archetype
	lastScanned int
	matchCache  map[ArchetypeId]queryArchMatch

	mIdx     int
	cIdx     int
	curArch  *Archetype
	curChunk *Chunk
	curCols  []int
	row      int
	rowEnd   int
	locked   bool
}

// MatchNow extends the matched archetype list with any archetype created
// since the last call, without rescanning archetypes already matched
// (spec.md §5's incremental matching).
func (q *Query) MatchNow() {
	for ; q.lastScanned < len(q.world.archetypes); q.lastScanned++ {
		a := q.world.archetypes[q.lastScanned]
		if !q.matchArchetype(a) {
			continue
		}
		q.matched = append(q.matched, a)
		q.matchCache[a.id] = q.resolveMatch(a)
	}
}

func (q *Query) matchArchetype(a *Archetype) bool {
	// Cheap pre-filter over plain, registered-component ids before falling
	// through to the exact per-id checks below, which are the only ones
	// that understand pairs and wildcards.
	if !a.mask.contains(q.allMask) || a.mask.intersects(q.notMask) {
		return false
	}
	anyOK := len(q.anyGroup) == 0
	for _, t := range q.readTerms {
		has := a.hasID(t.ID)
		if !has {
			if _, ok := matchesWildcardID(a, t.ID); ok {
				has = true
			}
		}
		switch t.Op {
		case TermAll:
			if !has {
				return false
			}
		case TermAny:
			if has {
				anyOK = true
			}
		}
	}
	if !anyOK {
		return false
	}
	for _, id := range q.notTerms {
		if a.hasID(id) {
			return false
		}
		if _, ok := matchesWildcardID(a, id); ok {
			return false
		}
	}
	return true
}

func (q *Query) resolveMatch(a *Archetype) queryArchMatch {
	cols := make([]int, len(q.readTerms))
	for i, t := range q.readTerms {
		if idx, ok := a.columnIndexOf(t.ID); ok {
			cols[i] = idx
			continue
		}
		if x, ok := matchesWildcardID(a, t.ID); ok {
			idx, _ := a.columnIndexOf(x)
			cols[i] = idx
			continue
		}
		cols[i] = -1
	}
	changed := make([]int, len(q.changed))
	for i, id := range q.changed {
		if idx, ok := a.columnIndexOf(id); ok {
			changed[i] = idx
		} else {
			changed[i] = -1
		}
	}
	return queryArchMatch{cols: cols, changed: changed}
}

func (q *Query) chunkPassesChangeFilter(c *Chunk, m queryArchMatch) bool {
	if len(q.changed) == 0 {
		return true
	}
	for _, idx := range m.changed {
		if idx < 0 {
			continue
		}
		if c.columnVersions[idx] > q.baseline {
			return true
		}
	}
	return false
}

// AdvanceBaseline records the world's current version as this query's new
// change-detection baseline. Call it once a frame after processing every
// change this query cares about, so the next pass only reports changes
// that happened after this point.
func (q *Query) AdvanceBaseline() {
	q.baseline = q.world.version
}

// advanceChunk positions the query on the next non-empty chunk that passes
// the change filter, locking it for iteration. Returns false once no
// archetype has one left.
func (q *Query) advanceChunk() bool {
	for {
		if q.curArch == nil {
			q.mIdx++
			if q.mIdx >= len(q.matched) {
				return false
			}
			q.curArch = q.matched[q.mIdx]
			q.cIdx = 0
		}
		if q.cIdx >= len(q.curArch.chunks) {
			q.curArch = nil
			continue
		}
		c := q.curArch.chunks[q.cIdx]
		q.cIdx++
		if c.isEmpty() {
			continue
		}
		m := q.matchCache[q.curArch.id]
		if !q.chunkPassesChangeFilter(c, m) {
			continue
		}
		start := 0
		if !q.includeDisabled {
			start = c.firstEnabledRow
		}
		if start >= c.count {
			continue
		}
		q.curChunk = c
		q.curCols = m.cols
		q.row = start - 1
		q.rowEnd = c.count
		c.lockForIteration()
		return true
	}
}

// Next advances to the next matching row, returning false when iteration is
// exhausted (and releasing the structural lock it held while iterating).
func (q *Query) Next() bool {
	if !q.locked {
		q.world.lockStructural()
		q.locked = true
	}
	for {
		if q.curChunk != nil {
			q.row++
			if q.row < q.rowEnd {
				return true
			}
			q.curChunk.unlockAfterIteration()
			q.curChunk = nil
		}
		if !q.advanceChunk() {
			q.release()
			return false
		}
	}
}

func (q *Query) release() {
	if q.locked {
		q.world.unlockStructural()
		q.locked = false
	}
}

// Stop ends iteration early, releasing the structural lock. Safe to call
// whether or not iteration already finished on its own.
func (q *Query) Stop() {
	if q.curChunk != nil {
		q.curChunk.unlockAfterIteration()
		q.curChunk = nil
	}
	q.release()
}

// Reset rewinds iteration to the start of the currently matched archetype
// list, without re-running MatchNow.
func (q *Query) Reset() {
	q.Stop()
	q.mIdx = -1
	q.cIdx = 0
	q.curArch = nil
}

// Entity returns the entity at the query's current row.
func (q *Query) Entity() Entity {
	return q.curChunk.entityAt(q.row)
}

// Each matches, then visits every entity in a fresh pass, calling fn once
// per row.
func (q *Query) Each(fn func(Entity)) {
	q.MatchNow()
	q.Reset()
	for q.Next() {
		fn(q.Entity())
	}
}

// Count matches, then returns how many entities currently satisfy the
// query (an O(archetypes) operation, not O(entities) per row).
func (q *Query) Count() int {
	q.MatchNow()
	n := 0
	for _, a := range q.matched {
		if q.includeDisabled {
			n += a.size
		} else {
			for _, c := range a.chunks {
				n += c.countEnabled
			}
		}
	}
	return n
}

// Empty matches, then reports whether no entity currently satisfies the
// query.
func (q *Query) Empty() bool {
	return q.Count() == 0
}

// Column returns the current chunk's backing slice for the term at index
// term (in With/AnyOf declaration order), or nil if that term was an
// unmatched Any clause. For a unique (per-chunk) component the slice has
// length 1 regardless of row count.
func Column[T any](q *Query, term int) []T {
	idx := q.curCols[term]
	if idx < 0 {
		return nil
	}
	desc := &q.curArch.columnDescs[idx]
	base := q.curChunk.columnBase(idx)
	if desc.Kind == EntityKindUnique {
		return unsafe.Slice((*T)(base), 1)
	}
	return unsafe.Slice((*T)(base), q.curChunk.count)
}

// ColumnAt returns a pointer to the current row's value for the term at
// index term, or nil if that term was an unmatched Any clause.
func ColumnAt[T any](q *Query, term int) *T {
	idx := q.curCols[term]
	if idx < 0 {
		return nil
	}
	return (*T)(q.curChunk.cell(idx, q.row))
}
