package kiso

import (
	"fmt"
	"io"
	"unsafe"
)

// WorldConfig configures a new World. The zero value is valid and selects
// the defaults described below.
type WorldConfig struct {
	// InitialEntityCapacity preallocates the entity directory, avoiding
	// reallocation during early warm-up. Zero means "no preallocation."
	InitialEntityCapacity int

	// MaxAllocatorBytes bounds the world's chunk allocator to a fixed page
	// budget (spec.md §7's resource-exhaustion class): once reached,
	// TryCreate/TryAddID/TryDelID return ErrAllocatorExhausted instead of
	// growing further. Zero means unlimited.
	MaxAllocatorBytes uint64
}

// World owns every entity, component registration, archetype, and chunk in
// one ECS instance. Nothing is shared between worlds: component
// registration, unlike the teacher library's global registry, is
// world-scoped (spec.md §9's redesign note).
type World struct {
	entities   entityDirectory
	components componentCache

	archetypes      []*Archetype
	archetypesByHash map[uint64][]*Archetype
	byComponent     map[Entity][]*Archetype

	alloc *ChunkAllocator
	root  *Archetype

	version        uint32
	structuralLock int32
}

// NewWorld creates an empty world with one archetype already registered:
// the root archetype with no components, home to every entity freshly
// created by Create.
func NewWorld(cfg WorldConfig) *World {
	w := &World{
		components:       newComponentCache(),
		archetypesByHash: make(map[uint64][]*Archetype, 64),
		byComponent:      make(map[Entity][]*Archetype, 64),
		alloc:            NewChunkAllocatorWithBudget(cfg.MaxAllocatorBytes),
	}
	w.entities = newEntityDirectory()
	if cfg.InitialEntityCapacity > 0 {
		w.entities.records = make([]entityRecord, 0, cfg.InitialEntityCapacity)
	}
	w.root = buildArchetype(0, []Entity{}, []ComponentDesc{})
	w.registerArchetype(w.root)
	return w
}

func (w *World) bumpVersion() uint32 {
	w.version++
	return w.version
}

// WorldVersion returns the monotonically increasing version stamped on
// every structural or value change, used by queries to skip unchanged
// columns (spec.md §5's change-detection filters).
func (w *World) WorldVersion() uint32 { return w.version }

func (w *World) lockStructural()   { w.structuralLock++ }
func (w *World) unlockStructural() { w.structuralLock-- }

func (w *World) assertUnlocked() {
	if w.structuralLock != 0 {
		panic("kiso: structural change attempted while the world is locked for iteration")
	}
}

func (w *World) recordFor(e Entity) *entityRecord {
	if !w.entities.isValid(e) {
		panic(fmt.Sprintf("kiso: entity %s is not valid", e))
	}
	return &w.entities.records[e.ID()]
}

// IsValid reports whether e refers to a currently live entity.
func (w *World) IsValid(e Entity) bool { return w.entities.isValid(e) }

// Create allocates a new entity with no components, placed in the root
// archetype. Panics on allocator exhaustion; use TryCreate to handle that
// case explicitly.
func (w *World) Create() Entity {
	e, err := w.TryCreate()
	if err != nil {
		panic(err)
	}
	return e
}

// TryCreate is Create, but surfaces ErrAllocatorExhausted instead of
// panicking when a bounded allocator (NewChunkAllocatorWithBudget) has no
// room for a new chunk. The entity id is not consumed on failure.
func (w *World) TryCreate() (Entity, error) {
	e := w.entities.alloc(EntityKindGeneric)
	if err := w.placeInRoot(e); err != nil {
		w.entities.free(e.ID())
		return Entity(0), err
	}
	return e, nil
}

// placeInRoot seats a freshly allocated entity into the root archetype. It
// is also used by RegisterComponent/RegisterUniqueComponent, since a
// component's own Entity is a normal entity until something adds data to
// it.
func (w *World) placeInRoot(e Entity) error {
	chunk, err := w.root.findOrCreateFreeChunk(w.alloc)
	if err != nil {
		return err
	}
	row := chunk.addRow(e, w.bumpVersion())
	rec := &w.entities.records[e.ID()]
	rec.chunk = chunk
	rec.row = uint16(row)
	rec.archetypeIdx = w.root.id
	w.root.size++
	return nil
}

// Delete removes e and every component value it carried, recycling its id.
// Deleting an already-invalid entity is a no-op.
func (w *World) Delete(e Entity) {
	if !w.entities.isValid(e) {
		return
	}
	w.assertUnlocked()
	rec := &w.entities.records[e.ID()]
	a := rec.chunk.archetype
	movedInto, moved := rec.chunk.removeRow(int(rec.row), w.bumpVersion())
	if moved {
		w.entities.records[movedInto.ID()].row = rec.row
	}
	a.size--
	w.entities.free(e.ID())
}

// Enable toggles e's participation in queries that don't explicitly
// include disabled entities (spec.md §4.2's enabled/disabled partition).
func (w *World) Enable(e Entity, enable bool) {
	rec := w.recordFor(e)
	w.assertUnlocked()
	a, b := rec.chunk.enableRow(int(rec.row), enable)
	if a >= 0 {
		w.entities.records[rec.chunk.entityAt(a).ID()].row = uint16(a)
		w.entities.records[rec.chunk.entityAt(b).ID()].row = uint16(b)
		rec.chunk.touchAll(w.bumpVersion())
	}
	rec.disabled = !enable
}

// IsEnabled reports whether e participates in default (non-disabled-aware)
// query iteration.
func (w *World) IsEnabled(e Entity) bool {
	return !w.recordFor(e).disabled
}

// HasID reports whether e carries the component identified by id, which
// may be a plain component Entity or a pair built by MakePair.
func (w *World) HasID(e Entity, id Entity) bool {
	return w.recordFor(e).chunk.archetype.hasID(id)
}

// AddID attaches id to e with a zero-initialized value, moving e to the
// archetype that results from adding id to its current component set.
// Idempotent if e already carries id. Panics on allocator exhaustion; use
// TryAddID to handle that case explicitly.
func (w *World) AddID(e Entity, id Entity) {
	if err := w.TryAddID(e, id); err != nil {
		panic(err)
	}
}

// TryAddID is AddID, but surfaces ErrAllocatorExhausted instead of
// panicking. On failure e is left exactly as it was (spec.md §7: no
// partial state on a failed transition).
func (w *World) TryAddID(e Entity, id Entity) error {
	rec := w.recordFor(e)
	cur := rec.chunk.archetype
	if cur.hasID(id) {
		return nil
	}
	w.assertUnlocked()
	next := w.findArchetypeAfterAdd(cur, id)
	return w.moveEntity(e, rec, cur, next)
}

// DelID detaches id from e, moving e to the archetype that results from
// removing id from its current component set. A no-op if e doesn't carry
// id. Panics on allocator exhaustion; use TryDelID to handle that case
// explicitly.
func (w *World) DelID(e Entity, id Entity) {
	if err := w.TryDelID(e, id); err != nil {
		panic(err)
	}
}

// TryDelID is DelID, but surfaces ErrAllocatorExhausted instead of
// panicking.
func (w *World) TryDelID(e Entity, id Entity) error {
	rec := w.recordFor(e)
	cur := rec.chunk.archetype
	if !cur.hasID(id) {
		return nil
	}
	w.assertUnlocked()
	next := w.findArchetypeAfterDel(cur, id)
	return w.moveEntity(e, rec, cur, next)
}

// cellFor returns the address of id's value on e, along with its resolved
// descriptor, or ok=false if e doesn't carry id.
func (w *World) cellFor(e Entity, id Entity) (ptr unsafe.Pointer, desc *ComponentDesc, ok bool) {
	rec := w.recordFor(e)
	a := rec.chunk.archetype
	idx, has := a.columnIndexOf(id)
	if !has {
		return nil, nil, false
	}
	return rec.chunk.cell(idx, int(rec.row)), &a.columnDescs[idx], true
}

// touch bumps the version of id's column on e, as Set does (SSet skips
// this).
func (w *World) touch(e Entity, id Entity) {
	rec := w.recordFor(e)
	a := rec.chunk.archetype
	if idx, ok := a.columnIndexOf(id); ok {
		rec.chunk.touchColumn(idx, w.bumpVersion())
	}
}

// resolveDescForID resolves id to the descriptor an archetype column for it
// should use: the registered component descriptor for a plain id, the
// result of resolvePairDesc for a pair, or a zero-size tag descriptor for
// an id that names neither (a bare entity used purely as a marker).
func (w *World) resolveDescForID(id Entity) ComponentDesc {
	if id.IsPair() {
		return w.components.resolvePairDesc(id)
	}
	if d := w.components.descOf(id); d != nil {
		return *d
	}
	return ComponentDesc{Entity: id, Name: "tag", Size: 0, Align: 1, Kind: EntityKindGeneric}
}

func idsEqual(a, b []Entity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (w *World) lookupArchetypeByIDs(ids []Entity) (*Archetype, bool) {
	h := hashComponentIDs(ids)
	for _, a := range w.archetypesByHash[h] {
		if idsEqual(a.ids, ids) {
			return a, true
		}
	}
	return nil, false
}

func (w *World) registerArchetype(a *Archetype) {
	w.archetypes = append(w.archetypes, a)
	w.archetypesByHash[a.lookupHash] = append(w.archetypesByHash[a.lookupHash], a)
	for _, id := range a.ids {
		w.byComponent[id] = append(w.byComponent[id], a)
	}
}

func (w *World) newArchetypeID() ArchetypeId { return ArchetypeId(len(w.archetypes)) }

// getOrBuildArchetype returns the archetype for exactly this sorted id set,
// building and registering it if this is the first time it's been needed.
func (w *World) getOrBuildArchetype(ids []Entity) *Archetype {
	if a, ok := w.lookupArchetypeByIDs(ids); ok {
		return a
	}
	descs := make([]ComponentDesc, len(ids))
	for i, id := range ids {
		descs[i] = w.resolveDescForID(id)
	}
	a := buildArchetype(w.newArchetypeID(), ids, descs)
	w.registerArchetype(a)
	return a
}

// findArchetypeAfterAdd resolves the archetype that results from adding id
// to cur's component set, consulting (and populating) cur's cached graph
// edge first (spec.md §4.4).
func (w *World) findArchetypeAfterAdd(cur *Archetype, id Entity) *Archetype {
	if edge, ok := cur.graph.findRight(id); ok {
		return w.archetypes[edge.target]
	}
	newIDs := make([]Entity, len(cur.ids)+1)
	copy(newIDs, cur.ids)
	newIDs[len(cur.ids)] = id
	sortComponentIDs(newIDs)
	next := w.getOrBuildArchetype(newIDs)
	cur.graph.addEdgeRight(id, next.id, next.lookupHash)
	next.graph.addEdgeLeft(id, cur.id, cur.lookupHash)
	return next
}

// findArchetypeAfterDel is findArchetypeAfterAdd's mirror image.
func (w *World) findArchetypeAfterDel(cur *Archetype, id Entity) *Archetype {
	if edge, ok := cur.graph.findLeft(id); ok {
		return w.archetypes[edge.target]
	}
	newIDs := make([]Entity, 0, len(cur.ids)-1)
	for _, x := range cur.ids {
		if x != id {
			newIDs = append(newIDs, x)
		}
	}
	next := w.getOrBuildArchetype(newIDs)
	cur.graph.addEdgeLeft(id, next.id, next.lookupHash)
	next.graph.addEdgeRight(id, cur.id, cur.lookupHash)
	return next
}

// moveEntity relocates e's row from "from" to "to", copying every
// overlapping column's value and zero-initializing any column "to" adds
// that "from" didn't have. Leaves e in "from", untouched, if a new chunk is
// needed in "to" and the allocator is exhausted.
func (w *World) moveEntity(e Entity, rec *entityRecord, from, to *Archetype) error {
	if from == to {
		return nil
	}
	fromChunk, fromRow := rec.chunk, int(rec.row)
	toChunk, err := to.findOrCreateFreeChunk(w.alloc)
	if err != nil {
		return err
	}
	toRow := toChunk.addRow(e, w.bumpVersion())

	for i, id := range to.ids {
		desc := &to.columnDescs[i]
		if desc.Size == 0 {
			continue
		}
		if desc.Kind == EntityKindUnique && toRow != 0 {
			// toChunk already holds rows, so its unique cell is already
			// initialized and shared by every resident entity; a later
			// arrival must not re-init or clear it (spec.md §4.4).
			continue
		}
		dst := toChunk.cell(i, toRow)
		if fromIdx, ok := from.columnIndexOf(id); ok {
			src := fromChunk.cell(fromIdx, fromRow)
			if desc.Copy != nil {
				desc.Copy(dst, src)
			}
		} else if desc.Destroy != nil {
			desc.Destroy(dst)
		}
	}

	movedInto, moved := fromChunk.removeRow(fromRow, w.bumpVersion())
	if moved {
		w.entities.records[movedInto.ID()].row = uint16(fromRow)
	}
	from.size--
	to.size++
	rec.chunk = toChunk
	rec.row = uint16(toRow)
	rec.archetypeIdx = to.id
	return nil
}

// GC reclaims each chunk that has been empty for chunkLifespanTicks
// consecutive calls, per spec.md §4.2/§9's lifespan countdown. Archetypes
// themselves are never reclaimed. It should be called periodically by the host application (a
// query iteration doesn't call it implicitly).
func (w *World) GC() (chunksFreed int) {
	for _, a := range w.archetypes {
		for i := len(a.chunks) - 1; i >= 0; i-- {
			c := a.chunks[i]
			if !c.isEmpty() {
				continue
			}
			if c.tickLifespan() {
				a.removeChunk(i, w.alloc)
				chunksFreed++
			}
		}
	}
	return chunksFreed
}

// uniqueColumnsCompatible reports whether src's entities can be merged into
// dst without clobbering dst's chunk-scoped unique values. A dst with no
// rows yet has no established unique value, so it's always compatible;
// spec.md §4.3 only forbids merging chunks whose unique-value tuples
// actually differ.
func uniqueColumnsCompatible(a *Archetype, src, dst *Chunk) bool {
	if dst.count == 0 {
		return true
	}
	for i, desc := range a.columnDescs {
		if desc.Kind != EntityKindUnique || desc.Size == 0 {
			continue
		}
		if desc.Compare != nil && !desc.Compare(src.cell(i, 0), dst.cell(i, 0)) {
			return false
		}
	}
	return true
}

// Defrag moves up to moveBudget entities out of under-occupied chunks and
// into chunks with spare rows, so archetypes with churn don't accumulate
// many sparsely-populated chunks. Returns the number of entities moved.
func (w *World) Defrag(moveBudget int) int {
	moved := 0
	for _, a := range w.archetypes {
		if len(a.chunks) < 2 {
			continue
		}
		for moved < moveBudget {
			src := a.chunks[len(a.chunks)-1]
			if src.isEmpty() {
				break
			}
			var dst *Chunk
			for _, c := range a.chunks {
				if c != src && !c.isFull() && uniqueColumnsCompatible(a, src, c) {
					dst = c
					break
				}
			}
			if dst == nil {
				break
			}
			row := src.count - 1
			ent := src.entityAt(row)
			rec := &w.entities.records[ent.ID()]
			toRow := dst.addRow(ent, w.bumpVersion())
			for i, desc := range a.columnDescs {
				if desc.Size == 0 {
					continue
				}
				if desc.Kind == EntityKindUnique && toRow != 0 {
					// dst already carries a value for this column, and
					// uniqueColumnsCompatible confirmed it matches src's;
					// nothing to move.
					continue
				}
				if desc.Copy != nil {
					desc.Copy(dst.cell(i, toRow), src.cell(i, row))
				}
			}
			movedInto, wasMoved := src.removeRow(row, w.bumpVersion())
			if wasMoved {
				w.entities.records[movedInto.ID()].row = uint16(row)
			}
			rec.chunk = dst
			rec.row = uint16(toRow)
			moved++
		}
	}
	return moved
}

// Diag writes a human-readable summary of world memory usage: entity
// count, per-archetype chunk occupancy, and allocator page stats. Grounded
// on the source's diag()/GAIA_LOG_N pattern, rendered through an io.Writer
// instead of a global logger.
func (w *World) Diag(out io.Writer) {
	live := len(w.entities.records) - w.entities.freeCount
	fmt.Fprintf(out, "kiso: %d entities live, %d archetypes, world version %d\n", live, len(w.archetypes), w.version)
	for _, a := range w.archetypes {
		chunkCount := len(a.chunks)
		if chunkCount == 0 && a.size == 0 {
			continue
		}
		plain := a.mask.popcount()
		fmt.Fprintf(out, "  archetype %d: %d components (%d plain, %d pairs), %d entities across %d chunks (capacity %d/chunk)\n",
			a.id, len(a.ids), plain, len(a.ids)-plain, a.size, chunkCount, a.capacity)
	}
	stats := w.alloc.Stats()
	fmt.Fprintf(out, "  allocator: %d/%d bytes used across %d pages (%d free)\n",
		stats.UsedBytes, stats.AllocatedBytes, stats.PageCount, stats.FreePageCount)
}
