package kiso

import "sort"

// ArchetypeId is the dense index of an archetype within a world's archetype
// directory, assigned in creation order.
type ArchetypeId uint32

// ArchetypeIdBad marks "no archetype", used for the root archetype's
// del-edges and as a zero-value sentinel.
const ArchetypeIdBad ArchetypeId = ^ArchetypeId(0)

// chunkLifespanTicks governs how many GC passes an emptied chunk survives
// before being reclaimed, giving entities that are being removed and
// re-added in the same frame a chance to land in memory that's still there
// (spec.md §9 Open Questions; values chosen per SPEC_FULL.md §6.3).
// archetypeLifespanTicks is declared alongside it, but World.GC does not
// count down or reclaim archetypes: an archetype stays registered once
// created.
const (
	chunkLifespanTicks     int32 = 4
	archetypeLifespanTicks int32 = 16
)

const archetypeNotDying int32 = -1

// Archetype is the set of component columns shared by every entity routed
// to it, plus the chunks that hold those entities' data (spec.md §4.3/§4.4).
type Archetype struct {
	id  ArchetypeId
	ids []Entity // sorted per sortComponentIDs; authoritative identity

	// mask is a fast pre-filter covering only the ids that are registered,
	// non-pair components (i.e. have a dense ComponentID slot). Pair ids
	// don't fit the fixed 256-slot mask, so exact membership (including
	// pairs) always goes through columnIndex; mask is purely an
	// accelerator for the common plain-component case. This is an
	// adaptation from the teacher's mask-is-identity model, needed because
	// this engine additionally supports relationship pairs.
	mask        bitmask256
	columnIndex map[Entity]int

	columnDescs   []ComponentDesc
	columnOffsets []uintptr
	dataSize      uintptr
	maxAlign      uintptr
	capacity      int
	genCount      int

	chunks []*Chunk
	size   int

	graph      archetypeGraph
	lookupHash uint64
	lifespan   int32
}

// sortComponentIDs orders ids the way spec.md §4.3 requires: non-pairs
// before pairs, generic before unique within either group, and ascending by
// raw id as the final tiebreak. Grounded on original_source's
// SortComponentCond, which gaia applies so two entity sets that differ only
// in registration order still hash to the same archetype.
func sortComponentIDs(ids []Entity) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.IsPair() != b.IsPair() {
			return !a.IsPair()
		}
		if a.Kind() != b.Kind() {
			return a.Kind() == EntityKindGeneric
		}
		return a < b
	})
}

func hashComponentIDs(ids []Entity) uint64 {
	// FNV-1a over the sorted id sequence.
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for _, id := range ids {
		v := uint64(id)
		for i := 0; i < 8; i++ {
			h ^= v & 0xff
			h *= prime
			v >>= 8
		}
	}
	return h
}

func budgetForClass(class SizeClass) uintptr {
	return uintptr(class.blockSize() - chunkAlignSlack)
}

// layoutColumns computes each column's byte offset within a data arena sized
// for capacity rows, and the total bytes that layout needs. Unique columns
// occupy a single element regardless of capacity; tag columns (Size == 0)
// occupy no bytes and are left at offset 0.
func layoutColumns(capacity int, descs []ComponentDesc) ([]uintptr, uintptr) {
	offsets := make([]uintptr, len(descs))
	var offset uintptr
	for i, d := range descs {
		if d.Size == 0 {
			continue
		}
		offset = alignUp(offset, d.Align)
		offsets[i] = offset
		if d.Kind == EntityKindUnique {
			offset += d.Size
		} else {
			offset += d.Size * uintptr(capacity)
		}
	}
	return offsets, offset
}

// defaultTagOnlyCapacity bounds the row count of an archetype whose columns
// are all tags or unique components, where no per-row data exists to size
// capacity against. 4096 matches the teacher's ChunkSize order of magnitude.
const defaultTagOnlyCapacity = 4096

// maxChunkCapacity bounds capacity so a row index always fits the uint16
// used by entityRecord.row.
const maxChunkCapacity = 1 << 16

// computeCapacityAndLayout implements spec.md §4.3 step 3: pick the largest
// capacity whose per-row generic columns fit within dataBudget, decrementing
// from an initial estimate until the real (alignment-padded) layout fits.
func computeCapacityAndLayout(dataBudget uintptr, descs []ComponentDesc) (capacity int, offsets []uintptr, total uintptr) {
	var genericBytes uintptr
	for _, d := range descs {
		if d.Size > 0 && d.Kind == EntityKindGeneric {
			genericBytes += d.Size
		}
	}
	if genericBytes == 0 {
		capacity = defaultTagOnlyCapacity
	} else {
		capacity = int(dataBudget / genericBytes)
	}
	if capacity > maxChunkCapacity {
		capacity = maxChunkCapacity
	}
	if capacity < 1 {
		capacity = 1
	}
	for {
		offsets, total = layoutColumns(capacity, descs)
		if total <= dataBudget || capacity <= 1 {
			return capacity, offsets, total
		}
		capacity--
	}
}

// chooseLayout picks between the small and large block size classes per
// spec.md §9: try the large block's budget first, then step down to the
// small block when the resulting layout would still leave it comfortably
// occupied (or when there's no per-row data at all, in which case the small
// block is strictly better with no downside).
func chooseLayout(descs []ComponentDesc) (capacity int, offsets []uintptr, total uintptr, class SizeClass) {
	capL, offL, totL := computeCapacityAndLayout(budgetForClass(SizeClassLarge), descs)
	if totL == 0 {
		capS, offS, totS := computeCapacityAndLayout(budgetForClass(SizeClassSmall), descs)
		return capS, offS, totS, SizeClassSmall
	}
	if totL <= budgetForClass(SizeClassSmall) {
		occupancy := float64(totL) / float64(budgetForClass(SizeClassSmall))
		if occupancy >= occupancyThreshold {
			return capL, offL, totL, SizeClassSmall
		}
	}
	return capL, offL, totL, SizeClassLarge
}

// buildArchetype compiles a sorted, deduplicated id list into a fully laid
// out Archetype. The world supplies resolved descriptors (pairs need the
// world's component cache to pick a storage type, spec.md §4.3 step 2).
func buildArchetype(id ArchetypeId, ids []Entity, descs []ComponentDesc) *Archetype {
	// chooseLayout's size-class pick only steers which budget capacity is
	// computed against; ChunkAllocator.Alloc rederives the actual class from
	// dataSize once a chunk is allocated, so it isn't stored here.
	capacity, offsets, total, _ := chooseLayout(descs)

	a := &Archetype{
		id:            id,
		ids:           ids,
		columnIndex:   make(map[Entity]int, len(ids)),
		columnDescs:   descs,
		columnOffsets: offsets,
		dataSize:      total,
		capacity:      capacity,
		lookupHash:    hashComponentIDs(ids),
		lifespan:      archetypeNotDying,
	}
	a.maxAlign = 8
	for i, d := range descs {
		a.columnIndex[ids[i]] = i
		if !ids[i].IsPair() {
			if slot, ok := lookupSlotForMask(d); ok {
				a.mask.set(slot)
			}
		}
		if d.Kind == EntityKindGeneric {
			a.genCount++
		}
		if d.Align > a.maxAlign {
			a.maxAlign = d.Align
		}
	}
	return a
}

// lookupSlotForMask extracts the dense ComponentID a descriptor was
// registered under, if any; descriptors built for a pair's storage don't
// carry one since pairs have no slot of their own.
func lookupSlotForMask(d ComponentDesc) (ComponentID, bool) {
	if d.Entity.IsPair() {
		return 0, false
	}
	return d.slot, true
}

// hasID reports whether this archetype carries the exact component id,
// correctly handling pairs (which mask alone cannot represent).
func (a *Archetype) hasID(id Entity) bool {
	_, ok := a.columnIndex[id]
	return ok
}

func (a *Archetype) columnIndexOf(id Entity) (int, bool) {
	i, ok := a.columnIndex[id]
	return i, ok
}

// findOrCreateFreeChunk returns a chunk with spare capacity, allocating a
// new one if every existing chunk is full. Grounded on the source's
// foc_free_chunk, which scans from the last chunk backwards since that is
// most likely to have room after a recent addRow. Returns
// ErrAllocatorExhausted, unchanged, if a new chunk is needed and the
// allocator's page budget has been reached.
func (a *Archetype) findOrCreateFreeChunk(alloc *ChunkAllocator) (*Chunk, error) {
	for i := len(a.chunks) - 1; i >= 0; i-- {
		c := a.chunks[i]
		if !c.isFull() {
			c.cancelLifespan()
			return c, nil
		}
	}
	c, err := newChunk(a, len(a.chunks), alloc)
	if err != nil {
		return nil, err
	}
	a.chunks = append(a.chunks, c)
	return c, nil
}

// removeChunk drops a fully-drained chunk from the archetype's chunk list,
// swapping the last chunk into its slot and fixing up that chunk's index.
func (a *Archetype) removeChunk(idx int, alloc *ChunkAllocator) {
	c := a.chunks[idx]
	c.free(alloc)
	last := len(a.chunks) - 1
	if idx != last {
		a.chunks[idx] = a.chunks[last]
		a.chunks[idx].index = idx
	}
	a.chunks = a.chunks[:last]
}

func (a *Archetype) cancelLifespan() { a.lifespan = archetypeNotDying }

func (a *Archetype) tickLifespan() (dead bool) {
	if a.lifespan == archetypeNotDying {
		return false
	}
	a.lifespan--
	return a.lifespan <= 0
}

// isEmpty reports whether the archetype currently holds no live entities.
func (a *Archetype) isEmpty() bool {
	for _, c := range a.chunks {
		if !c.isEmpty() {
			return false
		}
	}
	return true
}
