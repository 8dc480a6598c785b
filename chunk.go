package kiso

import "unsafe"

// chunkAlignSlack is reserved at the front of every chunk's data arena so a
// column's alignment requirement can always be satisfied regardless of the
// alignment the allocator's backing block happens to start at.
const chunkAlignSlack = 64

// Chunk is one archetype's fixed-size slab of rows, laid out as parallel
// columns (spec.md §4.2). The bookkeeping header is an ordinary Go struct
// (so the garbage collector can scan entityIDs/columnVersions); the raw
// arena obtained from the allocator holds only the component value
// columns, which are plain bytes the GC never needs to scan because
// components are expected to be plain data.
//
// This is an adaptation of the source's single placement-new block (which
// packs a C++ object directly at the block's address): Go's GC cannot
// safely scan a manually managed byte arena for pointers, so the mutable
// per-row bookkeeping (entity ids, column versions) lives in normal Go
// slices, the column descriptors stay on the owning Archetype, and only the
// value columns live in the arena.
type Chunk struct {
	archetype       *Archetype
	archetypeID     ArchetypeId
	index           int
	block           unsafe.Pointer
	sizeClass       SizeClass
	dataBase        unsafe.Pointer
	entityIDs       []Entity
	columnVersions  []uint32
	count           int
	countEnabled    int
	firstEnabledRow int
	worldVersion    uint32
	lockDepth       int32
	lifespan        int32 // -1 when not dying
}

const chunkNotDying int32 = -1

func newChunk(archetype *Archetype, index int, alloc *ChunkAllocator) (*Chunk, error) {
	block, class, err := alloc.Alloc(int(archetype.dataSize) + chunkAlignSlack)
	if err != nil {
		return nil, err
	}
	base := unsafe.Pointer(alignUp(uintptr(block), archetype.maxAlign))
	c := &Chunk{
		archetype:      archetype,
		archetypeID:    archetype.id,
		index:          index,
		block:          block,
		sizeClass:      class,
		dataBase:       base,
		entityIDs:      make([]Entity, archetype.capacity),
		columnVersions: make([]uint32, len(archetype.ids)),
		lifespan:       chunkNotDying,
	}
	return c, nil
}

func (c *Chunk) free(alloc *ChunkAllocator) {
	for i, desc := range c.archetype.columnDescs {
		if desc.Destroy == nil {
			continue
		}
		width := int(desc.Size)
		rows := c.count
		if desc.Kind == EntityKindUnique {
			rows = 1
		}
		base := c.columnBase(i)
		for r := 0; r < rows; r++ {
			desc.Destroy(unsafe.Add(base, r*width))
		}
	}
	alloc.Free(c.block, c.sizeClass)
}

// columnBase returns the base pointer for the i-th archetype column
// (index into archetype.ids/columnOffsets).
func (c *Chunk) columnBase(i int) unsafe.Pointer {
	return unsafe.Add(c.dataBase, c.archetype.columnOffsets[i])
}

// cell returns the address of row's value within the i-th column. For a
// unique (per-chunk) component row is ignored.
func (c *Chunk) cell(i int, row int) unsafe.Pointer {
	desc := &c.archetype.columnDescs[i]
	if desc.Kind == EntityKindUnique {
		return c.columnBase(i)
	}
	return unsafe.Add(c.columnBase(i), row*int(desc.Size))
}

func (c *Chunk) entityAt(row int) Entity { return c.entityIDs[row] }

func (c *Chunk) isFull() bool { return c.count >= c.archetype.capacity }

func (c *Chunk) isEmpty() bool { return c.count == 0 }

func (c *Chunk) lockForIteration() { c.lockDepth++ }

func (c *Chunk) unlockAfterIteration() { c.lockDepth-- }

func (c *Chunk) assertUnlocked() {
	if c.lockDepth != 0 {
		panic("kiso: structural change attempted on a chunk locked for iteration")
	}
}

// touchColumn bumps a single column's version to worldVersion, used by Set.
// sset (silent set) skips this call entirely.
func (c *Chunk) touchColumn(i int, worldVersion uint32) {
	c.columnVersions[i] = worldVersion
}

// touchAll bumps every column's version, used by structural row operations
// (add/remove/swap) which affect the entire row.
func (c *Chunk) touchAll(worldVersion uint32) {
	c.worldVersion = worldVersion
	for i := range c.columnVersions {
		c.columnVersions[i] = worldVersion
	}
}

// addRow appends entity at row count, in the enabled region, and returns
// the row index.
func (c *Chunk) addRow(entity Entity, worldVersion uint32) int {
	c.assertUnlocked()
	row := c.count
	c.entityIDs[row] = entity
	c.count++
	c.countEnabled++
	c.touchAll(worldVersion)
	return row
}

// removeRow implements spec.md §4.2 remove_row: swap-with-last unless row
// is already last, then shrink. When row was not last, returns the entity
// moved into row and moved=true, so the caller can fix up its directory
// record; when row was last, returns moved=false.
func (c *Chunk) removeRow(row int, worldVersion uint32) (movedInto Entity, moved bool) {
	c.assertUnlocked()
	last := c.count - 1
	wasEnabled := row >= c.firstEnabledRow
	if row != last {
		c.swapRowsRaw(row, last)
		movedInto = c.entityIDs[row]
		moved = true
	} else {
		c.destroyRow(row)
	}
	c.count--
	if wasEnabled {
		c.countEnabled--
	} else if c.firstEnabledRow > 0 {
		c.firstEnabledRow--
	}
	c.touchAll(worldVersion)
	if c.isEmpty() {
		c.lifespan = chunkLifespanTicks
	}
	return movedInto, moved
}

// destroyRow runs each generic column's Destroy on row, used when the row
// being removed is already the last row (no swap happens).
func (c *Chunk) destroyRow(row int) {
	for i, desc := range c.archetype.columnDescs {
		if desc.Destroy == nil || desc.Kind == EntityKindUnique {
			continue
		}
		desc.Destroy(c.cell(i, row))
	}
}

// swapRowsRaw moves the row at src on top of dst (byte-for-byte, plus the
// entity id), and destroys whatever was at src afterwards. Used internally
// by removeRow and enableRow; does not touch directory records or
// versions — callers handle those.
func (c *Chunk) swapRowsRaw(dst, src int) {
	for i, desc := range c.archetype.columnDescs {
		if desc.Kind == EntityKindUnique || desc.Size == 0 {
			continue
		}
		d := c.cell(i, dst)
		s := c.cell(i, src)
		if desc.Move != nil {
			desc.Move(d, s)
		}
	}
	c.entityIDs[dst] = c.entityIDs[src]
}

// swapRows exchanges two rows entirely (entity ids and every column),
// leaving both rows populated. Used by enableRow.
func (c *Chunk) swapRows(a, b int) {
	c.assertUnlocked()
	if a == b {
		return
	}
	for i, desc := range c.archetype.columnDescs {
		if desc.Kind == EntityKindUnique || desc.Size == 0 {
			continue
		}
		pa := c.cell(i, a)
		pb := c.cell(i, b)
		swapBytes(pa, pb, desc.Size)
	}
	c.entityIDs[a], c.entityIDs[b] = c.entityIDs[b], c.entityIDs[a]
}

func swapBytes(a, b unsafe.Pointer, size uintptr) {
	sa := unsafe.Slice((*byte)(a), int(size))
	sb := unsafe.Slice((*byte)(b), int(size))
	for i := range sa {
		sa[i], sb[i] = sb[i], sa[i]
	}
}

// enableRow implements spec.md §4.2 enable_row: maintains the contiguous
// [disabled | enabled] partition by swapping row with the boundary row.
// Returns the two rows whose directory entries changed position (src,dst),
// or (-1,-1) if this was a no-op.
func (c *Chunk) enableRow(row int, enable bool) (a, b int) {
	c.assertUnlocked()
	isEnabled := row >= c.firstEnabledRow
	if isEnabled == enable {
		return -1, -1
	}
	if enable {
		// Disabled -> enabled: swap with the row just before the boundary,
		// then shrink the disabled region.
		boundary := c.firstEnabledRow - 1
		c.swapRows(row, boundary)
		c.firstEnabledRow--
		c.countEnabled++
		return row, boundary
	}
	// Enabled -> disabled: swap with the boundary row, then grow the
	// disabled region.
	boundary := c.firstEnabledRow
	c.swapRows(row, boundary)
	c.firstEnabledRow++
	c.countEnabled--
	return row, boundary
}

func (c *Chunk) cancelLifespan() { c.lifespan = chunkNotDying }

func (c *Chunk) tickLifespan() (dead bool) {
	if c.lifespan == chunkNotDying {
		return false
	}
	c.lifespan--
	return c.lifespan <= 0
}
