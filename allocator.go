package kiso

import "unsafe"

// SizeClass identifies which of the allocator's two fixed block sizes a
// chunk's backing memory was carved from.
type SizeClass uint8

const (
	SizeClassSmall SizeClass = iota
	SizeClassLarge
)

// Block sizes and the occupancy threshold used to prefer the smaller block
// are tunables (spec.md §9 Open Questions); these are the values chosen for
// this implementation.
const (
	blockSizeSmall = 8 * 1024
	blockSizeLarge = 2 * blockSizeSmall

	// occupancyThreshold: if a layout computed against the large block's
	// data budget still fits the small block at this fraction (or more) of
	// its capacity, the small block is used instead to reduce waste.
	occupancyThreshold = 0.5

	pageBlocksSmall = 32
	pageBlocksLarge = 16
)

func (c SizeClass) blockSize() int {
	if c == SizeClassLarge {
		return blockSizeLarge
	}
	return blockSizeSmall
}

// page is one OS-sized slab subdivided into equal blocks, with a stack of
// free block indices kept beside it.
type page struct {
	mem       []byte
	free      []uint16
	usedCount int
}

func newPage(blockSize, blocksPerPage int) *page {
	p := &page{
		mem:  make([]byte, blockSize*blocksPerPage),
		free: make([]uint16, blocksPerPage),
	}
	for i := range p.free {
		p.free[i] = uint16(blocksPerPage - 1 - i)
	}
	return p
}

func (p *page) blockPtr(blockSize, idx int) unsafe.Pointer {
	return unsafe.Pointer(&p.mem[idx*blockSize])
}

// contains reports whether ptr falls within this page's backing array.
func (p *page) contains(ptr unsafe.Pointer) bool {
	if len(p.mem) == 0 {
		return false
	}
	base := uintptr(unsafe.Pointer(&p.mem[0]))
	addr := uintptr(ptr)
	return addr >= base && addr < base+uintptr(len(p.mem))
}

func (p *page) blockIndex(blockSize int, ptr unsafe.Pointer) int {
	base := uintptr(unsafe.Pointer(&p.mem[0]))
	return int((uintptr(ptr) - base) / uintptr(blockSize))
}

type pagePool struct {
	blockSize     int
	blocksPerPage int
	maxPages      int // 0 means unlimited
	pages         []*page
	hint          int // index of a page known to have a free block, or -1
}

func newPagePool(blockSize, blocksPerPage, maxPages int) pagePool {
	return pagePool{blockSize: blockSize, blocksPerPage: blocksPerPage, maxPages: maxPages, hint: -1}
}

// alloc returns a free block, or ok=false if the pool is at its page budget
// and every existing page is full (spec.md §7's resource-exhaustion class).
func (pp *pagePool) alloc() (ptr unsafe.Pointer, ok bool) {
	if pp.hint >= 0 && pp.hint < len(pp.pages) {
		if p := pp.pages[pp.hint]; len(p.free) > 0 {
			return pp.allocFrom(p), true
		}
	}
	for i, p := range pp.pages {
		if len(p.free) > 0 {
			pp.hint = i
			return pp.allocFrom(p), true
		}
	}
	if pp.maxPages > 0 && len(pp.pages) >= pp.maxPages {
		return nil, false
	}
	p := newPage(pp.blockSize, pp.blocksPerPage)
	pp.pages = append(pp.pages, p)
	pp.hint = len(pp.pages) - 1
	return pp.allocFrom(p), true
}

func (pp *pagePool) allocFrom(p *page) unsafe.Pointer {
	last := len(p.free) - 1
	idx := p.free[last]
	p.free = p.free[:last]
	p.usedCount++
	return p.blockPtr(pp.blockSize, int(idx))
}

func (pp *pagePool) free(ptr unsafe.Pointer) bool {
	for i, p := range pp.pages {
		if !p.contains(ptr) {
			continue
		}
		idx := p.blockIndex(pp.blockSize, ptr)
		p.free = append(p.free, uint16(idx))
		p.usedCount--
		pp.hint = i
		return true
	}
	return false
}

// flush releases pages with zero used blocks. Returns the number of pages
// released.
func (pp *pagePool) flush() int {
	kept := pp.pages[:0]
	released := 0
	for _, p := range pp.pages {
		if p.usedCount == 0 {
			released++
			continue
		}
		kept = append(kept, p)
	}
	pp.pages = kept
	pp.hint = -1
	return released
}

func (pp *pagePool) stats() (allocatedBytes, usedBytes uint64, pageCount, freePageCount int) {
	for _, p := range pp.pages {
		allocatedBytes += uint64(len(p.mem))
		usedBytes += uint64(p.usedCount * pp.blockSize)
		pageCount++
		if p.usedCount == 0 {
			freePageCount++
		}
	}
	return
}

// AllocatorStats reports chunk allocator memory usage, exported for
// diagnostics (spec.md §4.1).
type AllocatorStats struct {
	AllocatedBytes uint64
	UsedBytes      uint64
	PageCount      int
	FreePageCount  int
}

// ChunkAllocator is a fixed-size block allocator serving two size classes,
// as specified in spec.md §4.1. Memory comes from Go-heap-backed pages,
// subdivided into equal blocks; a block's address is stable for its
// lifetime because Go's garbage collector never moves heap memory.
type ChunkAllocator struct {
	small pagePool
	large pagePool
}

// NewChunkAllocator creates an allocator with no page budget: pages are
// created lazily on first Alloc and never refused until the Go runtime
// itself runs out of memory.
func NewChunkAllocator() *ChunkAllocator {
	return NewChunkAllocatorWithBudget(0)
}

// NewChunkAllocatorWithBudget creates an allocator with a page budget:
// maxBytes is split evenly between the two size classes, and each class may
// page in as many whole pages as fit its half, but never fewer than one
// page (so a tiny maxBytes still allows one page per class). Once a class
// is at its page limit with every block in use, Alloc returns
// ErrAllocatorExhausted for it instead of growing further. A maxBytes of 0
// means unlimited, same as NewChunkAllocator.
func NewChunkAllocatorWithBudget(maxBytes uint64) *ChunkAllocator {
	var maxSmallPages, maxLargePages int
	if maxBytes > 0 {
		perPool := maxBytes / 2
		maxSmallPages = int(perPool / uint64(blockSizeSmall*pageBlocksSmall))
		maxLargePages = int(perPool / uint64(blockSizeLarge*pageBlocksLarge))
		if maxSmallPages < 1 {
			maxSmallPages = 1
		}
		if maxLargePages < 1 {
			maxLargePages = 1
		}
	}
	return &ChunkAllocator{
		small: newPagePool(blockSizeSmall, pageBlocksSmall, maxSmallPages),
		large: newPagePool(blockSizeLarge, pageBlocksLarge, maxLargePages),
	}
}

// Alloc returns a block able to hold requestedBytes, rounding up to the
// smallest fitting size class. Freshly paged-in blocks are zeroed; reused
// blocks are not and callers must initialize what they read. Returns
// ErrAllocatorExhausted if a page budget is set and has been reached;
// panics if requestedBytes exceeds the largest size class, a programming
// error rather than a resource limit.
func (a *ChunkAllocator) Alloc(requestedBytes int) (unsafe.Pointer, SizeClass, error) {
	if requestedBytes <= blockSizeSmall {
		if ptr, ok := a.small.alloc(); ok {
			return ptr, SizeClassSmall, nil
		}
		return nil, SizeClassSmall, ErrAllocatorExhausted
	}
	if requestedBytes <= blockSizeLarge {
		if ptr, ok := a.large.alloc(); ok {
			return ptr, SizeClassLarge, nil
		}
		return nil, SizeClassLarge, ErrAllocatorExhausted
	}
	panic("kiso: requested chunk size exceeds the largest block size class")
}

// Free returns a previously allocated block to its pool.
func (a *ChunkAllocator) Free(ptr unsafe.Pointer, class SizeClass) {
	var ok bool
	if class == SizeClassLarge {
		ok = a.large.free(ptr)
	} else {
		ok = a.small.free(ptr)
	}
	if !ok {
		panic("kiso: freeing a block that does not belong to this allocator")
	}
}

// Flush releases pages whose blocks are all free. Returns the number of
// pages released across both pools.
func (a *ChunkAllocator) Flush() int {
	return a.small.flush() + a.large.flush()
}

// Stats reports current allocator memory usage across both pools.
func (a *ChunkAllocator) Stats() AllocatorStats {
	var s AllocatorStats
	ab, ub, pc, fpc := a.small.stats()
	s.AllocatedBytes += ab
	s.UsedBytes += ub
	s.PageCount += pc
	s.FreePageCount += fpc
	ab, ub, pc, fpc = a.large.stats()
	s.AllocatedBytes += ab
	s.UsedBytes += ub
	s.PageCount += pc
	s.FreePageCount += fpc
	return s
}
