package kiso

import "errors"

// ErrAllocatorExhausted is returned when a world's ChunkAllocator has a
// page budget (see NewChunkAllocatorWithBudget) and that budget has been
// reached. Per spec.md §7, resource exhaustion fails only the triggering
// operation: an entity's archetype is never advanced, and its data is left
// exactly as it was before the call.
var ErrAllocatorExhausted = errors.New("kiso: chunk allocator exhausted its page budget")
