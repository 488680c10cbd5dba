package gcheap

// IsValidObject reports whether addr is non-null, 8-byte aligned, and
// present in the heap source's live bitmap (spec.md §4.7). It is safe to
// call without the heap lock: concurrent allocations can only add bits, and
// frees happen only under the heap lock, so there are no false positives —
// only false negatives, for objects not yet published to the caller.
func (h *Heap) IsValidObject(addr ObjectID) bool {
	if addr == 0 || addr%8 != 0 {
		return false
	}
	return h.source.Contains(addr)
}

// ObjectSizeInHeap returns the allocated size of addr, as reported by the
// heap source.
func (h *Heap) ObjectSizeInHeap(addr ObjectID) uintptr {
	return h.source.ChunkSize(addr)
}
