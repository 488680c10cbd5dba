package gcheap

// LockHeap attempts a non-blocking acquire first; on contention it
// transitions the calling thread's status to ThreadWaitingOnVM, blocks, then
// restores the prior status. This guarantees the collector can suspend any
// thread that is waiting for the heap lock (spec.md §4.2, invariant 5).
func (h *Heap) LockHeap() {
	if h.heapLock.TryLock() {
		return
	}

	self := h.thr.Self()
	old := h.thr.ChangeStatus(self, ThreadWaitingOnVM)
	h.heapLock.Lock()
	h.thr.ChangeStatus(self, old)
}

// UnlockHeap releases the heap lock.
func (h *Heap) UnlockHeap() {
	h.heapLock.Unlock()
}
