package gcheap

// WaitForConcurrentGCToComplete is called with the heap lock held; it loops
// while gcRunning is true, transitioning the thread to ThreadWaitingOnVM
// around each wait so the collector may suspend it if needed (spec.md §4.9).
//
// The broadcast is implemented as a channel that is closed and replaced
// every time a cycle completes, rather than a sync.Cond — the same
// close-to-broadcast idiom the teacher's microbatch.batcherState uses for
// its "done" signal — so waiters can select on it alongside other channels
// if a future caller needs to.
func (h *Heap) WaitForConcurrentGCToComplete() {
	self := h.thr.Self()
	for h.gcRunning {
		done := h.gcDoneCh
		old := h.thr.ChangeStatus(self, ThreadWaitingOnVM)
		h.heapLock.Unlock()
		<-done
		h.heapLock.Lock()
		h.thr.ChangeStatus(self, old)
	}
}

// broadcastGCComplete must be called with heapLock held; it wakes every
// waiter currently blocked in WaitForConcurrentGCToComplete.
func (h *Heap) broadcastGCComplete() {
	h.gcGen++
	close(h.gcDoneCh)
	h.gcDoneCh = make(chan struct{})
}
