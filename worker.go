package gcheap

import "time"

// GetNextHeapWorkerObject is called by the heap worker thread. It first
// acquires heapWorkerLock, which a running collection cycle holds for Phase
// P0 through P10 (spec.md §3): this is what actually blocks the worker from
// beginning new finalizer/reference work across a cycle, rather than just
// serializing access to the queues. Under it, and then the heap-worker list
// lock (spec.md §5 lock order), it dequeues from referenceOperations first
// (op=WorkerEnqueue); if empty, from pendingFinalization (op=WorkerFinalize).
// On success the object is added to the worker's tracked-allocation table so
// a concurrent GC can't reclaim it mid-finalization (spec.md §4.6). The
// caller must call ReleaseTrackedAlloc when finished.
func (h *Heap) GetNextHeapWorkerObject(worker ThreadHandle) (ObjectID, WorkerOp) {
	h.heapWorkerLock.Lock()
	defer h.heapWorkerLock.Unlock()

	h.heapWorkerListLock.Lock()
	defer h.heapWorkerListLock.Unlock()

	if id, ok := h.referenceOperations.PopFront(); ok {
		h.beginWorkerWatchdog(id, "enqueue")
		h.addTrackedAlloc(worker, id)
		return id, WorkerEnqueue
	}

	if id, ok := h.pendingFinalization.PopFront(); ok {
		h.beginWorkerWatchdog(id, "finalize")
		h.addTrackedAlloc(worker, id)
		return id, WorkerFinalize
	}

	return 0, WorkerNone
}

// FinishHeapWorkerObject clears the watchdog bookkeeping set by
// GetNextHeapWorkerObject, for use once the worker has finished running the
// finalizer/enqueue operation but before it calls ReleaseTrackedAlloc.
func (h *Heap) FinishHeapWorkerObject() {
	h.workerMu.Lock()
	defer h.workerMu.Unlock()
	h.workerCurrentObject = 0
	h.workerCurrentMethod = ""
}

func (h *Heap) beginWorkerWatchdog(id ObjectID, method string) {
	h.workerMu.Lock()
	defer h.workerMu.Unlock()
	h.workerCurrentObject = id
	h.workerCurrentMethod = method
	h.workerStartTime = time.Now()
}

// SetDDMNotification configures whether Phase P10 emits the DDM heap-info /
// heap-segments debug-monitor notifications spec.md §3 and §6 describe as
// opaque flags.
func (h *Heap) SetDDMNotification(heapInfo, heapSegments bool) {
	h.LockHeap()
	defer h.UnlockHeap()
	h.ddmHeapInfo = heapInfo
	h.ddmHeapSegments = heapSegments
}
