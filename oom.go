package gcheap

import "sync"

// OOM is the exception type thrown on allocation exhaustion (spec.md §4.8).
// stacklessOOM is a single process-wide pre-built OOM, used to avoid
// any further allocation when a thread is already in the middle of throwing
// one.
type OOM struct {
	Message string
}

func (e *OOM) Error() string {
	if e.Message == "" {
		return "out of memory"
	}
	return e.Message
}

var stacklessOOM = &OOM{}

// oomState tracks, per thread, whether it is currently in the middle of
// constructing/throwing an OOM — needed to detect the recursive-allocation
// case spec.md §4.8 describes.
type oomState struct {
	mu        sync.Mutex
	throwing  map[ThreadHandle]bool
	delivered map[ThreadHandle]*OOM
}

// ThrowOOM implements spec.md §4.8. It must be called without the heap lock
// held — constructing the exception may itself allocate. size is the
// request that exhausted the ladder; it and the heap's current footprint
// and allocation counters are logged as dvmDumpThread-style failure
// diagnostics (SPEC_FULL's supplement — no stack-unwinding facility exists
// at this layer).
func (h *Heap) ThrowOOM(size uintptr) {
	self := h.thr.Self()

	if !h.thr.IsOnThreadList(self) {
		// Not attached to the VM: no one to receive the exception.
		return
	}

	h.oom.mu.Lock()
	alreadyThrowing := h.oom.throwing[self]
	if !alreadyThrowing {
		h.oom.throwing[self] = true
	}
	h.oom.mu.Unlock()

	if !alreadyThrowing {
		// Fresh OOM, no detail message, to minimize further allocation.
		h.deliverOOM(self, &OOM{}, size)
	} else {
		// Recursive allocation during exception construction: use the
		// pre-built stackless singleton, which requires no further
		// allocation.
		h.deliverOOM(self, stacklessOOM, size)
	}

	h.oom.mu.Lock()
	h.oom.throwing[self] = false
	h.oom.mu.Unlock()
}

func (h *Heap) deliverOOM(self ThreadHandle, err *OOM, size uintptr) {
	h.oom.mu.Lock()
	h.oom.delivered[self] = err
	h.oom.mu.Unlock()

	footprint := h.source.Value(Footprint)
	process := h.ProcessAllocStats()
	thread := h.ThreadAllocStats(self)

	h.log.Err().
		Field("thread", int64(self)).
		Field("size", uint64(size)).
		Field("footprint", uint64(footprint)).
		Field("processAllocCount", process.AllocCount).
		Field("processFailedAllocCount", process.FailedAllocCount).
		Field("threadAllocCount", thread.AllocCount).
		Field("threadFailedAllocCount", thread.FailedAllocCount).
		Log("gcheap: out of memory")
}

// PendingOOM returns the most recently thrown OOM for thread, if any — the
// equivalent of "the exception VM state now holds" in hosts without their
// own exception propagation mechanism.
func (h *Heap) PendingOOM(thread ThreadHandle) (*OOM, bool) {
	h.oom.mu.Lock()
	defer h.oom.mu.Unlock()
	e, ok := h.oom.delivered[thread]
	return e, ok
}
