package gcheap

// Allocate services a mutator's allocation request (spec.md §4.3). It
// guarantees the returned object is zero-initialized (the HeapSource's
// contract — this layer never writes to raw memory itself), 8-byte aligned,
// and atomic with respect to sweep (sweep holds the heap lock throughout).
func (h *Heap) Allocate(size uintptr, flags AllocFlags) (ObjectID, bool) {
	h.LockHeap()

	addr, ok := h.tryMalloc(size)

	if ok {
		if flags.Has(AllocFinalizable) {
			h.heapWorkerListLock.Lock()
			if h.cfg.MaxFinalizableQueue > 0 && h.finalizable.Len() >= h.cfg.MaxFinalizableQueue {
				h.heapWorkerListLock.Unlock()
				h.UnlockHeap()
				panic("gcheap: no room for any more finalizable objects")
			}
			h.finalizable.Append(addr)
			h.heapWorkerListLock.Unlock()
		}

		if h.cfg.AllocProfEnabled {
			self := h.thr.Self()
			h.counters.AllocCount++
			h.counters.AllocSize += uint64(size)
			h.threadCounter(self).AllocCount++
			h.threadCounter(self).AllocSize += uint64(size)
		}
	} else if h.cfg.AllocProfEnabled {
		self := h.thr.Self()
		h.counters.FailedAllocCount++
		h.counters.FailedAllocSize += uint64(size)
		h.threadCounter(self).FailedAllocCount++
		h.threadCounter(self).FailedAllocSize += uint64(size)
	}

	h.UnlockHeap()

	if ok {
		if !flags.Has(AllocDontTrack) {
			h.addTrackedAlloc(h.thr.Self(), addr)
		}
		return addr, true
	}

	h.ThrowOOM(size)
	return 0, false
}

// tryMalloc runs the allocation ladder of spec.md §4.4, with the heap lock
// held throughout. It returns the terminal failure (step 7) as ok=false.
func (h *Heap) tryMalloc(size uintptr) (ObjectID, bool) {
	self := h.thr.Self()
	isDebugger := h.cfg.DebuggerThreadPolicy != nil && h.cfg.DebuggerThreadPolicy(self)

	// Step 1: size guard — skip straight to soft-ref GC (the debugger thread,
	// which never collects, fails instead).
	if size >= h.cfg.HeapGrowthLimit {
		h.log.Warning().Field("size", uint64(size)).Log("gcheap: allocation size exceeds growth limit")
		if isDebugger {
			return 0, false
		}
		return h.collectSoftRefsThenGrow(size)
	}

	// Step 2: fast path.
	if addr, ok := h.source.Alloc(size); ok {
		return addr, true
	}

	// Step 3: if a concurrent cycle is running, wait for it and retry.
	if h.gcRunning {
		h.WaitForConcurrentGCToComplete()
		if addr, ok := h.source.Alloc(size); ok {
			return addr, true
		}
	}

	// Step 4: foreground GC (skipped for the debugger thread).
	if !isDebugger {
		h.collectLocked(false, GCForMalloc)
		if addr, ok := h.source.Alloc(size); ok {
			return addr, true
		}
	}

	// Step 5: grow.
	if addr, ok := h.source.AllocAndGrow(size); ok {
		h.log.Info().
			Field("newFootprint", uint64(h.source.IdealFootprint())).
			Field("size", uint64(size)).
			Log("gcheap: grew heap for allocation")
		return addr, true
	}

	// Step 6/7: soft-reference collection then grow, or give up. The
	// debugger thread never triggers a collection here either (SPEC_FULL's
	// carve-out): it only grows or fails.
	if isDebugger {
		return 0, false
	}
	return h.collectSoftRefsThenGrow(size)
}

func (h *Heap) collectSoftRefsThenGrow(size uintptr) (ObjectID, bool) {
	h.log.Info().Field("size", uint64(size)).Log("gcheap: forcing collection of soft references")
	h.collectLocked(true, GCForMalloc)
	return h.source.AllocAndGrow(size)
}

func (h *Heap) threadCounter(self ThreadHandle) *Counters {
	h.threadCountersMu.Lock()
	defer h.threadCountersMu.Unlock()
	c, ok := h.threadCounters[self]
	if !ok {
		c = &Counters{}
		h.threadCounters[self] = c
	}
	return c
}

// ThreadAllocStats returns a snapshot of the per-thread allocation-profiling
// counters for thread (SPEC_FULL supplement to spec.md §3).
func (h *Heap) ThreadAllocStats(thread ThreadHandle) Counters {
	h.threadCountersMu.Lock()
	defer h.threadCountersMu.Unlock()
	if c, ok := h.threadCounters[thread]; ok {
		return *c
	}
	return Counters{}
}

// ProcessAllocStats returns a snapshot of the process-wide allocation-
// profiling counters (spec.md §3).
func (h *Heap) ProcessAllocStats() Counters {
	h.LockHeap()
	defer h.UnlockHeap()
	return h.counters
}

func (h *Heap) addTrackedAlloc(thread ThreadHandle, addr ObjectID) {
	h.trackedAllocMu.Lock()
	defer h.trackedAllocMu.Unlock()
	m, ok := h.trackedAlloc[thread]
	if !ok {
		m = make(map[ObjectID]int)
		h.trackedAlloc[thread] = m
	}
	m[addr]++
}

// ReleaseTrackedAlloc removes one reference to addr from thread's tracked
// table (spec.md §4.6 "The worker releases it when done").
func (h *Heap) ReleaseTrackedAlloc(thread ThreadHandle, addr ObjectID) {
	h.trackedAllocMu.Lock()
	defer h.trackedAllocMu.Unlock()
	m, ok := h.trackedAlloc[thread]
	if !ok {
		return
	}
	m[addr]--
	if m[addr] <= 0 {
		delete(m, addr)
	}
	if len(m) == 0 {
		delete(h.trackedAlloc, thread)
	}
}

// isTrackedBy reports whether addr is currently rooted by thread's tracked
// set.
func (h *Heap) isTrackedBy(thread ThreadHandle, addr ObjectID) bool {
	h.trackedAllocMu.Lock()
	defer h.trackedAllocMu.Unlock()
	return h.trackedAlloc[thread][addr] > 0
}
