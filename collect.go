package gcheap

import (
	"context"
	"fmt"
	"time"
)

// Collect requests a collection cycle (spec.md §4.5). It acquires the heap
// lock itself; callers already holding it (the allocation ladder) should use
// the unexported collectLocked instead.
func (h *Heap) Collect(clearSoftRefs bool, reason GCReason) {
	h.LockHeap()
	defer h.UnlockHeap()
	h.collectLocked(clearSoftRefs, reason)
}

// cycleTimes collects the pause-window timestamps the §6 Observability log
// record needs, split by whether the cycle ran concurrently.
type cycleTimes struct {
	cycleStart, rootStart, rootEnd   time.Time
	dirtySuspend, dirtyStart, dirtyEnd time.Time
}

// collectLocked implements spec.md §4.5's Phases P0-P10. Precondition: the
// heap lock is held on entry. Postcondition: the heap lock is held on exit
// (even though it is released and reacquired in the middle of a concurrent
// cycle — spec.md §5's "two exceptions that must be matched by re-locks").
func (h *Heap) collectLocked(clearSoftRefs bool, reason GCReason) {
	if h.gcRunning {
		h.log.Warning().Field("reason", reason.String()).Log("gcheap: attempted recursive GC")
		return
	}

	mode := modeForReason(reason)
	concurrent := reason == GCConcurrent
	var t cycleTimes

	h.gcRunning = true

	// Phase P0 — entry.
	h.heapWorkerLock.Lock()
	t.cycleStart = time.Now()
	if err := h.thr.SuspendAll(SuspendForGC); err != nil {
		h.gcRunning = false
		h.heapWorkerLock.Unlock()
		h.log.Err().Err(err).Log("gcheap: suspend-all failed, aborting cycle")
		return
	}
	t.rootStart = time.Now()

	self := h.thr.Self()
	var priorityToken any
	var priorityRaised bool
	if !concurrent {
		priorityToken, priorityRaised = h.cfg.PriorityPolicy.Raise(self)
		if !priorityRaised {
			h.log.Warning().Log("gcheap: priority elevation denied")
		}
	}

	h.assertHeapWorkerResponsive()

	h.heapWorkerListLock.Lock()

	if h.cfg.PreVerify {
		h.verifyRootsAndHeap()
	}

	// Phase P1 — root mark.
	if !h.tracer.BeginMarkStep(mode) {
		panic("gcheap: BeginMarkStep failed")
	}
	h.tracer.MarkRootSet()
	h.softReferences.Reset()
	h.weakReferences.Reset()
	h.phantomReferences.Reset()

	// Phase P2 — concurrent trace.
	if concurrent {
		t.rootEnd = time.Now()
		h.cards.Clear()
		h.UnlockHeap()
		if err := h.thr.ResumeAll(SuspendForGC); err != nil {
			h.log.Err().Err(err).Log("gcheap: resume-all (roots) failed")
		}

		h.tracer.ScanMarkedObjects()

		// Phase P4 — final mark.
		h.LockHeap()
		t.dirtySuspend = time.Now()
		if err := h.thr.SuspendAll(SuspendForGC); err != nil {
			h.log.Err().Err(err).Log("gcheap: suspend-all (final mark) failed")
		}
		t.dirtyStart = time.Now()
		h.tracer.ReMarkRootSet()
		if h.cfg.VerifyCardTable {
			if !h.cards.Verify() {
				h.log.Warning().Log("gcheap: card table verification failed")
			}
		}
		h.tracer.ReScanMarkedObjects()
	} else {
		// Phase P3 — stop-the-world trace.
		h.tracer.ScanMarkedObjects()
	}

	// All strongly-reachable objects are now marked. Resolve the
	// finalizable -> pendingFinalization transition before anything
	// touches the bitmaps (spec.md §3 invariant 4).
	h.promoteFinalizable()

	// Phase P5 — reference processing.
	disp := h.tracer.ProcessReferences(
		h.softReferences.Snapshot(),
		h.weakReferences.Snapshot(),
		h.phantomReferences.Snapshot(),
		clearSoftRefs,
	)
	for _, ref := range disp.ClearedSoft {
		h.referenceOperations.Append(ref)
	}
	for _, ref := range disp.ClearedWeak {
		h.referenceOperations.Append(ref)
	}
	for _, ref := range disp.EnqueuePhantom {
		h.referenceOperations.Append(ref)
	}

	// Phase P6 — system-weak sweep.
	h.tracer.SweepSystemWeaks()

	// Phase P7 — bitmap swap.
	h.source.SwapBitmaps()

	if h.cfg.PostVerify {
		h.verifyRootsAndHeap()
	}

	// Phase P8 — concurrent sweep (release).
	if concurrent {
		t.dirtyEnd = time.Now()
		h.UnlockHeap()
		if err := h.thr.ResumeAll(SuspendForGC); err != nil {
			h.log.Err().Err(err).Log("gcheap: resume-all (sweep) failed")
		}
	}

	// Phase P9 — sweep.
	numObjectsFreed, numBytesFreed := h.tracer.SweepUnmarkedObjects(mode, concurrent)
	h.tracer.FinishMarkStep()
	if concurrent {
		h.LockHeap()
	}

	// Phase P10 — exit.
	h.source.GrowForUtilization()
	h.scheduleTrim()

	h.gcRunning = false
	h.heapWorkerListLock.Unlock()
	h.heapWorkerLock.Unlock()

	if concurrent {
		h.broadcastGCComplete()
	} else {
		t.dirtyEnd = time.Now()
		if err := h.thr.ResumeAll(SuspendForGC); err != nil {
			h.log.Err().Err(err).Log("gcheap: resume-all (only pause) failed")
		}
		if priorityRaised {
			if !h.cfg.PriorityPolicy.Restore(self, priorityToken) {
				h.log.Warning().Log("gcheap: priority restore denied")
			}
		}
	}

	if h.cfg.AllocProfEnabled {
		h.counters.GCCount++
		h.threadCounter(self).GCCount++
	}

	h.logCycleSummary(reason, numObjectsFreed, numBytesFreed, t, concurrent)

	if h.ddmHeapInfo || h.ddmHeapSegments {
		h.log.Debug().Log("gcheap: ddm heap notification")
	}
}

// assertHeapWorkerResponsive is the watchdog check of spec.md §4.5 Phase P0:
// if the worker is wedged mid-finalization past a reasonable bound, abort
// the process — there is no recovery path for a stuck finalizer thread.
func (h *Heap) assertHeapWorkerResponsive() {
	h.workerMu.Lock()
	defer h.workerMu.Unlock()
	if h.workerCurrentObject == 0 {
		return
	}
	const watchdogLimit = 10 * time.Second
	if time.Since(h.workerStartTime) > watchdogLimit {
		panic(fmt.Sprintf("gcheap: heap worker wedged in %s for %s", h.workerCurrentMethod, time.Since(h.workerStartTime)))
	}
}

func (h *Heap) verifyRootsAndHeap() {
	h.log.Debug().Log("gcheap: verify roots and heap")
}

// promoteFinalizable drains the finalizable queue, keeping still-marked
// objects in place and moving unmarked ones to pendingFinalization after
// forcing their mark bit back on (spec.md §3 invariant 4: finalization
// resurrects the object for one cycle, so sweep must not reclaim it now).
// Callers must already hold heapWorkerListLock (collectLocked does, for the
// whole of Phases P1-P9).
func (h *Heap) promoteFinalizable() {
	survivors := h.finalizable.Snapshot()
	h.finalizable.Reset()
	for _, id := range survivors {
		if h.tracer.IsMarked(id) {
			h.finalizable.Append(id)
			continue
		}
		h.tracer.Resurrect(id)
		h.pendingFinalization.Append(id)
	}
}

func (h *Heap) scheduleTrim() {
	if h.trimCancel != nil {
		h.trimCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.trimCancel = cancel
	h.source.ScheduleTrim(ctx, int64(h.cfg.TrimDelay))
}
