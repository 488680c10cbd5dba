package gcheap

import "strconv"

// logCycleSummary emits the per-cycle log record spec.md §6 describes:
// reason, freed bytes (rendered "<1K" below 1024 bytes, else rounded up to
// the nearest KB with a floor of 1), percent-free, allocated/footprint KB,
// and pause duration(s) — one for a stop-the-world cycle, two for
// concurrent. percentFree is 100 - 100*allocated/footprint, reported as 0
// for a zero footprint.
func (h *Heap) logCycleSummary(reason GCReason, numObjectsFreed int, numBytesFreed uintptr, t cycleTimes, concurrent bool) {
	currAllocated := h.source.Value(BytesAllocated)
	currFootprint := h.source.Value(Footprint)

	var percentFree int
	if currFootprint > 0 {
		percentFree = 100 - int(100*float64(currAllocated)/float64(currFootprint))
	}

	ev := h.log.Info().
		Field("reason", reason.String()).
		Field("freed", renderFreedBytes(numBytesFreed)).
		Field("objectsFreed", numObjectsFreed).
		Field("percentFree", percentFree).
		Field("allocatedKB", currAllocated/1024).
		Field("footprintKB", currFootprint/1024)

	if concurrent {
		rootTime := t.rootEnd.Sub(t.rootStart)
		dirtyTime := t.dirtyEnd.Sub(t.dirtyStart)
		ev.Field("pauseOneMS", rootTime.Milliseconds()).
			Field("pauseTwoMS", dirtyTime.Milliseconds())
	} else {
		markSweepTime := t.dirtyEnd.Sub(t.rootStart)
		ev.Field("pauseMS", markSweepTime.Milliseconds())
	}

	ev.Log("gcheap: gc cycle complete")
}

// renderFreedBytes implements spec.md §6's rendering rule.
func renderFreedBytes(numBytesFreed uintptr) string {
	if numBytesFreed < 1024 {
		return "<1K"
	}
	kb := (numBytesFreed + 1023) / 1024
	if kb == 0 {
		kb = 1
	}
	return strconv.FormatUint(uint64(kb), 10) + "K"
}
