package gcheap

import "context"

// HeapSource is the page-managed allocator this module's collector front-end
// sits above. It owns raw allocation, footprint growth, and the live/mark
// bitmaps. Out of scope per spec.md §1 — consumed only via this interface.
type HeapSource interface {
	// Start constructs the heap source with the three sizing parameters
	// (spec.md §4.1/§6): startSize is the initial committed footprint,
	// maxSize the absolute ceiling, growthLimit the bound the "grow" ladder
	// steps may reach. ok is false if the host rejects the combination.
	Start(startSize, maxSize, growthLimit uintptr) bool
	// Alloc attempts an allocation without growing the footprint. It
	// returns (0, false) on failure.
	Alloc(size uintptr) (ObjectID, bool)
	// AllocAndGrow attempts an allocation, growing the footprint up to the
	// configured growth limit if necessary.
	AllocAndGrow(size uintptr) (ObjectID, bool)
	// Contains reports whether addr was allocated by this heap source and
	// is present in the live bitmap.
	Contains(addr ObjectID) bool
	// ChunkSize returns the allocated size of the object at addr.
	ChunkSize(addr ObjectID) uintptr
	// SwapBitmaps swaps the mark bitmap into the live role (Phase P7).
	SwapBitmaps()
	// IdealFootprint returns the heap source's sizing policy's ideal
	// footprint given current utilization.
	IdealFootprint() uintptr
	// GrowForUtilization lets the heap source adjust its internal growth
	// target now that sweep has established live-object utilization.
	GrowForUtilization()
	// Value reports a named counter; at minimum BytesAllocated and
	// Footprint must be supported.
	Value(key HeapSourceKey) uintptr
	// ScheduleTrim schedules (or reschedules, superseding any pending one)
	// a deferred trim of unused pages back to the OS.
	ScheduleTrim(ctx context.Context, delay HeapSourceDuration)
	Shutdown()
	ThreadShutdown()
	PostFork()
}

// HeapSourceKey enumerates the counters HeapSource.Value supports.
type HeapSourceKey int

const (
	BytesAllocated HeapSourceKey = iota
	Footprint
)

// HeapSourceDuration avoids importing time into the interface signature
// twice over (kept as its own type so mocks don't need the time package just
// to implement ScheduleTrim); it is always a time.Duration underneath.
type HeapSourceDuration = int64 // nanoseconds, see time.Duration

// Tracer performs mark-sweep tracing. Bitmap operations and object scanning
// are out of scope per spec.md §1 — consumed only via this interface.
type Tracer interface {
	// BeginMarkStep sets up marking context for mode; false means the
	// collector must abort (spec.md §7: "Watchdog: worker wedged" is the
	// only collector-internal abort; a failed BeginMarkStep is this
	// module's second).
	BeginMarkStep(mode GCMode) bool
	MarkRootSet()
	ReMarkRootSet()
	ScanMarkedObjects()
	ReScanMarkedObjects()
	// ProcessReferences partitions soft/weak/phantom reference objects
	// collected while scanning, per spec.md §4.5 Phase P5, clearing soft
	// references first if clearSoft is set.
	ProcessReferences(soft, weak, phantom []ObjectID, clearSoft bool) ReferenceDisposition
	SweepSystemWeaks()
	// SweepUnmarkedObjects frees everything live-but-not-marked, returning
	// the count and total bytes freed.
	SweepUnmarkedObjects(mode GCMode, concurrent bool) (numObjects int, numBytes uintptr)
	FinishMarkStep()

	// IsMarked reports whether id carries the current mark bit, i.e.
	// whether it was found reachable during this cycle's mark/scan phases.
	// Consulted only for objects on the finalizable queue, to decide the
	// finalizable -> pendingFinalization transition (spec.md §3 invariant
	// 4; the move must happen before sweep, not after).
	IsMarked(id ObjectID) bool
	// Resurrect forces id's mark bit on, so the upcoming sweep does not
	// reclaim it. Called for every object moved to pendingFinalization:
	// finalization resurrects the object for one more cycle.
	Resurrect(id ObjectID)
}

// ReferenceDisposition reports which reference objects the tracer decided
// must be enqueued, per spec.md §4.5 Phase P5.
type ReferenceDisposition struct {
	ClearedSoft   []ObjectID
	ClearedWeak   []ObjectID
	EnqueuePhantom []ObjectID
}

// Threads is the thread subsystem: suspend-all/resume-all, status
// transitions, self-identification. Out of scope per spec.md §1 — consumed
// only via this interface. The default implementation lives in
// internal/threadreg.
type Threads interface {
	Self() ThreadHandle
	ChangeStatus(thread ThreadHandle, status ThreadStatus) (old ThreadStatus)
	// SuspendAll blocks until every registered mutator (other than the
	// calling collector thread) has reached a safepoint and parked.
	SuspendAll(reason SuspendReason) error
	ResumeAll(reason SuspendReason) error
	IsOnThreadList(thread ThreadHandle) bool
	SysThreadID(thread ThreadHandle) int64
}

// ThreadHandle identifies a registered mutator or the collector thread
// itself. Its zero value never identifies a real thread.
type ThreadHandle int64

// PriorityPolicy models OS-level scheduling priority elevation/restoration
// around a non-concurrent collection cycle (spec.md §4.5 Phase P0, and
// SPEC_FULL's "Scheduling-policy elevation detail"). Raise returns a token
// to pass to Restore; ok is false if the OS denied the change (logged, not
// fatal per spec.md §7).
type PriorityPolicy interface {
	Raise(thread ThreadHandle) (token any, ok bool)
	Restore(thread ThreadHandle, token any) bool
}

// CardTable is the write-barrier's dirty-page log. Out of scope per
// spec.md §1 — consumed only via this interface.
type CardTable interface {
	Start(maxSize uintptr) bool
	Shutdown()
	Clear()
	Verify() bool
}
