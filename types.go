package gcheap

// ObjectID is an opaque, stable handle to a managed object. Concretely, it is
// the heap address the HeapSource returned for the allocation; the core
// never dereferences it, it only stores, compares, and hands it back to the
// HeapSource/Tracer.
type ObjectID uintptr

// AllocFlags is a bit set of allocation options, drawn from the flags a
// caller may pass to Allocate.
type AllocFlags uint8

const (
	// AllocFinalizable marks the object as an instance of a class that
	// overrides finalize(); it is appended to the finalizable queue on
	// successful allocation.
	AllocFinalizable AllocFlags = 1 << iota
	// AllocDontTrack skips adding the object to the calling thread's
	// tracked-allocation table, e.g. because the caller is about to publish
	// it into the root set itself, or the allocation is for a thread that
	// isn't on the thread list yet.
	AllocDontTrack
)

// Has reports whether all bits of want are set in f.
func (f AllocFlags) Has(want AllocFlags) bool { return f&want == want }

// GCReason identifies why a collection cycle was requested.
type GCReason int

const (
	// GCForMalloc is requested by the allocation ladder when the fast path
	// is exhausted; it runs a PARTIAL collection.
	GCForMalloc GCReason = iota
	// GCConcurrent runs the two-pause concurrent mark-sweep cycle.
	GCConcurrent
	// GCExplicit is requested by an external, host-initiated call; it runs
	// a FULL, stop-the-world collection.
	GCExplicit
)

func (r GCReason) String() string {
	switch r {
	case GCForMalloc:
		return "GC_FOR_MALLOC"
	case GCConcurrent:
		return "GC_CONCURRENT"
	case GCExplicit:
		return "GC_EXPLICIT"
	default:
		return "GC_UNKNOWN"
	}
}

// GCMode derives from GCReason: a malloc-triggered collection is PARTIAL,
// everything else is FULL.
type GCMode int

const (
	GCPartial GCMode = iota
	GCFull
)

func (m GCMode) String() string {
	if m == GCPartial {
		return "PARTIAL"
	}
	return "FULL"
}

func modeForReason(reason GCReason) GCMode {
	if reason == GCForMalloc {
		return GCPartial
	}
	return GCFull
}

// WorkerOp identifies the kind of work GetNextHeapWorkerObject handed out.
type WorkerOp int

const (
	WorkerNone WorkerOp = iota
	// WorkerEnqueue: a reference object needs its enqueue() semantics run.
	WorkerEnqueue
	// WorkerFinalize: an object's finalizer needs to run.
	WorkerFinalize
)

// ThreadStatus mirrors the small set of statuses the collector's suspension
// protocol cares about. Hosts embedding a richer thread-state machine need
// only ever observe/report these values to the core.
type ThreadStatus int

const (
	ThreadRunning ThreadStatus = iota
	ThreadWaitingOnVM
	ThreadSuspended
)

func (s ThreadStatus) String() string {
	switch s {
	case ThreadRunning:
		return "RUNNING"
	case ThreadWaitingOnVM:
		return "WAITING_ON_VM"
	case ThreadSuspended:
		return "SUSPENDED"
	default:
		return "UNKNOWN"
	}
}

// SuspendReason identifies why suspend-all/resume-all was requested, passed
// through to the Threads implementation unmodified.
type SuspendReason int

const (
	SuspendForGC SuspendReason = iota
)
