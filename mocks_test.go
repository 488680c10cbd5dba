package gcheap

import (
	"context"
	"sync"
)

// fakeSource is a minimal, in-memory HeapSource test double. Addresses are
// just a monotonically increasing counter scaled to look 8-byte aligned.
type fakeSource struct {
	mu sync.Mutex

	next      ObjectID
	sizes     map[ObjectID]uintptr
	live      map[ObjectID]bool
	allocated uintptr
	footprint uintptr
	growLimit uintptr

	failFastPath  bool // Alloc always fails (forces the ladder past step 2)
	failGrow      bool // AllocAndGrow always fails (forces terminal OOM)
	scheduledTrim bool
	shutdown      bool
}

func newFakeSource(growLimit uintptr) *fakeSource {
	return &fakeSource{
		sizes:     make(map[ObjectID]uintptr),
		live:      make(map[ObjectID]bool),
		footprint: growLimit,
		growLimit: growLimit,
		next:      8,
	}
}

func (s *fakeSource) Start(startSize, maxSize, growthLimit uintptr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.footprint = startSize
	s.growLimit = growthLimit
	return true
}

func (s *fakeSource) Alloc(size uintptr) (ObjectID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFastPath {
		return 0, false
	}
	if s.allocated+size > s.footprint {
		return 0, false
	}
	return s.allocLocked(size), true
}

func (s *fakeSource) AllocAndGrow(size uintptr) (ObjectID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGrow {
		return 0, false
	}
	if s.allocated+size > s.growLimit {
		return 0, false
	}
	if s.allocated+size > s.footprint {
		s.footprint = s.allocated + size
	}
	return s.allocLocked(size), true
}

func (s *fakeSource) allocLocked(size uintptr) ObjectID {
	id := s.next
	s.next += ObjectID((size + 7) &^ 7)
	if s.next < id+8 {
		s.next = id + 8
	}
	s.sizes[id] = size
	s.live[id] = true
	s.allocated += size
	return id
}

func (s *fakeSource) Contains(addr ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[addr]
}

func (s *fakeSource) ChunkSize(addr ObjectID) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizes[addr]
}

func (s *fakeSource) SwapBitmaps() {}

func (s *fakeSource) IdealFootprint() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.footprint
}

func (s *fakeSource) GrowForUtilization() {}

func (s *fakeSource) Value(key HeapSourceKey) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case BytesAllocated:
		return s.allocated
	case Footprint:
		return s.footprint
	default:
		return 0
	}
}

func (s *fakeSource) ScheduleTrim(ctx context.Context, delay HeapSourceDuration) {
	s.mu.Lock()
	s.scheduledTrim = true
	s.mu.Unlock()
}

func (s *fakeSource) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
}

func (s *fakeSource) ThreadShutdown() {}
func (s *fakeSource) PostFork()       {}

// free removes addr from the live set, simulating a sweep reclaiming it.
func (s *fakeSource) free(addr ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[addr] {
		delete(s.live, addr)
		s.allocated -= s.sizes[addr]
		delete(s.sizes, addr)
	}
}

// fakeTracer is a Tracer test double: every live object is "marked" unless
// explicitly listed in unmarked, modeling an object with no remaining
// reachable reference.
type fakeTracer struct {
	mu sync.Mutex

	source *fakeSource

	unmarked  map[ObjectID]bool
	resurrect map[ObjectID]bool

	beginFails bool

	soft, weak, phantom []ObjectID
	clearedSoft         []ObjectID
}

func newFakeTracer(source *fakeSource) *fakeTracer {
	return &fakeTracer{source: source, unmarked: make(map[ObjectID]bool), resurrect: make(map[ObjectID]bool)}
}

func (t *fakeTracer) BeginMarkStep(mode GCMode) bool { return !t.beginFails }
func (t *fakeTracer) MarkRootSet()                   {}
func (t *fakeTracer) ReMarkRootSet()                 {}
func (t *fakeTracer) ScanMarkedObjects()             {}
func (t *fakeTracer) ReScanMarkedObjects()           {}

func (t *fakeTracer) ProcessReferences(soft, weak, phantom []ObjectID, clearSoft bool) ReferenceDisposition {
	t.mu.Lock()
	defer t.mu.Unlock()
	var disp ReferenceDisposition
	if clearSoft {
		disp.ClearedSoft = append(disp.ClearedSoft, soft...)
	}
	return disp
}

func (t *fakeTracer) SweepSystemWeaks() {}

func (t *fakeTracer) SweepUnmarkedObjects(mode GCMode, concurrent bool) (int, uintptr) {
	t.mu.Lock()
	ids := make([]ObjectID, 0, len(t.unmarked))
	for id := range t.unmarked {
		if !t.resurrect[id] {
			ids = append(ids, id)
		}
	}
	t.unmarked = make(map[ObjectID]bool)
	t.mu.Unlock()

	var freed uintptr
	for _, id := range ids {
		freed += t.source.ChunkSize(id)
		t.source.free(id)
	}
	return len(ids), freed
}

func (t *fakeTracer) FinishMarkStep() {}

func (t *fakeTracer) IsMarked(id ObjectID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.unmarked[id]
}

func (t *fakeTracer) Resurrect(id ObjectID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resurrect[id] = true
	delete(t.unmarked, id)
}

// markUnmarked marks addr as unreachable for the next collection cycle.
func (t *fakeTracer) markUnmarked(addr ObjectID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unmarked[addr] = true
	// A fresh cycle's unreachability determination supersedes any earlier
	// resurrection — resurrect only blocks sweep for the one cycle in which
	// it was granted.
	delete(t.resurrect, addr)
}

// fakeThreads is a Threads test double backed by a simple map; it never
// actually parks goroutines (tests drive collection single-threaded), so
// SuspendAll/ResumeAll are no-ops beyond bookkeeping.
type fakeThreads struct {
	mu      sync.Mutex
	self    ThreadHandle
	status  map[ThreadHandle]ThreadStatus
	onList  map[ThreadHandle]bool

	suspendCalls int
	resumeCalls  int
}

func newFakeThreads(self ThreadHandle) *fakeThreads {
	return &fakeThreads{
		self:   self,
		status: map[ThreadHandle]ThreadStatus{self: ThreadRunning},
		onList: map[ThreadHandle]bool{self: true},
	}
}

func (f *fakeThreads) Self() ThreadHandle { return f.self }

func (f *fakeThreads) ChangeStatus(thread ThreadHandle, status ThreadStatus) ThreadStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.status[thread]
	f.status[thread] = status
	return old
}

func (f *fakeThreads) SuspendAll(reason SuspendReason) error {
	f.mu.Lock()
	f.suspendCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeThreads) ResumeAll(reason SuspendReason) error {
	f.mu.Lock()
	f.resumeCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeThreads) IsOnThreadList(thread ThreadHandle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onList[thread]
}

func (f *fakeThreads) SysThreadID(thread ThreadHandle) int64 { return int64(thread) }

// fakeCards is a CardTable test double.
type fakeCards struct {
	started  bool
	verifyOK bool
}

func newFakeCards() *fakeCards { return &fakeCards{verifyOK: true} }

func (c *fakeCards) Start(maxSize uintptr) bool { c.started = true; return true }
func (c *fakeCards) Shutdown()                  { c.started = false }
func (c *fakeCards) Clear()                     {}
func (c *fakeCards) Verify() bool                { return c.verifyOK }
