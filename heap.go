// Package gcheap implements the managed-heap and garbage-collector
// front-end: the coordination layer above a page-managed heap source and a
// mark-sweep tracer. It services allocation requests, drives collection
// cycles, coordinates mutator suspension, tracks finalizable/reference
// objects for a background worker, and sizes the heap adaptively.
package gcheap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/joeycumines/go-gcheap/internal/ring"
)

// lifecycleState tracks the {uninitialized -> started -> post-fork ->
// shutdown} progression spec.md §3 describes for the GC heap singleton.
type lifecycleState int

const (
	stateUninitialized lifecycleState = iota
	stateStarted
	statePostFork
	stateShutdown
)

// Heap is the process-wide GC heap state described by spec.md §3. Construct
// with Start; a Heap is safe for concurrent use by multiple mutator
// goroutines and exactly one collector at a time.
type Heap struct { // betteralign:ignore
	cfg Config
	log *Logger

	source HeapSource
	tracer Tracer
	cards  CardTable
	thr    Threads

	// heapLock serializes mutation of the fields below and of the object
	// queues; acquiring it runs through LockHeap/UnlockHeap so the thread
	// subsystem can count a blocked acquirer as suspended (spec.md §4.2).
	heapLock sync.Mutex

	// gcRunning is true between the start and end of any collection cycle.
	// Invariant 1 (spec.md §3): transitions are made only under heapLock.
	gcRunning bool
	// gcGen increments every time a concurrent cycle completes; gcDoneCh is
	// closed and replaced on each increment, giving
	// WaitForConcurrentGCToComplete a
	// broadcast-once-then-recheck primitive without a raw sync.Cond,
	// matching the teacher's channel-broadcast idiom (see microbatch's
	// batcherState.done).
	gcGen    uint64
	gcDoneCh chan struct{}

	// heapWorkerLock blocks the worker from starting new finalizer/
	// reference work across a collection cycle (spec.md §3).
	heapWorkerLock sync.Mutex

	// heapWorkerListLock guards the three durable queues, always acquired
	// inside heapLock when both are needed (spec.md §5 Lock order).
	heapWorkerListLock sync.Mutex

	finalizable         *ring.Queue[ObjectID]
	pendingFinalization *ring.Queue[ObjectID]
	referenceOperations *ring.Queue[ObjectID]

	// transient, reset at the start of every cycle (spec.md §3).
	softReferences   *ring.Queue[ObjectID]
	weakReferences   *ring.Queue[ObjectID]
	phantomReferences *ring.Queue[ObjectID]

	// trackedAlloc roots objects the heap worker or a mutator is actively
	// holding a raw ObjectID for, so a concurrent sweep can't reclaim them
	// (spec.md §4.6, §4.3 step 5).
	trackedAlloc   map[ThreadHandle]map[ObjectID]int
	trackedAllocMu sync.Mutex

	// watchdog fields consulted when asserting the heap worker is
	// responsive during Phase P0 (spec.md §3).
	workerCurrentObject ObjectID
	workerCurrentMethod string
	workerStartTime     time.Time
	workerMu            sync.Mutex

	// per-process allocation-profiling counters (spec.md §3).
	counters Counters

	// per-thread allocation-profiling counters, the SPEC_FULL supplement.
	threadCounters   map[ThreadHandle]*Counters
	threadCountersMu sync.Mutex

	ddmHeapInfo     bool
	ddmHeapSegments bool

	oom oomState

	state   lifecycleState
	stateMu sync.Mutex

	trimCancel context.CancelFunc
}

// Counters mirrors spec.md §3's per-process/per-thread allocation-profiling
// fields.
type Counters struct {
	AllocCount       uint64
	AllocSize        uint64
	FailedAllocCount uint64
	FailedAllocSize  uint64
	GCCount          uint64
}

// Start constructs the heap source with the three sizing parameters,
// initializes queues, the card table, and heap-worker state (spec.md §4.1).
// If cfg.HeapGrowthLimit is zero it defaults to cfg.HeapMaximumSize.
func Start(cfg Config, source HeapSource, tracer Tracer, cards CardTable, threads Threads) (*Heap, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	if cfg.SetProcessLimits {
		setProcessLimits(cfg.logger())
	}

	if !source.Start(cfg.HeapStartingSize, cfg.HeapMaximumSize, cfg.HeapGrowthLimit) {
		return nil, fmt.Errorf("gcheap: heap source startup failed")
	}

	if !cards.Start(cfg.HeapMaximumSize) {
		return nil, fmt.Errorf("gcheap: card table startup failed")
	}

	h := &Heap{
		cfg:                 cfg,
		log:                 cfg.logger(),
		source:              source,
		tracer:              tracer,
		cards:               cards,
		thr:                 threads,
		gcDoneCh:            make(chan struct{}),
		finalizable:         ring.New[ObjectID](16),
		pendingFinalization: ring.New[ObjectID](16),
		referenceOperations: ring.New[ObjectID](16),
		softReferences:      ring.New[ObjectID](16),
		weakReferences:      ring.New[ObjectID](16),
		phantomReferences:   ring.New[ObjectID](16),
		trackedAlloc:        make(map[ThreadHandle]map[ObjectID]int),
		threadCounters:      make(map[ThreadHandle]*Counters),
		state:               stateStarted,
	}
	h.oom = oomState{
		throwing:  make(map[ThreadHandle]bool),
		delivered: make(map[ThreadHandle]*OOM),
	}

	h.log.Info().
		Field("startingSize", uint64(cfg.HeapStartingSize)).
		Field("maximumSize", uint64(cfg.HeapMaximumSize)).
		Field("growthLimit", uint64(cfg.HeapGrowthLimit)).
		Log("gcheap: started")

	return h, nil
}

func (c Config) logger() *Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return discardLogger()
}

// setProcessLimits best-effort aligns GOMAXPROCS/GOMEMLIMIT with the host's
// real container quota before the heap is sized, per SPEC_FULL's ambient
// startup stack. Failures are logged, never fatal (spec.md §7).
func setProcessLimits(log *Logger) {
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug().Field("source", "automaxprocs").Log(fmt.Sprintf(format, args...))
	})); err != nil {
		log.Warning().Err(err).Log("gcheap: automaxprocs.Set failed")
	}

	if _, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9)); err != nil {
		log.Warning().Err(err).Log("gcheap: automemlimit.SetGoMemLimitWithOpts failed")
	}
}

// PostFork performs any initialization that must happen after process fork
// (spec.md §4.1).
func (h *Heap) PostFork() {
	h.stateMu.Lock()
	h.state = statePostFork
	h.stateMu.Unlock()

	h.source.PostFork()
	h.log.Debug().Log("gcheap: post-fork")
}

// Shutdown releases all three durable queues, tears down the card table, and
// destroys the heap source (spec.md §4.1). Any stray ObjectID into the heap
// becomes invalid; the core does not attempt to detect post-shutdown use.
func (h *Heap) Shutdown() {
	h.LockHeap()
	defer h.UnlockHeap()

	h.stateMu.Lock()
	h.state = stateShutdown
	h.stateMu.Unlock()

	if h.trimCancel != nil {
		h.trimCancel()
	}

	h.heapWorkerListLock.Lock()
	h.finalizable.Reset()
	h.pendingFinalization.Reset()
	h.referenceOperations.Reset()
	h.heapWorkerListLock.Unlock()

	h.cards.Shutdown()
	h.source.Shutdown()

	h.log.Info().Log("gcheap: shutdown")
}

// ThreadShutdown stops internal collector threads (spec.md §4.1).
func (h *Heap) ThreadShutdown() {
	h.source.ThreadShutdown()
}
