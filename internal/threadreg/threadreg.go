// Package threadreg is a default, in-process implementation of the
// gcheap.Threads interface (spec.md §6 "Thread subsystem (consumed)"):
// cooperative suspend-all/resume-all over a registered set of mutator
// goroutines, plus self-identification and status tracking.
//
// A host is never required to use this package — gcheap.Threads is an
// interface precisely so a real runtime's thread subsystem can be wired in
// instead. This implementation exists for tests and for small, single-
// process hosts that want a working default.
package threadreg

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/go-gcheap"
)

type threadState struct {
	status ThreadStatus

	mu        sync.Mutex
	suspendCh chan struct{} // closed to request this thread park at its next Safepoint call
	parkedCh  chan struct{} // closed by the thread once parked
	resumeCh  chan struct{} // closed to release a parked thread
}

// ThreadStatus is an alias so callers of this package don't need to import
// gcheap directly just to spell the status constants.
type ThreadStatus = gcheap.ThreadStatus

// Registry implements gcheap.Threads over a set of explicitly registered
// goroutines, identified by the calling goroutine's runtime-assigned ID.
type Registry struct {
	mu      sync.Mutex
	threads map[gcheap.ThreadHandle]*threadState
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{threads: make(map[gcheap.ThreadHandle]*threadState)}
}

// Register attaches the calling goroutine as a mutator thread, returning its
// handle. The goroutine must call Safepoint periodically (e.g. once per
// interpreter loop iteration, or once per allocation) so the collector can
// suspend it; it must call Unregister before exiting.
func (r *Registry) Register() gcheap.ThreadHandle {
	h := gcheap.ThreadHandle(goroutineID())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[h] = &threadState{
		status:    gcheap.ThreadRunning,
		resumeCh:  closedChan(),
	}
	return h
}

// Unregister detaches thread, e.g. as it exits.
func (r *Registry) Unregister(thread gcheap.ThreadHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, thread)
}

// Safepoint must be called periodically by every registered mutator
// goroutine. If a suspend is outstanding, it parks until resumed.
func (r *Registry) Safepoint(thread gcheap.ThreadHandle) {
	r.mu.Lock()
	st, ok := r.threads[thread]
	r.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	suspendCh := st.suspendCh
	st.mu.Unlock()
	if suspendCh == nil {
		return
	}
	select {
	case <-suspendCh:
	default:
		return
	}

	st.mu.Lock()
	parkedCh := st.parkedCh
	resumeCh := st.resumeCh
	st.mu.Unlock()
	close(parkedCh)
	<-resumeCh
}

func (r *Registry) Self() gcheap.ThreadHandle {
	return gcheap.ThreadHandle(goroutineID())
}

func (r *Registry) ChangeStatus(thread gcheap.ThreadHandle, status gcheap.ThreadStatus) gcheap.ThreadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.threads[thread]
	if !ok {
		return gcheap.ThreadRunning
	}
	old := st.status
	st.status = status
	return old
}

func (r *Registry) IsOnThreadList(thread gcheap.ThreadHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.threads[thread]
	return ok
}

func (r *Registry) SysThreadID(thread gcheap.ThreadHandle) int64 {
	return int64(thread)
}

// SuspendAll fans the suspend request out over every registered thread
// (other than the caller) and blocks until each has either parked at its
// next Safepoint call, or was already ThreadWaitingOnVM — such a thread is
// blocked on the heap lock and cannot reach user code, so it counts as
// suspended without needing to park (spec.md §4.2, §5).
//
// golang.org/x/sync/errgroup is the fan-out/join primitive here, matching
// its use elsewhere in the example pack for bounded concurrent work.
func (r *Registry) SuspendAll(reason gcheap.SuspendReason) error {
	self := r.Self()

	r.mu.Lock()
	targets := make([]*threadState, 0, len(r.threads))
	for h, st := range r.threads {
		if h == self {
			continue
		}
		st.mu.Lock()
		if st.status == ThreadStatus(gcheap.ThreadWaitingOnVM) {
			st.mu.Unlock()
			continue
		}
		st.suspendCh = make(chan struct{})
		st.parkedCh = make(chan struct{})
		st.resumeCh = make(chan struct{})
		close(st.suspendCh)
		st.mu.Unlock()
		targets = append(targets, st)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, st := range targets {
		st := st
		g.Go(func() error {
			<-st.parkedCh
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("threadreg: suspend-all: %w", err)
	}
	return nil
}

// ResumeAll releases every thread parked by the most recent SuspendAll. A
// thread never suspended this round (suspendCh nil — either it was skipped
// as the caller or as ThreadWaitingOnVM) is left untouched.
func (r *Registry) ResumeAll(reason gcheap.SuspendReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.threads {
		st.mu.Lock()
		if st.suspendCh != nil {
			close(st.resumeCh)
			st.suspendCh = nil
		}
		st.mu.Unlock()
	}
	return nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// goroutineID parses the numeric goroutine ID out of a runtime stack trace.
// There is no supported API for this; it is the same technique used by
// several small debugging utilities in the wider ecosystem. It is used only
// as a stable per-goroutine identity for Self()/SysThreadID(), never for
// control flow correctness beyond identity comparison.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
