// Package jobs implements the three job-submission disciplines the control
// thread uses to mutate engine state: async (fire-and-forget), const
// (blocking barrier) and synchronized (blocking, but delivered through the
// async stack so the mutation is visible to the very next render). All
// three are thin wrappers over the same lock-free stack.Stack primitive.
package jobs

import (
	"sync/atomic"

	"github.com/ritschwumm/anklang/internal/stack"
)

// Node is a closure plus the intrusive next-pointer the stack needs. Fn
// runs on the engine thread when the node is drained. Cleanup, if set, runs
// on the control thread once the node reaches the trash path -- the Go
// analogue of "destructors never run on the audio thread": any release
// work a job's closure implies (closing a file, dropping a driver) is
// deferred here instead of happening inline in Fn.
type Node struct {
	next    atomic.Pointer[Node]
	Fn      func()
	Cleanup func()
}

func (n *Node) NextPtr() *atomic.Pointer[Node] { return &n.next }

// TrashQueue is the control-thread side of the trash path (§4.5/§4.9/§4.7
// rule 4): Queue.Drain hands every node carrying a Cleanup here instead of
// running it inline on the engine thread, and the control thread later
// calls Drain to run them, the Go analogue of "destructors never run on
// the audio thread."
type TrashQueue struct {
	stack stack.Stack[Node, *Node]
}

// NewTrashQueue constructs an empty trash stack.
func NewTrashQueue() *TrashQueue { return &TrashQueue{} }

func (t *TrashQueue) push(n *Node) { t.stack.Push(n) }

// Empty is a non-authoritative peek at the underlying stack.
func (t *TrashQueue) Empty() bool { return t.stack.Empty() }

// Drain pops every trashed node and runs its Cleanup. Intended to run on
// the control thread, never on the engine thread.
func (t *TrashQueue) Drain() {
	for n := t.stack.PopReversed(); n != nil; n = n.next.Load() {
		if n.Cleanup != nil {
			n.Cleanup()
		}
	}
}

// Queue is the common machinery shared by all three disciplines: a stack,
// a wake callback invoked on the empty->non-empty transition, a started
// flag (jobs submitted before the engine thread exists run inline on the
// calling goroutine), and the trash queue any drained Cleanup is handed to.
type Queue struct {
	stack   stack.Stack[Node, *Node]
	wake    func()
	started *bool
	trash   *TrashQueue
}

// NewQueue constructs a queue that calls wake() whenever a push transitions
// the stack from empty to non-empty, that runs submissions inline until
// *started becomes true, and that hands drained Cleanup nodes to trash
// (nil is valid for a queue whose discipline never carries a Cleanup).
func NewQueue(wake func(), started *bool, trash *TrashQueue) *Queue {
	return &Queue{wake: wake, started: started, trash: trash}
}

func (q *Queue) push(n *Node) {
	if !*q.started {
		n.Fn()
		if n.Cleanup != nil {
			n.Cleanup()
		}
		return
	}
	if wasEmpty := q.stack.Push(n); wasEmpty {
		q.wake()
	}
}

// Drain pops every queued node in submission order and runs each Fn. A
// node carrying a Cleanup is handed to trash once its Fn has run, rather
// than discarded, so the control thread can dispose of it later.
func (q *Queue) Drain() {
	chain := q.stack.PopReversed()
	for n := chain; n != nil; {
		next := n.next.Load()
		n.Fn()
		if n.Cleanup != nil && q.trash != nil {
			q.trash.push(n)
		}
		n = next
	}
}

// Empty is a non-authoritative peek at the underlying stack.
func (q *Queue) Empty() bool { return q.stack.Empty() }

// AsyncQueue is the fire-and-forget discipline: Submit returns immediately,
// the closure runs on the engine thread at the next drain.
type AsyncQueue struct {
	*Queue
}

func NewAsyncQueue(wake func(), started *bool, trash *TrashQueue) *AsyncQueue {
	return &AsyncQueue{Queue: NewQueue(wake, started, trash)}
}

// Submit enqueues fn for the engine thread with no cleanup obligation.
func (q *AsyncQueue) Submit(fn func()) {
	q.push(&Node{Fn: fn})
}

// SubmitWithCleanup enqueues fn for the engine thread, and arranges for
// cleanup to run on the control thread once the node is later drained from
// trash.
func (q *AsyncQueue) SubmitWithCleanup(fn func(), cleanup func()) {
	q.push(&Node{Fn: fn, Cleanup: cleanup})
}

// ConstQueue is the blocking-barrier discipline: Submit does not return
// until fn has run on the engine thread.
type ConstQueue struct {
	*Queue
}

// ConstQueue's discipline never carries a Cleanup (only AsyncQueue's
// SubmitWithCleanup and SynchronizedQueue, delivered through an
// AsyncQueue, do), so it is wired with no trash queue of its own.
func NewConstQueue(wake func(), started *bool) *ConstQueue {
	return &ConstQueue{Queue: NewQueue(wake, started, nil)}
}

// Submit blocks the calling (control) thread until fn has completed on the
// engine thread.
func (q *ConstQueue) Submit(fn func()) {
	if !*q.started {
		fn()
		return
	}
	done := make(chan struct{})
	q.push(&Node{Fn: func() {
		fn()
		close(done)
	}})
	<-done
}

// SynchronizedQueue is the blocking discipline delivered through a shared
// AsyncQueue's stack: the mutation becomes visible to the very next
// schedule_render because it is drained exactly where async jobs are,
// while the submitter still blocks until it has run.
type SynchronizedQueue struct {
	async   *AsyncQueue
	started *bool
}

func NewSynchronizedQueue(async *AsyncQueue, started *bool) *SynchronizedQueue {
	return &SynchronizedQueue{async: async, started: started}
}

// Submit blocks the calling thread until fn has run as part of the async
// drain on the engine thread.
func (q *SynchronizedQueue) Submit(fn func()) {
	if !*q.started {
		fn()
		return
	}
	done := make(chan struct{})
	q.async.push(&Node{Fn: func() {
		fn()
		close(done)
	}})
	<-done
}

// SubmitWithCleanup is SynchronizedQueue.Submit plus a control-thread
// cleanup deferred to the trash path, used by driver hot-swap to dispose of
// a replaced resource only after the swap has landed.
func (q *SynchronizedQueue) SubmitWithCleanup(fn func(), cleanup func()) {
	if !*q.started {
		fn()
		cleanup()
		return
	}
	done := make(chan struct{})
	q.async.push(&Node{
		Fn: func() {
			fn()
			close(done)
		},
		Cleanup: cleanup,
	})
	<-done
}
