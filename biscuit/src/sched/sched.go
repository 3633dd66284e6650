// Package sched is the single-CPU cooperative scheduler (spec.md §4.5):
// a run queue chosen by a decaying-priority-counter heuristic, plus
// wait queues used by sleep/wake. Every task is a real goroutine; the
// "CPU" is modeled as a one-slot token a task's goroutine must hold
// before doing kernel work, handed off by Schedule — this is the
// explicit simulation spec.md's single-CPU model calls for, layered on
// top of (not replaced by) the real Go scheduler that runs the
// goroutines themselves.
//
// Grounded on original_source/include/proc/sched.h's
// init_scheduler/schedule/schedule_timeout/wait/wake_up/wake_up_all
// naming and spec.md §4.5's selection rule: "the chosen task is the
// RUNNING task with the highest counter. When all counters reach
// zero, all tasks' counters are recharged to (counter/2 + priority).
// Tie-break: FIFO by run-queue order."
//
// Scheds/Recharges/PickTime use stats.Counter_t/Cycles_t for
// compile-time-gated scheduler-internals visibility, the same role
// they play in the teacher's own profiling builds.
package sched

import (
	"sync"

	"defs"
	"stats"
)

/// Runnable_i is the minimal view of a task the scheduler and wait
/// queues need. proc.Task_t implements it; sched has no dependency on
/// proc, avoiding an import cycle (proc imports sched for
/// Schedule/WaitQueue_t).
type Runnable_i interface {
	Tid() defs.Tid_t
	Priority() int
	Counter() int
	SetCounter(int)
	State() defs.TaskState_t
	SetState(defs.TaskState_t)
}

type rqEntry struct {
	task  Runnable_i
	token chan struct{}
}

/// Sched_t is the run queue: every task ever entered, filtered by
/// State() == RUNNING at selection time rather than removed and
/// re-added on every sleep/wake, which is simpler and behaviorally
/// equivalent to maintaining a separate RUNNING-only list since the
/// run queue stays small in this kernel.
type Sched_t struct {
	mu   sync.Mutex
	runq []*rqEntry

	// Scheds and Recharges are compile-time-gated counters
	// (stats.Stats/stats.Timing are both false by default, so these
	// are no-ops in a normal build): how many times Schedule() handed
	// out the token, and how many times the whole run queue decayed to
	// zero and had to be recharged.
	Scheds    stats.Counter_t
	Recharges stats.Counter_t
	PickTime  stats.Cycles_t
}

/// New returns an empty scheduler.
func New() *Sched_t {
	return &Sched_t{}
}

/// Enter registers t on the run queue and returns the token channel
/// its goroutine must receive from before running kernel code. If the
/// run queue was empty, t is handed the CPU immediately.
func (s *Sched_t) Enter(t Runnable_i) chan struct{} {
	tok := make(chan struct{}, 1)
	s.mu.Lock()
	s.runq = append(s.runq, &rqEntry{task: t, token: tok})
	first := len(s.runq) == 1
	s.mu.Unlock()
	if first {
		tok <- struct{}{}
	}
	return tok
}

/// Leave removes t from the run queue permanently (task exit/reap).
func (s *Sched_t) Leave(t Runnable_i) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.runq {
		if e.task == t {
			s.runq = append(s.runq[:i], s.runq[i+1:]...)
			return
		}
	}
}

/// Tick charges cur's decaying counter downward by one tick and
/// reports whether a reschedule is now due, matching spec.md's timer
/// tick description: "charges the current task's counter (downward)
/// ... if the current task's counter reached zero, raises a need
/// reschedule flag."
func (s *Sched_t) Tick(cur Runnable_i) bool {
	c := cur.Counter() - 1
	if c < 0 {
		c = 0
	}
	cur.SetCounter(c)
	return c == 0
}

/// Schedule picks the next task to run via the priority-decay
/// heuristic and hands it the CPU token. It does not block the
/// caller; the caller is expected to have already arranged to give up
/// the CPU (by returning, or by blocking on its own token inside
/// WaitQueue_t.Wait).
func (s *Sched_t) Schedule() {
	start := stats.Rdtsc()
	s.mu.Lock()
	next := s.pickLocked()
	s.mu.Unlock()
	s.PickTime.Add(start)
	if next != nil {
		s.Scheds.Inc()
		next.token <- struct{}{}
	}
}

func (s *Sched_t) pickLocked() *rqEntry {
	var best *rqEntry
	for _, e := range s.runq {
		if e.task.State() != defs.RUNNING {
			continue
		}
		if best == nil || e.task.Counter() > best.task.Counter() {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	if best.task.Counter() <= 0 {
		s.rechargeLocked()
		return s.pickLocked()
	}
	return best
}

// rechargeLocked implements "counter/2 + priority" for every currently
// RUNNING task once the whole pool has decayed to zero.
func (s *Sched_t) rechargeLocked() {
	s.Recharges.Inc()
	for _, e := range s.runq {
		if e.task.State() == defs.RUNNING {
			e.task.SetCounter(e.task.Counter()/2 + e.task.Priority())
		}
	}
}

/// WaitQueue_t is an ordered list of tasks blocked on a condition
/// (spec.md §3's Wait queue). A task appears on at most one wait
/// queue at a time.
type WaitQueue_t struct {
	mu    sync.Mutex
	queue []Runnable_i
	s     *Sched_t
}

/// NewWaitQueue creates a wait queue serviced by s.
func (s *Sched_t) NewWaitQueue() *WaitQueue_t {
	return &WaitQueue_t{s: s}
}

/// Wait puts self to sleep on q, yields the CPU, and blocks the
/// calling goroutine until woken and rescheduled. interruptible
/// selects SLEEPING_INTERRUPTIBLE vs SLEEPING_UNINTERRUPTIBLE; the
/// caller (sleep's wrapper) is responsible for checking pending
/// signals and returning -EINTR per spec.md §4.5 when interruptible.
func (q *WaitQueue_t) Wait(self Runnable_i, tok chan struct{}, interruptible bool) {
	state := defs.SLEEPING_UNINTERRUPTIBLE
	if interruptible {
		state = defs.SLEEPING_INTERRUPTIBLE
	}
	self.SetState(state)
	q.mu.Lock()
	q.queue = append(q.queue, self)
	q.mu.Unlock()
	q.s.Schedule()
	<-tok
}

/// WakeOne wakes the head of q only (wake_up_one).
func (q *WaitQueue_t) WakeOne() {
	q.mu.Lock()
	if len(q.queue) == 0 {
		q.mu.Unlock()
		return
	}
	t := q.queue[0]
	q.queue = q.queue[1:]
	q.mu.Unlock()
	t.SetState(defs.RUNNING)
}

/// WakeAll sets every task on q to RUNNING (wake_up). Waking does not
/// itself hand over the CPU; the next Schedule call picks among all
/// RUNNING tasks including those just woken, permitting the spurious
/// wakeups spec.md §4.5 allows for.
func (q *WaitQueue_t) WakeAll() {
	q.mu.Lock()
	woken := q.queue
	q.queue = nil
	q.mu.Unlock()
	for _, t := range woken {
		t.SetState(defs.RUNNING)
	}
}

/// Len reports the number of tasks currently queued.
func (q *WaitQueue_t) Len() int {
	q.mu.Lock()
	n := len(q.queue)
	q.mu.Unlock()
	return n
}
