// Package timer is the kernel's delay wheel: a global jiffy counter
// advanced by a periodic tick plus an expiry-ordered list of one-shot
// timer events (spec.md §4.6). sysc's Nanosleep sits on top of it.
//
// Grounded on spec.md §4.6 ("A single expiry-ordered list. timer_add
// inserts sorted; timer_del unlinks; timer_mod re-sorts. The tick fires
// every 1/HZ second (HZ=100). msleep(ms) computes
// jiffies+ceil(ms*HZ/1000)...") and original_source/include/proc/timer.h's
// timer_event_t{expires, func, data, list} shape, with
// create_timer/destroy_timer (one-shot timers backing a sleeping task)
// grounding After. The tick itself is driven by a real time.Ticker
// rather than a PIT-style hardware interrupt, since there is no
// hardware timer to program in this simulation; everything downstream
// of the tick (jiffies, the sorted list, callback dispatch) matches
// spec.md's description exactly.
package timer

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

/// HZ is the tick frequency: 100 ticks per second, per spec.md's
/// glossary definition of a jiffy.
const HZ = 100

const tickPeriod = time.Second / HZ

/// Event_t is one pending timer: fire Func(Data) once Expires jiffies
/// have elapsed. Grounded on
/// original_source/include/proc/timer.h's timer_event_t.
type Event_t struct {
	Expires uint64
	Func    func(interface{})
	Data    interface{}

	elem *list.Element // valid only while queued
}

/// Wheel_t is the kernel's single timer queue: a jiffy counter plus an
/// expiry-sorted list of pending events, matching spec.md §4.6's
/// invariant that "the global timer list is sorted ascending by
/// expiry; the head is scanned on every tick."
type Wheel_t struct {
	mu      sync.Mutex
	jiffies uint64
	events  *list.List // of *Event_t, ascending by Expires

	stop chan struct{}
	wg   sync.WaitGroup
}

/// New creates a stopped wheel; call Start to begin ticking.
func New() *Wheel_t {
	return &Wheel_t{events: list.New()}
}

/// Jiffies returns the current jiffy count.
func (w *Wheel_t) Jiffies() uint64 {
	return atomic.LoadUint64(&w.jiffies)
}

/// Start begins advancing jiffies once per 1/HZ second until Stop is
/// called. Each tick increments jiffies and dispatches every event
/// whose Expires has been reached, in expiry order, matching spec.md's
/// "scans expired timer events and fires their callbacks" tick
/// description.
func (w *Wheel_t) Start() {
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		t := time.NewTicker(tickPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				w.tick()
			case <-w.stop:
				return
			}
		}
	}()
}

/// Stop halts the ticking goroutine. Pending events are left queued.
func (w *Wheel_t) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *Wheel_t) tick() {
	now := atomic.AddUint64(&w.jiffies, 1)

	var fire []*Event_t
	w.mu.Lock()
	for e := w.events.Front(); e != nil; {
		ev := e.Value.(*Event_t)
		if ev.Expires > now {
			break
		}
		next := e.Next()
		w.events.Remove(e)
		ev.elem = nil
		fire = append(fire, ev)
		e = next
	}
	w.mu.Unlock()

	for _, ev := range fire {
		ev.Func(ev.Data)
	}
}

/// Add inserts ev into the timer list sorted ascending by Expires
/// (timer_add).
func (w *Wheel_t) Add(ev *Event_t) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.insertLocked(ev)
}

func (w *Wheel_t) insertLocked(ev *Event_t) {
	for e := w.events.Front(); e != nil; e = e.Next() {
		if e.Value.(*Event_t).Expires > ev.Expires {
			ev.elem = w.events.InsertBefore(ev, e)
			return
		}
	}
	ev.elem = w.events.PushBack(ev)
}

/// Del removes ev from the timer list if still queued (timer_del). It
/// is a no-op if ev already fired.
func (w *Wheel_t) Del(ev *Event_t) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ev.elem != nil {
		w.events.Remove(ev.elem)
		ev.elem = nil
	}
}

/// Mod re-schedules ev to a new expiry, re-sorting the list (timer_mod).
func (w *Wheel_t) Mod(ev *Event_t, newExpires uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ev.elem != nil {
		w.events.Remove(ev.elem)
		ev.elem = nil
	}
	ev.Expires = newExpires
	w.insertLocked(ev)
}

/// After schedules func(data) to run once, ceil(ms*HZ/1000) jiffies
/// from now, and returns the event so the caller can Del it early
/// (e.g. a sleep woken by a signal before its timeout). Grounded on
/// original_source/proc/timer.c's create_timer, adapted from a
/// kmalloc'd one-shot timer backing a dedicated task to a plain
/// callback closure.
func (w *Wheel_t) After(ms uint, fn func(interface{}), data interface{}) *Event_t {
	jifs := (uint64(ms)*HZ + 999) / 1000
	ev := &Event_t{Expires: w.Jiffies() + jifs, Func: fn, Data: data}
	w.Add(ev)
	return ev
}
