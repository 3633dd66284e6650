package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAfterFiresOnce(t *testing.T) {
	w := New()
	w.Start()
	defer w.Stop()

	var fired int32
	w.After(20, func(interface{}) { atomic.AddInt32(&fired, 1) }, nil)

	time.Sleep(200 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected exactly one fire, got %d", fired)
	}
}

func TestDelCancelsBeforeFire(t *testing.T) {
	w := New()
	w.Start()
	defer w.Stop()

	var fired int32
	ev := w.After(500, func(interface{}) { atomic.AddInt32(&fired, 1) }, nil)
	w.Del(ev)

	time.Sleep(700 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("expected cancelled timer not to fire, got %d", fired)
	}
}

func TestEventsFireInExpiryOrder(t *testing.T) {
	w := New()
	w.Start()
	defer w.Stop()

	order := make(chan int, 3)
	w.After(30, func(interface{}) { order <- 3 }, nil)
	w.After(10, func(interface{}) { order <- 1 }, nil)
	w.After(20, func(interface{}) { order <- 2 }, nil)

	time.Sleep(300 * time.Millisecond)
	close(order)
	var got []int
	for v := range order {
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected firing order [1 2 3], got %v", got)
	}
}

func TestJiffiesAdvance(t *testing.T) {
	w := New()
	w.Start()
	defer w.Stop()

	start := w.Jiffies()
	time.Sleep(150 * time.Millisecond)
	if w.Jiffies() <= start {
		t.Fatalf("expected jiffies to advance past %d", start)
	}
}
