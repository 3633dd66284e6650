// Package oommsg carries out-of-memory notifications from the frame
// allocator (mem.Physmem_t) to anything registered to listen for them.
package oommsg

/// OomCh is notified when the system runs out of memory. Sends are
/// non-blocking: a frame-starved allocator must not itself block waiting
/// for a listener, so the channel carries one slot of slack.
var OomCh chan Oommsg_t = make(chan Oommsg_t, 1)

/// Oommsg_t is sent on OomCh when memory is exhausted. mem's frame
/// allocator sends it with Resume left nil and does not wait for a reply;
/// the allocation that ran out fails without a retry.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}
