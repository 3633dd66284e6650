package fs

import "sync/atomic"

// Objref_t is the reference count a cached object (a Bdev_block_t, via
// its Ref field) carries so the cache and its borrowers agree on when
// the object is safe to evict. Grounded on the teacher's own cache-entry
// convention of pairing a payload struct with a separate refcount field
// rather than embedding atomic bookkeeping directly (mem.Refpg_new's
// pa-keyed refcount table plays the same role one layer down, in mem).
type Objref_t struct {
	name  string
	count int32
}

func mkObjref(name string) *Objref_t {
	return &Objref_t{name: name, count: 1}
}

// Up records a new borrower.
func (o *Objref_t) Up() {
	atomic.AddInt32(&o.count, 1)
}

// Down drops a borrower and returns the count remaining.
func (o *Objref_t) Down() int32 {
	return atomic.AddInt32(&o.count, -1)
}

// Count reports the current number of borrowers.
func (o *Objref_t) Count() int32 {
	return atomic.LoadInt32(&o.count)
}

func (o *Objref_t) Name() string { return o.name }
