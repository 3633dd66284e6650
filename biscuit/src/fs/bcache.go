// Bcache_t is the VFS buffer cache: a table of cached disk blocks keyed
// by block number, backed by fs/blk.go's Bdev_block_t/Disk_i/Blockmem_i
// (the on-disk block shape and transport this package already carries)
// and hashtable.Hashtable_t (the teacher's one surviving generic table
// type) for the cache index. Concurrent misses on the same cold block
// are coalesced through a singleflight.Group, so two readers racing on
// the same block issue exactly one disk request between them.
package fs

import (
	"strconv"

	"golang.org/x/sync/singleflight"

	"hashtable"
)

type Bcache_t struct {
	table *hashtable.Hashtable_t
	group singleflight.Group
	mem   Blockmem_i
	disk  Disk_i
}

// MkBcache creates an empty buffer cache over disk, using mem to back
// each cached block's page.
func MkBcache(mem Blockmem_i, disk Disk_i) *Bcache_t {
	return &Bcache_t{table: hashtable.MkHash(64), mem: mem, disk: disk}
}

// Get returns the cached block for blockno, reading it from disk on a
// miss and caching the result. Each call bumps the block's Objref_t; the
// caller balances it with Put once done.
func (bc *Bcache_t) Get(blockno int) *Bdev_block_t {
	if v, ok := bc.table.Get(blockno); ok {
		b := v.(*Bdev_block_t)
		b.Ref.Up()
		return b
	}

	v, _, _ := bc.group.Do(strconv.Itoa(blockno), func() (interface{}, error) {
		if v, ok := bc.table.Get(blockno); ok {
			return v.(*Bdev_block_t), nil
		}
		b := MkBlock_newpage(blockno, "bcache", bc.mem, bc.disk, nil)
		b.Ref = &Objref_t{name: "bcache"}
		b.Read()
		bc.table.Set(blockno, b)
		return b, nil
	})
	// Callers coalesced by singleflight share v; each takes its own ref.
	b := v.(*Bdev_block_t)
	b.Ref.Up()
	return b
}

// Put releases the caller's reference to b, freeing its page once no
// borrower remains.
func (bc *Bcache_t) Put(b *Bdev_block_t) {
	if b.Ref.Down() == 0 {
		bc.table.Del(b.Block)
		b.Free_page()
	}
}

// Flush writes no blocks itself: this cache has no write-back buffering
// of its own (every write through Bdev_block_t.Write is synchronous),
// so Flush is a disk barrier: it
// issues a BDEV_FLUSH and waits for it to drain any in-flight requests.
func (bc *Bcache_t) Flush() {
	l := MkBlkList()
	req := MkRequest(l, BDEV_FLUSH, true)
	if bc.disk.Start(req) {
		<-req.AckCh
	}
}
