package fs

import (
	"sync"
	"sync/atomic"
	"testing"

	"mem"
)

// fakeBlockmem is a Blockmem_i backed by plain heap allocation, enough
// to exercise Bcache_t without mem.Physmem_t's bitmap allocator.
type fakeBlockmem struct {
	mu    sync.Mutex
	pages map[mem.Pa_t]*mem.Bytepg_t
	next  mem.Pa_t
}

func newFakeBlockmem() *fakeBlockmem {
	return &fakeBlockmem{pages: make(map[mem.Pa_t]*mem.Bytepg_t), next: 1}
}

func (f *fakeBlockmem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pa := f.next
	f.next++
	pg := &mem.Bytepg_t{}
	f.pages[pa] = pg
	return pa, pg, true
}

func (f *fakeBlockmem) Free(pa mem.Pa_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pages, pa)
}

func (f *fakeBlockmem) Refup(pa mem.Pa_t) {}

// fakeDisk is a Disk_i storing block contents in memory, counting how
// many read requests actually reach it (to prove Bcache_t's caching and
// singleflight coalescing both work).
type fakeDisk struct {
	mu      sync.Mutex
	blocks  map[int][]byte
	nreads  int32
	nflush  int32
	readGate chan struct{}
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{blocks: make(map[int][]byte)}
}

func (d *fakeDisk) Start(req *Bdev_req_t) bool {
	switch req.Cmd {
	case BDEV_READ:
		if d.readGate != nil {
			<-d.readGate
		}
		atomic.AddInt32(&d.nreads, 1)
		req.Blks.Apply(func(b *Bdev_block_t) {
			d.mu.Lock()
			content, ok := d.blocks[b.Block]
			d.mu.Unlock()
			if ok {
				copy(b.Data[:], content)
			}
		})
	case BDEV_WRITE:
		req.Blks.Apply(func(b *Bdev_block_t) {
			d.mu.Lock()
			cp := append([]byte(nil), b.Data[:]...)
			d.blocks[b.Block] = cp
			d.mu.Unlock()
		})
	case BDEV_FLUSH:
		atomic.AddInt32(&d.nflush, 1)
	}
	if req.Sync {
		go func() { req.AckCh <- true }()
	}
	return true
}

func (d *fakeDisk) Stats() string { return "fakeDisk" }

func TestBcacheGetCachesBlock(t *testing.T) {
	disk := newFakeDisk()
	disk.blocks[5] = []byte("hello block 5")
	bc := MkBcache(newFakeBlockmem(), disk)

	b1 := bc.Get(5)
	if string(b1.Data[:13]) != "hello block 5" {
		t.Fatalf("unexpected block contents: %q", b1.Data[:13])
	}
	b2 := bc.Get(5)
	if b1 != b2 {
		t.Fatalf("expected second Get to return the cached block")
	}
	if disk.nreads != 1 {
		t.Fatalf("expected exactly one disk read, got %d", disk.nreads)
	}
}

func TestBcacheConcurrentMissesCoalesce(t *testing.T) {
	disk := newFakeDisk()
	disk.blocks[9] = []byte("shared cold block")
	disk.readGate = make(chan struct{})
	bc := MkBcache(newFakeBlockmem(), disk)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Bdev_block_t, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = bc.Get(9)
		}(i)
	}
	close(disk.readGate)
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("expected all concurrent Gets to share one cached block")
		}
	}
	if disk.nreads != 1 {
		t.Fatalf("expected concurrent misses to coalesce into one disk read, got %d", disk.nreads)
	}
}

func TestBcachePutFreesOnLastRelease(t *testing.T) {
	disk := newFakeDisk()
	disk.blocks[1] = []byte("x")
	bc := MkBcache(newFakeBlockmem(), disk)

	b := bc.Get(1)
	bc.Put(b)
	if _, ok := bc.table.Get(1); ok {
		t.Fatalf("expected block to be evicted after last Put")
	}
}

func TestBcacheFlushIssuesBarrier(t *testing.T) {
	disk := newFakeDisk()
	bc := MkBcache(newFakeBlockmem(), disk)
	bc.Flush()
	if disk.nflush != 1 {
		t.Fatalf("expected Flush to issue one BDEV_FLUSH, got %d", disk.nflush)
	}
}
