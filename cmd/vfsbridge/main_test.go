package main

import (
	"context"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"

	"defs"
	"kernel"
	"ustr"
)

func freshRoot(t *testing.T) (*kernel.Kernel_t, *bridgeNode) {
	k, _ := kernel.Boot(kernel.Config{PhysFrames: 256})
	return k, &bridgeNode{ino: k.Sysc.Vfs.Root().Inode}
}

func TestErrnoMapsKernelErrorsToLibcNumbers(t *testing.T) {
	if errno(0) != 0 {
		t.Fatalf("expected success to map to 0")
	}
	if got := errno(-defs.ENOENT); got != syscall.ENOENT {
		t.Fatalf("expected ENOENT, got %v", got)
	}
	if got := errno(-defs.ENOTDIR); got != syscall.ENOTDIR {
		t.Fatalf("expected ENOTDIR, got %v", got)
	}
}

func TestDirectFuseModeTagsMatchDirentTypes(t *testing.T) {
	if directFuseMode(2 /* fs.DT_DIR */) != fuse.S_IFDIR {
		t.Fatalf("expected DT_DIR to map to S_IFDIR")
	}
	if directFuseMode(3 /* fs.DT_LNK */) != fuse.S_IFLNK {
		t.Fatalf("expected DT_LNK to map to S_IFLNK")
	}
	if directFuseMode(1 /* fs.DT_REG */) != fuse.S_IFREG {
		t.Fatalf("expected DT_REG to map to S_IFREG")
	}
}

func TestBridgeNodeStatAttrReflectsKernelInode(t *testing.T) {
	_, root := freshRoot(t)
	ctx := context.Background()

	child, kerr := root.ino.Create(ustr.Ustr("greeting"), 0644)
	if kerr != 0 {
		t.Fatalf("create: %v", kerr)
	}
	fops, kerr := child.Open(defs.O_RDWR)
	if kerr != 0 {
		t.Fatalf("open: %v", kerr)
	}
	wb := &fakeUserio{}
	wb.data = []byte("hello")
	if _, kerr := fops.Write(wb); kerr != 0 {
		t.Fatalf("write: %v", kerr)
	}

	var attr fuse.Attr
	cn := &bridgeNode{ino: child}
	if errno := cn.statAttr(&attr); errno != 0 {
		t.Fatalf("statAttr: %v", errno)
	}
	if attr.Size != 5 {
		t.Fatalf("expected size 5, got %d", attr.Size)
	}

	h := &bridgeHandle{fops: fops}
	res, rerrno := h.Read(ctx, make([]byte, 5), 0)
	if rerrno != 0 {
		t.Fatalf("read: %v", rerrno)
	}
	data, status := res.Bytes(make([]byte, 5))
	if status != fuse.OK {
		t.Fatalf("unexpected read status: %v", status)
	}
	if string(data) != "hello" {
		t.Fatalf("expected hello, got %q", data)
	}
	if errno := h.Release(ctx); errno != 0 {
		t.Fatalf("release: %v", errno)
	}
}

func TestBridgeNodeReaddirListsChildrenWithTypeTags(t *testing.T) {
	_, root := freshRoot(t)
	if _, kerr := root.ino.Create(ustr.Ustr("a"), 0644); kerr != 0 {
		t.Fatalf("create a: %v", kerr)
	}
	if _, kerr := root.ino.Mkdir(ustr.Ustr("sub"), 0755); kerr != 0 {
		t.Fatalf("mkdir sub: %v", kerr)
	}

	ds, errno := root.Readdir(context.Background())
	if errno != 0 {
		t.Fatalf("readdir: %v", errno)
	}
	var names []string
	for ds.HasNext() {
		e, errno := ds.Next()
		if errno != 0 {
			t.Fatalf("next: %v", errno)
		}
		names = append(names, e.Name)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 entries, got %v", names)
	}
}

// fakeUserio is a minimal fdops.Userio_i for driving a fileFdops_t's
// Write directly in a test, mirroring vm.Fakeubuf_t's shape.
type fakeUserio struct {
	data []byte
	off  int
}

func (f *fakeUserio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, f.data[f.off:])
	f.off += n
	return n, 0
}
func (f *fakeUserio) Uiowrite(src []uint8) (int, defs.Err_t) {
	f.data = append(f.data, src...)
	return len(src), 0
}
func (f *fakeUserio) Remain() int  { return len(f.data) - f.off }
func (f *fakeUserio) Totalsz() int { return len(f.data) }
