// Command vfsbridge mounts a booted kernel's in-memory root filesystem
// read-only on the host via FUSE, so a developer can `ls`/`cat` the
// live VFS tree with ordinary tools instead of writing a throwaway
// syscall-level test harness. It is a diagnostic consumer of the VFS
// contract (spec.md §4.3/§4.4), not part of the kernel's own critical
// path: nothing in sysc or proc imports this package.
package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	gofs "github.com/hanwen/go-fuse/v2/fs"

	"defs"
	"fdops"
	kfs "fs"
	"kernel"
	"stat"
	"ustr"
	"vm"
)

// errno converts a kernel defs.Err_t into the syscall.Errno go-fuse
// wants back from a node operation. The two numbering schemes agree
// (defs.EPERM==1, defs.ENOENT==2, ... mirror their libc counterparts),
// so this is a sign flip and a type conversion, not a translation
// table.
func errno(err defs.Err_t) syscall.Errno {
	if err == 0 {
		return 0
	}
	return syscall.Errno(-err)
}

func directFuseMode(typ uint8) uint32 {
	switch typ {
	case kfs.DT_DIR:
		return fuse.S_IFDIR
	case kfs.DT_LNK:
		return fuse.S_IFLNK
	default:
		return fuse.S_IFREG
	}
}

// bridgeNode is the fs.InodeEmbedder for one kernel inode. It holds no
// path; every operation goes straight through the bound kfs.Inode_i,
// so the tree stays live against kernel-side mutation between FUSE
// calls instead of being a point-in-time snapshot.
type bridgeNode struct {
	gofs.Inode
	ino kfs.Inode_i
}

var _ = (gofs.NodeLookuper)((*bridgeNode)(nil))
var _ = (gofs.NodeReaddirer)((*bridgeNode)(nil))
var _ = (gofs.NodeGetattrer)((*bridgeNode)(nil))
var _ = (gofs.NodeOpener)((*bridgeNode)(nil))
var _ = (gofs.NodeReadlinker)((*bridgeNode)(nil))

func (n *bridgeNode) statAttr(out *fuse.Attr) syscall.Errno {
	var st stat.Stat_t
	if err := n.ino.Stat(&st); err != 0 {
		return errno(err)
	}
	out.Mode = uint32(st.Mode())
	out.Size = st.Size()
	out.Ino = uint64(n.ino.Ino())
	return 0
}

func (n *bridgeNode) Getattr(ctx context.Context, f gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return n.statAttr(&out.Attr)
}

func (n *bridgeNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	child, err := n.ino.Lookup(ustr.Ustr(name))
	if err != 0 {
		return nil, errno(err)
	}
	if st := (&bridgeNode{ino: child}).statAttr(&out.Attr); st != 0 {
		return nil, st
	}
	stable := gofs.StableAttr{Mode: out.Attr.Mode & syscall.S_IFMT, Ino: uint64(child.Ino())}
	ch := n.NewInode(ctx, &bridgeNode{ino: child}, stable)
	return ch, 0
}

func (n *bridgeNode) Readdir(ctx context.Context) (gofs.DirStream, syscall.Errno) {
	ents, err := n.ino.Readdir()
	if err != 0 {
		return nil, errno(err)
	}
	list := make([]fuse.DirEntry, 0, len(ents))
	for _, e := range ents {
		list = append(list, fuse.DirEntry{
			Name: e.Name.String(),
			Ino:  uint64(e.Ino),
			Mode: directFuseMode(e.Type),
		})
	}
	return gofs.NewListDirStream(list), 0
}

func (n *bridgeNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.ino.Readlink()
	if err != 0 {
		return nil, errno(err)
	}
	return []byte(target.String()), 0
}

// bridgeHandle is the open-file state FUSE's Open hands back; it wraps
// the kfs.Inode_i's own Fdops_i and serializes Read calls, since a
// single Fdops_i (memfs's fileFdops_t) tracks one read/write position
// that FUSE's explicit byte-offset reads must reset before every call.
type bridgeHandle struct {
	mu   sync.Mutex
	fops fdops.Fdops_i
}

func (n *bridgeNode) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	fops, err := n.ino.Open(defs.O_RDONLY)
	if err != 0 {
		return nil, 0, errno(err)
	}
	return &bridgeHandle{fops: fops}, fuse.FOPEN_DIRECT_IO, 0
}

func (h *bridgeHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.fops.Lseek(int(off), defs.SEEK_SET); err != 0 {
		return nil, errno(err)
	}
	buf := make([]byte, len(dest))
	uio := new(vm.Fakeubuf_t)
	uio.Fake_init(buf)
	n, err := h.fops.Read(uio)
	if err != 0 {
		return nil, errno(err)
	}
	return fuse.ReadResultData(buf[:n]), 0
}

var _ = (gofs.FileReader)((*bridgeHandle)(nil))

func (h *bridgeHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	return errno(h.fops.Close())
}

var _ = (gofs.FileReleaser)((*bridgeHandle)(nil))

func main() {
	mountpoint := flag.String("mountpoint", "", "host directory to mount the kernel's root filesystem on")
	frames := flag.Int("frames", 4096, "simulated physical frame count to boot the kernel with")
	flag.Parse()
	if *mountpoint == "" {
		log.Fatal("vfsbridge: -mountpoint is required")
	}

	k, _ := kernel.Boot(kernel.Config{PhysFrames: *frames})
	root := &bridgeNode{ino: k.Sysc.Vfs.Root().Inode}

	server, err := gofs.Mount(*mountpoint, root, &gofs.Options{})
	if err != nil {
		log.Fatalf("vfsbridge: mount: %v", err)
	}
	log.Printf("vfsbridge: kernel root mounted read-only at %s", *mountpoint)
	server.Wait()
}
