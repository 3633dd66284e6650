// Package memfs is an entirely in-memory filesystem driver: the
// concrete SuperOps_i/Inode_i implementation the fs package's VFS
// layer needs to be exercised, standing in for the disk-backed
// filesystems spec.md explicitly puts out of scope ("concrete on-disk
// filesystem formats"). It replaces the teacher's disk-image-backed
// Ufs_t/ahci_disk_t test harness (which drove a real ext2-like
// fs.Fs_t that never survived retrieval into this tree) with a driver
// that needs no backing device at all, while keeping the teacher's
// habit of a small glue layer translating a concrete backing store
// into the abstract vtables (vm/Fakeubuf_t-style buffers, fdops.Userio_i).
package memfs

import (
	"sort"
	"sync"
	"time"

	"defs"
	"fdops"
	"fs"
	"stat"
	"ustr"
)

/// node_t is both a directory and a regular-file/symlink inode,
/// distinguished by kind. Kept as one type (rather than three) because
/// every operation's error handling is identical modulo the kind check
/// spec.md §4.3's vtables already require at the call site.
type node_t struct {
	mfs *Memfs_t

	mu        sync.Mutex
	ino       int
	kind      kind_t
	mode      int
	uid       int
	gid       int
	data      []byte
	target    ustr.Ustr // symlink only
	children  map[string]*node_t
	nlink     int
	refcnt    int
	mtime     time.Time
}

type kind_t int

const (
	kindFile kind_t = iota
	kindDir
	kindSymlink
)

/// Memfs_t is the per-mount filesystem state: the root directory node
/// and a monotonic inode-number counter.
type Memfs_t struct {
	mu       sync.Mutex
	nextIno  int
	root     *node_t
}

/// NewMemfs creates an empty in-memory filesystem with a single root
/// directory.
func NewMemfs() *Memfs_t {
	mfs := &Memfs_t{nextIno: 2}
	mfs.root = &node_t{mfs: mfs, ino: 1, kind: kindDir, mode: 0755, children: make(map[string]*node_t), nlink: 2, refcnt: 1, mtime: time.Unix(0, 0)}
	return mfs
}

func (mfs *Memfs_t) allocIno() int {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	n := mfs.nextIno
	mfs.nextIno++
	return n
}

/// Root implements fs.SuperOps_i.
func (mfs *Memfs_t) Root() fs.Inode_i { return mfs.root }

/// Statfs implements fs.SuperOps_i with a fixed diagnostic string;
/// memfs has no fixed capacity to report honestly.
func (mfs *Memfs_t) Statfs() string { return "memfs 0 0 0" }

/// Sync implements fs.SuperOps_i. memfs has no backing store to flush
/// to.
func (mfs *Memfs_t) Sync() defs.Err_t { return 0 }

func (n *node_t) Ino() int      { return n.ino }
func (n *node_t) IsDir() bool     { return n.kind == kindDir }
func (n *node_t) IsSymlink() bool { return n.kind == kindSymlink }

func (n *node_t) Ref() {
	n.mu.Lock()
	n.refcnt++
	n.mu.Unlock()
}

func (n *node_t) Unref() int {
	n.mu.Lock()
	n.refcnt--
	r := n.refcnt
	n.mu.Unlock()
	return r
}

func (n *node_t) Stat(st *stat.Stat_t) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	st.Wino(uint(n.ino))
	mode := n.mode
	switch n.kind {
	case kindDir:
		mode |= 0040000
	case kindSymlink:
		mode |= 0120000
	default:
		mode |= 0100000
	}
	st.Wmode(uint(mode))
	st.Wsize(uint(len(n.data)))
	st.Wdev(0)
	st.Wrdev(0)
	st.Wuid(uint(n.uid))
	st.Wgid(uint(n.gid))
	return 0
}

/// Chmod implements fs.Inode_i: replaces the permission bits, leaving
/// the kind bits (set only by Stat) untouched.
func (n *node_t) Chmod(mode int) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = mode &^ 0170000
	return 0
}

/// Chown implements fs.Inode_i. A -1 uid or gid leaves that field
/// unchanged, matching chown(2)'s "either may be left unchanged by
/// specifying -1" convention.
func (n *node_t) Chown(uid, gid int) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	if uid != -1 {
		n.uid = uid
	}
	if gid != -1 {
		n.gid = gid
	}
	return 0
}

func (n *node_t) Truncate(newlen uint) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindFile {
		return -defs.EISDIR
	}
	if int(newlen) <= len(n.data) {
		n.data = n.data[:newlen]
		return 0
	}
	grown := make([]byte, newlen)
	copy(grown, n.data)
	n.data = grown
	return 0
}

func (n *node_t) Readlink() (ustr.Ustr, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindSymlink {
		return nil, -defs.EINVAL
	}
	return n.target, 0
}

/// Readdir implements fs.Inode_i: the bound directory's children,
/// sorted by name so repeated reads of an unchanged directory are
/// stable (spec.md §4.4's readdir has no ordering requirement beyond
/// that, so lexical order is as good as any and easiest to test).
func (n *node_t) Readdir() ([]fs.Dirent_t, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindDir {
		return nil, -defs.ENOTDIR
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	ents := make([]fs.Dirent_t, 0, len(names))
	for _, name := range names {
		c := n.children[name]
		ents = append(ents, fs.Dirent_t{Name: ustr.Ustr(name), Ino: c.ino, Type: direntType(c.kind)})
	}
	return ents, 0
}

func direntType(k kind_t) uint8 {
	switch k {
	case kindDir:
		return fs.DT_DIR
	case kindSymlink:
		return fs.DT_LNK
	default:
		return fs.DT_REG
	}
}

func (n *node_t) Lookup(name ustr.Ustr) (fs.Inode_i, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindDir {
		return nil, -defs.ENOTDIR
	}
	c, ok := n.children[name.String()]
	if !ok {
		return nil, -defs.ENOENT
	}
	return c, 0
}

func (n *node_t) newChildLocked(name ustr.Ustr, kind kind_t, mode int) *node_t {
	c := &node_t{mfs: n.mfs, ino: n.mfs.allocIno(), kind: kind, mode: mode, refcnt: 1, mtime: time.Unix(0, 0)}
	if kind == kindDir {
		c.children = make(map[string]*node_t)
		c.nlink = 2
	} else {
		c.nlink = 1
	}
	n.children[name.String()] = c
	return c
}

func (n *node_t) Create(name ustr.Ustr, mode int) (fs.Inode_i, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindDir {
		return nil, -defs.ENOTDIR
	}
	if _, ok := n.children[name.String()]; ok {
		return nil, -defs.EEXIST
	}
	return n.newChildLocked(name, kindFile, mode), 0
}

func (n *node_t) Mkdir(name ustr.Ustr, mode int) (fs.Inode_i, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindDir {
		return nil, -defs.ENOTDIR
	}
	if _, ok := n.children[name.String()]; ok {
		return nil, -defs.EEXIST
	}
	c := n.newChildLocked(name, kindDir, mode)
	n.nlink++
	return c, 0
}

func (n *node_t) Symlink(target ustr.Ustr, name ustr.Ustr) (fs.Inode_i, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindDir {
		return nil, -defs.ENOTDIR
	}
	if _, ok := n.children[name.String()]; ok {
		return nil, -defs.EEXIST
	}
	c := n.newChildLocked(name, kindSymlink, 0777)
	c.target = target
	return c, 0
}

func (n *node_t) Link(name ustr.Ustr, target fs.Inode_i) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindDir {
		return -defs.ENOTDIR
	}
	tn, ok := target.(*node_t)
	if !ok || tn.kind == kindDir {
		return -defs.EPERM
	}
	if _, ok := n.children[name.String()]; ok {
		return -defs.EEXIST
	}
	tn.mu.Lock()
	tn.nlink++
	tn.mu.Unlock()
	n.children[name.String()] = tn
	return 0
}

func (n *node_t) Unlink(name ustr.Ustr) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindDir {
		return -defs.ENOTDIR
	}
	c, ok := n.children[name.String()]
	if !ok {
		return -defs.ENOENT
	}
	if c.kind == kindDir {
		return -defs.EISDIR
	}
	delete(n.children, name.String())
	c.mu.Lock()
	c.nlink--
	c.mu.Unlock()
	return 0
}

func (n *node_t) Rmdir(name ustr.Ustr) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindDir {
		return -defs.ENOTDIR
	}
	c, ok := n.children[name.String()]
	if !ok {
		return -defs.ENOENT
	}
	if c.kind != kindDir {
		return -defs.ENOTDIR
	}
	c.mu.Lock()
	empty := len(c.children) == 0
	c.mu.Unlock()
	if !empty {
		return -defs.ENOTEMPTY
	}
	delete(n.children, name.String())
	n.nlink--
	return 0
}

func (n *node_t) Rename(oldname ustr.Ustr, newdir fs.Inode_i, newname ustr.Ustr) defs.Err_t {
	nd, ok := newdir.(*node_t)
	if !ok {
		return -defs.EINVAL
	}
	n.mu.Lock()
	c, ok := n.children[oldname.String()]
	if !ok {
		n.mu.Unlock()
		return -defs.ENOENT
	}
	delete(n.children, oldname.String())
	n.mu.Unlock()

	if nd != n {
		nd.mu.Lock()
	}
	nd.children[newname.String()] = c
	if nd != n {
		nd.mu.Unlock()
	}
	return 0
}

/// Open implements fs.Inode_i for regular files. Directories never
/// reach here (fs.MountTable_t.Open wraps directories in its own
/// dirFdops_t). Takes its own inode ref, balanced by fileFdops_t.Close's
/// Unref — the open file, not just the dentry binding, holds a
/// reference for as long as it stays open.
func (n *node_t) Open(flags int) (fdops.Fdops_i, defs.Err_t) {
	if n.kind == kindDir {
		return nil, -defs.EISDIR
	}
	n.Ref()
	return &fileFdops_t{n: n, appendMode: flags&defs.O_APPEND != 0}, 0
}

/// fileFdops_t is the per-open-file descriptor state: just a position,
/// since n.data holds the bytes (spec.md §3's Open file: "{inode,
/// current position, flags, refcount, operation vtable}" — refcount is
/// fd.Copyfd's job one layer up).
type fileFdops_t struct {
	mu         sync.Mutex
	n          *node_t
	pos        int
	appendMode bool
}

func (f *fileFdops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if f.pos >= len(f.n.data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(f.n.data[f.pos:])
	f.pos += n
	return n, err
}

func (f *fileFdops_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if f.appendMode {
		f.pos = len(f.n.data)
	}
	total := 0
	for src.Remain() > 0 {
		if f.pos > len(f.n.data) {
			grown := make([]byte, f.pos)
			copy(grown, f.n.data)
			f.n.data = grown
		}
		chunk := make([]byte, src.Remain())
		n, err := src.Uioread(chunk)
		if err != 0 {
			return total, err
		}
		if n == 0 {
			break
		}
		end := f.pos + n
		if end > len(f.n.data) {
			grown := make([]byte, end)
			copy(grown, f.n.data)
			f.n.data = grown
		}
		copy(f.n.data[f.pos:end], chunk[:n])
		f.pos = end
		total += n
	}
	return total, 0
}

func (f *fileFdops_t) Lseek(off, whence int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n.mu.Lock()
	sz := len(f.n.data)
	f.n.mu.Unlock()

	var newpos int
	switch whence {
	case defs.SEEK_SET:
		newpos = off
	case defs.SEEK_CUR:
		newpos = f.pos + off
	case defs.SEEK_END:
		newpos = sz + off
	default:
		return 0, -defs.EINVAL
	}
	if newpos < 0 {
		return 0, -defs.EINVAL
	}
	f.pos = newpos
	return newpos, 0
}

func (f *fileFdops_t) Ioctl(cmd int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}

func (f *fileFdops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ | fdops.R_WRITE, 0
}

func (f *fileFdops_t) Reopen() defs.Err_t {
	f.n.Ref()
	return 0
}

func (f *fileFdops_t) Close() defs.Err_t {
	f.n.Unref()
	return 0
}
