// Package fs's vfs.go carries the filesystem-independent layer spec.md
// §4.4 describes: the inode/superblock operation vtables of §4.3, a
// dentry cache with negative-dentry caching, a mount table, and path
// walk with mount-crossing and bounded symlink expansion. It is
// deliberately independent of any on-disk layout — blk.go/super.go
// (kept from the teacher) remain the buffer-cache and on-disk
// superblock-field layer a concrete driver like memfs builds on, but
// nothing here assumes a particular disk format, matching spec.md's
// "out of scope: concrete on-disk filesystem formats" and "every
// filesystem exposes a superblock ... pluggable filesystem driver
// contract."
package fs

import (
	"sync"

	"defs"
	"fdops"
	"stat"
	"ustr"
)

const maxSymlinks = 8

/// InodeOps_i is the namespace-level vtable spec.md §4.3 assigns to
/// every inode: lookups and the mutations that add/remove namespace
/// bindings.
type InodeOps_i interface {
	Lookup(name ustr.Ustr) (Inode_i, defs.Err_t)
	Create(name ustr.Ustr, mode int) (Inode_i, defs.Err_t)
	Mkdir(name ustr.Ustr, mode int) (Inode_i, defs.Err_t)
	Unlink(name ustr.Ustr) defs.Err_t
	Rmdir(name ustr.Ustr) defs.Err_t
	Rename(oldname ustr.Ustr, newdir Inode_i, newname ustr.Ustr) defs.Err_t
	Symlink(target ustr.Ustr, name ustr.Ustr) (Inode_i, defs.Err_t)
	Link(name ustr.Ustr, target Inode_i) defs.Err_t
}

/// Inode_i is the full per-file vtable: namespace operations plus the
/// file-level operations (open/stat/truncate) and the refcounting
/// lifecycle spec.md §3's Inode data model requires ("evicted only at
/// refcount 0").
type Inode_i interface {
	InodeOps_i
	Open(flags int) (fdops.Fdops_i, defs.Err_t)
	Stat(st *stat.Stat_t) defs.Err_t
	Truncate(newlen uint) defs.Err_t
	Readlink() (ustr.Ustr, defs.Err_t)
	Readdir() ([]Dirent_t, defs.Err_t)
	Chmod(mode int) defs.Err_t
	Chown(uid, gid int) defs.Err_t
	IsDir() bool
	IsSymlink() bool
	Ref()
	Unref() int
	Ino() int
}

/// Dirent_t is one directory entry as spec.md §4.4's readdir returns it:
/// a name, the inode number it's bound to, and a type tag so a caller
/// can distinguish a subdirectory from a plain file without an extra
/// Lookup+Stat round trip.
type Dirent_t struct {
	Name ustr.Ustr
	Ino  int
	Type uint8
}

// Dirent type tags: one per node kind (regular file, directory, symlink).
const (
	DT_UNKNOWN uint8 = 0
	DT_REG     uint8 = 1
	DT_DIR     uint8 = 2
	DT_LNK     uint8 = 3
)

/// SuperOps_i is the per-mount vtable: the filesystem driver contract
/// of spec.md §4.3 restricted to the superblock-level operations.
type SuperOps_i interface {
	Root() Inode_i
	Statfs() string
	Sync() defs.Err_t
}

/// Dentry_t binds a name to an inode (spec.md §3's Dentry). A nil
/// Inode is a legal "negative dentry" caching a failed lookup.
type Dentry_t struct {
	mu       sync.Mutex
	Name     ustr.Ustr
	Parent   *Dentry_t
	Inode    Inode_i
	refcnt   int
	children map[string]*Dentry_t
	mounted  *mount_t
}

func newDentry(name ustr.Ustr, parent *Dentry_t, ino Inode_i) *Dentry_t {
	return &Dentry_t{Name: name, Parent: parent, Inode: ino, refcnt: 1, children: make(map[string]*Dentry_t)}
}

/// Ref bumps the dentry's refcount.
func (d *Dentry_t) Ref() {
	d.mu.Lock()
	d.refcnt++
	d.mu.Unlock()
}

/// Unref drops the dentry's refcount. A dentry with a bound inode drops
/// the inode's own refcount too; an unreferenced dentry may linger in
/// its parent's child map (spec.md §3: "the dentry may linger until its
/// refcount drops"), so Unref never removes it from that map itself.
func (d *Dentry_t) Unref() {
	d.mu.Lock()
	d.refcnt--
	neg := d.refcnt <= 0
	ino := d.Inode
	d.mu.Unlock()
	if neg && ino != nil {
		ino.Unref()
	}
}

/// child looks up (and caches) name under d, calling into the bound
/// inode's Lookup on a cache miss.
func (d *Dentry_t) child(name ustr.Ustr) (*Dentry_t, defs.Err_t) {
	key := name.String()
	d.mu.Lock()
	if c, ok := d.children[key]; ok {
		d.mu.Unlock()
		c.Ref()
		return c, 0
	}
	ino := d.Inode
	d.mu.Unlock()

	if ino == nil {
		return nil, -defs.ENOTDIR
	}
	found, err := ino.Lookup(name)
	var c *Dentry_t
	if err != 0 {
		if err != -defs.ENOENT {
			return nil, err
		}
		c = newDentry(name, d, nil) // negative dentry
	} else {
		found.Ref()
		c = newDentry(name, d, found)
	}
	d.mu.Lock()
	if existing, ok := d.children[key]; ok {
		d.mu.Unlock()
		existing.Ref()
		return existing, 0
	}
	d.children[key] = c
	d.mu.Unlock()
	c.Ref()
	if c.Inode == nil {
		return c, -defs.ENOENT
	}
	return c, 0
}

/// invalidate drops d's cached child so the next lookup re-queries the
/// inode; used after create/unlink/rename/mkdir/rmdir/symlink/link.
func (d *Dentry_t) invalidate(name ustr.Ustr) {
	d.mu.Lock()
	delete(d.children, name.String())
	d.mu.Unlock()
}

type mount_t struct {
	sb   SuperOps_i
	root *Dentry_t
}

/// MountTable_t binds mount-point dentries to mounted superblocks
/// (spec.md §3's Superblock & mount).
type MountTable_t struct {
	mu     sync.Mutex
	root   *Dentry_t
	mounts map[*Dentry_t]*mount_t
}

/// NewMountTable creates a mount table whose / is rootSb's root inode.
func NewMountTable(rootSb SuperOps_i) *MountTable_t {
	mt := &MountTable_t{mounts: make(map[*Dentry_t]*mount_t)}
	mt.root = newDentry(ustr.MkUstrRoot(), nil, rootSb.Root())
	mt.mounts[mt.root] = &mount_t{sb: rootSb, root: mt.root}
	return mt
}

/// Root returns the table's root dentry.
func (mt *MountTable_t) Root() *Dentry_t {
	return mt.root
}

/// Mount binds sb's root inode at mountpoint, replacing path-walk
/// traversal through mountpoint with a jump to the mounted
/// superblock's root dentry (spec.md §3: "crossing a mount point
/// during path walk replaces the current dentry with the mounted
/// superblock's root dentry").
func (mt *MountTable_t) Mount(mountpoint *Dentry_t, sb SuperOps_i) defs.Err_t {
	if !mountpoint.Inode.IsDir() {
		return -defs.ENOTDIR
	}
	root := newDentry(ustr.MkUstrRoot(), mountpoint.Parent, sb.Root())
	mt.mu.Lock()
	mountpoint.mu.Lock()
	mountpoint.mounted = &mount_t{sb: sb, root: root}
	mountpoint.mu.Unlock()
	mt.mounts[mountpoint] = mountpoint.mounted
	mt.mu.Unlock()
	return 0
}

func crossMount(d *Dentry_t) *Dentry_t {
	d.mu.Lock()
	m := d.mounted
	d.mu.Unlock()
	if m == nil {
		return d
	}
	return m.root
}

/// Walk resolves path starting at start (root, cwd, or a dirfd's
/// dentry), per spec.md §4.4's Path walk algorithm: split on '/',
/// resolve each component via the parent inode's lookup, cross mount
/// points, expand symlinks up to maxSymlinks deep, and treat '..' at a
/// mounted root as climbing back to the covering dentry.
func (mt *MountTable_t) Walk(start *Dentry_t, path ustr.Ustr, followLast bool) (*Dentry_t, defs.Err_t) {
	return mt.walk(start, path, followLast, 0)
}

func (mt *MountTable_t) walk(start *Dentry_t, path ustr.Ustr, followLast bool, depth int) (*Dentry_t, defs.Err_t) {
	cur := start
	if path.IsAbsolute() {
		cur = mt.root
	}
	cur.Ref()
	comps := path.Split()
	for i, c := range comps {
		cur = crossMount(cur)
		if c.Isdotdot() {
			if cur.Parent != nil {
				next := cur.Parent
				next.Ref()
				cur.Unref()
				cur = next
			}
			continue
		}
		if c.Isdot() {
			continue
		}
		if cur.Inode == nil {
			cur.Unref()
			return nil, -defs.ENOENT
		}
		if !cur.Inode.IsDir() {
			cur.Unref()
			return nil, -defs.ENOTDIR
		}
		next, err := cur.child(c)
		cur.Unref()
		if err != 0 {
			return nil, err
		}
		cur = next

		last := i == len(comps)-1
		if cur.Inode != nil && cur.Inode.IsSymlink() && (!last || followLast) {
			if depth >= maxSymlinks {
				cur.Unref()
				return nil, -defs.ELOOP
			}
			target, err := cur.Inode.Readlink()
			cur.Unref()
			if err != 0 {
				return nil, err
			}
			base := cur.Parent
			if target.IsAbsolute() {
				base = mt.root
			}
			resolved, err := mt.walk(base, target, true, depth+1)
			if err != 0 {
				return nil, err
			}
			cur = resolved
		}
	}
	return cur, 0
}

/// DentryFd_i is implemented by any Fdops_i backed by a bound dentry
/// (both dirFdops_t and fileFdEntry_t), so path walk can recover the
/// starting dentry from a task's cwd/root fd.Cwd_t without threading
/// *Dentry_t through fd.Fd_t itself, and fstat can recover a dentry's
/// inode from any open descriptor regardless of file type.
type DentryFd_i interface {
	Dentry() *Dentry_t
}

/// dirFdops_t is the Fdops_i bound to an open directory descriptor.
/// Directories are not readable/writable as byte streams in this
/// design (readdir goes through a dedicated call, not Read); only
/// Poll/Close/Reopen/Dentry do real work.
type dirFdops_t struct {
	d *Dentry_t
}

func (df *dirFdops_t) Dentry() *Dentry_t { return df.d }

func (df *dirFdops_t) Read(dst fdops.Userio_i) (int, defs.Err_t)  { return 0, -defs.EISDIR }
func (df *dirFdops_t) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EISDIR }
func (df *dirFdops_t) Lseek(off, whence int) (int, defs.Err_t)    { return 0, -defs.ESPIPE }
func (df *dirFdops_t) Ioctl(cmd int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}
func (df *dirFdops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ, 0
}
func (df *dirFdops_t) Reopen() defs.Err_t {
	df.d.Ref()
	return 0
}
func (df *dirFdops_t) Close() defs.Err_t {
	df.d.Unref()
	return 0
}

func splitLast(path ustr.Ustr) (dir ustr.Ustr, name ustr.Ustr) {
	comps := path.Split()
	if len(comps) == 0 {
		return ustr.MkUstrRoot(), ustr.MkUstr()
	}
	name = comps[len(comps)-1]
	dir = ustr.MkUstr()
	if path.IsAbsolute() {
		dir = ustr.MkUstrRoot()
	}
	for _, c := range comps[:len(comps)-1] {
		dir = dir.Extend(c)
	}
	if len(dir) == 0 {
		dir = ustr.MkUstrDot()
	}
	return dir, name
}

/// Open resolves path per spec.md §4.4's Open algorithm: walk to the
/// target, create-if-missing under O_CREAT with mode &^ umask, and wrap
/// the resulting inode in its Fdops_i. Directories always get a
/// dirFdops_t regardless of flags.
func (mt *MountTable_t) Open(start *Dentry_t, path ustr.Ustr, flags, mode, umask int) (*Dentry_t, fdops.Fdops_i, defs.Err_t) {
	d, err := mt.Walk(start, path, true)
	if err == -defs.ENOENT && flags&defs.O_CREAT != 0 {
		dir, name := splitLast(path)
		if name.Isdot() || name.Isdotdot() || len(name) == 0 {
			return nil, nil, -defs.EINVAL
		}
		parent, perr := mt.Walk(start, dir, true)
		if perr != 0 {
			return nil, nil, perr
		}
		if !parent.Inode.IsDir() {
			parent.Unref()
			return nil, nil, -defs.ENOTDIR
		}
		ino, cerr := parent.Inode.Create(name, mode&^umask)
		parent.invalidate(name)
		parent.Unref()
		if cerr != 0 {
			return nil, nil, cerr
		}
		ino.Ref()
		d = newDentry(name, parent, ino)
	} else if err != 0 {
		return nil, nil, err
	} else if flags&defs.O_CREAT != 0 && flags&defs.O_EXCL != 0 {
		d.Unref()
		return nil, nil, -defs.EEXIST
	}

	if d.Inode == nil {
		d.Unref()
		return nil, nil, -defs.ENOENT
	}
	if flags&defs.O_DIRECTORY != 0 && !d.Inode.IsDir() {
		d.Unref()
		return nil, nil, -defs.ENOTDIR
	}
	if d.Inode.IsDir() {
		return d, &dirFdops_t{d: d}, 0
	}
	if flags&defs.O_TRUNC != 0 && (flags&(defs.O_WRONLY|defs.O_RDWR) != 0) {
		if terr := d.Inode.Truncate(0); terr != 0 {
			d.Unref()
			return nil, nil, terr
		}
	}
	fops, operr := d.Inode.Open(flags)
	if operr != 0 {
		d.Unref()
		return nil, nil, operr
	}
	return d, &fileFdEntry_t{Fdops_i: fops, d: d}, 0
}

/// fileFdEntry_t wraps a regular file's Fdops_i with the dentry-level
/// refcount bookkeeping Open/Close must balance (spec.md §8: "open(p)
/// followed by close leaves the inode refcount and dentry refcount
/// unchanged"). The wrapped Fdops_i already balances its own inode ref
/// (taken by Inode_i.Open, released by its own Close); this adds the
/// matching dentry ref/unref, mirroring dirFdops_t's Ref/Unref of d.
type fileFdEntry_t struct {
	fdops.Fdops_i
	d *Dentry_t
}

func (fe *fileFdEntry_t) Dentry() *Dentry_t { return fe.d }

func (fe *fileFdEntry_t) Reopen() defs.Err_t {
	fe.d.Ref()
	return fe.Fdops_i.Reopen()
}

func (fe *fileFdEntry_t) Close() defs.Err_t {
	fe.d.Unref()
	return fe.Fdops_i.Close()
}
