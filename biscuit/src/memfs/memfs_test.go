package memfs

import (
	"testing"

	"defs"
	"fs"
	"stat"
	"ustr"
)

func mkmt(t *testing.T) (*fs.MountTable_t, *Memfs_t) {
	mfs := NewMemfs()
	return fs.NewMountTable(mfs), mfs
}

type fakeBuf struct {
	data []uint8
	off  int
}

func mkbuf(s string) *fakeBuf { return &fakeBuf{data: []uint8(s)} }

func (b *fakeBuf) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, b.data[b.off:])
	b.off += n
	return n, 0
}
func (b *fakeBuf) Uiowrite(src []uint8) (int, defs.Err_t) {
	b.data = append(b.data, src...)
	return len(src), 0
}
func (b *fakeBuf) Remain() int  { return len(b.data) - b.off }
func (b *fakeBuf) Totalsz() int { return len(b.data) }

func TestCreateWriteReadRoundTrips(t *testing.T) {
	mt, _ := mkmt(t)
	root := mt.Root()

	_, fops, err := mt.Open(root, ustr.Ustr("/hello"), defs.O_CREAT|defs.O_RDWR, 0644, 0)
	if err != 0 {
		t.Fatalf("open: %v", err)
	}
	wb := mkbuf("hi there")
	n, err := fops.Write(wb)
	if err != 0 || n != 8 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	fops.Lseek(0, defs.SEEK_SET)
	buf := make([]uint8, 8)
	nr, err := fops.Read(&readSink{buf: buf})
	if err != 0 || nr != 8 || string(buf) != "hi there" {
		t.Fatalf("read back %q (n=%d err=%v)", buf, nr, err)
	}
}

type readSink struct {
	buf []uint8
	off int
}

func (r *readSink) Uioread(dst []uint8) (int, defs.Err_t) { return 0, 0 }
func (r *readSink) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(r.buf[r.off:], src)
	r.off += n
	return n, 0
}
func (r *readSink) Remain() int  { return len(r.buf) - r.off }
func (r *readSink) Totalsz() int { return len(r.buf) }

func TestMkdirThenOpenCreatesUnderIt(t *testing.T) {
	mt, _ := mkmt(t)
	root := mt.Root()

	if _, _, err := mt.Open(root, ustr.Ustr("/sub"), defs.O_DIRECTORY, 0, 0); err == 0 {
		t.Fatalf("expected /sub to not exist yet")
	}
	if _, err := root.Inode.Mkdir(ustr.Ustr("sub"), 0755); err != 0 {
		t.Fatalf("mkdir: %v", err)
	}
	d, _, err := mt.Open(root, ustr.Ustr("/sub"), defs.O_DIRECTORY, 0, 0)
	if err != 0 {
		t.Fatalf("open /sub: %v", err)
	}
	if !d.Inode.IsDir() {
		t.Fatalf("expected /sub to be a directory")
	}

	if _, _, err := mt.Open(d, ustr.Ustr("leaf"), defs.O_CREAT|defs.O_RDWR, 0644, 0); err != 0 {
		t.Fatalf("create under /sub: %v", err)
	}
}

func TestOexclFailsWhenFileExists(t *testing.T) {
	mt, _ := mkmt(t)
	root := mt.Root()
	_, _, err := mt.Open(root, ustr.Ustr("/a"), defs.O_CREAT|defs.O_RDWR, 0644, 0)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	_, _, err = mt.Open(root, ustr.Ustr("/a"), defs.O_CREAT|defs.O_EXCL|defs.O_RDWR, 0644, 0)
	if err != -defs.EEXIST {
		t.Fatalf("expected EEXIST, got %v", err)
	}
}

func TestUnlinkRemovesEntry(t *testing.T) {
	mt, _ := mkmt(t)
	root := mt.Root()
	_, _, err := mt.Open(root, ustr.Ustr("/b"), defs.O_CREAT|defs.O_RDWR, 0644, 0)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	if err := root.Inode.Unlink(ustr.Ustr("b")); err != 0 {
		t.Fatalf("unlink: %v", err)
	}
	_, _, err = mt.Open(root, ustr.Ustr("/b"), defs.O_RDONLY, 0, 0)
	if err != -defs.ENOENT {
		t.Fatalf("expected ENOENT after unlink, got %v", err)
	}
}

func TestLseekNegativeRejected(t *testing.T) {
	mt, _ := mkmt(t)
	root := mt.Root()
	_, fops, _ := mt.Open(root, ustr.Ustr("/c"), defs.O_CREAT|defs.O_RDWR, 0644, 0)
	if _, err := fops.Lseek(-1, defs.SEEK_SET); err != -defs.EINVAL {
		t.Fatalf("expected EINVAL for negative seek, got %v", err)
	}
}

func TestChmodChangesPermissionBitsNotKindBits(t *testing.T) {
	mt, _ := mkmt(t)
	root := mt.Root()

	d, _, err := mt.Open(root, ustr.Ustr("/perm"), defs.O_CREAT|defs.O_RDWR, 0644, 0)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	if err := d.Inode.Chmod(0600); err != 0 {
		t.Fatalf("chmod: %v", err)
	}
	var st stat.Stat_t
	if err := d.Inode.Stat(&st); err != 0 {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode()&0777 != 0600 {
		t.Fatalf("expected permission bits 0600, got %o", st.Mode()&0777)
	}
	if st.Mode()&0170000 != 0100000 {
		t.Fatalf("expected regular-file type bit preserved, got mode %o", st.Mode())
	}
}

func TestChownSentinelLeavesFieldUnchanged(t *testing.T) {
	mt, _ := mkmt(t)
	root := mt.Root()

	d, _, err := mt.Open(root, ustr.Ustr("/own"), defs.O_CREAT|defs.O_RDWR, 0644, 0)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	if err := d.Inode.Chown(42, 43); err != 0 {
		t.Fatalf("chown: %v", err)
	}
	if err := d.Inode.Chown(-1, 99); err != 0 {
		t.Fatalf("chown with -1 uid: %v", err)
	}
	var st stat.Stat_t
	if err := d.Inode.Stat(&st); err != 0 {
		t.Fatalf("stat: %v", err)
	}
	if st.Ruid() != 42 {
		t.Fatalf("expected uid to stay 42 after a -1 chown, got %d", st.Ruid())
	}
	if st.Rgid() != 99 {
		t.Fatalf("expected gid to become 99, got %d", st.Rgid())
	}
}

func TestReaddirSortedByNameWithTypeTags(t *testing.T) {
	mt, _ := mkmt(t)
	root := mt.Root()

	if _, _, err := mt.Open(root, ustr.Ustr("/w"), defs.O_CREAT|defs.O_RDWR, 0644, 0); err != 0 {
		t.Fatalf("create w: %v", err)
	}
	if _, err := root.Inode.Mkdir(ustr.Ustr("sub"), 0755); err != 0 {
		t.Fatalf("mkdir sub: %v", err)
	}

	ents, err := root.Inode.Readdir()
	if err != 0 {
		t.Fatalf("readdir: %v", err)
	}
	if len(ents) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ents))
	}
	if ents[0].Name.String() != "sub" || ents[0].Type != fs.DT_DIR {
		t.Fatalf("expected sub first with DT_DIR, got %+v", ents[0])
	}
	if ents[1].Name.String() != "w" || ents[1].Type != fs.DT_REG {
		t.Fatalf("expected w second with DT_REG, got %+v", ents[1])
	}
}
