package fs_test

import (
	"testing"

	"defs"
	"fs"
	"memfs"
	"ustr"
)

func TestWalkResolvesNestedPath(t *testing.T) {
	mfs := memfs.NewMemfs()
	mt := fs.NewMountTable(mfs)
	root := mt.Root()

	if _, err := root.Inode.Mkdir(ustr.Ustr("a"), 0755); err != 0 {
		t.Fatalf("mkdir a: %v", err)
	}
	sub, err := mt.Walk(root, ustr.Ustr("/a"), true)
	if err != 0 {
		t.Fatalf("walk /a: %v", err)
	}
	if _, err := sub.Inode.Create(ustr.Ustr("f"), 0644); err != 0 {
		t.Fatalf("create f: %v", err)
	}
	leaf, err := mt.Walk(root, ustr.Ustr("/a/f"), true)
	if err != 0 {
		t.Fatalf("walk /a/f: %v", err)
	}
	if leaf.Inode.IsDir() {
		t.Fatalf("expected /a/f to be a regular file")
	}
}

func TestWalkDotDotClimbsToParent(t *testing.T) {
	mfs := memfs.NewMemfs()
	mt := fs.NewMountTable(mfs)
	root := mt.Root()
	root.Inode.Mkdir(ustr.Ustr("a"), 0755)

	d, err := mt.Walk(root, ustr.Ustr("/a/.."), true)
	if err != 0 {
		t.Fatalf("walk /a/..: %v", err)
	}
	if d.Inode.Ino() != root.Inode.Ino() {
		t.Fatalf("expected .. from /a to resolve back to root")
	}
}

func TestWalkMissingComponentReturnsEnoent(t *testing.T) {
	mfs := memfs.NewMemfs()
	mt := fs.NewMountTable(mfs)
	root := mt.Root()

	if _, err := mt.Walk(root, ustr.Ustr("/nope"), true); err != -defs.ENOENT {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}

func TestMountCrossesIntoMountedRoot(t *testing.T) {
	outer := memfs.NewMemfs()
	mt := fs.NewMountTable(outer)
	root := mt.Root()
	root.Inode.Mkdir(ustr.Ustr("mnt"), 0755)
	mountpoint, err := mt.Walk(root, ustr.Ustr("/mnt"), true)
	if err != 0 {
		t.Fatalf("walk /mnt: %v", err)
	}

	inner := memfs.NewMemfs()
	if _, err := inner.Root().Create(ustr.Ustr("foo"), 0644); err != 0 {
		t.Fatalf("create foo in inner fs: %v", err)
	}
	if err := mt.Mount(mountpoint, inner); err != 0 {
		t.Fatalf("mount: %v", err)
	}

	if _, err := mt.Walk(root, ustr.Ustr("/mnt/foo"), true); err != 0 {
		t.Fatalf("walk /mnt/foo after mount: %v", err)
	}
}

func TestSymlinkExpansion(t *testing.T) {
	mfs := memfs.NewMemfs()
	mt := fs.NewMountTable(mfs)
	root := mt.Root()
	root.Inode.Create(ustr.Ustr("target"), 0644)
	root.Inode.Symlink(ustr.Ustr("/target"), ustr.Ustr("link"))

	d, err := mt.Walk(root, ustr.Ustr("/link"), true)
	if err != 0 {
		t.Fatalf("walk /link: %v", err)
	}
	if d.Inode.IsSymlink() {
		t.Fatalf("expected symlink to be followed to its target")
	}
}
