package fs

import (
	"strings"
	"testing"

	"ustr"

	"memfs"
)

func TestProcSelfMountinfoRoundTrips(t *testing.T) {
	outer := memfs.NewMemfs()
	mt := NewMountTable(outer)
	root := mt.Root()
	root.Inode.Mkdir(ustr.Ustr("mnt"), 0755)
	mountpoint, err := mt.Walk(root, ustr.Ustr("/mnt"), true)
	if err != 0 {
		t.Fatalf("walk /mnt: %v", err)
	}
	inner := memfs.NewMemfs()
	if err := mt.Mount(mountpoint, inner); err != 0 {
		t.Fatalf("mount: %v", err)
	}

	text := mt.ProcSelfMountinfo()
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 mountinfo lines (root + /mnt), got %d:\n%s", len(lines), text)
	}

	var sawRoot, sawMnt bool
	for _, line := range lines {
		info, err := parseMountinfoLine(line)
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		if info.FSType != "memfs" {
			t.Fatalf("expected fstype memfs, got %q", info.FSType)
		}
		switch info.Mountpoint {
		case "/":
			sawRoot = true
		case "/mnt":
			sawMnt = true
		}
	}
	if !sawRoot || !sawMnt {
		t.Fatalf("expected to round-trip both / and /mnt, got:\n%s", text)
	}
}
