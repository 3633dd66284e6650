package kernel

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"defs"
	"ustr"
	"vm"
)

func TestBootSpawnsInitAndStartsTimer(t *testing.T) {
	var console bytes.Buffer
	k, init := Boot(Config{PhysFrames: 512, Console: &console})
	defer k.Shutdown()

	if init == nil {
		t.Fatal("Boot returned a nil init task")
	}
	if k.Sysc == nil || k.Devices == nil {
		t.Fatal("Boot left Sysc/Devices unset")
	}
}

func TestConsoleDeviceWritesReachConsoleSink(t *testing.T) {
	var console bytes.Buffer
	k, _ := Boot(Config{PhysFrames: 512, Console: &console})
	defer k.Shutdown()

	fops, err := k.Devices.Open(defs.Mkdev(defs.MAJ_CONSOLE, defs.D_CONSOLE))
	if err != 0 {
		t.Fatalf("open console device: %v", err)
	}
	var src vm.Fakeubuf_t
	src.Fake_init([]byte("hello from init\n"))
	n, err := fops.Write(&src)
	if err != 0 || n != len("hello from init\n") {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if !strings.Contains(console.String(), "hello from init") {
		t.Fatalf("console sink missing write: %q", console.String())
	}
}

func TestDevnullDiscardsWritesAndReadsEOF(t *testing.T) {
	var console bytes.Buffer
	k, _ := Boot(Config{PhysFrames: 512, Console: &console})
	defer k.Shutdown()

	fops, err := k.Devices.Open(defs.Mkdev(defs.MAJ_MEM, defs.D_DEVNULL))
	if err != 0 {
		t.Fatalf("open /dev/null: %v", err)
	}
	var src vm.Fakeubuf_t
	src.Fake_init([]byte("discarded"))
	n, err := fops.Write(&src)
	if err != 0 || n != len("discarded") {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	var dst vm.Fakeubuf_t
	buf := make([]byte, 16)
	dst.Fake_init(buf)
	n, err = fops.Read(&dst)
	if err != 0 || n != 0 {
		t.Fatalf("expected EOF read from /dev/null, got n=%d err=%v", n, err)
	}
}

func TestStatDeviceDumpsProcessTree(t *testing.T) {
	var console bytes.Buffer
	k, init := Boot(Config{PhysFrames: 512, Console: &console})
	defer k.Shutdown()

	fops, err := k.Devices.Open(defs.Mkdev(defs.MAJ_MEM, defs.D_STAT))
	if err != 0 {
		t.Fatalf("open stat device: %v", err)
	}
	var dst vm.Fakeubuf_t
	buf := make([]byte, 4096)
	dst.Fake_init(buf)
	n, err := fops.Read(&dst)
	if err != 0 {
		t.Fatalf("read stat device: %v", err)
	}
	line := string(buf[:n])
	want := "(task" + strconv.Itoa(int(init.Pid)) + ")"
	if !strings.Contains(line, want) {
		t.Fatalf("expected stat dump to mention %q, got %q", want, line)
	}
}

func TestProfDeviceReturnsNonemptyHeapProfile(t *testing.T) {
	var console bytes.Buffer
	k, _ := Boot(Config{PhysFrames: 512, Console: &console})
	defer k.Shutdown()

	fops, err := k.Devices.Open(defs.Mkdev(defs.MAJ_MEM, defs.D_PROF))
	if err != 0 {
		t.Fatalf("open prof device: %v", err)
	}
	var dst vm.Fakeubuf_t
	buf := make([]byte, 1<<16)
	dst.Fake_init(buf)
	n, err := fops.Read(&dst)
	if err != 0 || n == 0 {
		t.Fatalf("expected a nonempty heap profile: n=%d err=%v", n, err)
	}
}

func TestBootWiresInitCwdForRelativePaths(t *testing.T) {
	var console bytes.Buffer
	k, init := Boot(Config{PhysFrames: 512, Console: &console})
	defer k.Shutdown()

	if init.Cwd == nil || init.Cwd.Fd == nil {
		t.Fatal("expected Boot to bind init's cwd to a real root directory fd")
	}

	if err := k.Sysc.Mkdir(init, ustr.Ustr("rel"), 0755); err != 0 {
		t.Fatalf("mkdir with relative path: %v", err)
	}
	fdn, err := k.Sysc.Open(init, ustr.Ustr("rel/leaf"), defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open with relative path: %v", err)
	}
	k.Sysc.Close(init, fdn)
}

func TestDeviceTableRejectsUnknownMinor(t *testing.T) {
	var console bytes.Buffer
	k, _ := Boot(Config{PhysFrames: 512, Console: &console})
	defer k.Shutdown()

	_, err := k.Devices.Open(defs.Mkdev(defs.MAJ_MEM, 99))
	if err != -defs.ENXIO {
		t.Fatalf("expected ENXIO for unknown minor, got %v", err)
	}
}
