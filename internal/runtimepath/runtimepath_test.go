package runtimepath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir_UsesXDGRuntimeDirWhenSet(t *testing.T) {
	td := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", td)

	got, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if got != td {
		t.Fatalf("Dir() = %q, want %q", got, td)
	}
}

func TestDir_FallbacksWhenXDGRuntimeDirMissing(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")

	got, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if got == "" {
		t.Fatal("Dir() returned empty path")
	}

	wantRun := fmt.Sprintf("/run/user/%d", os.Getuid())
	wantTmp := fmt.Sprintf("/tmp/quartz-runtime-%d", os.Getuid())
	if got != wantRun && got != wantTmp {
		t.Fatalf("Dir() = %q, want %q or %q", got, wantRun, wantTmp)
	}
}

func TestSocketPath(t *testing.T) {
	td := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", td)

	socket, err := SocketPath()
	if err != nil {
		t.Fatalf("SocketPath() error: %v", err)
	}
	if !strings.HasSuffix(socket, "/quartz.sock") {
		t.Fatalf("SocketPath() = %q, missing suffix", socket)
	}
}

func TestGraphicsNames(t *testing.T) {
	buf := BufferName("/data/graphics", 42)
	if !strings.HasPrefix(buf, "/data/graphics/42/bq/") {
		t.Fatalf("BufferName() = %q, wrong prefix", buf)
	}
	if filepath.Base(buf) == "" {
		t.Fatalf("BufferName() = %q, missing unique component", buf)
	}

	ev := EventName("/data/graphics", 42)
	if !strings.HasPrefix(ev, "/data/graphics/42/event/") {
		t.Fatalf("EventName() = %q, wrong prefix", ev)
	}

	mon := MonitorName("/data/graphics", 42, "gesture")
	if mon != "/data/graphics/monitor/42/gesture" {
		t.Fatalf("MonitorName() = %q", mon)
	}

	if BufferName("/data/graphics", 42) == buf {
		t.Fatal("BufferName() returned the same path twice")
	}
}
