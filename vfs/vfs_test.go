package vfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/colossusdb/corestore/vfs"
)

func TestOpenWriteMMapRoundTrip(t *testing.T) {
	ff := vfs.OS{}
	dir := t.TempDir()
	path := filepath.Join(dir, "_cv")

	f, err := ff.Open(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if err := f.Truncate(4096); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	data, err := ff.MMap(f, 4096, true)
	if err != nil {
		t.Fatalf("MMap: %v", err)
	}
	defer ff.MUnmap(data)

	copy(data, []byte("corestore"))
	if err := ff.MSync(data, false); err != nil {
		t.Fatalf("MSync: %v", err)
	}
	if err := ff.Fdatasync(f); err != nil {
		t.Fatalf("Fdatasync: %v", err)
	}

	if string(data[:9]) != "corestore" {
		t.Errorf("mmap'd data = %q, want %q", data[:9], "corestore")
	}
}

func TestRenameUnlinkMkdirAll(t *testing.T) {
	ff := vfs.OS{}
	dir := t.TempDir()

	sub := filepath.Join(dir, "a", "b")
	if err := ff.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if fi, err := os.Stat(sub); err != nil || !fi.IsDir() {
		t.Fatalf("expected %s to be a directory", sub)
	}

	old := filepath.Join(dir, "old")
	new := filepath.Join(dir, "new")
	if err := os.WriteFile(old, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := ff.Rename(old, new); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := os.Stat(new); err != nil {
		t.Fatalf("expected renamed file to exist: %v", err)
	}

	if err := ff.Unlink(new); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := os.Stat(new); !os.IsNotExist(err) {
		t.Errorf("expected file to be removed, stat err = %v", err)
	}
}
