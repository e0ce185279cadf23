package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/colossusdb/corestore/wal"
)

func TestLoadCairoConfigurationDefaults(t *testing.T) {
	c, err := LoadCairoConfiguration("")
	if err != nil {
		t.Fatalf("LoadCairoConfiguration(\"\") failed with %s", err)
	}
	if c.GetCommitMode() != wal.Sync {
		t.Errorf("default commit mode = %v, want Sync", c.GetCommitMode())
	}
	if c.GetMaxReaders() != 64 {
		t.Errorf("default max readers = %d, want 64", c.GetMaxReaders())
	}
	if c.GetIdleCheckInterval() != 5*time.Minute {
		t.Errorf("default idle check interval = %s, want 5m", c.GetIdleCheckInterval())
	}
}

func TestLoadCairoConfigurationOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corestore.hcl")
	body := "db_root = \"/var/corestore\"\n" +
		"commit_mode = \"async\"\n" +
		"max_readers = 8\n" +
		"idle_check_interval = \"45s\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile failed with %s", err)
	}

	c, err := LoadCairoConfiguration(path)
	if err != nil {
		t.Fatalf("LoadCairoConfiguration(%q) failed with %s", path, err)
	}
	if c.Root() != "/var/corestore" {
		t.Errorf("db_root = %q, want /var/corestore", c.Root())
	}
	if c.GetCommitMode() != wal.Async {
		t.Errorf("commit mode = %v, want Async", c.GetCommitMode())
	}
	if c.GetMaxReaders() != 8 {
		t.Errorf("max readers = %d, want 8", c.GetMaxReaders())
	}
	if c.GetIdleCheckInterval() != 45*time.Second {
		t.Errorf("idle check interval = %s, want 45s", c.GetIdleCheckInterval())
	}
	// Fields not present in the file keep their defaults.
	if c.GetMaxWriters() != 1 {
		t.Errorf("max writers = %d, want default 1", c.GetMaxWriters())
	}
}

func TestLoadCairoConfigurationBadCommitMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corestore.hcl")
	if err := os.WriteFile(path, []byte(`commit_mode = "eventually"`), 0o644); err != nil {
		t.Fatalf("WriteFile failed with %s", err)
	}
	if _, err := LoadCairoConfiguration(path); err == nil {
		t.Errorf("LoadCairoConfiguration with invalid commit mode did not fail")
	}
}
