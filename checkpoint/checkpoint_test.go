package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/colossusdb/corestore/table"
)

func tempEntries() []Entry {
	return []Entry{
		{
			Token:            table.Token{TableName: "trades", DirName: "trades~1", TableID: 1, IsWal: true},
			LastCommittedTxn: 7,
			EventFileSize:    4096,
		},
		{
			Token:            table.Token{TableName: "quotes", DirName: "quotes~1", TableID: 2, IsWal: true},
			LastCommittedTxn: 3,
			EventFileSize:    2048,
		},
	}
}

func TestCheckpointCreateSetsInProgress(t *testing.T) {
	root := t.TempDir()
	a := New(root)

	if a.InProgress() {
		t.Fatalf("fresh Agent reports InProgress")
	}
	if err := a.CheckpointCreate("ckpt-1", tempEntries()); err != nil {
		t.Fatalf("CheckpointCreate: %v", err)
	}
	if !a.InProgress() {
		t.Errorf("InProgress false after CheckpointCreate")
	}
	if err := a.CheckpointCreate("ckpt-2", tempEntries()); err == nil {
		t.Errorf("CheckpointCreate succeeded while a checkpoint was already in progress")
	}
	if err := a.CheckpointRelease(); err != nil {
		t.Fatalf("CheckpointRelease: %v", err)
	}
	if a.InProgress() {
		t.Errorf("InProgress true after CheckpointRelease")
	}
}

func TestCheckpointRecoverReadsBackEntries(t *testing.T) {
	root := t.TempDir()
	a := New(root)
	want := tempEntries()

	if err := a.CheckpointCreate("ckpt-1", want); err != nil {
		t.Fatalf("CheckpointCreate: %v", err)
	}
	// Simulate a crash: never call CheckpointRelease, just drop the Agent
	// and build a fresh one pointed at the same root, the way a restart would.
	a.db.Close()

	recovered := New(root)
	got, err := recovered.CheckpointRecover()
	if err != nil {
		t.Fatalf("CheckpointRecover: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("recovered %d entries, want %d", len(got), len(want))
	}
	byDir := make(map[string]Entry, len(got))
	for _, e := range got {
		byDir[e.Token.DirName] = e
	}
	for _, w := range want {
		g, ok := byDir[w.Token.DirName]
		if !ok {
			t.Errorf("missing recovered entry for %s", w.Token.DirName)
			continue
		}
		if g.LastCommittedTxn != w.LastCommittedTxn || g.Token != w.Token {
			t.Errorf("recovered entry for %s = %+v, want %+v", w.Token.DirName, g, w)
		}
	}

	if _, err := recovered.CheckpointRecover(); err != nil {
		t.Fatalf("second CheckpointRecover: %v", err)
	}
	if got2, _ := recovered.CheckpointRecover(); len(got2) != 0 {
		t.Errorf("checkpoint directory not cleaned up after recovery, got %d leftover entries", len(got2))
	}
}

func TestCheckpointRecoverNoCheckpoints(t *testing.T) {
	root := filepath.Join(t.TempDir(), "never-created")
	a := New(root)
	got, err := a.CheckpointRecover()
	if err != nil {
		t.Fatalf("CheckpointRecover on missing root: %v", err)
	}
	if got != nil {
		t.Errorf("got %v entries, want nil", got)
	}
}
