package registry_test

import (
	"path/filepath"
	"testing"

	"github.com/colossusdb/corestore/registry"
	"github.com/colossusdb/corestore/vfs"
	"github.com/colossusdb/corestore/wal"
)

func TestLockRegisterLifecycle(t *testing.T) {
	r := registry.New(t.TempDir())

	tok, ok := r.LockTableName("trades", "trades~1", 1, false, false)
	if !ok {
		t.Fatalf("LockTableName failed on a free name")
	}
	if _, ok := r.LockTableName("trades", "trades~1", 1, false, false); ok {
		t.Fatalf("LockTableName should fail while name is LOCKED")
	}
	if err := r.RegisterName(tok); err != nil {
		t.Fatalf("RegisterName: %v", err)
	}
	got, ok := r.GetIfExists("trades")
	if !ok || got != tok {
		t.Fatalf("GetIfExists = %v, %v; want %v, true", got, ok, tok)
	}
}

func TestUnlockTableNameRollsBackCreate(t *testing.T) {
	r := registry.New(t.TempDir())

	if _, ok := r.LockTableName("trades", "trades~1", 1, false, false); !ok {
		t.Fatalf("LockTableName failed")
	}
	r.UnlockTableName("trades")
	if _, ok := r.LockTableName("trades", "trades~2", 2, false, false); !ok {
		t.Fatalf("LockTableName should succeed after unlock freed the name")
	}
}

func TestDropRequiresCurrentOwner(t *testing.T) {
	r := registry.New(t.TempDir())
	tok, _ := r.LockTableName("trades", "trades~1", 1, false, false)
	r.RegisterName(tok)

	stale := tok
	stale.TableID = 99
	if r.DropTable(stale) {
		t.Fatalf("DropTable should fail for a stale token")
	}
	if !r.DropTable(tok) {
		t.Fatalf("DropTable should succeed for the current owner")
	}
	if _, ok := r.GetIfExists("trades"); ok {
		t.Fatalf("dropped table should not resolve via GetIfExists")
	}
}

func TestReloadSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	r := registry.New(dir)
	tok, _ := r.LockTableName("trades", "trades~1", 1, false, true)
	if err := r.RegisterName(tok); err != nil {
		t.Fatalf("RegisterName: %v", err)
	}

	r2 := registry.New(dir)
	if err := r2.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	got, ok := r2.GetIfExists("trades")
	if !ok || got != tok {
		t.Fatalf("after reload: GetIfExists = %v, %v; want %v, true", got, ok, tok)
	}
}

func TestReconcileCompactsOutLockedEntries(t *testing.T) {
	dir := t.TempDir()
	r := registry.New(dir)
	tok, _ := r.LockTableName("trades", "trades~1", 1, false, false)
	r.RegisterName(tok)
	r.LockTableName("pending", "pending~1", 2, false, false)

	if err := r.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	r2 := registry.New(dir)
	if err := r2.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := r2.GetIfExists("trades"); !ok {
		t.Fatalf("live entry should survive reconcile")
	}
	if _, ok := r2.GetIfExists("pending"); ok {
		t.Fatalf("locked (never-registered) entry should not survive reconcile")
	}
}

func TestAddTableAliasKeepsOldNameAlive(t *testing.T) {
	r := registry.New(t.TempDir())
	tok, _ := r.LockTableName("x", "x~1", 1, false, true)
	r.RegisterName(tok)

	if err := r.AddTableAlias("y", tok); err != nil {
		t.Fatalf("AddTableAlias: %v", err)
	}
	oldTok, ok := r.GetIfExists("x")
	if !ok {
		t.Fatalf("old name should still resolve after AddTableAlias")
	}
	newTok, ok := r.GetIfExists("y")
	if !ok {
		t.Fatalf("new alias should resolve")
	}
	if oldTok.DirName != newTok.DirName {
		t.Fatalf("alias should share dirName: old=%s new=%s", oldTok.DirName, newTok.DirName)
	}
}

// TestReconcileResolvesCrashMidRename simulates a process dying between
// AddTableAlias installing "y" and Rename dropping "x": both names still
// claim the same dirName, with a RENAME TABLE marker in the WAL recording
// that the rename was headed to "y". Reconcile must leave exactly one of
// {x,y} resolvable, and it must be the one the marker names.
func TestReconcileResolvesCrashMidRename(t *testing.T) {
	dir := t.TempDir()
	r := registry.New(dir)

	tok, _ := r.LockTableName("x", "x~1", 1, false, true)
	if err := r.RegisterName(tok); err != nil {
		t.Fatalf("RegisterName: %v", err)
	}
	if err := r.AddTableAlias("y", tok); err != nil {
		t.Fatalf("AddTableAlias: %v", err)
	}

	w, err := wal.OpenNextWriter(vfs.OS{}, filepath.Join(dir, "x~1"), wal.NoSync)
	if err != nil {
		t.Fatalf("OpenNextWriter: %v", err)
	}
	if _, err := w.AppendSQL(wal.SQLRecord{SQLText: "RENAME TABLE x TO y"}); err != nil {
		t.Fatalf("AppendSQL: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := r.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if _, ok := r.GetIfExists("x"); ok {
		t.Fatalf("old name %q should not survive a reconcile that found a rename marker for y", "x")
	}
	if _, ok := r.GetIfExists("y"); !ok {
		t.Fatalf("new name %q named by the rename marker should survive reconcile", "y")
	}

	r2 := registry.New(dir)
	if err := r2.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := r2.GetIfExists("x"); ok {
		t.Fatalf("old name should not resolve after restart either")
	}
	if _, ok := r2.GetIfExists("y"); !ok {
		t.Fatalf("new name should resolve after restart")
	}
}

// TestReconcileFallsBackToFirstRegisteredName covers the case where a
// dirName collision exists but no rename marker can be found (the crash
// happened before the marker was made durable): the name registered first
// must win.
func TestReconcileFallsBackToFirstRegisteredName(t *testing.T) {
	dir := t.TempDir()
	r := registry.New(dir)

	tok, _ := r.LockTableName("x", "x~1", 1, false, true)
	if err := r.RegisterName(tok); err != nil {
		t.Fatalf("RegisterName: %v", err)
	}
	if err := r.AddTableAlias("y", tok); err != nil {
		t.Fatalf("AddTableAlias: %v", err)
	}

	if err := r.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if _, ok := r.GetIfExists("x"); !ok {
		t.Fatalf("first-registered name %q should survive reconcile with no rename marker", "x")
	}
	if _, ok := r.GetIfExists("y"); ok {
		t.Fatalf("later alias %q should not survive reconcile with no rename marker", "y")
	}
}
