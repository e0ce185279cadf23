package engine

import (
	"testing"

	"github.com/colossusdb/corestore/cerr"
	"github.com/colossusdb/corestore/config"
	"github.com/colossusdb/corestore/table"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.NewCairoConfiguration()
	cfg.DBRoot = t.TempDir()
	cfg.CheckpointRoot = t.TempDir()
	cfg.MaxWriters = 1
	cfg.MaxReaders = 4

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestCreateTableThenGetTokenIfExists(t *testing.T) {
	e := newTestEngine(t)

	tok, err := e.CreateTable("trades", true, false)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if tok.TableName != "trades" || !tok.IsWal {
		t.Fatalf("unexpected token %+v", tok)
	}

	got, ok := e.GetTableTokenIfExists("trades")
	if !ok || got != tok {
		t.Fatalf("GetTableTokenIfExists = %+v,%v want %+v,true", got, ok, tok)
	}

	if _, err := e.CreateTable("trades", true, false); err == nil {
		t.Fatalf("CreateTable succeeded twice for the same name")
	}
}

func TestCreateTableRejectsOverlongName(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.MaxFilenameLength = 4
	if err := e.VerifyTableName("toolongname"); err == nil {
		t.Fatalf("VerifyTableName accepted a name past maxFilenameLength")
	}
}

func TestWriterAppendAndNotify(t *testing.T) {
	e := newTestEngine(t)
	tok, err := e.CreateTable("trades", true, false)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	lease, err := e.GetWalWriter(tok)
	if err != nil {
		t.Fatalf("GetWalWriter: %v", err)
	}
	txn, err := lease.Token.AppendTruncate()
	if err != nil {
		t.Fatalf("AppendTruncate: %v", err)
	}
	if err := lease.Token.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	e.ReleaseWalWriter(lease)

	e.NotifyWalTxnCommitted(tok, txn)
	n, ok := e.PollWalTxnNotification()
	if !ok {
		t.Fatalf("PollWalTxnNotification found nothing after NotifyWalTxnCommitted")
	}
	if n.Token != tok || n.Txn != txn {
		t.Errorf("got %+v, want token=%v txn=%d", n, tok, txn)
	}
}

func TestGetWalWriterRejectsNonWalTable(t *testing.T) {
	e := newTestEngine(t)
	tok, err := e.CreateTable("static", false, false)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := e.GetWalWriter(tok); err == nil {
		t.Fatalf("GetWalWriter succeeded against a non-WAL table")
	}
}

func TestDropTableRemovesRegistration(t *testing.T) {
	e := newTestEngine(t)
	tok, err := e.CreateTable("trades", true, false)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := e.DropTableOrMatView(tok); err != nil {
		t.Fatalf("DropTableOrMatView: %v", err)
	}
	if _, ok := e.GetTableTokenIfExists("trades"); ok {
		t.Errorf("dropped table still resolves by name")
	}
}

func TestRenameWalTableKeepsDirName(t *testing.T) {
	e := newTestEngine(t)
	tok, err := e.CreateTable("trades", true, false)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	newTok, err := e.Rename(tok, "trades_v2")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if newTok.DirName != tok.DirName {
		t.Errorf("WAL rename changed DirName: %s -> %s", tok.DirName, newTok.DirName)
	}
	if _, ok := e.GetTableTokenIfExists("trades_v2"); !ok {
		t.Errorf("renamed table not resolvable under its new name")
	}
}

func TestGetWriterBumpsTxnForNonWalTable(t *testing.T) {
	e := newTestEngine(t)
	tok, err := e.CreateTable("static", false, false)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	lease, err := e.GetWriter(tok)
	if err != nil {
		t.Fatalf("GetWriter: %v", err)
	}
	first, err := lease.Token.NextTxn()
	if err != nil {
		t.Fatalf("NextTxn: %v", err)
	}
	second, err := lease.Token.NextTxn()
	if err != nil {
		t.Fatalf("NextTxn: %v", err)
	}
	e.ReleaseWriter(lease)

	if first != 1 || second != 2 {
		t.Fatalf("NextTxn sequence = %d, %d; want 1, 2", first, second)
	}
}

func TestGetWriterRejectsWalTable(t *testing.T) {
	e := newTestEngine(t)
	tok, err := e.CreateTable("trades", true, false)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := e.GetWriter(tok); err == nil {
		t.Fatalf("GetWriter succeeded against a WAL table")
	}
}

func TestAddColumnBumpsMetadataVersionAndStalesOldToken(t *testing.T) {
	e := newTestEngine(t)
	tok, err := e.CreateTable("trades", true, false)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	newTok, err := e.AddColumn(tok, 3, 1, 0)
	if err != nil {
		t.Fatalf("AddColumn: %v", err)
	}
	if newTok.MetadataVersion != tok.MetadataVersion+1 {
		t.Fatalf("MetadataVersion = %d, want %d", newTok.MetadataVersion, tok.MetadataVersion+1)
	}

	if _, err := e.GetReader(tok); !cerr.Is(err, cerr.TableReferenceOutOfDate) {
		t.Fatalf("GetReader with pre-AddColumn token: err = %v, want TableReferenceOutOfDate", err)
	}

	lease, err := e.GetReader(newTok)
	if err != nil {
		t.Fatalf("GetReader with refreshed token: %v", err)
	}
	e.ReleaseReader(lease)
}

func TestLockReadersRefusesDuringCheckpoint(t *testing.T) {
	e := newTestEngine(t)
	tok, err := e.CreateTable("trades", true, false)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	if err := e.CheckpointCreate("ckpt-1", []table.Token{tok}); err != nil {
		t.Fatalf("CheckpointCreate: %v", err)
	}
	if reason := e.LockReaders(tok); reason == "" {
		t.Errorf("LockReaders succeeded while a checkpoint was in progress")
	}
	if err := e.CheckpointRelease(); err != nil {
		t.Fatalf("CheckpointRelease: %v", err)
	}
	if reason := e.LockReaders(tok); reason != "" {
		t.Errorf("LockReaders refused after CheckpointRelease: %s", reason)
	}
	e.UnlockReaders(tok)
}
