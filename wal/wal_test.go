package wal_test

import (
	"path/filepath"
	"testing"

	"github.com/colossusdb/corestore/vfs"
	"github.com/colossusdb/corestore/wal"
)

func TestAppendDataAndReplay(t *testing.T) {
	ff := vfs.OS{}
	dir := filepath.Join(t.TempDir(), "wal0")

	w, err := wal.OpenWriter(ff, dir, wal.Sync)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}

	txn, err := w.AppendData(wal.DataRecord{
		StartRowID:   0,
		EndRowID:     1,
		MinTimestamp: 1700000000000000,
		MaxTimestamp: 1700000000000000,
		SymbolDiffs: []wal.SymbolDiff{
			{ColumnIndex: 2, InitialCount: 0, Entries: []wal.SymbolEntry{{Value: 0, Symbol: "EURUSD"}}},
		},
	})
	if err != nil {
		t.Fatalf("AppendData: %v", err)
	}
	if txn != 0 {
		t.Fatalf("first txn = %d, want 0", txn)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := wal.OpenReader(ff, dir)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if got := r.NumRecords(); got != 1 {
		t.Fatalf("NumRecords() = %d, want 1", got)
	}
	rec, err := r.RecordAt(0)
	if err != nil {
		t.Fatalf("RecordAt(0): %v", err)
	}
	if rec.Kind != wal.KindData {
		t.Errorf("Kind = %v, want KindData", rec.Kind)
	}
	if rec.Data.EndRowID != 1 {
		t.Errorf("EndRowID = %d, want 1", rec.Data.EndRowID)
	}
	if len(rec.Data.SymbolDiffs) != 1 || rec.Data.SymbolDiffs[0].Entries[0].Symbol != "EURUSD" {
		t.Errorf("SymbolDiffs = %+v, want one EURUSD entry", rec.Data.SymbolDiffs)
	}
	if r.MaxTxn() != 0 {
		t.Errorf("MaxTxn() = %d, want 0", r.MaxTxn())
	}
}

func TestAppendMultipleRecordsIndexConsistency(t *testing.T) {
	ff := vfs.OS{}
	dir := filepath.Join(t.TempDir(), "wal0")

	w, err := wal.OpenWriter(ff, dir, wal.NoSync)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	const n = 5
	for i := 0; i < n; i++ {
		if _, err := w.AppendSQL(wal.SQLRecord{CmdType: 1, SQLText: "insert into t values (1)"}); err != nil {
			t.Fatalf("AppendSQL(%d): %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := wal.OpenReader(ff, dir)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if got := r.NumRecords(); got != n {
		t.Fatalf("NumRecords() = %d, want %d", got, n)
	}
	for i := 0; i < n; i++ {
		rec, err := r.RecordAt(i)
		if err != nil {
			t.Fatalf("RecordAt(%d): %v", i, err)
		}
		if rec.Txn != int64(i) {
			t.Errorf("record %d: Txn = %d, want %d", i, rec.Txn, i)
		}
		if rec.SQL.SQLText != "insert into t values (1)" {
			t.Errorf("record %d: SQLText = %q", i, rec.SQL.SQLText)
		}
	}
}

func TestRollbackInvalidatesRecord(t *testing.T) {
	ff := vfs.OS{}
	dir := filepath.Join(t.TempDir(), "wal0")

	w, err := wal.OpenWriter(ff, dir, wal.NoSync)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if _, err := w.AppendTruncate(); err != nil {
		t.Fatalf("AppendTruncate: %v", err)
	}
	if _, err := w.AppendTruncate(); err != nil {
		t.Fatalf("AppendTruncate: %v", err)
	}
	w.Rollback()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := wal.OpenReader(ff, dir)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if _, err := r.RecordAt(0); err != nil {
		t.Errorf("RecordAt(0): unexpected error %v", err)
	}
	if _, err := r.RecordAt(1); err != wal.ErrPartialRecord {
		t.Errorf("RecordAt(1) err = %v, want ErrPartialRecord", err)
	}
	if r.MaxTxn() != 0 {
		t.Errorf("MaxTxn() = %d, want 0 after rollback", r.MaxTxn())
	}
}

func TestBindVariableRoundTrip(t *testing.T) {
	ff := vfs.OS{}
	dir := filepath.Join(t.TempDir(), "wal0")

	w, err := wal.OpenWriter(ff, dir, wal.NoSync)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	_, err = w.AppendSQL(wal.SQLRecord{
		CmdType:  2,
		SQLText:  "update t set a = $1 where b = :name",
		RngSeed0: 42,
		RngSeed1: 7,
		IndexedBindVars: []wal.BindValue{
			{Tag: wal.BindInt64, Int64: 100},
		},
		NamedBindVars: []wal.NamedBindVar{
			{Name: "name", Value: wal.BindValue{Tag: wal.BindString, Str: "hello"}},
		},
	})
	if err != nil {
		t.Fatalf("AppendSQL: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := wal.OpenReader(ff, dir)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	rec, err := r.RecordAt(0)
	if err != nil {
		t.Fatalf("RecordAt(0): %v", err)
	}
	if len(rec.SQL.IndexedBindVars) != 1 || rec.SQL.IndexedBindVars[0].Int64 != 100 {
		t.Errorf("IndexedBindVars = %+v", rec.SQL.IndexedBindVars)
	}
	if len(rec.SQL.NamedBindVars) != 1 || rec.SQL.NamedBindVars[0].Value.Str != "hello" {
		t.Errorf("NamedBindVars = %+v", rec.SQL.NamedBindVars)
	}
}
