// Package wal implements the per-table write-ahead log: a framed event file
// plus a sibling offset index file, grounded on WalEventWriter's append
// protocol (original_source/.../cairo/wal/WalEventWriter.java) and written
// in the teacher's mmap-over-FilesFacade style (colversion, vfs).
package wal

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed 12-byte event file header:
// off 0: i32 reused as the highest committed txn (WALE_MAX_TXN_OFFSET_32)
// off 4: i32 format version (WAL_FORMAT_OFFSET_32, bumped on first mat-view record)
// off 8: i32 the first record's length-prefix slot, initially -1
const HeaderSize = 12

const (
	offsetMaxTxn        = 0
	offsetFormatVersion = 4
)

const (
	formatVersion        int32 = 1
	matViewFormatVersion int32 = 2
)

const noNextLen int32 = -1

// RecordKind tags the type-specific payload that follows (txn, kind) in
// every framed record.
type RecordKind uint8

const (
	KindData RecordKind = iota
	KindMatViewData
	KindSQL
	KindTruncate
	KindMatViewInvalidate
)

func (k RecordKind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindMatViewData:
		return "MAT_VIEW_DATA"
	case KindSQL:
		return "SQL"
	case KindTruncate:
		return "TRUNCATE"
	case KindMatViewInvalidate:
		return "MAT_VIEW_INVALIDATE"
	default:
		return fmt.Sprintf("RecordKind(%d)", uint8(k))
	}
}

// CommitMode mirrors CairoConfiguration's commitMode: how aggressively a
// Writer flushes the mmap'd event file and the index file to disk.
type CommitMode int

const (
	NoSync CommitMode = iota
	Async
	Sync
)

// symbol-diff block terminators. Column indexes are always >= 0, so either
// sentinel is unambiguous against a real column index.
const (
	endOfSymbolEntries int32 = -1
	endOfSymbolDiffs   int32 = -2
)

// SymbolEntry is one interned (code, string) pair added to a column's
// dictionary during the transaction being written.
type SymbolEntry struct {
	Value  int32
	Symbol string
}

// SymbolDiff is the incremental symbol-dictionary update for one column
// touched by the transaction. Callers pass only columns actually touched;
// Entries should already be filtered to symbols with Value >= InitialCount
// is NOT required — the writer re-filters defensively, matching the
// original's own belt-and-suspenders re-check.
type SymbolDiff struct {
	ColumnIndex  int32
	NullFlag     bool
	InitialCount int32
	Entries      []SymbolEntry
}

// MatViewRefresh carries the two extra fields a MAT_VIEW_DATA record adds
// over a plain DATA record. A nil *MatViewRefresh on DataRecord means the
// record is framed as KindData rather than KindMatViewData.
type MatViewRefresh struct {
	LastRefreshBaseTxn  int64
	LastRefreshTimestamp int64
}

// DataRecord is the payload of a DATA or MAT_VIEW_DATA record.
type DataRecord struct {
	StartRowID, EndRowID     int64
	MinTimestamp, MaxTimestamp int64
	OutOfOrder               bool
	MatViewRefresh           *MatViewRefresh
	SymbolDiffs              []SymbolDiff
}

// NamedBindVar is one `:name` bind variable value. A slice rather than a
// map keeps serialization order deterministic, matching the original's
// ObjList<CharSequence> of named variables.
type NamedBindVar struct {
	Name  string
	Value BindValue
}

// SQLRecord is the payload of a SQL record: a compiled-command replay
// envelope carrying the RNG seed pair and bind variable snapshot needed to
// deterministically reproduce a non-deterministic statement on apply.
type SQLRecord struct {
	CmdType         int32
	SQLText         string
	RngSeed0        int64
	RngSeed1        int64
	IndexedBindVars []BindValue
	NamedBindVars   []NamedBindVar
}

// Record is a decoded frame returned by Reader, one of the five kinds. Only
// the field(s) matching Kind are populated.
type Record struct {
	Txn  int64
	Kind RecordKind

	Data              DataRecord
	SQL               SQLRecord
	InvalidateFlag    bool
	InvalidateReason  string
}

// ErrPartialRecord is returned by Reader when a record's length prefix is
// the uncommitted placeholder (-1), which is what Rollback leaves behind.
// Per spec.md §9's open question on partial records, this is always
// treated as "not committed, skip" — never repaired. A crash during an
// append leaves no error to report: commitRecord writes the record's index
// entry last, so a record cut off before that point is not listed in the
// index and Reader does not count it.
var ErrPartialRecord = fmt.Errorf("wal: partial record")

func le32(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) }
func putLE32(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) }
func le64(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) }
func putLE64(b []byte, v int64) { binary.LittleEndian.PutUint64(b, uint64(v)) }
