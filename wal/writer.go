package wal

import (
	"os"
	"path/filepath"

	"github.com/colossusdb/corestore/vfs"
)

const (
	// EventFileName and IndexFileName are the two files a WAL segment
	// directory holds, per spec.md §6's filesystem layout
	// (<dirName>/wal<N>/<segment>/_event(.i)).
	EventFileName = "_event"
	IndexFileName = "_event.i"

	defaultPageSize = 1 << 20 // same as CairoConfiguration's WalEventPageSize default; the writer does not read that setting
)

// Writer owns one WAL segment's event file and index file. Exactly one
// Writer exists per live segment (enforced by the pool that hands it out,
// not by this package), matching spec.md §3's "a writer owns a segment"
// lifecycle.
type Writer struct {
	ff vfs.FilesFacade

	eventPath string
	indexPath string
	eventFile *os.File
	indexFile *os.File

	data         []byte // mmap'd event file, writable
	appendOffset int64  // logical end of written data within data
	startOffset  int64  // position of the in-flight record's length-prefix slot
	txn          int64
	commitMode   CommitMode
}

// OpenWriter creates (or truncates) the event and index files for a new WAL
// segment directory and writes the initial 12-byte header, per
// WalEventWriter.openEventFile/init.
func OpenWriter(ff vfs.FilesFacade, segmentDir string, commitMode CommitMode) (*Writer, error) {
	if err := ff.MkdirAll(segmentDir, 0o755); err != nil {
		return nil, err
	}
	eventPath := filepath.Join(segmentDir, EventFileName)
	indexPath := filepath.Join(segmentDir, IndexFileName)

	ef, err := ff.Open(eventPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	idxf, err := ff.Open(indexPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		ef.Close()
		return nil, err
	}

	w := &Writer{
		ff:         ff,
		eventPath:  eventPath,
		indexPath:  indexPath,
		eventFile:  ef,
		indexFile:  idxf,
		commitMode: commitMode,
	}

	if err := ef.Truncate(defaultPageSize); err != nil {
		w.Close()
		return nil, err
	}
	data, err := ff.MMap(ef, defaultPageSize, true)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.data = data

	putLE32(w.data[offsetMaxTxn:offsetMaxTxn+4], 0)
	putLE32(w.data[offsetFormatVersion:offsetFormatVersion+4], formatVersion)
	putLE32(w.data[HeaderSize-4:HeaderSize], noNextLen)
	w.appendOffset = HeaderSize

	if err := w.appendIndexEntry(HeaderSize); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// OpenNextWriter opens a writer for a fresh WAL generation under tableDir,
// one past the highest existing wal<N>: spec.md §3's "a writer owns a
// segment" means a released, re-created writer must never reuse a
// directory an apply job might still be reading, so each re-creation
// rotates to a new generation rather than reopening the last one.
func OpenNextWriter(ff vfs.FilesFacade, tableDir string, commitMode CommitMode) (*Writer, error) {
	dir, err := NextGenerationDir(ff, tableDir)
	if err != nil {
		return nil, err
	}
	return OpenWriter(ff, dir, commitMode)
}

func (w *Writer) appendIndexEntry(v int64) error {
	var tmp [8]byte
	putLE64(tmp[:], v)
	_, err := w.indexFile.Write(tmp[:])
	return err
}

func (w *Writer) growTo(minSize int64) error {
	if int64(len(w.data)) >= minSize {
		return nil
	}
	newSize := int64(len(w.data))
	if newSize == 0 {
		newSize = defaultPageSize
	}
	for newSize < minSize {
		newSize *= 2
	}
	if err := w.eventFile.Truncate(newSize); err != nil {
		return err
	}
	if err := w.ff.MUnmap(w.data); err != nil {
		return err
	}
	data, err := w.ff.MMap(w.eventFile, int(newSize), true)
	if err != nil {
		return err
	}
	w.data = data
	return nil
}

// beginRecord marks the start of a new frame: startOffset is the previous
// record's trailing placeholder slot (or, for the first record, the
// header's embedded slot at HeaderSize-4). The caller writes the fixed
// txn/kind prefix immediately after it, as the first bytes of the payload
// it appends.
func (w *Writer) beginRecord(kind RecordKind) {
	w.startOffset = w.appendOffset - 4
}

func (w *Writer) appendBytes(p []byte) error {
	if err := w.growTo(w.appendOffset + int64(len(p))); err != nil {
		return err
	}
	copy(w.data[w.appendOffset:], p)
	w.appendOffset += int64(len(p))
	return nil
}

// commitRecord patches the frame's length prefix, appends the next
// placeholder, records the index entry, and bumps the header's max-txn
// marker — append protocol steps 4-8 of spec.md §4.5.
func (w *Writer) commitRecord(matView bool) (int64, error) {
	recordLen := int32(w.appendOffset - w.startOffset)
	putLE32(w.data[w.startOffset:w.startOffset+4], recordLen)

	if err := w.appendBytes(encodeInt32(noNextLen)); err != nil {
		return 0, err
	}

	indexValue := w.appendOffset - 4
	if err := w.appendIndexEntry(indexValue); err != nil {
		return 0, err
	}

	putLE32(w.data[offsetMaxTxn:offsetMaxTxn+4], int32(w.txn))
	if matView {
		putLE32(w.data[offsetFormatVersion:offsetFormatVersion+4], matViewFormatVersion)
	}

	txn := w.txn
	w.txn++
	return txn, nil
}

func encodeInt32(v int32) []byte {
	var tmp [4]byte
	putLE32(tmp[:], v)
	return tmp[:]
}

// AppendData appends a DATA or MAT_VIEW_DATA record, selecting the kind by
// whether d.MatViewRefresh is set.
func (w *Writer) AppendData(d DataRecord) (int64, error) {
	kind := KindData
	if d.MatViewRefresh != nil {
		kind = KindMatViewData
	}
	w.beginRecord(kind)

	buf := &recordBuffer{}
	buf.putInt64(w.txn)
	buf.putUint8(uint8(kind))
	buf.putInt64(d.StartRowID)
	buf.putInt64(d.EndRowID)
	buf.putInt64(d.MinTimestamp)
	buf.putInt64(d.MaxTimestamp)
	buf.putBool(d.OutOfOrder)
	if d.MatViewRefresh != nil {
		buf.putInt64(d.MatViewRefresh.LastRefreshBaseTxn)
		buf.putInt64(d.MatViewRefresh.LastRefreshTimestamp)
	}
	encodeSymbolDiffs(buf, d.SymbolDiffs)

	if err := w.appendBytes(buf.buf); err != nil {
		return 0, err
	}
	return w.commitRecord(kind == KindMatViewData)
}

// AppendSQL appends a SQL record carrying a replayable command snapshot.
func (w *Writer) AppendSQL(s SQLRecord) (int64, error) {
	w.beginRecord(KindSQL)

	buf := &recordBuffer{}
	buf.putInt64(w.txn)
	buf.putUint8(uint8(KindSQL))
	buf.putInt32(s.CmdType)
	buf.putStr(s.SQLText)
	buf.putInt64(s.RngSeed0)
	buf.putInt64(s.RngSeed1)
	encodeIndexedBindVars(buf, s.IndexedBindVars)
	encodeNamedBindVars(buf, s.NamedBindVars)

	if err := w.appendBytes(buf.buf); err != nil {
		return 0, err
	}
	return w.commitRecord(false)
}

// AppendTruncate appends a TRUNCATE record (no payload beyond the frame).
func (w *Writer) AppendTruncate() (int64, error) {
	w.beginRecord(KindTruncate)

	buf := &recordBuffer{}
	buf.putInt64(w.txn)
	buf.putUint8(uint8(KindTruncate))

	if err := w.appendBytes(buf.buf); err != nil {
		return 0, err
	}
	return w.commitRecord(false)
}

// AppendMatViewInvalidate appends a MAT_VIEW_INVALIDATE record.
func (w *Writer) AppendMatViewInvalidate(invalid bool, reason string) (int64, error) {
	w.beginRecord(KindMatViewInvalidate)

	buf := &recordBuffer{}
	buf.putInt64(w.txn)
	buf.putUint8(uint8(KindMatViewInvalidate))
	buf.putBool(invalid)
	buf.putStr(reason)

	if err := w.appendBytes(buf.buf); err != nil {
		return 0, err
	}
	return w.commitRecord(true)
}

// Rollback invalidates the in-flight record by re-marking its length prefix
// as the uncommitted placeholder and rewinding the max-txn marker. The
// event and index files are never truncated: a concurrent apply job may
// still hold an mmap over them, per spec.md §4.5.
func (w *Writer) Rollback() {
	putLE32(w.data[w.startOffset:w.startOffset+4], noNextLen)
	w.txn--
	putLE32(w.data[offsetMaxTxn:offsetMaxTxn+4], int32(w.txn-1))
}

// Sync flushes the event mapping and fsyncs the index file according to
// commitMode: NoSync is a no-op, Async issues MS_ASYNC plus Fdatasync,
// Sync blocks with MS_SYNC.
func (w *Writer) Sync() error {
	if w.commitMode == NoSync {
		return nil
	}
	if err := w.ff.MSync(w.data, w.commitMode == Async); err != nil {
		return err
	}
	return w.ff.Fdatasync(w.indexFile)
}

// Close unmaps and closes both files.
func (w *Writer) Close() error {
	if w.data != nil {
		w.ff.MUnmap(w.data)
		w.data = nil
	}
	var err error
	if w.eventFile != nil {
		err = w.eventFile.Close()
	}
	if w.indexFile != nil {
		if cerr := w.indexFile.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
