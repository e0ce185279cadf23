package engine

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/colossusdb/corestore/vfs"
)

// txnFileName is the per-table monotonic write counter named in spec.md
// §6's filesystem layout (<dirName>/_txn); a non-WAL table has no event
// log, so this file is its entire durable write surface.
const txnFileName = "_txn"

// TableWriter is the direct (non-WAL) write handle handed out by
// writerPool. Unlike wal.Writer, it owns no event log: every commit simply
// bumps and fsyncs the table's _txn counter, matching a non-WAL table's
// "last write wins, no replay log" semantics.
type TableWriter struct {
	f  *os.File
	mu sync.Mutex

	txn int64
}

// openTableWriter opens (creating if absent) tableDir's _txn file and
// loads its current counter value.
func openTableWriter(ff vfs.FilesFacade, tableDir string) (*TableWriter, error) {
	f, err := ff.Open(filepath.Join(tableDir, txnFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	w := &TableWriter{f: f}
	var buf [8]byte
	if _, err := f.ReadAt(buf[:], 0); err == nil {
		w.txn = int64(binary.LittleEndian.Uint64(buf[:]))
	}
	return w, nil
}

// NextTxn allocates and durably persists the table's next txn number.
func (w *TableWriter) NextTxn() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := w.txn + 1
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(next))
	if _, err := w.f.WriteAt(buf[:], 0); err != nil {
		return 0, err
	}
	if err := w.f.Sync(); err != nil {
		return 0, err
	}
	w.txn = next
	return next, nil
}

// Close closes the backing _txn file.
func (w *TableWriter) Close() error {
	return w.f.Close()
}
