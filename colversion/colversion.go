// Package colversion implements the ColumnVersionStore: a double-buffered,
// memory-mapped index mapping (partition, column) to (columnNameTxn,
// columnTop), read by any number of concurrent readers via a seqlock
// protocol while a single writer mutates it.
//
// Layout and the read protocol are ported from the semantics of QuestDB's
// ColumnVersionReader/ColumnVersionWriter (original_source), not translated
// line for line.
package colversion

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/colossusdb/corestore/vfs"
)

const (
	// HeaderSize is the fixed 48-byte header: version, offsetA, sizeA,
	// offsetB, sizeB, each a little-endian uint64.
	HeaderSize = 48

	offsetVersion = 0
	offsetOffA    = 8
	offsetSizeA   = 16
	offsetOffB    = 24
	offsetSizeB   = 32

	// RecordSize is the fixed 32-byte record: partitionTimestamp,
	// columnIndex, columnNameTxn, columnTop, each an int64.
	RecordSize = 32
	blockWords = 4

	// ColTopDefaultPartition is the sentinel partition timestamp meaning
	// "applies to all partitions" — used to record the partition at which
	// a column was first added.
	ColTopDefaultPartition = int64(-1) << 63
)

// Record is one (partition, column) → (nameTxn, columnTop) entry.
type Record struct {
	PartitionTimestamp int64
	ColumnIndex        int64
	ColumnNameTxn      int64
	ColumnTop          int64
}

// Snapshot is an immutable, sorted copy of the record vector as observed at
// a particular version — what a seqlock read returns.
type Snapshot struct {
	Version int64
	Records []Record
}

// GetRecordIndex binary-searches for the block of records matching
// partitionTimestamp, then linearly scans by columnIndex (records within a
// partition are ordered, early-exit when thisIndex > columnIndex). Returns
// -1 if no matching record exists.
func (s Snapshot) GetRecordIndex(partitionTimestamp int64, columnIndex int64) int {
	recs := s.Records
	// binarySearchBlock: find the first record whose partition timestamp
	// is >= partitionTimestamp (BIN_SEARCH_SCAN_UP semantics).
	i := sort.Search(len(recs), func(i int) bool {
		return recs[i].PartitionTimestamp >= partitionTimestamp
	})
	for ; i < len(recs); i++ {
		if recs[i].PartitionTimestamp != partitionTimestamp {
			break
		}
		if recs[i].ColumnIndex == columnIndex {
			return i
		}
		if recs[i].ColumnIndex > columnIndex {
			break
		}
	}
	return -1
}

// NameTxnAt returns the columnNameTxn at an already-resolved record index,
// or -1 if index is -1 (no record).
func (s Snapshot) NameTxnAt(index int) int64 {
	if index < 0 {
		return -1
	}
	return s.Records[index].ColumnNameTxn
}

// ColumnTopAt returns the columnTop at an already-resolved record index, or
// 0 if index is -1 (teacher/spec convention: "no explicit record" defaults
// column top to 0 when the caller already knows the column is present).
func (s Snapshot) ColumnTopAt(index int) int64 {
	if index < 0 {
		return 0
	}
	return s.Records[index].ColumnTop
}

// ColumnAddedPartition returns the partition timestamp at which columnIndex
// was first added (via the COL_TOP_DEFAULT_PARTITION sentinel block), or
// ColTopDefaultPartition ("present from table creation") if there is no
// such record.
func (s Snapshot) ColumnAddedPartition(columnIndex int64) int64 {
	idx := s.GetRecordIndex(ColTopDefaultPartition, columnIndex)
	if idx < 0 {
		return ColTopDefaultPartition
	}
	return s.ColumnTopAt(idx)
}

// GetColumnNameTxn returns the column's name-txn for a partition, falling
// back to the column's introduction-partition record if there is no
// explicit entry for this partition.
func (s Snapshot) GetColumnNameTxn(partitionTimestamp, columnIndex int64) int64 {
	idx := s.GetRecordIndex(partitionTimestamp, columnIndex)
	if idx > -1 {
		return s.NameTxnAt(idx)
	}
	defIdx := s.GetRecordIndex(ColTopDefaultPartition, columnIndex)
	if defIdx > -1 {
		return s.NameTxnAt(defIdx)
	}
	return -1
}

// GetColumnTop returns the column top for (partitionTimestamp, columnIndex):
// the stored value if an explicit record exists; else 0 if the column was
// introduced at or before this partition (fully present, no leading
// nulls); else -1 if the column does not exist in this partition at all.
func (s Snapshot) GetColumnTop(partitionTimestamp, columnIndex int64) int64 {
	idx := s.GetRecordIndex(partitionTimestamp, columnIndex)
	if idx > -1 {
		return s.ColumnTopAt(idx)
	}
	added := s.ColumnAddedPartition(columnIndex)
	if added <= partitionTimestamp {
		return 0
	}
	return -1
}

// Store is the double-buffered, mmap-backed column-version index file. A
// single writer owns mutation; any number of readers call ReadSafe
// concurrently without blocking the writer or each other.
type Store struct {
	ff       vfs.FilesFacade
	path     string
	f        *os.File
	data     []byte // header + both data areas, grows as needed
	writable bool
}

// Open maps path for either writer (read-write) or reader (read-only)
// access. A writable open creates the file if absent and extends it to the
// empty header; a read-only open fails if the file does not exist.
func Open(ff vfs.FilesFacade, path string, writable bool) (*Store, error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_CREATE | os.O_RDWR
	}
	f, err := ff.Open(path, flags, 0o644)
	if err != nil {
		return nil, err
	}

	st := &Store{ff: ff, path: path, f: f, writable: writable}
	if writable {
		if err := st.ensureHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := st.remap(); err != nil {
		f.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) ensureHeader() error {
	fi, err := s.f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() >= HeaderSize {
		return nil
	}
	return s.f.Truncate(HeaderSize)
}

func (s *Store) remap() error {
	if s.data != nil {
		s.ff.MUnmap(s.data)
		s.data = nil
	}
	fi, err := s.f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if size < HeaderSize {
		size = HeaderSize
	}
	data, err := s.ff.MMap(s.f, int(size), s.writable)
	if err != nil {
		return err
	}
	s.data = data
	return nil
}

// Close unmaps and closes the backing file.
func (s *Store) Close() error {
	if s.data != nil {
		s.ff.MUnmap(s.data)
		s.data = nil
	}
	return s.f.Close()
}

func le64(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}

func putLE64(b []byte, v int64) {
	binary.LittleEndian.PutUint64(b, uint64(v))
}

// unsafeVersion performs the seqlock protocol's ordered acquire-load of the
// version word; on most architectures Go's memory model gives atomic loads
// the acquire semantics the protocol needs.
func (s *Store) unsafeVersion() int64 {
	return int64(atomic.LoadUint64((*uint64)(wordAt(s.data, offsetVersion))))
}

// wordAt reinterprets 8 bytes of data at off as a *uint64 for atomic access.
// Both ends of the mapping are 8-byte aligned by construction (HeaderSize
// and RecordSize are multiples of 8), so this is safe on every platform Go
// targets.
func wordAt(data []byte, off int) *uint64 {
	return (*uint64)(ptrAt(data, off))
}

// ErrReadTimeout is returned by ReadSafe when spinLockTimeout has passed and
// the current attempt failed: the version changed between its loads (a
// commit landed mid-read), or the published area lay outside the mapping
// (ReadSafe remaps before checking). The deadline is checked only after
// such a failed attempt, so a read that overlaps no commit succeeds
// whatever the timeout.
var ErrReadTimeout = fmt.Errorf("corestore: column version read timeout")

// ReadSafe performs the seqlock read loop from spec.md §4.4: load the
// version, resolve the active area for its parity, copy the records, then
// recheck the version twice more. Any mismatch restarts the loop, bounded
// by spinLockTimeout.
func (s *Store) ReadSafe(spinLockTimeout time.Duration) (Snapshot, error) {
	deadline := time.Now().Add(spinLockTimeout)
	for {
		v1 := s.unsafeVersion()
		parity := v1 & 1
		var off, size int64
		if parity == 0 {
			off = le64(s.data[offsetOffA : offsetOffA+8])
			size = le64(s.data[offsetSizeA : offsetSizeA+8])
		} else {
			off = le64(s.data[offsetOffB : offsetOffB+8])
			size = le64(s.data[offsetSizeB : offsetSizeB+8])
		}

		v2 := s.unsafeVersion()
		if v2 != v1 {
			if time.Now().After(deadline) {
				return Snapshot{}, ErrReadTimeout
			}
			continue
		}

		recs, ok := s.copyRecords(off, size)
		if !ok {
			// The area a writer just published can fall outside our mapping
			// if the file grew since we last mapped it (areaSize growth on
			// Commit), not just from a torn read. Remap and retry before
			// charging this attempt against the deadline as a real stall.
			if err := s.remap(); err != nil {
				return Snapshot{}, err
			}
			if time.Now().After(deadline) {
				return Snapshot{}, ErrReadTimeout
			}
			continue
		}

		v3 := s.unsafeVersion()
		if v3 != v1 {
			if time.Now().After(deadline) {
				return Snapshot{}, ErrReadTimeout
			}
			continue
		}

		return Snapshot{Version: v1, Records: recs}, nil
	}
}

func (s *Store) copyRecords(off, size int64) ([]Record, bool) {
	if off < 0 || size < 0 || off+size > int64(len(s.data)) {
		return nil, false
	}
	n := int(size) / RecordSize
	recs := make([]Record, n)
	base := s.data[off : off+size]
	for i := 0; i < n; i++ {
		b := base[i*RecordSize : (i+1)*RecordSize]
		recs[i] = Record{
			PartitionTimestamp: le64(b[0:8]),
			ColumnIndex:        le64(b[8:16]),
			ColumnNameTxn:      le64(b[16:24]),
			ColumnTop:          le64(b[24:32]),
		}
	}
	return recs, true
}

// Writer is the single-writer-per-table handle that mutates a Store. It
// keeps its own in-memory copy of the record vector and flushes the whole
// vector to the inactive area on every Commit, per spec.md §4.4's write
// path.
type Writer struct {
	st       *Store
	records  []Record // sorted by (PartitionTimestamp, ColumnIndex)
	version  int64
	areaSize int64 // capacity of each of the two data areas, in bytes
}

// NewWriter loads the current snapshot (if any) and returns a Writer ready
// to mutate it. Use on the single goroutine that owns this table's writer.
func NewWriter(st *Store) (*Writer, error) {
	w := &Writer{st: st}
	fi, err := st.f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() <= HeaderSize {
		return w, nil
	}
	snap, err := st.ReadSafe(5 * time.Second)
	if err != nil {
		return nil, err
	}
	w.records = snap.Records
	w.version = snap.Version
	w.areaSize = (fi.Size() - HeaderSize) / 2
	return w, nil
}

// Upsert sets (or updates in place) the record for (partitionTimestamp,
// columnIndex), matching ColumnVersionWriter's upsert semantics: a second
// write to the same pair updates the existing record rather than appending
// a duplicate.
func (w *Writer) Upsert(partitionTimestamp, columnIndex, columnNameTxn, columnTop int64) {
	snap := Snapshot{Records: w.records}
	idx := snap.GetRecordIndex(partitionTimestamp, columnIndex)
	if idx >= 0 {
		w.records[idx].ColumnNameTxn = columnNameTxn
		w.records[idx].ColumnTop = columnTop
		return
	}

	insertAt := sort.Search(len(w.records), func(i int) bool {
		r := w.records[i]
		if r.PartitionTimestamp != partitionTimestamp {
			return r.PartitionTimestamp > partitionTimestamp
		}
		return r.ColumnIndex >= columnIndex
	})

	w.records = append(w.records, Record{})
	copy(w.records[insertAt+1:], w.records[insertAt:])
	w.records[insertAt] = Record{
		PartitionTimestamp: partitionTimestamp,
		ColumnIndex:        columnIndex,
		ColumnNameTxn:      columnNameTxn,
		ColumnTop:          columnTop,
	}
}

// Snapshot returns the writer's current in-memory view, for local reads
// that don't need the seqlock (the writer is the only mutator, so its own
// view is always consistent).
func (w *Writer) Snapshot() Snapshot {
	return Snapshot{Version: w.version, Records: w.records}
}

// Commit serializes the full record vector to the inactive area, fences,
// then bumps the version (with flipped parity) — spec.md §4.4's write
// path. The version store is grown (and remapped) if the active file is
// too small to hold both areas.
func (w *Writer) Commit() error {
	size := int64(len(w.records)) * RecordSize
	nextVersion := w.version + 1
	areaAIsActive := nextVersion&1 == 0

	if size > w.areaSize {
		w.areaSize = size
	}
	if err := w.growTo(HeaderSize + 2*w.areaSize); err != nil {
		return err
	}

	off := w.areaOffset(areaAIsActive)
	buf := w.st.data[off : off+size]
	for i, r := range w.records {
		b := buf[i*RecordSize : (i+1)*RecordSize]
		putLE64(b[0:8], r.PartitionTimestamp)
		putLE64(b[8:16], r.ColumnIndex)
		putLE64(b[16:24], r.ColumnNameTxn)
		putLE64(b[24:32], r.ColumnTop)
	}

	if err := w.st.ff.MSync(w.st.data, false); err != nil {
		return err
	}

	if areaAIsActive {
		putLE64(w.st.data[offsetOffA:offsetOffA+8], off)
		putLE64(w.st.data[offsetSizeA:offsetSizeA+8], size)
	} else {
		putLE64(w.st.data[offsetOffB:offsetOffB+8], off)
		putLE64(w.st.data[offsetSizeB:offsetSizeB+8], size)
	}

	atomic.StoreUint64((*uint64)(wordAt(w.st.data, offsetVersion)), uint64(nextVersion))
	if err := w.st.ff.MSync(w.st.data[:HeaderSize], false); err != nil {
		return err
	}

	w.version = nextVersion
	return nil
}

// areaOffset places area A immediately after the header and area B
// immediately after area A's capacity, so both areas have stable,
// non-overlapping homes across repeated grows.
func (w *Writer) areaOffset(areaA bool) int64 {
	if areaA {
		return HeaderSize
	}
	return HeaderSize + w.areaSize
}

func (w *Writer) growTo(minSize int64) error {
	fi, err := w.st.f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() >= minSize {
		return nil
	}
	if err := w.st.f.Truncate(minSize); err != nil {
		return err
	}
	return w.st.remap()
}

// ptrAt is implemented in unsafe.go.
