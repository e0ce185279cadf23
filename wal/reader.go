package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/colossusdb/corestore/vfs"
)

// Reader replays a WAL segment written by Writer. It maps the event file
// read-only and loads the index file into memory (it's tiny: one int64 per
// record).
type Reader struct {
	ff   vfs.FilesFacade
	f    *os.File
	data []byte
	idx  []int64
}

// OpenReader opens an existing segment for replay.
func OpenReader(ff vfs.FilesFacade, segmentDir string) (*Reader, error) {
	eventPath := filepath.Join(segmentDir, EventFileName)
	indexPath := filepath.Join(segmentDir, IndexFileName)

	ef, err := ff.Open(eventPath, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	fi, err := ef.Stat()
	if err != nil {
		ef.Close()
		return nil, err
	}
	data, err := ff.MMap(ef, int(fi.Size()), false)
	if err != nil {
		ef.Close()
		return nil, err
	}

	idxf, err := ff.Open(indexPath, os.O_RDONLY, 0)
	if err != nil {
		ff.MUnmap(data)
		ef.Close()
		return nil, err
	}
	defer idxf.Close()
	idxFi, err := idxf.Stat()
	if err != nil {
		ff.MUnmap(data)
		ef.Close()
		return nil, err
	}
	idxBytes := make([]byte, idxFi.Size())
	if _, err := io.ReadFull(idxf, idxBytes); err != nil {
		ff.MUnmap(data)
		ef.Close()
		return nil, err
	}

	idx := make([]int64, len(idxBytes)/8)
	for i := range idx {
		idx[i] = le64(idxBytes[i*8 : i*8+8])
	}

	return &Reader{ff: ff, f: ef, data: data, idx: idx}, nil
}

// NumRecords returns the number of append attempts recorded in the index,
// per P4: after N successful appends the index holds exactly N+1 entries.
func (r *Reader) NumRecords() int {
	if len(r.idx) == 0 {
		return 0
	}
	return len(r.idx) - 1
}

// MaxTxn returns the header's highest committed txn marker.
func (r *Reader) MaxTxn() int64 {
	return int64(le32(r.data[offsetMaxTxn : offsetMaxTxn+4]))
}

// RecordAt decodes record i (0-indexed). Index entry 0 is HeaderSize, where
// the first record's payload starts (its length slot is the header's last
// four bytes); every later entry is the offset of a length slot, so record
// i's payload runs from four bytes past its slot up to entry i+1.
// ErrPartialRecord is returned if the record's length prefix is still the
// uncommitted placeholder.
func (r *Reader) RecordAt(i int) (Record, error) {
	slot := r.idx[i]
	if i == 0 {
		slot = r.idx[0] - 4
	}
	payload := r.data[slot+4 : r.idx[i+1]]

	lenPrefix := le32(r.data[slot : slot+4])
	if lenPrefix == noNextLen {
		return Record{}, ErrPartialRecord
	}

	c := &recordCursor{buf: payload}
	rec := Record{
		Txn:  c.int64(),
		Kind: RecordKind(c.uint8()),
	}
	switch rec.Kind {
	case KindData, KindMatViewData:
		d := DataRecord{}
		d.StartRowID = c.int64()
		d.EndRowID = c.int64()
		d.MinTimestamp = c.int64()
		d.MaxTimestamp = c.int64()
		d.OutOfOrder = c.boolv()
		if rec.Kind == KindMatViewData {
			d.MatViewRefresh = &MatViewRefresh{
				LastRefreshBaseTxn:   c.int64(),
				LastRefreshTimestamp: c.int64(),
			}
		}
		d.SymbolDiffs = decodeSymbolDiffs(c)
		rec.Data = d
	case KindSQL:
		s := SQLRecord{}
		s.CmdType = c.int32()
		s.SQLText = c.str()
		s.RngSeed0 = c.int64()
		s.RngSeed1 = c.int64()
		s.IndexedBindVars = decodeIndexedBindVars(c)
		s.NamedBindVars = decodeNamedBindVars(c)
		rec.SQL = s
	case KindTruncate:
		// no payload
	case KindMatViewInvalidate:
		rec.InvalidateFlag = c.boolv()
		rec.InvalidateReason = c.str()
	}
	return rec, nil
}

// Close unmaps and closes the event file.
func (r *Reader) Close() error {
	if r.data != nil {
		r.ff.MUnmap(r.data)
		r.data = nil
	}
	return r.f.Close()
}

// TableReader replays every WAL generation under a table's directory, in
// generation order, presenting them as one continuous record stream — the
// replay-side counterpart of OpenNextWriter's generation rotation, so a
// rotated table still reads back as a single ordered history.
type TableReader struct {
	segments []*Reader
}

// OpenTableReader opens every existing wal<N>/<segment> directory under
// tableDir, oldest generation first.
func OpenTableReader(ff vfs.FilesFacade, tableDir string) (*TableReader, error) {
	dirs, err := GenerationDirs(ff, tableDir)
	if err != nil {
		return nil, err
	}
	tr := &TableReader{}
	for _, dir := range dirs {
		r, err := OpenReader(ff, dir)
		if err != nil {
			tr.Close()
			return nil, err
		}
		tr.segments = append(tr.segments, r)
	}
	return tr, nil
}

// NumRecords returns the total record count across every generation.
func (tr *TableReader) NumRecords() int {
	n := 0
	for _, r := range tr.segments {
		n += r.NumRecords()
	}
	return n
}

// MaxTxn returns the highest committed txn marker across every generation.
func (tr *TableReader) MaxTxn() int64 {
	var max int64 = -1
	for _, r := range tr.segments {
		if t := r.MaxTxn(); t > max {
			max = t
		}
	}
	return max
}

// RecordAt decodes the i'th record (0-indexed) across the full generation
// sequence, oldest generation first.
func (tr *TableReader) RecordAt(i int) (Record, error) {
	for _, r := range tr.segments {
		n := r.NumRecords()
		if i < n {
			return r.RecordAt(i)
		}
		i -= n
	}
	return Record{}, fmt.Errorf("wal: record index out of range")
}

// Close unmaps and closes every generation's Reader.
func (tr *TableReader) Close() error {
	var err error
	for _, r := range tr.segments {
		if e := r.Close(); err == nil {
			err = e
		}
	}
	return err
}
