// Package sequencer implements the per-table SequencerAPI: monotone txn
// numbering plus suspension, with a durable mirror so
// unpublishedWalTxnCount can be re-derived after a restart. Grounded on
// engine/kvrows/kvrows.go's transactionState{State, Epoch} plus its
// load/mutate/persist-under-a-mutex shape, and getGob/setGob for the
// durable encoding.
package sequencer

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/colossusdb/corestore/cerr"
)

var bucketName = []byte("tracker")

const trackerKey = "tracker"

// SeqTxnTracker is the per-table state: seqTxn is the highest txn accepted
// by the sequencer, writerTxn the highest applied to the physical table.
// seqTxn >= writerTxn always holds.
type SeqTxnTracker struct {
	SeqTxn    uint64
	WriterTxn uint64
	Suspended bool
}

// Sequencer owns one durable bbolt database per dirName and the in-memory
// tracker for every WAL table that database covers.
type Sequencer struct {
	mu       sync.Mutex
	db       *bbolt.DB
	trackers map[string]*trackerState
}

type trackerState struct {
	mu      sync.Mutex
	tracker SeqTxnTracker
	cond    *sync.Cond
}

// Open opens (creating if needed) the durable sequencer metadata database
// at <dirName>/seq/meta.db.
func Open(dirName string) (*Sequencer, error) {
	path := filepath.Join(dirName, "seq", "meta.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, err
	}
	return &Sequencer{db: db, trackers: make(map[string]*trackerState)}, nil
}

// Close closes the durable database.
func (s *Sequencer) Close() error {
	return s.db.Close()
}

func (s *Sequencer) state(table string) *trackerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.trackers[table]
	if st == nil {
		st = &trackerState{}
		st.cond = sync.NewCond(&st.mu)
		if tracker, ok := s.loadDurable(table); ok {
			st.tracker = tracker
		}
		s.trackers[table] = st
	}
	return st
}

func (s *Sequencer) loadDurable(table string) (SeqTxnTracker, bool) {
	var tracker SeqTxnTracker
	found := false
	s.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(table))
		if bkt == nil {
			return nil
		}
		inner := bkt.Bucket(bucketName)
		if inner == nil {
			return nil
		}
		val := inner.Get([]byte(trackerKey))
		if val == nil {
			return nil
		}
		dec := gob.NewDecoder(bytes.NewReader(val))
		if err := dec.Decode(&tracker); err == nil {
			found = true
		}
		return nil
	})
	return tracker, found
}

func (s *Sequencer) persist(table string, tracker SeqTxnTracker) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&tracker); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return err
		}
		inner, err := bkt.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return inner.Put([]byte(trackerKey), buf.Bytes())
	})
}

// RegisterTable seeds a fresh tracker for a newly created WAL table.
func (s *Sequencer) RegisterTable(table string) error {
	st := s.state(table)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.persist(table, st.tracker)
}

// DropTable removes a table's durable tracker. startingUp mirrors the
// engine's create-table rollback path: dropping a table that never
// finished registering must not error.
func (s *Sequencer) DropTable(table string, startingUp bool) error {
	s.mu.Lock()
	delete(s.trackers, table)
	s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(table))
		if err == bbolt.ErrBucketNotFound && startingUp {
			return nil
		}
		return err
	})
}

// NextSeqTxn assigns and returns the next seqTxn for table, without
// waiting for the writer to catch up.
func (s *Sequencer) NextSeqTxn(table string) (uint64, error) {
	st := s.state(table)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.tracker.Suspended {
		return 0, cerr.Criticalf(table, nil, "table is suspended, rejecting write")
	}
	st.tracker.SeqTxn++
	txn := st.tracker.SeqTxn
	err := s.persist(table, st.tracker)
	return txn, err
}

// AdvanceWriterTxn records that the apply job caught up to writerTxn.
// AwaitTxn callers poll on a backoff and see the new value on their next
// poll.
func (s *Sequencer) AdvanceWriterTxn(table string, writerTxn uint64) error {
	st := s.state(table)
	st.mu.Lock()
	if writerTxn > st.tracker.WriterTxn {
		st.tracker.WriterTxn = writerTxn
	}
	err := s.persist(table, st.tracker)
	st.cond.Broadcast()
	st.mu.Unlock()
	return err
}

// Suspend marks table suspended: new writes and AwaitTxn calls fail fast
// until a manual intervention clears it.
func (s *Sequencer) Suspend(table string) error {
	st := s.state(table)
	st.mu.Lock()
	st.tracker.Suspended = true
	err := s.persist(table, st.tracker)
	st.cond.Broadcast()
	st.mu.Unlock()
	return err
}

// Tracker returns a snapshot of table's current state.
func (s *Sequencer) Tracker(table string) SeqTxnTracker {
	st := s.state(table)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tracker
}

const (
	minBackoff = 10 * time.Millisecond
	maxBackoff = 250 * time.Millisecond
)

// AwaitTxn polls with exponential backoff (10ms -> 250ms cap) until
// writerTxn >= txn, the table is suspended, ctx is cancelled, or timeout
// elapses.
func (s *Sequencer) AwaitTxn(ctx context.Context, table string, txn uint64, timeout time.Duration) error {
	st := s.state(table)
	deadline := time.Now().Add(timeout)
	backoff := minBackoff

	for {
		st.mu.Lock()
		if st.tracker.Suspended {
			st.mu.Unlock()
			return cerr.Criticalf(table, nil, "awaitTxn: table is suspended")
		}
		if st.tracker.WriterTxn >= txn {
			st.mu.Unlock()
			return nil
		}
		st.mu.Unlock()

		if time.Now().After(deadline) {
			return cerr.NonCriticalf(table, "awaitTxn: timed out waiting for txn %d", txn)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
