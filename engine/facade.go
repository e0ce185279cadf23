package engine

import (
	"os"
	"path/filepath"

	"github.com/colossusdb/corestore/bus"
	"github.com/colossusdb/corestore/cerr"
	"github.com/colossusdb/corestore/checkpoint"
	"github.com/colossusdb/corestore/pool"
	"github.com/colossusdb/corestore/table"
	"github.com/colossusdb/corestore/wal"
)

// checkCurrent reports cerr.OutOfDate if tok no longer matches the
// registry's live entry for its name — either the name now resolves to a
// different table entirely, or a DDL change (e.g. AddColumn) has bumped
// MetadataVersion since tok was minted. Callers holding a stale token must
// re-resolve the name and retry rather than act on tok directly.
func (e *Engine) checkCurrent(tok table.Token) error {
	cur, ok := e.registry.GetIfExists(tok.TableName)
	if !ok || cur.TableID != tok.TableID || cur.MetadataVersion != tok.MetadataVersion {
		return cerr.OutOfDate(tok.TableName)
	}
	return nil
}

// GetReader checks out a WAL reader for token, for a caller about to
// replay committed records across every WAL generation the table has
// rotated through.
func (e *Engine) GetReader(tok table.Token) (pool.Lease[*wal.TableReader], error) {
	if err := e.checkCurrent(tok); err != nil {
		return pool.Lease[*wal.TableReader]{}, err
	}
	return e.readerPool.Get(tok)
}

// ReleaseReader returns a reader lease obtained from GetReader.
func (e *Engine) ReleaseReader(lease pool.Lease[*wal.TableReader]) {
	e.readerPool.Release(lease)
}

// GetWriter checks out the direct (non-WAL) writer for token, for a
// caller about to commit to a table with no event log.
func (e *Engine) GetWriter(tok table.Token) (pool.Lease[*TableWriter], error) {
	if tok.IsWal {
		return pool.Lease[*TableWriter]{}, cerr.NonCriticalf(tok.TableName, "%s is a WAL table; use GetWalWriter", tok.TableName)
	}
	return e.writerPool.Get(tok)
}

// ReleaseWriter returns a writer lease obtained from GetWriter.
func (e *Engine) ReleaseWriter(lease pool.Lease[*TableWriter]) {
	e.writerPool.Release(lease)
}

// GetWalWriter checks out the WAL segment writer for token, for the single
// caller currently allowed to append to its event log (spec.md §4.2's
// MaxWriters == 1 default).
func (e *Engine) GetWalWriter(tok table.Token) (pool.Lease[*wal.Writer], error) {
	if !tok.IsWal {
		return pool.Lease[*wal.Writer]{}, cerr.NonCriticalf(tok.TableName, "%s is not a WAL table", tok.TableName)
	}
	return e.walWriterPool.Get(tok)
}

// ReleaseWalWriter returns a writer lease obtained from GetWalWriter.
func (e *Engine) ReleaseWalWriter(lease pool.Lease[*wal.Writer]) {
	e.walWriterPool.Release(lease)
}

// NotifyWalTxnCommitted forwards a committed-txn notification to the
// MessageBus, for the apply job to pick up, and marks every materialized
// view depending on token as invalid.
func (e *Engine) NotifyWalTxnCommitted(tok table.Token, txn int64) {
	e.bus.NotifyWalTxnCommitted(tok, txn)
	e.matviews.NotifyTxnApplied(tok, txn)
}

// PollWalTxnNotification lets the apply job drain the MessageBus.
func (e *Engine) PollWalTxnNotification() (bus.WalTxnNotification, bool) {
	return e.bus.PollWalTxnNotification()
}

// UnpublishedWalTxnCount reports how many commit notifications may have
// been dropped and still need a reconciliation scan, per spec.md §3.
func (e *Engine) UnpublishedWalTxnCount() int64 {
	return e.bus.UnpublishedWalTxnCount()
}

// LockReaders locks token's readerPool entry only, refusing new reader
// checkouts while letting writers and metadata access continue. Returns a
// non-empty reason (busyReader, or checkpoint.ReasonCheckpointInProgress)
// if the lock cannot be granted.
func (e *Engine) LockReaders(tok table.Token) (reason string) {
	if e.checkpoint.InProgress() {
		return checkpoint.ReasonCheckpointInProgress
	}
	return e.readerPool.Lock(tok)
}

// UnlockReaders reverses LockReaders.
func (e *Engine) UnlockReaders(tok table.Token) {
	e.readerPool.Unlock(tok)
}

// LockReadersAndMetadata additionally locks the table's colversion store,
// for callers that need a fully quiesced view of a table (e.g. the
// checkpoint snapshot walk).
func (e *Engine) LockReadersAndMetadata(tok table.Token) (reason string) {
	if e.checkpoint.InProgress() {
		return checkpoint.ReasonCheckpointInProgress
	}
	if reason = e.tableMetadataPool.Lock(tok); reason != "" {
		return reason
	}
	if reason = e.readerPool.Lock(tok); reason != "" {
		e.tableMetadataPool.Unlock(tok)
		return reason
	}
	return ""
}

// UnlockReadersAndMetadata reverses LockReadersAndMetadata.
func (e *Engine) UnlockReadersAndMetadata(tok table.Token) {
	e.readerPool.Unlock(tok)
	e.tableMetadataPool.Unlock(tok)
}

// CheckpointCreate freezes new reader-lock acquisition and writes a
// manifest entry for each of tokens, recording its current WAL state.
func (e *Engine) CheckpointCreate(id string, tokens []table.Token) error {
	entries := make([]checkpoint.Entry, 0, len(tokens))
	for _, tok := range tokens {
		entry := checkpoint.Entry{Token: tok}
		if tok.IsWal {
			tracker := e.sequencer.Tracker(tok.DirName)
			entry.LastCommittedTxn = int64(tracker.WriterTxn)
		}
		if tok.IsWal {
			if size, err := e.latestEventFileSize(tok); err == nil {
				entry.EventFileSize = size
			}
		}
		entries = append(entries, entry)
	}
	return e.checkpoint.CheckpointCreate(id, entries)
}

// CheckpointRelease ends the current checkpoint cycle, letting
// LockReaders/LockReadersAndMetadata resume granting locks.
func (e *Engine) CheckpointRelease() error {
	return e.checkpoint.CheckpointRelease()
}

// CheckpointRecover reads back the manifest of the checkpoint directory
// whose name sorts last and removes that directory; see
// checkpoint.Agent.CheckpointRecover.
func (e *Engine) CheckpointRecover() ([]checkpoint.Entry, error) {
	return e.checkpoint.CheckpointRecover()
}

func statSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// latestEventFileSize stats the _event file of tok's newest WAL
// generation, the one LastCommittedTxn in the same checkpoint entry
// refers to.
func (e *Engine) latestEventFileSize(tok table.Token) (int64, error) {
	dirs, err := wal.GenerationDirs(e.ff, e.tableDir(tok))
	if err != nil {
		return 0, err
	}
	if len(dirs) == 0 {
		return 0, os.ErrNotExist
	}
	return statSize(filepath.Join(dirs[len(dirs)-1], wal.EventFileName))
}
