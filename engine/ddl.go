package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/colossusdb/corestore/cerr"
	"github.com/colossusdb/corestore/colversion"
	"github.com/colossusdb/corestore/table"
	"github.com/colossusdb/corestore/wal"
)

// lockCreating spins until name has no create/drop already in flight, then
// claims it — spec.md §4.3's createTableLock, a per-name spin lock rather
// than a blocking mutex so a caller can bound how long it waits via
// SpinLockTimeout.
func (e *Engine) lockCreating(name string) error {
	deadline := time.Now().Add(e.cfg.GetSpinLockTimeout())
	for {
		e.createMu.Lock()
		if _, busy := e.creating[name]; !busy {
			e.creating[name] = struct{}{}
			e.createMu.Unlock()
			return nil
		}
		e.createMu.Unlock()

		if time.Now().After(deadline) {
			return cerr.Unavailable(name, "createTableLock: timed out waiting for a concurrent create/drop")
		}
		time.Sleep(time.Millisecond)
	}
}

func (e *Engine) unlockCreating(name string) {
	e.createMu.Lock()
	delete(e.creating, name)
	e.createMu.Unlock()
}

// CreateTable allocates a fresh token for name, creates its on-disk
// directory, and — for WAL tables — its first WAL segment and sequencer
// tracker. Any failure after the directory is created rolls the directory
// and the registry's LOCKED placeholder back, matching storage/store.go's
// validate-then-mutate-then-rollback shape.
func (e *Engine) CreateTable(name string, isWal, isMatView bool) (table.Token, error) {
	if err := e.VerifyTableName(name); err != nil {
		return table.Token{}, err
	}
	if err := e.lockCreating(name); err != nil {
		return table.Token{}, err
	}
	defer e.unlockCreating(name)

	tableID := atomic.AddInt64(&e.nextTableID, 1)
	dirName := name
	if isWal {
		dirName = fmt.Sprintf("%s~%d", name, tableID)
	}

	tok, ok := e.registry.LockTableName(name, dirName, tableID, isMatView, isWal)
	if !ok {
		return table.Token{}, cerr.NonCriticalf(name, "table %s already exists", name)
	}

	rollback := func(cause error) (table.Token, error) {
		e.registry.UnlockTableName(name)
		e.ff.Remove(e.tableDir(tok))
		return table.Token{}, cause
	}

	if err := e.ff.MkdirAll(e.tableDir(tok), 0o755); err != nil {
		return rollback(cerr.Criticalf(name, err, "create table directory"))
	}

	if isWal {
		w, err := wal.OpenNextWriter(e.ff, e.tableDir(tok), e.cfg.GetCommitMode())
		if err != nil {
			return rollback(cerr.Criticalf(name, err, "open initial WAL segment"))
		}
		w.Close()

		if err := e.sequencer.RegisterTable(tok.DirName); err != nil {
			return rollback(cerr.Criticalf(name, err, "register sequencer tracker"))
		}
	}

	cv, err := colversion.Open(e.ff, e.colversionPath(tok), true)
	if err != nil {
		return rollback(cerr.Criticalf(name, err, "initialize column version store"))
	}
	cv.Close()

	if err := e.registry.RegisterName(tok); err != nil {
		return rollback(err)
	}
	return tok, nil
}

// AddColumn records a new column's introduction in tok's column-version
// store and bumps the registry's MetadataVersion, so readers holding an
// older token get cerr.OutOfDate from GetReader (and from AddColumn itself)
// until they re-resolve the name. columnIndex/nameTxn/addedAtPartition are the query
// layer's own bookkeeping values (the column's ordinal, the name-txn that
// makes the rename-survives-a-crash trick work for columns too, and the
// partition timestamp the column becomes visible from).
//
// AddColumn serializes against other DDL via lockCreating rather than
// lockAllPools: colversion's seqlock already tolerates any number of
// concurrent ReadSafe callers while a Writer mutates the store, so there
// is no need to lock out tableMetadataPool's readers for this.
func (e *Engine) AddColumn(tok table.Token, columnIndex, nameTxn, addedAtPartition int64) (table.Token, error) {
	if err := e.checkCurrent(tok); err != nil {
		return table.Token{}, err
	}
	if err := e.lockCreating(tok.TableName); err != nil {
		return table.Token{}, err
	}
	defer e.unlockCreating(tok.TableName)

	st, err := colversion.Open(e.ff, e.colversionPath(tok), true)
	if err != nil {
		return table.Token{}, cerr.Criticalf(tok.TableName, err, "addColumn: open column version store")
	}
	defer st.Close()

	w, err := colversion.NewWriter(st)
	if err != nil {
		return table.Token{}, cerr.Criticalf(tok.TableName, err, "addColumn: load column version writer")
	}
	w.Upsert(colversion.ColTopDefaultPartition, columnIndex, nameTxn, addedAtPartition)
	if err := w.Commit(); err != nil {
		return table.Token{}, cerr.Criticalf(tok.TableName, err, "addColumn: commit column version store")
	}

	return e.registry.BumpMetadataVersion(tok)
}

// CreateMatView is CreateTable specialized for a materialized view: it
// additionally records the view's dependency edges in the MatViewGraph
// once the backing table itself is live.
func (e *Engine) CreateMatView(name string, definition []byte, baseTables []table.Token) (table.Token, error) {
	tok, err := e.CreateTable(name, true, true)
	if err != nil {
		return table.Token{}, err
	}
	if err := e.matviews.AddView(tok, definition, baseTables); err != nil {
		e.DropTableOrMatView(tok)
		return table.Token{}, err
	}
	return tok, nil
}

// DropTableOrMatView locks every pool for token's current resources (so no
// reader or writer is mid-use), demotes the registry entry to LOCKED_DROP,
// removes the sequencer tracker, and deletes the on-disk directory.
func (e *Engine) DropTableOrMatView(tok table.Token) error {
	if tok.IsMatView {
		if err := e.matviews.DropViewIfExists(tok); err != nil {
			return err
		}
	}

	if reason := e.lockAllPools(tok); reason != "" {
		return cerr.Unavailable(tok.TableName, "dropTable: "+reason)
	}
	defer e.unlockAllPools(tok)

	if !e.registry.DropTable(tok) {
		return cerr.NonCriticalf(tok.TableName, "dropTable: %s is not the current live token", tok.TableName)
	}
	if tok.IsWal {
		if err := e.sequencer.DropTable(tok.DirName, false); err != nil {
			return err
		}
	}
	if err := e.ff.Remove(e.tableDir(tok)); err != nil {
		return cerr.Criticalf(tok.TableName, err, "dropTable: remove table directory")
	}
	return nil
}

// Rename swings oldToken's name to newName. For a WAL table, the old name
// is kept as a live alias until a replay-visible SQL record documenting
// the rename has been durably appended to its own WAL segment, so a crash
// between the two registry writes still leaves both names resolvable to
// the same dirName (spec.md §4.8's rename-survives-a-crash requirement);
// Reconcile (registry package) picks the winner on the next open. A
// non-WAL table has no event log to anchor that record in, so its
// directory is renamed directly on disk instead.
func (e *Engine) Rename(oldToken table.Token, newName string) (table.Token, error) {
	if err := e.VerifyTableName(newName); err != nil {
		return table.Token{}, err
	}
	if err := e.lockCreating(newName); err != nil {
		return table.Token{}, err
	}
	defer e.unlockCreating(newName)

	newToken := oldToken
	newToken.TableName = newName

	if oldToken.IsWal {
		if err := e.registry.AddTableAlias(newName, oldToken); err != nil {
			return table.Token{}, err
		}
		if err := e.appendRenameRecord(oldToken, oldToken.TableName, newName); err != nil {
			return table.Token{}, err
		}
		if err := e.registry.Rename(oldToken, newToken); err != nil {
			return table.Token{}, err
		}
		return newToken, nil
	}

	if reason := e.lockAllPools(oldToken); reason != "" {
		return table.Token{}, cerr.Unavailable(oldToken.TableName, "rename: "+reason)
	}
	defer e.unlockAllPools(oldToken)

	newToken.DirName = newName
	if err := e.ff.Rename(e.tableDir(oldToken), e.tableDir(newToken)); err != nil {
		return table.Token{}, cerr.Criticalf(oldToken.TableName, err, "rename: rename table directory")
	}
	if err := e.registry.Rename(oldToken, newToken); err != nil {
		return table.Token{}, err
	}
	return newToken, nil
}

func (e *Engine) appendRenameRecord(tok table.Token, oldName, newName string) error {
	lease, err := e.walWriterPool.Get(tok)
	if err != nil {
		return err
	}
	defer e.walWriterPool.Release(lease)

	_, err = lease.Token.AppendSQL(wal.SQLRecord{
		SQLText: fmt.Sprintf("RENAME TABLE %s TO %s", oldName, newName),
	})
	if err != nil {
		return err
	}
	return lease.Token.Sync()
}

// lockAllPools locks tok in tableMetadataPool, sequencerMetadataPool,
// whichever writer pool matches tok.IsWal, and readerPool, in that fixed
// order, to avoid the lock-order-inversion deadlock a DDL operation racing
// a checkpoint could otherwise hit. On the first busy pool, everything
// already locked is unlocked before returning the busy reason.
func (e *Engine) lockAllPools(tok table.Token) (reason string) {
	if reason = e.tableMetadataPool.Lock(tok); reason != "" {
		return reason
	}
	if reason = e.sequencerMetadataPool.Lock(tok); reason != "" {
		e.tableMetadataPool.Unlock(tok)
		return reason
	}
	if tok.IsWal {
		reason = e.walWriterPool.Lock(tok)
	} else {
		reason = e.writerPool.Lock(tok)
	}
	if reason != "" {
		e.sequencerMetadataPool.Unlock(tok)
		e.tableMetadataPool.Unlock(tok)
		return reason
	}
	if reason = e.readerPool.Lock(tok); reason != "" {
		if tok.IsWal {
			e.walWriterPool.Unlock(tok)
		} else {
			e.writerPool.Unlock(tok)
		}
		e.sequencerMetadataPool.Unlock(tok)
		e.tableMetadataPool.Unlock(tok)
		return reason
	}
	return ""
}

func (e *Engine) unlockAllPools(tok table.Token) {
	e.readerPool.Unlock(tok)
	if tok.IsWal {
		e.walWriterPool.Unlock(tok)
	} else {
		e.writerPool.Unlock(tok)
	}
	e.sequencerMetadataPool.Unlock(tok)
	e.tableMetadataPool.Unlock(tok)
}
