// Package registry implements the TableNameRegistry: the authoritative
// name <-> token.Token mapping with lock/rename/drop states, grounded on
// storage/store.go's validate-then-mutate shape and on spec.md §9's tagged-
// sum design note for the FREE/LOCKED/LIVE/LOCKED_DROP states.
package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/colossusdb/corestore/cerr"
	"github.com/colossusdb/corestore/table"
	"github.com/colossusdb/corestore/vfs"
	"github.com/colossusdb/corestore/wal"
)

const fileName = "tables.d"

// dirItem is the btree.Item backing the dirName secondary index that
// enforces P1 ("every dirName belongs to at most one live token"),
// grounded on engine/basic/basic.go's rowItem.Less pattern.
type dirItem struct {
	dirName string
	token   table.Token
}

func (d dirItem) Less(other btree.Item) bool {
	return d.dirName < other.(dirItem).dirName
}

// Registry is the single-writer name registry. Readers take a snapshot
// under the mutex rather than holding it across a lookup, since lookups
// never block on I/O.
type Registry struct {
	mu     sync.Mutex
	root   string
	names  map[string]table.Token
	dirs   *btree.BTree
	nextID int64

	// firstSeen and seq track registration order, oldest first, so
	// resolveDuplicateDirsLocked can fall back to "the name registered
	// first wins" when a dirName collision has no rename record to
	// consult — see pickRenameWinner.
	firstSeen map[string]int64
	seq       int64
}

// New creates an empty registry rooted at dbRoot (tables.d lives directly
// under it).
func New(dbRoot string) *Registry {
	return &Registry{
		root:      dbRoot,
		names:     make(map[string]table.Token),
		dirs:      btree.New(16),
		firstSeen: make(map[string]int64),
	}
}

// noteFirstSeen records name's registration order the first time it is
// seen; later calls for the same name are no-ops.
func (r *Registry) noteFirstSeen(name string) {
	if _, ok := r.firstSeen[name]; ok {
		return
	}
	r.firstSeen[name] = r.seq
	r.seq++
}

func (r *Registry) path() string {
	return filepath.Join(r.root, fileName)
}

// LockTableName inserts a LockedToken placeholder if name is free and
// returns a fresh, not-yet-live token; returns false if name is already
// occupied (by a live token or another in-flight create).
func (r *Registry) LockTableName(name, dirName string, tableID int64, isMatView, isWal bool) (table.Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[name]; exists {
		return table.Token{}, false
	}
	r.names[name] = table.LockedToken
	r.noteFirstSeen(name)
	return table.Token{
		TableName: name,
		DirName:   dirName,
		TableID:   tableID,
		IsWal:     isWal,
		IsMatView: isMatView,
	}, true
}

// RegisterName promotes a LOCKED placeholder to LIVE, inserting token into
// both the name map and the dirName secondary index.
func (r *Registry) RegisterName(token table.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.names[token.TableName]
	if !exists || cur != table.LockedToken {
		return cerr.NonCriticalf(token.TableName, "registerName: %s is not in the LOCKED state", token.TableName)
	}
	if existing := r.dirs.Get(dirItem{dirName: token.DirName}); existing != nil {
		return cerr.Criticalf(token.TableName, nil, "dirName %s already owned by a live token", token.DirName)
	}
	r.names[token.TableName] = token
	r.dirs.ReplaceOrInsert(dirItem{dirName: token.DirName, token: token})
	return r.appendLine(token)
}

// UnlockTableName rolls back a failed create, removing the LOCKED
// placeholder.
func (r *Registry) UnlockTableName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[name] == table.LockedToken {
		delete(r.names, name)
	}
}

// AddTableAlias installs newName pointing at the same dirName as
// existingToken, without removing the old name — the first half of the
// WAL rename crash-survival trick (spec.md §4.8).
func (r *Registry) AddTableAlias(newName string, existingToken table.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[newName]; exists {
		return cerr.NonCriticalf(newName, "name %s already exists", newName)
	}
	alias := existingToken
	alias.TableName = newName
	r.names[newName] = alias
	r.noteFirstSeen(newName)
	return r.appendLine(alias)
}

// Rename atomically swings a name while keeping dirName, installing
// newToken and removing oldToken's name entry.
func (r *Registry) Rename(oldToken, newToken table.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[oldToken.TableName]; !exists {
		return cerr.NonCriticalf(oldToken.TableName, "rename: %s does not exist", oldToken.TableName)
	}
	delete(r.names, oldToken.TableName)
	r.names[newToken.TableName] = newToken
	r.dirs.ReplaceOrInsert(dirItem{dirName: newToken.DirName, token: newToken})
	r.noteFirstSeen(newToken.TableName)
	return r.appendLine(newToken)
}

// DropTable demotes a LIVE token to LOCKED_DROP. Returns false if token
// was not the current owner of its name (a stale caller lost a race).
func (r *Registry) DropTable(token table.Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.names[token.TableName]
	if !exists || cur != token {
		return false
	}
	r.names[token.TableName] = table.LockedDropToken
	r.dirs.Delete(dirItem{dirName: token.DirName})
	return true
}

// BumpMetadataVersion increments tok's MetadataVersion in place (e.g. after
// a DDL change like adding a column) and returns the updated token. Callers
// holding an older token will fail cerr.OutOfDate checks against the new
// registry entry until they re-resolve the name.
func (r *Registry) BumpMetadataVersion(tok table.Token) (table.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.names[tok.TableName]
	if !exists || cur.TableID != tok.TableID {
		return table.Token{}, cerr.NonCriticalf(tok.TableName, "bumpMetadataVersion: %s does not exist", tok.TableName)
	}
	updated := cur
	updated.MetadataVersion++
	r.names[tok.TableName] = updated
	r.dirs.ReplaceOrInsert(dirItem{dirName: updated.DirName, token: updated})
	if err := r.appendLine(updated); err != nil {
		return table.Token{}, err
	}
	return updated, nil
}

// NextTableID returns one past the highest tableId seen across all reloaded
// entries, seeding the engine's table-id generator after a restart.
func (r *Registry) NextTableID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID + 1
}

// GetIfExists returns the live token for name, if any.
func (r *Registry) GetIfExists(name string) (table.Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, exists := r.names[name]
	if !exists || tok.IsLocked() {
		return table.Token{}, false
	}
	return tok, true
}

// Live returns every currently live (non-locked) token, for callers that
// need a full snapshot — e.g. building a checkpoint manifest or rewriting
// tables.d.
func (r *Registry) Live() []table.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokens := make([]table.Token, 0, len(r.names))
	for _, tok := range r.names {
		if !tok.IsLocked() {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func (r *Registry) appendLine(token table.Token) error {
	f, err := os.OpenFile(r.path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return cerr.Criticalf(token.TableName, err, "append to %s", fileName)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\t%s\t%d\t%d\t%t\t%t\n",
		token.TableName, token.DirName, token.TableID, token.MetadataVersion, token.IsWal, token.IsMatView)
	if err != nil {
		return cerr.Criticalf(token.TableName, err, "append to %s", fileName)
	}
	return nil
}

// Reload rebuilds the registry from tables.d, keeping the last entry
// written for each name (the append-then-compact log's LSM-style
// "latest write wins" read semantics).
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	names := make(map[string]table.Token)
	dirs := btree.New(16)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		tok, err := parseLine(sc.Text())
		if err != nil {
			return err
		}
		names[tok.TableName] = tok
		if tok.TableID > r.nextID {
			r.nextID = tok.TableID
		}
		dirs.ReplaceOrInsert(dirItem{dirName: tok.DirName, token: tok})
		r.noteFirstSeen(tok.TableName)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	r.names = names
	r.dirs = dirs
	return r.resolveDuplicateDirsLocked()
}

// Reconcile rewrites tables.d from the in-memory map, compacting away
// superseded appends, while holding the registry's exclusive lock for the
// whole pass (spec.md §5 "the registry's backing file... compaction runs
// only during reconcile which holds an exclusive lock"). Before compacting
// it resolves any dirName collision left behind by a crash mid-rename, so
// the file that comes out the other end always reflects a single winner
// per directory (spec.md §8 scenario 3).
func (r *Registry) Reconcile() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.resolveDuplicateDirsLocked(); err != nil {
		return err
	}

	tmp := r.path() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	for _, tok := range r.names {
		if tok.IsLocked() {
			continue
		}
		if _, err := fmt.Fprintf(f, "%s\t%s\t%d\t%d\t%t\t%t\n",
			tok.TableName, tok.DirName, tok.TableID, tok.MetadataVersion, tok.IsWal, tok.IsMatView); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, r.path())
}

// resolveDuplicateDirsLocked finds every dirName currently claimed by more
// than one live name (the AddTableAlias trick leaves exactly this behind if
// the process crashes between installing the alias and dropping the old
// name) and drops every name but the winner, per pickRenameWinner. Callers
// must hold r.mu.
func (r *Registry) resolveDuplicateDirsLocked() error {
	byDir := make(map[string][]string)
	for name, tok := range r.names {
		if tok.IsLocked() {
			continue
		}
		byDir[tok.DirName] = append(byDir[tok.DirName], name)
	}
	for dirName, names := range byDir {
		if len(names) < 2 {
			continue
		}
		winner, err := r.pickRenameWinner(dirName, names)
		if err != nil {
			return err
		}
		for _, name := range names {
			if name != winner {
				delete(r.names, name)
			}
		}
	}
	return nil
}

// pickRenameWinner decides which of names (all sharing dirName) survives a
// crash mid-rename. It replays the table's WAL looking for the latest
// RENAME TABLE marker naming one of the candidates as the destination; if
// none is found (the crash happened before the marker was even durable) it
// falls back to whichever name was registered first, matching
// AddTableAlias's "the old name is still valid until Rename drops it"
// invariant.
func (r *Registry) pickRenameWinner(dirName string, names []string) (string, error) {
	tr, err := wal.OpenTableReader(vfs.OS{}, filepath.Join(r.root, dirName))
	if err != nil {
		return r.firstRegisteredName(names), nil
	}
	defer tr.Close()

	winner := ""
	for i := 0; i < tr.NumRecords(); i++ {
		rec, err := tr.RecordAt(i)
		if err != nil {
			break
		}
		if rec.Kind != wal.KindSQL {
			continue
		}
		_, to, ok := parseRenameSQL(rec.SQL.SQLText)
		if !ok {
			continue
		}
		for _, n := range names {
			if n == to {
				winner = n
			}
		}
	}
	if winner == "" {
		return r.firstRegisteredName(names), nil
	}
	return winner, nil
}

// parseRenameSQL extracts the source and destination names from a
// "RENAME TABLE %s TO %s" marker appended by the rename DDL path.
func parseRenameSQL(sqlText string) (from, to string, ok bool) {
	const prefix = "RENAME TABLE "
	if !strings.HasPrefix(sqlText, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(sqlText, prefix)
	parts := strings.SplitN(rest, " TO ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// firstRegisteredName returns whichever of names has the smallest
// firstSeen sequence number (oldest registration). Names absent from
// firstSeen (should not happen once Reload/RegisterName have run) sort
// last.
func (r *Registry) firstRegisteredName(names []string) string {
	best := names[0]
	bestSeq, ok := r.firstSeen[best]
	if !ok {
		bestSeq = r.seq
	}
	for _, n := range names[1:] {
		seq, ok := r.firstSeen[n]
		if !ok {
			seq = r.seq
		}
		if seq < bestSeq {
			best = n
			bestSeq = seq
		}
	}
	return best
}

func parseLine(line string) (table.Token, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 6 {
		return table.Token{}, fmt.Errorf("registry: malformed tables.d line %q", line)
	}
	id, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return table.Token{}, fmt.Errorf("registry: malformed tableId in %q: %w", line, err)
	}
	metaVer, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return table.Token{}, fmt.Errorf("registry: malformed metadataVersion in %q: %w", line, err)
	}
	isWal, err := strconv.ParseBool(fields[4])
	if err != nil {
		return table.Token{}, fmt.Errorf("registry: malformed isWal in %q: %w", line, err)
	}
	isMatView, err := strconv.ParseBool(fields[5])
	if err != nil {
		return table.Token{}, fmt.Errorf("registry: malformed isMatView in %q: %w", line, err)
	}
	return table.Token{
		TableName:       fields[0],
		DirName:         fields[1],
		TableID:         id,
		MetadataVersion: metaVer,
		IsWal:           isWal,
		IsMatView:       isMatView,
	}, nil
}
