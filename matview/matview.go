// Package matview implements the MatViewGraph: the dependency graph from
// base tables to the materialized views defined over them, and the
// invalidation bookkeeping that marks a view stale the instant one of its
// base tables commits a new WAL txn, per spec.md §4.9. Persistence is
// grounded on storage/kvrows/pebble.go's pebbleKV/pebbleUpdater wrapper
// (github.com/cockroachdb/pebble, carried over from the teacher's go.mod).
package matview

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/colossusdb/corestore/table"
)

// Interface is implemented by both *Graph and Disabled, so engine can hold
// a matview dependency tracker without caring whether matviews_enabled is
// on.
type Interface interface {
	AddView(view table.Token, definition []byte, baseTables []table.Token) error
	DropViewIfExists(view table.Token) error
	NotifyTxnApplied(base table.Token, txn int64)
	MarkRefreshed(base, view table.Token, txn int64)
	ViewsOf(base table.Token) []*View
	Close() error
}

// ViewState tracks whether a view's last materialization is still valid.
type ViewState struct {
	Invalid       bool
	LastRefreshed int64 // base-table txn number as of the last successful refresh
}

// View is one materialized view's definition and refresh state.
type View struct {
	Token      table.Token
	Definition []byte // opaque query/refresh definition, interpreted above this package
	State      ViewState
}

// Graph is the MatViewGraph: an in-memory adjacency map from base table to
// the views defined over it, mirrored to an on-disk pebble KV so the graph
// survives a restart. All methods are safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	edges map[table.Token]map[table.Token]*View // base table -> view token -> View

	db *pebble.DB
}

// Disabled is a no-op Graph returned when spec.md's matviews_enabled
// configuration flag is off; every mutating call is a silent no-op and
// NotifyTxnApplied never marks anything invalid.
type Disabled struct{}

// Open opens (or creates) the matview graph persisted under dir, normally
// <dbRoot>/_mvgraph, and replays it into memory.
func Open(dir string) (*Graph, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	g := &Graph{
		edges: make(map[table.Token]map[table.Token]*View),
		db:    db,
	}
	if err := g.replay(); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

func (g *Graph) replay() error {
	it := g.db.NewIter(nil)
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		var entry struct {
			Base table.Token
			View View
		}
		if err := gob.NewDecoder(bytes.NewReader(it.Value())).Decode(&entry); err != nil {
			return err
		}
		g.index(entry.Base, &entry.View)
	}
	return nil
}

func (g *Graph) index(base table.Token, v *View) {
	views, ok := g.edges[base]
	if !ok {
		views = make(map[table.Token]*View)
		g.edges[base] = views
	}
	views[v.Token] = v
}

func edgeKey(base, view table.Token) []byte {
	return []byte(base.DirName + "\x00" + view.DirName)
}

// AddView registers view as depending on every table in baseTables,
// persisting the edge to disk before making it visible in memory.
func (g *Graph) AddView(view table.Token, definition []byte, baseTables []table.Token) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	batch := g.db.NewIndexedBatch()
	v := &View{Token: view, Definition: definition}
	for _, base := range baseTables {
		var buf bytes.Buffer
		entry := struct {
			Base table.Token
			View View
		}{Base: base, View: *v}
		if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
			batch.Close()
			return err
		}
		if err := batch.Set(edgeKey(base, view), buf.Bytes(), nil); err != nil {
			batch.Close()
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}
	for _, base := range baseTables {
		g.index(base, v)
	}
	return nil
}

// DropViewIfExists removes every edge referencing view, persisting the
// removal before dropping the in-memory entries. It is a no-op if view has
// no registered dependency edges.
func (g *Graph) DropViewIfExists(view table.Token) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var bases []table.Token
	for base, views := range g.edges {
		if _, ok := views[view]; ok {
			bases = append(bases, base)
		}
	}
	if len(bases) == 0 {
		return nil
	}

	batch := g.db.NewIndexedBatch()
	for _, base := range bases {
		if err := batch.Delete(edgeKey(base, view), nil); err != nil {
			batch.Close()
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}
	for _, base := range bases {
		delete(g.edges[base], view)
		if len(g.edges[base]) == 0 {
			delete(g.edges, base)
		}
	}
	return nil
}

// NotifyTxnApplied marks every view depending on base invalid, because base
// just committed txn. engine.Engine.NotifyWalTxnCommitted calls it right
// after posting the commit to the MessageBus. The change is made in memory
// only; nothing is written to pebble.
func (g *Graph) NotifyTxnApplied(base table.Token, txn int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range g.edges[base] {
		v.State.Invalid = true
	}
}

// MarkRefreshed clears the invalid flag on view and records the base-table
// txn its refresh was computed against.
func (g *Graph) MarkRefreshed(base, view table.Token, txn int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.edges[base][view]; ok {
		v.State.Invalid = false
		v.State.LastRefreshed = txn
	}
}

// ViewsOf returns the views currently registered as depending on base.
func (g *Graph) ViewsOf(base table.Token) []*View {
	g.mu.RLock()
	defer g.mu.RUnlock()
	views := make([]*View, 0, len(g.edges[base]))
	for _, v := range g.edges[base] {
		views = append(views, v)
	}
	return views
}

// Close releases the underlying pebble handle.
func (g *Graph) Close() error {
	return g.db.Close()
}

func (Disabled) AddView(table.Token, []byte, []table.Token) error { return nil }
func (Disabled) DropViewIfExists(table.Token) error               { return nil }
func (Disabled) NotifyTxnApplied(table.Token, int64)              {}
func (Disabled) MarkRefreshed(table.Token, table.Token, int64)    {}
func (Disabled) ViewsOf(table.Token) []*View                      { return nil }
func (Disabled) Close() error                                     { return nil }

var (
	_ Interface = (*Graph)(nil)
	_ Interface = Disabled{}
)
