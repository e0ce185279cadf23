// Package engine implements the Engine facade: the single entry point that
// composes vfs, colversion, wal, pool, registry, sequencer, bus, checkpoint
// and matview into the table lifecycle and concurrency-control operations
// spec.md §4 describes. Grounded on engine/engine.go's thin
// facade-over-a-backing-store shape (every exported method delegates to an
// owned object rather than reimplementing logic) and on storage/store.go's
// validate-then-mutate-then-rollback-on-error transaction shape for
// CreateTable/DropTable.
package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/colossusdb/corestore/bus"
	"github.com/colossusdb/corestore/cerr"
	"github.com/colossusdb/corestore/checkpoint"
	"github.com/colossusdb/corestore/colversion"
	"github.com/colossusdb/corestore/config"
	"github.com/colossusdb/corestore/matview"
	"github.com/colossusdb/corestore/pool"
	"github.com/colossusdb/corestore/registry"
	"github.com/colossusdb/corestore/sequencer"
	"github.com/colossusdb/corestore/table"
	"github.com/colossusdb/corestore/vfs"
	"github.com/colossusdb/corestore/wal"
)

// sequencerHandle gives the single shared *sequencer.Sequencer a home in
// sequencerMetadataPool, so reconciliation/checkpoint DDL can lock it in
// the same fixed pool order as the other per-token resources without the
// sequencer itself being re-opened per table.
type sequencerHandle struct {
	seq *sequencer.Sequencer
}

func (sequencerHandle) Close() error { return nil }

// Engine is corestore's top-level facade. One Engine owns one database
// directory; spec.md §4 assumes a single Engine per process.
type Engine struct {
	cfg *config.CairoConfiguration
	ff  vfs.FilesFacade
	log *log.Logger

	registry   *registry.Registry
	sequencer  *sequencer.Sequencer
	checkpoint *checkpoint.Agent
	matviews   matview.Interface
	bus        *bus.MessageBus

	tableMetadataPool     *pool.Pool[*colversion.Store]
	sequencerMetadataPool *pool.Pool[*sequencerHandle]
	writerPool            *pool.Pool[*TableWriter] // non-WAL tables: direct _txn-counter writer
	walWriterPool         *pool.Pool[*wal.Writer]   // WAL tables: segment-rotating event-log writer
	readerPool            *pool.Pool[*wal.TableReader]

	nextTableID int64

	createMu sync.Mutex
	creating map[string]struct{}

	stopIdle chan struct{}
}

// Open builds an Engine rooted at cfg's DBRoot, recovering any in-flight
// checkpoint left behind by a crash (spec.md §4.8) before returning. The
// checkpoint/matview subsystems are those spec.md §6 calls "opaque,
// configuration-driven collaborators": matviews is a real pebble-backed
// Graph when cfg.IsMatViewsEnabled(), or matview.Disabled{} otherwise.
func Open(cfg *config.CairoConfiguration) (*Engine, error) {
	ff := vfs.OS{}
	if err := ff.MkdirAll(cfg.Root(), 0o755); err != nil {
		return nil, err
	}

	reg := registry.New(cfg.Root())
	if err := reg.Reload(); err != nil {
		return nil, fmt.Errorf("engine: reload registry: %w", err)
	}

	seq, err := sequencer.Open(filepath.Join(cfg.Root(), "_sequencer"))
	if err != nil {
		return nil, fmt.Errorf("engine: open sequencer: %w", err)
	}

	var mv matview.Interface = matview.Disabled{}
	if cfg.IsMatViewsEnabled() {
		g, err := matview.Open(filepath.Join(cfg.Root(), "_mvgraph"))
		if err != nil {
			seq.Close()
			return nil, fmt.Errorf("engine: open matview graph: %w", err)
		}
		mv = g
	}

	ckpt := checkpoint.New(cfg.GetCheckpointRoot())

	e := &Engine{
		cfg:        cfg,
		ff:         ff,
		log:        log.StandardLogger(),
		registry:   reg,
		sequencer:  seq,
		checkpoint: ckpt,
		matviews:   mv,
		bus:        bus.New(),
		creating:   make(map[string]struct{}),
		stopIdle:   make(chan struct{}),
	}
	e.nextTableID = reg.NextTableID()

	// tableMetadataPool hands out read-only colversion.Store handles: the
	// seqlock protocol lets any number of these coexist, remapping on
	// growth, alongside the single writable handle AddColumn opens
	// directly (see ddl.go).
	e.tableMetadataPool = pool.New[*colversion.Store](cfg.GetMaxReaders(), cfg.GetIdleCheckInterval(),
		func(tok table.Token) (*colversion.Store, error) {
			return colversion.Open(ff, e.colversionPath(tok), false)
		})
	e.sequencerMetadataPool = pool.New[*sequencerHandle](1, cfg.GetIdleCheckInterval(),
		func(table.Token) (*sequencerHandle, error) {
			return &sequencerHandle{seq: seq}, nil
		})
	e.writerPool = pool.New[*TableWriter](cfg.GetMaxWriters(), cfg.GetIdleCheckInterval(),
		func(tok table.Token) (*TableWriter, error) {
			return openTableWriter(ff, e.tableDir(tok))
		})
	e.walWriterPool = pool.New[*wal.Writer](cfg.GetMaxWriters(), cfg.GetIdleCheckInterval(),
		func(tok table.Token) (*wal.Writer, error) {
			return wal.OpenNextWriter(ff, e.tableDir(tok), cfg.GetCommitMode())
		})
	e.readerPool = pool.New[*wal.TableReader](cfg.GetMaxReaders(), cfg.GetIdleCheckInterval(),
		func(tok table.Token) (*wal.TableReader, error) {
			return wal.OpenTableReader(ff, e.tableDir(tok))
		})

	if _, err := ckpt.CheckpointRecover(); err != nil {
		e.log.WithError(err).Warn("engine: checkpoint recovery failed")
	}

	go e.idleLoop()
	return e, nil
}

func (e *Engine) tableDir(tok table.Token) string {
	return filepath.Join(e.cfg.Root(), tok.DirName)
}

func (e *Engine) colversionPath(tok table.Token) string {
	return filepath.Join(e.tableDir(tok), "_cv")
}

// idleLoop periodically releases idle pool resources, per
// CairoConfiguration's idleCheckInterval tunable.
func (e *Engine) idleLoop() {
	t := time.NewTicker(e.cfg.GetIdleCheckInterval())
	defer t.Stop()
	for {
		select {
		case <-t.C:
			e.tableMetadataPool.ReleaseInactive()
			e.writerPool.ReleaseInactive()
			e.walWriterPool.ReleaseInactive()
			e.readerPool.ReleaseInactive()
		case <-e.stopIdle:
			return
		}
	}
}

// Close releases every pooled resource and closes the durable subsystems.
// Safe to call once at process shutdown.
func (e *Engine) Close() error {
	close(e.stopIdle)
	e.tableMetadataPool.ReleaseAll()
	e.writerPool.ReleaseAll()
	e.walWriterPool.ReleaseAll()
	e.readerPool.ReleaseAll()
	if err := e.matviews.Close(); err != nil {
		e.log.WithError(err).Warn("engine: close matview graph")
	}
	return e.sequencer.Close()
}

// VerifyTableName reports whether name is a syntactically legal table
// name: non-empty and no longer than CairoConfiguration's
// maxFilenameLength, since dirName is derived from it.
func (e *Engine) VerifyTableName(name string) error {
	if name == "" {
		return cerr.NonCriticalf(name, "table name must not be empty")
	}
	if len(name) > e.cfg.GetMaxFilenameLength() {
		return cerr.NonCriticalf(name, "table name longer than %d bytes", e.cfg.GetMaxFilenameLength())
	}
	return nil
}

// GetTableTokenIfExists looks up name's live token, if any.
func (e *Engine) GetTableTokenIfExists(name string) (table.Token, bool) {
	return e.registry.GetIfExists(name)
}

// ListTables returns every currently live table and materialized-view
// token, for callers building a full checkpoint manifest or reporting
// registry state.
func (e *Engine) ListTables() []table.Token {
	return e.registry.Live()
}

// Reconcile compacts the name registry's backing tables.d file, per
// spec.md §5's "compaction runs only during reconcile" maintenance window.
func (e *Engine) Reconcile() error {
	return e.registry.Reconcile()
}
