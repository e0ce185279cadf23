package matview

import (
	"path/filepath"
	"testing"

	"github.com/colossusdb/corestore/table"
)

func TestAddViewAndNotifyInvalidates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mvgraph")
	g, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer g.Close()

	base := table.Token{TableName: "trades", DirName: "trades~1", TableID: 1, IsWal: true}
	view := table.Token{TableName: "daily_vwap", DirName: "daily_vwap~1", TableID: 2, IsMatView: true}

	if err := g.AddView(view, []byte("select ..."), []table.Token{base}); err != nil {
		t.Fatalf("AddView: %v", err)
	}

	views := g.ViewsOf(base)
	if len(views) != 1 || views[0].Token != view {
		t.Fatalf("ViewsOf(base) = %+v, want one view %v", views, view)
	}
	if views[0].State.Invalid {
		t.Errorf("freshly added view reports Invalid before any txn was applied")
	}

	g.NotifyTxnApplied(base, 9)
	views = g.ViewsOf(base)
	if !views[0].State.Invalid {
		t.Errorf("view not marked Invalid after NotifyTxnApplied")
	}

	g.MarkRefreshed(base, view, 9)
	views = g.ViewsOf(base)
	if views[0].State.Invalid {
		t.Errorf("view still Invalid after MarkRefreshed")
	}
	if views[0].State.LastRefreshed != 9 {
		t.Errorf("LastRefreshed = %d, want 9", views[0].State.LastRefreshed)
	}
}

func TestDropViewIfExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mvgraph")
	g, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer g.Close()

	base := table.Token{TableName: "trades", DirName: "trades~1", TableID: 1, IsWal: true}
	view := table.Token{TableName: "daily_vwap", DirName: "daily_vwap~1", TableID: 2, IsMatView: true}

	if err := g.AddView(view, nil, []table.Token{base}); err != nil {
		t.Fatalf("AddView: %v", err)
	}
	if err := g.DropViewIfExists(view); err != nil {
		t.Fatalf("DropViewIfExists: %v", err)
	}
	if views := g.ViewsOf(base); len(views) != 0 {
		t.Errorf("ViewsOf(base) after drop = %+v, want empty", views)
	}
	// Dropping again must be a no-op, not an error.
	if err := g.DropViewIfExists(view); err != nil {
		t.Errorf("second DropViewIfExists: %v", err)
	}
}

func TestGraphPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mvgraph")
	base := table.Token{TableName: "trades", DirName: "trades~1", TableID: 1, IsWal: true}
	view := table.Token{TableName: "daily_vwap", DirName: "daily_vwap~1", TableID: 2, IsMatView: true}

	g, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := g.AddView(view, []byte("def"), []table.Token{base}); err != nil {
		t.Fatalf("AddView: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	g2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer g2.Close()
	views := g2.ViewsOf(base)
	if len(views) != 1 || views[0].Token != view || string(views[0].Definition) != "def" {
		t.Fatalf("after reopen, ViewsOf(base) = %+v", views)
	}
}

func TestDisabledIsNoOp(t *testing.T) {
	var d Disabled
	base := table.Token{TableName: "trades", DirName: "trades~1", TableID: 1}
	view := table.Token{TableName: "v", DirName: "v~1", TableID: 2}

	if err := d.AddView(view, nil, []table.Token{base}); err != nil {
		t.Errorf("Disabled.AddView returned error: %v", err)
	}
	d.NotifyTxnApplied(base, 1)
	if got := d.ViewsOf(base); got != nil {
		t.Errorf("Disabled.ViewsOf = %v, want nil", got)
	}
}
