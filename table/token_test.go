package table_test

import (
	"testing"

	"github.com/colossusdb/corestore/table"
)

func TestTokenEquality(t *testing.T) {
	a := table.Token{TableName: "trades", DirName: "trades~1", TableID: 7}
	b := table.Token{TableName: "trades", DirName: "trades~1", TableID: 7}
	c := table.Token{TableName: "trades2", DirName: "trades~1", TableID: 7}

	if a != b {
		t.Errorf("expected equal tokens to compare equal")
	}
	if a == c {
		t.Errorf("expected differently-named tokens to compare unequal")
	}
}

func TestStaleAgainst(t *testing.T) {
	before := table.Token{TableName: "trades", DirName: "trades~1", TableID: 7}
	after := table.Token{TableName: "trades_renamed", DirName: "trades~1", TableID: 7}

	if !before.StaleAgainst(after) {
		t.Errorf("expected before to be stale against after rename")
	}
	if after.StaleAgainst(after) {
		t.Errorf("a token should never be stale against itself")
	}
}

func TestLockedSentinels(t *testing.T) {
	if !table.LockedToken.IsLocked() {
		t.Errorf("LockedToken.IsLocked() = false, want true")
	}
	if !table.LockedDropToken.IsLocked() {
		t.Errorf("LockedDropToken.IsLocked() = false, want true")
	}
	if table.LockedToken == table.LockedDropToken {
		t.Errorf("LockedToken and LockedDropToken must be distinct")
	}
	live := table.Token{TableName: "trades", DirName: "trades~1", TableID: 7}
	if live.IsLocked() {
		t.Errorf("a live token must not report IsLocked")
	}
}
