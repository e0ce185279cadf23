// Package table defines the TableToken identity that survives renames and
// pins a table to its on-disk directory, plus the sentinel tokens the name
// registry uses to mark in-flight create/drop states.
package table

import "fmt"

// Token is the immutable identity of a table. It compares by value; two
// tokens with the same TableID but different TableName, or the same
// TableID and TableName but different MetadataVersion, indicate a stale
// reference (see cerr.TableReferenceOutOfDate). MetadataVersion bumps on
// every schema change (e.g. an added column), so a reader holding a token
// minted before such a change can be told to recompile rather than observe
// a mix of old and new schema.
type Token struct {
	TableName       string
	DirName         string
	TableID         int64
	MetadataVersion int64
	IsWal           bool
	IsMatView       bool
}

// reservedTableID marks LockedToken/LockedDropToken so they can never collide with
// a TableID assigned by a real sequence.
const reservedTableID = -1

// LockedToken occupies a registry entry while a create is in flight.
var LockedToken = Token{TableName: "", DirName: "", TableID: reservedTableID}

// LockedDropToken occupies a registry entry while a drop is in flight.
var LockedDropToken = Token{TableName: "", DirName: "", TableID: reservedTableID - 1}

// IsLocked reports whether t is one of the registry's sentinel tokens.
func (t Token) IsLocked() bool {
	return t == LockedToken || t == LockedDropToken
}

// String renders a token for logging and error messages.
func (t Token) String() string {
	return fmt.Sprintf("%s(dir=%s,id=%d,metaver=%d,wal=%t,matview=%t)",
		t.TableName, t.DirName, t.TableID, t.MetadataVersion, t.IsWal, t.IsMatView)
}

// StaleAgainst reports whether t and other share a TableID but disagree on
// TableName — the signature of a caller holding a pre-rename reference.
func (t Token) StaleAgainst(other Token) bool {
	return t.TableID == other.TableID && t.TableName != other.TableName
}
