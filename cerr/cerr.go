// Package cerr defines the error taxonomy shared by every corestore
// component: non-critical user errors, critical data-integrity failures,
// stale-token errors, and pool-contention errors.
package cerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to decide whether to
// retry, surface it to a client, or escalate.
type Kind int

const (
	// NonCritical covers user error or transient conditions: table does
	// not exist, name reserved, entry busy. Safe to retry or report.
	NonCritical Kind = iota
	// Critical covers data-integrity or filesystem failures: rename
	// failed, column-version read timeout, short WAL index write.
	Critical
	// TableReferenceOutOfDate means a token's (tableId, metadataVersion)
	// no longer matches reality; the caller must recompile and retry.
	TableReferenceOutOfDate
	// EntryUnavailable means pool or lock contention; the caller chooses
	// the retry policy.
	EntryUnavailable
)

func (k Kind) String() string {
	switch k {
	case NonCritical:
		return "NON_CRITICAL"
	case Critical:
		return "CRITICAL"
	case TableReferenceOutOfDate:
		return "TABLE_REFERENCE_OUT_OF_DATE"
	case EntryUnavailable:
		return "ENTRY_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Error is a typed, taggable error carrying the table name, OS errno (if
// any), and a human-readable reason, per the [table=...,errno=...,reason=...]
// convention.
type Error struct {
	Kind   Kind
	Table  string
	Errno  error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Errno != nil {
		return fmt.Sprintf("corestore: %s [table=%s,errno=%s,reason=%s]",
			e.Kind, e.Table, e.Errno, e.Reason)
	}
	return fmt.Sprintf("corestore: %s [table=%s,reason=%s]", e.Kind, e.Table, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, table string, errno error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:   kind,
		Table:  table,
		Errno:  errno,
		Reason: fmt.Sprintf(format, args...),
	}
}

// NonCriticalf builds a NonCritical error for the named table.
func NonCriticalf(table, format string, args ...interface{}) *Error {
	return newf(NonCritical, table, nil, format, args...)
}

// Criticalf builds a Critical error for the named table, optionally
// wrapping an OS errno.
func Criticalf(table string, errno error, format string, args ...interface{}) *Error {
	return newf(Critical, table, errno, format, args...)
}

// OutOfDate builds a TableReferenceOutOfDate error for the named table.
func OutOfDate(table string) *Error {
	return newf(TableReferenceOutOfDate, table, nil, "token is stale; recompile and retry")
}

// Unavailable builds an EntryUnavailable error for the named table and
// pool/lock reason (e.g. "busyReader").
func Unavailable(table, reason string) *Error {
	return newf(EntryUnavailable, table, nil, reason)
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}
