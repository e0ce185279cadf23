package cerr_test

import (
	"errors"
	"testing"

	"github.com/colossusdb/corestore/cerr"
)

func TestKindString(t *testing.T) {
	cases := []struct {
		kind cerr.Kind
		want string
	}{
		{cerr.NonCritical, "NON_CRITICAL"},
		{cerr.Critical, "CRITICAL"},
		{cerr.TableReferenceOutOfDate, "TABLE_REFERENCE_OUT_OF_DATE"},
		{cerr.EntryUnavailable, "ENTRY_UNAVAILABLE"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("Kind(%d).String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestIs(t *testing.T) {
	err := cerr.Unavailable("trades", "busyReader")
	if !cerr.Is(err, cerr.EntryUnavailable) {
		t.Errorf("Is(err, EntryUnavailable) = false, want true")
	}
	if cerr.Is(err, cerr.Critical) {
		t.Errorf("Is(err, Critical) = true, want false")
	}

	wrapped := errors.New("wrap: " + err.Error())
	if cerr.Is(wrapped, cerr.EntryUnavailable) {
		t.Errorf("Is should not match a plain errors.New wrapper")
	}
}

func TestErrorMessage(t *testing.T) {
	err := cerr.Criticalf("trades", errors.New("ENOSPC"), "rename failed")
	want := "corestore: CRITICAL [table=trades,errno=ENOSPC,reason=rename failed]"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
