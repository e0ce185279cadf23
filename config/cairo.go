package config

import (
	"fmt"
	"os"
	"time"

	"github.com/colossusdb/corestore/wal"
)

// commitModeValue adapts wal.CommitMode to the Value interface so it can
// be registered as an ordinary Param, settable from a flag, HCL file, or
// Update call with the strings "nosync" | "async" | "sync".
type commitModeValue wal.CommitMode

func (m *commitModeValue) Set(s string) error {
	switch s {
	case "nosync":
		*m = commitModeValue(wal.NoSync)
	case "async":
		*m = commitModeValue(wal.Async)
	case "sync":
		*m = commitModeValue(wal.Sync)
	default:
		return fmt.Errorf("commit mode must be one of nosync|async|sync, got %q", s)
	}
	return nil
}

func (m *commitModeValue) String() string {
	switch wal.CommitMode(*m) {
	case wal.NoSync:
		return "nosync"
	case wal.Async:
		return "async"
	default:
		return "sync"
	}
}

func (m *commitModeValue) Type() string { return "commitMode" }

// CairoConfiguration is the opaque configuration object spec.md §6
// describes: every tunable the engine core reads, with getters, decoded
// from an HCL file the way cmd/maho.go decodes maho's own server config.
type CairoConfiguration struct {
	DBRoot            string
	CheckpointRoot    string
	CommitMode        wal.CommitMode
	IdleCheckInterval time.Duration
	SpinLockTimeout   time.Duration
	MaxFilenameLength int
	WalEventPageSize  int
	MaxReaders        int
	MaxWriters        int
	WalApplyEnabled   bool
	MatViewsEnabled   bool
}

// NewCairoConfiguration builds a CairoConfiguration with the teacher's
// convention of sane, overridable defaults, registering each field as a
// Param so -param db_root=/var/corestore, an HCL file (HCL identifiers
// can't carry dots, hence snake_case param names here), or
// Update("db_root", ...) can all reach the same backing struct field.
func NewCairoConfiguration() *CairoConfiguration {
	c := &CairoConfiguration{}
	StringParam(&c.DBRoot, "db_root", "db", Default)
	StringParam(&c.CheckpointRoot, "checkpoint_root", "db/checkpoints", Default)
	cfg.param((*commitModeValue)(&c.CommitMode), "commit_mode", Default)
	c.CommitMode = wal.Sync
	DurationParam(&c.IdleCheckInterval, "idle_check_interval", 5*time.Minute, Default)
	DurationParam(&c.SpinLockTimeout, "spin_lock_timeout", time.Second, Default)
	IntParam(&c.MaxFilenameLength, "max_filename_length", 127, Default)
	IntParam(&c.WalEventPageSize, "wal_event_page_size", 1<<20, Default)
	IntParam(&c.MaxReaders, "max_readers", 64, Default)
	IntParam(&c.MaxWriters, "max_writers", 1, Default)
	BoolParam(&c.WalApplyEnabled, "wal_apply_enabled", true, Default)
	BoolParam(&c.MatViewsEnabled, "matviews_enabled", true, Default)
	return c
}

// LoadCairoConfiguration builds the default configuration, applies
// overrides found in the HCL file at path (replaced by the file named with
// the config-file flag registered through Flags, if set; skipped if path is
// empty or the no-config flag is set), then applies every param=value
// given with the param flag. If the list-config flag is set, it prints
// every param and exits the process.
func LoadCairoConfiguration(path string) (*CairoConfiguration, error) {
	c := NewCairoConfiguration()
	if cfg.configFile != "" {
		path = cfg.configFile
	}
	if path != "" && !cfg.noConfig {
		if err := LoadHCL(path); err != nil {
			return nil, err
		}
	}
	for _, arg := range cfg.args {
		if err := cfg.setParam(arg.name, arg.val, Default); err != nil {
			return nil, err
		}
	}
	if cfg.list {
		cfg.listConfig()
		os.Exit(0)
	}
	return c, nil
}

// Getters, per spec.md §6's "opaque CairoConfiguration object with
// getters" — callers across package boundaries (engine, pool, colversion)
// go through these rather than reaching into the struct directly.
func (c *CairoConfiguration) Root() string                       { return c.DBRoot }
func (c *CairoConfiguration) GetCheckpointRoot() string           { return c.CheckpointRoot }
func (c *CairoConfiguration) GetCommitMode() wal.CommitMode       { return c.CommitMode }
func (c *CairoConfiguration) GetIdleCheckInterval() time.Duration { return c.IdleCheckInterval }
func (c *CairoConfiguration) GetSpinLockTimeout() time.Duration   { return c.SpinLockTimeout }
func (c *CairoConfiguration) GetMaxFilenameLength() int           { return c.MaxFilenameLength }
func (c *CairoConfiguration) GetWalEventPageSize() int            { return c.WalEventPageSize }
func (c *CairoConfiguration) GetMaxReaders() int                  { return c.MaxReaders }
func (c *CairoConfiguration) GetMaxWriters() int                  { return c.MaxWriters }
func (c *CairoConfiguration) IsWalApplyEnabled() bool             { return c.WalApplyEnabled }
func (c *CairoConfiguration) IsMatViewsEnabled() bool             { return c.MatViewsEnabled }
