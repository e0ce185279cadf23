// Package pool implements the generic per-token resource pool that backs
// every writer/reader/metadata pool in the engine: spec.md §4.1's
// ResourcePool "template", grounded on the teacher's continuation-passing
// style for caller-supplied hooks (engine/badger, engine/bbolt, engine/kv
// all thread a `vf func(val []byte) error` through instead of depending on
// a testing package) and on the teacher's per-resource mutex discipline in
// storage/basic/basic.go.
//
// This is the one package in corestore that departs from the teacher's
// pre-generics Go 1.14 idiom: spec.md §4.2 explicitly describes four
// concrete pools sharing one "ResourcePool template", which a generic type
// models directly instead of four hand-duplicated copies.
package pool

import (
	"sync"
	"time"

	"github.com/colossusdb/corestore/cerr"
	"github.com/colossusdb/corestore/table"
)

// State is a slot's position in the UNALLOCATED/AVAILABLE/CHECKED_OUT/LOCKED
// state machine from spec.md §4.1.
type State int

const (
	Unallocated State = iota
	Available
	CheckedOut
	Locked
)

// Resource is the minimal contract a pooled value must satisfy: something
// to run when the pool evicts or shuts down the slot.
type Resource interface {
	Close() error
}

// HookEvent distinguishes the two events SupervisorFunc is called for.
type HookEvent int

const (
	HookAcquire HookEvent = iota
	HookRelease
)

// SupervisorFunc is the optional test-harness hook invoked on every
// acquire/release, for leak-freedom assertions. Never required in
// production.
type SupervisorFunc func(event HookEvent, token table.Token)

// Factory constructs a new resource for token when the pool needs one and
// has spare capacity.
type Factory[T Resource] func(token table.Token) (T, error)

type slot[T Resource] struct {
	state        State
	res          T
	lastReleased time.Time
}

type entry[T Resource] struct {
	mu    sync.Mutex
	slots []slot[T]
}

// Pool is the generic ResourcePool: a map from table.Token to a small
// fixed-capacity array of slots, each independently AVAILABLE/CHECKED_OUT/
// LOCKED/UNALLOCATED. Pools never block: contention fails fast with
// cerr.EntryUnavailable, matching spec.md §4.1's "pools never deadlock"
// failure model.
type Pool[T Resource] struct {
	mu          sync.Mutex
	entries     map[table.Token]*entry[T]
	capacity    int
	idleTimeout time.Duration
	factory     Factory[T]
	supervisor  SupervisorFunc
}

// New returns a Pool where each token may have up to capacity concurrent
// resources, and idle resources older than idleTimeout are eligible for
// ReleaseInactive.
func New[T Resource](capacity int, idleTimeout time.Duration, factory Factory[T]) *Pool[T] {
	return &Pool[T]{
		entries:     make(map[table.Token]*entry[T]),
		capacity:    capacity,
		idleTimeout: idleTimeout,
		factory:     factory,
	}
}

// SetSupervisor installs the test-harness acquire/release hook.
func (p *Pool[T]) SetSupervisor(fn SupervisorFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.supervisor = fn
}

func (p *Pool[T]) entryFor(token table.Token) *entry[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entries[token]
	if e == nil {
		e = &entry[T]{slots: make([]slot[T], p.capacity)}
		p.entries[token] = e
	}
	return e
}

// Lease is the exclusive handle a caller holds on a checked-out resource
// until Release. Lease is single-owner by convention (the pool never
// hands the same slot to two callers), matching spec.md §9's
// "move semantics plus a drop hook" design note.
type Lease[T Resource] struct {
	Token T
	token table.Token
	slot  int
}

// Get scans token's slots for AVAILABLE, checks it out, and returns it.
// If none are available and capacity allows, a new resource is
// constructed. At capacity, Get fails fast with cerr.EntryUnavailable
// rather than blocking — callers choose their own retry policy.
func (p *Pool[T]) Get(token table.Token) (Lease[T], error) {
	e := p.entryFor(token)
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.slots {
		if e.slots[i].state == Available {
			e.slots[i].state = CheckedOut
			p.fireHook(HookAcquire, token)
			return Lease[T]{Token: e.slots[i].res, token: token, slot: i}, nil
		}
	}
	for i := range e.slots {
		if e.slots[i].state == Unallocated {
			res, err := p.factory(token)
			if err != nil {
				return Lease[T]{}, err
			}
			e.slots[i] = slot[T]{state: CheckedOut, res: res}
			p.fireHook(HookAcquire, token)
			return Lease[T]{Token: res, token: token, slot: i}, nil
		}
	}
	return Lease[T]{}, cerr.Unavailable(token.TableName, "pool exhausted")
}

// Release transitions lease's slot CHECKED_OUT -> AVAILABLE and runs the
// supervisor hook.
func (p *Pool[T]) Release(lease Lease[T]) {
	e := p.entryFor(lease.token)
	e.mu.Lock()
	e.slots[lease.slot].state = Available
	e.slots[lease.slot].lastReleased = time.Now()
	e.mu.Unlock()
	p.fireHook(HookRelease, lease.token)
}

// Lock atomically transitions all of token's AVAILABLE slots to LOCKED. If
// any slot is CHECKED_OUT, it reverts everything it changed and returns
// reason non-empty (e.g. "busyReader") so the caller — always DDL — knows
// this table can't be mutated right now.
func (p *Pool[T]) Lock(token table.Token) (reason string) {
	e := p.entryFor(token)
	e.mu.Lock()
	defer e.mu.Unlock()

	locked := make([]int, 0, len(e.slots))
	for i := range e.slots {
		switch e.slots[i].state {
		case CheckedOut:
			for _, j := range locked {
				e.slots[j].state = Available
			}
			return "busyReader"
		case Available:
			e.slots[i].state = Locked
			locked = append(locked, i)
		}
	}
	return ""
}

// Unlock transitions token's LOCKED slots back to AVAILABLE.
func (p *Pool[T]) Unlock(token table.Token) {
	e := p.entryFor(token)
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.slots {
		if e.slots[i].state == Locked {
			e.slots[i].state = Available
		}
	}
}

// ReleaseInactive closes resources that have sat AVAILABLE longer than the
// pool's idleTimeout, returning true if any slot was freed — the
// maintenance job's signal that it did useful work this pass.
func (p *Pool[T]) ReleaseInactive() bool {
	p.mu.Lock()
	entries := make([]*entry[T], 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	freed := false
	now := time.Now()
	for _, e := range entries {
		e.mu.Lock()
		for i := range e.slots {
			s := &e.slots[i]
			if s.state == Available && now.Sub(s.lastReleased) >= p.idleTimeout {
				s.res.Close()
				*s = slot[T]{}
				freed = true
			}
		}
		e.mu.Unlock()
	}
	return freed
}

// ReleaseAll closes every resource regardless of idle time, for engine
// shutdown.
func (p *Pool[T]) ReleaseAll() {
	p.mu.Lock()
	entries := make([]*entry[T], 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		for i := range e.slots {
			if e.slots[i].state != Unallocated {
				e.slots[i].res.Close()
			}
			e.slots[i] = slot[T]{}
		}
		e.mu.Unlock()
	}
}

// GetBusyCount reports how many of token's slots are currently CHECKED_OUT.
func (p *Pool[T]) GetBusyCount(token table.Token) int {
	e := p.entryFor(token)
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for i := range e.slots {
		if e.slots[i].state == CheckedOut {
			n++
		}
	}
	return n
}

func (p *Pool[T]) fireHook(event HookEvent, token table.Token) {
	p.mu.Lock()
	fn := p.supervisor
	p.mu.Unlock()
	if fn != nil {
		fn(event, token)
	}
}
