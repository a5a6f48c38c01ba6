// Package tplmutex implements a mutex whose acquire/release raises and
// restores the system's Task Priority Level, grounded on
// Crates/TplLock/src/lib.rs from the reference implementation.
//
// Before the scheduler publishes itself via PublishServices, a Mutex
// degrades to a bare compare-and-swap flag with no TPL interaction —
// this is required because the scheduler itself is built out of data
// structures that need locks.
package tplmutex

import (
	"fmt"
	"sync/atomic"
)

// Services is the subset of the TPL scheduler a Mutex needs. Implemented
// by the adapter that internal/sched.Scheduler.AsTPLServices returns.
type Services interface {
	RaiseTPL(new uint) (old uint)
	RestoreTPL(old uint)
}

var services atomic.Pointer[Services]

// PublishServices wires the scheduler into every Mutex in the process.
// Call once, after the scheduler itself is constructed. Safe to call from
// any goroutine; all mutexes observe the update atomically.
func PublishServices(s Services) {
	services.Store(&s)
}

// currentServices returns the published Services, or nil if none has been
// published yet.
func currentServices() Services {
	p := services.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Mutex guards a value of type T, raising TPL to level on acquire.
type Mutex[T any] struct {
	level  uint
	name   string
	locked atomic.Bool
	data   T
}

// New constructs a Mutex that raises to level on Lock and carries name for
// diagnostics (reentrance panics use it, and Name returns it).
func New[T any](level uint, name string, data T) *Mutex[T] {
	return &Mutex[T]{level: level, name: name, data: data}
}

// Guard grants access to the data guarded by a Mutex. Release must be
// called exactly once, typically via defer.
type Guard[T any] struct {
	m          *Mutex[T]
	releaseTPL uint
	hadTPL     bool
}

// Value returns a pointer to the guarded data.
func (g *Guard[T]) Value() *T {
	return &g.m.data
}

// Release clears the lock flag and restores TPL, if it was raised at
// acquire time. Safe to call at most once per Guard.
func (g *Guard[T]) Release() {
	g.m.locked.Store(false)
	if g.hadTPL {
		s := currentServices()
		if s == nil {
			panic(fmt.Sprintf("tplmutex: valid release TPL for %q but no services published", g.m.name))
		}
		s.RestoreTPL(g.releaseTPL)
	}
}

// Lock acquires the mutex, raising TPL to the mutex's declared level
// first. Reentrant locking is a programmer error and panics.
func (m *Mutex[T]) Lock() *Guard[T] {
	g, ok := m.TryLock()
	if !ok {
		panic(fmt.Sprintf("tplmutex: re-entrant lock for %q not permitted", m.name))
	}
	return g
}

// TryLock attempts to acquire the mutex without blocking. It returns
// (nil, false) if the mutex is already held.
func (m *Mutex[T]) TryLock() (*Guard[T], bool) {
	s := currentServices()
	var releaseTPL uint
	hadTPL := s != nil
	if hadTPL {
		releaseTPL = s.RaiseTPL(m.level)
	}

	if !m.locked.CompareAndSwap(false, true) {
		if hadTPL {
			s.RestoreTPL(releaseTPL)
		}
		return nil, false
	}

	return &Guard[T]{m: m, releaseTPL: releaseTPL, hadTPL: hadTPL}, true
}

// Name returns the mutex's diagnostic name.
func (m *Mutex[T]) Name() string {
	return m.name
}

// Level returns the TPL this mutex raises to on acquire.
func (m *Mutex[T]) Level() uint {
	return m.level
}
