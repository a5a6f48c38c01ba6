package tplmutex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServices mocks internal/sched.Scheduler for mutex tests, mirroring
// the mock_boot_services helper in Crates/TplLock/src/lib.rs.
type fakeServices struct {
	tpl uint
}

func (f *fakeServices) RaiseTPL(new uint) uint {
	old := f.tpl
	if old > new {
		panic("cannot raise tpl to lower than current level")
	}
	f.tpl = new
	return old
}

func (f *fakeServices) RestoreTPL(new uint) {
	if f.tpl < new {
		panic("cannot restore tpl to higher than current level")
	}
	f.tpl = new
}

func resetServices() {
	services.Store(nil)
}

func TestMutexWithoutServices(t *testing.T) {
	resetServices()

	m := New[int](4, "test_lock", 1)
	g := m.Lock()
	*g.Value() = 2
	g.Release()

	g2 := m.Lock()
	assert.Equal(t, 2, *g2.Value())
	g2.Release()
}

func TestMutexRaisesAndRestoresTPL(t *testing.T) {
	resetServices()
	defer resetServices()

	fake := &fakeServices{tpl: 4} // TPL_APPLICATION
	PublishServices(fake)

	m := New[int](16, "notify_lock", 1) // TPL_NOTIFY
	g := m.Lock()
	assert.Equal(t, uint(16), fake.tpl)
	g.Release()
	assert.Equal(t, uint(4), fake.tpl)
}

func TestReentrantLockPanics(t *testing.T) {
	resetServices()

	m := New[int](4, "test_lock", 1)
	g := m.Lock()
	defer g.Release()

	assert.Panics(t, func() {
		m.Lock()
	})
}

func TestTryLockReturnsFalseWhenHeld(t *testing.T) {
	resetServices()

	m := New[int](4, "test_lock", 1)
	g, ok := m.TryLock()
	require.True(t, ok)
	defer g.Release()

	_, ok2 := m.TryLock()
	assert.False(t, ok2)
}

func TestNameAndLevel(t *testing.T) {
	resetServices()

	m := New[int](16, "protocol_db", 0)
	assert.Equal(t, "protocol_db", m.Name())
	assert.Equal(t, uint(16), m.Level())
}
