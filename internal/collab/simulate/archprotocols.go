package simulate

import (
	"sync"
	"sync/atomic"

	"github.com/patina-fw/dxecore/internal/collab"
)

// CPUArch is an in-process stand-in for the CPU architectural protocol.
// No real interrupt masking is possible in a hosted process, so
// EnableInterrupt/DisableInterrupt just log the call and count it, for
// tests to assert the scheduler actually drives the protocol at
// TPL_HIGH_LEVEL crossings.
type CPUArch struct {
	enabled  atomic.Bool
	Enables  atomic.Uint64
	Disables atomic.Uint64
}

// NewCPUArch returns a CPUArch with interrupts initially enabled, as the
// processor is at boot.
func NewCPUArch() *CPUArch {
	c := &CPUArch{}
	c.enabled.Store(true)
	return c
}

func (c *CPUArch) EnableInterrupt() {
	c.enabled.Store(true)
	c.Enables.Add(1)
}

func (c *CPUArch) DisableInterrupt() {
	c.enabled.Store(false)
	c.Disables.Add(1)
}

// Enabled reports whether the most recent call was EnableInterrupt.
func (c *CPUArch) Enabled() bool { return c.enabled.Load() }

// TimerArch is an in-process stand-in for the timer architectural
// protocol: RegisterHandler records the callback, and Tick drives it
// directly, as a test would a real periodic interrupt.
type TimerArch struct {
	mu      sync.Mutex
	handler func(elapsedNs uint64)
	Ticks   atomic.Uint64
}

// NewTimerArch returns a TimerArch with no handler registered.
func NewTimerArch() *TimerArch {
	return &TimerArch{}
}

func (t *TimerArch) RegisterHandler(fn func(elapsedNs uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// Tick invokes the registered handler with elapsedNs, as a real timer
// interrupt would the timer-arch protocol's ISR. A no-op if no handler
// has been registered yet.
func (t *TimerArch) Tick(elapsedNs uint64) {
	t.mu.Lock()
	fn := t.handler
	t.mu.Unlock()

	if fn == nil {
		return
	}
	t.Ticks.Add(1)
	fn(elapsedNs)
}

var (
	_ collab.CPUArch   = (*CPUArch)(nil)
	_ collab.TimerArch = (*TimerArch)(nil)
)
