// Package sched implements the cooperative TPL scheduler: CURRENT_TPL,
// SYSTEM_TIME, the notification drain loop that runs on every TPL
// restore, and the two one-shot callbacks that wire a CPU-arch and a
// timer-arch protocol into the scheduler once they appear in the
// protocol database. Grounded on
// Platforms/QemuQ35Pkg/DxeRust/src/events.rs in the reference
// implementation.
package sched

import (
	"fmt"
	"sync/atomic"

	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/tpl"
	"github.com/patina-fw/dxecore/internal/tplmutex"
)

// Well-known protocol GUIDs the scheduler waits for. Real PI
// specification values: EFI_CPU_ARCH_PROTOCOL_GUID and
// EFI_TIMER_ARCH_PROTOCOL_GUID.
var (
	cpuArchProtocolGUID   = guid.MustParse("26baccb1-6f42-11d4-bce7-0080c73c8881")
	timerArchProtocolGUID = guid.MustParse("26baccb3-6f42-11d4-bce7-0080c73c8881")
)

// CPUArch is the subset of the CPU architectural protocol the scheduler
// drives to mask/unmask hardware interrupts at TPL_HIGH_LEVEL crossings.
type CPUArch interface {
	EnableInterrupt()
	DisableInterrupt()
}

// TimerArch is the subset of the timer architectural protocol the
// scheduler drives to receive periodic ticks.
type TimerArch interface {
	RegisterHandler(fn func(elapsedNs uint64))
}

// ProtocolDB is the subset of the protocol database the scheduler needs
// to locate CPUArch/TimerArch once they're installed, and to register
// for notification of their arrival. Implemented by
// internal/archbridge.Bridge, which wraps internal/protocoldb.Db.
type ProtocolDB interface {
	LocateProtocol(g guid.GUID) (any, error)
	RegisterProtocolNotify(g guid.GUID, event eventdb.ID) error
}

// Scheduler owns the process-wide TPL and system clock, and drains the
// event database's pending-notification queue on every TPL restore.
type Scheduler struct {
	db *eventdb.Db

	currentTPL         atomic.Uint32
	systemTime         atomic.Uint64
	notifiesInProgress atomic.Bool

	cpuArch   atomic.Pointer[CPUArch]
	protocols atomic.Pointer[ProtocolDB]
}

// New constructs a Scheduler at TPL_APPLICATION, backed by db.
func New(db *eventdb.Db) *Scheduler {
	s := &Scheduler{db: db}
	s.currentTPL.Store(uint32(tpl.Application))
	return s
}

// CurrentTPL returns the scheduler's current TPL.
func (s *Scheduler) CurrentTPL() tpl.Level {
	return tpl.Level(s.currentTPL.Load())
}

// RaiseTPL raises the current TPL to new, masking interrupts if the
// transition crosses into TPL_HIGH_LEVEL, and returns the prior TPL.
// Panics if new exceeds TPL_HIGH_LEVEL or is below the current TPL — both
// are programmer errors in the caller, not runtime conditions.
func (s *Scheduler) RaiseTPL(new tpl.Level) tpl.Level {
	if new > tpl.HighLevel {
		panic(fmt.Sprintf("sched: raise tpl above TPL_HIGH_LEVEL: %d", new))
	}

	prev := fetchMax(&s.currentTPL, uint32(new))
	if uint32(new) < prev {
		panic(fmt.Sprintf("sched: raise tpl to lower value: new=%d prev=%d", new, prev))
	}

	if new == tpl.HighLevel && tpl.Level(prev) < tpl.HighLevel {
		s.setInterruptState(false)
	}
	return tpl.Level(prev)
}

// RestoreTPL lowers the current TPL to new, draining and dispatching any
// pending notifications whose TPL now lies strictly above new, then
// restoring interrupts if new is below TPL_HIGH_LEVEL.
//
// A process-wide reentrancy guard ensures only one RestoreTPL call at a
// time collects notifications from the event database: a RestoreTPL
// invoked from inside a notification callback (itself triggered by this
// same drain) simply lowers the TPL and returns, trusting the outer drain
// loop to keep going.
func (s *Scheduler) RestoreTPL(new tpl.Level) {
	prev := fetchMin(&s.currentTPL, uint32(new))
	if uint32(new) > prev {
		panic(fmt.Sprintf("sched: restore tpl to higher value: new=%d prev=%d", new, prev))
	}

	if uint32(new) < prev {
		for _, n := range s.drainNotifications(new) {
			if n.TPL < tpl.HighLevel {
				s.setInterruptState(true)
			} else {
				s.setInterruptState(false)
			}
			s.currentTPL.Store(uint32(n.TPL))
			n.Function(n.Event, n.Context)
		}
	}

	if new < tpl.HighLevel {
		s.setInterruptState(true)
	}
	s.currentTPL.Store(uint32(new))
}

func (s *Scheduler) drainNotifications(new tpl.Level) []eventdb.Notification {
	if !s.notifiesInProgress.CompareAndSwap(false, true) {
		return nil
	}
	defer s.notifiesInProgress.Store(false)

	it := s.db.NotificationsAbove(new)
	var events []eventdb.Notification
	for {
		n, ok := it.Next()
		if !ok {
			break
		}
		events = append(events, n)
	}
	return events
}

// fetchMax atomically stores max(current, v) and returns the prior value.
func fetchMax(a *atomic.Uint32, v uint32) uint32 {
	for {
		prev := a.Load()
		next := prev
		if v > next {
			next = v
		}
		if a.CompareAndSwap(prev, next) {
			return prev
		}
	}
}

// fetchMin atomically stores min(current, v) and returns the prior value.
func fetchMin(a *atomic.Uint32, v uint32) uint32 {
	for {
		prev := a.Load()
		next := prev
		if v < next {
			next = v
		}
		if a.CompareAndSwap(prev, next) {
			return prev
		}
	}
}

func (s *Scheduler) setInterruptState(enable bool) {
	arch := s.cpuArch.Load()
	if arch == nil {
		return
	}
	if enable {
		(*arch).EnableInterrupt()
	} else {
		(*arch).DisableInterrupt()
	}
}

// SignalEvent signals event, then performs an artificial raise/restore to
// TPL_HIGH_LEVEL so that any notification it queued drains immediately.
// This replicates an emergent behavior of the reference C implementation
// (whose lock-based SignalEvent incidentally flushes the queue) that
// existing firmware is known to depend on.
func (s *Scheduler) SignalEvent(id eventdb.ID) efistatus.Status {
	status := efistatus.Code(s.db.Signal(id))
	old := s.RaiseTPL(tpl.HighLevel)
	s.RestoreTPL(old)
	return status
}

// CheckEvent reports whether event is ready without blocking.
// NOTIFY_SIGNAL events cannot be polled this way.
func (s *Scheduler) CheckEvent(id eventdb.ID) efistatus.Status {
	flags, err := s.db.GetType(id)
	if err != nil {
		return efistatus.Code(err)
	}
	if flags&eventdb.NotifySignal != 0 {
		return efistatus.InvalidParameter
	}

	if s.db.ReadAndClearSignalled(id) {
		return efistatus.Success
	}

	if err := s.db.QueueNotify(id); err != nil {
		return efistatus.Code(err)
	}

	old := s.RaiseTPL(tpl.HighLevel)
	s.RestoreTPL(old)

	if s.db.ReadAndClearSignalled(id) {
		return efistatus.Success
	}
	return efistatus.NotReady
}

// WaitForEvent spins calling CheckEvent over events until one becomes
// ready, returning its index. Only valid when called at TPL_APPLICATION.
func (s *Scheduler) WaitForEvent(events []eventdb.ID) (int, efistatus.Status) {
	if len(events) == 0 {
		return 0, efistatus.InvalidParameter
	}
	if s.CurrentTPL() != tpl.Application {
		return 0, efistatus.Unsupported
	}

	for {
		for i, id := range events {
			if status := s.CheckEvent(id); status != efistatus.NotReady {
				return i, status
			}
		}
	}
}

// SetTimer arms, re-arms, or cancels event's timer, converting a relative
// delay into absolute ticks against the scheduler's system clock.
func (s *Scheduler) SetTimer(id eventdb.ID, delay eventdb.TimerDelay, delayTicks uint64) efistatus.Status {
	var triggerTime, period *uint64

	switch delay {
	case eventdb.TimerCancel:
	case eventdb.TimerRelative:
		t := s.systemTime.Load() + delayTicks
		triggerTime = &t
	case eventdb.TimerPeriodic:
		t := s.systemTime.Load() + delayTicks
		p := delayTicks
		triggerTime, period = &t, &p
	default:
		return efistatus.InvalidParameter
	}

	if err := s.db.SetTimer(id, delay, triggerTime, period); err != nil {
		return efistatus.Code(err)
	}
	return efistatus.Success
}

// TimerTick advances the system clock by elapsedTicks and dispatches any
// timer events that have now elapsed. Registered with the timer
// architectural protocol once it becomes available.
func (s *Scheduler) TimerTick(elapsedTicks uint64) {
	old := s.RaiseTPL(tpl.HighLevel)
	s.systemTime.Add(elapsedTicks)
	s.db.TimerTick(s.systemTime.Load())
	s.RestoreTPL(old)
}

// Init registers the one-shot callbacks that wire CPUArch and TimerArch
// into the scheduler as soon as those protocols are installed.
func (s *Scheduler) Init(protocols ProtocolDB) error {
	s.protocols.Store(&protocols)

	cpuEvent, err := s.db.Create(eventdb.NotifySignal, tpl.Callback, s.onCPUArchAvailable, nil)
	if err != nil {
		return fmt.Errorf("sched: create cpu-arch callback event: %w", err)
	}
	if err := protocols.RegisterProtocolNotify(cpuArchProtocolGUID, cpuEvent); err != nil {
		return fmt.Errorf("sched: register cpu-arch notify: %w", err)
	}

	timerEvent, err := s.db.Create(eventdb.NotifySignal, tpl.Callback, s.onTimerArchAvailable, nil)
	if err != nil {
		return fmt.Errorf("sched: create timer-arch callback event: %w", err)
	}
	if err := protocols.RegisterProtocolNotify(timerArchProtocolGUID, timerEvent); err != nil {
		return fmt.Errorf("sched: register timer-arch notify: %w", err)
	}

	return nil
}

func (s *Scheduler) onCPUArchAvailable(id eventdb.ID, _ any) {
	protocols := *s.protocols.Load()
	iface, err := protocols.LocateProtocol(cpuArchProtocolGUID)
	if err != nil {
		panic(fmt.Sprintf("sched: cpu arch protocol not found after notify: %v", err))
	}
	arch := iface.(CPUArch)
	s.cpuArch.Store(&arch)
	_ = s.db.Close(id)
}

func (s *Scheduler) onTimerArchAvailable(id eventdb.ID, _ any) {
	protocols := *s.protocols.Load()
	iface, err := protocols.LocateProtocol(timerArchProtocolGUID)
	if err != nil {
		panic(fmt.Sprintf("sched: timer arch protocol not found after notify: %v", err))
	}
	arch := iface.(TimerArch)
	arch.RegisterHandler(s.TimerTick)
	_ = s.db.Close(id)
}

// tplServices adapts Scheduler to tplmutex.Services, whose signature uses
// plain uint rather than tpl.Level so that internal/tplmutex has no
// dependency on internal/tpl.
type tplServices struct{ s *Scheduler }

func (a tplServices) RaiseTPL(new uint) uint { return uint(a.s.RaiseTPL(tpl.Level(new))) }
func (a tplServices) RestoreTPL(old uint)     { a.s.RestoreTPL(tpl.Level(old)) }

// AsTPLServices adapts s to tplmutex.Services, for use with
// tplmutex.PublishServices during boot-services initialization.
func (s *Scheduler) AsTPLServices() tplmutex.Services {
	return tplServices{s: s}
}
