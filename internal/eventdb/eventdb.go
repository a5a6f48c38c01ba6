// Package eventdb implements the event table and pending-notification
// queue that back UEFI event services (CreateEvent, SignalEvent, SetTimer,
// CheckEvent, WaitForEvent). It is grounded on
// Platforms/QemuQ35Pkg/Library/UefiEventLib/src/lib.rs (the table itself)
// and Platforms/QemuQ35Pkg/DxeRust/src/events.rs (the boot-services
// entry points layered over it) in the reference implementation.
//
// Db owns no TPL state of its own — raising and restoring TPL, and
// draining the notification queue that NotificationsAbove exposes, is the
// scheduler's job (internal/sched). Db is purely the data structure: a
// map of events plus an ordered multiset of pending notifications, behind
// a plain mutex.
package eventdb

import (
	"sync"

	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/tpl"
)

// Flags is the event type flag-set passed to Create.
type Flags uint32

const (
	Timer        Flags = 0x80000000
	NotifyWait   Flags = 0x00000100
	NotifySignal Flags = 0x00000200

	// The two raw type values below denote well-known event groups. They
	// are never stored on an Event; Create rewrites them into
	// (NotifySignal, group-tag) before validation, and CreateEx rejects
	// them outright since its caller supplies the group explicitly.
	signalExitBootServices     Flags = 0x00000201
	signalVirtualAddressChange Flags = 0x60000202
)

// ID identifies an event. The zero value never names a live event.
type ID uint64

// NotifyFunc is an event's notification callback.
type NotifyFunc func(id ID, ctx any)

// TimerDelay selects the SetTimer semantics.
type TimerDelay int

const (
	TimerCancel TimerDelay = iota
	TimerPeriodic
	TimerRelative
)

// Notification is one pending dispatch popped off the notification queue.
type Notification struct {
	Event    ID
	TPL      tpl.Level
	Function NotifyFunc
	Context  any
}

type event struct {
	id    ID
	flags Flags
	group guid.GUID
	hasGroup bool

	signalled bool

	notifyTPL tpl.Level
	notifyFn  NotifyFunc
	notifyCtx any

	triggerTime *uint64
	period      *uint64
}

func (e *event) notifiable() bool {
	return e.flags&(NotifySignal|NotifyWait) != 0
}

// Db is the event table plus pending-notification queue. Construct one
// with New; the zero value has no event table.
type Db struct {
	mu         sync.Mutex
	events     map[ID]*event
	nextID     ID
	pending    pendingQueue
	nextTag    uint64
}

// New returns an empty Db.
func New() *Db {
	return &Db{events: make(map[ID]*event), nextID: 1}
}

// validateFlags mirrors EventType::try_from in UefiEventLib: only the six
// real combinations are legal, and the two well-known group placeholder
// values are rejected here unconditionally — callers translate those
// before reaching validateFlags (Create) or never produce them (CreateEx).
func validateFlags(flags Flags) error {
	switch flags {
	case 0, NotifyWait, NotifySignal, Timer, Timer | NotifySignal, Timer | NotifyWait:
		return nil
	default:
		return efistatus.InvalidParameter.AsErrorf("eventdb: invalid event type 0x%x", uint32(flags))
	}
}

// rewriteWellKnown translates the two raw well-known-group type values
// into (NotifySignal, group tag). Any other flag value passes through
// unchanged with ok=false.
func rewriteWellKnown(flags Flags) (rewritten Flags, group guid.GUID, ok bool) {
	switch flags {
	case signalExitBootServices:
		return NotifySignal, guid.EventGroupExitBootServices, true
	case signalVirtualAddressChange:
		return NotifySignal, guid.EventGroupVirtualAddressChange, true
	default:
		return flags, guid.Nil, false
	}
}

// Create creates an event, translating the two well-known raw type values
// into their event-group form first.
func (db *Db) Create(flags Flags, notifyTPL tpl.Level, fn NotifyFunc, ctx any) (ID, error) {
	if rewritten, group, ok := rewriteWellKnown(flags); ok {
		return db.create(rewritten, notifyTPL, fn, ctx, &group)
	}
	return db.create(flags, notifyTPL, fn, ctx, nil)
}

// CreateEx creates an event in an explicit, caller-supplied group. The two
// well-known raw type values are illegal here: a caller that wants one of
// the well-known groups should use Create with the corresponding raw flag
// instead, exactly as EventType::try_from forbids them structurally.
func (db *Db) CreateEx(flags Flags, notifyTPL tpl.Level, fn NotifyFunc, ctx any, group guid.GUID) (ID, error) {
	return db.create(flags, notifyTPL, fn, ctx, &group)
}

func (db *Db) create(flags Flags, notifyTPL tpl.Level, fn NotifyFunc, ctx any, group *guid.GUID) (ID, error) {
	if err := validateFlags(flags); err != nil {
		return 0, err
	}

	notifiable := flags&(NotifySignal|NotifyWait) != 0
	if notifiable {
		if fn == nil {
			return 0, efistatus.InvalidParameter.AsErrorf("eventdb: notify event requires a notification function")
		}
		if notifyTPL < tpl.Application || notifyTPL > tpl.HighLevel {
			return 0, efistatus.InvalidParameter.AsErrorf("eventdb: notify tpl %d out of range", notifyTPL)
		}
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	id := db.nextID
	db.nextID++

	e := &event{id: id, flags: flags, notifyTPL: notifyTPL, notifyFn: fn, notifyCtx: ctx}
	if group != nil {
		e.group = *group
		e.hasGroup = true
	}
	db.events[id] = e
	return id, nil
}

// Close removes an event. Its pending notification, if any, is left in
// the queue and silently skipped when consumed (see consumeNext).
func (db *Db) Close(id ID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.events[id]; !ok {
		return efistatus.InvalidParameter.AsErrorf("eventdb: close unknown event %d", id)
	}
	delete(db.events, id)
	return nil
}

// IsValid reports whether id names a live event.
func (db *Db) IsValid(id ID) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.events[id]
	return ok
}

// Signal marks id signalled. If id belongs to a group, every member of
// that group is signalled (including id itself). A NOTIFY_SIGNAL event is
// enqueued for dispatch at most once: signalling it again while it is
// still pending is a no-op on the queue.
func (db *Db) Signal(id ID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	e, ok := db.events[id]
	if !ok {
		return efistatus.InvalidParameter.AsErrorf("eventdb: signal unknown event %d", id)
	}

	if e.hasGroup {
		db.signalGroupLocked(e.group)
		return nil
	}

	e.signalled = true
	if e.flags&NotifySignal != 0 {
		db.queueLocked(e)
	}
	return nil
}

// SignalGroup signals every event tagged with group.
func (db *Db) SignalGroup(group guid.GUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.signalGroupLocked(group)
}

func (db *Db) signalGroupLocked(group guid.GUID) {
	for _, e := range db.events {
		if !e.hasGroup || e.group != group {
			continue
		}
		e.signalled = true
		if e.flags&NotifySignal != 0 {
			db.queueLocked(e)
		}
	}
}

// queueLocked enqueues e's notification, deduping by event identity: if e
// already has an entry pending, the call is a no-op (mirrors the BTreeSet
// in UefiEventLib, whose Ord treats same-event entries as equal).
func (db *Db) queueLocked(e *event) {
	if !e.notifiable() {
		return
	}
	if db.pending.contains(e.id) {
		return
	}
	db.pending.insert(pendingEntry{
		event:    e.id,
		notifyTPL: e.notifyTPL,
		function: e.notifyFn,
		context:  e.notifyCtx,
		tag:      db.nextTag,
	})
	db.nextTag++
}

// ClearSignal clears id's signalled flag.
func (db *Db) ClearSignal(id ID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.events[id]
	if !ok {
		return efistatus.InvalidParameter.AsErrorf("eventdb: clear-signal unknown event %d", id)
	}
	e.signalled = false
	return nil
}

// IsSignalled reports id's signalled flag. A closed or unknown event
// reports false rather than erroring.
func (db *Db) IsSignalled(id ID) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.events[id]
	return ok && e.signalled
}

// ReadAndClearSignalled atomically reads and clears id's signalled flag.
func (db *Db) ReadAndClearSignalled(id ID) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.events[id]
	if !ok || !e.signalled {
		return false
	}
	e.signalled = false
	return true
}

// QueueNotify enqueues id's notification unconditionally (used by
// CheckEvent's NOTIFY_WAIT path); events with neither NOTIFY_SIGNAL nor
// NOTIFY_WAIT set are silently ignored, matching queue_event_notify in
// UefiEventLib.
func (db *Db) QueueNotify(id ID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.events[id]
	if !ok {
		return efistatus.InvalidParameter.AsErrorf("eventdb: queue-notify unknown event %d", id)
	}
	db.queueLocked(e)
	return nil
}

// GetType returns id's event type flags.
func (db *Db) GetType(id ID) (Flags, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.events[id]
	if !ok {
		return 0, efistatus.InvalidParameter.AsErrorf("eventdb: unknown event %d", id)
	}
	return e.flags, nil
}

// NotificationData returns the notification callback data for id. Only
// defined for NOTIFY_SIGNAL / NOTIFY_WAIT events.
func (db *Db) NotificationData(id ID) (Notification, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.events[id]
	if !ok || !e.notifiable() {
		return Notification{}, efistatus.NotFound.AsErrorf("eventdb: %d has no notification data", id)
	}
	return Notification{Event: id, TPL: e.notifyTPL, Function: e.notifyFn, Context: e.notifyCtx}, nil
}

// SetTimer arms, re-arms, or cancels a timer event.
func (db *Db) SetTimer(id ID, delay TimerDelay, triggerTime, period *uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	e, ok := db.events[id]
	if !ok {
		return efistatus.InvalidParameter.AsErrorf("eventdb: set-timer unknown event %d", id)
	}
	if e.flags&Timer == 0 {
		return efistatus.InvalidParameter.AsErrorf("eventdb: %d is not a timer event", id)
	}

	switch delay {
	case TimerCancel:
		if triggerTime != nil || period != nil {
			return efistatus.InvalidParameter.AsErrorf("eventdb: cancel takes no trigger time or period")
		}
	case TimerPeriodic:
		if triggerTime == nil || period == nil {
			return efistatus.InvalidParameter.AsErrorf("eventdb: periodic timer requires trigger time and period")
		}
	case TimerRelative:
		if triggerTime == nil || period != nil {
			return efistatus.InvalidParameter.AsErrorf("eventdb: relative timer requires a trigger time and no period")
		}
	default:
		return efistatus.InvalidParameter.AsErrorf("eventdb: unknown timer delay %d", delay)
	}

	e.triggerTime = triggerTime
	e.period = period
	return nil
}

// TimerTick advances the clock to currentTime, signalling (and, for
// periodic timers, re-arming) every timer event whose trigger has
// elapsed.
func (db *Db) TimerTick(currentTime uint64) {
	db.mu.Lock()
	ids := make([]ID, 0, len(db.events))
	for id := range db.events {
		ids = append(ids, id)
	}

	var toSignal []ID
	for _, id := range ids {
		e := db.events[id]
		if e.flags&Timer == 0 || e.triggerTime == nil {
			continue
		}
		if *e.triggerTime > currentTime {
			continue
		}
		if e.period != nil {
			next := currentTime + *e.period
			e.triggerTime = &next
		} else {
			e.triggerTime = nil
		}
		toSignal = append(toSignal, id)
	}
	db.mu.Unlock()

	for _, id := range toSignal {
		_ = db.Signal(id)
	}
}

// EventSnapshot is a read-only view of one registered event, for
// introspection tools that must not disturb NotificationsAbove's
// consume-once semantics.
type EventSnapshot struct {
	ID        ID
	Flags     Flags
	Signalled bool
	NotifyTPL tpl.Level
	HasTimer  bool
}

// Snapshot returns every registered event and the current pending-queue
// depth, without consuming any queued notification. Grounded on the same
// db.events/db.pending fields NotificationsAbove and the table's own
// accessors already read under db.mu; this just copies them out instead
// of popping.
func (db *Db) Snapshot() (events []EventSnapshot, pendingCount int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	events = make([]EventSnapshot, 0, len(db.events))
	for _, e := range db.events {
		events = append(events, EventSnapshot{
			ID:        e.id,
			Flags:     e.flags,
			Signalled: e.signalled,
			NotifyTPL: e.notifyTPL,
			HasTimer:  e.flags&Timer != 0,
		})
	}
	return events, len(db.pending.entries)
}

// Iterator consumes pending notifications above a TPL threshold. New
// entries queued while the iterator is live are visible to later calls to
// Next: the iterator only runs dry when nothing remains above threshold.
type Iterator struct {
	db        *Db
	threshold tpl.Level
}

// NotificationsAbove returns an iterator over pending notifications
// strictly above threshold, highest TPL first and FIFO within a TPL.
func (db *Db) NotificationsAbove(threshold tpl.Level) *Iterator {
	return &Iterator{db: db, threshold: threshold}
}

// Next pops the next eligible notification, or returns ok=false if none
// remain above the iterator's threshold right now.
func (it *Iterator) Next() (Notification, bool) {
	return it.db.consumeNext(it.threshold)
}

func (db *Db) consumeNext(threshold tpl.Level) (Notification, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for {
		front, ok := db.pending.front()
		if !ok {
			return Notification{}, false
		}
		if _, alive := db.events[front.event]; !alive {
			db.pending.popFront()
			continue
		}
		if front.notifyTPL <= threshold {
			return Notification{}, false
		}
		db.pending.popFront()
		if e, ok := db.events[front.event]; ok {
			e.signalled = false
		}
		return Notification{Event: front.event, TPL: front.notifyTPL, Function: front.function, Context: front.context}, true
	}
}
