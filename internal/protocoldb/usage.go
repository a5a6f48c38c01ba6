package protocoldb

import (
	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/guid"
)

// Attribute is the OpenProtocol attribute bitmask, mirroring the
// EFI_OPEN_PROTOCOL_* constants from the UEFI specification.
type Attribute uint32

const (
	ByHandleProtocol  Attribute = 0x00000001
	GetProtocol       Attribute = 0x00000002
	TestProtocol      Attribute = 0x00000004
	ByChildController Attribute = 0x00000008
	ByDriver          Attribute = 0x00000010
	Exclusive         Attribute = 0x00000020

	byDriverExclusive = ByDriver | Exclusive
)

// OpenInfo is one open-protocol usage record: the agent that opened the
// interface, the controller it opened it for (0 if none), the
// attributes it opened with, and how many times it has reopened with an
// exact-matching (agent, controller) pair.
type OpenInfo struct {
	AgentHandle      Handle
	ControllerHandle Handle
	Attributes       Attribute
	OpenCount        uint32
}

func exactMatch(a, b OpenInfo) bool {
	return a.AgentHandle == b.AgentHandle && a.ControllerHandle == b.ControllerHandle && a.Attributes == b.Attributes
}

func validateOpenAttributes(handle, agent, controller Handle, attr Attribute) error {
	switch attr {
	case ByChildController:
		if agent == 0 || controller == 0 || handle == controller {
			return efistatus.InvalidParameter.AsErrorf("protocoldb: invalid BY_CHILD_CONTROLLER open")
		}
	case ByDriver, byDriverExclusive:
		if agent == 0 || controller == 0 {
			return efistatus.InvalidParameter.AsErrorf("protocoldb: BY_DRIVER open requires agent and controller")
		}
	case Exclusive:
		if agent == 0 {
			return efistatus.InvalidParameter.AsErrorf("protocoldb: EXCLUSIVE open requires an agent")
		}
	case ByHandleProtocol, GetProtocol, TestProtocol:
		// no additional validation
	default:
		return efistatus.InvalidParameter.AsErrorf("protocoldb: unsupported open attributes 0x%x", uint32(attr))
	}
	return nil
}

// AddProtocolUsage implements OpenProtocol's usage-tracking effects for
// (handle, protocol): an exact-match repeat increments the open count (a
// second BY_DRIVER agent fails AlreadyStarted); a new BY_DRIVER or
// EXCLUSIVE open on an instance already BY_DRIVER or EXCLUSIVE fails
// AccessDenied (the caller is expected to DisconnectController first);
// agent and controller, when given, must themselves be valid handles.
func (db *Db) AddProtocolUsage(handle Handle, protocol guid.GUID, agent, controller Handle, attr Attribute) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	instance, err := db.lookupLocked(handle, protocol)
	if err != nil {
		return err
	}
	if agent != 0 && !db.validateHandleLocked(agent) {
		return efistatus.InvalidParameter.AsErrorf("protocoldb: invalid agent handle %d", agent)
	}
	if controller != 0 && !db.validateHandleLocked(controller) {
		return efistatus.InvalidParameter.AsErrorf("protocoldb: invalid controller handle %d", controller)
	}
	if err := validateOpenAttributes(handle, agent, controller, attr); err != nil {
		return err
	}

	candidate := OpenInfo{AgentHandle: agent, ControllerHandle: controller, Attributes: attr, OpenCount: 1}

	var exact *OpenInfo
	for i := range instance.usage {
		if exactMatch(instance.usage[i], candidate) {
			exact = &instance.usage[i]
			break
		}
	}

	if instance.openedByDriver && exact != nil {
		return efistatus.AlreadyStarted.AsErrorf("protocoldb: %s on handle %d already started by agent %d", protocol, handle, agent)
	}
	if !instance.openedByExclusive && exact != nil {
		exact.OpenCount++
		return nil
	}

	switch attr {
	case ByDriver, Exclusive, byDriverExclusive:
		if instance.openedByExclusive || instance.openedByDriver {
			return efistatus.AccessDenied.AsErrorf("protocoldb: %s on handle %d already opened exclusively/by driver", protocol, handle)
		}
	}

	if agent == 0 {
		// No agent to record usage against; attribute requirements were
		// already satisfied above.
		return nil
	}

	if attr&ByDriver != 0 {
		instance.openedByDriver = true
	}
	if attr&Exclusive != 0 {
		instance.openedByExclusive = true
	}
	instance.usage = append(instance.usage, candidate)
	return nil
}

// RemoveProtocolUsage implements CloseProtocol: it removes the usage
// record matching (agent, controller) on (handle, protocol), clearing
// opened_by_driver/opened_by_exclusive if the removed record held those
// attributes. NotFound if no matching record exists.
func (db *Db) RemoveProtocolUsage(handle Handle, protocol guid.GUID, agent, controller Handle) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	instance, err := db.lookupLocked(handle, protocol)
	if err != nil {
		return err
	}
	if agent != 0 && !db.validateHandleLocked(agent) {
		return efistatus.InvalidParameter.AsErrorf("protocoldb: invalid agent handle %d", agent)
	}
	if controller != 0 && !db.validateHandleLocked(controller) {
		return efistatus.InvalidParameter.AsErrorf("protocoldb: invalid controller handle %d", controller)
	}

	removed := false
	kept := instance.usage[:0]
	for _, u := range instance.usage {
		if u.AgentHandle == agent && u.ControllerHandle == controller {
			if u.Attributes&ByDriver != 0 {
				instance.openedByDriver = false
			}
			if u.Attributes&Exclusive != 0 {
				instance.openedByExclusive = false
			}
			removed = true
			continue
		}
		kept = append(kept, u)
	}
	instance.usage = kept

	if !removed {
		return efistatus.NotFound.AsErrorf("protocoldb: no open usage by agent %d/controller %d on %s", agent, controller, protocol)
	}
	return nil
}

// GetOpenProtocolInformation returns every open-usage record for
// (handle, protocol).
func (db *Db) GetOpenProtocolInformation(handle Handle, protocol guid.GUID) ([]OpenInfo, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	instance, err := db.lookupLocked(handle, protocol)
	if err != nil {
		return nil, err
	}
	out := make([]OpenInfo, len(instance.usage))
	copy(out, instance.usage)
	return out, nil
}
