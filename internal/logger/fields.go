package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// These keys are used consistently across the scheduler, GCD, protocol database,
// dispatcher, and image loader so that log aggregation and querying stay uniform.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // correlation ID for a boot-services call chain
	KeySpanID  = "span_id"  // sub-operation span within a call chain

	// ========================================================================
	// Component & Operation
	// ========================================================================
	KeyComponent = "component" // subsystem: scheduler, gcd, protocoldb, dispatcher, image, depex
	KeyOperation = "operation" // boot-services/runtime-services call name
	KeyStatus    = "status"    // EFI_STATUS numeric value
	KeyStatusMsg = "status_msg" // EFI_STATUS symbolic name

	// ========================================================================
	// TPL & Scheduling
	// ========================================================================
	KeyTPL        = "tpl"         // task priority level
	KeyPrevTPL    = "prev_tpl"    // TPL level prior to a raise/restore
	KeyEventID    = "event_id"    // internal event table index
	KeyEventType  = "event_type"  // EVT_* type flags
	KeyEventGroup = "event_group" // event group GUID, if any
	KeyTimerKind  = "timer_kind"  // periodic, relative, none

	// ========================================================================
	// Handles, Protocols & GUIDs
	// ========================================================================
	KeyHandle     = "handle"      // EFI_HANDLE identifier
	KeyGUID       = "guid"        // protocol or event-group GUID
	KeyAgent      = "agent_handle" // agent handle in OpenProtocol calls
	KeyController = "controller"  // controller handle in BY_DRIVER opens
	KeyOpenAttrs  = "open_attrs"  // EFI_OPEN_PROTOCOL_* attribute bitmask

	// ========================================================================
	// Images & Dispatch
	// ========================================================================
	KeyDriverName = "driver_name" // image/driver file name or GUID string
	KeyImageBase  = "image_base"  // loaded image base address
	KeyEntryPoint = "entry_point" // PE32+ entry point address
	KeyDepex      = "depex"       // dependency expression, stringified
	KeyDispatchPass = "dispatch_pass" // dispatcher loop iteration count

	// ========================================================================
	// Memory & GCD
	// ========================================================================
	KeyMemoryType  = "memory_type"  // EFI_MEMORY_TYPE of an allocation
	KeyMemoryBase  = "memory_base"  // base address of a GCD memory-space descriptor
	KeyMemoryPages = "memory_pages" // number of 4KiB pages
	KeyPoolSize    = "pool_size"    // pool allocation size in bytes
	KeyPoolClass   = "pool_class"   // size-class bucket selected by the pool allocator

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyErrorCode  = "error_code"  // numeric error code
	KeyAttempt    = "attempt"     // retry attempt number
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for the call-chain correlation ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for a sub-operation span ID.
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Component & Operation
// ----------------------------------------------------------------------------

// Component returns a slog.Attr naming the subsystem emitting the record.
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Operation returns a slog.Attr for the boot/runtime services call name.
func Operation(name string) slog.Attr {
	return slog.String(KeyOperation, name)
}

// Status returns a slog.Attr for an EFI_STATUS numeric value.
func Status(code uint64) slog.Attr {
	return slog.Uint64(KeyStatus, code)
}

// StatusMsg returns a slog.Attr for the EFI_STATUS symbolic name.
func StatusMsg(msg string) slog.Attr {
	return slog.String(KeyStatusMsg, msg)
}

// ----------------------------------------------------------------------------
// TPL & Scheduling
// ----------------------------------------------------------------------------

// TPL returns a slog.Attr for the current task priority level.
func TPL(tpl uint) slog.Attr {
	return slog.Uint64(KeyTPL, uint64(tpl))
}

// PrevTPL returns a slog.Attr for the TPL level before a raise/restore.
func PrevTPL(tpl uint) slog.Attr {
	return slog.Uint64(KeyPrevTPL, uint64(tpl))
}

// EventID returns a slog.Attr for an internal event table index.
func EventID(id uint64) slog.Attr {
	return slog.Uint64(KeyEventID, id)
}

// EventType returns a slog.Attr for EVT_* type flags.
func EventType(flags uint32) slog.Attr {
	return slog.Uint64(KeyEventType, uint64(flags))
}

// EventGroup returns a slog.Attr for an event group GUID string.
func EventGroup(guid string) slog.Attr {
	return slog.String(KeyEventGroup, guid)
}

// TimerKind returns a slog.Attr describing a timer's kind.
func TimerKind(kind string) slog.Attr {
	return slog.String(KeyTimerKind, kind)
}

// ----------------------------------------------------------------------------
// Handles, Protocols & GUIDs
// ----------------------------------------------------------------------------

// Handle returns a slog.Attr for an EFI_HANDLE, formatted as hex.
func Handle(h uint64) slog.Attr {
	return slog.String(KeyHandle, fmt.Sprintf("0x%x", h))
}

// GUID returns a slog.Attr for a protocol or event-group GUID string.
func GUID(guid string) slog.Attr {
	return slog.String(KeyGUID, guid)
}

// Agent returns a slog.Attr for an agent handle in OpenProtocol calls.
func Agent(h uint64) slog.Attr {
	return slog.String(KeyAgent, fmt.Sprintf("0x%x", h))
}

// Controller returns a slog.Attr for a controller handle in BY_DRIVER opens.
func Controller(h uint64) slog.Attr {
	return slog.String(KeyController, fmt.Sprintf("0x%x", h))
}

// OpenAttrs returns a slog.Attr for the EFI_OPEN_PROTOCOL_* attribute bitmask.
func OpenAttrs(attrs uint32) slog.Attr {
	return slog.Uint64(KeyOpenAttrs, uint64(attrs))
}

// ----------------------------------------------------------------------------
// Images & Dispatch
// ----------------------------------------------------------------------------

// DriverName returns a slog.Attr for an image/driver name.
func DriverName(name string) slog.Attr {
	return slog.String(KeyDriverName, name)
}

// ImageBase returns a slog.Attr for a loaded image base address.
func ImageBase(addr uint64) slog.Attr {
	return slog.String(KeyImageBase, fmt.Sprintf("0x%x", addr))
}

// EntryPoint returns a slog.Attr for a PE32+ entry point address.
func EntryPoint(addr uint64) slog.Attr {
	return slog.String(KeyEntryPoint, fmt.Sprintf("0x%x", addr))
}

// Depex returns a slog.Attr for a stringified dependency expression.
func Depex(expr string) slog.Attr {
	return slog.String(KeyDepex, expr)
}

// DispatchPass returns a slog.Attr for the dispatcher loop iteration count.
func DispatchPass(n int) slog.Attr {
	return slog.Int(KeyDispatchPass, n)
}

// ----------------------------------------------------------------------------
// Memory & GCD
// ----------------------------------------------------------------------------

// MemoryType returns a slog.Attr for an EFI_MEMORY_TYPE value.
func MemoryType(t int) slog.Attr {
	return slog.Int(KeyMemoryType, t)
}

// MemoryBase returns a slog.Attr for a GCD memory-space descriptor base address.
func MemoryBase(addr uint64) slog.Attr {
	return slog.String(KeyMemoryBase, fmt.Sprintf("0x%x", addr))
}

// MemoryPages returns a slog.Attr for a page count.
func MemoryPages(n uint64) slog.Attr {
	return slog.Uint64(KeyMemoryPages, n)
}

// PoolSize returns a slog.Attr for a pool allocation size in bytes.
func PoolSize(n uintptr) slog.Attr {
	return slog.Uint64(KeyPoolSize, uint64(n))
}

// PoolClass returns a slog.Attr for the size-class bucket an allocation used.
func PoolClass(class string) slog.Attr {
	return slog.String(KeyPoolClass, class)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code.
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
