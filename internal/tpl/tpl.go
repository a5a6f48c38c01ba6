// Package tpl defines the Task Priority Level constants shared by the
// event database, the scheduler, and every TPL-raised mutex. Values match
// the architecture-independent levels assigned by the UEFI specification,
// grounded on the r_efi::system TPL_* constants referenced throughout
// DxeRust/src/events.rs and UefiEventLib/src/lib.rs.
package tpl

// Level is a Task Priority Level. Levels are totally ordered; a higher
// numeric value always means higher priority.
type Level uint

const (
	// Application is the level boot-services calls normally run at.
	Application Level = 4
	// Callback is the level most event notification functions run at.
	Callback Level = 8
	// Notify is the level of the most urgent event notifications. The
	// protocol, event, and image databases in this module lock with plain
	// mutexes and do not raise the TPL to this level.
	Notify Level = 16
	// HighLevel masks all hardware interrupts. Only the TPL lock primitive
	// and the scheduler itself are expected to run here.
	HighLevel Level = 31
)

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	switch l {
	case Application, Callback, Notify, HighLevel:
		return true
	default:
		return false
	}
}

// String renders a Level using its well-known name, or a numeric fallback.
func (l Level) String() string {
	switch l {
	case Application:
		return "APPLICATION"
	case Callback:
		return "CALLBACK"
	case Notify:
		return "NOTIFY"
	case HighLevel:
		return "HIGH_LEVEL"
	default:
		return "TPL(" + itoa(uint(l)) + ")"
	}
}

func itoa(v uint) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
