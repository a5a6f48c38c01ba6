// Package guid provides the 128-bit identifier type used throughout the
// core to name protocols, event groups, and images.
package guid

import (
	"fmt"

	"github.com/google/uuid"
)

// GUID is a 128-bit identifier, laid out identically to a UEFI EFI_GUID.
// It is a thin wrapper over uuid.UUID: both are plain [16]byte values with
// the same RFC 4122 string rendering, so no conversion cost is paid at the
// boundary.
type GUID [16]byte

// Nil is the all-zero GUID.
var Nil GUID

// New generates a random GUID.
func New() GUID {
	return GUID(uuid.New())
}

// Parse parses a GUID from its canonical string form
// ("xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx").
func Parse(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("guid: parse %q: %w", s, err)
	}
	return GUID(u), nil
}

// MustParse is like Parse but panics on error; used for well-known
// compile-time-constant GUIDs below.
func MustParse(s string) GUID {
	g, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return g
}

// String renders the GUID in canonical form.
func (g GUID) String() string {
	return uuid.UUID(g).String()
}

// IsNil reports whether g is the all-zero GUID.
func (g GUID) IsNil() bool {
	return g == Nil
}

// Well-known UEFI event-group GUIDs. An event created with the
// corresponding EVT_EVENT_GROUP_* type value is rewritten by eventdb to
// carry one of these group tags (see SPEC_FULL.md §4.2).
var (
	// EventGroupExitBootServices fires when ExitBootServices is called.
	EventGroupExitBootServices = MustParse("27abf055-b1b8-4c26-8048-748f37baa2df")

	// EventGroupVirtualAddressChange fires during SetVirtualAddressMap.
	EventGroupVirtualAddressChange = MustParse("13fa7698-c831-49c7-87ed-8c5c6c4e8143")
)
