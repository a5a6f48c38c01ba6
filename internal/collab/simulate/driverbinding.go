package simulate

import (
	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/logger"
	"github.com/patina-fw/dxecore/internal/protocoldb"
)

// LoggingDriverBinding is an in-process stand-in for a driver's
// EFI_DRIVER_BINDING_PROTOCOL: it claims any controller carrying the
// Manages protocol and otherwise just logs each call it receives.
// Grounded on CPUArch/TimerArch's "log the call and count it" shape,
// generalized to connect.DriverBinding's three entry points for sessions
// that need a concrete binding to register with internal/connect.Engine
// without a real driver behind it.
type LoggingDriverBinding struct {
	Name    string
	Manages guid.GUID
	version uint32
	protos  *protocoldb.Db
}

// NewLoggingDriverBinding returns a binding named name that claims
// controllers carrying the manages protocol, ranked by version for
// internal/connect.Engine's tie-break ordering.
func NewLoggingDriverBinding(name string, manages guid.GUID, version uint32, protos *protocoldb.Db) *LoggingDriverBinding {
	return &LoggingDriverBinding{Name: name, Manages: manages, version: version, protos: protos}
}

func (b *LoggingDriverBinding) Version() uint32 { return b.version }

func (b *LoggingDriverBinding) Supported(controller protocoldb.Handle, remainingDevicePath *uint64) efistatus.Status {
	if _, err := b.protos.GetInterfaceForHandle(controller, b.Manages); err != nil {
		return efistatus.Unsupported
	}
	return efistatus.Success
}

func (b *LoggingDriverBinding) Start(controller protocoldb.Handle, remainingDevicePath *uint64) efistatus.Status {
	logger.Info("driver binding start", "driver", b.Name, "controller", controller)
	return efistatus.Success
}

func (b *LoggingDriverBinding) Stop(controller protocoldb.Handle, childHandles []protocoldb.Handle) efistatus.Status {
	logger.Info("driver binding stop", "driver", b.Name, "controller", controller, "children", len(childHandles))
	return efistatus.Success
}
