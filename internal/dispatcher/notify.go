package dispatcher

import (
	"fmt"

	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/tpl"
)

// Init registers a FirmwareVolumeBlock protocol-install notification on
// events, at TPL_CALLBACK, exactly as core_fw_vol_event_protocol_notify
// is registered against EFI_FIRMWARE_VOLUME_BLOCK_PROTOCOL_GUID in the
// reference implementation. The event stays open for the Dispatcher's
// lifetime; callers don't need to close it themselves. Once Init has run,
// every RegisterFirmwareVolume call wakes the dispatch loop on its own;
// a caller that never calls Init must drive dispatching by calling
// Dispatch directly.
func (d *Dispatcher) Init(events *eventdb.Db) error {
	id, err := events.Create(eventdb.NotifySignal, tpl.Callback, d.onFirmwareVolumeNotify, nil)
	if err != nil {
		return fmt.Errorf("dispatcher: create firmware-volume-block callback event: %w", err)
	}
	if _, err := d.protos.RegisterProtocolNotify(FirmwareVolumeBlockProtocol, id); err != nil {
		return fmt.Errorf("dispatcher: register firmware-volume-block notify: %w", err)
	}
	return nil
}

func (d *Dispatcher) onFirmwareVolumeNotify(eventdb.ID, any) {
	d.Dispatch()
}
