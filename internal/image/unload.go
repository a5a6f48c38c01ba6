package image

import (
	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/protocoldb"
)

// UnloadImage implements UnloadImage: if the image registered an Unload
// entry point, it is invoked first and its status honored unless force
// is set; then every open-protocol usage this image holds as agent
// across the whole protocol database is closed, the image's own
// LoadedImage/LoadedImageDevicePath/HiiPackageList protocols are
// uninstalled, and its record (and image buffer) is dropped. Grounded on
// spec.md §4.6's Unload steps.
func (s *Service) UnloadImage(handle protocoldb.Handle, force bool) error {
	rec, err := s.lookup(handle)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	started := rec.started
	unload := rec.unload
	rec.mu.Unlock()

	if started && unload != nil {
		if status := unload(handle); status != efistatus.Success && !force {
			return status.AsErrorf("image: unload refused by handle %d", handle)
		}
	}

	for _, h := range s.protos.AllHandles() {
		protocols, err := s.protos.GetProtocolsOnHandle(h)
		if err != nil {
			continue
		}
		for _, p := range protocols {
			usages, err := s.protos.GetOpenProtocolInformation(h, p)
			if err != nil {
				continue
			}
			for _, u := range usages {
				if u.AgentHandle == handle {
					_ = s.protos.RemoveProtocolUsage(h, p, u.AgentHandle, u.ControllerHandle)
				}
			}
		}
	}

	_ = s.protos.UninstallProtocolInterface(handle, LoadedImageDevicePathProtocol, rec.devicePathPtr)
	if rec.HasHII {
		_ = s.protos.UninstallProtocolInterface(handle, HiiPackageListProtocol, rec.hiiPtr)
	}
	_ = s.protos.UninstallProtocolInterface(handle, LoadedImageProtocol, rec.loadedImagePtr)

	pageCount := pagesFor(rec.SizeOfImage)
	_ = s.pages.FreePages(rec.LoadAddress, pageCount)

	s.mu.Lock()
	delete(s.records, handle)
	s.mu.Unlock()

	return nil
}
