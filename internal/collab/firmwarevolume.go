package collab

import "github.com/patina-fw/dxecore/internal/guid"

// FileType is an FFS file's EFI_FV_FILETYPE tag. Only the subset the
// dispatcher cares about is named; real UEFI-assigned values.
type FileType byte

const (
	FileTypeRaw             FileType = 0x01
	FileTypeFreeformSubtype FileType = 0x02
	FileTypeDXECore         FileType = 0x05
	FileTypeDriver          FileType = 0x07
	FileTypeApplication     FileType = 0x09
	FileTypeFirmwareVolume  FileType = 0x0B
)

// SectionType is an FFS section's EFI_SECTION_* tag. Real UEFI-assigned
// values; only the subset the image loader and dispatcher read is named.
type SectionType byte

const (
	SectionGUIDDefined         SectionType = 0x02
	SectionPE32                SectionType = 0x10
	SectionPIC                 SectionType = 0x11
	SectionDXEDepex            SectionType = 0x13
	SectionVersion             SectionType = 0x14
	SectionUserInterface       SectionType = 0x15
	SectionFirmwareVolumeImage SectionType = 0x17
	SectionRaw                 SectionType = 0x19
)

// FirmwareVolume is a parsed firmware volume: its own physical base
// address (needed by the dispatcher to locate the volume among GCD
// regions) plus the files it contains.
type FirmwareVolume interface {
	BaseAddress() uint64
	Files() []File
}

// File is one file within a firmware volume.
type File interface {
	Name() guid.GUID
	Type() FileType
	Sections() []Section
}

// Section is one section within a file: a type tag plus its raw payload
// (already stripped of the section header).
type Section interface {
	Type() SectionType
	Data() []byte
}
