package collab

// PEImage is a parsed PE/COFF image: the pieces the image loader needs to
// copy an image into allocated memory, relocate it, and record enough
// debug metadata to name it in logs. Grounded on spec.md §6's PE/COFF
// parser row ("headers, section table, relocation directory, debug
// directory (CodeView for filenames), base-relocation table, optional
// HII resource section").
type PEImage interface {
	// Subsystem is the image's optional-header Subsystem field
	// (IMAGE_SUBSYSTEM_EFI_*), used to reject image types the loader
	// does not support and to select the image's code/data memory type.
	Subsystem() uint16

	// EntryPointRVA is the image's AddressOfEntryPoint, relative to
	// ImageBase.
	EntryPointRVA() uint32

	// ImageBase is the image's preferred load address, as recorded in
	// its optional header.
	ImageBase() uint64

	// SizeOfImage is the total number of bytes the loaded image occupies
	// once every section is copied into place.
	SizeOfImage() uint64

	// SectionAlignment is the alignment every section's virtual address
	// must satisfy once loaded.
	SectionAlignment() uint32

	// Sections returns every section in file order.
	Sections() []PESection

	// Relocations returns every base-relocation block, empty if the
	// image carries no relocation directory (e.g. position-independent).
	Relocations() []BaseRelocationBlock

	// DebugName returns the filename recorded in the image's CodeView
	// debug directory entry, if present.
	DebugName() (string, bool)

	// HIIResourceData returns the image's HII resource section payload,
	// if present.
	HIIResourceData() ([]byte, bool)
}

// PESection is one section of a PE image's section table.
type PESection struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	RawData         []byte
	Characteristics uint32
}

// BaseRelocationBlock is one page-granularity block of a PE image's
// base-relocation directory: a page RVA plus the type+offset entries
// relocating within that page.
type BaseRelocationBlock struct {
	PageRVA uint32
	Entries []RelocationEntry
}

// RelocationEntry is one base-relocation fixup: a type tag (matching the
// IMAGE_REL_BASED_* constants) and the byte offset within its page.
type RelocationEntry struct {
	Type   RelocationType
	Offset uint16
}

// RelocationType mirrors the IMAGE_REL_BASED_* relocation opcode space.
type RelocationType byte

const (
	RelocationAbsolute RelocationType = 0x0
	RelocationHigh     RelocationType = 0x1
	RelocationLow      RelocationType = 0x2
	RelocationHighLow  RelocationType = 0x3
	RelocationDir64    RelocationType = 0xA
)
