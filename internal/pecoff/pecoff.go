// Package pecoff implements C9, the PE/COFF loader: copying a parsed
// driver image's sections into allocated memory, applying base
// relocations, and handing back its entry point and HII resource
// payload. The byte-level PE/COFF parser itself — headers, section
// table, relocation directory, debug directory, resource section — is
// explicitly an external collaborator (collab.PEImage), not this
// package's job: this core "does not duplicate a PE parser", matching
// the original's stance that on-disk format parsing lives outside the
// DXE core proper. UefiPe32Lib/src/lib.rs's pe32_load_image and
// pe32_relocate_image ground the operations below, but where the
// reference parses raw bytes with goblin before loading, this package
// starts from an already-parsed collab.PEImage.
package pecoff

import (
	"encoding/binary"
	"fmt"

	"github.com/patina-fw/dxecore/internal/collab"
	"github.com/patina-fw/dxecore/internal/efistatus"
)

// Load copies img's sections into dest, which the caller must have
// allocated to at least img.SizeOfImage() bytes. dest is zeroed first,
// grounded on pe32_load_image's "zero the buffer (as the section copy
// below is sparse and will not initialize all bytes)" comment — section
// virtual addresses rarely tile the image without gaps.
func Load(img collab.PEImage, dest []byte) error {
	if uint64(len(dest)) < img.SizeOfImage() {
		return fmt.Errorf("pecoff: destination buffer (%d bytes) is smaller than the image (%d bytes)", len(dest), img.SizeOfImage())
	}
	for i := range dest {
		dest[i] = 0
	}

	for _, section := range img.Sections() {
		size := section.VirtualSize
		if size == 0 || size > uint32(len(section.RawData)) {
			size = uint32(len(section.RawData))
		}
		if size == 0 {
			continue
		}
		start, end := uint64(section.VirtualAddress), uint64(section.VirtualAddress)+uint64(size)
		if end > uint64(len(dest)) {
			return fmt.Errorf("pecoff: section %q extends past the end of the destination buffer", section.Name)
		}
		copy(dest[start:end], section.RawData[:size])
	}

	return nil
}

// Relocate applies img's base-relocation fixups to an already-loaded
// dest in place, adjusting every fixup by newBase minus img.ImageBase().
// Grounded on pe32_relocate_image/parse_relocation_blocks: a fixup's
// file position is its enclosing block's PageRVA plus its 12-bit
// offset, and only IMAGE_REL_BASED_ABSOLUTE (a no-op padding entry) and
// IMAGE_REL_BASED_DIR64 (a 64-bit in-place add) are implemented, per
// this core's narrower relocation support — any other relocation type
// fails the load rather than silently mis-relocating the image.
func Relocate(img collab.PEImage, dest []byte, newBase uint64) error {
	adjustment := newBase - img.ImageBase()
	if adjustment == 0 {
		return nil
	}

	for _, block := range img.Relocations() {
		for _, entry := range block.Entries {
			fixup := uint64(block.PageRVA) + uint64(entry.Offset)

			switch entry.Type {
			case collab.RelocationAbsolute:
				// Padding entry, used to round a block up to a 32-bit
				// boundary; no fixup is applied.
			case collab.RelocationDir64:
				if fixup+8 > uint64(len(dest)) {
					return fmt.Errorf("pecoff: DIR64 relocation fixup at %#x is out of bounds", fixup)
				}
				value := binary.LittleEndian.Uint64(dest[fixup : fixup+8])
				binary.LittleEndian.PutUint64(dest[fixup:fixup+8], value+adjustment)
			default:
				return efistatus.Unsupported.AsErrorf("pecoff: relocation type %#x is not implemented", entry.Type)
			}
		}
	}

	return nil
}

// EntryPoint returns the absolute address of img's entry point once
// loaded at loadBase.
func EntryPoint(img collab.PEImage, loadBase uint64) uint64 {
	return loadBase + uint64(img.EntryPointRVA())
}

// HIIResource surfaces img's HII resource section payload, if the
// parser collaborator located one; this package performs no additional
// search of its own, since collab.PEImage already carries the extracted
// bytes.
func HIIResource(img collab.PEImage) ([]byte, bool) {
	return img.HIIResourceData()
}
