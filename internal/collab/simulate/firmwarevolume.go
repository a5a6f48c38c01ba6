package simulate

import (
	"encoding/hex"
	"fmt"

	"github.com/patina-fw/dxecore/internal/collab"
	"github.com/patina-fw/dxecore/internal/guid"
)

// FirmwareVolume is an in-memory firmware volume built from a Manifest.
type FirmwareVolume struct {
	base  uint64
	files []collab.File
}

// BuildFirmwareVolume decodes m's hex-encoded sections and assembles a
// FirmwareVolume located at base, as if a pre-DXE phase had already
// placed it in physical memory at that address.
func BuildFirmwareVolume(base uint64, m *Manifest) (*FirmwareVolume, error) {
	fv := &FirmwareVolume{base: base}
	for _, mf := range m.Files {
		name, err := guid.Parse(mf.Name)
		if err != nil {
			return nil, fmt.Errorf("simulate: file %q: %w", mf.Name, err)
		}

		file := &fvFile{name: name, typ: fileTypes[mf.Type]}
		for _, ms := range mf.Sections {
			data, err := hex.DecodeString(ms.Hex)
			if err != nil {
				return nil, fmt.Errorf("simulate: file %q section %q: %w", mf.Name, ms.Type, err)
			}
			file.sections = append(file.sections, fvSection{typ: sectionTypes[ms.Type], data: data})
		}
		fv.files = append(fv.files, file)
	}
	return fv, nil
}

func (fv *FirmwareVolume) BaseAddress() uint64  { return fv.base }
func (fv *FirmwareVolume) Files() []collab.File { return fv.files }

type fvFile struct {
	name     guid.GUID
	typ      collab.FileType
	sections []fvSection
}

func (f *fvFile) Name() guid.GUID       { return f.name }
func (f *fvFile) Type() collab.FileType { return f.typ }
func (f *fvFile) Sections() []collab.Section {
	out := make([]collab.Section, len(f.sections))
	for i := range f.sections {
		out[i] = f.sections[i]
	}
	return out
}

type fvSection struct {
	typ  collab.SectionType
	data []byte
}

func (s fvSection) Type() collab.SectionType { return s.typ }
func (s fvSection) Data() []byte             { return s.data }

var _ collab.FirmwareVolume = (*FirmwareVolume)(nil)
