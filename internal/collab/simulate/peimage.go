package simulate

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/patina-fw/dxecore/internal/collab"
)

// PEImage is a hand-built collab.PEImage fixture: a plain value type
// whose fields are set directly by a test, rather than parsed from raw
// PE bytes (that parsing is the PE/COFF parser collaborator's job,
// grounded on the original pe32.rs; this type exists so internal/image
// and internal/dispatcher tests can exercise the loader against
// known-good image layouts without going through a byte-level parser at
// all).
type PEImage struct {
	SubsystemType uint16
	EntryPoint    uint32
	Base          uint64
	ImageSize     uint64
	SectAlignment uint32
	SectionList   []collab.PESection
	RelocList     []collab.BaseRelocationBlock
	Debug         string
	HasDebug      bool
	HIIResource   []byte
	HasHII        bool
}

func (p *PEImage) Subsystem() uint16                         { return p.SubsystemType }
func (p *PEImage) EntryPointRVA() uint32                     { return p.EntryPoint }
func (p *PEImage) ImageBase() uint64                         { return p.Base }
func (p *PEImage) SizeOfImage() uint64                       { return p.ImageSize }
func (p *PEImage) SectionAlignment() uint32                  { return p.SectAlignment }
func (p *PEImage) Sections() []collab.PESection              { return p.SectionList }
func (p *PEImage) Relocations() []collab.BaseRelocationBlock { return p.RelocList }
func (p *PEImage) DebugName() (string, bool)                 { return p.Debug, p.HasDebug }
func (p *PEImage) HIIResourceData() ([]byte, bool)           { return p.HIIResource, p.HasHII }

var _ collab.PEImage = (*PEImage)(nil)

// EncodePEImage serializes img with encoding/gob, for embedding as a
// manifest file's "pe32" section payload: a firmware-volume fixture
// needs *some* byte representation of a driver's image to carry, and
// gob is a convenient stand-in for the real on-disk PE32 format that
// PEImageParser below can decode back losslessly, since this package
// simulates the parser collaborator rather than the real file format.
func EncodePEImage(img *PEImage) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(img); err != nil {
		panic(fmt.Sprintf("simulate: encode PEImage: %v", err))
	}
	return buf.Bytes()
}

// PEImageParser implements collab.PEImageParser by decoding the gob
// encoding EncodePEImage produces. It stands in for the real PE/COFF
// parser collaborator in tests and demos, exactly as FirmwareVolume
// stands in for the real firmware-volume reader.
type PEImageParser struct{}

// Parse decodes data, previously produced by EncodePEImage, into a
// collab.PEImage.
func (PEImageParser) Parse(data []byte) (collab.PEImage, error) {
	var img PEImage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&img); err != nil {
		return nil, fmt.Errorf("simulate: parse PE image: %w", err)
	}
	return &img, nil
}

var _ collab.PEImageParser = PEImageParser{}
