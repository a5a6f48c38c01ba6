package simulate

import (
	"encoding/hex"
	"fmt"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/patina-fw/dxecore/internal/collab"
)

// Manifest is the declarative, YAML-authored description of a firmware
// volume's contents: a list of files, each carrying its sections as
// hex-encoded byte strings (a PE32 image, a DXE dependency expression,
// or any other section payload a test fixture needs). This lets the
// dispatcher's end-to-end behavior be exercised without a real .fv
// binary. Grounded on spec.md §6's FirmwareVolume row and SPEC_FULL.md
// §10's manifest-driven FV design.
type Manifest struct {
	Files []ManifestFile `yaml:"files" json:"files" jsonschema:"required"`
}

// ManifestFile is one FFS file: a name GUID, a file type, and its
// sections in file order.
type ManifestFile struct {
	Name     string            `yaml:"name" json:"name" jsonschema:"required,description=FFS file name GUID in canonical string form"`
	Type     string            `yaml:"type" json:"type" jsonschema:"required,enum=driver,enum=application,enum=raw,enum=freeform,enum=dxe_core,enum=firmware_volume"`
	Sections []ManifestSection `yaml:"sections" json:"sections" jsonschema:"required"`
}

// ManifestSection is one FFS section: a type tag and its payload,
// hex-encoded for readable YAML fixtures.
type ManifestSection struct {
	Type string `yaml:"type" json:"type" jsonschema:"required,enum=pe32,enum=dxe_depex,enum=user_interface,enum=version,enum=firmware_volume_image,enum=guid_defined,enum=raw"`
	Hex  string `yaml:"hex" json:"hex" jsonschema:"required,description=Section payload as a hex string"`
}

// Schema returns the JSON Schema for Manifest, generated the same way
// marmos91-dittofs's `dfs config schema` command generates its
// configuration schema: for IDE autocompletion and documentation, not
// for runtime enforcement (this pack carries a schema *generator*,
// invopop/jsonschema, but no schema *validator*; ParseManifest below
// instead validates structurally in Go once the YAML is decoded, which
// is both sufficient for test fixtures and consistent with how the rest
// of this core treats validation at its boundaries).
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&Manifest{})
	schema.Title = "DXE Core Firmware Volume Manifest"
	schema.Description = "Declarative firmware-volume fixture for internal/collab/simulate"
	return schema
}

var fileTypes = map[string]collab.FileType{
	"raw":             collab.FileTypeRaw,
	"freeform":        collab.FileTypeFreeformSubtype,
	"dxe_core":        collab.FileTypeDXECore,
	"driver":          collab.FileTypeDriver,
	"application":     collab.FileTypeApplication,
	"firmware_volume": collab.FileTypeFirmwareVolume,
}

var sectionTypes = map[string]collab.SectionType{
	"guid_defined":          collab.SectionGUIDDefined,
	"pe32":                  collab.SectionPE32,
	"dxe_depex":             collab.SectionDXEDepex,
	"version":               collab.SectionVersion,
	"user_interface":        collab.SectionUserInterface,
	"firmware_volume_image": collab.SectionFirmwareVolumeImage,
	"raw":                   collab.SectionRaw,
}

// ParseManifest decodes and structurally validates a YAML-encoded
// Manifest, returning a readable error naming the first malformed field
// if decoding or validation fails.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("simulate: parse manifest: %w", err)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("simulate: manifest has no files")
	}
	for i, f := range m.Files {
		if f.Name == "" {
			return nil, fmt.Errorf("simulate: manifest file %d: missing name", i)
		}
		if _, ok := fileTypes[f.Type]; !ok {
			return nil, fmt.Errorf("simulate: manifest file %d (%s): unknown type %q", i, f.Name, f.Type)
		}
		for j, s := range f.Sections {
			if _, ok := sectionTypes[s.Type]; !ok {
				return nil, fmt.Errorf("simulate: manifest file %d (%s) section %d: unknown type %q", i, f.Name, j, s.Type)
			}
			if _, err := hex.DecodeString(s.Hex); err != nil {
				return nil, fmt.Errorf("simulate: manifest file %d (%s) section %d: invalid hex: %w", i, f.Name, j, err)
			}
		}
	}
	return &m, nil
}
