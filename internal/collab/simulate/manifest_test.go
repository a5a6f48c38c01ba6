package simulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/internal/collab"
)

const sampleManifest = `
files:
  - name: "0e896c7a-57dc-4987-bc22-abc3a8263210"
    type: driver
    sections:
      - type: pe32
        hex: "deadbeef"
      - type: dxe_depex
        hex: "06080100"
`

func TestParseManifestDecodesFilesAndSections(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)
	require.Len(t, m.Files, 1)
	assert.Equal(t, "driver", m.Files[0].Type)
	require.Len(t, m.Files[0].Sections, 2)
	assert.Equal(t, "pe32", m.Files[0].Sections[0].Type)
}

func TestParseManifestRejectsUnknownFileType(t *testing.T) {
	_, err := ParseManifest([]byte(`
files:
  - name: "0e896c7a-57dc-4987-bc22-abc3a8263210"
    type: not_a_real_type
    sections: []
`))
	assert.Error(t, err)
}

func TestParseManifestRejectsInvalidHex(t *testing.T) {
	_, err := ParseManifest([]byte(`
files:
  - name: "0e896c7a-57dc-4987-bc22-abc3a8263210"
    type: driver
    sections:
      - type: pe32
        hex: "not-hex"
`))
	assert.Error(t, err)
}

func TestBuildFirmwareVolumeAssemblesFilesAndSections(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)

	fv, err := BuildFirmwareVolume(0x800000, m)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x800000), fv.BaseAddress())

	require.Len(t, fv.Files(), 1)
	file := fv.Files()[0]
	assert.Equal(t, collab.FileTypeDriver, file.Type())

	sections := file.Sections()
	require.Len(t, sections, 2)
	assert.Equal(t, collab.SectionPE32, sections[0].Type())
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, sections[0].Data())
	assert.Equal(t, collab.SectionDXEDepex, sections[1].Type())
}

func TestSchemaNamesManifestTitle(t *testing.T) {
	schema := Schema()
	assert.Equal(t, "DXE Core Firmware Volume Manifest", schema.Title)
}
