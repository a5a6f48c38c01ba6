package pecoff

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/internal/collab"
	"github.com/patina-fw/dxecore/internal/collab/simulate"
	"github.com/patina-fw/dxecore/internal/efistatus"
)

func testImage() *simulate.PEImage {
	return &simulate.PEImage{
		EntryPoint:    0x1000,
		Base:          0x10000000,
		ImageSize:     0x3000,
		SectAlignment: 0x1000,
		SectionList: []collab.PESection{
			{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 4, RawData: []byte{0x90, 0x90, 0x90, 0x90}},
			{Name: ".data", VirtualAddress: 0x2000, VirtualSize: 8, RawData: make([]byte, 8)},
		},
	}
}

func TestLoadCopiesSectionsAndZeroesGaps(t *testing.T) {
	img := testImage()
	dest := make([]byte, img.SizeOfImage())
	for i := range dest {
		dest[i] = 0xFF // poison, so zero-fill is observable
	}

	require.NoError(t, Load(img, dest))

	assert.Equal(t, []byte{0x90, 0x90, 0x90, 0x90}, dest[0x1000:0x1004])
	assert.Equal(t, byte(0), dest[0x0500], "gap between headers and .text should be zero-filled")
	assert.Equal(t, byte(0), dest[0x1500], "gap between .text and .data should be zero-filled")
}

func TestLoadRejectsUndersizedDestination(t *testing.T) {
	img := testImage()
	err := Load(img, make([]byte, 0x100))
	assert.Error(t, err)
}

func TestLoadClampsVirtualSizeToAvailableRawData(t *testing.T) {
	img := testImage()
	img.SectionList[0].VirtualSize = 0 // common convention: 0 means "use raw data length"
	dest := make([]byte, img.SizeOfImage())

	require.NoError(t, Load(img, dest))
	assert.Equal(t, []byte{0x90, 0x90, 0x90, 0x90}, dest[0x1000:0x1004])
}

func TestRelocateIsNoopWhenBaseUnchanged(t *testing.T) {
	img := testImage()
	dest := make([]byte, img.SizeOfImage())
	binary.LittleEndian.PutUint64(dest[0x2000:0x2008], 0xAAAAAAAAAAAAAAAA)

	require.NoError(t, Relocate(img, dest, img.ImageBase()))
	assert.Equal(t, uint64(0xAAAAAAAAAAAAAAAA), binary.LittleEndian.Uint64(dest[0x2000:0x2008]))
}

func TestRelocateAppliesDir64Fixup(t *testing.T) {
	img := testImage()
	img.RelocList = []collab.BaseRelocationBlock{
		{PageRVA: 0x2000, Entries: []collab.RelocationEntry{
			{Type: collab.RelocationDir64, Offset: 0x0},
			{Type: collab.RelocationAbsolute, Offset: 0x8}, // padding entry, no-op
		}},
	}
	dest := make([]byte, img.SizeOfImage())
	binary.LittleEndian.PutUint64(dest[0x2000:0x2008], img.ImageBase()+0x40)

	newBase := img.ImageBase() + 0x500000
	require.NoError(t, Relocate(img, dest, newBase))

	assert.Equal(t, newBase+0x40, binary.LittleEndian.Uint64(dest[0x2000:0x2008]))
}

func TestRelocateRejectsUnimplementedType(t *testing.T) {
	img := testImage()
	img.RelocList = []collab.BaseRelocationBlock{
		{PageRVA: 0x2000, Entries: []collab.RelocationEntry{
			{Type: collab.RelocationHighLow, Offset: 0x0},
		}},
	}
	dest := make([]byte, img.SizeOfImage())

	err := Relocate(img, dest, img.ImageBase()+0x1000)
	require.Error(t, err)
	assert.Equal(t, efistatus.Unsupported, efistatus.Code(err))
}

func TestEntryPointAddsLoadBase(t *testing.T) {
	img := testImage()
	assert.Equal(t, uint64(0x20001000), EntryPoint(img, 0x20000000))
}

func TestHIIResourcePassesThroughCollaboratorData(t *testing.T) {
	img := testImage()
	img.HIIResource = []byte{0x01, 0x02}
	img.HasHII = true

	data, ok := HIIResource(img)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02}, data)

	img2 := testImage()
	_, ok = HIIResource(img2)
	assert.False(t, ok)
}
