package pe

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/cli-metadata/errors"
)

func TestLayoutSectionsText(t *testing.T) {
	sections := LayoutSections(SectionPlan{Text: 0x1000}, false)
	require.Len(t, sections, 1)
	text := sections[0]
	require.Equal(t, ".text", text.Name)
	require.Equal(t, uint32(0x2000), text.VirtualAddress)
	require.Equal(t, uint32(0x1000), text.SizeOfRawData)
	require.Equal(t, uint32(0x200), text.PointerToRawData)
	require.Equal(t, uint32(0x4000), ImageSize(sections))
}

func TestLayoutSectionsChain(t *testing.T) {
	sections := LayoutSections(SectionPlan{Text: 0x2345, Rsrc: 0x10, Reloc: 12}, true)
	require.Len(t, sections, 3)

	require.Equal(t, uint32(0x2000), sections[0].VirtualAddress)
	require.Equal(t, uint32(0x2400), sections[0].SizeOfRawData)
	require.Equal(t, uint32(0x6000), sections[1].VirtualAddress)
	require.Equal(t, uint32(0x8000), sections[2].VirtualAddress)

	require.Equal(t, sections[0].PointerToRawData+sections[0].SizeOfRawData, sections[1].PointerToRawData)
	require.Equal(t, sections[1].PointerToRawData+0x200, sections[2].PointerToRawData)
	require.Equal(t, SectionReloc, sections[2].Characteristics)
}

func TestTextMapAlignment(t *testing.T) {
	m := NewTextMap(TextRVA)
	m.AddMap(SegImportAddressTable, 8, 0)
	m.AddMap(SegCLIHeader, cliHeaderSize, 8)
	m.AddMap(SegCode, 3, 16)
	m.AddMap(SegResources, 0, 8)

	require.Equal(t, uint32(0x2008), m.RVA(SegCLIHeader))
	require.Equal(t, uint32(0x2050), m.RVA(SegCode))
	require.Equal(t, uint32(0x2058), m.RVA(SegResources))
	require.True(t, m.DataDirectory(SegResources).IsZero())
	require.Equal(t, DataDirectory{0x2008, 0x48}, m.DataDirectory(SegCLIHeader))
	require.Equal(t, uint32(0x2060), m.NextStart(SegData, 16))
}

// resourceTree builds a root directory with one subdirectory holding one data
// entry that points at rva.
func resourceTree(rva uint32) []byte {
	b := make([]byte, 16+8+16+8+16)
	le := binary.LittleEndian
	le.PutUint16(b[14:], 1)
	le.PutUint32(b[16+4:], 24|rsrcSubdirFlag)
	le.PutUint16(b[24+14:], 1)
	le.PutUint32(b[40+4:], 48)
	le.PutUint32(b[48:], rva)
	le.PutUint32(b[52:], 4)
	return b
}

func TestPatchResources(t *testing.T) {
	data := resourceTree(0x4010)
	require.NoError(t, PatchResources(data, 0x4000, 0x6000))
	require.Equal(t, uint32(0x6010), binary.LittleEndian.Uint32(data[48:]))

	require.NoError(t, PatchResources(data, 0x6000, 0x6000))
	require.Equal(t, uint32(0x6010), binary.LittleEndian.Uint32(data[48:]))
}

func TestPatchResourcesTruncated(t *testing.T) {
	data := resourceTree(0x4010)[:50]
	err := PatchResources(data, 0x4000, 0x6000)
	require.ErrorIs(t, err, errors.ErrTruncated)
}

func TestPatchResourcesCycle(t *testing.T) {
	data := resourceTree(0x4010)
	binary.LittleEndian.PutUint32(data[40+4:], 0|rsrcSubdirFlag)
	err := PatchResources(data, 0x4000, 0x6000)
	require.ErrorIs(t, err, errors.ErrMalformed)
}

func TestPatchResourcesSharedDataEntry(t *testing.T) {
	// Root -> one subdirectory whose two entries share the data entry at 56.
	b := make([]byte, 16+8+16+8+8+16)
	le := binary.LittleEndian
	le.PutUint16(b[14:], 1)
	le.PutUint32(b[16+4:], 24|rsrcSubdirFlag)
	le.PutUint16(b[24+14:], 2)
	le.PutUint32(b[40+4:], 56)
	le.PutUint32(b[48+4:], 56)
	le.PutUint32(b[56:], 0x4010)

	require.NoError(t, PatchResources(b, 0x4000, 0x6000))
	require.Equal(t, uint32(0x6010), le.Uint32(b[56:]))
}

func minimalStreams() MetadataStreams {
	return MetadataStreams{
		Tables:  []byte{0, 0, 0, 0, 2, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		Strings: []byte("\x00Hello\x00"),
		GUIDs:   bytes.Repeat([]byte{0xAB}, 16),
		Blobs:   []byte{0, 1, 7},
	}
}

func writeImage(t *testing.T, opts ImageOptions, configure func(*ImageWriter)) []byte {
	t.Helper()
	w, err := NewImageWriter(opts)
	require.NoError(t, err)
	w.SetMetadata(minimalStreams())
	if configure != nil {
		configure(w)
	}
	data, err := w.Bytes()
	require.NoError(t, err)
	return data
}

func TestWriteReadI386(t *testing.T) {
	code := []byte{0x06, 0x2A} // tiny header, ret
	data := writeImage(t, ImageOptions{Machine: MachineI386, Timestamp: 0x5F000000}, func(w *ImageWriter) {
		w.SetCode(code)
		w.SetResources([]byte{3, 0, 0, 0, 'a', 'b', 'c', 0})
		w.SetDebug([]DebugEntry{{Type: DebugTypeCodeView, Data: []byte("RSDS....")}})
	})

	require.Equal(t, "MZ", string(data[:2]))
	require.Equal(t, uint32(0x80), binary.LittleEndian.Uint32(data[0x3C:]))

	img, err := Read(data)
	require.NoError(t, err)
	require.Equal(t, MachineI386, img.Machine)
	require.False(t, img.PE64)
	require.Equal(t, uint32(0x5F000000), img.Timestamp)
	require.Equal(t, uint64(0x400000), img.ImageBase)
	require.Equal(t, CharExecutableImage|Char32BitMachine, img.Characteristics)

	require.Equal(t, "#~", img.TableStreamName)
	require.Equal(t, "v4.0.30319", img.RuntimeVersion)
	require.Equal(t, []byte("\x00Hello\x00\x00"), img.Strings)
	require.Equal(t, minimalStreams().GUIDs, img.GUIDs)
	require.Nil(t, img.UserStrings)
	require.Equal(t, []byte{3, 0, 0, 0, 'a', 'b', 'c', 0}, img.Resources)

	require.Len(t, img.Debug, 1)
	require.Equal(t, []byte("RSDS...."), img.Debug[0].Data)

	require.Len(t, img.Sections, 2)
	require.Equal(t, ".reloc", img.Sections[1].Name)
	require.False(t, img.Directories[DirImport].IsZero())
	require.Equal(t, DataDirectory{TextRVA, 8}, img.Directories[DirIAT])

	body, err := img.ReadAt(0x2050, 2)
	require.NoError(t, err)
	require.Equal(t, code, body)
}

func TestWriteReadAMD64DLL(t *testing.T) {
	rsrc := resourceTree(0x9010)
	data := writeImage(t, ImageOptions{
		Machine:           MachineAMD64,
		DLL:               true,
		Win32Resources:    rsrc,
		Win32ResourcesRVA: 0x9000,
	}, nil)

	img, err := Read(data)
	require.NoError(t, err)
	require.True(t, img.PE64)
	require.Equal(t, uint64(0x180000000), img.ImageBase)
	require.Equal(t, CharExecutableImage|CharLargeAddressAware|CharDLL, img.Characteristics)
	require.True(t, img.Directories[DirImport].IsZero())
	require.True(t, img.Directories[DirBaseReloc].IsZero())

	require.Len(t, img.Sections, 2)
	va := img.Sections[1].VirtualAddress
	require.Equal(t, va, img.Win32ResourcesRVA)
	require.Equal(t, va+0x10, binary.LittleEndian.Uint32(img.Win32Resources[48:]))
}

func TestWriterRejectsIA64(t *testing.T) {
	_, err := NewImageWriter(ImageOptions{Machine: MachineIA64})
	require.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestReadBadMetadataSignature(t *testing.T) {
	data := writeImage(t, ImageOptions{Machine: MachineAMD64}, nil)

	img, err := Read(data)
	require.NoError(t, err)
	off, ok := img.ResolveRVA(img.CLI.Metadata.VirtualAddress)
	require.True(t, ok)

	corrupt := append([]byte(nil), data...)
	copy(corrupt[off:], "XXXX")
	_, err = Read(corrupt)
	require.ErrorIs(t, err, errors.ErrMalformed)
}

func TestReadNotPE(t *testing.T) {
	_, err := Read([]byte("definitely not an image"))
	require.Error(t, err)
}
