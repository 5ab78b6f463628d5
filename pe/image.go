package pe

import (
	"bytes"
	"debug/pe"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
)

// DataDirectory is an (RVA, size) pair.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// IsZero reports whether the directory is absent.
func (d DataDirectory) IsZero() bool {
	return d.VirtualAddress == 0 || d.Size == 0
}

// Section is a section header together with its raw bytes on read.
type Section struct {
	Name             string
	VirtualAddress   uint32
	VirtualSize      uint32
	PointerToRawData uint32
	SizeOfRawData    uint32
	Characteristics  uint32
}

// Contains reports whether rva falls within the section's raw data.
func (s *Section) Contains(rva uint32) bool {
	size := s.SizeOfRawData
	if s.VirtualSize > size {
		size = s.VirtualSize
	}
	return rva >= s.VirtualAddress && rva < s.VirtualAddress+size
}

// CLIHeader is the 72-byte runtime header (ECMA-335 II.25.3.3).
type CLIHeader struct {
	Cb                      uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	Metadata                DataDirectory
	Flags                   uint32
	EntryPointToken         uint32
	Resources               DataDirectory
	StrongNameSignature     DataDirectory
	CodeManagerTable        DataDirectory
	VTableFixups            DataDirectory
	ExportAddressTableJumps DataDirectory
	ManagedNativeHeader     DataDirectory
}

// Stream is one metadata stream located by the metadata root.
type Stream struct {
	Name   string
	Offset uint32
	Size   uint32
	Data   []byte
}

// DebugEntry is one debug directory entry with its payload.
type DebugEntry struct {
	Characteristics uint32
	TimeDateStamp   uint32
	MajorVersion    uint16
	MinorVersion    uint16
	Type            uint32
	Data            []byte
}

// Image is a parsed PE/CLI image. Byte slices alias the input.
type Image struct {
	Machine            Machine
	PE64               bool
	Characteristics    uint16
	DLLCharacteristics uint16
	Subsystem          uint16
	Timestamp          uint32
	ImageBase          uint64
	LinkerMajor        uint8
	LinkerMinor        uint8
	OSMajor            uint16
	OSMinor            uint16
	SubsystemMajor     uint16
	SubsystemMinor     uint16
	Directories        [NumDirectories]DataDirectory
	Sections           []*Section

	CLI            CLIHeader
	MetadataMajor  uint16
	MetadataMinor  uint16
	RuntimeVersion string
	Streams        []Stream

	// TableStreamName is "#~" or "#-".
	TableStreamName string
	TableStream     []byte
	Strings         []byte
	UserStrings     []byte
	GUIDs           []byte
	Blobs           []byte

	Resources  []byte
	StrongName []byte
	Debug      []DebugEntry

	// Win32Resources holds the .rsrc bytes; Win32ResourcesRVA is the RVA
	// their directory offsets are relative to.
	Win32Resources    []byte
	Win32ResourcesRVA uint32

	data []byte
}

// Read parses a PE/CLI image held in memory.
func Read(data []byte) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseImage, errors.KindMalformed, err, "not a PE image")
	}
	defer f.Close()

	img := &Image{
		data:            data,
		Machine:         Machine(f.FileHeader.Machine),
		Characteristics: f.FileHeader.Characteristics,
		Timestamp:       f.FileHeader.TimeDateStamp,
	}

	var dirs []pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.ImageBase = uint64(oh.ImageBase)
		img.LinkerMajor, img.LinkerMinor = oh.MajorLinkerVersion, oh.MinorLinkerVersion
		img.OSMajor, img.OSMinor = oh.MajorOperatingSystemVersion, oh.MinorOperatingSystemVersion
		img.SubsystemMajor, img.SubsystemMinor = oh.MajorSubsystemVersion, oh.MinorSubsystemVersion
		img.Subsystem = oh.Subsystem
		img.DLLCharacteristics = oh.DllCharacteristics
		dirs = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, NumDirectories)]
	case *pe.OptionalHeader64:
		img.PE64 = true
		img.ImageBase = oh.ImageBase
		img.LinkerMajor, img.LinkerMinor = oh.MajorLinkerVersion, oh.MinorLinkerVersion
		img.OSMajor, img.OSMinor = oh.MajorOperatingSystemVersion, oh.MinorOperatingSystemVersion
		img.SubsystemMajor, img.SubsystemMinor = oh.MajorSubsystemVersion, oh.MinorSubsystemVersion
		img.Subsystem = oh.Subsystem
		img.DLLCharacteristics = oh.DllCharacteristics
		dirs = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, NumDirectories)]
	default:
		return nil, errors.Malformed(errors.PhaseImage, "missing optional header")
	}
	for i, d := range dirs {
		img.Directories[i] = DataDirectory{d.VirtualAddress, d.Size}
	}

	for _, s := range f.Sections {
		img.Sections = append(img.Sections, &Section{
			Name:             s.Name,
			VirtualAddress:   s.VirtualAddress,
			VirtualSize:      s.VirtualSize,
			PointerToRawData: s.Offset,
			SizeOfRawData:    s.Size,
			Characteristics:  s.Characteristics,
		})
	}

	Logger().Debug("pe headers",
		zap.Stringer("machine", img.Machine),
		zap.Bool("pe64", img.PE64),
		zap.Int("sections", len(img.Sections)))

	if err := img.readCLIHeader(); err != nil {
		return nil, err
	}
	if err := img.readMetadataRoot(); err != nil {
		return nil, err
	}
	if err := img.readOptionalContent(); err != nil {
		return nil, err
	}
	return img, nil
}

// Bytes returns the raw image.
func (img *Image) Bytes() []byte {
	return img.data
}

// SectionAt returns the section holding rva.
func (img *Image) SectionAt(rva uint32) *Section {
	for _, s := range img.Sections {
		if s.Contains(rva) {
			return s
		}
	}
	return nil
}

// SectionByName returns the first section named name.
func (img *Image) SectionByName(name string) *Section {
	for _, s := range img.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// ResolveRVA maps an RVA to its file offset.
func (img *Image) ResolveRVA(rva uint32) (uint32, bool) {
	s := img.SectionAt(rva)
	if s == nil {
		return 0, false
	}
	return rva - s.VirtualAddress + s.PointerToRawData, true
}

// ReadAt returns n bytes of raw data starting at rva. The result aliases the image.
func (img *Image) ReadAt(rva, n uint32) ([]byte, error) {
	s := img.SectionAt(rva)
	if s == nil {
		return nil, errors.New(errors.PhaseImage, errors.KindOutOfBounds).
			Detail("rva 0x%x is not mapped by any section", rva).
			Value(rva).
			Build()
	}
	off := uint64(rva - s.VirtualAddress)
	end := off + uint64(n)
	if end > uint64(s.SizeOfRawData) || uint64(s.PointerToRawData)+end > uint64(len(img.data)) {
		return nil, errors.New(errors.PhaseImage, errors.KindTruncated).
			Offset(int64(s.PointerToRawData) + int64(off)).
			Detail("%d bytes at rva 0x%x run past section %s", n, rva, s.Name).
			Build()
	}
	start := uint64(s.PointerToRawData) + off
	return img.data[start : start+uint64(n) : start+uint64(n)], nil
}

// ReadFrom returns the raw data from rva to the end of its section.
func (img *Image) ReadFrom(rva uint32) ([]byte, error) {
	s := img.SectionAt(rva)
	if s == nil {
		return nil, errors.New(errors.PhaseImage, errors.KindOutOfBounds).
			Detail("rva 0x%x is not mapped by any section", rva).
			Build()
	}
	return img.ReadAt(rva, s.SizeOfRawData-(rva-s.VirtualAddress))
}

func (img *Image) readCLIHeader() error {
	dir := img.Directories[DirCLIHeader]
	if dir.IsZero() {
		return errors.Malformed(errors.PhaseImage, "not a CLI image: no CLI header directory")
	}
	raw, err := img.ReadAt(dir.VirtualAddress, cliHeaderSize)
	if err != nil {
		return errors.Wrap(errors.PhaseImage, errors.KindMalformed, err, "CLI header")
	}
	b := buffer.New(raw)
	dd := func() DataDirectory {
		rva, _ := b.ReadUint32()
		size, _ := b.ReadUint32()
		return DataDirectory{rva, size}
	}
	h := &img.CLI
	h.Cb, _ = b.ReadUint32()
	h.MajorRuntimeVersion, _ = b.ReadUint16()
	h.MinorRuntimeVersion, _ = b.ReadUint16()
	h.Metadata = dd()
	h.Flags, _ = b.ReadUint32()
	h.EntryPointToken, _ = b.ReadUint32()
	h.Resources = dd()
	h.StrongNameSignature = dd()
	h.CodeManagerTable = dd()
	h.VTableFixups = dd()
	h.ExportAddressTableJumps = dd()
	h.ManagedNativeHeader = dd()

	if h.Metadata.IsZero() {
		return errors.Malformed(errors.PhaseImage, "CLI header has no metadata directory")
	}
	return nil
}

func (img *Image) readMetadataRoot() error {
	md, err := img.ReadAt(img.CLI.Metadata.VirtualAddress, img.CLI.Metadata.Size)
	if err != nil {
		return errors.Wrap(errors.PhaseImage, errors.KindMalformed, err, "metadata root")
	}
	b := buffer.New(md)
	sig, err := b.ReadUint32()
	if err != nil || sig != metadataSig {
		return errors.New(errors.PhaseImage, errors.KindMalformed).
			Detail("bad metadata signature 0x%08x", sig).
			Value(sig).
			Build()
	}

	truncated := func(err error) error {
		return errors.New(errors.PhaseImage, errors.KindTruncated).
			Offset(int64(b.Position())).
			Detail("metadata root").
			Cause(err).
			Build()
	}

	if img.MetadataMajor, err = b.ReadUint16(); err != nil {
		return truncated(err)
	}
	if img.MetadataMinor, err = b.ReadUint16(); err != nil {
		return truncated(err)
	}
	if err := b.Advance(4); err != nil {
		return truncated(err)
	}
	n, err := b.ReadUint32()
	if err != nil {
		return truncated(err)
	}
	version, err := b.ReadBytes(int(n))
	if err != nil {
		return truncated(err)
	}
	img.RuntimeVersion = strings.TrimRight(string(version), "\x00")
	if err := b.Advance(2); err != nil {
		return truncated(err)
	}
	count, err := b.ReadUint16()
	if err != nil {
		return truncated(err)
	}

	for range count {
		offset, err := b.ReadUint32()
		if err != nil {
			return truncated(err)
		}
		size, err := b.ReadUint32()
		if err != nil {
			return truncated(err)
		}
		name, err := readStreamName(b)
		if err != nil {
			return truncated(err)
		}
		if uint64(offset)+uint64(size) > uint64(len(md)) {
			return errors.New(errors.PhaseImage, errors.KindMalformed).
				Detail("stream %s [0x%x+0x%x] outside metadata (0x%x bytes)", name, offset, size, len(md)).
				Build()
		}
		s := Stream{Name: name, Offset: offset, Size: size, Data: md[offset : offset+size]}
		img.Streams = append(img.Streams, s)

		switch name {
		case "#~", "#-":
			img.TableStreamName = name
			img.TableStream = s.Data
		case "#Strings":
			img.Strings = s.Data
		case "#US":
			img.UserStrings = s.Data
		case "#GUID":
			img.GUIDs = s.Data
		case "#Blob":
			img.Blobs = s.Data
		default:
			Logger().Debug("skipping metadata stream", zap.String("name", name))
		}
	}

	if img.TableStream == nil {
		return errors.Malformed(errors.PhaseImage, "metadata has no #~ stream")
	}
	return nil
}

func readStreamName(b *buffer.Buffer) (string, error) {
	start := b.Position()
	var sb strings.Builder
	for {
		c, err := b.ReadByte()
		if err != nil {
			return "", err
		}
		if c == 0 {
			break
		}
		sb.WriteByte(c)
		if sb.Len() > 32 {
			return "", errors.Malformed(errors.PhaseImage, "unterminated stream name")
		}
	}
	consumed := uint32(b.Position() - start)
	if err := b.Advance(int(align(consumed, 4) - consumed)); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (img *Image) readOptionalContent() error {
	var err error
	if d := img.CLI.Resources; !d.IsZero() {
		if img.Resources, err = img.ReadAt(d.VirtualAddress, d.Size); err != nil {
			return err
		}
	}
	if d := img.CLI.StrongNameSignature; !d.IsZero() {
		if img.StrongName, err = img.ReadAt(d.VirtualAddress, d.Size); err != nil {
			return err
		}
	}
	if err := img.readDebugDirectory(); err != nil {
		return err
	}
	return img.readWin32Resources()
}

func (img *Image) readDebugDirectory() error {
	d := img.Directories[DirDebug]
	if d.IsZero() {
		return nil
	}
	raw, err := img.ReadAt(d.VirtualAddress, d.Size)
	if err != nil {
		return err
	}
	b := buffer.New(raw)
	for b.Remaining() >= debugEntrySize {
		var e DebugEntry
		e.Characteristics, _ = b.ReadUint32()
		e.TimeDateStamp, _ = b.ReadUint32()
		e.MajorVersion, _ = b.ReadUint16()
		e.MinorVersion, _ = b.ReadUint16()
		e.Type, _ = b.ReadUint32()
		size, _ := b.ReadUint32()
		rva, _ := b.ReadUint32()
		ptr, _ := b.ReadUint32()

		switch {
		case size == 0:
		case rva != 0:
			if e.Data, err = img.ReadAt(rva, size); err != nil {
				return err
			}
		case uint64(ptr)+uint64(size) <= uint64(len(img.data)):
			e.Data = img.data[ptr : ptr+size]
		default:
			return errors.Truncated(errors.PhaseImage, int64(ptr), int(size), len(img.data)-int(ptr))
		}
		img.Debug = append(img.Debug, e)
	}
	return nil
}

func (img *Image) readWin32Resources() error {
	d := img.Directories[DirResource]
	if d.IsZero() {
		return nil
	}
	s := img.SectionAt(d.VirtualAddress)
	if s == nil {
		return errors.Malformed(errors.PhaseImage, "resource directory 0x%x is not mapped", d.VirtualAddress)
	}

	cliSection := img.SectionAt(img.Directories[DirCLIHeader].VirtualAddress)
	var err error
	if s == cliSection {
		img.Win32Resources, err = img.ReadAt(d.VirtualAddress, d.Size)
		img.Win32ResourcesRVA = d.VirtualAddress
	} else {
		img.Win32Resources, err = img.ReadAt(s.VirtualAddress, min(s.SizeOfRawData, max(s.VirtualSize, d.Size)))
		img.Win32ResourcesRVA = s.VirtualAddress
	}
	return err
}
