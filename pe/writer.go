package pe

import (
	"bytes"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
)

// ImageOptions carries the header fields of an image to write.
type ImageOptions struct {
	Machine            Machine
	DLL                bool
	LargeAddressAware  bool
	Subsystem          uint16
	DLLCharacteristics uint16
	Timestamp          uint32
	ImageBase          uint64
	LinkerMajor        uint8
	LinkerMinor        uint8
	SubsystemMajor     uint16
	SubsystemMinor     uint16

	CLIFlags          uint32
	EntryPointToken   uint32
	RuntimeMajor      uint16
	RuntimeMinor      uint16
	MetadataVersion   string
	Win32Resources    []byte
	Win32ResourcesRVA uint32
}

// MetadataStreams holds the serialized metadata heaps.
type MetadataStreams struct {
	TableName   string // "#~" or "#-"
	Tables      []byte
	Strings     []byte
	UserStrings []byte
	GUIDs       []byte
	Blobs       []byte
}

// ImageWriter lays out and serializes a PE/CLI image. Content is supplied
// with the Set methods; CodeRVA and DataRVA report where code and field data
// will land so callers can fill in RVAs before the metadata is built.
type ImageWriter struct {
	opts ImageOptions

	code       []byte
	resources  []byte
	data       []byte
	strongName uint32
	metadata   MetadataStreams
	debug      []DebugEntry

	text     *TextMap
	sections []*Section
}

// NewImageWriter validates opts and creates a writer. Architectures without
// a supported startup layout fail here, before anything is produced.
func NewImageWriter(opts ImageOptions) (*ImageWriter, error) {
	if !opts.Machine.Writable() {
		return nil, errors.New(errors.PhaseWrite, errors.KindUnsupported).
			Detail("cannot write images for %s", opts.Machine).
			Value(uint16(opts.Machine)).
			Build()
	}
	if opts.ImageBase == 0 {
		opts.ImageBase = defaultImageBase(opts.Machine.PE64(), opts.DLL)
	}
	if opts.LinkerMajor == 0 && opts.LinkerMinor == 0 {
		opts.LinkerMajor = 8
	}
	if opts.SubsystemMajor == 0 {
		opts.SubsystemMajor = 4
	}
	if opts.Subsystem == 0 {
		opts.Subsystem = SubsystemWindowsCUI
	}
	if opts.RuntimeMajor == 0 {
		opts.RuntimeMajor, opts.RuntimeMinor = 2, 5
	}
	if opts.MetadataVersion == "" {
		opts.MetadataVersion = "v4.0.30319"
	}
	return &ImageWriter{opts: opts, metadata: MetadataStreams{TableName: "#~"}}, nil
}

func defaultImageBase(pe64, dll bool) uint64 {
	switch {
	case pe64 && dll:
		return 0x180000000
	case pe64:
		return 0x140000000
	case dll:
		return 0x10000000
	default:
		return 0x400000
	}
}

func (w *ImageWriter) hasStub() bool {
	return w.opts.Machine == MachineI386
}

func (w *ImageWriter) codeAlignment() uint32 {
	if w.opts.Machine.PE64() {
		return 16
	}
	return 4
}

// SetCode supplies the method body segment.
func (w *ImageWriter) SetCode(code []byte) { w.code = code }

// SetResources supplies the managed resources segment.
func (w *ImageWriter) SetResources(res []byte) { w.resources = res }

// SetData supplies the field initial-data segment.
func (w *ImageWriter) SetData(data []byte) { w.data = data }

// SetStrongNameSize reserves space for a strong-name signature.
func (w *ImageWriter) SetStrongNameSize(n uint32) { w.strongName = n }

// SetMetadata supplies the metadata heaps.
func (w *ImageWriter) SetMetadata(m MetadataStreams) {
	if m.TableName == "" {
		m.TableName = "#~"
	}
	w.metadata = m
}

// SetDebug supplies the debug directory entries.
func (w *ImageWriter) SetDebug(entries []DebugEntry) { w.debug = entries }

// CodeRVA returns the RVA of the first byte of the code segment.
func (w *ImageWriter) CodeRVA() uint32 {
	return w.layoutText().RVA(SegCode)
}

// DataRVA returns the RVA of the first byte of the data segment. Code and
// resources must already be set.
func (w *ImageWriter) DataRVA() uint32 {
	return w.layoutText().RVA(SegData)
}

// ResourcesRVA returns the RVA of the managed resources segment.
func (w *ImageWriter) ResourcesRVA() uint32 {
	return w.layoutText().RVA(SegResources)
}

// TextMap returns the final .text layout. Valid after WriteTo.
func (w *ImageWriter) TextMap() *TextMap { return w.text }

// Sections returns the final section list. Valid after WriteTo.
func (w *ImageWriter) Sections() []*Section { return w.sections }

func (w *ImageWriter) metadataHeaderSize() uint32 {
	size := uint32(4 + 2 + 2 + 4 + 4 + 2 + 2)
	size += align(uint32(len(w.opts.MetadataVersion))+1, 4)
	for _, s := range w.streamList() {
		size += 8 + align(uint32(len(s.name))+1, 4)
	}
	return size
}

type namedStream struct {
	name string
	seg  TextSegment
	data []byte
}

func (w *ImageWriter) streamList() []namedStream {
	all := []namedStream{
		{w.metadata.TableName, SegTableHeap, w.metadata.Tables},
		{"#Strings", SegStringHeap, w.metadata.Strings},
		{"#US", SegUserStringHeap, w.metadata.UserStrings},
		{"#GUID", SegGUIDHeap, w.metadata.GUIDs},
		{"#Blob", SegBlobHeap, w.metadata.Blobs},
	}
	out := all[:0]
	for _, s := range all {
		if len(s.data) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func (w *ImageWriter) debugSize() uint32 {
	if len(w.debug) == 0 {
		return 0
	}
	size := uint32(len(w.debug)) * debugEntrySize
	for _, e := range w.debug {
		size = align(size, 4) + uint32(len(e.Data))
	}
	return size
}

func (w *ImageWriter) layoutText() *TextMap {
	t := NewTextMap(TextRVA)
	iat := uint32(0)
	if w.hasStub() {
		iat = 8
	}
	t.AddMap(SegImportAddressTable, iat, 0)
	t.AddMap(SegCLIHeader, cliHeaderSize, 8)
	t.AddMap(SegCode, uint32(len(w.code)), w.codeAlignment())
	t.AddMap(SegResources, uint32(len(w.resources)), 8)
	t.AddMap(SegData, uint32(len(w.data)), 4)
	t.AddMap(SegStrongNameSignature, w.strongName, 4)
	t.AddMap(SegMetadataHeader, w.metadataHeaderSize(), 4)
	for _, seg := range []struct {
		seg  TextSegment
		data []byte
	}{
		{SegTableHeap, w.metadata.Tables},
		{SegStringHeap, w.metadata.Strings},
		{SegUserStringHeap, w.metadata.UserStrings},
		{SegGUIDHeap, w.metadata.GUIDs},
		{SegBlobHeap, w.metadata.Blobs},
	} {
		t.AddMap(seg.seg, align(uint32(len(seg.data)), 4), 4)
	}
	t.AddMap(SegDebugDirectory, w.debugSize(), 4)

	if !w.hasStub() {
		t.AddMap(SegImportDirectory, 0, 0)
		t.AddMap(SegImportHintNameTable, 0, 0)
		t.AddMap(SegStartupStub, 0, 0)
		return t
	}

	dir := align(t.NextRVA(SegDebugDirectory), 4)
	hnt := align(dir+48, 16)
	dirLen := hnt - dir + 27
	stub := 2 + align(dir+dirLen, 4)
	t.AddSpan(SegImportDirectory, Span{dir, dirLen})
	t.AddSpan(SegImportHintNameTable, Span{hnt, 0})
	t.AddSpan(SegStartupStub, Span{stub, stubLength})
	return t
}

func (w *ImageWriter) metadataLength() uint32 {
	return w.text.NextRVA(SegBlobHeap) - w.text.RVA(SegMetadataHeader)
}

// Bytes lays out and serializes the image.
func (w *ImageWriter) Bytes() ([]byte, error) {
	w.text = w.layoutText()

	plan := SectionPlan{Text: w.text.TotalLength()}
	if len(w.opts.Win32Resources) > 0 {
		plan.Rsrc = uint32(len(w.opts.Win32Resources))
	}
	if w.hasStub() {
		plan.Reloc = relocBlockSize
	}
	pe64 := w.opts.Machine.PE64()
	w.sections = LayoutSections(plan, pe64)

	text := w.sections[0]
	var rsrc, reloc *Section
	for _, s := range w.sections[1:] {
		switch s.Name {
		case ".rsrc":
			rsrc = s
		case ".reloc":
			reloc = s
		}
	}

	last := w.sections[len(w.sections)-1]
	out := buffer.NewWriter(int(last.PointerToRawData + last.SizeOfRawData))

	w.writeDOSHeader(out)
	w.writeFileHeader(out, pe64)
	w.writeOptionalHeader(out, pe64, text, rsrc, reloc)
	for _, s := range w.sections {
		writeSectionHeader(out, s)
	}

	if err := w.writeText(out, text); err != nil {
		return nil, err
	}
	if rsrc != nil {
		if err := w.writeRsrc(out, rsrc); err != nil {
			return nil, err
		}
	}
	if reloc != nil {
		if err := w.writeReloc(out, reloc); err != nil {
			return nil, err
		}
	}

	Logger().Debug("image laid out",
		zap.Stringer("machine", w.opts.Machine),
		zap.Uint32("text_size", text.VirtualSize),
		zap.Int("sections", len(w.sections)),
		zap.Int("bytes", out.Len()))
	return out.Bytes(), nil
}

// WriteTo serializes the image and writes it to out. Nothing is written when
// layout fails.
func (w *ImageWriter) WriteTo(out io.Writer) (int64, error) {
	data, err := w.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, bytes.NewReader(data))
	if err != nil {
		return n, errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "flush image")
	}
	return n, nil
}

func moveTo(b *buffer.Buffer, off uint32) error {
	pos := uint32(b.Position())
	if pos > off {
		return errors.New(errors.PhaseWrite, errors.KindOverflow).
			Offset(int64(pos)).
			Detail("layout overlap: cursor past target 0x%x", off).
			Build()
	}
	b.WriteZeros(int(off - pos))
	return nil
}

var dosStubMessage = []byte("This program cannot be run in DOS mode.\r\r\n$")

func (w *ImageWriter) writeDOSHeader(b *buffer.Buffer) {
	start := b.Position()
	b.WriteBytes([]byte{'M', 'Z'})
	b.WriteUint16(0x90) // bytes on last page
	b.WriteUint16(3)    // pages
	b.WriteUint16(0)    // relocations
	b.WriteUint16(4)    // header paragraphs
	b.WriteUint16(0)    // min alloc
	b.WriteUint16(0xFFFF)
	b.WriteUint16(0)    // ss
	b.WriteUint16(0xB8) // sp
	b.WriteZeros(0x3C - (b.Position() - start))
	b.WriteUint32(dosHeaderSize) // e_lfanew
	b.WriteBytes([]byte{0x0E, 0x1F, 0xBA, 0x0E, 0x00, 0xB4, 0x09, 0xCD, 0x21, 0xB8, 0x01, 0x4C, 0xCD, 0x21})
	b.WriteBytes(dosStubMessage)
	b.WriteZeros(dosHeaderSize - (b.Position() - start))
}

func (w *ImageWriter) writeFileHeader(b *buffer.Buffer, pe64 bool) {
	b.WriteUint32(peSignature)
	b.WriteUint16(uint16(w.opts.Machine))
	b.WriteUint16(uint16(len(w.sections)))
	b.WriteUint32(w.opts.Timestamp)
	b.WriteUint32(0) // symbol table
	b.WriteUint32(0) // symbols
	if pe64 {
		b.WriteUint16(optHeaderSize64)
	} else {
		b.WriteUint16(optHeaderSize32)
	}

	c := CharExecutableImage
	if pe64 {
		c |= CharLargeAddressAware
	} else {
		c |= Char32BitMachine
	}
	if w.opts.DLL {
		c |= CharDLL
	}
	if w.opts.LargeAddressAware {
		c |= CharLargeAddressAware
	}
	b.WriteUint16(c)
}

func (w *ImageWriter) writeOptionalHeader(b *buffer.Buffer, pe64 bool, text, rsrc, reloc *Section) {
	if pe64 {
		b.WriteUint16(0x20B)
	} else {
		b.WriteUint16(0x10B)
	}
	b.WriteUint8(w.opts.LinkerMajor)
	b.WriteUint8(w.opts.LinkerMinor)
	b.WriteUint32(text.SizeOfRawData)

	var initialized uint32
	if rsrc != nil {
		initialized += rsrc.SizeOfRawData
	}
	if reloc != nil {
		initialized += reloc.SizeOfRawData
	}
	b.WriteUint32(initialized)
	b.WriteUint32(0) // uninitialized data

	b.WriteUint32(w.text.DataDirectory(SegStartupStub).VirtualAddress)
	b.WriteUint32(TextRVA) // base of code
	if pe64 {
		b.WriteUint64(w.opts.ImageBase)
	} else {
		b.WriteUint32(0) // base of data
		b.WriteUint32(uint32(w.opts.ImageBase))
	}
	b.WriteUint32(SectionAlignment)
	b.WriteUint32(FileAlignment)
	b.WriteUint16(4) // OS major
	b.WriteUint16(0) // OS minor
	b.WriteUint16(0) // image major
	b.WriteUint16(0) // image minor
	b.WriteUint16(w.opts.SubsystemMajor)
	b.WriteUint16(w.opts.SubsystemMinor)
	b.WriteUint32(0) // win32 version
	b.WriteUint32(ImageSize(w.sections))
	b.WriteUint32(text.PointerToRawData) // size of headers
	b.WriteUint32(0)                     // checksum
	b.WriteUint16(w.opts.Subsystem)
	b.WriteUint16(w.opts.DLLCharacteristics)
	if pe64 {
		b.WriteUint64(0x400000) // stack reserve
		b.WriteUint64(0x4000)   // stack commit
		b.WriteUint64(0x100000) // heap reserve
		b.WriteUint64(0x2000)   // heap commit
	} else {
		b.WriteUint32(0x100000)
		b.WriteUint32(0x1000)
		b.WriteUint32(0x100000)
		b.WriteUint32(0x1000)
	}
	b.WriteUint32(0) // loader flags
	b.WriteUint32(NumDirectories)

	var dirs [NumDirectories]DataDirectory
	dirs[DirImport] = w.text.DataDirectory(SegImportDirectory)
	if rsrc != nil {
		dirs[DirResource] = DataDirectory{rsrc.VirtualAddress, rsrc.VirtualSize}
	}
	if reloc != nil {
		dirs[DirBaseReloc] = DataDirectory{reloc.VirtualAddress, reloc.VirtualSize}
	}
	if len(w.debug) > 0 {
		dirs[DirDebug] = DataDirectory{w.text.RVA(SegDebugDirectory), uint32(len(w.debug)) * debugEntrySize}
	}
	dirs[DirIAT] = w.text.DataDirectory(SegImportAddressTable)
	dirs[DirCLIHeader] = w.text.DataDirectory(SegCLIHeader)
	for _, d := range dirs {
		writeDataDirectory(b, d)
	}
}

func writeDataDirectory(b *buffer.Buffer, d DataDirectory) {
	b.WriteUint32(d.VirtualAddress)
	b.WriteUint32(d.Size)
}

func writeSectionHeader(b *buffer.Buffer, s *Section) {
	var name [8]byte
	copy(name[:], s.Name)
	b.WriteBytes(name[:])
	b.WriteUint32(s.VirtualSize)
	b.WriteUint32(s.VirtualAddress)
	b.WriteUint32(s.SizeOfRawData)
	b.WriteUint32(s.PointerToRawData)
	b.WriteUint32(0) // relocations
	b.WriteUint32(0) // line numbers
	b.WriteUint16(0)
	b.WriteUint16(0)
	b.WriteUint32(s.Characteristics)
}

func (w *ImageWriter) writeText(b *buffer.Buffer, text *Section) error {
	t := w.text
	fileOff := func(rva uint32) uint32 { return rva - text.VirtualAddress + text.PointerToRawData }
	seek := func(seg TextSegment) error { return moveTo(b, fileOff(t.RVA(seg))) }

	if err := moveTo(b, text.PointerToRawData); err != nil {
		return err
	}

	if w.hasStub() {
		if err := seek(SegImportAddressTable); err != nil {
			return err
		}
		b.WriteUint32(t.RVA(SegImportHintNameTable))
		b.WriteUint32(0)
	}

	if err := seek(SegCLIHeader); err != nil {
		return err
	}
	b.WriteUint32(cliHeaderSize)
	b.WriteUint16(w.opts.RuntimeMajor)
	b.WriteUint16(w.opts.RuntimeMinor)
	b.WriteUint32(t.RVA(SegMetadataHeader))
	b.WriteUint32(w.metadataLength())
	b.WriteUint32(w.opts.CLIFlags)
	b.WriteUint32(w.opts.EntryPointToken)
	writeDataDirectory(b, t.DataDirectory(SegResources))
	writeDataDirectory(b, t.DataDirectory(SegStrongNameSignature))
	b.WriteZeros(4 * 8) // code manager, vtable fixups, export jumps, native header

	for _, seg := range []struct {
		seg  TextSegment
		data []byte
	}{
		{SegCode, w.code},
		{SegResources, w.resources},
		{SegData, w.data},
	} {
		if err := seek(seg.seg); err != nil {
			return err
		}
		b.WriteBytes(seg.data)
	}

	if err := seek(SegStrongNameSignature); err != nil {
		return err
	}
	b.WriteZeros(int(w.strongName))

	if err := seek(SegMetadataHeader); err != nil {
		return err
	}
	w.writeMetadataHeader(b)
	for _, s := range w.streamList() {
		if err := seek(s.seg); err != nil {
			return err
		}
		b.WriteBytes(s.data)
		b.WriteZeros(int(align(uint32(len(s.data)), 4)) - len(s.data))
	}

	if len(w.debug) > 0 {
		if err := seek(SegDebugDirectory); err != nil {
			return err
		}
		w.writeDebugDirectory(b, fileOff)
	}

	if w.hasStub() {
		if err := w.writeImports(b, seek); err != nil {
			return err
		}
	}
	return moveTo(b, text.PointerToRawData+text.SizeOfRawData)
}

func (w *ImageWriter) writeMetadataHeader(b *buffer.Buffer) {
	t := w.text
	b.WriteUint32(metadataSig)
	b.WriteUint16(1)
	b.WriteUint16(1)
	b.WriteUint32(0)

	version := w.opts.MetadataVersion
	padded := align(uint32(len(version))+1, 4)
	b.WriteUint32(padded)
	b.WriteBytes([]byte(version))
	b.WriteZeros(int(padded) - len(version))

	streams := w.streamList()
	b.WriteUint16(0) // flags
	b.WriteUint16(uint16(len(streams)))
	for _, s := range streams {
		b.WriteUint32(t.RVA(s.seg) - t.RVA(SegMetadataHeader))
		b.WriteUint32(t.Length(s.seg))
		n := align(uint32(len(s.name))+1, 4)
		b.WriteBytes([]byte(s.name))
		b.WriteZeros(int(n) - len(s.name))
	}
}

func (w *ImageWriter) writeDebugDirectory(b *buffer.Buffer, fileOff func(uint32) uint32) {
	start := w.text.RVA(SegDebugDirectory)
	dataRVA := start + uint32(len(w.debug))*debugEntrySize
	rvas := make([]uint32, len(w.debug))
	for i, e := range w.debug {
		dataRVA = align(dataRVA, 4)
		rvas[i] = dataRVA
		dataRVA += uint32(len(e.Data))
	}

	for i, e := range w.debug {
		b.WriteUint32(e.Characteristics)
		b.WriteUint32(e.TimeDateStamp)
		b.WriteUint16(e.MajorVersion)
		b.WriteUint16(e.MinorVersion)
		b.WriteUint32(e.Type)
		b.WriteUint32(uint32(len(e.Data)))
		if len(e.Data) == 0 {
			b.WriteUint32(0)
			b.WriteUint32(0)
			continue
		}
		b.WriteUint32(rvas[i])
		b.WriteUint32(fileOff(rvas[i]))
	}
	for i, e := range w.debug {
		_ = moveTo(b, fileOff(rvas[i]))
		b.WriteBytes(e.Data)
	}
}

func (w *ImageWriter) writeImports(b *buffer.Buffer, seek func(TextSegment) error) error {
	t := w.text
	if err := seek(SegImportDirectory); err != nil {
		return err
	}
	b.WriteUint32(t.RVA(SegImportDirectory) + 40) // import lookup table
	b.WriteUint32(0)                              // timestamp
	b.WriteUint32(0)                              // forwarder chain
	b.WriteUint32(t.RVA(SegImportHintNameTable) + 14)
	b.WriteUint32(t.RVA(SegImportAddressTable))
	b.WriteZeros(20)
	b.WriteUint32(t.RVA(SegImportHintNameTable)) // lookup table
	b.WriteUint32(0)

	if err := seek(SegImportHintNameTable); err != nil {
		return err
	}
	b.WriteUint16(0) // hint
	if w.opts.DLL {
		b.WriteBytes([]byte("_CorDllMain\x00"))
	} else {
		b.WriteBytes([]byte("_CorExeMain\x00"))
	}
	b.WriteBytes([]byte("mscoree.dll"))
	b.WriteUint16(0)

	if err := seek(SegStartupStub); err != nil {
		return err
	}
	b.WriteUint16(0x25FF) // jmp [imm32]
	b.WriteUint32(uint32(w.opts.ImageBase) + t.RVA(SegImportAddressTable))
	return nil
}

func (w *ImageWriter) writeRsrc(b *buffer.Buffer, rsrc *Section) error {
	if err := moveTo(b, rsrc.PointerToRawData); err != nil {
		return err
	}
	data := append([]byte(nil), w.opts.Win32Resources...)
	if err := PatchResources(data, w.opts.Win32ResourcesRVA, rsrc.VirtualAddress); err != nil {
		return err
	}
	b.WriteBytes(data)
	return moveTo(b, rsrc.PointerToRawData+rsrc.SizeOfRawData)
}

func (w *ImageWriter) writeReloc(b *buffer.Buffer, reloc *Section) error {
	if err := moveTo(b, reloc.PointerToRawData); err != nil {
		return err
	}
	target := w.text.RVA(SegStartupStub) + 2
	page := target &^ 0xFFF
	b.WriteUint32(page)
	b.WriteUint32(relocBlockSize)
	b.WriteUint16(uint16(0x3000 | (target - page)))
	b.WriteUint16(0)
	return moveTo(b, reloc.PointerToRawData+reloc.SizeOfRawData)
}
