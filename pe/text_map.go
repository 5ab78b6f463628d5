package pe

// TextSegment identifies a region of the .text section, in layout order.
type TextSegment int

const (
	SegImportAddressTable TextSegment = iota
	SegCLIHeader
	SegCode
	SegResources
	SegData
	SegStrongNameSignature
	SegMetadataHeader
	SegTableHeap
	SegStringHeap
	SegUserStringHeap
	SegGUIDHeap
	SegBlobHeap
	SegDebugDirectory
	SegImportDirectory
	SegImportHintNameTable
	SegStartupStub

	segCount
)

var segmentNames = [segCount]string{
	"ImportAddressTable", "CLIHeader", "Code", "Resources", "Data",
	"StrongNameSignature", "MetadataHeader", "TableHeap", "StringHeap",
	"UserStringHeap", "GUIDHeap", "BlobHeap", "DebugDirectory",
	"ImportDirectory", "ImportHintNameTable", "StartupStub",
}

func (s TextSegment) String() string {
	if s >= 0 && s < segCount {
		return segmentNames[s]
	}
	return "unknown"
}

// Span is an (RVA, length) run inside .text.
type Span struct {
	Start  uint32
	Length uint32
}

// End returns the first RVA past the span.
func (s Span) End() uint32 {
	return s.Start + s.Length
}

// TextMap accumulates segment placements. Each segment starts at the aligned
// end of the previous one.
type TextMap struct {
	base uint32
	m    [segCount]Span
}

// NewTextMap creates an empty map whose first segment starts at base.
func NewTextMap(base uint32) *TextMap {
	return &TextMap{base: base}
}

// AddMap places seg after the previous segment, aligned to alignment.
func (t *TextMap) AddMap(seg TextSegment, length, alignment uint32) {
	start := t.base
	if seg > 0 {
		start = t.m[seg-1].End()
	}
	if alignment > 1 {
		start = align(start, alignment)
	}
	t.m[seg] = Span{Start: start, Length: length}
}

// AddSpan places seg at an explicit span.
func (t *TextMap) AddSpan(seg TextSegment, s Span) {
	t.m[seg] = s
}

// NextStart returns where seg would start if added with alignment.
func (t *TextMap) NextStart(seg TextSegment, alignment uint32) uint32 {
	start := t.base
	if seg > 0 {
		start = t.m[seg-1].End()
	}
	if alignment > 1 {
		start = align(start, alignment)
	}
	return start
}

// RVA returns the start of seg.
func (t *TextMap) RVA(seg TextSegment) uint32 {
	return t.m[seg].Start
}

// Length returns the length of seg.
func (t *TextMap) Length(seg TextSegment) uint32 {
	return t.m[seg].Length
}

// NextRVA returns the first RVA past seg.
func (t *TextMap) NextRVA(seg TextSegment) uint32 {
	return t.m[seg].End()
}

// Span returns the placement of seg.
func (t *TextMap) Span(seg TextSegment) Span {
	return t.m[seg]
}

// DataDirectory returns seg as a data directory; empty segments are zero.
func (t *TextMap) DataDirectory(seg TextSegment) DataDirectory {
	s := t.m[seg]
	if s.Length == 0 {
		return DataDirectory{}
	}
	return DataDirectory{VirtualAddress: s.Start, Size: s.Length}
}

// TotalLength returns the distance from base to the end of the last segment.
func (t *TextMap) TotalLength() uint32 {
	end := t.base
	for _, s := range t.m {
		if s.End() > end {
			end = s.End()
		}
	}
	return end - t.base
}
