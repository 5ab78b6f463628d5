package pe

// SectionPlan lists the sizes the writer needs laid out. Zero sizes omit the
// optional sections.
type SectionPlan struct {
	Text  uint32
	Rsrc  uint32
	Reloc uint32
}

// LayoutSections places .text at TextRVA and each further section at the
// section-aligned end of the previous one. File pointers follow the
// file-aligned headers and each other.
func LayoutSections(plan SectionPlan, pe64 bool) []*Section {
	var sections []*Section
	add := func(name string, size, characteristics uint32) {
		s := &Section{
			Name:            name,
			VirtualSize:     size,
			SizeOfRawData:   align(size, FileAlignment),
			Characteristics: characteristics,
		}
		if n := len(sections); n > 0 {
			prev := sections[n-1]
			s.VirtualAddress = prev.VirtualAddress + align(prev.VirtualSize, SectionAlignment)
		} else {
			s.VirtualAddress = TextRVA
		}
		sections = append(sections, s)
	}

	add(".text", plan.Text, SectionText)
	if plan.Rsrc > 0 {
		add(".rsrc", plan.Rsrc, SectionRsrc)
	}
	if plan.Reloc > 0 {
		add(".reloc", plan.Reloc, SectionReloc)
	}

	sections[0].PointerToRawData = HeaderSize(len(sections), pe64)
	for i := 1; i < len(sections); i++ {
		prev := sections[i-1]
		sections[i].PointerToRawData = prev.PointerToRawData + prev.SizeOfRawData
	}
	return sections
}

// HeaderSize returns the file-aligned size of the DOS, PE and section headers.
func HeaderSize(sections int, pe64 bool) uint32 {
	opt := uint32(optHeaderSize32)
	if pe64 {
		opt = optHeaderSize64
	}
	return align(dosHeaderSize+4+fileHeaderSize+opt+uint32(sections)*sectionHdrSize, FileAlignment)
}

// ImageSize returns SizeOfImage for a laid out section list.
func ImageSize(sections []*Section) uint32 {
	last := sections[len(sections)-1]
	return last.VirtualAddress + align(last.VirtualSize, SectionAlignment)
}
