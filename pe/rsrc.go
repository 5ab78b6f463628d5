package pe

import (
	"encoding/binary"

	"github.com/wippyai/cli-metadata/errors"
)

const (
	rsrcDirHeaderSize = 16
	rsrcEntrySize     = 8
	rsrcSubdirFlag    = 0x80000000
	rsrcMaxDepth      = 32
)

// PatchResources rebases every data entry RVA in a copied resource section
// from oldRVA to newRVA. The directory tree is walked from offset 0; an entry
// whose offset has the high bit set points at a subdirectory, any other entry
// at a data entry whose first field is an RVA. The slice is modified in place.
func PatchResources(rsrc []byte, oldRVA, newRVA uint32) error {
	if len(rsrc) == 0 || oldRVA == newRVA {
		return nil
	}
	p := &rsrcPatcher{
		data:    rsrc,
		delta:   newRVA - oldRVA,
		seen:    make(map[uint32]bool),
		patched: make(map[uint32]bool),
	}
	return p.directory(0, 0)
}

type rsrcPatcher struct {
	data  []byte
	delta uint32
	seen  map[uint32]bool
	// patched holds data entries already rebased; entries may be shared.
	patched map[uint32]bool
}

func (p *rsrcPatcher) directory(off uint32, depth int) error {
	if depth > rsrcMaxDepth {
		return errors.Malformed(errors.PhaseWrite, "resource directory nested deeper than %d", rsrcMaxDepth)
	}
	if p.seen[off] {
		return errors.Malformed(errors.PhaseWrite, "resource directory at 0x%x referenced twice", off)
	}
	p.seen[off] = true

	if uint64(off)+rsrcDirHeaderSize > uint64(len(p.data)) {
		return p.truncated(off, rsrcDirHeaderSize)
	}
	named := binary.LittleEndian.Uint16(p.data[off+12:])
	ids := binary.LittleEndian.Uint16(p.data[off+14:])
	entries := uint32(named) + uint32(ids)

	base := off + rsrcDirHeaderSize
	if uint64(base)+uint64(entries)*rsrcEntrySize > uint64(len(p.data)) {
		return p.truncated(base, int(entries)*rsrcEntrySize)
	}
	for i := range entries {
		target := binary.LittleEndian.Uint32(p.data[base+i*rsrcEntrySize+4:])
		if target&rsrcSubdirFlag != 0 {
			if err := p.directory(target&^rsrcSubdirFlag, depth+1); err != nil {
				return err
			}
			continue
		}
		if err := p.dataEntry(target); err != nil {
			return err
		}
	}
	return nil
}

func (p *rsrcPatcher) dataEntry(off uint32) error {
	if p.patched[off] {
		return nil
	}
	if uint64(off)+16 > uint64(len(p.data)) {
		return p.truncated(off, 16)
	}
	p.patched[off] = true
	rva := binary.LittleEndian.Uint32(p.data[off:])
	binary.LittleEndian.PutUint32(p.data[off:], rva+p.delta)
	return nil
}

func (p *rsrcPatcher) truncated(off uint32, want int) error {
	return errors.Truncated(errors.PhaseWrite, int64(off), want, max(len(p.data)-int(off), 0))
}
