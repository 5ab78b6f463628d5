package metadata

import (
	"github.com/wippyai/cli-metadata/errors"
)

// Range is a contiguous run of 1-based row ids [Start, Start+Length).
type Range struct {
	Start  uint32
	Length uint32
}

// End returns the first row id past the range.
func (r Range) End() uint32 {
	return r.Start + r.Length
}

// Contains reports whether rid lies in the range.
func (r Range) Contains(rid uint32) bool {
	return rid >= r.Start && rid < r.End()
}

// ListRanges derives member ranges from list-start columns. starts[i] is the
// list column of owner row i+1; each owner runs up to the next owner's start,
// and the last runs to the end of a child table of childRows rows. A start of
// childRows+1 denotes an empty list.
func ListRanges(child Table, starts []uint32, childRows uint32) ([]Range, error) {
	out := make([]Range, len(starts))
	for i, start := range starts {
		if start == 0 || start > childRows+1 {
			return nil, errors.New(errors.PhaseTables, errors.KindOutOfBounds).
				Table(child.String()).
				Detail("owner %d list start %d outside 1..%d", i+1, start, childRows+1).
				Build()
		}
		end := childRows + 1
		if i+1 < len(starts) {
			end = starts[i+1]
			if end < start {
				return nil, errors.New(errors.PhaseTables, errors.KindMalformed).
					Table(child.String()).
					Detail("owner %d list start %d precedes owner %d start %d", i+2, end, i+1, start).
					Build()
			}
			if end > childRows+1 {
				end = childRows + 1
			}
		}
		out[i] = Range{Start: start, Length: end - start}
	}
	return out, nil
}

// GroupRanges groups the rows of a table that carries an owner column.
// owners[i] is the owner of row i+1. Rows of one owner normally form a single
// run; an owner whose rows are scattered gets one range per run.
func GroupRanges(owners []Token) map[Token][]Range {
	out := make(map[Token][]Range)
	for i, owner := range owners {
		rid := uint32(i + 1)
		rs := out[owner]
		if n := len(rs); n > 0 && rs[n-1].End() == rid {
			rs[n-1].Length++
			continue
		}
		out[owner] = append(rs, Range{Start: rid, Length: 1})
	}
	return out
}

// Rows expands ranges into row ids.
func Rows(ranges []Range) []uint32 {
	var n uint32
	for _, r := range ranges {
		n += r.Length
	}
	out := make([]uint32, 0, n)
	for _, r := range ranges {
		for rid := r.Start; rid < r.End(); rid++ {
			out = append(out, rid)
		}
	}
	return out
}
