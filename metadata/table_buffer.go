package metadata

import (
	"cmp"
	"slices"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
)

// sortKeys lists the key columns of each sorted table, primary key first.
var sortKeys = map[Table][]int{
	TableClassLayout:            {2},
	TableConstant:               {2},
	TableCustomAttribute:        {0},
	TableDeclSecurity:           {1},
	TableFieldLayout:            {1},
	TableFieldMarshal:           {0},
	TableFieldRVA:               {1},
	TableGenericParam:           {2, 0},
	TableGenericParamConstraint: {0},
	TableImplMap:                {1},
	TableInterfaceImpl:          {0, 1},
	TableMethodImpl:             {0},
	TableMethodSemantics:        {2},
	TableNestedClass:            {0},
}

// TableBuffer accumulates encoded rows for every table and serializes the
// #~ stream.
type TableBuffer struct {
	rows [TableCount][]Row
}

// NewTableBuffer creates an empty table buffer.
func NewTableBuffer() *TableBuffer {
	return &TableBuffer{}
}

// Add appends a row and returns its row id.
func (b *TableBuffer) Add(r RowEncoder) (uint32, error) {
	e := &rowEncoder{}
	r.encode(e)
	if e.err != nil {
		return 0, e.err
	}
	t := r.Table()
	if len(b.rows[t]) >= maxHeapOffset {
		return 0, errors.New(errors.PhaseWrite, errors.KindOverflow).
			Table(t.String()).
			Detail("row count exceeds token range").
			Build()
	}
	b.rows[t] = append(b.rows[t], e.row)
	return uint32(len(b.rows[t])), nil
}

// Set replaces row rid.
func (b *TableBuffer) Set(rid uint32, r RowEncoder) error {
	t := r.Table()
	if rid == 0 || int(rid) > len(b.rows[t]) {
		return errors.RowOutOfRange(t.String(), rid, uint32(len(b.rows[t])))
	}
	e := &rowEncoder{}
	r.encode(e)
	if e.err != nil {
		return e.err
	}
	b.rows[t][rid-1] = e.row
	return nil
}

// Get returns the encoded columns of row rid.
func (b *TableBuffer) Get(t Table, rid uint32) Row {
	return b.rows[t][rid-1]
}

// RowCount returns the number of rows in t.
func (b *TableBuffer) RowCount(t Table) uint32 {
	return uint32(len(b.rows[t]))
}

// RowCounts returns the row count of every table.
func (b *TableBuffer) RowCounts() [TableCount]uint32 {
	var out [TableCount]uint32
	for t := range b.rows {
		out[t] = uint32(len(b.rows[t]))
	}
	return out
}

// Sort orders t by its key columns, keeping insertion order among equal keys.
// Tables whose rows are referenced by row id must be sorted before those row
// ids are handed out.
func (b *TableBuffer) Sort(t Table) {
	keys, ok := sortKeys[t]
	if !ok {
		return
	}
	slices.SortStableFunc(b.rows[t], func(x, y Row) int {
		for _, k := range keys {
			if c := cmp.Compare(x[k], y[k]); c != 0 {
				return c
			}
		}
		return 0
	})
}

// SortAll sorts every table in SortedTables.
func (b *TableBuffer) SortAll() {
	for t := range sortKeys {
		b.Sort(t)
	}
}

// HeapSizesFor returns the heap-size flags for heaps of the given byte sizes.
func HeapSizesFor(strings, guids, blobs int) HeapSizes {
	var h HeapSizes
	if strings > 0xFFFF {
		h |= HeapStringsWide
	}
	if guids > 0xFFFF {
		h |= HeapGUIDWide
	}
	if blobs > 0xFFFF {
		h |= HeapBlobWide
	}
	return h
}

// Bytes serializes the #~ stream, padded to four bytes.
func (b *TableBuffer) Bytes(heaps HeapSizes) ([]byte, error) {
	layout := NewLayout(b.RowCounts(), heaps)

	var valid uint64
	for t := range Table(TableCount) {
		if len(b.rows[t]) > 0 {
			valid |= 1 << t
		}
	}

	w := buffer.NewWriter(4096)
	w.WriteUint32(0)
	w.WriteUint8(2)
	w.WriteUint8(0)
	w.WriteUint8(uint8(heaps))
	w.WriteUint8(1)
	w.WriteUint64(valid)
	w.WriteUint64(SortedTables)
	for t := range Table(TableCount) {
		if n := len(b.rows[t]); n > 0 {
			w.WriteUint32(uint32(n))
		}
	}

	for t := range Table(TableCount) {
		for i, row := range b.rows[t] {
			for col, v := range row {
				switch layout.colSize[t][col] {
				case 1:
					w.WriteUint8(uint8(v))
				case 2:
					if v > 0xFFFF {
						return nil, errors.New(errors.PhaseWrite, errors.KindOverflow).
							Table(t.String()).
							Token(uint32(NewToken(t, uint32(i+1)))).
							Detail("column %s value 0x%x exceeds two bytes", Schema[t][col].Name, v).
							Build()
					}
					w.WriteUint16(uint16(v))
				default:
					w.WriteUint32(v)
				}
			}
		}
	}
	w.Align(4)
	return w.Bytes(), nil
}
