package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/cli-metadata/errors"
)

// TestCodedIndexRoundTrip encodes and decodes every table of every kind
func TestCodedIndexRoundTrip(t *testing.T) {
	for c := range CodedIndexCount {
		for _, tbl := range c.Tables() {
			if !tbl.Valid() {
				continue
			}
			for _, rid := range []uint32{1, 7, 0x3FFF, 0x7FFFF} {
				tok := NewToken(tbl, rid)
				v, err := c.Encode(tok)
				require.NoError(t, err, "%s encode %s", c, tok)

				got, err := c.Decode(v)
				require.NoError(t, err, "%s decode 0x%x", c, v)
				require.Equal(t, tok, got, "%s round trip", c)
			}
		}
	}
}

// TestCodedIndexTagLayout checks tag assignments against ECMA-335 II.24.2.6
func TestCodedIndexTagLayout(t *testing.T) {
	tests := []struct {
		coded CodedIndex
		token Token
		want  uint32
	}{
		{TypeDefOrRef, NewToken(TableTypeRef, 3), 3<<2 | 1},
		{TypeDefOrRef, NewToken(TableTypeSpec, 1), 1<<2 | 2},
		{HasCustomAttribute, NewToken(TableAssembly, 1), 1<<5 | 14},
		{HasCustomAttribute, NewToken(TableMethodSpec, 2), 2<<5 | 21},
		{CustomAttributeType, NewToken(TableMethod, 4), 4<<3 | 2},
		{CustomAttributeType, NewToken(TableMemberRef, 4), 4<<3 | 3},
		{ResolutionScope, NewToken(TableAssemblyRef, 1), 1<<2 | 2},
		{MemberRefParent, NewToken(TableTypeSpec, 9), 9<<3 | 4},
		{TypeOrMethodDef, NewToken(TableMethod, 5), 5<<1 | 1},
	}

	for _, tt := range tests {
		got, err := tt.coded.Encode(tt.token)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, "%s %s", tt.coded, tt.token)
	}
}

// TestCodedIndexErrors verifies unused tags and foreign tables are rejected
func TestCodedIndexErrors(t *testing.T) {
	for _, tag := range []uint32{0, 1, 4, 5, 7} {
		_, err := CustomAttributeType.Decode(1<<3 | tag)
		require.ErrorIs(t, err, errors.ErrMalformed, "tag %d", tag)
	}

	_, err := TypeDefOrRef.Encode(NewToken(TableMethod, 1))
	require.Error(t, err)

	v, err := Implementation.Encode(NewToken(TableFile, 0))
	require.NoError(t, err)
	require.Zero(t, v)
}

// TestCodedIndexSize checks the 2/4 byte width boundary
func TestCodedIndexSize(t *testing.T) {
	var rows [TableCount]uint32

	rows[TableTypeSpec] = 1<<14 - 1
	require.Equal(t, 2, TypeDefOrRef.Size(&rows))
	rows[TableTypeSpec] = 1 << 14
	require.Equal(t, 4, TypeDefOrRef.Size(&rows))

	rows = [TableCount]uint32{}
	rows[TableGenericParamConstraint] = 1<<11 - 1
	require.Equal(t, 2, HasCustomAttribute.Size(&rows))
	rows[TableGenericParamConstraint] = 1 << 11
	require.Equal(t, 4, HasCustomAttribute.Size(&rows))

	rows = [TableCount]uint32{}
	rows[TableMethod] = 0xFFFF
	layout := NewLayout(rows, 0)
	require.Equal(t, 2, layout.ColumnSize(TableTypeDef, 5))
	rows[TableMethod] = 0x10000
	layout = NewLayout(rows, HeapStringsWide)
	require.Equal(t, 4, layout.ColumnSize(TableTypeDef, 5))
	require.Equal(t, 4, layout.ColumnSize(TableTypeDef, 1))
	require.Equal(t, 2, layout.ColumnSize(TableField, 2))
}

// TestListRanges derives contiguous member ranges from list-start columns
func TestListRanges(t *testing.T) {
	tests := []struct {
		name   string
		starts []uint32
		rows   uint32
		want   []Range
	}{
		{"single owner", []uint32{1}, 4, []Range{{1, 4}}},
		{"empty tail", []uint32{1, 3, 5}, 4, []Range{{1, 2}, {3, 2}, {5, 0}}},
		{"empty middle", []uint32{1, 2, 2, 3}, 3, []Range{{1, 1}, {2, 0}, {2, 1}, {3, 1}}},
		{"empty table", []uint32{1, 1}, 0, []Range{{1, 0}, {1, 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ListRanges(TableField, tt.starts, tt.rows)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			var total uint32
			for i, r := range got {
				total += r.Length
				if i > 0 {
					require.Equal(t, got[i-1].End(), r.Start, "ranges must abut")
				}
			}
			require.Equal(t, tt.rows, total)
		})
	}
}

// TestListRangesMalformed rejects decreasing or out of range starts
func TestListRangesMalformed(t *testing.T) {
	_, err := ListRanges(TableMethod, []uint32{3, 2}, 5)
	require.ErrorIs(t, err, errors.ErrMalformed)

	_, err = ListRanges(TableMethod, []uint32{1, 9}, 5)
	require.Error(t, err)

	_, err = ListRanges(TableMethod, []uint32{0}, 5)
	require.Error(t, err)
}

// TestGroupRanges groups owner columns, keeping scattered runs apart
func TestGroupRanges(t *testing.T) {
	a := NewToken(TableTypeDef, 1)
	b := NewToken(TableMethod, 2)

	got := GroupRanges([]Token{a, a, b, b, b, a})
	require.Equal(t, []Range{{1, 2}, {6, 1}}, got[a])
	require.Equal(t, []Range{{3, 3}}, got[b])
	require.Equal(t, []uint32{1, 2, 6}, Rows(got[a]))
}

func buildSampleTables(t *testing.T, heaps HeapSizes) []byte {
	t.Helper()
	b := NewTableBuffer()

	add := func(r RowEncoder) uint32 {
		rid, err := b.Add(r)
		require.NoError(t, err)
		return rid
	}

	add(ModuleRow{Name: 10, Mvid: 1})
	add(TypeRefRow{ResolutionScope: NewToken(TableAssemblyRef, 1), Name: 20, Namespace: 30})
	add(TypeDefRow{Flags: 0x100001, Name: 40, Extends: NewToken(TableTypeRef, 1), FieldList: 1, MethodList: 1})
	add(FieldRow{Flags: 0x11, Name: 50, Signature: 1})
	add(MethodRow{RVA: 0x2050, Flags: 0x86, Name: 60, Signature: 5, ParamList: 1})
	add(ParamRow{Sequence: 1, Name: 70})
	add(CustomAttributeRow{Parent: NewToken(TableTypeDef, 1), Type: NewToken(TableMemberRef, 1), Value: 9})
	add(CustomAttributeRow{Parent: NewToken(TableMethod, 1), Type: NewToken(TableMemberRef, 1), Value: 9})
	add(MemberRefRow{Class: NewToken(TableTypeRef, 1), Name: 80, Signature: 12})
	add(ConstantRow{Type: 0x08, Parent: NewToken(TableField, 1), Value: 15})
	add(AssemblyRefRow{MajorVersion: 4, Flags: 0, PublicKeyOrToken: 18, Name: 90})
	add(GenericParamRow{Number: 0, Owner: NewToken(TableTypeDef, 1), Name: 95})
	b.SortAll()

	data, err := b.Bytes(heaps)
	require.NoError(t, err)
	return data
}

// TestTableBufferRoundTrip serializes a table stream and reads it back
func TestTableBufferRoundTrip(t *testing.T) {
	for _, heaps := range []HeapSizes{0, HeapStringsWide | HeapGUIDWide | HeapBlobWide} {
		data := buildSampleTables(t, heaps)
		require.Zero(t, len(data)%4)

		tables, err := ReadTables(data, false)
		require.NoError(t, err)
		require.Equal(t, uint8(2), tables.MajorVersion)
		require.Equal(t, SortedTables, tables.Sorted)
		require.Equal(t, uint64(0x16003301FA00), tables.Sorted)
		require.Equal(t, heaps, tables.Layout.HeapSizes)
		require.Equal(t, uint32(2), tables.RowCount(TableCustomAttribute))
		require.False(t, tables.HasPointerTables())

		td, err := tables.TypeDef(1)
		require.NoError(t, err)
		require.Equal(t, TypeDefRow{Flags: 0x100001, Name: 40, Extends: NewToken(TableTypeRef, 1), FieldList: 1, MethodList: 1}, td)

		m, err := tables.Method(1)
		require.NoError(t, err)
		require.Equal(t, uint32(0x2050), m.RVA)
		require.Equal(t, StringIndex(60), m.Name)

		// The method parent sorts before the typedef parent (coded 0x20 < 0x23).
		ca, err := tables.CustomAttribute(1)
		require.NoError(t, err)
		require.Equal(t, NewToken(TableMethod, 1), ca.Parent)

		c, err := tables.Constant(1)
		require.NoError(t, err)
		require.Equal(t, ConstantRow{Type: 0x08, Parent: NewToken(TableField, 1), Value: 15}, c)

		ar, err := tables.AssemblyRef(1)
		require.NoError(t, err)
		require.Equal(t, uint16(4), ar.MajorVersion)
		require.Equal(t, StringIndex(90), ar.Name)

		_, err = tables.TypeDef(2)
		require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTables, Kind: errors.KindOutOfBounds})

		require.Equal(t, []Table{
			TableModule, TableTypeRef, TableTypeDef, TableField, TableMethod, TableParam,
			TableMemberRef, TableConstant, TableCustomAttribute, TableAssemblyRef, TableGenericParam,
		}, tables.Present())
	}
}

// TestReadTablesTruncated verifies short streams fail with a truncation error
func TestReadTablesTruncated(t *testing.T) {
	data := buildSampleTables(t, 0)

	for _, n := range []int{0, 5, 23, 30, len(data) - 8} {
		_, err := ReadTables(data[:n], false)
		require.ErrorIs(t, err, errors.ErrTruncated, "length %d", n)
	}
}

// TestReadTablesUndefinedTable rejects valid bits past the last table
func TestReadTablesUndefinedTable(t *testing.T) {
	data := buildSampleTables(t, 0)
	bad := append([]byte(nil), data...)
	bad[8+5] |= 0x80 // bit 0x2F

	_, err := ReadTables(bad, false)
	require.ErrorIs(t, err, errors.ErrMalformed)
}
