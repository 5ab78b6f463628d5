package cil

import (
	"slices"
	"sort"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/metadata"
)

// rowCache holds the node materialized for each row of one table, indexed by
// rid-1. Nodes created in memory are appended past the last read row.
type rowCache[T any] struct {
	items []T
}

func newRowCache[T any](rows uint32) rowCache[T] {
	return rowCache[T]{items: make([]T, rows)}
}

func (c *rowCache[T]) get(rid uint32) T {
	var zero T
	if rid == 0 || int(rid) > len(c.items) {
		return zero
	}
	return c.items[rid-1]
}

func (c *rowCache[T]) set(rid uint32, v T) {
	var zero T
	for int(rid) > len(c.items) {
		c.items = append(c.items, zero)
	}
	c.items[rid-1] = v
}

func (c *rowCache[T]) add(v T) uint32 {
	c.items = append(c.items, v)
	return uint32(len(c.items))
}

func (c *rowCache[T]) len() uint32 { return uint32(len(c.items)) }

// ownerIndex groups the rows of a scattered table by owner token. An owner's
// entry is dropped once its rows have been materialized.
type ownerIndex struct {
	ranges map[metadata.Token][]metadata.Range
}

func (x *ownerIndex) peek(owner metadata.Token) []uint32 {
	return metadata.Rows(x.ranges[owner])
}

func (x *ownerIndex) take(owner metadata.Token) {
	delete(x.ranges, owner)
}

// listIndex maps owner rows to their slice of a list-owned child table
// (fields, methods, params, events, properties).
type listIndex struct {
	child  metadata.Table
	ptr    metadata.Table
	ranges []metadata.Range
	owners []uint32
	range_ map[uint32]metadata.Range

	// position maps a child rid to its list position when the pointer table
	// is populated.
	position map[uint32]uint32
}

func (x *listIndex) rangeOf(owner uint32) metadata.Range {
	return x.range_[owner]
}

// ownerOf returns the owner row of child rid, or 0.
func (x *listIndex) ownerOf(rid uint32) uint32 {
	pos := rid
	if x.position != nil {
		var ok bool
		if pos, ok = x.position[rid]; !ok {
			return 0
		}
	}
	i := sort.Search(len(x.ranges), func(i int) bool { return x.ranges[i].Start > pos }) - 1
	if i >= 0 && x.ranges[i].Contains(pos) {
		return x.owners[i]
	}
	return 0
}

// rids resolves a range of list positions to child row ids.
func (x *listIndex) rids(t *metadata.Tables, r metadata.Range) ([]uint32, error) {
	out := make([]uint32, 0, r.Length)
	for pos := r.Start; pos < r.End(); pos++ {
		rid, err := t.Indirect(x.ptr, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, rid)
	}
	return out, nil
}

// MetadataSystem caches the nodes read from a module's tables and the
// derived indices used to find a row's owner or an owner's rows.
type MetadataSystem struct {
	tables *metadata.Tables

	types         rowCache[*TypeDefinition]
	typeRefs      rowCache[*TypeReference]
	fields        rowCache[*FieldDefinition]
	methods       rowCache[*MethodDefinition]
	memberRefs    rowCache[any]
	methodSpecs   rowCache[*GenericInstanceMethod]
	moduleRefs    rowCache[*ModuleReference]
	assemblyRefs  rowCache[*AssemblyNameReference]
	properties    rowCache[*PropertyDefinition]
	events        rowCache[*EventDefinition]
	genericParams rowCache[*GenericParameter]

	owners    map[metadata.Table]*ownerIndex
	enclosing map[uint32]uint32
	lists     map[metadata.Table]*listIndex
	fieldRVAs []uint32

	// refIndex interns type references by scope and name.
	refIndex map[string]*TypeReference

	primitives map[ElementType]Type

	// specsDecoding holds the TypeSpec rows whose blobs are being decoded.
	specsDecoding map[uint32]bool
}

func newMetadataSystem(t *metadata.Tables) *MetadataSystem {
	ms := &MetadataSystem{
		tables: t,
		owners:        make(map[metadata.Table]*ownerIndex),
		lists:         make(map[metadata.Table]*listIndex),
		specsDecoding: make(map[uint32]bool),
	}
	if t == nil {
		return ms
	}
	ms.types = newRowCache[*TypeDefinition](t.RowCount(metadata.TableTypeDef))
	ms.typeRefs = newRowCache[*TypeReference](t.RowCount(metadata.TableTypeRef))
	ms.fields = newRowCache[*FieldDefinition](t.RowCount(metadata.TableField))
	ms.methods = newRowCache[*MethodDefinition](t.RowCount(metadata.TableMethod))
	ms.memberRefs = newRowCache[any](t.RowCount(metadata.TableMemberRef))
	ms.methodSpecs = newRowCache[*GenericInstanceMethod](t.RowCount(metadata.TableMethodSpec))
	ms.moduleRefs = newRowCache[*ModuleReference](t.RowCount(metadata.TableModuleRef))
	ms.assemblyRefs = newRowCache[*AssemblyNameReference](t.RowCount(metadata.TableAssemblyRef))
	ms.properties = newRowCache[*PropertyDefinition](t.RowCount(metadata.TableProperty))
	ms.events = newRowCache[*EventDefinition](t.RowCount(metadata.TableEvent))
	ms.genericParams = newRowCache[*GenericParameter](t.RowCount(metadata.TableGenericParam))
	return ms
}

// owned returns the owner index of a scattered table, building it with one
// scan on first use.
func (ms *MetadataSystem) owned(tbl metadata.Table) (*ownerIndex, error) {
	if x, ok := ms.owners[tbl]; ok {
		return x, nil
	}
	n := ms.tables.RowCount(tbl)
	keys := make([]metadata.Token, n)
	for rid := uint32(1); rid <= n; rid++ {
		k, err := ownerKey(ms.tables, tbl, rid)
		if err != nil {
			return nil, err
		}
		keys[rid-1] = k
	}
	x := &ownerIndex{ranges: metadata.GroupRanges(keys)}
	ms.owners[tbl] = x
	return x, nil
}

func ownerKey(t *metadata.Tables, tbl metadata.Table, rid uint32) (metadata.Token, error) {
	tok := metadata.NewToken
	switch tbl {
	case metadata.TableNestedClass:
		r, err := t.NestedClass(rid)
		return tok(metadata.TableTypeDef, r.EnclosingClass), err
	case metadata.TableInterfaceImpl:
		r, err := t.InterfaceImpl(rid)
		return tok(metadata.TableTypeDef, r.Class), err
	case metadata.TableCustomAttribute:
		r, err := t.CustomAttribute(rid)
		return r.Parent, err
	case metadata.TableDeclSecurity:
		r, err := t.DeclSecurity(rid)
		return r.Parent, err
	case metadata.TableGenericParam:
		r, err := t.GenericParam(rid)
		return r.Owner, err
	case metadata.TableGenericParamConstraint:
		r, err := t.GenericParamConstraint(rid)
		return tok(metadata.TableGenericParam, r.Owner), err
	case metadata.TableMethodSemantics:
		r, err := t.MethodSemantics(rid)
		return r.Association, err
	case metadata.TableMethodImpl:
		r, err := t.MethodImpl(rid)
		return r.Body, err
	case metadata.TableFieldRVA:
		r, err := t.FieldRVA(rid)
		return tok(metadata.TableField, r.Field), err
	case metadata.TableFieldLayout:
		r, err := t.FieldLayout(rid)
		return tok(metadata.TableField, r.Field), err
	case metadata.TableFieldMarshal:
		r, err := t.FieldMarshal(rid)
		return r.Parent, err
	case metadata.TableClassLayout:
		r, err := t.ClassLayout(rid)
		return tok(metadata.TableTypeDef, r.Parent), err
	case metadata.TableConstant:
		r, err := t.Constant(rid)
		return r.Parent, err
	case metadata.TableImplMap:
		r, err := t.ImplMap(rid)
		return r.MemberForwarded, err
	}
	return 0, errors.Unsupported(errors.PhaseTables, "owner index for "+tbl.String())
}

// enclosingOf returns the enclosing TypeDef rid of a nested type, or 0.
func (ms *MetadataSystem) enclosingOf(rid uint32) (uint32, error) {
	if ms.enclosing == nil {
		n := ms.tables.RowCount(metadata.TableNestedClass)
		ms.enclosing = make(map[uint32]uint32, n)
		for i := uint32(1); i <= n; i++ {
			r, err := ms.tables.NestedClass(i)
			if err != nil {
				ms.enclosing = nil
				return 0, err
			}
			ms.enclosing[r.NestedClass] = r.EnclosingClass
		}
	}
	return ms.enclosing[rid], nil
}

// list returns the list index for child, building it on first use.
func (ms *MetadataSystem) list(child metadata.Table) (*listIndex, error) {
	if x, ok := ms.lists[child]; ok {
		return x, nil
	}

	var (
		ownerTable metadata.Table
		ptr        metadata.Table
		col        int
		mapped     bool
	)
	switch child {
	case metadata.TableField:
		ownerTable, ptr, col = metadata.TableTypeDef, metadata.TableFieldPtr, 4
	case metadata.TableMethod:
		ownerTable, ptr, col = metadata.TableTypeDef, metadata.TableMethodPtr, 5
	case metadata.TableParam:
		ownerTable, ptr, col = metadata.TableMethod, metadata.TableParamPtr, 5
	case metadata.TableEvent:
		ownerTable, ptr, col, mapped = metadata.TableEventMap, metadata.TableEventPtr, 1, true
	case metadata.TableProperty:
		ownerTable, ptr, col, mapped = metadata.TablePropertyMap, metadata.TablePropertyPtr, 1, true
	default:
		return nil, errors.Unsupported(errors.PhaseTables, "member list of "+child.String())
	}

	t := ms.tables
	n := t.RowCount(ownerTable)
	starts := make([]uint32, n)
	owners := make([]uint32, n)
	for rid := uint32(1); rid <= n; rid++ {
		v, err := t.Column(ownerTable, rid, col)
		if err != nil {
			return nil, err
		}
		starts[rid-1] = v
		owners[rid-1] = rid
		if mapped {
			if owners[rid-1], err = t.Column(ownerTable, rid, 0); err != nil {
				return nil, err
			}
		}
	}

	childRows := t.RowCount(child)
	x := &listIndex{child: child, ptr: ptr, owners: owners, range_: make(map[uint32]metadata.Range, n)}
	if ptrRows := t.RowCount(ptr); ptrRows > 0 {
		childRows = ptrRows
		x.position = make(map[uint32]uint32, ptrRows)
		for pos := uint32(1); pos <= ptrRows; pos++ {
			rid, err := t.Column(ptr, pos, 0)
			if err != nil {
				return nil, err
			}
			x.position[rid] = pos
		}
	}
	ranges, err := metadata.ListRanges(child, starts, childRows)
	if err != nil {
		return nil, err
	}
	x.ranges = ranges
	for i, r := range ranges {
		x.range_[owners[i]] = r
	}
	ms.lists[child] = x
	return x, nil
}

// declaringTypeOfField returns the TypeDef rid that owns field rid.
func (ms *MetadataSystem) declaringTypeOfField(rid uint32) (uint32, error) {
	x, err := ms.list(metadata.TableField)
	if err != nil {
		return 0, err
	}
	return x.ownerOf(rid), nil
}

// declaringTypeOfMethod returns the TypeDef rid that owns method rid.
func (ms *MetadataSystem) declaringTypeOfMethod(rid uint32) (uint32, error) {
	x, err := ms.list(metadata.TableMethod)
	if err != nil {
		return 0, err
	}
	return x.ownerOf(rid), nil
}

// nextFieldRVA returns the smallest field data RVA above rva, or 0.
func (ms *MetadataSystem) nextFieldRVA(rva uint32) (uint32, error) {
	if ms.fieldRVAs == nil {
		n := ms.tables.RowCount(metadata.TableFieldRVA)
		rvas := make([]uint32, 0, n)
		for rid := uint32(1); rid <= n; rid++ {
			r, err := ms.tables.FieldRVA(rid)
			if err != nil {
				return 0, err
			}
			rvas = append(rvas, r.RVA)
		}
		slices.Sort(rvas)
		ms.fieldRVAs = slices.Compact(rvas)
	}
	i := sort.Search(len(ms.fieldRVAs), func(i int) bool { return ms.fieldRVAs[i] > rva })
	if i == len(ms.fieldRVAs) {
		return 0, nil
	}
	return ms.fieldRVAs[i], nil
}
