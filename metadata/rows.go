package metadata

// RowEncoder is implemented by the typed rows so a TableBuffer can store them.
type RowEncoder interface {
	Table() Table
	encode(e *rowEncoder)
}

type rowDecoder struct {
	row Row
	i   int
	err error
}

func (d *rowDecoder) next() uint32 {
	v := d.row[d.i]
	d.i++
	return v
}

func (d *rowDecoder) u16() uint16 { return uint16(d.next()) }
func (d *rowDecoder) str() StringIndex { return StringIndex(d.next()) }
func (d *rowDecoder) blob() BlobIndex { return BlobIndex(d.next()) }
func (d *rowDecoder) guid() GUIDIndex { return GUIDIndex(d.next()) }
func (d *rowDecoder) coded(c CodedIndex) Token {
	v := d.next()
	tok, err := c.Decode(v)
	if err != nil && d.err == nil {
		d.err = err
	}
	return tok
}

type rowEncoder struct {
	row Row
	err error
}

func (e *rowEncoder) put(v uint32) { e.row = append(e.row, v) }

func (e *rowEncoder) coded(c CodedIndex, tok Token) {
	v, err := c.Encode(tok)
	if err != nil && e.err == nil {
		e.err = err
	}
	e.put(v)
}

func (t *Tables) decode(tbl Table, rid uint32) (*rowDecoder, error) {
	row, err := t.Row(tbl, rid)
	if err != nil {
		return nil, err
	}
	return &rowDecoder{row: row}, nil
}

// ModuleRow is a Module table row.
type ModuleRow struct {
	Generation uint16
	Name       StringIndex
	Mvid       GUIDIndex
	EncID      GUIDIndex
	EncBaseID  GUIDIndex
}

func (ModuleRow) Table() Table { return TableModule }
func (r ModuleRow) encode(e *rowEncoder) {
	e.put(uint32(r.Generation))
	e.put(uint32(r.Name))
	e.put(uint32(r.Mvid))
	e.put(uint32(r.EncID))
	e.put(uint32(r.EncBaseID))
}

// Module decodes a Module row.
func (t *Tables) Module(rid uint32) (ModuleRow, error) {
	d, err := t.decode(TableModule, rid)
	if err != nil {
		return ModuleRow{}, err
	}
	return ModuleRow{d.u16(), d.str(), d.guid(), d.guid(), d.guid()}, nil
}

// TypeRefRow is a TypeRef table row.
type TypeRefRow struct {
	ResolutionScope Token
	Name            StringIndex
	Namespace       StringIndex
}

func (TypeRefRow) Table() Table { return TableTypeRef }
func (r TypeRefRow) encode(e *rowEncoder) {
	e.coded(ResolutionScope, r.ResolutionScope)
	e.put(uint32(r.Name))
	e.put(uint32(r.Namespace))
}

// TypeRef decodes a TypeRef row.
func (t *Tables) TypeRef(rid uint32) (TypeRefRow, error) {
	d, err := t.decode(TableTypeRef, rid)
	if err != nil {
		return TypeRefRow{}, err
	}
	r := TypeRefRow{d.coded(ResolutionScope), d.str(), d.str()}
	return r, d.err
}

// TypeDefRow is a TypeDef table row.
type TypeDefRow struct {
	Flags      uint32
	Name       StringIndex
	Namespace  StringIndex
	Extends    Token
	FieldList  uint32
	MethodList uint32
}

func (TypeDefRow) Table() Table { return TableTypeDef }
func (r TypeDefRow) encode(e *rowEncoder) {
	e.put(r.Flags)
	e.put(uint32(r.Name))
	e.put(uint32(r.Namespace))
	e.coded(TypeDefOrRef, r.Extends)
	e.put(r.FieldList)
	e.put(r.MethodList)
}

// TypeDef decodes a TypeDef row.
func (t *Tables) TypeDef(rid uint32) (TypeDefRow, error) {
	d, err := t.decode(TableTypeDef, rid)
	if err != nil {
		return TypeDefRow{}, err
	}
	r := TypeDefRow{d.next(), d.str(), d.str(), d.coded(TypeDefOrRef), d.next(), d.next()}
	return r, d.err
}

// FieldRow is a Field table row.
type FieldRow struct {
	Flags     uint16
	Name      StringIndex
	Signature BlobIndex
}

func (FieldRow) Table() Table { return TableField }
func (r FieldRow) encode(e *rowEncoder) {
	e.put(uint32(r.Flags))
	e.put(uint32(r.Name))
	e.put(uint32(r.Signature))
}

// Field decodes a Field row.
func (t *Tables) Field(rid uint32) (FieldRow, error) {
	d, err := t.decode(TableField, rid)
	if err != nil {
		return FieldRow{}, err
	}
	return FieldRow{d.u16(), d.str(), d.blob()}, nil
}

// MethodRow is a MethodDef table row.
type MethodRow struct {
	RVA       uint32
	ImplFlags uint16
	Flags     uint16
	Name      StringIndex
	Signature BlobIndex
	ParamList uint32
}

func (MethodRow) Table() Table { return TableMethod }
func (r MethodRow) encode(e *rowEncoder) {
	e.put(r.RVA)
	e.put(uint32(r.ImplFlags))
	e.put(uint32(r.Flags))
	e.put(uint32(r.Name))
	e.put(uint32(r.Signature))
	e.put(r.ParamList)
}

// Method decodes a MethodDef row.
func (t *Tables) Method(rid uint32) (MethodRow, error) {
	d, err := t.decode(TableMethod, rid)
	if err != nil {
		return MethodRow{}, err
	}
	return MethodRow{d.next(), d.u16(), d.u16(), d.str(), d.blob(), d.next()}, nil
}

// ParamRow is a Param table row.
type ParamRow struct {
	Flags    uint16
	Sequence uint16
	Name     StringIndex
}

func (ParamRow) Table() Table { return TableParam }
func (r ParamRow) encode(e *rowEncoder) {
	e.put(uint32(r.Flags))
	e.put(uint32(r.Sequence))
	e.put(uint32(r.Name))
}

// Param decodes a Param row.
func (t *Tables) Param(rid uint32) (ParamRow, error) {
	d, err := t.decode(TableParam, rid)
	if err != nil {
		return ParamRow{}, err
	}
	return ParamRow{d.u16(), d.u16(), d.str()}, nil
}

// InterfaceImplRow is an InterfaceImpl table row.
type InterfaceImplRow struct {
	Class     uint32
	Interface Token
}

func (InterfaceImplRow) Table() Table { return TableInterfaceImpl }
func (r InterfaceImplRow) encode(e *rowEncoder) {
	e.put(r.Class)
	e.coded(TypeDefOrRef, r.Interface)
}

// InterfaceImpl decodes an InterfaceImpl row.
func (t *Tables) InterfaceImpl(rid uint32) (InterfaceImplRow, error) {
	d, err := t.decode(TableInterfaceImpl, rid)
	if err != nil {
		return InterfaceImplRow{}, err
	}
	r := InterfaceImplRow{d.next(), d.coded(TypeDefOrRef)}
	return r, d.err
}

// MemberRefRow is a MemberRef table row.
type MemberRefRow struct {
	Class     Token
	Name      StringIndex
	Signature BlobIndex
}

func (MemberRefRow) Table() Table { return TableMemberRef }
func (r MemberRefRow) encode(e *rowEncoder) {
	e.coded(MemberRefParent, r.Class)
	e.put(uint32(r.Name))
	e.put(uint32(r.Signature))
}

// MemberRef decodes a MemberRef row.
func (t *Tables) MemberRef(rid uint32) (MemberRefRow, error) {
	d, err := t.decode(TableMemberRef, rid)
	if err != nil {
		return MemberRefRow{}, err
	}
	r := MemberRefRow{d.coded(MemberRefParent), d.str(), d.blob()}
	return r, d.err
}

// ConstantRow is a Constant table row.
type ConstantRow struct {
	Type   uint8
	Parent Token
	Value  BlobIndex
}

func (ConstantRow) Table() Table { return TableConstant }
func (r ConstantRow) encode(e *rowEncoder) {
	e.put(uint32(r.Type))
	e.put(0)
	e.coded(HasConstant, r.Parent)
	e.put(uint32(r.Value))
}

// Constant decodes a Constant row.
func (t *Tables) Constant(rid uint32) (ConstantRow, error) {
	d, err := t.decode(TableConstant, rid)
	if err != nil {
		return ConstantRow{}, err
	}
	typ := uint8(d.next())
	d.next()
	r := ConstantRow{typ, d.coded(HasConstant), d.blob()}
	return r, d.err
}

// CustomAttributeRow is a CustomAttribute table row.
type CustomAttributeRow struct {
	Parent Token
	Type   Token
	Value  BlobIndex
}

func (CustomAttributeRow) Table() Table { return TableCustomAttribute }
func (r CustomAttributeRow) encode(e *rowEncoder) {
	e.coded(HasCustomAttribute, r.Parent)
	e.coded(CustomAttributeType, r.Type)
	e.put(uint32(r.Value))
}

// CustomAttribute decodes a CustomAttribute row.
func (t *Tables) CustomAttribute(rid uint32) (CustomAttributeRow, error) {
	d, err := t.decode(TableCustomAttribute, rid)
	if err != nil {
		return CustomAttributeRow{}, err
	}
	r := CustomAttributeRow{d.coded(HasCustomAttribute), d.coded(CustomAttributeType), d.blob()}
	return r, d.err
}

// FieldMarshalRow is a FieldMarshal table row.
type FieldMarshalRow struct {
	Parent     Token
	NativeType BlobIndex
}

func (FieldMarshalRow) Table() Table { return TableFieldMarshal }
func (r FieldMarshalRow) encode(e *rowEncoder) {
	e.coded(HasFieldMarshal, r.Parent)
	e.put(uint32(r.NativeType))
}

// FieldMarshal decodes a FieldMarshal row.
func (t *Tables) FieldMarshal(rid uint32) (FieldMarshalRow, error) {
	d, err := t.decode(TableFieldMarshal, rid)
	if err != nil {
		return FieldMarshalRow{}, err
	}
	r := FieldMarshalRow{d.coded(HasFieldMarshal), d.blob()}
	return r, d.err
}

// DeclSecurityRow is a DeclSecurity table row.
type DeclSecurityRow struct {
	Action        uint16
	Parent        Token
	PermissionSet BlobIndex
}

func (DeclSecurityRow) Table() Table { return TableDeclSecurity }
func (r DeclSecurityRow) encode(e *rowEncoder) {
	e.put(uint32(r.Action))
	e.coded(HasDeclSecurity, r.Parent)
	e.put(uint32(r.PermissionSet))
}

// DeclSecurity decodes a DeclSecurity row.
func (t *Tables) DeclSecurity(rid uint32) (DeclSecurityRow, error) {
	d, err := t.decode(TableDeclSecurity, rid)
	if err != nil {
		return DeclSecurityRow{}, err
	}
	r := DeclSecurityRow{d.u16(), d.coded(HasDeclSecurity), d.blob()}
	return r, d.err
}

// ClassLayoutRow is a ClassLayout table row.
type ClassLayoutRow struct {
	PackingSize uint16
	ClassSize   uint32
	Parent      uint32
}

func (ClassLayoutRow) Table() Table { return TableClassLayout }
func (r ClassLayoutRow) encode(e *rowEncoder) {
	e.put(uint32(r.PackingSize))
	e.put(r.ClassSize)
	e.put(r.Parent)
}

// ClassLayout decodes a ClassLayout row.
func (t *Tables) ClassLayout(rid uint32) (ClassLayoutRow, error) {
	d, err := t.decode(TableClassLayout, rid)
	if err != nil {
		return ClassLayoutRow{}, err
	}
	return ClassLayoutRow{d.u16(), d.next(), d.next()}, nil
}

// FieldLayoutRow is a FieldLayout table row.
type FieldLayoutRow struct {
	Offset uint32
	Field  uint32
}

func (FieldLayoutRow) Table() Table { return TableFieldLayout }
func (r FieldLayoutRow) encode(e *rowEncoder) {
	e.put(r.Offset)
	e.put(r.Field)
}

// FieldLayout decodes a FieldLayout row.
func (t *Tables) FieldLayout(rid uint32) (FieldLayoutRow, error) {
	d, err := t.decode(TableFieldLayout, rid)
	if err != nil {
		return FieldLayoutRow{}, err
	}
	return FieldLayoutRow{d.next(), d.next()}, nil
}

// StandAloneSigRow is a StandAloneSig table row.
type StandAloneSigRow struct {
	Signature BlobIndex
}

func (StandAloneSigRow) Table() Table { return TableStandAloneSig }
func (r StandAloneSigRow) encode(e *rowEncoder) {
	e.put(uint32(r.Signature))
}

// StandAloneSig decodes a StandAloneSig row.
func (t *Tables) StandAloneSig(rid uint32) (StandAloneSigRow, error) {
	d, err := t.decode(TableStandAloneSig, rid)
	if err != nil {
		return StandAloneSigRow{}, err
	}
	return StandAloneSigRow{d.blob()}, nil
}

// MapRow is an EventMap or PropertyMap row: an owner type and the first row
// of its member list.
type MapRow struct {
	table  Table
	Parent uint32
	List   uint32
}

// NewEventMapRow builds an EventMap row.
func NewEventMapRow(parent, list uint32) MapRow {
	return MapRow{TableEventMap, parent, list}
}

// NewPropertyMapRow builds a PropertyMap row.
func NewPropertyMapRow(parent, list uint32) MapRow {
	return MapRow{TablePropertyMap, parent, list}
}

func (r MapRow) Table() Table { return r.table }
func (r MapRow) encode(e *rowEncoder) {
	e.put(r.Parent)
	e.put(r.List)
}

// EventMap decodes an EventMap row.
func (t *Tables) EventMap(rid uint32) (MapRow, error) {
	return t.mapRow(TableEventMap, rid)
}

// PropertyMap decodes a PropertyMap row.
func (t *Tables) PropertyMap(rid uint32) (MapRow, error) {
	return t.mapRow(TablePropertyMap, rid)
}

func (t *Tables) mapRow(tbl Table, rid uint32) (MapRow, error) {
	d, err := t.decode(tbl, rid)
	if err != nil {
		return MapRow{}, err
	}
	return MapRow{tbl, d.next(), d.next()}, nil
}

// EventRow is an Event table row.
type EventRow struct {
	Flags     uint16
	Name      StringIndex
	EventType Token
}

func (EventRow) Table() Table { return TableEvent }
func (r EventRow) encode(e *rowEncoder) {
	e.put(uint32(r.Flags))
	e.put(uint32(r.Name))
	e.coded(TypeDefOrRef, r.EventType)
}

// Event decodes an Event row.
func (t *Tables) Event(rid uint32) (EventRow, error) {
	d, err := t.decode(TableEvent, rid)
	if err != nil {
		return EventRow{}, err
	}
	r := EventRow{d.u16(), d.str(), d.coded(TypeDefOrRef)}
	return r, d.err
}

// PropertyRow is a Property table row.
type PropertyRow struct {
	Flags uint16
	Name  StringIndex
	Type  BlobIndex
}

func (PropertyRow) Table() Table { return TableProperty }
func (r PropertyRow) encode(e *rowEncoder) {
	e.put(uint32(r.Flags))
	e.put(uint32(r.Name))
	e.put(uint32(r.Type))
}

// Property decodes a Property row.
func (t *Tables) Property(rid uint32) (PropertyRow, error) {
	d, err := t.decode(TableProperty, rid)
	if err != nil {
		return PropertyRow{}, err
	}
	return PropertyRow{d.u16(), d.str(), d.blob()}, nil
}

// MethodSemanticsRow is a MethodSemantics table row.
type MethodSemanticsRow struct {
	Semantics   uint16
	Method      uint32
	Association Token
}

func (MethodSemanticsRow) Table() Table { return TableMethodSemantics }
func (r MethodSemanticsRow) encode(e *rowEncoder) {
	e.put(uint32(r.Semantics))
	e.put(r.Method)
	e.coded(HasSemantics, r.Association)
}

// MethodSemantics decodes a MethodSemantics row.
func (t *Tables) MethodSemantics(rid uint32) (MethodSemanticsRow, error) {
	d, err := t.decode(TableMethodSemantics, rid)
	if err != nil {
		return MethodSemanticsRow{}, err
	}
	r := MethodSemanticsRow{d.u16(), d.next(), d.coded(HasSemantics)}
	return r, d.err
}

// MethodImplRow is a MethodImpl table row.
type MethodImplRow struct {
	Class       uint32
	Body        Token
	Declaration Token
}

func (MethodImplRow) Table() Table { return TableMethodImpl }
func (r MethodImplRow) encode(e *rowEncoder) {
	e.put(r.Class)
	e.coded(MethodDefOrRef, r.Body)
	e.coded(MethodDefOrRef, r.Declaration)
}

// MethodImpl decodes a MethodImpl row.
func (t *Tables) MethodImpl(rid uint32) (MethodImplRow, error) {
	d, err := t.decode(TableMethodImpl, rid)
	if err != nil {
		return MethodImplRow{}, err
	}
	r := MethodImplRow{d.next(), d.coded(MethodDefOrRef), d.coded(MethodDefOrRef)}
	return r, d.err
}

// ModuleRefRow is a ModuleRef table row.
type ModuleRefRow struct {
	Name StringIndex
}

func (ModuleRefRow) Table() Table { return TableModuleRef }
func (r ModuleRefRow) encode(e *rowEncoder) {
	e.put(uint32(r.Name))
}

// ModuleRef decodes a ModuleRef row.
func (t *Tables) ModuleRef(rid uint32) (ModuleRefRow, error) {
	d, err := t.decode(TableModuleRef, rid)
	if err != nil {
		return ModuleRefRow{}, err
	}
	return ModuleRefRow{d.str()}, nil
}

// TypeSpecRow is a TypeSpec table row.
type TypeSpecRow struct {
	Signature BlobIndex
}

func (TypeSpecRow) Table() Table { return TableTypeSpec }
func (r TypeSpecRow) encode(e *rowEncoder) {
	e.put(uint32(r.Signature))
}

// TypeSpec decodes a TypeSpec row.
func (t *Tables) TypeSpec(rid uint32) (TypeSpecRow, error) {
	d, err := t.decode(TableTypeSpec, rid)
	if err != nil {
		return TypeSpecRow{}, err
	}
	return TypeSpecRow{d.blob()}, nil
}

// ImplMapRow is an ImplMap table row.
type ImplMapRow struct {
	MappingFlags    uint16
	MemberForwarded Token
	ImportName      StringIndex
	ImportScope     uint32
}

func (ImplMapRow) Table() Table { return TableImplMap }
func (r ImplMapRow) encode(e *rowEncoder) {
	e.put(uint32(r.MappingFlags))
	e.coded(MemberForwarded, r.MemberForwarded)
	e.put(uint32(r.ImportName))
	e.put(r.ImportScope)
}

// ImplMap decodes an ImplMap row.
func (t *Tables) ImplMap(rid uint32) (ImplMapRow, error) {
	d, err := t.decode(TableImplMap, rid)
	if err != nil {
		return ImplMapRow{}, err
	}
	r := ImplMapRow{d.u16(), d.coded(MemberForwarded), d.str(), d.next()}
	return r, d.err
}

// FieldRVARow is a FieldRVA table row.
type FieldRVARow struct {
	RVA   uint32
	Field uint32
}

func (FieldRVARow) Table() Table { return TableFieldRVA }
func (r FieldRVARow) encode(e *rowEncoder) {
	e.put(r.RVA)
	e.put(r.Field)
}

// FieldRVA decodes a FieldRVA row.
func (t *Tables) FieldRVA(rid uint32) (FieldRVARow, error) {
	d, err := t.decode(TableFieldRVA, rid)
	if err != nil {
		return FieldRVARow{}, err
	}
	return FieldRVARow{d.next(), d.next()}, nil
}

// AssemblyRow is an Assembly table row.
type AssemblyRow struct {
	HashAlgID      uint32
	MajorVersion   uint16
	MinorVersion   uint16
	BuildNumber    uint16
	RevisionNumber uint16
	Flags          uint32
	PublicKey      BlobIndex
	Name           StringIndex
	Culture        StringIndex
}

func (AssemblyRow) Table() Table { return TableAssembly }
func (r AssemblyRow) encode(e *rowEncoder) {
	e.put(r.HashAlgID)
	e.put(uint32(r.MajorVersion))
	e.put(uint32(r.MinorVersion))
	e.put(uint32(r.BuildNumber))
	e.put(uint32(r.RevisionNumber))
	e.put(r.Flags)
	e.put(uint32(r.PublicKey))
	e.put(uint32(r.Name))
	e.put(uint32(r.Culture))
}

// Assembly decodes an Assembly row.
func (t *Tables) Assembly(rid uint32) (AssemblyRow, error) {
	d, err := t.decode(TableAssembly, rid)
	if err != nil {
		return AssemblyRow{}, err
	}
	return AssemblyRow{d.next(), d.u16(), d.u16(), d.u16(), d.u16(), d.next(), d.blob(), d.str(), d.str()}, nil
}

// AssemblyRefRow is an AssemblyRef table row.
type AssemblyRefRow struct {
	MajorVersion     uint16
	MinorVersion     uint16
	BuildNumber      uint16
	RevisionNumber   uint16
	Flags            uint32
	PublicKeyOrToken BlobIndex
	Name             StringIndex
	Culture          StringIndex
	HashValue        BlobIndex
}

func (AssemblyRefRow) Table() Table { return TableAssemblyRef }
func (r AssemblyRefRow) encode(e *rowEncoder) {
	e.put(uint32(r.MajorVersion))
	e.put(uint32(r.MinorVersion))
	e.put(uint32(r.BuildNumber))
	e.put(uint32(r.RevisionNumber))
	e.put(r.Flags)
	e.put(uint32(r.PublicKeyOrToken))
	e.put(uint32(r.Name))
	e.put(uint32(r.Culture))
	e.put(uint32(r.HashValue))
}

// AssemblyRef decodes an AssemblyRef row.
func (t *Tables) AssemblyRef(rid uint32) (AssemblyRefRow, error) {
	d, err := t.decode(TableAssemblyRef, rid)
	if err != nil {
		return AssemblyRefRow{}, err
	}
	return AssemblyRefRow{d.u16(), d.u16(), d.u16(), d.u16(), d.next(), d.blob(), d.str(), d.str(), d.blob()}, nil
}

// FileRow is a File table row.
type FileRow struct {
	Flags     uint32
	Name      StringIndex
	HashValue BlobIndex
}

func (FileRow) Table() Table { return TableFile }
func (r FileRow) encode(e *rowEncoder) {
	e.put(r.Flags)
	e.put(uint32(r.Name))
	e.put(uint32(r.HashValue))
}

// File decodes a File row.
func (t *Tables) File(rid uint32) (FileRow, error) {
	d, err := t.decode(TableFile, rid)
	if err != nil {
		return FileRow{}, err
	}
	return FileRow{d.next(), d.str(), d.blob()}, nil
}

// ExportedTypeRow is an ExportedType table row.
type ExportedTypeRow struct {
	Flags          uint32
	TypeDefID      uint32
	Name           StringIndex
	Namespace      StringIndex
	Implementation Token
}

func (ExportedTypeRow) Table() Table { return TableExportedType }
func (r ExportedTypeRow) encode(e *rowEncoder) {
	e.put(r.Flags)
	e.put(r.TypeDefID)
	e.put(uint32(r.Name))
	e.put(uint32(r.Namespace))
	e.coded(Implementation, r.Implementation)
}

// ExportedType decodes an ExportedType row.
func (t *Tables) ExportedType(rid uint32) (ExportedTypeRow, error) {
	d, err := t.decode(TableExportedType, rid)
	if err != nil {
		return ExportedTypeRow{}, err
	}
	r := ExportedTypeRow{d.next(), d.next(), d.str(), d.str(), d.coded(Implementation)}
	return r, d.err
}

// ManifestResourceRow is a ManifestResource table row.
type ManifestResourceRow struct {
	Offset         uint32
	Flags          uint32
	Name           StringIndex
	Implementation Token
}

func (ManifestResourceRow) Table() Table { return TableManifestResource }
func (r ManifestResourceRow) encode(e *rowEncoder) {
	e.put(r.Offset)
	e.put(r.Flags)
	e.put(uint32(r.Name))
	e.coded(Implementation, r.Implementation)
}

// ManifestResource decodes a ManifestResource row.
func (t *Tables) ManifestResource(rid uint32) (ManifestResourceRow, error) {
	d, err := t.decode(TableManifestResource, rid)
	if err != nil {
		return ManifestResourceRow{}, err
	}
	r := ManifestResourceRow{d.next(), d.next(), d.str(), d.coded(Implementation)}
	return r, d.err
}

// NestedClassRow is a NestedClass table row.
type NestedClassRow struct {
	NestedClass    uint32
	EnclosingClass uint32
}

func (NestedClassRow) Table() Table { return TableNestedClass }
func (r NestedClassRow) encode(e *rowEncoder) {
	e.put(r.NestedClass)
	e.put(r.EnclosingClass)
}

// NestedClass decodes a NestedClass row.
func (t *Tables) NestedClass(rid uint32) (NestedClassRow, error) {
	d, err := t.decode(TableNestedClass, rid)
	if err != nil {
		return NestedClassRow{}, err
	}
	return NestedClassRow{d.next(), d.next()}, nil
}

// GenericParamRow is a GenericParam table row.
type GenericParamRow struct {
	Number uint16
	Flags  uint16
	Owner  Token
	Name   StringIndex
}

func (GenericParamRow) Table() Table { return TableGenericParam }
func (r GenericParamRow) encode(e *rowEncoder) {
	e.put(uint32(r.Number))
	e.put(uint32(r.Flags))
	e.coded(TypeOrMethodDef, r.Owner)
	e.put(uint32(r.Name))
}

// GenericParam decodes a GenericParam row.
func (t *Tables) GenericParam(rid uint32) (GenericParamRow, error) {
	d, err := t.decode(TableGenericParam, rid)
	if err != nil {
		return GenericParamRow{}, err
	}
	r := GenericParamRow{d.u16(), d.u16(), d.coded(TypeOrMethodDef), d.str()}
	return r, d.err
}

// MethodSpecRow is a MethodSpec table row.
type MethodSpecRow struct {
	Method        Token
	Instantiation BlobIndex
}

func (MethodSpecRow) Table() Table { return TableMethodSpec }
func (r MethodSpecRow) encode(e *rowEncoder) {
	e.coded(MethodDefOrRef, r.Method)
	e.put(uint32(r.Instantiation))
}

// MethodSpec decodes a MethodSpec row.
func (t *Tables) MethodSpec(rid uint32) (MethodSpecRow, error) {
	d, err := t.decode(TableMethodSpec, rid)
	if err != nil {
		return MethodSpecRow{}, err
	}
	r := MethodSpecRow{d.coded(MethodDefOrRef), d.blob()}
	return r, d.err
}

// GenericParamConstraintRow is a GenericParamConstraint table row.
type GenericParamConstraintRow struct {
	Owner      uint32
	Constraint Token
}

func (GenericParamConstraintRow) Table() Table { return TableGenericParamConstraint }
func (r GenericParamConstraintRow) encode(e *rowEncoder) {
	e.put(r.Owner)
	e.coded(TypeDefOrRef, r.Constraint)
}

// GenericParamConstraint decodes a GenericParamConstraint row.
func (t *Tables) GenericParamConstraint(rid uint32) (GenericParamConstraintRow, error) {
	d, err := t.decode(TableGenericParamConstraint, rid)
	if err != nil {
		return GenericParamConstraintRow{}, err
	}
	r := GenericParamConstraintRow{d.next(), d.coded(TypeDefOrRef)}
	return r, d.err
}

// Indirect resolves position pos of a list through the pointer table ptr if
// it is populated, returning the row id in the target table.
func (t *Tables) Indirect(ptr Table, pos uint32) (uint32, error) {
	if t.RowCount(ptr) == 0 {
		return pos, nil
	}
	return t.Column(ptr, pos, 0)
}
