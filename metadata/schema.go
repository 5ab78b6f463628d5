package metadata

// ColumnKind describes how a column is stored.
type ColumnKind uint8

const (
	ColUint8 ColumnKind = iota
	ColUint16
	ColUint32
	ColString
	ColGUID
	ColBlob
	ColIndex // simple index into Column.Target
	ColCoded // coded index of kind Column.Coded
)

// Column is one column of a table schema.
type Column struct {
	Name   string
	Kind   ColumnKind
	Target Table
	Coded  CodedIndex
}

func u8(name string) Column { return Column{Name: name, Kind: ColUint8} }
func u16(name string) Column { return Column{Name: name, Kind: ColUint16} }
func u32(name string) Column { return Column{Name: name, Kind: ColUint32} }
func str(name string) Column { return Column{Name: name, Kind: ColString} }
func guid(name string) Column { return Column{Name: name, Kind: ColGUID} }
func blob(name string) Column { return Column{Name: name, Kind: ColBlob} }
func idx(name string, t Table) Column { return Column{Name: name, Kind: ColIndex, Target: t} }
func coded(name string, c CodedIndex) Column { return Column{Name: name, Kind: ColCoded, Coded: c} }

// Schema lists the columns of every table in storage order (ECMA-335 II.22).
var Schema = [TableCount][]Column{
	TableModule:    {u16("Generation"), str("Name"), guid("Mvid"), guid("EncId"), guid("EncBaseId")},
	TableTypeRef:   {coded("ResolutionScope", ResolutionScope), str("TypeName"), str("TypeNamespace")},
	TableTypeDef:   {u32("Flags"), str("TypeName"), str("TypeNamespace"), coded("Extends", TypeDefOrRef), idx("FieldList", TableField), idx("MethodList", TableMethod)},
	TableFieldPtr:  {idx("Field", TableField)},
	TableField:     {u16("Flags"), str("Name"), blob("Signature")},
	TableMethodPtr: {idx("Method", TableMethod)},
	TableMethod:    {u32("RVA"), u16("ImplFlags"), u16("Flags"), str("Name"), blob("Signature"), idx("ParamList", TableParam)},
	TableParamPtr:  {idx("Param", TableParam)},
	TableParam:     {u16("Flags"), u16("Sequence"), str("Name")},
	TableInterfaceImpl: {idx("Class", TableTypeDef), coded("Interface", TypeDefOrRef)},
	TableMemberRef:     {coded("Class", MemberRefParent), str("Name"), blob("Signature")},
	TableConstant:      {u8("Type"), u8("Padding"), coded("Parent", HasConstant), blob("Value")},
	TableCustomAttribute: {coded("Parent", HasCustomAttribute), coded("Type", CustomAttributeType), blob("Value")},
	TableFieldMarshal:    {coded("Parent", HasFieldMarshal), blob("NativeType")},
	TableDeclSecurity:    {u16("Action"), coded("Parent", HasDeclSecurity), blob("PermissionSet")},
	TableClassLayout:     {u16("PackingSize"), u32("ClassSize"), idx("Parent", TableTypeDef)},
	TableFieldLayout:     {u32("Offset"), idx("Field", TableField)},
	TableStandAloneSig:   {blob("Signature")},
	TableEventMap:        {idx("Parent", TableTypeDef), idx("EventList", TableEvent)},
	TableEventPtr:        {idx("Event", TableEvent)},
	TableEvent:           {u16("EventFlags"), str("Name"), coded("EventType", TypeDefOrRef)},
	TablePropertyMap:     {idx("Parent", TableTypeDef), idx("PropertyList", TableProperty)},
	TablePropertyPtr:     {idx("Property", TableProperty)},
	TableProperty:        {u16("Flags"), str("Name"), blob("Type")},
	TableMethodSemantics: {u16("Semantics"), idx("Method", TableMethod), coded("Association", HasSemantics)},
	TableMethodImpl:      {idx("Class", TableTypeDef), coded("MethodBody", MethodDefOrRef), coded("MethodDeclaration", MethodDefOrRef)},
	TableModuleRef:       {str("Name")},
	TableTypeSpec:        {blob("Signature")},
	TableImplMap:         {u16("MappingFlags"), coded("MemberForwarded", MemberForwarded), str("ImportName"), idx("ImportScope", TableModuleRef)},
	TableFieldRVA:        {u32("RVA"), idx("Field", TableField)},
	TableEncLog:          {u32("Token"), u32("FuncCode")},
	TableEncMap:          {u32("Token")},
	TableAssembly: {u32("HashAlgId"), u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"),
		u32("Flags"), blob("PublicKey"), str("Name"), str("Culture")},
	TableAssemblyProcessor: {u32("Processor")},
	TableAssemblyOS:        {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion")},
	TableAssemblyRef: {u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"),
		u32("Flags"), blob("PublicKeyOrToken"), str("Name"), str("Culture"), blob("HashValue")},
	TableAssemblyRefProcessor: {u32("Processor"), idx("AssemblyRef", TableAssemblyRef)},
	TableAssemblyRefOS:        {u32("OSPlatformId"), u32("OSMajorVersion"), u32("OSMinorVersion"), idx("AssemblyRef", TableAssemblyRef)},
	TableFile:                 {u32("Flags"), str("Name"), blob("HashValue")},
	TableExportedType:         {u32("Flags"), u32("TypeDefId"), str("TypeName"), str("TypeNamespace"), coded("Implementation", Implementation)},
	TableManifestResource:     {u32("Offset"), u32("Flags"), str("Name"), coded("Implementation", Implementation)},
	TableNestedClass:          {idx("NestedClass", TableTypeDef), idx("EnclosingClass", TableTypeDef)},
	TableGenericParam:         {u16("Number"), u16("Flags"), coded("Owner", TypeOrMethodDef), str("Name")},
	TableMethodSpec:           {coded("Method", MethodDefOrRef), blob("Instantiation")},
	TableGenericParamConstraint: {idx("Owner", TableGenericParam), coded("Constraint", TypeDefOrRef)},
}

// SortedTables is the set of tables that must be sorted by their primary key
// column, as a bit mask over table ids.
const SortedTables uint64 = 1<<TableClassLayout | 1<<TableConstant | 1<<TableCustomAttribute |
	1<<TableDeclSecurity | 1<<TableFieldLayout | 1<<TableFieldMarshal | 1<<TableFieldRVA |
	1<<TableGenericParam | 1<<TableGenericParamConstraint | 1<<TableImplMap |
	1<<TableInterfaceImpl | 1<<TableMethodImpl | 1<<TableMethodSemantics | 1<<TableNestedClass

// HeapSizes is the heap-size flag byte of the table stream header.
type HeapSizes uint8

const (
	HeapStringsWide HeapSizes = 0x01
	HeapGUIDWide    HeapSizes = 0x02
	HeapBlobWide    HeapSizes = 0x04
	HeapExtraData   HeapSizes = 0x40
)

// Layout holds the byte widths derived from row counts and heap sizes.
type Layout struct {
	Rows      [TableCount]uint32
	HeapSizes HeapSizes

	colSize [TableCount][]int
	colOff  [TableCount][]int
	rowSize [TableCount]int
}

// NewLayout computes column and row widths for every table.
func NewLayout(rows [TableCount]uint32, heaps HeapSizes) *Layout {
	l := &Layout{Rows: rows, HeapSizes: heaps}
	for t := range Table(TableCount) {
		cols := Schema[t]
		l.colSize[t] = make([]int, len(cols))
		l.colOff[t] = make([]int, len(cols))
		off := 0
		for i, c := range cols {
			l.colOff[t][i] = off
			l.colSize[t][i] = l.columnSize(c)
			off += l.colSize[t][i]
		}
		l.rowSize[t] = off
	}
	return l
}

func (l *Layout) columnSize(c Column) int {
	switch c.Kind {
	case ColUint8:
		return 1
	case ColUint16:
		return 2
	case ColUint32:
		return 4
	case ColString:
		return l.heapIndexSize(HeapStringsWide)
	case ColGUID:
		return l.heapIndexSize(HeapGUIDWide)
	case ColBlob:
		return l.heapIndexSize(HeapBlobWide)
	case ColIndex:
		if l.Rows[c.Target] < 1<<16 {
			return 2
		}
		return 4
	case ColCoded:
		return c.Coded.Size(&l.Rows)
	}
	return 0
}

func (l *Layout) heapIndexSize(flag HeapSizes) int {
	if l.HeapSizes&flag != 0 {
		return 4
	}
	return 2
}

// RowSize returns the byte size of one row of t.
func (l *Layout) RowSize(t Table) int {
	return l.rowSize[t]
}

// ColumnSize returns the byte width of column col of t.
func (l *Layout) ColumnSize(t Table, col int) int {
	return l.colSize[t][col]
}

// TableSize returns the byte size of all rows of t.
func (l *Layout) TableSize(t Table) int {
	return l.rowSize[t] * int(l.Rows[t])
}
