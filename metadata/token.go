package metadata

import "fmt"

// Table identifies one of the metadata tables (ECMA-335 II.22).
type Table uint8

const (
	TableModule                 Table = 0x00
	TableTypeRef                Table = 0x01
	TableTypeDef                Table = 0x02
	TableFieldPtr               Table = 0x03
	TableField                  Table = 0x04
	TableMethodPtr              Table = 0x05
	TableMethod                 Table = 0x06
	TableParamPtr               Table = 0x07
	TableParam                  Table = 0x08
	TableInterfaceImpl          Table = 0x09
	TableMemberRef              Table = 0x0A
	TableConstant               Table = 0x0B
	TableCustomAttribute        Table = 0x0C
	TableFieldMarshal           Table = 0x0D
	TableDeclSecurity           Table = 0x0E
	TableClassLayout            Table = 0x0F
	TableFieldLayout            Table = 0x10
	TableStandAloneSig          Table = 0x11
	TableEventMap               Table = 0x12
	TableEventPtr               Table = 0x13
	TableEvent                  Table = 0x14
	TablePropertyMap            Table = 0x15
	TablePropertyPtr            Table = 0x16
	TableProperty               Table = 0x17
	TableMethodSemantics        Table = 0x18
	TableMethodImpl             Table = 0x19
	TableModuleRef              Table = 0x1A
	TableTypeSpec               Table = 0x1B
	TableImplMap                Table = 0x1C
	TableFieldRVA               Table = 0x1D
	TableEncLog                 Table = 0x1E
	TableEncMap                 Table = 0x1F
	TableAssembly               Table = 0x20
	TableAssemblyProcessor      Table = 0x21
	TableAssemblyOS             Table = 0x22
	TableAssemblyRef            Table = 0x23
	TableAssemblyRefProcessor   Table = 0x24
	TableAssemblyRefOS          Table = 0x25
	TableFile                   Table = 0x26
	TableExportedType           Table = 0x27
	TableManifestResource       Table = 0x28
	TableNestedClass            Table = 0x29
	TableGenericParam           Table = 0x2A
	TableMethodSpec             Table = 0x2B
	TableGenericParamConstraint Table = 0x2C

	// TableCount is the number of defined tables.
	TableCount = 0x2D

	// TableUserString is the token tag for #US heap offsets (ldstr operands).
	TableUserString Table = 0x70

	// tableNone marks an unused coded-index tag.
	tableNone Table = 0xFF
)

var tableNames = [TableCount]string{
	"Module", "TypeRef", "TypeDef", "FieldPtr", "Field", "MethodPtr", "Method",
	"ParamPtr", "Param", "InterfaceImpl", "MemberRef", "Constant", "CustomAttribute",
	"FieldMarshal", "DeclSecurity", "ClassLayout", "FieldLayout", "StandAloneSig",
	"EventMap", "EventPtr", "Event", "PropertyMap", "PropertyPtr", "Property",
	"MethodSemantics", "MethodImpl", "ModuleRef", "TypeSpec", "ImplMap", "FieldRVA",
	"EncLog", "EncMap", "Assembly", "AssemblyProcessor", "AssemblyOS", "AssemblyRef",
	"AssemblyRefProcessor", "AssemblyRefOS", "File", "ExportedType", "ManifestResource",
	"NestedClass", "GenericParam", "MethodSpec", "GenericParamConstraint",
}

func (t Table) String() string {
	if int(t) < TableCount {
		return tableNames[t]
	}
	if t == TableUserString {
		return "UserString"
	}
	return fmt.Sprintf("Table(0x%02x)", uint8(t))
}

// Valid reports whether t is a defined table.
func (t Table) Valid() bool {
	return int(t) < TableCount
}

// Token is a 32-bit metadata token: table tag in the high byte, 1-based row id
// in the low 24 bits. Row id 0 is the null token.
type Token uint32

// NewToken builds a token from a table and row id.
func NewToken(t Table, rid uint32) Token {
	return Token(uint32(t)<<24 | rid&0x00FFFFFF)
}

// Table returns the token's table tag.
func (t Token) Table() Table {
	return Table(t >> 24)
}

// RID returns the 1-based row id.
func (t Token) RID() uint32 {
	return uint32(t) & 0x00FFFFFF
}

// IsNull reports whether the token references no row.
func (t Token) IsNull() bool {
	return t.RID() == 0
}

func (t Token) String() string {
	return fmt.Sprintf("%s[%d] (0x%08x)", t.Table(), t.RID(), uint32(t))
}

// StringIndex is a byte offset into the #Strings heap.
type StringIndex uint32

// BlobIndex is a byte offset into the #Blob heap.
type BlobIndex uint32

// GUIDIndex is a 1-based index into the #GUID heap.
type GUIDIndex uint32
