package metadata

import (
	"fmt"

	"github.com/wippyai/cli-metadata/errors"
)

// CodedIndex identifies one of the coded-index kinds (ECMA-335 II.24.2.6).
// A coded value packs a table selector in its low bits and a row id above them.
type CodedIndex uint8

const (
	TypeDefOrRef CodedIndex = iota
	HasConstant
	HasCustomAttribute
	HasFieldMarshal
	HasDeclSecurity
	MemberRefParent
	HasSemantics
	MethodDefOrRef
	MemberForwarded
	Implementation
	CustomAttributeType
	ResolutionScope
	TypeOrMethodDef

	// CodedIndexCount is the number of coded-index kinds.
	CodedIndexCount
)

type codedIndexInfo struct {
	name   string
	tables []Table
	bits   uint
}

var codedIndices = [CodedIndexCount]codedIndexInfo{
	TypeDefOrRef: {"TypeDefOrRef", []Table{TableTypeDef, TableTypeRef, TableTypeSpec}, 2},
	HasConstant:  {"HasConstant", []Table{TableField, TableParam, TableProperty}, 2},
	HasCustomAttribute: {"HasCustomAttribute", []Table{
		TableMethod, TableField, TableTypeRef, TableTypeDef, TableParam, TableInterfaceImpl,
		TableMemberRef, TableModule, TableDeclSecurity, TableProperty, TableEvent,
		TableStandAloneSig, TableModuleRef, TableTypeSpec, TableAssembly, TableAssemblyRef,
		TableFile, TableExportedType, TableManifestResource, TableGenericParam,
		TableGenericParamConstraint, TableMethodSpec,
	}, 5},
	HasFieldMarshal: {"HasFieldMarshal", []Table{TableField, TableParam}, 1},
	HasDeclSecurity: {"HasDeclSecurity", []Table{TableTypeDef, TableMethod, TableAssembly}, 2},
	MemberRefParent: {"MemberRefParent", []Table{
		TableTypeDef, TableTypeRef, TableModuleRef, TableMethod, TableTypeSpec,
	}, 3},
	HasSemantics:    {"HasSemantics", []Table{TableEvent, TableProperty}, 1},
	MethodDefOrRef:  {"MethodDefOrRef", []Table{TableMethod, TableMemberRef}, 1},
	MemberForwarded: {"MemberForwarded", []Table{TableField, TableMethod}, 1},
	Implementation:  {"Implementation", []Table{TableFile, TableAssemblyRef, TableExportedType}, 2},
	CustomAttributeType: {"CustomAttributeType", []Table{
		tableNone, tableNone, TableMethod, TableMemberRef, tableNone,
	}, 3},
	ResolutionScope: {"ResolutionScope", []Table{TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef}, 2},
	TypeOrMethodDef: {"TypeOrMethodDef", []Table{TableTypeDef, TableMethod}, 1},
}

func (c CodedIndex) String() string {
	if c < CodedIndexCount {
		return codedIndices[c].name
	}
	return fmt.Sprintf("CodedIndex(%d)", uint8(c))
}

// TagBits returns the number of low bits holding the table selector.
func (c CodedIndex) TagBits() uint {
	return codedIndices[c].bits
}

// Tables returns the tables addressable by this coded index, indexed by tag.
// Unused tags hold an invalid table.
func (c CodedIndex) Tables() []Table {
	return codedIndices[c].tables
}

// TableForTag returns the table selected by tag.
func (c CodedIndex) TableForTag(tag uint32) (Table, bool) {
	info := codedIndices[c]
	if int(tag) >= len(info.tables) || info.tables[tag] == tableNone {
		return 0, false
	}
	return info.tables[tag], true
}

// Decode converts a coded value into a token.
func (c CodedIndex) Decode(v uint32) (Token, error) {
	info := codedIndices[c]
	tag := v & (1<<info.bits - 1)
	table, ok := c.TableForTag(tag)
	if !ok {
		return 0, errors.New(errors.PhaseTables, errors.KindMalformed).
			Detail("%s: invalid tag %d in coded value 0x%x", info.name, tag, v).
			Value(v).
			Build()
	}
	return NewToken(table, v>>info.bits), nil
}

// Encode converts a token into a coded value. Null tokens encode as zero.
func (c CodedIndex) Encode(tok Token) (uint32, error) {
	if tok.IsNull() {
		return 0, nil
	}
	info := codedIndices[c]
	for tag, t := range info.tables {
		if t == tok.Table() {
			return tok.RID()<<info.bits | uint32(tag), nil
		}
	}
	return 0, errors.New(errors.PhaseWrite, errors.KindInvalidInput).
		Token(uint32(tok)).
		Detail("table %s is not addressable by %s", tok.Table(), info.name).
		Build()
}

// Size returns the coded index width in bytes for the given row counts: two
// bytes while every participating table fits in the bits left after the tag.
func (c CodedIndex) Size(rows *[TableCount]uint32) int {
	info := codedIndices[c]
	var maxRows uint32
	for _, t := range info.tables {
		if t == tableNone {
			continue
		}
		if rows[t] > maxRows {
			maxRows = rows[t]
		}
	}
	if maxRows < 1<<(16-info.bits) {
		return 2
	}
	return 4
}
