package cil

import "fmt"

// ElementType is a signature element type tag (ECMA-335 II.23.1.16).
type ElementType uint8

const (
	ElementNone        ElementType = 0x00
	ElementVoid        ElementType = 0x01
	ElementBoolean     ElementType = 0x02
	ElementChar        ElementType = 0x03
	ElementI1          ElementType = 0x04
	ElementU1          ElementType = 0x05
	ElementI2          ElementType = 0x06
	ElementU2          ElementType = 0x07
	ElementI4          ElementType = 0x08
	ElementU4          ElementType = 0x09
	ElementI8          ElementType = 0x0A
	ElementU8          ElementType = 0x0B
	ElementR4          ElementType = 0x0C
	ElementR8          ElementType = 0x0D
	ElementString      ElementType = 0x0E
	ElementPtr         ElementType = 0x0F
	ElementByRef       ElementType = 0x10
	ElementValueType   ElementType = 0x11
	ElementClass       ElementType = 0x12
	ElementVar         ElementType = 0x13
	ElementArray       ElementType = 0x14
	ElementGenericInst ElementType = 0x15
	ElementTypedByRef  ElementType = 0x16
	ElementI           ElementType = 0x18
	ElementU           ElementType = 0x19
	ElementFnPtr       ElementType = 0x1B
	ElementObject      ElementType = 0x1C
	ElementSzArray     ElementType = 0x1D
	ElementMVar        ElementType = 0x1E
	ElementCModReqd    ElementType = 0x1F
	ElementCModOpt     ElementType = 0x20
	ElementInternal    ElementType = 0x21
	ElementModifier    ElementType = 0x40
	ElementSentinel    ElementType = 0x41
	ElementPinned      ElementType = 0x45

	// Custom attribute blob tags.
	ElementSystemType ElementType = 0x50
	ElementBoxed      ElementType = 0x51
	ElementEnum       ElementType = 0x55
)

const (
	namedArgField byte = 0x53
	namedArgProp  byte = 0x54
)

var primitiveNames = map[ElementType]string{
	ElementVoid:       "Void",
	ElementBoolean:    "Boolean",
	ElementChar:       "Char",
	ElementI1:         "SByte",
	ElementU1:         "Byte",
	ElementI2:         "Int16",
	ElementU2:         "UInt16",
	ElementI4:         "Int32",
	ElementU4:         "UInt32",
	ElementI8:         "Int64",
	ElementU8:         "UInt64",
	ElementR4:         "Single",
	ElementR8:         "Double",
	ElementString:     "String",
	ElementTypedByRef: "TypedReference",
	ElementI:          "IntPtr",
	ElementU:          "UIntPtr",
	ElementObject:     "Object",
}

var primitiveByName = func() map[string]ElementType {
	m := make(map[string]ElementType, len(primitiveNames))
	for et, name := range primitiveNames {
		m[name] = et
	}
	return m
}()

func (e ElementType) String() string {
	if name, ok := primitiveNames[e]; ok {
		return name
	}
	switch e {
	case ElementNone:
		return "none"
	case ElementPtr:
		return "ptr"
	case ElementByRef:
		return "byref"
	case ElementValueType:
		return "valuetype"
	case ElementClass:
		return "class"
	case ElementVar:
		return "var"
	case ElementArray:
		return "array"
	case ElementGenericInst:
		return "genericinst"
	case ElementFnPtr:
		return "fnptr"
	case ElementSzArray:
		return "szarray"
	case ElementMVar:
		return "mvar"
	case ElementCModReqd:
		return "cmod_reqd"
	case ElementCModOpt:
		return "cmod_opt"
	case ElementInternal:
		return "internal"
	case ElementModifier:
		return "modifier"
	case ElementSentinel:
		return "sentinel"
	case ElementPinned:
		return "pinned"
	case ElementSystemType:
		return "type"
	case ElementBoxed:
		return "boxed"
	case ElementEnum:
		return "enum"
	}
	return fmt.Sprintf("element(0x%02x)", uint8(e))
}

// IsPrimitive reports whether e names a built-in corlib type.
func (e ElementType) IsPrimitive() bool {
	_, ok := primitiveNames[e]
	return ok
}

// isPrimitiveValueType reports whether the built-in type e is a value type.
func (e ElementType) isPrimitiveValueType() bool {
	switch e {
	case ElementBoolean, ElementChar, ElementI1, ElementU1, ElementI2, ElementU2,
		ElementI4, ElementU4, ElementI8, ElementU8, ElementR4, ElementR8,
		ElementI, ElementU, ElementTypedByRef, ElementVoid:
		return true
	}
	return false
}

// size returns the byte size of a fixed-size primitive, or 0.
func (e ElementType) size() int {
	switch e {
	case ElementBoolean, ElementI1, ElementU1:
		return 1
	case ElementChar, ElementI2, ElementU2:
		return 2
	case ElementI4, ElementU4, ElementR4:
		return 4
	case ElementI8, ElementU8, ElementR8:
		return 8
	}
	return 0
}

// Calling conventions (low nibble of a method signature's first byte).
const (
	CallDefault   uint8 = 0x00
	CallC         uint8 = 0x01
	CallStdCall   uint8 = 0x02
	CallThisCall  uint8 = 0x03
	CallFastCall  uint8 = 0x04
	CallVarArg    uint8 = 0x05
	CallUnmanaged uint8 = 0x09
)

const (
	callGeneric      uint8 = 0x10
	callHasThis      uint8 = 0x20
	callExplicitThis uint8 = 0x40
)

// Leading bytes of non-method signatures.
const (
	sigField       byte = 0x06
	sigLocalVar    byte = 0x07
	sigProperty    byte = 0x08
	sigGenericInst byte = 0x0A
)
