package cil

import (
	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
)

// NativeType is an unmanaged type tag of a marshaling descriptor.
type NativeType uint8

const (
	NativeNone            NativeType = 0x66
	NativeBoolean         NativeType = 0x02
	NativeI1              NativeType = 0x03
	NativeU1              NativeType = 0x04
	NativeI2              NativeType = 0x05
	NativeU2              NativeType = 0x06
	NativeI4              NativeType = 0x07
	NativeU4              NativeType = 0x08
	NativeI8              NativeType = 0x09
	NativeU8              NativeType = 0x0A
	NativeR4              NativeType = 0x0B
	NativeR8              NativeType = 0x0C
	NativeCurrency        NativeType = 0x0F
	NativeBStr            NativeType = 0x13
	NativeLPStr           NativeType = 0x14
	NativeLPWStr          NativeType = 0x15
	NativeLPTStr          NativeType = 0x16
	NativeFixedSysString  NativeType = 0x17
	NativeIUnknown        NativeType = 0x19
	NativeIDispatch       NativeType = 0x1A
	NativeStruct          NativeType = 0x1B
	NativeIntF            NativeType = 0x1C
	NativeSafeArray       NativeType = 0x1D
	NativeFixedArray      NativeType = 0x1E
	NativeInt             NativeType = 0x1F
	NativeUInt            NativeType = 0x20
	NativeByValStr        NativeType = 0x22
	NativeANSIBStr        NativeType = 0x23
	NativeTBStr           NativeType = 0x24
	NativeVariantBool     NativeType = 0x25
	NativeFunc            NativeType = 0x26
	NativeASAny           NativeType = 0x28
	NativeArray           NativeType = 0x2A
	NativeLPStruct        NativeType = 0x2B
	NativeCustomMarshaler NativeType = 0x2C
	NativeError           NativeType = 0x2D
	NativeIInspectable    NativeType = 0x2E
	NativeHString         NativeType = 0x2F
	NativeMax             NativeType = 0x50
)

// VariantType is the element type of a SAFEARRAY.
type VariantType uint32

const VariantNone VariantType = 0

// MarshalInfo is a FieldMarshal descriptor. The concrete shapes are
// *SimpleMarshalInfo, *ArrayMarshalInfo, *FixedArrayMarshalInfo,
// *SafeArrayMarshalInfo, *FixedSysStringMarshalInfo and *CustomMarshalInfo.
type MarshalInfo interface {
	NativeType() NativeType
}

// SimpleMarshalInfo carries only the native type.
type SimpleMarshalInfo struct {
	Type NativeType
}

func (s *SimpleMarshalInfo) NativeType() NativeType { return s.Type }

// ArrayMarshalInfo describes NATIVE_TYPE_ARRAY. Negative sizes are absent.
type ArrayMarshalInfo struct {
	ElementType             NativeType
	SizeParameterIndex      int32
	Size                    int32
	SizeParameterMultiplier int32
}

// NewArrayMarshalInfo returns an array descriptor with every optional part
// absent.
func NewArrayMarshalInfo() *ArrayMarshalInfo {
	return &ArrayMarshalInfo{ElementType: NativeNone, SizeParameterIndex: -1, Size: -1, SizeParameterMultiplier: -1}
}

func (*ArrayMarshalInfo) NativeType() NativeType { return NativeArray }

// FixedArrayMarshalInfo describes NATIVE_TYPE_FIXEDARRAY.
type FixedArrayMarshalInfo struct {
	Size        int32
	ElementType NativeType
}

func (*FixedArrayMarshalInfo) NativeType() NativeType { return NativeFixedArray }

// SafeArrayMarshalInfo describes NATIVE_TYPE_SAFEARRAY.
type SafeArrayMarshalInfo struct {
	ElementType VariantType
}

func (*SafeArrayMarshalInfo) NativeType() NativeType { return NativeSafeArray }

// FixedSysStringMarshalInfo describes NATIVE_TYPE_FIXEDSYSSTRING.
type FixedSysStringMarshalInfo struct {
	Size int32
}

func (*FixedSysStringMarshalInfo) NativeType() NativeType { return NativeFixedSysString }

// CustomMarshalInfo describes NATIVE_TYPE_CUSTOMMARSHALER.
type CustomMarshalInfo struct {
	GUID          string
	UnmanagedType string
	ManagedType   Type
	Cookie        string
}

func (*CustomMarshalInfo) NativeType() NativeType { return NativeCustomMarshaler }

func (m *Module) decodeMarshal(blob []byte) (MarshalInfo, error) {
	b := buffer.New(blob)
	tag, err := b.ReadByte()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseSignature, errors.KindTruncated, err, "marshal descriptor")
	}
	more := func() bool { return b.Remaining() > 0 }
	compressed := func() (int32, error) {
		v, err := b.ReadCompressedUint32()
		return int32(v), err
	}

	switch nt := NativeType(tag); nt {
	case NativeArray:
		a := NewArrayMarshalInfo()
		if more() {
			et, err := b.ReadByte()
			if err != nil {
				return nil, marshalErr(err)
			}
			a.ElementType = NativeType(et)
		}
		for _, dst := range []*int32{&a.SizeParameterIndex, &a.Size, &a.SizeParameterMultiplier} {
			if !more() {
				break
			}
			if *dst, err = compressed(); err != nil {
				return nil, marshalErr(err)
			}
		}
		return a, nil
	case NativeFixedArray:
		a := &FixedArrayMarshalInfo{Size: -1, ElementType: NativeNone}
		if more() {
			if a.Size, err = compressed(); err != nil {
				return nil, marshalErr(err)
			}
		}
		if more() {
			et, err := b.ReadByte()
			if err != nil {
				return nil, marshalErr(err)
			}
			a.ElementType = NativeType(et)
		}
		return a, nil
	case NativeSafeArray:
		s := &SafeArrayMarshalInfo{}
		if more() {
			v, err := b.ReadCompressedUint32()
			if err != nil {
				return nil, marshalErr(err)
			}
			s.ElementType = VariantType(v)
		}
		return s, nil
	case NativeFixedSysString:
		s := &FixedSysStringMarshalInfo{Size: -1}
		if more() {
			if s.Size, err = compressed(); err != nil {
				return nil, marshalErr(err)
			}
		}
		return s, nil
	case NativeCustomMarshaler:
		c := &CustomMarshalInfo{}
		var managed *string
		for _, dst := range []*string{&c.GUID, &c.UnmanagedType, nil, &c.Cookie} {
			s, err := readSerString(b)
			if err != nil {
				return nil, marshalErr(err)
			}
			if dst == nil {
				managed = s
				continue
			}
			if s != nil {
				*dst = *s
			}
		}
		if managed != nil && *managed != "" {
			if c.ManagedType, err = m.parseTypeName(*managed); err != nil {
				return nil, err
			}
		}
		return c, nil
	default:
		return &SimpleMarshalInfo{Type: nt}, nil
	}
}

func marshalErr(err error) error {
	return errors.Wrap(errors.PhaseSignature, errors.KindTruncated, err, "marshal descriptor")
}

func (m *Module) encodeMarshal(mi MarshalInfo) ([]byte, error) {
	b := buffer.NewWriter(8)
	b.WriteUint8(byte(mi.NativeType()))
	var err error
	switch x := mi.(type) {
	case *ArrayMarshalInfo:
		if x.ElementType != NativeNone {
			b.WriteUint8(byte(x.ElementType))
		}
		for _, v := range []int32{x.SizeParameterIndex, x.Size, x.SizeParameterMultiplier} {
			if v > -1 && err == nil {
				err = b.WriteCompressedUint32(uint32(v))
			}
		}
	case *FixedArrayMarshalInfo:
		if x.Size > -1 {
			err = b.WriteCompressedUint32(uint32(x.Size))
		}
		if x.ElementType != NativeNone {
			b.WriteUint8(byte(x.ElementType))
		}
	case *SafeArrayMarshalInfo:
		if x.ElementType != VariantNone {
			err = b.WriteCompressedUint32(uint32(x.ElementType))
		}
	case *FixedSysStringMarshalInfo:
		if x.Size > -1 {
			err = b.WriteCompressedUint32(uint32(x.Size))
		}
	case *CustomMarshalInfo:
		managed := ""
		if x.ManagedType != nil {
			managed = m.typeNameOf(x.ManagedType)
		}
		for _, s := range []string{x.GUID, x.UnmanagedType, managed, x.Cookie} {
			if err == nil {
				err = writeSerString(b, &s)
			}
		}
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWrite, errors.KindOverflow, err, "marshal descriptor")
	}
	return b.Bytes(), nil
}
