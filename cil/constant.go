package cil

import (
	"unicode/utf16"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
	"github.com/wippyai/cli-metadata/metadata"
)

// Constant is a default value from the Constant table. A null reference has
// Type ElementClass and a nil Value.
type Constant struct {
	Type  ElementType
	Value any
}

// NewConstant infers the element type from a Go value. Supported values are
// bool, the sized integers, float32, float64, string and nil. Char constants
// are built directly as Constant{Type: ElementChar, Value: rune(c)}.
func NewConstant(v any) (*Constant, error) {
	var et ElementType
	switch v.(type) {
	case nil:
		et = ElementClass
	case bool:
		et = ElementBoolean
	case int8:
		et = ElementI1
	case uint8:
		et = ElementU1
	case int16:
		et = ElementI2
	case uint16:
		et = ElementU2
	case int32:
		et = ElementI4
	case uint32:
		et = ElementU4
	case int64:
		et = ElementI8
	case uint64:
		et = ElementU8
	case float32:
		et = ElementR4
	case float64:
		et = ElementR8
	case string:
		et = ElementString
	default:
		return nil, errors.New(errors.PhaseSignature, errors.KindInvalidInput).
			Value(v).
			Detail("unsupported constant type %T", v).
			Build()
	}
	return &Constant{Type: et, Value: v}, nil
}

func decodeConstant(et ElementType, blob []byte) (any, error) {
	b := buffer.New(blob)
	var (
		v   any
		err error
	)
	switch et {
	case ElementBoolean:
		var x byte
		x, err = b.ReadByte()
		v = x != 0
	case ElementChar:
		var x uint16
		x, err = b.ReadUint16()
		v = rune(x)
	case ElementI1:
		v, err = b.ReadInt8()
	case ElementU1:
		v, err = b.ReadByte()
	case ElementI2:
		v, err = b.ReadInt16()
	case ElementU2:
		v, err = b.ReadUint16()
	case ElementI4:
		v, err = b.ReadInt32()
	case ElementU4:
		v, err = b.ReadUint32()
	case ElementI8:
		v, err = b.ReadInt64()
	case ElementU8:
		v, err = b.ReadUint64()
	case ElementR4:
		v, err = b.ReadSingle()
	case ElementR8:
		v, err = b.ReadDouble()
	case ElementString:
		v = metadata.DecodeUTF16(blob)
	case ElementClass:
		v = nil
	default:
		return nil, errors.InvalidElementType("constant", byte(et))
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseSignature, errors.KindTruncated, err, "constant value")
	}
	return v, nil
}

// encodeConstant returns the blob for c.
func encodeConstant(c *Constant) ([]byte, error) {
	b := buffer.NewWriter(8)
	bad := func() error {
		return errors.New(errors.PhaseWrite, errors.KindInvalidInput).
			Value(c.Value).
			Detail("constant value %T does not match element type %s", c.Value, c.Type).
			Build()
	}
	switch c.Type {
	case ElementBoolean:
		x, ok := c.Value.(bool)
		if !ok {
			return nil, bad()
		}
		if x {
			b.WriteUint8(1)
		} else {
			b.WriteUint8(0)
		}
	case ElementChar:
		x, ok := c.Value.(rune)
		if !ok {
			return nil, bad()
		}
		b.WriteUint16(uint16(x))
	case ElementString:
		s, ok := c.Value.(string)
		if !ok {
			return nil, bad()
		}
		for _, u := range utf16.Encode([]rune(s)) {
			b.WriteUint16(u)
		}
	case ElementClass:
		b.WriteUint32(0)
	default:
		if !writeNumeric(b, c.Type, c.Value) {
			return nil, bad()
		}
	}
	return b.Bytes(), nil
}

// writeNumeric writes a sized integer or float whose Go type matches et.
func writeNumeric(b *buffer.Buffer, et ElementType, v any) bool {
	switch x := v.(type) {
	case int8:
		if et == ElementI1 {
			b.WriteInt8(x)
			return true
		}
	case uint8:
		if et == ElementU1 {
			b.WriteUint8(x)
			return true
		}
	case int16:
		if et == ElementI2 {
			b.WriteInt16(x)
			return true
		}
	case uint16:
		if et == ElementU2 {
			b.WriteUint16(x)
			return true
		}
	case int32:
		if et == ElementI4 {
			b.WriteInt32(x)
			return true
		}
	case uint32:
		if et == ElementU4 {
			b.WriteUint32(x)
			return true
		}
	case int64:
		if et == ElementI8 {
			b.WriteInt64(x)
			return true
		}
	case uint64:
		if et == ElementU8 {
			b.WriteUint64(x)
			return true
		}
	case float32:
		if et == ElementR4 {
			b.WriteSingle(x)
			return true
		}
	case float64:
		if et == ElementR8 {
			b.WriteDouble(x)
			return true
		}
	}
	return false
}
