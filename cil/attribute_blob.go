package cil

import (
	"unicode/utf8"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
)

const nullArrayLength = 0xFFFFFFFF

// readSerString reads a SerString: 0xFF is null, otherwise a compressed
// length followed by UTF-8 bytes.
func readSerString(b *buffer.Buffer) (*string, error) {
	c, err := b.Peek()
	if err != nil {
		return nil, err
	}
	if c == 0xFF {
		_ = b.Advance(1)
		return nil, nil
	}
	n, err := b.ReadCompressedUint32()
	if err != nil {
		return nil, err
	}
	raw, err := b.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}
	s := string(raw)
	if !utf8.ValidString(s) {
		return nil, errors.Malformed(errors.PhaseSignature, "invalid UTF-8 in serialized string")
	}
	return &s, nil
}

func writeSerString(b *buffer.Buffer, s *string) error {
	if s == nil {
		b.WriteUint8(0xFF)
		return nil
	}
	if err := b.WriteCompressedUint32(uint32(len(*s))); err != nil {
		return err
	}
	b.WriteBytes([]byte(*s))
	return nil
}

// attributeReader decodes one custom attribute or security blob.
type attributeReader struct {
	m *Module
	b *buffer.Buffer
}

func (r *attributeReader) truncated(err error) error {
	return errors.New(errors.PhaseSignature, errors.KindTruncated).
		Offset(int64(r.b.Position())).
		Detail("custom attribute blob").
		Cause(err).
		Build()
}

// decodeAttribute decodes a blob against the constructor's parameters.
func (m *Module) decodeAttribute(ctor MethodRef, blob []byte) (*attributeArgs, error) {
	args := &attributeArgs{}
	if len(blob) == 0 {
		return args, nil
	}
	sig, err := m.methodSignatureLocked(ctor)
	if err != nil {
		return nil, err
	}
	r := &attributeReader{m: m, b: buffer.New(blob)}
	prolog, err := r.b.ReadUint16()
	if err != nil {
		return nil, r.truncated(err)
	}
	if prolog != 0x0001 {
		return nil, errors.New(errors.PhaseSignature, errors.KindMalformed).
			Value(prolog).
			Detail("custom attribute prolog 0x%04x", prolog).
			Build()
	}
	for _, p := range sig.Parameters {
		arg, err := r.fixedArg(p)
		if err != nil {
			return nil, err
		}
		args.ctor = append(args.ctor, arg)
	}
	args.fields, args.properties, err = r.namedArgs()
	if err != nil {
		return nil, err
	}
	return args, nil
}

func (r *attributeReader) namedArgs() (fields, props []CustomAttributeNamedArgument, err error) {
	if r.b.Remaining() == 0 {
		return nil, nil, nil
	}
	n, err := r.b.ReadUint16()
	if err != nil {
		return nil, nil, r.truncated(err)
	}
	return r.namedArgList(int(n))
}

func (r *attributeReader) namedArgList(n int) (fields, props []CustomAttributeNamedArgument, err error) {
	for range n {
		kind, err := r.b.ReadByte()
		if err != nil {
			return nil, nil, r.truncated(err)
		}
		if kind != namedArgField && kind != namedArgProp {
			return nil, nil, errors.InvalidElementType("named argument kind", kind)
		}
		t, err := r.fieldOrPropType()
		if err != nil {
			return nil, nil, err
		}
		name, err := readSerString(r.b)
		if err != nil {
			return nil, nil, r.truncated(err)
		}
		arg, err := r.fixedArg(t)
		if err != nil {
			return nil, nil, err
		}
		na := CustomAttributeNamedArgument{Argument: arg}
		if name != nil {
			na.Name = *name
		}
		if kind == namedArgField {
			fields = append(fields, na)
		} else {
			props = append(props, na)
		}
	}
	return fields, props, nil
}

func (r *attributeReader) fixedArg(t Type) (CustomAttributeArgument, error) {
	if arr, ok := t.(*ArrayType); ok && arr.IsVector() {
		n, err := r.b.ReadUint32()
		if err != nil {
			return CustomAttributeArgument{}, r.truncated(err)
		}
		if n == nullArrayLength {
			return CustomAttributeArgument{Type: t}, nil
		}
		if int(n) > r.b.Remaining() {
			return CustomAttributeArgument{}, errors.Truncated(errors.PhaseSignature, int64(r.b.Position()), int(n), r.b.Remaining())
		}
		elems := make([]CustomAttributeArgument, 0, n)
		for range n {
			e, err := r.element(arr.Element)
			if err != nil {
				return CustomAttributeArgument{}, err
			}
			elems = append(elems, e)
		}
		return CustomAttributeArgument{Type: t, Value: elems}, nil
	}
	return r.element(t)
}

func (r *attributeReader) element(t Type) (CustomAttributeArgument, error) {
	et := t.ElementType()
	switch {
	case et == ElementObject:
		inner, err := r.fieldOrPropType()
		if err != nil {
			return CustomAttributeArgument{}, err
		}
		boxed, err := r.fixedArg(inner)
		if err != nil {
			return CustomAttributeArgument{}, err
		}
		return CustomAttributeArgument{Type: t, Value: boxed}, nil
	case isSystemType(t):
		name, err := readSerString(r.b)
		if err != nil {
			return CustomAttributeArgument{}, r.truncated(err)
		}
		if name == nil {
			return CustomAttributeArgument{Type: t}, nil
		}
		typ, err := r.m.parseTypeName(*name)
		if err != nil {
			return CustomAttributeArgument{}, err
		}
		return CustomAttributeArgument{Type: t, Value: typ}, nil
	case et == ElementString:
		s, err := readSerString(r.b)
		if err != nil {
			return CustomAttributeArgument{}, r.truncated(err)
		}
		if s == nil {
			return CustomAttributeArgument{Type: t}, nil
		}
		return CustomAttributeArgument{Type: t, Value: *s}, nil
	case et.IsPrimitive():
		v, err := r.primitive(et)
		return CustomAttributeArgument{Type: t, Value: v}, err
	case t.IsValueType():
		under, err := r.m.enumUnderlying(t)
		if err != nil {
			return CustomAttributeArgument{}, err
		}
		v, err := r.primitive(under)
		return CustomAttributeArgument{Type: t, Value: v}, err
	}
	return CustomAttributeArgument{}, errors.Unsupported(errors.PhaseSignature, "custom attribute argument of type "+t.FullName())
}

func (r *attributeReader) primitive(et ElementType) (any, error) {
	b := r.b
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
	default:
		return nil, errors.InvalidElementType("custom attribute primitive", byte(et))
	}
	if err != nil {
		return nil, r.truncated(err)
	}
	return v, nil
}

// fieldOrPropType reads the type tag of a named or boxed argument.
func (r *attributeReader) fieldOrPropType() (Type, error) {
	tag, err := r.b.ReadByte()
	if err != nil {
		return nil, r.truncated(err)
	}
	switch et := ElementType(tag); {
	case et == ElementBoxed:
		return r.m.corlibType(ElementObject), nil
	case et == ElementSystemType:
		return r.m.corlibNamed("System", "Type", false), nil
	case et == ElementSzArray:
		elem, err := r.fieldOrPropType()
		if err != nil {
			return nil, err
		}
		return NewVector(elem), nil
	case et == ElementEnum:
		name, err := readSerString(r.b)
		if err != nil {
			return nil, r.truncated(err)
		}
		if name == nil {
			return nil, errors.Malformed(errors.PhaseSignature, "null enum type name")
		}
		t, err := r.m.parseTypeName(*name)
		if err != nil {
			return nil, err
		}
		if ref, ok := t.(*TypeReference); ok {
			ref.valueType = true
		}
		return t, nil
	case et.IsPrimitive() && et != ElementVoid && et != ElementTypedByRef && et != ElementI && et != ElementU:
		return r.m.corlibType(et), nil
	}
	return nil, errors.InvalidElementType("custom attribute field or property type", tag)
}

func isSystemType(t Type) bool {
	return t.Namespace() == "System" && t.Name() == "Type" && t.ElementType() == ElementClass
}

// encodeAttribute serializes decoded arguments. Values are written by their
// Go type, so enum arguments need no resolution.
func encodeAttribute(m *Module, args *attributeArgs) ([]byte, error) {
	w := &attributeWriter{m: m, b: buffer.NewWriter(32)}
	w.b.WriteUint16(0x0001)
	for _, a := range args.ctor {
		if err := w.fixedArg(a); err != nil {
			return nil, err
		}
	}
	w.b.WriteUint16(uint16(len(args.fields) + len(args.properties)))
	if err := w.namedArgs(namedArgField, args.fields); err != nil {
		return nil, err
	}
	if err := w.namedArgs(namedArgProp, args.properties); err != nil {
		return nil, err
	}
	return w.b.Bytes(), nil
}

type attributeWriter struct {
	m *Module
	b *buffer.Buffer
}

func (w *attributeWriter) namedArgs(kind byte, list []CustomAttributeNamedArgument) error {
	for _, na := range list {
		w.b.WriteUint8(kind)
		if err := w.fieldOrPropType(na.Argument.Type); err != nil {
			return err
		}
		name := na.Name
		if err := writeSerString(w.b, &name); err != nil {
			return err
		}
		if err := w.fixedArg(na.Argument); err != nil {
			return err
		}
	}
	return nil
}

func (w *attributeWriter) fixedArg(a CustomAttributeArgument) error {
	if arr, ok := a.Type.(*ArrayType); ok && arr.IsVector() {
		elems, _ := a.Value.([]CustomAttributeArgument)
		if elems == nil {
			w.b.WriteUint32(nullArrayLength)
			return nil
		}
		w.b.WriteUint32(uint32(len(elems)))
		for _, e := range elems {
			if e.Type == nil {
				e.Type = arr.Element
			}
			if err := w.element(e); err != nil {
				return err
			}
		}
		return nil
	}
	return w.element(a)
}

func (w *attributeWriter) element(a CustomAttributeArgument) error {
	switch v := a.Value.(type) {
	case CustomAttributeArgument:
		if err := w.fieldOrPropType(v.Type); err != nil {
			return err
		}
		return w.fixedArg(v)
	case Type:
		name := w.m.typeNameOf(v)
		return writeSerString(w.b, &name)
	case string:
		return writeSerString(w.b, &v)
	case nil:
		if a.Type != nil && a.Type.ElementType() == ElementObject {
			// A null object is boxed as a null string.
			w.b.WriteUint8(byte(ElementString))
		}
		w.b.WriteUint8(0xFF)
		return nil
	case bool:
		if v {
			w.b.WriteUint8(1)
		} else {
			w.b.WriteUint8(0)
		}
		return nil
	}
	et := ElementNone
	if a.Type != nil {
		et = a.Type.ElementType()
	}
	if et == ElementChar {
		if r, ok := a.Value.(rune); ok {
			w.b.WriteUint16(uint16(r))
			return nil
		}
	}
	if !writeNumeric(w.b, goElementType(a.Value), a.Value) {
		return errors.New(errors.PhaseWrite, errors.KindInvalidInput).
			Value(a.Value).
			Detail("custom attribute value %T", a.Value).
			Build()
	}
	return nil
}

// goElementType maps a Go numeric value to its element type.
func goElementType(v any) ElementType {
	switch v.(type) {
	case int8:
		return ElementI1
	case uint8:
		return ElementU1
	case int16:
		return ElementI2
	case uint16:
		return ElementU2
	case int32:
		return ElementI4
	case uint32:
		return ElementU4
	case int64:
		return ElementI8
	case uint64:
		return ElementU8
	case float32:
		return ElementR4
	case float64:
		return ElementR8
	}
	return ElementNone
}

func (w *attributeWriter) fieldOrPropType(t Type) error {
	if t == nil {
		return errors.InvalidInput(errors.PhaseWrite, "custom attribute argument without a type")
	}
	switch et := t.ElementType(); {
	case et == ElementObject:
		w.b.WriteUint8(byte(ElementBoxed))
	case isSystemType(t):
		w.b.WriteUint8(byte(ElementSystemType))
	case et == ElementSzArray:
		w.b.WriteUint8(byte(ElementSzArray))
		return w.fieldOrPropType(t.(*ArrayType).Element)
	case et.IsPrimitive():
		w.b.WriteUint8(byte(et))
	case t.IsValueType():
		w.b.WriteUint8(byte(ElementEnum))
		name := w.m.typeNameOf(t)
		return writeSerString(w.b, &name)
	default:
		return errors.Unsupported(errors.PhaseWrite, "custom attribute field or property type "+t.FullName())
	}
	return nil
}
