package cil

import (
	"unicode/utf16"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
	"github.com/wippyai/cli-metadata/metadata"
)

const (
	permissionSetNamespace = "System.Security.Permissions"
	permissionSetName      = "PermissionSetAttribute"
)

// decodeSecurity decodes a DeclSecurity permission set. Binary sets start
// with '.'; anything else is a UTF-16 XML set, surfaced as a
// PermissionSetAttribute with an XML property.
func (m *Module) decodeSecurity(blob []byte) ([]*SecurityAttribute, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if blob[0] != '.' {
		return []*SecurityAttribute{m.xmlPermissionSet(metadata.DecodeUTF16(blob))}, nil
	}

	r := &attributeReader{m: m, b: buffer.New(blob[1:])}
	count, err := r.b.ReadCompressedUint32()
	if err != nil {
		return nil, r.truncated(err)
	}
	if int(count) > r.b.Remaining() {
		return nil, errors.Truncated(errors.PhaseSignature, int64(r.b.Position()), int(count), r.b.Remaining())
	}
	attrs := make([]*SecurityAttribute, 0, count)
	for range count {
		name, err := readSerString(r.b)
		if err != nil {
			return nil, r.truncated(err)
		}
		if name == nil {
			return nil, errors.Malformed(errors.PhaseSignature, "security attribute without a type name")
		}
		t, err := m.parseTypeName(*name)
		if err != nil {
			return nil, err
		}
		size, err := r.b.ReadCompressedUint32()
		if err != nil {
			return nil, r.truncated(err)
		}
		body, err := r.b.ReadBytes(int(size))
		if err != nil {
			return nil, r.truncated(err)
		}
		sr := &attributeReader{m: m, b: buffer.New(body)}
		n, err := sr.b.ReadCompressedUint32()
		if err != nil {
			return nil, sr.truncated(err)
		}
		sa := &SecurityAttribute{AttributeType: t}
		if sa.Fields, sa.Properties, err = sr.namedArgList(int(n)); err != nil {
			return nil, err
		}
		attrs = append(attrs, sa)
	}
	return attrs, nil
}

func (m *Module) xmlPermissionSet(xml string) *SecurityAttribute {
	return &SecurityAttribute{
		AttributeType: m.corlibNamed(permissionSetNamespace, permissionSetName, false),
		Properties: []CustomAttributeNamedArgument{{
			Name:     "XML",
			Argument: CustomAttributeArgument{Type: m.corlibType(ElementString), Value: xml},
		}},
	}
}

// xmlOf returns the XML of a lone PermissionSetAttribute(XML=...).
func xmlOf(attrs []*SecurityAttribute) (string, bool) {
	if len(attrs) != 1 {
		return "", false
	}
	a := attrs[0]
	if a.AttributeType == nil || a.AttributeType.Namespace() != permissionSetNamespace ||
		a.AttributeType.Name() != permissionSetName || len(a.Fields) != 0 || len(a.Properties) != 1 {
		return "", false
	}
	p := a.Properties[0]
	xml, ok := p.Argument.Value.(string)
	return xml, ok && p.Name == "XML"
}

func encodeSecurity(m *Module, attrs []*SecurityAttribute) ([]byte, error) {
	if xml, ok := xmlOf(attrs); ok {
		b := buffer.NewWriter(len(xml) * 2)
		for _, u := range utf16.Encode([]rune(xml)) {
			b.WriteUint16(u)
		}
		return b.Bytes(), nil
	}

	b := buffer.NewWriter(64)
	b.WriteUint8('.')
	if err := b.WriteCompressedUint32(uint32(len(attrs))); err != nil {
		return nil, err
	}
	for _, a := range attrs {
		name := m.typeNameOf(a.AttributeType)
		if err := writeSerString(b, &name); err != nil {
			return nil, err
		}
		w := &attributeWriter{m: m, b: buffer.NewWriter(32)}
		if err := w.b.WriteCompressedUint32(uint32(len(a.Fields) + len(a.Properties))); err != nil {
			return nil, err
		}
		if err := w.namedArgs(namedArgField, a.Fields); err != nil {
			return nil, err
		}
		if err := w.namedArgs(namedArgProp, a.Properties); err != nil {
			return nil, err
		}
		body := w.b.Bytes()
		if err := b.WriteCompressedUint32(uint32(len(body))); err != nil {
			return nil, err
		}
		b.WriteBytes(body)
	}
	return b.Bytes(), nil
}
