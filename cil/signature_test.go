package cil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/metadata"
)

// fixedTokens tokenizes a fixed set of types.
type fixedTokens map[Type]metadata.Token

func (f fixedTokens) typeToken(t Type) (metadata.Token, error) {
	if tok, ok := f[t]; ok {
		return tok, nil
	}
	return 0, errors.NotFound(errors.PhaseWrite, "type", t.FullName())
}

// buildGeneric declares Holder`1<T> with a static generic method
// Use<U>(List`1<T>).
func buildGeneric(t *testing.T) (*Module, Type, *MethodDefinition) {
	t.Helper()
	m := NewModule("Gen.dll", ModuleDLL)
	list := m.CorlibNamed("System.Collections.Generic", "List`1", false)

	holder := NewTypeDefinition("Acme", "Holder`1", TypePublic, m.CorlibNamed("System", "Object", false))
	require.NoError(t, m.AddType(holder))
	tp := NewGenericParameter("T")
	require.NoError(t, holder.AddGenericParameter(tp))

	use := NewMethodDefinition("Use", MethodPublic|MethodStatic, 0, m.CorlibType(ElementVoid))
	require.NoError(t, holder.AddMethod(use))
	require.NoError(t, use.AddGenericParameter(NewGenericParameter("U")))
	arg := &GenericInstanceType{Element: list, Arguments: []Type{tp}}
	require.NoError(t, use.AddParameter(NewParameterDefinition("items", 0, arg)))
	use.SetBody(NewMethodBody([]byte{0x2A}))
	return m, list, use
}

func TestGenericMethodSignatureEncoding(t *testing.T) {
	_, list, use := buildGeneric(t)
	sig, err := use.Signature()
	require.NoError(t, err)

	blob, err := encodeMethodSig(fixedTokens{list: metadata.NewToken(metadata.TableTypeRef, 1)}, sig)
	require.NoError(t, err)
	// GENERIC, arity 1, 1 param, VOID, GENERICINST CLASS TypeRef(1) 1 VAR 0
	require.Equal(t, []byte{0x10, 0x01, 0x01, 0x01, 0x15, 0x12, 0x05, 0x01, 0x13, 0x00}, blob)
}

func TestGenericMethodSignatureDecoding(t *testing.T) {
	m, _, _ := buildGeneric(t)
	r, _ := writeRead(t, m)

	holder, err := r.FindType("Acme.Holder`1")
	require.NoError(t, err)
	use := methodNamed(t, holder, "Use")

	sig, err := use.Signature()
	require.NoError(t, err)
	require.True(t, sig.IsGeneric())
	require.Equal(t, 1, sig.GenericArity)
	require.False(t, sig.HasThis)
	require.Equal(t, ElementVoid, sig.ReturnType.ElementType())
	require.Len(t, sig.Parameters, 1)

	inst, ok := sig.Parameters[0].(*GenericInstanceType)
	require.True(t, ok, "parameter is %T", sig.Parameters[0])
	require.Equal(t, "System.Collections.Generic.List`1", inst.Element.FullName())
	require.Len(t, inst.Arguments, 1)

	gps, err := holder.GenericParameters()
	require.NoError(t, err)
	require.Same(t, gps[0], inst.Arguments[0])
}

func TestSignatureErrors(t *testing.T) {
	m := NewModule("Err.dll", ModuleDLL)

	_, err := encodeFieldSig(fixedTokens{}, nil)
	require.ErrorIs(t, err, errors.ErrInvalidInput)

	// Object encodes as a primitive tag; Exception needs a CLASS token the
	// tokenizer does not know.
	_, err = encodeFieldSig(fixedTokens{}, m.CorlibNamed("System", "Object", false))
	require.NoError(t, err)
	_, err = encodeFieldSig(fixedTokens{}, m.CorlibNamed("System", "Exception", false))
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestConstantEncoding(t *testing.T) {
	tests := []struct {
		name string
		c    *Constant
		want []byte
	}{
		{"string", &Constant{Type: ElementString, Value: "Hi"}, []byte{'H', 0, 'i', 0}},
		{"null", &Constant{Type: ElementClass}, []byte{0, 0, 0, 0}},
		{"bool", &Constant{Type: ElementBoolean, Value: true}, []byte{1}},
		{"int32", &Constant{Type: ElementI4, Value: int32(-2)}, []byte{0xFE, 0xFF, 0xFF, 0xFF}},
		{"char", &Constant{Type: ElementChar, Value: rune('A')}, []byte{'A', 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := encodeConstant(tt.c)
			require.NoError(t, err)
			require.Equal(t, tt.want, blob)

			v, err := decodeConstant(tt.c.Type, blob)
			require.NoError(t, err)
			require.Equal(t, tt.c.Value, v)
		})
	}
}

func TestNewConstantInfersType(t *testing.T) {
	c, err := NewConstant(int64(7))
	require.NoError(t, err)
	require.Equal(t, ElementI8, c.Type)

	c, err = NewConstant(nil)
	require.NoError(t, err)
	require.Equal(t, ElementClass, c.Type)

	_, err = NewConstant(struct{}{})
	require.Error(t, err)
}

func TestDecodeConstantTruncated(t *testing.T) {
	_, err := decodeConstant(ElementI8, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestMarshalDescriptors(t *testing.T) {
	m := NewModule("Marshal.dll", ModuleDLL)

	arr := NewArrayMarshalInfo()
	arr.ElementType = NativeLPStr
	arr.SizeParameterIndex = 2

	tests := []struct {
		name string
		mi   MarshalInfo
		want []byte
	}{
		{"simple", &SimpleMarshalInfo{Type: NativeLPWStr}, []byte{0x15}},
		{"array", arr, []byte{0x2A, 0x14, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := m.encodeMarshal(tt.mi)
			require.NoError(t, err)
			require.Equal(t, tt.want, blob)

			got, err := m.decodeMarshal(blob)
			require.NoError(t, err)
			require.Equal(t, tt.mi, got)
		})
	}
}
