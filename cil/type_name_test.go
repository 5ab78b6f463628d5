package cil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/cli-metadata/errors"
)

func TestParseTypeNameString(t *testing.T) {
	tests := []struct {
		in   string
		want *parsedTypeName
	}{
		{
			in:   "System.Int32",
			want: &parsedTypeName{namespace: "System", names: []string{"Int32"}},
		},
		{
			in:   "Outer+Inner*&",
			want: &parsedTypeName{names: []string{"Outer", "Inner"}, suffixes: []string{"*", "&"}},
		},
		{
			in: "Ns.Box`1[[System.Int32, mscorlib]][], Lib, Version=1.0.0.0",
			want: &parsedTypeName{
				namespace: "Ns",
				names:     []string{"Box`1"},
				args: []*parsedTypeName{
					{namespace: "System", names: []string{"Int32"}, assembly: "mscorlib"},
				},
				suffixes: []string{"[]"},
				assembly: "Lib, Version=1.0.0.0",
			},
		},
		{
			in:   "A.Grid[,]",
			want: &parsedTypeName{namespace: "A", names: []string{"Grid"}, suffixes: []string{"[,]"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTypeNameString(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseTypeNameStringErrors(t *testing.T) {
	for _, in := range []string{"", "A+", "Box`1[[System.Int32", "A.B[", "A.B]"} {
		_, err := parseTypeNameString(in)
		require.ErrorIs(t, err, errors.ErrMalformed, "%q", in)
	}
}

func TestParseAssemblyName(t *testing.T) {
	ref := parseAssemblyName("System.Runtime, Version=4.2.1.0, Culture=neutral, PublicKeyToken=b03f5f7f11d50a3a")
	require.Equal(t, "System.Runtime", ref.Name)
	require.Equal(t, Version{Major: 4, Minor: 2, Build: 1}, ref.Version)
	require.Empty(t, ref.Culture)
	require.Equal(t, []byte{0xb0, 0x3f, 0x5f, 0x7f, 0x11, 0xd5, 0x0a, 0x3a}, ref.PublicKeyOrToken)

	ref = parseAssemblyName("Lib, Culture=de-DE, PublicKeyToken=null")
	require.Equal(t, "de-DE", ref.Culture)
	require.Nil(t, ref.PublicKeyOrToken)
}

func TestTypeNameRoundTrip(t *testing.T) {
	m := NewModule("Names.dll", ModuleDLL)
	own := NewTypeDefinition("Acme", "Outer", TypePublic, nil)
	require.NoError(t, m.AddType(own))
	require.NoError(t, own.AddNestedType(NewTypeDefinition("", "Inner", TypeNestedPublic, nil)))

	defer m.lock()()
	inner, err := m.parseTypeName("Acme.Outer+Inner")
	require.NoError(t, err)
	def, ok := inner.(*TypeDefinition)
	require.True(t, ok)
	require.Equal(t, "Acme.Outer/Inner", def.FullName())
	require.Equal(t, "Acme.Outer+Inner", m.typeNameOf(def))

	i4, err := m.parseTypeName("System.Int32")
	require.NoError(t, err)
	require.Equal(t, ElementI4, i4.ElementType())
}
