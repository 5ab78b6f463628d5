package climeta

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/cli-metadata/cil"
)

func writeHello(t *testing.T) string {
	t.Helper()
	m := cil.NewModule("Hello.exe", cil.ModuleConsole)
	m.SetAssembly(cil.NewAssemblyDefinition("Hello", cil.Version{Major: 1}))

	program := cil.NewTypeDefinition("Demo", "Program", cil.TypePublic, m.CorlibNamed("System", "Object", false))
	require.NoError(t, m.AddType(program))
	main := cil.NewMethodDefinition("Main", cil.MethodPublic|cil.MethodStatic, 0, m.CorlibType(cil.ElementVoid))
	main.SetBody(cil.NewMethodBody([]byte{0x2A}))
	require.NoError(t, program.AddMethod(main))
	require.NoError(t, program.AddField(cil.NewFieldDefinition("count", cil.FieldPrivate|cil.FieldStatic, m.CorlibType(cil.ElementI4))))
	m.SetEntryPoint(main)
	require.NoError(t, m.AddResource(cil.NewEmbeddedResource("banner.txt", cil.ResourcePublic, []byte("hello"))))

	path := filepath.Join(t.TempDir(), "Hello.exe")
	require.NoError(t, m.WriteFile(path))
	return path
}

func TestDescribe(t *testing.T) {
	m, err := Open(context.Background(), writeHello(t))
	require.NoError(t, err)

	s, err := Describe(m)
	require.NoError(t, err)
	require.Equal(t, "Hello.exe", s.Name)
	require.Equal(t, "Hello, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null", s.Assembly)
	require.Equal(t, "Demo.Program::Main", s.EntryPoint)
	require.Equal(t, 2, s.Types, "<Module> and Demo.Program")
	require.Equal(t, 1, s.Methods)
	require.Equal(t, 1, s.Fields)
	require.Equal(t, []string{"banner.txt"}, s.Resources)
	require.NotEmpty(t, s.References)

	require.Equal(t, uint32(2), s.Tables["TypeDef"])
	require.Equal(t, uint32(1), s.Tables["Method"])
	require.Equal(t, uint32(1), s.Tables["Assembly"])

	var names []string
	for _, st := range s.Streams {
		names = append(names, st.Name)
	}
	require.Contains(t, names, "#~")
	require.Contains(t, names, "#Strings")
}

func TestDescribeInMemory(t *testing.T) {
	s, err := Describe(cil.NewModule("Empty.dll", cil.ModuleDLL))
	require.NoError(t, err)
	require.Empty(t, s.Assembly)
	require.Empty(t, s.Streams)
	require.Nil(t, s.Tables)
	require.Equal(t, 1, s.Types)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.dll"))
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Open(ctx, writeHello(t))
	require.ErrorIs(t, err, context.Canceled)
}
