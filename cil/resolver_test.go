package cil

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/cli-metadata/errors"
)

// writeLib writes Lib.dll, defining Lib.Widget and Lib.Moved, and Shim.dll,
// which forwards Lib.Moved to Lib.
func writeLib(t *testing.T, dir string) {
	t.Helper()
	lib := NewModule("Lib.dll", ModuleDLL)
	lib.SetAssembly(NewAssemblyDefinition("Lib", Version{Major: 1}))
	object := lib.CorlibNamed("System", "Object", false)

	widget := NewTypeDefinition("Lib", "Widget", TypePublic, object)
	require.NoError(t, lib.AddType(widget))
	require.NoError(t, widget.AddField(NewFieldDefinition("Size", FieldPublic, lib.CorlibType(ElementI4))))
	grow := NewMethodDefinition("Grow", MethodPublic|MethodVirtual|MethodHideBySig|MethodNewSlot, 0, lib.CorlibType(ElementVoid))
	require.NoError(t, grow.AddParameter(NewParameterDefinition("by", 0, lib.CorlibType(ElementI4))))
	grow.SetBody(NewMethodBody([]byte{0x2A}))
	require.NoError(t, widget.AddMethod(grow))
	require.NoError(t, lib.AddType(NewTypeDefinition("Lib", "Moved", TypePublic, object)))
	require.NoError(t, lib.WriteFile(filepath.Join(dir, "Lib.dll"), WithTimestamp(fixedTime)))

	shim := NewModule("Shim.dll", ModuleDLL)
	shim.SetAssembly(NewAssemblyDefinition("Shim", Version{Major: 1}))
	target := NewAssemblyNameReference("Lib", Version{Major: 1}, nil)
	require.NoError(t, shim.AddAssemblyReference(target))
	require.NoError(t, shim.AddExportedType(NewExportedType("Lib", "Moved", TypeForwarder, target)))
	require.NoError(t, shim.WriteFile(filepath.Join(dir, "Shim.dll"), WithTimestamp(fixedTime)))
}

// buildApp references Lib.Widget directly, Lib.Moved through Shim, and a
// type in an assembly that does not exist.
func buildApp(t *testing.T) []byte {
	t.Helper()
	app := NewModule("App.dll", ModuleDLL)
	app.SetAssembly(NewAssemblyDefinition("App", Version{Major: 1}))
	void := app.CorlibType(ElementVoid)
	i4 := app.CorlibType(ElementI4)

	widget := NewTypeReference("Lib", "Widget", NewAssemblyNameReference("Lib", Version{Major: 1}, nil), false)
	moved := NewTypeReference("Lib", "Moved", NewAssemblyNameReference("Shim", Version{Major: 1}, nil), false)
	ghost := NewTypeReference("Ghost", "Thing", NewAssemblyNameReference("Ghost", Version{}, nil), false)

	big := NewTypeDefinition("App", "BigWidget", TypePublic, widget)
	require.NoError(t, app.AddType(big))
	require.NoError(t, big.AddField(NewFieldDefinition("moved", FieldPrivate, moved)))
	require.NoError(t, big.AddField(NewFieldDefinition("ghost", FieldPrivate, ghost)))

	grow := NewMethodDefinition("Grow", MethodPublic|MethodVirtual|MethodHideBySig, 0, void)
	require.NoError(t, grow.AddParameter(NewParameterDefinition("by", 0, i4)))
	grow.SetBody(NewMethodBody([]byte{0x2A}))
	require.NoError(t, big.AddMethod(grow))
	decl := NewMethodReference("Grow", widget, &MethodSignature{HasThis: true, ReturnType: void, Parameters: []Type{i4}, SentinelIndex: -1})
	require.NoError(t, grow.AddOverride(decl))

	data, err := app.Bytes(WithTimestamp(fixedTime))
	require.NoError(t, err)
	return data
}

func typeRefNamed(t *testing.T, m *Module, full string) *TypeReference {
	t.Helper()
	refs, err := m.TypeReferences()
	require.NoError(t, err)
	for _, r := range refs {
		if r.FullName() == full {
			return r
		}
	}
	require.Failf(t, "missing type reference", "%s", full)
	return nil
}

func TestResolveAcrossAssemblies(t *testing.T) {
	dir := t.TempDir()
	writeLib(t, dir)
	cache := NewModuleCache([]string{dir})

	app, err := Read(buildApp(t), WithResolver(cache))
	require.NoError(t, err)

	def, err := typeRefNamed(t, app, "Lib.Widget").Resolve()
	require.NoError(t, err)
	require.Equal(t, "Lib.Widget", def.FullName())

	again, err := typeRefNamed(t, app, "Lib.Widget").Resolve()
	require.NoError(t, err)
	require.Same(t, def, again, "modules are opened once per cache")

	moved, err := typeRefNamed(t, app, "Lib.Moved").Resolve()
	require.NoError(t, err)
	require.Equal(t, "Lib.Moved", moved.FullName())
	require.Same(t, def.module, moved.module, "forwarded through Shim into Lib")

	_, err = typeRefNamed(t, app, "Ghost.Thing").Resolve()
	var unresolvedErr *errors.UnresolvedError
	require.ErrorAs(t, err, &unresolvedErr)
	require.Equal(t, "Ghost", unresolvedErr.Refs[0].Scope)
	require.Equal(t, "Ghost.Thing", unresolvedErr.Refs[0].Name)
}

func TestResolveMethodReference(t *testing.T) {
	dir := t.TempDir()
	writeLib(t, dir)
	app, err := Read(buildApp(t), WithResolver(NewModuleCache([]string{dir})))
	require.NoError(t, err)

	big, err := app.FindType("App.BigWidget")
	require.NoError(t, err)
	decls, err := methodNamed(t, big, "Grow").Overrides()
	require.NoError(t, err)
	require.Len(t, decls, 1)

	ref, ok := decls[0].(*MethodReference)
	require.True(t, ok)
	md, err := ref.Resolve()
	require.NoError(t, err)
	require.Equal(t, "Grow", md.Name)
	require.Equal(t, "Lib.Widget", md.DeclaringType().FullName())
}

func TestResolveWithoutResolver(t *testing.T) {
	app, err := Read(buildApp(t))
	require.NoError(t, err)

	_, err = typeRefNamed(t, app, "Lib.Widget").Resolve()
	require.ErrorIs(t, err, &errors.UnresolvedError{})
}

func TestModuleCacheRegister(t *testing.T) {
	cache := NewModuleCache(nil)
	ref := NewAssemblyNameReference("Sample", Version{}, nil)

	m, err := cache.Resolve(ref)
	require.NoError(t, err)
	require.Nil(t, m)

	sample := buildSample(t)
	require.NoError(t, cache.Register(sample))
	m, err = cache.Resolve(ref)
	require.NoError(t, err)
	require.Same(t, sample, m)
}

func TestResolveConcurrent(t *testing.T) {
	dir := t.TempDir()
	writeLib(t, dir)
	app, err := Read(buildApp(t), WithResolver(NewModuleCache([]string{dir})))
	require.NoError(t, err)
	ref := typeRefNamed(t, app, "Lib.Widget")

	var wg sync.WaitGroup
	defs := make([]*TypeDefinition, 8)
	errs := make([]error, len(defs))
	for i := range defs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defs[i], errs[i] = ref.Resolve()
		}()
	}
	wg.Wait()

	for i := range defs {
		require.NoError(t, errs[i])
		require.Same(t, defs[0], defs[i])
	}
}
