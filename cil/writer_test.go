package cil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/cli-metadata/errors"
)

const interopXML = `<PermissionSet class="System.Security.PermissionSet" version="1" Unrestricted="true"/>`

// buildInterop declares types covering interface implementations, events,
// P/Invoke imports, explicit layout and declarative security.
func buildInterop(t *testing.T) *Module {
	t.Helper()
	m := NewModule("Interop.dll", ModuleDLL)
	m.SetAssembly(NewAssemblyDefinition("Interop", Version{Major: 1}))

	object := m.CorlibNamed("System", "Object", false)
	valueType := m.CorlibNamed("System", "ValueType", false)
	disposable := m.CorlibNamed("System", "IDisposable", false)
	handler := m.CorlibNamed("System", "EventHandler", false)
	void := m.CorlibType(ElementVoid)
	i4 := m.CorlibType(ElementI4)
	str := m.CorlibType(ElementString)
	ret := []byte{0x2A}

	res := NewTypeDefinition("Acme", "Resource", TypePublic|TypeBeforeFieldInit, object)
	require.NoError(t, m.AddType(res))
	_, err := res.AddInterface(disposable)
	require.NoError(t, err)

	dispose := NewMethodDefinition("Dispose", MethodPublic|MethodVirtual|MethodFinal|MethodHideBySig|MethodNewSlot, 0, void)
	dispose.SetBody(NewMethodBody(ret))
	require.NoError(t, res.AddMethod(dispose))
	decl := NewMethodReference("Dispose", disposable, &MethodSignature{HasThis: true, ReturnType: void, SentinelIndex: -1})
	require.NoError(t, dispose.AddOverride(decl))

	adder := NewMethodDefinition("add_Changed", MethodPublic|MethodHideBySig|MethodSpecialName, 0, void)
	require.NoError(t, adder.AddParameter(NewParameterDefinition("value", 0, handler)))
	adder.SetBody(NewMethodBody(ret))
	remover := NewMethodDefinition("remove_Changed", MethodPublic|MethodHideBySig|MethodSpecialName, 0, void)
	require.NoError(t, remover.AddParameter(NewParameterDefinition("value", 0, handler)))
	remover.SetBody(NewMethodBody(ret))
	require.NoError(t, res.AddMethod(adder))
	require.NoError(t, res.AddMethod(remover))
	changed := NewEventDefinition("Changed", 0, handler)
	require.NoError(t, res.AddEvent(changed))
	require.NoError(t, changed.SetAccessors(adder, remover))

	demand := NewSecurityDeclaration(SecurityDemand)
	require.NoError(t, demand.AddSecurityAttribute(&SecurityAttribute{
		AttributeType: m.CorlibNamed("System.Security.Permissions", "SecurityPermissionAttribute", false),
		Properties: []CustomAttributeNamedArgument{{
			Name:     "UnmanagedCode",
			Argument: CustomAttributeArgument{Type: m.CorlibType(ElementBoolean), Value: true},
		}},
	}))
	require.NoError(t, res.AddSecurityDeclaration(demand))

	kernel := NewModuleReference("kernel32.dll")
	require.NoError(t, m.AddModuleReference(kernel))
	beep := NewMethodDefinition("Beep", MethodPublic|MethodStatic|MethodPInvokeImpl|MethodHideBySig, MethodImplPreserveSig, i4)
	require.NoError(t, beep.AddParameter(NewParameterDefinition("freq", 0, i4)))
	text := NewParameterDefinition("text", ParamIn|ParamOptional|ParamHasDefault|ParamHasFieldMarshal, str)
	text.SetMarshalInfo(&SimpleMarshalInfo{Type: NativeLPWStr})
	def, err := NewConstant("none")
	require.NoError(t, err)
	text.SetConstant(def)
	require.NoError(t, beep.AddParameter(text))
	beep.SetPInvokeInfo(&PInvokeInfo{Attributes: 0x0100, EntryPoint: "Beep", Module: kernel})
	require.NoError(t, res.AddMethod(beep))

	union := NewTypeDefinition("Acme", "Union", TypePublic|TypeSealed|TypeExplicitLayout, valueType)
	require.NoError(t, m.AddType(union))
	for _, name := range []string{"Low", "Whole"} {
		f := NewFieldDefinition(name, FieldPublic, i4)
		off := uint32(0)
		f.SetOffset(&off)
		require.NoError(t, union.AddField(f))
	}

	box := NewTypeDefinition("Acme", "Box`1", TypePublic, object)
	require.NoError(t, m.AddType(box))
	tp := NewGenericParameter("T")
	require.NoError(t, box.AddGenericParameter(tp))
	_, err = tp.AddConstraint(disposable)
	require.NoError(t, err)

	asm, err := m.Assembly()
	require.NoError(t, err)
	xmlSet := NewSecurityDeclaration(SecurityRequestMinimum)
	require.NoError(t, xmlSet.AddSecurityAttribute(m.xmlPermissionSet(interopXML)))
	require.NoError(t, asm.AddSecurityDeclaration(xmlSet))

	native := NewFileReference("native.bin", FileContainsNoMetadata, []byte{0xAA, 0xBB})
	require.NoError(t, m.AddFile(native))
	require.NoError(t, m.AddResource(NewLinkedResource("strings.bin", ResourcePublic, native)))
	core := NewAssemblyNameReference("Core", Version{Major: 2}, nil)
	require.NoError(t, m.AddAssemblyReference(core))
	require.NoError(t, m.AddExportedType(NewExportedType("Core", "Moved", TypeForwarder, core)))
	return m
}

func TestWriteInterfacesAndOverrides(t *testing.T) {
	r, _ := writeRead(t, buildInterop(t))
	res, err := r.FindType("Acme.Resource")
	require.NoError(t, err)
	require.NotNil(t, res)

	ifaces, err := res.Interfaces()
	require.NoError(t, err)
	require.Len(t, ifaces, 1)
	require.Equal(t, "System.IDisposable", ifaces[0].InterfaceType.FullName())

	decls, err := methodNamed(t, res, "Dispose").Overrides()
	require.NoError(t, err)
	require.Len(t, decls, 1)
	ref, ok := decls[0].(*MethodReference)
	require.True(t, ok, "override is %T", decls[0])
	require.Equal(t, "Dispose", ref.Name)
	require.Equal(t, "System.IDisposable", ref.DeclaringType().FullName())
}

func TestWriteEvents(t *testing.T) {
	r, _ := writeRead(t, buildInterop(t))
	res, err := r.FindType("Acme.Resource")
	require.NoError(t, err)

	events, err := res.Events()
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Changed", events[0].Name)
	require.Same(t, res, events[0].DeclaringType())

	et, err := events[0].EventType()
	require.NoError(t, err)
	require.Equal(t, "System.EventHandler", et.FullName())

	add, err := events[0].AddMethod()
	require.NoError(t, err)
	require.Same(t, methodNamed(t, res, "add_Changed"), add)
	remove, err := events[0].RemoveMethod()
	require.NoError(t, err)
	require.Same(t, methodNamed(t, res, "remove_Changed"), remove)
	invoke, err := events[0].InvokeMethod()
	require.NoError(t, err)
	require.Nil(t, invoke)
}

func TestWritePInvoke(t *testing.T) {
	r, _ := writeRead(t, buildInterop(t))
	res, err := r.FindType("Acme.Resource")
	require.NoError(t, err)
	beep := methodNamed(t, res, "Beep")
	require.False(t, beep.HasBody())

	info, err := beep.PInvokeInfo()
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, "Beep", info.EntryPoint)
	require.Equal(t, uint16(0x0100), info.Attributes)
	require.NotNil(t, info.Module)
	require.Equal(t, "kernel32.dll", info.Module.Name)

	params, err := beep.Parameters()
	require.NoError(t, err)
	require.Len(t, params, 2)
	require.Equal(t, "text", params[1].Name)
	require.Equal(t, uint16(2), params[1].Sequence())

	mi, err := params[1].MarshalInfo()
	require.NoError(t, err)
	require.Equal(t, &SimpleMarshalInfo{Type: NativeLPWStr}, mi)
	c, err := params[1].Constant()
	require.NoError(t, err)
	require.Equal(t, "none", c.Value)

	has, err := params[0].HasMarshalInfo()
	require.NoError(t, err)
	require.False(t, has)
}

func TestWriteFieldOffsets(t *testing.T) {
	r, _ := writeRead(t, buildInterop(t))
	union, err := r.FindType("Acme.Union")
	require.NoError(t, err)
	require.True(t, union.IsValueType())

	fields, err := union.Fields()
	require.NoError(t, err)
	require.Len(t, fields, 2)
	for _, f := range fields {
		off, err := f.Offset()
		require.NoError(t, err)
		require.NotNil(t, off, f.Name)
		require.Zero(t, *off)
	}
}

func TestWriteGenericConstraints(t *testing.T) {
	r, _ := writeRead(t, buildInterop(t))
	box, err := r.FindType("Acme.Box`1")
	require.NoError(t, err)

	gps, err := box.GenericParameters()
	require.NoError(t, err)
	require.Len(t, gps, 1)
	require.Same(t, box, gps[0].Owner())

	cs, err := gps[0].Constraints()
	require.NoError(t, err)
	require.Len(t, cs, 1)
	require.Equal(t, "System.IDisposable", cs[0].ConstraintType.FullName())
}

func TestWriteSecurityDeclarations(t *testing.T) {
	r, _ := writeRead(t, buildInterop(t))

	res, err := r.FindType("Acme.Resource")
	require.NoError(t, err)
	decls, err := res.SecurityDeclarations()
	require.NoError(t, err)
	require.Len(t, decls, 1)
	require.Equal(t, SecurityDemand, decls[0].Action)
	attrs, err := decls[0].SecurityAttributes()
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	require.Equal(t, "System.Security.Permissions.SecurityPermissionAttribute", attrs[0].AttributeType.FullName())
	require.Len(t, attrs[0].Properties, 1)
	require.Equal(t, "UnmanagedCode", attrs[0].Properties[0].Name)
	require.Equal(t, true, attrs[0].Properties[0].Argument.Value)

	asm, err := r.Assembly()
	require.NoError(t, err)
	decls, err = asm.SecurityDeclarations()
	require.NoError(t, err)
	require.Len(t, decls, 1)
	require.Equal(t, SecurityRequestMinimum, decls[0].Action)
	attrs, err = decls[0].SecurityAttributes()
	require.NoError(t, err)
	xml, ok := xmlOf(attrs)
	require.True(t, ok)
	require.Equal(t, interopXML, xml)
}

func TestWriteManifestRows(t *testing.T) {
	r, _ := writeRead(t, buildInterop(t))

	files, err := r.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "native.bin", files[0].Name)
	require.Equal(t, FileContainsNoMetadata, files[0].Flags)
	require.Equal(t, []byte{0xAA, 0xBB}, files[0].HashValue)

	resources, err := r.Resources()
	require.NoError(t, err)
	require.Len(t, resources, 1)
	linked, ok := resources[0].(*LinkedResource)
	require.True(t, ok, "resource is %T", resources[0])
	require.Equal(t, "strings.bin", linked.ResourceName())
	require.Same(t, files[0], linked.File)

	exported, err := r.ExportedTypes()
	require.NoError(t, err)
	require.Len(t, exported, 1)
	require.Equal(t, "Core.Moved", exported[0].FullName())
	require.True(t, exported[0].IsForwarder())
	require.Equal(t, "Core", exported[0].Implementation.(*AssemblyNameReference).Name)
}

func TestWriteUnknownFile(t *testing.T) {
	m := NewModule("Orphan.dll", ModuleDLL)
	stray := NewFileReference("stray.bin", FileContainsNoMetadata, nil)
	require.NoError(t, m.AddResource(NewLinkedResource("stray", ResourcePublic, stray)))

	_, err := m.Bytes(WithTimestamp(fixedTime))
	require.ErrorIs(t, err, errors.ErrNotFound)
}
